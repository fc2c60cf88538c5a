package authority

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/statesync/internal/geom"
)

const (
	spectatorBuffer     = 8
	spectatorWriteWait  = 2 * time.Second
	spectatorPingPeriod = 20 * time.Second
)

// EntityState is one player as seen by spectators.
type EntityState struct {
	ID       int32     `json:"id"`
	Name     string    `json:"name"`
	Position geom.Vec3 `json:"position"`
	Rotation geom.Quat `json:"rotation"`
}

// SpectatorFrame is the JSON document pushed to /ws/entities.
type SpectatorFrame struct {
	Tick     uint64        `json:"tick"`
	Entities []EntityState `json:"entities"`
}

var spectatorUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans spectator frames out to websocket subscribers. Slow subscribers
// miss frames rather than stall the tick.
type Hub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, spectatorBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Publish(frame SpectatorFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("authority.Hub.Publish marshal")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

// ServeWS upgrades the request and streams frames until either side closes.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := spectatorUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("authority.Hub.ServeWS upgrade")
		return
	}
	defer conn.Close()
	frames, unsubscribe := h.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(spectatorPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case data := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(spectatorWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(spectatorWriteWait)); err != nil {
				return
			}
		}
	}
}
