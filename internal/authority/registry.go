package authority

import (
	"errors"
	"net"
	"time"

	"github.com/danmuck/statesync/internal/geom"
	"github.com/danmuck/statesync/internal/sim"
	"github.com/danmuck/statesync/internal/transport"
)

var ErrServerFull = errors.New("authority: server full")

// Session is one peer slot. A slot is free until Acquire reserves it.
type Session struct {
	ID          int32
	Name        string
	Stream      *transport.StreamConn
	Endpoint    *net.UDPAddr
	Player      *sim.Player
	ConnectedAt time.Time

	reserved bool
}

// Online reports whether the peer's stream is attached.
func (s *Session) Online() bool {
	return s.Stream != nil
}

func (s *Session) InGame() bool {
	return s.Player != nil
}

func (s *Session) reset() {
	if s.Stream != nil {
		_ = s.Stream.Close()
	}
	*s = Session{ID: s.ID}
}

// SessionInfo is a copy of a session safe to hand to other goroutines.
type SessionInfo struct {
	ID          int32     `json:"id"`
	Name        string    `json:"name"`
	Remote      string    `json:"remote,omitempty"`
	UDPEndpoint string    `json:"udp_endpoint,omitempty"`
	Online      bool      `json:"online"`
	InGame      bool      `json:"in_game"`
	Position    geom.Vec3 `json:"position"`
	Rotation    geom.Quat `json:"rotation"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Registry pools every slot up front. It is owned by the tick goroutine.
type Registry struct {
	slots []*Session
}

func NewRegistry(maxPeers int) *Registry {
	slots := make([]*Session, maxPeers)
	for i := range slots {
		slots[i] = &Session{ID: int32(i + 1)}
	}
	return &Registry{slots: slots}
}

func (r *Registry) MaxPeers() int {
	return len(r.slots)
}

// Acquire reserves the lowest free slot.
func (r *Registry) Acquire(now time.Time) (*Session, error) {
	for _, s := range r.slots {
		if !s.reserved {
			s.reserved = true
			s.ConnectedAt = now
			return s, nil
		}
	}
	return nil, ErrServerFull
}

func (r *Registry) Get(id int32) (*Session, bool) {
	if id < 1 || int(id) > len(r.slots) {
		return nil, false
	}
	return r.slots[id-1], true
}

// Release closes the slot's stream and returns it to the pool.
func (r *Registry) Release(id int32) {
	if s, ok := r.Get(id); ok {
		s.reset()
	}
}

// Detach drops the slot's transports but keeps it reserved with its player.
func (r *Registry) Detach(id int32) {
	s, ok := r.Get(id)
	if !ok {
		return
	}
	if s.Stream != nil {
		_ = s.Stream.Close()
	}
	s.Stream = nil
	s.Endpoint = nil
	if s.Player != nil {
		s.Player.SetInput([sim.InputCount]bool{}, s.Player.Rotation)
	}
}

// Online returns sessions with an attached stream, ordered by id.
func (r *Registry) Online() []*Session {
	out := make([]*Session, 0, len(r.slots))
	for _, s := range r.slots {
		if s.Online() {
			out = append(out, s)
		}
	}
	return out
}

// InGame returns sessions with a spawned player, ordered by id.
func (r *Registry) InGame() []*Session {
	out := make([]*Session, 0, len(r.slots))
	for _, s := range r.slots {
		if s.InGame() {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) Snapshot() []SessionInfo {
	out := make([]SessionInfo, 0, len(r.slots))
	for _, s := range r.slots {
		if !s.reserved {
			continue
		}
		info := SessionInfo{
			ID:          s.ID,
			Name:        s.Name,
			Online:      s.Online(),
			InGame:      s.InGame(),
			ConnectedAt: s.ConnectedAt,
		}
		if s.Stream != nil {
			info.Remote = s.Stream.RemoteAddr().String()
		}
		if s.Endpoint != nil {
			info.UDPEndpoint = s.Endpoint.String()
		}
		if s.Player != nil {
			info.Position = s.Player.Position
			info.Rotation = s.Player.Rotation
		}
		out = append(out, info)
	}
	return out
}
