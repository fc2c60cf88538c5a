package authority

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/statesync/internal/dispatch"
	"github.com/danmuck/statesync/internal/observability"
	"github.com/danmuck/statesync/internal/protocol/frame"
	"github.com/danmuck/statesync/internal/protocol/packet"
	"github.com/danmuck/statesync/internal/protocol/schema"
	"github.com/danmuck/statesync/internal/transport"
)

var ErrSnapshotTimeout = errors.New("authority: snapshot timed out")

// Server owns the registry, the simulation and the handler table. Only Tick
// and the actions it drains touch that state.
type Server struct {
	cfg        ServiceConfig
	logger     zerolog.Logger
	registry   *Registry
	queue      *dispatch.Queue
	table      *schema.Table
	udp        *transport.DatagramSocket
	spectators *Hub
	moveSpeed  float32
	ticks      uint64
}

func NewServer(cfg ServiceConfig) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     observability.Logger("authority"),
		registry:   NewRegistry(cfg.MaxPeers),
		queue:      dispatch.New("authority", func(depth int) { observability.RecordDispatchDepth("authority", depth) }),
		spectators: NewHub(),
		moveSpeed:  cfg.moveSpeed(),
	}
	s.table = schema.NewTable("authority", map[int32]schema.Handler{
		int32(schema.WelcomeReceived): s.handleWelcomeReceived,
		int32(schema.PlayerMovement):  s.handlePlayerMovement,
	})
	return s
}

// AttachDatagram sets the socket used for UDP sends.
func (s *Server) AttachDatagram(sock *transport.DatagramSocket) {
	s.udp = sock
}

func (s *Server) Queue() *dispatch.Queue {
	return s.queue
}

func (s *Server) Spectators() *Hub {
	return s.spectators
}

// Tick advances every player one step, broadcasts their state, then runs
// the actions queued by network goroutines.
func (s *Server) Tick() {
	s.ticks++
	for _, sess := range s.registry.InGame() {
		p := sess.Player
		p.Step()
		s.broadcastUDP(schema.PositionMsg{PeerID: p.ID, Position: p.Position}.Encode())
		s.broadcastUDP(schema.RotationMsg{PeerID: p.ID, Rotation: p.Rotation}.Encode())
	}
	s.queue.DrainAndRunAll()

	if every := s.cfg.SpectatorEveryTicks; every > 0 && s.ticks%uint64(every) == 0 && s.spectators.Count() > 0 {
		s.spectators.Publish(s.spectatorFrame())
	}
	observability.RecordSessions(len(s.registry.Online()), len(s.registry.InGame()))
}

// Accept hands a new TCP connection to the tick goroutine for slot assignment.
func (s *Server) Accept(conn net.Conn) {
	s.queue.Enqueue(func() { s.admit(conn) })
}

func (s *Server) admit(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	sess, err := s.registry.Acquire(time.Now())
	if err != nil {
		s.logger.Warn().Str("remote", remote).Err(err).Msg("authority.Server.admit rejected")
		_ = conn.Close()
		return
	}
	id := sess.ID
	var stream *transport.StreamConn
	stream = transport.NewStreamConn(conn, fmt.Sprintf("peer-%d", id), s.cfg.Session,
		func(f []byte) {
			s.queue.Enqueue(func() { s.receiveFrame(id, stream, f) })
		},
		func(err error) {
			s.queue.Enqueue(func() { s.disconnect(id, stream, err) })
		},
	)
	sess.Stream = stream
	stream.Start()
	s.logger.Info().Int32("session", id).Str("remote", remote).Msg("authority.Server.admit connected")
	s.sendTCP(sess, schema.WelcomeMsg{PeerID: id, Message: s.cfg.WelcomeMessage}.Encode())
}

// receiveFrame ignores frames from a stream that no longer owns the slot.
func (s *Server) receiveFrame(id int32, stream *transport.StreamConn, content []byte) {
	sess, ok := s.registry.Get(id)
	if !ok || sess.Stream != stream {
		return
	}
	s.dispatch(observability.ChannelTCP, id, content)
}

func (s *Server) dispatch(channel string, id int32, content []byte) {
	if err := s.table.Dispatch(id, content); err != nil {
		reason := observability.DropDecode
		if errors.Is(err, schema.ErrUnknownPacketType) {
			reason = observability.DropUnknownType
		}
		observability.RecordFrameDropped(channel, reason)
		s.logger.Warn().
			Int32("session", id).
			Str("channel", channel).
			Int32("packet_type", schema.PacketType(content)).
			Err(err).
			Msg("authority.Server.dispatch frame discarded")
	}
}

func (s *Server) disconnect(id int32, stream *transport.StreamConn, cause error) {
	sess, ok := s.registry.Get(id)
	if !ok || sess.Stream != stream {
		return
	}
	wasInGame := sess.InGame()
	if !s.cfg.RecycleSlots {
		s.registry.Detach(id)
		s.logger.Info().Int32("session", id).Err(cause).Msg("authority.Server.disconnect detached")
		return
	}
	s.registry.Release(id)
	s.logger.Info().Int32("session", id).Err(cause).Msg("authority.Server.disconnect released")
	if wasInGame {
		despawn := schema.DespawnMsg{PeerID: id}
		for _, other := range s.registry.InGame() {
			s.sendTCP(other, despawn.Encode())
		}
	}
}

// Snapshot copies the registry on the tick goroutine.
func (s *Server) Snapshot(ctx context.Context) ([]SessionInfo, error) {
	result := make(chan []SessionInfo, 1)
	s.queue.Enqueue(func() { result <- s.registry.Snapshot() })
	select {
	case out := <-result:
		return out, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrSnapshotTimeout, ctx.Err())
	}
}

// Shutdown runs leftover actions and closes every stream. Call it only
// after the tick loop has stopped.
func (s *Server) Shutdown() {
	s.queue.DrainAndRunAll()
	for _, sess := range s.registry.slots {
		if sess.reserved {
			s.registry.Release(sess.ID)
		}
	}
}

func (s *Server) spectatorFrame() SpectatorFrame {
	inGame := s.registry.InGame()
	out := SpectatorFrame{Tick: s.ticks, Entities: make([]EntityState, 0, len(inGame))}
	for _, sess := range inGame {
		out.Entities = append(out.Entities, EntityState{
			ID:       sess.Player.ID,
			Name:     sess.Player.Name,
			Position: sess.Player.Position,
			Rotation: sess.Player.Rotation,
		})
	}
	return out
}

func (s *Server) sendTCP(sess *Session, p *packet.Packet) {
	if sess.Stream == nil {
		return
	}
	sess.Stream.Send(frame.Encode(p.Bytes()))
}

// broadcastUDP sends to every peer whose endpoint is bound.
func (s *Server) broadcastUDP(p *packet.Packet) {
	if s.udp == nil {
		return
	}
	data := frame.Encode(p.Bytes())
	for _, sess := range s.registry.Online() {
		if sess.Endpoint == nil {
			continue
		}
		if err := s.udp.SendTo(sess.Endpoint, data); err != nil {
			s.logger.Debug().Int32("session", sess.ID).Err(err).Msg("authority.Server.broadcastUDP")
		}
	}
}
