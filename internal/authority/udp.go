package authority

import (
	"errors"
	"net"

	"github.com/danmuck/statesync/internal/observability"
	"github.com/danmuck/statesync/internal/protocol/frame"
)

var ErrSpoofedSender = errors.New("authority: datagram source does not match bound endpoint")

// HandleDatagram runs on the UDP receive goroutine. It only validates the
// sender id; binding and dispatch happen on the tick goroutine.
func (s *Server) HandleDatagram(data []byte, from *net.UDPAddr) {
	id, content, err := frame.SplitAuthorityDatagram(data)
	if err != nil {
		observability.RecordFrameDropped(observability.ChannelUDP, observability.DropDecode)
		s.logger.Debug().Str("from", from.String()).Err(err).Msg("authority.HandleDatagram malformed")
		return
	}
	if id < 1 || int(id) > s.cfg.MaxPeers {
		observability.RecordFrameDropped(observability.ChannelUDP, observability.DropUnknownPeer)
		s.logger.Debug().Int32("session", id).Str("from", from.String()).Msg("authority.HandleDatagram id out of range")
		return
	}
	observability.RecordFrameReceived(observability.ChannelUDP)
	s.queue.Enqueue(func() { s.receiveDatagram(id, content, from) })
}

func (s *Server) receiveDatagram(id int32, content []byte, from *net.UDPAddr) {
	sess, ok := s.registry.Get(id)
	if !ok || !sess.Online() {
		observability.RecordFrameDropped(observability.ChannelUDP, observability.DropUnbound)
		return
	}
	if sess.Endpoint == nil {
		sess.Endpoint = from
		s.logger.Info().Int32("session", id).Str("udp", from.String()).Msg("authority.receiveDatagram endpoint bound")
		return
	}
	if !sameEndpoint(sess.Endpoint, from) {
		observability.RecordFrameDropped(observability.ChannelUDP, observability.DropSpoofed)
		s.logger.Warn().
			Int32("session", id).
			Str("bound", sess.Endpoint.String()).
			Str("from", from.String()).
			Err(ErrSpoofedSender).
			Msg("authority.receiveDatagram dropped")
		return
	}
	if content == nil {
		return
	}
	s.dispatch(observability.ChannelUDP, id, content)
}

func sameEndpoint(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
