package authority

import (
	"github.com/danmuck/statesync/internal/protocol/packet"
	"github.com/danmuck/statesync/internal/protocol/schema"
	"github.com/danmuck/statesync/internal/sim"
)

func (s *Server) handleWelcomeReceived(from int32, p *packet.Packet) error {
	msg, err := schema.DecodeWelcomeReceived(p)
	if err != nil {
		return err
	}
	sess, ok := s.registry.Get(from)
	if !ok {
		return nil
	}
	if msg.PeerID != from {
		s.logger.Warn().
			Int32("session", from).
			Int32("claimed", msg.PeerID).
			Str("name", msg.Name).
			Msg("authority.handleWelcomeReceived peer claimed the wrong id")
	}
	if sess.InGame() {
		s.logger.Debug().Int32("session", from).Msg("authority.handleWelcomeReceived already in game")
		return nil
	}
	sess.Name = msg.Name
	s.logger.Info().Int32("session", from).Str("name", msg.Name).Msg("authority.handleWelcomeReceived handshake complete")
	s.sendIntoGame(sess)
	return nil
}

// sendIntoGame spawns the session's player, tells the newcomer about every
// existing player, then tells every in-game session (newcomer included)
// about the newcomer.
func (s *Server) sendIntoGame(sess *Session) {
	sess.Player = sim.NewPlayer(sess.ID, sess.Name, s.cfg.SpawnPoint, s.moveSpeed)
	inGame := s.registry.InGame()
	for _, other := range inGame {
		if other.ID == sess.ID {
			continue
		}
		s.sendTCP(sess, spawnOf(other.Player).Encode())
	}
	announce := spawnOf(sess.Player)
	for _, other := range inGame {
		s.sendTCP(other, announce.Encode())
	}
}

func (s *Server) handlePlayerMovement(from int32, p *packet.Packet) error {
	msg, err := schema.DecodeMovement(p)
	if err != nil {
		return err
	}
	sess, ok := s.registry.Get(from)
	if !ok || !sess.InGame() {
		return nil
	}
	sess.Player.SetInput(msg.Inputs, msg.Rotation)
	return nil
}

func spawnOf(p *sim.Player) schema.SpawnMsg {
	return schema.SpawnMsg{PeerID: p.ID, Name: p.Name, Position: p.Position, Rotation: p.Rotation}
}
