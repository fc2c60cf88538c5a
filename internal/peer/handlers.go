package peer

import (
	"github.com/danmuck/statesync/internal/protocol/packet"
	"github.com/danmuck/statesync/internal/protocol/schema"
)

func (c *Client) handleWelcome(_ int32, p *packet.Packet) error {
	msg, err := schema.DecodeWelcome(p)
	if err != nil {
		return err
	}
	c.logger.Info().Int32("peer", msg.PeerID).Str("message", msg.Message).Msg("peer.handleWelcome")
	c.id.Store(msg.PeerID)
	c.sendTCP(schema.WelcomeReceivedMsg{PeerID: msg.PeerID, Name: c.cfg.Name}.Encode())
	if err := c.openUDP(msg.PeerID); err != nil {
		c.logger.Warn().Err(err).Msg("peer.handleWelcome udp unavailable")
	}
	if c.pres != nil {
		c.pres.OnHandshakeComplete(msg.PeerID)
	}
	return nil
}

func (c *Client) handleSpawn(_ int32, p *packet.Packet) error {
	msg, err := schema.DecodeSpawn(p)
	if err != nil {
		return err
	}
	if c.pres != nil {
		c.pres.OnEntitySpawned(EntitySpawn{
			ID:       msg.PeerID,
			Name:     msg.Name,
			Position: msg.Position,
			Rotation: msg.Rotation,
			Local:    msg.PeerID == c.ID(),
		})
	}
	return nil
}

func (c *Client) handlePosition(_ int32, p *packet.Packet) error {
	msg, err := schema.DecodePosition(p)
	if err != nil {
		return err
	}
	if c.pres != nil {
		c.pres.OnEntityPositionChanged(msg.PeerID, msg.Position)
	}
	return nil
}

func (c *Client) handleRotation(_ int32, p *packet.Packet) error {
	msg, err := schema.DecodeRotation(p)
	if err != nil {
		return err
	}
	if c.pres != nil {
		c.pres.OnEntityRotationChanged(msg.PeerID, msg.Rotation)
	}
	return nil
}

func (c *Client) handleDespawn(_ int32, p *packet.Packet) error {
	msg, err := schema.DecodeDespawn(p)
	if err != nil {
		return err
	}
	if c.pres != nil {
		c.pres.OnEntityDespawned(msg.PeerID)
	}
	return nil
}
