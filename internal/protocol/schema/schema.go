package schema

import (
	"fmt"

	"github.com/danmuck/statesync/internal/geom"
	"github.com/danmuck/statesync/internal/protocol/packet"
)

// ToPeer identifies packets sent by the authority to a peer.
type ToPeer int32

const (
	Welcome        ToPeer = 1
	SpawnPlayer    ToPeer = 2
	PlayerPosition ToPeer = 3
	PlayerRotation ToPeer = 4
	PlayerDespawn  ToPeer = 5
)

// ToAuthority identifies packets sent by a peer to the authority.
type ToAuthority int32

const (
	WelcomeReceived ToAuthority = 1
	PlayerMovement  ToAuthority = 2
)

// InputCount is the number of directional inputs: forward, back, right, left.
const InputCount = 4

// WelcomeMsg is the authority's TCP handshake carrying the assigned peer id.
type WelcomeMsg struct {
	PeerID  int32
	Message string
}

func (m WelcomeMsg) Encode() *packet.Packet {
	p := packet.NewWithType(int32(Welcome))
	p.WriteInt32(m.PeerID)
	p.WriteString(m.Message)
	return p
}

func DecodeWelcome(p *packet.Packet) (WelcomeMsg, error) {
	var m WelcomeMsg
	var err error
	if m.PeerID, err = p.ReadInt32(); err != nil {
		return WelcomeMsg{}, decodeErr("welcome", err)
	}
	if m.Message, err = p.ReadString(); err != nil {
		return WelcomeMsg{}, decodeErr("welcome", err)
	}
	return m, nil
}

// WelcomeReceivedMsg is the peer's handshake reply with its display name.
type WelcomeReceivedMsg struct {
	PeerID int32
	Name   string
}

func (m WelcomeReceivedMsg) Encode() *packet.Packet {
	p := packet.NewWithType(int32(WelcomeReceived))
	p.WriteInt32(m.PeerID)
	p.WriteString(m.Name)
	return p
}

func DecodeWelcomeReceived(p *packet.Packet) (WelcomeReceivedMsg, error) {
	var m WelcomeReceivedMsg
	var err error
	if m.PeerID, err = p.ReadInt32(); err != nil {
		return WelcomeReceivedMsg{}, decodeErr("welcome_received", err)
	}
	if m.Name, err = p.ReadString(); err != nil {
		return WelcomeReceivedMsg{}, decodeErr("welcome_received", err)
	}
	return m, nil
}

// SpawnMsg announces an entity entering the game.
type SpawnMsg struct {
	PeerID   int32
	Name     string
	Position geom.Vec3
	Rotation geom.Quat
}

func (m SpawnMsg) Encode() *packet.Packet {
	p := packet.NewWithType(int32(SpawnPlayer))
	p.WriteInt32(m.PeerID)
	p.WriteString(m.Name)
	p.WriteVec3(m.Position)
	p.WriteQuat(m.Rotation)
	return p
}

func DecodeSpawn(p *packet.Packet) (SpawnMsg, error) {
	var m SpawnMsg
	var err error
	if m.PeerID, err = p.ReadInt32(); err != nil {
		return SpawnMsg{}, decodeErr("spawn", err)
	}
	if m.Name, err = p.ReadString(); err != nil {
		return SpawnMsg{}, decodeErr("spawn", err)
	}
	if m.Position, err = p.ReadVec3(); err != nil {
		return SpawnMsg{}, decodeErr("spawn", err)
	}
	if m.Rotation, err = p.ReadQuat(); err != nil {
		return SpawnMsg{}, decodeErr("spawn", err)
	}
	return m, nil
}

// PositionMsg is the periodic position update for one entity.
type PositionMsg struct {
	PeerID   int32
	Position geom.Vec3
}

func (m PositionMsg) Encode() *packet.Packet {
	p := packet.NewWithType(int32(PlayerPosition))
	p.WriteInt32(m.PeerID)
	p.WriteVec3(m.Position)
	return p
}

func DecodePosition(p *packet.Packet) (PositionMsg, error) {
	var m PositionMsg
	var err error
	if m.PeerID, err = p.ReadInt32(); err != nil {
		return PositionMsg{}, decodeErr("position", err)
	}
	if m.Position, err = p.ReadVec3(); err != nil {
		return PositionMsg{}, decodeErr("position", err)
	}
	return m, nil
}

// RotationMsg is the periodic rotation update for one entity.
type RotationMsg struct {
	PeerID   int32
	Rotation geom.Quat
}

func (m RotationMsg) Encode() *packet.Packet {
	p := packet.NewWithType(int32(PlayerRotation))
	p.WriteInt32(m.PeerID)
	p.WriteQuat(m.Rotation)
	return p
}

func DecodeRotation(p *packet.Packet) (RotationMsg, error) {
	var m RotationMsg
	var err error
	if m.PeerID, err = p.ReadInt32(); err != nil {
		return RotationMsg{}, decodeErr("rotation", err)
	}
	if m.Rotation, err = p.ReadQuat(); err != nil {
		return RotationMsg{}, decodeErr("rotation", err)
	}
	return m, nil
}

// DespawnMsg tells peers an entity left with its session.
type DespawnMsg struct {
	PeerID int32
}

func (m DespawnMsg) Encode() *packet.Packet {
	p := packet.NewWithType(int32(PlayerDespawn))
	p.WriteInt32(m.PeerID)
	return p
}

func DecodeDespawn(p *packet.Packet) (DespawnMsg, error) {
	id, err := p.ReadInt32()
	if err != nil {
		return DespawnMsg{}, decodeErr("despawn", err)
	}
	return DespawnMsg{PeerID: id}, nil
}

// MovementMsg carries a peer's directional inputs and facing.
type MovementMsg struct {
	Inputs   [InputCount]bool
	Rotation geom.Quat
}

func (m MovementMsg) Encode() *packet.Packet {
	p := packet.NewWithType(int32(PlayerMovement))
	p.WriteBools(m.Inputs[:])
	p.WriteQuat(m.Rotation)
	return p
}

// DecodeMovement accepts any input count; values past InputCount are ignored
// and missing ones read as false.
func DecodeMovement(p *packet.Packet) (MovementMsg, error) {
	var m MovementMsg
	inputs, err := p.ReadBools()
	if err != nil {
		return MovementMsg{}, decodeErr("movement", err)
	}
	copy(m.Inputs[:], inputs)
	if m.Rotation, err = p.ReadQuat(); err != nil {
		return MovementMsg{}, decodeErr("movement", err)
	}
	return m, nil
}

func decodeErr(kind string, err error) error {
	return fmt.Errorf("schema: decode %s: %w", kind, err)
}
