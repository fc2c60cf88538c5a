package schema

import (
	"errors"
	"fmt"

	"github.com/danmuck/statesync/internal/protocol/packet"
)

var ErrUnknownPacketType = errors.New("schema: unknown packet type")

// Handler processes one decoded frame. from is the sending peer id, or 0 when
// the frame came from the authority. p is positioned after the packet type.
type Handler func(from int32, p *packet.Packet) error

// Table maps packet type ids to handlers. It is built once and never mutated,
// so lookups need no locking.
type Table struct {
	name     string
	handlers map[int32]Handler
}

// NewTable copies entries into an immutable table. name labels errors and logs.
func NewTable(name string, entries map[int32]Handler) *Table {
	handlers := make(map[int32]Handler, len(entries))
	for id, h := range entries {
		if h != nil {
			handlers[id] = h
		}
	}
	return &Table{name: name, handlers: handlers}
}

func (t *Table) Name() string {
	return t.name
}

func (t *Table) Has(packetType int32) bool {
	_, ok := t.handlers[packetType]
	return ok
}

// Dispatch decodes the packet type from content and invokes its handler.
func (t *Table) Dispatch(from int32, content []byte) error {
	p := packet.FromBytes(content)
	packetType, err := p.ReadInt32()
	if err != nil {
		return fmt.Errorf("schema: %s frame header: %w", t.name, err)
	}
	h, ok := t.handlers[packetType]
	if !ok {
		return fmt.Errorf("%w: table=%s packet_type=%d", ErrUnknownPacketType, t.name, packetType)
	}
	return h(from, p)
}

// PacketType reads the type id of a frame without consuming it, for logging.
func PacketType(content []byte) int32 {
	v, err := packet.FromBytes(content).PeekInt32()
	if err != nil {
		return 0
	}
	return v
}
