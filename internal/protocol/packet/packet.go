// Package packet implements the typed little-endian byte buffer every frame is
// built from and decoded into.
//
// Encodings:
// - int32/float32: 4 bytes little-endian
// - bool: 1 byte (0 or 1)
// - string: int32 byte length followed by UTF-8 bytes, no terminator
// - geom.Vec3: 3 float32, geom.Quat: 4 float32 (x, y, z, w)
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/statesync/internal/geom"
)

var (
	ErrTruncatedPacket = errors.New("packet: truncated packet")
	ErrInvalidLength   = errors.New("packet: invalid length")
)

// Packet is an append-only byte buffer with a read cursor.
type Packet struct {
	buf     []byte
	readPos int
}

func New() *Packet {
	return &Packet{buf: make([]byte, 0, 64)}
}

// NewWithType starts a packet whose first int32 is the packet type id.
func NewWithType(packetType int32) *Packet {
	p := New()
	p.WriteInt32(packetType)
	return p
}

// FromBytes wraps a copy of b with the read cursor at 0.
func FromBytes(b []byte) *Packet {
	buf := make([]byte, len(b))
	copy(buf, b)
	return &Packet{buf: buf}
}

// Bytes returns the whole buffer, including bytes already read.
func (p *Packet) Bytes() []byte {
	return p.buf
}

func (p *Packet) Len() int {
	return len(p.buf)
}

func (p *Packet) UnreadLen() int {
	return len(p.buf) - p.readPos
}

// Reset empties the buffer and rewinds the cursor.
func (p *Packet) Reset() {
	p.buf = p.buf[:0]
	p.readPos = 0
}

// InsertInt32 puts v in front of everything already written.
func (p *Packet) InsertInt32(v int32) {
	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], uint32(v))
	p.buf = append(head[:], p.buf...)
}

// WriteLength prefixes the packet with the count of bytes that follow the prefix.
func (p *Packet) WriteLength() {
	p.InsertInt32(int32(len(p.buf)))
}

func (p *Packet) WriteInt32(v int32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(v))
}

func (p *Packet) WriteFloat32(v float32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, math.Float32bits(v))
}

func (p *Packet) WriteBool(v bool) {
	if v {
		p.buf = append(p.buf, 1)
		return
	}
	p.buf = append(p.buf, 0)
}

func (p *Packet) WriteString(s string) {
	p.WriteInt32(int32(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *Packet) WriteBytes(b []byte) {
	p.buf = append(p.buf, b...)
}

func (p *Packet) WriteVec3(v geom.Vec3) {
	p.WriteFloat32(v.X)
	p.WriteFloat32(v.Y)
	p.WriteFloat32(v.Z)
}

func (p *Packet) WriteQuat(q geom.Quat) {
	p.WriteFloat32(q.X)
	p.WriteFloat32(q.Y)
	p.WriteFloat32(q.Z)
	p.WriteFloat32(q.W)
}

// WriteBools writes an int32 count followed by one byte per value.
func (p *Packet) WriteBools(vs []bool) {
	p.WriteInt32(int32(len(vs)))
	for _, v := range vs {
		p.WriteBool(v)
	}
}

// take consumes n bytes or fails without moving the cursor.
func (p *Packet) take(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrInvalidLength
	}
	if p.UnreadLen() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedPacket, n, p.UnreadLen())
	}
	out := p.buf[p.readPos : p.readPos+n]
	p.readPos += n
	return out, nil
}

// PeekInt32 reads the next int32 without advancing the cursor.
func (p *Packet) PeekInt32() (int32, error) {
	if p.UnreadLen() < 4 {
		return 0, fmt.Errorf("%w: need 4 bytes, have %d", ErrTruncatedPacket, p.UnreadLen())
	}
	return int32(binary.LittleEndian.Uint32(p.buf[p.readPos:])), nil
}

func (p *Packet) ReadInt32() (int32, error) {
	b, err := p.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (p *Packet) ReadFloat32() (float32, error) {
	b, err := p.take(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func (p *Packet) ReadBool() (bool, error) {
	b, err := p.take(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// ReadBytes returns a copy of the next n bytes.
func (p *Packet) ReadBytes(n int) ([]byte, error) {
	b, err := p.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (p *Packet) ReadString() (string, error) {
	start := p.readPos
	n, err := p.ReadInt32()
	if err != nil {
		return "", err
	}
	b, err := p.take(int(n))
	if err != nil {
		p.readPos = start
		return "", err
	}
	return string(b), nil
}

func (p *Packet) ReadVec3() (geom.Vec3, error) {
	b, err := p.take(12)
	if err != nil {
		return geom.Vec3{}, err
	}
	return geom.Vec3{
		X: math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
	}, nil
}

func (p *Packet) ReadQuat() (geom.Quat, error) {
	b, err := p.take(16)
	if err != nil {
		return geom.Quat{}, err
	}
	return geom.Quat{
		X: math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
		W: math.Float32frombits(binary.LittleEndian.Uint32(b[12:16])),
	}, nil
}

// ReadBools reads an int32 count followed by that many bools.
func (p *Packet) ReadBools() ([]bool, error) {
	start := p.readPos
	n, err := p.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		p.readPos = start
		return nil, ErrInvalidLength
	}
	b, err := p.take(int(n))
	if err != nil {
		p.readPos = start
		return nil, err
	}
	out := make([]bool, n)
	for i, v := range b {
		out[i] = v != 0
	}
	return out, nil
}
