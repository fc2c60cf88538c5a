package packet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/statesync/internal/geom"
	"github.com/danmuck/statesync/internal/testutil/testlog"
)

func TestRoundTripAllPrimitives(t *testing.T) {
	testlog.Start(t)
	p := New()
	p.WriteInt32(-7)
	p.WriteBool(true)
	p.WriteBool(false)
	p.WriteString("Nova ✦")
	p.WriteFloat32(1.25)
	p.WriteVec3(geom.Vec3{X: 1, Y: -2, Z: 3.5})
	p.WriteQuat(geom.Quat{X: 0.1, Y: 0.2, Z: 0.3, W: 0.9})
	p.WriteBools([]bool{true, false, false, true})

	in := FromBytes(p.Bytes())
	if v, err := in.ReadInt32(); err != nil || v != -7 {
		t.Fatalf("int32 got=%d err=%v", v, err)
	}
	if v, err := in.ReadBool(); err != nil || !v {
		t.Fatalf("bool(true) got=%v err=%v", v, err)
	}
	if v, err := in.ReadBool(); err != nil || v {
		t.Fatalf("bool(false) got=%v err=%v", v, err)
	}
	if v, err := in.ReadString(); err != nil || v != "Nova ✦" {
		t.Fatalf("string got=%q err=%v", v, err)
	}
	if v, err := in.ReadFloat32(); err != nil || v != 1.25 {
		t.Fatalf("float32 got=%v err=%v", v, err)
	}
	if v, err := in.ReadVec3(); err != nil || v != (geom.Vec3{X: 1, Y: -2, Z: 3.5}) {
		t.Fatalf("vec3 got=%+v err=%v", v, err)
	}
	if v, err := in.ReadQuat(); err != nil || v != (geom.Quat{X: 0.1, Y: 0.2, Z: 0.3, W: 0.9}) {
		t.Fatalf("quat got=%+v err=%v", v, err)
	}
	bs, err := in.ReadBools()
	if err != nil || len(bs) != 4 || !bs[0] || bs[1] || bs[2] || !bs[3] {
		t.Fatalf("bools got=%v err=%v", bs, err)
	}
	if in.UnreadLen() != 0 {
		t.Fatalf("expected fully consumed packet, unread=%d", in.UnreadLen())
	}
}

func TestStringLengthCountsBytes(t *testing.T) {
	testlog.Start(t)
	p := New()
	p.WriteString("é")
	if p.Len() != 4+2 {
		t.Fatalf("expected 6 bytes for a 2-byte rune, got %d", p.Len())
	}
}

func TestReadPastEndIsTruncated(t *testing.T) {
	testlog.Start(t)
	p := FromBytes([]byte{1, 0, 0})
	if _, err := p.ReadInt32(); !errors.Is(err, ErrTruncatedPacket) {
		t.Fatalf("expected ErrTruncatedPacket, got %v", err)
	}
	if p.UnreadLen() != 3 {
		t.Fatalf("failed read must not advance cursor, unread=%d", p.UnreadLen())
	}

	s := New()
	s.WriteInt32(10)
	s.WriteBytes([]byte("abc"))
	in := FromBytes(s.Bytes())
	if _, err := in.ReadString(); !errors.Is(err, ErrTruncatedPacket) {
		t.Fatalf("expected ErrTruncatedPacket for short string, got %v", err)
	}
	if in.UnreadLen() != 7 {
		t.Fatalf("failed string read must rewind, unread=%d", in.UnreadLen())
	}
	if _, err := FromBytes(nil).ReadQuat(); !errors.Is(err, ErrTruncatedPacket) {
		t.Fatalf("expected ErrTruncatedPacket for quat, got %v", err)
	}
}

func TestWriteLengthAndInsert(t *testing.T) {
	testlog.Start(t)
	p := NewWithType(2)
	p.WriteInt32(99)
	p.WriteLength()
	want := []byte{8, 0, 0, 0, 2, 0, 0, 0, 99, 0, 0, 0}
	if !bytes.Equal(p.Bytes(), want) {
		t.Fatalf("length prefix: got=%v want=%v", p.Bytes(), want)
	}

	p.InsertInt32(3)
	in := FromBytes(p.Bytes())
	id, _ := in.ReadInt32()
	n, _ := in.ReadInt32()
	typ, _ := in.ReadInt32()
	if id != 3 || n != 8 || typ != 2 {
		t.Fatalf("unexpected header id=%d len=%d type=%d", id, n, typ)
	}
}

func TestFromBytesCopiesAndKeepsUnread(t *testing.T) {
	testlog.Start(t)
	src := []byte{5, 0, 0, 0, 6, 0, 0, 0}
	p := FromBytes(src)
	src[0] = 42
	if _, err := p.ReadInt32(); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := p.Bytes(); got[0] != 5 || len(got) != 8 {
		t.Fatalf("Bytes should return the whole original buffer, got=%v", got)
	}
	if v, err := p.PeekInt32(); err != nil || v != 6 || p.UnreadLen() != 4 {
		t.Fatalf("peek got=%d err=%v unread=%d", v, err, p.UnreadLen())
	}
}
