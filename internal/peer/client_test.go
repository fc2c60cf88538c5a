package peer

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/danmuck/statesync/internal/geom"
	"github.com/danmuck/statesync/internal/protocol/frame"
	"github.com/danmuck/statesync/internal/protocol/packet"
	"github.com/danmuck/statesync/internal/protocol/schema"
	"github.com/danmuck/statesync/internal/protocol/session"
	"github.com/danmuck/statesync/internal/sim"
	"github.com/danmuck/statesync/internal/testutil/testlog"
)

type events struct {
	handshake int32
	spawned   []EntitySpawn
	moved     map[int32]geom.Vec3
	turned    map[int32]geom.Quat
	despawned []int32
}

func newEvents() *events {
	return &events{moved: map[int32]geom.Vec3{}, turned: map[int32]geom.Quat{}}
}

func (e *events) OnHandshakeComplete(id int32)                  { e.handshake = id }
func (e *events) OnEntitySpawned(s EntitySpawn)                 { e.spawned = append(e.spawned, s) }
func (e *events) OnEntityPositionChanged(id int32, p geom.Vec3) { e.moved[id] = p }
func (e *events) OnEntityRotationChanged(id int32, r geom.Quat) { e.turned[id] = r }
func (e *events) OnEntityDespawned(id int32)                    { e.despawned = append(e.despawned, id) }

// fakeAuthority listens on one port for both TCP and UDP.
type fakeAuthority struct {
	ln   net.Listener
	udp  *net.UDPConn
	conn net.Conn
}

func newFakeAuthority(t *testing.T) *fakeAuthority {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		_ = ln.Close()
		t.Fatalf("listen udp: %v", err)
	}
	f := &fakeAuthority{ln: ln, udp: udp}
	t.Cleanup(func() {
		_ = ln.Close()
		_ = udp.Close()
		if f.conn != nil {
			_ = f.conn.Close()
		}
	})
	return f
}

func (f *fakeAuthority) addr() string {
	return f.ln.Addr().String()
}

func (f *fakeAuthority) accept(t *testing.T) {
	t.Helper()
	conn, err := f.ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	f.conn = conn
}

func (f *fakeAuthority) sendTCP(t *testing.T, p *packet.Packet) {
	t.Helper()
	if _, err := f.conn.Write(frame.Encode(p.Bytes())); err != nil {
		t.Fatalf("tcp write: %v", err)
	}
}

func (f *fakeAuthority) readTCP(t *testing.T) *packet.Packet {
	t.Helper()
	_ = f.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	header := make([]byte, frame.LengthPrefixLen)
	if _, err := io.ReadFull(f.conn, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	n, _ := packet.FromBytes(header).ReadInt32()
	body := make([]byte, n)
	if _, err := io.ReadFull(f.conn, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return packet.FromBytes(body)
}

func (f *fakeAuthority) readUDP(t *testing.T) ([]byte, *net.UDPAddr) {
	t.Helper()
	_ = f.udp.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, from, err := f.udp.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read udp: %v", err)
	}
	return buf[:n], from
}

func pumpUntil(t *testing.T, c *Client, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached")
		}
		c.Update()
		time.Sleep(time.Millisecond)
	}
}

func TestNewRequiresServerAddress(t *testing.T) {
	testlog.Start(t)
	if _, err := New(Config{}, nil); !errors.Is(err, ErrServerAddressRequired) {
		t.Fatalf("expected ErrServerAddressRequired, got %v", err)
	}
}

func TestSubmitBeforeHandshakeFails(t *testing.T) {
	testlog.Start(t)
	c, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.SubmitLocalInput([sim.InputCount]bool{true}, geom.Identity()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnectGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := DefaultConfig()
	cfg.ServerAddr = addr
	cfg.Session.Backoff = session.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1, MaxAttempts: 2}
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, session.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
}

func TestHandshakeAndEntityEvents(t *testing.T) {
	testlog.Start(t)
	auth := newFakeAuthority(t)
	ev := newEvents()
	cfg := DefaultConfig()
	cfg.ServerAddr = auth.addr()
	cfg.Name = "Nova"
	c, err := New(cfg, ev)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	auth.accept(t)

	auth.sendTCP(t, schema.WelcomeMsg{PeerID: 3, Message: "hi"}.Encode())
	pumpUntil(t, c, func() bool { return ev.handshake == 3 })

	reply := auth.readTCP(t)
	if typ, _ := reply.ReadInt32(); typ != int32(schema.WelcomeReceived) {
		t.Fatalf("expected WelcomeReceived, got type %d", typ)
	}
	got, err := schema.DecodeWelcomeReceived(reply)
	if err != nil || got.PeerID != 3 || got.Name != "Nova" {
		t.Fatalf("bad handshake reply %+v err=%v", got, err)
	}

	punch, peerAddr := auth.readUDP(t)
	if id, content, err := frame.SplitAuthorityDatagram(punch); err != nil || id != 3 || content != nil {
		t.Fatalf("expected id-only punch, got id=%d content=%v err=%v", id, content, err)
	}

	auth.sendTCP(t, schema.SpawnMsg{PeerID: 3, Name: "Nova", Rotation: geom.Identity()}.Encode())
	auth.sendTCP(t, schema.SpawnMsg{PeerID: 1, Name: "Ada", Rotation: geom.Identity()}.Encode())
	pumpUntil(t, c, func() bool { return len(ev.spawned) == 2 })
	if !ev.spawned[0].Local || ev.spawned[1].Local {
		t.Fatalf("local flag wrong: %+v", ev.spawned)
	}

	pos := schema.PositionMsg{PeerID: 1, Position: geom.Vec3{Z: 2}}.Encode()
	if _, err := auth.udp.WriteToUDP(frame.Encode(pos.Bytes()), peerAddr); err != nil {
		t.Fatalf("udp write: %v", err)
	}
	rot := schema.RotationMsg{PeerID: 1, Rotation: geom.Quat{Y: 1}}.Encode()
	if _, err := auth.udp.WriteToUDP(frame.Encode(rot.Bytes()), peerAddr); err != nil {
		t.Fatalf("udp write: %v", err)
	}
	pumpUntil(t, c, func() bool { return ev.moved[1].Z == 2 && ev.turned[1].Y == 1 })

	if err := c.SubmitLocalInput([sim.InputCount]bool{true, false, true, false}, geom.Identity()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	datagram, _ := auth.readUDP(t)
	id, content, err := frame.SplitAuthorityDatagram(datagram)
	if err != nil || id != 3 {
		t.Fatalf("movement datagram id=%d err=%v", id, err)
	}
	p := packet.FromBytes(content)
	if typ, _ := p.ReadInt32(); typ != int32(schema.PlayerMovement) {
		t.Fatalf("expected PlayerMovement, got %d", typ)
	}
	move, err := schema.DecodeMovement(p)
	if err != nil || move.Inputs != [schema.InputCount]bool{true, false, true, false} {
		t.Fatalf("movement got %+v err=%v", move, err)
	}

	auth.sendTCP(t, schema.DespawnMsg{PeerID: 1}.Encode())
	pumpUntil(t, c, func() bool { return len(ev.despawned) == 1 && ev.despawned[0] == 1 })
}

func TestRemoteCloseEndsRun(t *testing.T) {
	testlog.Start(t)
	auth := newFakeAuthority(t)
	cfg := DefaultConfig()
	cfg.ServerAddr = auth.addr()
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	auth.accept(t)

	result := make(chan error, 1)
	go func() { result <- c.Run(context.Background()) }()
	_ = auth.conn.Close()

	select {
	case err := <-result:
		if err == nil {
			t.Fatalf("Run should report the transport failure")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not stop after remote close")
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("Done should be closed")
	}
}

func TestUDPAddrDefaultsToServerAddr(t *testing.T) {
	testlog.Start(t)
	cfg, err := Config{ServerAddr: " 127.0.0.1:" + strconv.Itoa(26950) + " "}.withDefaults()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if cfg.UDPAddr != "127.0.0.1:26950" || cfg.FrameRate != DefaultFrameRate {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
