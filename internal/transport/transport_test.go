package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/danmuck/statesync/internal/protocol/frame"
	"github.com/danmuck/statesync/internal/protocol/session"
	"github.com/danmuck/statesync/internal/testutil/testlog"
)

func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server, ok := <-accepted
	if !ok {
		t.Fatalf("accept failed")
	}
	return client, server
}

func TestStreamConnDeliversFrames(t *testing.T) {
	testlog.Start(t)
	client, server := tcpPair(t)
	defer client.Close()

	frames := make(chan []byte, 4)
	s := NewStreamConn(server, "test", session.DefaultConfig(), func(f []byte) { frames <- f }, nil)
	s.Start()
	defer s.Close()

	stream := append(frame.Encode([]byte("hello")), frame.Encode([]byte("world"))...)
	// Write in two uneven pieces so the second frame straddles reads.
	if _, err := client.Write(stream[:7]); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := client.Write(stream[7:]); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, want := range []string{"hello", "world"} {
		select {
		case got := <-frames:
			if string(got) != want {
				t.Fatalf("got frame %q want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestStreamConnSendWritesBytes(t *testing.T) {
	testlog.Start(t)
	client, server := tcpPair(t)
	defer client.Close()

	s := NewStreamConn(server, "test", session.DefaultConfig(), nil, nil)
	s.Start()
	defer s.Close()

	payload := frame.Encode([]byte{1, 0, 0, 0})
	if !s.Send(payload) {
		t.Fatalf("send rejected")
	}
	got := make([]byte, len(payload))
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(client, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %v want %v", got, payload)
	}
}

func TestStreamConnReportsRemoteCloseOnce(t *testing.T) {
	testlog.Start(t)
	client, server := tcpPair(t)

	failures := make(chan error, 4)
	s := NewStreamConn(server, "test", session.DefaultConfig(), nil, func(err error) { failures <- err })
	s.Start()

	_ = client.Close()
	select {
	case err := <-failures:
		if !errors.Is(err, ErrTransportFailure) {
			t.Fatalf("expected ErrTransportFailure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("failure not reported")
	}
	s.Wait()
	if len(failures) != 0 {
		t.Fatalf("failure reported more than once")
	}
	if !errors.Is(s.Err(), ErrTransportFailure) {
		t.Fatalf("Err should hold the failure, got %v", s.Err())
	}
}

func TestStreamConnLocalCloseIsSilent(t *testing.T) {
	testlog.Start(t)
	client, server := tcpPair(t)
	defer client.Close()

	failures := make(chan error, 1)
	s := NewStreamConn(server, "test", session.DefaultConfig(), nil, func(err error) { failures <- err })
	s.Start()
	_ = s.Close()
	_ = s.Close()
	s.Wait()
	if len(failures) != 0 {
		t.Fatalf("local close reported a failure: %v", <-failures)
	}
	if s.Send([]byte{1}) {
		t.Fatalf("send after close accepted")
	}
}

func TestStreamConnFullQueueDrops(t *testing.T) {
	testlog.Start(t)
	client, server := tcpPair(t)
	defer client.Close()

	cfg := session.DefaultConfig()
	cfg.SendQueueDepth = 1
	// Not started: nothing drains the queue.
	s := NewStreamConn(server, "test", cfg, nil, nil)
	defer s.Close()
	if !s.Send([]byte{1}) {
		t.Fatalf("first send should fit")
	}
	if s.Send([]byte{2}) {
		t.Fatalf("second send should be dropped")
	}
}

func TestStreamConnOversizeFrameFails(t *testing.T) {
	testlog.Start(t)
	client, server := tcpPair(t)
	defer client.Close()

	cfg := session.DefaultConfig()
	cfg.MaxFrameBytes = 8
	failures := make(chan error, 1)
	s := NewStreamConn(server, "test", cfg, nil, func(err error) { failures <- err })
	s.Start()
	defer s.Close()

	_, _ = client.Write(frame.Encode(make([]byte, 32)))
	select {
	case err := <-failures:
		if !errors.Is(err, frame.ErrFrameTooLarge) {
			t.Fatalf("expected ErrFrameTooLarge, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("oversize frame not reported")
	}
}

func TestDatagramSocketRoundTripAndShortDrop(t *testing.T) {
	testlog.Start(t)
	type datagram struct {
		data []byte
		from *net.UDPAddr
	}
	received := make(chan datagram, 4)
	server, err := ListenDatagram("127.0.0.1:0", 4096, func(b []byte, from *net.UDPAddr) {
		received <- datagram{b, from}
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server.Start()
	defer server.Close()

	replies := make(chan []byte, 1)
	client, err := DialDatagram(server.LocalAddr().String(), 4096, func(b []byte, _ *net.UDPAddr) {
		replies <- b
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client.Start()
	defer client.Close()

	if err := client.Send([]byte{1, 2}); err != nil {
		t.Fatalf("send short: %v", err)
	}
	if err := client.Send([]byte{3, 0, 0, 0}); err != nil {
		t.Fatalf("send punch: %v", err)
	}

	var got datagram
	select {
	case got = <-received:
	case <-time.After(2 * time.Second):
		t.Fatalf("datagram not received")
	}
	if !bytes.Equal(got.data, []byte{3, 0, 0, 0}) {
		t.Fatalf("short datagram was not dropped, got %v", got.data)
	}
	if got.from.Port != client.LocalAddr().Port {
		t.Fatalf("source port mismatch: %d vs %d", got.from.Port, client.LocalAddr().Port)
	}

	if err := server.SendTo(got.from, []byte{9, 9, 9, 9}); err != nil {
		t.Fatalf("reply: %v", err)
	}
	select {
	case b := <-replies:
		if !bytes.Equal(b, []byte{9, 9, 9, 9}) {
			t.Fatalf("reply mismatch: %v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reply not received")
	}
}

