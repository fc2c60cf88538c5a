package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/statesync/internal/observability"
	"github.com/danmuck/statesync/internal/protocol/frame"
	"github.com/danmuck/statesync/internal/protocol/session"
)

var (
	ErrTransportFailure = errors.New("transport: failure")
	ErrClosed           = errors.New("transport: closed")
)

// StreamConn carries length-prefixed frames over one TCP connection.
type StreamConn struct {
	conn      net.Conn
	cfg       session.Config
	logger    zerolog.Logger
	onFrame   func(frame []byte)
	onFailure func(err error)

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	failOnce  sync.Once
	errMu     sync.Mutex
	err       error
	wg        sync.WaitGroup
}

// NewStreamConn wraps conn. onFrame receives each complete frame's content
// on the receive goroutine; onFailure is called at most once.
func NewStreamConn(conn net.Conn, label string, cfg session.Config, onFrame func([]byte), onFailure func(error)) *StreamConn {
	cfg = cfg.WithDefaults()
	return &StreamConn{
		conn:      conn,
		cfg:       cfg,
		logger:    log.With().Str("conn", label).Str("remote", conn.RemoteAddr().String()).Logger(),
		onFrame:   onFrame,
		onFailure: onFailure,
		out:       make(chan []byte, cfg.SendQueueDepth),
		done:      make(chan struct{}),
	}
}

// Start launches the receive and write goroutines.
func (s *StreamConn) Start() {
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
}

// Send queues b for writing. It never blocks; a full queue drops b.
func (s *StreamConn) Send(b []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- b:
		return true
	default:
		observability.RecordFrameDropped(observability.ChannelTCP, observability.DropSendQueueFull)
		s.logger.Warn().Int("bytes", len(b)).Msg("transport.StreamConn.Send queue full, frame dropped")
		return false
	}
}

// Close shuts the connection without reporting a failure. Safe to call twice.
func (s *StreamConn) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// Wait blocks until both goroutines have exited.
func (s *StreamConn) Wait() {
	s.wg.Wait()
}

// Done is closed once the connection is closed for any reason.
func (s *StreamConn) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure that closed the connection, if any.
func (s *StreamConn) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *StreamConn) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *StreamConn) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *StreamConn) readLoop() {
	defer s.wg.Done()
	r := frame.NewReassembler(s.cfg.FrameLimits())
	buf := make([]byte, s.cfg.ReadBufferBytes)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			frames, ferr := r.Feed(buf[:n])
			for _, f := range frames {
				observability.RecordFrameReceived(observability.ChannelTCP)
				if s.onFrame != nil {
					s.onFrame(f)
				}
			}
			if ferr != nil {
				observability.RecordFrameDropped(observability.ChannelTCP, observability.DropFrameTooLarge)
				s.fail(ferr)
				return
			}
		}
		if err != nil {
			s.fail(err)
			return
		}
	}
}

func (s *StreamConn) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case b := <-s.out:
			if s.cfg.WriteTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			}
			if _, err := s.conn.Write(b); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

// fail reports the first I/O error of a live connection and closes it.
// Errors caused by a local Close are not reported.
func (s *StreamConn) fail(cause error) {
	select {
	case <-s.done:
		return
	default:
	}
	s.failOnce.Do(func() {
		err := fmt.Errorf("%w: %w", ErrTransportFailure, cause)
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		if errors.Is(cause, io.EOF) {
			s.logger.Info().Msg("transport.StreamConn closed by remote")
		} else {
			s.logger.Warn().Err(cause).Msg("transport.StreamConn failure")
		}
		_ = s.Close()
		if s.onFailure != nil {
			s.onFailure(err)
		}
	})
}
