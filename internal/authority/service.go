package authority

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/statesync/internal/observability"
	"github.com/danmuck/statesync/internal/sim"
	"github.com/danmuck/statesync/internal/transport"
)

// Service binds the sockets and runs the accept, tick and admin loops.
type Service struct {
	cfg     ServiceConfig
	server  *Server
	clock   sim.Clock
	logger  zerolog.Logger
	started time.Time

	ln      net.Listener
	udp     *transport.DatagramSocket
	adminLn net.Listener
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		cfg:    cfg,
		server: NewServer(cfg),
		clock:  sim.SystemClock,
		logger: observability.Logger("authority"),
	}
}

func (s *Service) Server() *Server {
	return s.server
}

// Listen binds TCP, UDP and the optional admin listener. UDP shares the TCP
// port unless UDPListenAddr is set.
func (s *Service) Listen() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("authority: listen tcp %q: %w", s.cfg.ListenAddr, err)
	}
	udpAddr := strings.TrimSpace(s.cfg.UDPListenAddr)
	if udpAddr == "" {
		host, _, err := net.SplitHostPort(s.cfg.ListenAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("%w: %v", ErrInvalidListenAddr, err)
		}
		udpAddr = net.JoinHostPort(host, strconv.Itoa(ln.Addr().(*net.TCPAddr).Port))
	}
	udp, err := transport.ListenDatagram(udpAddr, s.cfg.Session.WithDefaults().ReadBufferBytes, s.server.HandleDatagram)
	if err != nil {
		_ = ln.Close()
		return err
	}
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		adminLn, err := net.Listen("tcp", addr)
		if err != nil {
			_ = ln.Close()
			_ = udp.Close()
			return fmt.Errorf("authority: listen admin %q: %w", addr, err)
		}
		s.adminLn = adminLn
	}
	s.ln = ln
	s.udp = udp
	s.server.AttachDatagram(udp)
	return nil
}

func (s *Service) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Service) UDPAddr() *net.UDPAddr {
	if s.udp == nil {
		return nil
	}
	return s.udp.LocalAddr()
}

func (s *Service) AdminAddr() net.Addr {
	if s.adminLn == nil {
		return nil
	}
	return s.adminLn.Addr()
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs every loop until ctx ends or one of them fails. Listen must
// have succeeded first.
func (s *Service) Serve(ctx context.Context) error {
	if s.ln == nil || s.udp == nil {
		return errors.New("authority: Serve called before Listen")
	}
	s.started = time.Now()
	s.logger.Info().
		Str("tcp", s.ln.Addr().String()).
		Str("udp", s.udp.LocalAddr().String()).
		Int("max_peers", s.cfg.MaxPeers).
		Int("tick_rate", s.cfg.TickRate).
		Msg("authority.Service.Serve listening")

	g, gctx := errgroup.WithContext(ctx)
	s.udp.Start()

	g.Go(func() error { return s.acceptLoop(gctx) })
	g.Go(func() error { return s.tickLoop(gctx) })
	if s.adminLn != nil {
		g.Go(func() error { return s.serveAdmin(gctx) })
	}

	err := g.Wait()
	_ = s.udp.Close()
	s.server.Shutdown()
	s.logger.Info().Err(err).Msg("authority.Service.Serve stopped")
	return err
}

func (s *Service) acceptLoop(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("authority: accept: %w", err)
		}
		s.server.Accept(conn)
	}
}

func (s *Service) tickLoop(ctx context.Context) error {
	sched := sim.NewScheduler(s.cfg.TickRate, s.clock, s.server.Tick)
	sched.SetObserver(func(took time.Duration, overran bool) {
		observability.RecordTick(took)
		if overran {
			observability.RecordTickOverrun()
		}
	})
	return sched.Run(ctx)
}

func (s *Service) serveAdmin(ctx context.Context) error {
	srv := &http.Server{
		Handler:           s.server.AdminRouter(s.started),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info().Str("addr", s.adminLn.Addr().String()).Msg("authority.Service.serveAdmin listening")
	if err := srv.Serve(s.adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("authority: admin serve: %w", err)
	}
	return nil
}
