package peer

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/statesync/internal/dispatch"
	"github.com/danmuck/statesync/internal/geom"
	"github.com/danmuck/statesync/internal/observability"
	"github.com/danmuck/statesync/internal/protocol/frame"
	"github.com/danmuck/statesync/internal/protocol/packet"
	"github.com/danmuck/statesync/internal/protocol/schema"
	"github.com/danmuck/statesync/internal/protocol/session"
	"github.com/danmuck/statesync/internal/sim"
	"github.com/danmuck/statesync/internal/transport"
)

// Client is one connected peer. Frames from both sockets are queued and
// handled when the owner calls Update, so Presentation callbacks always run
// on the owner's goroutine.
type Client struct {
	cfg    Config
	pres   Presentation
	logger zerolog.Logger
	queue  *dispatch.Queue
	table  *schema.Table
	rng    *rand.Rand

	id     atomic.Int32
	stream *transport.StreamConn
	udpMu  sync.Mutex
	udp    *transport.DatagramSocket

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func New(cfg Config, pres Presentation) (*Client, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:    cfg,
		pres:   pres,
		logger: observability.Logger("peer").With().Str("name", cfg.Name).Logger(),
		queue:  dispatch.New("peer", nil),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		done:   make(chan struct{}),
	}
	c.table = schema.NewTable("peer", map[int32]schema.Handler{
		int32(schema.Welcome):        c.handleWelcome,
		int32(schema.SpawnPlayer):    c.handleSpawn,
		int32(schema.PlayerPosition): c.handlePosition,
		int32(schema.PlayerRotation): c.handleRotation,
		int32(schema.PlayerDespawn):  c.handleDespawn,
	})
	return c, nil
}

// Connect dials the authority, retrying with backoff.
func (c *Client) Connect(ctx context.Context) error {
	var conn net.Conn
	err := session.Retry(ctx, c.cfg.Session.Backoff, c.rng, func(attempt int) error {
		dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
		var err error
		conn, err = dialer.DialContext(ctx, "tcp", c.cfg.ServerAddr)
		if err != nil {
			c.logger.Warn().Int("attempt", attempt).Err(err).Msg("peer.Client.Connect dial failed")
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("peer: connect %s: %w", c.cfg.ServerAddr, err)
	}
	c.stream = transport.NewStreamConn(conn, "authority", c.cfg.Session,
		func(f []byte) {
			c.queue.Enqueue(func() { c.dispatch(observability.ChannelTCP, f) })
		},
		c.fail,
	)
	c.stream.Start()
	c.logger.Info().Str("server", c.cfg.ServerAddr).Msg("peer.Client.Connect connected")
	return nil
}

// ID returns the assigned peer id, or 0 before the handshake.
func (c *Client) ID() int32 {
	return c.id.Load()
}

// SubmitLocalInput sends directional inputs and facing to the authority.
func (c *Client) SubmitLocalInput(dirs [sim.InputCount]bool, rot geom.Quat) error {
	id := c.ID()
	c.udpMu.Lock()
	udp := c.udp
	c.udpMu.Unlock()
	if id == 0 || udp == nil {
		return ErrNotConnected
	}
	msg := schema.MovementMsg{Inputs: dirs, Rotation: rot}
	return udp.Send(frame.EncodeAuthorityDatagram(id, msg.Encode().Bytes()))
}

// Update runs every queued frame handler. Call it once per local frame.
func (c *Client) Update() int {
	return c.queue.DrainAndRunAll()
}

// Run calls Update at FrameRate until ctx ends or the connection fails.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	sched := sim.NewScheduler(c.cfg.FrameRate, sim.SystemClock, func() { c.Update() })
	if err := sched.Run(ctx); err != nil {
		return err
	}
	return c.Err()
}

// Done is closed when the connection fails or Close is called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the transport failure that ended the session, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.udpMu.Lock()
	udp := c.udp
	c.udp = nil
	c.udpMu.Unlock()
	if udp != nil {
		_ = udp.Close()
	}
	if c.stream != nil {
		return c.stream.Close()
	}
	return nil
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
	c.logger.Warn().Err(err).Msg("peer.Client lost connection")
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) dispatch(channel string, content []byte) {
	if err := c.table.Dispatch(0, content); err != nil {
		observability.RecordFrameDropped(channel, observability.DropDecode)
		c.logger.Warn().
			Str("channel", channel).
			Int32("packet_type", schema.PacketType(content)).
			Err(err).
			Msg("peer.Client.dispatch frame discarded")
	}
}

func (c *Client) sendTCP(p *packet.Packet) {
	if c.stream != nil {
		c.stream.Send(frame.Encode(p.Bytes()))
	}
}

// openUDP connects the datagram socket and punches so the authority binds
// this peer's endpoint.
func (c *Client) openUDP(id int32) error {
	udp, err := transport.DialDatagram(c.cfg.UDPAddr, c.cfg.Session.ReadBufferBytes, func(b []byte, _ *net.UDPAddr) {
		content, err := frame.SplitPeerDatagram(b)
		if err != nil {
			observability.RecordFrameDropped(observability.ChannelUDP, observability.DropDecode)
			return
		}
		c.queue.Enqueue(func() { c.dispatch(observability.ChannelUDP, content) })
	})
	if err != nil {
		return err
	}
	udp.Start()
	c.udpMu.Lock()
	c.udp = udp
	c.udpMu.Unlock()
	return udp.Send(frame.EncodePunch(id))
}
