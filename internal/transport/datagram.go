package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/statesync/internal/observability"
	"github.com/danmuck/statesync/internal/protocol/frame"
)

// DatagramSocket reads and writes UDP datagrams. One socket serves every
// peer on the authority; a peer holds one connected to the authority.
type DatagramSocket struct {
	conn       *net.UDPConn
	bufBytes   int
	logger     zerolog.Logger
	onDatagram func(data []byte, from *net.UDPAddr)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ListenDatagram binds addr for an authority.
func ListenDatagram(addr string, bufBytes int, onDatagram func([]byte, *net.UDPAddr)) (*DatagramSocket, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve udp %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp %q: %w", addr, err)
	}
	return newDatagramSocket(conn, "authority", bufBytes, onDatagram), nil
}

// DialDatagram opens a socket on an ephemeral port connected to raddr.
func DialDatagram(raddr string, bufBytes int, onDatagram func([]byte, *net.UDPAddr)) (*DatagramSocket, error) {
	remote, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve udp %q: %w", raddr, err)
	}
	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, fmt.Errorf("transport: dial udp %q: %w", raddr, err)
	}
	return newDatagramSocket(conn, "peer", bufBytes, onDatagram), nil
}

func newDatagramSocket(conn *net.UDPConn, role string, bufBytes int, onDatagram func([]byte, *net.UDPAddr)) *DatagramSocket {
	if bufBytes <= 0 {
		bufBytes = 4096
	}
	return &DatagramSocket{
		conn:       conn,
		bufBytes:   bufBytes,
		logger:     log.With().Str("udp", role).Str("local", conn.LocalAddr().String()).Logger(),
		onDatagram: onDatagram,
		done:       make(chan struct{}),
	}
}

func (d *DatagramSocket) Start() {
	d.wg.Add(1)
	go d.readLoop()
}

// SendTo writes one datagram to addr.
func (d *DatagramSocket) SendTo(addr *net.UDPAddr, b []byte) error {
	if _, err := d.conn.WriteToUDP(b, addr); err != nil {
		return fmt.Errorf("%w: udp send to %s: %w", ErrTransportFailure, addr, err)
	}
	return nil
}

// Send writes one datagram on a connected socket.
func (d *DatagramSocket) Send(b []byte) error {
	if _, err := d.conn.Write(b); err != nil {
		return fmt.Errorf("%w: udp send: %w", ErrTransportFailure, err)
	}
	return nil
}

func (d *DatagramSocket) LocalAddr() *net.UDPAddr {
	return d.conn.LocalAddr().(*net.UDPAddr)
}

func (d *DatagramSocket) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		err = d.conn.Close()
	})
	d.wg.Wait()
	return err
}

func (d *DatagramSocket) readLoop() {
	defer d.wg.Done()
	buf := make([]byte, d.bufBytes)
	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-d.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP unreachable and similar errors surface here; the socket stays usable.
			d.logger.Debug().Err(err).Msg("transport.DatagramSocket read")
			continue
		}
		if n < frame.LengthPrefixLen {
			observability.RecordFrameDropped(observability.ChannelUDP, observability.DropShortDatagram)
			d.logger.Debug().Int("bytes", n).Msg("transport.DatagramSocket short datagram dropped")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if d.onDatagram != nil {
			d.onDatagram(data, from)
		}
	}
}
