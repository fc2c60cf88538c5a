package peer

import (
	"errors"
	"strings"

	"github.com/danmuck/statesync/internal/protocol/session"
)

var (
	ErrServerAddressRequired = errors.New("peer: server address required")
	ErrNotConnected          = errors.New("peer: not connected")
)

const DefaultFrameRate = 60

// Config configures one peer. UDPAddr defaults to ServerAddr.
type Config struct {
	ServerAddr string
	UDPAddr    string
	Name       string
	FrameRate  int
	Session    session.Config
}

func DefaultConfig() Config {
	return Config{
		ServerAddr: "127.0.0.1:26950",
		Name:       "peer",
		FrameRate:  DefaultFrameRate,
		Session:    session.DefaultConfig(),
	}
}

func (c Config) withDefaults() (Config, error) {
	c.ServerAddr = strings.TrimSpace(c.ServerAddr)
	if c.ServerAddr == "" {
		return c, ErrServerAddressRequired
	}
	if strings.TrimSpace(c.UDPAddr) == "" {
		c.UDPAddr = c.ServerAddr
	}
	if c.FrameRate <= 0 {
		c.FrameRate = DefaultFrameRate
	}
	c.Session = c.Session.WithDefaults()
	return c, nil
}
