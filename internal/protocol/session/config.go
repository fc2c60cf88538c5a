package session

import (
	"time"

	"github.com/danmuck/statesync/internal/protocol/frame"
)

const (
	DefaultReadBufferBytes = 4096
	DefaultSendQueueDepth  = 256
)

// BackoffConfig defines retry backoff behavior for peer connects.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxAttempts  int
	Jitter       bool
}

// Config defines per-connection transport settings.
type Config struct {
	ReadBufferBytes int
	MaxFrameBytes   int
	SendQueueDepth  int
	ConnectTimeout  time.Duration
	WriteTimeout    time.Duration
	Backoff         BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ReadBufferBytes: DefaultReadBufferBytes,
		MaxFrameBytes:   frame.DefaultLimits().MaxFrameBytes,
		SendQueueDepth:  DefaultSendQueueDepth,
		ConnectTimeout:  5 * time.Second,
		WriteTimeout:    5 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			MaxAttempts:  5,
			Jitter:       true,
		},
	}
}

// WithDefaults fills every zero field from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ReadBufferBytes <= 0 {
		c.ReadBufferBytes = def.ReadBufferBytes
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = def.MaxFrameBytes
	}
	if c.SendQueueDepth <= 0 {
		c.SendQueueDepth = def.SendQueueDepth
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) FrameLimits() frame.Limits {
	return frame.Limits{MaxFrameBytes: c.MaxFrameBytes}
}
