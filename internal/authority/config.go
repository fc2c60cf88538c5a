package authority

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/statesync/internal/geom"
	"github.com/danmuck/statesync/internal/protocol/session"
	"github.com/danmuck/statesync/internal/sim"
)

var (
	ErrInvalidMaxPeers   = errors.New("authority: invalid max peers")
	ErrInvalidTickRate   = errors.New("authority: invalid tick rate")
	ErrInvalidListenAddr = errors.New("authority: invalid listen address")
)

const (
	DefaultPort           = 26950
	DefaultMaxPeers       = 50
	DefaultWelcomeMessage = "Welcome to the server!"
)

// ServiceConfig configures the authority runtime. UDPListenAddr defaults to
// the TCP port. RecycleSlots frees a slot and despawns its player when the
// stream fails; when false the player stays in the world and the slot stays taken.
type ServiceConfig struct {
	NodeName            string
	ListenAddr          string
	UDPListenAddr       string
	AdminListenAddr     string
	CORSOrigins         []string
	MaxPeers            int
	TickRate            int
	BaseSpeed           float32
	SpawnPoint          geom.Vec3
	WelcomeMessage      string
	SpectatorEveryTicks int
	RecycleSlots        bool
	SnapshotTimeout     time.Duration
	Session             session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeName:            "statesyncd",
		ListenAddr:          fmt.Sprintf(":%d", DefaultPort),
		AdminListenAddr:     "127.0.0.1:26960",
		CORSOrigins:         []string{"http://localhost:3000"},
		MaxPeers:            DefaultMaxPeers,
		TickRate:            sim.DefaultTickRate,
		BaseSpeed:           sim.DefaultBaseSpeed,
		WelcomeMessage:      DefaultWelcomeMessage,
		SpectatorEveryTicks: 6,
		RecycleSlots:        true,
		SnapshotTimeout:     time.Second,
		Session:             session.DefaultConfig(),
	}
}

func (c ServiceConfig) Validate() error {
	if c.MaxPeers < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxPeers, c.MaxPeers)
	}
	if c.TickRate < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidTickRate, c.TickRate)
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return ErrInvalidListenAddr
	}
	return nil
}

func (c ServiceConfig) moveSpeed() float32 {
	return sim.MoveSpeed(c.BaseSpeed, c.TickRate)
}
