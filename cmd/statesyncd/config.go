package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/statesync/internal/authority"
	"github.com/danmuck/statesync/internal/geom"
)

type fileConfig struct {
	Node                string    `toml:"node"`
	Listen              string    `toml:"listen"`
	UDPListen           string    `toml:"udp_listen"`
	AdminListen         string    `toml:"admin_listen"`
	CORSOrigins         []string  `toml:"cors_origins"`
	MaxPeers            int       `toml:"max_peers"`
	TickRate            int       `toml:"tick_rate"`
	BaseSpeed           float32   `toml:"base_speed"`
	Spawn               []float32 `toml:"spawn"`
	WelcomeMessage      string    `toml:"welcome_message"`
	SpectatorEveryTicks int       `toml:"spectator_every_ticks"`
	RecycleSlots        bool      `toml:"recycle_slots"`
	SnapshotTimeout     string    `toml:"snapshot_timeout"`
	Session             struct {
		ReadBufferBytes int    `toml:"read_buffer_bytes"`
		MaxFrameBytes   int    `toml:"max_frame_bytes"`
		SendQueueDepth  int    `toml:"send_queue_depth"`
		WriteTimeout    string `toml:"write_timeout"`
	} `toml:"session"`
}

func loadServiceConfig(path string) (authority.ServiceConfig, error) {
	cfg := authority.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return authority.ServiceConfig{}, fmt.Errorf("load statesyncd config: %w", err)
	}

	if meta.IsDefined("node") {
		if v := strings.TrimSpace(raw.Node); v != "" {
			cfg.NodeName = v
		}
	}
	if meta.IsDefined("listen") {
		cfg.ListenAddr = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("udp_listen") {
		cfg.UDPListenAddr = strings.TrimSpace(raw.UDPListen)
	}
	if meta.IsDefined("admin_listen") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListen)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("max_peers") {
		cfg.MaxPeers = raw.MaxPeers
	}
	if meta.IsDefined("tick_rate") {
		cfg.TickRate = raw.TickRate
	}
	if meta.IsDefined("base_speed") {
		cfg.BaseSpeed = raw.BaseSpeed
	}
	if meta.IsDefined("spawn") {
		if len(raw.Spawn) != 3 {
			return authority.ServiceConfig{}, fmt.Errorf("parse spawn: want 3 components, got %d", len(raw.Spawn))
		}
		cfg.SpawnPoint = geom.Vec3{X: raw.Spawn[0], Y: raw.Spawn[1], Z: raw.Spawn[2]}
	}
	if meta.IsDefined("welcome_message") {
		cfg.WelcomeMessage = raw.WelcomeMessage
	}
	if meta.IsDefined("spectator_every_ticks") {
		cfg.SpectatorEveryTicks = raw.SpectatorEveryTicks
	}
	if meta.IsDefined("recycle_slots") {
		cfg.RecycleSlots = raw.RecycleSlots
	}
	if meta.IsDefined("snapshot_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SnapshotTimeout))
		if err != nil {
			return authority.ServiceConfig{}, fmt.Errorf("parse snapshot_timeout: %w", err)
		}
		cfg.SnapshotTimeout = d
	}

	if meta.IsDefined("session", "read_buffer_bytes") {
		cfg.Session.ReadBufferBytes = raw.Session.ReadBufferBytes
	}
	if meta.IsDefined("session", "max_frame_bytes") {
		cfg.Session.MaxFrameBytes = raw.Session.MaxFrameBytes
	}
	if meta.IsDefined("session", "send_queue_depth") {
		cfg.Session.SendQueueDepth = raw.Session.SendQueueDepth
	}
	if meta.IsDefined("session", "write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Session.WriteTimeout))
		if err != nil {
			return authority.ServiceConfig{}, fmt.Errorf("parse session.write_timeout: %w", err)
		}
		cfg.Session.WriteTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return authority.ServiceConfig{}, err
	}
	return cfg, nil
}
