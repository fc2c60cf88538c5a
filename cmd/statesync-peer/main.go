package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/statesync/internal/geom"
	"github.com/danmuck/statesync/internal/logging"
	"github.com/danmuck/statesync/internal/peer"
	"github.com/danmuck/statesync/internal/sim"
)

func main() {
	cfg := peer.DefaultConfig()
	flag.StringVar(&cfg.ServerAddr, "server", cfg.ServerAddr, "authority TCP address")
	flag.StringVar(&cfg.UDPAddr, "udp", "", "authority UDP address (defaults to -server)")
	flag.StringVar(&cfg.Name, "name", cfg.Name, "display name")
	flag.IntVar(&cfg.FrameRate, "fps", cfg.FrameRate, "local update rate")
	forward := flag.Duration("forward", 0, "hold forward for this long after spawning")
	verbose := flag.Bool("verbose", false, "log every position and rotation update")
	flag.Parse()

	logging.ConfigureRuntime()

	if err := run(cfg, *forward, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "statesync-peer: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg peer.Config, forward time.Duration, verbose bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := peer.New(cfg, peer.LogPresentation{Logger: log.Logger, Verbose: verbose})
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	if forward > 0 {
		go holdForward(ctx, client, forward, cfg.FrameRate)
	}
	return client.Run(ctx)
}

// holdForward submits forward input every frame for d, then releases it.
func holdForward(ctx context.Context, client *peer.Client, d time.Duration, fps int) {
	if fps <= 0 {
		fps = peer.DefaultFrameRate
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	var stopAt time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case now := <-ticker.C:
			if client.ID() == 0 {
				continue
			}
			if stopAt.IsZero() {
				stopAt = now.Add(d)
			}
			held := now.Before(stopAt)
			_ = client.SubmitLocalInput([sim.InputCount]bool{held}, geom.Identity())
			if !held {
				return
			}
		}
	}
}
