package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/statesync/internal/authority"
	"github.com/danmuck/statesync/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a statesyncd TOML config")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := authority.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "statesyncd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc := authority.NewService(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "statesyncd: %v\n", err)
		os.Exit(1)
	}
}
