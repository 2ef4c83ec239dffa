package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"ecash-console/go-client/internal/composition/console"
	"ecash-console/go-client/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	listenAddr := flag.String("listen", "", "local API listen address")
	configPath := flag.String("config", "", "Path to consoled.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for daemon local data (optional)")
	backendURL := flag.String("backend-url", "", "Backend base URL override")
	flag.Parse()
	if *showVersion {
		fmt.Printf("consoled version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadFromPath(*configPath)
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *backendURL != "" {
		cfg.BackendURL = *backendURL
	}

	daemon, err := console.Build(cfg, nil)
	if err != nil {
		log.Fatalf("consoled failed to initialize: %v", err)
	}

	log.Println("consoled starting")
	if err := daemon.Run(ctx); err != nil {
		log.Fatalf("consoled failed: %v", err)
	}
	log.Println("consoled stopped")
}
