package main

import (
	"context"
	"log"
	"os"

	"github.com/raakeshmj/licensegate/internal/config"
	"github.com/raakeshmj/licensegate/internal/logging"
	"github.com/raakeshmj/licensegate/internal/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, version)

	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("server failed to initialise", "error", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("server failed to start", "error", err)
		os.Exit(1)
	}
}
