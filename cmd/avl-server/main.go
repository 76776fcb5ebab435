package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"opentransit-avl/internal/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config (optional; env overrides apply)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, os.Stdout, nil); err != nil {
		log.Fatalf("avl-server: %v", err)
	}
}
