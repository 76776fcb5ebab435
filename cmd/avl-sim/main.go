package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"opentransit-avl/internal/config"
	"opentransit-avl/internal/logging"
	"opentransit-avl/internal/replay"
	"opentransit-avl/internal/sim"
	"opentransit-avl/internal/udp"
)

func main() {
	var configPath string
	var dest string
	var replayPath string
	var speed float64
	var loop bool
	var summarizePath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config (optional; env overrides apply)")
	flag.StringVar(&dest, "dest", "", "Override sim.dest (host:port of the AVL server)")
	flag.StringVar(&replayPath, "replay", "", "Replay a datagram capture instead of simulating vehicles")
	flag.Float64Var(&speed, "speed", 0, "Replay speed multiplier (default sim.replay.speed or 1)")
	flag.BoolVar(&loop, "loop", false, "Loop the replay until interrupted")
	flag.StringVar(&summarizePath, "summarize", "", "Print a summary of a datagram capture and exit")
	flag.Parse()

	if summarizePath != "" {
		if err := printCaptureSummary(os.Stdout, summarizePath); err != nil {
			log.Fatalf("summarize failed: %v", err)
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	sc := cfg.Sim
	if dest != "" {
		sc.Dest = dest
	}
	if replayPath != "" {
		sc.Replay.Enable = true
		sc.Replay.Path = replayPath
	}
	if speed > 0 {
		sc.Replay.Speed = speed
	}
	if loop {
		sc.Replay.Loop = true
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sender, err := udp.NewSender(sc.Dest)
	if err != nil {
		log.Fatalf("udp sender init failed: %v", err)
	}
	defer sender.Close()

	if sc.Replay.Enable {
		recs, err := replay.ReadFile(sc.Replay.Path)
		if err != nil {
			log.Fatalf("replay load failed: %v", err)
		}
		logger.Info(ctx, "replaying capture",
			logging.String("path", sc.Replay.Path),
			logging.String("dest", sender.Dest()),
			logging.Int("records", len(recs)),
		)
		err = replay.Play(ctx, recs, replay.PlayOptions{Speed: sc.Replay.Speed, Loop: sc.Replay.Loop}, sender)
		if err != nil && ctx.Err() == nil {
			log.Fatalf("replay failed: %v", err)
		}
		return
	}

	fleet := sim.NewFleet(sim.Path{
		CenterLat: sc.CenterLat,
		CenterLon: sc.CenterLon,
		RadiusKm:  sc.RadiusKm,
		Period:    sc.Period,
	}, sc.Prefix, sc.Vehicles)
	logger.Info(ctx, "simulating vehicles",
		logging.String("dest", sender.Dest()),
		logging.Int("vehicles", len(fleet.Vehicles)),
		logging.Duration("interval", sc.Interval),
	)
	_ = runFleet(ctx, fleet, sc.Interval, sender, nil, logger)
}
