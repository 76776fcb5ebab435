package main

import (
	"context"
	"time"

	"opentransit-avl/internal/logging"
	"opentransit-avl/internal/replay"
	"opentransit-avl/internal/sim"
)

// runFleet sends one datagram with every vehicle's fix immediately and then
// once per interval until ctx is cancelled. Send errors are logged and the
// loop keeps going; the server may not be up yet.
func runFleet(ctx context.Context, fleet sim.Fleet, interval time.Duration, sink replay.Sink, now func() time.Time, log logging.Logger) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logging.Noop()
	}

	send := func() {
		payload := sim.Datagram(fleet.Positions(now().UTC()))
		if err := sink.WriteDatagram(payload); err != nil {
			log.Warn(ctx, "send failed", logging.Err(err))
		}
	}

	send()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			send()
		}
	}
}
