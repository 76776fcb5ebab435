// Package ingest turns received datagrams into stored positions.
package ingest

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"opentransit-avl/internal/logging"
	"opentransit-avl/internal/nmea"
)

// Recorder captures raw datagrams, e.g. replay.Writer.
type Recorder interface {
	WriteDatagram(now time.Time, payload []byte) error
}

// Dispatch receives decoded positions; *Dispatcher implements it.
type Dispatch interface {
	Dispatch(p nmea.Position)
}

type Config struct {
	Log      logging.Logger
	Metrics  Metrics
	Recorder Recorder
	// Clock stamps Position.ReceivedAt. Defaults to time.Now.
	Clock func() time.Time
}

// Pipeline validates and decodes datagrams and dispatches positions.
type Pipeline struct {
	cfg      Config
	dispatch Dispatch

	datagrams      atomic.Uint64
	lines          atomic.Uint64
	checksumErrors atomic.Uint64
	ignored        atomic.Uint64
	decoded        atomic.Uint64
	malformed      atomic.Uint64
}

func NewPipeline(dispatch Dispatch, cfg Config) *Pipeline {
	if cfg.Log == nil {
		cfg.Log = logging.Noop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Pipeline{cfg: cfg, dispatch: dispatch}
}

// OnDatagram processes one datagram. It never blocks on storage: decoded
// positions are handed to the dispatcher and the call returns.
func (p *Pipeline) OnDatagram(payload []byte, from net.Addr) {
	ctx := context.Background()
	sender := addrString(from)

	defer func() {
		if r := recover(); r != nil {
			p.malformed.Add(1)
			p.cfg.Log.Error(ctx, "error processing packet",
				logging.String("from", sender),
				logging.String("error", fmt.Sprint(r)),
			)
		}
	}()

	p.datagrams.Add(1)
	p.cfg.Metrics.Datagram(len(payload))

	now := p.cfg.Clock().UTC()
	if p.cfg.Recorder != nil {
		if err := p.cfg.Recorder.WriteDatagram(now, payload); err != nil {
			p.cfg.Log.Warn(ctx, "datagram capture failed", logging.Err(err))
		}
	}

	text := strings.TrimSpace(strings.ToValidUTF8(string(payload), ""))
	for _, line := range splitLines(text) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p.lines.Add(1)
		p.handleLine(ctx, line, sender, now)
	}
}

func (p *Pipeline) handleLine(ctx context.Context, line, sender string, now time.Time) {
	if _, _, _, err := nmea.ValidateChecksum(line); err != nil {
		p.checksumErrors.Add(1)
		p.cfg.Metrics.Sentence(OutcomeChecksumError)
		p.cfg.Log.Warn(ctx, "nmea error", logging.String("from", sender), logging.Err(err))
		return
	}

	pos, ok := nmea.DecodeGPRMC(line)
	if !ok {
		p.ignored.Add(1)
		p.cfg.Metrics.Sentence(OutcomeIgnored)
		p.cfg.Log.Debug(ctx, "non-GPRMC or invalid sentence", logging.String("from", sender))
		return
	}

	p.decoded.Add(1)
	p.cfg.Metrics.Sentence(OutcomeDecoded)
	pos.ReceivedAt = now
	p.dispatch.Dispatch(pos)
}

// Stats is a point-in-time view of pipeline counters.
type Stats struct {
	Datagrams      uint64 `json:"datagrams"`
	Lines          uint64 `json:"lines"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	Ignored        uint64 `json:"ignored"`
	Decoded        uint64 `json:"decoded"`
	Malformed      uint64 `json:"malformed"`
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Datagrams:      p.datagrams.Load(),
		Lines:          p.lines.Load(),
		ChecksumErrors: p.checksumErrors.Load(),
		Ignored:        p.ignored.Load(),
		Decoded:        p.decoded.Load(),
		Malformed:      p.malformed.Load(),
	}
}

// WriteStats is a point-in-time view of dispatcher counters.
type WriteStats struct {
	InFlight int64  `json:"in_flight"`
	OK       uint64 `json:"ok"`
	Failed   uint64 `json:"failed"`
}

func (d *Dispatcher) Stats() WriteStats {
	return WriteStats{
		InFlight: d.inFlight.Load(),
		OK:       d.ok.Load(),
		Failed:   d.failed.Load(),
	}
}

// splitLines splits on \n, \r\n and \r.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}

func addrString(a net.Addr) string {
	if a == nil {
		return "unknown"
	}
	return a.String()
}
