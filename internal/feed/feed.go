// Package feed renders the fleet's current positions as a GTFS-Realtime
// VehiclePositions feed and caches the result for a short freshness window.
package feed

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"opentransit-avl/internal/logging"
	"opentransit-avl/internal/storage"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/protobuf/proto"
)

const (
	DefaultWindow       = 15 * time.Second
	DefaultRecency      = 5 * time.Minute
	DefaultQueryTimeout = 10 * time.Second

	// GTFSRealtimeVersion is written into every feed header.
	GTFSRealtimeVersion = "2.0"
)

// Metrics receives generator events.
type Metrics interface {
	FeedCacheHit()
	FeedRendered(d time.Duration, entities int, err error)
}

type noopMetrics struct{}

func (noopMetrics) FeedCacheHit()                          {}
func (noopMetrics) FeedRendered(time.Duration, int, error) {}

type Config struct {
	// Window is how long a rendered snapshot is served without touching the
	// store.
	Window time.Duration
	// Recency excludes vehicles whose current row is older than now-Recency.
	Recency time.Duration
	// QueryTimeout bounds the store query of one regeneration.
	QueryTimeout time.Duration

	Log     logging.Logger
	Metrics Metrics
}

// Snapshot is one rendered feed. It is immutable once published.
type Snapshot struct {
	Message     *gtfs.FeedMessage
	Encoded     []byte
	GeneratedAt time.Time
	Vehicles    []storage.Current
}

// Generator serves cached feed snapshots.
//
// Two callers that both see a stale cache both regenerate; the later store
// wins the cache slot. Snapshots are built fully before publication, so a
// reader never observes a partial one.
type Generator struct {
	store storage.Reader
	cfg   Config
	cache atomic.Pointer[Snapshot]
}

func NewGenerator(store storage.Reader, cfg Config) *Generator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Recency <= 0 {
		cfg.Recency = DefaultRecency
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.Log == nil {
		cfg.Log = logging.Noop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Generator{store: store, cfg: cfg}
}

// Feed returns the cached snapshot while it is younger than the window and
// otherwise regenerates from the store. A store failure is returned as is;
// the previous snapshot is not served in its place.
func (g *Generator) Feed(ctx context.Context, now time.Time) (*Snapshot, error) {
	if snap := g.cache.Load(); snap != nil && now.Sub(snap.GeneratedAt) < g.cfg.Window {
		g.cfg.Metrics.FeedCacheHit()
		return snap, nil
	}
	return g.regenerate(ctx, now)
}

// Cached returns the last published snapshot, or nil.
func (g *Generator) Cached() *Snapshot { return g.cache.Load() }

func (g *Generator) regenerate(ctx context.Context, now time.Time) (snap *Snapshot, err error) {
	ctx, span := otel.Tracer("opentransit-avl/feed").Start(ctx, "feed.regenerate")
	start := time.Now()
	defer func() {
		if snap != nil {
			span.SetAttributes(attribute.Int("feed.entities", len(snap.Vehicles)))
			g.cfg.Metrics.FeedRendered(time.Since(start), len(snap.Vehicles), nil)
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			g.cfg.Metrics.FeedRendered(time.Since(start), 0, err)
		}
		span.End()
	}()

	qctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	vehicles, err := g.store.Recent(qctx, now.Add(-g.cfg.Recency))
	if err != nil {
		g.cfg.Log.Error(ctx, "feed query failed", logging.Err(err))
		return nil, fmt.Errorf("feed: query recent vehicles: %w", err)
	}

	msg := Render(vehicles, now)
	encoded, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("feed: encode: %w", err)
	}

	snap = &Snapshot{
		Message:     msg,
		Encoded:     encoded,
		GeneratedAt: now,
		Vehicles:    vehicles,
	}
	g.cache.Store(snap)
	g.cfg.Log.Debug(ctx, "feed regenerated",
		logging.Int("vehicles", len(vehicles)),
		logging.Int("bytes", len(encoded)),
	)
	return snap, nil
}
