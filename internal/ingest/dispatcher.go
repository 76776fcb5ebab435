package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"opentransit-avl/internal/logging"
	"opentransit-avl/internal/nmea"
)

// Ordering names the commit-order guarantee of a Dispatcher.
type Ordering string

// OrderArrivalUnordered: every record is written by its own goroutine with no
// sequencing, even for the same vehicle. Two reports received back to back
// may commit in either order, so a vehicle's current row can regress to the
// older report. Readers must not assume current rows are monotonic.
const OrderArrivalUnordered Ordering = "arrival-unordered"

// Writer is the storage side of the pipeline.
type Writer interface {
	Record(ctx context.Context, p nmea.Position) error
}

// Notifier is told about every position after it has been committed.
type Notifier interface {
	Notify(ctx context.Context, p nmea.Position)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, p nmea.Position)

func (f NotifierFunc) Notify(ctx context.Context, p nmea.Position) { f(ctx, p) }

type DispatcherConfig struct {
	Store Writer
	// WriteTimeout bounds each write. Defaults to 5s.
	WriteTimeout time.Duration
	Log          logging.Logger
	Metrics      Metrics
	Notifiers    []Notifier
}

// Dispatcher hands positions to storage without waiting for the result.
// In-flight writes are unbounded and counted; see OrderArrivalUnordered.
type Dispatcher struct {
	cfg DispatcherConfig

	wg       sync.WaitGroup
	inFlight atomic.Int64
	ok       atomic.Uint64
	failed   atomic.Uint64
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = logging.Noop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Dispatcher{cfg: cfg}
}

func (d *Dispatcher) Ordering() Ordering { return OrderArrivalUnordered }

// Dispatch starts the write and returns immediately.
func (d *Dispatcher) Dispatch(p nmea.Position) {
	d.wg.Add(1)
	d.inFlight.Add(1)
	d.cfg.Metrics.WriteStarted()
	go d.write(p)
}

func (d *Dispatcher) write(p nmea.Position) {
	defer d.wg.Done()
	defer d.inFlight.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := d.record(ctx, p)
	d.cfg.Metrics.WriteFinished(time.Since(start), err)
	if err != nil {
		d.failed.Add(1)
		d.cfg.Log.Error(ctx, "store position failed",
			logging.String("vehicle_id", p.VehicleID),
			logging.Err(err),
		)
		return
	}
	d.ok.Add(1)
	d.cfg.Log.Info(ctx, "stored position", logging.String("position", p.String()))

	for _, n := range d.cfg.Notifiers {
		d.notify(ctx, n, p)
	}
}

// notify isolates a misbehaving notifier from the rest.
func (d *Dispatcher) notify(ctx context.Context, n Notifier, p nmea.Position) {
	defer func() {
		if r := recover(); r != nil {
			d.cfg.Log.Error(ctx, "notifier panicked", logging.Any("panic", r))
		}
	}()
	n.Notify(ctx, p)
}

func (d *Dispatcher) record(ctx context.Context, p nmea.Position) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	if d.cfg.Store == nil {
		return errNoStore
	}
	return d.cfg.Store.Record(ctx, p)
}

// InFlight is the number of writes started but not yet finished.
func (d *Dispatcher) InFlight() int64 { return d.inFlight.Load() }

// Drain waits for in-flight writes until ctx is done.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
