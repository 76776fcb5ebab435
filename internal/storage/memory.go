package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"opentransit-avl/internal/nmea"
)

// MemoryStore keeps the fleet state in process memory. It is used by tests
// and by the server when no database is configured; history is unbounded.
type MemoryStore struct {
	mu sync.RWMutex

	current map[string]Current
	history map[string][]nmea.Position
	closed  bool

	// FailNext, when set, is returned by the next Record call instead of
	// writing anything.
	FailNext error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		current: make(map[string]Current),
		history: make(map[string][]nmea.Position),
	}
}

func (s *MemoryStore) Record(ctx context.Context, p nmea.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.FailNext; err != nil {
		s.FailNext = nil
		return err
	}

	p.ReceivedAt = arrival(p)
	s.current[p.VehicleID] = currentFrom(p)
	s.history[p.VehicleID] = append(s.history[p.VehicleID], p)
	return nil
}

func (s *MemoryStore) Recent(ctx context.Context, since time.Time) ([]Current, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	out := make([]Current, 0, len(s.current))
	for _, c := range s.current {
		if c.UpdatedAt.After(since) {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out, nil
}

func (s *MemoryStore) History(ctx context.Context, vehicleID string, since time.Time, limit int) ([]nmea.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	log := s.history[vehicleID]
	out := make([]nmea.Position, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		if !log[i].ReceivedAt.After(since) {
			continue
		}
		out = append(out, log[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// HistoryLen reports the number of logged rows for a vehicle.
func (s *MemoryStore) HistoryLen(vehicleID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history[vehicleID])
}

// Current returns the current row for a vehicle, if any.
func (s *MemoryStore) Current(vehicleID string) (Current, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.current[vehicleID]
	return c, ok
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
