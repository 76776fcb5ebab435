// Package storage is the persistence port for decoded positions.
//
// A write is one atomic unit: the vehicle's current-position row is replaced
// unconditionally (last write wins by commit order, not by device timestamp)
// and an immutable row is appended to the history log. Either both land or
// neither does.
package storage

import (
	"context"
	"errors"
	"time"

	"opentransit-avl/internal/nmea"
)

var ErrClosed = errors.New("storage: closed")

// Writer persists one decoded position.
type Writer interface {
	Record(ctx context.Context, p nmea.Position) error
}

// Reader serves the fleet projections.
type Reader interface {
	// Recent returns the current row of every vehicle updated after since,
	// ordered by vehicle id.
	Recent(ctx context.Context, since time.Time) ([]Current, error)
	// History returns logged positions of one vehicle inserted after since,
	// newest first, at most limit rows (limit <= 0 means no limit).
	History(ctx context.Context, vehicleID string, since time.Time, limit int) ([]nmea.Position, error)
}

// Store is the full port used by the server.
type Store interface {
	Writer
	Reader
	Ping(ctx context.Context) error
	Close() error
}

// Current is the current-position projection of one vehicle.
type Current struct {
	VehicleID string         `json:"bus_id"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	SpeedMPH  float64        `json:"speed"`
	Heading   float64        `json:"heading"`
	Fix       nmea.FixStatus `json:"fix_status"`
	// Timestamp is the device-reported instant of the stored fix.
	Timestamp time.Time `json:"date"`
	// UpdatedAt is the arrival instant of the write that produced the row.
	UpdatedAt time.Time `json:"updated_at"`
}

func currentFrom(p nmea.Position) Current {
	return Current{
		VehicleID: p.VehicleID,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		SpeedMPH:  p.SpeedMPH,
		Heading:   p.Heading,
		Fix:       p.Fix,
		Timestamp: p.Timestamp.UTC(),
		UpdatedAt: arrival(p),
	}
}

func arrival(p nmea.Position) time.Time {
	if p.ReceivedAt.IsZero() {
		return time.Now().UTC()
	}
	return p.ReceivedAt.UTC()
}
