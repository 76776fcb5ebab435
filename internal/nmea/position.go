// Package nmea validates and decodes the NMEA 0183 sentences reported by
// in-vehicle routers.
package nmea

import (
	"fmt"
	"time"
)

// UnknownVehicle is the id used when a sentence carries no unit extension.
const UnknownVehicle = "UNKNOWN"

// KnotsToMPH is the speed conversion applied to RMC speed over ground.
const KnotsToMPH = 1.150779

// FixStatus reports whether the device had an active GPS fix.
type FixStatus string

const (
	FixValid FixStatus = "VALID"
	FixVoid  FixStatus = "VOID"
)

// Position is a decoded RMC report.
//
// Latitude/Longitude are signed decimal degrees, SpeedMPH is miles per hour,
// Heading is degrees true. Timestamp is the device-reported UTC instant and
// ReceivedAt the server arrival instant (zero until the ingest pipeline stamps it).
type Position struct {
	VehicleID  string    `json:"vehicle_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	SpeedMPH   float64   `json:"speed"`
	Heading    float64   `json:"heading"`
	Fix        FixStatus `json:"fix_status"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
	Raw        string    `json:"-"`
}

func (p Position) String() string {
	return fmt.Sprintf("<GPRMC %s (%.6f, %.6f) %.1fmph hdg=%g>", p.VehicleID, p.Latitude, p.Longitude, p.SpeedMPH, p.Heading)
}
