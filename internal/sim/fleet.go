package sim

import (
	"fmt"
	"strings"
	"time"

	"opentransit-avl/internal/nmea"
)

// Fleet moves every vehicle along the same path, spaced evenly in phase.
type Fleet struct {
	Path     Path
	Vehicles []string
}

// NewFleet names count vehicles with a prefix and a zero-padded index. IDs
// are four characters, the width the decoder keeps.
func NewFleet(path Path, prefix string, count int) Fleet {
	width := 4 - len(prefix)
	if width < 1 {
		prefix, width = prefix[:3], 1
	}
	ids := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		ids = append(ids, fmt.Sprintf("%s%0*d", prefix, width, i))
	}
	return Fleet{Path: path, Vehicles: ids}
}

// Positions samples every vehicle at now.
func (f Fleet) Positions(now time.Time) []nmea.Position {
	out := make([]nmea.Position, 0, len(f.Vehicles))
	n := float64(len(f.Vehicles))
	for i, id := range f.Vehicles {
		off := float64(i) / n
		lat, lon, hdg := f.Path.At(now, off)
		out = append(out, nmea.Position{
			VehicleID: id,
			Latitude:  lat,
			Longitude: lon,
			SpeedMPH:  f.Path.SpeedMPH(now, off),
			Heading:   hdg,
			Fix:       nmea.FixValid,
			Timestamp: now.UTC(),
		})
	}
	return out
}

// Datagram frames positions as CRLF-terminated GPRMC sentences in one
// payload, the way a multi-report unit batches them.
func Datagram(ps []nmea.Position) []byte {
	var b strings.Builder
	for _, p := range ps {
		b.WriteString(EncodeGPRMC(p))
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}
