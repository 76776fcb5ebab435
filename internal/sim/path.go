// Package sim generates deterministic vehicle tracks and frames them as the
// GPRMC reports an on-board unit would send.
package sim

import (
	"math"
	"time"
)

// Path is a figure-eight loop around a center point.
type Path struct {
	CenterLat float64
	CenterLon float64
	// RadiusKm bounds the east-west extent. The north-south extent is half.
	RadiusKm float64
	// Period is the time for one full loop.
	Period time.Duration
}

const kmPerDegLat = 111.32

func (p Path) withDefaults() Path {
	if p.Period <= 0 {
		p.Period = 10 * time.Minute
	}
	if p.RadiusKm <= 0 {
		p.RadiusKm = 1.5
	}
	return p
}

// At returns the position and heading after phase offset (0..1 of a loop)
// has been added to now's loop phase.
func (p Path) At(now time.Time, offset float64) (lat, lon, headingDeg float64) {
	p = p.withDefaults()

	radiusDeg := p.RadiusKm / kmPerDegLat
	phase := float64(now.UnixNano()%p.Period.Nanoseconds())/float64(p.Period.Nanoseconds()) + offset

	// x = cos(2πt), y = 0.5*sin(4πt)
	w := 2 * math.Pi * phase
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	lat = p.CenterLat + radiusDeg*y
	lon = p.CenterLon + (radiusDeg*x)/math.Cos(p.CenterLat*math.Pi/180.0)

	// Heading from instantaneous velocity, atan2(east, north).
	vx := -math.Sin(w)
	vy := math.Cos(2 * w)
	headingDeg = math.Mod(math.Atan2(vx, vy)*180/math.Pi+360, 360)
	return lat, lon, headingDeg
}

// SpeedMPH is the ground speed at now, derived from the path's velocity.
func (p Path) SpeedMPH(now time.Time, offset float64) float64 {
	p = p.withDefaults()
	phase := float64(now.UnixNano()%p.Period.Nanoseconds())/float64(p.Period.Nanoseconds()) + offset
	w := 2 * math.Pi * phase

	// d/dt of (R cos w, R/2 sin 2w) with w = 2πt/T.
	scale := 2 * math.Pi * p.RadiusKm / p.Period.Hours()
	kmh := scale * math.Hypot(math.Sin(w), math.Cos(2*w))
	return kmh / 1.609344
}
