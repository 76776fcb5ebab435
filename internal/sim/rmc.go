package sim

import (
	"fmt"
	"math"

	"opentransit-avl/internal/nmea"
)

// EncodeGPRMC renders p as a checksummed GPRMC sentence with the vehicle id
// in field 13. Void fixes are sent with status V.
func EncodeGPRMC(p nmea.Position) string {
	status := "A"
	if p.Fix == nmea.FixVoid {
		status = "V"
	}
	lat, ns := degMin(p.Latitude, 2), "N"
	if p.Latitude < 0 {
		ns = "S"
	}
	lon, ew := degMin(p.Longitude, 3), "E"
	if p.Longitude < 0 {
		ew = "W"
	}
	ts := p.Timestamp.UTC()

	payload := fmt.Sprintf("GPRMC,%s,%s,%s,%s,%s,%s,%.1f,%.1f,%s,,,A,%s",
		ts.Format("150405.00"),
		status,
		lat, ns,
		lon, ew,
		p.SpeedMPH/nmea.KnotsToMPH,
		p.Heading,
		ts.Format("020106"),
		p.VehicleID,
	)
	return nmea.Sentence(payload)
}

// degMin formats |v| as NMEA ddmm.mmmm with degWidth degree digits.
func degMin(v float64, degWidth int) string {
	v = math.Abs(v)
	deg := math.Floor(v)
	mins := (v - deg) * 60
	// Rounding to four places can carry into the degree.
	if math.Round(mins*1e4) >= 60*1e4 {
		deg++
		mins = 0
	}
	return fmt.Sprintf("%0*d%07.4f", degWidth, int(deg), mins)
}
