package nmea

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// RMC field layout as sent by Pepwave routers:
//
//	0: $GPRMC
//	1: time (hhmmss.ss)
//	2: status (A=active, V=void)
//	3: latitude (ddmm.mmmm)
//	4: N/S
//	5: longitude (dddmm.mmmm)
//	6: E/W
//	7: speed over ground (knots)
//	8: course over ground (deg)
//	9: date (ddmmyy)
//	10,11: magnetic variation (unused)
//	12: mode
//	13: unit id extension
const (
	rmcTag       = "$GPRMC"
	rmcMinFields = 10
	rmcUnitField = 13
	unitIDLen    = 4
)

// DecodeGPRMC decodes a $GPRMC sentence. It returns false for any other
// sentence type and for any missing or unparseable mandatory field. The
// checksum is not examined; callers validate it first.
func DecodeGPRMC(sentence string) (Position, bool) {
	f := strings.Split(sentence, ",")
	if len(f) < rmcMinFields || f[0] != rmcTag {
		return Position{}, false
	}

	fix := FixVoid
	if f[2] == "A" {
		fix = FixValid
	}

	if f[3] == "" {
		return Position{}, false
	}
	latNMEA, err := strconv.ParseFloat(strings.TrimSpace(f[3]), 64)
	if err != nil {
		return Position{}, false
	}
	lonNMEA, err := strconv.ParseFloat(strings.TrimSpace(f[5]), 64)
	if err != nil {
		return Position{}, false
	}

	lat := ToDecimal(latNMEA)
	lon := ToDecimal(lonNMEA)
	if f[4] == "S" {
		lat = -lat
	}
	if f[6] == "W" {
		lon = -lon
	}

	speedKt, ok := parseOptionalFloat(f[7])
	if !ok {
		return Position{}, false
	}
	heading, ok := parseOptionalFloat(f[8])
	if !ok {
		return Position{}, false
	}

	ts, ok := parseDateTime(f[9], f[1])
	if !ok {
		return Position{}, false
	}

	return Position{
		VehicleID: unitID(f),
		Latitude:  lat,
		Longitude: lon,
		SpeedMPH:  round(speedKt*KnotsToMPH, 2),
		Heading:   heading,
		Fix:       fix,
		Timestamp: ts,
		Raw:       sentence,
	}, true
}

// ToDecimal converts a ddmm.mmmm / dddmm.mmmm value to decimal degrees,
// rounded to 7 places. The sign of the input is carried through.
func ToDecimal(v float64) float64 {
	deg := math.Trunc(v / 100)
	mins := v - deg*100
	return round(deg+mins/60, 7)
}

func unitID(f []string) string {
	if len(f) <= rmcUnitField || f[rmcUnitField] == "" {
		return UnknownVehicle
	}
	unit := f[rmcUnitField]
	if star := strings.IndexByte(unit, '*'); star != -1 {
		unit = unit[:star]
	}
	if unit == "" {
		return UnknownVehicle
	}
	// Cut by characters; a byte cut can split a multi-byte rune.
	if r := []rune(unit); len(r) > unitIDLen {
		return string(r[:unitIDLen])
	}
	return unit
}

// parseDateTime combines ddmmyy and hhmmss.f (1-6 fractional digits).
func parseDateTime(date, clock string) (time.Time, bool) {
	if len(date) != 6 || len(clock) < 8 || clock[6] != '.' {
		return time.Time{}, false
	}
	frac := clock[7:]
	if len(frac) > 6 || !allDigits(frac) || !allDigits(date) || !allDigits(clock[:6]) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("020106150405", date+clock[:6], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	us, _ := strconv.Atoi(frac + strings.Repeat("0", 6-len(frac)))
	return t.Add(time.Duration(us) * time.Microsecond), true
}

func parseOptionalFloat(s string) (float64, bool) {
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
