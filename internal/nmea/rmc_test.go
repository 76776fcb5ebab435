package nmea

import (
	"math"
	"reflect"
	"testing"
	"time"
	"unicode/utf8"

	gonmea "github.com/adrianmo/go-nmea"
)

func TestDecodeGPRMC_Valid(t *testing.T) {
	p, ok := DecodeGPRMC("$GPRMC,143025.00,A,2848.3180,N,09659.1200,W,21.5,270.0,080125,,,A,1234*5A")
	if !ok {
		t.Fatalf("expected record")
	}
	if p.VehicleID != "1234" {
		t.Fatalf("vehicle=%q", p.VehicleID)
	}
	if math.Abs(p.Latitude-28.80530) > 1e-4 {
		t.Fatalf("lat=%v", p.Latitude)
	}
	if math.Abs(p.Longitude-(-96.98533)) > 1e-4 {
		t.Fatalf("lon=%v", p.Longitude)
	}
	if want := math.Round(21.5*KnotsToMPH*100) / 100; p.SpeedMPH != want {
		t.Fatalf("speed=%v want %v", p.SpeedMPH, want)
	}
	if p.Heading != 270.0 {
		t.Fatalf("heading=%v", p.Heading)
	}
	if p.Fix != FixValid {
		t.Fatalf("fix=%v", p.Fix)
	}
	wantTS := time.Date(2025, 1, 8, 14, 30, 25, 0, time.UTC)
	if !p.Timestamp.Equal(wantTS) {
		t.Fatalf("ts=%v want %v", p.Timestamp, wantTS)
	}
	if !p.ReceivedAt.IsZero() {
		t.Fatalf("codec must not stamp arrival time")
	}
}

func TestDecodeGPRMC_FractionalSeconds(t *testing.T) {
	p, ok := DecodeGPRMC("$GPRMC,235959.125,A,2848.3180,N,09659.1200,W,0,0,311299,,,A,1234*00")
	if !ok {
		t.Fatalf("expected record")
	}
	want := time.Date(1999, 12, 31, 23, 59, 59, 125_000_000, time.UTC)
	if !p.Timestamp.Equal(want) {
		t.Fatalf("ts=%v want %v", p.Timestamp, want)
	}
}

func TestDecodeGPRMC_Hemispheres(t *testing.T) {
	n, ok := DecodeGPRMC("$GPRMC,143025.00,A,2848.3180,N,09659.1200,E,0,0,080125,,,A,1234*5A")
	if !ok {
		t.Fatalf("expected record")
	}
	s, ok := DecodeGPRMC("$GPRMC,143025.00,A,2848.3180,S,09659.1200,W,0,0,080125,,,A,1234*5A")
	if !ok {
		t.Fatalf("expected record")
	}
	if n.Latitude <= 0 || n.Longitude <= 0 {
		t.Fatalf("north/east should be positive: %v,%v", n.Latitude, n.Longitude)
	}
	if s.Latitude != -n.Latitude || s.Longitude != -n.Longitude {
		t.Fatalf("hemisphere flip changed magnitude: %v,%v vs %v,%v", s.Latitude, s.Longitude, n.Latitude, n.Longitude)
	}
}

func TestDecodeGPRMC_VoidFixStillDecodes(t *testing.T) {
	p, ok := DecodeGPRMC("$GPRMC,143025.00,V,2848.3180,N,09659.1200,W,0,0,080125,,,N,1234*5A")
	if !ok {
		t.Fatalf("expected record")
	}
	if p.Fix != FixVoid {
		t.Fatalf("fix=%v", p.Fix)
	}
}

func TestDecodeGPRMC_EmptySpeedAndHeading(t *testing.T) {
	p, ok := DecodeGPRMC("$GPRMC,143025.00,A,2848.3180,N,09659.1200,W,,,080125,,,A,1234*5A")
	if !ok {
		t.Fatalf("expected record")
	}
	if p.SpeedMPH != 0 || p.Heading != 0 {
		t.Fatalf("speed=%v heading=%v", p.SpeedMPH, p.Heading)
	}
}

func TestDecodeGPRMC_VehicleID(t *testing.T) {
	cases := []struct {
		sentence string
		want     string
	}{
		{"$GPRMC,143025.00,A,2848.3180,N,09659.1200,W,21.5,270.0,080125,,,A,UNIT01*5A", "UNIT"},
		{"$GPRMC,143025.00,A,2848.3180,N,09659.1200,W,21.5,270.0,080125,,,A,BUS*5A", "BUS"},
		{"$GPRMC,143025.00,A,2848.3180,N,09659.1200,W,21.5,270.0,080125,,,A,AÄÄ1*5A", "AÄÄ1"},
		{"$GPRMC,143025.00,A,2848.3180,N,09659.1200,W,21.5,270.0,080125,,,A,ÄÄÄÄÄ*5A", "ÄÄÄÄ"},
		{"$GPRMC,143025.00,A,2848.3180,N,09659.1200,W,21.5,270.0,080125,,,A*5A", UnknownVehicle},
		{"$GPRMC,143025.00,A,2848.3180,N,09659.1200,W,21.5,270.0,080125,,,A,*5A", UnknownVehicle},
	}
	for _, tc := range cases {
		p, ok := DecodeGPRMC(tc.sentence)
		if !ok {
			t.Fatalf("%q: expected record", tc.sentence)
		}
		if p.VehicleID != tc.want {
			t.Fatalf("%q: vehicle=%q want %q", tc.sentence, p.VehicleID, tc.want)
		}
		if !utf8.ValidString(p.VehicleID) {
			t.Fatalf("%q: vehicle=%q is not valid UTF-8", tc.sentence, p.VehicleID)
		}
	}
}

func TestDecodeGPRMC_Rejects(t *testing.T) {
	cases := map[string]string{
		"gga":           "$GPGGA,143025.00,2848.3180,N,09659.1200,W,1,08,0.9,100.0,M,0,M,,*5A",
		"missing lat":   "$GPRMC,143025.00,V,,N,09659.1200,W,0,0,080125,,,N,1234*5A",
		"short":         "$GPRMC,143025.00,A,2848.3180,N",
		"bad lon":       "$GPRMC,143025.00,A,2848.3180,N,abc,W,0,0,080125,,,A,1234*5A",
		"bad speed":     "$GPRMC,143025.00,A,2848.3180,N,09659.1200,W,fast,0,080125,,,A,1234*5A",
		"no fraction":   "$GPRMC,143025,A,2848.3180,N,09659.1200,W,0,0,080125,,,A,1234*5A",
		"bad date":      "$GPRMC,143025.00,A,2848.3180,N,09659.1200,W,0,0,310225,,,A,1234*5A",
		"checksum date": "$GPRMC,143025.00,A,2848.3180,N,09659.1200,W,0,0,080125*5A",
		"empty":         "",
	}
	for name, s := range cases {
		if p, ok := DecodeGPRMC(s); ok {
			t.Fatalf("%s: expected no record, got %v", name, p)
		}
	}
}

func TestDecodeGPRMC_Deterministic(t *testing.T) {
	s := "$GPRMC,143025.00,A,2848.3180,N,09659.1200,W,21.5,270.0,080125,,,A,1234*5A"
	a, _ := DecodeGPRMC(s)
	b, _ := DecodeGPRMC(s)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("decode not deterministic: %+v vs %+v", a, b)
	}
}

func TestDecodeGPRMC_AgreesWithGoNMEA(t *testing.T) {
	payload := "GPRMC,123519.00,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"
	line := "$" + payload + "*" + gonmea.Checksum(payload)

	ours, ok := DecodeGPRMC(line)
	if !ok {
		t.Fatalf("expected record")
	}
	s, err := gonmea.Parse(line)
	if err != nil {
		t.Fatalf("go-nmea parse: %v", err)
	}
	theirs, ok := s.(gonmea.RMC)
	if !ok {
		t.Fatalf("go-nmea type=%T", s)
	}
	if math.Abs(ours.Latitude-theirs.Latitude) > 1e-6 || math.Abs(ours.Longitude-theirs.Longitude) > 1e-6 {
		t.Fatalf("ours=(%v,%v) go-nmea=(%v,%v)", ours.Latitude, ours.Longitude, theirs.Latitude, theirs.Longitude)
	}
	if ours.Heading != theirs.Course {
		t.Fatalf("heading=%v course=%v", ours.Heading, theirs.Course)
	}
}

func TestToDecimal(t *testing.T) {
	if got := ToDecimal(2848.3180); math.Abs(got-28.80530) > 1e-4 {
		t.Fatalf("ToDecimal(2848.3180)=%v", got)
	}
	if got := ToDecimal(9659.1200); math.Abs(got-96.98533) > 1e-4 {
		t.Fatalf("ToDecimal(9659.1200)=%v", got)
	}
	if got := ToDecimal(2800.0); got != 28.0 {
		t.Fatalf("ToDecimal(2800)=%v", got)
	}
	got := ToDecimal(2848.318765)
	if r := math.Round(got*1e7) / 1e7; r != got {
		t.Fatalf("expected 7-decimal rounding, got %v", got)
	}
}
