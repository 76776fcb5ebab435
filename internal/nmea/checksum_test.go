package nmea

import (
	"errors"
	"strings"
	"testing"

	gonmea "github.com/adrianmo/go-nmea"
)

const pepwaveRMC = "GPRMC,143025.00,A,2848.3180,N,09659.1200,W,21.5,270.0,080125,,,A,1234"

func TestValidateChecksum_OK(t *testing.T) {
	line := Sentence(pepwaveRMC)
	data, got, want, err := ValidateChecksum(line)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != want {
		t.Fatalf("received=%02X computed=%02X", got, want)
	}
	if data != "$"+pepwaveRMC {
		t.Fatalf("data=%q", data)
	}
}

func TestValidateChecksum_MatchesGoNMEA(t *testing.T) {
	payloads := []string{
		pepwaveRMC,
		"GPRMC,123519.00,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W",
		"GPGGA,143025.00,2848.3180,N,09659.1200,W,1,08,0.9,100.0,M,0,M,,",
	}
	for _, p := range payloads {
		line := "$" + p + "*" + gonmea.Checksum(p)
		if _, _, _, err := ValidateChecksum(line); err != nil {
			t.Fatalf("%q: %v", line, err)
		}
	}
}

func TestValidateChecksum_LowercaseHexAndCRLF(t *testing.T) {
	line := strings.ToLower(Sentence(pepwaveRMC)[len(pepwaveRMC)+1:])
	line = "$" + pepwaveRMC + line + "\r\n"
	if _, _, _, err := ValidateChecksum(line); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestValidateChecksum_Errors(t *testing.T) {
	cases := []struct {
		name string
		line string
		kind ChecksumKind
		is   error
	}{
		{"missing delimiter", "$GPRMC,123456.00,A,2848.3180,N,09659.1200,W", MissingDelimiter, ErrMissingDelimiter},
		{"bad hex", "$GPRMC,123456.00,A*ZZ", BadHex, ErrBadHex},
		{"empty trailer", "$GPRMC,123456.00,A*", BadHex, ErrBadHex},
		{"mismatch", "$" + pepwaveRMC + "*00", Mismatch, ErrMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, err := ValidateChecksum(tc.line)
			if err == nil {
				t.Fatalf("expected error")
			}
			var ce *ChecksumError
			if !errors.As(err, &ce) {
				t.Fatalf("err=%T want *ChecksumError", err)
			}
			if ce.Kind != tc.kind {
				t.Fatalf("kind=%v want %v", ce.Kind, tc.kind)
			}
			if !errors.Is(err, tc.is) {
				t.Fatalf("errors.Is(%v, %v) = false", err, tc.is)
			}
		})
	}
}

func TestValidateChecksum_SingleBitCorruptionMismatches(t *testing.T) {
	good := Sentence(pepwaveRMC)
	star := strings.IndexByte(good, '*')
	for i := 1; i < star; i++ {
		for bit := 0; bit < 8; bit++ {
			b := []byte(good)
			b[i] ^= 1 << bit
			if b[i] == '*' || b[i] == '\r' || b[i] == '\n' {
				continue
			}
			_, _, _, err := ValidateChecksum(string(b))
			if !errors.Is(err, ErrMismatch) {
				t.Fatalf("pos=%d bit=%d: err=%v want mismatch", i, bit, err)
			}
		}
	}
}
