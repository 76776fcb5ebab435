package nmea

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMissingDelimiter = errors.New("nmea: missing '*'")
	ErrBadHex           = errors.New("nmea: checksum is not valid hex")
	ErrMismatch         = errors.New("nmea: checksum mismatch")
)

// ChecksumKind classifies a checksum failure.
type ChecksumKind int

const (
	MissingDelimiter ChecksumKind = iota + 1
	BadHex
	Mismatch
)

func (k ChecksumKind) String() string {
	switch k {
	case MissingDelimiter:
		return "missing_delimiter"
	case BadHex:
		return "bad_hex"
	case Mismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// ChecksumError reports why a sentence failed checksum validation.
// Received holds the raw trailer text; Computed is the XOR over the payload.
type ChecksumError struct {
	Kind     ChecksumKind
	Received string
	Computed byte
}

func (e *ChecksumError) Error() string {
	switch e.Kind {
	case MissingDelimiter:
		return ErrMissingDelimiter.Error()
	case BadHex:
		return fmt.Sprintf("nmea: checksum %q is not valid hex", e.Received)
	case Mismatch:
		return fmt.Sprintf("nmea: checksum mismatch: calculated %02X, received %s", e.Computed, e.Received)
	default:
		return "nmea: checksum error"
	}
}

func (e *ChecksumError) Unwrap() error {
	switch e.Kind {
	case MissingDelimiter:
		return ErrMissingDelimiter
	case BadHex:
		return ErrBadHex
	case Mismatch:
		return ErrMismatch
	default:
		return nil
	}
}

// Checksum is the running XOR of every byte in payload.
func Checksum(payload string) byte {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return ck
}

// Sentence frames payload as "$payload*HH".
func Sentence(payload string) string {
	return fmt.Sprintf("$%s*%02X", payload, Checksum(payload))
}

// ValidateChecksum checks the two-digit hex trailer of an NMEA sentence.
//
// The checksum covers every character after the leading one ('$' or '!') up to
// the first '*'. On success it returns the data portion (including the
// leading character) with the received and computed values, which are equal.
func ValidateChecksum(sentence string) (payload string, received, computed byte, err error) {
	sentence = strings.Trim(sentence, "\r\n")

	star := strings.IndexByte(sentence, '*')
	if star == -1 {
		return "", 0, 0, &ChecksumError{Kind: MissingDelimiter}
	}
	data := sentence[:star]
	trailer := sentence[star+1:]

	if len(data) > 0 {
		computed = Checksum(data[1:])
	}

	v, perr := strconv.ParseUint(strings.TrimSpace(trailer), 16, 64)
	if perr != nil {
		return "", 0, computed, &ChecksumError{Kind: BadHex, Received: trailer, Computed: computed}
	}
	if v != uint64(computed) {
		return "", byte(v), computed, &ChecksumError{Kind: Mismatch, Received: trailer, Computed: computed}
	}
	return data, byte(v), computed, nil
}
