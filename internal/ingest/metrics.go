package ingest

import (
	"errors"
	"fmt"
	"time"
)

// Sentence outcomes reported to Metrics.
const (
	OutcomeDecoded       = "decoded"
	OutcomeChecksumError = "checksum_error"
	OutcomeIgnored       = "ignored"
)

var errNoStore = errors.New("ingest: no store configured")

// Metrics receives pipeline events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	Datagram(bytes int)
	Sentence(outcome string)
	WriteStarted()
	WriteFinished(d time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) Datagram(int)                       {}
func (noopMetrics) Sentence(string)                    {}
func (noopMetrics) WriteStarted()                      {}
func (noopMetrics) WriteFinished(time.Duration, error) {}

type panicError struct{ v any }

func (e panicError) Error() string { return fmt.Sprintf("panic: %v", e.v) }
