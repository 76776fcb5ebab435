package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"opentransit-avl/internal/nmea"
	"opentransit-avl/internal/replay"
)

type captureSummary struct {
	Segments       int
	Datagrams      int
	Sentences      int
	ChecksumErrors int
	Ignored        int
	MaxDuration    time.Duration
	VehicleCounts  map[string]int
}

// summarizeCapture runs every captured sentence through the same codec the
// server uses. It does not model the server's storage side.
func summarizeCapture(records []replay.Record) captureSummary {
	s := captureSummary{VehicleCounts: map[string]int{}}
	if len(records) == 0 {
		return s
	}

	hasDatagrams := false
	segments := 0
	for _, r := range records {
		if r.IsStart() {
			segments++
			continue
		}
		hasDatagrams = true
		s.Datagrams++
		if r.At > s.MaxDuration {
			s.MaxDuration = r.At
		}

		text := strings.ToValidUTF8(string(r.Payload), "")
		text = strings.ReplaceAll(text, "\r\n", "\n")
		text = strings.ReplaceAll(text, "\r", "\n")
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			s.Sentences++
			if _, _, _, err := nmea.ValidateChecksum(line); err != nil {
				s.ChecksumErrors++
				continue
			}
			p, ok := nmea.DecodeGPRMC(line)
			if !ok {
				s.Ignored++
				continue
			}
			s.VehicleCounts[p.VehicleID]++
		}
	}
	if segments == 0 && hasDatagrams {
		segments = 1
	}
	s.Segments = segments
	return s
}

func printCaptureSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	recs, err := replay.NewReader(f).ReadAll()
	if err != nil {
		return err
	}

	s := summarizeCapture(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "datagrams: %d\n", s.Datagrams)
	fmt.Fprintf(w, "sentences: %d\n", s.Sentences)
	fmt.Fprintf(w, "checksum_errors: %d\n", s.ChecksumErrors)
	fmt.Fprintf(w, "ignored: %d\n", s.Ignored)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)

	ids := make([]string, 0, len(s.VehicleCounts))
	for id := range s.VehicleCounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintf(w, "vehicles:\n")
	for _, id := range ids {
		fmt.Fprintf(w, "  %s: %d\n", id, s.VehicleCounts[id])
	}
	return nil
}
