package web

import (
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// Status aggregates process-wide facts for /api/status. Sections are
// sampled on every request.
type Status struct {
	start time.Time

	mu       sync.RWMutex
	static   map[string]string
	sections map[string]func() any
}

func NewStatus() *Status {
	return &Status{
		start:    time.Now().UTC(),
		static:   map[string]string{},
		sections: map[string]func() any{},
	}
}

// SetStatic records a fixed fact such as a listen address.
func (s *Status) SetStatic(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.static[key] = value
}

// AddSection registers fn to be sampled under name.
func (s *Status) AddSection(name string, fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections[name] = fn
}

type BuildInfo struct {
	GoVersion string `json:"go_version"`
	Module    string `json:"module,omitempty"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
}

type StatusSnapshot struct {
	Service   string            `json:"service"`
	NowUTC    string            `json:"now_utc"`
	StartUTC  string            `json:"start_utc"`
	UptimeSec int64             `json:"uptime_sec"`
	Static    map[string]string `json:"static"`
	Sections  map[string]any    `json:"sections"`
	Build     BuildInfo         `json:"build"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}

	s.mu.RLock()
	static := make(map[string]string, len(s.static))
	for k, v := range s.static {
		static[k] = v
	}
	names := make([]string, 0, len(s.sections))
	for name := range s.sections {
		names = append(names, name)
	}
	fns := make([]func() any, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		fns = append(fns, s.sections[name])
	}
	s.mu.RUnlock()

	sections := make(map[string]any, len(names))
	for i, name := range names {
		sections[name] = fns[i]()
	}

	return StatusSnapshot{
		Service:   "avl-server",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		StartUTC:  s.start.Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(s.start).Seconds()),
		Static:    static,
		Sections:  sections,
		Build:     buildInfo(),
	}
}

func buildInfo() BuildInfo {
	out := BuildInfo{GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return out
	}
	out.Module = bi.Main.Path
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		}
	}
	return out
}
