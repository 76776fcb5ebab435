package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"opentransit-avl/internal/feed"
	"opentransit-avl/internal/logging"
	"opentransit-avl/internal/nmea"
	"opentransit-avl/internal/storage"
)

const (
	defaultMaxAge       = 5 * time.Minute
	detailCurrentMaxAge = time.Hour
	defaultHistoryHours = 24
	historyLimit        = 1000
)

// FeedSource serves rendered GTFS-RT snapshots.
type FeedSource interface {
	Feed(ctx context.Context, now time.Time) (*feed.Snapshot, error)
}

// VehicleStore is the read side of storage plus a liveness probe.
type VehicleStore interface {
	storage.Reader
	Ping(ctx context.Context) error
}

type Options struct {
	Feed   FeedSource
	Store  VehicleStore
	Status *Status
	Logs   *LogBuffer
	// Metrics and Live are mounted when non-nil.
	Metrics http.Handler
	Live    http.Handler
	Log     logging.Logger
	Now     func() time.Time
}

type api struct {
	Options
}

func Handler(opts Options) http.Handler {
	if opts.Status == nil {
		opts.Status = NewStatus()
	}
	if opts.Log == nil {
		opts.Log = logging.Noop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	a := &api{opts}

	mux := http.NewServeMux()
	mux.HandleFunc("/gtfs-rt/vehicle-positions", a.vehiclePositions)
	mux.HandleFunc("/gtfs-rt/vehicle-positions.json", a.vehiclePositionsDebug)
	mux.HandleFunc("/api/vehicles", a.vehicles)
	mux.HandleFunc("/api/vehicles/{id}", a.vehicleDetail)
	mux.HandleFunc("/bus_locations", a.busLocations)
	mux.HandleFunc("/health", a.health)
	mux.HandleFunc("/api/status", a.status)
	if opts.Logs != nil {
		mux.Handle("/api/logs", opts.Logs.Handler())
	}
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if opts.Live != nil {
		mux.Handle("/ws/positions", opts.Live)
	}
	return a.logRequests(mux)
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, log := logging.WithRequestLogger(r.Context(), a.Log)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		log.Debug(ctx, "http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

func (a *api) snapshot(w http.ResponseWriter, r *http.Request) (*feed.Snapshot, bool) {
	if a.Feed == nil {
		writeError(w, http.StatusServiceUnavailable, "feed unavailable")
		return nil, false
	}
	snap, err := a.Feed.Feed(r.Context(), a.Now())
	if err != nil {
		a.Log.Error(r.Context(), "feed generation failed", logging.Err(err))
		writeError(w, http.StatusServiceUnavailable, "feed unavailable")
		return nil, false
	}
	return snap, true
}

func (a *api) vehiclePositions(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	snap, ok := a.snapshot(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.Header().Set("Content-Length", strconv.Itoa(len(snap.Encoded)))
	w.Header().Set("Last-Modified", snap.GeneratedAt.UTC().Format(http.TimeFormat))
	_, _ = w.Write(snap.Encoded)
}

func (a *api) vehiclePositionsDebug(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	snap, ok := a.snapshot(w, r)
	if !ok {
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "text") {
		b, err := feed.Text(snap.Message)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "marshal failed")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(b)
		return
	}

	b, err := feed.JSON(snap.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "marshal failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

type vehiclesResponse struct {
	Timestamp string            `json:"timestamp"`
	Count     int               `json:"count"`
	Vehicles  []storage.Current `json:"vehicles"`
}

func (a *api) recent(w http.ResponseWriter, r *http.Request, maxAge time.Duration) ([]storage.Current, bool) {
	if a.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return nil, false
	}
	vs, err := a.Store.Recent(r.Context(), a.Now().Add(-maxAge))
	if err != nil {
		a.Log.Error(r.Context(), "fetch vehicles failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if vs == nil {
		vs = []storage.Current{}
	}
	return vs, true
}

func (a *api) vehicles(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	minutes, err := intParam(r, "max_age", int(defaultMaxAge/time.Minute))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	vs, ok := a.recent(w, r, time.Duration(minutes)*time.Minute)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, vehiclesResponse{
		Timestamp: a.Now().UTC().Format(time.RFC3339Nano),
		Count:     len(vs),
		Vehicles:  vs,
	})
}

// busLocations is the bare array served to legacy map clients.
func (a *api) busLocations(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	vs, ok := a.recent(w, r, defaultMaxAge)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

type historyEntry struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}

type vehicleDetailResponse struct {
	VehicleID    string           `json:"vehicle_id"`
	Current      *storage.Current `json:"current"`
	History      []historyEntry   `json:"history"`
	HistoryCount int              `json:"history_count"`
}

func (a *api) vehicleDetail(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	id := r.PathValue("id")
	hours, err := intParam(r, "hours", defaultHistoryHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	vs, ok := a.recent(w, r, detailCurrentMaxAge)
	if !ok {
		return
	}
	resp := vehicleDetailResponse{VehicleID: id, History: []historyEntry{}}
	for i := range vs {
		if vs[i].VehicleID == id {
			resp.Current = &vs[i]
			break
		}
	}

	hist, err := a.Store.History(r.Context(), id, a.Now().Add(-time.Duration(hours)*time.Hour), historyLimit)
	if err != nil {
		a.Log.Error(r.Context(), "fetch history failed", logging.String("vehicle_id", id), logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, p := range hist {
		resp.History = append(resp.History, historyOf(p))
	}
	resp.HistoryCount = len(resp.History)
	writeJSON(w, http.StatusOK, resp)
}

func historyOf(p nmea.Position) historyEntry {
	return historyEntry{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Speed:     p.SpeedMPH,
		Heading:   p.Heading,
		Timestamp: p.Timestamp,
	}
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if a.Store == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "database": "not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := a.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, a.Status.Snapshot(a.Now()))
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type ServeConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Ready, when set, receives the bound address once listening.
	Ready func(net.Addr)
}

// Serve runs handler on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, cfg ServeConfig, handler http.Handler) error {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 3 * time.Second
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	if cfg.Ready != nil {
		cfg.Ready(ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
