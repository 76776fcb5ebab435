package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"opentransit-avl/internal/nmea"
)

func openTestSQL(t *testing.T) *SQLStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "avl.db") + "?_busy_timeout=5000"
	s, err := OpenSQL(context.Background(), SQLConfig{Driver: "sqlite3", DSN: dsn})
	if err != nil {
		t.Fatalf("OpenSQL() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func pos(id string, lat float64, at time.Time) nmea.Position {
	return nmea.Position{
		VehicleID:  id,
		Latitude:   lat,
		Longitude:  -96.98533,
		SpeedMPH:   24.74,
		Heading:    270,
		Fix:        nmea.FixValid,
		Timestamp:  at.Add(-time.Second),
		ReceivedAt: at,
		Raw:        "$GPRMC,raw",
	}
}

func TestSQLStore_RecordUpsertsAndAppends(t *testing.T) {
	s := openTestSQL(t)
	ctx := context.Background()
	t0 := time.Date(2025, 1, 8, 14, 30, 0, 0, time.UTC)

	if err := s.Record(ctx, pos("1234", 28.1, t0)); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := s.Record(ctx, pos("1234", 28.2, t0.Add(time.Second))); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	cur, err := s.Recent(ctx, t0.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(cur) != 1 {
		t.Fatalf("expected 1 current row, got %d", len(cur))
	}
	if cur[0].Latitude != 28.2 {
		t.Fatalf("latitude=%v want 28.2", cur[0].Latitude)
	}
	if !cur[0].UpdatedAt.Equal(t0.Add(time.Second)) {
		t.Fatalf("updated_at=%v", cur[0].UpdatedAt)
	}
	if cur[0].Fix != nmea.FixValid {
		t.Fatalf("fix=%v", cur[0].Fix)
	}

	hist, err := s.History(ctx, "1234", t0.Add(-time.Minute), 0)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(hist))
	}
	if hist[0].Latitude != 28.2 || hist[1].Latitude != 28.1 {
		t.Fatalf("history not newest-first: %v, %v", hist[0].Latitude, hist[1].Latitude)
	}
	if hist[0].Raw != "$GPRMC,raw" {
		t.Fatalf("raw=%q", hist[0].Raw)
	}
}

func TestSQLStore_UpsertIgnoresDeviceTimestamp(t *testing.T) {
	s := openTestSQL(t)
	ctx := context.Background()
	t0 := time.Date(2025, 1, 8, 14, 30, 0, 0, time.UTC)

	newer := pos("1234", 28.2, t0)
	older := pos("1234", 28.1, t0.Add(time.Second))
	older.Timestamp = t0.Add(-time.Hour)

	if err := s.Record(ctx, newer); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := s.Record(ctx, older); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	cur, err := s.Recent(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(cur) != 1 || cur[0].Latitude != 28.1 {
		t.Fatalf("expected last commit to win, got %+v", cur)
	}
}

func TestSQLStore_RecentFiltersAndOrders(t *testing.T) {
	s := openTestSQL(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 8, 14, 30, 0, 0, time.UTC)

	for _, p := range []nmea.Position{
		pos("B002", 28.1, now.Add(-time.Minute)),
		pos("A001", 28.2, now.Add(-2*time.Minute)),
		pos("C003", 28.3, now.Add(-10*time.Minute)),
	} {
		if err := s.Record(ctx, p); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
	}

	cur, err := s.Recent(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(cur) != 2 || cur[0].VehicleID != "A001" || cur[1].VehicleID != "B002" {
		t.Fatalf("recent=%+v", cur)
	}
}

func TestSQLStore_FailedAppendRollsBackUpsert(t *testing.T) {
	s := openTestSQL(t)
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx, "DROP TABLE avl_log"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	if err := s.Record(ctx, pos("1234", 28.1, time.Now().UTC())); err == nil {
		t.Fatalf("expected error")
	}
	cur, err := s.Recent(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(cur) != 0 {
		t.Fatalf("upsert survived failed transaction: %+v", cur)
	}
}

func TestSQLStore_HistoryLimit(t *testing.T) {
	s := openTestSQL(t)
	ctx := context.Background()
	t0 := time.Date(2025, 1, 8, 14, 30, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := s.Record(ctx, pos("1234", float64(i), t0.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
	}
	hist, err := s.History(ctx, "1234", time.Time{}, 3)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(hist) != 3 || hist[0].Latitude != 4 {
		t.Fatalf("history=%+v", hist)
	}
}

func TestOpenSQL_RejectsUnknownDriver(t *testing.T) {
	if _, err := OpenSQL(context.Background(), SQLConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDialectRebind(t *testing.T) {
	pg, _ := lookupDialect("postgres")
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("rebind=%q", got)
	}
	lite, _ := lookupDialect("sqlite")
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("rebind=%q", got)
	}
}
