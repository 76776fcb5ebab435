package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"opentransit-avl/internal/nmea"
)

const (
	upsertCurrentSQL = `INSERT INTO avl_last_location
		(vehicle_id, latitude, longitude, speed, heading, fix_status, timestamp_us, updated_at_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			speed = excluded.speed,
			heading = excluded.heading,
			fix_status = excluded.fix_status,
			timestamp_us = excluded.timestamp_us,
			updated_at_us = excluded.updated_at_us`

	appendHistorySQL = `INSERT INTO avl_log
		(vehicle_id, latitude, longitude, speed, heading, fix_status, timestamp_us, raw_packet, created_at_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	recentSQL = `SELECT vehicle_id, latitude, longitude, speed, heading, fix_status, timestamp_us, updated_at_us
		FROM avl_last_location
		WHERE updated_at_us > ?
		ORDER BY vehicle_id`

	historySQL = `SELECT vehicle_id, latitude, longitude, speed, heading, fix_status, timestamp_us, raw_packet, created_at_us
		FROM avl_log
		WHERE vehicle_id = ? AND created_at_us > ?
		ORDER BY created_at_us DESC, id DESC`
)

// SQLConfig selects the driver and pool sizing for SQLStore.
type SQLConfig struct {
	// Driver is "sqlite3" or "pgx".
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db     *sql.DB
	d      dialect
	tracer trace.Tracer

	upsertQ  string
	insertQ  string
	recentQ  string
	historyQ string
}

// OpenSQL opens the database, verifies connectivity and creates the schema
// when missing.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage: dsn is required")
	}

	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if d.singleWriter {
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}

	s := newSQLStore(db, d)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{
		db:       db,
		d:        d,
		tracer:   otel.Tracer("opentransit-avl/storage"),
		upsertQ:  d.rebind(upsertCurrentSQL),
		insertQ:  d.rebind(appendHistorySQL),
		recentQ:  d.rebind(recentSQL),
		historyQ: d.rebind(historySQL),
	}
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Record upserts the current row and appends to the log in one transaction.
func (s *SQLStore) Record(ctx context.Context, p nmea.Position) (err error) {
	ctx, span := s.tracer.Start(ctx, "storage.Record", trace.WithAttributes(
		attribute.String("db.system", s.d.name),
		attribute.String("vehicle.id", p.VehicleID),
	))
	defer func() { endSpan(span, err) }()

	at := arrival(p)
	ts := p.Timestamp.UTC().UnixMicro()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, s.upsertQ,
		p.VehicleID, p.Latitude, p.Longitude, p.SpeedMPH, p.Heading, string(p.Fix), ts, at.UnixMicro(),
	); err != nil {
		return fmt.Errorf("upsert current: %w", err)
	}
	if _, err = tx.ExecContext(ctx, s.insertQ,
		p.VehicleID, p.Latitude, p.Longitude, p.SpeedMPH, p.Heading, string(p.Fix), ts, []byte(p.Raw), at.UnixMicro(),
	); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) Recent(ctx context.Context, since time.Time) (out []Current, err error) {
	ctx, span := s.tracer.Start(ctx, "storage.Recent", trace.WithAttributes(attribute.String("db.system", s.d.name)))
	defer func() { endSpan(span, err) }()

	rows, err := s.db.QueryContext(ctx, s.recentQ, since.UTC().UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c           Current
			fix         string
			tsUS, updUS int64
		)
		if err := rows.Scan(&c.VehicleID, &c.Latitude, &c.Longitude, &c.SpeedMPH, &c.Heading, &fix, &tsUS, &updUS); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		c.Fix = nmea.FixStatus(fix)
		c.Timestamp = time.UnixMicro(tsUS).UTC()
		c.UpdatedAt = time.UnixMicro(updUS).UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent: %w", err)
	}
	span.SetAttributes(attribute.Int("vehicles", len(out)))
	return out, nil
}

func (s *SQLStore) History(ctx context.Context, vehicleID string, since time.Time, limit int) (out []nmea.Position, err error) {
	ctx, span := s.tracer.Start(ctx, "storage.History", trace.WithAttributes(
		attribute.String("db.system", s.d.name),
		attribute.String("vehicle.id", vehicleID),
	))
	defer func() { endSpan(span, err) }()

	q := s.historyQ
	args := []any{vehicleID, since.UTC().UnixMicro()}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p          nmea.Position
			fix        string
			raw        []byte
			tsUS, arUS int64
		)
		if err := rows.Scan(&p.VehicleID, &p.Latitude, &p.Longitude, &p.SpeedMPH, &p.Heading, &fix, &tsUS, &raw, &arUS); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		p.Fix = nmea.FixStatus(fix)
		p.Timestamp = time.UnixMicro(tsUS).UTC()
		p.ReceivedAt = time.UnixMicro(arUS).UTC()
		p.Raw = string(raw)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
