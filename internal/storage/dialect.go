package storage

import (
	"fmt"
	"strconv"
	"strings"
)

type dialect struct {
	name   string
	driver string
	// singleWriter caps the pool at one connection; SQLite serializes writers
	// and returns SQLITE_BUSY to concurrent ones.
	singleWriter bool
	logID        string
	blob         string
}

var dialects = map[string]dialect{
	"sqlite3": {
		name:         "sqlite3",
		driver:       "sqlite3",
		singleWriter: true,
		logID:        "INTEGER PRIMARY KEY AUTOINCREMENT",
		blob:         "BLOB",
	},
	"pgx": {
		name:   "pgx",
		driver: "pgx",
		logID:  "BIGSERIAL PRIMARY KEY",
		blob:   "BYTEA",
	},
}

func lookupDialect(name string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return dialects["sqlite3"], nil
	case "pgx", "postgres", "postgresql":
		return dialects["pgx"], nil
	default:
		return dialect{}, fmt.Errorf("storage: unsupported driver %q", name)
	}
}

// rebind rewrites '?' placeholders to $n for PostgreSQL.
func (d dialect) rebind(q string) string {
	if d.name != "pgx" {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (d dialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS avl_last_location (
			vehicle_id    TEXT PRIMARY KEY,
			latitude      DOUBLE PRECISION NOT NULL,
			longitude     DOUBLE PRECISION NOT NULL,
			speed         DOUBLE PRECISION NOT NULL DEFAULT 0,
			heading       DOUBLE PRECISION NOT NULL DEFAULT 0,
			fix_status    TEXT NOT NULL,
			timestamp_us  BIGINT NOT NULL,
			updated_at_us BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS avl_last_location_updated_idx ON avl_last_location (updated_at_us)`,
		`CREATE TABLE IF NOT EXISTS avl_log (
			id            ` + d.logID + `,
			vehicle_id    TEXT NOT NULL,
			latitude      DOUBLE PRECISION NOT NULL,
			longitude     DOUBLE PRECISION NOT NULL,
			speed         DOUBLE PRECISION NOT NULL DEFAULT 0,
			heading       DOUBLE PRECISION NOT NULL DEFAULT 0,
			fix_status    TEXT NOT NULL,
			timestamp_us  BIGINT NOT NULL,
			raw_packet    ` + d.blob + `,
			created_at_us BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS avl_log_vehicle_created_idx ON avl_log (vehicle_id, created_at_us)`,
	}
}
