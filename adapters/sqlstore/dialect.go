package sqlstore

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/ncruces/go-sqlite3"
)

const pgUniqueViolation = "23505"

// schema returns the DDL statements for the dialect. Timestamps are stored as
// RFC3339Nano UTC text so both dialects sort and compare them the same way.
func (d Dialect) schema() []string {
	blob := "BLOB"
	if d == Postgres {
		blob = "BYTEA"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS es_streams (
			id             TEXT PRIMARY KEY,
			id_type        TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			closed_at      TEXT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS es_stream_events (
			event_id    TEXT PRIMARY KEY,
			stream_id   TEXT NOT NULL REFERENCES es_streams (id) ON DELETE CASCADE,
			playhead    BIGINT NOT NULL,
			event_type  TEXT NOT NULL,
			payload     ` + blob + ` NOT NULL,
			occurred_at TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			canceled_at TEXT NULL
		)`,
		// canceled rows keep their playhead until a hard revert drops them
		`DROP INDEX IF EXISTS es_stream_events_live_playhead`,
		`DROP INDEX IF EXISTS es_stream_events_stream_playhead`,
		`CREATE UNIQUE INDEX IF NOT EXISTS es_stream_events_playhead
			ON es_stream_events (stream_id, playhead)`,
		`CREATE TABLE IF NOT EXISTS es_snapshots (
			aggregate_type       TEXT NOT NULL,
			id                   TEXT NOT NULL,
			snapshot_id          TEXT NOT NULL,
			id_type              TEXT NOT NULL,
			version              BIGINT NOT NULL,
			encoding             TEXT NOT NULL,
			payload              ` + blob + ` NOT NULL,
			aggregate_created_at TEXT NOT NULL,
			aggregate_closed_at  TEXT NULL,
			created_at           TEXT NOT NULL,
			PRIMARY KEY (aggregate_type, id)
		)`,
	}
}

// rebind rewrites ? placeholders to $N for postgres.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	var liteErr *sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode() {
		case sqlite3.CONSTRAINT_UNIQUE, sqlite3.CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
