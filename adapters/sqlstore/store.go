package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/esengine/core/es"
)

// Store implements es.StreamStore on top of database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
}

func New(db *sql.DB, dialect Dialect, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		log:     log.With(slog.String("store", "sql"), slog.String("dialect", string(dialect))),
	}
}

func (s *Store) DB() *sql.DB           { return s.db }
func (s *Store) Dialect() Dialect      { return s.dialect }
func (s *Store) q(query string) string { return s.dialect.rebind(query) }

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// inTx runs fn in a transaction and commits when fn returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) translate(err error, streamID string) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: stream %s: %w", es.ErrUniqueConstraintViolation, streamID, err)
	}
	return err
}

func (s *Store) Save(ctx context.Context, stream es.StoredStream) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			s.q(`INSERT INTO es_streams (id, id_type, aggregate_type, created_at, closed_at) VALUES (?, ?, ?, ?, ?)`),
			stream.ID,
			stream.IDType,
			stream.AggregateType,
			formatTime(stream.CreatedAt),
			formatTimePtr(stream.ClosedAt),
		); err != nil {
			return err
		}
		return s.insertEvents(ctx, tx, stream.Events)
	})
	if err != nil {
		return s.translate(err, stream.ID)
	}

	s.log.Debug("save", slog.String("stream", stream.ID), slog.Int("num_events", len(stream.Events)))
	return nil
}

func (s *Store) Append(ctx context.Context, stream es.StoredStream) error {
	if len(stream.Events) == 0 {
		return es.ErrStoreNoEvents
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireStream(ctx, tx, stream.ID); err != nil {
			return err
		}
		if err := s.insertEvents(ctx, tx, stream.Events); err != nil {
			return err
		}
		if stream.ClosedAt != nil {
			return s.setClosedAt(ctx, tx, stream.ID, *stream.ClosedAt)
		}
		return nil
	})
	if err != nil {
		return s.translate(err, stream.ID)
	}

	s.log.Debug("append", slog.String("stream", stream.ID), slog.Int("num_events", len(stream.Events)))
	return nil
}

func (s *Store) insertEvents(ctx context.Context, tx *sql.Tx, events []es.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO es_stream_events
		(event_id, stream_id, playhead, event_type, payload, occurred_at, recorded_at, canceled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`))
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	recordedAt := formatTime(time.Now())
	for _, e := range events {
		payload := e.Payload
		if payload == nil {
			payload = []byte{}
		}
		if _, err := stmt.ExecContext(
			ctx,
			e.EventID,
			e.StreamID,
			int64(e.Playhead),
			e.EventType,
			payload,
			formatTime(e.OccurredAt),
			recordedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) requireStream(ctx context.Context, tx *sql.Tx, streamID string) error {
	var one int
	err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM es_streams WHERE id = ?`), streamID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", es.ErrStreamDoesNotExist, streamID)
	}
	return err
}

func (s *Store) setClosedAt(ctx context.Context, tx *sql.Tx, streamID string, closedAt time.Time) error {
	_, err := tx.ExecContext(ctx, s.q(`UPDATE es_streams SET closed_at = ? WHERE id = ?`), formatTime(closedAt), streamID)
	return err
}

func (s *Store) Load(ctx context.Context, streamID string, opts ...es.StoreLoadOption) (*es.StoredStream, error) {
	rng := es.NewStoreLoadRange(opts...)

	var out *es.StoredStream
	err := s.inTx(ctx, func(tx *sql.Tx) (err error) {
		out, err = s.loadHeader(ctx, tx, streamID)
		if err != nil {
			return err
		}
		out.Events, err = s.loadEvents(ctx, tx, streamID, rng)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadHeader(ctx context.Context, tx *sql.Tx, streamID string) (*es.StoredStream, error) {
	var (
		out       = &es.StoredStream{ID: streamID}
		createdAt string
		closedAt  sql.NullString
	)
	err := tx.QueryRowContext(
		ctx,
		s.q(`SELECT id_type, aggregate_type, created_at, closed_at FROM es_streams WHERE id = ?`),
		streamID,
	).Scan(&out.IDType, &out.AggregateType, &createdAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", es.ErrStreamDoesNotExist, streamID)
	}
	if err != nil {
		return nil, err
	}
	if out.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if out.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadEvents(ctx context.Context, tx *sql.Tx, streamID string, rng es.StoreLoadRange) ([]es.StoredEvent, error) {
	query := `SELECT event_id, playhead, event_type, payload, occurred_at, recorded_at
		FROM es_stream_events
		WHERE stream_id = ? AND canceled_at IS NULL AND playhead >= ?`
	args := []any{streamID, int64(rng.From)}
	if rng.To != nil {
		query += ` AND playhead <= ?`
		args = append(args, int64(*rng.To))
	}
	query += ` ORDER BY playhead`

	rows, err := tx.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := make([]es.StoredEvent, 0)
	for rows.Next() {
		var (
			e          = es.StoredEvent{StreamID: streamID}
			playhead   int64
			occurredAt string
			recordedAt string
		)
		if err := rows.Scan(&e.EventID, &playhead, &e.EventType, &e.Payload, &occurredAt, &recordedAt); err != nil {
			return nil, err
		}
		e.Playhead = es.Version(playhead)
		if e.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		if e.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) CloseStream(ctx context.Context, streamID string, closedAt time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireStream(ctx, tx, streamID); err != nil {
			return err
		}
		return s.setClosedAt(ctx, tx, streamID, closedAt)
	})
}

func (s *Store) Revert(ctx context.Context, streamID string, to es.Version, mode es.RevertMode) error {
	if mode != es.RevertSoft && mode != es.RevertHard {
		return es.ErrInvalidRevertMode
	}

	var truncated, restored int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireStream(ctx, tx, streamID); err != nil {
			return err
		}

		var (
			res sql.Result
			err error
		)
		if mode == es.RevertHard {
			res, err = tx.ExecContext(
				ctx,
				s.q(`DELETE FROM es_stream_events WHERE stream_id = ? AND playhead > ?`),
				streamID, int64(to),
			)
		} else {
			res, err = tx.ExecContext(
				ctx,
				s.q(`UPDATE es_stream_events SET canceled_at = ? WHERE stream_id = ? AND playhead > ? AND canceled_at IS NULL`),
				formatTime(time.Now()), streamID, int64(to),
			)
		}
		if err != nil {
			return err
		}
		truncated, _ = res.RowsAffected()

		res, err = tx.ExecContext(
			ctx,
			s.q(`UPDATE es_stream_events SET canceled_at = NULL WHERE stream_id = ? AND playhead <= ? AND canceled_at IS NOT NULL`),
			streamID, int64(to),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: restoring %s up to %d: %w", es.ErrIntegrityCheckFailed, streamID, to, err)
			}
			return err
		}
		restored, _ = res.RowsAffected()
		return nil
	})
	if errors.Is(err, es.ErrIntegrityCheckFailed) {
		return err
	}
	if err != nil {
		return s.translate(err, streamID)
	}

	s.log.Debug(
		"revert",
		slog.String("stream", streamID),
		to.SlogAttrWithKey("to"),
		slog.String("mode", mode.String()),
		slog.Int64("truncated", truncated),
		slog.Int64("restored", restored),
	)
	return nil
}

// CountEvents returns the number of stored rows of a stream, canceled ones included.
func (s *Store) CountEvents(ctx context.Context, streamID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM es_stream_events WHERE stream_id = ?`), streamID).Scan(&n)
	return n, err
}

var _ es.StreamStore = (*Store)(nil)
