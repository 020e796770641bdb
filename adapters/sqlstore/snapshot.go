package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/codewandler/esengine/core/es"
)

// SnapshotStore keeps the latest snapshot per aggregate in es_snapshots. It
// shares the connection pool of a Store.
type SnapshotStore struct {
	store *Store
}

func NewSnapshotStore(s *Store) *SnapshotStore { return &SnapshotStore{store: s} }

// Snapshots returns a snapshot store on the same database.
func (s *Store) Snapshots() *SnapshotStore { return NewSnapshotStore(s) }

func (ss *SnapshotStore) LoadSnapshot(ctx context.Context, aggType, id string) (*es.Snapshot, error) {
	var (
		snap      = &es.Snapshot{AggregateType: aggType, ID: id}
		version   int64
		aggCreate string
		aggClosed sql.NullString
		createdAt string
		err       error
	)
	err = ss.store.db.QueryRowContext(
		ctx,
		ss.store.q(`SELECT snapshot_id, id_type, version, encoding, payload, aggregate_created_at, aggregate_closed_at, created_at
			FROM es_snapshots WHERE aggregate_type = ? AND id = ?`),
		aggType, id,
	).Scan(&snap.SnapshotID, &snap.IDType, &version, &snap.Encoding, &snap.Data, &aggCreate, &aggClosed, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", es.ErrSnapshotNotFound, aggType, id)
	}
	if err != nil {
		return nil, err
	}

	snap.Version = es.Version(version)
	if snap.AggregateCreatedAt, err = parseTime(aggCreate); err != nil {
		return nil, err
	}
	if snap.AggregateClosedAt, err = parseNullTime(aggClosed); err != nil {
		return nil, err
	}
	if snap.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return snap, nil
}

// SaveSnapshot upserts the snapshot row of the aggregate.
func (ss *SnapshotStore) SaveSnapshot(ctx context.Context, snap *es.Snapshot) error {
	_, err := ss.store.db.ExecContext(
		ctx,
		ss.store.q(`INSERT INTO es_snapshots
			(aggregate_type, id, snapshot_id, id_type, version, encoding, payload, aggregate_created_at, aggregate_closed_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (aggregate_type, id) DO UPDATE SET
				snapshot_id = excluded.snapshot_id,
				id_type = excluded.id_type,
				version = excluded.version,
				encoding = excluded.encoding,
				payload = excluded.payload,
				aggregate_created_at = excluded.aggregate_created_at,
				aggregate_closed_at = excluded.aggregate_closed_at,
				created_at = excluded.created_at`),
		snap.AggregateType,
		snap.ID,
		snap.SnapshotID,
		snap.IDType,
		int64(snap.Version),
		snap.Encoding,
		snap.Data,
		formatTime(snap.AggregateCreatedAt),
		formatTimePtr(snap.AggregateClosedAt),
		formatTime(snap.CreatedAt),
	)
	return err
}

func (ss *SnapshotStore) DeleteSnapshot(ctx context.Context, aggType, id string) error {
	_, err := ss.store.db.ExecContext(
		ctx,
		ss.store.q(`DELETE FROM es_snapshots WHERE aggregate_type = ? AND id = ?`),
		aggType, id,
	)
	return err
}

var _ es.SnapshotStore = (*SnapshotStore)(nil)
