package nats

import (
	"context"

	"github.com/codewandler/esengine/core/es"
)

// NewSnapshotStore returns a snapshot store on a JetStream KV bucket. Close
// the returned KVStore when done.
func NewSnapshotStore(ctx context.Context, cfg KVConfig) (*es.KVSnapshotStore, *KVStore, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = "esengine_snapshots"
	}
	store, err := NewKVStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return es.NewKVSnapshotStore(store, 0), store, nil
}
