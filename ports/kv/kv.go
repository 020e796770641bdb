// Package kv is the key-value port behind snapshot stores. Adapters provide
// implementations on NATS JetStream and Redis; MemStore serves tests and
// single-process setups.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("key not found")

type Entry struct {
	Data []byte
	// Meta carries backend details such as revisions. It is informational
	// and never written.
	Meta map[string]any
}

type PutOptions struct {
	// TTL expires the key. Backends without per-key expiry ignore it.
	TTL time.Duration
}

type Store interface {
	Put(ctx context.Context, key string, entry Entry, opts PutOptions) error
	// Get returns ErrNotFound for missing or expired keys.
	Get(ctx context.Context, key string) (Entry, error)
	Delete(ctx context.Context, key string) error
}

// Put stores v as JSON.
func Put[T any](ctx context.Context, store Store, key string, v T, opts PutOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, Entry{Data: data}, opts)
}

// Get loads the JSON document at key into a T.
func Get[T any](ctx context.Context, store Store, key string) (T, error) {
	var out T
	entry, err := store.Get(ctx, key)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(entry.Data, &out)
}
