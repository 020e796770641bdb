package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/esengine/ports/kv"
)

const defaultBucket = "esengine"

type KVConfig struct {
	Connect Connector
	Log     *slog.Logger
	Bucket  string
	// TTL applies to every key of the bucket. Per-put TTLs are not supported
	// by JetStream KV and are ignored.
	TTL      time.Duration
	Storage  jetstream.StorageType
	MaxBytes int64
}

// KVStore is a kv.Store on a JetStream key-value bucket.
type KVStore struct {
	kv      jetstream.KeyValue
	closeNc closeFunc
	log     *slog.Logger
}

func NewKVStore(ctx context.Context, cfg KVConfig) (*KVStore, error) {
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("kv", "nats"), slog.String("bucket", bucket))

	nc, closeNc, err := connectOrDefault(cfg.Connect)()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = -1
	}
	bkt, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   bucket,
		Storage:  cfg.Storage,
		TTL:      cfg.TTL,
		MaxBytes: maxBytes,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
	}

	log.Debug("bucket ready")
	return &KVStore{kv: bkt, closeNc: closeNc, log: log}, nil
}

func (k *KVStore) Put(ctx context.Context, key string, entry kv.Entry, _ kv.PutOptions) error {
	_, err := k.kv.Put(ctx, key, entry.Data)
	return err
}

func (k *KVStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	v, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return kv.Entry{
		Data: v.Value(),
		Meta: map[string]any{"revision": v.Revision(), "created": v.Created()},
	}, nil
}

func (k *KVStore) Delete(ctx context.Context, key string) error {
	err := k.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (k *KVStore) Close() error {
	k.closeNc()
	return nil
}

var _ kv.Store = (*KVStore)(nil)
