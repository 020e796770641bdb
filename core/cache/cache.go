package cache

import "time"

type (
	PutOptions struct{ TTL time.Duration }
	PutOption  func(*PutOptions)
)

// WithTTL expires the entry after ttl.
func WithTTL(ttl time.Duration) PutOption { return func(o *PutOptions) { o.TTL = ttl } }

// Cache is a process-local key-value cache. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any, opts ...PutOption)
	Delete(key string)
}

// Typed narrows a Cache to values of type T. Values of another type stored
// under the same key read as misses.
type Typed[T any] struct{ c Cache }

func NewTyped[T any](c Cache) Typed[T] { return Typed[T]{c: c} }

func (t Typed[T]) Get(key string) (T, bool) {
	var zero T
	v, ok := t.c.Get(key)
	if !ok {
		return zero, false
	}
	out, ok := v.(T)
	if !ok {
		return zero, false
	}
	return out, true
}

func (t Typed[T]) Put(key string, val T, opts ...PutOption) { t.c.Put(key, val, opts...) }
func (t Typed[T]) Delete(key string)                        { t.c.Delete(key) }
