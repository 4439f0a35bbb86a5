package persist

import (
	"context"
	"fmt"
	"time"
)

// Adapter is the pluggable key/value backend shared by the cooldown store and
// the sticky-session bindings. Implementations differ only in durability and
// visibility latency; the engine behaves identically against all of them.
//
// CompareAndSet is best-effort: backends that cannot provide true atomicity
// approximate it with a coarse exclusive lock around the critical section.
// Expected == nil means "only set if the key is absent".
type Adapter interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	CompareAndSet(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// New builds an adapter from the configured backend type.
func New(backend, dsn string) (Adapter, error) {
	switch backend {
	case "memory":
		return NewMemoryAdapter(), nil
	case "sqlite":
		if dsn == "" {
			dsn = ":memory:"
		}
		return NewSQLiteAdapter(dsn)
	case "redis":
		return NewRedisAdapter(dsn)
	default:
		return nil, fmt.Errorf("unknown persistence backend: %s", backend)
	}
}
