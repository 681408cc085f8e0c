package kv

import (
	"context"
	"time"
)

// Store is a durable, eventually-consistent mapping from string keys to
// byte values with optional expiry. A zero TTL means no expiry.
// Every read-modify-write built on it is last-write-wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Locker is implemented by backends that can hold a lock across processes.
// release must be safe to call after the lock has expired.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
