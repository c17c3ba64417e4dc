// Package storage defines the key-value capability set shared by every
// short-code backend: get, put and an atomic counter increment.
package storage

import (
	"context"

	"github.com/marimax/cloudanchor/internal/models"
)

// Backend is a string key-value store with an atomic counter primitive.
//
// Contract:
//   - Get MUST return ErrNotFound when the key is absent.
//   - Put is an upsert; the last write wins.
//   - Increment MUST be atomic across all callers sharing the backend: it
//     reads the counter (initial-1 when absent), adds one, persists the result
//     and returns it. On failure nothing is committed.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Increment(ctx context.Context, key string, initial int64) (int64, error)
}

// VersionedStore is a remote store offering conditional writes.
// Version 0 stands for "absent" both in reads and in CompareAndSwap.
type VersionedStore interface {
	GetVersioned(ctx context.Context, key string) (models.Versioned, error)
	CompareAndSwap(ctx context.Context, key string, expected int64, value string) (int64, error)
}
