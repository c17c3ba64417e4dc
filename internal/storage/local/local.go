// Package local implements a device-local storage.Backend on top of the
// SQLite store. Codes issued here are visible only to this device.
package local

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/marimax/cloudanchor/internal/storage"
	"github.com/marimax/cloudanchor/internal/store"
)

// Backend is a storage.Backend over a store.Store.
type Backend struct {
	// mu serializes counter increments; the local store is never shared
	// across processes, so a process lock plus the SQLite transaction suffices.
	mu    sync.Mutex
	store *store.Store
	log   logr.Logger
}

// New wraps an open store.
func New(s *store.Store, log logr.Logger) *Backend {
	return &Backend{store: s, log: log.WithName("local")}
}

// Open opens (or creates) the SQLite file at path and wraps it.
func Open(path string, log logr.Logger) (*Backend, func() error, error) {
	if path == "" {
		return nil, nil, errors.New("local: db path is required")
	}
	s, err := store.New(path)
	if err != nil {
		return nil, nil, err
	}
	return New(s, log), s.Close, nil
}

func (b *Backend) Get(ctx context.Context, key string) (string, error) {
	entry, err := b.store.Get(ctx, key)
	if err != nil {
		return "", mapErr(err)
	}
	return entry.Value, nil
}

func (b *Backend) Put(ctx context.Context, key, value string) error {
	if _, err := b.store.Put(ctx, key, value); err != nil {
		return mapErr(err)
	}
	return nil
}

func (b *Backend) Increment(ctx context.Context, key string, initial int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := b.store.Increment(ctx, key, initial)
	if err != nil {
		b.log.Error(err, "Counter increment failed", "key", key)
		return 0, mapErr(err)
	}
	b.log.V(1).Info("Counter incremented", "key", key, "value", next)
	return next, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return storage.ErrNotFound
	case errors.Is(err, store.ErrNotCounter):
		return fmt.Errorf("%w: %v", storage.ErrNotCounter, err)
	default:
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
}

func init() {
	storage.MustRegister(storage.Factory{
		Name:        "local",
		Description: "device-local SQLite file",
		Open: func(opts storage.Options) (storage.Backend, func() error, error) {
			b, closeFn, err := Open(opts.DBPath, opts.Logger)
			if err != nil {
				return nil, nil, err
			}
			return b, closeFn, nil
		},
	})
}
