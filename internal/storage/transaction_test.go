package storage_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/storage"
)

// memStore is an in-memory VersionedStore. Each conflict injected through
// interfere simulates another writer committing between read and write.
type memStore struct {
	mu        sync.Mutex
	entries   map[string]models.Versioned
	interfere int
	casCalls  int
	failWith  error
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]models.Versioned{}}
}

func (m *memStore) GetVersioned(_ context.Context, key string) (models.Versioned, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return models.Versioned{}, m.failWith
	}
	e, ok := m.entries[key]
	if !ok {
		return models.Versioned{Key: key}, storage.ErrNotFound
	}
	return e, nil
}

func (m *memStore) CompareAndSwap(_ context.Context, key string, expected int64, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.casCalls++

	cur := m.entries[key]
	if m.interfere > 0 {
		m.interfere--
		m.entries[key] = models.Versioned{Key: key, Value: cur.Value, Version: cur.Version + 1}
		return 0, storage.ErrConflict
	}
	if cur.Version != expected {
		return 0, storage.ErrConflict
	}
	next := models.Versioned{Key: key, Value: value, Version: expected + 1}
	m.entries[key] = next
	return next.Version, nil
}

var fastPolicy = storage.RetryPolicy{
	MaxAttempts:    5,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     2 * time.Millisecond,
}

func TestRunTransaction_CreatesAbsentKey(t *testing.T) {
	m := newMemStore()

	got, err := storage.RunTransaction(context.Background(), m, "k", func(cur models.Versioned) (string, error) {
		assert.Equal(t, int64(0), cur.Version)
		return "v1", nil
	}, fastPolicy)

	require.NoError(t, err)
	assert.Equal(t, "v1", got.Value)
	assert.Equal(t, int64(1), got.Version)
}

func TestRunTransaction_RetriesOnConflict(t *testing.T) {
	m := newMemStore()
	m.interfere = 3

	calls := 0
	_, err := storage.RunTransaction(context.Background(), m, "k", func(models.Versioned) (string, error) {
		calls++
		return "v", nil
	}, fastPolicy)

	require.NoError(t, err)
	assert.Equal(t, 4, calls, "fn should rerun after every conflict")
	assert.Equal(t, 4, m.casCalls)
}

func TestRunTransaction_RetriesExhausted(t *testing.T) {
	m := newMemStore()
	m.interfere = 100

	_, err := storage.RunTransaction(context.Background(), m, "k", func(models.Versioned) (string, error) {
		return "v", nil
	}, fastPolicy)

	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrRetriesExhausted)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Equal(t, fastPolicy.MaxAttempts, m.casCalls)
}

func TestRunTransaction_FnErrorAborts(t *testing.T) {
	m := newMemStore()
	boom := errors.New("boom")

	_, err := storage.RunTransaction(context.Background(), m, "k", func(models.Versioned) (string, error) {
		return "", boom
	}, fastPolicy)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.casCalls, "nothing is written when fn fails")
}

func TestRunTransaction_ReadError(t *testing.T) {
	m := newMemStore()
	m.failWith = storage.ErrUnavailable

	_, err := storage.RunTransaction(context.Background(), m, "k", func(models.Versioned) (string, error) {
		return "v", nil
	}, fastPolicy)

	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestRunTransaction_ContextCancelled(t *testing.T) {
	m := newMemStore()
	m.interfere = 100
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := storage.RunTransaction(ctx, m, "k", func(models.Versioned) (string, error) {
		return "v", nil
	}, storage.RetryPolicy{MaxAttempts: 10, InitialBackoff: time.Second})

	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Equal(t, 1, m.casCalls)
}

func TestIncrementVersioned(t *testing.T) {
	m := newMemStore()
	ctx := context.Background()

	for want := int64(142); want < 145; want++ {
		got, err := storage.IncrementVersioned(ctx, m, "next_short_code", 142, fastPolicy)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, "144", m.entries["next_short_code"].Value)
}

func TestIncrementVersioned_NotCounter(t *testing.T) {
	m := newMemStore()
	m.entries["c"] = models.Versioned{Key: "c", Value: "abc", Version: 1}

	_, err := storage.IncrementVersioned(context.Background(), m, "c", 1, fastPolicy)
	assert.ErrorIs(t, err, storage.ErrNotCounter)
}

func TestIncrementVersioned_Concurrent(t *testing.T) {
	m := newMemStore()
	ctx := context.Background()
	policy := storage.RetryPolicy{MaxAttempts: 50, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := storage.IncrementVersioned(ctx, m, "next_short_code", 1, policy)
			if assert.NoError(t, err) {
				results <- code
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int64]bool{}
	for code := range results {
		assert.False(t, seen[code], "code %d issued twice", code)
		seen[code] = true
	}
	assert.Len(t, seen, workers)
	assert.Equal(t, strconv.Itoa(workers), m.entries["next_short_code"].Value)
}

func TestNamespace(t *testing.T) {
	inner := &recordingBackend{}
	b := storage.Namespace(inner, "shared_anchor_codelab_root/")

	_ = b.Put(context.Background(), "anchor;5", "abc")
	_, _ = b.Get(context.Background(), "anchor;5")
	_, _ = b.Increment(context.Background(), "next_short_code", 142)

	assert.Equal(t, []string{
		"shared_anchor_codelab_root/anchor;5",
		"shared_anchor_codelab_root/anchor;5",
		"shared_anchor_codelab_root/next_short_code",
	}, inner.keys)

	assert.Same(t, inner, storage.Namespace(inner, ""))
}

type recordingBackend struct {
	keys []string
}

func (r *recordingBackend) Get(_ context.Context, key string) (string, error) {
	r.keys = append(r.keys, key)
	return "", storage.ErrNotFound
}

func (r *recordingBackend) Put(_ context.Context, key, _ string) error {
	r.keys = append(r.keys, key)
	return nil
}

func (r *recordingBackend) Increment(_ context.Context, key string, initial int64) (int64, error) {
	r.keys = append(r.keys, key)
	return initial, nil
}
