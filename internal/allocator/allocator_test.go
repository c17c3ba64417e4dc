package allocator

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/storage"
	"github.com/marimax/cloudanchor/internal/storage/local"
)

func newLocal(t *testing.T) *local.Backend {
	t.Helper()
	b, closeFn, err := local.Open(filepath.Join(t.TempDir(), "local.db"), logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { closeFn() })
	return b
}

func TestNextCode_Sequential(t *testing.T) {
	a := New(newLocal(t), Config{}, logr.Discard())
	ctx := context.Background()

	for want := models.Code(1); want <= 3; want++ {
		got, err := a.NextCode(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestNextCode_ConcurrentCallersGetDistinctCodes(t *testing.T) {
	b := newLocal(t)
	a := New(b, Config{InitialCode: LocalInitialCode}, logr.Discard())
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes []models.Code
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := a.NextCode(ctx)
			if assert.NoError(t, err) {
				mu.Lock()
				codes = append(codes, code)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	assert.Equal(t, []models.Code{1, 2, 3}, codes)

	persisted, err := b.Get(ctx, DefaultCounterKey)
	require.NoError(t, err)
	assert.Equal(t, "3", persisted)
}

func TestNextCode_RemoteInitialCode(t *testing.T) {
	a := New(newLocal(t), Config{InitialCode: RemoteInitialCode}, logr.Discard())

	got, err := a.NextCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Code(142), got)
	assert.Equal(t, RemoteInitialCode, a.InitialCode())
}

func TestNextCode_IndependentNamespaces(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	localAlloc := New(storage.Namespace(b, "device"), Config{InitialCode: LocalInitialCode}, logr.Discard())
	remoteAlloc := New(storage.Namespace(b, "shared_anchor_codelab_root"), Config{InitialCode: RemoteInitialCode}, logr.Discard())

	l, err := localAlloc.NextCode(ctx)
	require.NoError(t, err)
	r, err := remoteAlloc.NextCode(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.Code(1), l)
	assert.Equal(t, models.Code(142), r)
}

type failingBackend struct {
	err   error
	value int64
}

func (f failingBackend) Get(context.Context, string) (string, error) { return "", f.err }
func (f failingBackend) Put(context.Context, string, string) error   { return f.err }
func (f failingBackend) Increment(context.Context, string, int64) (int64, error) {
	return f.value, f.err
}

func TestNextCode_BackendFailure(t *testing.T) {
	a := New(failingBackend{err: storage.ErrRetriesExhausted}, Config{}, logr.Discard())

	_, err := a.NextCode(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, storage.ErrRetriesExhausted)
}

func TestNextCode_CounterBelowFloor(t *testing.T) {
	a := New(failingBackend{value: 7}, Config{InitialCode: RemoteInitialCode}, logr.Discard())

	_, err := a.NextCode(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNextCode_NoBackend(t *testing.T) {
	a := New(nil, Config{}, logr.Discard())
	_, err := a.NextCode(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	var nilAlloc *Allocator
	_, err = nilAlloc.NextCode(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

type blockingBackend struct{ failingBackend }

func (blockingBackend) Increment(ctx context.Context, _ string, _ int64) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestNextCode_Timeout(t *testing.T) {
	a := New(blockingBackend{}, Config{Timeout: 20 * time.Millisecond}, logr.Discard())

	start := time.Now()
	_, err := a.NextCode(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)
}

type deadlineBackend struct {
	failingBackend
	hasDeadline *bool
}

func (b deadlineBackend) Increment(ctx context.Context, _ string, initial int64) (int64, error) {
	_, *b.hasDeadline = ctx.Deadline()
	return initial, nil
}

func TestNextCode_ZeroTimeoutDisablesDeadline(t *testing.T) {
	var hasDeadline bool
	a := New(deadlineBackend{hasDeadline: &hasDeadline}, Config{}, logr.Discard())

	code, err := a.NextCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LocalInitialCode, code)
	assert.False(t, hasDeadline, "zero timeout adds no deadline")

	a = New(deadlineBackend{hasDeadline: &hasDeadline}, Config{Timeout: time.Minute}, logr.Discard())
	_, err = a.NextCode(context.Background())
	require.NoError(t, err)
	assert.True(t, hasDeadline)
}
