package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/storage"
	"github.com/marimax/cloudanchor/internal/storage/local"
)

func newRegistry(t *testing.T) (*Registry, storage.Backend) {
	t.Helper()
	b, closeFn, err := local.Open(filepath.Join(t.TempDir(), "local.db"), logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { closeFn() })
	return New(b, Config{}, logr.Discard()), b
}

func TestStoreLookup(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Store(ctx, 5, "abc"))

	id, found, err := r.Lookup(ctx, 5)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc", id)

	_, found, err = r.Lookup(ctx, 6)
	require.NoError(t, err)
	assert.False(t, found, "an unstored code is not found")
}

func TestStore_Overwrites(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Store(ctx, 5, "abc"))
	require.NoError(t, r.Store(ctx, 5, "def"))

	id, _, err := r.Lookup(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "def", id)
}

func TestStore_KeyLayout(t *testing.T) {
	r, b := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Store(ctx, 142, "ua-xyz"))

	raw, err := b.Get(ctx, "anchor;142")
	require.NoError(t, err)
	assert.Equal(t, "ua-xyz", raw)
	assert.Equal(t, "anchor;142", r.Key(142))
}

func TestLookup_EmptyValueIsNotFound(t *testing.T) {
	r, b := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, r.Key(9), ""))

	_, found, err := r.Lookup(ctx, 9)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_Invalid(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	assert.ErrorIs(t, r.Store(ctx, 0, "abc"), ErrInvalid)
	assert.ErrorIs(t, r.Store(ctx, 5, ""), ErrInvalid)

	_, found, err := r.Lookup(ctx, -1)
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestNoBackend(t *testing.T) {
	r := New(nil, Config{}, logr.Discard())
	ctx := context.Background()

	assert.ErrorIs(t, r.Store(ctx, 5, "abc"), ErrNoBackend)
	_, _, err := r.Lookup(ctx, 5)
	assert.ErrorIs(t, err, ErrNoBackend)
}

type downBackend struct{}

func (downBackend) Get(context.Context, string) (string, error) { return "", storage.ErrUnavailable }
func (downBackend) Put(context.Context, string, string) error   { return storage.ErrUnavailable }
func (downBackend) Increment(context.Context, string, int64) (int64, error) {
	return 0, storage.ErrUnavailable
}

func TestBackendFailure(t *testing.T) {
	r := New(downBackend{}, Config{}, logr.Discard())
	ctx := context.Background()

	assert.ErrorIs(t, r.Store(ctx, 5, "abc"), storage.ErrUnavailable)
	_, found, err := r.Lookup(ctx, 5)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.False(t, found)
}

func TestLookupAsync(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Store(ctx, models.Code(5), "abc"))

	res, ok := <-r.LookupAsync(ctx, 5)
	require.True(t, ok)
	assert.Equal(t, LookupResult{Code: 5, AnchorID: "abc", Found: true}, res)

	_, ok = <-r.LookupAsync(ctx, 5)
	assert.True(t, ok)

	ch := r.LookupAsync(ctx, 6)
	res = <-ch
	assert.False(t, res.Found)
	_, ok = <-ch
	assert.False(t, ok, "channel is closed after one result")
}
