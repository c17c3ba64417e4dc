// Package storagetest holds the conformance suite every storage.Backend must pass.
package storagetest

import (
	"context"
	"sort"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/marimax/cloudanchor/internal/storage"
)

// NewBackend constructs a fresh, empty backend for a test.
// The returned backend MUST be isolated from other tests.
type NewBackend func(t *testing.T) storage.Backend

// ConcurrentIncrements is the number of parallel callers in the increment test.
const ConcurrentIncrements = 16

func RunBackendConformance(t *testing.T, newBackend NewBackend) {
	t.Helper()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		if err := b.Put(ctx, "anchor;5", "abc"); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := b.Get(ctx, "anchor;5")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != "abc" {
			t.Fatalf("Get = %q, want %q", got, "abc")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Get(context.Background(), "anchor;6")
		if !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		for _, v := range []string{"first", "second"} {
			if err := b.Put(ctx, "anchor;7", v); err != nil {
				t.Fatalf("Put(%q) failed: %v", v, err)
			}
		}
		got, err := b.Get(ctx, "anchor;7")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != "second" {
			t.Fatalf("Get = %q, want %q", got, "second")
		}
	})

	t.Run("IncrementFromInitial", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		for want := int64(142); want < 145; want++ {
			got, err := b.Increment(ctx, "next_short_code", 142)
			if err != nil {
				t.Fatalf("Increment failed: %v", err)
			}
			if got != want {
				t.Fatalf("Increment = %d, want %d", got, want)
			}
		}
		persisted, err := b.Get(ctx, "next_short_code")
		if err != nil {
			t.Fatalf("Get counter failed: %v", err)
		}
		if persisted != "144" {
			t.Fatalf("persisted counter = %q, want %q", persisted, "144")
		}
	})

	t.Run("IndependentCounters", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		a, err := b.Increment(ctx, "counter-a", 1)
		if err != nil {
			t.Fatalf("Increment a failed: %v", err)
		}
		c, err := b.Increment(ctx, "counter-b", 142)
		if err != nil {
			t.Fatalf("Increment b failed: %v", err)
		}
		if a != 1 || c != 142 {
			t.Fatalf("got a=%d b=%d, want 1 and 142", a, c)
		}
	})

	t.Run("IncrementConcurrent", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		var (
			mu    sync.Mutex
			codes []int64
			g     errgroup.Group
		)
		for i := 0; i < ConcurrentIncrements; i++ {
			g.Go(func() error {
				code, err := b.Increment(ctx, "next_short_code", 1)
				if err != nil {
					return err
				}
				mu.Lock()
				codes = append(codes, code)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("concurrent Increment failed: %v", err)
		}

		sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
		for i, code := range codes {
			if code != int64(i+1) {
				t.Fatalf("codes = %v, want 1..%d without gaps or duplicates", codes, ConcurrentIncrements)
			}
		}
	})
}
