package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/marimax/cloudanchor/internal/models"
)

// RetryPolicy bounds an optimistic transaction.
type RetryPolicy struct {
	// MaxAttempts is the number of read/write rounds before giving up.
	MaxAttempts int `yaml:"max_attempts"`
	// InitialBackoff is the wait after the first conflict; it doubles up to MaxBackoff.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    25,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     250 * time.Millisecond,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// TxFunc computes the value to write from the current entry.
// current.Version is 0 when the key is absent. Returning an error aborts the
// transaction without writing.
type TxFunc func(current models.Versioned) (string, error)

// RunTransaction runs fn as an optimistic transaction on key: read, compute,
// conditional write, and retry from the read when another writer got there
// first. It returns the committed entry.
func RunTransaction(ctx context.Context, vs VersionedStore, key string, fn TxFunc, policy RetryPolicy) (models.Versioned, error) {
	policy = policy.normalized()
	backoff := policy.InitialBackoff

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		current, err := vs.GetVersioned(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return models.Versioned{}, fmt.Errorf("read %q: %w", key, err)
			}
			current = models.Versioned{Key: key}
		}

		value, err := fn(current)
		if err != nil {
			return models.Versioned{}, err
		}

		version, err := vs.CompareAndSwap(ctx, key, current.Version, value)
		if err == nil {
			return models.Versioned{Key: key, Value: value, Version: version}, nil
		}
		if !errors.Is(err, ErrConflict) {
			return models.Versioned{}, fmt.Errorf("write %q: %w", key, err)
		}

		if attempt == policy.MaxAttempts {
			break
		}
		// Jitter keeps contending writers from retrying in lockstep.
		wait := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)+1))
		select {
		case <-ctx.Done():
			return models.Versioned{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(wait):
		}
		backoff *= 2
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return models.Versioned{}, fmt.Errorf("%w: key %q after %d attempts", ErrRetriesExhausted, key, policy.MaxAttempts)
}

// IncrementVersioned implements Backend.Increment on top of a VersionedStore.
func IncrementVersioned(ctx context.Context, vs VersionedStore, key string, initial int64, policy RetryPolicy) (int64, error) {
	var next int64
	_, err := RunTransaction(ctx, vs, key, func(current models.Versioned) (string, error) {
		value := initial - 1
		if current.Version != 0 {
			n, err := strconv.ParseInt(current.Value, 10, 64)
			if err != nil {
				return "", fmt.Errorf("%w: %q", ErrNotCounter, current.Value)
			}
			value = n
		}
		next = value + 1
		return strconv.FormatInt(next, 10), nil
	}, policy)
	if err != nil {
		return 0, err
	}
	return next, nil
}
