// Package allocator issues short codes: small, monotonically increasing
// integers that stand in for long cloud anchor IDs.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/storage"
)

const (
	// DefaultCounterKey is the key holding the last issued code.
	DefaultCounterKey = "next_short_code"
	// LocalInitialCode is the first code of the device-local namespace.
	LocalInitialCode models.Code = 1
	// RemoteInitialCode is the first code of the shared namespace.
	RemoteInitialCode models.Code = 142
	// DefaultTimeout is the configured bound on one allocation, including
	// transaction retries.
	DefaultTimeout = 10 * time.Second
)

// ErrUnavailable is returned when the counter transaction did not commit.
// No code was consumed; the caller may retry.
var ErrUnavailable = errors.New("short code unavailable")

// Config configures an Allocator.
type Config struct {
	CounterKey  string      `yaml:"counter_key"`
	InitialCode models.Code `yaml:"initial_code"`
	// Timeout bounds one NextCode call. Zero disables it.
	Timeout time.Duration `yaml:"timeout"`
}

// Allocator issues codes from one backend namespace.
type Allocator struct {
	backend storage.Backend
	config  Config
	log     logr.Logger
}

// New creates an allocator. An empty CounterKey means DefaultCounterKey and
// a zero InitialCode means LocalInitialCode.
func New(backend storage.Backend, cfg Config, log logr.Logger) *Allocator {
	if cfg.CounterKey == "" {
		cfg.CounterKey = DefaultCounterKey
	}
	if cfg.InitialCode <= 0 {
		cfg.InitialCode = LocalInitialCode
	}
	return &Allocator{
		backend: backend,
		config:  cfg,
		log:     log.WithName("allocator"),
	}
}

// InitialCode returns the first code this allocator issues.
func (a *Allocator) InitialCode() models.Code {
	return a.config.InitialCode
}

// NextCode atomically reserves and returns the next code. Concurrent callers
// never receive the same code.
func (a *Allocator) NextCode(ctx context.Context) (models.Code, error) {
	if a == nil || a.backend == nil {
		return 0, fmt.Errorf("%w: no backend", ErrUnavailable)
	}

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	next, err := a.backend.Increment(ctx, a.config.CounterKey, int64(a.config.InitialCode))
	if err != nil {
		a.log.Error(err, "Short code allocation failed", "counterKey", a.config.CounterKey)
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	code := models.Code(next)
	if code < a.config.InitialCode {
		// A counter below the floor was written by something other than an allocator.
		return 0, fmt.Errorf("%w: counter %q holds %d below initial code %d", ErrUnavailable, a.config.CounterKey, next, a.config.InitialCode)
	}
	a.log.V(1).Info("Short code allocated", "code", code)
	return code, nil
}
