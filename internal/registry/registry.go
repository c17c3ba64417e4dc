// Package registry associates short codes with cloud anchor IDs.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/storage"
)

// DefaultKeyPrefix is prepended to a code to build its storage key.
const DefaultKeyPrefix = "anchor;"

var (
	// ErrNoBackend is returned by a registry constructed without a backend.
	ErrNoBackend = errors.New("registry: no storage backend")
	// ErrInvalid is returned for a non-positive code or an empty anchor ID.
	ErrInvalid = errors.New("registry: invalid association")
)

// Config configures a Registry.
type Config struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// LookupResult is the outcome of an asynchronous lookup.
type LookupResult struct {
	Code     models.Code
	AnchorID string
	Found    bool
	Err      error
}

// Registry stores and looks up code → anchor ID associations.
type Registry struct {
	backend storage.Backend
	prefix  string
	log     logr.Logger
}

// New creates a registry over backend.
func New(backend storage.Backend, cfg Config, log logr.Logger) *Registry {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Registry{backend: backend, prefix: cfg.KeyPrefix, log: log.WithName("registry")}
}

// Key returns the storage key for code.
func (r *Registry) Key(code models.Code) string {
	return r.prefix + code.String()
}

// Store upserts the association. Codes are not checked for reuse; callers
// obtain them from an allocator.
func (r *Registry) Store(ctx context.Context, code models.Code, anchorID string) error {
	if r == nil || r.backend == nil {
		return ErrNoBackend
	}
	if !code.Valid() || anchorID == "" {
		return fmt.Errorf("%w: code=%d anchorID=%q", ErrInvalid, code, anchorID)
	}
	if err := r.backend.Put(ctx, r.Key(code), anchorID); err != nil {
		return fmt.Errorf("store anchor for code %d: %w", code, err)
	}
	r.log.V(1).Info("Anchor stored", "code", code, "anchorID", anchorID)
	return nil
}

// Lookup returns the anchor ID stored for code. A missing key and an empty
// value both report found=false with a nil error.
func (r *Registry) Lookup(ctx context.Context, code models.Code) (string, bool, error) {
	if r == nil || r.backend == nil {
		return "", false, ErrNoBackend
	}
	if !code.Valid() {
		return "", false, nil
	}
	anchorID, err := r.backend.Get(ctx, r.Key(code))
	if storage.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup code %d: %w", code, err)
	}
	if anchorID == "" {
		return "", false, nil
	}
	return anchorID, true, nil
}

// LookupAsync runs Lookup in its own goroutine. The returned channel yields
// exactly one result and is then closed.
func (r *Registry) LookupAsync(ctx context.Context, code models.Code) <-chan LookupResult {
	out := make(chan LookupResult, 1)
	go func() {
		defer close(out)
		anchorID, found, err := r.Lookup(ctx, code)
		out <- LookupResult{Code: code, AnchorID: anchorID, Found: found, Err: err}
	}()
	return out
}
