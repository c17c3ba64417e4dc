// Package controlplane provides the shared store daemon: the HTTP API and
// the service layer behind it.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/marimax/cloudanchor/internal/allocator"
	"github.com/marimax/cloudanchor/internal/audit"
	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/registry"
	"github.com/marimax/cloudanchor/internal/storage"
	"github.com/marimax/cloudanchor/internal/storage/local"
	"github.com/marimax/cloudanchor/internal/store"
)

// ServiceConfig configures the code namespace the daemon serves.
type ServiceConfig struct {
	// Root namespaces the daemon's own counter and anchor keys, matching
	// the root remote clients use.
	Root      string
	Allocator allocator.Config
	Registry  registry.Config
}

// Service provides the control plane business logic.
type Service struct {
	store     *store.Store
	pdr       *audit.PDRWriter
	allocator *allocator.Allocator
	registry  *registry.Registry
	log       logr.Logger
}

// NewService creates a new control plane service.
func NewService(s *store.Store, pdr *audit.PDRWriter, cfg ServiceConfig, log logr.Logger) *Service {
	if cfg.Allocator.InitialCode <= 0 {
		cfg.Allocator.InitialCode = allocator.RemoteInitialCode
	}
	backend := storage.Namespace(local.New(s, log), cfg.Root)
	return &Service{
		store:     s,
		pdr:       pdr,
		allocator: allocator.New(backend, cfg.Allocator, log),
		registry:  registry.New(backend, cfg.Registry, log),
		log:       log.WithName("controlplane"),
	}
}

// Health checks the database.
func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- Versioned KV Operations ---

// GetKV returns the entry stored under key.
func (s *Service) GetKV(ctx context.Context, key string) (models.Versioned, error) {
	if key == "" {
		return models.Versioned{}, ErrInvalidRequest
	}
	entry, err := s.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return entry, ErrNotFound
	}
	if err != nil {
		return entry, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return entry, nil
}

// PutKV writes value unconditionally.
func (s *Service) PutKV(ctx context.Context, key, value string) (models.Versioned, error) {
	if key == "" {
		return models.Versioned{}, ErrInvalidRequest
	}
	version, err := s.store.Put(ctx, key, value)
	if err != nil {
		s.record("kv.put", map[string]string{"key": key}, audit.OutcomeError, key, err.Error())
		return models.Versioned{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.record("kv.put", map[string]string{"key": key}, audit.OutcomeSuccess, key, "")
	return models.Versioned{Key: key, Value: value, Version: version}, nil
}

// CompareAndSwapKV writes value only if the stored version equals expected
// (0 meaning absent).
func (s *Service) CompareAndSwapKV(ctx context.Context, key string, expected int64, value string) (models.Versioned, error) {
	if key == "" || expected < 0 {
		return models.Versioned{}, ErrInvalidRequest
	}
	inputs := map[string]interface{}{"key": key, "expected": expected}
	version, err := s.store.CompareAndSwap(ctx, key, expected, value)
	if errors.Is(err, store.ErrVersionMismatch) {
		s.record("kv.cas", inputs, audit.OutcomeConflict, key, "")
		return models.Versioned{}, ErrVersionConflict
	}
	if err != nil {
		s.record("kv.cas", inputs, audit.OutcomeError, key, err.Error())
		return models.Versioned{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.record("kv.cas", inputs, audit.OutcomeSuccess, key, "")
	return models.Versioned{Key: key, Value: value, Version: version}, nil
}

// --- Short Code Operations ---

// AllocateCode issues the next shared short code.
func (s *Service) AllocateCode(ctx context.Context) (models.Code, error) {
	code, err := s.allocator.NextCode(ctx)
	if err != nil {
		s.record("code.allocate", nil, audit.OutcomeError, "", err.Error())
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.record("code.allocate", nil, audit.OutcomeSuccess, code.String(), "")
	return code, nil
}

// StoreAnchor associates code with anchorID.
func (s *Service) StoreAnchor(ctx context.Context, code models.Code, anchorID string) error {
	inputs := map[string]interface{}{"code": code, "anchor_id": anchorID}
	if err := s.registry.Store(ctx, code, anchorID); err != nil {
		s.record("anchor.store", inputs, audit.OutcomeError, code.String(), err.Error())
		if errors.Is(err, registry.ErrInvalid) {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.record("anchor.store", inputs, audit.OutcomeSuccess, code.String(), "")
	return nil
}

// LookupAnchor returns the anchor ID stored for code.
func (s *Service) LookupAnchor(ctx context.Context, code models.Code) (string, bool, error) {
	anchorID, found, err := s.registry.Lookup(ctx, code)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return anchorID, found, nil
}

// Audit returns recent audit records.
func (s *Service) Audit(ctx context.Context, limit int) ([]models.PDREntry, error) {
	return s.store.ListPDR(ctx, limit)
}

func (s *Service) record(action string, inputs interface{}, outcome, subject, details string) {
	if s.pdr == nil {
		return
	}
	if _, err := s.pdr.Record(action, inputs, outcome, subject, details); err != nil {
		s.log.Error(err, "Failed to write audit record", "action", action)
	}
}

// CleanKey rejects keys that cannot round-trip through the HTTP path.
func CleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "\x00\n\r") {
		return "", ErrInvalidRequest
	}
	return key, nil
}
