package controlplane

import (
	"context"
	"errors"
	"fmt"

	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/store"
)

// AuditedKV exposes the service's versioned KV operations with the store's
// error contract, so transports serving a raw table (gRPC) still go through
// the audit trail.
type AuditedKV struct {
	service *Service
}

// KVStore returns the audited KV view of s.
func (s *Service) KVStore() *AuditedKV {
	return &AuditedKV{service: s}
}

func (kv *AuditedKV) Get(ctx context.Context, key string) (models.Versioned, error) {
	entry, err := kv.service.GetKV(ctx, key)
	return entry, storeErr(err)
}

func (kv *AuditedKV) Put(ctx context.Context, key, value string) (int64, error) {
	entry, err := kv.service.PutKV(ctx, key, value)
	if err != nil {
		return 0, storeErr(err)
	}
	return entry.Version, nil
}

func (kv *AuditedKV) CompareAndSwap(ctx context.Context, key string, expected int64, value string) (int64, error) {
	entry, err := kv.service.CompareAndSwapKV(ctx, key, expected, value)
	if err != nil {
		return 0, storeErr(err)
	}
	return entry.Version, nil
}

// storeErr maps service sentinels back to the store sentinels.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case errors.Is(err, ErrVersionConflict):
		return fmt.Errorf("%w: %v", store.ErrVersionMismatch, err)
	default:
		return err
	}
}
