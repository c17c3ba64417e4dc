package grpckv

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/store"
)

// Store is the versioned table the server exposes. *store.Store and the
// daemon's audited controlplane view implement it.
type Store interface {
	Get(ctx context.Context, key string) (models.Versioned, error)
	Put(ctx context.Context, key, value string) (int64, error)
	CompareAndSwap(ctx context.Context, key string, expected int64, value string) (int64, error)
}

// Server exposes a Store over the KV gRPC service.
type Server struct {
	UnimplementedKVServer
	Store Store
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	key := in.GetValue()
	if strings.TrimSpace(key) == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}
	entry, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, mapErr(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"value":   structpb.NewStringValue(entry.Value),
		"version": structpb.NewNumberValue(float64(entry.Version)),
	}}, nil
}

func (s *Server) Put(ctx context.Context, in *structpb.Struct) (*wrapperspb.Int64Value, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	key, value, err := keyValue(in)
	if err != nil {
		return nil, err
	}
	version, err := s.Store.Put(ctx, key, value)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Int64(version), nil
}

func (s *Server) CompareAndSwap(ctx context.Context, in *structpb.Struct) (*wrapperspb.Int64Value, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	key, value, err := keyValue(in)
	if err != nil {
		return nil, err
	}
	expected := int64(in.GetFields()["expected"].GetNumberValue())
	if expected < 0 {
		return nil, status.Error(codes.InvalidArgument, "expected version must not be negative")
	}
	version, err := s.Store.CompareAndSwap(ctx, key, expected, value)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Int64(version), nil
}

func keyValue(in *structpb.Struct) (string, string, error) {
	fields := in.GetFields()
	key := fields["key"].GetStringValue()
	if strings.TrimSpace(key) == "" {
		return "", "", status.Error(codes.InvalidArgument, "key is required")
	}
	return key, fields["value"].GetStringValue(), nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrVersionMismatch):
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}
