// Package grpckv implements a shared storage.Backend over a small gRPC
// service, and the server side of that service for the daemon.
package grpckv

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/storage"
)

// Client implements storage.Backend and storage.VersionedStore over the KV gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client KVClient
	retry  storage.RetryPolicy
	log    logr.Logger

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration
	Retry   storage.RetryPolicy
	Logger  logr.Logger
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return newClient(cc, opts), nil
}

func newClient(cc *grpc.ClientConn, opts DialOptions) *Client {
	return &Client{
		cc:      cc,
		client:  NewKVClient(cc),
		retry:   opts.Retry,
		log:     opts.Logger.WithName("grpckv"),
		Timeout: opts.Timeout,
	}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) GetVersioned(ctx context.Context, key string) (models.Versioned, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Get(ctx, wrapperspb.String(key))
	if err != nil {
		return models.Versioned{Key: key}, mapRPC(err)
	}
	fields := reply.GetFields()
	return models.Versioned{
		Key:     key,
		Value:   fields["value"].GetStringValue(),
		Version: int64(fields["version"].GetNumberValue()),
	}, nil
}

func (c *Client) CompareAndSwap(ctx context.Context, key string, expected int64, value string) (int64, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.CompareAndSwap(ctx, &structpb.Struct{Fields: map[string]*structpb.Value{
		"key":      structpb.NewStringValue(key),
		"expected": structpb.NewNumberValue(float64(expected)),
		"value":    structpb.NewStringValue(value),
	}})
	if err != nil {
		return 0, mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	entry, err := c.GetVersioned(ctx, key)
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

func (c *Client) Put(ctx context.Context, key, value string) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	_, err := c.client.Put(ctx, &structpb.Struct{Fields: map[string]*structpb.Value{
		"key":   structpb.NewStringValue(key),
		"value": structpb.NewStringValue(value),
	}})
	return mapRPC(err)
}

func (c *Client) Increment(ctx context.Context, key string, initial int64) (int64, error) {
	next, err := storage.IncrementVersioned(ctx, c, key, initial, c.retry)
	if err != nil {
		c.log.Error(err, "Counter transaction failed", "key", key)
		return 0, err
	}
	c.log.V(1).Info("Counter incremented", "key", key, "value", next)
	return next, nil
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	switch st.Code() {
	case codes.NotFound:
		return storage.ErrNotFound
	case codes.Aborted:
		// Server uses Aborted when the stored version moved.
		return storage.ErrConflict
	default:
		return fmt.Errorf("%w: %s", storage.ErrUnavailable, st.Message())
	}
}

func init() {
	storage.MustRegister(storage.Factory{
		Name:        "grpc",
		Description: "shared store daemon over the KV gRPC service",
		Shared:      true,
		Open: func(opts storage.Options) (storage.Backend, func() error, error) {
			target := strings.TrimSpace(opts.Addr)
			if target == "" {
				return nil, nil, fmt.Errorf("grpckv: daemon address is required")
			}
			client, err := Dial(target, DialOptions{Timeout: opts.Timeout, Retry: opts.Retry, Logger: opts.Logger})
			if err != nil {
				return nil, nil, err
			}
			return storage.Namespace(client, opts.Root), client.Close, nil
		},
	})
}
