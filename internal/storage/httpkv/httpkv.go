// Package httpkv implements a shared storage.Backend over the daemon's
// versioned key-value HTTP API. Counter increments run as optimistic
// transactions using ETag preconditions.
package httpkv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/marimax/cloudanchor/internal/models"
	"github.com/marimax/cloudanchor/internal/storage"
)


// Client implements storage.Backend and storage.VersionedStore over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	retry   storage.RetryPolicy
	log     logr.Logger

	// Timeout applies per request when non-zero.
	Timeout time.Duration
}

// New creates a client for the daemon at addr ("host:port" or a full URL).
func New(addr string, opts storage.Options) (*Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("httpkv: daemon address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	if _, err := url.Parse(addr); err != nil {
		return nil, fmt.Errorf("httpkv: invalid address: %w", err)
	}

	return &Client{
		baseURL: strings.TrimSuffix(addr, "/"),
		http:    &http.Client{},
		retry:   opts.Retry,
		log:     opts.Logger.WithName("httpkv"),
		Timeout: opts.Timeout,
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) GetVersioned(ctx context.Context, key string) (models.Versioned, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.keyURL(key), nil)
	if err != nil {
		return models.Versioned{}, err
	}
	var entry models.Versioned
	if err := c.do(req, &entry); err != nil {
		return models.Versioned{Key: key}, err
	}
	return entry, nil
}

func (c *Client) CompareAndSwap(ctx context.Context, key string, expected int64, value string) (int64, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	req, err := c.putRequest(ctx, key, value)
	if err != nil {
		return 0, err
	}
	if expected == 0 {
		req.Header.Set("If-None-Match", "*")
	} else {
		req.Header.Set("If-Match", `"`+strconv.FormatInt(expected, 10)+`"`)
	}

	var entry models.Versioned
	if err := c.do(req, &entry); err != nil {
		return 0, err
	}
	return entry.Version, nil
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

	req, err := c.putRequest(ctx, key, value)
	if err != nil {
		return err
	}
	return c.do(req, nil)
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

func (c *Client) keyURL(key string) string {
	return c.baseURL + "/kv/" + url.PathEscape(key)
}

func (c *Client) putRequest(ctx context.Context, key, value string) (*http.Request, error) {
	body, err := json.Marshal(map[string]string{"value": value})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.keyURL(key), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends req and decodes a 200 body into out when out is non-nil.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", storage.ErrUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return storage.ErrNotFound
	case http.StatusPreconditionFailed:
		return storage.ErrConflict
	default:
		return fmt.Errorf("%w: %s %s: %d %s", storage.ErrUnavailable, req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

func init() {
	storage.MustRegister(storage.Factory{
		Name:        "http",
		Description: "shared store daemon over the HTTP key-value API",
		Shared:      true,
		Open: func(opts storage.Options) (storage.Backend, func() error, error) {
			client, err := New(opts.Addr, opts)
			if err != nil {
				return nil, nil, err
			}
			return storage.Namespace(client, opts.Root), client.Close, nil
		},
	})
}
