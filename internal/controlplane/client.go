package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/marimax/cloudanchor/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the daemon's code, anchor and audit endpoints.
// Versioned key-value access goes through storage/httpkv instead.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// BaseURL returns the daemon URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health checks the daemon and returns its health payload. The payload is
// returned alongside the error on non-200 responses.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}

	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("parse health response: %w", err)
	}
	if status != http.StatusOK {
		return &health, fmt.Errorf("health check failed (status %d): %s", status, strings.TrimSpace(string(body)))
	}
	return &health, nil
}

// AllocateCode asks the daemon for the next short code.
func (c *Client) AllocateCode(ctx context.Context) (models.Code, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/codes", nil)
	if err != nil {
		return 0, err
	}
	if err := apiError(status, body); err != nil {
		return 0, err
	}

	var resp codeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse code response: %w", err)
	}
	return resp.Code, nil
}

// StoreAnchor records anchorID under code on the daemon.
func (c *Client) StoreAnchor(ctx context.Context, code models.Code, anchorID string) error {
	status, body, err := c.do(ctx, http.MethodPut, "/anchors/"+code.String(), storeAnchorRequest{AnchorID: anchorID})
	if err != nil {
		return err
	}
	return apiError(status, body)
}

// LookupAnchor fetches the anchor ID stored under code. A missing code is
// reported as found == false, not as an error.
func (c *Client) LookupAnchor(ctx context.Context, code models.Code) (string, bool, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/anchors/"+code.String(), nil)
	if err != nil {
		return "", false, err
	}
	if status == http.StatusNotFound {
		return "", false, nil
	}
	if err := apiError(status, body); err != nil {
		return "", false, err
	}

	var rec models.AnchorRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return "", false, fmt.Errorf("parse anchor response: %w", err)
	}
	return rec.AnchorID, true, nil
}

// Audit returns up to limit recent audit records, newest first.
func (c *Client) Audit(ctx context.Context, limit int) ([]models.PDREntry, error) {
	path := "/audit"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := apiError(status, body); err != nil {
		return nil, err
	}

	var entries []models.PDREntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("parse audit response: %w", err)
	}
	return entries, nil
}

func (c *Client) do(ctx context.Context, method, path string, data interface{}) (int, []byte, error) {
	var reader io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func apiError(status int, body []byte) error {
	if status < 400 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	default:
		return fmt.Errorf("API error (%d): %s", status, msg)
	}
}
