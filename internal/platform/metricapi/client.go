// Package metricapi fetches numeric metrics from the external data API used
// to resolve markets (for example follower counts).
package metricapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
	"github.com/alanyoungcy/predictx-oracle/internal/jsonpath"
)

// maxBodyBytes caps how much of a response is read into memory.
const maxBodyBytes = 4 << 20

// FetchError reports a transport failure or a non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int // zero on transport failure
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("metricapi: GET %s: unexpected status %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("metricapi: GET %s: %v", e.URL, e.Err)
}

// Unwrap lets callers match both domain.ErrFetch and the transport error.
func (e *FetchError) Unwrap() []error {
	if e.Err != nil {
		return []error{domain.ErrFetch, e.Err}
	}
	return []error{domain.ErrFetch}
}

// Client issues bearer-authenticated GET requests against a base URL. It
// keeps no per-request state and is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client. baseURL is joined with each endpoint path by
// plain concatenation, e.g. "https://api.x.com/2" + "/users/by/username/foo".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSpace(baseURL),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient swaps the underlying HTTP client (tests, custom transports).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchMetric GETs baseURL+endpointPath and resolves jsonPath in the body.
func (c *Client) FetchMetric(ctx context.Context, endpointPath, jsonPath, token string) (int64, error) {
	body, err := c.get(ctx, endpointPath, token)
	if err != nil {
		return 0, err
	}

	v, err := jsonpath.ResolveBytes(body, jsonPath)
	if err != nil {
		return 0, fmt.Errorf("metricapi: %s: %w", endpointPath, err)
	}
	return v, nil
}

func (c *Client) get(ctx context.Context, endpointPath, token string) ([]byte, error) {
	url := c.baseURL + endpointPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
