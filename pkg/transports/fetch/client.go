// Package fetch retrieves external chart data over HTTP and HTTPS and routes
// retrievals to other transports by url scheme.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vizor/vizor/pkg/engine"
	"github.com/vizor/vizor/pkg/telemetry"
)

// Defaults applied by NewClient.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultUserAgent    = "vizor"
	DefaultMaxBodyBytes = 32 << 20
)

// ErrBodyTooLarge is returned when a response body exceeds Options.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body exceeds the configured limit")

// Options configures a Client.
type Options struct {
	// Timeout bounds a whole retrieval. Zero means DefaultTimeout.
	Timeout time.Duration

	// UserAgent is sent unless the descriptor sets its own.
	UserAgent string

	// MaxBodyBytes caps the response body. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// HTTPClient replaces the default client. Timeout is ignored when set.
	HTTPClient *http.Client

	// Logger receives one debug line per retrieval. Nil discards them.
	Logger *telemetry.Logger
}

// Client implements engine.Transport over net/http.
type Client struct {
	http      *http.Client
	userAgent string
	maxBody   int64
	logger    *telemetry.Logger
}

var _ engine.Transport = (*Client)(nil)

// NewClient creates an HTTP transport.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}

	return &Client{
		http:      httpClient,
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxBodyBytes,
		logger:    logger.NewComponentLogger("fetch"),
	}
}

// Fetch performs the request described by opts. Non-2xx responses are
// returned with OK=false and a nil error.
func (c *Client) Fetch(ctx context.Context, url string, opts engine.FetchOptions) (*engine.Response, error) {
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	body, err := opts.BodyBytes()
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		if _, isString := opts.Body.(string); !isString {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, c.maxBody)
	}

	c.logger.WithFields(map[string]interface{}{
		"method":   method,
		"url":      url,
		"status":   resp.StatusCode,
		"bytes":    len(data),
		"duration": time.Since(start).String(),
	}).Debug("fetched")

	return &engine.Response{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
		Body:   data,
	}, nil
}
