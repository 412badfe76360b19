// Package ssh provides the sftp:// fetch transport.
//
// A url such as sftp://reports@files.example.com:2222/exports/sales.json is
// read over SFTP with the credentials of a shared Config. One connection is
// kept per user and host and reused by later fetches.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/vizor/vizor/pkg/engine"
)

// Scheme is the url scheme served by Transport.
const Scheme = "sftp"

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "read").
	Op string

	Err error

	// IsTemporary indicates the operation may succeed when repeated.
	IsTemporary bool

	// IsAuthError indicates the server rejected the credentials.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// Transport implements engine.Transport for sftp:// urls.
type Transport struct {
	config *Config

	mu      sync.Mutex
	clients map[string]*Client
}

var _ engine.Transport = (*Transport)(nil)

// NewTransport validates config and creates a transport.
func NewTransport(config *Config) (*Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Transport{
		config:  config,
		clients: make(map[string]*Client),
	}, nil
}

// Fetch reads the file named by rawURL. A missing file yields a 404 response
// and an unreadable one a 403 response, both with OK=false.
func (t *Transport) Fetch(ctx context.Context, rawURL string, opts engine.FetchOptions) (*engine.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if !strings.EqualFold(u.Scheme, Scheme) {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if m := strings.ToUpper(opts.Method); m != "" && m != http.MethodGet {
		return nil, fmt.Errorf("method %s is not supported for sftp", m)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("url %q has no host", rawURL)
	}
	if u.Path == "" {
		return nil, fmt.Errorf("url %q has no path", rawURL)
	}

	user := t.config.User
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}
	if user == "" {
		return nil, fmt.Errorf("no user for %s", rawURL)
	}

	port := u.Port()
	if port == "" {
		port = "22"
	}

	client, err := t.client(ctx, net.JoinHostPort(u.Hostname(), port), user)
	if err != nil {
		return nil, err
	}

	data, err := client.ReadFile(ctx, u.Path, t.config.MaxFileBytes)
	switch {
	case err == nil:
		return &engine.Response{OK: true, Status: http.StatusOK, Body: data}, nil
	case errors.Is(err, fs.ErrNotExist):
		return &engine.Response{OK: false, Status: http.StatusNotFound}, nil
	case errors.Is(err, fs.ErrPermission):
		return &engine.Response{OK: false, Status: http.StatusForbidden}, nil
	default:
		var te *TransportError
		if errors.As(err, &te) && te.IsTemporary {
			t.drop(client)
		}
		return nil, err
	}
}

// client returns the connected client for user at address, dialing on first use.
func (t *Transport) client(ctx context.Context, address, user string) (*Client, error) {
	key := user + "@" + address

	t.mu.Lock()
	client, ok := t.clients[key]
	if !ok {
		client = NewClient(address, user, t.config)
		t.clients[key] = client
	}
	t.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// drop disconnects a client after a failed read so the next fetch redials.
func (t *Transport) drop(client *Client) {
	_ = client.Disconnect()
}

// Connections returns the number of open connections.
func (t *Transport) Connections() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, c := range t.clients {
		if c.IsConnected() {
			n++
		}
	}
	return n
}

// Close disconnects every client.
func (t *Transport) Close() error {
	t.mu.Lock()
	clients := t.clients
	t.clients = make(map[string]*Client)
	t.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
