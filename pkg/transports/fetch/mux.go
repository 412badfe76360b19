package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/vizor/vizor/pkg/engine"
)

// Mux dispatches retrievals to a transport chosen by url scheme.
type Mux struct {
	mu         sync.RWMutex
	transports map[string]engine.Transport
}

var _ engine.Transport = (*Mux)(nil)

// NewMux creates a Mux with no schemes registered.
func NewMux() *Mux {
	return &Mux{transports: make(map[string]engine.Transport)}
}

// NewDefaultMux routes http and https to client.
func NewDefaultMux(client *Client) *Mux {
	m := NewMux()
	m.Handle("http", client)
	m.Handle("https", client)
	return m
}

// Handle registers transport for scheme, replacing any previous one.
func (m *Mux) Handle(scheme string, transport engine.Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transports[strings.ToLower(scheme)] = transport
}

// Schemes returns the registered schemes in lexical order.
func (m *Mux) Schemes() []string {
	m.mu.RLock()
	schemes := make([]string, 0, len(m.transports))
	for s := range m.transports {
		schemes = append(schemes, s)
	}
	m.mu.RUnlock()

	sort.Strings(schemes)
	return schemes
}

// Fetch implements engine.Transport.
func (m *Mux) Fetch(ctx context.Context, rawURL string, opts engine.FetchOptions) (*engine.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	m.mu.RLock()
	transport, ok := m.transports[strings.ToLower(u.Scheme)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	return transport.Fetch(ctx, rawURL, opts)
}
