package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ChartState represents the lifecycle state of a chart.
type ChartState string

const (
	// ChartStateUninitialized is the state of an id that has no live handle.
	ChartStateUninitialized ChartState = "uninitialized"

	// ChartStateLoading indicates the handle exists and shows a loading indicator.
	ChartStateLoading ChartState = "loading"

	// ChartStateReady indicates options were applied to the rendering engine.
	ChartStateReady ChartState = "ready"

	// ChartStateDisposed indicates the handle was released. It is never reused.
	ChartStateDisposed ChartState = "disposed"
)

// Fetch decode modes.
const (
	FetchAsJSON   = "json"
	FetchAsString = "string"
)

// Map types understood by the MapRegistrar.
const (
	MapTypeGeoJSON = "geoJSON"
	MapTypeSVG     = "svg"
)

// ClickEvent is the name of the rendering engine event forwarded to the host.
const ClickEvent = "click"

// ChartHandle is the live record of one chart: its rendering engine instance,
// lifecycle state and the data source keys it owns.
type ChartHandle struct {
	// ID is the application-chosen chart identifier.
	ID string `json:"id"`

	// Container identifies the element the chart renders into.
	Container string `json:"container"`

	// Theme is the rendering engine theme name.
	Theme string `json:"theme,omitempty"`

	// CreatedAt is when the handle was created.
	CreatedAt time.Time `json:"created_at"`

	instance     Instance
	unbindResize func()

	mu             sync.Mutex
	state          ChartState
	dataSourceKeys []string
}

// NewChartHandle creates a handle in the Uninitialized state.
func NewChartHandle(id, container, theme string) *ChartHandle {
	return &ChartHandle{
		ID:        id,
		Container: container,
		Theme:     theme,
		CreatedAt: time.Now(),
		state:     ChartStateUninitialized,
	}
}

// Instance returns the rendering engine instance bound to the handle.
func (h *ChartHandle) Instance() Instance {
	return h.instance
}

// State returns the current lifecycle state.
func (h *ChartHandle) State() ChartState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *ChartHandle) setState(state ChartState) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
}

// DataSourceKeys returns a copy of the cache keys owned by the chart, in fetch order.
func (h *ChartHandle) DataSourceKeys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, len(h.dataSourceKeys))
	copy(keys, h.dataSourceKeys)
	return keys
}

// OwnDataSource records key as owned by the chart. Keys are kept once; the
// result reports whether key was newly added.
func (h *ChartHandle) OwnDataSource(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, k := range h.dataSourceKeys {
		if k == key {
			return false
		}
	}
	h.dataSourceKeys = append(h.dataSourceKeys, key)
	return true
}

// releaseDataSources empties the owned key list and returns what it held.
func (h *ChartHandle) releaseDataSources() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := h.dataSourceKeys
	h.dataSourceKeys = nil
	return keys
}

// MarshalJSON renders the handle with its state and owned keys.
func (h *ChartHandle) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID             string     `json:"id"`
		Container      string     `json:"container"`
		Theme          string     `json:"theme,omitempty"`
		State          ChartState `json:"state"`
		DataSourceKeys []string   `json:"data_source_keys"`
		CreatedAt      time.Time  `json:"created_at"`
	}{
		ID:             h.ID,
		Container:      h.Container,
		Theme:          h.Theme,
		State:          h.State(),
		DataSourceKeys: h.DataSourceKeys(),
		CreatedAt:      h.CreatedAt,
	})
}

// FetchDescriptor describes one external data retrieval.
type FetchDescriptor struct {
	// ID is the cache key the resolved value is stored under.
	ID string `json:"id" validate:"required"`

	// URL is the resource to retrieve.
	URL string `json:"url" validate:"required"`

	// Options are passed to the transport (method, headers, body).
	Options FetchOptions `json:"options,omitempty"`

	// FetchAs selects how the body is decoded: "json" or "string".
	FetchAs string `json:"fetchAs,omitempty"`

	// Path optionally projects a decoded JSON body with a dotted path.
	Path *string `json:"path,omitempty"`

	// AfterLoad optionally holds a unary transform applied before caching.
	AfterLoad *string `json:"afterLoad,omitempty"`
}

// FetchOptions are the request options of a FetchDescriptor.
type FetchOptions struct {
	// Method is the request method. Defaults to GET.
	Method string `json:"method,omitempty"`

	// Headers are sent with the request.
	Headers map[string]string `json:"headers,omitempty"`

	// Body is the request body. Strings are sent verbatim, other values as JSON.
	Body interface{} `json:"body,omitempty"`
}

// BodyBytes returns the encoded request body, or nil when there is none.
func (o FetchOptions) BodyBytes() ([]byte, error) {
	switch b := o.Body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, nil
	}
}

// MapDescriptor describes a named geographic map definition.
type MapDescriptor struct {
	// MapName is the display name. Name is accepted for older payloads.
	MapName string `json:"mapName,omitempty"`
	Name    string `json:"name,omitempty"`

	// Type is "geoJSON" or "svg".
	Type string `json:"type"`

	// GeoJSON holds geometry for geoJSON maps.
	GeoJSON interface{} `json:"geoJSON,omitempty"`

	// SpecialAreas holds optional area metadata for geoJSON maps.
	SpecialAreas interface{} `json:"specialAreas,omitempty"`

	// SVG holds vector image content for svg maps.
	SVG string `json:"svg,omitempty"`
}

// DisplayName resolves the registration name of the map.
func (d MapDescriptor) DisplayName() string {
	if d.MapName != "" {
		return d.MapName
	}
	return d.Name
}

// MapDefinition is what gets registered with the rendering engine.
type MapDefinition struct {
	GeoJSON      interface{} `json:"geoJSON,omitempty"`
	SpecialAreas interface{} `json:"specialAreas,omitempty"`
	SVG          string      `json:"svg,omitempty"`
}

// Response is the result of a network retrieval.
type Response struct {
	// OK reports a successful (2xx) retrieval.
	OK bool

	// Status is the transport status code.
	Status int

	// Body is the raw response body.
	Body []byte
}

// JSON decodes the body as JSON.
func (r *Response) JSON() (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(r.Body, &v); err != nil {
		return nil, fmt.Errorf("failed to decode response body as JSON: %w", err)
	}
	return v, nil
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// CreateRequest carries the arguments of a chart creation.
// Empty payload strings mean the payload is absent.
type CreateRequest struct {
	ID           string
	Theme        string
	InitOptions  string
	ChartOptions string
	MapOptions   string
	FetchOptions string
}

// UpdateRequest carries the arguments of a chart update.
type UpdateRequest struct {
	ID           string
	ChartOptions string
	MapOptions   string
	FetchOptions string
}
