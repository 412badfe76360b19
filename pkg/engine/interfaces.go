package engine

import (
	"context"
)

// Renderer is the rendering engine. It creates chart instances and owns the
// global map registry.
type Renderer interface {
	// Init creates a chart instance rendering into container.
	Init(ctx context.Context, container, theme string, initOptions map[string]interface{}) (Instance, error)

	// RegisterMap registers a named map definition for every instance.
	RegisterMap(name string, def MapDefinition) error
}

// Instance is a live chart inside the rendering engine.
type Instance interface {
	ShowLoading()
	HideLoading()

	// SetOption applies a chart configuration.
	SetOption(option interface{}) error

	// Clear removes the current configuration without disposing the instance.
	Clear()

	Resize()
	Dispose()

	// On subscribes handler to an interaction event such as "click".
	On(event string, handler func(params map[string]interface{}))
}

// Viewport delivers host window resize notifications.
type Viewport interface {
	// OnResize registers fn and returns a function that removes it.
	OnResize(fn func()) (unsubscribe func())
}

// Transport retrieves external resources for fetch descriptors.
type Transport interface {
	// Fetch retrieves url with the given options. A non-2xx response is
	// returned with OK=false and no error.
	Fetch(ctx context.Context, url string, opts FetchOptions) (*Response, error)
}

// DataSourceCache stores resolved external data under process-wide keys.
type DataSourceCache interface {
	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value interface{}) error

	// Get returns the stored value and whether it was present.
	Get(ctx context.Context, key string) (interface{}, bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// OptionsParser decodes textual payloads and evaluates transform logic.
type OptionsParser interface {
	// Parse decodes payload as strict JSON, falling back to the sandboxed
	// expression evaluator.
	Parse(ctx context.Context, payload string) (interface{}, error)

	// Transform evaluates source as a unary function and applies it to value.
	Transform(ctx context.Context, source string, value interface{}) (interface{}, error)
}

// PathEvaluator projects a structured value with a dotted path expression.
type PathEvaluator interface {
	// Evaluate returns the value at path and whether every segment was found.
	Evaluate(value interface{}, path string) (interface{}, bool, error)
}

// FetchGuard decides whether a fetch descriptor may be retrieved.
type FetchGuard interface {
	// Admit returns the denial reasons for descriptor, or none when allowed.
	Admit(ctx context.Context, chartID string, descriptor FetchDescriptor) ([]string, error)
}

// HostCallback receives sanitized interaction payloads on the host side.
type HostCallback interface {
	HandleChartClick(ctx context.Context, chartID string, params map[string]interface{}) error
}

// HostCallbackFunc adapts a function to HostCallback.
type HostCallbackFunc func(ctx context.Context, chartID string, params map[string]interface{}) error

// HandleChartClick calls f.
func (f HostCallbackFunc) HandleChartClick(ctx context.Context, chartID string, params map[string]interface{}) error {
	return f(ctx, chartID, params)
}
