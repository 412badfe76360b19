// Package recorder provides an in-memory rendering engine. It keeps the
// options, loading state and event handlers of every chart instance so that
// hosts without a display (the CLI, the HTTP host API, tests) can drive the
// chart lifecycle and inspect the result.
package recorder

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vizor/vizor/pkg/engine"
)

// Call is one recorded instance method call.
type Call struct {
	Method string      `json:"method"`
	Arg    interface{} `json:"arg,omitempty"`
}

// Renderer records instances and map registrations. It also implements
// engine.Viewport: TriggerResize notifies every subscribed instance.
type Renderer struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	maps      map[string]engine.MapDefinition
	mapOrder  []string

	resizeMu  sync.Mutex
	nextSub   int
	resizeFns map[int]func()
}

var (
	_ engine.Renderer = (*Renderer)(nil)
	_ engine.Viewport = (*Renderer)(nil)
	_ engine.Instance = (*Instance)(nil)
)

// New creates an empty recorder.
func New() *Renderer {
	return &Renderer{
		instances: make(map[string]*Instance),
		maps:      make(map[string]engine.MapDefinition),
		resizeFns: make(map[int]func()),
	}
}

// Init creates an instance rendering into container. A container holds one
// instance; initializing it again replaces the previous one.
func (r *Renderer) Init(ctx context.Context, container, theme string, initOptions map[string]interface{}) (engine.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if container == "" {
		return nil, fmt.Errorf("container is required")
	}

	inst := &Instance{
		container:   container,
		theme:       theme,
		initOptions: initOptions,
		handlers:    make(map[string][]func(map[string]interface{})),
	}

	r.mu.Lock()
	r.instances[container] = inst
	r.mu.Unlock()
	return inst, nil
}

// RegisterMap stores a map definition. Registering a name again replaces it.
func (r *Renderer) RegisterMap(name string, def engine.MapDefinition) error {
	if name == "" {
		return fmt.Errorf("map name is required")
	}
	if def.GeoJSON == nil && def.SVG == "" {
		return fmt.Errorf("map %s has neither geoJSON nor svg content", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.maps[name]; !exists {
		r.mapOrder = append(r.mapOrder, name)
	}
	r.maps[name] = def
	return nil
}

// Instance returns the instance rendering into container.
func (r *Renderer) Instance(container string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[container]
	return inst, ok
}

// Containers lists the containers that have an instance, sorted.
func (r *Renderer) Containers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Map returns a registered map definition.
func (r *Renderer) Map(name string) (engine.MapDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.maps[name]
	return def, ok
}

// Maps lists registered map names in registration order.
func (r *Renderer) Maps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.mapOrder...)
}

// OnResize implements engine.Viewport.
func (r *Renderer) OnResize(fn func()) func() {
	r.resizeMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.resizeFns[id] = fn
	r.resizeMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.resizeMu.Lock()
			delete(r.resizeFns, id)
			r.resizeMu.Unlock()
		})
	}
}

// TriggerResize simulates a host window resize and returns the number of
// listeners notified.
func (r *Renderer) TriggerResize() int {
	r.resizeMu.Lock()
	ids := make([]int, 0, len(r.resizeFns))
	for id := range r.resizeFns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.resizeFns[id])
	}
	r.resizeMu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// ResizeListeners returns the number of subscribed resize listeners.
func (r *Renderer) ResizeListeners() int {
	r.resizeMu.Lock()
	defer r.resizeMu.Unlock()
	return len(r.resizeFns)
}

// Instance is a recorded chart instance.
type Instance struct {
	container   string
	theme       string
	initOptions map[string]interface{}

	mu       sync.Mutex
	loading  bool
	option   interface{}
	disposed bool
	resizes  int
	calls    []Call
	handlers map[string][]func(map[string]interface{})
}

// Snapshot is a point-in-time view of an instance.
type Snapshot struct {
	Container   string                 `json:"container"`
	Theme       string                 `json:"theme,omitempty"`
	InitOptions map[string]interface{} `json:"init_options,omitempty"`
	Loading     bool                   `json:"loading"`
	Option      interface{}            `json:"option"`
	Disposed    bool                   `json:"disposed"`
	Resizes     int                    `json:"resizes"`
	Calls       []Call                 `json:"calls"`
}

func (i *Instance) record(method string, arg interface{}) {
	i.calls = append(i.calls, Call{Method: method, Arg: arg})
}

// ShowLoading implements engine.Instance.
func (i *Instance) ShowLoading() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.loading = true
	i.record("showLoading", nil)
}

// HideLoading implements engine.Instance.
func (i *Instance) HideLoading() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.loading = false
	i.record("hideLoading", nil)
}

// SetOption implements engine.Instance. The option replaces the current one.
func (i *Instance) SetOption(option interface{}) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.disposed {
		return fmt.Errorf("instance %s is disposed", i.container)
	}
	i.option = option
	i.record("setOption", option)
	return nil
}

// Clear implements engine.Instance.
func (i *Instance) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.option = nil
	i.record("clear", nil)
}

// Resize implements engine.Instance.
func (i *Instance) Resize() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.resizes++
	i.record("resize", nil)
}

// Dispose implements engine.Instance. Handlers are dropped.
func (i *Instance) Dispose() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.disposed = true
	i.handlers = make(map[string][]func(map[string]interface{}))
	i.record("dispose", nil)
}

// On implements engine.Instance.
func (i *Instance) On(event string, handler func(params map[string]interface{})) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handlers[event] = append(i.handlers[event], handler)
	i.record("on", event)
}

// Emit delivers an interaction event to the handlers bound for it and
// returns how many ran. Disposed instances have no handlers.
func (i *Instance) Emit(event string, params map[string]interface{}) int {
	i.mu.Lock()
	handlers := append([]func(map[string]interface{}){}, i.handlers[event]...)
	i.mu.Unlock()

	for _, h := range handlers {
		h(params)
	}
	return len(handlers)
}

// Option returns the current option.
func (i *Instance) Option() interface{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.option
}

// Loading reports whether the loading indicator is shown.
func (i *Instance) Loading() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.loading
}

// Disposed reports whether the instance was disposed.
func (i *Instance) Disposed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.disposed
}

// Calls returns the recorded method calls in order.
func (i *Instance) Calls() []Call {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Call(nil), i.calls...)
}

// Snapshot returns the current state of the instance.
func (i *Instance) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Snapshot{
		Container:   i.container,
		Theme:       i.theme,
		InitOptions: i.initOptions,
		Loading:     i.loading,
		Option:      i.option,
		Disposed:    i.disposed,
		Resizes:     i.resizes,
		Calls:       append([]Call(nil), i.calls...),
	}
}
