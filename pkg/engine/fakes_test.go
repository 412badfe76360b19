package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/vizor/vizor/pkg/config"
	"github.com/vizor/vizor/pkg/engine"
	"github.com/vizor/vizor/pkg/stores"
)

type fakeInstance struct {
	mu       sync.Mutex
	loading  bool
	options  []interface{}
	cleared  int
	resized  int
	disposed bool
	handlers map[string][]func(map[string]interface{})
	setErr   error
}

func (i *fakeInstance) ShowLoading() { i.mu.Lock(); i.loading = true; i.mu.Unlock() }
func (i *fakeInstance) HideLoading() { i.mu.Lock(); i.loading = false; i.mu.Unlock() }
func (i *fakeInstance) Clear()       { i.mu.Lock(); i.cleared++; i.mu.Unlock() }
func (i *fakeInstance) Resize()      { i.mu.Lock(); i.resized++; i.mu.Unlock() }
func (i *fakeInstance) Dispose()     { i.mu.Lock(); i.disposed = true; i.mu.Unlock() }

func (i *fakeInstance) SetOption(option interface{}) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.setErr != nil {
		return i.setErr
	}
	i.options = append(i.options, option)
	return nil
}

func (i *fakeInstance) On(event string, handler func(map[string]interface{})) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.handlers == nil {
		i.handlers = make(map[string][]func(map[string]interface{}))
	}
	i.handlers[event] = append(i.handlers[event], handler)
}

func (i *fakeInstance) emit(event string, params map[string]interface{}) {
	i.mu.Lock()
	handlers := append([]func(map[string]interface{}){}, i.handlers[event]...)
	i.mu.Unlock()
	for _, h := range handlers {
		h(params)
	}
}

func (i *fakeInstance) lastOption() interface{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.options) == 0 {
		return nil
	}
	return i.options[len(i.options)-1]
}

type fakeRenderer struct {
	mu        sync.Mutex
	instances []*fakeInstance
	byID      map[string]*fakeInstance
	inits     map[string]map[string]interface{}
	maps      map[string]engine.MapDefinition
	mapErr    map[string]error
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		byID:   make(map[string]*fakeInstance),
		inits:  make(map[string]map[string]interface{}),
		maps:   make(map[string]engine.MapDefinition),
		mapErr: make(map[string]error),
	}
}

func (r *fakeRenderer) Init(_ context.Context, container, _ string, initOptions map[string]interface{}) (engine.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst := &fakeInstance{}
	r.instances = append(r.instances, inst)
	r.byID[container] = inst
	r.inits[container] = initOptions
	return inst, nil
}

func (r *fakeRenderer) RegisterMap(name string, def engine.MapDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.mapErr[name]; err != nil {
		return err
	}
	r.maps[name] = def
	return nil
}

func (r *fakeRenderer) instance(id string) *fakeInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

type fakeViewport struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

func newFakeViewport() *fakeViewport {
	return &fakeViewport{fns: make(map[int]func())}
}

func (v *fakeViewport) OnResize(fn func()) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.next
	v.next++
	v.fns[id] = fn
	return func() {
		v.mu.Lock()
		delete(v.fns, id)
		v.mu.Unlock()
	}
}

func (v *fakeViewport) resize() {
	v.mu.Lock()
	fns := make([]func(), 0, len(v.fns))
	for _, fn := range v.fns {
		fns = append(fns, fn)
	}
	v.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (v *fakeViewport) listeners() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.fns)
}

type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]*engine.Response
	errs      map[string]error
	calls     []string
	opts      []engine.FetchOptions
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(map[string]*engine.Response),
		errs:      make(map[string]error),
	}
}

func (t *fakeTransport) respond(url string, status int, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses[url] = &engine.Response{OK: status >= 200 && status < 300, Status: status, Body: []byte(body)}
}

func (t *fakeTransport) Fetch(_ context.Context, url string, opts engine.FetchOptions) (*engine.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, url)
	t.opts = append(t.opts, opts)
	if err := t.errs[url]; err != nil {
		return nil, err
	}
	resp, ok := t.responses[url]
	if !ok {
		return &engine.Response{OK: false, Status: 404}, nil
	}
	return resp, nil
}

func (t *fakeTransport) called() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

type fakeGuard struct {
	denied map[string][]string
}

func (g fakeGuard) Admit(_ context.Context, _ string, d engine.FetchDescriptor) ([]string, error) {
	return g.denied[d.URL], nil
}

type fixture struct {
	ctrl      *engine.Controller
	renderer  *fakeRenderer
	viewport  *fakeViewport
	transport *fakeTransport
	cache     *stores.MemoryStore
	printed   []string
}

func newFixture(t *testing.T, mutate ...func(*engine.Dependencies)) *fixture {
	t.Helper()

	f := &fixture{
		renderer:  newFakeRenderer(),
		viewport:  newFakeViewport(),
		transport: newFakeTransport(),
		cache:     stores.NewMemoryStore(),
	}

	evaluator := config.NewStarlarkEvaluator(config.DefaultEvalTimeout,
		config.WithPrintHandler(func(msg string) { f.printed = append(f.printed, msg) }))

	deps := engine.Dependencies{
		Renderer:  f.renderer,
		Viewport:  f.viewport,
		Transport: f.transport,
		Cache:     f.cache,
		Parser:    config.NewOptionsParser(evaluator),
		Path:      config.NewPathEvaluator(),
	}
	for _, m := range mutate {
		m(&deps)
	}

	ctrl, err := engine.NewController(deps)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	f.ctrl = ctrl
	return f
}

func (f *fixture) cached(t *testing.T, key string) (interface{}, bool) {
	t.Helper()
	v, ok, err := f.cache.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("cache.Get(%s) error = %v", key, err)
	}
	return v, ok
}

func fetchPayload(entries ...string) string {
	out := "["
	for i, e := range entries {
		if i > 0 {
			out += ","
		}
		out += e
	}
	return out + "]"
}

func jsonDescriptor(id, url string) string {
	return fmt.Sprintf(`{"id": %q, "url": %q, "fetchAs": "json"}`, id, url)
}

func newParser() *config.OptionsParser {
	return config.NewOptionsParser(config.NewStarlarkEvaluator(config.DefaultEvalTimeout))
}
