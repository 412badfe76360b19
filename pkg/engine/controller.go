package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vizor/vizor/pkg/telemetry"
)

// Controller operations, used in logs, spans and metrics.
const (
	OpCreate  = "create"
	OpUpdate  = "update"
	OpClear   = "clear"
	OpResize  = "resize"
	OpDispose = "dispose"
	OpClick   = "bind_click"
)

// Dependencies are the collaborators of a Controller. Renderer, Transport,
// Cache, Parser and Path are required.
type Dependencies struct {
	Renderer  Renderer
	Transport Transport
	Cache     DataSourceCache
	Parser    OptionsParser
	Path      PathEvaluator

	// Viewport delivers resize notifications. Charts are not resized
	// automatically when it is nil.
	Viewport Viewport

	// Guard admits fetch descriptors. Every descriptor is admitted when nil.
	Guard FetchGuard

	// Registry holds the live charts. A new registry is created when nil.
	Registry *Registry

	// Telemetry defaults to NewNopTelemetry.
	Telemetry *telemetry.Telemetry
}

func (d Dependencies) telemetry() *telemetry.Telemetry {
	if d.Telemetry == nil {
		return telemetry.NewNopTelemetry()
	}
	return d.Telemetry
}

func (d Dependencies) validate() error {
	switch {
	case d.Renderer == nil:
		return fmt.Errorf("renderer is required")
	case d.Transport == nil:
		return fmt.Errorf("transport is required")
	case d.Cache == nil:
		return fmt.Errorf("data source cache is required")
	case d.Parser == nil:
		return fmt.Errorf("options parser is required")
	case d.Path == nil:
		return fmt.Errorf("path evaluator is required")
	}
	return nil
}

// Controller drives the lifecycle of charts:
// Uninitialized -> Loading -> Ready -> Disposed.
//
// Operations run on the caller's goroutine. Concurrent operations on the
// same chart id must be serialized by the caller.
type Controller struct {
	renderer Renderer
	viewport Viewport
	cache    DataSourceCache
	parser   OptionsParser
	registry *Registry

	fetcher     *Fetcher
	maps        *MapRegistrar
	interaction *InteractionBridge

	tel    *telemetry.Telemetry
	logger *telemetry.Logger
}

// NewController creates a controller.
func NewController(deps Dependencies) (*Controller, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	deps.Telemetry = deps.telemetry()

	return &Controller{
		renderer:    deps.Renderer,
		viewport:    deps.Viewport,
		cache:       deps.Cache,
		parser:      deps.Parser,
		registry:    deps.Registry,
		fetcher:     NewFetcher(deps),
		maps:        NewMapRegistrar(deps),
		interaction: NewInteractionBridge(deps),
		tel:         deps.Telemetry,
		logger:      deps.Telemetry.Logger.NewComponentLogger("controller"),
	}, nil
}

// Registry returns the chart registry.
func (c *Controller) Registry() *Registry {
	return c.registry
}

// Handle returns the live handle of a chart.
func (c *Controller) Handle(id string) (*ChartHandle, bool) {
	return c.registry.Get(id)
}

// Create instantiates a chart, registers it and shows its loading
// indicator. Without chart options the chart stays Loading until Update
// delivers them; otherwise data is fetched, maps registered and the options
// applied.
//
// Creating an id that is still live disposes the previous chart first.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (err error) {
	op := c.tel.StartChartOperation(ctx, OpCreate, req.ID)
	defer func() { c.finish(op, OpCreate, req.ID, err) }()
	ctx = op.Ctx

	if req.ID == "" {
		return fmt.Errorf("chart id is required")
	}

	initOptions, err := decodeInitOptions(req.ID, req.InitOptions)
	if err != nil {
		return err
	}

	if previous, ok := c.registry.Get(req.ID); ok {
		op.Logger.Warn("chart already exists, disposing previous instance")
		if err := c.dispose(ctx, op.Logger, previous); err != nil {
			op.Logger.WithError(err).Warn("failed to evict data sources of previous instance")
		}
	}

	instance, err := c.renderer.Init(ctx, req.ID, req.Theme, initOptions)
	if err != nil {
		return fmt.Errorf("failed to initialize chart %s: %w", req.ID, err)
	}

	handle := NewChartHandle(req.ID, req.ID, req.Theme)
	handle.instance = instance
	if c.viewport != nil {
		handle.unbindResize = c.viewport.OnResize(instance.Resize)
	}

	c.registry.Set(req.ID, handle)
	c.tel.Metrics.SetActiveCharts(float64(c.registry.Len()))

	handle.setState(ChartStateLoading)
	instance.ShowLoading()
	_ = c.tel.Events.PublishChartCreated(req.ID, req.Theme)

	if isAbsent(req.ChartOptions) {
		op.Logger.Debug("no chart options, chart stays loading")
		return nil
	}

	return c.apply(ctx, op, OpCreate, handle, req.ChartOptions, req.MapOptions, req.FetchOptions)
}

// Update fetches data, registers maps and applies new options to a live
// chart. An unknown id is logged and ignored.
func (c *Controller) Update(ctx context.Context, req UpdateRequest) (err error) {
	handle, ok := c.registry.Get(req.ID)
	if !ok {
		c.unknown(req.ID, OpUpdate)
		return nil
	}

	op := c.tel.StartChartOperation(ctx, OpUpdate, req.ID)
	defer func() { c.finish(op, OpUpdate, req.ID, err) }()

	return c.apply(op.Ctx, op, OpUpdate, handle, req.ChartOptions, req.MapOptions, req.FetchOptions)
}

// apply is the data path shared by Create and Update.
func (c *Controller) apply(ctx context.Context, op *telemetry.InstrumentedContext, operation string, handle *ChartHandle, chartOptions, mapOptions, fetchOptions string) error {
	if err := c.fetcher.FetchPayload(ctx, handle, fetchOptions); err != nil {
		return annotate(err, handle.ID, operation)
	}

	c.maps.RegisterPayload(ctx, mapOptions)

	options, err := c.parser.Parse(ctx, chartOptions)
	if err != nil {
		return NewFatalDecodeError("failed to decode chart options", err).
			WithChart(handle.ID).
			WithOperation(operation)
	}
	op.Logger.Dump("applying chart options", options)

	if err := handle.instance.SetOption(options); err != nil {
		return fmt.Errorf("failed to apply options to chart %s: %w", handle.ID, err)
	}

	handle.instance.HideLoading()
	handle.setState(ChartStateReady)
	_ = c.tel.Events.PublishChartReady(handle.ID, operation, op.Duration())
	return nil
}

// Clear removes the chart's current options. Cached data sources are kept.
func (c *Controller) Clear(ctx context.Context, id string) {
	handle, ok := c.registry.Get(id)
	if !ok {
		c.unknown(id, OpClear)
		return
	}

	op := c.tel.StartChartOperation(ctx, OpClear, id)
	handle.instance.Clear()
	c.finish(op, OpClear, id, nil)
}

// Resize forwards a resize to the rendering engine.
func (c *Controller) Resize(ctx context.Context, id string) {
	handle, ok := c.registry.Get(id)
	if !ok {
		c.unknown(id, OpResize)
		return
	}

	op := c.tel.StartChartOperation(ctx, OpResize, id)
	handle.instance.Resize()
	c.finish(op, OpResize, id, nil)
}

// Dispose evicts every data source the chart owns, releases the rendering
// engine instance and unregisters the chart. Disposing an unknown id is
// logged and ignored, so a second Dispose is a no-op.
//
// The chart is always released; the returned error reports evictions the
// cache failed to perform.
func (c *Controller) Dispose(ctx context.Context, id string) (err error) {
	handle, ok := c.registry.Get(id)
	if !ok {
		c.unknown(id, OpDispose)
		return nil
	}

	op := c.tel.StartChartOperation(ctx, OpDispose, id)
	defer func() { c.finish(op, OpDispose, id, err) }()

	return c.dispose(op.Ctx, op.Logger, handle)
}

func (c *Controller) dispose(ctx context.Context, logger *telemetry.Logger, handle *ChartHandle) error {
	keys := handle.releaseDataSources()

	var errs []error
	for _, key := range keys {
		if err := c.cache.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("failed to evict data source %s: %w", key, err))
		}
	}
	c.tel.Metrics.AddCachedSources(-float64(len(keys)))

	if handle.unbindResize != nil {
		handle.unbindResize()
		handle.unbindResize = nil
	}
	handle.instance.Dispose()

	c.registry.Delete(handle.ID)
	handle.setState(ChartStateDisposed)
	c.tel.Metrics.SetActiveCharts(float64(c.registry.Len()))

	_ = c.tel.Events.PublishChartDisposed(handle.ID, keys)
	logger.WithField("evicted", keys).Debug("chart disposed")
	return errors.Join(errs...)
}

// BindClick forwards sanitized click events of a chart to callback.
func (c *Controller) BindClick(ctx context.Context, id string, callback HostCallback) {
	c.interaction.BindClick(ctx, id, callback)
}

// DataSource returns a cached data source value.
func (c *Controller) DataSource(ctx context.Context, key string) (interface{}, bool, error) {
	value, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read data source %s: %w", key, err)
	}
	c.logger.WithFetchID(key).Dump("read cached data source", value)
	return value, ok, nil
}

// unknown reports an operation on an id that is not registered.
func (c *Controller) unknown(id, operation string) {
	err := NewUnknownChartError(id, operation)
	c.tel.Metrics.RecordError(string(err.Class), err.Code)
	c.tel.Metrics.RecordChartOperation(operation, "unknown", 0)
	c.logger.WithChartID(id).WithField("operation", operation).Errorf("failed to retrieve chart %s", id)
}

// finish ends the span of an operation and records its outcome.
func (c *Controller) finish(op *telemetry.InstrumentedContext, operation, id string, err error) {
	op.End(err)

	if err == nil {
		c.tel.Metrics.RecordChartOperation(operation, "success", op.Duration())
		op.Logger.Debugf("%s completed in %s", operation, op.Duration())
		return
	}

	c.tel.Metrics.RecordChartOperation(operation, "error", op.Duration())

	code := ErrorCode(err)
	var ce *ChartError
	if errors.As(err, &ce) {
		c.tel.Metrics.RecordError(string(ce.Class), ce.Code)
	} else {
		c.tel.Metrics.RecordError(string(ErrorClassFatal), "")
	}

	_ = c.tel.Events.PublishChartFailed(id, operation, code, err.Error())
	op.Logger.WithError(err).Errorf("%s failed", operation)
}

// annotate adds chart context to classified errors that lack it.
func annotate(err error, chartID, operation string) error {
	var ce *ChartError
	if errors.As(err, &ce) {
		if ce.ChartID == "" {
			ce.ChartID = chartID
		}
		if ce.Operation == "" {
			ce.Operation = operation
		}
	}
	return err
}

// reportRecoverable logs and counts an error the enclosing operation absorbs.
func reportRecoverable(tel *telemetry.Telemetry, logger *telemetry.Logger, err error) {
	msg := "recoverable chart error"
	code := ""
	var ce *ChartError
	if errors.As(err, &ce) {
		msg = ce.Message
		code = ce.Code
	}
	tel.Metrics.RecordError(string(ErrorClassRecoverable), code)
	logger.WithError(err).Warn(msg)
}

// decodeInitOptions strictly decodes the init options object. An absent
// payload yields nil options.
func decodeInitOptions(chartID, payload string) (map[string]interface{}, error) {
	if isAbsent(payload) {
		return nil, nil
	}

	var options map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &options); err != nil {
		return nil, NewFatalDecodeError("failed to decode init options", err).
			WithChart(chartID).
			WithOperation(OpCreate)
	}
	return options, nil
}

// isAbsent reports whether a textual payload carries no value.
func isAbsent(payload string) bool {
	trimmed := strings.TrimSpace(payload)
	return trimmed == "" || trimmed == "null"
}
