package bridge

import (
	"context"
	"errors"

	"github.com/vizor/vizor/pkg/engine"
	"github.com/vizor/vizor/pkg/telemetry"
)

// Bridge is the host-facing surface of Vizor. Every method takes the
// textual payloads a host application sends and drives the chart
// lifecycle controller.
type Bridge struct {
	ctrl     *engine.Controller
	renderer engine.Renderer
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger

	closers []func(ctx context.Context) error
	checks  []func(ctx context.Context) error
}

// NewBridge wraps an existing controller. renderer is the engine the
// controller renders with; it is exposed through Renderer.
func NewBridge(ctrl *engine.Controller, renderer engine.Renderer, tel *telemetry.Telemetry) *Bridge {
	if tel == nil {
		tel = telemetry.NewNopTelemetry()
	}
	return &Bridge{
		ctrl:     ctrl,
		renderer: renderer,
		tel:      tel,
		logger:   tel.Logger.NewComponentLogger("bridge"),
	}
}

// HealthCheck runs the health checks of the backends New opened.
func (b *Bridge) HealthCheck(ctx context.Context) error {
	var errs []error
	for _, check := range b.checks {
		errs = append(errs, check(ctx))
	}
	return errors.Join(errs...)
}

// SetLogging toggles verbose payload logging for every component.
func (b *Bridge) SetLogging(enabled bool) {
	b.tel.Logger.SetVerbose(enabled)
	b.logger.WithField("verbose", enabled).Info("verbose logging changed")
}

// Verbose reports whether verbose payload logging is enabled.
func (b *Bridge) Verbose() bool {
	return b.tel.Logger.Verbose()
}

// CreateChart creates a chart. initOptions is a strict JSON object; the
// other payloads may be JSON or expressions. Empty payloads are absent.
func (b *Bridge) CreateChart(ctx context.Context, id, theme, initOptions, chartOptions, mapOptions, fetchOptions string) error {
	return b.ctrl.Create(ctx, engine.CreateRequest{
		ID:           id,
		Theme:        theme,
		InitOptions:  initOptions,
		ChartOptions: chartOptions,
		MapOptions:   mapOptions,
		FetchOptions: fetchOptions,
	})
}

// UpdateChart fetches data, registers maps and applies new options to a
// live chart.
func (b *Bridge) UpdateChart(ctx context.Context, id, chartOptions, mapOptions, fetchOptions string) error {
	return b.ctrl.Update(ctx, engine.UpdateRequest{
		ID:           id,
		ChartOptions: chartOptions,
		MapOptions:   mapOptions,
		FetchOptions: fetchOptions,
	})
}

// BindClick forwards the chart's click events to callback.
func (b *Bridge) BindClick(ctx context.Context, id string, callback engine.HostCallback) {
	b.ctrl.BindClick(ctx, id, callback)
}

// ClearChart removes the chart's options.
func (b *Bridge) ClearChart(ctx context.Context, id string) {
	b.ctrl.Clear(ctx, id)
}

// ResizeChart resizes the chart.
func (b *Bridge) ResizeChart(ctx context.Context, id string) {
	b.ctrl.Resize(ctx, id)
}

// DisposeChart releases the chart and evicts the data sources it owns.
func (b *Bridge) DisposeChart(ctx context.Context, id string) error {
	return b.ctrl.Dispose(ctx, id)
}

// GetCachedDataSource returns the value cached under fetchID. A cache
// failure is logged and reported as a miss.
func (b *Bridge) GetCachedDataSource(ctx context.Context, fetchID string) (interface{}, bool) {
	value, ok, err := b.ctrl.DataSource(ctx, fetchID)
	if err != nil {
		b.logger.WithFetchID(fetchID).WithError(err).Error("failed to read cached data source")
		return nil, false
	}
	return value, ok
}

// Chart returns the live handle of a chart.
func (b *Bridge) Chart(id string) (*engine.ChartHandle, bool) {
	return b.ctrl.Handle(id)
}

// Charts returns the ids of the live charts, sorted.
func (b *Bridge) Charts() []string {
	return b.ctrl.Registry().IDs()
}

// Renderer returns the rendering engine.
func (b *Bridge) Renderer() engine.Renderer {
	return b.renderer
}

// Telemetry returns the telemetry the bridge reports to.
func (b *Bridge) Telemetry() *telemetry.Telemetry {
	return b.tel
}

// Close disposes every live chart and releases the resources New opened,
// in reverse order.
func (b *Bridge) Close(ctx context.Context) error {
	var errs []error
	for _, id := range b.Charts() {
		if err := b.ctrl.Dispose(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
