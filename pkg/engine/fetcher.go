package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vizor/vizor/pkg/telemetry"
)

// Fetcher resolves the external data sources of a chart and stores them in
// the DataSourceCache, recording on the handle which keys the chart owns.
type Fetcher struct {
	transport Transport
	cache     DataSourceCache
	parser    OptionsParser
	path      PathEvaluator
	guard     FetchGuard
	validate  *validator.Validate
	tel       *telemetry.Telemetry
	logger    *telemetry.Logger
}

// NewFetcher creates a fetcher from the controller dependencies. The guard is
// optional.
func NewFetcher(deps Dependencies) *Fetcher {
	tel := deps.telemetry()
	return &Fetcher{
		transport: deps.Transport,
		cache:     deps.Cache,
		parser:    deps.Parser,
		path:      deps.Path,
		guard:     deps.Guard,
		validate:  validator.New(),
		tel:       tel,
		logger:    tel.Logger.NewComponentLogger("fetcher"),
	}
}

// FetchPayload decodes a textual fetch payload and runs it against handle.
// An absent payload is a no-op. A payload that is not a list of valid
// descriptors is logged and skipped.
func (f *Fetcher) FetchPayload(ctx context.Context, handle *ChartHandle, payload string) error {
	if isAbsent(payload) {
		return nil
	}

	descriptors, err := f.Decode(payload)
	if err != nil {
		var ce *ChartError
		if errors.As(err, &ce) {
			ce.WithChart(handle.ID)
		}
		f.reportRecoverable(f.logger.WithChartID(handle.ID), err)
		return nil
	}

	return f.Fetch(ctx, handle, descriptors)
}

// Decode parses a fetch payload into validated descriptors. Failures are
// returned as recoverable ChartErrors.
func (f *Fetcher) Decode(payload string) ([]FetchDescriptor, error) {
	var descriptors []FetchDescriptor
	if err := json.Unmarshal([]byte(payload), &descriptors); err != nil {
		return nil, NewFetchDecodeError("failed to decode fetch options", err)
	}

	for i := range descriptors {
		if err := f.validate.Struct(descriptors[i]); err != nil {
			return nil, NewFetchDecodeError(fmt.Sprintf("invalid fetch descriptor at index %d", i), err)
		}
	}
	return descriptors, nil
}

// Fetch processes descriptors one after another in list order. The first
// failed retrieval aborts the batch; entries cached before it stay cached.
func (f *Fetcher) Fetch(ctx context.Context, handle *ChartHandle, descriptors []FetchDescriptor) error {
	ctx, span := f.tel.Tracer.StartFetchBatchSpan(ctx, handle.ID, len(descriptors))
	defer span.End()

	for i := range descriptors {
		if err := f.fetchOne(ctx, handle, descriptors[i]); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}

	telemetry.RecordSuccess(span)
	return nil
}

func (f *Fetcher) fetchOne(ctx context.Context, handle *ChartHandle, d FetchDescriptor) error {
	ctx, span := f.tel.Tracer.StartFetchSpan(ctx, d.ID, d.URL)
	defer span.End()

	logger := f.logger.WithChartID(handle.ID).WithFetchID(d.ID)
	logger.Dump("fetching external data source", d)

	timer := telemetry.NewTimer()
	fail := func(err *ChartError) error {
		err = err.WithChart(handle.ID).WithDetail("fetch_id", d.ID)
		telemetry.RecordError(span, err)
		f.tel.Metrics.RecordFetch(d.FetchAs, "error", timer.Duration())
		return err
	}

	if err := f.admit(ctx, handle, d); err != nil {
		return fail(err)
	}

	resp, err := f.transport.Fetch(ctx, d.URL, d.Options)
	if err != nil {
		return fail(NewFetchError(d.URL, err))
	}
	span.SetAttributes(telemetry.AttrFetchStatus.Int(resp.Status))
	if !resp.OK {
		return fail(NewFetchError(d.URL, fmt.Errorf("unexpected status %d", resp.Status)).
			WithDetail("status", resp.Status))
	}

	var data interface{}
	switch d.FetchAs {
	case FetchAsJSON:
		data, err = resp.JSON()
		if err != nil {
			return fail(NewFetchError(d.URL, err))
		}
		if d.Path != nil && *d.Path != "" {
			data = f.project(logger, handle.ID, data, *d.Path)
		}
	case FetchAsString:
		data = resp.Text()
	default:
		logger.Warnf("unsupported fetchAs %q, caching no data", d.FetchAs)
	}

	logger.Dump("fetched external data source", data)

	if d.AfterLoad != nil && strings.TrimSpace(*d.AfterLoad) != "" {
		data = f.transform(ctx, logger, handle.ID, data, *d.AfterLoad)
	}

	if err := f.cache.Put(ctx, d.ID, data); err != nil {
		return fail(NewFetchError(d.URL, fmt.Errorf("failed to cache data source %s: %w", d.ID, err)))
	}
	if handle.OwnDataSource(d.ID) {
		f.tel.Metrics.AddCachedSources(1)
	}

	f.tel.Metrics.RecordFetch(d.FetchAs, "success", timer.Duration())
	telemetry.RecordSuccess(span)
	logger.Debug("external data source cached")
	return nil
}

// admit asks the fetch guard, if any, whether d may be retrieved.
func (f *Fetcher) admit(ctx context.Context, handle *ChartHandle, d FetchDescriptor) *ChartError {
	if f.guard == nil {
		return nil
	}

	reasons, err := f.guard.Admit(ctx, handle.ID, d)
	if err != nil {
		f.tel.Metrics.RecordPolicyDecision("error")
		return NewFetchError(d.URL, fmt.Errorf("fetch policy evaluation failed: %w", err))
	}
	if len(reasons) > 0 {
		f.tel.Metrics.RecordPolicyDecision("deny")
		_ = f.tel.Events.PublishFetchDenied(handle.ID, d.URL, reasons)
		return NewPolicyDeniedError(d.URL, reasons)
	}

	f.tel.Metrics.RecordPolicyDecision("allow")
	return nil
}

// project applies a path expression. A segment that does not exist yields
// nil; an evaluation error keeps the unprojected value.
func (f *Fetcher) project(logger *telemetry.Logger, chartID string, data interface{}, path string) interface{} {
	projected, found, err := f.path.Evaluate(data, path)
	if err != nil {
		f.reportRecoverable(logger, NewTransformError("path expression", err).
			WithChart(chartID).
			WithDetail("path", path))
		return data
	}
	if !found {
		return nil
	}
	return projected
}

// transform applies an afterLoad function. An error keeps the untransformed value.
func (f *Fetcher) transform(ctx context.Context, logger *telemetry.Logger, chartID string, data interface{}, source string) interface{} {
	out, err := f.parser.Transform(ctx, source, data)
	if err != nil {
		f.reportRecoverable(logger, NewTransformError("afterLoad function", err).WithChart(chartID))
		return data
	}
	return out
}

func (f *Fetcher) reportRecoverable(logger *telemetry.Logger, err error) {
	reportRecoverable(f.tel, logger, err)
}
