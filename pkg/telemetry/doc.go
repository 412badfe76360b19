// Package telemetry provides observability instrumentation for Vizor.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring chart lifecycles and external data retrieval.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with OTLP or stdout exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for lifecycle and click notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("controller")
//	logger.WithChartID("sales").Info("Chart created")
//
// Payload dumps (fetched data, parsed options, click parameters) are only
// written when verbose logging is on. The switch is shared by every logger
// derived from the same root, so the host can flip it at runtime:
//
//	tel.Logger.SetVerbose(true)
//	logger.Dump("Parsed chart options", options)
//
// # Distributed Tracing
//
// Controller operations and fetches produce the spans chart.create,
// chart.update, fetch.batch and fetch.item:
//
//	op := tel.StartChartOperation(ctx, "create", chartID)
//	defer op.End(err)
//
// # Metrics
//
//	tel.Metrics.RecordChartOperation("create", "success", op.Duration())
//	tel.Metrics.RecordFetch("json", "success", elapsed)
//	http.Handle("/metrics", tel.Metrics.Handler())
//
// All recorders are no-ops when metrics are disabled or the collector is nil.
//
// # Events
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.ChartID)
//	}, telemetry.FilterByType(telemetry.EventTypeChartClicked))
package telemetry
