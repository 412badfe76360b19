package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vizor/vizor/pkg/engine"
	"github.com/vizor/vizor/pkg/render/recorder"
	"github.com/vizor/vizor/pkg/telemetry"
)

// DefaultMaxRequestBytes caps request bodies of the host API.
const DefaultMaxRequestBytes = 8 << 20

// ServerOptions configures the HTTP host API.
type ServerOptions struct {
	// MetricsPath is where Prometheus metrics are served. Empty disables it.
	MetricsPath string

	// WebhookTimeout bounds click webhook deliveries.
	WebhookTimeout time.Duration

	// MaxRequestBytes caps request bodies. Defaults to DefaultMaxRequestBytes.
	MaxRequestBytes int64
}

// Server exposes a Bridge over HTTP.
//
//	POST   /api/charts/{id}             create
//	PUT    /api/charts/{id}             update
//	GET    /api/charts/{id}             handle and rendered state
//	DELETE /api/charts/{id}             dispose
//	POST   /api/charts/{id}/clear
//	POST   /api/charts/{id}/resize
//	POST   /api/charts/{id}/click-hook  forward clicks to a webhook
//	GET    /api/datasources/{key}
//	PUT    /api/logging
type Server struct {
	bridge *Bridge
	router chi.Router
	logger *telemetry.Logger
	opts   ServerOptions
}

// chartRequest is the body of create and update calls. Each payload is
// either a JSON value or a string holding JSON or an expression.
type chartRequest struct {
	Theme        string          `json:"theme,omitempty"`
	InitOptions  json.RawMessage `json:"initOptions,omitempty"`
	ChartOptions json.RawMessage `json:"chartOptions,omitempty"`
	MapOptions   json.RawMessage `json:"mapOptions,omitempty"`
	FetchOptions json.RawMessage `json:"fetchOptions,omitempty"`
}

type clickHookRequest struct {
	URL     string `json:"url"`
	Timeout string `json:"timeout,omitempty"`
}

type loggingRequest struct {
	Enabled bool `json:"enabled"`
}

type chartResponse struct {
	Chart    *engine.ChartHandle `json:"chart"`
	Rendered *recorder.Snapshot  `json:"rendered,omitempty"`
}

// NewServer creates the host API for b.
func NewServer(b *Bridge, opts ServerOptions) *Server {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if opts.WebhookTimeout <= 0 {
		opts.WebhookTimeout = DefaultWebhookTimeout
	}

	s := &Server{
		bridge: b,
		logger: b.tel.Logger.NewComponentLogger("server"),
		opts:   opts,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if s.opts.MetricsPath != "" {
		r.Method(http.MethodGet, s.opts.MetricsPath, s.bridge.tel.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/charts/{id}", func(r chi.Router) {
			r.Post("/", s.handleCreate)
			r.Put("/", s.handleUpdate)
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDispose)
			r.Post("/clear", s.handleClear)
			r.Post("/resize", s.handleResize)
			r.Post("/click-hook", s.handleClickHook)
			r.Post("/events/{event}", s.handleEmit)
		})
		r.Get("/charts", s.handleList)
		r.Get("/datasources/{key}", s.handleDataSource)
		r.Put("/logging", s.handleLogging)
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("host API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down host API: %w", err)
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.WithFields(map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request served")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"charts": len(s.bridge.Charts()),
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"charts": s.bridge.Charts()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req chartRequest
	if !s.decode(w, r, &req) {
		return
	}

	err := s.bridge.CreateChart(r.Context(), id, req.Theme,
		payloadText(req.InitOptions), payloadText(req.ChartOptions),
		payloadText(req.MapOptions), payloadText(req.FetchOptions))
	if err != nil {
		writeChartError(w, err)
		return
	}
	s.writeChart(w, http.StatusCreated, id)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireChart(w, r)
	if !ok {
		return
	}

	var req chartRequest
	if !s.decode(w, r, &req) {
		return
	}

	err := s.bridge.UpdateChart(r.Context(), id,
		payloadText(req.ChartOptions), payloadText(req.MapOptions), payloadText(req.FetchOptions))
	if err != nil {
		writeChartError(w, err)
		return
	}
	s.writeChart(w, http.StatusOK, id)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireChart(w, r)
	if !ok {
		return
	}
	s.writeChart(w, http.StatusOK, id)
}

func (s *Server) handleDispose(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireChart(w, r)
	if !ok {
		return
	}
	if err := s.bridge.DisposeChart(r.Context(), id); err != nil {
		// The chart is released even when evictions fail.
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireChart(w, r)
	if !ok {
		return
	}
	s.bridge.ClearChart(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireChart(w, r)
	if !ok {
		return
	}
	s.bridge.ResizeChart(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClickHook(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireChart(w, r)
	if !ok {
		return
	}

	var req clickHookRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeJSONError(w, http.StatusBadRequest, "url is required")
		return
	}

	timeout := s.opts.WebhookTimeout
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid timeout %q", req.Timeout))
			return
		}
		timeout = d
	}

	s.bridge.BindClick(r.Context(), id, NewWebhookCallback(req.URL, timeout))
	w.WriteHeader(http.StatusNoContent)
}

// handleEmit simulates an interaction event on a recorded chart.
func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireChart(w, r)
	if !ok {
		return
	}
	inst, ok := s.recorded(id)
	if !ok {
		writeJSONError(w, http.StatusNotImplemented, "the rendering engine does not support simulated events")
		return
	}

	var params map[string]interface{}
	if !s.decode(w, r, &params) {
		return
	}
	handlers := inst.Emit(chi.URLParam(r, "event"), params)
	writeJSON(w, http.StatusOK, map[string]interface{}{"handlers": handlers})
}

func (s *Server) handleDataSource(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, ok := s.bridge.GetCachedDataSource(r.Context(), key)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("data source %s not found", key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

func (s *Server) handleLogging(w http.ResponseWriter, r *http.Request) {
	var req loggingRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.bridge.SetLogging(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]interface{}{"verbose": s.bridge.Verbose()})
}

// requireChart answers 404 for ids without a live chart.
func (s *Server) requireChart(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, ok := s.bridge.Chart(id); !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("chart %s not found", id))
		return "", false
	}
	return id, true
}

func (s *Server) recorded(id string) (*recorder.Instance, bool) {
	rec, ok := s.bridge.Renderer().(*recorder.Renderer)
	if !ok {
		return nil, false
	}
	return rec.Instance(id)
}

func (s *Server) writeChart(w http.ResponseWriter, status int, id string) {
	handle, ok := s.bridge.Chart(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("chart %s not found", id))
		return
	}
	resp := chartResponse{Chart: handle}
	if inst, ok := s.recorded(id); ok {
		snap := inst.Snapshot()
		resp.Rendered = &snap
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body. An empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.opts.MaxRequestBytes+1))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if int64(len(body)) > s.opts.MaxRequestBytes {
		writeJSONError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", s.opts.MaxRequestBytes))
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// payloadText turns a request field into the textual payload the bridge
// takes. Strings are unwrapped so they can carry expressions.
func payloadText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// writeChartError maps classified chart errors to status codes.
func writeChartError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case engine.IsFatalDecode(err):
		status = http.StatusBadRequest
	case engine.IsFetchFailure(err):
		status = http.StatusBadGateway
	}

	body := map[string]interface{}{
		"error":  err.Error(),
		"status": status,
	}
	if code := engine.ErrorCode(err); code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}
