package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*httptest.Server, *Bridge) {
	t.Helper()
	b := newTestBridge(t, testSettings())
	srv := httptest.NewServer(NewServer(b, ServerOptions{MetricsPath: "/metrics"}).Handler())
	t.Cleanup(srv.Close)
	return srv, b
}

func do(t *testing.T, method, url, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	if len(bytes.TrimSpace(raw)) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("invalid JSON response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestServer_ChartLifecycle(t *testing.T) {
	data := newDataServer(t)
	srv, _ := newTestServer(t)

	body := fmt.Sprintf(`{
		"theme": "dark",
		"initOptions": {"renderer": "svg"},
		"chartOptions": {"series": [{"type": "pie"}]},
		"fetchOptions": [{"id": "regions", "url": %q, "fetchAs": "json", "path": "data.regions"}]
	}`, data.URL+"/regions.json")

	status, out := do(t, http.MethodPost, srv.URL+"/api/charts/sales", body)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, body = %v", status, out)
	}
	chart := out["chart"].(map[string]interface{})
	if chart["state"] != "ready" {
		t.Errorf("state = %v", chart["state"])
	}
	if keys := chart["data_source_keys"].([]interface{}); len(keys) != 1 || keys[0] != "regions" {
		t.Errorf("data_source_keys = %v", keys)
	}
	rendered := out["rendered"].(map[string]interface{})
	if rendered["theme"] != "dark" || rendered["loading"] != false {
		t.Errorf("rendered = %v", rendered)
	}

	status, out = do(t, http.MethodGet, srv.URL+"/api/datasources/regions", "")
	if status != http.StatusOK || len(out["value"].([]interface{})) != 2 {
		t.Errorf("datasource status = %d, body = %v", status, out)
	}

	// Expression payloads travel as strings.
	status, out = do(t, http.MethodPut, srv.URL+"/api/charts/sales",
		`{"chartOptions": "{'title': {'text': 'n=%d' % len(range(3))}}"}`)
	if status != http.StatusOK {
		t.Fatalf("update status = %d, body = %v", status, out)
	}
	option := out["rendered"].(map[string]interface{})["option"].(map[string]interface{})
	if option["title"].(map[string]interface{})["text"] != "n=3" {
		t.Errorf("option = %v", option)
	}

	for _, action := range []string{"resize", "clear"} {
		if status, _ := do(t, http.MethodPost, srv.URL+"/api/charts/sales/"+action, ""); status != http.StatusNoContent {
			t.Errorf("%s status = %d", action, status)
		}
	}

	status, out = do(t, http.MethodGet, srv.URL+"/api/charts", "")
	if status != http.StatusOK || len(out["charts"].([]interface{})) != 1 {
		t.Errorf("list status = %d, body = %v", status, out)
	}

	if status, _ := do(t, http.MethodDelete, srv.URL+"/api/charts/sales", ""); status != http.StatusNoContent {
		t.Errorf("dispose status = %d", status)
	}
	if status, _ := do(t, http.MethodGet, srv.URL+"/api/datasources/regions", ""); status != http.StatusNotFound {
		t.Errorf("datasource after dispose status = %d", status)
	}
	if status, _ := do(t, http.MethodDelete, srv.URL+"/api/charts/sales", ""); status != http.StatusNotFound {
		t.Errorf("second dispose status = %d", status)
	}
}

func TestServer_Errors(t *testing.T) {
	data := newDataServer(t)
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"invalid init options", http.MethodPost, "/api/charts/a", `{"initOptions": "not json", "chartOptions": {}}`, http.StatusBadRequest, "FATAL_DECODE"},
		{"fetch failure", http.MethodPost, "/api/charts/b", fmt.Sprintf(`{"chartOptions": {}, "fetchOptions": [{"id": "x", "url": %q}]}`, data.URL+"/broken"), http.StatusBadGateway, "FETCH_FAILED"},
		{"undecodable options", http.MethodPost, "/api/charts/c", `{"chartOptions": "{'a': "}`, http.StatusBadRequest, "FATAL_DECODE"},
		{"invalid body", http.MethodPost, "/api/charts/d", `{`, http.StatusBadRequest, ""},
		{"update unknown", http.MethodPut, "/api/charts/missing", `{}`, http.StatusNotFound, ""},
		{"clear unknown", http.MethodPost, "/api/charts/missing/clear", "", http.StatusNotFound, ""},
		{"unknown data source", http.MethodGet, "/api/datasources/missing", "", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := do(t, tt.method, srv.URL+tt.path, tt.body)
			if status != tt.status {
				t.Errorf("status = %d, want %d (body %v)", status, tt.status, out)
			}
			if tt.code != "" && out["code"] != tt.code {
				t.Errorf("code = %v, want %s", out["code"], tt.code)
			}
		})
	}
}

func TestServer_ClickHook(t *testing.T) {
	var (
		mu       sync.Mutex
		received []ClickNotification
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n ClickNotification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, n)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer hook.Close()

	srv, _ := newTestServer(t)

	if status, out := do(t, http.MethodPost, srv.URL+"/api/charts/pie", `{"chartOptions": {}}`); status != http.StatusCreated {
		t.Fatalf("create status = %d, body = %v", status, out)
	}
	if status, _ := do(t, http.MethodPost, srv.URL+"/api/charts/pie/click-hook", `{"url": ""}`); status != http.StatusBadRequest {
		t.Errorf("empty url status = %d", status)
	}
	if status, _ := do(t, http.MethodPost, srv.URL+"/api/charts/pie/click-hook", fmt.Sprintf(`{"url": %q, "timeout": "2s"}`, hook.URL)); status != http.StatusNoContent {
		t.Fatalf("click-hook status = %d", status)
	}

	status, out := do(t, http.MethodPost, srv.URL+"/api/charts/pie/events/click",
		`{"name": "north", "value": 3, "encode": {"x": [0]}, "event": {"offsetX": 4}}`)
	if status != http.StatusOK || out["handlers"] != 1.0 {
		t.Fatalf("emit status = %d, body = %v", status, out)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("webhook received %d notifications, want 1", len(received))
	}
	n := received[0]
	if n.ChartID != "pie" || n.Params["name"] != "north" || n.ID == "" {
		t.Errorf("notification = %+v", n)
	}
	if _, ok := n.Params["encode"]; ok {
		t.Error("encode was forwarded")
	}
	if _, ok := n.Params["event"]; ok {
		t.Error("event was forwarded")
	}
}

func TestServer_LoggingHealthMetrics(t *testing.T) {
	srv, b := newTestServer(t)

	status, out := do(t, http.MethodPut, srv.URL+"/api/logging", `{"enabled": true}`)
	if status != http.StatusOK || out["verbose"] != true || !b.Verbose() {
		t.Errorf("logging status = %d, body = %v", status, out)
	}

	status, out = do(t, http.MethodGet, srv.URL+"/healthz", "")
	if status != http.StatusOK || out["status"] != "ok" {
		t.Errorf("healthz status = %d, body = %v", status, out)
	}

	do(t, http.MethodPost, srv.URL+"/api/charts/m", `{"chartOptions": {}}`)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "vizor_") {
		t.Errorf("metrics status = %d, body = %.200s", resp.StatusCode, raw)
	}
}

func TestServer_RequestLimit(t *testing.T) {
	b := newTestBridge(t, testSettings())
	srv := httptest.NewServer(NewServer(b, ServerOptions{MaxRequestBytes: 16}).Handler())
	defer srv.Close()

	status, _ := do(t, http.MethodPost, srv.URL+"/api/charts/big", `{"chartOptions": {"title": "much too long"}}`)
	if status != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", status)
	}
}

func TestWebhookCallback_Errors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	ctx := context.Background()
	if err := NewWebhookCallback(failing.URL, 0).HandleChartClick(ctx, "c", nil); err == nil {
		t.Error("expected an error for a 503 answer")
	}

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	if err := NewWebhookCallback(slow.URL, 50*time.Millisecond).HandleChartClick(ctx, "c", nil); err == nil {
		t.Error("expected a timeout error")
	}
}

func TestPayloadText(t *testing.T) {
	tests := map[string]string{
		``:                  "",
		`null`:              "",
		` {"a": 1} `:        `{"a": 1}`,
		`"{'a': 1}"`:        `{'a': 1}`,
		`[1, 2]`:            `[1, 2]`,
		`"lambda x: x + 1"`: "lambda x: x + 1",
	}
	for raw, want := range tests {
		if got := payloadText(json.RawMessage(raw)); got != want {
			t.Errorf("payloadText(%q) = %q, want %q", raw, got, want)
		}
	}
}
