package bridge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/vizor/vizor/pkg/config"
	"github.com/vizor/vizor/pkg/engine"
	"github.com/vizor/vizor/pkg/render/recorder"
)

func testSettings() *config.Settings {
	settings := config.DefaultSettings()
	settings.Logging.Level = "error"
	settings.Logging.Output = "stderr"
	return settings
}

func newDataServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/regions.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data": {"regions": [{"name": "north", "value": 3}, {"name": "south", "value": 5}]}}`)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestBridge(t *testing.T, settings *config.Settings, opts ...Option) *Bridge {
	t.Helper()
	b, err := New(context.Background(), settings, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func recorded(t *testing.T, b *Bridge, id string) *recorder.Instance {
	t.Helper()
	rec, ok := b.Renderer().(*recorder.Renderer)
	if !ok {
		t.Fatalf("renderer is %T, want the recorder", b.Renderer())
	}
	inst, ok := rec.Instance(id)
	if !ok {
		t.Fatalf("no instance for %s", id)
	}
	return inst
}

func TestBridge_Lifecycle(t *testing.T) {
	data := newDataServer(t)
	b := newTestBridge(t, testSettings())
	ctx := context.Background()

	fetch := fmt.Sprintf(`[{"id": "regions", "url": %q, "fetchAs": "json", "path": "data.regions",
		"afterLoad": "lambda rows: [r['value'] for r in rows]"}]`, data.URL+"/regions.json")

	err := b.CreateChart(ctx, "sales", "dark", `{"renderer": "svg"}`,
		`{"series": [{"type": "bar"}]}`, "", fetch)
	if err != nil {
		t.Fatalf("CreateChart() error = %v", err)
	}

	handle, ok := b.Chart("sales")
	if !ok || handle.State() != engine.ChartStateReady {
		t.Fatalf("chart not ready: %v", handle)
	}
	inst := recorded(t, b, "sales")
	if inst.Loading() {
		t.Error("loading indicator still shown")
	}
	if inst.Option() == nil {
		t.Error("no option applied")
	}

	value, ok := b.GetCachedDataSource(ctx, "regions")
	if !ok {
		t.Fatal("regions not cached")
	}
	if !reflect.DeepEqual(value, []interface{}{3.0, 5.0}) {
		t.Errorf("regions = %v, want [3 5]", value)
	}

	if err := b.UpdateChart(ctx, "sales", `{"title": {"text": "updated"}}`, "", ""); err != nil {
		t.Fatalf("UpdateChart() error = %v", err)
	}
	b.ResizeChart(ctx, "sales")
	b.ClearChart(ctx, "sales")
	if inst.Option() != nil {
		t.Error("option survived ClearChart")
	}

	if err := b.DisposeChart(ctx, "sales"); err != nil {
		t.Fatalf("DisposeChart() error = %v", err)
	}
	if _, ok := b.GetCachedDataSource(ctx, "regions"); ok {
		t.Error("regions still cached after dispose")
	}
	if !inst.Disposed() {
		t.Error("instance not disposed")
	}
	if len(b.Charts()) != 0 {
		t.Errorf("Charts() = %v", b.Charts())
	}
}

func TestBridge_FetchFailure(t *testing.T) {
	data := newDataServer(t)
	b := newTestBridge(t, testSettings())
	ctx := context.Background()

	fetch := fmt.Sprintf(`[{"id": "broken", "url": %q}]`, data.URL+"/broken")
	err := b.CreateChart(ctx, "c", "", "", `{}`, "", fetch)
	if !engine.IsFetchFailure(err) {
		t.Fatalf("CreateChart() error = %v, want a fetch failure", err)
	}

	handle, _ := b.Chart("c")
	if handle.State() != engine.ChartStateLoading {
		t.Errorf("state = %s, want loading", handle.State())
	}
	if !recorded(t, b, "c").Loading() {
		t.Error("loading indicator hidden after a fetch failure")
	}
}

func TestBridge_PolicyDeniesFetch(t *testing.T) {
	settings := testSettings()
	settings.Policy.Enabled = true
	b := newTestBridge(t, settings)

	err := b.CreateChart(context.Background(), "c", "", "", `{}`, "",
		`[{"id": "local", "url": "file:///etc/passwd", "fetchAs": "string"}]`)
	if engine.ErrorCode(err) != engine.ErrCodePolicyDenied {
		t.Fatalf("CreateChart() error = %v, want POLICY_DENIED", err)
	}
	if _, ok := b.GetCachedDataSource(context.Background(), "local"); ok {
		t.Error("denied source was cached")
	}
}

func TestBridge_SQLiteCache(t *testing.T) {
	data := newDataServer(t)
	settings := testSettings()
	settings.Cache.Backend = config.CacheBackendSQLite
	settings.Cache.SQLite.Path = filepath.Join(t.TempDir(), "cache.db")
	b := newTestBridge(t, settings)
	ctx := context.Background()

	fetch := fmt.Sprintf(`[{"id": "regions", "url": %q, "fetchAs": "json", "path": "data.regions"}]`, data.URL+"/regions.json")
	if err := b.CreateChart(ctx, "c", "", "", `{}`, "", fetch); err != nil {
		t.Fatalf("CreateChart() error = %v", err)
	}

	value, ok := b.GetCachedDataSource(ctx, "regions")
	rows, _ := value.([]interface{})
	if !ok || len(rows) != 2 {
		t.Errorf("regions = %v, %v", value, ok)
	}

	if err := b.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() after Close = nil, want an error")
	}
}

func TestBridge_WithRendererAndTransport(t *testing.T) {
	rec := recorder.New()
	transport := engine.Transport(staticTransport{body: `[1, 2]`})

	b := newTestBridge(t, testSettings(), WithRenderer(rec, rec), WithTransport(transport))
	ctx := context.Background()

	err := b.CreateChart(ctx, "c", "", "", `{}`, "",
		`[{"id": "nums", "url": "https://example.com/nums", "fetchAs": "json"}]`)
	if err != nil {
		t.Fatalf("CreateChart() error = %v", err)
	}
	if b.Renderer() != engine.Renderer(rec) {
		t.Error("Renderer() is not the injected recorder")
	}
	if rec.ResizeListeners() != 1 {
		t.Errorf("ResizeListeners() = %d, want 1", rec.ResizeListeners())
	}

	if n := rec.TriggerResize(); n != 1 {
		t.Errorf("TriggerResize() = %d", n)
	}
	inst, _ := rec.Instance("c")
	if inst.Snapshot().Resizes != 1 {
		t.Errorf("Resizes = %d, want 1", inst.Snapshot().Resizes)
	}

	if err := b.Close(ctx); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if rec.ResizeListeners() != 0 {
		t.Error("Close left resize listeners bound")
	}
}

func TestBridge_SetLogging(t *testing.T) {
	b := newTestBridge(t, testSettings())

	b.SetLogging(true)
	if !b.Verbose() {
		t.Error("Verbose() = false after SetLogging(true)")
	}
	b.SetLogging(false)
	if b.Verbose() {
		t.Error("Verbose() = true after SetLogging(false)")
	}
}

func TestNew_InvalidSettings(t *testing.T) {
	settings := testSettings()
	settings.Cache.Backend = "etcd"
	if _, err := New(context.Background(), settings); err == nil {
		t.Error("expected an error for an unknown cache backend")
	}

	settings = testSettings()
	settings.SFTP.Enabled = true
	settings.SFTP.User = "deploy"
	settings.SFTP.KeyFile = filepath.Join(t.TempDir(), "missing_key")
	if _, err := New(context.Background(), settings); err == nil {
		t.Error("expected an error for a missing sftp key")
	}
}

func TestSFTPConfig(t *testing.T) {
	cfg := sftpConfig(config.SFTPSettings{
		User:                  "deploy",
		Password:              "secret",
		InsecureIgnoreHostKey: true,
	})
	if cfg.AuthMethod != "password" || cfg.Password != "secret" || cfg.StrictHostKeyChecking {
		t.Errorf("sftpConfig() = %+v", cfg)
	}

	cfg = sftpConfig(config.SFTPSettings{User: "deploy", KeyFile: "/keys/id", KnownHosts: "/hosts"})
	if cfg.PrivateKeyPath != "/keys/id" || cfg.KnownHostsPath != "/hosts" || !cfg.StrictHostKeyChecking {
		t.Errorf("sftpConfig() = %+v", cfg)
	}
}

type staticTransport struct {
	body string
}

func (s staticTransport) Fetch(context.Context, string, engine.FetchOptions) (*engine.Response, error) {
	return &engine.Response{OK: true, Status: 200, Body: []byte(s.body)}, nil
}
