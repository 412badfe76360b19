package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefinitionLoader_ParseInline(t *testing.T) {
	loader := NewDefinitionLoader()
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		format    string
		errCount  int
		checkFunc func(*testing.T, *DefinitionSet)
	}{
		{
			name:   "cue chart keyed by name",
			format: "cue",
			content: `
charts: sales: {
	theme: "dark"
	init: renderer: "svg"
	options: series: [{type: "bar", data: [1, 2, 3]}]
	fetch: [{id: "regions", url: "https://example.com/regions.json", fetchAs: "json", path: "data.items"}]
}
`,
			checkFunc: func(t *testing.T, ds *DefinitionSet) {
				if len(ds.Charts) != 1 {
					t.Fatalf("expected 1 chart, got %d", len(ds.Charts))
				}
				c := ds.Charts[0]
				if c.ID != "sales" || c.Container != "sales" || c.Theme != "dark" {
					t.Errorf("unexpected chart %+v", c)
				}
				if len(c.Fetch) != 1 || c.Fetch[0]["id"] != "regions" {
					t.Errorf("unexpected fetch list %v", c.Fetch)
				}
			},
		},
		{
			name:   "yaml",
			format: "yaml",
			content: `
charts:
  traffic:
    id: traffic-chart
    optionsExpr: '{"series": [{"type": "line"}]}'
    maps:
      - name: campus
        type: svg
        svg: "<svg></svg>"
`,
			checkFunc: func(t *testing.T, ds *DefinitionSet) {
				c, ok := ds.Chart("traffic-chart")
				if !ok {
					t.Fatalf("chart not found in %+v", ds.Charts)
				}
				if c.OptionsExpr == "" || len(c.Maps) != 1 {
					t.Errorf("unexpected chart %+v", c)
				}
			},
		},
		{
			name:    "json",
			format:  "json",
			content: `{"charts": {"a": {"options": {}}, "b": {"options": {}}}}`,
			checkFunc: func(t *testing.T, ds *DefinitionSet) {
				if len(ds.Charts) != 2 || ds.Charts[0].ID != "a" || ds.Charts[1].ID != "b" {
					t.Errorf("expected charts sorted by id, got %+v", ds.Charts)
				}
			},
		},
		{
			name:     "invalid CUE syntax",
			format:   "cue",
			content:  `charts: sales: {`,
			errCount: 1,
		},
		{
			name:   "schema violation",
			format: "cue",
			content: `
charts: sales: fetch: [{id: "x", fetchAs: "json"}]
`,
			errCount: 1,
		},
		{
			name:     "options and optionsExpr together",
			format:   "json",
			content:  `{"charts": {"a": {"options": {}, "optionsExpr": "{}"}}}`,
			errCount: 1,
		},
		{
			name:     "invalid yaml",
			format:   "yaml",
			content:  "charts: [",
			errCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := loader.ParseInline(ctx, tt.content, tt.format)
			if err != nil {
				t.Fatalf("ParseInline() error = %v", err)
			}
			if tt.errCount == 0 && !ds.Valid() {
				t.Fatalf("unexpected errors: %v", ds.Errors)
			}
			if tt.errCount > 0 && len(ds.Errors) < tt.errCount {
				t.Fatalf("expected at least %d errors, got %v", tt.errCount, ds.Errors)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, ds)
			}
		})
	}
}

func TestDefinitionLoader_LoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sales.cue", `charts: sales: options: title: text: "Sales"`)
	writeFile(t, dir, "traffic.yaml", "charts:\n  traffic:\n    options:\n      series: []\n")
	writeFile(t, dir, "README.md", "not a definition")

	loader := NewDefinitionLoader()
	ds, err := loader.Load(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !ds.Valid() {
		t.Fatalf("unexpected errors: %v", ds.Errors)
	}
	if len(ds.SourceFiles) != 2 {
		t.Errorf("expected 2 source files, got %v", ds.SourceFiles)
	}
	if _, ok := ds.Chart("sales"); !ok {
		t.Error("sales chart missing")
	}
	if _, ok := ds.Chart("traffic"); !ok {
		t.Error("traffic chart missing")
	}
}

func TestDefinitionLoader_ConflictingFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.cue", `charts: sales: theme: "dark"`)
	b := writeFile(t, dir, "b.cue", `charts: sales: theme: "light"`)

	ds, err := NewDefinitionLoader().Load(context.Background(), []string{a, b})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ds.Valid() {
		t.Fatal("expected conflict between files to be reported")
	}
}

func TestDefinitionLoader_MissingSource(t *testing.T) {
	if _, err := NewDefinitionLoader().Load(context.Background(), []string{"/does/not/exist.cue"}); err == nil {
		t.Fatal("expected error for missing source")
	}
	if _, err := NewDefinitionLoader().Load(context.Background(), nil); err == nil {
		t.Fatal("expected error for no sources")
	}
}

func TestChartDefinition_Payloads(t *testing.T) {
	def := ChartDefinition{
		ID:      "sales",
		Init:    map[string]interface{}{"renderer": "svg"},
		Options: map[string]interface{}{"series": []interface{}{}},
		Fetch: []map[string]interface{}{
			{"id": "k", "url": "https://example.com"},
		},
	}

	initOpts, chartOpts, mapOpts, fetchOpts, err := def.Payloads()
	if err != nil {
		t.Fatalf("Payloads() error = %v", err)
	}
	if initOpts != `{"renderer":"svg"}` {
		t.Errorf("init = %s", initOpts)
	}
	if chartOpts != `{"series":[]}` {
		t.Errorf("options = %s", chartOpts)
	}
	if mapOpts != "" {
		t.Errorf("maps = %q, want empty", mapOpts)
	}
	if !strings.Contains(fetchOpts, `"id":"k"`) {
		t.Errorf("fetch = %s", fetchOpts)
	}

	def.Options = nil
	def.OptionsExpr = `{"series": []}`
	_, chartOpts, _, _, err = def.Payloads()
	if err != nil {
		t.Fatalf("Payloads() error = %v", err)
	}
	if chartOpts != def.OptionsExpr {
		t.Errorf("options = %s, want expression passed through", chartOpts)
	}
}
