package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	content := `# Blocks the reporting warehouse
# during business hours
package vizor.warehouse

deny contains "warehouse is busy" if input.host == "warehouse.example"
`
	path := writePolicy(t, dir, "warehouse.rego", content)

	policy, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "warehouse" {
		t.Errorf("Name = %q, want warehouse", policy.Name)
	}
	if policy.Rego != content {
		t.Error("Rego content doesn't match")
	}
	if policy.Description != "Blocks the reporting warehouse during business hours" {
		t.Errorf("Description = %q", policy.Description)
	}
	if !policy.Enabled || policy.Builtin {
		t.Error("file policies are enabled and not builtin")
	}
	if policy.Severity != SeverityError {
		t.Errorf("Severity = %s, want error", policy.Severity)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	data, err := json.Marshal(Policy{
		Name:     "json-policy",
		Rego:     "package p\n\ndeny contains \"x\" if false\n",
		Severity: SeverityCritical,
		Enabled:  true,
		Builtin:  true,
	})
	if err != nil {
		t.Fatal(err)
	}
	path := writePolicy(t, dir, "policy.json", string(data))

	policy, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "json-policy" || policy.Severity != SeverityCritical {
		t.Errorf("policy = %+v", policy)
	}
	if policy.Builtin {
		t.Error("file policies can not claim to be builtin")
	}
	if policy.CreatedAt.IsZero() {
		t.Error("CreatedAt should default to now")
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	tests := map[string]string{
		"policy.txt":   "package p",
		"invalid.json": "{ invalid",
		"unnamed.json": `{"rego": "package p"}`,
		"missing.rego": "",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if name != "missing.rego" {
				writePolicy(t, dir, name, content)
			}
			if _, err := loader.loadFromFile(context.Background(), path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadFromPaths(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()
	nested := filepath.Join(dir, "team", "sales")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	writePolicy(t, dir, "b.rego", "package b")
	writePolicy(t, nested, "a.rego", "package a")
	writePolicy(t, dir, "README.md", "# not a policy")
	writePolicy(t, dir, "broken.json", "{")
	single := writePolicy(t, t.TempDir(), "c.rego", "package c")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir, single})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}

	var names []string
	for _, p := range policies {
		names = append(names, p.Name)
	}
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Errorf("names = %v, want [a b c]", names)
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "nope")}); err == nil {
		t.Error("expected an error for a missing path")
	}
}

func TestLoadBundle(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	bundle := PolicyBundle{
		Name:    "fetch-rules",
		Version: "1.2.0",
		Policies: []Policy{
			{Name: "one", Rego: "package one"},
			{Name: "two", Rego: "package two"},
		},
		CreatedAt: time.Now(),
	}
	data, _ := json.Marshal(bundle)
	path := writePolicy(t, dir, "bundle.json", string(data))

	loaded, err := loader.LoadBundle(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadBundle() error = %v", err)
	}
	if loaded.Name != "fetch-rules" || loaded.Version != "1.2.0" || len(loaded.Policies) != 2 {
		t.Errorf("bundle = %+v", loaded)
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"single line", "# Deny ftp\npackage p", "Deny ftp"},
		{"multi line", "# Deny ftp\n# and gopher\npackage p", "Deny ftp and gopher"},
		{"blank line ends block", "# Header\n\n# Not part\npackage p", "Header"},
		{"leading blank lines", "\n\n# Late header\npackage p", "Late header"},
		{"no comment", "package p\n# trailing", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractDescription(tt.content); got != tt.want {
				t.Errorf("extractDescription() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()
	path := writePolicy(t, dir, "p.rego", "package old")

	if _, err := loader.loadFromFile(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	writePolicy(t, dir, "p.rego", "package updated")

	cached, _ := loader.loadFromFile(context.Background(), path)
	if cached.Rego != "package old" {
		t.Error("expected the cached policy")
	}

	loader.ClearCache()
	fresh, _ := loader.loadFromFile(context.Background(), path)
	if fresh.Rego != "package updated" {
		t.Errorf("Rego = %q after ClearCache", fresh.Rego)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	loader.SetReloadDelay(20 * time.Millisecond)
	dir := t.TempDir()
	writePolicy(t, dir, "a.rego", "package a")

	var mu sync.Mutex
	var reloads [][]Policy
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		mu.Lock()
		reloads = append(reloads, policies)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer func() { _ = loader.StopWatching() }()

	writePolicy(t, dir, "b.rego", "package b")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(reloads)
		var last []Policy
		if n > 0 {
			last = reloads[n-1]
		}
		mu.Unlock()

		if len(last) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("policies were not reloaded after a new file appeared")
}

func TestEngineWatch_SwapsPolicies(t *testing.T) {
	eng := newTestEngine(t)
	eng.loader.SetReloadDelay(20 * time.Millisecond)
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writePolicy(t, dir, "block.rego", "package vizor.block\n\ndeny contains \"blocked\" if input.host == \"blocked.example\"\n")

	d := descriptor("a", "https://blocked.example/a", "")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if reasons, _ := eng.Admit(ctx, "c", d); len(reasons) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("watched policy never took effect")
}
