package recorder

import (
	"context"
	"reflect"
	"testing"

	"github.com/vizor/vizor/pkg/engine"
)

func TestRenderer_Init(t *testing.T) {
	r := New()
	ctx := context.Background()

	inst, err := r.Init(ctx, "sales", "dark", map[string]interface{}{"renderer": "svg"})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	got, ok := r.Instance("sales")
	if !ok || got != inst {
		t.Fatal("Instance(sales) did not return the created instance")
	}
	snap := got.Snapshot()
	if snap.Theme != "dark" || snap.InitOptions["renderer"] != "svg" {
		t.Errorf("Snapshot() = %+v", snap)
	}

	if _, err := r.Init(ctx, "", "", nil); err == nil {
		t.Error("expected an error for an empty container")
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := r.Init(canceled, "x", "", nil); err == nil {
		t.Error("expected an error for a canceled context")
	}

	if _, err := r.Init(ctx, "alpha", "", nil); err != nil {
		t.Fatal(err)
	}
	if got := r.Containers(); !reflect.DeepEqual(got, []string{"alpha", "sales"}) {
		t.Errorf("Containers() = %v", got)
	}
}

func TestInstance_RecordsCalls(t *testing.T) {
	r := New()
	raw, _ := r.Init(context.Background(), "c", "", nil)
	inst := raw.(*Instance)

	inst.ShowLoading()
	if !inst.Loading() {
		t.Error("Loading() = false after ShowLoading")
	}
	if err := inst.SetOption(map[string]interface{}{"title": "x"}); err != nil {
		t.Fatal(err)
	}
	inst.HideLoading()
	inst.Resize()
	inst.Clear()
	inst.Dispose()

	var methods []string
	for _, c := range inst.Calls() {
		methods = append(methods, c.Method)
	}
	want := []string{"showLoading", "setOption", "hideLoading", "resize", "clear", "dispose"}
	if !reflect.DeepEqual(methods, want) {
		t.Errorf("calls = %v, want %v", methods, want)
	}

	if inst.Option() != nil {
		t.Errorf("Option() after Clear = %v", inst.Option())
	}
	if !inst.Disposed() {
		t.Error("Disposed() = false")
	}
	if err := inst.SetOption(map[string]interface{}{}); err == nil {
		t.Error("SetOption on a disposed instance should fail")
	}
}

func TestInstance_Emit(t *testing.T) {
	r := New()
	raw, _ := r.Init(context.Background(), "c", "", nil)
	inst := raw.(*Instance)

	var got []map[string]interface{}
	inst.On("click", func(p map[string]interface{}) { got = append(got, p) })

	if n := inst.Emit("click", map[string]interface{}{"name": "a"}); n != 1 {
		t.Errorf("Emit() ran %d handlers, want 1", n)
	}
	if n := inst.Emit("mouseover", nil); n != 0 {
		t.Errorf("Emit(mouseover) ran %d handlers", n)
	}
	if len(got) != 1 || got[0]["name"] != "a" {
		t.Errorf("handler saw %v", got)
	}

	inst.Dispose()
	if n := inst.Emit("click", nil); n != 0 {
		t.Errorf("disposed instance ran %d handlers", n)
	}
}

func TestRenderer_RegisterMap(t *testing.T) {
	r := New()

	if err := r.RegisterMap("world", engine.MapDefinition{GeoJSON: map[string]interface{}{}}); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterMap("floor", engine.MapDefinition{SVG: "<svg/>"}); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterMap("world", engine.MapDefinition{SVG: "<svg/>"}); err != nil {
		t.Fatal(err)
	}

	if got := r.Maps(); !reflect.DeepEqual(got, []string{"world", "floor"}) {
		t.Errorf("Maps() = %v", got)
	}
	if def, _ := r.Map("world"); def.SVG != "<svg/>" {
		t.Errorf("re-registration did not replace world: %+v", def)
	}

	if err := r.RegisterMap("", engine.MapDefinition{SVG: "x"}); err == nil {
		t.Error("expected an error for an empty name")
	}
	if err := r.RegisterMap("empty", engine.MapDefinition{}); err == nil {
		t.Error("expected an error for an empty definition")
	}
}

func TestRenderer_Viewport(t *testing.T) {
	r := New()

	var a, b int
	unsubA := r.OnResize(func() { a++ })
	r.OnResize(func() { b++ })

	if n := r.TriggerResize(); n != 2 {
		t.Errorf("TriggerResize() = %d, want 2", n)
	}

	unsubA()
	unsubA()
	if r.ResizeListeners() != 1 {
		t.Errorf("ResizeListeners() = %d, want 1", r.ResizeListeners())
	}

	r.TriggerResize()
	if a != 1 || b != 2 {
		t.Errorf("a = %d, b = %d, want 1 and 2", a, b)
	}
}
