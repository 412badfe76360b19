package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Built-in schema names.
const (
	SchemaDefinitions = "definitions"
	SchemaChart       = "chart"
	SchemaFetch       = "fetch"
	SchemaMap         = "map"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas. They share one
// source so definitions can refer to each other.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	for name, def := range map[string]string{
		SchemaDefinitions: "#Definitions",
		SchemaChart:       "#Chart",
		SchemaFetch:       "#Fetch",
		SchemaMap:         "#Map",
	} {
		if err := sr.RegisterSchema(name, def, builtinChartSchemas); err != nil {
			panic(fmt.Sprintf("built-in schema %s: %v", name, err))
		}
	}
}

// RegisterSchema compiles schema and registers the definition def (for
// example "#Chart") under name.
func (sr *SchemaRegistry) RegisterSchema(name, def, schema string) error {
	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	defVal := val.LookupPath(cue.ParsePath(def))
	if !defVal.Exists() {
		return fmt.Errorf("schema %s does not declare %s", name, def)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = defVal
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	return sr.ValidateValue(schemaName, schema, dataVal)
}

// ValidateValue unifies val with schema and requires a concrete result.
func (sr *SchemaRegistry) ValidateValue(schemaName string, schema, val cue.Value) error {
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s validation failed: %w", schemaName, err)
	}
	return nil
}

// Context returns the CUE context values must be built in to be validated.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateChart validates a single chart definition.
func (sr *SchemaRegistry) ValidateChart(ctx context.Context, chart ChartDefinition) error {
	return sr.ValidateAgainstSchema(ctx, SchemaChart, chart)
}

// Built-in schema definitions

const builtinChartSchemas = `
// Fetch describes one external data source of a chart.
#Fetch: {
	id:  string & !=""
	url: string & !=""

	fetchAs?:   "json" | "string"
	path?:      string
	afterLoad?: string

	options?: {
		method?:  "GET" | "POST" | "PUT" | "PATCH" | "DELETE" | "HEAD"
		headers?: {[string]: string}
		body?:    _
	}
}

// Map describes a named map registered with the rendering engine.
#Map: {
	mapName?: string
	name?:    string
	type:     "geoJSON" | "svg"

	geoJSON?:      _
	specialAreas?: _
	svg?:          string
}

// Chart describes a chart to create.
#Chart: {
	id?:        string & =~"^[A-Za-z0-9_.:-]+$"
	container?: string
	theme?:     string

	init?: {...}

	// At most one of options and optionsExpr may be given.
	options?:     _
	optionsExpr?: string

	maps?:  [...#Map]
	fetch?: [...#Fetch]
}

#Definitions: {
	charts: {[string]: #Chart}
}
`
