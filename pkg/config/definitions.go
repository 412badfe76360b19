package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// definitionExtensions are the file types a DefinitionLoader reads.
var definitionExtensions = map[string]bool{
	".cue":  true,
	".yaml": true,
	".yml":  true,
	".json": true,
}

// DefinitionLoader loads chart definition files written in CUE, YAML or JSON
// and validates them against the built-in CUE schemas.
//
// Every file contributes to a top-level "charts" map keyed by chart name:
//
//	charts: sales: {
//		theme: "dark"
//		options: series: [{type: "bar", data: [1, 2, 3]}]
//		fetch: [{id: "regions", url: "https://example.com/regions.json", fetchAs: "json"}]
//	}
type DefinitionLoader struct {
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewDefinitionLoader creates a new definition loader.
func NewDefinitionLoader() *DefinitionLoader {
	return &DefinitionLoader{
		schemaRegistry: NewSchemaRegistry(),
		validator:      validator.New(),
	}
}

// Load reads definitions from the given files and directories. Directories
// are walked for .cue, .yaml, .yml and .json files. Validation problems are
// reported in DefinitionSet.Errors; the returned error is reserved for
// unreadable sources.
func (dl *DefinitionLoader) Load(ctx context.Context, sources []string) (*DefinitionSet, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var files []string
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}
		if info.IsDir() {
			found, err := dl.LoadFromDirectory(source)
			if err != nil {
				return nil, err
			}
			files = append(files, found...)
		} else {
			files = append(files, source)
		}
	}

	set := &DefinitionSet{
		SourceFiles: files,
		LoadedAt:    time.Now(),
	}

	cctx := dl.schemaRegistry.Context()
	var unified cue.Value
	for _, file := range files {
		val, errs := dl.loadFile(file)
		if len(errs) > 0 {
			set.Errors = append(set.Errors, errs...)
			continue
		}
		if !unified.Exists() {
			unified = val
		} else {
			unified = unified.Unify(val)
		}
	}
	if len(set.Errors) > 0 {
		return set, nil
	}
	if !unified.Exists() {
		unified = cctx.CompileString("charts: {}")
	}

	dl.extract(unified, set)
	return set, nil
}

// ParseInline parses definitions from inline content of the given format
// ("cue", "yaml" or "json").
func (dl *DefinitionLoader) ParseInline(ctx context.Context, content, format string) (*DefinitionSet, error) {
	set := &DefinitionSet{
		SourceFiles: []string{"inline"},
		LoadedAt:    time.Now(),
	}

	val, errs := dl.compile("inline", []byte(content), "."+strings.TrimPrefix(format, "."))
	if len(errs) > 0 {
		set.Errors = errs
		return set, nil
	}

	dl.extract(val, set)
	return set, nil
}

// loadFile loads a single definition file.
func (dl *DefinitionLoader) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}
	return dl.compile(path, content, strings.ToLower(filepath.Ext(path)))
}

// compile turns file content into a CUE value. YAML and JSON documents are
// decoded and encoded into the schema registry's CUE context.
func (dl *DefinitionLoader) compile(name string, content []byte, ext string) (cue.Value, []ValidationError) {
	cctx := dl.schemaRegistry.Context()

	var val cue.Value
	switch ext {
	case ".cue":
		val = cctx.CompileBytes(content, cue.Filename(name))
	case ".yaml", ".yml":
		var doc map[string]interface{}
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return cue.Value{}, []ValidationError{{File: name, Message: fmt.Sprintf("invalid YAML: %v", err), Severity: "error"}}
		}
		val = cctx.Encode(doc)
	case ".json":
		var doc map[string]interface{}
		if err := json.Unmarshal(content, &doc); err != nil {
			return cue.Value{}, []ValidationError{{File: name, Message: fmt.Sprintf("invalid JSON: %v", err), Severity: "error"}}
		}
		val = cctx.Encode(doc)
	default:
		return cue.Value{}, []ValidationError{{File: name, Message: fmt.Sprintf("unsupported definition format %q", ext), Severity: "error"}}
	}

	if err := val.Err(); err != nil {
		return cue.Value{}, dl.convertCUEErrors(err)
	}
	return val, nil
}

// extract validates the unified value against the definitions schema and
// decodes every chart.
func (dl *DefinitionLoader) extract(val cue.Value, set *DefinitionSet) {
	schema, _ := dl.schemaRegistry.GetSchema(SchemaDefinitions)
	if err := dl.schemaRegistry.ValidateValue(SchemaDefinitions, schema, val); err != nil {
		set.Errors = append(set.Errors, dl.convertCUEErrors(err)...)
		return
	}

	chartsVal := val.LookupPath(cue.ParsePath("charts"))
	iter, err := chartsVal.Fields()
	if err != nil {
		set.Errors = append(set.Errors, ValidationError{
			Path:     "charts",
			Message:  fmt.Sprintf("failed to iterate charts: %v", err),
			Severity: "error",
		})
		return
	}

	for iter.Next() {
		key := iter.Selector().Unquoted()
		chart, err := dl.extractChart(key, iter.Value())
		if err != nil {
			set.Errors = append(set.Errors, ValidationError{
				Path:     "charts." + key,
				Message:  err.Error(),
				Severity: "error",
			})
			continue
		}
		set.Charts = append(set.Charts, chart)
	}

	sort.Slice(set.Charts, func(i, j int) bool { return set.Charts[i].ID < set.Charts[j].ID })
}

// extractChart decodes a chart definition from a CUE value.
func (dl *DefinitionLoader) extractChart(key string, val cue.Value) (ChartDefinition, error) {
	var chart ChartDefinition

	if err := val.Decode(&chart); err != nil {
		return chart, fmt.Errorf("failed to decode chart: %w", err)
	}

	// If ID is provided as key and not in value, use the key
	if chart.ID == "" {
		chart.ID = key
	}
	if chart.Container == "" {
		chart.Container = chart.ID
	}

	if err := dl.validator.Struct(chart); err != nil {
		return chart, fmt.Errorf("validation failed: %w", err)
	}

	return chart, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (dl *DefinitionLoader) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// SchemaRegistry returns the schema registry.
func (dl *DefinitionLoader) SchemaRegistry() *SchemaRegistry {
	return dl.schemaRegistry
}

// LoadFromDirectory lists all definition files below dir.
func (dl *DefinitionLoader) LoadFromDirectory(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && definitionExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(files)
	return files, nil
}
