package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChartDefinition declares a chart the way a host application would create it:
// theme, init options, chart options, maps and external data sources.
type ChartDefinition struct {
	// ID is the chart identifier. Definitions keyed by name default to the key.
	ID string `json:"id,omitempty" yaml:"id,omitempty" validate:"required"`

	// Container identifies the element the chart renders into. Defaults to the ID.
	Container string `json:"container,omitempty" yaml:"container,omitempty"`

	// Theme is the rendering engine theme name.
	Theme string `json:"theme,omitempty" yaml:"theme,omitempty"`

	// Init holds rendering engine init options (renderer, width, height, ...).
	Init map[string]interface{} `json:"init,omitempty" yaml:"init,omitempty"`

	// Options holds the chart options as a structured value.
	Options interface{} `json:"options,omitempty" yaml:"options,omitempty"`

	// OptionsExpr holds the chart options as an expression, for options that
	// carry functions.
	OptionsExpr string `json:"optionsExpr,omitempty" yaml:"optionsExpr,omitempty" validate:"excluded_with=Options"`

	// Maps are registered before the options are applied.
	Maps []map[string]interface{} `json:"maps,omitempty" yaml:"maps,omitempty"`

	// Fetch lists the external data sources, retrieved in order.
	Fetch []map[string]interface{} `json:"fetch,omitempty" yaml:"fetch,omitempty"`
}

// Payloads renders the definition as the textual payloads a chart creation
// takes. Absent parts are returned as empty strings.
func (d ChartDefinition) Payloads() (initOptions, chartOptions, mapOptions, fetchOptions string, err error) {
	if initOptions, err = encodePayload(d.Init); err != nil {
		return "", "", "", "", fmt.Errorf("init options: %w", err)
	}

	switch {
	case strings.TrimSpace(d.OptionsExpr) != "":
		chartOptions = d.OptionsExpr
	case d.Options != nil:
		if chartOptions, err = encodePayload(d.Options); err != nil {
			return "", "", "", "", fmt.Errorf("chart options: %w", err)
		}
	}

	if len(d.Maps) > 0 {
		if mapOptions, err = encodePayload(d.Maps); err != nil {
			return "", "", "", "", fmt.Errorf("map options: %w", err)
		}
	}
	if len(d.Fetch) > 0 {
		if fetchOptions, err = encodePayload(d.Fetch); err != nil {
			return "", "", "", "", fmt.Errorf("fetch options: %w", err)
		}
	}
	return initOptions, chartOptions, mapOptions, fetchOptions, nil
}

func encodePayload(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DefinitionSet is the result of loading chart definition files.
type DefinitionSet struct {
	// Charts are the loaded definitions, sorted by ID.
	Charts []ChartDefinition `json:"charts"`

	// SourceFiles are the files that were loaded.
	SourceFiles []string `json:"source_files"`

	// LoadedAt is when the definitions were loaded.
	LoadedAt time.Time `json:"loaded_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// Chart returns the definition with the given id.
func (ds *DefinitionSet) Chart(id string) (ChartDefinition, bool) {
	for _, c := range ds.Charts {
		if c.ID == id {
			return c, true
		}
	}
	return ChartDefinition{}, false
}

// Valid reports whether loading produced no errors.
func (ds *DefinitionSet) Valid() bool {
	return len(ds.Errors) == 0
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the error (e.g., "charts.sales.fetch[0]").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	var loc string
	switch {
	case ve.File != "" && ve.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", ve.File, ve.Line, ve.Column)
	case ve.File != "":
		loc = ve.File + ": "
	}
	if ve.Path != "" {
		return fmt.Sprintf("%s%s: %s", loc, ve.Path, ve.Message)
	}
	return loc + ve.Message
}
