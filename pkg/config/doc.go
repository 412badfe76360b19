// Package config decodes the textual payloads exchanged with the host and
// loads Vizor's own configuration.
//
// # Overview
//
// Chart payloads arrive as text. OptionsParser decodes them as strict JSON and
// falls back to a sandboxed Starlark evaluator, so options may carry functions
// such as tooltip formatters:
//
//	parser := config.NewOptionsParser(config.NewStarlarkEvaluator(5 * time.Second))
//	opts, err := parser.Parse(ctx, `{"tooltip": {"formatter": lambda p: p["name"]}}`)
//
// Callables in the result are *Function values the rendering engine invokes
// with Function.Call.
//
// The same evaluator runs afterLoad transforms of fetched data. A transform is
// a unary function expression or a script defining transform(data):
//
//	rows, err := parser.Transform(ctx, `lambda data: data["rows"]`, body)
//
// PathEvaluator projects decoded JSON with dotted paths ("data.items").
//
// # Components
//
// StarlarkEvaluator: Starlark execution with timeout, step limit and no load()
// or I/O. Predeclares json, math, struct and the true/false/null aliases.
//
// DefinitionLoader: Loads chart definition files (.cue, .yaml, .json) and
// validates them against the built-in CUE schemas held by SchemaRegistry.
//
// Settings: Process configuration read from YAML, TOML or JSON, validated with
// go-playground/validator and converted to a telemetry.Config.
//
// # Sandboxing
//
// Evaluated code sees only its predeclared environment and the single input
// bound by Transform or Function.Call. Every evaluation runs on a fresh thread
// that is cancelled when the timeout elapses.
package config
