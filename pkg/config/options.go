package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// OptionsParser decodes textual chart payloads. Strict JSON is tried first;
// anything else is evaluated by the sandboxed Starlark evaluator, which allows
// payloads carrying functions such as label formatters.
type OptionsParser struct {
	evaluator *StarlarkEvaluator
}

// NewOptionsParser creates a parser backed by evaluator. A nil evaluator gets
// the default timeout and step limit.
func NewOptionsParser(evaluator *StarlarkEvaluator) *OptionsParser {
	if evaluator == nil {
		evaluator = NewStarlarkEvaluator(DefaultEvalTimeout)
	}
	return &OptionsParser{evaluator: evaluator}
}

// Evaluator returns the underlying Starlark evaluator.
func (p *OptionsParser) Evaluator() *StarlarkEvaluator {
	return p.evaluator
}

// Parse decodes payload as JSON, falling back to expression evaluation. The
// error reports both attempts when neither succeeds.
func (p *OptionsParser) Parse(ctx context.Context, payload string) (interface{}, error) {
	var value interface{}
	jsonErr := json.Unmarshal([]byte(payload), &value)
	if jsonErr == nil {
		return value, nil
	}

	if strings.TrimSpace(payload) == "" {
		return nil, fmt.Errorf("empty payload")
	}

	value, evalErr := p.evaluator.Eval(ctx, payload)
	if evalErr != nil {
		return nil, fmt.Errorf("payload is neither JSON (%v) nor a valid expression: %w", jsonErr, evalErr)
	}
	return value, nil
}

// Transform evaluates source as a unary function and applies it to value.
func (p *OptionsParser) Transform(ctx context.Context, source string, value interface{}) (interface{}, error) {
	return p.evaluator.Transform(ctx, source, value)
}

// ParseStrict decodes payload as JSON only.
func ParseStrict(payload string, target interface{}) error {
	if err := json.Unmarshal([]byte(payload), target); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// IsAbsent reports whether a payload carries nothing: empty, whitespace or a
// JSON null.
func IsAbsent(payload string) bool {
	trimmed := strings.TrimSpace(payload)
	return trimmed == "" || trimmed == "null"
}
