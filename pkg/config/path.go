package config

import (
	"fmt"
	"strings"
)

// PathEvaluator projects decoded JSON values with dotted paths such as
// "data.items". Each segment is a literal object key; there are no wildcards,
// indexes or escapes.
type PathEvaluator struct{}

// NewPathEvaluator creates a path evaluator.
func NewPathEvaluator() *PathEvaluator {
	return &PathEvaluator{}
}

// Evaluate walks path over value. found is false when a segment is missing or
// an intermediate value is not an object. Stepping into a null intermediate
// is an error.
func (PathEvaluator) Evaluate(value interface{}, path string) (interface{}, bool, error) {
	if path == "" {
		return value, true, nil
	}

	current := value
	for i, segment := range strings.Split(path, ".") {
		if current == nil {
			return nil, false, fmt.Errorf("cannot read %q of null at segment %d of %q", segment, i, path)
		}
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false, nil
		}
		next, ok := obj[segment]
		if !ok {
			return nil, false, nil
		}
		current = next
	}
	return current, true, nil
}
