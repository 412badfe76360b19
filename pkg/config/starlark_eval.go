package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

const (
	// DefaultEvalTimeout bounds a single evaluation.
	DefaultEvalTimeout = 5 * time.Second

	// DefaultMaxSteps bounds the number of Starlark computation steps.
	DefaultMaxSteps uint64 = 10_000_000

	// TransformEntryPoint is the function a transform script must define.
	TransformEntryPoint = "transform"

	// ResultBinding is the global a statement-form options script must assign.
	ResultBinding = "result"

	// MaxValueDepth bounds the nesting of values returned by a script.
	MaxValueDepth = 256
)

var (
	// ErrCyclicValue is returned when a script result contains itself.
	ErrCyclicValue = errors.New("cyclic value")

	// ErrValueTooDeep is returned when a script result nests deeper than MaxValueDepth.
	ErrValueTooDeep = fmt.Errorf("value nested deeper than %d levels", MaxValueDepth)
)

// StarlarkEvaluator executes Starlark expressions and scripts in a sandbox.
// Scripts have no load(), no I/O and only the predeclared pure modules
// (json, math, struct) plus the true/false/null aliases.
type StarlarkEvaluator struct {
	timeout  time.Duration
	maxSteps uint64
	print    func(msg string)
}

// EvaluatorOption configures a StarlarkEvaluator.
type EvaluatorOption func(*StarlarkEvaluator)

// WithMaxSteps sets the execution step limit. Zero keeps the default.
func WithMaxSteps(steps uint64) EvaluatorOption {
	return func(se *StarlarkEvaluator) {
		if steps > 0 {
			se.maxSteps = steps
		}
	}
}

// WithPrintHandler routes Starlark print() output to fn. Without a handler
// print output is suppressed.
func WithPrintHandler(fn func(msg string)) EvaluatorOption {
	return func(se *StarlarkEvaluator) {
		se.print = fn
	}
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration, opts ...EvaluatorOption) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = DefaultEvalTimeout
	}
	se := &StarlarkEvaluator{
		timeout:  timeout,
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(se)
	}
	return se
}

// Eval evaluates src and converts the result to plain Go values. src is
// either a single expression or a script that assigns the global "result".
func (se *StarlarkEvaluator) Eval(ctx context.Context, src string) (interface{}, error) {
	return se.run(ctx, func(thread *starlark.Thread) (interface{}, error) {
		v, err := se.resolve(thread, "options.star", src, ResultBinding)
		if err != nil {
			return nil, err
		}
		return se.fromStarlarkValue(v)
	})
}

// Transform evaluates src as a unary function and applies it to input. src is
// either a callable expression such as "lambda data: data['rows']" or a
// script defining transform(data).
func (se *StarlarkEvaluator) Transform(ctx context.Context, src string, input interface{}) (interface{}, error) {
	return se.run(ctx, func(thread *starlark.Thread) (interface{}, error) {
		v, err := se.resolve(thread, "transform.star", src, TransformEntryPoint)
		if err != nil {
			return nil, err
		}
		fn, ok := v.(starlark.Callable)
		if !ok {
			return nil, fmt.Errorf("transform must evaluate to a function, got %s", v.Type())
		}
		arg, err := toStarlarkValue(input)
		if err != nil {
			return nil, fmt.Errorf("failed to convert transform input: %w", err)
		}
		result, err := starlark.Call(thread, fn, starlark.Tuple{arg}, nil)
		if err != nil {
			return nil, err
		}
		return se.fromStarlarkValue(result)
	})
}

type evalResult struct {
	value interface{}
	err   error
}

// run executes fn on a fresh thread, enforcing the timeout and step limit.
func (se *StarlarkEvaluator) run(ctx context.Context, fn func(thread *starlark.Thread) (interface{}, error)) (interface{}, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := se.newThread()

	resultCh := make(chan evalResult, 1)
	go func() {
		v, err := fn(thread)
		resultCh <- evalResult{value: v, err: err}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		return nil, fmt.Errorf("starlark execution timeout after %v", se.timeout)
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("starlark execution failed: %w", res.err)
		}
		return res.value, nil
	}
}

func (se *StarlarkEvaluator) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Name: "vizor",
		Print: func(_ *starlark.Thread, msg string) {
			if se.print != nil {
				se.print(msg)
			}
		},
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load(%q) is not permitted", module)
		},
	}
	thread.SetMaxExecutionSteps(se.maxSteps)
	return thread
}

// resolve evaluates src as an expression, falling back to executing it as a
// script and reading the global named entry when src does not parse as an
// expression.
func (se *StarlarkEvaluator) resolve(thread *starlark.Thread, filename, src, entry string) (starlark.Value, error) {
	v, exprErr := starlark.Eval(thread, filename, src, predeclared())
	if exprErr == nil {
		return v, nil
	}
	var synErr syntax.Error
	if !errors.As(exprErr, &synErr) {
		return nil, exprErr
	}

	globals, err := starlark.ExecFile(thread, filename, src, predeclared())
	if err != nil {
		var scriptSynErr syntax.Error
		if errors.As(err, &scriptSynErr) {
			// Neither an expression nor a script.
			return nil, exprErr
		}
		return nil, err
	}
	v, ok := globals[entry]
	if !ok {
		return nil, fmt.Errorf("script does not define %q", entry)
	}
	return v, nil
}

// predeclared returns the environment visible to every evaluation.
func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"true":   starlark.True,
		"false":  starlark.False,
		"null":   starlark.None,
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   starjson.Module,
		"math":   starmath.Module,
	}
}

// Function is a Starlark callable surfaced from evaluated options, such as a
// label formatter. The rendering engine invokes it through Call.
type Function struct {
	fn starlark.Callable
	se *StarlarkEvaluator
}

// Name returns the Starlark name of the function.
func (f *Function) Name() string {
	return f.fn.Name()
}

// Call invokes the function with Go arguments and returns a Go value.
func (f *Function) Call(ctx context.Context, args ...interface{}) (interface{}, error) {
	return f.se.run(ctx, func(thread *starlark.Thread) (interface{}, error) {
		tuple := make(starlark.Tuple, len(args))
		for i, arg := range args {
			v, err := toStarlarkValue(arg)
			if err != nil {
				return nil, fmt.Errorf("failed to convert argument %d: %w", i, err)
			}
			tuple[i] = v
		}
		result, err := starlark.Call(thread, f.fn, tuple, nil)
		if err != nil {
			return nil, err
		}
		return f.se.fromStarlarkValue(result)
	})
}

// String implements fmt.Stringer.
func (f *Function) String() string {
	return fmt.Sprintf("[function %s]", f.fn.Name())
}

// MarshalJSON renders the function as a placeholder string.
func (f *Function) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, err
		}
		return starlark.Float(f), nil
	case *Function:
		return val.fn, nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value. Integers that fit
// a float64 exactly become float64 so results compare equal to decoded JSON.
// Cyclic values and values nested deeper than MaxValueDepth are rejected.
func (se *StarlarkEvaluator) fromStarlarkValue(v starlark.Value) (interface{}, error) {
	c := &converter{se: se, path: make(map[starlark.Value]bool)}
	return c.convert(v, 0)
}

// converter tracks the mutable containers on the current conversion path.
// Every cycle passes through a list or dict, since tuples and structs are
// immutable once built.
type converter struct {
	se   *StarlarkEvaluator
	path map[starlark.Value]bool
}

func (c *converter) enter(v starlark.Value) error {
	if c.path[v] {
		return ErrCyclicValue
	}
	c.path[v] = true
	return nil
}

func (c *converter) convert(v starlark.Value, depth int) (interface{}, error) {
	if depth > MaxValueDepth {
		return nil, ErrValueTooDeep
	}

	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		if i > 1<<53 || i < -(1<<53) {
			return i, nil
		}
		return float64(i), nil
	case starlark.Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite float %v", f)
		}
		return f, nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		if err := c.enter(val); err != nil {
			return nil, err
		}
		defer delete(c.path, val)

		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := c.convert(val.Index(i), depth+1)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			goItem, err := c.convert(item, depth+1)
			if err != nil {
				return nil, err
			}
			list[i] = goItem
		}
		return list, nil
	case *starlark.Dict:
		if err := c.enter(val); err != nil {
			return nil, err
		}
		defer delete(c.path, val)

		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := c.convert(item[1], depth+1)
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := c.convert(attr, depth+1)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	case starlark.Callable:
		val.Freeze()
		return &Function{fn: val, se: c.se}, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
