package engine_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/vizor/vizor/pkg/engine"
)

func TestChartError_Classification(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name        string
		err         error
		code        string
		fetch       bool
		fatal       bool
		recoverable bool
	}{
		{"fatal decode", engine.NewFatalDecodeError("bad options", cause), engine.ErrCodeFatalDecode, false, true, false},
		{"fetch", engine.NewFetchError("https://x", cause), engine.ErrCodeFetchFailed, true, false, false},
		{"policy", engine.NewPolicyDeniedError("https://x", []string{"no"}), engine.ErrCodePolicyDenied, true, false, false},
		{"transform", engine.NewTransformError("afterLoad function", cause), engine.ErrCodeTransformFailed, false, false, true},
		{"map", engine.NewMapDecodeError("bad map", cause), engine.ErrCodeMapDecodeFailed, false, false, true},
		{"fetch decode", engine.NewFetchDecodeError("bad fetch", cause), engine.ErrCodeFetchDecodeFailed, false, false, true},
		{"unknown", engine.NewUnknownChartError("c", engine.OpUpdate), engine.ErrCodeUnknownChart, false, false, true},
		{"wrapped", fmt.Errorf("create: %w", engine.NewFetchError("u", cause)), engine.ErrCodeFetchFailed, true, false, false},
		{"plain", cause, "", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.ErrorCode(tt.err); got != tt.code {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.code)
			}
			if got := engine.IsFetchFailure(tt.err); got != tt.fetch {
				t.Errorf("IsFetchFailure() = %v", got)
			}
			if got := engine.IsFatalDecode(tt.err); got != tt.fatal {
				t.Errorf("IsFatalDecode() = %v", got)
			}
			if got := engine.IsRecoverable(tt.err); got != tt.recoverable {
				t.Errorf("IsRecoverable() = %v", got)
			}
		})
	}
}

func TestChartError_Message(t *testing.T) {
	cause := errors.New("status 503")
	err := engine.NewFetchError("https://example.com/a", cause).
		WithChart("sales").
		WithOperation(engine.OpCreate)

	msg := err.Error()
	for _, part := range []string{"[FETCH_FAILED]", "chart=sales", "operation=create", "url=https://example.com/a", "status 503"} {
		if !strings.Contains(msg, part) {
			t.Errorf("Error() = %q, missing %q", msg, part)
		}
	}

	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if !errors.Is(err, engine.NewFetchError("other", nil)) {
		t.Error("errors of the same class and code must match")
	}
}
