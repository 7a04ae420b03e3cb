package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewKernError(t *testing.T) {
	cause := errors.New("underlying error")
	fixes := []FixAction{{Type: RunCommand, Command: "kernscope files snap"}}
	drilldowns := []Drilldown{{Label: "Resolve", Query: "resolve main"}}

	err := NewKernError(SnapshotCorrupt, "functions.jsonl line 3", cause, fixes, drilldowns)

	if err.Code != SnapshotCorrupt {
		t.Errorf("Code = %v, want %v", err.Code, SnapshotCorrupt)
	}
	if err.Message != "functions.jsonl line 3" {
		t.Errorf("Message = %q, want %q", err.Message, "functions.jsonl line 3")
	}
	if len(err.SuggestedFixes) != 1 {
		t.Errorf("len(SuggestedFixes) = %d, want 1", len(err.SuggestedFixes))
	}
	if len(err.Drilldowns) != 1 {
		t.Errorf("len(Drilldowns) = %d, want 1", len(err.Drilldowns))
	}
}

func TestKernError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      SnapshotCorrupt,
			message:   "meta.json failed validation",
			cause:     errors.New("sha256 is required"),
			wantParts: []string{"SNAPSHOT_CORRUPT", "meta.json failed validation", "sha256 is required"},
		},
		{
			name:      "without cause",
			code:      NotFound,
			message:   "function 'foo' not found",
			cause:     nil,
			wantParts: []string{"NOT_FOUND", "function 'foo' not found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewKernError(tt.code, tt.message, tt.cause, nil, nil)
			got := err.Error()

			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestKernError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewKernError(InternalError, "something went wrong", cause, nil, nil)

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}

	errNoCause := NewKernError(Timeout, "scan timed out", nil, nil, nil)
	if errNoCause.Unwrap() != nil {
		t.Errorf("Unwrap() on error without cause should return nil")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), InternalError},
		{"direct", Newf(NotFound, "missing %s", "x"), NotFound},
		{"wrapped", fmt.Errorf("load: %w", New(SnapshotCorrupt, "bad", nil)), SnapshotCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("query: %w", Newf(Timeout, "deadline"))
	if !IsCode(err, Timeout) {
		t.Error("IsCode(Timeout) = false, want true")
	}
	if IsCode(err, NotFound) {
		t.Error("IsCode(NotFound) = true, want false")
	}
	if IsCode(errors.New("plain"), Timeout) {
		t.Error("plain error should carry no code")
	}
}

func TestNewAttachesSuggestedFixes(t *testing.T) {
	err := New(SnapshotCorrupt, "bad", nil)
	if len(err.SuggestedFixes) == 0 {
		t.Error("SnapshotCorrupt should carry suggested fixes")
	}
	if got := New(NotFound, "x", nil).SuggestedFixes; got != nil {
		t.Errorf("NotFound fixes = %v, want nil", got)
	}
}

func TestWithDetails(t *testing.T) {
	err := Newf(Timeout, "scan").WithDetails(map[string]int{"scanned": 10})
	details, ok := err.Details.(map[string]int)
	if !ok || details["scanned"] != 10 {
		t.Errorf("Details = %v, want scanned=10", err.Details)
	}
	err.WithDrilldowns(Drilldown{Label: "narrow", Query: "strings --limit 10"})
	if len(err.Drilldowns) != 1 {
		t.Errorf("len(Drilldowns) = %d, want 1", len(err.Drilldowns))
	}
}
