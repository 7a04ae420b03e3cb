//go:build !cgo

package complexity

import (
	"context"
	"errors"
)

// ErrNoCGO is returned when complexity analysis is unavailable due to missing CGO.
var ErrNoCGO = errors.New("complexity analysis requires CGO (tree-sitter)")

// Analyzer computes complexity metrics for decompiled functions.
// This is a stub implementation for non-CGO builds.
type Analyzer struct{}

// NewAnalyzer creates a new complexity analyzer.
// Returns nil when CGO is disabled.
func NewAnalyzer() *Analyzer {
	return nil
}

// AnalyzeDecompiled returns ErrNoCGO.
func (a *Analyzer) AnalyzeDecompiled(ctx context.Context, source []byte) (*FunctionMetrics, error) {
	return nil, ErrNoCGO
}

// IsAvailable returns whether complexity analysis is available.
// Returns false when CGO is disabled.
func IsAvailable() bool {
	return false
}
