// Package query answers bounded, read-only questions about a loaded
// snapshot. Every operation is a method on Engine taking an options type
// from the closed Request set.
package query

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"kernscope/internal/capability"
	"kernscope/internal/complexity"
	"kernscope/internal/config"
	"kernscope/internal/errors"
	"kernscope/internal/slogutil"
	"kernscope/internal/snapshot"
)

// Engine is the query coordinator for one loaded snapshot. It is safe for
// concurrent use.
type Engine struct {
	snap       *snapshot.Snapshot
	cfg        config.QueryConfig
	classifier *capability.Classifier
	analyzer   *complexity.Analyzer
	metrics    *Metrics
	logger     *slog.Logger

	profileOnce sync.Once
	profile     *capability.Profile
}

// NewEngine creates a query engine over snap. A nil cfg uses defaults.
func NewEngine(snap *snapshot.Snapshot, logger *slog.Logger, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger = slogutil.Component(logger, "query")
	return &Engine{
		snap:       snap,
		cfg:        cfg.Query,
		classifier: capability.NewClassifier(nil, cfg.Capability.HopLimit, logger),
		logger:     logger,
	}
}

// WithClassifier replaces the capability classifier. It must be called
// before the first query.
func (e *Engine) WithClassifier(c *capability.Classifier) *Engine {
	e.classifier = c
	return e
}

// WithAnalyzer enables decompiled-call extraction in GetFunction.
func (e *Engine) WithAnalyzer(a *complexity.Analyzer) *Engine {
	e.analyzer = a
	return e
}

// WithMetrics records query metrics into m.
func (e *Engine) WithMetrics(m *Metrics) *Engine {
	e.metrics = m
	return e
}

// Snapshot returns the snapshot the engine reads.
func (e *Engine) Snapshot() *snapshot.Snapshot { return e.snap }

// Profile returns the capability profile, classifying on first use.
func (e *Engine) Profile() *capability.Profile {
	e.profileOnce.Do(func() {
		start := time.Now()
		e.profile = e.classifier.Classify(e.snap)
		e.logger.Debug("capability profile built", "duration", time.Since(start))
	})
	return e.profile
}

// FunctionRef names a function or external target.
type FunctionRef struct {
	Address snapshot.Ref `json:"address"`
	Name    string       `json:"name,omitempty"`
}

func (e *Engine) ref(target snapshot.Ref) FunctionRef {
	return FunctionRef{Address: target, Name: e.snap.NameOf(target)}
}

// resolveFunction finds a function by exact name, case-insensitive name,
// entry address or containing address, in that order.
func (e *Engine) resolveFunction(ident string) (snapshot.Function, error) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return snapshot.Function{}, errors.New(errors.InvalidQuery, "function name or address is required", nil)
	}
	if fns := e.snap.FunctionsByName(ident, false); len(fns) > 0 {
		return fns[0], nil
	}
	if fns := e.snap.FunctionsByName(ident, true); len(fns) > 0 {
		return fns[0], nil
	}
	if a, err := snapshot.ParseAddress(ident); err == nil {
		if fn, ok := e.snap.Function(a); ok {
			return fn, nil
		}
		if fn, ok := e.snap.FunctionContaining(a); ok {
			return fn, nil
		}
	}
	return snapshot.Function{}, errors.Newf(errors.NotFound, "function %q not found", ident).
		WithDrilldowns(errors.Drilldown{Label: "Resolve the name", Query: "resolve " + ident})
}

// parseAddress parses a user-supplied address as an InvalidQuery on error.
func parseAddress(field, s string) (snapshot.Address, error) {
	a, err := snapshot.ParseAddress(s)
	if err != nil {
		return 0, errors.New(errors.InvalidQuery, field+": "+err.Error(), err)
	}
	return a, nil
}

func (e *Engine) observe(op Operation, start time.Time, err error) {
	if e.metrics != nil {
		e.metrics.observe(op, time.Since(start), err)
	}
	if err != nil {
		e.logger.Debug("query failed", "op", string(op), "error", err)
	}
}

// withObserve wraps an operation body with metrics and logging.
func withObserve[T any](e *Engine, ctx context.Context, op Operation, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	out, err := fn(ctx)
	e.observe(op, start, err)
	return out, err
}
