// Package scoring computes deterministic relevance scores for functions
// and strings. Every weight is named configuration under scoring.*.
package scoring

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"kernscope/internal/capability"
	"kernscope/internal/config"
	"kernscope/internal/slogutil"
	"kernscope/internal/snapshot"
)

// entrypointNames are well-known program entry names, compared lowercase.
var entrypointNames = map[string]bool{
	"main": true, "wmain": true, "winmain": true, "wwinmain": true,
	"dllmain": true, "servicemain": true, "driverentry": true,
	"_start": true, "entry": true, "start": true,
	"maincrtstartup": true, "wmaincrtstartup": true, "__tmaincrtstartup": true,
	"winmaincrtstartup": true, "wwinmaincrtstartup": true,
	"dllregisterserver": true, "dllinstall": true,
}

// IsEntrypointName reports whether name is a well-known entry point.
func IsEntrypointName(name string) bool {
	lower := strings.ToLower(name)
	return entrypointNames[lower] || strings.HasSuffix(lower, "crtstartup")
}

// FunctionFacts are the inputs of one function score.
type FunctionFacts struct {
	Entry      snapshot.Address
	Name       string
	Complexity int
	Size       uint64
	FanIn      int
	FanOut     int
	Caps       []capability.Category
	Entrypoint bool
	StringRefs int
	Anomalous  bool
}

// Breakdown is each weighted term of a function score.
type Breakdown struct {
	Complexity        float64 `json:"complexity"`
	Capabilities      float64 `json:"capabilities"`
	Degree            float64 `json:"degree"`
	HighRisk          float64 `json:"high_risk"`
	Size              float64 `json:"size"`
	Entrypoint        float64 `json:"entrypoint"`
	StringRefs        float64 `json:"string_refs"`
	SuspiciousSection float64 `json:"suspicious_section"`
}

// Total sums the terms in a fixed order.
func (b Breakdown) Total() float64 {
	return b.Complexity + b.Capabilities + b.Degree + b.HighRisk +
		b.Size + b.Entrypoint + b.StringRefs + b.SuspiciousSection
}

// FunctionScore is a scored function.
type FunctionScore struct {
	FunctionFacts
	Score     float64
	Breakdown Breakdown
}

// Scorer holds the weights of one run.
type Scorer struct {
	fn       config.FunctionWeights
	str      config.StringWeights
	highRisk map[capability.Category]bool
	logger   *slog.Logger
}

// NewScorer creates a scorer from the scoring and capability configuration.
func NewScorer(cfg config.ScoringConfig, highRisk []string, logger *slog.Logger) *Scorer {
	hr := make(map[capability.Category]bool, len(highRisk))
	for _, c := range highRisk {
		hr[capability.Category(c)] = true
	}
	return &Scorer{fn: cfg.Function, str: cfg.String, highRisk: hr, logger: slogutil.Component(logger, "scoring")}
}

// NewDefaultScorer uses the default configuration.
func NewDefaultScorer(logger *slog.Logger) *Scorer {
	cfg := config.DefaultConfig()
	return NewScorer(cfg.Scoring, cfg.Capability.HighRisk, logger)
}

// ScoreFunction scores one function. It is a pure function of f and the
// weights.
func (s *Scorer) ScoreFunction(f FunctionFacts) FunctionScore {
	w := s.fn
	var b Breakdown

	cc := f.Complexity
	if w.ComplexityCap > 0 && cc > w.ComplexityCap {
		cc = w.ComplexityCap
	}
	if cc > 0 {
		b.Complexity = w.Complexity * float64(cc)
	}
	b.Capabilities = w.Capabilities * float64(len(f.Caps))
	b.Degree = w.Degree * math.Log2(1+float64(f.FanIn+f.FanOut))
	for _, c := range f.Caps {
		if s.highRisk[c] {
			b.HighRisk = w.HighRisk
			break
		}
	}
	b.Size = w.Size * math.Log2(1+float64(f.Size))
	if f.Entrypoint {
		b.Entrypoint = w.Entrypoint
	}
	refs := f.StringRefs
	if w.StringRefsCap > 0 && refs > w.StringRefsCap {
		refs = w.StringRefsCap
	}
	b.StringRefs = w.StringRefs * float64(refs)
	if f.Anomalous {
		b.SuspiciousSection = w.SuspiciousSection
	}

	return FunctionScore{FunctionFacts: f, Score: b.Total(), Breakdown: b}
}

// CollectFacts gathers the score inputs of every function of snap, in
// ascending entry order.
func CollectFacts(ctx context.Context, snap *snapshot.Snapshot, profile *capability.Profile, sections SectionReport) ([]FunctionFacts, error) {
	functions := snap.Functions()
	facts := make([]FunctionFacts, len(functions))
	err := forEachChunk(ctx, len(functions), func(i int) {
		fn := &functions[i]
		facts[i] = FunctionFacts{
			Entry:      fn.Entry,
			Name:       fn.Name,
			Complexity: fn.Complexity,
			Size:       fn.Size,
			FanIn:      len(snap.Callers(fn.Entry)),
			FanOut:     len(snap.Callees(fn.Entry)),
			Caps:       profile.Of(fn.Entry),
			Entrypoint: IsEntrypointName(fn.Name) || snap.IsExported(fn.Entry),
			StringRefs: len(profile.StringsOf(fn.Entry)),
			Anomalous:  sections.Contains(fn.Entry),
		}
	})
	if err != nil {
		return nil, err
	}
	return facts, nil
}

// ScoreFunctions scores every fact in parallel. The result keeps input
// order.
func (s *Scorer) ScoreFunctions(ctx context.Context, facts []FunctionFacts) ([]FunctionScore, error) {
	scores := make([]FunctionScore, len(facts))
	err := forEachChunk(ctx, len(facts), func(i int) {
		scores[i] = s.ScoreFunction(facts[i])
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("functions scored", "count", len(scores))
	return scores, nil
}

// RankFunctions returns scores sorted by score descending, ties broken by
// ascending entry address.
func RankFunctions(scores []FunctionScore) []FunctionScore {
	out := slices.Clone(scores)
	slices.SortStableFunc(out, func(a, b FunctionScore) int {
		if c := cmpScore(a.Score, b.Score); c != 0 {
			return c
		}
		return cmpAddr(a.Entry, b.Entry)
	})
	return out
}

// cmpScore orders higher scores first.
func cmpScore(a, b float64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}

func cmpAddr(a, b snapshot.Address) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// forEachChunk runs fn for every index in [0, n) across GOMAXPROCS workers.
// Each index is written by exactly one worker.
func forEachChunk(ctx context.Context, n int, fn func(i int)) error {
	if n == 0 {
		return nil
	}
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%256 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				fn(i)
			}
			return nil
		})
	}
	return g.Wait()
}
