package query

import (
	"context"
	"regexp"
	"strings"
	"time"

	"kernscope/internal/errors"
)

// Page selects a window of an ordered result list.
type Page struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// PageInfo describes the window that was returned.
type PageInfo struct {
	Total     int  `json:"total"`
	Offset    int  `json:"offset"`
	Limit     int  `json:"limit"`
	Truncated bool `json:"truncated"`
	// Partial is set when a scan ceiling stopped the search early; Total
	// then counts only what was seen.
	Partial bool `json:"partial,omitempty"`
}

// normalizePage validates p and applies the default and maximum limits.
func (e *Engine) normalizePage(p Page) (Page, error) {
	if p.Limit < 0 {
		return p, errors.Newf(errors.InvalidQuery, "limit must not be negative, got %d", p.Limit)
	}
	if p.Offset < 0 {
		return p, errors.Newf(errors.InvalidQuery, "offset must not be negative, got %d", p.Offset)
	}
	if p.Limit == 0 {
		p.Limit = e.cfg.DefaultLimit
	}
	if e.cfg.MaxLimit > 0 && p.Limit > e.cfg.MaxLimit {
		p.Limit = e.cfg.MaxLimit
	}
	return p, nil
}

// window collects the items of one page while counting every match.
type window[T any] struct {
	page  Page
	total int
	items []T
}

func newWindow[T any](p Page) *window[T] {
	return &window[T]{page: p, items: []T{}}
}

// add counts a match and keeps it when it falls inside the page.
func (w *window[T]) add(item T) {
	if w.wants() {
		w.items = append(w.items, item)
	}
	w.total++
}

// offer counts a match, building the item only when the page keeps it.
func (w *window[T]) offer(build func() T) {
	if w.wants() {
		w.items = append(w.items, build())
	}
	w.total++
}

func (w *window[T]) wants() bool {
	return w.total >= w.page.Offset && len(w.items) < w.page.Limit
}

func (w *window[T]) info(partial bool) PageInfo {
	return PageInfo{
		Total:     w.total,
		Offset:    w.page.Offset,
		Limit:     w.page.Limit,
		Truncated: w.total > w.page.Offset+len(w.items),
		Partial:   partial,
	}
}

// scan enforces the time and match ceilings of one search. The match
// ceiling only bounds pattern searches; plain listings walk every record.
type scan struct {
	op         Operation
	deadline   time.Time
	maxMatches int
	matches    int
	steps      int
	reason     string
}

func (e *Engine) newScan(op Operation, patterned bool) *scan {
	s := &scan{op: op}
	if patterned {
		s.maxMatches = e.cfg.MaxScanMatches
	}
	if e.cfg.ScanTimeoutMs > 0 {
		s.deadline = time.Now().Add(time.Duration(e.cfg.ScanTimeoutMs) * time.Millisecond)
	}
	return s
}

// next reports whether the scan may examine another record. It returns
// the context error when ctx is done.
func (s *scan) next(ctx context.Context) (bool, error) {
	if s.reason != "" {
		return false, nil
	}
	s.steps++
	if s.steps%64 == 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if !s.deadline.IsZero() && time.Now().After(s.deadline) {
			s.reason = "time"
			return false, nil
		}
	}
	return true, nil
}

// match records a hit. It returns false, without recording, once the
// match ceiling was reached; the caller must then drop the hit and stop.
func (s *scan) match() bool {
	if s.maxMatches > 0 && s.matches >= s.maxMatches {
		s.reason = "matches"
		return false
	}
	s.matches++
	return true
}

func (s *scan) partial() bool { return s.reason != "" }

// err is the Timeout error for a scan stopped by a ceiling, or nil.
func (s *scan) err() error {
	switch s.reason {
	case "time":
		return errors.Newf(errors.Timeout, "%s stopped after the scan time limit; results are partial", s.op).
			WithDetails(map[string]any{"matches": s.matches})
	case "matches":
		return errors.Newf(errors.Timeout, "%s stopped after %d matches; results are partial", s.op, s.matches).
			WithDetails(map[string]any{"matches": s.matches})
	}
	return nil
}

// matcher tests names and values against a substring or RE2 pattern.
type matcher struct {
	re     *regexp.Regexp
	needle string
	fold   bool
}

// newMatcher compiles pattern. An empty pattern matches everything.
func newMatcher(field, pattern string, isRegex, caseSensitive bool) (*matcher, error) {
	if pattern == "" {
		return nil, nil
	}
	if isRegex {
		expr := pattern
		if !caseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, errors.New(errors.InvalidQuery, field+": invalid pattern: "+err.Error(), err)
		}
		return &matcher{re: re}, nil
	}
	if !caseSensitive {
		pattern = strings.ToLower(pattern)
	}
	return &matcher{needle: pattern, fold: !caseSensitive}, nil
}

// Match reports whether s matches. A nil matcher matches everything.
func (m *matcher) Match(s string) bool {
	if m == nil {
		return true
	}
	if m.re != nil {
		return m.re.MatchString(s)
	}
	if m.fold {
		s = strings.ToLower(s)
	}
	return strings.Contains(s, m.needle)
}

// literal returns the substring every match must contain, for index
// lookups, or "" when there is none.
func (m *matcher) literal() string {
	if m == nil {
		return ""
	}
	if m.re != nil {
		prefix, complete := m.re.LiteralPrefix()
		if complete {
			return prefix
		}
		return ""
	}
	return m.needle
}

// clip shortens s to at most n runes.
func clip(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
