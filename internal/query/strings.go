package query

import (
	"context"
	stderrors "errors"
	"slices"
	"unicode/utf8"

	"kernscope/internal/capability"
	"kernscope/internal/errors"
	"kernscope/internal/snapshot"
	"kernscope/internal/storage"
)

// SearchStringsOptions filters string literals.
type SearchStringsOptions struct {
	Pattern       string `json:"pattern,omitempty"`
	IsRegex       bool   `json:"is_regex,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	MinLength     int    `json:"min_length,omitempty"`
	Page
}

// StringHit is one matching string.
type StringHit struct {
	Address   snapshot.Address      `json:"address"`
	Value     string                `json:"value"`
	Length    int                   `json:"length"`
	Kind      capability.StringKind `json:"kind,omitempty"`
	XrefCount int                   `json:"xrefCount"`
	UsedIn    []FunctionRef         `json:"usedIn,omitempty"`
}

// SearchStringsResponse is an ordered page of strings.
type SearchStringsResponse struct {
	Strings []StringHit `json:"strings"`
	PageInfo
}

// SearchStrings finds strings containing or matching pattern, in ascending
// address order. Literal patterns are answered from the text index when
// one was built.
func (e *Engine) SearchStrings(ctx context.Context, opts SearchStringsOptions) (*SearchStringsResponse, error) {
	return withObserve(e, ctx, OpSearchStrings, func(ctx context.Context) (*SearchStringsResponse, error) {
		page, err := e.normalizePage(opts.Page)
		if err != nil {
			return nil, err
		}
		if opts.MinLength < 0 {
			return nil, errors.Newf(errors.InvalidQuery, "min_length must not be negative, got %d", opts.MinLength)
		}
		m, err := newMatcher("pattern", opts.Pattern, opts.IsRegex, opts.CaseSensitive)
		if err != nil {
			return nil, err
		}

		records, err := e.stringCandidates(ctx, m)
		if err != nil {
			return nil, err
		}

		sc := e.newScan(OpSearchStrings, m != nil)
		w := newWindow[StringHit](page)
		for _, str := range records {
			ok, err := sc.next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if utf8.RuneCountInString(str.Value) < opts.MinLength || !m.Match(str.Value) {
				continue
			}
			if !sc.match() {
				break
			}
			w.offer(func() StringHit { return e.stringHit(str) })
		}
		return &SearchStringsResponse{Strings: w.items, PageInfo: w.info(sc.partial())}, sc.err()
	})
}

// stringCandidates narrows the strings through the text index when the
// pattern has a usable literal, and returns every string otherwise.
func (e *Engine) stringCandidates(ctx context.Context, m *matcher) ([]snapshot.StringRecord, error) {
	ix := e.snap.TextIndex()
	lit := m.literal()
	if ix == nil || lit == "" {
		return e.snap.Strings(), nil
	}
	addrs, err := ix.Candidates(ctx, storage.KindString, lit)
	if stderrors.Is(err, storage.ErrUnindexable) {
		return e.snap.Strings(), nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("text index lookup failed, scanning", "error", err)
		return e.snap.Strings(), nil
	}
	out := make([]snapshot.StringRecord, 0, len(addrs))
	for _, a := range addrs {
		if str, ok := e.snap.StringAt(snapshot.Address(a)); ok {
			out = append(out, str)
		}
	}
	return out, nil
}

func (e *Engine) stringHit(str snapshot.StringRecord) StringHit {
	hit := StringHit{
		Address:   str.Address,
		Value:     clip(str.Value, e.cfg.ValuePreview),
		Length:    str.Length,
		XrefCount: len(str.Xrefs),
	}
	if k, ok := e.Profile().StringKind(str.Address); ok {
		hit.Kind = k
	}
	hit.UsedIn = e.siteFunctions(str.Xrefs, e.cfg.MaxXrefFunctions)
	return hit
}

// siteFunctions resolves use sites to distinct functions, at most limit.
func (e *Engine) siteFunctions(sites []snapshot.UseSite, limit int) []FunctionRef {
	var entries []snapshot.Address
	for _, site := range sites {
		if fn, ok := e.snap.FunctionContaining(site.From); ok {
			entries = append(entries, fn.Entry)
		} else if site.Function != "" {
			for _, fn := range e.snap.FunctionsByName(site.Function, false) {
				entries = append(entries, fn.Entry)
			}
		}
	}
	slices.Sort(entries)
	entries = slices.Compact(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]FunctionRef, 0, len(entries))
	for _, a := range entries {
		out = append(out, e.ref(snapshot.Ref{Addr: a}))
	}
	return out
}
