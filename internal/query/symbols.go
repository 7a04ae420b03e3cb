package query

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"

	"kernscope/internal/capability"
	"kernscope/internal/errors"
	"kernscope/internal/snapshot"
)

// Import/export directions.
const (
	DirectionImport = "import"
	DirectionExport = "export"
)

// SearchImportsExportsOptions filters imported and exported symbols.
type SearchImportsExportsOptions struct {
	ModulePattern string `json:"module_pattern,omitempty"`
	NamePattern   string `json:"name_pattern,omitempty"`
	Direction     string `json:"direction,omitempty"`
	Page
}

// SymbolHit is one import or export.
type SymbolHit struct {
	Direction    string                `json:"direction"`
	Name         string                `json:"name"`
	Library      string                `json:"library,omitempty"`
	Address      *snapshot.Ref         `json:"address,omitempty"`
	Ordinal      *int64                `json:"ordinal,omitempty"`
	Type         string                `json:"type,omitempty"`
	Signature    string                `json:"signature,omitempty"`
	Capabilities []capability.Category `json:"capabilities,omitempty"`
}

// SearchImportsExportsResponse is a page of imports followed by exports.
type SearchImportsExportsResponse struct {
	Symbols []SymbolHit `json:"symbols"`
	PageInfo
}

// SearchImportsExports lists imports (by library, then name) followed by
// exports (by address). Patterns are case-insensitive substrings.
func (e *Engine) SearchImportsExports(ctx context.Context, opts SearchImportsExportsOptions) (*SearchImportsExportsResponse, error) {
	return withObserve(e, ctx, OpSearchImportsExports, func(ctx context.Context) (*SearchImportsExportsResponse, error) {
		page, err := e.normalizePage(opts.Page)
		if err != nil {
			return nil, err
		}
		dir := strings.ToLower(opts.Direction)
		switch dir {
		case "", "both", DirectionImport, DirectionExport:
		default:
			return nil, errors.Newf(errors.InvalidQuery, "direction must be import, export or both, got %q", opts.Direction)
		}
		modules, _ := newMatcher("module_pattern", opts.ModulePattern, false, false)
		names, _ := newMatcher("name_pattern", opts.NamePattern, false, false)

		table := e.classifier.Table()
		sc := e.newScan(OpSearchImportsExports, modules != nil || names != nil)
		w := newWindow[SymbolHit](page)

		if dir != DirectionExport {
			for _, imp := range e.snap.Imports() {
				ok, err := sc.next(ctx)
				if err != nil {
					return nil, err
				}
				if !ok {
					break
				}
				if !modules.Match(imp.Library) || !names.Match(imp.Name) {
					continue
				}
				if !sc.match() {
					break
				}
				w.offer(func() SymbolHit {
					return SymbolHit{
						Direction:    DirectionImport,
						Name:         imp.Name,
						Library:      imp.Library,
						Address:      imp.Address,
						Ordinal:      imp.Ordinal,
						Type:         imp.Type,
						Signature:    imp.Signature,
						Capabilities: table.Match(imp.Library, imp.Name),
					}
				})
			}
		}
		if dir != DirectionImport && !sc.partial() {
			for _, exp := range e.snap.Exports() {
				ok, err := sc.next(ctx)
				if err != nil {
					return nil, err
				}
				if !ok {
					break
				}
				// Exports have no module; a module filter excludes them.
				if opts.ModulePattern != "" || !names.Match(exp.Name) {
					continue
				}
				if !sc.match() {
					break
				}
				w.offer(func() SymbolHit {
					addr := exp.Address
					return SymbolHit{
						Direction:    DirectionExport,
						Name:         exp.Name,
						Address:      &addr,
						Type:         exp.Type,
						Signature:    exp.Signature,
						Capabilities: table.Match("", exp.Name),
					}
				})
			}
		}
		return &SearchImportsExportsResponse{Symbols: w.items, PageInfo: w.info(sc.partial())}, sc.err()
	})
}

// SearchEquatesOptions filters named constants. Value accepts decimal,
// 0x hex, 0o octal or 0b binary.
type SearchEquatesOptions struct {
	NamePattern string `json:"name_pattern,omitempty"`
	Value       string `json:"value,omitempty"`
	Page
}

// EquateHit is one matching equate.
type EquateHit struct {
	Name           string   `json:"name"`
	Value          int64    `json:"value"`
	ReferenceCount int      `json:"referenceCount"`
	References     []string `json:"references,omitempty"`
}

// SearchEquatesResponse is a page of equates.
type SearchEquatesResponse struct {
	Equates []EquateHit `json:"equates"`
	PageInfo
}

// maxEquateReferences bounds the references listed per equate.
const maxEquateReferences = 5

// SearchEquates lists equates ordered by name, then value.
func (e *Engine) SearchEquates(ctx context.Context, opts SearchEquatesOptions) (*SearchEquatesResponse, error) {
	return withObserve(e, ctx, OpSearchEquates, func(ctx context.Context) (*SearchEquatesResponse, error) {
		page, err := e.normalizePage(opts.Page)
		if err != nil {
			return nil, err
		}
		var want *int64
		if opts.Value != "" {
			v, err := strconv.ParseInt(strings.TrimSpace(opts.Value), 0, 64)
			if err != nil {
				return nil, errors.New(errors.InvalidQuery, "value: "+err.Error(), err)
			}
			want = &v
		}
		names, _ := newMatcher("name_pattern", opts.NamePattern, false, false)

		sc := e.newScan(OpSearchEquates, names != nil)
		w := newWindow[EquateHit](page)
		for _, eq := range e.snap.Equates() {
			ok, err := sc.next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if !names.Match(eq.Name) || (want != nil && eq.Value != *want) {
				continue
			}
			if !sc.match() {
				break
			}
			w.offer(func() EquateHit {
				refs := eq.References
				if len(refs) > maxEquateReferences {
					refs = refs[:maxEquateReferences]
				}
				return EquateHit{Name: eq.Name, Value: eq.Value, ReferenceCount: eq.ReferenceCount, References: refs}
			})
		}
		return &SearchEquatesResponse{Equates: w.items, PageInfo: w.info(sc.partial())}, sc.err()
	})
}

// SearchDataOptions filters defined data items. Address bounds are
// inclusive and swapped when reversed.
type SearchDataOptions struct {
	NamePattern string `json:"name_pattern,omitempty"`
	TypePattern string `json:"type_pattern,omitempty"`
	MinAddress  string `json:"min_address,omitempty"`
	MaxAddress  string `json:"max_address,omitempty"`
	MinLength   int    `json:"min_length,omitempty"`
	MaxLength   int    `json:"max_length,omitempty"`
	HasValue    *bool  `json:"has_value,omitempty"`
	Page
}

// DataHit is one matching data item.
type DataHit struct {
	Address      snapshot.Address `json:"address"`
	Name         string           `json:"name,omitempty"`
	Type         string           `json:"type,omitempty"`
	Length       int              `json:"length"`
	Section      string           `json:"section,omitempty"`
	HasValue     bool             `json:"hasValue"`
	ValuePreview string           `json:"valuePreview,omitempty"`
	XrefCount    int              `json:"xrefCount"`
}

// SearchDataResponse is a page of data items.
type SearchDataResponse struct {
	Data []DataHit `json:"data"`
	PageInfo
}

// SearchData lists data items in ascending address order.
func (e *Engine) SearchData(ctx context.Context, opts SearchDataOptions) (*SearchDataResponse, error) {
	return withObserve(e, ctx, OpSearchData, func(ctx context.Context) (*SearchDataResponse, error) {
		page, err := e.normalizePage(opts.Page)
		if err != nil {
			return nil, err
		}
		if opts.MinLength < 0 || opts.MaxLength < 0 {
			return nil, errors.New(errors.InvalidQuery, "length filters must not be negative", nil)
		}
		lo, hi := snapshot.Address(0), ^snapshot.Address(0)
		if opts.MinAddress != "" {
			if lo, err = parseAddress("min_address", opts.MinAddress); err != nil {
				return nil, err
			}
		}
		if opts.MaxAddress != "" {
			if hi, err = parseAddress("max_address", opts.MaxAddress); err != nil {
				return nil, err
			}
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		names, _ := newMatcher("name_pattern", opts.NamePattern, false, false)
		types, _ := newMatcher("type_pattern", opts.TypePattern, false, false)

		sc := e.newScan(OpSearchData, names != nil || types != nil)
		w := newWindow[DataHit](page)
		for _, item := range e.snap.Data() {
			ok, err := sc.next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if item.Address < lo || item.Address > hi {
				continue
			}
			if !names.Match(item.Name) || !types.Match(item.Type) {
				continue
			}
			if opts.MinLength > 0 && item.Length < opts.MinLength {
				continue
			}
			if opts.MaxLength > 0 && item.Length > opts.MaxLength {
				continue
			}
			hasValue := item.Value != nil && strings.TrimSpace(*item.Value) != ""
			if opts.HasValue != nil && hasValue != *opts.HasValue {
				continue
			}
			if !sc.match() {
				break
			}
			w.offer(func() DataHit {
				hit := DataHit{
					Address:   item.Address,
					Name:      item.Name,
					Type:      item.Type,
					Length:    item.Length,
					HasValue:  hasValue,
					XrefCount: len(item.Xrefs),
				}
				if sec, ok := e.snap.SectionContaining(item.Address); ok {
					hit.Section = sec.Name
				}
				if hasValue {
					hit.ValuePreview = clip(*item.Value, e.cfg.DataValuePreview)
				}
				return hit
			})
		}
		return &SearchDataResponse{Data: w.items, PageInfo: w.info(sc.partial())}, sc.err()
	})
}

// Symbol kinds reported by ResolveSymbol.
const (
	SymbolFunction = "function"
	SymbolImport   = "import"
	SymbolExport   = "export"
	SymbolData     = "data"
	SymbolString   = "string"
)

// Base priorities per symbol kind; a case-insensitive or partial name
// match ranks one below its kind's base.
const (
	priorityFunction = 0
	priorityImport   = 10
	priorityExport   = 12
	priorityData     = 20
	priorityString   = 30
)

// ResolveSymbolOptions resolves a name or address.
type ResolveSymbolOptions struct {
	Query string `json:"query"`
}

// SymbolCandidate is one resolution of a query.
type SymbolCandidate struct {
	Kind     string       `json:"kind"`
	Name     string       `json:"name,omitempty"`
	Address  snapshot.Ref `json:"address"`
	Priority int          `json:"priority"`
}

// ResolveSymbolResponse lists the best-ranked candidates.
type ResolveSymbolResponse struct {
	Query      string            `json:"query"`
	Ambiguous  bool              `json:"ambiguous"`
	Candidates []SymbolCandidate `json:"candidates"`
}

// ResolveSymbol maps a name to addresses or an address to names across
// functions, imports, exports, data and strings. Only candidates of the
// best priority are returned; Ambiguous is set when there are several.
func (e *Engine) ResolveSymbol(ctx context.Context, opts ResolveSymbolOptions) (*ResolveSymbolResponse, error) {
	return withObserve(e, ctx, OpResolveSymbol, func(ctx context.Context) (*ResolveSymbolResponse, error) {
		return e.resolveSymbol(ctx, opts.Query)
	})
}

func (e *Engine) resolveSymbol(ctx context.Context, query string) (*ResolveSymbolResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New(errors.InvalidQuery, "query is required", nil)
	}
	lower := strings.ToLower(query)
	addr, addrErr := snapshot.ParseRef(query)
	isAddr := addrErr == nil

	type keyed struct {
		c   SymbolCandidate
		seq int
	}
	var found []keyed
	seen := map[SymbolCandidate]bool{}
	add := func(kind, name string, at snapshot.Ref, base int) {
		prio := -1
		switch {
		case isAddr && at == addr, name == query:
			prio = base
		case name != "" && strings.Contains(strings.ToLower(name), lower):
			prio = base + 1
		}
		if prio < 0 {
			return
		}
		c := SymbolCandidate{Kind: kind, Name: name, Address: at, Priority: prio}
		key := c
		key.Priority = 0
		if seen[key] {
			return
		}
		seen[key] = true
		found = append(found, keyed{c: c, seq: len(found)})
	}

	for i, fn := range e.snap.Functions() {
		if i%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		add(SymbolFunction, fn.Name, snapshot.Ref{Addr: fn.Entry}, priorityFunction)
	}
	for _, imp := range e.snap.Imports() {
		var at snapshot.Ref
		if imp.Address != nil {
			at = *imp.Address
		}
		add(SymbolImport, imp.Name, at, priorityImport)
	}
	for _, exp := range e.snap.Exports() {
		add(SymbolExport, exp.Name, exp.Address, priorityExport)
	}
	for _, item := range e.snap.Data() {
		name := item.Name
		if name == "" {
			name = "DATA_" + strings.TrimPrefix(item.Address.String(), "0x")
		}
		add(SymbolData, name, snapshot.Ref{Addr: item.Address}, priorityData)
	}
	if isAddr && !addr.External {
		if str, ok := e.snap.StringAt(addr.Addr); ok {
			c := SymbolCandidate{Kind: SymbolString, Name: clip(str.Value, 80), Address: addr, Priority: priorityString}
			found = append(found, keyed{c: c, seq: len(found)})
		}
	}

	if len(found) == 0 {
		return nil, errors.Newf(errors.NotFound, "no symbol matches %q", query).
			WithDrilldowns(errors.Drilldown{Label: "Search functions", Query: "functions --name " + query})
	}

	slices.SortFunc(found, func(a, b keyed) int {
		if c := cmp.Compare(a.c.Priority, b.c.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	best := found[0].c.Priority
	resp := &ResolveSymbolResponse{Query: query, Candidates: []SymbolCandidate{}}
	for _, k := range found {
		if k.c.Priority != best || len(resp.Candidates) == e.maxSymbolMatches() {
			break
		}
		resp.Candidates = append(resp.Candidates, k.c)
	}
	resp.Ambiguous = len(resp.Candidates) > 1
	return resp, nil
}

func (e *Engine) maxSymbolMatches() int {
	if e.cfg.MaxSymbolMatches > 0 {
		return e.cfg.MaxSymbolMatches
	}
	return 50
}
