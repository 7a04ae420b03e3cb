package query

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"kernscope/internal/capability"
	"kernscope/internal/errors"
	"kernscope/internal/snapshot"
)

// SearchFunctionsOptions filters the function list. Zero values disable a
// filter.
type SearchFunctionsOptions struct {
	NamePattern   string `json:"name_pattern,omitempty"`
	IsRegex       bool   `json:"is_regex,omitempty"`
	MinSize       int64  `json:"min_size,omitempty"`
	MaxSize       int64  `json:"max_size,omitempty"`
	MinComplexity int    `json:"min_complexity,omitempty"`
	CapabilityTag string `json:"capability_tag,omitempty"`
	HasDecomp     *bool  `json:"has_decomp,omitempty"`
	CallersOf     string `json:"callers_of,omitempty"`
	CalleesOf     string `json:"callees_of,omitempty"`
	Page
}

// FunctionSummary is one function in a search result.
type FunctionSummary struct {
	Address      snapshot.Address      `json:"address"`
	Name         string                `json:"name"`
	Prototype    string                `json:"prototype,omitempty"`
	Size         uint64                `json:"size"`
	Complexity   int                   `json:"complexity"`
	HasDecomp    bool                  `json:"hasDecomp"`
	Callers      int                   `json:"callers"`
	Callees      int                   `json:"callees"`
	Capabilities []capability.Category `json:"capabilities,omitempty"`
}

// SearchFunctionsResponse is an ordered page of functions.
type SearchFunctionsResponse struct {
	Functions []FunctionSummary `json:"functions"`
	PageInfo
}

// SearchFunctions lists functions in ascending entry order.
func (e *Engine) SearchFunctions(ctx context.Context, opts SearchFunctionsOptions) (*SearchFunctionsResponse, error) {
	return withObserve(e, ctx, OpSearchFunctions, func(ctx context.Context) (*SearchFunctionsResponse, error) {
		page, err := e.normalizePage(opts.Page)
		if err != nil {
			return nil, err
		}
		if opts.MinSize < 0 || opts.MaxSize < 0 || opts.MinComplexity < 0 {
			return nil, errors.New(errors.InvalidQuery, "size and complexity filters must not be negative", nil)
		}
		if opts.MaxSize > 0 && opts.MinSize > opts.MaxSize {
			return nil, errors.Newf(errors.InvalidQuery, "min_size %d exceeds max_size %d", opts.MinSize, opts.MaxSize)
		}
		names, err := newMatcher("name_pattern", opts.NamePattern, opts.IsRegex, false)
		if err != nil {
			return nil, err
		}

		var tag capability.Category
		if opts.CapabilityTag != "" {
			tag = capability.Category(strings.ToLower(opts.CapabilityTag))
			if !slices.Contains(e.classifier.Table().Categories(), tag) {
				return nil, errors.Newf(errors.InvalidQuery, "unknown capability tag %q", opts.CapabilityTag).
					WithDetails(map[string]any{"known": e.classifier.Table().Categories()})
			}
		}

		// callers_of X keeps the functions that call X; callees_of X keeps
		// the functions X calls.
		var only map[snapshot.Address]bool
		if opts.CallersOf != "" {
			target, err := e.resolveFunction(opts.CallersOf)
			if err != nil {
				return nil, err
			}
			only = map[snapshot.Address]bool{}
			for _, a := range e.snap.Callers(target.Entry) {
				only[a] = true
			}
		}
		if opts.CalleesOf != "" {
			target, err := e.resolveFunction(opts.CalleesOf)
			if err != nil {
				return nil, err
			}
			callees := map[snapshot.Address]bool{}
			for _, r := range e.snap.Callees(target.Entry) {
				if !r.External && (only == nil || only[r.Addr]) {
					callees[r.Addr] = true
				}
			}
			only = callees
		}

		var profile *capability.Profile
		if tag != "" {
			profile = e.Profile()
		}

		sc := e.newScan(OpSearchFunctions, names != nil)
		w := newWindow[FunctionSummary](page)
		for _, fn := range e.snap.Functions() {
			ok, err := sc.next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if only != nil && !only[fn.Entry] {
				continue
			}
			if !names.Match(fn.Name) {
				continue
			}
			if opts.MinSize > 0 && fn.Size < uint64(opts.MinSize) {
				continue
			}
			if opts.MaxSize > 0 && fn.Size > uint64(opts.MaxSize) {
				continue
			}
			if fn.Complexity < opts.MinComplexity {
				continue
			}
			if opts.HasDecomp != nil && fn.HasDecomp() != *opts.HasDecomp {
				continue
			}
			if tag != "" && !profile.Has(fn.Entry, tag) {
				continue
			}
			if !sc.match() {
				break
			}
			w.offer(func() FunctionSummary { return e.summarize(fn) })
		}

		resp := &SearchFunctionsResponse{Functions: w.items, PageInfo: w.info(sc.partial())}
		return resp, sc.err()
	})
}

func (e *Engine) summarize(fn snapshot.Function) FunctionSummary {
	return FunctionSummary{
		Address:      fn.Entry,
		Name:         fn.Name,
		Prototype:    fn.Prototype,
		Size:         fn.Size,
		Complexity:   fn.Complexity,
		HasDecomp:    fn.HasDecomp(),
		Callers:      len(e.snap.Callers(fn.Entry)),
		Callees:      len(e.snap.Callees(fn.Entry)),
		Capabilities: e.Profile().Of(fn.Entry),
	}
}

// GetFunctionOptions selects one function by name or address.
type GetFunctionOptions struct {
	Function string `json:"function"`
}

// FunctionDetail is the full record of one function.
type FunctionDetail struct {
	Address      snapshot.Address         `json:"address"`
	Name         string                   `json:"name"`
	Prototype    string                   `json:"prototype,omitempty"`
	Ranges       []snapshot.Range         `json:"ranges"`
	Size         uint64                   `json:"size"`
	Complexity   int                      `json:"complexity"`
	Metrics      snapshot.FunctionMetrics `json:"metrics"`
	Exported     bool                     `json:"exported"`
	Section      string                   `json:"section,omitempty"`
	Capabilities []capability.Category    `json:"capabilities,omitempty"`
	Callers      []FunctionRef            `json:"callers"`
	Callees      []FunctionRef            `json:"callees"`

	Instructions          []snapshot.Instruction `json:"instructions,omitempty"`
	InstructionCount      int                    `json:"instructionCount"`
	InstructionsTruncated bool                   `json:"instructionsTruncated,omitempty"`
	Comments              []snapshot.Comment     `json:"comments,omitempty"`

	HasDecomp   bool     `json:"hasDecomp"`
	DecompPath  string   `json:"decompPath,omitempty"`
	DecompCalls []string `json:"decompCalls,omitempty"`
}

// GetFunction returns the detail of one function.
func (e *Engine) GetFunction(ctx context.Context, opts GetFunctionOptions) (*FunctionDetail, error) {
	return withObserve(e, ctx, OpGetFunction, func(ctx context.Context) (*FunctionDetail, error) {
		fn, err := e.resolveFunction(opts.Function)
		if err != nil {
			return nil, err
		}

		d := &FunctionDetail{
			Address:          fn.Entry,
			Name:             fn.Name,
			Prototype:        fn.Prototype,
			Ranges:           fn.Ranges,
			Size:             fn.Size,
			Complexity:       fn.Complexity,
			Metrics:          fn.Metrics,
			Exported:         e.snap.IsExported(fn.Entry),
			Capabilities:     e.Profile().Of(fn.Entry),
			Callers:          []FunctionRef{},
			Callees:          []FunctionRef{},
			InstructionCount: len(fn.Insn),
			Comments:         fn.Comments,
			HasDecomp:        fn.HasDecomp(),
			DecompPath:       fn.DecompPath,
		}
		if sec, ok := e.snap.SectionContaining(fn.Entry); ok {
			d.Section = sec.Name
		}
		for _, a := range e.snap.Callers(fn.Entry) {
			d.Callers = append(d.Callers, e.ref(snapshot.Ref{Addr: a}))
		}
		for _, r := range e.snap.Callees(fn.Entry) {
			d.Callees = append(d.Callees, e.ref(r))
		}

		d.Instructions = fn.Insn
		if n := e.cfg.MaxInstructions; n > 0 && len(fn.Insn) > n {
			d.Instructions = fn.Insn[:n]
			d.InstructionsTruncated = true
		}

		if text, ok := e.snap.Decompilation(fn.Entry); ok && e.analyzer != nil {
			m, err := e.analyzer.AnalyzeDecompiled(ctx, []byte(text))
			if err == nil {
				d.DecompCalls = m.Calls
			} else {
				e.logger.Debug("decompiled call extraction failed", "function", fn.Name, "error", err)
			}
		}
		return d, nil
	})
}

// ReadDecompilationOptions selects one function by name or address.
type ReadDecompilationOptions struct {
	Function string `json:"function"`
}

// DecompilationResponse is the decompiled text of one function.
type DecompilationResponse struct {
	Address snapshot.Address `json:"address"`
	Name    string           `json:"name"`
	Path    string           `json:"path"`
	Lines   int              `json:"lines"`
	Code    string           `json:"code"`
}

// ReadDecompilation returns the decompiled text of a function.
func (e *Engine) ReadDecompilation(ctx context.Context, opts ReadDecompilationOptions) (*DecompilationResponse, error) {
	return withObserve(e, ctx, OpReadDecompilation, func(ctx context.Context) (*DecompilationResponse, error) {
		fn, err := e.resolveFunction(opts.Function)
		if err != nil {
			return nil, err
		}
		text, ok := e.snap.Decompilation(fn.Entry)
		if !ok {
			return nil, errors.Newf(errors.NotFound, "no decompilation recorded for %s at %s", fn.Name, fn.Entry)
		}
		return &DecompilationResponse{
			Address: fn.Entry,
			Name:    fn.Name,
			Path:    fn.DecompPath,
			Lines:   countLines(text),
			Code:    text,
		}, nil
	})
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// FunctionStatsOptions sizes the top lists of FunctionStats.
type FunctionStatsOptions struct {
	Top int `json:"top,omitempty"`
}

// StatItem is one entry of a top list.
type StatItem struct {
	Address snapshot.Address `json:"address"`
	Name    string           `json:"name"`
	Value   int64            `json:"value"`
}

// FunctionStatsResponse aggregates snapshot-wide counts.
type FunctionStatsResponse struct {
	Functions     int        `json:"functions"`
	WithDecomp    int        `json:"withDecomp"`
	Edges         int        `json:"edges"`
	Strings       int        `json:"strings"`
	Imports       int        `json:"imports"`
	Exports       int        `json:"exports"`
	Sections      int        `json:"sections"`
	Data          int        `json:"data"`
	Equates       int        `json:"equates"`
	TotalSize     uint64     `json:"totalSize"`
	TopComplexity []StatItem `json:"topComplexity"`
	TopCalled     []StatItem `json:"topCalled"`
	Largest       []StatItem `json:"largest"`
}

// FunctionStats summarizes the snapshot's functions.
func (e *Engine) FunctionStats(ctx context.Context, opts FunctionStatsOptions) (*FunctionStatsResponse, error) {
	return withObserve(e, ctx, OpFunctionStats, func(ctx context.Context) (*FunctionStatsResponse, error) {
		if opts.Top < 0 {
			return nil, errors.Newf(errors.InvalidQuery, "top must not be negative, got %d", opts.Top)
		}
		top := opts.Top
		if top == 0 {
			top = 10
		}

		functions := e.snap.Functions()
		resp := &FunctionStatsResponse{
			Functions: len(functions),
			Edges:     len(e.snap.Edges()),
			Strings:   len(e.snap.Strings()),
			Imports:   len(e.snap.Imports()),
			Exports:   len(e.snap.Exports()),
			Sections:  len(e.snap.Sections()),
			Data:      len(e.snap.Data()),
			Equates:   len(e.snap.Equates()),
		}

		var cc, called, size []StatItem
		for _, fn := range functions {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if fn.HasDecomp() {
				resp.WithDecomp++
			}
			resp.TotalSize += fn.Size
			cc = append(cc, StatItem{Address: fn.Entry, Name: fn.Name, Value: int64(fn.Complexity)})
			called = append(called, StatItem{Address: fn.Entry, Name: fn.Name, Value: int64(len(e.snap.Callers(fn.Entry)))})
			size = append(size, StatItem{Address: fn.Entry, Name: fn.Name, Value: int64(fn.Size)})
		}
		resp.TopComplexity = topItems(cc, top)
		resp.TopCalled = topItems(called, top)
		resp.Largest = topItems(size, top)
		return resp, nil
	})
}

// topItems returns the n largest non-zero items, ties by ascending address.
func topItems(items []StatItem, n int) []StatItem {
	items = slices.DeleteFunc(items, func(it StatItem) bool { return it.Value <= 0 })
	slices.SortFunc(items, func(a, b StatItem) int {
		if c := cmp.Compare(b.Value, a.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.Address, b.Address)
	})
	if len(items) > n {
		items = items[:n]
	}
	if items == nil {
		return []StatItem{}
	}
	return items
}
