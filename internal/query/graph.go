package query

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"

	"kernscope/internal/errors"
	"kernscope/internal/snapshot"
)

// Call directions.
const (
	DirectionCallers = "callers"
	DirectionCallees = "callees"
)

// TraceCallsOptions walks the call graph from one function. MaxDepth
// defaults to 3; zero returns only the seed.
type TraceCallsOptions struct {
	Function  string `json:"function"`
	Direction string `json:"direction,omitempty"`
	MaxDepth  *int   `json:"max_depth,omitempty"`
	MaxNodes  int    `json:"max_nodes,omitempty"`
}

// TraceNode is one function reached by a trace.
type TraceNode struct {
	Address  snapshot.Ref `json:"address"`
	Name     string       `json:"name,omitempty"`
	Depth    int          `json:"depth"`
	External bool         `json:"external,omitempty"`
}

// TraceEdge is a call edge between two trace nodes, caller first.
type TraceEdge struct {
	From snapshot.Ref `json:"from"`
	To   snapshot.Ref `json:"to"`
}

// TraceCallsResponse is the reached subgraph in breadth-first order.
type TraceCallsResponse struct {
	Root      FunctionRef `json:"root"`
	Direction string      `json:"direction"`
	MaxDepth  int         `json:"maxDepth"`
	Nodes     []TraceNode `json:"nodes"`
	Edges     []TraceEdge `json:"edges"`
	Truncated bool        `json:"truncated"`
}

const defaultTraceDepth = 3

// TraceCalls walks callers or callees breadth first. Each function is
// visited once, so cycles terminate; external targets are leaves.
// Truncated is set when a fan-out or node limit dropped part of the graph.
func (e *Engine) TraceCalls(ctx context.Context, opts TraceCallsOptions) (*TraceCallsResponse, error) {
	return withObserve(e, ctx, OpTraceCalls, func(ctx context.Context) (*TraceCallsResponse, error) {
		dir, err := callDirection(opts.Direction)
		if err != nil {
			return nil, err
		}
		depth := defaultTraceDepth
		if opts.MaxDepth != nil {
			depth = *opts.MaxDepth
		}
		if depth < 0 {
			return nil, errors.Newf(errors.InvalidQuery, "max_depth must not be negative, got %d", depth)
		}
		if e.cfg.MaxTraceDepth > 0 && depth > e.cfg.MaxTraceDepth {
			depth = e.cfg.MaxTraceDepth
		}
		if opts.MaxNodes < 0 {
			return nil, errors.Newf(errors.InvalidQuery, "max_nodes must not be negative, got %d", opts.MaxNodes)
		}
		maxNodes := opts.MaxNodes
		if maxNodes == 0 || (e.cfg.MaxTraceNodes > 0 && maxNodes > e.cfg.MaxTraceNodes) {
			maxNodes = e.cfg.MaxTraceNodes
		}
		root, err := e.resolveFunction(opts.Function)
		if err != nil {
			return nil, err
		}

		seed := snapshot.Ref{Addr: root.Entry}
		resp := &TraceCallsResponse{
			Root:      e.ref(seed),
			Direction: dir,
			MaxDepth:  depth,
			Nodes:     []TraceNode{{Address: seed, Name: root.Name}},
			Edges:     []TraceEdge{},
		}
		visited := map[snapshot.Ref]bool{seed: true}
		queue := []TraceNode{resp.Nodes[0]}
		for len(queue) > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			node := queue[0]
			queue = queue[1:]
			if node.External || node.Depth >= depth {
				continue
			}
			children := e.neighbours(node.Address.Addr, dir)
			if limit := e.cfg.MaxTraceChildren; limit > 0 && len(children) > limit {
				children = children[:limit]
				resp.Truncated = true
			}
			for _, child := range children {
				if !visited[child] && maxNodes > 0 && len(resp.Nodes) >= maxNodes {
					resp.Truncated = true
					continue
				}
				if dir == DirectionCallers {
					resp.Edges = append(resp.Edges, TraceEdge{From: child, To: node.Address})
				} else {
					resp.Edges = append(resp.Edges, TraceEdge{From: node.Address, To: child})
				}
				if visited[child] {
					continue
				}
				visited[child] = true
				next := TraceNode{Address: child, Name: e.snap.NameOf(child), Depth: node.Depth + 1, External: e.isExternal(child)}
				resp.Nodes = append(resp.Nodes, next)
				queue = append(queue, next)
			}
		}
		return resp, nil
	})
}

func callDirection(d string) (string, error) {
	switch strings.ToLower(d) {
	case "", DirectionCallees, "down":
		return DirectionCallees, nil
	case DirectionCallers, "up":
		return DirectionCallers, nil
	}
	return "", errors.Newf(errors.InvalidQuery, "direction must be callers or callees, got %q", d)
}

// neighbours returns the sorted callers or callees of entry.
func (e *Engine) neighbours(entry snapshot.Address, dir string) []snapshot.Ref {
	if dir == DirectionCallees {
		return e.snap.Callees(entry)
	}
	callers := e.snap.Callers(entry)
	out := make([]snapshot.Ref, 0, len(callers))
	for _, a := range callers {
		out = append(out, snapshot.Ref{Addr: a})
	}
	return out
}

// isExternal reports whether target has no function body in the snapshot.
func (e *Engine) isExternal(target snapshot.Ref) bool {
	if target.External {
		return true
	}
	_, ok := e.snap.Function(target.Addr)
	return !ok
}

// Cross-reference directions and kinds.
const (
	XrefIncoming = "incoming"
	XrefOutgoing = "outgoing"
	XrefBoth     = "both"

	XrefCode = "code"
	XrefData = "data"
	XrefAny  = "any"
)

// Xref types for references to strings and data items.
const (
	XrefStringRef = "string_ref"
	XrefDataRef   = "data_ref"
)

// GetXrefsOptions lists references to or from a symbol.
type GetXrefsOptions struct {
	Target    string `json:"target"`
	Direction string `json:"direction,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Page
}

// Xref is one reference. Site is the referencing instruction when known.
type Xref struct {
	Direction string            `json:"direction"`
	Kind      string            `json:"kind"`
	Type      string            `json:"type"`
	From      FunctionRef       `json:"from"`
	To        FunctionRef       `json:"to"`
	Site      *snapshot.Address `json:"site,omitempty"`
}

// GetXrefsResponse is an ordered page of references.
type GetXrefsResponse struct {
	Target SymbolCandidate `json:"target"`
	Note   string          `json:"note,omitempty"`
	Xrefs  []Xref          `json:"xrefs"`
	PageInfo
}

// GetXrefs merges call-graph edges, per-function xrefs and string/data use
// sites for the resolved target. Duplicates are collapsed and the result
// is ordered by direction, kind, source, destination, site and type.
func (e *Engine) GetXrefs(ctx context.Context, opts GetXrefsOptions) (*GetXrefsResponse, error) {
	return withObserve(e, ctx, OpGetXrefs, func(ctx context.Context) (*GetXrefsResponse, error) {
		page, err := e.normalizePage(opts.Page)
		if err != nil {
			return nil, err
		}
		dir := strings.ToLower(opts.Direction)
		switch dir {
		case "", XrefBoth:
			dir = XrefBoth
		case XrefIncoming, "to":
			dir = XrefIncoming
		case XrefOutgoing, "from":
			dir = XrefOutgoing
		default:
			return nil, errors.Newf(errors.InvalidQuery, "direction must be incoming, outgoing or both, got %q", opts.Direction)
		}
		kind := strings.ToLower(opts.Kind)
		switch kind {
		case "", XrefAny:
			kind = XrefAny
		case XrefCode, XrefData:
		default:
			return nil, errors.Newf(errors.InvalidQuery, "kind must be code, data or any, got %q", opts.Kind)
		}

		resolved, err := e.resolveSymbol(ctx, opts.Target)
		if err != nil {
			return nil, err
		}
		target := resolved.Candidates[0]
		resp := &GetXrefsResponse{Target: target}
		if resolved.Ambiguous {
			resp.Note = "target is ambiguous; using the first of " + strconv.Itoa(len(resolved.Candidates)) + " candidates"
		}

		var refs []Xref
		if dir != XrefOutgoing {
			refs = append(refs, e.incomingXrefs(target)...)
		}
		if dir != XrefIncoming {
			refs = append(refs, e.outgoingXrefs(target)...)
		}
		if kind != XrefAny {
			refs = slices.DeleteFunc(refs, func(x Xref) bool { return x.Kind != kind })
		}
		refs = dedupXrefs(refs)
		slices.SortFunc(refs, compareXrefs)

		w := newWindow[Xref](page)
		for _, x := range refs {
			w.add(x)
		}
		resp.Xrefs = w.items
		resp.PageInfo = w.info(false)
		return resp, nil
	})
}

// callTypeLabel normalizes an extractor reference type.
func callTypeLabel(t string) string {
	upper := strings.ToUpper(t)
	switch {
	case upper == "":
		return "code_ref"
	case strings.HasSuffix(upper, "_CALL"):
		return "call"
	case strings.HasSuffix(upper, "_JUMP"):
		return "jump"
	}
	return strings.ToLower(t)
}

// isFunctionTarget reports whether the candidate names a function body.
func (e *Engine) isFunctionTarget(c SymbolCandidate) bool {
	if c.Address.External {
		return false
	}
	_, ok := e.snap.Function(c.Address.Addr)
	return ok
}

func (e *Engine) incomingXrefs(target SymbolCandidate) []Xref {
	to := e.ref(target.Address)
	if to.Name == "" {
		to.Name = target.Name
	}
	var out []Xref

	callers := map[snapshot.Address]bool{}
	for _, edge := range e.snap.EdgesTo(target.Address) {
		callers[edge.From] = true
		out = append(out, Xref{Direction: XrefIncoming, Kind: XrefCode, Type: callTypeLabel(edge.Type), From: e.ref(snapshot.Ref{Addr: edge.From}), To: to})
	}

	if e.isFunctionTarget(target) {
		fn, _ := e.snap.Function(target.Address.Addr)
		for _, site := range fn.XrefsIn {
			from := e.siteRef(site)
			if callers[from.Address.Addr] {
				continue
			}
			s := site
			out = append(out, Xref{Direction: XrefIncoming, Kind: XrefCode, Type: "code_ref", From: from, To: to, Site: &s})
		}
		return out
	}

	// Imports and other bodiless targets: outgoing calls recorded on the
	// caller side.
	for _, fn := range e.snap.Functions() {
		if callers[fn.Entry] {
			continue
		}
		for _, x := range fn.XrefsOut {
			if x.Target == target.Address {
				out = append(out, Xref{Direction: XrefIncoming, Kind: XrefCode, Type: callTypeLabel(x.Type), From: e.ref(snapshot.Ref{Addr: fn.Entry}), To: to})
			}
		}
	}

	if target.Address.External {
		return out
	}
	addr := target.Address.Addr
	if str, ok := e.snap.StringAt(addr); ok {
		out = append(out, e.useSiteXrefs(str.Xrefs, XrefStringRef, to)...)
	}
	if item, ok := e.snap.DataAt(addr); ok {
		out = append(out, e.useSiteXrefs(item.Xrefs, XrefDataRef, to)...)
	}
	return out
}

func (e *Engine) useSiteXrefs(sites []snapshot.UseSite, typ string, to FunctionRef) []Xref {
	out := make([]Xref, 0, len(sites))
	for _, site := range sites {
		from := e.siteRef(site.From)
		if from.Name == "" {
			from.Name = site.Function
		}
		s := site.From
		out = append(out, Xref{Direction: XrefIncoming, Kind: XrefData, Type: typ, From: from, To: to, Site: &s})
	}
	return out
}

func (e *Engine) outgoingXrefs(target SymbolCandidate) []Xref {
	if !e.isFunctionTarget(target) {
		return nil
	}
	fn, _ := e.snap.Function(target.Address.Addr)
	from := e.ref(snapshot.Ref{Addr: fn.Entry})
	var out []Xref
	for _, edge := range e.snap.EdgesFrom(fn.Entry) {
		to := e.ref(edge.To)
		if to.Name == "" {
			to.Name = edge.ToName
		}
		out = append(out, Xref{Direction: XrefOutgoing, Kind: XrefCode, Type: callTypeLabel(edge.Type), From: from, To: to})
	}
	for _, x := range fn.XrefsOut {
		to := e.ref(x.Target)
		if to.Name == "" {
			to.Name = x.Name
		}
		out = append(out, Xref{Direction: XrefOutgoing, Kind: XrefCode, Type: callTypeLabel(x.Type), From: from, To: to})
	}
	for _, str := range e.snap.Strings() {
		for _, site := range str.Xrefs {
			if !fn.Contains(site.From) {
				continue
			}
			s := site.From
			out = append(out, Xref{Direction: XrefOutgoing, Kind: XrefData, Type: XrefStringRef, From: from,
				To: FunctionRef{Address: snapshot.Ref{Addr: str.Address}, Name: clip(str.Value, 80)}, Site: &s})
		}
	}
	for _, item := range e.snap.Data() {
		for _, site := range item.Xrefs {
			if !fn.Contains(site.From) {
				continue
			}
			s := site.From
			out = append(out, Xref{Direction: XrefOutgoing, Kind: XrefData, Type: XrefDataRef, From: from,
				To: FunctionRef{Address: snapshot.Ref{Addr: item.Address}, Name: item.Name}, Site: &s})
		}
	}
	return out
}

// siteRef names the function containing a, or a itself.
func (e *Engine) siteRef(a snapshot.Address) FunctionRef {
	if fn, ok := e.snap.FunctionContaining(a); ok {
		return FunctionRef{Address: snapshot.Ref{Addr: fn.Entry}, Name: fn.Name}
	}
	return FunctionRef{Address: snapshot.Ref{Addr: a}}
}

type xrefKey struct {
	direction, kind, typ string
	from, to             snapshot.Ref
	site                 snapshot.Address
	hasSite              bool
}

func dedupXrefs(refs []Xref) []Xref {
	seen := make(map[xrefKey]bool, len(refs))
	out := refs[:0]
	for _, x := range refs {
		k := xrefKey{direction: x.Direction, kind: x.Kind, typ: x.Type, from: x.From.Address, to: x.To.Address}
		if x.Site != nil {
			k.site, k.hasSite = *x.Site, true
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, x)
	}
	return out
}

func compareRefs(a, b snapshot.Ref) int {
	if a.External != b.External {
		if a.External {
			return 1
		}
		return -1
	}
	return cmp.Compare(a.Addr, b.Addr)
}

func compareXrefs(a, b Xref) int {
	if c := cmp.Compare(a.Direction, b.Direction); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	if c := compareRefs(a.From.Address, b.From.Address); c != 0 {
		return c
	}
	if c := compareRefs(a.To.Address, b.To.Address); c != 0 {
		return c
	}
	var sa, sb snapshot.Address
	if a.Site != nil {
		sa = *a.Site
	}
	if b.Site != nil {
		sb = *b.Site
	}
	if c := cmp.Compare(sa, sb); c != 0 {
		return c
	}
	return cmp.Compare(a.Type, b.Type)
}
