package query

import (
	"context"
	"testing"

	"kernscope/internal/config"
	"kernscope/internal/errors"
	"kernscope/internal/snapshot"
)

func intPtr(v int) *int { return &v }

func TestTraceCalls_DepthZeroIsSeedOnly(t *testing.T) {
	e := newTestEngine(t, sampleBuilder(), nil)
	resp, err := e.TraceCalls(context.Background(), TraceCallsOptions{Function: "main", MaxDepth: intPtr(0)})
	if err != nil {
		t.Fatalf("TraceCalls: %v", err)
	}
	if len(resp.Nodes) != 1 || len(resp.Edges) != 0 || resp.Nodes[0].Name != "main" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestTraceCalls_Callees(t *testing.T) {
	e := newTestEngine(t, sampleBuilder(), nil)
	resp, err := e.TraceCalls(context.Background(), TraceCallsOptions{Function: "main"})
	if err != nil {
		t.Fatalf("TraceCalls: %v", err)
	}
	var names []string
	for _, n := range resp.Nodes {
		names = append(names, n.Name)
	}
	want := []string{"main", "beacon", "helper", "connect"}
	if len(names) != len(want) {
		t.Fatalf("nodes = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("nodes = %v, want %v", names, want)
		}
	}
	if !resp.Nodes[3].External || resp.Nodes[3].Depth != 2 {
		t.Errorf("connect node = %+v", resp.Nodes[3])
	}
	// beacon -> helper reaches an already visited node and is still an edge.
	if len(resp.Edges) != 4 {
		t.Errorf("Edges = %+v", resp.Edges)
	}
	if resp.Truncated {
		t.Error("unexpected truncation")
	}
}

func TestTraceCalls_Callers(t *testing.T) {
	e := newTestEngine(t, sampleBuilder(), nil)
	resp, err := e.TraceCalls(context.Background(), TraceCallsOptions{Function: "helper", Direction: "up"})
	if err != nil {
		t.Fatalf("TraceCalls: %v", err)
	}
	if resp.Direction != DirectionCallers || len(resp.Nodes) != 3 {
		t.Fatalf("resp = %+v", resp)
	}
	for _, edge := range resp.Edges {
		if edge.From.Addr == addrHelper {
			t.Errorf("caller edges must point at the callee: %+v", edge)
		}
	}
}

func TestTraceCalls_CycleTerminates(t *testing.T) {
	e := newTestEngine(t, sampleBuilder(), nil)
	resp, err := e.TraceCalls(context.Background(), TraceCallsOptions{Function: "loopA", MaxDepth: intPtr(50)})
	if err != nil {
		t.Fatalf("TraceCalls: %v", err)
	}
	if len(resp.Nodes) != 2 || len(resp.Edges) != 2 {
		t.Errorf("nodes = %d, edges = %d, want 2 and 2", len(resp.Nodes), len(resp.Edges))
	}
	if resp.MaxDepth != 8 {
		t.Errorf("MaxDepth = %d, want clamped to 8", resp.MaxDepth)
	}
}

func TestTraceCalls_Limits(t *testing.T) {
	e := newTestEngine(t, sampleBuilder(), nil)
	ctx := context.Background()

	resp, err := e.TraceCalls(ctx, TraceCallsOptions{Function: "main", MaxNodes: 2})
	if err != nil {
		t.Fatalf("TraceCalls: %v", err)
	}
	if len(resp.Nodes) != 2 || !resp.Truncated {
		t.Errorf("nodes = %d, truncated = %v", len(resp.Nodes), resp.Truncated)
	}

	_, err = e.TraceCalls(ctx, TraceCallsOptions{Function: "main", MaxDepth: intPtr(-1)})
	wantCode(t, err, errors.InvalidQuery)

	_, err = e.TraceCalls(ctx, TraceCallsOptions{Function: "main", Direction: "sideways"})
	wantCode(t, err, errors.InvalidQuery)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := e.TraceCalls(cancelled, TraceCallsOptions{Function: "main"}); err != context.Canceled {
		t.Errorf("cancelled trace error = %v", err)
	}
}

func TestTraceCalls_FanOutLimit(t *testing.T) {
	e := newTestEngine(t, sampleBuilder(), func(c *config.Config) { c.Query.MaxTraceChildren = 1 })
	resp, err := e.TraceCalls(context.Background(), TraceCallsOptions{Function: "main", MaxDepth: intPtr(1)})
	if err != nil {
		t.Fatalf("TraceCalls: %v", err)
	}
	if len(resp.Nodes) != 2 || !resp.Truncated {
		t.Errorf("nodes = %d, truncated = %v", len(resp.Nodes), resp.Truncated)
	}
}

func TestGetXrefs_IncomingMatchesCallers(t *testing.T) {
	e := newTestEngine(t, sampleBuilder(), nil)
	ctx := context.Background()

	for _, fn := range e.Snapshot().Functions() {
		resp, err := e.GetXrefs(ctx, GetXrefsOptions{Target: fn.Entry.String(), Direction: "incoming", Kind: "code"})
		if err != nil {
			t.Fatalf("GetXrefs(%s): %v", fn.Name, err)
		}
		callers := e.Snapshot().Callers(fn.Entry)
		if resp.Total != len(callers) {
			t.Errorf("%s: %d incoming code xrefs, %d callers", fn.Name, resp.Total, len(callers))
		}
		for _, x := range resp.Xrefs {
			if x.To.Address != (snapshot.Ref{Addr: fn.Entry}) || x.Type != "call" {
				t.Errorf("%s: xref = %+v", fn.Name, x)
			}
		}
	}
}

func TestGetXrefs_Outgoing(t *testing.T) {
	e := newTestEngine(t, sampleBuilder(), nil)
	ctx := context.Background()

	resp, err := e.GetXrefs(ctx, GetXrefsOptions{Target: "beacon", Direction: "outgoing"})
	if err != nil {
		t.Fatalf("GetXrefs: %v", err)
	}
	want := []struct {
		kind, typ string
		to        snapshot.Ref
	}{
		{XrefCode, "call", snapshot.Ref{Addr: addrHelper}},
		{XrefCode, "call", snapshot.Ref{Addr: 0x1000, External: true}},
		{XrefData, XrefStringRef, snapshot.Ref{Addr: 0x5000}},
		{XrefData, XrefDataRef, snapshot.Ref{Addr: 0x6000}},
	}
	if len(resp.Xrefs) != len(want) {
		t.Fatalf("Xrefs = %+v", resp.Xrefs)
	}
	for i, w := range want {
		x := resp.Xrefs[i]
		if x.Kind != w.kind || x.Type != w.typ || x.To.Address != w.to {
			t.Errorf("xref %d = %+v, want %+v", i, x, w)
		}
	}
	if site := resp.Xrefs[2].Site; site == nil || *site != addrBeacon+4 {
		t.Errorf("string site = %v", site)
	}

	resp, err = e.GetXrefs(ctx, GetXrefsOptions{Target: "beacon", Kind: "data"})
	if err != nil || resp.Total != 2 {
		t.Errorf("data kind = %+v, %v", resp, err)
	}
	resp, err = e.GetXrefs(ctx, GetXrefsOptions{Target: "beacon"})
	if err != nil || resp.Total != 5 {
		t.Errorf("both directions = %+v, %v", resp, err)
	}
}

func TestGetXrefs_StringAndImportTargets(t *testing.T) {
	e := newTestEngine(t, sampleBuilder(), nil)
	ctx := context.Background()

	resp, err := e.GetXrefs(ctx, GetXrefsOptions{Target: "0x5000"})
	if err != nil {
		t.Fatalf("GetXrefs: %v", err)
	}
	if resp.Target.Kind != SymbolString || len(resp.Xrefs) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if x := resp.Xrefs[0]; x.From.Name != "beacon" || x.Type != XrefStringRef || x.Direction != XrefIncoming {
		t.Errorf("xref = %+v", x)
	}

	resp, err = e.GetXrefs(ctx, GetXrefsOptions{Target: "connect", Direction: "to"})
	if err != nil {
		t.Fatalf("GetXrefs: %v", err)
	}
	if len(resp.Xrefs) != 1 || resp.Xrefs[0].From.Name != "beacon" {
		t.Errorf("import xrefs = %+v", resp.Xrefs)
	}
}

func TestGetXrefs_Invalid(t *testing.T) {
	e := newTestEngine(t, sampleBuilder(), nil)
	ctx := context.Background()

	_, err := e.GetXrefs(ctx, GetXrefsOptions{Target: "main", Direction: "sideways"})
	wantCode(t, err, errors.InvalidQuery)
	_, err = e.GetXrefs(ctx, GetXrefsOptions{Target: "main", Kind: "smoke"})
	wantCode(t, err, errors.InvalidQuery)
	_, err = e.GetXrefs(ctx, GetXrefsOptions{Target: "no_such_symbol"})
	wantCode(t, err, errors.NotFound)
}

func TestCallTypeLabel(t *testing.T) {
	tests := map[string]string{
		"UNCONDITIONAL_CALL": "call",
		"COMPUTED_CALL":      "call",
		"CONDITIONAL_JUMP":   "jump",
		"":                   "code_ref",
		"FALL_THROUGH":       "fall_through",
	}
	for in, want := range tests {
		if got := callTypeLabel(in); got != want {
			t.Errorf("callTypeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveSymbol(t *testing.T) {
	e := newTestEngine(t, sampleBuilder(), nil)
	ctx := context.Background()

	tests := []struct {
		query     string
		kind      string
		priority  int
		count     int
		ambiguous bool
	}{
		{"beacon", SymbolFunction, 0, 1, false},
		{"0x1100", SymbolFunction, 0, 1, false},
		{"loop", SymbolFunction, 1, 2, true},
		{"connect", SymbolImport, 10, 1, false},
		{"ServiceMain", SymbolExport, 12, 1, false},
		{"g_config", SymbolData, 20, 1, false},
		{"0x5100", SymbolString, 30, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := e.ResolveSymbol(ctx, ResolveSymbolOptions{Query: tt.query})
			if err != nil {
				t.Fatalf("ResolveSymbol: %v", err)
			}
			if len(resp.Candidates) != tt.count || resp.Ambiguous != tt.ambiguous {
				t.Fatalf("resp = %+v", resp)
			}
			c := resp.Candidates[0]
			if c.Kind != tt.kind || c.Priority != tt.priority {
				t.Errorf("candidate = %+v, want %s at %d", c, tt.kind, tt.priority)
			}
		})
	}

	_, err := e.ResolveSymbol(ctx, ResolveSymbolOptions{Query: "  "})
	wantCode(t, err, errors.InvalidQuery)
	_, err = e.ResolveSymbol(ctx, ResolveSymbolOptions{Query: "zzz_nothing"})
	wantCode(t, err, errors.NotFound)
}
