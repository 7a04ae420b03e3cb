package query

import (
	"bytes"
	"context"
	"strings"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"kernscope/internal/errors"
)

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest("search_strings", []byte(`{"pattern":"c2","limit":5}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	opts, ok := req.(SearchStringsOptions)
	if !ok {
		t.Fatalf("request type = %T", req)
	}
	if opts.Pattern != "c2" || opts.Limit != 5 {
		t.Errorf("opts = %+v", opts)
	}

	req, err = DecodeRequest(" TRACE_CALLS ", nil)
	if err != nil {
		t.Fatalf("DecodeRequest without args: %v", err)
	}
	if req.Op() != OpTraceCalls {
		t.Errorf("Op = %s", req.Op())
	}
}

func TestDecodeRequest_Rejects(t *testing.T) {
	tests := []struct {
		name string
		op   string
		args string
	}{
		{"unknown op", "format_disk", ""},
		{"unknown field", "search_functions", `{"name":"main"}`},
		{"wrong type", "trace_calls", `{"max_depth":"deep"}`},
		{"trailing data", "list_files", `{} {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(tt.op, []byte(tt.args))
			wantCode(t, err, errors.InvalidQuery)
		})
	}
}

func TestEveryOperationHasARequest(t *testing.T) {
	if len(Operations) != 15 {
		t.Fatalf("len(Operations) = %d", len(Operations))
	}
	for _, op := range Operations {
		req, ok := Zero(op)
		if !ok {
			t.Errorf("no request type for %s", op)
			continue
		}
		if req.Op() != op {
			t.Errorf("Zero(%s).Op() = %s", op, req.Op())
		}
	}
}

func TestDispatch(t *testing.T) {
	e := newTestEngine(t, sampleBuilder(), nil)
	ctx := context.Background()

	req, err := DecodeRequest("search_strings", []byte(`{"pattern":"gate"}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	out, err := e.Dispatch(ctx, req)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	resp, ok := out.(*SearchStringsResponse)
	if !ok || len(resp.Strings) != 1 {
		t.Fatalf("Dispatch result = %#v", out)
	}

	// Every zero-valued request either succeeds or fails with a coded error.
	for _, op := range Operations {
		req, _ := Zero(op)
		out, err := e.Dispatch(ctx, req)
		if err != nil {
			if errors.CodeOf(err) == errors.InternalError {
				t.Errorf("%s: %v", op, err)
			}
			if out != nil {
				t.Errorf("%s: failed request returned %#v", op, out)
			}
		}
	}

	_, err = e.Dispatch(ctx, nil)
	wantCode(t, err, errors.InvalidQuery)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	e := newTestEngine(t, sampleBuilder(), nil).WithMetrics(m)
	ctx := context.Background()

	if _, err := e.SearchFunctions(ctx, SearchFunctionsOptions{}); err != nil {
		t.Fatalf("SearchFunctions: %v", err)
	}
	_, _ = e.SearchFunctions(ctx, SearchFunctionsOptions{NamePattern: "[", IsRegex: true})

	if got := promtest.ToFloat64(m.queries.WithLabelValues("search_functions", "ok")); got != 1 {
		t.Errorf("ok count = %v", got)
	}
	if got := promtest.ToFloat64(m.queries.WithLabelValues("search_functions", "INVALID_QUERY")); got != 1 {
		t.Errorf("invalid count = %v", got)
	}

	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if !strings.Contains(buf.String(), "kernscope_query_operations_total") {
		t.Errorf("exposition missing counter:\n%s", buf.String())
	}
}

func TestMetrics_PartialScans(t *testing.T) {
	m := NewMetrics()
	e := newTestEngine(t, sampleBuilder(), nil).WithMetrics(m)
	e.cfg.MaxScanMatches = 1

	_, err := e.SearchStrings(context.Background(), SearchStringsOptions{Pattern: "a"})
	wantCode(t, err, errors.Timeout)
	if got := promtest.ToFloat64(m.partial.WithLabelValues("search_strings")); got != 1 {
		t.Errorf("partial count = %v", got)
	}
}
