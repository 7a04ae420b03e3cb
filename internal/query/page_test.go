package query

import (
	"context"
	"testing"
	"time"
)

func TestWindow(t *testing.T) {
	w := newWindow[int](Page{Limit: 2, Offset: 3})
	for i := 0; i < 10; i++ {
		w.add(i)
	}
	if len(w.items) != 2 || w.items[0] != 3 || w.items[1] != 4 {
		t.Errorf("items = %v", w.items)
	}
	info := w.info(false)
	if info.Total != 10 || !info.Truncated {
		t.Errorf("info = %+v", info)
	}

	w = newWindow[int](Page{Limit: 5, Offset: 8})
	for i := 0; i < 3; i++ {
		w.add(i)
	}
	if len(w.items) != 0 || w.info(false).Truncated {
		t.Errorf("offset past the end: items = %v, info = %+v", w.items, w.info(false))
	}
}

func TestScan_TimeCeiling(t *testing.T) {
	s := &scan{op: OpSearchStrings, deadline: time.Now().Add(-time.Second)}
	ctx := context.Background()
	steps := 0
	for {
		ok, err := s.next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		steps++
	}
	if steps != 63 || !s.partial() || s.err() == nil {
		t.Errorf("steps = %d, partial = %v, err = %v", steps, s.partial(), s.err())
	}
}

func TestMatcher(t *testing.T) {
	tests := []struct {
		pattern     string
		isRegex, cs bool
		input       string
		want        bool
		wantLiteral string
	}{
		{"", false, false, "anything", true, ""},
		{"Http", false, false, "HTTP/1.1", true, "http"},
		{"Http", false, true, "HTTP/1.1", false, "Http"},
		{"^get", true, false, "GetProcAddress", true, ""},
		{"Proc", true, true, "GetProcAddress", true, "Proc"},
		{"a.c", true, true, "abc", true, ""},
	}
	for _, tt := range tests {
		m, err := newMatcher("pattern", tt.pattern, tt.isRegex, tt.cs)
		if err != nil {
			t.Fatalf("newMatcher(%q): %v", tt.pattern, err)
		}
		if got := m.Match(tt.input); got != tt.want {
			t.Errorf("%q.Match(%q) = %v, want %v", tt.pattern, tt.input, got, tt.want)
		}
		if got := m.literal(); got != tt.wantLiteral {
			t.Errorf("%q.literal() = %q, want %q", tt.pattern, got, tt.wantLiteral)
		}
	}
}

func TestClip(t *testing.T) {
	if got := clip("héllo", 2); got != "hé" {
		t.Errorf("clip = %q", got)
	}
	if got := clip("abc", 0); got != "abc" {
		t.Errorf("clip unlimited = %q", got)
	}
}
