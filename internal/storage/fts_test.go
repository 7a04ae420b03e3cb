package storage

import (
	"context"
	"errors"
	"testing"
)

func setupTestIndex(t *testing.T, records []TextRecord) *TextIndex {
	t.Helper()

	ix, err := BuildTextIndex(context.Background(), nil, records)
	if err != nil {
		t.Fatalf("failed to build text index: %v", err)
	}
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestTextIndexInitSchema(t *testing.T) {
	ix := setupTestIndex(t, nil)

	for _, name := range []string{"text_content", "text_fts"} {
		var count int
		err := ix.db.Conn().QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
		if err != nil || count != 1 {
			t.Errorf("%s table not created", name)
		}
	}
}

func TestTextIndexCandidates(t *testing.T) {
	ix := setupTestIndex(t, []TextRecord{
		{Kind: KindString, Address: 0x3000, Body: "http://evil.example/payload"},
		{Kind: KindString, Address: 0x1000, Body: "HTTP/1.1 200 OK"},
		{Kind: KindString, Address: 0x2000, Body: "kernel32.dll"},
		{Kind: KindDecomp, Address: 0x401000, Body: "iVar1 = InternetOpenA(\"http\", 0);"},
		{Kind: KindString, Address: 0xffffffff80001000, Body: "say \"http\" twice http"},
	})
	ctx := context.Background()

	got, err := ix.Candidates(ctx, KindString, "http")
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	want := []uint64{0x1000, 0x3000, 0xffffffff80001000}
	if len(got) != len(want) {
		t.Fatalf("Candidates = %x, want %x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Candidates[%d] = 0x%x, want 0x%x", i, got[i], want[i])
		}
	}

	decomp, err := ix.Candidates(ctx, KindDecomp, "internetopen")
	if err != nil {
		t.Fatalf("Candidates(decomp) failed: %v", err)
	}
	if len(decomp) != 1 || decomp[0] != 0x401000 {
		t.Errorf("decomp candidates = %x, want [401000]", decomp)
	}

	quoted, err := ix.Candidates(ctx, KindString, `"http"`)
	if err != nil {
		t.Fatalf("quoted needle failed: %v", err)
	}
	if len(quoted) != 1 || quoted[0] != 0xffffffff80001000 {
		t.Errorf("quoted candidates = %x", quoted)
	}
}

func TestTextIndexUnindexable(t *testing.T) {
	ix := setupTestIndex(t, []TextRecord{{Kind: KindString, Address: 1, Body: "ab"}})

	for _, needle := range []string{"ab", "", "Grüße"} {
		if _, err := ix.Candidates(context.Background(), KindString, needle); !errors.Is(err, ErrUnindexable) {
			t.Errorf("Candidates(%q) err = %v, want ErrUnindexable", needle, err)
		}
	}
}

func TestTextIndexBulkInsertReplaces(t *testing.T) {
	ix := setupTestIndex(t, []TextRecord{{Kind: KindString, Address: 1, Body: "first body"}})
	ctx := context.Background()

	if err := ix.BulkInsert(ctx, []TextRecord{
		{Kind: KindString, Address: 2, Body: "second body"},
		{Kind: KindString, Address: 3, Body: "third body"},
	}); err != nil {
		t.Fatalf("BulkInsert failed: %v", err)
	}

	n, err := ix.Count(ctx, KindString)
	if err != nil || n != 2 {
		t.Errorf("Count = %d, %v; want 2", n, err)
	}
	got, _ := ix.Candidates(ctx, KindString, "first")
	if len(got) != 0 {
		t.Errorf("stale content still indexed: %x", got)
	}
}

func TestEscapeFTS5Phrase(t *testing.T) {
	if got := escapeFTS5Phrase(`a"b`); got != `"a""b"` {
		t.Errorf("escapeFTS5Phrase = %s", got)
	}
}
