package snapshot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"

	"kernscope/internal/errors"
)

func TestCheckEntryName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"meta.json", true},
		{"snap/decomp/00401000_main.c", true},
		{"../meta.json", false},
		{"snap/../../etc/passwd", false},
		{"/etc/passwd", false},
		{`C:\temp\meta.json`, false},
		{`snap\..\meta.json`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkEntryName(tt.name)
			if (err == nil) != tt.ok {
				t.Errorf("checkEntryName(%q) = %v, want ok=%v", tt.name, err, tt.ok)
			}
		})
	}
}

func TestCleanDecompPath(t *testing.T) {
	tests := map[string]string{
		"decomp/00401000_main.c":    "decomp/00401000_main.c",
		`decomp\00401000_main.c`:    "decomp/00401000_main.c",
		"./decomp/a.c":              "decomp/a.c",
		"other/a.c":                 "",
		"decomp/../functions.jsonl": "",
		"":                          "",
	}
	for in, want := range tests {
		if got := cleanDecompPath(in); got != want {
			t.Errorf("cleanDecompPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestZipSource_RejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"meta.json", "../escape.txt"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte("{}"))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "evil.zip")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(context.Background(), p, Options{SkipTextIndex: true})
	if !errors.IsCode(err, errors.SnapshotCorrupt) {
		t.Fatalf("err = %v, want SNAPSHOT_CORRUPT", err)
	}
	if s != nil {
		t.Error("no snapshot may be returned")
	}
}

func TestStoredFiles_PlainWins(t *testing.T) {
	files := storedFiles{}
	files.add("strings.jsonl.gz", 10)
	files.add("strings.jsonl", 20)
	files.add("strings.jsonl.zst", 5)

	e := files["strings.jsonl"]
	if e.Stored != "strings.jsonl" || e.Size != 20 {
		t.Errorf("entry = %+v, want the plain file", e)
	}
}
