package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"

	"kernscope/internal/errors"
	"kernscope/internal/testutil"
)

// sampleBuilder describes a small dropper: start calls beacon, beacon talks
// to the network, persist writes a Run key.
func sampleBuilder() *testutil.SnapshotBuilder {
	b := testutil.NewSnapshotBuilder()
	b.AddFunction(0x401000, 0x50, "entry")
	b.AddFunction(0x401100, 0x200, "beacon")
	b.AddFunction(0x402000, 0x30, "persist")
	b.Call(0x401000, 0x401100)
	b.Call(0x401000, 0x402000)
	b.CallImport(0x401100, "WININET.DLL", "InternetOpenA")
	b.CallImport(0x402000, "ADVAPI32.DLL", "RegSetValueExA")
	b.AddExport(0x401000, "entry")
	b.AddString(0x405000, "http://203.0.113.7/gate.php", 0x401100)
	b.AddString(0x405040, `Software\Microsoft\Windows\CurrentVersion\Run`, 0x402000)
	b.AddSection(".text", 0x401000, 0x2000, "rx")
	b.AddSection(".data", 0x405000, 0x1000, "rw")
	b.AddData(0x405100, "g_config", "byte[8]", []byte("key=val;"))
	b.AddEquate("MAX_PATH", 260, 4)
	b.SetDecomp(0x401100, "void beacon(void)\n{\n  InternetOpenA(\"ua\", 0, 0, 0, 0);\n}\n")
	return b
}

func loadDir(t *testing.T, b *testutil.SnapshotBuilder) *Snapshot {
	t.Helper()
	s, err := Load(context.Background(), b.WriteDir(t), Options{SkipTextIndex: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoad_Sample(t *testing.T) {
	s := loadDir(t, sampleBuilder())

	if s.NumFunctions() != 3 {
		t.Fatalf("NumFunctions = %d, want 3", s.NumFunctions())
	}
	if len(s.Missing()) != 0 {
		t.Errorf("Missing = %v, want none", s.Missing())
	}
	if len(s.Digest()) != 64 {
		t.Errorf("Digest = %q", s.Digest())
	}
	if s.Meta().SHA256 == "" || s.Meta().ImageBase != 0x400000 {
		t.Errorf("Meta = %+v", s.Meta())
	}

	fn, ok := s.FunctionContaining(0x401120)
	if !ok || fn.Name != "beacon" {
		t.Errorf("FunctionContaining(0x401120) = %v, %v", fn.Name, ok)
	}
	if _, ok := s.FunctionContaining(0x401300); ok {
		t.Error("0x401300 is past the end of beacon")
	}

	sec, ok := s.SectionContaining(0x405010)
	if !ok || sec.Name != ".data" {
		t.Errorf("SectionContaining = %v, %v", sec.Name, ok)
	}

	if got := s.Callers(0x401100); !slices.Equal(got, []Address{0x401000}) {
		t.Errorf("Callers(beacon) = %v", got)
	}
	callees := s.Callees(0x401100)
	if len(callees) != 1 || !callees[0].External {
		t.Fatalf("Callees(beacon) = %v", callees)
	}
	if name := s.NameOf(callees[0]); name != "InternetOpenA" {
		t.Errorf("NameOf(%s) = %q", callees[0], name)
	}
	if !s.IsExported(0x401000) || s.IsExported(0x401100) {
		t.Error("only entry is exported")
	}

	text, ok := s.Decompilation(0x401100)
	if !ok || text == "" {
		t.Error("beacon has decompiled text")
	}
	if got := s.FunctionsByName("BEACON", true); len(got) != 1 {
		t.Errorf("FunctionsByName fold = %d results", len(got))
	}
	if got := s.DataByName("g_config", false); len(got) != 1 || got[0] != 0x405100 {
		t.Errorf("DataByName = %v", got)
	}
}

func TestLoad_Idempotent(t *testing.T) {
	dir := sampleBuilder().WriteDir(t)
	ctx := context.Background()

	a, err := Load(ctx, dir, Options{SkipTextIndex: true})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Load(ctx, dir, Options{SkipTextIndex: true})
	if err != nil {
		t.Fatal(err)
	}
	if a.Digest() != b.Digest() {
		t.Error("digests differ")
	}
	if !reflect.DeepEqual(a.Functions(), b.Functions()) {
		t.Error("functions differ between loads")
	}
	if !reflect.DeepEqual(a.Edges(), b.Edges()) {
		t.Error("edges differ between loads")
	}
}

func TestLoad_RecordOrderIndependent(t *testing.T) {
	base := loadDir(t, sampleBuilder())

	shuffled := sampleBuilder()
	shuffled.Functions = append(shuffled.Functions, shuffled.Functions[0])
	shuffled.Functions = shuffled.Functions[1:]
	slices.Reverse(shuffled.Edges)
	slices.Reverse(shuffled.Strings)
	slices.Reverse(shuffled.Imports)
	slices.Reverse(shuffled.Sections)
	got := loadDir(t, shuffled)

	if !reflect.DeepEqual(got.Functions(), base.Functions()) {
		t.Errorf("Functions differ:\n got %+v\nwant %+v", got.Functions(), base.Functions())
	}
	if !reflect.DeepEqual(got.Edges(), base.Edges()) {
		t.Errorf("Edges = %+v, want %+v", got.Edges(), base.Edges())
	}
	if !reflect.DeepEqual(got.Strings(), base.Strings()) {
		t.Errorf("Strings = %+v, want %+v", got.Strings(), base.Strings())
	}
	if !reflect.DeepEqual(got.Imports(), base.Imports()) {
		t.Errorf("Imports = %+v, want %+v", got.Imports(), base.Imports())
	}
	if !reflect.DeepEqual(got.Sections(), base.Sections()) {
		t.Errorf("Sections = %+v, want %+v", got.Sections(), base.Sections())
	}
	for _, fn := range base.Functions() {
		if !slices.Equal(got.Callers(fn.Entry), base.Callers(fn.Entry)) {
			t.Errorf("Callers(%s) = %v, want %v", fn.Entry, got.Callers(fn.Entry), base.Callers(fn.Entry))
		}
		if !slices.Equal(got.Callees(fn.Entry), base.Callees(fn.Entry)) {
			t.Errorf("Callees(%s) = %v, want %v", fn.Entry, got.Callees(fn.Entry), base.Callees(fn.Entry))
		}
		g, _ := got.FunctionContaining(fn.Entry + 1)
		if g.Entry != fn.Entry {
			t.Errorf("FunctionContaining(%s+1) = %s", fn.Entry, g.Entry)
		}
	}
}

func TestLoad_MissingSHA256(t *testing.T) {
	b := sampleBuilder()
	delete(b.Meta, "sha256")

	s, err := Load(context.Background(), b.WriteDir(t), Options{SkipTextIndex: true})
	if !errors.IsCode(err, errors.SnapshotCorrupt) {
		t.Fatalf("err = %v, want SNAPSHOT_CORRUPT", err)
	}
	if s != nil {
		t.Error("no snapshot may be returned on error")
	}
}

func TestLoad_MissingMandatory(t *testing.T) {
	for _, name := range MandatoryFiles {
		t.Run(name, func(t *testing.T) {
			b := sampleBuilder().Omit(name)
			s, err := Load(context.Background(), b.WriteDir(t), Options{SkipTextIndex: true})
			if !errors.IsCode(err, errors.SnapshotCorrupt) {
				t.Fatalf("err = %v, want SNAPSHOT_CORRUPT", err)
			}
			if s != nil {
				t.Error("no snapshot may be returned on error")
			}
		})
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope"), Options{})
	if !errors.IsCode(err, errors.SnapshotNotFound) {
		t.Fatalf("err = %v, want SNAPSHOT_NOT_FOUND", err)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *testutil.SnapshotBuilder)
	}{
		{"duplicate function address", func(b *testutil.SnapshotBuilder) {
			b.AddFunction(0x402000, 0x10, "persist_copy")
		}},
		{"overlapping ranges", func(b *testutil.SnapshotBuilder) {
			b.AddFunction(0x401040, 0x20, "inside_entry")
		}},
		{"dangling edge", func(b *testutil.SnapshotBuilder) {
			b.Edges = append(b.Edges, testutil.Record{"from": "0x401000", "to": "0x409000", "type": "UNCONDITIONAL_CALL"})
		}},
		{"dangling xrefs_in", func(b *testutil.SnapshotBuilder) {
			fn := b.FunctionAt(0x402000)
			fn["xrefs_in"] = append(fn["xrefs_in"].([]string), "0x409999")
		}},
		{"dangling index entry", func(b *testutil.SnapshotBuilder) {
			b.Index = testutil.Record{"by_name": testutil.Record{"ghost": "0x409000"}, "by_ea": testutil.Record{}}
		}},
		{"empty ranges", func(b *testutil.SnapshotBuilder) {
			b.FunctionAt(0x402000)["ranges"] = [][]string{}
		}},
		{"inverted range", func(b *testutil.SnapshotBuilder) {
			b.FunctionAt(0x402000)["ranges"] = [][]string{{"0x402010", "0x402000"}}
		}},
		{"bad address", func(b *testutil.SnapshotBuilder) {
			b.FunctionAt(0x402000)["ea"] = "not-hex"
		}},
		{"duplicate string address", func(b *testutil.SnapshotBuilder) {
			b.AddString(0x405000, "again")
		}},
		{"malformed line", func(b *testutil.SnapshotBuilder) {
			b.Raw("callgraph.jsonl", []byte("{\"from\": \"0x401000\",\n"))
		}},
		{"malformed sections", func(b *testutil.SnapshotBuilder) {
			b.Raw("sections.json", []byte("{not json"))
		}},
		{"data index names unknown item", func(b *testutil.SnapshotBuilder) {
			b.DataIndex = testutil.Record{"by_name": testutil.Record{"g_missing": "0x40ffff"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := sampleBuilder()
			tt.mutate(b)
			s, err := Load(context.Background(), b.WriteDir(t), Options{SkipTextIndex: true})
			if !errors.IsCode(err, errors.SnapshotCorrupt) {
				t.Fatalf("err = %v, want SNAPSHOT_CORRUPT", err)
			}
			if s != nil {
				t.Error("no snapshot may be returned on error")
			}
		})
	}
}

func TestLoad_MissingOptional(t *testing.T) {
	b := sampleBuilder().Omit("equates.json", "decomp")
	s := loadDir(t, b)

	if got := s.Missing(); !slices.Equal(got, []string{"equates.json", "decomp"}) {
		t.Errorf("Missing = %v", got)
	}
	if len(s.Equates()) != 0 {
		t.Error("equates must be empty")
	}
	fn, _ := s.Function(0x401100)
	if fn.HasDecomp() {
		t.Error("decomp_path must be cleared when the text is absent")
	}
}

func TestLoad_CompressedMatchesPlain(t *testing.T) {
	plain := loadDir(t, sampleBuilder())
	packed := loadDir(t, sampleBuilder().
		Compress("functions.jsonl", ".gz").
		Compress("callgraph.jsonl", ".zst").
		Compress("strings.jsonl", ".gz"))

	if plain.Digest() != packed.Digest() {
		t.Errorf("digest %s != %s", plain.Digest(), packed.Digest())
	}
	if !reflect.DeepEqual(plain.Functions(), packed.Functions()) {
		t.Error("functions differ")
	}
	if len(packed.Strings()) != 2 {
		t.Errorf("Strings = %d, want 2", len(packed.Strings()))
	}
}

func TestLoad_Zip(t *testing.T) {
	for _, folder := range []string{"", "sample_archive"} {
		t.Run("folder="+folder, func(t *testing.T) {
			p := sampleBuilder().WriteZip(t, folder)
			s, err := Load(context.Background(), p, Options{SkipTextIndex: true})
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			defer s.Close()
			if s.NumFunctions() != 3 {
				t.Errorf("NumFunctions = %d", s.NumFunctions())
			}
			if _, ok := s.Decompilation(0x401100); !ok {
				t.Error("decompiled text missing from archive load")
			}
		})
	}
}

func TestLoad_BinaryPathResolvesArchive(t *testing.T) {
	archive := sampleBuilder().WriteZip(t, "")
	binary := filepath.Join(filepath.Dir(archive), "sample.exe")
	if err := os.WriteFile(binary, []byte("MZ"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(context.Background(), binary, Options{SkipTextIndex: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer s.Close()
	if s.Location() != archive {
		t.Errorf("Location = %s, want %s", s.Location(), archive)
	}
}

func TestLoad_CallersFallBackToXrefs(t *testing.T) {
	b := testutil.NewSnapshotBuilder()
	b.AddFunction(0x1000, 0x10, "a")
	b.AddFunction(0x2000, 0x10, "b")
	b.FunctionAt(0x2000)["xrefs_in"] = []string{"0x1000"}
	b.FunctionAt(0x1000)["xrefs_out"] = []testutil.Record{{"ea": "0x2000", "name": "b", "type": "UNCONDITIONAL_CALL"}}

	s := loadDir(t, b)
	if got := s.Callers(0x2000); !slices.Equal(got, []Address{0x1000}) {
		t.Errorf("Callers = %v", got)
	}
	if got := s.Callees(0x1000); len(got) != 1 || got[0].Addr != 0x2000 {
		t.Errorf("Callees = %v", got)
	}
}

func TestLoad_TextIndex(t *testing.T) {
	s, err := Load(context.Background(), sampleBuilder().WriteDir(t), Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer s.Close()

	ix := s.TextIndex()
	if ix == nil {
		t.Fatal("text index not built")
	}
	got, err := ix.Candidates(context.Background(), "string", "gate.php")
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if !slices.Equal(got, []uint64{0x405000}) {
		t.Errorf("Candidates = %v", got)
	}
}

func TestLoad_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Load(ctx, sampleBuilder().WriteDir(t), Options{SkipTextIndex: true}); err == nil {
		t.Fatal("cancelled load must fail")
	}
}
