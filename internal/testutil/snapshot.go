// Package testutil writes synthetic snapshots for tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Record is one wire record. Tests mutate records in place to produce
// malformed snapshots.
type Record = map[string]any

// SnapshotBuilder assembles the files of a snapshot in memory. Every file is
// written unless omitted; index.json and data_index.json are derived from
// the functions and data unless set explicitly.
type SnapshotBuilder struct {
	Meta      Record
	Functions []Record
	Edges     []Record
	Strings   []Record
	Data      []Record
	Imports   []Record
	Exports   []Record
	Sections  []Record
	Equates   []Record
	Index     Record
	DataIndex Record

	// Decomp maps a name under decomp/ to its text.
	Decomp map[string]string

	omit      map[string]bool
	suffix    map[string]string
	raw       map[string][]byte
	nextThunk uint64
}

// NewSnapshotBuilder returns a builder with valid metadata and no records.
func NewSnapshotBuilder() *SnapshotBuilder {
	return &SnapshotBuilder{
		Meta: Record{
			"file_name":         "sample.exe",
			"file_path":         "/samples/sample.exe",
			"sha256":            strings.Repeat("ab", 32),
			"md5":               strings.Repeat("cd", 16),
			"file_size":         4096,
			"image_base":        "0x400000",
			"language":          "x86:LE:32:default",
			"compiler":          "visualstudio:unknown",
			"endian":            "little",
			"processor":         "x86",
			"executable_format": "Portable Executable (PE)",
			"format":            "pe",
		},
		Decomp:    map[string]string{},
		omit:      map[string]bool{},
		suffix:    map[string]string{},
		raw:       map[string][]byte{},
		nextThunk: 0x1000,
	}
}

// Hex renders an address the way snapshot files do.
func Hex(a uint64) string { return fmt.Sprintf("0x%x", a) }

// External renders an EXTERNAL: pseudo-address.
func External(a uint64) string { return fmt.Sprintf("EXTERNAL:%08x", a) }

// AddFunction adds a function occupying [entry, entry+size).
func (b *SnapshotBuilder) AddFunction(entry, size uint64, name string) Record {
	fn := Record{
		"ea":        Hex(entry),
		"name":      name,
		"ranges":    [][]string{{Hex(entry), Hex(entry + size - 1)}},
		"xrefs_in":  []string{},
		"xrefs_out": []Record{},
		"metrics": Record{
			"size_bytes":            size,
			"instruction_count":     size / 4,
			"basic_block_count":     1,
			"cyclomatic_complexity": 1,
		},
		"decomp_path": nil,
	}
	b.Functions = append(b.Functions, fn)
	return fn
}

// FunctionAt returns the function record with the given entry, or nil.
func (b *SnapshotBuilder) FunctionAt(entry uint64) Record {
	for _, fn := range b.Functions {
		if fn["ea"] == Hex(entry) {
			return fn
		}
	}
	return nil
}

// SetComplexity sets the cyclomatic complexity of the function at entry.
func (b *SnapshotBuilder) SetComplexity(entry uint64, cc int) {
	b.mustFunction(entry)["metrics"].(Record)["cyclomatic_complexity"] = cc
}

// Call records a direct call from one function to another, as a call-graph
// edge and in both functions' xrefs.
func (b *SnapshotBuilder) Call(from, to uint64) {
	caller, callee := b.mustFunction(from), b.mustFunction(to)
	b.Edges = append(b.Edges, Record{
		"from": Hex(from), "from_name": caller["name"],
		"to": Hex(to), "to_name": callee["name"],
		"type": "UNCONDITIONAL_CALL",
	})
	caller["xrefs_out"] = append(caller["xrefs_out"].([]Record),
		Record{"ea": Hex(to), "name": callee["name"], "type": "UNCONDITIONAL_CALL"})
	callee["xrefs_in"] = append(callee["xrefs_in"].([]string), Hex(from))
}

// CallImport records a call from a function to an imported API, creating the
// import and its thunk address on first use.
func (b *SnapshotBuilder) CallImport(from uint64, library, name string) {
	caller := b.mustFunction(from)
	imp := b.AddImport(library, name)
	target := imp["address"].(string)
	b.Edges = append(b.Edges, Record{
		"from": Hex(from), "from_name": caller["name"],
		"to": target, "to_name": name,
		"type": "UNCONDITIONAL_CALL",
	})
	caller["xrefs_out"] = append(caller["xrefs_out"].([]Record),
		Record{"ea": target, "name": name, "type": "UNCONDITIONAL_CALL"})
}

// AddImport adds an import, or returns the existing one with the same
// library and name.
func (b *SnapshotBuilder) AddImport(library, name string) Record {
	for _, imp := range b.Imports {
		if imp["library"] == library && imp["name"] == name {
			return imp
		}
	}
	imp := Record{
		"name":    name,
		"library": library,
		"address": External(b.nextThunk),
		"type":    "Function",
	}
	b.nextThunk += 8
	b.Imports = append(b.Imports, imp)
	return imp
}

// AddExport exports the function at addr under name.
func (b *SnapshotBuilder) AddExport(addr uint64, name string) Record {
	exp := Record{"name": name, "address": Hex(addr), "type": "Function"}
	b.Exports = append(b.Exports, exp)
	return exp
}

// AddString adds a string referenced from each listed function entry.
func (b *SnapshotBuilder) AddString(addr uint64, value string, from ...uint64) Record {
	xrefs := []Record{}
	for _, f := range from {
		site := Record{"from": Hex(f + 4), "function": nil}
		if fn := b.FunctionAt(f); fn != nil {
			site["function"] = fn["name"]
		}
		xrefs = append(xrefs, site)
	}
	s := Record{
		"ea":       Hex(addr),
		"value":    value,
		"length":   len(value),
		"encoding": "ascii",
		"xrefs":    xrefs,
	}
	b.Strings = append(b.Strings, s)
	return s
}

// AddData adds a data item. raw may be nil.
func (b *SnapshotBuilder) AddData(addr uint64, name, typ string, raw []byte) Record {
	d := Record{
		"ea":     Hex(addr),
		"name":   name,
		"type":   typ,
		"length": len(raw),
		"xrefs":  []Record{},
	}
	if raw != nil {
		d["bytes"] = fmt.Sprintf("%x", raw)
	}
	b.Data = append(b.Data, d)
	return d
}

// AddSection adds a section covering [start, start+size). perms is a subset
// of "rwx".
func (b *SnapshotBuilder) AddSection(name string, start, size uint64, perms string) Record {
	s := Record{
		"name":  name,
		"start": Hex(start),
		"end":   Hex(start + size - 1),
		"size":  size,
		"permissions": Record{
			"read":    strings.Contains(perms, "r"),
			"write":   strings.Contains(perms, "w"),
			"execute": strings.Contains(perms, "x"),
		},
		"initialized": true,
		"type":        "Default",
		"comment":     nil,
	}
	b.Sections = append(b.Sections, s)
	return s
}

// AddEquate adds an equate referenced refs times.
func (b *SnapshotBuilder) AddEquate(name string, value int64, refs int) Record {
	e := Record{"name": name, "value": value, "reference_count": refs, "references": []string{}}
	b.Equates = append(b.Equates, e)
	return e
}

// SetDecomp attaches decompiled text to the function at entry.
func (b *SnapshotBuilder) SetDecomp(entry uint64, text string) {
	fn := b.mustFunction(entry)
	name := fmt.Sprintf("%08x_%s.c", entry, fn["name"])
	fn["decomp_path"] = "decomp/" + name
	b.Decomp[name] = text
}

// Omit leaves the named files out of the snapshot.
func (b *SnapshotBuilder) Omit(names ...string) *SnapshotBuilder {
	for _, n := range names {
		b.omit[n] = true
	}
	return b
}

// Compress stores the named file with a ".gz" or ".zst" suffix.
func (b *SnapshotBuilder) Compress(name, suffix string) *SnapshotBuilder {
	b.suffix[name] = suffix
	return b
}

// Raw replaces the content of the named file verbatim.
func (b *SnapshotBuilder) Raw(name string, content []byte) *SnapshotBuilder {
	b.raw[name] = content
	return b
}

// WriteDir writes the snapshot into a fresh directory and returns its path.
func (b *SnapshotBuilder) WriteDir(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range b.files(t) {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, content, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

// WriteZip writes the snapshot as a zip archive, under folder when it is
// not empty, and returns the archive path.
func (b *SnapshotBuilder) WriteZip(t testing.TB, folder string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := b.files(t)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(path.Join(folder, name))
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write(files[name]); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	p := filepath.Join(t.TempDir(), "sample_archive.zip")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return p
}

// files renders every file, keyed by stored name.
func (b *SnapshotBuilder) files(t testing.TB) map[string][]byte {
	t.Helper()
	out := map[string][]byte{}
	put := func(name string, content []byte) {
		if b.omit[name] {
			return
		}
		if r, ok := b.raw[name]; ok {
			content = r
		}
		switch b.suffix[name] {
		case ".gz":
			content = gzipBytes(t, content)
			name += ".gz"
		case ".zst":
			content = zstdBytes(t, content)
			name += ".zst"
		}
		out[name] = content
	}

	put("meta.json", mustJSON(t, b.Meta))
	put("functions.jsonl", jsonLines(t, b.Functions))
	put("callgraph.jsonl", jsonLines(t, b.Edges))
	put("strings.jsonl", jsonLines(t, b.Strings))
	put("data.jsonl", jsonLines(t, b.Data))
	put("imports_exports.json", mustJSON(t, Record{"imports": orEmpty(b.Imports), "exports": orEmpty(b.Exports)}))
	put("sections.json", mustJSON(t, orEmpty(b.Sections)))
	put("equates.json", mustJSON(t, orEmpty(b.Equates)))

	index := b.Index
	if index == nil {
		byName, byEA := Record{}, Record{}
		for i, fn := range b.Functions {
			byName[fn["name"].(string)] = fn["ea"]
			byEA[fn["ea"].(string)] = i
		}
		index = Record{"by_name": byName, "by_ea": byEA}
	}
	put("index.json", mustJSON(t, index))

	dataIndex := b.DataIndex
	if dataIndex == nil {
		byName := Record{}
		for _, d := range b.Data {
			if name, ok := d["name"].(string); ok && name != "" {
				byName[name] = d["ea"]
			}
		}
		dataIndex = Record{"by_name": byName}
	}
	put("data_index.json", mustJSON(t, dataIndex))

	if !b.omit["decomp"] {
		for name, text := range b.Decomp {
			out["decomp/"+name] = []byte(text)
		}
	}
	return out
}

func (b *SnapshotBuilder) mustFunction(entry uint64) Record {
	fn := b.FunctionAt(entry)
	if fn == nil {
		panic(fmt.Sprintf("testutil: no function at %s", Hex(entry)))
	}
	return fn
}

func orEmpty(records []Record) []Record {
	if records == nil {
		return []Record{}
	}
	return records
}

func mustJSON(t testing.TB, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func jsonLines(t testing.TB, records []Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, r := range records {
		buf.Write(mustJSON(t, r))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func gzipBytes(t testing.TB, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	return buf.Bytes()
}

func zstdBytes(t testing.TB, content []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(content, nil)
}
