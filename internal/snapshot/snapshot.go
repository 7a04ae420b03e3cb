// Package snapshot loads, validates and indexes a binary's static-analysis
// snapshot. A loaded Snapshot is immutable and safe for concurrent readers.
package snapshot

import (
	"log/slog"
	"slices"
	"strings"

	"kernscope/internal/storage"
)

// Snapshot is a loaded, validated and indexed snapshot.
type Snapshot struct {
	location string
	entries  []Entry
	missing  []string
	digest   string

	meta      Meta
	functions []Function
	strings   []StringRecord
	imports   []Import
	exports   []Export
	sections  []Section
	data      []DataItem
	equates   []Equate
	edges     []Edge
	decomp    map[Address]string

	idx    *indexes
	text   *storage.TextIndex
	logger *slog.Logger
}

// Location is the directory or archive the snapshot was loaded from.
func (s *Snapshot) Location() string { return s.location }

// Digest is the BLAKE2b-256 digest over the mandatory files, hex encoded.
func (s *Snapshot) Digest() string { return s.digest }

// Entries lists every artifact in the snapshot, sorted by name.
func (s *Snapshot) Entries() []Entry { return slices.Clone(s.entries) }

// Missing lists the optional sources that were not present.
func (s *Snapshot) Missing() []string { return slices.Clone(s.missing) }

// Has reports whether an optional source was loaded.
func (s *Snapshot) Has(name string) bool { return !slices.Contains(s.missing, name) }

// Meta returns the file-level metadata.
func (s *Snapshot) Meta() Meta { return s.meta }

// Logger returns the logger the snapshot was loaded with.
func (s *Snapshot) Logger() *slog.Logger { return s.logger }

// TextIndex returns the substring index over strings and decompiled text,
// or nil when it was not built.
func (s *Snapshot) TextIndex() *storage.TextIndex { return s.text }

// Close releases the text index.
func (s *Snapshot) Close() error {
	if s.text != nil {
		return s.text.Close()
	}
	return nil
}

// Functions returns all functions in ascending entry order.
func (s *Snapshot) Functions() []Function { return slices.Clone(s.functions) }

// NumFunctions returns the number of function records.
func (s *Snapshot) NumFunctions() int { return len(s.functions) }

// Function returns the function whose entry is a.
func (s *Snapshot) Function(a Address) (Function, bool) {
	i, ok := s.idx.funcByEntry[a]
	if !ok {
		return Function{}, false
	}
	return s.functions[i], true
}

// FunctionContaining returns the function whose ranges hold a.
func (s *Snapshot) FunctionContaining(a Address) (Function, bool) {
	i, ok := s.idx.functionContaining(a)
	if !ok {
		return Function{}, false
	}
	return s.functions[i], true
}

// FunctionsByName returns functions named name in entry order, comparing
// case-insensitively when fold is set.
func (s *Snapshot) FunctionsByName(name string, fold bool) []Function {
	list := s.idx.funcByName[name]
	if fold {
		list = s.idx.funcByFold[strings.ToLower(name)]
	}
	out := make([]Function, 0, len(list))
	for _, i := range list {
		out = append(out, s.functions[i])
	}
	return out
}

// Strings returns all strings in ascending address order.
func (s *Snapshot) Strings() []StringRecord { return slices.Clone(s.strings) }

// StringAt returns the string at a.
func (s *Snapshot) StringAt(a Address) (StringRecord, bool) {
	i, ok := s.idx.stringByAddr[a]
	if !ok {
		return StringRecord{}, false
	}
	return s.strings[i], true
}

// Imports returns imports ordered by library then name.
func (s *Snapshot) Imports() []Import { return slices.Clone(s.imports) }

// Exports returns exports in ascending address order.
func (s *Snapshot) Exports() []Export { return slices.Clone(s.exports) }

// IsExported reports whether a function entry is also an export.
func (s *Snapshot) IsExported(a Address) bool {
	_, found := slices.BinarySearchFunc(s.exports, Ref{Addr: a}, func(e Export, t Ref) int {
		return cmpRef(e.Address, t)
	})
	return found
}

// Sections returns sections in ascending start order.
func (s *Snapshot) Sections() []Section { return slices.Clone(s.sections) }

// SectionContaining returns the section holding a.
func (s *Snapshot) SectionContaining(a Address) (Section, bool) {
	i, ok := s.idx.sectionContaining(s.sections, a)
	if !ok {
		return Section{}, false
	}
	return s.sections[i], true
}

// Data returns data items in ascending address order.
func (s *Snapshot) Data() []DataItem { return slices.Clone(s.data) }

// DataAt returns the data item at a.
func (s *Snapshot) DataAt(a Address) (DataItem, bool) {
	i, ok := s.idx.dataByAddr[a]
	if !ok {
		return DataItem{}, false
	}
	return s.data[i], true
}

// DataByName returns the addresses of data named name, including
// data_index.json aliases, in ascending order.
func (s *Snapshot) DataByName(name string, fold bool) []Address {
	if fold {
		return slices.Clone(s.idx.dataByFold[strings.ToLower(name)])
	}
	return slices.Clone(s.idx.dataByName[name])
}

// Equates returns equates ordered by name then value.
func (s *Snapshot) Equates() []Equate { return slices.Clone(s.equates) }

// Edges returns call-graph edges ordered by caller, callee, type.
func (s *Snapshot) Edges() []Edge { return slices.Clone(s.edges) }

// EdgesFrom returns the call-graph edges leaving a.
func (s *Snapshot) EdgesFrom(a Address) []Edge {
	return s.pickEdges(s.idx.edgesFrom[a])
}

// EdgesTo returns the call-graph edges entering target.
func (s *Snapshot) EdgesTo(target Ref) []Edge {
	return s.pickEdges(s.idx.edgesTo[target])
}

func (s *Snapshot) pickEdges(list []int) []Edge {
	out := make([]Edge, 0, len(list))
	for _, i := range list {
		out = append(out, s.edges[i])
	}
	return out
}

// Callers returns the distinct caller entries of a function from the call
// graph, falling back to the function's own xrefs_in when the graph has
// no edge into it.
func (s *Snapshot) Callers(entry Address) []Address {
	var out []Address
	for _, e := range s.EdgesTo(Ref{Addr: entry}) {
		out = append(out, e.From)
	}
	if len(out) == 0 {
		if fn, ok := s.Function(entry); ok {
			out = append(out, fn.XrefsIn...)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Callees returns the distinct call targets of a function from the call
// graph, falling back to the function's own xrefs_out.
func (s *Snapshot) Callees(entry Address) []Ref {
	var out []Ref
	for _, e := range s.EdgesFrom(entry) {
		out = append(out, e.To)
	}
	if len(out) == 0 {
		if fn, ok := s.Function(entry); ok {
			for _, x := range fn.XrefsOut {
				out = append(out, x.Target)
			}
		}
	}
	slices.SortFunc(out, cmpRef)
	return slices.Compact(out)
}

// Decompilation returns the decompiled text of the function at entry.
func (s *Snapshot) Decompilation(entry Address) (string, bool) {
	text, ok := s.decomp[entry]
	return text, ok
}

// NameOf returns the name of the function or import at target, or "".
func (s *Snapshot) NameOf(target Ref) string {
	if !target.External {
		if fn, ok := s.Function(target.Addr); ok {
			return fn.Name
		}
	}
	if i, ok := s.idx.importByRef[target]; ok {
		return s.imports[i].Name
	}
	for _, e := range s.EdgesTo(target) {
		if e.ToName != "" {
			return e.ToName
		}
	}
	return ""
}

// ImportAt returns the import whose address is target.
func (s *Snapshot) ImportAt(target Ref) (Import, bool) {
	i, ok := s.idx.importByRef[target]
	if !ok {
		return Import{}, false
	}
	return s.imports[i], true
}
