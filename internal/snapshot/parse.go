package snapshot

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"hash"
	"io"
	"path"
	"slices"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Snapshot file names.
const (
	fileMeta           = "meta.json"
	fileFunctions      = "functions.jsonl"
	fileCallgraph      = "callgraph.jsonl"
	fileSections       = "sections.json"
	fileImportsExports = "imports_exports.json"
	fileStrings        = "strings.jsonl"
	fileData           = "data.jsonl"
	fileEquates        = "equates.json"
	fileIndex          = "index.json"
	fileDataIndex      = "data_index.json"
	dirDecomp          = "decomp"
)

// MandatoryFiles must be present for a snapshot to load.
var MandatoryFiles = []string{fileMeta, fileFunctions, fileCallgraph}

// OptionalFiles are loaded when present; their absence is reported by
// Snapshot.Missing.
var OptionalFiles = []string{
	fileSections, fileImportsExports, fileStrings, fileData,
	fileEquates, fileIndex, fileDataIndex, dirDecomp,
}

// hashedReader digests everything read through it.
type hashedReader struct {
	r io.Reader
	h hash.Hash
}

func newHashedReader(r io.Reader) *hashedReader {
	h, _ := blake2b.New256(nil) // only fails for oversized keys
	return &hashedReader{r: io.TeeReader(r, h), h: h}
}

func (hr *hashedReader) Read(p []byte) (int, error) { return hr.r.Read(p) }

// drain consumes the rest of the stream and returns the digest.
func (hr *hashedReader) drain() ([]byte, error) {
	if _, err := io.Copy(io.Discard, hr.r); err != nil {
		return nil, err
	}
	return hr.h.Sum(nil), nil
}

// readJSON decodes a whole-document file into v. found is false when the
// file is absent; a decode failure is SnapshotCorrupt.
func readJSON(src source, name string, v any) (found bool, sum []byte, err error) {
	rc, found, err := src.open(name)
	if !found {
		return false, nil, nil
	}
	if err != nil {
		return true, nil, corruptf(name, 0, "open: %v", err)
	}
	defer rc.Close()

	hr := newHashedReader(rc)
	if err := json.NewDecoder(hr).Decode(v); err != nil {
		return true, nil, corruptf(name, 0, "malformed JSON: %v", err)
	}
	sum, err = hr.drain()
	if err != nil {
		return true, nil, corruptf(name, 0, "read: %v", err)
	}
	return true, sum, nil
}

// readJSONL decodes one T per non-blank line and hands it to fn.
func readJSONL[T any](src source, name string, fn func(line int, rec *T) error) (found bool, sum []byte, err error) {
	rc, found, err := src.open(name)
	if !found {
		return false, nil, nil
	}
	if err != nil {
		return true, nil, corruptf(name, 0, "open: %v", err)
	}
	defer rc.Close()

	hr := newHashedReader(rc)
	br := bufio.NewReaderSize(hr, 1<<16)
	for line := 1; ; line++ {
		raw, readErr := br.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return true, nil, corruptf(name, line, "read: %v", readErr)
		}
		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
			var rec T
			if err := json.Unmarshal(trimmed, &rec); err != nil {
				return true, nil, corruptf(name, line, "malformed JSON: %v", err)
			}
			if err := validateRecord(name, line, &rec); err != nil {
				return true, nil, err
			}
			if err := fn(line, &rec); err != nil {
				return true, nil, err
			}
		}
		if readErr == io.EOF {
			break
		}
	}
	sum, err = hr.drain()
	if err != nil {
		return true, nil, corruptf(name, 0, "read: %v", err)
	}
	return true, sum, nil
}

func parseMeta(src source) (Meta, []byte, error) {
	var raw rawMeta
	found, sum, err := readJSON(src, fileMeta, &raw)
	if err != nil {
		return Meta{}, nil, err
	}
	if !found {
		return Meta{}, nil, corruptf(fileMeta, 0, "mandatory file missing")
	}
	if err := validateRecord(fileMeta, 0, &raw); err != nil {
		return Meta{}, nil, err
	}

	m := Meta{
		FileName:         raw.FileName,
		FilePath:         raw.FilePath,
		MD5:              strings.ToLower(raw.MD5),
		SHA256:           strings.ToLower(raw.SHA256),
		CRC32:            raw.CRC32,
		FileSize:         raw.FileSize,
		Language:         raw.Language,
		Compiler:         raw.Compiler,
		Endian:           raw.Endian,
		Processor:        raw.Processor,
		ExecutableFormat: raw.ExecutableFormat,
		CreationDate:     raw.CreationDate,
		Format:           raw.Format,
	}
	if raw.ImageBase != "" {
		m.ImageBase, _ = ParseAddress(raw.ImageBase)
	}
	if raw.MinAddress != "" {
		m.MinAddress, _ = ParseRef(raw.MinAddress)
	}
	if raw.MaxAddress != "" {
		m.MaxAddress, _ = ParseRef(raw.MaxAddress)
	}
	return m, sum, nil
}

// parseFunctions converts function records, rejecting duplicate entries.
// The result is sorted by entry address.
func parseFunctions(src source) ([]Function, []byte, error) {
	var funcs []Function
	seen := map[Address]int{}

	found, sum, err := readJSONL(src, fileFunctions, func(line int, raw *rawFunction) error {
		fn, err := convertFunction(line, raw)
		if err != nil {
			return err
		}
		if prev, dup := seen[fn.Entry]; dup {
			return corruptf(fileFunctions, line, "duplicate function address %s (first on line %d)", fn.Entry, prev)
		}
		seen[fn.Entry] = line
		funcs = append(funcs, fn)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, corruptf(fileFunctions, 0, "mandatory file missing")
	}

	slices.SortFunc(funcs, func(a, b Function) int { return cmpAddr(a.Entry, b.Entry) })
	return funcs, sum, nil
}

func convertFunction(line int, raw *rawFunction) (Function, error) {
	entry, _ := ParseAddress(raw.EA)
	fn := Function{
		Entry:     entry,
		Name:      raw.Name,
		Prototype: raw.Prototype,
		Metrics:   FunctionMetrics(raw.Metrics),
	}

	for _, pair := range raw.Ranges {
		start, _ := ParseAddress(pair[0])
		last, _ := ParseAddress(pair[1])
		if last < start || last == Address(^uint64(0)) {
			return Function{}, corruptf(fileFunctions, line, "invalid range [%s, %s]", pair[0], pair[1])
		}
		fn.Ranges = append(fn.Ranges, Range{Start: start, End: last + 1})
	}
	slices.SortFunc(fn.Ranges, func(a, b Range) int { return cmpAddr(a.Start, b.Start) })

	var total uint64
	for _, r := range fn.Ranges {
		total += r.Size()
	}
	fn.Size = total
	if raw.Metrics.SizeBytes > 0 {
		fn.Size = uint64(raw.Metrics.SizeBytes)
	}
	fn.Complexity = raw.Metrics.CyclomaticComplexity

	for _, s := range raw.XrefsIn {
		a, _ := ParseAddress(s)
		fn.XrefsIn = append(fn.XrefsIn, a)
	}
	slices.Sort(fn.XrefsIn)
	fn.XrefsIn = slices.Compact(fn.XrefsIn)

	for _, x := range raw.XrefsOut {
		target, _ := ParseRef(x.EA)
		fn.XrefsOut = append(fn.XrefsOut, CallRef{Target: target, Name: x.Name, Type: x.Type})
	}

	for _, in := range raw.Insn {
		a, _ := ParseAddress(in.EA)
		fn.Insn = append(fn.Insn, Instruction{
			Address:  a,
			Mnemonic: in.Mnem,
			OpStr:    in.OpStr,
			Bytes:    strings.ToLower(in.Bytes),
			Size:     in.Size,
			Operands: in.Operands,
		})
	}
	slices.SortStableFunc(fn.Insn, func(a, b Instruction) int { return cmpAddr(a.Address, b.Address) })

	for _, b := range raw.BB {
		start, _ := ParseAddress(b.Start)
		last, _ := ParseAddress(b.End)
		if last >= start && last != Address(^uint64(0)) {
			fn.Blocks = append(fn.Blocks, Range{Start: start, End: last + 1})
		}
	}

	for _, c := range raw.Comments {
		a, _ := ParseAddress(c.EA)
		fn.Comments = append(fn.Comments, Comment{Address: a, Kind: c.Kind, Text: c.Text})
	}

	if raw.DecompPath != nil {
		fn.DecompPath = cleanDecompPath(*raw.DecompPath)
	}
	return fn, nil
}

// cleanDecompPath normalizes a decomp_path to a logical name under decomp/,
// or "" when it points anywhere else.
func cleanDecompPath(p string) string {
	if p == "" {
		return ""
	}
	p = path.Clean(strings.ReplaceAll(p, `\`, "/"))
	if !strings.HasPrefix(p, dirDecomp+"/") || checkEntryName(p) != nil {
		return ""
	}
	return p
}

func parseCallgraph(src source) ([]Edge, []byte, error) {
	var edges []Edge
	found, sum, err := readJSONL(src, fileCallgraph, func(line int, raw *rawEdge) error {
		from, _ := ParseAddress(raw.From)
		to, _ := ParseRef(raw.To)
		edges = append(edges, Edge{From: from, FromName: raw.FromName, To: to, ToName: raw.ToName, Type: raw.Type})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, corruptf(fileCallgraph, 0, "mandatory file missing")
	}

	slices.SortFunc(edges, func(a, b Edge) int {
		if c := cmpAddr(a.From, b.From); c != 0 {
			return c
		}
		if c := cmpRef(a.To, b.To); c != 0 {
			return c
		}
		return strings.Compare(a.Type, b.Type)
	})
	edges = slices.CompactFunc(edges, func(a, b Edge) bool {
		return a.From == b.From && a.To == b.To && a.Type == b.Type
	})
	return edges, sum, nil
}

func parseStrings(src source) ([]StringRecord, bool, error) {
	var out []StringRecord
	seen := map[Address]int{}
	found, _, err := readJSONL(src, fileStrings, func(line int, raw *rawString) error {
		a, _ := ParseAddress(raw.EA)
		if prev, dup := seen[a]; dup {
			return corruptf(fileStrings, line, "duplicate string address %s (first on line %d)", a, prev)
		}
		seen[a] = line
		length := raw.Length
		if length == 0 {
			length = len(raw.Value)
		}
		out = append(out, StringRecord{
			Address:  a,
			Value:    raw.Value,
			Length:   length,
			Encoding: raw.Encoding,
			Xrefs:    convertUseSites(raw.Xrefs),
		})
		return nil
	})
	if err != nil {
		return nil, true, err
	}
	slices.SortFunc(out, func(a, b StringRecord) int { return cmpAddr(a.Address, b.Address) })
	return out, found, nil
}

func convertUseSites(raw []rawUseSite) []UseSite {
	if len(raw) == 0 {
		return nil
	}
	out := make([]UseSite, 0, len(raw))
	for _, x := range raw {
		from, _ := ParseAddress(x.From)
		site := UseSite{From: from}
		if x.Function != nil {
			site.Function = *x.Function
		}
		out = append(out, site)
	}
	slices.SortFunc(out, func(a, b UseSite) int {
		if c := cmpAddr(a.From, b.From); c != 0 {
			return c
		}
		return strings.Compare(a.Function, b.Function)
	})
	return slices.Compact(out)
}

func parseData(src source) ([]DataItem, bool, error) {
	var out []DataItem
	seen := map[Address]int{}
	found, _, err := readJSONL(src, fileData, func(line int, raw *rawData) error {
		a, _ := ParseAddress(raw.EA)
		if prev, dup := seen[a]; dup {
			return corruptf(fileData, line, "duplicate data address %s (first on line %d)", a, prev)
		}
		seen[a] = line
		item := DataItem{
			Address: a,
			Type:    raw.Type,
			Length:  raw.Length,
			Value:   raw.Value,
			Xrefs:   convertUseSites(raw.Xrefs),
		}
		if raw.Name != nil {
			item.Name = *raw.Name
		}
		if raw.Bytes != "" {
			b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(raw.Bytes, "0x"), "0X"))
			if err != nil {
				return corruptf(fileData, line, "bytes: %v", err)
			}
			item.Bytes = b
		}
		out = append(out, item)
		return nil
	})
	if err != nil {
		return nil, true, err
	}
	slices.SortFunc(out, func(a, b DataItem) int { return cmpAddr(a.Address, b.Address) })
	return out, found, nil
}

func parseImportsExports(src source) ([]Import, []Export, bool, error) {
	var raw rawImportsExports
	found, _, err := readJSON(src, fileImportsExports, &raw)
	if err != nil || !found {
		return nil, nil, found, err
	}
	if err := validateRecord(fileImportsExports, 0, &raw); err != nil {
		return nil, nil, true, err
	}

	imports := make([]Import, 0, len(raw.Imports))
	for _, ri := range raw.Imports {
		imp := Import{Name: ri.Name, Library: ri.Library, Ordinal: ri.Ordinal, Type: ri.Type, Signature: ri.Signature}
		if ri.Address != nil && *ri.Address != "" {
			ref, _ := ParseRef(*ri.Address)
			imp.Address = &ref
		}
		imports = append(imports, imp)
	}
	slices.SortStableFunc(imports, func(a, b Import) int {
		if c := strings.Compare(strings.ToLower(a.Library), strings.ToLower(b.Library)); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})

	exports := make([]Export, 0, len(raw.Exports))
	for _, re := range raw.Exports {
		addr, _ := ParseRef(re.Address)
		exports = append(exports, Export{Name: re.Name, Address: addr, Type: re.Type, Signature: re.Signature})
	}
	slices.SortStableFunc(exports, func(a, b Export) int {
		if c := cmpRef(a.Address, b.Address); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	exports = slices.CompactFunc(exports, func(a, b Export) bool {
		return a.Address == b.Address && a.Name == b.Name
	})
	return imports, exports, true, nil
}

func parseSections(src source) ([]Section, bool, error) {
	var raw []rawSection
	found, _, err := readJSON(src, fileSections, &raw)
	if err != nil || !found {
		return nil, found, err
	}

	out := make([]Section, 0, len(raw))
	for i := range raw {
		rs := &raw[i]
		if err := validateRecord(fileSections, 0, rs); err != nil {
			return nil, true, err
		}
		start, _ := ParseRef(rs.Start)
		last, _ := ParseRef(rs.End)
		if last.Addr < start.Addr || last.Addr == Address(^uint64(0)) {
			return nil, true, corruptf(fileSections, 0, "section %s: invalid interval [%s, %s]", rs.Name, rs.Start, rs.End)
		}
		sec := Section{
			Name:        rs.Name,
			Space:       addressSpace(rs.Start, start),
			Start:       start.Addr,
			End:         last.Addr + 1,
			Size:        rs.Size,
			Permissions: Permissions(rs.Permissions),
			Initialized: rs.Initialized,
			Type:        rs.Type,
		}
		if sec.Size == 0 {
			sec.Size = int64(sec.End - sec.Start)
		}
		if rs.Comment != nil {
			sec.Comment = *rs.Comment
		}
		out = append(out, sec)
	}
	slices.SortStableFunc(out, func(a, b Section) int {
		if c := cmpAddr(a.Start, b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, true, nil
}

// addressSpace extracts the space name of a non-default address space.
func addressSpace(raw string, ref Ref) string {
	if ref.External {
		return "EXTERNAL"
	}
	i := strings.LastIndexByte(raw, ':')
	if i <= 0 {
		return ""
	}
	space := raw[:i]
	if strings.EqualFold(space, "ram") {
		return ""
	}
	return space
}

func parseEquates(src source) ([]Equate, bool, error) {
	var raw []rawEquate
	found, _, err := readJSON(src, fileEquates, &raw)
	if err != nil || !found {
		return nil, found, err
	}
	out := make([]Equate, 0, len(raw))
	for i := range raw {
		if err := validateRecord(fileEquates, 0, &raw[i]); err != nil {
			return nil, true, err
		}
		out = append(out, Equate(raw[i]))
	}
	slices.SortStableFunc(out, func(a, b Equate) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		switch {
		case a.Value < b.Value:
			return -1
		case a.Value > b.Value:
			return 1
		}
		return 0
	})
	return out, true, nil
}

func parseIndex(src source) (*rawIndex, error) {
	var raw rawIndex
	found, _, err := readJSON(src, fileIndex, &raw)
	if err != nil || !found {
		return nil, err
	}
	if err := validateRecord(fileIndex, 0, &raw); err != nil {
		return nil, err
	}
	for k := range raw.ByEA {
		if _, err := ParseAddress(k); err != nil {
			return nil, corruptf(fileIndex, 0, "by_ea key: %v", err)
		}
	}
	return &raw, nil
}

func parseDataIndex(src source) (*rawDataIndex, error) {
	var raw rawDataIndex
	found, _, err := readJSON(src, fileDataIndex, &raw)
	if err != nil || !found {
		return nil, err
	}
	if err := validateRecord(fileDataIndex, 0, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// readDecomp loads every decompiled-text artifact under decomp/.
func readDecomp(src source) (map[string]string, error) {
	texts := map[string]string{}
	for _, e := range src.entries() {
		if !strings.HasPrefix(e.Name, dirDecomp+"/") {
			continue
		}
		rc, _, err := src.open(e.Name)
		if err != nil {
			return nil, corruptf(e.Name, 0, "open: %v", err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, corruptf(e.Name, 0, "read: %v", err)
		}
		texts[e.Name] = string(b)
	}
	return texts, nil
}

func cmpAddr(a, b Address) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// cmpRef orders image addresses before external ones.
func cmpRef(a, b Ref) int {
	if a.External != b.External {
		if a.External {
			return 1
		}
		return -1
	}
	return cmpAddr(a.Addr, b.Addr)
}
