package snapshot

import (
	"context"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"kernscope/internal/complexity"
	"kernscope/internal/errors"
	"kernscope/internal/slogutil"
	"kernscope/internal/storage"
)

// Options configures Load.
type Options struct {
	// Logger receives load progress at debug level; nil discards.
	Logger *slog.Logger

	// SkipTextIndex disables the SQLite substring index. Searches then
	// scan linearly.
	SkipTextIndex bool

	// Analyzer, when set, derives cyclomatic complexity from decompiled
	// text for functions whose record carries no metric.
	Analyzer *complexity.Analyzer
}

// Load reads, validates and indexes the snapshot at p. p is a snapshot
// directory, a .zip archive of one, or the analyzed binary itself, whose
// snapshot sits beside it as <stem>_archive or <stem>_archive.zip.
//
// Load fails with SnapshotNotFound when nothing exists at p and with
// SnapshotCorrupt when a mandatory file is missing or any file violates
// its schema. No Snapshot is returned on error.
func Load(ctx context.Context, p string, opts Options) (*Snapshot, error) {
	logger := slogutil.Component(opts.Logger, "snapshot")

	loc, err := locate(p)
	if err != nil {
		return nil, err
	}
	src, err := openSource(loc)
	if err != nil {
		return nil, errors.New(errors.SnapshotCorrupt, "cannot open snapshot "+loc, err)
	}
	defer src.Close()

	// Every file parses into its own slot; nothing is shared until Wait.
	var (
		meta             Meta
		functions        []Function
		edges            []Edge
		stringsList      []StringRecord
		data             []DataItem
		imports          []Import
		exports          []Export
		sections         []Section
		equates          []Equate
		index            *rawIndex
		dataIndex        *rawDataIndex
		decompTexts      map[string]string
		metaSum, fnSum   []byte
		cgSum            []byte
		hasStrings       bool
		hasData          bool
		hasImportsExport bool
		hasSections      bool
		hasEquates       bool
	)

	g, gctx := errgroup.WithContext(ctx)
	run := func(fn func() error) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn()
		})
	}
	run(func() (err error) { meta, metaSum, err = parseMeta(src); return })
	run(func() (err error) { functions, fnSum, err = parseFunctions(src); return })
	run(func() (err error) { edges, cgSum, err = parseCallgraph(src); return })
	run(func() (err error) { stringsList, hasStrings, err = parseStrings(src); return })
	run(func() (err error) { data, hasData, err = parseData(src); return })
	run(func() (err error) { imports, exports, hasImportsExport, err = parseImportsExports(src); return })
	run(func() (err error) { sections, hasSections, err = parseSections(src); return })
	run(func() (err error) { equates, hasEquates, err = parseEquates(src); return })
	run(func() (err error) { index, err = parseIndex(src); return })
	run(func() (err error) { dataIndex, err = parseDataIndex(src); return })
	run(func() (err error) { decompTexts, err = readDecomp(src); return })
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.CodeOf(err) == errors.InternalError {
			return nil, errors.New(errors.SnapshotCorrupt, "failed to load snapshot "+loc, err)
		}
		return nil, err
	}

	s := &Snapshot{
		location:  loc,
		entries:   src.entries(),
		meta:      meta,
		functions: functions,
		strings:   stringsList,
		imports:   imports,
		exports:   exports,
		sections:  sections,
		data:      data,
		equates:   equates,
		edges:     edges,
		decomp:    map[Address]string{},
		logger:    logger,
	}

	present := map[string]bool{
		fileSections:       hasSections,
		fileImportsExports: hasImportsExport,
		fileStrings:        hasStrings,
		fileData:           hasData,
		fileEquates:        hasEquates,
		fileIndex:          index != nil,
		fileDataIndex:      dataIndex != nil,
		dirDecomp:          len(decompTexts) > 0,
	}
	for _, name := range OptionalFiles {
		if !present[name] {
			s.missing = append(s.missing, name)
		}
	}

	if err := checkOverlaps(functions); err != nil {
		return nil, err
	}
	if err := checkReferences(functions, edges, index); err != nil {
		return nil, err
	}

	h, _ := blake2b.New256(nil)
	for i, sum := range [][]byte{metaSum, fnSum, cgSum} {
		h.Write([]byte(MandatoryFiles[i]))
		h.Write(sum)
	}
	s.digest = hex.EncodeToString(h.Sum(nil))

	s.attachDecomp(ctx, decompTexts, opts.Analyzer)

	var aliases, dataAliases map[string]Address
	if index != nil {
		aliases = parseNameMap(index.ByName)
	}
	if dataIndex != nil {
		dataAliases = parseNameMap(dataIndex.ByName)
		if hasData {
			for _, name := range sortedKeys(dataAliases) {
				if !containsData(data, dataAliases[name]) {
					return nil, corruptf(fileDataIndex, 0, "%q references unknown data item %s", name, dataAliases[name])
				}
			}
		}
	}
	s.idx = buildIndexes(s, aliases, dataAliases)

	if !opts.SkipTextIndex {
		s.text = s.buildTextIndex(ctx)
	}

	logger.Debug("snapshot loaded",
		"location", loc,
		"functions", len(functions),
		"edges", len(edges),
		"strings", len(stringsList),
		"missing", strings.Join(s.missing, ","),
	)
	return s, nil
}

// locate resolves p to a snapshot directory or archive.
func locate(p string) (string, error) {
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.New(errors.SnapshotNotFound, "snapshot not found: "+p, nil)
		}
		return "", errors.New(errors.SnapshotNotFound, "cannot access "+p, err)
	}
	if info.IsDir() || strings.EqualFold(filepath.Ext(p), ".zip") {
		return p, nil
	}

	stem := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	for _, candidate := range []string{stem + "_archive", stem + "_archive.zip"} {
		c := filepath.Join(filepath.Dir(p), candidate)
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", errors.New(errors.SnapshotNotFound, "no snapshot beside "+p, nil)
}

// checkOverlaps rejects function ranges that share an address.
func checkOverlaps(functions []Function) error {
	var spans []span
	for i := range functions {
		for _, r := range functions[i].Ranges {
			spans = append(spans, span{r: r, fn: i})
		}
	}
	sortSpans(spans)

	var prev *span
	for i := range spans {
		cur := &spans[i]
		if prev != nil && prev.r.overlaps(cur.r) {
			a, b := functions[prev.fn], functions[cur.fn]
			return corruptf(fileFunctions, 0, "function %s (%s) overlaps %s (%s) at %s",
				a.Name, a.Entry, b.Name, b.Entry, cur.r.Start)
		}
		if prev == nil || cur.r.End > prev.r.End {
			prev = cur
		}
	}
	return nil
}

// checkReferences rejects call-graph edges and function xrefs that name a
// function entry absent from functions.jsonl. EXTERNAL targets are exempt.
func checkReferences(functions []Function, edges []Edge, index *rawIndex) error {
	entries := make(map[Address]bool, len(functions))
	for i := range functions {
		entries[functions[i].Entry] = true
	}

	for i := range functions {
		fn := &functions[i]
		for _, a := range fn.XrefsIn {
			if !entries[a] {
				return corruptf(fileFunctions, 0, "function %s: xrefs_in references unknown function %s", fn.Entry, a)
			}
		}
		for _, x := range fn.XrefsOut {
			if !x.Target.External && !entries[x.Target.Addr] {
				return corruptf(fileFunctions, 0, "function %s: xrefs_out references unknown function %s", fn.Entry, x.Target)
			}
		}
	}

	for _, e := range edges {
		if !entries[e.From] {
			return corruptf(fileCallgraph, 0, "edge %s -> %s: unknown caller", e.From, e.To)
		}
		if !e.To.External && !entries[e.To.Addr] {
			return corruptf(fileCallgraph, 0, "edge %s -> %s: unknown callee", e.From, e.To)
		}
	}

	if index != nil {
		for _, name := range sortedKeys(index.ByName) {
			a, _ := ParseAddress(index.ByName[name])
			if !entries[a] {
				return corruptf(fileIndex, 0, "by_name %q references unknown function %s", name, a)
			}
		}
		for _, key := range sortedKeys(index.ByEA) {
			a, _ := ParseAddress(key)
			if !entries[a] {
				return corruptf(fileIndex, 0, "by_ea references unknown function %s", a)
			}
			if index.ByEA[key] >= len(functions) {
				return corruptf(fileIndex, 0, "by_ea %s: position %d out of range", a, index.ByEA[key])
			}
		}
	}
	return nil
}

// attachDecomp binds decompiled texts to their functions and fills in
// complexity from the text where the record has none.
func (s *Snapshot) attachDecomp(ctx context.Context, texts map[string]string, analyzer *complexity.Analyzer) {
	unbound := 0
	for i := range s.functions {
		fn := &s.functions[i]
		if fn.DecompPath == "" {
			continue
		}
		text, ok := texts[fn.DecompPath]
		if !ok {
			unbound++
			fn.DecompPath = ""
			continue
		}
		s.decomp[fn.Entry] = text

		if fn.Complexity <= 0 && analyzer != nil {
			if m, err := analyzer.AnalyzeDecompiled(ctx, []byte(text)); err == nil {
				fn.Complexity = m.Cyclomatic
			}
		}
	}
	if unbound > 0 {
		s.logger.Debug("decompiled text missing for functions", "count", unbound)
	}
}

// buildTextIndex loads strings and decompiled text into the SQLite index.
// Failure is not fatal: searches fall back to linear scans.
func (s *Snapshot) buildTextIndex(ctx context.Context) *storage.TextIndex {
	records := make([]storage.TextRecord, 0, len(s.strings)+len(s.decomp))
	for _, str := range s.strings {
		records = append(records, storage.TextRecord{Kind: storage.KindString, Address: uint64(str.Address), Body: str.Value})
	}
	for _, fn := range s.functions {
		if text, ok := s.decomp[fn.Entry]; ok {
			records = append(records, storage.TextRecord{Kind: storage.KindDecomp, Address: uint64(fn.Entry), Body: text})
		}
	}

	ix, err := storage.BuildTextIndex(ctx, s.logger, records)
	if err != nil {
		s.logger.Warn("text index unavailable, searches will scan", "error", err.Error())
		return nil
	}
	return ix
}

func parseNameMap(m map[string]string) map[string]Address {
	out := make(map[string]Address, len(m))
	for name, v := range m {
		a, err := ParseAddress(v)
		if err == nil {
			out[name] = a
		}
	}
	return out
}

func containsData(data []DataItem, a Address) bool {
	lo, hi := 0, len(data)
	for lo < hi {
		mid := (lo + hi) / 2
		if data[mid].Address < a {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(data) && data[lo].Address == a
}
