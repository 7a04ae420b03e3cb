package configscan

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"kernscope/internal/config"
	"kernscope/internal/slogutil"
	"kernscope/internal/snapshot"
)

// unreferencedPenalty lowers the confidence of blocks no function uses.
const unreferencedPenalty = 0.2

// Detector scans snapshots for configuration candidates.
type Detector struct {
	cfg        config.ConfigScanConfig
	previewLen int
	logger     *slog.Logger
}

// NewDetector creates a detector. previewLength bounds candidate previews
// in characters.
func NewDetector(cfg config.ConfigScanConfig, previewLength int, logger *slog.Logger) *Detector {
	if previewLength <= 0 {
		previewLength = 160
	}
	return &Detector{cfg: cfg, previewLen: previewLength, logger: slogutil.Component(logger, "configscan")}
}

// NewDefaultDetector uses the default configuration.
func NewDefaultDetector(logger *slog.Logger) *Detector {
	cfg := config.DefaultConfig()
	return NewDetector(cfg.ConfigScan, cfg.Budget.PreviewLength, logger)
}

// Scan returns every candidate at or above the minimum confidence, ranked
// by confidence descending, then address, then source.
func (d *Detector) Scan(ctx context.Context, snap *snapshot.Snapshot) ([]Candidate, error) {
	var out []Candidate

	for i, item := range snap.Data() {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if c, ok := d.scanData(snap, item); ok {
			out = append(out, c)
		}
	}
	for i, str := range snap.Strings() {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if c, ok := d.scanString(snap, str); ok {
			out = append(out, c)
		}
	}

	Rank(out)
	d.logger.Debug("config scan finished", "candidates", len(out))
	return out, nil
}

func (d *Detector) scanString(snap *snapshot.Snapshot, str snapshot.StringRecord) (Candidate, bool) {
	if utf8.RuneCountInString(str.Value) < d.cfg.MinStringLength {
		return Candidate{}, false
	}
	m, ok := textMatch(str.Value)
	if !ok {
		return Candidate{}, false
	}
	m.preview = str.Value
	return d.finish(snap, str.Address, SourceString, len(str.Value), str.Xrefs, m)
}

func (d *Detector) scanData(snap *snapshot.Snapshot, item snapshot.DataItem) (Candidate, bool) {
	length := item.Length
	if length == 0 {
		length = len(item.Bytes)
	}
	if length < d.cfg.MinDataLength {
		return Candidate{}, false
	}

	var best match
	found := false
	consider := func(m match) {
		if !found || m.better(best) {
			best = m
			found = true
		}
	}

	raw := trimNUL(item.Bytes)
	text := ""
	switch {
	case item.Value != nil:
		text = *item.Value
	case len(raw) > 0 && printableRatio(raw) == 1:
		text = string(raw)
	}
	if text != "" {
		if m, ok := textMatch(text); ok {
			m.preview = text
			consider(m)
		}
	}

	if len(item.Bytes) > 0 {
		for _, lp := range []struct {
			width int
			name  Heuristic
		}{{1, HeuristicLengthU8}, {2, HeuristicLengthU16}} {
			if parts, ok := lengthPrefixed(item.Bytes, lp.width); ok {
				consider(match{
					heuristic:  lp.name,
					confidence: clamp(0.4+0.1*float64(len(parts)), 0.85),
					preview:    strings.Join(parts, "|"),
				})
			}
		}
		if m, ok := d.xorMatch(raw); ok {
			consider(m)
		}
	}

	if !found {
		return Candidate{}, false
	}
	return d.finish(snap, item.Address, SourceData, length, item.Xrefs, best)
}

// xorMatch searches single-byte XOR keys over blocks that are not already
// readable text.
func (d *Detector) xorMatch(raw []byte) (match, bool) {
	if len(raw) < d.cfg.XorMinLength || len(raw) > d.cfg.XorMaxLength {
		return match{}, false
	}
	if printableRatio(raw) >= d.cfg.PrintableRatio {
		return match{}, false
	}
	x, ok := xorSearch(raw, d.cfg.PrintableRatio)
	if !ok {
		return match{}, false
	}
	conf := 0.3 + 0.2*(x.ratio-d.cfg.PrintableRatio)/math.Max(1-d.cfg.PrintableRatio, 1e-9)
	if x.hasText {
		conf = x.text.confidence + 0.1
	}
	key := x.key
	return match{
		heuristic:  HeuristicXOR,
		confidence: clamp(conf, 0.95),
		preview:    string(x.decoded),
		xorKey:     &key,
	}, true
}

func (d *Detector) finish(snap *snapshot.Snapshot, addr snapshot.Address, src Source, length int, sites []snapshot.UseSite, m match) (Candidate, bool) {
	users := usedIn(snap, sites)
	conf := m.confidence
	if len(users) == 0 {
		conf -= unreferencedPenalty
	}
	conf = math.Round(clamp(conf, 1)*100) / 100
	if conf < d.cfg.MinConfidence {
		return Candidate{}, false
	}
	return Candidate{
		Address:    addr,
		Source:     src,
		Heuristic:  m.heuristic,
		Confidence: conf,
		Length:     length,
		Preview:    Preview(m.preview, d.previewLen),
		XorKey:     m.xorKey,
		UsedIn:     users,
	}, true
}

// usedIn resolves use sites to distinct function entries in ascending
// order.
func usedIn(snap *snapshot.Snapshot, sites []snapshot.UseSite) []snapshot.Address {
	var out []snapshot.Address
	for _, site := range sites {
		if fn, ok := snap.FunctionContaining(site.From); ok {
			out = append(out, fn.Entry)
			continue
		}
		if site.Function != "" {
			for _, fn := range snap.FunctionsByName(site.Function, false) {
				out = append(out, fn.Entry)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Preview clips s to n characters and masks control characters.
func Preview(s string, n int) string {
	var b strings.Builder
	count := 0
	for _, r := range s {
		if count == n {
			break
		}
		switch {
		case r == utf8.RuneError, r < 0x20, r == 0x7f:
			b.WriteByte('.')
		default:
			b.WriteRune(r)
		}
		count++
	}
	return b.String()
}

// Rank sorts candidates by confidence descending, then address, then
// source.
func Rank(cs []Candidate) {
	slices.SortStableFunc(cs, func(a, b Candidate) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		case a.Address < b.Address:
			return -1
		case a.Address > b.Address:
			return 1
		}
		return strings.Compare(string(a.Source), string(b.Source))
	})
}
