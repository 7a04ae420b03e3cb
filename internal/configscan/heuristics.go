package configscan

import (
	"encoding/binary"
	"encoding/json"
	"regexp"
	"slices"
	"strings"
)

// configTokens are keys commonly seen in malware and agent configuration.
var configTokens = []string{
	"server=", "host=", "domain=", "token=", "key=", "url=", "api=", "user=",
	"port=", "pass=", "password=", "botid=", "campaign=", "interval=", "sleep=",
	"proxy=", "mutex=", "install=",
}

var (
	reKeyValue = regexp.MustCompile(`(?i)(?:^|[\s;&|,{])([a-z_][a-z0-9_.\-]{0,31})\s*[=:]\s*[^\s;&|,]+`)
	reURL      = regexp.MustCompile(`(?i)https?://[^\s"'<>]+`)
)

// structuredPrefixes open serialized configuration blobs.
var structuredPrefixes = []string{"{", "[", "<?xml", "<config"}

// textMatch runs the textual heuristics over s and returns the most
// confident hit.
func textMatch(s string) (match, bool) {
	var best match
	found := false
	consider := func(m match) {
		if !found || m.better(best) {
			best = m
			found = true
		}
	}

	lower := strings.ToLower(s)
	trimmed := strings.TrimSpace(lower)

	if n := countTokens(lower); n > 0 {
		consider(match{heuristic: HeuristicConfigToken, confidence: clamp(0.5+0.1*float64(n), 0.9)})
	} else if strings.Contains(s, "&") && strings.Contains(s, "=") {
		consider(match{heuristic: HeuristicConfigToken, confidence: 0.4})
	}

	if n := len(reKeyValue.FindAllStringIndex(s, -1)); n >= 2 {
		consider(match{heuristic: HeuristicKeyValue, confidence: clamp(0.4+0.1*float64(n), 0.85)})
	}

	for _, p := range structuredPrefixes {
		if !strings.HasPrefix(trimmed, p) {
			continue
		}
		conf := 0.5
		switch {
		case (p == "{" || p == "[") && json.Valid([]byte(strings.TrimSpace(s))):
			conf = 0.8
		case p == "<?xml" || p == "<config":
			conf = 0.7
		}
		consider(match{heuristic: HeuristicStructured, confidence: conf})
		break
	}

	if n := len(reURL.FindAllString(s, -1)); n > 0 && len(s) >= 16 {
		consider(match{heuristic: HeuristicURL, confidence: clamp(0.3+0.15*float64(n), 0.75)})
	}

	return best, found
}

func countTokens(lower string) int {
	n := 0
	for _, t := range configTokens {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

// lengthPrefixed decodes b as a run of length-prefixed printable strings
// with u8 (width 1) or u16le (width 2) prefixes. It needs at least two
// strings of three or more bytes covering the block up to NUL padding.
func lengthPrefixed(b []byte, width int) ([]string, bool) {
	b = trimNUL(b)
	var out []string
	for off := 0; off < len(b); {
		if off+width > len(b) {
			return nil, false
		}
		var n int
		if width == 1 {
			n = int(b[off])
		} else {
			n = int(binary.LittleEndian.Uint16(b[off:]))
		}
		off += width
		if n < 3 || off+n > len(b) {
			return nil, false
		}
		chunk := b[off : off+n]
		if printableRatio(chunk) < 1 {
			return nil, false
		}
		out = append(out, string(chunk))
		off += n
	}
	return out, len(out) >= 2
}

// xorResult is the best single-byte XOR decoding of a block.
type xorResult struct {
	key     byte
	decoded []byte
	ratio   float64
	text    match
	hasText bool
}

// xorSearch tries every single-byte key. Among keys reaching minRatio it
// prefers a decoding the textual heuristics recognize, then the higher
// printable ratio, then the smaller key.
func xorSearch(b []byte, minRatio float64) (xorResult, bool) {
	if isUniform(b) {
		return xorResult{}, false
	}
	var best xorResult
	found := false
	buf := make([]byte, len(b))
	for k := 1; k < 256; k++ {
		key := byte(k)
		for i, c := range b {
			buf[i] = c ^ key
		}
		r := printableRatio(buf)
		if r < minRatio {
			continue
		}
		m, ok := textMatch(string(buf))
		cand := xorResult{key: key, ratio: r, text: m, hasText: ok}
		if !found || cand.beats(best) {
			cand.decoded = slices.Clone(buf)
			best = cand
			found = true
		}
	}
	if !found || ShannonEntropy(best.decoded) < 2.5 {
		return xorResult{}, false
	}
	return best, true
}

func (x xorResult) beats(o xorResult) bool {
	if x.hasText != o.hasText {
		return x.hasText
	}
	if x.hasText && x.text.confidence != o.text.confidence {
		return x.text.confidence > o.text.confidence
	}
	return x.ratio > o.ratio
}

func isUniform(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	for _, c := range b[1:] {
		if c != b[0] {
			return false
		}
	}
	return true
}

func clamp(v, hi float64) float64 {
	if v > hi {
		return hi
	}
	if v < 0 {
		return 0
	}
	return v
}
