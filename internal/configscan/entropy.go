package configscan

import "math"

// ShannonEntropy returns the Shannon entropy of b in bits per byte.
//   - < 2.0: repetitive filler
//   - 3.0-5.0: natural text and structured config
//   - > 7.0: compressed or encrypted
func ShannonEntropy(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	var freq [256]int
	for _, c := range b {
		freq[c]++
	}
	n := float64(len(b))
	var entropy float64
	for _, count := range freq {
		if count > 0 {
			p := float64(count) / n
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

func isPrintable(c byte) bool {
	return (c >= 0x20 && c < 0x7f) || c == '\t' || c == '\n' || c == '\r'
}

// printableRatio is the share of printable bytes in b.
func printableRatio(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	n := 0
	for _, c := range b {
		if isPrintable(c) {
			n++
		}
	}
	return float64(n) / float64(len(b))
}

// trimNUL drops trailing zero padding.
func trimNUL(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}
