package compression

// Dedup removes items whose key was already seen, keeping the first occurrence
// and the original order.
func Dedup[T any, K comparable](items []T, key func(T) K) []T {
	if len(items) == 0 {
		return items
	}

	seen := make(map[K]bool, len(items))
	result := make([]T, 0, len(items))
	for _, item := range items {
		k := key(item)
		if seen[k] {
			continue
		}
		seen[k] = true
		result = append(result, item)
	}
	return result
}

// DedupStrings removes duplicate and empty strings, keeping the first occurrence.
func DedupStrings(values []string) []string {
	out := Dedup(values, func(s string) string { return s })
	filtered := out[:0]
	for _, s := range out {
		if s != "" {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
