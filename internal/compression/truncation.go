package compression

import "fmt"

// TruncationReason indicates why data was cut from a response or bundle
type TruncationReason string

const (
	// TruncMaxItems indicates truncation due to a caller-supplied result cap
	TruncMaxItems TruncationReason = "max-items"

	// TruncMaxDepth indicates a traversal stopped at its depth limit
	TruncMaxDepth TruncationReason = "max-depth"

	// TruncMaxNodes indicates a traversal stopped at its node limit
	TruncMaxNodes TruncationReason = "max-nodes"

	// TruncTimeout indicates a scan stopped at its time or match ceiling
	TruncTimeout TruncationReason = "timeout"

	// TruncBudget indicates an evidence bundle field was cut to its budget
	TruncBudget TruncationReason = "budget-truncated"

	// TruncNone indicates no truncation occurred
	TruncNone TruncationReason = ""
)

// TruncationInfo tracks information about data that was truncated
type TruncationInfo struct {
	// Field names the list that was cut (e.g. "functions", "strings")
	Field string `json:"field,omitempty"`

	// Reason explains why truncation occurred
	Reason TruncationReason `json:"reason"`

	// OriginalCount is the total number of items before truncation
	OriginalCount int `json:"originalCount"`

	// ReturnedCount is the number of items actually returned
	ReturnedCount int `json:"returnedCount"`

	// DroppedCount is the number of items that were dropped
	DroppedCount int `json:"droppedCount"`
}

// NewTruncationInfo creates a new TruncationInfo with calculated dropped count
func NewTruncationInfo(reason TruncationReason, original, returned int) *TruncationInfo {
	dropped := original - returned
	if dropped < 0 {
		dropped = 0
	}

	return &TruncationInfo{
		Reason:        reason,
		OriginalCount: original,
		ReturnedCount: returned,
		DroppedCount:  dropped,
	}
}

// ForField labels the truncation with the list it applies to
func (t *TruncationInfo) ForField(field string) *TruncationInfo {
	t.Field = field
	return t
}

// WasTruncated returns true if any data was dropped
func (t *TruncationInfo) WasTruncated() bool {
	return t != nil && t.DroppedCount > 0
}

// IsEmpty returns true if no truncation info is present
func (t *TruncationInfo) IsEmpty() bool {
	return t == nil || t.Reason == TruncNone
}

// String returns a human-readable description of the truncation
func (t *TruncationInfo) String() string {
	if !t.WasTruncated() {
		return "no truncation"
	}
	prefix := string(t.Reason)
	if t.Field != "" {
		prefix = t.Field + " " + prefix
	}
	return fmt.Sprintf("%s: dropped %d of %d items", prefix, t.DroppedCount, t.OriginalCount)
}

// Cap truncates items to limit and reports the truncation, or nil when nothing was cut.
// limit <= 0 means unlimited.
func Cap[T any](items []T, limit int, reason TruncationReason) ([]T, *TruncationInfo) {
	if limit <= 0 || len(items) <= limit {
		return items, nil
	}
	return items[:limit], NewTruncationInfo(reason, len(items), limit)
}
