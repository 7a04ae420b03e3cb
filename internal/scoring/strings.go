package scoring

import (
	"context"
	"math"
	"slices"
	"unicode/utf8"

	"kernscope/internal/capability"
	"kernscope/internal/snapshot"
)

// StringScore is a scored, classified string.
type StringScore struct {
	Address snapshot.Address
	Value   string
	Kind    capability.StringKind
	UsedIn  []snapshot.Address
	Hot     bool
	Score   float64
}

// ScoreStrings scores every classified string of snap. hot holds the
// entries of the selected functions; a string they reference earns the
// hot-reference weight. The result is in ascending address order.
func (s *Scorer) ScoreStrings(ctx context.Context, snap *snapshot.Snapshot, profile *capability.Profile, hot map[snapshot.Address]bool) ([]StringScore, error) {
	var candidates []snapshot.StringRecord
	for _, str := range snap.Strings() {
		if _, ok := profile.StringKind(str.Address); ok {
			candidates = append(candidates, str)
		}
	}

	scores := make([]StringScore, len(candidates))
	err := forEachChunk(ctx, len(candidates), func(i int) {
		str := candidates[i]
		kind, _ := profile.StringKind(str.Address)
		users := profile.StringUsers(str.Address)
		isHot := false
		for _, u := range users {
			if hot[u] {
				isHot = true
				break
			}
		}
		scores[i] = StringScore{
			Address: str.Address,
			Value:   str.Value,
			Kind:    kind,
			UsedIn:  users,
			Hot:     isHot,
			Score:   s.stringScore(str.Value, kind, isHot),
		}
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("strings scored", "count", len(scores))
	return scores, nil
}

// stringScore is length * log2(1+min(len, cap)) + kind weight + hot weight.
func (s *Scorer) stringScore(value string, kind capability.StringKind, hot bool) float64 {
	w := s.str
	n := utf8.RuneCountInString(value)
	if w.LengthCap > 0 && n > w.LengthCap {
		n = w.LengthCap
	}
	score := w.Length * math.Log2(1+float64(n))
	score += w.Kinds[string(kind)]
	if hot {
		score += w.HotReference
	}
	return score
}

// RankStrings returns scores sorted by score descending, ties broken by
// ascending address.
func RankStrings(scores []StringScore) []StringScore {
	out := slices.Clone(scores)
	slices.SortStableFunc(out, func(a, b StringScore) int {
		if c := cmpScore(a.Score, b.Score); c != 0 {
			return c
		}
		return cmpAddr(a.Address, b.Address)
	})
	return out
}
