// Package configscan finds embedded configuration blocks in the defined
// data and strings of a snapshot.
package configscan

import "kernscope/internal/snapshot"

// Heuristic names the rule that produced a candidate.
type Heuristic string

const (
	HeuristicKeyValue    Heuristic = "key_value"
	HeuristicConfigToken Heuristic = "config_token"
	HeuristicStructured  Heuristic = "structured_blob"
	HeuristicURL         Heuristic = "embedded_url"
	HeuristicLengthU8    Heuristic = "length_prefixed_u8"
	HeuristicLengthU16   Heuristic = "length_prefixed_u16le"
	HeuristicXOR         Heuristic = "xor_single_byte"
)

// Source is the record kind a candidate was found in.
type Source string

const (
	SourceData   Source = "data"
	SourceString Source = "string"
)

// Candidate is one possible configuration block.
type Candidate struct {
	Address    snapshot.Address   `json:"ea"`
	Source     Source             `json:"source"`
	Heuristic  Heuristic          `json:"heuristic"`
	Confidence float64            `json:"confidence"`
	Length     int                `json:"length"`
	Preview    string             `json:"preview"`
	XorKey     *byte              `json:"xor_key,omitempty"`
	UsedIn     []snapshot.Address `json:"used_in,omitempty"`
}

// match is the outcome of one heuristic over one block.
type match struct {
	heuristic  Heuristic
	confidence float64
	preview    string
	xorKey     *byte
}

func (m match) better(o match) bool {
	return m.confidence > o.confidence
}
