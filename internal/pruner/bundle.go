// Package pruner compresses a snapshot into a fixed-size evidence bundle.
// The same snapshot and budgets always produce byte-identical JSON.
package pruner

import (
	"bytes"
	"encoding/json"

	"kernscope/internal/capability"
	"kernscope/internal/compression"
	"kernscope/internal/configscan"
	"kernscope/internal/scoring"
	"kernscope/internal/snapshot"
)

// GenerationVersion identifies the bundle layout. It changes only when
// fields are added, removed or change meaning.
const GenerationVersion = "kernscope-bundle/1"

// Bundle is the evidence selected from one snapshot.
type Bundle struct {
	BundleID          string `json:"bundle_id"`
	SnapshotDigest    string `json:"snapshot_digest"`
	GenerationVersion string `json:"generation_version"`

	File      FileInfo               `json:"file"`
	Sections  SectionSummary         `json:"sections"`
	Imports   []ImportGroup          `json:"imports"`
	Strings   []StringEvidence       `json:"strings"`
	Functions []FunctionEvidence     `json:"functions"`
	Configs   []configscan.Candidate `json:"configs"`
	Equates   []EquateEvidence       `json:"equates"`
	Flags     map[string]bool        `json:"flags"`
	Notes     Notes                  `json:"notes"`
}

// FileInfo is the binary's metadata with normalized format and arch.
type FileInfo struct {
	Name       string           `json:"name"`
	Size       int64            `json:"size"`
	SHA256     string           `json:"sha256"`
	MD5        string           `json:"md5,omitempty"`
	Format     string           `json:"format"`
	Arch       string           `json:"arch"`
	LanguageID string           `json:"language_id,omitempty"`
	ImageBase  snapshot.Address `json:"image_base"`
	Endian     string           `json:"endian,omitempty"`
	Compiler   string           `json:"compiler,omitempty"`
}

// SectionSummary reports rwx presence and the anomalous sections.
type SectionSummary struct {
	HasRWX    bool              `json:"has_rwx"`
	Anomalous []SectionEvidence `json:"anomalous"`
}

// SectionEvidence is one anomalous section.
type SectionEvidence struct {
	Name        string           `json:"name"`
	Start       snapshot.Address `json:"start"`
	End         snapshot.Address `json:"end"`
	Size        int64            `json:"size"`
	Permissions string           `json:"permissions"`
	Reasons     []string         `json:"reasons"`
}

// ImportGroup lists the import labels (library!name) of one capability.
type ImportGroup struct {
	Capability capability.Category `json:"capability"`
	Imports    []string            `json:"imports"`
}

// StringEvidence is one selected string.
type StringEvidence struct {
	Address snapshot.Address      `json:"ea"`
	Value   string                `json:"value"`
	Kind    capability.StringKind `json:"kind"`
	Score   float64               `json:"score"`
	UsedIn  []string              `json:"used_in"`
}

// FunctionEvidence is one selected function.
type FunctionEvidence struct {
	Address      snapshot.Address      `json:"ea"`
	Name         string                `json:"name"`
	SizeBytes    uint64                `json:"size_bytes"`
	Complexity   int                   `json:"cyclomatic_complexity"`
	Capabilities []capability.Category `json:"capabilities"`
	Score        float64               `json:"score"`
	Breakdown    scoring.Breakdown     `json:"breakdown"`
	Callers      []CallRef             `json:"callers"`
	Callees      []CallRef             `json:"callees"`
	Strings      []string              `json:"strings"`
}

// CallRef names a caller or callee.
type CallRef struct {
	Address snapshot.Ref `json:"ea"`
	Name    string       `json:"name"`
}

// EquateEvidence is one frequently referenced constant.
type EquateEvidence struct {
	Name           string `json:"name"`
	Value          int64  `json:"value"`
	ReferenceCount int    `json:"reference_count"`
}

// Notes records how the bundle was cut.
type Notes struct {
	Budgets         compression.EvidenceBudget    `json:"budgets"`
	Truncations     []*compression.TruncationInfo `json:"truncations"`
	PartialEvidence []string                      `json:"partial_evidence"`
}

// Truncated reports whether field was cut to its budget.
func (n Notes) Truncated(field string) bool {
	for _, t := range n.Truncations {
		if t.Field == field && t.WasTruncated() {
			return true
		}
	}
	return false
}

// JSON renders the bundle as indented JSON with a trailing newline.
// HTML characters are not escaped so URLs stay readable.
func (b *Bundle) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
