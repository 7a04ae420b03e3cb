package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"kernscope/internal/errors"
	"kernscope/internal/pruner"
	"kernscope/internal/query"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
	FormatTOML  OutputFormat = "toml"
	FormatHuman OutputFormat = "human"
)

// ParseOutputFormat validates a --format value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatTOML, FormatHuman:
		return f, nil
	}
	return "", errors.Newf(errors.InvalidQuery, "unsupported format %q (json, yaml, toml, human)", s)
}

// FormatResponse formats a response according to the specified format.
// YAML and TOML keys follow the JSON field names.
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatYAML:
		return formatYAML(resp)
	case FormatTOML:
		return formatTOML(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// formatJSON formats the response as indented JSON
func formatJSON(resp interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func formatYAML(resp interface{}) (string, error) {
	tree, err := toTree(resp)
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// formatTOML wraps non-table results under "result" since a TOML document
// is always a table. Null values have no TOML form and are dropped.
func formatTOML(resp interface{}) (string, error) {
	tree, err := toTree(resp)
	if err != nil {
		return "", err
	}
	tree = dropNulls(tree)
	if _, ok := tree.(map[string]interface{}); !ok {
		tree = map[string]interface{}{"result": tree}
	}
	data, err := toml.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("failed to marshal TOML: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// toTree converts resp to maps, slices and scalars through its JSON form.
// Integral numbers become int64.
func toTree(resp interface{}) (interface{}, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	var tree interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return integers(tree), nil
}

func integers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			t[k] = integers(child)
		}
	case []interface{}:
		for i, child := range t {
			t[i] = integers(child)
		}
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
	}
	return v
}

func dropNulls(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if child == nil {
				delete(t, k)
				continue
			}
			t[k] = dropNulls(child)
		}
	case []interface{}:
		out := t[:0]
		for _, child := range t {
			if child != nil {
				out = append(out, dropNulls(child))
			}
		}
		return out
	}
	return v
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *pruner.Bundle:
		return formatBundleHuman(v)
	case *query.DecompilationResponse:
		return formatDecompHuman(v)
	case *query.SearchFunctionsResponse:
		return formatFunctionsHuman(v)
	default:
		tree, err := toTree(resp)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		writeTree(&b, tree, 0)
		return strings.TrimRight(b.String(), "\n"), nil
	}
}

func formatBundleHuman(resp *pruner.Bundle) (string, error) {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Evidence bundle %s\n", resp.BundleID))
	b.WriteString(strings.Repeat("=", 60) + "\n\n")
	b.WriteString(fmt.Sprintf("File: %s (%s, %s, %d bytes)\n", resp.File.Name, resp.File.Format, resp.File.Arch, resp.File.Size))
	b.WriteString(fmt.Sprintf("SHA256: %s\n\n", resp.File.SHA256))

	var raised []string
	for name, v := range resp.Flags {
		if v {
			raised = append(raised, name)
		}
	}
	sort.Strings(raised)
	b.WriteString("Flags:\n")
	if len(raised) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, name := range raised {
		b.WriteString(fmt.Sprintf("  ! %s\n", name))
	}
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("Top functions (%d):\n", len(resp.Functions)))
	for i, f := range resp.Functions[:min(10, len(resp.Functions))] {
		b.WriteString(fmt.Sprintf("  %2d. %s %s score=%.2f cc=%d", i+1, f.Address, f.Name, f.Score, f.Complexity))
		if len(f.Capabilities) > 0 {
			caps := make([]string, len(f.Capabilities))
			for j, c := range f.Capabilities {
				caps[j] = string(c)
			}
			b.WriteString(" [" + strings.Join(caps, ", ") + "]")
		}
		b.WriteString("\n")
	}
	if len(resp.Functions) > 10 {
		b.WriteString(fmt.Sprintf("  ... and %d more\n", len(resp.Functions)-10))
	}
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("Strings: %d, Configs: %d, Equates: %d\n", len(resp.Strings), len(resp.Configs), len(resp.Equates)))
	for _, t := range resp.Notes.Truncations {
		b.WriteString(fmt.Sprintf("  truncated: %s\n", t))
	}
	if len(resp.Notes.PartialEvidence) > 0 {
		b.WriteString(fmt.Sprintf("Partial evidence (missing): %s\n", strings.Join(resp.Notes.PartialEvidence, ", ")))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func formatDecompHuman(resp *query.DecompilationResponse) (string, error) {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("// %s @ %s (%d lines)\n", resp.Name, resp.Address, resp.Lines))
	b.WriteString(resp.Code)
	return strings.TrimRight(b.String(), "\n"), nil
}

func formatFunctionsHuman(resp *query.SearchFunctionsResponse) (string, error) {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Functions %d-%d of %d\n", resp.Offset+1, resp.Offset+len(resp.Functions), resp.Total))
	b.WriteString(strings.Repeat("=", 60) + "\n")
	for _, f := range resp.Functions {
		b.WriteString(fmt.Sprintf("%-12s %-32s size=%-6d cc=%-3d in=%d out=%d\n",
			f.Address, f.Name, f.Size, f.Complexity, f.Callers, f.Callees))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// writeTree renders maps as indented "key: value" lines with sorted keys
// and lists as "- " items.
func writeTree(b *strings.Builder, v interface{}, indent int) {
	pad := strings.Repeat("  ", indent)
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := t[k]
			if isScalar(child) {
				b.WriteString(fmt.Sprintf("%s%s: %s\n", pad, k, scalar(child)))
				continue
			}
			b.WriteString(fmt.Sprintf("%s%s:\n", pad, k))
			writeTree(b, child, indent+1)
		}
	case []interface{}:
		if len(t) == 0 {
			b.WriteString(pad + "(none)\n")
		}
		for _, child := range t {
			if isScalar(child) {
				b.WriteString(fmt.Sprintf("%s- %s\n", pad, scalar(child)))
				continue
			}
			b.WriteString(pad + "-\n")
			writeTree(b, child, indent+1)
		}
	default:
		b.WriteString(pad + scalar(t) + "\n")
	}
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return false
	}
	return true
}

func scalar(v interface{}) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(v)
}
