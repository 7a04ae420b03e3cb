// Package complexity measures decompiled C functions via tree-sitter. It is
// the fallback when a snapshot carries no cyclomatic complexity metric.
package complexity

// FunctionMetrics contains complexity metrics for one decompiled function.
type FunctionMetrics struct {
	// Name is the function name from the definition, if one was found
	Name string `json:"name,omitempty"`

	// Cyclomatic is the cyclomatic complexity (decision points + 1)
	Cyclomatic int `json:"cyclomatic"`

	// Cognitive is the cognitive complexity (nested depth weighted)
	Cognitive int `json:"cognitive"`

	// Lines is the number of lines in the function body
	Lines int `json:"lines"`

	// Calls lists the distinct direct callee names, sorted
	Calls []string `json:"calls,omitempty"`
}
