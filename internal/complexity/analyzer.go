//go:build cgo

package complexity

import (
	"context"
	"slices"

	sitter "github.com/smacker/go-tree-sitter"
)

// Analyzer computes complexity metrics for decompiled functions.
type Analyzer struct {
	parser *Parser
}

// NewAnalyzer creates a new complexity analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		parser: NewParser(),
	}
}

// AnalyzeDecompiled measures the first function definition in source. When
// the text holds no definition (a bare body or a fragment), the whole
// translation unit is measured instead.
func (a *Analyzer) AnalyzeDecompiled(ctx context.Context, source []byte) (*FunctionMetrics, error) {
	root, err := a.parser.Parse(ctx, source)
	if err != nil {
		return nil, err
	}

	target := root
	if defs := findNodes(root, []string{"function_definition"}); len(defs) > 0 {
		target = defs[0]
	}

	startLine := int(target.StartPoint().Row) + 1
	endLine := int(target.EndPoint().Row) + 1

	return &FunctionMetrics{
		Name:       getFunctionName(target, source),
		Cyclomatic: computeCyclomaticComplexity(target, source),
		Cognitive:  computeCognitiveRecursive(target, source, 0),
		Lines:      endLine - startLine + 1,
		Calls:      collectCalls(target, source),
	}, nil
}

// getFunctionName follows the declarator chain down to the identifier.
// Pointer-returning functions nest the function_declarator one level deeper.
func getFunctionName(node *sitter.Node, source []byte) string {
	if node.Type() != "function_definition" {
		return ""
	}
	decl := node.ChildByFieldName("declarator")
	for decl != nil {
		switch decl.Type() {
		case "identifier", "field_identifier":
			return string(source[decl.StartByte():decl.EndByte()])
		}
		decl = decl.ChildByFieldName("declarator")
	}
	return ""
}

// computeCyclomaticComplexity counts decision points + 1.
func computeCyclomaticComplexity(node *sitter.Node, source []byte) int {
	complexity := 1
	for _, dn := range findNodes(node, decisionNodeTypes) {
		if isDecision(dn, source) {
			complexity++
		}
	}
	return complexity
}

func isDecision(node *sitter.Node, source []byte) bool {
	switch node.Type() {
	case "binary_expression":
		return isBooleanOperator(node, source)
	case "case_statement":
		return !isDefaultLabel(node)
	default:
		return slices.Contains(decisionNodeTypes, node.Type())
	}
}

// computeCognitiveRecursive adds 1 per decision plus its nesting level.
func computeCognitiveRecursive(node *sitter.Node, source []byte, nestingLevel int) int {
	complexity := 0
	if isDecision(node, source) {
		complexity += 1 + nestingLevel
	}

	childNesting := nestingLevel
	if slices.Contains(nestingNodeTypes, node.Type()) {
		childNesting++
	}

	for i := uint32(0); i < node.ChildCount(); i++ {
		child := node.Child(int(i))
		if child != nil {
			complexity += computeCognitiveRecursive(child, source, childNesting)
		}
	}
	return complexity
}

// collectCalls returns the sorted distinct names of directly called functions.
// Calls through pointers or casts have no identifier and are skipped.
func collectCalls(node *sitter.Node, source []byte) []string {
	var calls []string
	for _, call := range findNodes(node, []string{"call_expression"}) {
		fn := call.ChildByFieldName("function")
		if fn == nil || fn.Type() != "identifier" {
			continue
		}
		name := string(source[fn.StartByte():fn.EndByte()])
		if !slices.Contains(calls, name) {
			calls = append(calls, name)
		}
	}
	slices.Sort(calls)
	return calls
}

// findNodes finds all nodes of the given types in the AST.
func findNodes(root *sitter.Node, types []string) []*sitter.Node {
	var result []*sitter.Node

	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		if slices.Contains(types, node.Type()) {
			result = append(result, node)
		}
		for i := uint32(0); i < node.ChildCount(); i++ {
			walk(node.Child(int(i)))
		}
	}

	walk(root)
	return result
}

// IsAvailable returns whether complexity analysis is available.
// Returns true when CGO is enabled.
func IsAvailable() bool {
	return true
}
