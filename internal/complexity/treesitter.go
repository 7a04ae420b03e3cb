//go:build cgo

package complexity

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
)

// Parser wraps a tree-sitter C parser. A tree-sitter parser is not safe for
// concurrent use, so calls are serialized.
type Parser struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewParser creates a new tree-sitter C parser.
func NewParser() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(c.GetLanguage())
	return &Parser{parser: p}
}

// Parse parses C source and returns the AST root node.
func (p *Parser) Parse(ctx context.Context, source []byte) (*sitter.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return tree.RootNode(), nil
}

// decisionNodeTypes contribute to cyclomatic complexity.
var decisionNodeTypes = []string{
	"if_statement",
	"for_statement",
	"while_statement",
	"do_statement",
	"case_statement",         // default labels are skipped in isDecision
	"conditional_expression", // ternary
	"binary_expression",      // for && and ||
}

// nestingNodeTypes increase nesting depth for cognitive complexity.
var nestingNodeTypes = []string{
	"if_statement",
	"for_statement",
	"while_statement",
	"do_statement",
	"switch_statement",
}

// isBooleanOperator checks if a binary expression node is && or ||.
func isBooleanOperator(node *sitter.Node, source []byte) bool {
	op := node.ChildByFieldName("operator")
	if op == nil {
		return false
	}
	content := string(source[op.StartByte():op.EndByte()])
	return content == "&&" || content == "||"
}

// isDefaultLabel reports whether a case_statement is the default branch.
func isDefaultLabel(node *sitter.Node) bool {
	first := node.Child(0)
	return first != nil && first.Type() == "default"
}
