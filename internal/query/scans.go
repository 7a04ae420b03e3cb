package query

import (
	"context"
	stderrors "errors"
	"strings"

	"kernscope/internal/errors"
	"kernscope/internal/snapshot"
	"kernscope/internal/storage"
)

// SearchByInstructionOptions finds functions containing instructions with
// a given mnemonic and/or operand pattern. At least one is required.
type SearchByInstructionOptions struct {
	Mnemonic        string `json:"mnemonic,omitempty"`
	OperandPattern  string `json:"operand_pattern,omitempty"`
	IsRegex         bool   `json:"is_regex,omitempty"`
	SamplesPerMatch int    `json:"samples_per_match,omitempty"`
	Page
}

// InstructionSample is one matching instruction.
type InstructionSample struct {
	Address  snapshot.Address `json:"address"`
	Mnemonic string           `json:"mnemonic"`
	Operands string           `json:"operands,omitempty"`
}

// InstructionHit groups the matching instructions of one function.
type InstructionHit struct {
	Function FunctionRef         `json:"function"`
	Count    int                 `json:"count"`
	Samples  []InstructionSample `json:"samples"`
}

// SearchByInstructionResponse is a page of functions with matches.
type SearchByInstructionResponse struct {
	Functions []InstructionHit `json:"functions"`
	PageInfo
}

// SearchByInstruction scans the disassembly of every function. Mnemonics
// compare case-insensitively; operands match as a substring or pattern.
func (e *Engine) SearchByInstruction(ctx context.Context, opts SearchByInstructionOptions) (*SearchByInstructionResponse, error) {
	return withObserve(e, ctx, OpSearchByInstruction, func(ctx context.Context) (*SearchByInstructionResponse, error) {
		page, err := e.normalizePage(opts.Page)
		if err != nil {
			return nil, err
		}
		mnem := strings.TrimSpace(opts.Mnemonic)
		if mnem == "" && opts.OperandPattern == "" {
			return nil, errors.New(errors.InvalidQuery, "mnemonic or operand_pattern is required", nil)
		}
		if opts.SamplesPerMatch < 0 {
			return nil, errors.Newf(errors.InvalidQuery, "samples_per_match must not be negative, got %d", opts.SamplesPerMatch)
		}
		operands, err := newMatcher("operand_pattern", opts.OperandPattern, opts.IsRegex, false)
		if err != nil {
			return nil, err
		}
		samples := opts.SamplesPerMatch
		if samples == 0 {
			samples = e.cfg.MaxInsnSamples
		}

		sc := e.newScan(OpSearchByInstruction, true)
		w := newWindow[InstructionHit](page)
	functions:
		for _, fn := range e.snap.Functions() {
			var hit *InstructionHit
			for _, insn := range fn.Insn {
				ok, err := sc.next(ctx)
				if err != nil {
					return nil, err
				}
				if !ok {
					break functions
				}
				if mnem != "" && !strings.EqualFold(insn.Mnemonic, mnem) {
					continue
				}
				ops := instructionOperands(insn)
				if !operands.Match(ops) {
					continue
				}
				if hit == nil {
					hit = &InstructionHit{Function: e.ref(snapshot.Ref{Addr: fn.Entry}), Samples: []InstructionSample{}}
				}
				hit.Count++
				if len(hit.Samples) < samples {
					hit.Samples = append(hit.Samples, InstructionSample{Address: insn.Address, Mnemonic: insn.Mnemonic, Operands: ops})
				}
			}
			if hit == nil {
				continue
			}
			if !sc.match() {
				break
			}
			w.add(*hit)
		}
		return &SearchByInstructionResponse{Functions: w.items, PageInfo: w.info(sc.partial())}, sc.err()
	})
}

// instructionOperands renders the operand text of an instruction.
func instructionOperands(insn snapshot.Instruction) string {
	if insn.OpStr != "" {
		return insn.OpStr
	}
	return strings.Join(insn.Operands, ", ")
}

// SearchDecompOptions greps decompiled text line by line.
type SearchDecompOptions struct {
	Pattern               string `json:"pattern"`
	CaseSensitive         bool   `json:"case_sensitive,omitempty"`
	MaxMatchesPerFunction int    `json:"max_matches_per_function,omitempty"`
	Page
}

// DecompLine is one matching line.
type DecompLine struct {
	Line int    `json:"line"`
	Text string `json:"text"`
}

// DecompHit groups the matching lines of one function.
type DecompHit struct {
	Function FunctionRef  `json:"function"`
	Count    int          `json:"count"`
	Lines    []DecompLine `json:"lines"`
}

// SearchDecompResponse is a page of functions with matching lines.
type SearchDecompResponse struct {
	Functions []DecompHit `json:"functions"`
	PageInfo
}

// SearchDecomp matches pattern, an RE2 expression, against each line of
// every decompiled function. Count is the total number of matching lines;
// Lines holds at most MaxMatchesPerFunction of them.
func (e *Engine) SearchDecomp(ctx context.Context, opts SearchDecompOptions) (*SearchDecompResponse, error) {
	return withObserve(e, ctx, OpSearchDecomp, func(ctx context.Context) (*SearchDecompResponse, error) {
		page, err := e.normalizePage(opts.Page)
		if err != nil {
			return nil, err
		}
		if opts.Pattern == "" {
			return nil, errors.New(errors.InvalidQuery, "pattern is required", nil)
		}
		if opts.MaxMatchesPerFunction < 0 {
			return nil, errors.Newf(errors.InvalidQuery, "max_matches_per_function must not be negative, got %d", opts.MaxMatchesPerFunction)
		}
		m, err := newMatcher("pattern", opts.Pattern, true, opts.CaseSensitive)
		if err != nil {
			return nil, err
		}
		perFn := opts.MaxMatchesPerFunction
		if perFn == 0 {
			perFn = e.cfg.MaxDecompPerMatch
		}

		entries, err := e.decompCandidates(ctx, m)
		if err != nil {
			return nil, err
		}

		sc := e.newScan(OpSearchDecomp, true)
		w := newWindow[DecompHit](page)
	functions:
		for _, entry := range entries {
			text, found := e.snap.Decompilation(entry)
			if !found {
				continue
			}
			var hit *DecompHit
			for i, line := range strings.Split(text, "\n") {
				ok, err := sc.next(ctx)
				if err != nil {
					return nil, err
				}
				if !ok {
					break functions
				}
				if !m.Match(line) {
					continue
				}
				if hit == nil {
					hit = &DecompHit{Function: e.ref(snapshot.Ref{Addr: entry}), Lines: []DecompLine{}}
				}
				hit.Count++
				if len(hit.Lines) < perFn {
					hit.Lines = append(hit.Lines, DecompLine{Line: i + 1, Text: clip(strings.TrimSpace(line), e.cfg.SnippetLength)})
				}
			}
			if hit == nil {
				continue
			}
			if !sc.match() {
				break
			}
			w.add(*hit)
		}
		return &SearchDecompResponse{Functions: w.items, PageInfo: w.info(sc.partial())}, sc.err()
	})
}

// decompCandidates returns the entries of functions with decompiled text,
// narrowed through the text index when the pattern has a literal.
func (e *Engine) decompCandidates(ctx context.Context, m *matcher) ([]snapshot.Address, error) {
	all := func() []snapshot.Address {
		var out []snapshot.Address
		for _, fn := range e.snap.Functions() {
			if _, ok := e.snap.Decompilation(fn.Entry); ok {
				out = append(out, fn.Entry)
			}
		}
		return out
	}
	ix := e.snap.TextIndex()
	lit := m.literal()
	if ix == nil || lit == "" || strings.Contains(lit, "\n") {
		return all(), nil
	}
	addrs, err := ix.Candidates(ctx, storage.KindDecomp, lit)
	if stderrors.Is(err, storage.ErrUnindexable) {
		return all(), nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("text index lookup failed, scanning", "error", err)
		return all(), nil
	}
	out := make([]snapshot.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, snapshot.Address(a))
	}
	return out, nil
}
