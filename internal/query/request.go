package query

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"kernscope/internal/errors"
)

// Operation names one query. The set is closed.
type Operation string

const (
	OpSearchFunctions      Operation = "search_functions"
	OpGetFunction          Operation = "get_function"
	OpReadDecompilation    Operation = "read_decompilation"
	OpSearchStrings        Operation = "search_strings"
	OpSearchImportsExports Operation = "search_imports_exports"
	OpSearchByInstruction  Operation = "search_by_instruction"
	OpSearchData           Operation = "search_data"
	OpSearchEquates        Operation = "search_equates"
	OpSearchDecomp         Operation = "search_decomp"
	OpTraceCalls           Operation = "trace_calls"
	OpGetMemorySection     Operation = "get_memory_section"
	OpResolveSymbol        Operation = "resolve_symbol"
	OpGetXrefs             Operation = "get_xrefs"
	OpListFiles            Operation = "list_files"
	OpFunctionStats        Operation = "function_stats"
)

// Operations lists every operation in a stable order.
var Operations = []Operation{
	OpSearchFunctions, OpGetFunction, OpReadDecompilation, OpSearchStrings,
	OpSearchImportsExports, OpSearchByInstruction, OpSearchData, OpSearchEquates,
	OpSearchDecomp, OpTraceCalls, OpGetMemorySection, OpResolveSymbol,
	OpGetXrefs, OpListFiles, OpFunctionStats,
}

// Request is the options of one operation. Only the option types of this
// package implement it.
type Request interface {
	Op() Operation
	request()
}

func (SearchFunctionsOptions) Op() Operation      { return OpSearchFunctions }
func (GetFunctionOptions) Op() Operation          { return OpGetFunction }
func (ReadDecompilationOptions) Op() Operation    { return OpReadDecompilation }
func (SearchStringsOptions) Op() Operation        { return OpSearchStrings }
func (SearchImportsExportsOptions) Op() Operation { return OpSearchImportsExports }
func (SearchByInstructionOptions) Op() Operation  { return OpSearchByInstruction }
func (SearchDataOptions) Op() Operation           { return OpSearchData }
func (SearchEquatesOptions) Op() Operation        { return OpSearchEquates }
func (SearchDecompOptions) Op() Operation         { return OpSearchDecomp }
func (TraceCallsOptions) Op() Operation           { return OpTraceCalls }
func (GetMemorySectionOptions) Op() Operation     { return OpGetMemorySection }
func (ResolveSymbolOptions) Op() Operation        { return OpResolveSymbol }
func (GetXrefsOptions) Op() Operation             { return OpGetXrefs }
func (ListFilesOptions) Op() Operation            { return OpListFiles }
func (FunctionStatsOptions) Op() Operation        { return OpFunctionStats }

func (SearchFunctionsOptions) request()      {}
func (GetFunctionOptions) request()          {}
func (ReadDecompilationOptions) request()    {}
func (SearchStringsOptions) request()        {}
func (SearchImportsExportsOptions) request() {}
func (SearchByInstructionOptions) request()  {}
func (SearchDataOptions) request()           {}
func (SearchEquatesOptions) request()        {}
func (SearchDecompOptions) request()         {}
func (TraceCallsOptions) request()           {}
func (GetMemorySectionOptions) request()     {}
func (ResolveSymbolOptions) request()        {}
func (GetXrefsOptions) request()             {}
func (ListFilesOptions) request()            {}
func (FunctionStatsOptions) request()        {}

var decoders = map[Operation]func([]byte) (Request, error){
	OpSearchFunctions:      decodeAs[SearchFunctionsOptions],
	OpGetFunction:          decodeAs[GetFunctionOptions],
	OpReadDecompilation:    decodeAs[ReadDecompilationOptions],
	OpSearchStrings:        decodeAs[SearchStringsOptions],
	OpSearchImportsExports: decodeAs[SearchImportsExportsOptions],
	OpSearchByInstruction:  decodeAs[SearchByInstructionOptions],
	OpSearchData:           decodeAs[SearchDataOptions],
	OpSearchEquates:        decodeAs[SearchEquatesOptions],
	OpSearchDecomp:         decodeAs[SearchDecompOptions],
	OpTraceCalls:           decodeAs[TraceCallsOptions],
	OpGetMemorySection:     decodeAs[GetMemorySectionOptions],
	OpResolveSymbol:        decodeAs[ResolveSymbolOptions],
	OpGetXrefs:             decodeAs[GetXrefsOptions],
	OpListFiles:            decodeAs[ListFilesOptions],
	OpFunctionStats:        decodeAs[FunctionStatsOptions],
}

// ParseOperation validates an operation name.
func ParseOperation(name string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := decoders[op]; !ok {
		return "", errors.Newf(errors.InvalidQuery, "unknown operation %q", name).
			WithDetails(map[string]any{"operations": Operations})
	}
	return op, nil
}

// DecodeRequest decodes JSON arguments for op. Unknown fields are
// rejected; empty args select every default.
func DecodeRequest(op string, args []byte) (Request, error) {
	parsed, err := ParseOperation(op)
	if err != nil {
		return nil, err
	}
	return decoders[parsed](args)
}

func decodeAs[T Request](args []byte) (Request, error) {
	var req T
	if len(bytes.TrimSpace(args)) == 0 {
		return req, nil
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, errors.New(errors.InvalidQuery, "invalid arguments for "+string(req.Op())+": "+err.Error(), err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.Newf(errors.InvalidQuery, "invalid arguments for %s: trailing data", req.Op())
	}
	return req, nil
}

// Zero returns the zero-valued options of op, for schema generation.
func Zero(op Operation) (Request, bool) {
	decode, ok := decoders[op]
	if !ok {
		return nil, false
	}
	req, err := decode(nil)
	return req, err == nil
}

// Dispatch runs req. A partial result is returned together with its
// Timeout error.
func (e *Engine) Dispatch(ctx context.Context, req Request) (any, error) {
	switch r := req.(type) {
	case SearchFunctionsOptions:
		return result(e.SearchFunctions(ctx, r))
	case GetFunctionOptions:
		return result(e.GetFunction(ctx, r))
	case ReadDecompilationOptions:
		return result(e.ReadDecompilation(ctx, r))
	case SearchStringsOptions:
		return result(e.SearchStrings(ctx, r))
	case SearchImportsExportsOptions:
		return result(e.SearchImportsExports(ctx, r))
	case SearchByInstructionOptions:
		return result(e.SearchByInstruction(ctx, r))
	case SearchDataOptions:
		return result(e.SearchData(ctx, r))
	case SearchEquatesOptions:
		return result(e.SearchEquates(ctx, r))
	case SearchDecompOptions:
		return result(e.SearchDecomp(ctx, r))
	case TraceCallsOptions:
		return result(e.TraceCalls(ctx, r))
	case GetMemorySectionOptions:
		return result(e.GetMemorySection(ctx, r))
	case ResolveSymbolOptions:
		return result(e.ResolveSymbol(ctx, r))
	case GetXrefsOptions:
		return result(e.GetXrefs(ctx, r))
	case ListFilesOptions:
		return result(e.ListFiles(ctx, r))
	case FunctionStatsOptions:
		return result(e.FunctionStats(ctx, r))
	case nil:
		return nil, errors.New(errors.InvalidQuery, "request is required", nil)
	}
	return nil, errors.Newf(errors.InternalError, "unhandled request %T", req)
}

// result keeps a nil response from becoming a non-nil interface.
func result[T any](v *T, err error) (any, error) {
	if v == nil {
		return nil, err
	}
	return v, err
}
