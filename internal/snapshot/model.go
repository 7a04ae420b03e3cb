package snapshot

// Loaded records. They are values handed out by the Snapshot accessors;
// nested slices are shared with the snapshot and must be treated as
// read-only.

// Meta is the file-level metadata from meta.json.
type Meta struct {
	FileName         string  `json:"file_name"`
	FilePath         string  `json:"file_path,omitempty"`
	ImageBase        Address `json:"image_base"`
	MinAddress       Ref     `json:"min_address"`
	MaxAddress       Ref     `json:"max_address"`
	MD5              string  `json:"md5,omitempty"`
	SHA256           string  `json:"sha256"`
	CRC32            string  `json:"crc32,omitempty"`
	FileSize         int64   `json:"file_size"`
	Language         string  `json:"language,omitempty"`
	Compiler         string  `json:"compiler,omitempty"`
	Endian           string  `json:"endian,omitempty"`
	Processor        string  `json:"processor,omitempty"`
	ExecutableFormat string  `json:"executable_format,omitempty"`
	CreationDate     string  `json:"creation_date,omitempty"`
	Format           string  `json:"format,omitempty"`
}

// Function is one function record. Ranges are half-open and sorted.
type Function struct {
	Entry      Address         `json:"ea"`
	Name       string          `json:"name"`
	Ranges     []Range         `json:"ranges"`
	Size       uint64          `json:"size"`
	Complexity int             `json:"complexity"`
	Prototype  string          `json:"prototype,omitempty"`
	Metrics    FunctionMetrics `json:"metrics"`
	XrefsIn    []Address       `json:"xrefs_in,omitempty"`
	XrefsOut   []CallRef       `json:"xrefs_out,omitempty"`
	Insn       []Instruction   `json:"-"`
	Blocks     []Range         `json:"-"`
	Comments   []Comment       `json:"-"`
	DecompPath string          `json:"decomp_path,omitempty"`
}

// FunctionMetrics are the extractor's per-function metrics.
type FunctionMetrics struct {
	SizeBytes            int64 `json:"size_bytes"`
	InstructionCount     int   `json:"instruction_count"`
	BasicBlockCount      int   `json:"basic_block_count"`
	CyclomaticComplexity int   `json:"cyclomatic_complexity"`
	CallersCount         int   `json:"callers_count"`
	CalleesCount         int   `json:"callees_count"`
}

// CallRef is an outgoing call or jump from a function.
type CallRef struct {
	Target Ref    `json:"ea"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Instruction is one disassembled instruction.
type Instruction struct {
	Address  Address  `json:"ea"`
	Mnemonic string   `json:"mnem"`
	OpStr    string   `json:"opstr,omitempty"`
	Bytes    string   `json:"bytes,omitempty"`
	Size     int      `json:"size"`
	Operands []string `json:"operands,omitempty"`
}

// Comment is a listing comment inside a function.
type Comment struct {
	Address Address `json:"ea"`
	Kind    string  `json:"kind"`
	Text    string  `json:"text"`
}

// HasDecomp reports whether decompiled text was recorded for the function.
func (f *Function) HasDecomp() bool {
	return f.DecompPath != ""
}

// Contains reports whether a lies inside any of the function's ranges.
func (f *Function) Contains(a Address) bool {
	for _, r := range f.Ranges {
		if r.Contains(a) {
			return true
		}
	}
	return false
}

// StringRecord is a defined string literal.
type StringRecord struct {
	Address  Address   `json:"ea"`
	Value    string    `json:"value"`
	Length   int       `json:"length"`
	Encoding string    `json:"encoding,omitempty"`
	Xrefs    []UseSite `json:"xrefs,omitempty"`
}

// UseSite is a code location referencing a string or data item.
type UseSite struct {
	From     Address `json:"from"`
	Function string  `json:"function,omitempty"`
}

// Import is an external symbol the image links against.
type Import struct {
	Name      string `json:"name"`
	Library   string `json:"library,omitempty"`
	Address   *Ref   `json:"address,omitempty"`
	Ordinal   *int64 `json:"ordinal,omitempty"`
	Type      string `json:"type,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Label renders the import as library!name, or just name without a library.
func (i Import) Label() string {
	if i.Library == "" {
		return i.Name
	}
	return i.Library + "!" + i.Name
}

// Export is a public symbol of the image.
type Export struct {
	Name      string `json:"name"`
	Address   Ref    `json:"address"`
	Type      string `json:"type,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Section is a memory block. Space names a non-default address space
// (e.g. OTHER for non-loaded ELF sections) and is empty for image blocks.
type Section struct {
	Name        string      `json:"name"`
	Space       string      `json:"space,omitempty"`
	Start       Address     `json:"start"`
	End         Address     `json:"end"`
	Size        int64       `json:"size"`
	Permissions Permissions `json:"permissions"`
	Initialized bool        `json:"initialized"`
	Type        string      `json:"type,omitempty"`
	Comment     string      `json:"comment,omitempty"`
}

// Permissions are a section's r/w/x flags.
type Permissions struct {
	Read    bool `json:"read"`
	Write   bool `json:"write"`
	Execute bool `json:"execute"`
}

// String renders permissions as "rwx" with dashes for missing flags.
func (p Permissions) String() string {
	b := []byte("---")
	if p.Read {
		b[0] = 'r'
	}
	if p.Write {
		b[1] = 'w'
	}
	if p.Execute {
		b[2] = 'x'
	}
	return string(b)
}

// Contains reports whether a lies inside the section.
func (s Section) Contains(a Address) bool {
	return a >= s.Start && a < s.End
}

// DataItem is a defined data item outside executable blocks.
type DataItem struct {
	Address Address   `json:"ea"`
	Name    string    `json:"name,omitempty"`
	Type    string    `json:"type"`
	Length  int       `json:"length"`
	Value   *string   `json:"value,omitempty"`
	Bytes   []byte    `json:"-"`
	Xrefs   []UseSite `json:"xrefs,omitempty"`
}

// Equate is a named constant.
type Equate struct {
	Name           string   `json:"name"`
	Value          int64    `json:"value"`
	ReferenceCount int      `json:"reference_count"`
	References     []string `json:"references,omitempty"`
}

// Edge is a call-graph edge between function entries. To may be an
// EXTERNAL thunk.
type Edge struct {
	From     Address `json:"from"`
	FromName string  `json:"from_name,omitempty"`
	To       Ref     `json:"to"`
	ToName   string  `json:"to_name,omitempty"`
	Type     string  `json:"type,omitempty"`
}
