package snapshot

// Wire records mirror the snapshot files field for field. Their json names
// are a stability contract with the extractor and with every consumer of the
// snapshot; validate tags are checked per record at load time.

type rawMeta struct {
	FileName         string `json:"file_name" validate:"required"`
	FilePath         string `json:"file_path"`
	ImageBase        string `json:"image_base" validate:"omitempty,addr"`
	MinAddress       string `json:"min_address" validate:"omitempty,ref"`
	MaxAddress       string `json:"max_address" validate:"omitempty,ref"`
	MD5              string `json:"md5" validate:"omitempty,len=32,hexadecimal"`
	SHA256           string `json:"sha256" validate:"required,len=64,hexadecimal"`
	CRC32            string `json:"crc32"`
	FileSize         int64  `json:"file_size" validate:"gte=0"`
	Language         string `json:"language"`
	Compiler         string `json:"compiler"`
	Endian           string `json:"endian" validate:"omitempty,oneof=big little"`
	Processor        string `json:"processor"`
	ExecutableFormat string `json:"executable_format"`
	CreationDate     string `json:"creation_date"`
	Format           string `json:"format"`
}

type rawFunction struct {
	EA         string       `json:"ea" validate:"required,addr"`
	Name       string       `json:"name" validate:"required"`
	Ranges     [][]string   `json:"ranges" validate:"required,min=1,dive,len=2,dive,addr"`
	XrefsIn    []string     `json:"xrefs_in" validate:"dive,addr"`
	XrefsOut   []rawCallRef `json:"xrefs_out" validate:"dive"`
	Prototype  string       `json:"prototype"`
	Metrics    rawMetrics   `json:"metrics"`
	Insn       []rawInsn    `json:"insn" validate:"dive"`
	BB         []rawBlock   `json:"bb" validate:"dive"`
	Comments   []rawComment `json:"comments" validate:"dive"`
	DecompPath *string      `json:"decomp_path"`
}

type rawCallRef struct {
	EA   string `json:"ea" validate:"required,ref"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type rawMetrics struct {
	SizeBytes            int64 `json:"size_bytes" validate:"gte=0"`
	InstructionCount     int   `json:"instruction_count" validate:"gte=0"`
	BasicBlockCount      int   `json:"basic_block_count" validate:"gte=0"`
	CyclomaticComplexity int   `json:"cyclomatic_complexity" validate:"gte=0"`
	CallersCount         int   `json:"callers_count" validate:"gte=0"`
	CalleesCount         int   `json:"callees_count" validate:"gte=0"`
}

type rawInsn struct {
	EA       string   `json:"ea" validate:"required,addr"`
	Mnem     string   `json:"mnem"`
	OpStr    string   `json:"opstr"`
	Bytes    string   `json:"bytes" validate:"omitempty,hexadecimal"`
	Size     int      `json:"size" validate:"gte=0"`
	Operands []string `json:"operands"`
}

type rawBlock struct {
	Start string `json:"start" validate:"required,addr"`
	End   string `json:"end" validate:"required,addr"`
}

type rawComment struct {
	EA   string `json:"ea" validate:"required,addr"`
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type rawString struct {
	EA       string       `json:"ea" validate:"required,addr"`
	Value    string       `json:"value"`
	Length   int          `json:"length" validate:"gte=0"`
	Encoding string       `json:"encoding"`
	Xrefs    []rawUseSite `json:"xrefs" validate:"dive"`
}

// rawUseSite is a reference to a string or data item from code. The
// containing function is recorded by name only and may be null.
type rawUseSite struct {
	From     string  `json:"from" validate:"required,addr"`
	Function *string `json:"function"`
}

type rawImportsExports struct {
	Imports []rawImport `json:"imports" validate:"dive"`
	Exports []rawExport `json:"exports" validate:"dive"`
}

type rawImport struct {
	Name      string  `json:"name" validate:"required"`
	Library   string  `json:"library"`
	Address   *string `json:"address" validate:"omitempty,ref"`
	Ordinal   *int64  `json:"ordinal"`
	Type      string  `json:"type"`
	Signature string  `json:"signature"`
}

type rawExport struct {
	Name      string `json:"name" validate:"required"`
	Address   string `json:"address" validate:"required,ref"`
	Type      string `json:"type"`
	Signature string `json:"signature"`
}

type rawSection struct {
	Name        string         `json:"name" validate:"required"`
	Start       string         `json:"start" validate:"required,ref"`
	End         string         `json:"end" validate:"required,ref"`
	Size        int64          `json:"size" validate:"gte=0"`
	Permissions rawPermissions `json:"permissions"`
	Initialized bool           `json:"initialized"`
	Type        string         `json:"type"`
	Comment     *string        `json:"comment"`
}

type rawPermissions struct {
	Read    bool `json:"read"`
	Write   bool `json:"write"`
	Execute bool `json:"execute"`
}

type rawData struct {
	EA     string       `json:"ea" validate:"required,addr"`
	Name   *string      `json:"name"`
	Type   string       `json:"type"`
	Length int          `json:"length" validate:"gte=0"`
	Value  *string      `json:"value"`
	Bytes  string       `json:"bytes" validate:"omitempty,hexadecimal"`
	Xrefs  []rawUseSite `json:"xrefs" validate:"dive"`
}

type rawEquate struct {
	Name           string   `json:"name" validate:"required"`
	Value          int64    `json:"value"`
	ReferenceCount int      `json:"reference_count" validate:"gte=0"`
	References     []string `json:"references"`
}

type rawEdge struct {
	From     string `json:"from" validate:"required,addr"`
	FromName string `json:"from_name"`
	To       string `json:"to" validate:"required,ref"`
	ToName   string `json:"to_name"`
	Type     string `json:"type"`
}

// rawIndex is index.json: function name -> entry, entry -> position in
// functions.jsonl.
type rawIndex struct {
	ByName map[string]string `json:"by_name" validate:"dive,addr"`
	ByEA   map[string]int    `json:"by_ea" validate:"dive,gte=0"`
}

// rawDataIndex is data_index.json: data name -> address.
type rawDataIndex struct {
	ByName map[string]string `json:"by_name" validate:"dive,addr"`
}
