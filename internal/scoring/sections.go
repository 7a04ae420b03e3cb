package scoring

import (
	"strings"

	"kernscope/internal/snapshot"
)

// Section anomaly thresholds in bytes.
const (
	SmallExecThreshold      = 512
	LargeWriteExecThreshold = 64 * 1024
)

// Normalized executable formats.
const (
	FormatPE      = "pe"
	FormatELF     = "elf"
	FormatMachO   = "mach-o"
	FormatUnknown = "unknown"
)

var standardSections = map[string][]string{
	FormatPE: {
		"headers", ".text", ".rdata", ".data", ".pdata", ".edata", ".idata",
		".tls", ".bss", ".rsrc", ".reloc", ".textbss", ".didat", ".xdata",
	},
	FormatELF: {
		".text", ".plt", ".plt.sec", ".plt.got", ".got", ".got.plt", ".rodata",
		".data", ".data.rel.ro", ".bss", ".tbss", ".init", ".fini", ".ctors",
		".dtors", ".eh_frame", ".init_array", ".fini_array", ".comment",
		".note.gnu.build-id", ".interp",
	},
	FormatMachO: {
		"__text", "__stubs", "__stub_helper", "__cstring", "__const", "__data",
		"__data_const", "__constdata", "__auth_const", "__objc_meth", "__objc_class",
		"__objc_data", "__bss", "__common", "__linkedit", "__la_symbol_ptr",
	},
	"default": {".text", ".data", ".bss", ".rodata", ".rdata", ".init", ".fini"},
}

// NormalizeFormat maps an extractor format string to pe, elf, mach-o or
// unknown.
func NormalizeFormat(m snapshot.Meta) string {
	f := m.ExecutableFormat
	if f == "" {
		f = m.Format
	}
	lower := strings.ToLower(f)
	switch {
	case lower == "":
		return FormatUnknown
	case strings.Contains(lower, "portable executable"), strings.HasPrefix(lower, "pe"), strings.Contains(lower, "coff"):
		return FormatPE
	case strings.Contains(lower, "elf"):
		return FormatELF
	case strings.Contains(lower, "mach"):
		return FormatMachO
	}
	return FormatUnknown
}

// Anomaly is a section flagged by at least one rule.
type Anomaly struct {
	Section snapshot.Section
	Reasons []string
}

// Anomaly reasons.
const (
	ReasonNonStandardName = "non_standard_name"
	ReasonRWX             = "rwx"
	ReasonTinyExec        = "tiny_executable"
	ReasonLargeWriteExec  = "large_write_execute"
)

// SectionReport summarizes section permissions and anomalies.
type SectionReport struct {
	HasRWX    bool
	Anomalies []Anomaly
}

// AnalyzeSections flags sections with a non-standard name for the format,
// rwx permissions, a tiny executable body or a large write+execute body.
// Anomalies keep section order.
func AnalyzeSections(sections []snapshot.Section, format string) SectionReport {
	names, ok := standardSections[format]
	if !ok {
		names = standardSections["default"]
	}
	standard := make(map[string]bool, len(names))
	for _, n := range names {
		standard[strings.ToLower(n)] = true
	}

	var report SectionReport
	for _, sec := range sections {
		p := sec.Permissions
		rwx := p.Read && p.Write && p.Execute
		if rwx {
			report.HasRWX = true
		}

		var reasons []string
		if !standard[strings.ToLower(sec.Name)] {
			reasons = append(reasons, ReasonNonStandardName)
		}
		if rwx {
			reasons = append(reasons, ReasonRWX)
		}
		if p.Execute && sec.Size > 0 && sec.Size < SmallExecThreshold {
			reasons = append(reasons, ReasonTinyExec)
		}
		if p.Write && p.Execute && sec.Size >= LargeWriteExecThreshold {
			reasons = append(reasons, ReasonLargeWriteExec)
		}
		if len(reasons) > 0 {
			report.Anomalies = append(report.Anomalies, Anomaly{Section: sec, Reasons: reasons})
		}
	}
	return report
}

// Contains reports whether a lies in any anomalous section.
func (r SectionReport) Contains(a snapshot.Address) bool {
	for _, an := range r.Anomalies {
		if an.Section.Space == "" && an.Section.Contains(a) {
			return true
		}
	}
	return false
}
