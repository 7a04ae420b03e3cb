package compression

import "kernscope/internal/config"

// EvidenceBudget bounds every list in an evidence bundle
type EvidenceBudget struct {
	// MaxStrings limits the top strings list
	MaxStrings int `json:"max_strings"`

	// MaxFunctions limits the top functions list
	MaxFunctions int `json:"max_functions"`

	// MaxCallRefs limits callers and callees listed per function
	MaxCallRefs int `json:"max_call_refs"`

	// MaxStringsPerFunction limits strings listed per function
	MaxStringsPerFunction int `json:"max_strings_per_function"`

	// MaxConfigs limits configuration candidates
	MaxConfigs int `json:"max_configs"`

	// MaxSections limits anomalous sections
	MaxSections int `json:"max_sections"`

	// MaxImportsPerCapability limits import labels per capability
	MaxImportsPerCapability int `json:"max_imports_per_capability"`

	// MaxEquates limits the equates list
	MaxEquates int `json:"max_equates"`

	// PreviewLength limits value previews in characters
	PreviewLength int `json:"preview_length"`
}

// DefaultBudget returns the default evidence budget
func DefaultBudget() *EvidenceBudget {
	return &EvidenceBudget{
		MaxStrings:              150,
		MaxFunctions:            40,
		MaxCallRefs:             5,
		MaxStringsPerFunction:   5,
		MaxConfigs:              20,
		MaxSections:             15,
		MaxImportsPerCapability: 30,
		MaxEquates:              25,
		PreviewLength:           160,
	}
}

// LoadFromConfig creates an EvidenceBudget from configuration, using defaults for missing values
func (b *EvidenceBudget) LoadFromConfig(cfg *config.Config) *EvidenceBudget {
	if cfg == nil {
		return DefaultBudget()
	}

	budget := &EvidenceBudget{
		MaxStrings:              cfg.Budget.MaxStrings,
		MaxFunctions:            cfg.Budget.MaxFunctions,
		MaxCallRefs:             cfg.Budget.MaxCallRefs,
		MaxStringsPerFunction:   cfg.Budget.MaxStringsPerFunction,
		MaxConfigs:              cfg.Budget.MaxConfigs,
		MaxSections:             cfg.Budget.MaxSections,
		MaxImportsPerCapability: cfg.Budget.MaxImportsPerCapability,
		MaxEquates:              cfg.Budget.MaxEquates,
		PreviewLength:           cfg.Budget.PreviewLength,
	}
	budget.fillDefaults()
	return budget
}

// fillDefaults applies defaults for zero values
func (b *EvidenceBudget) fillDefaults() {
	d := DefaultBudget()
	if b.MaxStrings <= 0 {
		b.MaxStrings = d.MaxStrings
	}
	if b.MaxFunctions <= 0 {
		b.MaxFunctions = d.MaxFunctions
	}
	if b.MaxCallRefs <= 0 {
		b.MaxCallRefs = d.MaxCallRefs
	}
	if b.MaxStringsPerFunction <= 0 {
		b.MaxStringsPerFunction = d.MaxStringsPerFunction
	}
	if b.MaxConfigs <= 0 {
		b.MaxConfigs = d.MaxConfigs
	}
	if b.MaxSections <= 0 {
		b.MaxSections = d.MaxSections
	}
	if b.MaxImportsPerCapability <= 0 {
		b.MaxImportsPerCapability = d.MaxImportsPerCapability
	}
	if b.MaxEquates <= 0 {
		b.MaxEquates = d.MaxEquates
	}
	if b.PreviewLength <= 0 {
		b.PreviewLength = d.PreviewLength
	}
}

// NewBudgetFromConfig creates a new EvidenceBudget from a config
func NewBudgetFromConfig(cfg *config.Config) *EvidenceBudget {
	return DefaultBudget().LoadFromConfig(cfg)
}
