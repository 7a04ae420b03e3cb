package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// CurrentVersion is the configuration schema version.
const CurrentVersion = 1

// Config represents the complete kernscope configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Query      QueryConfig      `json:"query" mapstructure:"query"`
	Capability CapabilityConfig `json:"capability" mapstructure:"capability"`
	Scoring    ScoringConfig    `json:"scoring" mapstructure:"scoring"`
	Budget     BudgetConfig     `json:"budget" mapstructure:"budget"`
	ConfigScan ConfigScanConfig `json:"configScan" mapstructure:"configScan"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// QueryConfig bounds every QueryEngine operation
type QueryConfig struct {
	DefaultLimit      int `json:"defaultLimit" mapstructure:"defaultLimit"`
	MaxLimit          int `json:"maxLimit" mapstructure:"maxLimit"`
	ScanTimeoutMs     int `json:"scanTimeoutMs" mapstructure:"scanTimeoutMs"`
	MaxScanMatches    int `json:"maxScanMatches" mapstructure:"maxScanMatches"`
	MaxTraceDepth     int `json:"maxTraceDepth" mapstructure:"maxTraceDepth"`
	MaxTraceNodes     int `json:"maxTraceNodes" mapstructure:"maxTraceNodes"`
	MaxTraceChildren  int `json:"maxTraceChildren" mapstructure:"maxTraceChildren"`
	MaxInstructions   int `json:"maxInstructions" mapstructure:"maxInstructions"`
	SnippetLength     int `json:"snippetLength" mapstructure:"snippetLength"`
	ValuePreview      int `json:"valuePreview" mapstructure:"valuePreview"`
	DataValuePreview  int `json:"dataValuePreview" mapstructure:"dataValuePreview"`
	MaxSymbolMatches  int `json:"maxSymbolMatches" mapstructure:"maxSymbolMatches"`
	MaxXrefFunctions  int `json:"maxXrefFunctions" mapstructure:"maxXrefFunctions"`
	MaxInsnSamples    int `json:"maxInsnSamples" mapstructure:"maxInsnSamples"`
	MaxDecompPerMatch int `json:"maxDecompPerMatch" mapstructure:"maxDecompPerMatch"`
}

// CapabilityConfig controls capability tagging
type CapabilityConfig struct {
	// HopLimit is how many call-graph hops capabilities propagate upward (0 = direct only)
	HopLimit int `json:"hopLimit" mapstructure:"hopLimit"`
	// RulesFile is an optional TOML file extending the built-in rule table
	RulesFile string `json:"rulesFile" mapstructure:"rulesFile"`
	// HighRisk lists the categories that earn the high-risk weight
	HighRisk []string `json:"highRisk" mapstructure:"highRisk"`
}

// ScoringConfig holds the named weights of the signal scorer
type ScoringConfig struct {
	Function FunctionWeights `json:"function" mapstructure:"function"`
	String   StringWeights   `json:"string" mapstructure:"string"`
}

// FunctionWeights weights the function score terms
type FunctionWeights struct {
	Complexity        float64 `json:"complexity" mapstructure:"complexity"`
	ComplexityCap     int     `json:"complexityCap" mapstructure:"complexityCap"`
	Capabilities      float64 `json:"capabilities" mapstructure:"capabilities"`
	Degree            float64 `json:"degree" mapstructure:"degree"`
	HighRisk          float64 `json:"highRisk" mapstructure:"highRisk"`
	Size              float64 `json:"size" mapstructure:"size"`
	Entrypoint        float64 `json:"entrypoint" mapstructure:"entrypoint"`
	StringRefs        float64 `json:"stringRefs" mapstructure:"stringRefs"`
	StringRefsCap     int     `json:"stringRefsCap" mapstructure:"stringRefsCap"`
	SuspiciousSection float64 `json:"suspiciousSection" mapstructure:"suspiciousSection"`
}

// StringWeights weights the string score terms
type StringWeights struct {
	Length       float64            `json:"length" mapstructure:"length"`
	LengthCap    int                `json:"lengthCap" mapstructure:"lengthCap"`
	HotReference float64            `json:"hotReference" mapstructure:"hotReference"`
	Kinds        map[string]float64 `json:"kinds" mapstructure:"kinds"`
}

// BudgetConfig contains evidence bundle budgets
type BudgetConfig struct {
	MaxStrings              int `json:"maxStrings" mapstructure:"maxStrings"`
	MaxFunctions            int `json:"maxFunctions" mapstructure:"maxFunctions"`
	MaxCallRefs             int `json:"maxCallRefs" mapstructure:"maxCallRefs"`
	MaxStringsPerFunction   int `json:"maxStringsPerFunction" mapstructure:"maxStringsPerFunction"`
	MaxConfigs              int `json:"maxConfigs" mapstructure:"maxConfigs"`
	MaxSections             int `json:"maxSections" mapstructure:"maxSections"`
	MaxImportsPerCapability int `json:"maxImportsPerCapability" mapstructure:"maxImportsPerCapability"`
	MaxEquates              int `json:"maxEquates" mapstructure:"maxEquates"`
	PreviewLength           int `json:"previewLength" mapstructure:"previewLength"`
}

// ConfigScanConfig tunes the embedded configuration detector
type ConfigScanConfig struct {
	MinDataLength   int     `json:"minDataLength" mapstructure:"minDataLength"`
	MinStringLength int     `json:"minStringLength" mapstructure:"minStringLength"`
	MinConfidence   float64 `json:"minConfidence" mapstructure:"minConfidence"`
	XorMinLength    int     `json:"xorMinLength" mapstructure:"xorMinLength"`
	XorMaxLength    int     `json:"xorMaxLength" mapstructure:"xorMaxLength"`
	PrintableRatio  float64 `json:"printableRatio" mapstructure:"printableRatio"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	MaxSize    string `json:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Query: QueryConfig{
			DefaultLimit:      50,
			MaxLimit:          1000,
			ScanTimeoutMs:     2000,
			MaxScanMatches:    5000,
			MaxTraceDepth:     8,
			MaxTraceNodes:     200,
			MaxTraceChildren:  10,
			MaxInstructions:   50,
			SnippetLength:     400,
			ValuePreview:      200,
			DataValuePreview:  160,
			MaxSymbolMatches:  50,
			MaxXrefFunctions:  10,
			MaxInsnSamples:    5,
			MaxDecompPerMatch: 3,
		},
		Capability: CapabilityConfig{
			HopLimit: 0,
			HighRisk: []string{"memory_injection", "persistence", "privilege", "user_cred_phishing"},
		},
		Scoring: ScoringConfig{
			Function: FunctionWeights{
				Complexity:        0.25,
				ComplexityCap:     60,
				Capabilities:      3.0,
				Degree:            1.0,
				HighRisk:          4.0,
				Size:              0.5,
				Entrypoint:        5.0,
				StringRefs:        1.0,
				StringRefsCap:     5,
				SuspiciousSection: 2.0,
			},
			String: StringWeights{
				Length:       0.5,
				LengthCap:    256,
				HotReference: 3.0,
				Kinds: map[string]float64{
					"url":      6.0,
					"ip":       6.0,
					"domain":   5.0,
					"registry": 5.0,
					"mutex":    4.5,
					"command":  5.0,
					"path":     3.0,
					"auth":     4.0,
					"keyword":  3.5,
					"file_ext": 2.5,
				},
			},
		},
		Budget: BudgetConfig{
			MaxStrings:              150,
			MaxFunctions:            40,
			MaxCallRefs:             5,
			MaxStringsPerFunction:   5,
			MaxConfigs:              20,
			MaxSections:             15,
			MaxImportsPerCapability: 30,
			MaxEquates:              25,
			PreviewLength:           160,
		},
		ConfigScan: ConfigScanConfig{
			MinDataLength:   32,
			MinStringLength: 16,
			MinConfidence:   0.3,
			XorMinLength:    16,
			XorMaxLength:    4096,
			PrintableRatio:  0.9,
		},
		Logging: LoggingConfig{
			Level:      "warn",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration. An explicit path must exist; otherwise
// kernscope.{json,toml,yaml} is searched in ./.kernscope and the user config
// directory, falling back to defaults. KERNSCOPE_* environment variables
// override file values (e.g. KERNSCOPE_BUDGET_MAXFUNCTIONS=60).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("KERNSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kernscope")
		v.AddConfigPath(".kernscope")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "kernscope"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every leaf of the default config with viper so that
// partial files and env overrides merge over defaults.
func setDefaults(v *viper.Viper, cfg *Config) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return
	}
	var walk func(prefix string, node map[string]interface{})
	walk = func(prefix string, node map[string]interface{}) {
		for k, val := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := val.(map[string]interface{}); ok && key != "scoring.string.kinds" {
				walk(key, child)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
}

// Save writes the configuration as indented JSON
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}

	positive := []struct {
		field string
		value int
	}{
		{"query.defaultLimit", c.Query.DefaultLimit},
		{"query.maxLimit", c.Query.MaxLimit},
		{"query.scanTimeoutMs", c.Query.ScanTimeoutMs},
		{"query.maxScanMatches", c.Query.MaxScanMatches},
		{"query.maxTraceNodes", c.Query.MaxTraceNodes},
		{"query.maxTraceChildren", c.Query.MaxTraceChildren},
		{"budget.maxStrings", c.Budget.MaxStrings},
		{"budget.maxFunctions", c.Budget.MaxFunctions},
		{"budget.maxCallRefs", c.Budget.MaxCallRefs},
		{"budget.maxConfigs", c.Budget.MaxConfigs},
		{"budget.maxSections", c.Budget.MaxSections},
		{"budget.maxImportsPerCapability", c.Budget.MaxImportsPerCapability},
		{"budget.previewLength", c.Budget.PreviewLength},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &ConfigError{Field: p.field, Message: "must be positive"}
		}
	}
	if c.Query.DefaultLimit > c.Query.MaxLimit {
		return &ConfigError{Field: "query.defaultLimit", Message: "exceeds query.maxLimit"}
	}
	if c.Capability.HopLimit < 0 {
		return &ConfigError{Field: "capability.hopLimit", Message: "must not be negative"}
	}

	fw := c.Scoring.Function
	weights := map[string]float64{
		"scoring.function.complexity":        fw.Complexity,
		"scoring.function.capabilities":      fw.Capabilities,
		"scoring.function.degree":            fw.Degree,
		"scoring.function.highRisk":          fw.HighRisk,
		"scoring.function.size":              fw.Size,
		"scoring.function.entrypoint":        fw.Entrypoint,
		"scoring.function.stringRefs":        fw.StringRefs,
		"scoring.function.suspiciousSection": fw.SuspiciousSection,
		"scoring.string.length":              c.Scoring.String.Length,
		"scoring.string.hotReference":        c.Scoring.String.HotReference,
	}
	for kind, w := range c.Scoring.String.Kinds {
		weights["scoring.string.kinds."+kind] = w
	}
	for field, w := range weights {
		if w < 0 {
			return &ConfigError{Field: field, Message: "weight must not be negative"}
		}
	}

	if c.ConfigScan.MinConfidence < 0 || c.ConfigScan.MinConfidence > 1 {
		return &ConfigError{Field: "configScan.minConfidence", Message: "must be within [0,1]"}
	}
	if c.ConfigScan.PrintableRatio <= 0 || c.ConfigScan.PrintableRatio > 1 {
		return &ConfigError{Field: "configScan.printableRatio", Message: "must be within (0,1]"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
