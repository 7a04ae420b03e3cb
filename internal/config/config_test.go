package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	// Budgets mirror the bundle sizes the pruner is tuned for
	if cfg.Budget.MaxStrings != 150 {
		t.Errorf("MaxStrings = %d, want 150", cfg.Budget.MaxStrings)
	}
	if cfg.Budget.MaxFunctions != 40 {
		t.Errorf("MaxFunctions = %d, want 40", cfg.Budget.MaxFunctions)
	}
	if cfg.Budget.PreviewLength != 160 {
		t.Errorf("PreviewLength = %d, want 160", cfg.Budget.PreviewLength)
	}

	if len(cfg.Capability.HighRisk) == 0 {
		t.Error("HighRisk should not be empty")
	}
	if cfg.Scoring.String.Kinds["url"] <= 0 {
		t.Error("url kind weight should be positive")
	}
}

func TestLoadConfig_NoFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Budget.MaxFunctions != 40 {
		t.Errorf("MaxFunctions = %d, want 40", cfg.Budget.MaxFunctions)
	}
	if cfg.Query.DefaultLimit != 50 {
		t.Errorf("DefaultLimit = %d, want 50", cfg.Query.DefaultLimit)
	}
}

func TestLoadConfig_PartialFileMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernscope.json")
	content := `{
  "version": 1,
  "budget": {"maxFunctions": 12},
  "scoring": {"function": {"entrypoint": 9.5}}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Budget.MaxFunctions != 12 {
		t.Errorf("MaxFunctions = %d, want 12", cfg.Budget.MaxFunctions)
	}
	if cfg.Budget.MaxStrings != 150 {
		t.Errorf("MaxStrings = %d, want default 150", cfg.Budget.MaxStrings)
	}
	if cfg.Scoring.Function.Entrypoint != 9.5 {
		t.Errorf("Entrypoint weight = %v, want 9.5", cfg.Scoring.Function.Entrypoint)
	}
	if cfg.Scoring.Function.Capabilities != 3.0 {
		t.Errorf("Capabilities weight = %v, want default 3.0", cfg.Scoring.Function.Capabilities)
	}
}

func TestLoadConfig_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernscope.toml")
	content := `version = 1

[query]
defaultLimit = 20

[capability]
hopLimit = 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Query.DefaultLimit != 20 {
		t.Errorf("DefaultLimit = %d, want 20", cfg.Query.DefaultLimit)
	}
	if cfg.Capability.HopLimit != 2 {
		t.Errorf("HopLimit = %d, want 2", cfg.Capability.HopLimit)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernscope.json")
	if err := os.WriteFile(path, []byte(`{"version": 1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KERNSCOPE_BUDGET_MAXSTRINGS", "33")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Budget.MaxStrings != 33 {
		t.Errorf("MaxStrings = %d, want 33", cfg.Budget.MaxStrings)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr bool
	}{
		{"valid", func(*Config) {}, "", false},
		{"bad version", func(c *Config) { c.Version = 99 }, "version", true},
		{"zero functions", func(c *Config) { c.Budget.MaxFunctions = 0 }, "budget.maxFunctions", true},
		{"limit above max", func(c *Config) { c.Query.DefaultLimit = 5000 }, "query.defaultLimit", true},
		{"negative hops", func(c *Config) { c.Capability.HopLimit = -1 }, "capability.hopLimit", true},
		{"negative weight", func(c *Config) { c.Scoring.Function.Degree = -1 }, "scoring.function.degree", true},
		{"negative kind weight", func(c *Config) { c.Scoring.String.Kinds["url"] = -2 }, "scoring.string.kinds.url", true},
		{"confidence range", func(c *Config) { c.ConfigScan.MinConfidence = 1.5 }, "configScan.minConfidence", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			cerr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("error type = %T, want *ConfigError", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cerr.Field, tt.field)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "kernscope.json")
	cfg := DefaultConfig()
	cfg.Budget.MaxConfigs = 7

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Budget.MaxConfigs != 7 {
		t.Errorf("MaxConfigs = %d, want 7", loaded.Budget.MaxConfigs)
	}
}
