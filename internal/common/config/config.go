// Package config loads Hydra's repo-scoped configuration (hydra.toml) plus
// environment overrides into a typed Config struct, mirroring every key
// documented in the external interface spec.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved repo-scoped configuration.
type Config struct {
	General  GeneralConfig           `mapstructure:"general"`
	Adapters map[string]AdapterConfig `mapstructure:"adapters"`
	Scoring  ScoringConfig           `mapstructure:"scoring"`
	Budget   BudgetConfig            `mapstructure:"budget"`
	Security SecurityConfig          `mapstructure:"security"`
	Retention RetentionConfig       `mapstructure:"retention"`
	Logging  LoggingConfig          `mapstructure:"logging"`
	Merge    MergeConfig            `mapstructure:"merge"`
}

type GeneralConfig struct {
	WorkspaceDir        string `mapstructure:"workspace_dir"`
	MaxConcurrentAgents int    `mapstructure:"max_concurrent_agents"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
}

type AdapterConfig struct {
	Binary         string   `mapstructure:"binary"`
	ExtraArgs      []string `mapstructure:"extra_args"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

type ScoringConfig struct {
	Profile     string             `mapstructure:"profile"`
	Weights     ScoringWeights     `mapstructure:"weights"`
	BuildCmd    string             `mapstructure:"build_command"`
	TestCmd     string             `mapstructure:"test_command"`
	LintCmd     string             `mapstructure:"lint_command"`
	Gates       ScoringGates       `mapstructure:"gates"`
	DiffScope   DiffScopeConfig    `mapstructure:"diff_scope"`
}

type ScoringWeights struct {
	Build     float64 `mapstructure:"build"`
	Tests     float64 `mapstructure:"tests"`
	Lint      float64 `mapstructure:"lint"`
	DiffScope float64 `mapstructure:"diff_scope"`
	Speed     float64 `mapstructure:"speed"`
}

type ScoringGates struct {
	RequireBuildPass          bool    `mapstructure:"require_build_pass"`
	MaxTestRegressionPercent  float64 `mapstructure:"max_test_regression_percent"`
	BlockOnDegradedParser     bool    `mapstructure:"block_on_degraded_parser"`
	BlockOnProtectedPath      bool    `mapstructure:"block_on_protected_path"`
}

type DiffScopeConfig struct {
	MaxFilesSoft    int      `mapstructure:"max_files_soft"`
	MaxChurnSoft    int      `mapstructure:"max_churn_soft"`
	ProtectedPaths  []string `mapstructure:"protected_paths"`
}

type BudgetConfig struct {
	MaxTokensTotal    int64   `mapstructure:"max_tokens_total"`
	MaxCostUSD        float64 `mapstructure:"max_cost_usd"`
	MaxRuntimeMinutes float64 `mapstructure:"max_runtime_minutes"`
}

type SecurityConfig struct {
	RedactPatterns []string `mapstructure:"redact_patterns"`
}

type RetentionConfig struct {
	Policy     string `mapstructure:"policy"` // none|failed|all
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type MergeConfig struct {
	// DefaultStrategy is "three_way" or "fast_forward_only".
	DefaultStrategy     string `mapstructure:"default_strategy"`
	AllowUnsafeOverride bool   `mapstructure:"allow_unsafe_override"`
}

// Default returns the built-in defaults applied before hydra.toml/env are
// layered on top.
func Default() Config {
	return Config{
		General: GeneralConfig{
			WorkspaceDir:        ".hydra",
			MaxConcurrentAgents: 4,
			TimeoutSeconds:      1800,
		},
		Adapters: map[string]AdapterConfig{},
		Scoring: ScoringConfig{
			Profile:  "default",
			Weights:  ScoringWeights{Build: 30, Tests: 30, Lint: 15, DiffScope: 15, Speed: 10},
			BuildCmd: "",
			TestCmd:  "",
			LintCmd:  "",
			Gates: ScoringGates{
				RequireBuildPass:         true,
				MaxTestRegressionPercent: 10,
			},
			DiffScope: DiffScopeConfig{MaxFilesSoft: 15, MaxChurnSoft: 1500},
		},
		Budget: BudgetConfig{
			MaxRuntimeMinutes: 30,
		},
		Retention: RetentionConfig{Policy: "failed", MaxAgeDays: 7},
		Logging:   LoggingConfig{Level: "info", Format: "console", OutputPath: "stderr"},
		Merge:     MergeConfig{DefaultStrategy: "three_way"},
	}
}

// Load reads hydra.toml (if present) from repoRoot plus HYDRA_*
// environment variables, layered over Default().
func Load(repoRoot string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("hydra")
	v.SetConfigType("toml")
	v.AddConfigPath(repoRoot)
	v.SetEnvPrefix("HYDRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return cfg, fmt.Errorf("read hydra.toml: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse configuration: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.General.MaxConcurrentAgents <= 0 {
		c.General.MaxConcurrentAgents = 4
	}
	if c.General.WorkspaceDir == "" {
		c.General.WorkspaceDir = ".hydra"
	}
	w := &c.Scoring.Weights
	if w.Build == 0 && w.Tests == 0 && w.Lint == 0 && w.DiffScope == 0 && w.Speed == 0 {
		*w = ScoringWeights{Build: 30, Tests: 30, Lint: 15, DiffScope: 15, Speed: 10}
	}
	if c.Retention.Policy == "" {
		c.Retention.Policy = "failed"
	}
	if c.Retention.MaxAgeDays <= 0 {
		c.Retention.MaxAgeDays = 7
	}
	if c.Merge.DefaultStrategy == "" {
		c.Merge.DefaultStrategy = "three_way"
	}
}

// RuntimeBudget returns the run-scoped budget as concrete durations/limits
// used by the orchestrator.
func (b BudgetConfig) RuntimeBudgetDuration() time.Duration {
	if b.MaxRuntimeMinutes <= 0 {
		return 0
	}
	return time.Duration(b.MaxRuntimeMinutes * float64(time.Minute))
}
