// Package config loads the configuration record that drives analysis depth,
// invalidation policy, extraction globs, forge token env-var names, and
// renderer output paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AnalysisDepth controls history caps, batch sizes, and forge-fetch limits.
type AnalysisDepth string

const (
	DepthShallow  AnalysisDepth = "shallow"
	DepthStandard AnalysisDepth = "standard"
	DepthDeep     AnalysisDepth = "deep"
	DepthFull     AnalysisDepth = "full"
)

// depthOverride holds the per-depth tuning knobs documented by AnalysisDepth.
type depthOverride struct {
	HistoryCap     int `yaml:"history_cap"`
	BatchSize      int `yaml:"batch_size"`
	ForgeFetchLimit int `yaml:"forge_fetch_limit"`
}

var depthOverrides = map[AnalysisDepth]depthOverride{
	DepthShallow:  {HistoryCap: 3, BatchSize: 50, ForgeFetchLimit: 100},
	DepthStandard: {HistoryCap: 10, BatchSize: 200, ForgeFetchLimit: 500},
	DepthDeep:     {HistoryCap: 30, BatchSize: 500, ForgeFetchLimit: 2000},
	DepthFull:     {HistoryCap: 100, BatchSize: 2000, ForgeFetchLimit: 0}, // 0 = unbounded
}

// Override returns the tuning knobs for this depth, falling back to Standard.
func (d AnalysisDepth) Override() depthOverride {
	if o, ok := depthOverrides[d]; ok {
		return o
	}
	return depthOverrides[DepthStandard]
}

// Config holds all configuration settings for the core.
type Config struct {
	AnalysisDepth AnalysisDepth      `yaml:"analysis_depth"`
	Storage       StorageConfig      `yaml:"storage"`
	Invalidation  InvalidationConfig `yaml:"invalidation"`
	Extraction    ExtractionConfig   `yaml:"extraction"`
	Forge         ForgeConfig        `yaml:"forge"`
	Renderers     RenderersConfig    `yaml:"renderers"`
}

// StorageConfig selects and parameterizes the store backend.
type StorageConfig struct {
	Type        string `yaml:"type"` // "sqlite", "postgres"
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// InvalidationConfig selects between the two analysis-invalidation policies
// described in the store's invalidation contract.
type InvalidationConfig struct {
	Coarse                bool `yaml:"coarse"`
	ConservativeSemantic  bool `yaml:"conservative_semantic"`
}

// ExtractionConfig scopes which files extractors should visit. The core
// itself never walks a filesystem; these globs are handed to the external
// extractor collaborators.
type ExtractionConfig struct {
	IncludeGlobs []string `yaml:"include_globs"`
	ExcludeGlobs []string `yaml:"exclude_globs"`
}

// ForgeConfig names, per forge, the environment variable holding its access
// token. Token values themselves are never stored in configuration.
type ForgeConfig struct {
	TokensEnvVar map[string]string `yaml:"tokens_env_var"`
}

// RenderersConfig maps a renderer name to its output path. Renderers
// themselves are out of scope for this core; this is wiring only.
type RenderersConfig struct {
	OutputPaths map[string]string `yaml:"output_paths"`
}

// Default returns default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		AnalysisDepth: DepthStandard,
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLitePath: filepath.Join(homeDir, ".homergraph", "graph.db"),
		},
		Invalidation: InvalidationConfig{
			Coarse:               true,
			ConservativeSemantic: false,
		},
		Extraction: ExtractionConfig{
			IncludeGlobs: []string{"**/*"},
			ExcludeGlobs: []string{"**/.git/**", "**/node_modules/**", "**/vendor/**"},
		},
		Forge: ForgeConfig{
			TokensEnvVar: map[string]string{
				"github": "GITHUB_TOKEN",
				"gitlab": "GITLAB_TOKEN",
			},
		},
		Renderers: RenderersConfig{
			OutputPaths: map[string]string{
				"report":         filepath.Join(homeDir, ".homergraph", "report.html"),
				"module_context": filepath.Join(homeDir, ".homergraph", "modules"),
				"topos_spec":     filepath.Join(homeDir, ".homergraph", "topos.json"),
			},
		},
	}
}

// Load loads configuration from file, applying environment overrides.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("analysis_depth", cfg.AnalysisDepth)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("invalidation", cfg.Invalidation)
	v.SetDefault("extraction", cfg.Extraction)
	v.SetDefault("forge", cfg.Forge)
	v.SetDefault("renderers", cfg.Renderers)

	v.SetEnvPrefix("HOMERGRAPH")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".homergraph")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".homergraph"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config at %q: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence.
func loadEnvFiles() {
	envFiles := []string{
		".env.local",
		".env",
		".env.example",
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			if err := godotenv.Load(file); err == nil {
				continue
			}
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".homergraph", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies explicit environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if depth := os.Getenv("HOMERGRAPH_ANALYSIS_DEPTH"); depth != "" {
		cfg.AnalysisDepth = AnalysisDepth(strings.ToLower(depth))
	}

	if storageType := os.Getenv("HOMERGRAPH_STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}
	if dsn := os.Getenv("HOMERGRAPH_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if path := os.Getenv("HOMERGRAPH_SQLITE_PATH"); path != "" {
		cfg.Storage.SQLitePath = expandPath(path)
	}

	if coarse := os.Getenv("HOMERGRAPH_INVALIDATION_COARSE"); coarse != "" {
		cfg.Invalidation.Coarse = coarse == "true"
	}
	if conservative := os.Getenv("HOMERGRAPH_INVALIDATION_CONSERVATIVE_SEMANTIC"); conservative != "" {
		cfg.Invalidation.ConservativeSemantic = conservative == "true"
	}

	if include := os.Getenv("HOMERGRAPH_EXTRACTION_INCLUDE"); include != "" {
		cfg.Extraction.IncludeGlobs = strings.Split(include, ",")
	}
	if exclude := os.Getenv("HOMERGRAPH_EXTRACTION_EXCLUDE"); exclude != "" {
		cfg.Extraction.ExcludeGlobs = strings.Split(exclude, ",")
	}
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("analysis_depth", c.AnalysisDepth)
	v.Set("storage", c.Storage)
	v.Set("invalidation", c.Invalidation)
	v.Set("extraction", c.Extraction)
	v.Set("forge", c.Forge)
	v.Set("renderers", c.Renderers)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ParseIntDefault parses s as an int, returning def on any error. Used by
// callers applying ad-hoc numeric overrides outside the documented keys.
func ParseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
