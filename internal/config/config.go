package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ConfigDir is the per-project state directory holding config, logs and history.
const ConfigDir = ".tracescan"

// Config represents the complete tracescan configuration (v1 schema)
type Config struct {
	Version     int    `json:"version" mapstructure:"version"`
	Root        string `json:"root" mapstructure:"root"`
	CatalogFile string `json:"catalogFile,omitempty" mapstructure:"catalogFile"`

	Corpus       CorpusConfig        `json:"corpus" mapstructure:"corpus"`
	Namespaces   []NamespaceConfig   `json:"namespaces" mapstructure:"namespaces"`
	LinkPhrases  []LinkPhraseConfig  `json:"linkPhrases" mapstructure:"linkPhrases"`
	NestingRules []NestingRuleConfig `json:"nestingRules" mapstructure:"nestingRules"`
	CodeLocation CodeLocationConfig  `json:"codeLocation" mapstructure:"codeLocation"`
	Drift        DriftConfig         `json:"drift" mapstructure:"drift"`
	Watch        WatchConfig         `json:"watch" mapstructure:"watch"`
	Serve        ServeConfig         `json:"serve" mapstructure:"serve"`
	History      HistoryConfig       `json:"history" mapstructure:"history"`
	Logging      LoggingConfig       `json:"logging" mapstructure:"logging"`
}

// CorpusConfig controls which files make up the scanned corpus
type CorpusConfig struct {
	Include          []string `json:"include" mapstructure:"include"`
	Exclude          []string `json:"exclude" mapstructure:"exclude"`
	MaxFileSizeBytes int64    `json:"maxFileSizeBytes" mapstructure:"maxFileSizeBytes"`
	Workers          int      `json:"workers" mapstructure:"workers"`
}

// NamespaceConfig describes one identifier namespace (REQ, FT, TC)
type NamespaceConfig struct {
	Name            string   `json:"name" mapstructure:"name" yaml:"name"`
	Pattern         string   `json:"pattern" mapstructure:"pattern" yaml:"pattern"`
	DefinitionGlobs []string `json:"definitionGlobs" mapstructure:"definitionGlobs" yaml:"definitionGlobs"`
}

// LinkPhraseConfig maps an explicit link phrase to a relationship kind
type LinkPhraseConfig struct {
	Pattern string `json:"pattern" mapstructure:"pattern" yaml:"pattern"`
	Kind    string `json:"kind" mapstructure:"kind" yaml:"kind"`
}

// NestingRuleConfig infers a relationship from structural nesting
type NestingRuleConfig struct {
	Child  string `json:"child" mapstructure:"child" yaml:"child"`
	Parent string `json:"parent" mapstructure:"parent" yaml:"parent"`
	Kind   string `json:"kind" mapstructure:"kind" yaml:"kind"`
}

// CodeLocationConfig contains code location resolution settings
type CodeLocationConfig struct {
	FieldLabels   []string `json:"fieldLabels" mapstructure:"fieldLabels"`
	Strategies    []string `json:"strategies" mapstructure:"strategies"`
	SourceDirs    []string `json:"sourceDirs" mapstructure:"sourceDirs"`
	Extensions    []string `json:"extensions" mapstructure:"extensions"`
	NonCodeValues []string `json:"nonCodeValues" mapstructure:"nonCodeValues"`
	VerifySymbols bool     `json:"verifySymbols" mapstructure:"verifySymbols"`
}

// DriftConfig contains drift-level bucket thresholds (fractions of 1)
type DriftConfig struct {
	LowThreshold    float64 `json:"lowThreshold" mapstructure:"lowThreshold" yaml:"lowThreshold"`
	MediumThreshold float64 `json:"mediumThreshold" mapstructure:"mediumThreshold" yaml:"mediumThreshold"`
	HighThreshold   float64 `json:"highThreshold" mapstructure:"highThreshold" yaml:"highThreshold"`
}

// WatchConfig contains file watching settings
type WatchConfig struct {
	DebounceMs     int      `json:"debounceMs" mapstructure:"debounceMs"`
	IgnorePatterns []string `json:"ignorePatterns" mapstructure:"ignorePatterns"`
}

// ServeConfig contains request server settings
type ServeConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// HistoryConfig contains report archive settings
type HistoryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Root:    ".",
		Corpus: CorpusConfig{
			Include: []string{
				"**/*.md", "**/*.markdown", "**/*.txt",
				"**/*.py", "**/*.go", "**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx",
				"**/*.rs", "**/*.java", "**/*.kt", "**/*.rb",
				"**/*.yaml", "**/*.yml", "**/*.toml",
			},
			Exclude: []string{
				"**/.git/**", "**/.hg/**", "**/.svn/**",
				"**/node_modules/**", "**/vendor/**", "**/dist/**", "**/build/**", "**/target/**",
				"**/__pycache__/**", "**/.venv/**", "**/venv/**", "**/.tox/**",
				ConfigDir + "/**",
			},
			MaxFileSizeBytes: 2 << 20,
			Workers:          8,
		},
		Namespaces: []NamespaceConfig{
			{
				Name:            "REQ",
				Pattern:         `REQ-[A-Z]+-\d+(-[a-z])?`,
				DefinitionGlobs: []string{"REQUIREMENTS.md", "**/REQUIREMENTS.md", "docs/requirements/**/*.md"},
			},
			{
				Name:            "FT",
				Pattern:         `FT-[A-Z]+-\d+(-[a-z])?`,
				DefinitionGlobs: []string{"FEATURES.md", "**/FEATURES.md", "docs/features/**/*.md"},
			},
			{
				Name:            "TC",
				Pattern:         `TC-[A-Z]+-\d+(-[a-z])?`,
				DefinitionGlobs: []string{"TESTS.md", "**/TESTS.md", "docs/features/**/*.md", "docs/tests/**/*.md"},
			},
		},
		LinkPhrases: []LinkPhraseConfig{
			{Pattern: `(?i)\bimplements\b`, Kind: "implements"},
			{Pattern: `(?i)\bsatisfies\b`, Kind: "satisfies"},
			{Pattern: `(?i)\blinks?\s+to\b`, Kind: "links-to"},
			{Pattern: `(?i)\btests?\s*:`, Kind: "tests"},
			{Pattern: `(?i)\btested\s+by\b`, Kind: "tests"},
			{Pattern: `@$`, Kind: "tests"},
			{Pattern: `(?i)\bsee\b|\brelated\b`, Kind: "mentions"},
		},
		NestingRules: []NestingRuleConfig{
			{Child: "TC", Parent: "FT", Kind: "tests"},
		},
		CodeLocation: CodeLocationConfig{
			FieldLabels:   []string{"Code Location", "Test Location"},
			Strategies:    []string{"manifest", "literal", "flat-module", "nested-package", "package-init"},
			SourceDirs:    []string{"src", "lib"},
			Extensions:    []string{".py", ".go", ".ts", ".tsx", ".js", ".rs", ".java", ".kt", ".rb"},
			NonCodeValues: []string{"n/a", "na", "none", "tbd", "-", "todo"},
			VerifySymbols: true,
		},
		Drift: DriftConfig{
			LowThreshold:    0.05,
			MediumThreshold: 0.15,
			HighThreshold:   0.30,
		},
		Watch: WatchConfig{
			DebounceMs:     250,
			IgnorePatterns: []string{"*.swp", "*.tmp", "*~", ".#*"},
		},
		Serve: ServeConfig{
			Addr: "127.0.0.1:8765",
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    filepath.Join(ConfigDir, "history.db"),
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from .tracescan/config.{json,yaml,toml}.
// Values present in the file override the defaults; TRACESCAN_* environment
// variables override both.
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.AddConfigPath(filepath.Join(repoRoot, ConfigDir))
	v.SetEnvPrefix("TRACESCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	cfg.Root = repoRoot

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return applyCatalog(cfg, repoRoot)
		}
		return nil, &ConfigError{Field: "file", Message: err.Error()}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ConfigError{Field: "file", Message: err.Error()}
	}
	if cfg.Root == "" || cfg.Root == "." {
		cfg.Root = repoRoot
	}

	return applyCatalog(cfg, repoRoot)
}

func applyCatalog(cfg *Config, repoRoot string) (*Config, error) {
	if cfg.CatalogFile == "" {
		return cfg, nil
	}
	path := cfg.CatalogFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoRoot, path)
	}
	catalog, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	catalog.ApplyTo(cfg)
	return cfg, nil
}

// Save writes the configuration to .tracescan/config.json
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, ConfigDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
