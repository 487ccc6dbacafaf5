package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the static slice of the pass-workflow catalog the engine consumes:
// id patterns, definition-file lists, link phrase templates and thresholds.
// Any section left empty keeps the value already in the Config.
type Catalog struct {
	Namespaces  []NamespaceConfig   `yaml:"namespaces"`
	LinkPhrases []LinkPhraseConfig  `yaml:"linkPhrases"`
	Nesting     []NestingRuleConfig `yaml:"nestingRules"`
	Thresholds  *DriftConfig        `yaml:"thresholds"`
}

// LoadCatalog parses a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "catalogFile", Message: fmt.Sprintf("failed to read catalog: %v", err)}
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, &ConfigError{Field: "catalogFile", Message: fmt.Sprintf("failed to parse catalog: %v", err)}
	}
	return &catalog, nil
}

// ApplyTo overlays the non-empty catalog sections onto cfg.
func (c *Catalog) ApplyTo(cfg *Config) {
	if len(c.Namespaces) > 0 {
		cfg.Namespaces = c.Namespaces
	}
	if len(c.LinkPhrases) > 0 {
		cfg.LinkPhrases = c.LinkPhrases
	}
	if len(c.Nesting) > 0 {
		cfg.NestingRules = c.Nesting
	}
	if c.Thresholds != nil {
		cfg.Drift = *c.Thresholds
	}
}
