package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Relationship kinds accepted in link phrases and nesting rules.
var validKinds = map[string]bool{
	"implements": true,
	"tests":      true,
	"links-to":   true,
	"satisfies":  true,
	"mentions":   true,
}

// Code location strategies accepted in codeLocation.strategies.
var validStrategies = map[string]bool{
	"manifest":       true,
	"literal":        true,
	"flat-module":    true,
	"nested-package": true,
	"package-init":   true,
}

// Compiled is the immutable, validated form of Config handed to the engine.
// It is safe to share between concurrent scans.
type Compiled struct {
	Root         string
	Include      []string
	Exclude      []string
	MaxFileSize  int64
	Workers      int
	Namespaces   []Namespace
	LinkPhrases  []LinkPhrase
	NestingRules []NestingRule
	CodeLocation CodeLocation
	Thresholds   Thresholds
}

// Namespace is a compiled identifier namespace.
type Namespace struct {
	Name            string
	Pattern         *regexp.Regexp
	DefinitionGlobs []string
}

// IsDefinitionFile reports whether path may hold definitions for this namespace.
func (n Namespace) IsDefinitionFile(path string) bool {
	path = filepath.ToSlash(path)
	for _, g := range n.DefinitionGlobs {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	return false
}

// LinkPhrase is a compiled explicit link phrase.
type LinkPhrase struct {
	Pattern *regexp.Regexp
	Kind    string
}

// NestingRule infers Kind from a Child occurrence nested under a Parent definition.
type NestingRule struct {
	Child  string
	Parent string
	Kind   string
}

// CodeLocation holds compiled code location settings.
type CodeLocation struct {
	FieldLabels   []string
	LabelPattern  *regexp.Regexp
	Strategies    []string
	SourceDirs    []string
	Extensions    []string
	NonCodeValues map[string]bool
	VerifySymbols bool
}

// Thresholds are the drift-level bucket boundaries.
type Thresholds struct {
	Low    float64
	Medium float64
	High   float64
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	_, err := c.Compile()
	return err
}

// Compile validates the configuration and produces its immutable compiled form.
func (c *Config) Compile() (*Compiled, error) {
	if c.Version != 1 {
		return nil, &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if len(c.Namespaces) == 0 {
		return nil, &ConfigError{Field: "namespaces", Message: "at least one namespace is required"}
	}

	out := &Compiled{
		Root:        c.Root,
		Include:     append([]string(nil), c.Corpus.Include...),
		Exclude:     append([]string(nil), c.Corpus.Exclude...),
		MaxFileSize: c.Corpus.MaxFileSizeBytes,
		Workers:     c.Corpus.Workers,
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}

	for i, g := range append(append([]string(nil), out.Include...), out.Exclude...) {
		if !doublestar.ValidatePattern(g) {
			return nil, &ConfigError{Field: fmt.Sprintf("corpus.glob[%d]", i), Message: fmt.Sprintf("invalid glob %q", g)}
		}
	}

	seen := make(map[string]bool)
	for i, ns := range c.Namespaces {
		field := fmt.Sprintf("namespaces[%d]", i)
		name := strings.ToUpper(strings.TrimSpace(ns.Name))
		if name == "" {
			return nil, &ConfigError{Field: field + ".name", Message: "namespace name is required"}
		}
		if seen[name] {
			return nil, &ConfigError{Field: field + ".name", Message: fmt.Sprintf("duplicate namespace %q", name)}
		}
		seen[name] = true

		re, err := regexp.Compile(`\b(?:` + ns.Pattern + `)\b`)
		if err != nil || ns.Pattern == "" {
			msg := "pattern is empty"
			if err != nil {
				msg = err.Error()
			}
			return nil, &ConfigError{Field: field + ".pattern", Message: msg}
		}
		for _, g := range ns.DefinitionGlobs {
			if !doublestar.ValidatePattern(g) {
				return nil, &ConfigError{Field: field + ".definitionGlobs", Message: fmt.Sprintf("invalid glob %q", g)}
			}
		}
		out.Namespaces = append(out.Namespaces, Namespace{
			Name:            name,
			Pattern:         re,
			DefinitionGlobs: append([]string(nil), ns.DefinitionGlobs...),
		})
	}

	for i, lp := range c.LinkPhrases {
		field := fmt.Sprintf("linkPhrases[%d]", i)
		if !validKinds[lp.Kind] {
			return nil, &ConfigError{Field: field + ".kind", Message: fmt.Sprintf("unknown relationship kind %q", lp.Kind)}
		}
		re, err := regexp.Compile(lp.Pattern)
		if err != nil || lp.Pattern == "" {
			msg := "pattern is empty"
			if err != nil {
				msg = err.Error()
			}
			return nil, &ConfigError{Field: field + ".pattern", Message: msg}
		}
		out.LinkPhrases = append(out.LinkPhrases, LinkPhrase{Pattern: re, Kind: lp.Kind})
	}

	for i, nr := range c.NestingRules {
		field := fmt.Sprintf("nestingRules[%d]", i)
		child, parent := strings.ToUpper(nr.Child), strings.ToUpper(nr.Parent)
		if !seen[child] || !seen[parent] {
			return nil, &ConfigError{Field: field, Message: fmt.Sprintf("unknown namespace in rule %s under %s", nr.Child, nr.Parent)}
		}
		if !validKinds[nr.Kind] {
			return nil, &ConfigError{Field: field + ".kind", Message: fmt.Sprintf("unknown relationship kind %q", nr.Kind)}
		}
		out.NestingRules = append(out.NestingRules, NestingRule{Child: child, Parent: parent, Kind: nr.Kind})
	}

	cl, err := compileCodeLocation(c.CodeLocation)
	if err != nil {
		return nil, err
	}
	out.CodeLocation = cl

	d := c.Drift
	if d.LowThreshold < 0 || d.LowThreshold > d.MediumThreshold || d.MediumThreshold > d.HighThreshold || d.HighThreshold > 1 {
		return nil, &ConfigError{Field: "drift", Message: "thresholds must satisfy 0 <= low <= medium <= high <= 1"}
	}
	out.Thresholds = Thresholds{Low: d.LowThreshold, Medium: d.MediumThreshold, High: d.HighThreshold}

	return out, nil
}

func compileCodeLocation(c CodeLocationConfig) (CodeLocation, error) {
	out := CodeLocation{
		FieldLabels:   append([]string(nil), c.FieldLabels...),
		SourceDirs:    make([]string, 0, len(c.SourceDirs)),
		Extensions:    append([]string(nil), c.Extensions...),
		NonCodeValues: make(map[string]bool, len(c.NonCodeValues)),
		VerifySymbols: c.VerifySymbols,
	}

	for i, s := range c.Strategies {
		if !validStrategies[s] {
			return out, &ConfigError{Field: fmt.Sprintf("codeLocation.strategies[%d]", i), Message: fmt.Sprintf("unknown strategy %q", s)}
		}
		out.Strategies = append(out.Strategies, s)
	}
	for _, d := range c.SourceDirs {
		d = strings.Trim(filepath.ToSlash(d), "/")
		if d != "" && d != "." {
			out.SourceDirs = append(out.SourceDirs, d)
		}
	}
	for _, v := range c.NonCodeValues {
		out.NonCodeValues[strings.ToLower(strings.TrimSpace(v))] = true
	}

	if len(out.FieldLabels) > 0 {
		quoted := make([]string, len(out.FieldLabels))
		for i, l := range out.FieldLabels {
			quoted[i] = regexp.QuoteMeta(l)
		}
		// "- **Code Location:** `tools.x[Y]`" and plain "Code Location: tools/x.py"
		pattern := `(?i)^\s*(?:[-*+]\s+)?(?:\*\*|__)?(?:` + strings.Join(quoted, "|") + `)(?:\*\*|__)?\s*:\s*(?:\*\*|__)?\s*(.+?)\s*$`
		re, err := regexp.Compile(pattern)
		if err != nil {
			return out, &ConfigError{Field: "codeLocation.fieldLabels", Message: err.Error()}
		}
		out.LabelPattern = re
	}

	return out, nil
}

// Namespace returns the compiled namespace with the given name.
func (c *Compiled) Namespace(name string) (Namespace, bool) {
	for _, ns := range c.Namespaces {
		if ns.Name == name {
			return ns, true
		}
	}
	return Namespace{}, false
}
