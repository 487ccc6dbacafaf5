// Package trace extracts REQ/FT/TC identifiers from a corpus, links them,
// builds traceability chains and scores documentation drift.
package trace

import (
	"fmt"
	"sort"
)

// Status is the completion marker of a definition.
type Status string

const (
	StatusComplete   Status = "complete"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusSkipped    Status = "skipped"
	StatusUnknown    Status = "unknown"
)

// Kind is a relationship kind.
type Kind string

const (
	KindImplements Kind = "implements"
	KindTests      Kind = "tests"
	KindLinksTo    Kind = "links-to"
	KindSatisfies  Kind = "satisfies"
	KindMentions   Kind = "mentions"
)

// Oriented reports whether edges of this kind point from the more specific
// namespace to the more general one regardless of how they were written.
func (k Kind) Oriented() bool {
	return k == KindImplements || k == KindSatisfies || k == KindTests
}

// Confidence distinguishes phrase-based links from structural inference.
type Confidence string

const (
	ConfidenceExplicit Confidence = "explicit"
	ConfidenceInferred Confidence = "inferred"
)

// Severity of a drift entry.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// DriftKind classifies a drift entry.
type DriftKind string

const (
	DriftMissingLink         DriftKind = "missing_link"
	DriftBrokenLink          DriftKind = "broken_link"
	DriftDuplicateDefinition DriftKind = "duplicate_definition"
	DriftOrphan              DriftKind = "orphan"
	DriftCycle               DriftKind = "cycle"
	DriftUnresolvedLocation  DriftKind = "unresolved_code_location"
	DriftQualityIssue        DriftKind = "quality_issue"
)

// BrokenAt names the first missing stage of an incomplete chain.
type BrokenAt string

const (
	BrokenNoFeature  BrokenAt = "no_feature"
	BrokenNoTestCase BrokenAt = "no_testcase"
	BrokenNoArtifact BrokenAt = "no_artifact"
)

// Location is a 1-based line in a corpus file.
type Location struct {
	Path string `json:"path"`
	Line int    `json:"line"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.Path, l.Line)
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.Path == "" && l.Line == 0
}

// CodeField is a raw Code Location value found in a definition's scope.
type CodeField struct {
	Raw      string   `json:"raw"`
	Location Location `json:"location"`
}

// Identifier is one REQ, FT or TC id with its canonical definition.
type Identifier struct {
	ID                 string      `json:"id"`
	Namespace          string      `json:"namespace"`
	DefinitionLocation *Location   `json:"definitionLocation,omitempty"`
	ReferenceLocations []Location  `json:"referenceLocations"`
	Status             Status      `json:"status"`
	Description        string      `json:"description"`
	CodeLocations      []CodeField `json:"codeLocations,omitempty"`
}

// Defined reports whether the identifier has a canonical definition.
func (i *Identifier) Defined() bool {
	return i != nil && i.DefinitionLocation != nil
}

// ScopeRef is an enclosing definition of an occurrence.
type ScopeRef struct {
	ID        string
	Namespace string
	Line      int
}

// Reference is one pattern match in the corpus. Declaring occurrences are the
// definition sites; all others are references.
type Reference struct {
	ID        string
	Namespace string
	Location  Location
	Column    int
	// Declares is set when this occurrence is a definition (canonical or duplicate).
	Declares bool
	// LineDeclares is the id declared on the same line, if any.
	LineDeclares *ScopeRef
	// Enclosing lists enclosing definitions, outermost first.
	Enclosing []ScopeRef
	// Prefix is the line text preceding the occurrence.
	Prefix   string
	Markdown bool
}

// Relationship is a directed edge between two defined identifiers.
type Relationship struct {
	FromID         string     `json:"fromId"`
	ToID           string     `json:"toId"`
	Kind           Kind       `json:"kind"`
	Confidence     Confidence `json:"confidence"`
	SourceLocation Location   `json:"sourceLocation"`
}

// Annotation attaches a non-markdown file to an identifier, e.g. "# @TC-CORE-001".
type Annotation struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"kind"`
	Location Location `json:"location"`
}

// Chain is one REQ -> FT -> TC -> artifact path.
type Chain struct {
	RequirementID string   `json:"requirementId,omitempty"`
	FeatureID     string   `json:"featureId,omitempty"`
	TestCaseID    string   `json:"testCaseId,omitempty"`
	ArtifactID    string   `json:"artifactId,omitempty"`
	Complete      bool     `json:"complete"`
	BrokenAt      BrokenAt `json:"brokenAt,omitempty"`
	Score         float64  `json:"score"`
}

// DriftEntry is one recorded divergence.
type DriftEntry struct {
	Kind     DriftKind `json:"kind"`
	Severity Severity  `json:"severity"`
	EntityID string    `json:"entityId"`
	Message  string    `json:"message"`
	Location string    `json:"location,omitempty"`
}

// SortEntries sorts entries by severity DESC, entityId ASC, kind ASC, message ASC.
func SortEntries(entries []DriftEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		// Primary: severity DESC
		if ri, rj := entries[i].Severity.Rank(), entries[j].Severity.Rank(); ri != rj {
			return ri > rj
		}
		// Secondary: entityId ASC
		if entries[i].EntityID != entries[j].EntityID {
			return entries[i].EntityID < entries[j].EntityID
		}
		// Tertiary: kind ASC
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].Message < entries[j].Message
	})
}

// SortChains sorts chains by requirementId, featureId, testCaseId ASC.
// FT-rooted chains (no requirement) sort after requirement-rooted ones.
func SortChains(chains []Chain) {
	sort.SliceStable(chains, func(i, j int) bool {
		a, b := chains[i], chains[j]
		if a.RequirementID != b.RequirementID {
			if a.RequirementID == "" || b.RequirementID == "" {
				return b.RequirementID == ""
			}
			return a.RequirementID < b.RequirementID
		}
		if a.FeatureID != b.FeatureID {
			return a.FeatureID < b.FeatureID
		}
		if a.TestCaseID != b.TestCaseID {
			return a.TestCaseID < b.TestCaseID
		}
		return a.ArtifactID < b.ArtifactID
	})
}

// SortRelationships sorts edges by fromId, toId, kind, then source location.
func SortRelationships(rels []Relationship) {
	sort.SliceStable(rels, func(i, j int) bool {
		a, b := rels[i], rels[j]
		if a.FromID != b.FromID {
			return a.FromID < b.FromID
		}
		if a.ToID != b.ToID {
			return a.ToID < b.ToID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.SourceLocation.Path != b.SourceLocation.Path {
			return a.SourceLocation.Path < b.SourceLocation.Path
		}
		return a.SourceLocation.Line < b.SourceLocation.Line
	})
}

// SortedIDs returns the map keys in ascending order.
func SortedIDs(ids map[string]*Identifier) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
