package trace

import (
	"fmt"
	"math"

	"tracescan/internal/config"
)

// DriftLevel buckets the drift fraction.
type DriftLevel string

const (
	DriftNone   DriftLevel = "none"
	DriftLow    DriftLevel = "low"
	DriftMedium DriftLevel = "medium"
	DriftHigh   DriftLevel = "high"
)

// LevelFor maps a drift fraction onto the configured buckets.
func LevelFor(drift float64, t config.Thresholds) DriftLevel {
	switch {
	case drift > t.High:
		return DriftHigh
	case drift >= t.Medium:
		return DriftMedium
	case drift >= t.Low:
		return DriftLow
	default:
		return DriftNone
	}
}

// SegmentTally counts code-looking segments owned by one identifier.
type SegmentTally struct {
	Declared int
	Resolved int
}

// AlignmentInput is what the calculator scores.
type AlignmentInput struct {
	Identifiers   map[string]*Identifier
	Chains        []Chain
	Relationships []Relationship
	Segments      map[string]SegmentTally
	// Namespaces in scope; empty means all.
	Namespaces []string
	// CountDefinitions adds in-scope definitions to the denominator.
	CountDefinitions bool
	// CountSegments adds declared code-looking segments to the denominator.
	CountSegments bool
}

// EntityScore is one row of the per-definition table.
type EntityScore struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	Status    Status `json:"status"`
	Aligned   bool   `json:"aligned"`
}

// Alignment is the aggregate score.
type Alignment struct {
	Alignment          float64       `json:"alignment"`
	Drift              float64       `json:"drift"`
	Level              DriftLevel    `json:"driftLevel"`
	CompleteChains     int           `json:"completeChains"`
	ResolvedArtifacts  int           `json:"resolvedArtifacts"`
	DocumentedFeatures int           `json:"documentedFeatures"`
	TotalDefinitions   int           `json:"totalDefinitions"`
	Entities           []EntityScore `json:"entities"`
}

// Percent returns alignment as a percentage.
func (a Alignment) Percent() float64 {
	return a.Alignment * 100
}

// Align computes
//
//	alignment = (complete_chains + resolved_artifacts + documented_features) / max(1, total)
//
// where complete_chains counts distinct in-scope requirement and test-case
// definitions on a complete chain, documented_features counts in-scope
// features with a non-mention edge, and total is in-scope definitions plus
// declared code-looking segments.
func Align(in AlignmentInput, roles Roles, t config.Thresholds) Alignment {
	scope := make(map[string]bool)
	if len(in.Namespaces) == 0 {
		for _, ns := range roles.Names() {
			scope[ns] = true
		}
	} else {
		for _, ns := range in.Namespaces {
			scope[ns] = true
		}
	}

	onComplete := make(map[string]bool)
	for _, c := range in.Chains {
		if !c.Complete {
			continue
		}
		for _, id := range []string{c.RequirementID, c.TestCaseID} {
			if id != "" {
				onComplete[id] = true
			}
		}
	}

	documented := make(map[string]bool)
	for _, r := range in.Relationships {
		if r.Kind == KindMentions {
			continue
		}
		documented[r.FromID] = true
		documented[r.ToID] = true
	}

	var a Alignment
	total := 0
	for _, id := range SortedIDs(in.Identifiers) {
		ident := in.Identifiers[id]
		if !ident.Defined() || !scope[ident.Namespace] {
			continue
		}

		aligned := true
		if in.CountDefinitions {
			total++
			switch ident.Namespace {
			case roles.Feature:
				if documented[id] {
					a.DocumentedFeatures++
				} else {
					aligned = false
				}
			default:
				if onComplete[id] {
					a.CompleteChains++
				} else {
					aligned = false
				}
			}
		}

		if tally, ok := in.Segments[id]; ok && in.CountSegments {
			total += tally.Declared
			a.ResolvedArtifacts += tally.Resolved
			if tally.Resolved < tally.Declared {
				aligned = false
			}
		}

		a.Entities = append(a.Entities, EntityScore{
			ID:        id,
			Namespace: ident.Namespace,
			Status:    ident.Status,
			Aligned:   aligned,
		})
	}

	a.TotalDefinitions = total
	score := float64(a.CompleteChains+a.ResolvedArtifacts+a.DocumentedFeatures) / float64(max(1, total))
	a.Alignment = clamp01(score)
	a.Drift = clamp01(1 - a.Alignment)
	a.Level = LevelFor(a.Drift, t)
	return a
}

func clamp01(f float64) float64 {
	return math.Min(1, math.Max(0, f))
}

// QualityFindings reports test-case hygiene: pending (low), skipped (medium)
// and missing descriptions on any in-scope definition (low).
func QualityFindings(ids map[string]*Identifier, roles Roles, namespaces []string) []DriftEntry {
	scope := make(map[string]bool)
	for _, ns := range namespaces {
		scope[ns] = true
	}

	var out []DriftEntry
	for _, id := range SortedIDs(ids) {
		ident := ids[id]
		if !ident.Defined() || (len(scope) > 0 && !scope[ident.Namespace]) {
			continue
		}
		loc := ident.DefinitionLocation.String()

		if ident.Namespace == roles.Test {
			switch ident.Status {
			case StatusPending:
				out = append(out, DriftEntry{Kind: DriftQualityIssue, Severity: SeverityLow, EntityID: id,
					Message: fmt.Sprintf("%s is pending", id), Location: loc})
			case StatusSkipped:
				out = append(out, DriftEntry{Kind: DriftQualityIssue, Severity: SeverityMedium, EntityID: id,
					Message: fmt.Sprintf("%s is skipped", id), Location: loc})
			}
		}
		if ident.Description == "" {
			out = append(out, DriftEntry{Kind: DriftQualityIssue, Severity: SeverityLow, EntityID: id,
				Message: fmt.Sprintf("%s has no description", id), Location: loc})
		}
	}
	return out
}
