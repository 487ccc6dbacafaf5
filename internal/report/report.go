// Package report assembles and encodes drift reports.
package report

import (
	"time"

	"tracescan/internal/codeloc"
	"tracescan/internal/trace"
)

// Status tells consumers whether the report is a finished scan.
type Status string

const (
	StatusComplete   Status = "complete"
	StatusSuperseded Status = "superseded"
)

// Terms are the alignment formula inputs.
type Terms struct {
	CompleteChains     int `json:"completeChains"`
	ResolvedArtifacts  int `json:"resolvedArtifacts"`
	DocumentedFeatures int `json:"documentedFeatures"`
	TotalDefinitions   int `json:"totalDefinitions"`
}

// Summary holds aggregate counts.
type Summary struct {
	Identifiers    int            `json:"identifiers"`
	Definitions    int            `json:"definitions"`
	Relationships  int            `json:"relationships"`
	Chains         int            `json:"chains"`
	CompleteChains int            `json:"completeChains"`
	Entries        int            `json:"entries"`
	ByKind         map[string]int `json:"byKind"`
	BySeverity     map[string]int `json:"bySeverity"`
	ByNamespace    map[string]int `json:"byNamespace"`
	Terms          Terms          `json:"terms"`
}

// Report is the result of one scan.
type Report struct {
	Mode             string               `json:"mode"`
	GeneratedAt      time.Time            `json:"generatedAt"`
	Status           Status               `json:"status"`
	AlignmentPercent float64              `json:"alignmentPercent"`
	DriftLevel       trace.DriftLevel     `json:"driftLevel"`
	Summary          Summary              `json:"summary"`
	Project          codeloc.Project      `json:"project"`
	Entries          []trace.DriftEntry   `json:"entries"`
	Chains           []trace.Chain        `json:"chains"`
	Entities         []trace.EntityScore  `json:"entities"`
	CodeLocations    []codeloc.Pointer    `json:"codeLocations"`
	Relationships    []trace.Relationship `json:"relationships"`
}

// Input is everything Build needs from a finished pipeline.
type Input struct {
	Mode          string
	GeneratedAt   time.Time
	Identifiers   map[string]*trace.Identifier
	Relationships []trace.Relationship
	Chains        []trace.Chain
	Entries       []trace.DriftEntry
	Alignment     trace.Alignment
	Pointers      []codeloc.Pointer
	Project       codeloc.Project
}

// Build assembles a complete report. Entries and chains are sorted here so
// every encoding sees the same order.
func Build(in Input) *Report {
	entries := append([]trace.DriftEntry{}, in.Entries...)
	trace.SortEntries(entries)
	chains := append([]trace.Chain{}, in.Chains...)
	trace.SortChains(chains)
	rels := append([]trace.Relationship{}, in.Relationships...)
	trace.SortRelationships(rels)

	r := &Report{
		Mode:             in.Mode,
		GeneratedAt:      in.GeneratedAt.UTC(),
		Status:           StatusComplete,
		AlignmentPercent: RoundFloat(in.Alignment.Percent()),
		DriftLevel:       in.Alignment.Level,
		Project:          in.Project,
		Entries:          entries,
		Chains:           chains,
		Entities:         append([]trace.EntityScore{}, in.Alignment.Entities...),
		CodeLocations:    append([]codeloc.Pointer{}, in.Pointers...),
		Relationships:    rels,
	}
	if r.Project.SourceDirs == nil {
		r.Project.SourceDirs = []string{}
	}

	s := Summary{
		Identifiers:   len(in.Identifiers),
		Relationships: len(rels),
		Chains:        len(chains),
		Entries:       len(entries),
		ByKind:        map[string]int{},
		BySeverity:    map[string]int{},
		ByNamespace:   map[string]int{},
		Terms: Terms{
			CompleteChains:     in.Alignment.CompleteChains,
			ResolvedArtifacts:  in.Alignment.ResolvedArtifacts,
			DocumentedFeatures: in.Alignment.DocumentedFeatures,
			TotalDefinitions:   in.Alignment.TotalDefinitions,
		},
	}
	for _, ident := range in.Identifiers {
		if ident.Defined() {
			s.Definitions++
		}
	}
	for _, c := range chains {
		if c.Complete {
			s.CompleteChains++
		}
	}
	for _, e := range entries {
		s.ByKind[string(e.Kind)]++
		s.BySeverity[string(e.Severity)]++
		if ident, ok := in.Identifiers[e.EntityID]; ok {
			s.ByNamespace[ident.Namespace]++
		}
	}
	r.Summary = s
	return r
}

// Superseded is the placeholder returned for a cancelled scan. It carries no
// partial results.
func Superseded(mode string, at time.Time) *Report {
	return &Report{
		Mode:        mode,
		GeneratedAt: at.UTC(),
		Status:      StatusSuperseded,
		DriftLevel:  trace.DriftNone,
		Summary: Summary{
			ByKind:      map[string]int{},
			BySeverity:  map[string]int{},
			ByNamespace: map[string]int{},
		},
		Project:       codeloc.Project{SourceDirs: []string{}},
		Entries:       []trace.DriftEntry{},
		Chains:        []trace.Chain{},
		Entities:      []trace.EntityScore{},
		CodeLocations: []codeloc.Pointer{},
		Relationships: []trace.Relationship{},
	}
}

// Counts returns the number of entries per severity, most severe first.
func (r *Report) Counts() []SeverityCount {
	order := []trace.Severity{trace.SeverityCritical, trace.SeverityHigh, trace.SeverityMedium, trace.SeverityLow}
	out := make([]SeverityCount, 0, len(order))
	for _, sev := range order {
		out = append(out, SeverityCount{Severity: sev, Count: r.Summary.BySeverity[string(sev)]})
	}
	return out
}

// SeverityCount pairs a severity with its entry count.
type SeverityCount struct {
	Severity trace.Severity
	Count    int
}
