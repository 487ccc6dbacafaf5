// Package scan runs the traceability pipeline for one mode.
package scan

import (
	"fmt"
	"strings"

	"tracescan/internal/errors"
	"tracescan/internal/trace"
)

// Mode selects which pipeline stages run and which namespaces are scored.
type Mode string

const (
	ModeTCMapping    Mode = "tc-mapping"
	ModeFTMapping    Mode = "ft-mapping"
	ModeCodeCoverage Mode = "code-coverage"
	ModeFeatureImpl  Mode = "feature-impl"
	ModeTestQuality  Mode = "test-quality"
	ModeAll          Mode = "all"
)

var modeOrder = []Mode{ModeTCMapping, ModeFTMapping, ModeCodeCoverage, ModeFeatureImpl, ModeTestQuality, ModeAll}

var modeDescriptions = map[Mode]string{
	ModeTCMapping:    "feature to test-case links",
	ModeFTMapping:    "requirement to feature links",
	ModeCodeCoverage: "declared code locations resolve to real artifacts",
	ModeFeatureImpl:  "features are linked and implemented",
	ModeTestQuality:  "test cases are linked, located and healthy",
	ModeAll:          "every stage over every namespace",
}

// Modes returns all modes in display order.
func Modes() []Mode {
	return append([]Mode(nil), modeOrder...)
}

// Description is a one-line summary of what the mode checks.
func (m Mode) Description() string {
	return modeDescriptions[m]
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := modeDescriptions[m]; ok {
		return m, nil
	}
	names := make([]string, len(modeOrder))
	for i, mo := range modeOrder {
		names[i] = string(mo)
	}
	return "", errors.New(errors.UnknownMode,
		fmt.Sprintf("unknown mode %q (expected one of %s)", s, strings.Join(names, ", ")), nil)
}

// Plan is the stage selection and scope of one mode.
type Plan struct {
	Mode    Mode
	Link    bool
	Resolve bool
	Graph   bool
	Quality bool
	// LinkScope restricts relationships to these namespaces; nil means all.
	LinkScope []string
	// GraphScope restricts chain building; nil means all.
	GraphScope []string
	// ScoreScope selects the namespaces scored and reported.
	ScoreScope       []string
	CountDefinitions bool
	CountSegments    bool
}

// Stages lists the stages that do work under this plan.
func (p Plan) Stages() []State {
	stages := []State{StateExtracting}
	if p.Link {
		stages = append(stages, StateLinking)
	}
	if p.Resolve {
		stages = append(stages, StateResolving)
	}
	if p.Graph {
		stages = append(stages, StateGraphBuilding)
	}
	return append(stages, StateScoring, StateReporting)
}

// InScope reports whether namespace is scored under this plan.
func (p Plan) InScope(namespace string) bool {
	for _, ns := range p.ScoreScope {
		if ns == namespace {
			return true
		}
	}
	return false
}

// PlanFor maps a mode onto the configured namespace roles.
func PlanFor(m Mode, roles trace.Roles) Plan {
	all := roles.Names()
	reqFT := nonEmpty(roles.Requirement, roles.Feature)
	ftTC := nonEmpty(roles.Feature, roles.Test)

	switch m {
	case ModeTCMapping:
		return Plan{Mode: m, Link: true, Graph: true, LinkScope: ftTC, GraphScope: ftTC,
			ScoreScope: ftTC, CountDefinitions: true}
	case ModeFTMapping:
		return Plan{Mode: m, Link: true, Graph: true, LinkScope: reqFT, GraphScope: reqFT,
			ScoreScope: reqFT, CountDefinitions: true}
	case ModeCodeCoverage:
		return Plan{Mode: m, Resolve: true, ScoreScope: all, CountSegments: true}
	case ModeFeatureImpl:
		return Plan{Mode: m, Link: true, Resolve: true, Graph: true,
			ScoreScope: nonEmpty(roles.Feature), CountDefinitions: true, CountSegments: true}
	case ModeTestQuality:
		return Plan{Mode: m, Link: true, Resolve: true, Graph: true, Quality: true,
			ScoreScope: nonEmpty(roles.Test), CountDefinitions: true, CountSegments: true}
	default:
		return Plan{Mode: ModeAll, Link: true, Resolve: true, Graph: true, Quality: true,
			ScoreScope: all, CountDefinitions: true, CountSegments: true}
	}
}

func nonEmpty(names ...string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}
