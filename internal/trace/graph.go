package trace

import (
	"fmt"
	"sort"
	"strings"
)

// ArtifactInfo summarises the code locations declared by one identifier.
type ArtifactInfo struct {
	// Resolved lists resolved artifacts in declaration order.
	Resolved []string
	// Declared counts code-looking segments (non-code values excluded).
	Declared int
}

// GraphInput is everything the graph builder consumes.
type GraphInput struct {
	Identifiers   map[string]*Identifier
	Relationships []Relationship
	Annotations   []Annotation
	Artifacts     map[string]ArtifactInfo
	// ResolveRan is false when code locations were not resolved for this
	// scan; artifact hops are then never required.
	ResolveRan bool
	// Namespaces taking part in chains; empty means all.
	Namespaces []string
}

// Graph holds the traceability chains and structural findings.
type Graph struct {
	Chains  []Chain
	Entries []DriftEntry
}

type graphBuilder struct {
	in        GraphInput
	roles     Roles
	scope     map[string]bool
	adjacent  map[string]map[string][]Kind
	outgoing  map[string][]string
	annotated map[string]string
	// connected holds every id touching any edge, mentions included.
	connected map[string]bool
}

// BuildGraph assembles chains, orphans, missing links and cycles.
func BuildGraph(in GraphInput, roles Roles) *Graph {
	b := &graphBuilder{
		in:        in,
		roles:     roles,
		scope:     make(map[string]bool),
		adjacent:  make(map[string]map[string][]Kind),
		outgoing:  make(map[string][]string),
		annotated: make(map[string]string),
		connected: make(map[string]bool),
	}
	if len(in.Namespaces) == 0 {
		for _, ns := range roles.Names() {
			b.scope[ns] = true
		}
	} else {
		for _, ns := range in.Namespaces {
			b.scope[ns] = true
		}
	}

	for _, r := range in.Relationships {
		b.connected[r.FromID] = true
		b.connected[r.ToID] = true
		if r.Kind == KindMentions {
			continue
		}
		b.link(r.FromID, r.ToID, r.Kind)
		b.link(r.ToID, r.FromID, r.Kind)
		b.outgoing[r.FromID] = append(b.outgoing[r.FromID], r.ToID)
	}
	for _, a := range in.Annotations {
		if _, ok := b.annotated[a.ID]; !ok {
			b.annotated[a.ID] = a.Location.Path
		}
	}

	g := &Graph{}
	g.Chains = b.chains()
	g.Entries = append(g.Entries, b.structuralFindings()...)
	g.Entries = append(g.Entries, b.cycles()...)
	SortChains(g.Chains)
	return g
}

func (b *graphBuilder) link(a, c string, k Kind) {
	m := b.adjacent[a]
	if m == nil {
		m = make(map[string][]Kind)
		b.adjacent[a] = m
	}
	m[c] = append(m[c], k)
}

// defined returns the canonical definitions of a namespace in id order.
func (b *graphBuilder) defined(ns string) []string {
	if ns == "" || !b.scope[ns] {
		return nil
	}
	var out []string
	for _, id := range SortedIDs(b.in.Identifiers) {
		ident := b.in.Identifiers[id]
		if ident.Namespace == ns && ident.Defined() {
			out = append(out, id)
		}
	}
	return out
}

// neighbours returns linked ids in namespace ns joined by any of kinds.
func (b *graphBuilder) neighbours(id, ns string, kinds ...Kind) []string {
	var out []string
	for other, ks := range b.adjacent[id] {
		ident := b.in.Identifiers[other]
		if ident == nil || ident.Namespace != ns || !ident.Defined() {
			continue
		}
		if hasKind(ks, kinds) {
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out
}

func hasKind(have, want []Kind) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func (b *graphBuilder) featuresOf(req string) []string {
	return b.neighbours(req, b.roles.Feature, KindImplements, KindSatisfies, KindLinksTo)
}

func (b *graphBuilder) testsOf(ft string) []string {
	return b.neighbours(ft, b.roles.Test, KindTests, KindLinksTo)
}

func (b *graphBuilder) chains() []Chain {
	var chains []Chain
	reached := make(map[string]bool)
	features := b.defined(b.roles.Feature)

	for _, req := range b.defined(b.roles.Requirement) {
		fts := b.featuresOf(req)
		if len(fts) == 0 || len(features) == 0 {
			chains = append(chains, Chain{RequirementID: req, BrokenAt: BrokenNoFeature, Score: 0})
			continue
		}
		for _, ft := range fts {
			reached[ft] = true
			chains = append(chains, b.expandFeature(req, ft)...)
		}
	}
	for _, ft := range features {
		if !reached[ft] {
			chains = append(chains, b.expandFeature("", ft)...)
		}
	}
	return chains
}

// expandFeature builds the chains below one feature. A requirement hop, when
// present, is always resolved here.
func (b *graphBuilder) expandFeature(req, ft string) []Chain {
	resolved, required := 0, 0
	if req != "" {
		resolved, required = 1, 1
	}

	if b.roles.Test == "" || !b.scope[b.roles.Test] {
		return []Chain{{RequirementID: req, FeatureID: ft, Complete: true, Score: 1}}
	}

	tcs := b.testsOf(ft)
	if len(tcs) == 0 {
		return []Chain{{
			RequirementID: req,
			FeatureID:     ft,
			BrokenAt:      BrokenNoTestCase,
			Score:         ratio(resolved, required+1),
		}}
	}

	out := make([]Chain, 0, len(tcs))
	for _, tc := range tcs {
		c := Chain{RequirementID: req, FeatureID: ft, TestCaseID: tc}
		hopsOK, hops := resolved+1, required+1
		artifact, needed, ok := b.artifactFor(tc)
		if needed {
			hops++
			if ok {
				hopsOK++
			}
		}
		c.ArtifactID = artifact
		c.Complete = !needed || ok
		if !c.Complete {
			c.BrokenAt = BrokenNoArtifact
		}
		c.Score = ratio(hopsOK, hops)
		out = append(out, c)
	}
	return out
}

// artifactFor returns the test case's artifact: its own resolved code
// location, else an annotated file. The hop is only required when the test
// case declared a location or carries an annotation.
func (b *graphBuilder) artifactFor(tc string) (artifact string, needed, ok bool) {
	info := b.in.Artifacts[tc]
	if len(info.Resolved) > 0 {
		return info.Resolved[0], true, true
	}
	if path, found := b.annotated[tc]; found {
		return path, true, true
	}
	if b.in.ResolveRan && info.Declared > 0 {
		return "", true, false
	}
	return "", false, false
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func (b *graphBuilder) structuralFindings() []DriftEntry {
	var out []DriftEntry
	reqs := b.defined(b.roles.Requirement)
	hasFeatures := b.roles.Feature != "" && b.scope[b.roles.Feature]
	hasTests := b.roles.Test != "" && b.scope[b.roles.Test]

	for _, req := range reqs {
		if hasFeatures && len(b.featuresOf(req)) == 0 {
			out = append(out, b.entry(DriftMissingLink, SeverityHigh, req,
				fmt.Sprintf("%s has no implementing %s", req, b.roles.Feature)))
		}
	}

	for _, id := range SortedIDs(b.in.Identifiers) {
		ident := b.in.Identifiers[id]
		if !ident.Defined() || !b.scope[ident.Namespace] || ident.Namespace == b.roles.Requirement {
			continue
		}
		if !b.connected[id] {
			out = append(out, b.entry(DriftOrphan, SeverityHigh, id,
				fmt.Sprintf("%s has no relationships to any other identifier", id)))
			continue
		}

		switch ident.Namespace {
		case b.roles.Feature:
			if len(reqs) > 0 && len(b.neighbours(id, b.roles.Requirement, KindImplements, KindSatisfies, KindLinksTo)) == 0 {
				out = append(out, b.entry(DriftMissingLink, SeverityHigh, id,
					fmt.Sprintf("%s is not linked to any %s", id, b.roles.Requirement)))
			}
			if hasTests && len(b.testsOf(id)) == 0 {
				out = append(out, b.entry(DriftMissingLink, SeverityCritical, id,
					fmt.Sprintf("%s has no %s", id, b.roles.Test)))
			}
		case b.roles.Test:
			if hasFeatures && len(b.neighbours(id, b.roles.Feature, KindTests, KindLinksTo)) == 0 {
				out = append(out, b.entry(DriftMissingLink, SeverityHigh, id,
					fmt.Sprintf("%s is not linked to any %s", id, b.roles.Feature)))
			}
		}
	}
	return out
}

func (b *graphBuilder) entry(kind DriftKind, sev Severity, id, msg string) DriftEntry {
	e := DriftEntry{Kind: kind, Severity: sev, EntityID: id, Message: msg}
	if ident := b.in.Identifiers[id]; ident.Defined() {
		e.Location = ident.DefinitionLocation.String()
	}
	return e
}

// cycles runs a coloured DFS over directed non-mention edges. A back edge to
// a node on the current path records the cycle and that branch stops there.
func (b *graphBuilder) cycles() []DriftEntry {
	const (
		white = iota
		grey
		black
	)
	colour := make(map[string]int)
	var path []string
	seen := make(map[string]bool)
	var out []DriftEntry

	nodes := make([]string, 0, len(b.outgoing))
	for id := range b.outgoing {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)

	var visit func(id string)
	visit = func(id string) {
		colour[id] = grey
		path = append(path, id)

		next := append([]string(nil), b.outgoing[id]...)
		sort.Strings(next)
		for _, n := range next {
			switch colour[n] {
			case grey:
				start := len(path) - 1
				for path[start] != n {
					start--
				}
				cycle := canonicalCycle(path[start:])
				key := strings.Join(cycle, ">")
				if !seen[key] {
					seen[key] = true
					out = append(out, b.entry(DriftCycle, SeverityMedium, cycle[0],
						"cycle detected: "+strings.Join(append(cycle, cycle[0]), " -> ")))
				}
			case white:
				visit(n)
			}
		}

		path = path[:len(path)-1]
		colour[id] = black
	}

	for _, id := range nodes {
		if colour[id] == white {
			visit(id)
		}
	}
	return out
}

// canonicalCycle rotates a cycle so it starts at its smallest id.
func canonicalCycle(c []string) []string {
	lo := 0
	for i, id := range c {
		if id < c[lo] {
			lo = i
		}
	}
	out := make([]string, 0, len(c))
	out = append(out, c[lo:]...)
	return append(out, c[:lo]...)
}
