package trace

import (
	"fmt"
	"log/slog"

	"tracescan/internal/config"
)

// Linkage is the output of the relationship linker.
type Linkage struct {
	Relationships []Relationship
	Annotations   []Annotation
	Entries       []DriftEntry
}

// Linker turns occurrences into relationship edges. Explicit phrases are
// data: an ordered list of (pattern, kind) evaluated against the text that
// precedes an occurrence on its line.
type Linker struct {
	phrases []config.LinkPhrase
	nesting []config.NestingRule
	roles   Roles
	allow   map[string]bool
	logger  *slog.Logger
}

// NewLinker creates a linker. When namespaces is non-empty only edges whose
// endpoints both belong to it are produced.
func NewLinker(cfg *config.Compiled, namespaces []string, logger *slog.Logger) *Linker {
	l := &Linker{
		phrases: cfg.LinkPhrases,
		nesting: cfg.NestingRules,
		roles:   RolesFrom(cfg),
		logger:  logger,
	}
	if len(namespaces) > 0 {
		l.allow = make(map[string]bool, len(namespaces))
		for _, ns := range namespaces {
			l.allow[ns] = true
		}
	}
	return l
}

type edgeKey struct {
	from, to string
	kind     Kind
}

type pairKey struct {
	from, to string
}

// Link resolves every occurrence. Explicit edges replace inferred edges
// for the same (from, to) pair.
func (l *Linker) Link(ext *Extraction) *Linkage {
	out := &Linkage{}
	var candidates []Relationship
	annotated := make(map[pairKey]bool)

	for _, ref := range ext.References {
		target := ext.Identifiers[ref.ID]
		if !target.Defined() {
			continue
		}

		scopes := ref.Enclosing
		if ref.LineDeclares != nil && ref.LineDeclares.ID != ref.ID {
			scopes = append(append([]ScopeRef(nil), ref.Enclosing...), *ref.LineDeclares)
		}

		if ref.Declares {
			if rel, ok := l.inferNesting(ref, scopes, ext); ok {
				candidates = append(candidates, rel)
			}
			continue
		}

		var subject *ScopeRef
		if len(scopes) > 0 {
			s := scopes[len(scopes)-1]
			subject = &s
		}
		if subject != nil && !ext.Identifiers[subject.ID].Defined() {
			subject = nil
		}

		if kind, ok := l.matchPhrase(ref.Prefix); ok {
			if subject == nil {
				key := pairKey{from: ref.ID, to: ref.Location.Path}
				if !ref.Markdown && kind != KindMentions && l.allowed(ref.Namespace) && !annotated[key] {
					annotated[key] = true
					out.Annotations = append(out.Annotations, Annotation{ID: ref.ID, Kind: kind, Location: ref.Location})
				}
				continue
			}
			if rel, ok := l.edge(*subject, ref, kind, ConfidenceExplicit); ok {
				candidates = append(candidates, rel)
			}
			continue
		}

		if rel, ok := l.inferNesting(ref, scopes, ext); ok {
			candidates = append(candidates, rel)
			continue
		}

		if subject != nil {
			if rel, ok := l.edge(*subject, ref, KindMentions, ConfidenceInferred); ok {
				candidates = append(candidates, rel)
			}
		}
	}

	out.Relationships = dedupeRelationships(candidates)
	out.Entries = brokenLinks(ext)

	l.logger.Debug("Linking finished",
		"relationships", len(out.Relationships),
		"annotations", len(out.Annotations),
		"brokenLinks", len(out.Entries))
	return out
}

// matchPhrase returns the kind of the phrase whose match ends closest to the
// end of prefix. Ties go to the earlier phrase.
func (l *Linker) matchPhrase(prefix string) (Kind, bool) {
	bestEnd := -1
	var best Kind
	for _, p := range l.phrases {
		locs := p.Pattern.FindAllStringIndex(prefix, -1)
		if len(locs) == 0 {
			continue
		}
		if end := locs[len(locs)-1][1]; end > bestEnd {
			bestEnd = end
			best = Kind(p.Kind)
		}
	}
	return best, bestEnd >= 0
}

// inferNesting applies the first nesting rule whose parent namespace encloses ref.
func (l *Linker) inferNesting(ref Reference, scopes []ScopeRef, ext *Extraction) (Relationship, bool) {
	for _, rule := range l.nesting {
		if rule.Child != ref.Namespace {
			continue
		}
		for i := len(scopes) - 1; i >= 0; i-- {
			parent := scopes[i]
			if parent.Namespace != rule.Parent || parent.ID == ref.ID {
				continue
			}
			if !ext.Identifiers[parent.ID].Defined() {
				continue
			}
			return l.edge(ScopeRef{ID: ref.ID, Namespace: ref.Namespace, Line: ref.Location.Line}, Reference{
				ID:        parent.ID,
				Namespace: parent.Namespace,
				Location:  ref.Location,
			}, Kind(rule.Kind), ConfidenceInferred)
		}
	}
	return Relationship{}, false
}

// edge builds subject -> ref, flipping oriented kinds so they always point
// from the more specific namespace to the more general one.
func (l *Linker) edge(subject ScopeRef, ref Reference, kind Kind, conf Confidence) (Relationship, bool) {
	from, fromNS := subject.ID, subject.Namespace
	to, toNS := ref.ID, ref.Namespace
	if from == to {
		return Relationship{}, false
	}
	if !l.allowed(fromNS) || !l.allowed(toNS) {
		return Relationship{}, false
	}
	if kind.Oriented() && l.roles.Rank(fromNS) < l.roles.Rank(toNS) {
		from, to = to, from
	}
	return Relationship{
		FromID:         from,
		ToID:           to,
		Kind:           kind,
		Confidence:     conf,
		SourceLocation: ref.Location,
	}, true
}

func (l *Linker) allowed(ns string) bool {
	return l.allow == nil || l.allow[ns]
}

// dedupeRelationships keeps the first edge per (from, to, kind) and drops
// inferred edges for pairs that have an explicit edge.
func dedupeRelationships(candidates []Relationship) []Relationship {
	explicit := make(map[pairKey]bool)
	for _, r := range candidates {
		if r.Confidence == ConfidenceExplicit {
			explicit[pairKey{r.FromID, r.ToID}] = true
		}
	}

	seen := make(map[edgeKey]bool)
	out := make([]Relationship, 0, len(candidates))
	for _, r := range candidates {
		if r.Confidence == ConfidenceInferred && explicit[pairKey{r.FromID, r.ToID}] {
			continue
		}
		k := edgeKey{r.FromID, r.ToID, r.Kind}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	SortRelationships(out)
	return out
}

// brokenLinks emits one entry per referenced id that has no definition.
func brokenLinks(ext *Extraction) []DriftEntry {
	var out []DriftEntry
	for _, id := range SortedIDs(ext.Identifiers) {
		ident := ext.Identifiers[id]
		if ident.Defined() || len(ident.ReferenceLocations) == 0 {
			continue
		}
		first := ident.ReferenceLocations[0]
		msg := fmt.Sprintf("%s is referenced but never defined", id)
		if n := len(ident.ReferenceLocations); n > 1 {
			msg = fmt.Sprintf("%s is referenced %d times but never defined", id, n)
		}
		out = append(out, DriftEntry{
			Kind:     DriftBrokenLink,
			Severity: SeverityHigh,
			EntityID: id,
			Message:  msg,
			Location: first.String(),
		})
	}
	return out
}
