package trace

import "tracescan/internal/config"

// Roles maps the configured namespaces onto the requirement, feature and
// test-case tiers. Namespaces are ranked in configuration order, so the first
// is the most general and later ones are more specific.
type Roles struct {
	Requirement string
	Feature     string
	Test        string

	rank map[string]int
}

// RolesFrom derives roles from the compiled namespace order.
func RolesFrom(cfg *config.Compiled) Roles {
	names := make([]string, len(cfg.Namespaces))
	for i, ns := range cfg.Namespaces {
		names[i] = ns.Name
	}
	return NewRoles(names...)
}

// NewRoles ranks namespaces in the given order. The first three take the
// requirement, feature and test-case roles.
func NewRoles(names ...string) Roles {
	r := Roles{rank: make(map[string]int, len(names))}
	for i, name := range names {
		r.rank[name] = i
		switch i {
		case 0:
			r.Requirement = name
		case 1:
			r.Feature = name
		case 2:
			r.Test = name
		}
	}
	return r
}

// Rank returns the namespace's position; -1 when unknown.
func (r Roles) Rank(namespace string) int {
	if i, ok := r.rank[namespace]; ok {
		return i
	}
	return -1
}

// Names returns the namespaces in rank order.
func (r Roles) Names() []string {
	out := make([]string, len(r.rank))
	for name, i := range r.rank {
		out[i] = name
	}
	return out
}
