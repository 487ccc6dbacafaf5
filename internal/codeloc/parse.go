// Package codeloc resolves "Code Location" documentation fields to files and
// packages in the repository.
package codeloc

import (
	"regexp"
	"strings"
)

// Class separates code-looking segments from placeholders and prose.
type Class string

const (
	ClassCode    Class = "code"
	ClassNonCode Class = "non-code"
)

// codeTarget is the accepted grammar: module.path[Symbol], path/to/file[Symbol]
// or path/to/file.ext.
var codeTarget = regexp.MustCompile(`^([A-Za-z0-9_@.][A-Za-z0-9_./@-]*?)/?(?:\[([A-Za-z_][A-Za-z0-9_.:]*)\])?$`)

// SplitSegments splits a raw field on commas that are not inside [...].
func SplitSegments(raw string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range raw {
		switch r {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out = appendSegment(out, raw[start:i])
				start = i + 1
			}
		}
	}
	return appendSegment(out, raw[start:])
}

func appendSegment(out []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	return append(out, s)
}

// Classify parses one segment. Values listed in nonCode (compared
// case-insensitively) and anything outside the grammar are non-code.
func Classify(segment string, nonCode map[string]bool) (target, symbol string, class Class) {
	s := strings.TrimSpace(strings.Trim(segment, "`'\""))
	s = strings.TrimRight(s, ".;")
	if s == "" || nonCode[strings.ToLower(s)] {
		return "", "", ClassNonCode
	}
	m := codeTarget.FindStringSubmatch(s)
	if m == nil {
		return "", "", ClassNonCode
	}
	target = strings.TrimPrefix(m[1], "./")
	if target == "" || strings.Trim(target, ".") == "" {
		return "", "", ClassNonCode
	}
	// A bare capitalised word ("Pending", "Planned") is prose, not a module.
	if m[2] == "" && !strings.ContainsAny(target, "/.") && strings.ToLower(target) != target {
		return "", "", ClassNonCode
	}
	return target, m[2], ClassCode
}
