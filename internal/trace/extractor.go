package trace

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"tracescan/internal/config"
	"tracescan/internal/corpus"
)

var (
	fenceStartPattern = regexp.MustCompile("^\\s*(```|~~~)")
	headingPattern    = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	listItemPattern   = regexp.MustCompile(`^(\s*)(?:[-*+]|\d+[.)])\s+(.*)$`)
	checkboxPattern   = regexp.MustCompile(`^\[([ xX~-])\]\s*`)
)

// Status glyphs, longest first so variation selectors are consumed.
var statusGlyphs = []struct {
	glyph  string
	status Status
}{
	{"⏭️", StatusSkipped},
	{"⏭", StatusSkipped},
	{"✅", StatusComplete},
	{"🚧", StatusInProgress},
}

// Extraction is the output of the identifier extractor.
type Extraction struct {
	Identifiers map[string]*Identifier
	// References holds every occurrence in corpus order (path, then line, then column).
	References []Reference
	Entries    []DriftEntry
}

// Extractor finds identifier occurrences and classifies definitions.
type Extractor struct {
	cfg    *config.Compiled
	logger *slog.Logger
}

// NewExtractor creates an extractor for the compiled configuration.
func NewExtractor(cfg *config.Compiled, logger *slog.Logger) *Extractor {
	return &Extractor{cfg: cfg, logger: logger}
}

type declaration struct {
	ref         int
	status      Status
	description string
}

type ownedField struct {
	owner ScopeRef
	field CodeField
}

type fileResult struct {
	refs   []Reference
	decls  []declaration
	fields []ownedField
}

// Extract scans every corpus file. Files are processed in parallel and merged
// in corpus order, so the first definition of an id in path order is canonical.
func (e *Extractor) Extract(ctx context.Context, snap *corpus.Snapshot) (*Extraction, error) {
	results := make([]fileResult, len(snap.Files))
	p := pool.New().WithMaxGoroutines(e.cfg.Workers)
	for i, f := range snap.Files {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			results[i] = e.scanFile(f)
		})
	}
	p.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Extraction{Identifiers: make(map[string]*Identifier)}
	var fields []ownedField
	for _, res := range results {
		declIdx := make(map[int]declaration, len(res.decls))
		for _, d := range res.decls {
			declIdx[d.ref] = d
		}
		for i, ref := range res.refs {
			ident := out.Identifiers[ref.ID]
			if ident == nil {
				ident = &Identifier{ID: ref.ID, Namespace: ref.Namespace, Status: StatusUnknown, ReferenceLocations: []Location{}}
				out.Identifiers[ref.ID] = ident
			}
			if !ref.Declares {
				ident.ReferenceLocations = append(ident.ReferenceLocations, ref.Location)
				continue
			}
			if ident.DefinitionLocation != nil {
				out.Entries = append(out.Entries, DriftEntry{
					Kind:     DriftDuplicateDefinition,
					Severity: SeverityHigh,
					EntityID: ref.ID,
					Message:  fmt.Sprintf("%s is defined again at %s; canonical definition is %s", ref.ID, ref.Location, ident.DefinitionLocation),
					Location: ref.Location.String(),
				})
				continue
			}
			loc := ref.Location
			ident.DefinitionLocation = &loc
			d := declIdx[i]
			ident.Status = d.status
			ident.Description = d.description
		}
		out.References = append(out.References, res.refs...)
		fields = append(fields, res.fields...)
	}

	for _, of := range fields {
		ident := out.Identifiers[of.owner.ID]
		if ident == nil || ident.DefinitionLocation == nil {
			continue
		}
		if ident.DefinitionLocation.Path != of.field.Location.Path || ident.DefinitionLocation.Line != of.owner.Line {
			// field belongs to a duplicate definition
			continue
		}
		ident.CodeLocations = append(ident.CodeLocations, of.field)
	}

	e.logger.Debug("Extraction finished",
		"identifiers", len(out.Identifiers),
		"occurrences", len(out.References),
		"duplicates", len(out.Entries))
	return out, nil
}

type scopeNode struct {
	ref   *ScopeRef
	depth int
}

func (e *Extractor) scanFile(f corpus.File) fileResult {
	var res fileResult
	markdown := f.IsMarkdown()

	var defNamespaces []config.Namespace
	if markdown {
		for _, ns := range e.cfg.Namespaces {
			if ns.IsDefinitionFile(f.Path) {
				defNamespaces = append(defNamespaces, ns)
			}
		}
	}

	var headings, lists []scopeNode
	inFence := false
	fenceDelimiter := ""

	lines := strings.Split(f.Text, "\n")
	for idx, line := range lines {
		lineNum := idx + 1

		if markdown {
			if m := fenceStartPattern.FindStringSubmatch(line); m != nil {
				if !inFence {
					inFence, fenceDelimiter = true, m[1]
				} else if m[1] == fenceDelimiter && strings.TrimSpace(line) == fenceDelimiter {
					inFence, fenceDelimiter = false, ""
				}
				continue
			}
			if inFence {
				continue
			}
		}

		var decl *ScopeRef
		var declOffset int
		var declStatus Status
		var declDesc string
		var enclosing []ScopeRef

		if markdown {
			if m := headingPattern.FindStringSubmatchIndex(line); m != nil {
				level := m[3] - m[2]
				headings = popScopes(headings, level)
				lists = nil
				enclosing = collectScopes(headings, lists)
				decl, declOffset, declStatus, declDesc = detectDeclaration(line, m[4], "", defNamespaces, lineNum)
				headings = append(headings, scopeNode{ref: decl, depth: level})
			} else if m := listItemPattern.FindStringSubmatchIndex(line); m != nil {
				indent := indentWidth(line[m[2]:m[3]])
				lists = popScopes(lists, indent)
				enclosing = collectScopes(headings, lists)
				start := m[4]
				box := ""
				if cb := checkboxPattern.FindStringSubmatch(line[start:]); cb != nil {
					box = cb[1]
					start += len(cb[0])
				}
				decl, declOffset, declStatus, declDesc = detectDeclaration(line, start, box, defNamespaces, lineNum)
				lists = append(lists, scopeNode{ref: decl, depth: indent})
			} else {
				if strings.TrimSpace(line) != "" {
					lists = popScopes(lists, indentWidth(line[:len(line)-len(strings.TrimLeft(line, " \t"))]))
				}
				enclosing = collectScopes(headings, lists)
			}

			if e.cfg.CodeLocation.LabelPattern != nil {
				if m := e.cfg.CodeLocation.LabelPattern.FindStringSubmatch(line); m != nil && len(enclosing) > 0 {
					res.fields = append(res.fields, ownedField{
						owner: enclosing[len(enclosing)-1],
						field: CodeField{
							Raw:      strings.TrimSpace(strings.ReplaceAll(m[1], "`", "")),
							Location: Location{Path: f.Path, Line: lineNum},
						},
					})
				}
			}
		}

		var matches []Reference
		seen := make(map[int]bool)
		for _, ns := range e.cfg.Namespaces {
			for _, loc := range ns.Pattern.FindAllStringIndex(line, -1) {
				if seen[loc[0]] {
					continue
				}
				seen[loc[0]] = true
				matches = append(matches, Reference{
					ID:           line[loc[0]:loc[1]],
					Namespace:    ns.Name,
					Location:     Location{Path: f.Path, Line: lineNum},
					Column:       loc[0] + 1,
					Prefix:       line[:loc[0]],
					Markdown:     markdown,
					LineDeclares: decl,
					Enclosing:    enclosing,
				})
			}
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].Column < matches[j].Column })

		for _, ref := range matches {
			if decl != nil && ref.ID == decl.ID && ref.Column-1 == declOffset {
				ref.Declares = true
				res.decls = append(res.decls, declaration{
					ref:         len(res.refs),
					status:      declStatus,
					description: declDesc,
				})
			}
			res.refs = append(res.refs, ref)
		}
	}

	return res
}

// detectDeclaration checks whether the text starting at offset declares an id
// and returns the id's byte offset in line. box is the list checkbox content, if any.
func detectDeclaration(line string, offset int, box string, namespaces []config.Namespace, lineNum int) (*ScopeRef, int, Status, string) {
	if len(namespaces) == 0 {
		return nil, 0, "", ""
	}

	s := line[offset:]
	glyphStatus := StatusUnknown
	for {
		trimmed := strings.TrimLeft(s, " \t")
		matched := false
		for _, g := range statusGlyphs {
			if strings.HasPrefix(trimmed, g.glyph) {
				glyphStatus = g.status
				trimmed = trimmed[len(g.glyph):]
				matched = true
				break
			}
		}
		s = trimmed
		if !matched {
			break
		}
	}

	struck := false
	for {
		switch {
		case strings.HasPrefix(s, "~~"):
			struck = true
			s = s[2:]
			continue
		case strings.HasPrefix(s, "**"), strings.HasPrefix(s, "__"):
			s = s[2:]
			continue
		}
		break
	}

	for _, ns := range namespaces {
		loc := ns.Pattern.FindStringIndex(s)
		if loc == nil || loc[0] != 0 {
			continue
		}
		id := s[:loc[1]]
		after := s[loc[1]:]
		if strings.HasPrefix(strings.TrimLeft(after, "*_"), "~~") {
			struck = true
		}

		status := StatusUnknown
		switch box {
		case "x", "X":
			status = StatusComplete
		case " ":
			status = StatusPending
		case "~":
			status = StatusInProgress
		case "-":
			status = StatusSkipped
		default:
			status = glyphStatus
			if status == StatusUnknown {
				for _, g := range statusGlyphs {
					if strings.Contains(after, g.glyph) {
						status = g.status
						break
					}
				}
			}
		}
		if struck {
			status = StatusSkipped
		}

		return &ScopeRef{ID: id, Namespace: ns.Name, Line: lineNum}, len(line) - len(s), status, cleanDescription(after)
	}
	return nil, 0, "", ""
}

// cleanDescription strips markers and separators around a declaration's title.
func cleanDescription(s string) string {
	for _, g := range statusGlyphs {
		s = strings.ReplaceAll(s, g.glyph, "")
	}
	s = strings.NewReplacer("**", "", "__", "", "~~", "").Replace(s)
	s = strings.TrimLeft(s, " \t-:–—|")
	return strings.TrimSpace(s)
}

func indentWidth(ws string) int {
	n := 0
	for _, r := range ws {
		if r == '\t' {
			n += 4
		} else {
			n++
		}
	}
	return n
}

// popScopes drops scopes at depth >= d.
func popScopes(stack []scopeNode, d int) []scopeNode {
	for len(stack) > 0 && stack[len(stack)-1].depth >= d {
		stack = stack[:len(stack)-1]
	}
	return stack
}

// collectScopes returns the declared scopes, outermost first.
func collectScopes(headings, lists []scopeNode) []ScopeRef {
	var out []ScopeRef
	for _, s := range headings {
		if s.ref != nil {
			out = append(out, *s.ref)
		}
	}
	for _, s := range lists {
		if s.ref != nil {
			out = append(out, *s.ref)
		}
	}
	return out
}
