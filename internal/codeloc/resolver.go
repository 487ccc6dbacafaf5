package codeloc

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"tracescan/internal/config"
	"tracescan/internal/trace"
)

// Strategy names, in their default order.
const (
	StrategyManifest      = "manifest"
	StrategyLiteral       = "literal"
	StrategyFlatModule    = "flat-module"
	StrategyNestedPackage = "nested-package"
	StrategyPackageInit   = "package-init"
)

// Segment is one comma-separated part of a Code Location field.
type Segment struct {
	Raw          string   `json:"raw"`
	Class        Class    `json:"class"`
	Target       string   `json:"target,omitempty"`
	Symbol       string   `json:"symbol,omitempty"`
	Artifact     string   `json:"artifact,omitempty"`
	Strategy     string   `json:"strategy,omitempty"`
	Ambiguous    bool     `json:"ambiguous"`
	Alternatives []string `json:"alternatives,omitempty"`
	SymbolFound  *bool    `json:"symbolFound,omitempty"`
}

// Resolved reports whether a code-looking segment found an artifact.
func (s Segment) Resolved() bool {
	return s.Class == ClassCode && s.Artifact != ""
}

// Pointer is one Code Location field owned by a definition.
type Pointer struct {
	Owner            string         `json:"owner"`
	Namespace        string         `json:"namespace"`
	RawField         string         `json:"rawField"`
	Location         trace.Location `json:"location"`
	Segments         []Segment      `json:"segments"`
	ResolvedArtifact string         `json:"resolvedArtifact,omitempty"`
	StrategyUsed     string         `json:"strategyUsed,omitempty"`
	Ambiguous        bool           `json:"ambiguous"`
}

// Request asks for one field of an identifier to be resolved.
type Request struct {
	Owner     string
	Namespace string
	Field     trace.CodeField
}

// RequestsFrom collects the code location fields of canonical definitions
// whose namespace is in scope (all namespaces when scope is empty), ordered by
// owner id and field location.
func RequestsFrom(ids map[string]*trace.Identifier, scope []string) []Request {
	allowed := make(map[string]bool, len(scope))
	for _, ns := range scope {
		allowed[ns] = true
	}
	var out []Request
	for _, id := range trace.SortedIDs(ids) {
		ident := ids[id]
		if !ident.Defined() || (len(allowed) > 0 && !allowed[ident.Namespace]) {
			continue
		}
		for _, f := range ident.CodeLocations {
			out = append(out, Request{Owner: ident.ID, Namespace: ident.Namespace, Field: f})
		}
	}
	return out
}

// Result is the resolver output for a set of requests.
type Result struct {
	Pointers []Pointer
	Entries  []trace.DriftEntry
}

// Artifacts summarises resolved and declared code-looking segments per owner
// for the graph builder.
func (r *Result) Artifacts() map[string]trace.ArtifactInfo {
	out := make(map[string]trace.ArtifactInfo)
	for _, p := range r.Pointers {
		info := out[p.Owner]
		for _, s := range p.Segments {
			if s.Class != ClassCode {
				continue
			}
			info.Declared++
			if s.Resolved() {
				info.Resolved = append(info.Resolved, s.Artifact)
			}
		}
		out[p.Owner] = info
	}
	return out
}

// Tallies counts code-looking segments per owner for alignment scoring.
func (r *Result) Tallies() map[string]trace.SegmentTally {
	out := make(map[string]trace.SegmentTally)
	for owner, info := range r.Artifacts() {
		out[owner] = trace.SegmentTally{Declared: info.Declared, Resolved: len(info.Resolved)}
	}
	return out
}

// Resolver maps code location segments onto repository artifacts.
type Resolver struct {
	fsys     fs.FS
	cfg      config.CodeLocation
	workers  int
	manifest *Manifest
	logger   *slog.Logger
}

// NewResolver creates a resolver over fsys, loading build manifests from its
// root. Malformed manifests are logged and skipped.
func NewResolver(fsys fs.FS, cfg *config.Compiled, logger *slog.Logger) *Resolver {
	m, errs := LoadManifest(fsys)
	for _, err := range errs {
		logger.Warn("Ignoring malformed manifest", "error", err.Error())
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Resolver{fsys: fsys, cfg: cfg.CodeLocation, workers: workers, manifest: m, logger: logger}
}

// Manifest returns the module map loaded at construction.
func (r *Resolver) Manifest() *Manifest {
	return r.manifest
}

// Resolve resolves every request on a bounded pool. The output order follows
// the request order, so results are deterministic.
func (r *Resolver) Resolve(ctx context.Context, reqs []Request, roles trace.Roles) (*Result, error) {
	pointers := make([]Pointer, len(reqs))
	entries := make([][]trace.DriftEntry, len(reqs))

	p := pool.New().WithMaxGoroutines(r.workers)
	for i, req := range reqs {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			pointers[i], entries[i] = r.resolvePointer(ctx, req, roles)
		})
	}
	p.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Pointers: pointers}
	for _, e := range entries {
		res.Entries = append(res.Entries, e...)
	}
	r.logger.Debug("Code locations resolved", "pointers", len(pointers), "entries", len(res.Entries))
	return res, nil
}

func (r *Resolver) resolvePointer(ctx context.Context, req Request, roles trace.Roles) (Pointer, []trace.DriftEntry) {
	ptr := Pointer{
		Owner:     req.Owner,
		Namespace: req.Namespace,
		RawField:  req.Field.Raw,
		Location:  req.Field.Location,
		Segments:  []Segment{},
	}
	var entries []trace.DriftEntry
	loc := req.Field.Location.String()

	for _, raw := range SplitSegments(req.Field.Raw) {
		seg := r.ResolveSegment(ctx, raw)
		ptr.Segments = append(ptr.Segments, seg)
		if seg.Class != ClassCode {
			continue
		}

		if !seg.Resolved() {
			severity := trace.SeverityMedium
			switch req.Namespace {
			case roles.Feature:
				severity = trace.SeverityCritical
			case roles.Test:
				severity = trace.SeverityHigh
			}
			entries = append(entries, trace.DriftEntry{
				Kind:     trace.DriftUnresolvedLocation,
				Severity: severity,
				EntityID: req.Owner,
				Message:  fmt.Sprintf("code location %q did not resolve (tried %s)", seg.Raw, strings.Join(r.cfg.Strategies, ", ")),
				Location: loc,
			})
			continue
		}

		if ptr.ResolvedArtifact == "" {
			ptr.ResolvedArtifact = seg.Artifact
			ptr.StrategyUsed = seg.Strategy
		}
		if seg.Ambiguous {
			ptr.Ambiguous = true
			entries = append(entries, trace.DriftEntry{
				Kind:     trace.DriftQualityIssue,
				Severity: trace.SeverityLow,
				EntityID: req.Owner,
				Message:  fmt.Sprintf("code location %q is ambiguous: %s (%s) vs %s", seg.Raw, seg.Artifact, seg.Strategy, strings.Join(seg.Alternatives, ", ")),
				Location: loc,
			})
		}
		if seg.SymbolFound != nil && !*seg.SymbolFound {
			entries = append(entries, trace.DriftEntry{
				Kind:     trace.DriftQualityIssue,
				Severity: trace.SeverityMedium,
				EntityID: req.Owner,
				Message:  fmt.Sprintf("symbol %s not found in %s", seg.Symbol, seg.Artifact),
				Location: loc,
			})
		}
	}
	return ptr, entries
}

// ResolveSegment classifies and resolves a single segment. Every configured
// strategy is evaluated; the first success wins and any different artifact
// from a later strategy marks the segment ambiguous.
func (r *Resolver) ResolveSegment(ctx context.Context, raw string) Segment {
	target, symbol, class := Classify(raw, r.cfg.NonCodeValues)
	seg := Segment{Raw: raw, Class: class, Target: target, Symbol: symbol}
	if class != ClassCode {
		return seg
	}

	for _, strategy := range r.cfg.Strategies {
		artifact := r.try(strategy, target)
		if artifact == "" {
			continue
		}
		if seg.Artifact == "" {
			seg.Artifact, seg.Strategy = artifact, strategy
			continue
		}
		if artifact != seg.Artifact && !contains(seg.Alternatives, artifact) {
			seg.Ambiguous = true
			seg.Alternatives = append(seg.Alternatives, artifact)
		}
	}
	sort.Strings(seg.Alternatives)

	if seg.Artifact != "" && symbol != "" && r.cfg.VerifySymbols && isFile(r.fsys, seg.Artifact) {
		src, err := fs.ReadFile(r.fsys, seg.Artifact)
		if err != nil {
			r.logger.Debug("Skipping symbol check", "path", seg.Artifact, "error", err.Error())
			return seg
		}
		found, err := HasSymbol(ctx, seg.Artifact, src, symbol)
		if err != nil {
			r.logger.Debug("Skipping symbol check", "path", seg.Artifact, "error", err.Error())
			return seg
		}
		seg.SymbolFound = &found
	}
	return seg
}

func (r *Resolver) try(strategy, target string) string {
	switch strategy {
	case StrategyManifest:
		return r.fromManifest(target)
	case StrategyLiteral:
		return r.literal(target)
	case StrategyFlatModule:
		return r.flatModule(target)
	case StrategyNestedPackage:
		return r.nestedPackage(target)
	case StrategyPackageInit:
		return r.packageInit(target)
	default:
		return ""
	}
}

// bases are the directories module forms are tried against: root first, then
// each declared source dir.
func (r *Resolver) bases() []string {
	return append([]string{""}, r.cfg.SourceDirs...)
}

// literal accepts an existing root-relative file or directory.
func (r *Resolver) literal(target string) string {
	p := path.Clean(target)
	if p != "." && (isFile(r.fsys, p) || isDir(r.fsys, p)) {
		return p
	}
	return ""
}

// targetParts splits a module-form target. Targets carrying a source file
// extension are file paths and have no module form.
func (r *Resolver) targetParts(target string) []string {
	ext := path.Ext(target)
	for _, e := range r.cfg.Extensions {
		if ext != "" && strings.EqualFold(ext, e) {
			return nil
		}
	}
	var parts []string
	if strings.Contains(target, "/") {
		parts = strings.Split(target, "/")
	} else {
		parts = strings.Split(target, ".")
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return nil
		}
	}
	return parts
}

// moduleBase pairs a directory with the module parts left to find under it.
type moduleBase struct {
	dir   string
	parts []string
}

// moduleBases lists where a dotted target may live: the root with every part,
// each source dir with every part, and a source dir named by the leading
// parts with the rest.
func (r *Resolver) moduleBases(parts []string) []moduleBase {
	out := []moduleBase{{dir: "", parts: parts}}
	for _, dir := range r.cfg.SourceDirs {
		out = append(out, moduleBase{dir: dir, parts: parts})
		if prefix := strings.Split(dir, "/"); len(parts) > len(prefix) && hasPrefix(parts, prefix) {
			out = append(out, moduleBase{dir: dir, parts: parts[len(prefix):]})
		}
	}
	return out
}

// flatModule finds a single module file directly in a base: dir/module.ext.
func (r *Resolver) flatModule(target string) string {
	parts := r.targetParts(target)
	if parts == nil {
		return ""
	}
	for _, b := range r.moduleBases(parts) {
		if len(b.parts) != 1 {
			continue
		}
		if a := r.fileUnder(b.dir, b.parts, false); a != "" {
			return a
		}
	}
	return ""
}

// nestedPackage finds a module inside a package directory: dir/pkg/module.ext
// for a package-qualified target, dir/module/module.ext for a bare one.
func (r *Resolver) nestedPackage(target string) string {
	parts := r.targetParts(target)
	if parts == nil {
		return ""
	}
	for _, b := range r.moduleBases(parts) {
		if a := r.fileUnder(b.dir, b.parts, len(b.parts) == 1); a != "" {
			return a
		}
	}
	return ""
}

func (r *Resolver) fileUnder(base string, parts []string, nested bool) string {
	elems := append([]string{base}, parts...)
	if nested {
		elems = append(elems, parts[len(parts)-1])
	}
	stem := path.Join(elems...)
	for _, ext := range r.cfg.Extensions {
		if p := stem + ext; isFile(r.fsys, p) {
			return p
		}
	}
	return ""
}

func (r *Resolver) packageInit(target string) string {
	parts := r.targetParts(target)
	if parts == nil {
		return ""
	}
	for _, base := range r.bases() {
		if a := r.packageDir(path.Join(append([]string{base}, parts...)...)); a != "" {
			return a
		}
	}
	return ""
}

// packageDir returns the init file of dir, or dir itself for a Go package.
func (r *Resolver) packageDir(dir string) string {
	if dir == "" || dir == "." || !isDir(r.fsys, dir) {
		return ""
	}
	for _, f := range initFiles {
		if p := path.Join(dir, f); isFile(r.fsys, p) {
			return p
		}
	}
	if hasGoFiles(r.fsys, dir) {
		return dir
	}
	return ""
}

func (r *Resolver) fromManifest(target string) string {
	m := r.manifest
	if m.Empty() {
		return ""
	}

	if m.GoModule != "" && strings.HasPrefix(target+"/", m.GoModule+"/") {
		rel := strings.TrimPrefix(strings.TrimPrefix(target, m.GoModule), "/")
		if rel == "" {
			return ""
		}
		if hasGoFiles(r.fsys, rel) {
			return rel
		}
		if p := rel + ".go"; isFile(r.fsys, p) {
			return p
		}
		return ""
	}

	parts := r.targetParts(target)
	if parts == nil {
		return ""
	}
	for _, e := range m.Entries {
		prefix := moduleParts(e.Module)
		if !hasPrefix(parts, prefix) {
			continue
		}
		rest := parts[len(prefix):]
		if len(rest) == 0 {
			if a := r.packageDir(e.Dir); a != "" {
				return a
			}
			continue
		}
		if a := r.fileUnder(e.Dir, rest, false); a != "" {
			return a
		}
		if a := r.packageDir(path.Join(append([]string{e.Dir}, rest...)...)); a != "" {
			return a
		}
	}
	return ""
}

func hasPrefix(parts, prefix []string) bool {
	if len(prefix) > len(parts) {
		return false
	}
	for i := range prefix {
		if parts[i] != prefix[i] {
			return false
		}
	}
	return true
}

func hasGoFiles(fsys fs.FS, dir string) bool {
	if !isDir(fsys, dir) {
		return false
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".go") {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
