package scan

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"tracescan/internal/codeloc"
	"tracescan/internal/config"
	"tracescan/internal/corpus"
	"tracescan/internal/errors"
	"tracescan/internal/report"
	"tracescan/internal/trace"
)

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithFS scans fsys instead of the configured root directory.
func WithFS(fsys fs.FS) ScannerOption {
	return func(s *Scanner) { s.fsys = fsys }
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) ScannerOption {
	return func(s *Scanner) { s.now = now }
}

// WithObserver receives every state transition.
func WithObserver(fn func(from, to State)) ScannerOption {
	return func(s *Scanner) { s.observe = fn }
}

// Scanner runs scans against one compiled configuration. Scans share nothing,
// so a Scanner may run several concurrently.
type Scanner struct {
	cfg     *config.Compiled
	logger  *slog.Logger
	fsys    fs.FS
	now     func() time.Time
	observe func(from, to State)
}

// New creates a scanner.
func New(cfg *config.Compiled, logger *slog.Logger, opts ...ScannerOption) *Scanner {
	s := &Scanner{cfg: cfg, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one scan of cfg.Root.
func Run(ctx context.Context, cfg *config.Compiled, mode string, logger *slog.Logger) (*report.Report, error) {
	return New(cfg, logger).Scan(ctx, mode)
}

type pipelineState struct {
	plan     Plan
	roles    trace.Roles
	snap     *corpus.Snapshot
	ext      *trace.Extraction
	linkage  *trace.Linkage
	resolved *codeloc.Result
	project  codeloc.Project
	graph    *trace.Graph
	align    trace.Alignment
	entries  []trace.DriftEntry
}

// Scan runs the pipeline for mode.
//
// Fatal problems (unknown mode, unreadable root) return a *errors.TraceError
// and no report. Cancellation returns a superseded placeholder report together
// with an error matching errors.ErrSuperseded. Drift never causes an error.
func (s *Scanner) Scan(ctx context.Context, modeName string) (*report.Report, error) {
	mode, err := ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	st := &pipelineState{roles: trace.RolesFrom(s.cfg)}
	st.plan = PlanFor(mode, st.roles)
	m := NewMachine(s.logger, s.observe)
	started := time.Now()

	stages := []struct {
		state State
		run   func(context.Context, *pipelineState) error
	}{
		{StateExtracting, s.extract},
		{StateLinking, s.link},
		{StateResolving, s.resolve},
		{StateGraphBuilding, s.buildGraph},
		{StateScoring, s.score},
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return s.supersede(m, mode, err)
		}
		if err := m.Advance(stage.state); err != nil {
			return nil, errors.New(errors.InternalError, "scan state machine rejected a transition", err)
		}
		if err := stage.run(ctx, st); err != nil {
			if ctx.Err() != nil || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
				return s.supersede(m, mode, err)
			}
			_ = m.Advance(StateFailed)
			return nil, s.fatal(err)
		}
	}

	if err := ctx.Err(); err != nil {
		return s.supersede(m, mode, err)
	}
	if err := m.Advance(StateReporting); err != nil {
		return nil, errors.New(errors.InternalError, "scan state machine rejected a transition", err)
	}
	rep := report.Build(report.Input{
		Mode:          string(mode),
		GeneratedAt:   s.now(),
		Identifiers:   st.ext.Identifiers,
		Relationships: st.linkage.Relationships,
		Chains:        st.graph.Chains,
		Entries:       st.entries,
		Alignment:     st.align,
		Pointers:      st.resolved.Pointers,
		Project:       st.project,
	})
	if err := m.Advance(StateDone); err != nil {
		return nil, errors.New(errors.InternalError, "scan state machine rejected a transition", err)
	}

	s.logger.Info("Scan finished",
		"mode", string(mode),
		"files", len(st.snap.Files),
		"identifiers", len(st.ext.Identifiers),
		"entries", len(rep.Entries),
		"alignment", rep.AlignmentPercent,
		"driftLevel", string(rep.DriftLevel),
		"duration", time.Since(started))
	return rep, nil
}

func (s *Scanner) supersede(m *Machine, mode Mode, cause error) (*report.Report, error) {
	_ = m.Advance(StateSuperseded)
	s.logger.Info("Scan superseded", "mode", string(mode), "reason", cause.Error())
	return report.Superseded(string(mode), s.now()), errors.New(errors.ScanSuperseded, "scan superseded", errors.ErrSuperseded)
}

// fatal maps stage failures onto error codes. Only this function decides
// that an error aborts the scan.
func (s *Scanner) fatal(err error) error {
	var te *errors.TraceError
	if stderrors.As(err, &te) {
		return te
	}
	var rootErr *corpus.RootError
	if stderrors.As(err, &rootErr) {
		return errors.New(errors.CorpusUnreadable, fmt.Sprintf("cannot read corpus root %s", rootErr.Root), err)
	}
	return errors.New(errors.InternalError, "scan failed", err)
}

func (s *Scanner) extract(ctx context.Context, st *pipelineState) error {
	var err error
	if s.fsys != nil {
		st.snap, err = corpus.LoadFS(ctx, s.fsys, s.cfg, s.logger)
	} else {
		st.snap, err = corpus.Load(ctx, s.cfg, s.logger)
	}
	if err != nil {
		return err
	}
	st.ext, err = trace.NewExtractor(s.cfg, s.logger).Extract(ctx, st.snap)
	if err != nil {
		return err
	}
	st.entries = append(st.entries, st.ext.Entries...)
	st.project = codeloc.DetectProject(st.snap.FS, s.cfg.CodeLocation.SourceDirs)
	return nil
}

func (s *Scanner) link(_ context.Context, st *pipelineState) error {
	if !st.plan.Link {
		st.linkage = &trace.Linkage{}
		return nil
	}
	st.linkage = trace.NewLinker(s.cfg, st.plan.LinkScope, s.logger).Link(st.ext)
	st.entries = append(st.entries, st.linkage.Entries...)
	return nil
}

func (s *Scanner) resolve(ctx context.Context, st *pipelineState) error {
	if !st.plan.Resolve {
		st.resolved = &codeloc.Result{}
		return nil
	}
	resolver := codeloc.NewResolver(st.snap.FS, s.cfg, s.logger)
	res, err := resolver.Resolve(ctx, codeloc.RequestsFrom(st.ext.Identifiers, nil), st.roles)
	if err != nil {
		return err
	}
	st.resolved = res
	st.entries = append(st.entries, res.Entries...)
	return nil
}

func (s *Scanner) buildGraph(_ context.Context, st *pipelineState) error {
	if !st.plan.Graph {
		st.graph = &trace.Graph{}
		return nil
	}
	st.graph = trace.BuildGraph(trace.GraphInput{
		Identifiers:   st.ext.Identifiers,
		Relationships: st.linkage.Relationships,
		Annotations:   st.linkage.Annotations,
		Artifacts:     st.resolved.Artifacts(),
		ResolveRan:    st.plan.Resolve,
		Namespaces:    st.plan.GraphScope,
	}, st.roles)
	st.entries = append(st.entries, st.graph.Entries...)
	return nil
}

func (s *Scanner) score(_ context.Context, st *pipelineState) error {
	st.align = trace.Align(trace.AlignmentInput{
		Identifiers:      st.ext.Identifiers,
		Chains:           st.graph.Chains,
		Relationships:    st.linkage.Relationships,
		Segments:         st.resolved.Tallies(),
		Namespaces:       st.plan.ScoreScope,
		CountDefinitions: st.plan.CountDefinitions,
		CountSegments:    st.plan.CountSegments,
	}, st.roles, s.cfg.Thresholds)

	if st.plan.Quality {
		st.entries = append(st.entries, trace.QualityFindings(st.ext.Identifiers, st.roles, st.plan.ScoreScope)...)
	}

	// Drift outside the mode's scope is not reported.
	kept := st.entries[:0]
	for _, e := range st.entries {
		if ident, ok := st.ext.Identifiers[e.EntityID]; !ok || st.plan.InScope(ident.Namespace) {
			kept = append(kept, e)
		}
	}
	st.entries = kept
	return nil
}

// Related extracts and links the whole corpus and returns every edge touching
// id, mentions included. ok is false when id never occurs in the corpus.
func (s *Scanner) Related(ctx context.Context, id string) (items []trace.RelatedItem, ok bool, err error) {
	st := &pipelineState{roles: trace.RolesFrom(s.cfg)}
	st.plan = PlanFor(ModeAll, st.roles)
	if err := s.extract(ctx, st); err != nil {
		if ctx.Err() != nil {
			return nil, false, errors.New(errors.ScanSuperseded, "scan superseded", errors.ErrSuperseded)
		}
		return nil, false, s.fatal(err)
	}
	if err := s.link(ctx, st); err != nil {
		return nil, false, s.fatal(err)
	}
	_, ok = st.ext.Identifiers[id]
	items = trace.Related(st.ext.Identifiers, st.linkage.Relationships, id)
	if items == nil {
		items = []trace.RelatedItem{}
	}
	return items, ok, nil
}
