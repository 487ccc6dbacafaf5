package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracescan/internal/config"
	"tracescan/internal/corpus"
	"tracescan/internal/slogutil"
	"tracescan/internal/testutil"
)

type traced struct {
	cfg   *config.Compiled
	roles Roles
	ext   *Extraction
	link  *Linkage
	graph *Graph
}

func compileDefault(t *testing.T) *config.Compiled {
	t.Helper()
	cfg, err := config.DefaultConfig().Compile()
	require.NoError(t, err)
	return cfg
}

func snapshot(tree testutil.Tree) *corpus.Snapshot {
	files := make([]corpus.File, 0, len(tree))
	for p, text := range tree {
		files = append(files, corpus.File{Path: p, Text: text})
	}
	return corpus.FromFiles("mem", testutil.MapFS(tree), files)
}

func run(t *testing.T, tree testutil.Tree) traced {
	t.Helper()
	cfg := compileDefault(t)
	logger := slogutil.NewDiscardLogger()

	ext, err := NewExtractor(cfg, logger).Extract(context.Background(), snapshot(tree))
	require.NoError(t, err)
	link := NewLinker(cfg, nil, logger).Link(ext)
	roles := RolesFrom(cfg)
	graph := BuildGraph(GraphInput{
		Identifiers:   ext.Identifiers,
		Relationships: link.Relationships,
		Annotations:   link.Annotations,
	}, roles)
	return traced{cfg: cfg, roles: roles, ext: ext, link: link, graph: graph}
}

func entriesOf(entries []DriftEntry, kind DriftKind) []DriftEntry {
	var out []DriftEntry
	for _, e := range entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func findEdge(rels []Relationship, from, to string) *Relationship {
	for i := range rels {
		if rels[i].FromID == from && rels[i].ToID == to {
			return &rels[i]
		}
	}
	return nil
}

var tracedCorpus = testutil.Tree{
	"REQUIREMENTS.md": testutil.Lines(
		"# Requirements",
		"",
		"- REQ-CORE-001 - The engine traces things",
	),
	"docs/features/core.md": testutil.Lines(
		"# Core",
		"",
		"## FT-CORE-001 - Thing",
		"",
		"Implements REQ-CORE-001",
		"",
		"- [x] **TC-CORE-001** - Test",
	),
}

func TestInferredChainIsComplete(t *testing.T) {
	tr := run(t, tracedCorpus)

	tc := tr.ext.Identifiers["TC-CORE-001"]
	require.True(t, tc.Defined())
	assert.Equal(t, StatusComplete, tc.Status)
	assert.Equal(t, "Test", tc.Description)

	edge := findEdge(tr.link.Relationships, "TC-CORE-001", "FT-CORE-001")
	require.NotNil(t, edge)
	assert.Equal(t, KindTests, edge.Kind)
	assert.Equal(t, ConfidenceInferred, edge.Confidence)

	impl := findEdge(tr.link.Relationships, "FT-CORE-001", "REQ-CORE-001")
	require.NotNil(t, impl)
	assert.Equal(t, KindImplements, impl.Kind)
	assert.Equal(t, ConfidenceExplicit, impl.Confidence)

	require.Len(t, tr.graph.Chains, 1)
	chain := tr.graph.Chains[0]
	assert.Equal(t, Chain{
		RequirementID: "REQ-CORE-001",
		FeatureID:     "FT-CORE-001",
		TestCaseID:    "TC-CORE-001",
		Complete:      true,
		Score:         1,
	}, chain)
	assert.Empty(t, tr.graph.Entries)

	a := Align(AlignmentInput{
		Identifiers:      tr.ext.Identifiers,
		Chains:           tr.graph.Chains,
		Relationships:    tr.link.Relationships,
		CountDefinitions: true,
		CountSegments:    true,
	}, tr.roles, tr.cfg.Thresholds)
	assert.Equal(t, 1.0, a.Alignment)
	assert.Equal(t, 100.0, a.Percent())
	assert.Equal(t, DriftNone, a.Level)
	for _, e := range a.Entities {
		assert.True(t, e.Aligned, e.ID)
	}
}

func TestUnreferencedTestCaseIsOrphan(t *testing.T) {
	tree := testutil.Tree{
		"TESTS.md": testutil.Lines("- [ ] TC-CORE-002 - Never linked"),
	}
	for k, v := range tracedCorpus {
		tree[k] = v
	}
	tr := run(t, tree)

	orphans := entriesOf(tr.graph.Entries, DriftOrphan)
	require.Len(t, orphans, 1)
	assert.Equal(t, "TC-CORE-002", orphans[0].EntityID)
	assert.Equal(t, SeverityHigh, orphans[0].Severity)
	assert.Equal(t, "TESTS.md:1", orphans[0].Location)
	assert.Empty(t, entriesOf(tr.graph.Entries, DriftMissingLink), "orphans do not also report missing links")
}

func TestMentionedTestCaseIsNotOrphan(t *testing.T) {
	tr := run(t, testutil.Tree{
		"REQUIREMENTS.md": testutil.Lines("- REQ-CORE-001 - The engine traces things"),
		"docs/features/core.md": testutil.Lines(
			"## FT-CORE-001 - Thing",
			"",
			"Implements REQ-CORE-001",
			"",
			"See TC-CORE-002 for the slow variant.",
			"",
			"- [x] **TC-CORE-001** - Test",
		),
		"TESTS.md": testutil.Lines("- [ ] TC-CORE-002 - Slow variant"),
	})

	edge := findEdge(tr.link.Relationships, "FT-CORE-001", "TC-CORE-002")
	require.NotNil(t, edge)
	assert.Equal(t, KindMentions, edge.Kind)
	assert.Equal(t, ConfidenceExplicit, edge.Confidence)

	assert.Empty(t, entriesOf(tr.graph.Entries, DriftOrphan))

	missing := entriesOf(tr.graph.Entries, DriftMissingLink)
	require.Len(t, missing, 1, "a mention does not satisfy the test link")
	assert.Equal(t, "TC-CORE-002", missing[0].EntityID)
	assert.Equal(t, SeverityHigh, missing[0].Severity)

	require.Len(t, tr.graph.Chains, 1)
	assert.Equal(t, "TC-CORE-001", tr.graph.Chains[0].TestCaseID)
}

func TestDuplicateDefinitionFirstWins(t *testing.T) {
	tr := run(t, testutil.Tree{
		"docs/features/b.md": testutil.Lines("## FT-CORE-001 - Later file"),
		"docs/features/a.md": testutil.Lines(
			"## FT-CORE-001 - First",
			"",
			"## FT-CORE-001 - Second",
		),
	})

	ft := tr.ext.Identifiers["FT-CORE-001"]
	require.True(t, ft.Defined())
	assert.Equal(t, Location{Path: "docs/features/a.md", Line: 1}, *ft.DefinitionLocation)
	assert.Equal(t, "First", ft.Description)

	dups := entriesOf(tr.ext.Entries, DriftDuplicateDefinition)
	require.Len(t, dups, 2)
	assert.Equal(t, SeverityHigh, dups[0].Severity)
	assert.Equal(t, "docs/features/a.md:3", dups[0].Location)
	assert.Equal(t, "docs/features/b.md:1", dups[1].Location)
}

func TestSingleFileDuplicateDefinition(t *testing.T) {
	tr := run(t, testutil.Tree{
		"FEATURES.md": testutil.Lines(
			"- FT-CORE-001 - One",
			"- FT-CORE-001 - Two",
		),
	})

	assert.Len(t, entriesOf(tr.ext.Entries, DriftDuplicateDefinition), 1)
	assert.Empty(t, tr.ext.Identifiers["FT-CORE-001"].ReferenceLocations)
}

func TestExtractStatusAndDescription(t *testing.T) {
	tr := run(t, testutil.Tree{
		"TESTS.md": testutil.Lines(
			"- [x] **TC-A-1** - Done",
			"- [ ] TC-A-2 - Todo",
			"- [~] TC-A-3: Working",
			"- [-] TC-A-4 - Skip",
			"- ~~TC-A-5~~ - Dropped",
			"- ✅ TC-A-6 - Glyph",
			"- TC-A-7 - Plain ⏭️",
			"## TC-A-8 🚧 In flight",
			"## TC-A-9",
		),
	})

	tests := []struct {
		id     string
		status Status
		desc   string
	}{
		{"TC-A-1", StatusComplete, "Done"},
		{"TC-A-2", StatusPending, "Todo"},
		{"TC-A-3", StatusInProgress, "Working"},
		{"TC-A-4", StatusSkipped, "Skip"},
		{"TC-A-5", StatusSkipped, "Dropped"},
		{"TC-A-6", StatusComplete, "Glyph"},
		{"TC-A-7", StatusSkipped, "Plain"},
		{"TC-A-8", StatusInProgress, "In flight"},
		{"TC-A-9", StatusUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			ident := tr.ext.Identifiers[tt.id]
			require.True(t, ident.Defined())
			assert.Equal(t, tt.status, ident.Status)
			assert.Equal(t, tt.desc, ident.Description)
		})
	}
}

func TestExtractDefinitionRequiresDefinitionFileAndForm(t *testing.T) {
	tr := run(t, testutil.Tree{
		"README.md":   "## FT-A-1 - Not a definition file\n",
		"FEATURES.md": "## TC-A-1 - Wrong namespace for this file\nSome prose about FT-A-2 here.\n- FT-A-3 - Real\n",
		"main.py":     "# FT-A-4\n",
	})

	assert.False(t, tr.ext.Identifiers["FT-A-1"].Defined())
	assert.False(t, tr.ext.Identifiers["TC-A-1"].Defined())
	assert.False(t, tr.ext.Identifiers["FT-A-2"].Defined())
	assert.True(t, tr.ext.Identifiers["FT-A-3"].Defined())
	assert.False(t, tr.ext.Identifiers["FT-A-4"].Defined())
	assert.Len(t, tr.ext.Identifiers["FT-A-1"].ReferenceLocations, 1)
}

func TestExtractIgnoresFencedBlocks(t *testing.T) {
	tr := run(t, testutil.Tree{
		"TESTS.md": testutil.Lines(
			"```markdown",
			"- [x] TC-A-9 - Example only",
			"```",
			"- [x] TC-A-1 - Real",
		),
	})

	_, found := tr.ext.Identifiers["TC-A-9"]
	assert.False(t, found)
	assert.True(t, tr.ext.Identifiers["TC-A-1"].Defined())
}

func TestExtractCodeLocationsAttachToInnermostDefinition(t *testing.T) {
	tr := run(t, testutil.Tree{
		"docs/features/core.md": testutil.Lines(
			"## FT-CORE-001 - Thing",
			"- **Code Location:** `tools.drift_scanner[DriftScanner]`",
			"- [x] **TC-CORE-001** - Test",
			"  - Test Location: tests/test_core.py",
		),
	})

	ft := tr.ext.Identifiers["FT-CORE-001"]
	require.Len(t, ft.CodeLocations, 1)
	assert.Equal(t, "tools.drift_scanner[DriftScanner]", ft.CodeLocations[0].Raw)
	assert.Equal(t, 2, ft.CodeLocations[0].Location.Line)

	tc := tr.ext.Identifiers["TC-CORE-001"]
	require.Len(t, tc.CodeLocations, 1)
	assert.Equal(t, "tests/test_core.py", tc.CodeLocations[0].Raw)
}

func TestLinkerClosestPhraseWins(t *testing.T) {
	tr := run(t, testutil.Tree{
		"REQUIREMENTS.md": "- REQ-A-1 - one\n- REQ-A-2 - two\n",
		"FEATURES.md": testutil.Lines(
			"## FT-A-1 - F",
			"Implements REQ-A-1; see REQ-A-2",
		),
	})

	impl := findEdge(tr.link.Relationships, "FT-A-1", "REQ-A-1")
	require.NotNil(t, impl)
	assert.Equal(t, KindImplements, impl.Kind)

	mention := findEdge(tr.link.Relationships, "FT-A-1", "REQ-A-2")
	require.NotNil(t, mention)
	assert.Equal(t, KindMentions, mention.Kind)
	assert.Equal(t, ConfidenceExplicit, mention.Confidence)
}

func TestLinkerOrientsReversedPhrases(t *testing.T) {
	tr := run(t, testutil.Tree{
		"FEATURES.md": testutil.Lines(
			"## FT-A-1 - F",
			"Tested by TC-A-1",
		),
		"TESTS.md": "- [x] TC-A-1 - T\n",
	})

	edge := findEdge(tr.link.Relationships, "TC-A-1", "FT-A-1")
	require.NotNil(t, edge)
	assert.Equal(t, KindTests, edge.Kind)
	assert.Equal(t, ConfidenceExplicit, edge.Confidence)
	assert.Nil(t, findEdge(tr.link.Relationships, "FT-A-1", "TC-A-1"))
}

func TestLinkerExplicitReplacesInferred(t *testing.T) {
	tr := run(t, testutil.Tree{
		"docs/features/a.md": testutil.Lines(
			"## FT-A-1 - F",
			"- [x] **TC-A-1** - T",
			"",
			"Tested by TC-A-1",
		),
	})

	var edges []Relationship
	for _, r := range tr.link.Relationships {
		if r.FromID == "TC-A-1" && r.ToID == "FT-A-1" {
			edges = append(edges, r)
		}
	}
	require.Len(t, edges, 1)
	assert.Equal(t, ConfidenceExplicit, edges[0].Confidence)
}

func TestLinkerNestedReferenceInfersTests(t *testing.T) {
	tr := run(t, testutil.Tree{
		"FEATURES.md": testutil.Lines(
			"## FT-A-1 - F",
			"TC-A-2 covers the edge case.",
			"REQ-A-1 is background.",
		),
		"TESTS.md":        "- TC-A-2 - T\n",
		"REQUIREMENTS.md": "- REQ-A-1 - R\n",
	})

	edge := findEdge(tr.link.Relationships, "TC-A-2", "FT-A-1")
	require.NotNil(t, edge)
	assert.Equal(t, KindTests, edge.Kind)
	assert.Equal(t, ConfidenceInferred, edge.Confidence)

	mention := findEdge(tr.link.Relationships, "FT-A-1", "REQ-A-1")
	require.NotNil(t, mention)
	assert.Equal(t, KindMentions, mention.Kind)
	assert.Equal(t, ConfidenceInferred, mention.Confidence)
}

func TestLinkerAnnotationsAndBrokenLinks(t *testing.T) {
	tr := run(t, testutil.Tree{
		"TESTS.md": "- TC-CORE-001 - T\n",
		"tests/test_core.py": testutil.Lines(
			"# @TC-CORE-001",
			"def test_core():  # see TC-CORE-001",
			"    pass",
		),
		"FEATURES.md": testutil.Lines(
			"## FT-A-1 - F",
			"Implements REQ-NOPE-1",
		),
		"README.md": "Implements FT-A-1 somewhere.\n",
	})

	require.Len(t, tr.link.Annotations, 1)
	assert.Equal(t, Annotation{
		ID:       "TC-CORE-001",
		Kind:     KindTests,
		Location: Location{Path: "tests/test_core.py", Line: 1},
	}, tr.link.Annotations[0])

	broken := entriesOf(tr.link.Entries, DriftBrokenLink)
	require.Len(t, broken, 1)
	assert.Equal(t, "REQ-NOPE-1", broken[0].EntityID)
	assert.Equal(t, SeverityHigh, broken[0].Severity)
	assert.Equal(t, "FEATURES.md:2", broken[0].Location)

	assert.Empty(t, tr.link.Relationships, "references without a subject produce no edges")
}

func TestLinkerScopeRestrictsEdges(t *testing.T) {
	cfg := compileDefault(t)
	logger := slogutil.NewDiscardLogger()
	ext, err := NewExtractor(cfg, logger).Extract(context.Background(), snapshot(tracedCorpus))
	require.NoError(t, err)

	link := NewLinker(cfg, []string{"FT", "TC"}, logger).Link(ext)
	require.Len(t, link.Relationships, 1)
	assert.Equal(t, "TC-CORE-001", link.Relationships[0].FromID)
}

func TestGraphMissingLinks(t *testing.T) {
	tr := run(t, testutil.Tree{
		"REQUIREMENTS.md": "- REQ-A-1 - no feature\n- REQ-A-2 - has feature\n",
		"FEATURES.md": testutil.Lines(
			"## FT-A-1 - implements but untested",
			"Implements REQ-A-2",
			"## FT-A-2 - tested but no requirement",
			"Tested by TC-A-2",
		),
		"TESTS.md": testutil.Lines(
			"- TC-A-1 - linked only to a requirement",
			"  - Tests: REQ-A-1",
			"- TC-A-2 - fine",
		),
	})

	got := map[string]Severity{}
	for _, e := range entriesOf(tr.graph.Entries, DriftMissingLink) {
		got[e.EntityID+"/"+string(e.Severity)] = e.Severity
	}
	assert.Contains(t, got, "REQ-A-1/high")
	assert.Contains(t, got, "FT-A-1/critical")
	assert.Contains(t, got, "FT-A-2/high")
	assert.Contains(t, got, "TC-A-1/high")
	assert.Len(t, got, 4)

	var brokenAt []BrokenAt
	for _, c := range tr.graph.Chains {
		if !c.Complete {
			brokenAt = append(brokenAt, c.BrokenAt)
		}
	}
	assert.ElementsMatch(t, []BrokenAt{BrokenNoFeature, BrokenNoTestCase}, brokenAt)

	// FT-rooted chain for FT-A-2 sorts last
	last := tr.graph.Chains[len(tr.graph.Chains)-1]
	assert.Equal(t, "", last.RequirementID)
	assert.Equal(t, "FT-A-2", last.FeatureID)
	assert.True(t, last.Complete)
}

func TestGraphArtifactHop(t *testing.T) {
	tr := run(t, tracedCorpus)

	build := func(info ArtifactInfo, annotations []Annotation) Chain {
		g := BuildGraph(GraphInput{
			Identifiers:   tr.ext.Identifiers,
			Relationships: tr.link.Relationships,
			Annotations:   annotations,
			Artifacts:     map[string]ArtifactInfo{"TC-CORE-001": info},
			ResolveRan:    true,
		}, tr.roles)
		require.Len(t, g.Chains, 1)
		return g.Chains[0]
	}

	broken := build(ArtifactInfo{Declared: 1}, nil)
	assert.False(t, broken.Complete)
	assert.Equal(t, BrokenNoArtifact, broken.BrokenAt)
	assert.InDelta(t, 2.0/3.0, broken.Score, 1e-9)

	resolved := build(ArtifactInfo{Declared: 1, Resolved: []string{"tests/test_core.py"}}, nil)
	assert.True(t, resolved.Complete)
	assert.Equal(t, "tests/test_core.py", resolved.ArtifactID)

	annotated := build(ArtifactInfo{Declared: 1}, []Annotation{{ID: "TC-CORE-001", Kind: KindTests, Location: Location{Path: "t.py", Line: 1}}})
	assert.True(t, annotated.Complete)
	assert.Equal(t, "t.py", annotated.ArtifactID)
}

func TestGraphCycleTerminates(t *testing.T) {
	tr := run(t, testutil.Tree{
		"FEATURES.md": testutil.Lines(
			"## FT-A-2 - b",
			"Links to FT-A-1",
			"## FT-A-1 - a",
			"Links to FT-A-2",
			"Links to FT-A-1",
		),
	})

	cycles := entriesOf(tr.graph.Entries, DriftCycle)
	require.Len(t, cycles, 1)
	assert.Equal(t, "FT-A-1", cycles[0].EntityID)
	assert.Equal(t, SeverityMedium, cycles[0].Severity)
	assert.Equal(t, "cycle detected: FT-A-1 -> FT-A-2 -> FT-A-1", cycles[0].Message)
}

func TestAlignEmptyScope(t *testing.T) {
	a := Align(AlignmentInput{Identifiers: map[string]*Identifier{}, CountDefinitions: true}, Roles{}, compileDefault(t).Thresholds)

	assert.Equal(t, 0.0, a.Alignment)
	assert.Equal(t, 1.0, a.Drift)
	assert.Equal(t, DriftHigh, a.Level)
}

func TestAlignCountsSegments(t *testing.T) {
	tr := run(t, tracedCorpus)

	a := Align(AlignmentInput{
		Identifiers:      tr.ext.Identifiers,
		Chains:           tr.graph.Chains,
		Relationships:    tr.link.Relationships,
		Segments:         map[string]SegmentTally{"FT-CORE-001": {Declared: 2, Resolved: 1}},
		CountDefinitions: true,
		CountSegments:    true,
	}, tr.roles, tr.cfg.Thresholds)

	assert.Equal(t, 5, a.TotalDefinitions)
	assert.InDelta(t, 0.8, a.Alignment, 1e-9)
	assert.Equal(t, DriftMedium, a.Level)
}

func TestLevelFor(t *testing.T) {
	th := config.Thresholds{Low: 0.05, Medium: 0.15, High: 0.30}
	tests := []struct {
		drift float64
		want  DriftLevel
	}{
		{0, DriftNone},
		{0.049, DriftNone},
		{0.05, DriftLow},
		{0.149, DriftLow},
		{0.15, DriftMedium},
		{0.30, DriftMedium},
		{0.31, DriftHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.drift, th), "drift %v", tt.drift)
	}
}

func TestQualityFindings(t *testing.T) {
	tr := run(t, testutil.Tree{
		"TESTS.md": testutil.Lines(
			"- [ ] TC-A-1 - pending",
			"- [-] TC-A-2 - skipped",
			"- [x] TC-A-3",
		),
	})

	got := QualityFindings(tr.ext.Identifiers, tr.roles, []string{"TC"})
	SortEntries(got)
	require.Len(t, got, 3)
	assert.Equal(t, DriftEntry{Kind: DriftQualityIssue, Severity: SeverityMedium, EntityID: "TC-A-2", Message: "TC-A-2 is skipped", Location: "TESTS.md:2"}, got[0])
	assert.Equal(t, "TC-A-1", got[1].EntityID)
	assert.Equal(t, "TC-A-3 has no description", got[2].Message)
}

func TestSortEntries(t *testing.T) {
	entries := []DriftEntry{
		{Kind: DriftOrphan, Severity: SeverityHigh, EntityID: "TC-B"},
		{Kind: DriftQualityIssue, Severity: SeverityLow, EntityID: "A"},
		{Kind: DriftMissingLink, Severity: SeverityCritical, EntityID: "FT-Z"},
		{Kind: DriftBrokenLink, Severity: SeverityHigh, EntityID: "TC-B"},
		{Kind: DriftBrokenLink, Severity: SeverityHigh, EntityID: "FT-A"},
	}
	SortEntries(entries)

	var order []string
	for _, e := range entries {
		order = append(order, e.EntityID+":"+string(e.Kind))
	}
	assert.Equal(t, []string{
		"FT-Z:missing_link",
		"FT-A:broken_link",
		"TC-B:broken_link",
		"TC-B:orphan",
		"A:quality_issue",
	}, order)
}

func TestRelated(t *testing.T) {
	tr := run(t, testutil.Tree{
		"REQUIREMENTS.md": "- REQ-A-1 - R\n",
		"FEATURES.md": testutil.Lines(
			"## FT-A-1 - F",
			"Implements REQ-A-1",
			"- [x] TC-A-9 mentioned, not defined here",
		),
		"TESTS.md": "- TC-A-1 - T\n  - Tests: FT-A-1\n",
	})

	items := Related(tr.ext.Identifiers, tr.link.Relationships, "FT-A-1")
	require.Len(t, items, 2)
	assert.Equal(t, "REQ-A-1", items[0].ID)
	assert.Equal(t, "outgoing", items[0].Direction)
	assert.Equal(t, "TC-A-1", items[1].ID)
	assert.Equal(t, "incoming", items[1].Direction)
}
