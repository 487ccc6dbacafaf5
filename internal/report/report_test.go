package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"tracescan/internal/codeloc"
	"tracescan/internal/errors"
	"tracescan/internal/testutil"
	"tracescan/internal/trace"
)

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func smallInput() Input {
	return Input{
		Mode:        "tc-mapping",
		GeneratedAt: fixedTime,
		Identifiers: map[string]*trace.Identifier{
			"FT-A-001": {ID: "FT-A-001", Namespace: "FT", Status: trace.StatusComplete,
				DefinitionLocation: &trace.Location{Path: "docs/features/a.md", Line: 1}},
			"TC-A-001": {ID: "TC-A-001", Namespace: "TC", Status: trace.StatusComplete,
				DefinitionLocation: &trace.Location{Path: "docs/tests/a.md", Line: 2}},
		},
		Relationships: []trace.Relationship{{
			FromID: "TC-A-001", ToID: "FT-A-001", Kind: trace.KindTests, Confidence: trace.ConfidenceExplicit,
			SourceLocation: trace.Location{Path: "docs/tests/a.md", Line: 2},
		}},
		Chains: []trace.Chain{{FeatureID: "FT-A-001", TestCaseID: "TC-A-001", Complete: true, Score: 1}},
		Entries: []trace.DriftEntry{{
			Kind: trace.DriftQualityIssue, Severity: trace.SeverityLow, EntityID: "TC-A-001",
			Message: "TC-A-001 has no description", Location: "docs/tests/a.md:2",
		}},
		Alignment: trace.Alignment{
			Alignment: 1, Level: trace.DriftNone,
			CompleteChains: 1, DocumentedFeatures: 1, TotalDefinitions: 2,
			Entities: []trace.EntityScore{
				{ID: "FT-A-001", Namespace: "FT", Status: trace.StatusComplete, Aligned: true},
				{ID: "TC-A-001", Namespace: "TC", Status: trace.StatusComplete, Aligned: true},
			},
		},
		Project: codeloc.Project{
			Language:      codeloc.LangPython,
			Layout:        codeloc.LayoutFlatModule,
			SourceDirs:    []string{"src"},
			SymbolBackend: "regex",
		},
	}
}

func TestGoldenReportJSON(t *testing.T) {
	data, err := EncodeJSON(Build(smallInput()))
	require.NoError(t, err)
	testutil.CompareGolden(t, "report_small.json", data)
}

func TestBuildSortsAndCounts(t *testing.T) {
	in := smallInput()
	in.Entries = []trace.DriftEntry{
		{Kind: trace.DriftOrphan, Severity: trace.SeverityHigh, EntityID: "TC-A-001", Message: "b"},
		{Kind: trace.DriftMissingLink, Severity: trace.SeverityCritical, EntityID: "FT-A-001", Message: "a"},
		{Kind: trace.DriftBrokenLink, Severity: trace.SeverityHigh, EntityID: "FT-GHOST", Message: "c"},
	}
	in.Chains = []trace.Chain{
		{FeatureID: "FT-B"},
		{RequirementID: "REQ-A", FeatureID: "FT-A", Complete: true},
	}

	r := Build(in)
	assert.Equal(t, StatusComplete, r.Status)
	assert.Equal(t, float64(100), r.AlignmentPercent)
	assert.Equal(t, "FT-A-001", r.Entries[0].EntityID)
	assert.Equal(t, "FT-GHOST", r.Entries[1].EntityID)
	assert.Equal(t, "REQ-A", r.Chains[0].RequirementID)

	assert.Equal(t, 3, r.Summary.Entries)
	assert.Equal(t, 2, r.Summary.BySeverity["high"])
	assert.Equal(t, map[string]int{"FT": 1, "TC": 1}, r.Summary.ByNamespace, "undefined ids have no namespace entry")
	assert.Equal(t, 1, r.Summary.CompleteChains)
	assert.Equal(t, 2, r.Summary.Definitions)

	assert.Equal(t, []SeverityCount{
		{trace.SeverityCritical, 1}, {trace.SeverityHigh, 2}, {trace.SeverityMedium, 0}, {trace.SeverityLow, 0},
	}, r.Counts())
}

func TestBuildDoesNotMutateInput(t *testing.T) {
	in := smallInput()
	in.Entries = append(in.Entries, trace.DriftEntry{Kind: trace.DriftCycle, Severity: trace.SeverityMedium, EntityID: "A"})
	Build(in)
	assert.Equal(t, trace.SeverityLow, in.Entries[0].Severity)
}

func TestEncodeJSONIsDeterministic(t *testing.T) {
	first, err := EncodeJSON(Build(smallInput()))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := EncodeJSON(Build(smallInput()))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestEncodeJSONKeepsEmptyCollections(t *testing.T) {
	data, err := EncodeJSON(Superseded("all", fixedTime))
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "superseded", parsed["status"])
	assert.Equal(t, []interface{}{}, parsed["entries"])
	assert.Equal(t, []interface{}{}, parsed["chains"])
}

func TestEncodeJSONRoundsFloats(t *testing.T) {
	in := smallInput()
	in.Alignment.Alignment = 2.0 / 3.0
	data, err := EncodeJSON(Build(in))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"alignmentPercent": 66.666667`)
}

func TestEncodeYAML(t *testing.T) {
	data, err := Encode(Build(smallInput()), FormatYAML)
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.Equal(t, "tc-mapping", parsed["mode"])
	assert.Equal(t, "none", parsed["driftLevel"])
	entries, ok := parsed["entries"].([]interface{})
	require.True(t, ok)
	assert.Len(t, entries, 1)
}

func TestRenderHuman(t *testing.T) {
	in := smallInput()
	in.Chains = append(in.Chains, trace.Chain{RequirementID: "REQ-A-001", BrokenAt: trace.BrokenNoFeature})

	var buf bytes.Buffer
	require.NoError(t, RenderHuman(&buf, Build(in), false))
	out := buf.String()

	assert.Contains(t, out, "tracescan drift report (tc-mapping)")
	assert.Contains(t, out, "Alignment: 100%  Drift level: none")
	assert.Contains(t, out, "Drift entries (1: 1 low):")
	assert.Contains(t, out, "TC-A-001 has no description (docs/tests/a.md:2)")
	assert.Contains(t, out, "REQ-A-001 [broken: no_feature]")
	assert.Contains(t, out, "FT-A-001 -> TC-A-001 [complete]")
	assert.NotContains(t, out, "\x1b[", "colour disabled")
}

func TestRenderHumanSuperseded(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderHuman(&buf, Superseded("all", fixedTime), false))
	assert.Contains(t, buf.String(), "superseded")
	assert.NotContains(t, buf.String(), "Alignment")
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"YAML", FormatYAML, false},
		{"yml", FormatYAML, false},
		{" human ", FormatHuman, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "66.7", FormatFloat(66.666667, 1))
	assert.Equal(t, "100", FormatFloat(100, 1))
	assert.Equal(t, "0", FormatFloat(0, 2))
}

func TestWriteFile(t *testing.T) {
	for _, atomic := range []bool{false, true} {
		name := "direct"
		if atomic {
			name = "atomic"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "reports", "drift.json")

			require.NoError(t, WriteFile(path, []byte("first"), atomic))
			require.NoError(t, WriteFile(path, []byte("second"), atomic))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "second", string(data))

			entries, err := os.ReadDir(filepath.Dir(path))
			require.NoError(t, err)
			for _, e := range entries {
				assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temporary file left behind: %s", e.Name())
			}
		})
	}
}

func TestWriteFileFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	err := WriteFile(filepath.Join(blocker, "out.json"), []byte("x"), true)
	require.Error(t, err)
	assert.Equal(t, errors.OutputFailed, errors.CodeOf(err))
}
