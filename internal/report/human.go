package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"tracescan/internal/trace"
)

type palette struct {
	title    *color.Color
	critical *color.Color
	high     *color.Color
	medium   *color.Color
	low      *color.Color
	ok       *color.Color
	dim      *color.Color
}

func newPalette(useColor bool) palette {
	p := palette{
		title:    color.New(color.FgCyan, color.Bold),
		critical: color.New(color.FgRed, color.Bold),
		high:     color.New(color.FgRed),
		medium:   color.New(color.FgYellow),
		low:      color.New(color.FgBlue),
		ok:       color.New(color.FgGreen),
		dim:      color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.title, p.critical, p.high, p.medium, p.low, p.ok, p.dim} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) severity(s trace.Severity) *color.Color {
	switch s {
	case trace.SeverityCritical:
		return p.critical
	case trace.SeverityHigh:
		return p.high
	case trace.SeverityMedium:
		return p.medium
	default:
		return p.low
	}
}

func (p palette) level(l trace.DriftLevel) *color.Color {
	switch l {
	case trace.DriftNone:
		return p.ok
	case trace.DriftLow:
		return p.low
	case trace.DriftMedium:
		return p.medium
	default:
		return p.high
	}
}

// RenderHuman writes a terminal summary of r.
func RenderHuman(w io.Writer, r *Report, useColor bool) error {
	p := newPalette(useColor)
	var b strings.Builder

	b.WriteString(p.title.Sprintf("tracescan drift report (%s)", r.Mode))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.Format(time.RFC3339))

	if r.Status == StatusSuperseded {
		b.WriteString(p.dim.Sprint("Scan superseded by a newer change; no results.") + "\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	fmt.Fprintf(&b, "Alignment: %s%%  Drift level: %s\n",
		FormatFloat(r.AlignmentPercent, 1),
		p.level(r.DriftLevel).Sprint(r.DriftLevel))
	fmt.Fprintf(&b, "Definitions: %d  Relationships: %d  Chains: %d (%d complete)\n",
		r.Summary.Definitions, r.Summary.Relationships, r.Summary.Chains, r.Summary.CompleteChains)
	if r.Project.Layout != "" {
		fmt.Fprintf(&b, "Layout: %s", r.Project.Layout)
		if len(r.Project.SourceDirs) > 0 {
			fmt.Fprintf(&b, "  Source dirs: %s", strings.Join(r.Project.SourceDirs, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if len(r.Entries) == 0 {
		b.WriteString(p.ok.Sprint("No drift found.") + "\n")
	} else {
		var counts []string
		for _, c := range r.Counts() {
			if c.Count > 0 {
				counts = append(counts, fmt.Sprintf("%d %s", c.Count, c.Severity))
			}
		}
		fmt.Fprintf(&b, "Drift entries (%d: %s):\n", len(r.Entries), strings.Join(counts, ", "))
		for _, e := range r.Entries {
			sev := p.severity(e.Severity).Sprintf("%-8s", strings.ToUpper(string(e.Severity)))
			fmt.Fprintf(&b, "  %s %-24s %-16s %s", sev, e.Kind, e.EntityID, e.Message)
			if e.Location != "" {
				b.WriteString(p.dim.Sprintf(" (%s)", e.Location))
			}
			b.WriteString("\n")
		}
	}

	if len(r.Chains) > 0 {
		b.WriteString("\nChains:\n")
		for _, c := range r.Chains {
			b.WriteString("  " + chainPath(c))
			if c.Complete {
				b.WriteString(" " + p.ok.Sprint("[complete]"))
			} else {
				b.WriteString(" " + p.medium.Sprintf("[broken: %s]", c.BrokenAt))
			}
			b.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func chainPath(c trace.Chain) string {
	var parts []string
	for _, id := range []string{c.RequirementID, c.FeatureID, c.TestCaseID, c.ArtifactID} {
		if id != "" {
			parts = append(parts, id)
		}
	}
	return strings.Join(parts, " -> ")
}
