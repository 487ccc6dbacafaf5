package history

import (
	"fmt"
	"io"
	"text/tabwriter"

	"tracescan/internal/report"
)

// TrendPoint is one run with the change in alignment from the previous run
// of the same mode.
type TrendPoint struct {
	Run
	Delta    float64 `json:"delta"`
	HasDelta bool    `json:"hasDelta"`
}

// Trend pairs each run with its predecessor. runs must be newest first, as
// List returns them; the result keeps that order.
func Trend(runs []Run) []TrendPoint {
	out := make([]TrendPoint, len(runs))
	for i, r := range runs {
		out[i] = TrendPoint{Run: r}
		for j := i + 1; j < len(runs); j++ {
			if runs[j].Mode == r.Mode {
				out[i].Delta = report.RoundFloat(r.AlignmentPercent - runs[j].AlignmentPercent)
				out[i].HasDelta = true
				break
			}
		}
	}
	return out
}

// RenderTrend writes a table of trend points.
func RenderTrend(w io.Writer, points []TrendPoint) error {
	if len(points) == 0 {
		_, err := fmt.Fprintln(w, "No archived runs.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tMODE\tALIGNMENT\tCHANGE\tLEVEL\tENTRIES\tID")
	for _, p := range points {
		change := "-"
		if p.HasDelta {
			change = report.FormatFloat(p.Delta, 1)
			if p.Delta > 0 {
				change = "+" + change
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s%%\t%s\t%s\t%d\t%s\n",
			p.RecordedAt.Format("2006-01-02 15:04:05"),
			p.Mode,
			report.FormatFloat(p.AlignmentPercent, 1),
			change,
			p.DriftLevel,
			p.Entries,
			p.ID)
	}
	return tw.Flush()
}
