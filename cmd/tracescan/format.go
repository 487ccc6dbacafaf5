package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"tracescan/internal/report"
)

// renderReport encodes rep for the console or a file. Human output is
// coloured only when it goes straight to a terminal.
func renderReport(w io.Writer, rep *report.Report, format report.Format) error {
	if format == report.FormatHuman && isTerminal(w) {
		return report.RenderHuman(w, rep, true)
	}
	data, err := report.Encode(rep, format)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// emitReport writes rep to path when one is given, otherwise to stdout
// unless quiet is set.
func emitReport(stdout io.Writer, rep *report.Report, format report.Format, path string, atomic, quiet bool) error {
	if path == "" {
		if quiet {
			return nil
		}
		return renderReport(stdout, rep, format)
	}

	data, err := report.Encode(rep, format)
	if err != nil {
		return err
	}
	return report.WriteFile(path, data, atomic)
}

// formatFromFlag parses --format, defaulting to human on a terminal and json
// everywhere else.
func formatFromFlag(value string, stdout io.Writer) (report.Format, error) {
	if value == "" {
		if isTerminal(stdout) {
			return report.FormatHuman, nil
		}
		return report.FormatJSON, nil
	}
	return report.ParseFormat(value)
}

// writeEncoded writes v through one of the report encoders.
func writeEncoded(w io.Writer, encode func(interface{}) ([]byte, error), v interface{}) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// formatPercent renders an alignment percentage the way reports do.
func formatPercent(p float64) string {
	return fmt.Sprintf("%s%%", report.FormatFloat(p, 2))
}
