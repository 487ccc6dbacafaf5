package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tracescan/internal/history"
	"tracescan/internal/paths"
	"tracescan/internal/report"
	"tracescan/internal/scan"
)

var (
	scanMode      string
	scanOutput    string
	scanFormat    string
	scanHistory   bool
	scanFailUnder float64
	scanAtomic    bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the project and report drift",
	Long: `Run one scan and print or write the drift report.

The command exits 0 whenever the scan completes, even when drift was found.
Only fatal errors (unreadable root, invalid configuration, unknown mode) and
a failed --fail-under gate produce a non-zero status.

Examples:
  tracescan scan                              # all modes, report to stdout
  tracescan scan --mode tc-mapping --format yaml
  tracescan scan --output drift.json --atomic
  tracescan scan --fail-under 90 --quiet      # CI gate`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanMode, "mode", "m", string(scan.ModeAll),
		"Scan mode: tc-mapping, ft-mapping, code-coverage, feature-impl, test-quality, all")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "Write the report to this file instead of stdout")
	scanCmd.Flags().StringVar(&scanFormat, "format", "", "Report format: json, yaml or human (default human on a terminal, json otherwise)")
	scanCmd.Flags().BoolVar(&scanHistory, "history", false, "Archive the report in the history database")
	scanCmd.Flags().Float64Var(&scanFailUnder, "fail-under", 0, "Exit 1 when alignment is below this percentage")
	scanCmd.Flags().BoolVar(&scanAtomic, "atomic", false, "Write --output through a temporary file and rename")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(modesCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	format, err := formatFromFlag(scanFormat, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	logger := env.loggers.For("scan")

	rep, err := scan.New(env.compiled, logger).Scan(ctx, scanMode)
	if err != nil {
		return err
	}

	if err := emitReport(cmd.OutOrStdout(), rep, format, scanOutput, scanAtomic, quietFlag); err != nil {
		return err
	}
	if scanOutput != "" {
		logger.Info("Report written", "path", scanOutput, "format", string(format))
	}

	if scanHistory || env.cfg.History.Enabled {
		if err := archiveReport(ctx, env, rep); err != nil {
			return err
		}
	}

	if cmd.Flags().Changed("fail-under") && rep.AlignmentPercent < scanFailUnder {
		return &gateError{alignment: rep.AlignmentPercent, threshold: scanFailUnder}
	}
	return nil
}

func archiveReport(ctx context.Context, env *cliEnv, rep *report.Report) error {
	logger := env.loggers.For("history")
	store, err := history.Open(paths.HistoryPath(env.root, env.cfg.History.Path), logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	id, err := store.Record(ctx, rep)
	if err != nil {
		return err
	}
	logger.Info("Report archived", "id", id, "alignment", rep.AlignmentPercent)
	return nil
}

var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "List scan modes",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, m := range scan.Modes() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", m, m.Description())
		}
	},
}
