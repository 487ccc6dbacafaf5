package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tracescan/internal/history"
	"tracescan/internal/paths"
	"tracescan/internal/report"
	"tracescan/internal/scan"
)

var (
	historyLimit  int
	historyMode   string
	historyPrune  int
	historyFormat string
	historyShow   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the alignment trend of archived scans",
	Long: `List archived scan runs, newest first, with the change in alignment
against the previous run of the same mode. Runs are archived by
"tracescan scan --history" or when history is enabled in the config.

Examples:
  tracescan history                    # last 20 runs
  tracescan history --mode tc-mapping --limit 5
  tracescan history --show <run-id>    # print an archived report
  tracescan history --prune 100        # keep the newest 100 runs`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to list")
	historyCmd.Flags().StringVarP(&historyMode, "mode", "m", "", "Only list runs of this mode")
	historyCmd.Flags().IntVar(&historyPrune, "prune", 0, "Delete all but the newest N runs")
	historyCmd.Flags().StringVar(&historyFormat, "format", "human", "Output format (human, json)")
	historyCmd.Flags().StringVar(&historyShow, "show", "", "Print the archived report with this run id")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyMode != "" {
		if _, err := scan.ParseMode(historyMode); err != nil {
			return err
		}
	}
	if historyLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	store, err := history.Open(paths.HistoryPath(env.root, env.cfg.History.Path), env.loggers.For("history"))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if historyShow != "" {
		data, err := store.Report(ctx, historyShow)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	if cmd.Flags().Changed("prune") {
		removed, err := store.Prune(ctx, historyPrune)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Pruned %d run(s)\n", removed)
		return nil
	}

	runs, err := store.List(ctx, historyMode, historyLimit)
	if err != nil {
		return err
	}
	points := history.Trend(runs)

	if historyFormat == "json" {
		return writeEncoded(out, report.EncodeJSON, points)
	}
	return history.RenderTrend(out, points)
}
