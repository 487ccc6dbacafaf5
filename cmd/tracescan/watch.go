package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"tracescan/internal/report"
	"tracescan/internal/scan"
	"tracescan/internal/watcher"
)

var (
	watchMode   string
	watchOutput string
	watchFormat string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rescan whenever the corpus changes",
	Long: `Run an initial scan, then watch the project tree and rescan after every
burst of changes. A change arriving while a scan is running cancels that scan;
its partial results are discarded and a fresh scan starts.

The report file is rewritten atomically after each completed scan.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchMode, "mode", "m", string(scan.ModeAll), "Scan mode")
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", ".tracescan/report.json", "Report file rewritten after each scan")
	watchCmd.Flags().StringVar(&watchFormat, "format", "json", "Report format: json, yaml or human")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	format, err := report.ParseFormat(watchFormat)
	if err != nil {
		return err
	}
	if _, err := scan.ParseMode(watchMode); err != nil {
		return err
	}

	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	logger := env.loggers.For("watch")

	output := watchOutput
	if !filepath.IsAbs(output) {
		output = filepath.Join(env.root, output)
	}

	scanner := scan.New(env.compiled, env.loggers.For("scan"))
	runner := watcher.NewRunner(
		func(ctx context.Context) (*report.Report, error) {
			return scanner.Scan(ctx, watchMode)
		},
		func(rep *report.Report, err error) {
			if err != nil {
				logger.Error("Scan failed", "error", err.Error())
				return
			}
			data, err := report.Encode(rep, format)
			if err == nil {
				err = report.WriteFile(output, data, true)
			}
			if err != nil {
				logger.Error("Failed to write report", "path", output, "error", err.Error())
				return
			}
			logger.Info("Report updated",
				"path", output,
				"alignment", rep.AlignmentPercent,
				"driftLevel", string(rep.DriftLevel),
				"entries", len(rep.Entries))
		},
		logger,
	)
	defer func() {
		runner.Stop()
		runner.Wait()
	}()

	opts := watcher.OptionsFrom(env.cfg)
	if rel, err := filepath.Rel(env.cfg.Root, output); err == nil {
		opts.Skip = append(opts.Skip, filepath.ToSlash(rel))
	}

	w, err := watcher.New(opts, logger, func(events []watcher.Event) {
		logger.Info("Corpus changed", "files", len(watcher.ChangedPaths(events)))
		runner.Trigger(ctx)
	})
	if err != nil {
		return err
	}

	runner.Trigger(ctx)
	if !quietFlag {
		cmd.PrintErrf("Watching %s (Ctrl+C to stop), report at %s\n", env.cfg.Root, output)
	}
	return w.Run(ctx)
}
