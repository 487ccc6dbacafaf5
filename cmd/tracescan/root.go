package main

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tracescan/internal/config"
	"tracescan/internal/errors"
	"tracescan/internal/slogutil"
	"tracescan/internal/version"
)

var (
	rootFlag      string
	verbosityFlag int
	quietFlag     bool
	logFormatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "tracescan",
	Short: "tracescan - documentation to code traceability",
	Long: `tracescan ties requirement (REQ-*), feature (FT-*) and test case (TC-*)
identifiers and the code they point at into a traceability graph, then reports
where documentation and implementation have drifted apart.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("tracescan version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", ".", "Project root to scan")
	rootCmd.PersistentFlags().CountVarP(&verbosityFlag, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress logs and console report output")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Console log format: human or json (default from config)")
}

// gateError signals a failed --fail-under check. It is not an engine failure.
type gateError struct {
	alignment float64
	threshold float64
}

func (e *gateError) Error() string {
	return fmt.Sprintf("alignment %s is below the required %s", formatPercent(e.alignment), formatPercent(e.threshold))
}

// exitCodeFor maps a command error to the process exit status:
// 1 for a failed quality gate or usage error, 2 for fatal engine errors.
func exitCodeFor(err error) int {
	var gate *gateError
	if stderrors.As(err, &gate) {
		return 1
	}
	var te *errors.TraceError
	if stderrors.As(err, &te) {
		return 2
	}
	return 1
}

// cliEnv is the state shared by every command: the effective configuration,
// its compiled form and the logger factory.
type cliEnv struct {
	root     string
	cfg      *config.Config
	compiled *config.Compiled
	loggers  *slogutil.LoggerFactory
}

// loadEnv loads .tracescan/config.* from --root and compiles it.
func loadEnv() (*cliEnv, error) {
	root, err := filepath.Abs(rootFlag)
	if err != nil {
		return nil, errors.New(errors.CorpusUnreadable, fmt.Sprintf("cannot resolve root %s", rootFlag), err)
	}

	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, errors.New(errors.ConfigInvalid, "failed to load configuration", err)
	}
	if !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(root, cfg.Root)
	}

	compiled, err := cfg.Compile()
	if err != nil {
		return nil, errors.New(errors.ConfigInvalid, "invalid configuration", err)
	}

	return &cliEnv{
		root:     root,
		cfg:      cfg,
		compiled: compiled,
		loggers:  newLoggerFactory(root, cfg),
	}, nil
}

func (e *cliEnv) Close() {
	_ = e.loggers.Close()
}

// newLoggerFactory builds the console handler from the verbosity flags.
// Without -v or -q the console only shows warnings while log files keep
// the configured level.
func newLoggerFactory(root string, cfg *config.Config) *slogutil.LoggerFactory {
	consoleLevel := slogutil.LevelFromVerbosity(verbosityFlag, quietFlag)

	// -v also raises the file level; -q only silences the console
	var cliLevel *slog.Level
	if verbosityFlag > 0 && !quietFlag {
		cliLevel = &consoleLevel
	}

	format := logFormatFlag
	if format == "" {
		format = cfg.Logging.Format
	}
	var console slog.Handler
	if format == "json" {
		console = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: consoleLevel})
	} else {
		console = slogutil.NewConsoleHandler(os.Stderr, consoleLevel)
	}
	return slogutil.NewLoggerFactory(root, cfg, cliLevel, console)
}
