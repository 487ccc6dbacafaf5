package slogutil

import (
	"io"
	"log/slog"
	"os"

	"tracescan/internal/config"
	"tracescan/internal/paths"
)

// LoggerFactory creates per-subsystem loggers that write to
// .tracescan/logs/<subsystem>.log and tee to the console handler.
// Level precedence: CLI flag > config > info.
type LoggerFactory struct {
	repoRoot string
	config   *config.Config
	cliLevel *slog.Level
	console  slog.Handler
	closers  []io.Closer
}

// NewLoggerFactory creates a factory. cliLevel is nil when no CLI flag was given.
// console may be nil for file-only logging.
func NewLoggerFactory(repoRoot string, cfg *config.Config, cliLevel *slog.Level, console slog.Handler) *LoggerFactory {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &LoggerFactory{
		repoRoot: repoRoot,
		config:   cfg,
		cliLevel: cliLevel,
		console:  console,
	}
}

// For returns the logger for a subsystem ("scan", "watch", "serve", "history").
// A log file that cannot be opened degrades to console-only logging.
func (f *LoggerFactory) For(subsystem string) *slog.Logger {
	level := f.EffectiveLevel()
	handlers := make([]slog.Handler, 0, 2)
	if f.console != nil {
		handlers = append(handlers, f.console)
	}

	if f.repoRoot != "" {
		if _, err := paths.EnsureLogsDir(f.repoRoot); err == nil {
			if h, closer, err := newFileHandler(paths.LogPath(f.repoRoot, subsystem), level); err == nil {
				handlers = append(handlers, h)
				f.closers = append(f.closers, closer)
			}
		}
	}

	switch len(handlers) {
	case 0:
		return NewDiscardLogger()
	case 1:
		return slog.New(handlers[0]).With("subsystem", subsystem)
	default:
		return slog.New(NewTeeHandler(handlers...)).With("subsystem", subsystem)
	}
}

// EffectiveLevel returns the level applied to file loggers.
func (f *LoggerFactory) EffectiveLevel() slog.Level {
	if f.cliLevel != nil {
		return *f.cliLevel
	}
	if f.config.Logging.Level != "" {
		return LevelFromString(f.config.Logging.Level)
	}
	return slog.LevelInfo
}

// Close closes all open log files.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}

// NewFileLogger opens path for appending and returns a logger writing to it.
func NewFileLogger(path string, level slog.Level) (*slog.Logger, io.Closer, error) {
	h, closer, err := newFileHandler(path, level)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(h), closer, nil
}

func newFileHandler(path string, level slog.Level) (slog.Handler, io.Closer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return NewHandler(file, &slog.HandlerOptions{Level: level}), file, nil
}
