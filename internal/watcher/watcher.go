// Package watcher turns filesystem changes under a corpus root into debounced
// rescans.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"tracescan/internal/config"
)

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

// String returns a string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event is one change, with Path relative to the watched root in slash form.
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// ChangeHandler receives each debounced batch.
type ChangeHandler func(events []Event)

// Options controls what is watched.
type Options struct {
	Root     string
	Debounce time.Duration
	// Ignore holds base-name globs for editor and temp files.
	Ignore []string
	// Exclude holds corpus exclude globs; matching directories are not watched.
	Exclude []string
	// Skip holds exact relative paths, such as the report being written.
	Skip []string
}

// OptionsFrom derives watcher options from the configuration.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Root:     cfg.Root,
		Debounce: time.Duration(cfg.Watch.DebounceMs) * time.Millisecond,
		Ignore:   append([]string(nil), cfg.Watch.IgnorePatterns...),
		Exclude:  append([]string(nil), cfg.Corpus.Exclude...),
	}
}

// Watcher watches a corpus root recursively. fsnotify watches single
// directories, so directories created later are added as they appear.
type Watcher struct {
	opts      Options
	logger    *slog.Logger
	fsw       *fsnotify.Watcher
	debouncer *BatchDebouncer

	mu      sync.Mutex
	watched map[string]bool
}

// New creates a watcher for opts.Root and registers every existing directory.
func New(opts Options, logger *slog.Logger, handler ChangeHandler) (*Watcher, error) {
	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", opts.Root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		opts:    opts,
		logger:  logger,
		fsw:     fsw,
		watched: make(map[string]bool),
	}
	w.debouncer = NewBatchDebouncer(opts.Debounce, func(events []Event) {
		w.logger.Debug("Changes detected", "events", len(events), "paths", len(ChangedPaths(events)))
		if handler != nil {
			handler(events)
		}
	})

	if err := w.addTree(opts.Root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run delivers events until ctx is cancelled. Pending batches are dropped on exit.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("Watching for changes", "root", w.opts.Root, "directories", w.WatchedCount(), "debounce", w.opts.Debounce)
	defer func() {
		w.debouncer.Cancel()
		_ = w.fsw.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Watcher stopped")
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", "error", err.Error())
		}
	}
}

// Close releases the underlying watcher without running.
func (w *Watcher) Close() error {
	w.debouncer.Cancel()
	return w.fsw.Close()
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, ok := w.relative(ev.Name)
	if !ok {
		return
	}

	var typ EventType
	switch {
	case ev.Has(fsnotify.Create):
		typ = EventCreate
	case ev.Has(fsnotify.Write):
		typ = EventModify
	case ev.Has(fsnotify.Remove):
		typ = EventDelete
	case ev.Has(fsnotify.Rename):
		typ = EventRename
	default:
		// chmod only
		return
	}

	if typ == EventCreate {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.isExcludedDir(rel) {
				return
			}
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", "path", rel, "error", err.Error())
			}
		}
	}
	if typ == EventDelete || typ == EventRename {
		w.mu.Lock()
		delete(w.watched, ev.Name)
		w.mu.Unlock()
	}

	if w.IsIgnored(rel) {
		return
	}
	w.debouncer.Add(Event{Type: typ, Path: rel, Timestamp: time.Now()})
}

func (w *Watcher) relative(name string) (string, bool) {
	rel, err := filepath.Rel(w.opts.Root, name)
	if err != nil || rel == "." {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// addTree watches dir and every non-excluded directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.relative(p); ok && w.isExcludedDir(rel) {
			return filepath.SkipDir
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.watched[p] {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		w.watched[p] = true
		return nil
	})
}

// IsIgnored reports whether a change to rel should not trigger a scan.
func (w *Watcher) IsIgnored(rel string) bool {
	for _, p := range w.opts.Skip {
		if p == rel {
			return true
		}
	}
	base := path.Base(rel)
	for _, pattern := range w.opts.Ignore {
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	for _, pattern := range w.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) isExcludedDir(rel string) bool {
	for _, pattern := range w.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, rel+"/x"); ok {
			return true
		}
	}
	return false
}

// WatchedCount returns the number of watched directories.
func (w *Watcher) WatchedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}
