package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracescan/internal/config"
	"tracescan/internal/errors"
	"tracescan/internal/report"
	"tracescan/internal/slogutil"
)

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      string
	}{
		{EventCreate, "create"},
		{EventModify, "modify"},
		{EventDelete, "delete"},
		{EventRename, "rename"},
		{EventType(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.eventType.String())
		})
	}
}

func TestOptionsFrom(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Root = "/repo"
	opts := OptionsFrom(cfg)

	assert.Equal(t, "/repo", opts.Root)
	assert.Equal(t, 250*time.Millisecond, opts.Debounce)
	assert.Contains(t, opts.Ignore, "*.swp")
	assert.Contains(t, opts.Exclude, "**/.git/**")
}

func TestWatcherIsIgnored(t *testing.T) {
	w := &Watcher{opts: Options{
		Ignore:  []string{"*.swp", "*~", ".#*"},
		Exclude: []string{"**/.git/**", "**/node_modules/**"},
		Skip:    []string{"out/drift.json"},
	}}

	tests := []struct {
		path string
		want bool
	}{
		{"docs/features/core.md", false},
		{"docs/.core.md.swp", true},
		{"REQUIREMENTS.md~", true},
		{"docs/.#notes.md", true},
		{".git/index", true},
		{"node_modules/pkg/index.js", true},
		{"web/node_modules/pkg/index.js", true},
		{"src/node_modules.py", false},
		{"out/drift.json", true},
		{"out/other.json", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, w.IsIgnored(tt.path))
		})
	}

	assert.True(t, w.isExcludedDir("web/node_modules"))
	assert.True(t, w.isExcludedDir("node_modules"))
	assert.False(t, w.isExcludedDir("web"))
}

func TestBatchDebouncerAdd(t *testing.T) {
	var mu sync.Mutex
	var batches [][]Event
	b := NewBatchDebouncer(30*time.Millisecond, func(events []Event) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, events)
	})

	b.Add(Event{Type: EventCreate, Path: "a.md"})
	b.Add(Event{Type: EventModify, Path: "b.md"})
	b.Add(Event{Type: EventModify, Path: "a.md"})
	assert.Equal(t, 2, b.EventCount(), "repeated path collapses")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches[0], 2)
	assert.Equal(t, "a.md", batches[0][0].Path)
	assert.Equal(t, EventCreate, batches[0][0].Type, "created within the batch")
	assert.Equal(t, []string{"a.md", "b.md"}, ChangedPaths(batches[0]))
	assert.Equal(t, 0, b.EventCount())
}

func TestBatchDebouncerKeepsLatestEvent(t *testing.T) {
	var got []Event
	b := NewBatchDebouncer(time.Hour, func(events []Event) { got = events })

	b.Add(Event{Type: EventModify, Path: "a.md"})
	b.Add(Event{Type: EventDelete, Path: "a.md"})
	b.Flush()

	require.Len(t, got, 1)
	assert.Equal(t, EventDelete, got[0].Type)
}

func TestBatchDebouncerCancel(t *testing.T) {
	emitted := make(chan []Event, 1)
	b := NewBatchDebouncer(20*time.Millisecond, func(events []Event) { emitted <- events })

	b.Add(Event{Path: "a.md"})
	b.Cancel()
	assert.Equal(t, 0, b.EventCount())

	select {
	case <-emitted:
		t.Fatal("cancelled batch was emitted")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestBatchDebouncerFlush(t *testing.T) {
	var got []Event
	b := NewBatchDebouncer(time.Hour, func(events []Event) { got = events })

	b.Add(Event{Path: "a.md"})
	b.Flush()
	require.Len(t, got, 1)
	assert.Equal(t, "a.md", got[0].Path)

	got = nil
	b.Flush()
	assert.Nil(t, got, "empty batches are not emitted")
}

type collector struct {
	mu    sync.Mutex
	paths map[string]bool
}

func (c *collector) handle(events []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range ChangedPaths(events) {
		c.paths[p] = true
	}
}

func (c *collector) has(p string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paths[p]
}

func TestWatcherDeliversChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "objects"), 0o755))

	c := &collector{paths: map[string]bool{}}
	w, err := New(Options{
		Root:     root,
		Debounce: 20 * time.Millisecond,
		Ignore:   []string{"*.swp"},
		Exclude:  []string{".git/**"},
	}, slogutil.NewDiscardLogger(), c.handle)
	require.NoError(t, err)
	assert.Equal(t, 2, w.WatchedCount(), "root and docs; .git is excluded")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", ".core.md.swp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "core.md"), []byte("FT-A-1"), 0o644))
	require.Eventually(t, func() bool { return c.has("docs/core.md") }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, c.has("docs/.core.md.swp"))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "later"), 0o755))
	require.Eventually(t, func() bool { return w.WatchedCount() == 3 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "later", "TESTS.md"), []byte("TC-A-1"), 0o644))
	require.Eventually(t, func() bool { return c.has("later/TESTS.md") }, 2*time.Second, 10*time.Millisecond)
}

func TestNewWatcherRejectsMissingRoot(t *testing.T) {
	_, err := New(Options{Root: filepath.Join(t.TempDir(), "missing")}, slogutil.NewDiscardLogger(), nil)
	assert.Error(t, err)
}

func TestRunnerDiscardsSupersededScan(t *testing.T) {
	started := make(chan struct{})
	var calls int
	var callsMu sync.Mutex

	scan := func(ctx context.Context) (*report.Report, error) {
		callsMu.Lock()
		calls++
		n := calls
		callsMu.Unlock()

		if n == 1 {
			close(started)
			<-ctx.Done()
			return report.Superseded("all", time.Now()), errors.New(errors.ScanSuperseded, "scan superseded", errors.ErrSuperseded)
		}
		return &report.Report{Mode: "second", Status: report.StatusComplete}, nil
	}

	var mu sync.Mutex
	var results []*report.Report
	r := NewRunner(scan, func(rep *report.Report, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.NoError(t, err)
		results = append(results, rep)
	}, slogutil.NewDiscardLogger())

	r.Trigger(context.Background())
	<-started
	r.Trigger(context.Background())
	r.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 1)
	assert.Equal(t, "second", results[0].Mode)
	assert.Equal(t, 1, r.Superseded())
}

func TestRunnerReportsFailures(t *testing.T) {
	failure := errors.New(errors.CorpusUnreadable, "cannot read corpus root", nil)
	var got error
	r := NewRunner(func(context.Context) (*report.Report, error) { return nil, failure },
		func(_ *report.Report, err error) { got = err }, slogutil.NewDiscardLogger())

	r.Trigger(context.Background())
	r.Wait()
	assert.Equal(t, errors.CorpusUnreadable, errors.CodeOf(got))
}

func TestRunnerStopCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	r := NewRunner(func(ctx context.Context) (*report.Report, error) {
		close(started)
		<-ctx.Done()
		return nil, errors.New(errors.ScanSuperseded, "scan superseded", errors.ErrSuperseded)
	}, func(*report.Report, error) {
		t.Error("stopped scan must not deliver a result")
	}, slogutil.NewDiscardLogger())

	r.Trigger(context.Background())
	<-started
	r.Stop()
	assert.Equal(t, 1, r.Superseded())
}
