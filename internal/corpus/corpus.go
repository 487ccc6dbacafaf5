// Package corpus loads the immutable set of text files a scan reads.
package corpus

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sourcegraph/conc/pool"

	"tracescan/internal/config"
)

// binarySniffLen is how much of a file is checked for NUL bytes.
const binarySniffLen = 8 << 10

// File is one corpus entry. Path is slash separated and relative to the root.
type File struct {
	Path string
	Text string
}

// IsMarkdown reports whether the file can hold definitions.
func (f File) IsMarkdown() bool {
	return IsMarkdownPath(f.Path)
}

// IsMarkdownPath reports whether p has a markdown extension.
func IsMarkdownPath(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// Snapshot is the ordered, read-only corpus of one scan.
type Snapshot struct {
	Root  string
	FS    fs.FS
	Files []File

	byPath map[string]int
}

// Lookup returns the corpus file at p.
func (s *Snapshot) Lookup(p string) (File, bool) {
	i, ok := s.byPath[p]
	if !ok {
		return File{}, false
	}
	return s.Files[i], true
}

// RootError reports an unreadable corpus root.
type RootError struct {
	Root string
	Err  error
}

func (e *RootError) Error() string {
	return fmt.Sprintf("corpus root %s unreadable: %v", e.Root, e.Err)
}

func (e *RootError) Unwrap() error { return e.Err }

// Load walks cfg.Root on the local filesystem.
func Load(ctx context.Context, cfg *config.Compiled, logger *slog.Logger) (*Snapshot, error) {
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, &RootError{Root: cfg.Root, Err: err}
	}
	if !info.IsDir() {
		return nil, &RootError{Root: cfg.Root, Err: fmt.Errorf("not a directory")}
	}
	return LoadFS(ctx, os.DirFS(cfg.Root), cfg, logger)
}

// LoadFS walks fsys. Files are returned sorted by path.
func LoadFS(ctx context.Context, fsys fs.FS, cfg *config.Compiled, logger *slog.Logger) (*Snapshot, error) {
	if _, err := fs.ReadDir(fsys, "."); err != nil {
		return nil, &RootError{Root: cfg.Root, Err: err}
	}

	var candidates []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == "." {
				return err
			}
			logger.Debug("Skipping unreadable entry", "path", p, "error", err.Error())
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if p == "." {
			return nil
		}
		if d.IsDir() {
			if excludedDir(cfg.Exclude, p) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matchAny(cfg.Exclude, p) || !matchAny(cfg.Include, p) {
			return nil
		}
		candidates = append(candidates, p)
		return nil
	})
	if err != nil {
		return nil, &RootError{Root: cfg.Root, Err: err}
	}
	sort.Strings(candidates)

	texts := make([]*string, len(candidates))
	p := pool.New().WithMaxGoroutines(cfg.Workers)
	for i, name := range candidates {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			texts[i] = readText(fsys, name, cfg.MaxFileSize, logger)
		})
	}
	p.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Root:   cfg.Root,
		FS:     fsys,
		Files:  make([]File, 0, len(candidates)),
		byPath: make(map[string]int, len(candidates)),
	}
	for i, name := range candidates {
		if texts[i] == nil {
			continue
		}
		snap.byPath[name] = len(snap.Files)
		snap.Files = append(snap.Files, File{Path: name, Text: *texts[i]})
	}

	logger.Debug("Corpus loaded", "candidates", len(candidates), "files", len(snap.Files))
	return snap, nil
}

// FromFiles builds a snapshot from in-memory files, sorted by path.
func FromFiles(root string, fsys fs.FS, files []File) *Snapshot {
	sorted := append([]File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	snap := &Snapshot{Root: root, FS: fsys, Files: sorted, byPath: make(map[string]int, len(sorted))}
	for i, f := range sorted {
		snap.byPath[f.Path] = i
	}
	return snap
}

func readText(fsys fs.FS, name string, maxSize int64, logger *slog.Logger) *string {
	if maxSize > 0 {
		if info, err := fs.Stat(fsys, name); err == nil && info.Size() > maxSize {
			logger.Debug("Skipping oversized file", "path", name, "size", info.Size())
			return nil
		}
	}
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		logger.Debug("Skipping unreadable file", "path", name, "error", err.Error())
		return nil
	}
	sniff := data
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		logger.Debug("Skipping binary file", "path", name)
		return nil
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return &text
}

func matchAny(patterns []string, p string) bool {
	for _, g := range patterns {
		if ok, _ := doublestar.Match(g, p); ok {
			return true
		}
	}
	return false
}

// excludedDir reports whether a directory is excluded, treating "dir/**" as covering dir itself.
func excludedDir(patterns []string, dir string) bool {
	for _, g := range patterns {
		if ok, _ := doublestar.Match(g, dir); ok {
			return true
		}
		if trimmed, found := strings.CutSuffix(g, "/**"); found {
			if ok, _ := doublestar.Match(trimmed, dir); ok {
				return true
			}
		}
	}
	return false
}
