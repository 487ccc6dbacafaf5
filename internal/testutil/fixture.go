// Package testutil provides corpus fixtures and golden-file helpers for tests.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"testing/fstest"
)

// Tree is a fixture repository: slash path to file content.
type Tree map[string]string

// WriteTree materialises tree under a fresh temp dir and returns its root.
func WriteTree(t *testing.T, tree Tree) string {
	t.Helper()

	root := t.TempDir()
	for rel, content := range tree {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("Failed to create fixture dir for %s: %v", rel, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write fixture %s: %v", rel, err)
		}
	}
	return root
}

// MapFS converts tree into an in-memory filesystem.
func MapFS(tree Tree) fstest.MapFS {
	fsys := make(fstest.MapFS, len(tree))
	for rel, content := range tree {
		fsys[strings.TrimPrefix(rel, "/")] = &fstest.MapFile{Data: []byte(content), Mode: 0o644}
	}
	return fsys
}

// Lines joins lines with newlines and a trailing newline, for readable fixtures.
func Lines(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// TestdataDir returns the absolute path to the repository's testdata directory.
func TestdataDir(t *testing.T) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get caller information")
	}
	// internal/testutil -> project root
	return filepath.Join(filepath.Dir(filepath.Dir(filepath.Dir(thisFile))), "testdata")
}
