package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTree(t *testing.T) {
	root := WriteTree(t, Tree{
		"docs/features/core.md": "## FT-CORE-001 - Thing\n",
		"tools/x.py":            "class X: pass\n",
	})

	data, err := os.ReadFile(filepath.Join(root, "docs", "features", "core.md"))
	require.NoError(t, err)
	assert.Equal(t, "## FT-CORE-001 - Thing\n", string(data))
}

func TestMapFS(t *testing.T) {
	fsys := MapFS(Tree{"a/b.md": "x"})

	data, err := fs.ReadFile(fsys, "a/b.md")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestLines(t *testing.T) {
	assert.Equal(t, "a\nb\n", Lines("a", "b"))
}

func TestLineDiff(t *testing.T) {
	assert.Empty(t, LineDiff("a\nb", "a\nb"))

	diff := LineDiff("a\nb", "a\nc")
	assert.Contains(t, diff, "@@ line 2 @@")
	assert.Contains(t, diff, "-b")
	assert.Contains(t, diff, "+c")
}
