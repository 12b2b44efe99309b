package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbolindex/indexd/pkg/content"
)

const goSample = `package sample

type Store struct{}

func (s *Store) Get(key string) string { return "" }

func NewStore() *Store { return &Store{} }
`

const pythonSample = `class Parser:
    def parse(self):
        pass

def main():
    pass
`

func symbolNames(symbols []content.Symbol, kind content.SymbolKind) []string {
	var names []string
	for _, s := range symbols {
		if s.Kind == kind {
			names = append(names, s.Name)
		}
	}
	return names
}

func TestIsParseable(t *testing.T) {
	assert.True(t, IsParseable("/src/main.go"))
	assert.True(t, IsParseable("/src/script.py"))
	assert.True(t, IsParseable("/src/Program.cs"))
	assert.False(t, IsParseable("/src/readme.md"))
	assert.False(t, IsParseable("/src/Makefile"))
}

func TestParse_GoSource(t *testing.T) {
	p, err := NewTreeSitterParser(0)
	require.NoError(t, err)

	f, err := p.Parse(context.Background(), "/virtual/sample.go", []byte(goSample))
	require.NoError(t, err)

	assert.False(t, f.Serializable(), "in-memory content carries no timestamp")
	assert.Equal(t, []string{"Store"}, symbolNames(f.Symbols, content.SymbolType))
	assert.Equal(t, []string{"Get"}, symbolNames(f.Symbols, content.SymbolMethod))
	assert.Equal(t, []string{"NewStore"}, symbolNames(f.Symbols, content.SymbolFunction))
}

func TestParse_SymbolsOrderedByLine(t *testing.T) {
	p, err := NewTreeSitterParser(0)
	require.NoError(t, err)

	f, err := p.Parse(context.Background(), "/virtual/sample.go", []byte(goSample))
	require.NoError(t, err)
	require.NotEmpty(t, f.Symbols)

	for i := 1; i < len(f.Symbols); i++ {
		assert.LessOrEqual(t, f.Symbols[i-1].Line, f.Symbols[i].Line)
	}
	assert.Equal(t, uint32(2), f.Symbols[0].Line, "lines are zero-based")
}

func TestParse_PythonSource(t *testing.T) {
	p, err := NewTreeSitterParser(0)
	require.NoError(t, err)

	f, err := p.Parse(context.Background(), "/virtual/sample.py", []byte(pythonSample))
	require.NoError(t, err)

	assert.Equal(t, []string{"Parser"}, symbolNames(f.Symbols, content.SymbolType))
	assert.ElementsMatch(t, []string{"parse", "main"}, symbolNames(f.Symbols, content.SymbolFunction))
}

func TestParse_UnknownExtensionYieldsNoSymbols(t *testing.T) {
	p, err := NewTreeSitterParser(0)
	require.NoError(t, err)

	f, err := p.Parse(context.Background(), "/virtual/notes.txt", []byte("just text"))
	require.NoError(t, err)
	assert.Empty(t, f.Symbols)
}

func TestParse_FromDiskStampsModTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.go")
	require.NoError(t, os.WriteFile(path, []byte(goSample), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)

	p, err := NewTreeSitterParser(0)
	require.NoError(t, err)

	f, err := p.Parse(context.Background(), path, nil)
	require.NoError(t, err)
	assert.True(t, f.Serializable())
	assert.True(t, f.LastWriteTime.Equal(info.ModTime()))
}

func TestParse_MemoHitReturnsSameSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.go")
	require.NoError(t, os.WriteFile(path, []byte(goSample), 0o644))

	p, err := NewTreeSitterParser(8)
	require.NoError(t, err)

	first, err := p.Parse(context.Background(), path, nil)
	require.NoError(t, err)
	second, err := p.Parse(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Same(t, first, second, "unchanged file must hit the memo")

	// Touching the file with a new timestamp invalidates the memo key.
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))
	third, err := p.Parse(context.Background(), path, nil)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestParse_MissingFile(t *testing.T) {
	p, err := NewTreeSitterParser(0)
	require.NoError(t, err)

	_, err = p.Parse(context.Background(), filepath.Join(t.TempDir(), "gone.go"), nil)
	assert.Error(t, err)
}

func TestOpenDocuments_Overlay(t *testing.T) {
	docs := NewOpenDocuments()

	_, ok := docs.OpenContent("/src/a.go")
	assert.False(t, ok)

	buf := []byte("package live")
	docs.Set("/src/a.go", buf)
	got, ok := docs.OpenContent("/src/a.go")
	require.True(t, ok)
	assert.Equal(t, "package live", string(got))

	// The overlay copies: mutating the caller's buffer must not leak in.
	buf[0] = 'X'
	got, _ = docs.OpenContent("/src/a.go")
	assert.Equal(t, "package live", string(got))

	docs.Remove("/src/a.go")
	_, ok = docs.OpenContent("/src/a.go")
	assert.False(t, ok)
}
