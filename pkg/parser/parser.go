// Package parser produces unresolved symbol summaries from source files
// using tree-sitter grammars. Results for on-disk files are memoized in an
// LRU keyed by path and modification time so sources shared between
// projects parse once.
package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/symbolindex/indexd/pkg/content"
)

// DefaultMemoSize is the default size of the parse memo.
const DefaultMemoSize = 1024

// language pairs a tree-sitter grammar with its declaration query.
type language struct {
	lang  *sitter.Language
	query string
}

const goQuery = `
(function_declaration name: (identifier) @function)
(method_declaration name: (field_identifier) @method)
(type_spec name: (type_identifier) @type)
`

const pythonQuery = `
(class_definition name: (identifier) @type)
(function_definition name: (identifier) @function)
`

const csharpQuery = `
(class_declaration name: (identifier) @type)
(interface_declaration name: (identifier) @type)
(struct_declaration name: (identifier) @type)
(enum_declaration name: (identifier) @type)
(method_declaration name: (identifier) @method)
(property_declaration name: (identifier) @field)
`

var languages = map[string]language{
	".go": {lang: golang.GetLanguage(), query: goQuery},
	".py": {lang: python.GetLanguage(), query: pythonQuery},
	".cs": {lang: csharp.GetLanguage(), query: csharpQuery},
}

var captureKinds = map[string]content.SymbolKind{
	"type":     content.SymbolType,
	"function": content.SymbolFunction,
	"method":   content.SymbolMethod,
	"field":    content.SymbolField,
}

// IsParseable reports whether a grammar is registered for the file's
// extension.
func IsParseable(path string) bool {
	_, ok := languages[filepath.Ext(path)]
	return ok
}

// TreeSitterParser implements content.FileParser.
type TreeSitterParser struct {
	memo *lru.Cache[string, *content.UnresolvedFile]
}

// NewTreeSitterParser returns a parser with a memo of the given size; zero
// or negative means DefaultMemoSize.
func NewTreeSitterParser(memoSize int) (*TreeSitterParser, error) {
	if memoSize <= 0 {
		memoSize = DefaultMemoSize
	}
	memo, err := lru.New[string, *content.UnresolvedFile](memoSize)
	if err != nil {
		return nil, fmt.Errorf("create parse memo: %w", err)
	}
	return &TreeSitterParser{memo: memo}, nil
}

// Parse parses one source file. A nil src reads the file from disk and
// stamps the result with the on-disk modification time; non-nil src is
// unsaved editor content and yields a non-serializable result.
func (p *TreeSitterParser) Parse(ctx context.Context, path string, src []byte) (*content.UnresolvedFile, error) {
	var modTime time.Time
	fromDisk := src == nil
	if fromDisk {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		modTime = info.ModTime()

		key := memoKey(path, modTime)
		if hit, ok := p.memo.Get(key); ok {
			return hit, nil
		}
		src, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	symbols, err := extractSymbols(ctx, path, src)
	if err != nil {
		return nil, err
	}
	f := &content.UnresolvedFile{
		Path:          path,
		LastWriteTime: modTime,
		Symbols:       symbols,
	}
	if fromDisk {
		p.memo.Add(memoKey(path, modTime), f)
	}
	return f, nil
}

func memoKey(path string, modTime time.Time) string {
	return fmt.Sprintf("%s|%d", path, modTime.UnixNano())
}

func extractSymbols(ctx context.Context, path string, src []byte) ([]content.Symbol, error) {
	spec, ok := languages[filepath.Ext(path)]
	if !ok {
		// No grammar for this extension; index the file with no symbols.
		log.Debug().Str("path", path).Msg("No grammar registered, indexing without symbols")
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(spec.lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	query, err := sitter.NewQuery([]byte(spec.query), spec.lang)
	if err != nil {
		return nil, fmt.Errorf("compile declaration query for %s: %w", path, err)
	}
	defer query.Close()

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(query, tree.RootNode())

	var symbols []content.Symbol
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		for _, capture := range match.Captures {
			kind, ok := captureKinds[query.CaptureNameForId(capture.Index)]
			if !ok {
				continue
			}
			symbols = append(symbols, content.Symbol{
				Name: capture.Node.Content(src),
				Kind: kind,
				Line: capture.Node.StartPoint().Row,
			})
		}
	}
	sort.Slice(symbols, func(i, j int) bool {
		if symbols[i].Line != symbols[j].Line {
			return symbols[i].Line < symbols[j].Line
		}
		return symbols[i].Name < symbols[j].Name
	})
	return symbols, nil
}
