package content

import (
	"fmt"
	"time"
)

// SymbolKind classifies a declared symbol inside a source file.
type SymbolKind uint8

const (
	// SymbolType is a type-level declaration (class, struct, interface, enum).
	SymbolType SymbolKind = iota
	// SymbolFunction is a free function declaration.
	SymbolFunction
	// SymbolMethod is a method bound to a type.
	SymbolMethod
	// SymbolField is a field or property declaration.
	SymbolField
)

// String returns the string representation of the symbol kind.
func (k SymbolKind) String() string {
	switch k {
	case SymbolType:
		return "type"
	case SymbolFunction:
		return "function"
	case SymbolMethod:
		return "method"
	case SymbolField:
		return "field"
	default:
		return "unknown"
	}
}

// Symbol is one declared symbol in a source file, before cross-file
// resolution. Line is zero-based.
type Symbol struct {
	Name string
	Kind SymbolKind
	Line uint32
}

// UnresolvedFile is an immutable snapshot of one source file's declared
// symbols. It is produced by parsing and replaced wholesale when the file
// changes; callers must never mutate a published instance.
type UnresolvedFile struct {
	Path          string
	LastWriteTime time.Time
	Symbols       []Symbol
}

// Serializable reports whether the file may be written to the on-disk cache.
// Files parsed from unsaved editor buffers carry a zero timestamp and are
// not serializable.
func (f *UnresolvedFile) Serializable() bool {
	return f != nil && !f.LastWriteTime.IsZero()
}

// AssemblyReference is a resolved external or inter-project symbol provider.
// Exactly one of Path (external binary) or ProjectID (in-solution project)
// is set.
type AssemblyReference struct {
	Name      string
	Path      string
	ProjectID string
	ModTime   time.Time
}

// Key uniquely identifies the reference within a project's reference set.
func (r AssemblyReference) Key() string {
	if r.ProjectID != "" {
		return "project:" + r.ProjectID
	}
	return "file:" + r.Path
}

// IsProject reports whether the reference points at an in-solution project.
func (r AssemblyReference) IsProject() bool {
	return r.ProjectID != ""
}

// CompilerSettings holds the subset of compiler options that affect parsing.
// The struct is comparable; containers use equality to skip no-op updates.
type CompilerSettings struct {
	LanguageVersion string
	Platform        string
	Defines         string
}

// ItemKind classifies a project item.
type ItemKind uint8

const (
	// ItemCompile is a parseable source file.
	ItemCompile ItemKind = iota
	// ItemAssemblyReference is a reference to an external binary on disk.
	ItemAssemblyReference
	// ItemProjectReference is a reference to another project in the solution.
	ItemProjectReference
)

// String returns the string representation of the item kind.
func (k ItemKind) String() string {
	switch k {
	case ItemCompile:
		return "compile"
	case ItemAssemblyReference:
		return "reference"
	case ItemProjectReference:
		return "projectreference"
	default:
		return "unknown"
	}
}

// ProjectItem is one declared item of a project: a source file to parse or
// a reference to resolve.
type ProjectItem struct {
	Kind      ItemKind
	Path      string
	Name      string
	ProjectID string
}

// IsReference reports whether the item participates in reference resolution.
func (it ProjectItem) IsReference() bool {
	return it.Kind == ItemAssemblyReference || it.Kind == ItemProjectReference
}

func (it ProjectItem) String() string {
	return fmt.Sprintf("%s(%s)", it.Kind, it.Path)
}
