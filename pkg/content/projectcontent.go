package content

// ProjectContent is the immutable aggregate of everything the index knows
// about one project: parsed files, resolved references and the assembly
// metadata. Mutations go through the With* methods, which return a new value
// sharing unchanged state with the old one. Containers publish a new value
// by swapping a single pointer under their lock, so readers always observe
// a complete, consistent snapshot.
type ProjectContent struct {
	assemblyName     string
	outputPath       string
	compilerSettings CompilerSettings
	files            map[string]*UnresolvedFile
	references       map[string]AssemblyReference
}

// NewProjectContent returns an empty content value for a project.
func NewProjectContent(assemblyName, outputPath string, settings CompilerSettings) *ProjectContent {
	return &ProjectContent{
		assemblyName:     assemblyName,
		outputPath:       outputPath,
		compilerSettings: settings,
		files:            map[string]*UnresolvedFile{},
		references:       map[string]AssemblyReference{},
	}
}

// AssemblyName returns the project's output assembly name.
func (pc *ProjectContent) AssemblyName() string { return pc.assemblyName }

// OutputPath returns the project's output location.
func (pc *ProjectContent) OutputPath() string { return pc.outputPath }

// CompilerSettings returns the compiler options the content was parsed with.
func (pc *ProjectContent) CompilerSettings() CompilerSettings { return pc.compilerSettings }

// File returns the unresolved file for path, or nil if the path is unknown.
func (pc *ProjectContent) File(path string) *UnresolvedFile {
	return pc.files[path]
}

// FileCount returns the number of indexed files.
func (pc *ProjectContent) FileCount() int { return len(pc.files) }

// Files returns all indexed files. The slice is freshly allocated; the
// elements are shared immutable snapshots.
func (pc *ProjectContent) Files() []*UnresolvedFile {
	out := make([]*UnresolvedFile, 0, len(pc.files))
	for _, f := range pc.files {
		out = append(out, f)
	}
	return out
}

// References returns the active assembly reference set.
func (pc *ProjectContent) References() []AssemblyReference {
	out := make([]AssemblyReference, 0, len(pc.references))
	for _, r := range pc.references {
		out = append(out, r)
	}
	return out
}

// ReferenceCount returns the number of resolved references.
func (pc *ProjectContent) ReferenceCount() int { return len(pc.references) }

func (pc *ProjectContent) clone() *ProjectContent {
	files := make(map[string]*UnresolvedFile, len(pc.files))
	for k, v := range pc.files {
		files[k] = v
	}
	refs := make(map[string]AssemblyReference, len(pc.references))
	for k, v := range pc.references {
		refs[k] = v
	}
	return &ProjectContent{
		assemblyName:     pc.assemblyName,
		outputPath:       pc.outputPath,
		compilerSettings: pc.compilerSettings,
		files:            files,
		references:       refs,
	}
}

// WithAssemblyName returns a copy with the assembly name replaced.
func (pc *ProjectContent) WithAssemblyName(name string) *ProjectContent {
	next := pc.clone()
	next.assemblyName = name
	return next
}

// WithOutputPath returns a copy with the output location replaced.
func (pc *ProjectContent) WithOutputPath(path string) *ProjectContent {
	next := pc.clone()
	next.outputPath = path
	return next
}

// WithCompilerSettings returns a copy with the compiler settings replaced.
func (pc *ProjectContent) WithCompilerSettings(settings CompilerSettings) *ProjectContent {
	next := pc.clone()
	next.compilerSettings = settings
	return next
}

// WithUpdatedFile returns a copy with old removed and new added. Either may
// be nil: (nil, f) adds, (f, nil) removes, (old, new) replaces. When old and
// new share a path the replacement is last-writer-wins.
func (pc *ProjectContent) WithUpdatedFile(old, new *UnresolvedFile) *ProjectContent {
	next := pc.clone()
	if old != nil {
		delete(next.files, old.Path)
	}
	if new != nil {
		next.files[new.Path] = new
	}
	return next
}

// WithoutFile returns a copy with the file at path removed.
func (pc *ProjectContent) WithoutFile(path string) *ProjectContent {
	next := pc.clone()
	delete(next.files, path)
	return next
}

// WithReferences returns a copy whose reference set is exactly refs. The old
// set is discarded wholesale; resolution always produces a full replacement
// list, never a delta.
func (pc *ProjectContent) WithReferences(refs []AssemblyReference) *ProjectContent {
	next := pc.clone()
	next.references = make(map[string]AssemblyReference, len(refs))
	for _, r := range refs {
		next.references[r.Key()] = r
	}
	return next
}

// WithoutReferences returns a copy with an empty reference set. The cache
// codec uses this to strip references before persisting.
func (pc *ProjectContent) WithoutReferences() *ProjectContent {
	next := pc.clone()
	next.references = map[string]AssemblyReference{}
	return next
}
