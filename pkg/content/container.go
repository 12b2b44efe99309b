package content

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Job kinds submitted to the shared scheduler.
const (
	JobKindLoad      = "load"
	JobKindReparse   = "reparse"
	JobKindReResolve = "re-resolve"
	JobKindParseFile = "parse-file"
)

// Seed describes the project a container is constructed for.
type Seed struct {
	ProjectID    string
	ProjectName  string
	ProjectPath  string
	AssemblyName string
	OutputPath   string
	Settings     CompilerSettings
	Items        []ProjectItem
}

// Dependencies are the collaborators a container needs. Queue and Parser
// are required; the rest may be nil, which disables the corresponding
// behavior (no cache, no ownership tracking, no events, no progress).
type Dependencies struct {
	Queue      JobScheduler
	Shutdown   ShutdownCoordinator
	Ownership  OwnershipRegistry
	Docs       OpenDocumentProvider
	Parser     FileParser
	Loader     AssemblyLoader
	Cache      ContentCache
	Events     ItemEvents
	Invalidate func()
	Progress   func(kind string, fraction float64)
	OnParsed   func(counts ParseCounts)
	Workers    int
}

// Container is the single authoritative owner of one project's symbol
// index. All mutations are serialized through one lock, which is only ever
// held for in-memory pointer swaps; the container never calls the parser,
// loader or cache while holding it.
type Container struct {
	projectID   string
	projectName string
	projectPath string
	deps        Dependencies
	logger      zerolog.Logger

	mu       sync.Mutex
	content  *ProjectContent
	items    []ProjectItem
	dirty    bool
	disposed bool

	// cacheSeed is the snapshot loaded at construction, consumed by the
	// initial load job and released afterwards.
	cacheSeed  *ProjectContent
	lastCounts ParseCounts

	reparse   jobFlag
	reresolve jobFlag

	unsubscribe func()
	initDone    chan struct{}
	initOnce    sync.Once
}

// NewContainer constructs a container for the seeded project. It registers
// file ownership synchronously (without parsing), subscribes to item
// events, then submits one background job that resolves references and
// parses all files concurrently. Construction returns immediately; use
// Ready to observe initialization completion.
func NewContainer(seed Seed, deps Dependencies) *Container {
	c := &Container{
		projectID:   seed.ProjectID,
		projectName: seed.ProjectName,
		projectPath: seed.ProjectPath,
		deps:        deps,
		logger: log.With().
			Str("project", seed.ProjectName).
			Str("project_id", seed.ProjectID).
			Logger(),
		content:  NewProjectContent(seed.AssemblyName, seed.OutputPath, seed.Settings),
		items:    append([]ProjectItem(nil), seed.Items...),
		initDone: make(chan struct{}),
	}

	if deps.Cache != nil {
		c.cacheSeed = deps.Cache.Load(seed.ProjectPath)
	}

	if deps.Ownership != nil {
		for _, it := range seed.Items {
			if it.Kind == ItemCompile {
				deps.Ownership.AddOwner(it.Path, c.projectID)
			}
		}
	}

	if deps.Events != nil {
		c.unsubscribe = deps.Events.SubscribeItems(c.projectID, c.handleItemEvent)
	}

	c.deps.Queue.Submit(JobKindLoad, c.projectID, c.runInitialLoad)
	return c
}

// Ready is closed once the initial reference resolution and parse fan-out
// have both finished.
func (c *Container) Ready() <-chan struct{} {
	return c.initDone
}

// ProjectID returns the owning project's identity.
func (c *Container) ProjectID() string { return c.projectID }

// ProjectName returns the owning project's display name.
func (c *Container) ProjectName() string { return c.projectName }

// CurrentIndex returns the current immutable content snapshot.
func (c *Container) CurrentIndex() *ProjectContent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

// LastParseCounts returns the counts of the most recent parse fan-out.
func (c *Container) LastParseCounts() ParseCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCounts
}

// Dirty reports whether the index has changed since load or last save.
func (c *Container) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// NotifyFileParsed applies an add/remove delta to the index and marks it
// dirty. It is callable from any goroutine and never reparses
// synchronously.
func (c *Container) NotifyFileParsed(old, new *UnresolvedFile) {
	c.applyParsed(old, new, false)
}

func (c *Container) applyParsed(old, new *UnresolvedFile, fromCache bool) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.content = c.content.WithUpdatedFile(old, new)
	if !fromCache {
		c.dirty = true
	}
	c.mu.Unlock()
	c.invalidate()
}

// SetAssemblyName atomically replaces the assembly name. Unchanged values
// are a no-op.
func (c *Container) SetAssemblyName(name string) {
	c.mu.Lock()
	if c.disposed || c.content.AssemblyName() == name {
		c.mu.Unlock()
		return
	}
	c.content = c.content.WithAssemblyName(name)
	c.dirty = true
	c.mu.Unlock()
	c.invalidate()
}

// SetOutputPath atomically replaces the output location. Unchanged values
// are a no-op.
func (c *Container) SetOutputPath(path string) {
	c.mu.Lock()
	if c.disposed || c.content.OutputPath() == path {
		c.mu.Unlock()
		return
	}
	c.content = c.content.WithOutputPath(path)
	c.dirty = true
	c.mu.Unlock()
	c.invalidate()
}

// SetCompilerSettings atomically replaces the compiler settings. Unchanged
// values are a no-op.
func (c *Container) SetCompilerSettings(settings CompilerSettings) {
	c.mu.Lock()
	if c.disposed || c.content.CompilerSettings() == settings {
		c.mu.Unlock()
		return
	}
	c.content = c.content.WithCompilerSettings(settings)
	c.dirty = true
	c.mu.Unlock()
	c.invalidate()
}

// RequestReparseAllFiles schedules a reparse of every source file. Requests
// made while a reparse is already pending are coalesced into it.
func (c *Container) RequestReparseAllFiles() {
	if !c.reparse.request() {
		return
	}
	c.deps.Queue.Submit(JobKindReparse, c.projectID, func(ctx context.Context) {
		c.reparse.start()
		defer c.reparse.finish()
		c.runParseAll(ctx, JobKindReparse, nil)
	})
}

// RequestReResolveReferences schedules a re-resolution of the declared
// references. Requests made while one is already pending are coalesced.
func (c *Container) RequestReResolveReferences() {
	if !c.reresolve.request() {
		return
	}
	c.deps.Queue.Submit(JobKindReResolve, c.projectID, func(ctx context.Context) {
		c.reresolve.start()
		defer c.reresolve.finish()
		c.runResolve(ctx, JobKindReResolve)
	})
}

// OnProjectItemAdded reacts to a new project item: references trigger a
// re-resolve, source files are registered and parsed asynchronously.
func (c *Container) OnProjectItemAdded(item ProjectItem) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.items = append(c.items, item)
	c.mu.Unlock()

	if item.IsReference() {
		c.RequestReResolveReferences()
		return
	}
	if item.Kind != ItemCompile {
		return
	}
	if c.deps.Ownership != nil {
		c.deps.Ownership.AddOwner(item.Path, c.projectID)
	}
	path := item.Path
	c.deps.Queue.Submit(JobKindParseFile, c.projectID, func(ctx context.Context) {
		c.parseSingleFile(ctx, path)
	})
}

// OnProjectItemRemoved reacts to a removed project item: references trigger
// a re-resolve, source files are released and dropped from the index.
func (c *Container) OnProjectItemRemoved(item ProjectItem) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	for i, it := range c.items {
		if it == item {
			c.items = append(c.items[:i], c.items[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if item.IsReference() {
		c.RequestReResolveReferences()
		return
	}
	if item.Kind != ItemCompile {
		return
	}
	if c.deps.Ownership != nil {
		c.deps.Ownership.RemoveOwner(item.Path, c.projectID)
	}
	c.mu.Lock()
	if !c.disposed {
		if old := c.content.File(item.Path); old != nil {
			c.content = c.content.WithoutFile(item.Path)
			c.dirty = true
		}
	}
	c.mu.Unlock()
	c.invalidate()
}

// Dispose unsubscribes from item events, releases file ownerships and, if
// the index changed since load, enqueues an asynchronous best-effort cache
// write registered with the shutdown coordinator. Dispose is idempotent.
func (c *Container) Dispose() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	needSave := c.dirty
	c.dirty = false
	snapshot := c.content
	items := c.items
	c.mu.Unlock()

	if c.deps.Ownership != nil {
		for _, it := range items {
			if it.Kind == ItemCompile {
				c.deps.Ownership.RemoveOwner(it.Path, c.projectID)
			}
		}
	}

	if !needSave || c.deps.Cache == nil {
		return
	}
	var done func()
	if c.deps.Shutdown != nil {
		done = c.deps.Shutdown.Register("cache-write:" + c.projectName)
	}
	go func() {
		if done != nil {
			defer done()
		}
		if err := c.deps.Cache.Save(c.projectPath, snapshot); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to write content cache")
		}
	}()
}

// handleItemEvent is the event-handler boundary: unexpected panics during
// event-driven reparsing are caught and logged instead of crashing the
// host.
func (c *Container) handleItemEvent(item ProjectItem, removed bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Str("item", item.String()).
				Msg("Item event handler panicked")
		}
	}()
	if removed {
		c.OnProjectItemRemoved(item)
	} else {
		c.OnProjectItemAdded(item)
	}
}

func (c *Container) invalidate() {
	if c.deps.Invalidate != nil {
		c.deps.Invalidate()
	}
}

func (c *Container) progressFunc(kind string) ProgressFunc {
	if c.deps.Progress == nil {
		return nil
	}
	return func(fraction float64) {
		c.deps.Progress(kind, fraction)
	}
}

// runInitialLoad resolves references and parses all files concurrently,
// then signals readiness. The cache seed is consumed here and released.
func (c *Container) runInitialLoad(ctx context.Context) {
	defer c.initOnce.Do(func() { close(c.initDone) })

	c.mu.Lock()
	seed := c.cacheSeed
	c.cacheSeed = nil
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.runResolve(ctx, JobKindLoad)
	}()
	go func() {
		defer wg.Done()
		c.runParseAll(ctx, JobKindLoad, seed)
	}()
	wg.Wait()

	c.logger.Debug().
		Int("files", c.CurrentIndex().FileCount()).
		Int("references", c.CurrentIndex().ReferenceCount()).
		Msg("Project content initialized")
}

func (c *Container) runParseAll(ctx context.Context, kind string, cached *ProjectContent) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	var files []string
	for _, it := range c.items {
		if it.Kind == ItemCompile {
			files = append(files, it.Path)
		}
	}
	c.mu.Unlock()

	pp := &ParallelParser{Parser: c.deps.Parser, Docs: c.deps.Docs, Workers: c.deps.Workers}
	counts, err := pp.ParseAll(ctx, files, cached, c.applyParsed, NewProgress(c.progressFunc(kind)))
	if err != nil {
		c.logger.Warn().Err(err).Str("kind", kind).Msg("Parse job aborted")
		return
	}

	c.mu.Lock()
	c.lastCounts = counts
	c.mu.Unlock()

	if c.deps.OnParsed != nil {
		c.deps.OnParsed(counts)
	}
	c.logger.Debug().
		Int("from_cache", counts.FromCache).
		Int("parsed", counts.Parsed).
		Int("serializable", counts.ParsedSerializable).
		Str("kind", kind).
		Msg("Parse fan-out complete")
}

func (c *Container) runResolve(ctx context.Context, kind string) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	var refs []ProjectItem
	for _, it := range c.items {
		if it.IsReference() {
			refs = append(refs, it)
		}
	}
	c.mu.Unlock()

	loader := c.deps.Loader
	if loader == nil {
		loader = DiskAssemblyLoader{}
	}
	resolver := &ReferenceResolver{Loader: loader}
	resolved, err := resolver.Resolve(ctx, refs, NewProgress(c.progressFunc(kind)))
	if err != nil {
		c.logger.Warn().Err(err).Str("kind", kind).Msg("Reference resolution aborted")
		return
	}

	// Stale references are removed and the new set added in one critical
	// section so no reader sees a partial reference list.
	c.mu.Lock()
	if !c.disposed {
		c.content = c.content.WithReferences(resolved)
	}
	c.mu.Unlock()
	c.invalidate()
}

func (c *Container) parseSingleFile(ctx context.Context, path string) {
	var src []byte
	if c.deps.Docs != nil {
		if live, ok := c.deps.Docs.OpenContent(path); ok {
			src = live
		}
	}
	f, err := c.deps.Parser.Parse(ctx, path, src)
	if err != nil {
		c.logger.Warn().Str("path", path).Err(err).Msg("Failed to parse added file")
		return
	}
	c.mu.Lock()
	old := c.content.File(path)
	c.mu.Unlock()
	c.applyParsed(old, f, false)
}
