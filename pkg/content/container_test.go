package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncQueue runs submitted jobs immediately on the calling goroutine, which
// makes container construction deterministic in tests.
type syncQueue struct {
	mu    sync.Mutex
	kinds []string
}

func (q *syncQueue) Submit(kind, projectID string, run func(ctx context.Context)) {
	q.mu.Lock()
	q.kinds = append(q.kinds, kind)
	q.mu.Unlock()
	run(context.Background())
}

// manualQueue collects jobs for explicit stepping.
type manualQueue struct {
	mu   sync.Mutex
	jobs []func(ctx context.Context)
}

func (q *manualQueue) Submit(kind, projectID string, run func(ctx context.Context)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, run)
}

func (q *manualQueue) runAll() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()
		job(context.Background())
	}
}

func (q *manualQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// memCache is an in-memory ContentCache with save accounting.
type memCache struct {
	mu    sync.Mutex
	blobs map[string]*ProjectContent
	saves int
}

func newMemCache() *memCache {
	return &memCache{blobs: map[string]*ProjectContent{}}
}

func (c *memCache) Load(projectPath string) *ProjectContent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blobs[projectPath]
}

func (c *memCache) Save(projectPath string, pc *ProjectContent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blobs[projectPath] = pc
	c.saves++
	return nil
}

func (c *memCache) saveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

// memOwnership is an in-memory OwnershipRegistry.
type memOwnership struct {
	mu     sync.Mutex
	owners map[string]map[string]bool
}

func newMemOwnership() *memOwnership {
	return &memOwnership{owners: map[string]map[string]bool{}}
}

func (o *memOwnership) AddOwner(path, projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.owners[path] == nil {
		o.owners[path] = map[string]bool{}
	}
	o.owners[path][projectID] = true
}

func (o *memOwnership) RemoveOwner(path, projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.owners[path], projectID)
	if len(o.owners[path]) == 0 {
		delete(o.owners, path)
	}
}

func (o *memOwnership) owned(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.owners[path]) > 0
}

// memShutdown records registrations and waits for completion.
type memShutdown struct {
	wg sync.WaitGroup
}

func (s *memShutdown) Register(name string) func() {
	s.wg.Add(1)
	var once sync.Once
	return func() { once.Do(s.wg.Done) }
}

func seedProject(t *testing.T, dir string, fileCount int) Seed {
	t.Helper()
	seed := Seed{
		ProjectID:   "proj-1",
		ProjectName: "App",
		ProjectPath: filepath.Join(dir, "app.idxproj"),
	}
	for i := 0; i < fileCount; i++ {
		path := filepath.Join(dir, fmt.Sprintf("src%d.go", i))
		require.NoError(t, os.WriteFile(path, []byte("func F() {}"), 0o644))
		seed.Items = append(seed.Items, ProjectItem{Kind: ItemCompile, Path: path})
	}
	return seed
}

func waitReady(t *testing.T, c *Container) {
	t.Helper()
	select {
	case <-c.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("container never became ready")
	}
}

func TestContainer_InitialLoad(t *testing.T) {
	dir := t.TempDir()
	seed := seedProject(t, dir, 3)
	lib := writeTempFile(t, dir, "Lib.dll")
	seed.Items = append(seed.Items,
		ProjectItem{Kind: ItemAssemblyReference, Path: lib, Name: "Lib"},
		ProjectItem{Kind: ItemAssemblyReference, Path: filepath.Join(dir, "gone.dll"), Name: "Gone"},
		ProjectItem{Kind: ItemProjectReference, Name: "Core", ProjectID: "proj-core"},
	)
	seed.AssemblyName = "App"

	ownership := newMemOwnership()
	c := NewContainer(seed, Dependencies{
		Queue:     &syncQueue{},
		Ownership: ownership,
		Parser:    &recordingParser{},
	})
	waitReady(t, c)

	idx := c.CurrentIndex()
	assert.Equal(t, "App", idx.AssemblyName())
	assert.Equal(t, 3, idx.FileCount())
	assert.Equal(t, 2, idx.ReferenceCount(), "missing assembly is skipped, project ref kept")
	assert.Equal(t, 3, c.LastParseCounts().Parsed)
	assert.True(t, c.Dirty(), "freshly parsed content is unsaved")
	assert.True(t, ownership.owned(seed.Items[0].Path))
}

func TestContainer_CacheHitLoadStaysClean(t *testing.T) {
	dir := t.TempDir()
	seed := seedProject(t, dir, 3)

	// Populate the cache with entries that carry the exact on-disk
	// timestamps, as a previous session's save would have.
	cache := newMemCache()
	cached := NewProjectContent("App", "", CompilerSettings{})
	for _, it := range seed.Items {
		info, err := os.Stat(it.Path)
		require.NoError(t, err)
		cached = cached.WithUpdatedFile(nil, &UnresolvedFile{
			Path:          it.Path,
			LastWriteTime: info.ModTime(),
			Symbols:       []Symbol{{Name: "Restored", Kind: SymbolType}},
		})
	}
	cache.blobs[seed.ProjectPath] = cached

	parser := &recordingParser{}
	c := NewContainer(seed, Dependencies{
		Queue:  &syncQueue{},
		Parser: parser,
		Cache:  cache,
	})
	waitReady(t, c)

	counts := c.LastParseCounts()
	assert.Equal(t, 3, counts.FromCache)
	assert.Equal(t, 0, counts.Parsed)
	assert.Equal(t, 0, parser.parsedCount(), "cache hits must not reach the parser")
	assert.False(t, c.Dirty(), "an index rebuilt purely from cache is not dirty")

	// Disposing a clean container must not rewrite the cache.
	c.Dispose()
	assert.Equal(t, 0, cache.saveCount())
}

func TestContainer_DisposeDirtyWritesCacheOnce(t *testing.T) {
	dir := t.TempDir()
	seed := seedProject(t, dir, 2)

	cache := newMemCache()
	shutdown := &memShutdown{}
	c := NewContainer(seed, Dependencies{
		Queue:    &syncQueue{},
		Parser:   &recordingParser{},
		Cache:    cache,
		Shutdown: shutdown,
	})
	waitReady(t, c)
	require.True(t, c.Dirty())

	c.Dispose()
	c.Dispose() // idempotent
	shutdown.wg.Wait()

	assert.Equal(t, 1, cache.saveCount())
	saved := cache.Load(seed.ProjectPath)
	require.NotNil(t, saved)
	assert.Equal(t, 2, saved.FileCount())
}

func TestContainer_DisposeReleasesOwnership(t *testing.T) {
	dir := t.TempDir()
	seed := seedProject(t, dir, 2)

	ownership := newMemOwnership()
	c := NewContainer(seed, Dependencies{
		Queue:     &syncQueue{},
		Ownership: ownership,
		Parser:    &recordingParser{},
	})
	waitReady(t, c)
	require.True(t, ownership.owned(seed.Items[0].Path))

	c.Dispose()
	assert.False(t, ownership.owned(seed.Items[0].Path))
	assert.False(t, ownership.owned(seed.Items[1].Path))
}

func TestContainer_SettersSkipNoOps(t *testing.T) {
	dir := t.TempDir()
	seed := seedProject(t, dir, 0)
	seed.AssemblyName = "App"
	seed.OutputPath = "bin/App.dll"

	var invalidations int
	var mu sync.Mutex
	c := NewContainer(seed, Dependencies{
		Queue:  &syncQueue{},
		Parser: &recordingParser{},
		Invalidate: func() {
			mu.Lock()
			invalidations++
			mu.Unlock()
		},
	})
	waitReady(t, c)
	require.False(t, c.Dirty())
	mu.Lock()
	base := invalidations
	mu.Unlock()

	c.SetAssemblyName("App")
	c.SetOutputPath("bin/App.dll")
	c.SetCompilerSettings(CompilerSettings{})
	assert.False(t, c.Dirty(), "unchanged values must not dirty the index")
	mu.Lock()
	assert.Equal(t, base, invalidations, "no-op updates must not invalidate")
	mu.Unlock()

	c.SetAssemblyName("App2")
	assert.True(t, c.Dirty())
	assert.Equal(t, "App2", c.CurrentIndex().AssemblyName())
	mu.Lock()
	assert.Equal(t, base+1, invalidations)
	mu.Unlock()
}

func TestContainer_ReparseRequestsCoalesce(t *testing.T) {
	dir := t.TempDir()
	seed := seedProject(t, dir, 1)

	queue := &manualQueue{}
	c := NewContainer(seed, Dependencies{
		Queue:  queue,
		Parser: &recordingParser{},
	})
	queue.runAll() // initial load
	waitReady(t, c)

	c.RequestReparseAllFiles()
	c.RequestReparseAllFiles()
	c.RequestReparseAllFiles()
	assert.Equal(t, 1, queue.pending(), "burst of requests must collapse to one job")

	queue.runAll()
	c.RequestReparseAllFiles()
	assert.Equal(t, 1, queue.pending(), "after the job finished a new request enqueues again")
	queue.runAll()
}

func TestContainer_ReResolveRequestsCoalesce(t *testing.T) {
	dir := t.TempDir()
	seed := seedProject(t, dir, 0)

	queue := &manualQueue{}
	c := NewContainer(seed, Dependencies{
		Queue:  queue,
		Parser: &recordingParser{},
	})
	queue.runAll()
	waitReady(t, c)

	c.RequestReResolveReferences()
	c.RequestReResolveReferences()
	assert.Equal(t, 1, queue.pending())
	queue.runAll()
}

func TestContainer_ConcurrentNotifyFileParsed(t *testing.T) {
	dir := t.TempDir()
	seed := seedProject(t, dir, 0)

	c := NewContainer(seed, Dependencies{
		Queue:  &syncQueue{},
		Parser: &recordingParser{},
	})
	waitReady(t, c)

	const n = 1000
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.NotifyFileParsed(nil, &UnresolvedFile{
				Path:          fmt.Sprintf("gen%d.go", i),
				LastWriteTime: time.Now(),
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, n, c.CurrentIndex().FileCount(), "no concurrent update may be lost")
	assert.True(t, c.Dirty())
}

func TestContainer_ItemAddedSchedulesParse(t *testing.T) {
	dir := t.TempDir()
	seed := seedProject(t, dir, 1)

	ownership := newMemOwnership()
	queue := &manualQueue{}
	c := NewContainer(seed, Dependencies{
		Queue:     queue,
		Ownership: ownership,
		Parser:    &recordingParser{},
	})
	queue.runAll()
	waitReady(t, c)

	added := filepath.Join(dir, "added.go")
	require.NoError(t, os.WriteFile(added, []byte("func G() {}"), 0o644))

	c.OnProjectItemAdded(ProjectItem{Kind: ItemCompile, Path: added})
	assert.True(t, ownership.owned(added), "ownership is registered before parsing")
	require.Equal(t, 1, queue.pending())
	queue.runAll()

	require.NotNil(t, c.CurrentIndex().File(added))
	assert.Equal(t, 2, c.CurrentIndex().FileCount())
}

func TestContainer_ItemRemovedDropsFile(t *testing.T) {
	dir := t.TempDir()
	seed := seedProject(t, dir, 2)

	ownership := newMemOwnership()
	c := NewContainer(seed, Dependencies{
		Queue:     &syncQueue{},
		Ownership: ownership,
		Parser:    &recordingParser{},
	})
	waitReady(t, c)
	target := seed.Items[0]

	c.OnProjectItemRemoved(target)
	assert.Nil(t, c.CurrentIndex().File(target.Path))
	assert.Equal(t, 1, c.CurrentIndex().FileCount())
	assert.False(t, ownership.owned(target.Path))
}

func TestContainer_ReferenceItemChangeTriggersReResolve(t *testing.T) {
	dir := t.TempDir()
	seed := seedProject(t, dir, 0)

	queue := &manualQueue{}
	c := NewContainer(seed, Dependencies{
		Queue:  queue,
		Parser: &recordingParser{},
	})
	queue.runAll()
	waitReady(t, c)

	lib := writeTempFile(t, dir, "New.dll")
	c.OnProjectItemAdded(ProjectItem{Kind: ItemAssemblyReference, Path: lib, Name: "New"})
	require.Equal(t, 1, queue.pending())
	queue.runAll()

	require.Equal(t, 1, c.CurrentIndex().ReferenceCount())
	assert.Equal(t, "New", c.CurrentIndex().References()[0].Name)

	// Removing it re-resolves down to the empty set.
	c.OnProjectItemRemoved(ProjectItem{Kind: ItemAssemblyReference, Path: lib, Name: "New"})
	queue.runAll()
	assert.Equal(t, 0, c.CurrentIndex().ReferenceCount())
}

func TestContainer_EventsAfterDisposeAreIgnored(t *testing.T) {
	dir := t.TempDir()
	seed := seedProject(t, dir, 1)

	c := NewContainer(seed, Dependencies{
		Queue:  &syncQueue{},
		Parser: &recordingParser{},
	})
	waitReady(t, c)
	before := c.CurrentIndex()
	c.Dispose()

	c.NotifyFileParsed(nil, &UnresolvedFile{Path: "late.go", LastWriteTime: time.Now()})
	c.SetAssemblyName("Late")
	c.OnProjectItemAdded(ProjectItem{Kind: ItemCompile, Path: "late2.go"})

	assert.Equal(t, before.FileCount(), c.CurrentIndex().FileCount())
	assert.Equal(t, before.AssemblyName(), c.CurrentIndex().AssemblyName())
}

// eventBus is a minimal ItemEvents for subscription lifecycle tests.
type eventBus struct {
	mu       sync.Mutex
	handlers map[int]func(ProjectItem, bool)
	next     int
}

func (b *eventBus) SubscribeItems(projectID string, fn func(ProjectItem, bool)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = map[int]func(ProjectItem, bool){}
	}
	id := b.next
	b.next++
	b.handlers[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

func (b *eventBus) publish(item ProjectItem, removed bool) {
	b.mu.Lock()
	hs := make([]func(ProjectItem, bool), 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(item, removed)
	}
}

func TestContainer_SubscribesAndUnsubscribes(t *testing.T) {
	dir := t.TempDir()
	seed := seedProject(t, dir, 0)

	bus := &eventBus{}
	queue := &manualQueue{}
	c := NewContainer(seed, Dependencies{
		Queue:  queue,
		Parser: &recordingParser{},
		Events: bus,
	})
	queue.runAll()
	waitReady(t, c)

	added := filepath.Join(dir, "evt.go")
	require.NoError(t, os.WriteFile(added, []byte("func H() {}"), 0o644))
	bus.publish(ProjectItem{Kind: ItemCompile, Path: added}, false)
	queue.runAll()
	require.NotNil(t, c.CurrentIndex().File(added))

	c.Dispose()
	bus.mu.Lock()
	remaining := len(bus.handlers)
	bus.mu.Unlock()
	assert.Equal(t, 0, remaining, "dispose must cancel the subscription")
}
