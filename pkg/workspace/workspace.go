// Package workspace owns the solution: one content container per project,
// the shared job queue, the ownership registry and the derived
// whole-solution snapshot.
package workspace

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/symbolindex/indexd/pkg/cache"
	"github.com/symbolindex/indexd/pkg/content"
	"github.com/symbolindex/indexd/pkg/jobs"
	"github.com/symbolindex/indexd/pkg/parser"
	"github.com/symbolindex/indexd/pkg/project"
	"github.com/symbolindex/indexd/pkg/storage"
)

// ProgressSink receives progress updates for UI hosts. Safe for concurrent
// calls.
type ProgressSink func(projectID, kind string, fraction float64)

// Config configures a workspace.
type Config struct {
	// CacheDir is the content cache directory; empty disables caching.
	CacheDir string
	// Workers bounds the per-job parse fan-out; zero means GOMAXPROCS.
	Workers int
	// ParseMemoSize sizes the shared parse memo.
	ParseMemoSize int
	// Manifest, when non-nil, records cache writes and parse outcomes.
	Manifest *storage.ManifestStore
	// Progress, when non-nil, receives job progress updates.
	Progress ProgressSink
}

// Workspace is the solution-level owner of project content containers.
type Workspace struct {
	cfg        Config
	queue      *jobs.Queue
	shutdown   *jobs.ShutdownRegistrar
	bus        *project.Bus
	ownership  *project.Ownership
	docs       *parser.OpenDocuments
	fileParser content.FileParser
	store      *cache.Store

	mu         sync.RWMutex
	projects   map[string]*project.Project
	containers map[string]*content.Container

	snapshotStale atomic.Bool
	snapshotMu    sync.Mutex
	snapshot      []*content.ProjectContent
}

// New creates an empty workspace.
func New(cfg Config) (*Workspace, error) {
	fileParser, err := parser.NewTreeSitterParser(cfg.ParseMemoSize)
	if err != nil {
		return nil, fmt.Errorf("create parser: %w", err)
	}
	return &Workspace{
		cfg:        cfg,
		queue:      jobs.NewQueue(),
		shutdown:   jobs.NewShutdownRegistrar(),
		bus:        project.NewBus(),
		ownership:  project.NewOwnership(),
		docs:       parser.NewOpenDocuments(),
		fileParser: fileParser,
		store:      cache.NewStore(cfg.CacheDir),
		projects:   map[string]*project.Project{},
		containers: map[string]*content.Container{},
	}, nil
}

// Bus returns the item event bus; the project-system layer publishes item
// changes through it.
func (ws *Workspace) Bus() *project.Bus { return ws.bus }

// OpenDocuments returns the unsaved-editor-content overlay.
func (ws *Workspace) OpenDocuments() *parser.OpenDocuments { return ws.docs }

// Ownership returns the file-ownership registry.
func (ws *Workspace) Ownership() *project.Ownership { return ws.ownership }

// AddProject constructs a container for p and starts its initial load.
func (ws *Workspace) AddProject(p *project.Project) (*content.Container, error) {
	ws.mu.Lock()
	if _, exists := ws.projects[p.ID]; exists {
		ws.mu.Unlock()
		return nil, fmt.Errorf("project %s already added", p.ID)
	}
	// Reserve the slot before the container starts parsing.
	ws.projects[p.ID] = p
	ws.mu.Unlock()

	deps := content.Dependencies{
		Queue:      ws.queue,
		Shutdown:   ws.shutdown,
		Ownership:  ws.ownership,
		Docs:       ws.docs,
		Parser:     ws.fileParser,
		Cache:      ws.store,
		Events:     ws.bus,
		Invalidate: ws.invalidateSnapshot,
		Workers:    ws.cfg.Workers,
	}
	if ws.cfg.Progress != nil {
		projectID := p.ID
		deps.Progress = func(kind string, fraction float64) {
			ws.cfg.Progress(projectID, kind, fraction)
		}
	}
	if ws.cfg.Manifest != nil {
		projectID := p.ID
		deps.Cache = &recordingCache{
			store:     ws.store,
			manifest:  ws.cfg.Manifest,
			projectID: projectID,
		}
		deps.OnParsed = func(counts content.ParseCounts) {
			record := storage.ParseRecord{
				ProjectID:    projectID,
				FinishedAt:   time.Now(),
				FromCache:    counts.FromCache,
				Parsed:       counts.Parsed,
				Serializable: counts.ParsedSerializable,
			}
			if err := ws.cfg.Manifest.RecordParse(context.Background(), record); err != nil {
				log.Warn().Err(err).Str("project_id", projectID).Msg("Failed to record parse outcome")
			}
		}
	}

	c := content.NewContainer(p.Seed(), deps)
	ws.mu.Lock()
	ws.containers[p.ID] = c
	ws.mu.Unlock()
	ws.invalidateSnapshot()

	log.Info().
		Str("project", p.Name).
		Str("project_id", p.ID).
		Int("items", len(p.Items)).
		Msg("Project added to workspace")
	return c, nil
}

// RemoveProject disposes the project's container and forgets it.
func (ws *Workspace) RemoveProject(id string) {
	ws.mu.Lock()
	c := ws.containers[id]
	delete(ws.containers, id)
	delete(ws.projects, id)
	ws.mu.Unlock()

	if c != nil {
		c.Dispose()
	}
	if ws.cfg.Manifest != nil {
		if err := ws.cfg.Manifest.DeleteManifest(context.Background(), id); err != nil {
			log.Warn().Err(err).Str("project_id", id).Msg("Failed to delete cache manifest")
		}
	}
	ws.invalidateSnapshot()
}

// Project returns the project with the given id, or nil.
func (ws *Workspace) Project(id string) *project.Project {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.projects[id]
}

// Container returns the container for a project, or nil.
func (ws *Workspace) Container(id string) *content.Container {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.containers[id]
}

// Projects returns all projects in the workspace.
func (ws *Workspace) Projects() []*project.Project {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	out := make([]*project.Project, 0, len(ws.projects))
	for _, p := range ws.projects {
		out = append(out, p)
	}
	return out
}

// SolutionSnapshot returns the combined content of every project. The
// snapshot is cached and rebuilt lazily after any index mutation.
func (ws *Workspace) SolutionSnapshot() []*content.ProjectContent {
	ws.snapshotMu.Lock()
	defer ws.snapshotMu.Unlock()
	if !ws.snapshotStale.Swap(false) && ws.snapshot != nil {
		return ws.snapshot
	}

	ws.mu.RLock()
	snapshot := make([]*content.ProjectContent, 0, len(ws.containers))
	for _, c := range ws.containers {
		snapshot = append(snapshot, c.CurrentIndex())
	}
	ws.mu.RUnlock()

	ws.snapshot = snapshot
	return snapshot
}

func (ws *Workspace) invalidateSnapshot() {
	ws.snapshotStale.Store(true)
}

// WaitReady blocks until every current container finished its initial load
// or ctx expires.
func (ws *Workspace) WaitReady(ctx context.Context) error {
	ws.mu.RLock()
	containers := make([]*content.Container, 0, len(ws.containers))
	for _, c := range ws.containers {
		containers = append(containers, c)
	}
	ws.mu.RUnlock()

	for _, c := range containers {
		select {
		case <-c.Ready():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close disposes every container, waits for disposal-time cache writes and
// stops the job queue.
func (ws *Workspace) Close(ctx context.Context) error {
	ws.mu.Lock()
	containers := ws.containers
	ws.containers = map[string]*content.Container{}
	ws.projects = map[string]*project.Project{}
	ws.mu.Unlock()

	for _, c := range containers {
		c.Dispose()
	}
	err := ws.shutdown.Wait(ctx)
	ws.queue.Close()
	return err
}

// recordingCache wraps the cache store and mirrors successful writes into
// the manifest store, so the stats surface can report when and how large
// each project's cache file is.
type recordingCache struct {
	store     *cache.Store
	manifest  *storage.ManifestStore
	projectID string
}

func (rc *recordingCache) Load(projectPath string) *content.ProjectContent {
	return rc.store.Load(projectPath)
}

func (rc *recordingCache) Save(projectPath string, pc *content.ProjectContent) error {
	if err := rc.store.Save(projectPath, pc); err != nil {
		return err
	}
	if !rc.store.Enabled() {
		return nil
	}

	serializable := 0
	for _, f := range pc.Files() {
		if f.Serializable() {
			serializable++
		}
	}
	ctx := context.Background()
	if serializable < cache.MinSerializableFiles {
		// The store deleted (or never wrote) the file; drop the row too.
		if err := rc.manifest.DeleteManifest(ctx, rc.projectID); err != nil {
			log.Warn().Err(err).Str("project_id", rc.projectID).Msg("Failed to drop cache manifest")
		}
		return nil
	}
	m := storage.CacheManifest{
		ProjectID:         rc.projectID,
		ProjectPath:       projectPath,
		CacheFile:         rc.store.FileName(projectPath),
		SavedAt:           time.Now(),
		FileCount:         pc.FileCount(),
		SerializableCount: serializable,
	}
	if err := rc.manifest.RecordSave(ctx, m); err != nil {
		log.Warn().Err(err).Str("project_id", rc.projectID).Msg("Failed to record cache manifest")
	}
	return nil
}
