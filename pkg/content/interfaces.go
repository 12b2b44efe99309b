package content

import (
	"context"
	"time"
)

// FileParser converts one source file into an UnresolvedFile. When src is
// nil the parser reads the file from disk and stamps the result with the
// on-disk modification time; a non-nil src is treated as unsaved editor
// content and produces a non-serializable (zero timestamp) result.
type FileParser interface {
	Parse(ctx context.Context, path string, src []byte) (*UnresolvedFile, error)
}

// OpenDocumentProvider exposes live in-editor content for files that are
// open and unsaved. ok is false when the file has no live buffer.
type OpenDocumentProvider interface {
	OpenContent(path string) (src []byte, ok bool)
}

// AssemblyLoader turns an on-disk binary into a symbol-providing reference.
type AssemblyLoader interface {
	Load(ctx context.Context, path string) (AssemblyReference, error)
}

// OwnershipRegistry tracks which projects own which files. Containers
// register ownership synchronously at construction and release it on
// disposal.
type OwnershipRegistry interface {
	AddOwner(path, projectID string)
	RemoveOwner(path, projectID string)
}

// ContentCache persists project content between sessions. Load returns nil
// on any miss, including decode failures; Save is best-effort.
type ContentCache interface {
	Load(projectPath string) *ProjectContent
	Save(projectPath string, pc *ProjectContent) error
}

// ItemEvents delivers project item add/remove notifications. The returned
// function cancels the subscription; containers call it on disposal.
type ItemEvents interface {
	SubscribeItems(projectID string, fn func(item ProjectItem, removed bool)) (unsubscribe func())
}

// JobScheduler sequences background work for a solution. Submit must not
// block the caller; jobs run one at a time in submission order.
type JobScheduler interface {
	Submit(kind, projectID string, run func(ctx context.Context))
}

// ShutdownCoordinator lets asynchronous disposal-time work (the cache
// write) delay process shutdown. Register returns the completion callback.
type ShutdownCoordinator interface {
	Register(name string) (done func())
}

// FileInfo is the subset of file metadata the pipeline needs.
type FileInfo struct {
	Path    string
	ModTime time.Time
}
