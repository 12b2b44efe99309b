package project

import "sync"

// Ownership tracks which projects own which files. A file can be owned by
// several projects at once (shared sources).
type Ownership struct {
	mu     sync.RWMutex
	owners map[string]map[string]struct{} // path -> projectID set
}

// NewOwnership returns an empty registry.
func NewOwnership() *Ownership {
	return &Ownership{owners: map[string]map[string]struct{}{}}
}

// AddOwner registers projectID as an owner of path.
func (o *Ownership) AddOwner(path, projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.owners[path] == nil {
		o.owners[path] = map[string]struct{}{}
	}
	o.owners[path][projectID] = struct{}{}
}

// RemoveOwner releases projectID's ownership of path.
func (o *Ownership) RemoveOwner(path, projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.owners[path], projectID)
	if len(o.owners[path]) == 0 {
		delete(o.owners, path)
	}
}

// Owners returns the IDs of the projects owning path.
func (o *Ownership) Owners(path string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.owners[path]))
	for id := range o.owners[path] {
		ids = append(ids, id)
	}
	return ids
}

// Owned reports whether any project owns path.
func (o *Ownership) Owned(path string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.owners[path]) > 0
}
