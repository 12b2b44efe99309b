package project

import (
	"sync"

	"github.com/google/uuid"

	"github.com/symbolindex/indexd/pkg/content"
)

// ItemHandler receives one item change for a subscribed project.
type ItemHandler func(item content.ProjectItem, removed bool)

// Bus fans project item add/remove notifications out to per-project
// subscribers. Handlers run synchronously on the publisher's goroutine, in
// subscription order.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[string]ItemHandler // projectID -> subID -> handler
}

// NewBus returns an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: map[string]map[string]ItemHandler{}}
}

// SubscribeItems registers fn for one project's item events. The returned
// function cancels the subscription and is safe to call more than once.
func (b *Bus) SubscribeItems(projectID string, fn func(item content.ProjectItem, removed bool)) (unsubscribe func()) {
	id := uuid.New().String()
	b.mu.Lock()
	if b.subs[projectID] == nil {
		b.subs[projectID] = map[string]ItemHandler{}
	}
	b.subs[projectID][id] = ItemHandler(fn)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[projectID], id)
			if len(b.subs[projectID]) == 0 {
				delete(b.subs, projectID)
			}
			b.mu.Unlock()
		})
	}
}

// PublishItemAdded notifies a project's subscribers of a new item.
func (b *Bus) PublishItemAdded(projectID string, item content.ProjectItem) {
	b.publish(projectID, item, false)
}

// PublishItemRemoved notifies a project's subscribers of a removed item.
func (b *Bus) PublishItemRemoved(projectID string, item content.ProjectItem) {
	b.publish(projectID, item, true)
}

func (b *Bus) publish(projectID string, item content.ProjectItem, removed bool) {
	b.mu.RLock()
	handlers := make([]ItemHandler, 0, len(b.subs[projectID]))
	for _, h := range b.subs[projectID] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(item, removed)
	}
}
