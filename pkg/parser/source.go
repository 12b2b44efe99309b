package parser

import "sync"

// OpenDocuments is the open-editor content overlay: files with unsaved
// buffers expose their live content here and the parse pipeline prefers it
// over the on-disk bytes.
type OpenDocuments struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewOpenDocuments returns an empty overlay.
func NewOpenDocuments() *OpenDocuments {
	return &OpenDocuments{docs: map[string][]byte{}}
}

// Set publishes live content for path. The buffer is copied.
func (o *OpenDocuments) Set(path string, src []byte) {
	buf := make([]byte, len(src))
	copy(buf, src)
	o.mu.Lock()
	o.docs[path] = buf
	o.mu.Unlock()
}

// Remove drops the live buffer for path, typically on save or close.
func (o *OpenDocuments) Remove(path string) {
	o.mu.Lock()
	delete(o.docs, path)
	o.mu.Unlock()
}

// OpenContent implements content.OpenDocumentProvider.
func (o *OpenDocuments) OpenContent(path string) ([]byte, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	src, ok := o.docs[path]
	return src, ok
}
