package jobs

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// ShutdownRegistrar tracks asynchronous work that must complete before the
// process exits, such as disposal-time cache writes.
type ShutdownRegistrar struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	pending map[string]int
}

// NewShutdownRegistrar returns an empty registrar.
func NewShutdownRegistrar() *ShutdownRegistrar {
	return &ShutdownRegistrar{pending: map[string]int{}}
}

// Register records one unit of outstanding work under name and returns the
// completion callback. The callback is safe to call exactly once.
func (s *ShutdownRegistrar) Register(name string) (done func()) {
	s.wg.Add(1)
	s.mu.Lock()
	s.pending[name]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.pending[name]--
			if s.pending[name] <= 0 {
				delete(s.pending, name)
			}
			s.mu.Unlock()
			s.wg.Done()
		})
	}
}

// Pending returns the names of outstanding registrations.
func (s *ShutdownRegistrar) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.pending))
	for name := range s.pending {
		names = append(names, name)
	}
	return names
}

// Wait blocks until all registered work completes or ctx expires. On
// timeout the still-pending names are logged and the context error
// returned.
func (s *ShutdownRegistrar) Wait(ctx context.Context) error {
	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		log.Warn().
			Strs("pending", s.Pending()).
			Msg("Shutdown timed out waiting for background work")
		return ctx.Err()
	}
}
