package system

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// CleanupManager runs a set of shutdown hooks in reverse registration
// order (last-acquired-first-released), logging but not aborting on a
// hook's failure so one broken component's teardown never blocks the rest.
type CleanupManager struct {
	mu    sync.Mutex
	hooks []func(context.Context) error
}

// NewCleanupManager returns an empty registry.
func NewCleanupManager() *CleanupManager {
	return &CleanupManager{}
}

// Add registers a hook to run on Cleanup.
func (c *CleanupManager) Add(hook func(context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Cleanup runs every registered hook in reverse order.
func (c *CleanupManager) Cleanup(ctx context.Context) {
	c.mu.Lock()
	hooks := append([]func(context.Context) error(nil), c.hooks...)
	c.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			log.Error().Err(err).Msg("cleanup hook failed")
		}
	}
}
