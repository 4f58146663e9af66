package effect

import (
	"log"
	"sync"

	"crewcontrol.gg/internal/game"
)

// Builder constructs the full effect catalog for one game.
type Builder func(code game.Code) []*Effect

// Cache memoizes one catalog per live game. Concurrent first lookups for
// the same game produce exactly one construction, so load hooks register
// their side effects once.
type Cache struct {
	builder Builder
	log     *log.Logger

	mu      sync.Mutex
	entries map[game.Code]*cacheEntry
}

type cacheEntry struct {
	once    sync.Once
	effects []*Effect
}

func NewCache(builder Builder, logger *log.Logger) *Cache {
	return &Cache{
		builder: builder,
		log:     logger,
		entries: make(map[game.Code]*cacheEntry),
	}
}

// Get returns the catalog for a game, building it on first touch. The
// returned slice must not be mutated. Returns nil if the entry was evicted
// before the build could run.
func (c *Cache) Get(code game.Code) []*Effect {
	c.mu.Lock()
	e, ok := c.entries[code]
	if !ok {
		e = &cacheEntry{}
		c.entries[code] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.effects = c.builder(code)
		for _, ef := range e.effects {
			ef.RunLoad()
		}
	})
	return e.effects
}

// Evict drops a game's catalog and runs each effect's unload hook. Safe to
// call for games that never built a catalog; an eviction that races a first
// build claims the entry so the build becomes a no-op.
func (c *Cache) Evict(code game.Code) {
	c.mu.Lock()
	e, ok := c.entries[code]
	delete(c.entries, code)
	c.mu.Unlock()
	if !ok {
		return
	}

	e.once.Do(func() {}) // claim: if the build never ran, it never will
	for _, ef := range e.effects {
		ef.RunUnload()
	}
	if len(e.effects) > 0 {
		c.log.Printf("evicted catalog for game %d (%d effects)", code, len(e.effects))
	}
}
