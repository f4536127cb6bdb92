package personas

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Phantom00716/telegram-personalities-bot/internal/models"
	"github.com/Phantom00716/telegram-personalities-bot/internal/store"
)

// Cache is an explicitly owned, refreshable read-mostly view of the persona
// store. Reload must be called at startup and after every persona create or
// delete so the in-memory view never diverges from durable state for longer
// than one request.
type Cache struct {
	store store.Store

	mu       sync.RWMutex
	personas map[string]models.Persona
	order    []string
}

// NewCache creates an empty cache backed by the given store. Call Reload
// before first use.
func NewCache(st store.Store) *Cache {
	slog.Debug("Creating persona cache")
	return &Cache{
		store:    st,
		personas: make(map[string]models.Persona),
	}
}

// Reload rebuilds the lookup from builtins merged with durable store
// contents, durable entries taking precedence on key collision.
func (c *Cache) Reload() error {
	stored, err := c.store.GetPersonas()
	if err != nil {
		slog.Error("Cache Reload failed", "error", err)
		return fmt.Errorf("failed to reload persona cache: %w", err)
	}

	personas := make(map[string]models.Persona, len(stored))
	order := make([]string, 0, len(stored))
	for _, p := range stored {
		personas[p.Key] = p
		order = append(order, p.Key)
	}
	for _, p := range Builtins() {
		if _, exists := personas[p.Key]; exists {
			continue
		}
		personas[p.Key] = p
		order = append(order, p.Key)
	}

	c.mu.Lock()
	c.personas = personas
	c.order = order
	c.mu.Unlock()

	slog.Debug("Cache Reload succeeded", "count", len(personas))
	return nil
}

// Get returns the persona for key and whether it is known.
func (c *Cache) Get(key string) (models.Persona, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, exists := c.personas[key]
	return p, exists
}

// All returns all personas in a stable order (most recently created first).
func (c *Cache) All() []models.Persona {
	c.mu.RLock()
	defer c.mu.RUnlock()
	personas := make([]models.Persona, 0, len(c.order))
	for _, key := range c.order {
		personas = append(personas, c.personas[key])
	}
	return personas
}

// Len returns the number of cached personas.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.personas)
}
