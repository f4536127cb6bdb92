// Package store provides storage backends for the personalities bot.
//
// It includes an in-memory store for tests and SQLite/Postgres backed
// stores for durable personas, sessions, and wizard state.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Phantom00716/telegram-personalities-bot/internal/models"
)

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures store construction.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the store DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string as the store DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for file paths.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// Store is the durable persistence abstraction for personas, per-chat
// sessions, and creation wizard state. The wizard upsert-by-chat-id is the
// serialization point for concurrent updates to the same conversation.
type Store interface {
	// SeedBuiltinPersonas inserts each persona if its key is not already
	// present. Idempotent, safe to call on every startup.
	SeedBuiltinPersonas(personas []models.Persona) error
	// GetPersonas returns all personas ordered by creation time, most recent first.
	GetPersonas() ([]models.Persona, error)
	// GetPersona returns the persona for key, or nil when absent.
	GetPersona(key string) (*models.Persona, error)
	// CreatePersona persists a new persona. The uniqueness check is atomic
	// with the insert; a concurrent create with the same key yields
	// models.ErrDuplicateKey.
	CreatePersona(p models.Persona) error
	// DeletePersona removes the persona if present. Deleting an absent key
	// is not an error.
	DeletePersona(key string) error

	// SetActivePersona upserts the active persona for a chat. The key is
	// not validated against existing personas.
	SetActivePersona(chatID int64, personaKey string) error
	// GetActivePersona returns the stored key, or "" when none is selected.
	GetActivePersona(chatID int64) (string, error)

	// SaveWizardState upserts the wizard state for a chat.
	SaveWizardState(state models.WizardState) error
	// GetWizardState returns the wizard state for a chat, or nil when absent.
	GetWizardState(chatID int64) (*models.WizardState, error)
	// DeleteWizardState removes the wizard state for a chat.
	DeleteWizardState(chatID int64) error

	// Close releases the underlying resources.
	Close() error
}

// InMemoryStore is a mutex-guarded store used in unit tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	personas map[string]models.Persona
	sessions map[int64]models.Session
	wizards  map[int64]models.WizardState
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		personas: make(map[string]models.Persona),
		sessions: make(map[int64]models.Session),
		wizards:  make(map[int64]models.WizardState),
	}
}

func (s *InMemoryStore) SeedBuiltinPersonas(personas []models.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range personas {
		if _, exists := s.personas[p.Key]; exists {
			continue
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now()
		}
		s.personas[p.Key] = p
	}
	return nil
}

func (s *InMemoryStore) GetPersonas() ([]models.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	personas := make([]models.Persona, 0, len(s.personas))
	for _, p := range s.personas {
		personas = append(personas, p)
	}
	sort.Slice(personas, func(i, j int) bool {
		if personas[i].CreatedAt.Equal(personas[j].CreatedAt) {
			return personas[i].Key < personas[j].Key
		}
		return personas[i].CreatedAt.After(personas[j].CreatedAt)
	})
	return personas, nil
}

func (s *InMemoryStore) GetPersona(key string) (*models.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, exists := s.personas[key]
	if !exists {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) CreatePersona(p models.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.personas[p.Key]; exists {
		return models.ErrDuplicateKey
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.personas[p.Key] = p
	return nil
}

func (s *InMemoryStore) DeletePersona(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.personas, key)
	return nil
}

func (s *InMemoryStore) SetActivePersona(chatID int64, personaKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[chatID] = models.Session{ChatID: chatID, PersonaKey: personaKey, UpdatedAt: time.Now()}
	return nil
}

func (s *InMemoryStore) GetActivePersona(chatID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[chatID].PersonaKey, nil
}

func (s *InMemoryStore) SaveWizardState(state models.WizardState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	s.wizards[state.ChatID] = state
	return nil
}

func (s *InMemoryStore) GetWizardState(chatID int64) (*models.WizardState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, exists := s.wizards[chatID]
	if !exists {
		return nil, nil
	}
	return &state, nil
}

func (s *InMemoryStore) DeleteWizardState(chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.wizards, chatID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
