// Package store provides storage backends for the personalities bot.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/Phantom00716/telegram-personalities-bot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SeedBuiltinPersonas(personas []models.Persona) error {
	for _, p := range personas {
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := s.db.Exec(
			`INSERT INTO personalities (key, title, instruction, created_by, created_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (key) DO NOTHING`,
			p.Key, p.Title, p.Instruction, nilIfZero(p.Creator), createdAt)
		if err != nil {
			slog.Error("PostgresStore SeedBuiltinPersonas failed", "error", err, "key", p.Key)
			return fmt.Errorf("failed to seed persona %s: %w", p.Key, err)
		}
	}
	slog.Debug("PostgresStore SeedBuiltinPersonas succeeded", "count", len(personas))
	return nil
}

func (s *PostgresStore) GetPersonas() ([]models.Persona, error) {
	rows, err := s.db.Query(`SELECT key, title, instruction, created_by, created_at FROM personalities ORDER BY created_at DESC, key ASC`)
	if err != nil {
		slog.Error("PostgresStore GetPersonas query failed", "error", err)
		return nil, fmt.Errorf("failed to query personas: %w", err)
	}
	defer rows.Close()

	var personas []models.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			slog.Error("PostgresStore GetPersonas scan failed", "error", err)
			return nil, err
		}
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetPersonas rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate persona rows: %w", err)
	}
	slog.Debug("PostgresStore GetPersonas succeeded", "count", len(personas))
	return personas, nil
}

func (s *PostgresStore) GetPersona(key string) (*models.Persona, error) {
	row := s.db.QueryRow(`SELECT key, title, instruction, created_by, created_at FROM personalities WHERE key = $1`, key)
	p, err := scanPersonaRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetPersona not found", "key", key)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetPersona failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to query persona %s: %w", key, err)
	}
	return &p, nil
}

func (s *PostgresStore) CreatePersona(p models.Persona) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO personalities (key, title, instruction, created_by, created_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (key) DO NOTHING`,
		p.Key, p.Title, p.Instruction, nilIfZero(p.Creator), createdAt)
	if err != nil {
		slog.Error("PostgresStore CreatePersona failed", "error", err, "key", p.Key)
		return fmt.Errorf("failed to insert persona %s: %w", p.Key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		slog.Error("PostgresStore CreatePersona rows affected failed", "error", err, "key", p.Key)
		return fmt.Errorf("failed to check persona insert for %s: %w", p.Key, err)
	}
	if affected == 0 {
		slog.Warn("PostgresStore CreatePersona duplicate key", "key", p.Key)
		return models.ErrDuplicateKey
	}
	slog.Debug("PostgresStore CreatePersona succeeded", "key", p.Key, "creator", p.Creator)
	return nil
}

func (s *PostgresStore) DeletePersona(key string) error {
	_, err := s.db.Exec(`DELETE FROM personalities WHERE key = $1`, key)
	if err != nil {
		slog.Error("PostgresStore DeletePersona failed", "error", err, "key", key)
		return fmt.Errorf("failed to delete persona %s: %w", key, err)
	}
	slog.Debug("PostgresStore DeletePersona succeeded", "key", key)
	return nil
}

func (s *PostgresStore) SetActivePersona(chatID int64, personaKey string) error {
	_, err := s.db.Exec(`
		INSERT INTO active_personality (chat_id, personality, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id) DO UPDATE SET personality = EXCLUDED.personality, updated_at = EXCLUDED.updated_at`,
		chatID, personaKey, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore SetActivePersona failed", "error", err, "chatID", chatID, "key", personaKey)
		return fmt.Errorf("failed to set active persona for chat %d: %w", chatID, err)
	}
	slog.Debug("PostgresStore SetActivePersona succeeded", "chatID", chatID, "key", personaKey)
	return nil
}

func (s *PostgresStore) GetActivePersona(chatID int64) (string, error) {
	var key string
	err := s.db.QueryRow(`SELECT personality FROM active_personality WHERE chat_id = $1`, chatID).Scan(&key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetActivePersona failed", "error", err, "chatID", chatID)
		return "", fmt.Errorf("failed to query active persona for chat %d: %w", chatID, err)
	}
	return key, nil
}

func (s *PostgresStore) SaveWizardState(state models.WizardState) error {
	ordinal, data, err := models.EncodeWizardStep(state.Step)
	if err != nil {
		slog.Error("PostgresStore SaveWizardState encode failed", "error", err, "chatID", state.ChatID)
		return err
	}
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(`
		INSERT INTO creation_state (chat_id, step, temp_data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chat_id) DO UPDATE SET step = EXCLUDED.step, temp_data = EXCLUDED.temp_data, updated_at = EXCLUDED.updated_at`,
		state.ChatID, ordinal, data, updatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveWizardState failed", "error", err, "chatID", state.ChatID, "step", ordinal)
		return fmt.Errorf("failed to save wizard state for chat %d: %w", state.ChatID, err)
	}
	slog.Debug("PostgresStore SaveWizardState succeeded", "chatID", state.ChatID, "step", ordinal)
	return nil
}

func (s *PostgresStore) GetWizardState(chatID int64) (*models.WizardState, error) {
	var (
		ordinal  int
		tempData sql.NullString
		state    models.WizardState
	)
	err := s.db.QueryRow(`SELECT chat_id, step, temp_data, updated_at FROM creation_state WHERE chat_id = $1`, chatID).
		Scan(&state.ChatID, &ordinal, &tempData, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetWizardState not found", "chatID", chatID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetWizardState failed", "error", err, "chatID", chatID)
		return nil, fmt.Errorf("failed to query wizard state for chat %d: %w", chatID, err)
	}
	step, err := models.DecodeWizardStep(ordinal, tempData.String)
	if err != nil {
		slog.Error("PostgresStore GetWizardState decode failed", "error", err, "chatID", chatID, "step", ordinal)
		return nil, err
	}
	state.Step = step
	slog.Debug("PostgresStore GetWizardState found", "chatID", chatID, "step", ordinal)
	return &state, nil
}

func (s *PostgresStore) DeleteWizardState(chatID int64) error {
	_, err := s.db.Exec(`DELETE FROM creation_state WHERE chat_id = $1`, chatID)
	if err != nil {
		slog.Error("PostgresStore DeleteWizardState failed", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to delete wizard state for chat %d: %w", chatID, err)
	}
	slog.Debug("PostgresStore DeleteWizardState succeeded", "chatID", chatID)
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
