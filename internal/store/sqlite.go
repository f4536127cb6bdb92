// Package store provides storage backends for the personalities bot.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/Phantom00716/telegram-personalities-bot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SeedBuiltinPersonas(personas []models.Persona) error {
	for _, p := range personas {
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := s.db.Exec(
			`INSERT INTO personalities (key, title, instruction, created_by, created_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT(key) DO NOTHING`,
			p.Key, p.Title, p.Instruction, nilIfZero(p.Creator), createdAt)
		if err != nil {
			slog.Error("SQLiteStore SeedBuiltinPersonas failed", "error", err, "key", p.Key)
			return fmt.Errorf("failed to seed persona %s: %w", p.Key, err)
		}
	}
	slog.Debug("SQLiteStore SeedBuiltinPersonas succeeded", "count", len(personas))
	return nil
}

func (s *SQLiteStore) GetPersonas() ([]models.Persona, error) {
	rows, err := s.db.Query(`SELECT key, title, instruction, created_by, created_at FROM personalities ORDER BY created_at DESC, key ASC`)
	if err != nil {
		slog.Error("SQLiteStore GetPersonas query failed", "error", err)
		return nil, fmt.Errorf("failed to query personas: %w", err)
	}
	defer rows.Close()

	var personas []models.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			slog.Error("SQLiteStore GetPersonas scan failed", "error", err)
			return nil, err
		}
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetPersonas rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate persona rows: %w", err)
	}
	slog.Debug("SQLiteStore GetPersonas succeeded", "count", len(personas))
	return personas, nil
}

func (s *SQLiteStore) GetPersona(key string) (*models.Persona, error) {
	row := s.db.QueryRow(`SELECT key, title, instruction, created_by, created_at FROM personalities WHERE key = ?`, key)
	p, err := scanPersonaRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetPersona not found", "key", key)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetPersona failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to query persona %s: %w", key, err)
	}
	return &p, nil
}

func (s *SQLiteStore) CreatePersona(p models.Persona) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	// ON CONFLICT DO NOTHING keeps the uniqueness check atomic with the
	// insert; zero rows affected means the key was taken.
	res, err := s.db.Exec(
		`INSERT INTO personalities (key, title, instruction, created_by, created_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT(key) DO NOTHING`,
		p.Key, p.Title, p.Instruction, nilIfZero(p.Creator), createdAt)
	if err != nil {
		slog.Error("SQLiteStore CreatePersona failed", "error", err, "key", p.Key)
		return fmt.Errorf("failed to insert persona %s: %w", p.Key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		slog.Error("SQLiteStore CreatePersona rows affected failed", "error", err, "key", p.Key)
		return fmt.Errorf("failed to check persona insert for %s: %w", p.Key, err)
	}
	if affected == 0 {
		slog.Warn("SQLiteStore CreatePersona duplicate key", "key", p.Key)
		return models.ErrDuplicateKey
	}
	slog.Debug("SQLiteStore CreatePersona succeeded", "key", p.Key, "creator", p.Creator)
	return nil
}

func (s *SQLiteStore) DeletePersona(key string) error {
	_, err := s.db.Exec(`DELETE FROM personalities WHERE key = ?`, key)
	if err != nil {
		slog.Error("SQLiteStore DeletePersona failed", "error", err, "key", key)
		return fmt.Errorf("failed to delete persona %s: %w", key, err)
	}
	slog.Debug("SQLiteStore DeletePersona succeeded", "key", key)
	return nil
}

func (s *SQLiteStore) SetActivePersona(chatID int64, personaKey string) error {
	_, err := s.db.Exec(`
		INSERT INTO active_personality (chat_id, personality, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET personality = excluded.personality, updated_at = excluded.updated_at`,
		chatID, personaKey, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore SetActivePersona failed", "error", err, "chatID", chatID, "key", personaKey)
		return fmt.Errorf("failed to set active persona for chat %d: %w", chatID, err)
	}
	slog.Debug("SQLiteStore SetActivePersona succeeded", "chatID", chatID, "key", personaKey)
	return nil
}

func (s *SQLiteStore) GetActivePersona(chatID int64) (string, error) {
	var key string
	err := s.db.QueryRow(`SELECT personality FROM active_personality WHERE chat_id = ?`, chatID).Scan(&key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetActivePersona failed", "error", err, "chatID", chatID)
		return "", fmt.Errorf("failed to query active persona for chat %d: %w", chatID, err)
	}
	return key, nil
}

func (s *SQLiteStore) SaveWizardState(state models.WizardState) error {
	ordinal, data, err := models.EncodeWizardStep(state.Step)
	if err != nil {
		slog.Error("SQLiteStore SaveWizardState encode failed", "error", err, "chatID", state.ChatID)
		return err
	}
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(`
		INSERT INTO creation_state (chat_id, step, temp_data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET step = excluded.step, temp_data = excluded.temp_data, updated_at = excluded.updated_at`,
		state.ChatID, ordinal, data, updatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveWizardState failed", "error", err, "chatID", state.ChatID, "step", ordinal)
		return fmt.Errorf("failed to save wizard state for chat %d: %w", state.ChatID, err)
	}
	slog.Debug("SQLiteStore SaveWizardState succeeded", "chatID", state.ChatID, "step", ordinal)
	return nil
}

func (s *SQLiteStore) GetWizardState(chatID int64) (*models.WizardState, error) {
	var (
		ordinal  int
		tempData sql.NullString
		state    models.WizardState
	)
	err := s.db.QueryRow(`SELECT chat_id, step, temp_data, updated_at FROM creation_state WHERE chat_id = ?`, chatID).
		Scan(&state.ChatID, &ordinal, &tempData, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetWizardState not found", "chatID", chatID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetWizardState failed", "error", err, "chatID", chatID)
		return nil, fmt.Errorf("failed to query wizard state for chat %d: %w", chatID, err)
	}
	step, err := models.DecodeWizardStep(ordinal, tempData.String)
	if err != nil {
		slog.Error("SQLiteStore GetWizardState decode failed", "error", err, "chatID", chatID, "step", ordinal)
		return nil, err
	}
	state.Step = step
	slog.Debug("SQLiteStore GetWizardState found", "chatID", chatID, "step", ordinal)
	return &state, nil
}

func (s *SQLiteStore) DeleteWizardState(chatID int64) error {
	_, err := s.db.Exec(`DELETE FROM creation_state WHERE chat_id = ?`, chatID)
	if err != nil {
		slog.Error("SQLiteStore DeleteWizardState failed", "error", err, "chatID", chatID)
		return fmt.Errorf("failed to delete wizard state for chat %d: %w", chatID, err)
	}
	slog.Debug("SQLiteStore DeleteWizardState succeeded", "chatID", chatID)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
