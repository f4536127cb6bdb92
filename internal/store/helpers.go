package store

import (
	"database/sql"
	"fmt"

	"github.com/Phantom00716/telegram-personalities-bot/internal/models"
)

// nilIfZero returns nil if id is zero, otherwise returns id.
// Used for the nullable created_by column (builtins have no creator).
func nilIfZero(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

// scanPersona scans a Persona from sql.Rows.
func scanPersona(rows *sql.Rows) (models.Persona, error) {
	var p models.Persona
	var createdBy sql.NullInt64
	if err := rows.Scan(&p.Key, &p.Title, &p.Instruction, &createdBy, &p.CreatedAt); err != nil {
		return p, fmt.Errorf("scan persona failed: %w", err)
	}
	p.Creator = createdBy.Int64
	return p, nil
}

// scanPersonaRow scans a Persona from a single sql.Row.
func scanPersonaRow(row *sql.Row) (models.Persona, error) {
	var p models.Persona
	var createdBy sql.NullInt64
	if err := row.Scan(&p.Key, &p.Title, &p.Instruction, &createdBy, &p.CreatedAt); err != nil {
		return p, err
	}
	p.Creator = createdBy.Int64
	return p, nil
}
