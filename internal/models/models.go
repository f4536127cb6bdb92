// Package models defines the core data structures for the personalities bot.
//
// It includes persona, session, and wizard state types shared across modules.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"
)

// Validation constants for persona fields.
const (
	// MinPersonaTitleLength defines the minimum allowed length for a persona title
	MinPersonaTitleLength = 2
	// MaxPersonaTitleLength defines the maximum allowed length for a persona title
	MaxPersonaTitleLength = 120
	// MinPersonaInstructionLength defines the minimum allowed length for a persona instruction
	MinPersonaInstructionLength = 10
)

// PersonaKeyPattern constrains persona keys to latin letters, digits, underscore and hyphen.
var PersonaKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,40}$`)

// Error variables for better error handling and testability
var (
	ErrDuplicateKey           = errors.New("persona key already exists")
	ErrInvalidPersonaKey      = errors.New("persona key must match [A-Za-z0-9_-]{2,40}")
	ErrInvalidPersonaTitle    = errors.New("persona title must be between 2 and 120 characters")
	ErrInstructionTooShort    = errors.New("persona instruction must be at least 10 characters")
	ErrUnknownWizardStep      = errors.New("unknown wizard step")
	ErrMissingPersonaKeyField = errors.New("persona key is required")
)

// Persona is a named system instruction profile used to steer completions.
// A key is immutable and globally unique once created.
type Persona struct {
	Key         string    `json:"key"`
	Title       string    `json:"title"`
	Instruction string    `json:"instruction"`
	Creator     int64     `json:"creator,omitempty"` // zero for builtins
	CreatedAt   time.Time `json:"created_at"`
}

// Validate performs field validation on a Persona structure.
func (p *Persona) Validate() error {
	if p.Key == "" {
		return ErrMissingPersonaKeyField
	}
	if !PersonaKeyPattern.MatchString(p.Key) {
		return ErrInvalidPersonaKey
	}
	// Limits count characters, not bytes, so non-latin titles measure the
	// same as latin ones.
	titleLen := utf8.RuneCountInString(p.Title)
	if titleLen < MinPersonaTitleLength || titleLen > MaxPersonaTitleLength {
		return ErrInvalidPersonaTitle
	}
	if utf8.RuneCountInString(p.Instruction) < MinPersonaInstructionLength {
		return ErrInstructionTooShort
	}
	return nil
}

// Session records the active persona for a conversation. The persona
// reference is best-effort: it may point to a since-deleted persona.
type Session struct {
	ChatID     int64     `json:"chat_id"`
	PersonaKey string    `json:"persona_key"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// WizardStep is the tagged variant for the persona creation wizard. Each
// variant carries exactly the fields collected so far, so a later field can
// never be read before its step has run.
type WizardStep interface {
	// Ordinal returns the durable step number (1..3).
	Ordinal() int
	wizardStep()
}

// StepAwaitingKey is the first wizard step: no fields collected yet.
type StepAwaitingKey struct{}

// StepAwaitingTitle holds the validated key and waits for a title.
type StepAwaitingTitle struct {
	Key string `json:"key"`
}

// StepAwaitingInstruction holds key and title and waits for the instruction.
type StepAwaitingInstruction struct {
	Key   string `json:"key"`
	Title string `json:"title"`
}

func (StepAwaitingKey) Ordinal() int         { return 1 }
func (StepAwaitingTitle) Ordinal() int       { return 2 }
func (StepAwaitingInstruction) Ordinal() int { return 3 }

func (StepAwaitingKey) wizardStep()         {}
func (StepAwaitingTitle) wizardStep()       {}
func (StepAwaitingInstruction) wizardStep() {}

// WizardState is the durable per-chat creation wizard record. At most one
// wizard exists per conversation; its presence takes routing priority over
// ordinary command interpretation.
type WizardState struct {
	ChatID    int64      `json:"chat_id"`
	Step      WizardStep `json:"-"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// EncodeWizardStep serializes a step into its ordinal and partial-data JSON
// for durable storage.
func EncodeWizardStep(step WizardStep) (int, string, error) {
	if step == nil {
		return 0, "", ErrUnknownWizardStep
	}
	data, err := json.Marshal(step)
	if err != nil {
		return 0, "", fmt.Errorf("failed to marshal wizard step data: %w", err)
	}
	return step.Ordinal(), string(data), nil
}

// DecodeWizardStep rebuilds a typed step from its stored ordinal and data.
func DecodeWizardStep(ordinal int, data string) (WizardStep, error) {
	if data == "" {
		data = "{}"
	}
	switch ordinal {
	case 1:
		return StepAwaitingKey{}, nil
	case 2:
		var s StepAwaitingTitle
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal wizard step data: %w", err)
		}
		return s, nil
	case 3:
		var s StepAwaitingInstruction
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal wizard step data: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: ordinal %d", ErrUnknownWizardStep, ordinal)
	}
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
