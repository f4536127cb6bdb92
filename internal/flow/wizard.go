// Package flow implements the persona creation wizard, a durable per-chat
// state machine driven by free-text messages.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Phantom00716/telegram-personalities-bot/internal/models"
	"github.com/Phantom00716/telegram-personalities-bot/internal/personas"
	"github.com/Phantom00716/telegram-personalities-bot/internal/store"
)

// CancelKeyword aborts the wizard from any step.
const CancelKeyword = "cancel"

// User-facing wizard replies.
const (
	MsgAskKey = "Creating a new persona (step 1/3).\n\n" +
		"Send a unique key (latin letters, digits, underscore or hyphen, 2-40 characters), for example: <code>scientist_x</code>.\n" +
		"Send <code>cancel</code> at any step to abort."
	MsgInvalidKey      = "Invalid key. Use only latin letters, digits, underscore or hyphen (2-40 characters). Try again."
	MsgKeyTaken        = "That key is already taken. Choose another one."
	MsgAskTitle        = "Step 2/3. Send the persona's display name (a short phrase, for example: 'Python Teacher')."
	MsgInvalidTitle    = "The name must be between 2 and 120 characters. Try again."
	MsgAskInstruction  = "Step 3/3. Send the system prompt (the behavioral instruction for the persona). For example:\n" +
		"<code>You are an experienced Python teacher. Answer clearly, with examples and steps.</code>"
	MsgInstructionTooShort = "The instruction is too short. Describe the persona's behavior in more detail."
	MsgDuplicateOnFinalize = "A persona with that key was created in the meantime. Persona creation has been reset; start over with new-persona."
	MsgCancelled           = "Persona creation cancelled."
)

// Wizard drives the 3-step persona creation dialogue. Each chat has at most
// one wizard; the durable upsert-by-chat-id is the serialization point for
// concurrent updates to the same chat.
type Wizard struct {
	store store.Store
	cache *personas.Cache
}

// NewWizard creates a wizard backed by the given store and persona cache.
func NewWizard(st store.Store, cache *personas.Cache) *Wizard {
	slog.Debug("Creating creation wizard")
	return &Wizard{store: st, cache: cache}
}

// Start clears any stale wizard state for the chat and begins a fresh run
// at the awaiting-key step. It returns the first prompt to send. The caller
// is responsible for the admin check.
func (w *Wizard) Start(ctx context.Context, chatID int64) (string, error) {
	if err := w.store.DeleteWizardState(chatID); err != nil {
		slog.Error("Wizard Start clear stale state failed", "error", err, "chatID", chatID)
		return "", err
	}
	state := models.WizardState{ChatID: chatID, Step: models.StepAwaitingKey{}, UpdatedAt: time.Now().UTC()}
	if err := w.store.SaveWizardState(state); err != nil {
		slog.Error("Wizard Start save state failed", "error", err, "chatID", chatID)
		return "", err
	}
	slog.Info("Wizard started", "chatID", chatID)
	return MsgAskKey, nil
}

// Active reports whether a wizard is in progress for the chat.
func (w *Wizard) Active(ctx context.Context, chatID int64) (bool, error) {
	state, err := w.store.GetWizardState(chatID)
	if err != nil {
		return false, err
	}
	return state != nil, nil
}

// HandleInput advances the wizard with the next free-text message and
// returns the reply to send. Validation failures keep the current step.
// The wizard owns all text routed to it, including command-looking text.
func (w *Wizard) HandleInput(ctx context.Context, chatID, userID int64, text string) (string, error) {
	state, err := w.store.GetWizardState(chatID)
	if err != nil {
		slog.Error("Wizard HandleInput get state failed", "error", err, "chatID", chatID)
		return "", err
	}
	if state == nil {
		return "", fmt.Errorf("no wizard state for chat %d", chatID)
	}

	input := strings.TrimSpace(text)
	if input == CancelKeyword {
		if err := w.store.DeleteWizardState(chatID); err != nil {
			slog.Error("Wizard cancel failed", "error", err, "chatID", chatID)
			return "", err
		}
		slog.Info("Wizard cancelled", "chatID", chatID, "step", state.Step.Ordinal())
		return MsgCancelled, nil
	}

	switch step := state.Step.(type) {
	case models.StepAwaitingKey:
		return w.handleKey(chatID, input)
	case models.StepAwaitingTitle:
		return w.handleTitle(chatID, step, input)
	case models.StepAwaitingInstruction:
		return w.finalize(chatID, userID, step, input)
	default:
		return "", fmt.Errorf("%w: %T", models.ErrUnknownWizardStep, state.Step)
	}
}

func (w *Wizard) handleKey(chatID int64, key string) (string, error) {
	if !models.PersonaKeyPattern.MatchString(key) {
		slog.Debug("Wizard rejected key", "chatID", chatID, "key", key)
		return MsgInvalidKey, nil
	}
	// Soft pre-check against the store; the finalize insert still handles a
	// concurrent create with the same key.
	existing, err := w.store.GetPersona(key)
	if err != nil {
		slog.Error("Wizard key uniqueness check failed", "error", err, "chatID", chatID, "key", key)
		return "", err
	}
	if existing != nil {
		slog.Debug("Wizard rejected taken key", "chatID", chatID, "key", key)
		return MsgKeyTaken, nil
	}

	state := models.WizardState{ChatID: chatID, Step: models.StepAwaitingTitle{Key: key}, UpdatedAt: time.Now().UTC()}
	if err := w.store.SaveWizardState(state); err != nil {
		slog.Error("Wizard advance to title failed", "error", err, "chatID", chatID)
		return "", err
	}
	slog.Debug("Wizard collected key", "chatID", chatID, "key", key)
	return MsgAskTitle, nil
}

func (w *Wizard) handleTitle(chatID int64, step models.StepAwaitingTitle, title string) (string, error) {
	titleLen := utf8.RuneCountInString(title)
	if titleLen < models.MinPersonaTitleLength || titleLen > models.MaxPersonaTitleLength {
		slog.Debug("Wizard rejected title", "chatID", chatID, "length", titleLen)
		return MsgInvalidTitle, nil
	}

	state := models.WizardState{
		ChatID:    chatID,
		Step:      models.StepAwaitingInstruction{Key: step.Key, Title: title},
		UpdatedAt: time.Now().UTC(),
	}
	if err := w.store.SaveWizardState(state); err != nil {
		slog.Error("Wizard advance to instruction failed", "error", err, "chatID", chatID)
		return "", err
	}
	slog.Debug("Wizard collected title", "chatID", chatID, "key", step.Key)
	return MsgAskInstruction, nil
}

func (w *Wizard) finalize(chatID, userID int64, step models.StepAwaitingInstruction, instruction string) (string, error) {
	if utf8.RuneCountInString(instruction) < models.MinPersonaInstructionLength {
		slog.Debug("Wizard rejected instruction", "chatID", chatID, "length", utf8.RuneCountInString(instruction))
		return MsgInstructionTooShort, nil
	}

	persona := models.Persona{
		Key:         step.Key,
		Title:       step.Title,
		Instruction: instruction,
		Creator:     userID,
	}
	// Persist first, clear second: a crash in between leaves a persona
	// without wizard cleanup, which is recoverable; the reverse is not.
	err := w.store.CreatePersona(persona)
	if errors.Is(err, models.ErrDuplicateKey) {
		slog.Warn("Wizard finalize duplicate key", "chatID", chatID, "key", step.Key)
		if delErr := w.store.DeleteWizardState(chatID); delErr != nil {
			slog.Error("Wizard reset after duplicate failed", "error", delErr, "chatID", chatID)
			return "", delErr
		}
		return MsgDuplicateOnFinalize, nil
	}
	if err != nil {
		slog.Error("Wizard finalize create failed", "error", err, "chatID", chatID, "key", step.Key)
		return "", err
	}
	if err := w.store.DeleteWizardState(chatID); err != nil {
		slog.Error("Wizard finalize clear state failed", "error", err, "chatID", chatID)
		return "", err
	}
	if err := w.cache.Reload(); err != nil {
		slog.Error("Wizard finalize cache reload failed", "error", err, "chatID", chatID)
		return "", err
	}

	slog.Info("Wizard finalized persona", "chatID", chatID, "key", step.Key, "creator", userID)
	return fmt.Sprintf("Done! Persona <b>%s</b> with key <code>%s</code> created.\n"+
		"Send switch to select it, or list-personas to see the full list.", step.Title, step.Key), nil
}
