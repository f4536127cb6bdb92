// Package bot routes inbound Telegram updates to the wizard, the persona
// commands, or the completion collaborator.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Phantom00716/telegram-personalities-bot/internal/flow"
	"github.com/Phantom00716/telegram-personalities-bot/internal/models"
	"github.com/Phantom00716/telegram-personalities-bot/internal/personas"
	"github.com/Phantom00716/telegram-personalities-bot/internal/store"
)

// Sender delivers messages to the chat platform. Failures are logged by the
// caller, never retried, and never surfaced to the end user as a second
// message.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendKeyboard(ctx context.Context, chatID int64, text string, markup models.InlineKeyboardMarkup) error
	AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error
}

// Generator produces a completion from a system instruction and user text.
type Generator interface {
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Command keywords, matched as case-sensitive prefixes on the message text.
// A leading slash is accepted so the platform-native /begin form also works.
const (
	CmdBegin         = "begin"
	CmdHelp          = "help"
	CmdSwitch        = "switch"
	CmdWhoAmI        = "who-am-i"
	CmdListPersonas  = "list-personas"
	CmdNewPersona    = "new-persona"
	CmdDeletePersona = "delete-persona"
)

// selectCallbackPrefix tags inline keyboard payloads that select a persona.
const selectCallbackPrefix = "set:"

// User-facing router replies.
const (
	msgPickPersona        = "Hello! Pick a persona to chat with:"
	msgSwitchPersona      = "Pick a persona:"
	msgNoPersonaSelected  = "No persona selected yet. Send switch or begin and pick one."
	msgPersonaUnavailable = "The selected persona is no longer available. Send switch and pick another one."
	msgNoPersonasYet      = "No personas yet."
	msgNotAllowedCreate   = "You do not have permission to create personas."
	msgNotAllowedDelete   = "You do not have permission to delete personas."
	msgDeleteUsage        = "Usage: delete-persona <key>"
	msgUnknownPersona     = "Unknown persona"
)

// Router classifies each inbound update and dispatches it.
type Router struct {
	store     store.Store
	cache     *personas.Cache
	wizard    *flow.Wizard
	sender    Sender
	generator Generator
	admins    map[int64]bool
}

// NewRouter creates a router with its collaborators and admin allow-list.
func NewRouter(st store.Store, cache *personas.Cache, wizard *flow.Wizard, sender Sender, generator Generator, adminIDs []int64) *Router {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	slog.Debug("Creating router", "admins", len(adminIDs))
	return &Router{store: st, cache: cache, wizard: wizard, sender: sender, generator: generator, admins: admins}
}

// IsAdmin reports whether the account is on the admin allow-list.
func (r *Router) IsAdmin(userID int64) bool {
	return r.admins[userID]
}

// HandleUpdate processes a single inbound update. Errors fail only this
// unit of work; the dispatcher logs them without affecting other chats.
func (r *Router) HandleUpdate(ctx context.Context, update models.Update) error {
	switch {
	case update.CallbackQuery != nil:
		return r.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.Text != "":
		return r.handleMessage(ctx, update.Message)
	default:
		slog.Debug("Router ignoring update without text or callback", "updateID", update.UpdateID)
		return nil
	}
}

// handleCallback processes inline keyboard presses carrying a persona
// selection payload.
func (r *Router) handleCallback(ctx context.Context, cb *models.CallbackQuery) error {
	if cb.Message == nil {
		slog.Warn("Router callback without originating message", "callbackID", cb.ID)
		return nil
	}
	chatID := cb.Message.Chat.ID

	if !strings.HasPrefix(cb.Data, selectCallbackPrefix) {
		slog.Debug("Router ignoring unknown callback payload", "chatID", chatID, "data", cb.Data)
		return nil
	}
	key := strings.TrimPrefix(cb.Data, selectCallbackPrefix)

	persona, known := r.cache.Get(key)
	if !known {
		slog.Warn("Router callback for unknown persona", "chatID", chatID, "key", key)
		return r.sender.AnswerCallback(ctx, cb.ID, msgUnknownPersona, true)
	}

	if err := r.store.SetActivePersona(chatID, key); err != nil {
		return err
	}
	if err := r.sender.AnswerCallback(ctx, cb.ID, "Selected: "+persona.Title, false); err != nil {
		slog.Error("Router answer callback failed", "error", err, "chatID", chatID)
	}
	slog.Info("Router persona selected", "chatID", chatID, "key", key)
	return r.sender.SendMessage(ctx, chatID,
		fmt.Sprintf("Persona set: <b>%s</b>\nSend any message and I will reply in character.", persona.Title))
}

func (r *Router) handleMessage(ctx context.Context, msg *models.IncomingMessage) error {
	chatID := msg.Chat.ID
	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	text := strings.TrimSpace(msg.Text)

	// An in-progress wizard owns every message for its chat, including
	// command-looking text.
	active, err := r.wizard.Active(ctx, chatID)
	if err != nil {
		return err
	}
	if active {
		reply, err := r.wizard.HandleInput(ctx, chatID, userID, text)
		if err != nil {
			return err
		}
		return r.sender.SendMessage(ctx, chatID, reply)
	}

	command := strings.TrimPrefix(text, "/")
	switch {
	case strings.HasPrefix(command, CmdNewPersona):
		return r.handleNewPersona(ctx, chatID, userID)
	case strings.HasPrefix(command, CmdDeletePersona):
		return r.handleDeletePersona(ctx, chatID, userID, command)
	case strings.HasPrefix(command, CmdListPersonas):
		return r.handleListPersonas(ctx, chatID)
	case strings.HasPrefix(command, CmdWhoAmI):
		return r.handleWhoAmI(ctx, chatID)
	case strings.HasPrefix(command, CmdSwitch):
		return r.sender.SendKeyboard(ctx, chatID, msgSwitchPersona, r.personaKeyboard())
	case strings.HasPrefix(command, CmdBegin), strings.HasPrefix(command, CmdHelp):
		return r.sender.SendKeyboard(ctx, chatID, msgPickPersona, r.personaKeyboard())
	}

	return r.handleChatMessage(ctx, chatID, text)
}

func (r *Router) handleNewPersona(ctx context.Context, chatID, userID int64) error {
	if !r.IsAdmin(userID) {
		slog.Warn("Router unauthorized persona creation attempt", "chatID", chatID, "userID", userID)
		return r.sender.SendMessage(ctx, chatID, msgNotAllowedCreate)
	}
	reply, err := r.wizard.Start(ctx, chatID)
	if err != nil {
		return err
	}
	return r.sender.SendMessage(ctx, chatID, reply)
}

func (r *Router) handleDeletePersona(ctx context.Context, chatID, userID int64, command string) error {
	if !r.IsAdmin(userID) {
		slog.Warn("Router unauthorized persona deletion attempt", "chatID", chatID, "userID", userID)
		return r.sender.SendMessage(ctx, chatID, msgNotAllowedDelete)
	}
	fields := strings.Fields(command)
	if len(fields) < 2 {
		return r.sender.SendMessage(ctx, chatID, msgDeleteUsage)
	}
	key := fields[1]
	if err := r.store.DeletePersona(key); err != nil {
		return err
	}
	if err := r.cache.Reload(); err != nil {
		return err
	}
	slog.Info("Router persona deleted", "chatID", chatID, "key", key, "by", userID)
	return r.sender.SendMessage(ctx, chatID, fmt.Sprintf("Persona <b>%s</b> deleted (if it existed).", key))
}

func (r *Router) handleListPersonas(ctx context.Context, chatID int64) error {
	personas, err := r.store.GetPersonas()
	if err != nil {
		return err
	}
	if len(personas) == 0 {
		return r.sender.SendMessage(ctx, chatID, msgNoPersonasYet)
	}
	lines := make([]string, 0, len(personas)+1)
	lines = append(lines, "Personas:")
	for _, p := range personas {
		lines = append(lines, fmt.Sprintf("<b>%s</b>: %s", p.Key, p.Title))
	}
	return r.sender.SendMessage(ctx, chatID, strings.Join(lines, "\n"))
}

func (r *Router) handleWhoAmI(ctx context.Context, chatID int64) error {
	key, err := r.store.GetActivePersona(chatID)
	if err != nil {
		return err
	}
	if key == "" {
		return r.sender.SendMessage(ctx, chatID, msgNoPersonaSelected)
	}
	persona, known := r.cache.Get(key)
	if !known {
		return r.sender.SendMessage(ctx, chatID, msgNoPersonaSelected)
	}
	return r.sender.SendMessage(ctx, chatID, fmt.Sprintf("Current persona: <b>%s</b>", persona.Title))
}

// handleChatMessage relays free text to the completion collaborator using
// the chat's active persona.
func (r *Router) handleChatMessage(ctx context.Context, chatID int64, text string) error {
	key, err := r.store.GetActivePersona(chatID)
	if err != nil {
		return err
	}
	if key == "" {
		return r.sender.SendMessage(ctx, chatID, msgNoPersonaSelected)
	}
	persona, known := r.cache.Get(key)
	if !known {
		slog.Warn("Router active persona missing from cache", "chatID", chatID, "key", key)
		return r.sender.SendMessage(ctx, chatID, msgPersonaUnavailable)
	}

	reply, err := r.generator.GeneratePrompt(ctx, persona.Instruction, text)
	if err != nil {
		// Generation failures are surfaced to the user as the reply.
		slog.Error("Router completion failed", "error", err, "chatID", chatID, "persona", key)
		reply = fmt.Sprintf("Error talking to the language model: %v", err)
	}
	return r.sender.SendMessage(ctx, chatID, reply)
}

// personaKeyboard renders the selection menu, one persona per row.
func (r *Router) personaKeyboard() models.InlineKeyboardMarkup {
	all := r.cache.All()
	rows := make([][]models.InlineKeyboardButton, 0, len(all))
	for _, p := range all {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         "🧪 " + p.Title,
			CallbackData: selectCallbackPrefix + p.Key,
		}})
	}
	return models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
