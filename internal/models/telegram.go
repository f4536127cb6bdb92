// Package models defines Telegram Bot API payload structures.
package models

// Update is a single inbound Telegram webhook event. Exactly one of the
// optional payload fields is set per update.
type Update struct {
	UpdateID      int64            `json:"update_id"`
	Message       *IncomingMessage `json:"message,omitempty"`
	CallbackQuery *CallbackQuery   `json:"callback_query,omitempty"`
}

// IncomingMessage is a text message sent to the bot.
type IncomingMessage struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
}

// CallbackQuery is an inline keyboard button press.
type CallbackQuery struct {
	ID      string           `json:"id"`
	From    *User            `json:"from,omitempty"`
	Message *IncomingMessage `json:"message,omitempty"`
	Data    string           `json:"data,omitempty"`
}

// User identifies a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// Chat is the unit of addressing for sessions and wizard state.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// InlineKeyboardButton is one selectable button in an inline keyboard.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
}

// InlineKeyboardMarkup is the structured selection menu attached to a message.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}
