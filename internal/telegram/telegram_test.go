package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Phantom00716/telegram-personalities-bot/internal/models"
)

type recordedCall struct {
	path string
	body map[string]interface{}
}

func newTestServer(t *testing.T, reply string) (*httptest.Server, *[]recordedCall) {
	t.Helper()
	calls := &[]recordedCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		*calls = append(*calls, recordedCall{path: r.URL.Path, body: body})
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(reply)); err != nil {
			t.Errorf("failed to write response: %v", err)
		}
	}))
	return srv, calls
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(WithToken("test-token"), WithAPIBaseURL(baseURL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatal("expected an error without a token")
	}
}

func TestSendMessage(t *testing.T) {
	srv, calls := newTestServer(t, `{"ok":true}`)
	defer srv.Close()
	client := newTestClient(t, srv.URL)

	if err := client.SendMessage(context.Background(), 42, "<b>hello</b>"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(*calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(*calls))
	}
	call := (*calls)[0]
	if !strings.HasSuffix(call.path, "/bottest-token/sendMessage") {
		t.Errorf("unexpected path %q", call.path)
	}
	if call.body["chat_id"] != float64(42) {
		t.Errorf("unexpected chat_id %v", call.body["chat_id"])
	}
	if call.body["text"] != "<b>hello</b>" {
		t.Errorf("unexpected text %v", call.body["text"])
	}
	if call.body["parse_mode"] != "HTML" {
		t.Errorf("unexpected parse_mode %v", call.body["parse_mode"])
	}
}

func TestSendMessageRejected(t *testing.T) {
	srv, _ := newTestServer(t, `{"ok":false,"description":"chat not found"}`)
	defer srv.Close()
	client := newTestClient(t, srv.URL)

	err := client.SendMessage(context.Background(), 42, "hello")
	if err == nil {
		t.Fatal("expected an error for a rejected call")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("expected the API description in the error, got %v", err)
	}
}

func TestSendKeyboard(t *testing.T) {
	srv, calls := newTestServer(t, `{"ok":true}`)
	defer srv.Close()
	client := newTestClient(t, srv.URL)

	markup := models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		{{Text: "🧪 Albert Einstein", CallbackData: "set:einstein"}},
	}}
	if err := client.SendKeyboard(context.Background(), 7, "Pick one:", markup); err != nil {
		t.Fatalf("SendKeyboard failed: %v", err)
	}
	call := (*calls)[0]
	raw, ok := call.body["reply_markup"].(map[string]interface{})
	if !ok {
		t.Fatalf("reply_markup missing or wrong type: %v", call.body["reply_markup"])
	}
	rows, ok := raw["inline_keyboard"].([]interface{})
	if !ok || len(rows) != 1 {
		t.Fatalf("expected one keyboard row, got %v", raw["inline_keyboard"])
	}
}

func TestAnswerCallback(t *testing.T) {
	srv, calls := newTestServer(t, `{"ok":true}`)
	defer srv.Close()
	client := newTestClient(t, srv.URL)

	if err := client.AnswerCallback(context.Background(), "cb-9", "Unknown persona", true); err != nil {
		t.Fatalf("AnswerCallback failed: %v", err)
	}
	call := (*calls)[0]
	if !strings.HasSuffix(call.path, "/answerCallbackQuery") {
		t.Errorf("unexpected path %q", call.path)
	}
	if call.body["callback_query_id"] != "cb-9" {
		t.Errorf("unexpected callback_query_id %v", call.body["callback_query_id"])
	}
	if call.body["show_alert"] != true {
		t.Errorf("expected show_alert true, got %v", call.body["show_alert"])
	}
}

func TestSetWebhook(t *testing.T) {
	srv, calls := newTestServer(t, `{"ok":true}`)
	defer srv.Close()
	client := newTestClient(t, srv.URL)

	if err := client.SetWebhook(context.Background(), "https://bot.example.com/webhook"); err != nil {
		t.Fatalf("SetWebhook failed: %v", err)
	}
	call := (*calls)[0]
	if !strings.HasSuffix(call.path, "/setWebhook") {
		t.Errorf("unexpected path %q", call.path)
	}
	if call.body["url"] != "https://bot.example.com/webhook" {
		t.Errorf("unexpected url %v", call.body["url"])
	}
}
