package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Phantom00716/telegram-personalities-bot/internal/flow"
	"github.com/Phantom00716/telegram-personalities-bot/internal/models"
	"github.com/Phantom00716/telegram-personalities-bot/internal/personas"
	"github.com/Phantom00716/telegram-personalities-bot/internal/store"
)

const (
	adminID    = int64(761662415)
	nonAdminID = int64(555)
)

type sentMessage struct {
	chatID int64
	text   string
}

type sentCallback struct {
	id        string
	text      string
	showAlert bool
}

type fakeSender struct {
	mu        sync.Mutex
	messages  []sentMessage
	keyboards []sentMessage
	callbacks []sentCallback
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sentMessage{chatID, text})
	return nil
}

func (f *fakeSender) SendKeyboard(ctx context.Context, chatID int64, text string, markup models.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyboards = append(f.keyboards, sentMessage{chatID, text})
	return nil
}

func (f *fakeSender) AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, sentCallback{callbackID, text, showAlert})
	return nil
}

func (f *fakeSender) lastMessage(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		t.Fatal("no messages sent")
	}
	return f.messages[len(f.messages)-1]
}

type genCall struct {
	system string
	user   string
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []genCall
	reply string
	err   error
}

func (f *fakeGenerator) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, genCall{systemPrompt, userPrompt})
	return f.reply, f.err
}

func newTestRouter(t *testing.T) (*Router, *store.InMemoryStore, *fakeSender, *fakeGenerator) {
	t.Helper()
	st := store.NewInMemoryStore()
	if err := st.SeedBuiltinPersonas(personas.Builtins()); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	cache := personas.NewCache(st)
	if err := cache.Reload(); err != nil {
		t.Fatalf("cache reload failed: %v", err)
	}
	sender := &fakeSender{}
	generator := &fakeGenerator{reply: "generated reply"}
	wizard := flow.NewWizard(st, cache)
	router := NewRouter(st, cache, wizard, sender, generator, []int64{adminID})
	return router, st, sender, generator
}

func textUpdate(chatID, userID int64, text string) models.Update {
	return models.Update{Message: &models.IncomingMessage{
		From: &models.User{ID: userID},
		Chat: models.Chat{ID: chatID},
		Text: text,
	}}
}

func callbackUpdate(chatID int64, data string) models.Update {
	return models.Update{CallbackQuery: &models.CallbackQuery{
		ID:      "cb-1",
		From:    &models.User{ID: nonAdminID},
		Message: &models.IncomingMessage{Chat: models.Chat{ID: chatID}},
		Data:    data,
	}}
}

func TestAdminWizardScenario(t *testing.T) {
	router, st, sender, _ := newTestRouter(t)
	ctx := context.Background()
	const chatID = int64(1)

	steps := []struct {
		input string
		want  string
	}{
		{"new-persona", "step 1/3"},
		{"sage", "Step 2/3"},
		{"The Sage", "Step 3/3"},
		{"Speak in riddles and wisdom.", "Done!"},
	}
	for _, step := range steps {
		if err := router.HandleUpdate(ctx, textUpdate(chatID, adminID, step.input)); err != nil {
			t.Fatalf("input %q: unexpected error: %v", step.input, err)
		}
		if got := sender.lastMessage(t).text; !strings.Contains(got, step.want) {
			t.Fatalf("input %q: expected reply containing %q, got %q", step.input, step.want, got)
		}
	}

	personas, err := st.GetPersonas()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, p := range personas {
		if p.Key == "sage" && p.Title == "The Sage" {
			found = true
		}
	}
	if !found {
		t.Error("created persona missing from list")
	}
	state, _ := st.GetWizardState(chatID)
	if state != nil {
		t.Error("wizard state should be cleared")
	}
}

func TestNonAdminCannotStartWizard(t *testing.T) {
	router, st, sender, gen := newTestRouter(t)
	ctx := context.Background()
	const chatID = int64(2)

	if err := router.HandleUpdate(ctx, textUpdate(chatID, nonAdminID, "new-persona")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sender.lastMessage(t).text; got != msgNotAllowedCreate {
		t.Errorf("expected permission denied, got %q", got)
	}
	state, _ := st.GetWizardState(chatID)
	if state != nil {
		t.Fatal("no wizard should be created for a non-admin")
	}

	// Subsequent plain text is a normal chat message, not a wizard step:
	// with no active persona it yields the selection hint.
	if err := router.HandleUpdate(ctx, textUpdate(chatID, nonAdminID, "sage")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sender.lastMessage(t).text; got != msgNoPersonaSelected {
		t.Errorf("expected selection hint, got %q", got)
	}
	if len(gen.calls) != 0 {
		t.Errorf("no completion call expected, got %d", len(gen.calls))
	}
}

func TestWizardOwnsCommandLookingText(t *testing.T) {
	router, st, sender, _ := newTestRouter(t)
	ctx := context.Background()
	const chatID = int64(3)

	router.HandleUpdate(ctx, textUpdate(chatID, adminID, "new-persona"))
	// Mid-wizard, command keywords are treated as wizard input. "who-am-i"
	// happens to be a valid key.
	if err := router.HandleUpdate(ctx, textUpdate(chatID, adminID, "who-am-i")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sender.lastMessage(t).text; got != flow.MsgAskTitle {
		t.Errorf("expected wizard title prompt, got %q", got)
	}
	state, _ := st.GetWizardState(chatID)
	step, ok := state.Step.(models.StepAwaitingTitle)
	if !ok || step.Key != "who-am-i" {
		t.Errorf("wizard should have consumed the text as a key: %#v", state.Step)
	}
}

func TestNoActivePersonaHint(t *testing.T) {
	router, _, sender, gen := newTestRouter(t)
	ctx := context.Background()

	if err := router.HandleUpdate(ctx, textUpdate(4, nonAdminID, "Hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sender.lastMessage(t).text; got != msgNoPersonaSelected {
		t.Errorf("expected selection hint, got %q", got)
	}
	if len(gen.calls) != 0 {
		t.Errorf("no completion call expected, got %d", len(gen.calls))
	}
}

func TestSelectPersonaAndChat(t *testing.T) {
	router, st, sender, gen := newTestRouter(t)
	ctx := context.Background()
	const chatID = int64(5)

	if err := router.HandleUpdate(ctx, callbackUpdate(chatID, "set:einstein")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key, _ := st.GetActivePersona(chatID); key != "einstein" {
		t.Fatalf("expected einstein active, got %q", key)
	}
	if len(sender.callbacks) != 1 || sender.callbacks[0].showAlert {
		t.Errorf("expected a non-alert callback acknowledgment, got %+v", sender.callbacks)
	}

	if err := router.HandleUpdate(ctx, textUpdate(chatID, nonAdminID, "What is light?")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gen.calls) != 1 {
		t.Fatalf("expected one completion call, got %d", len(gen.calls))
	}
	call := gen.calls[0]
	if !strings.Contains(call.system, "Albert Einstein") {
		t.Errorf("expected einstein instruction, got %q", call.system)
	}
	if call.user != "What is light?" {
		t.Errorf("expected the user text verbatim, got %q", call.user)
	}
	if got := sender.lastMessage(t).text; got != "generated reply" {
		t.Errorf("expected generated text forwarded verbatim, got %q", got)
	}
}

func TestSelectUnknownPersona(t *testing.T) {
	router, st, sender, _ := newTestRouter(t)
	ctx := context.Background()
	const chatID = int64(6)

	if err := router.HandleUpdate(ctx, callbackUpdate(chatID, "set:nonexistent")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.callbacks) != 1 || !sender.callbacks[0].showAlert {
		t.Errorf("expected an alert callback, got %+v", sender.callbacks)
	}
	if key, _ := st.GetActivePersona(chatID); key != "" {
		t.Errorf("no state mutation expected, got active persona %q", key)
	}
}

func TestDeletedPersonaAfterSelection(t *testing.T) {
	router, st, sender, gen := newTestRouter(t)
	ctx := context.Background()
	const chatID = int64(7)

	// Create a custom persona through the wizard, then select it.
	for _, input := range []string{"new-persona", "sage", "The Sage", "Speak in riddles and wisdom."} {
		if err := router.HandleUpdate(ctx, textUpdate(chatID, adminID, input)); err != nil {
			t.Fatalf("input %q: unexpected error: %v", input, err)
		}
	}
	router.HandleUpdate(ctx, callbackUpdate(chatID, "set:sage"))

	if err := router.HandleUpdate(ctx, textUpdate(8, adminID, "delete-persona sage")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := st.GetPersona("sage")
	if p != nil {
		t.Fatal("persona should be deleted")
	}

	if err := router.HandleUpdate(ctx, textUpdate(chatID, nonAdminID, "Hello again")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sender.lastMessage(t).text; got != msgPersonaUnavailable {
		t.Errorf("expected unavailable notice, got %q", got)
	}
	if len(gen.calls) != 0 {
		t.Errorf("no completion call expected, got %d", len(gen.calls))
	}
}

func TestDeletedBuiltinStaysUsable(t *testing.T) {
	router, st, _, gen := newTestRouter(t)
	ctx := context.Background()
	const chatID = int64(15)

	router.HandleUpdate(ctx, callbackUpdate(chatID, "set:einstein"))
	if err := router.HandleUpdate(ctx, textUpdate(16, adminID, "delete-persona einstein")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := st.GetPersona("einstein")
	if p != nil {
		t.Fatal("durable row should be deleted")
	}

	// Builtins are merged back on every cache reload, so the chat keeps
	// working with the builtin definition.
	if err := router.HandleUpdate(ctx, textUpdate(chatID, nonAdminID, "What is light?")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gen.calls) != 1 {
		t.Fatalf("expected the builtin to stay usable, got %d completion calls", len(gen.calls))
	}
	if !strings.Contains(gen.calls[0].system, "Albert Einstein") {
		t.Errorf("expected the builtin instruction, got %q", gen.calls[0].system)
	}
}

func TestNonAdminCannotDeletePersona(t *testing.T) {
	router, st, sender, _ := newTestRouter(t)
	ctx := context.Background()

	if err := router.HandleUpdate(ctx, textUpdate(9, nonAdminID, "delete-persona einstein")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sender.lastMessage(t).text; got != msgNotAllowedDelete {
		t.Errorf("expected permission denied, got %q", got)
	}
	p, _ := st.GetPersona("einstein")
	if p == nil {
		t.Error("persona should not be deleted by a non-admin")
	}
}

func TestDeletePersonaUsage(t *testing.T) {
	router, _, sender, _ := newTestRouter(t)
	ctx := context.Background()

	if err := router.HandleUpdate(ctx, textUpdate(10, adminID, "delete-persona")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sender.lastMessage(t).text; got != msgDeleteUsage {
		t.Errorf("expected usage hint, got %q", got)
	}
}

func TestListPersonasOpenToAnyone(t *testing.T) {
	router, _, sender, _ := newTestRouter(t)
	ctx := context.Background()

	if err := router.HandleUpdate(ctx, textUpdate(11, nonAdminID, "list-personas")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := sender.lastMessage(t).text
	for _, key := range []string{"einstein", "aristotle", "temur"} {
		if !strings.Contains(got, key) {
			t.Errorf("expected listing to contain %q, got %q", key, got)
		}
	}
}

func TestWhoAmI(t *testing.T) {
	router, _, sender, _ := newTestRouter(t)
	ctx := context.Background()
	const chatID = int64(12)

	router.HandleUpdate(ctx, textUpdate(chatID, nonAdminID, "who-am-i"))
	if got := sender.lastMessage(t).text; got != msgNoPersonaSelected {
		t.Errorf("expected none selected, got %q", got)
	}

	router.HandleUpdate(ctx, callbackUpdate(chatID, "set:aristotle"))
	router.HandleUpdate(ctx, textUpdate(chatID, nonAdminID, "who-am-i"))
	if got := sender.lastMessage(t).text; !strings.Contains(got, "Aristotle") {
		t.Errorf("expected active persona title, got %q", got)
	}
}

func TestBeginAndSwitchSendKeyboard(t *testing.T) {
	router, _, sender, _ := newTestRouter(t)
	ctx := context.Background()

	router.HandleUpdate(ctx, textUpdate(13, nonAdminID, "begin"))
	router.HandleUpdate(ctx, textUpdate(13, nonAdminID, "/switch"))
	router.HandleUpdate(ctx, textUpdate(13, nonAdminID, "help"))
	if len(sender.keyboards) != 3 {
		t.Errorf("expected 3 keyboards, got %d", len(sender.keyboards))
	}
}

func TestGeneratorErrorSurfacedToUser(t *testing.T) {
	router, _, sender, gen := newTestRouter(t)
	gen.err = errors.New("model overloaded")
	gen.reply = ""
	ctx := context.Background()
	const chatID = int64(14)

	router.HandleUpdate(ctx, callbackUpdate(chatID, "set:temur"))
	if err := router.HandleUpdate(ctx, textUpdate(chatID, nonAdminID, "Advise me")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := sender.lastMessage(t).text
	if !strings.Contains(got, "model overloaded") {
		t.Errorf("expected the failure surfaced in the reply, got %q", got)
	}
}

func TestParseAdminIDs(t *testing.T) {
	cases := []struct {
		raw  string
		want []int64
	}{
		{"", []int64{DefaultAdminID}},
		{"1,2,3", []int64{1, 2, 3}},
		{" 42 , 7 ", []int64{42, 7}},
		{"not-a-number", []int64{DefaultAdminID}},
		{"1,bogus", []int64{DefaultAdminID}},
	}
	for _, tc := range cases {
		got := ParseAdminIDs(tc.raw)
		if len(got) != len(tc.want) {
			t.Errorf("ParseAdminIDs(%q) = %v, want %v", tc.raw, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("ParseAdminIDs(%q) = %v, want %v", tc.raw, got, tc.want)
				break
			}
		}
	}
}
