package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/creator-crew/internal/activity"
	"github.com/xaenox/creator-crew/internal/agents"
	"github.com/xaenox/creator-crew/internal/directive"
	"github.com/xaenox/creator-crew/internal/handoff"
	"github.com/xaenox/creator-crew/internal/llm/llmtest"
	"github.com/xaenox/creator-crew/internal/models"
	"github.com/xaenox/creator-crew/internal/orchestrator"
	"github.com/xaenox/creator-crew/internal/session"
	"github.com/xaenox/creator-crew/internal/storage"
	"github.com/xaenox/creator-crew/internal/tools"
	"go.uber.org/zap"
)

const (
	testChatID = int64(42)
	testUserID = int64(7)
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent = append(s.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (s *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (s *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	return s.sent[len(s.sent)-1]
}

func (s *fakeSender) callbackAnswers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.requests {
		if cb, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb.Text)
		}
	}
	return out
}

type noSearch struct{}

func (noSearch) Search(ctx context.Context, query string, maxResults int) ([]tools.Video, error) {
	return nil, nil
}

type fixture struct {
	bot     *Bot
	sender  *fakeSender
	store   *session.Store
	backend *llmtest.ScriptedBackend
	log     *activity.Log
}

func newFixture(t *testing.T, steps ...llmtest.Step) *fixture {
	t.Helper()
	registry := agents.Default()
	kv := storage.NewMemoryStorage()
	store, err := session.NewStore(kv, registry, session.Config{
		Tiers: []models.ModelTier{
			{ID: "gpt-4o-mini", Label: "Standard", Plan: models.PlanFree},
			{ID: "o3-mini", Label: "Reasoning", Plan: models.PlanBusiness},
		},
		DefaultTemperature: session.DefaultTemperature,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	toolRegistry := tools.NewRegistry(zap.NewNop())
	tools.RegisterBuiltins(toolRegistry, noSearch{}, nil)

	backend := llmtest.NewScriptedBackend(steps...)
	log := activity.NewLog(kv, zap.NewNop())
	orch := orchestrator.New(registry, store, toolRegistry, backend, log, orchestrator.Config{}, zap.NewNop())

	sender := &fakeSender{}
	b := newBot(sender, Deps{
		Agents:       registry,
		Sessions:     store,
		Orchestrator: orch,
		Dispatcher:   handoff.NewDispatcher(registry, store, orch, zap.NewNop()),
		Parser:       directive.New(registry),
		Activity:     log,
	}, zap.NewNop())
	return &fixture{bot: b, sender: sender, store: store, backend: backend, log: log}
}

func textMessage(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: testChatID},
		From: &tgbotapi.User{ID: testUserID},
	}
}

func commandMessage(text string) *tgbotapi.Message {
	msg := textMessage(text)
	length := len(text)
	if i := strings.IndexByte(text, ' '); i >= 0 {
		length = i
	}
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	return msg
}

func callback(data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: testUserID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: testChatID}},
		Data:    data,
	}
}

func buttons(t *testing.T, msg tgbotapi.MessageConfig) []tgbotapi.InlineKeyboardButton {
	t.Helper()
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok, "reply has no inline keyboard")
	var out []tgbotapi.InlineKeyboardButton
	for _, row := range markup.InlineKeyboard {
		out = append(out, row...)
	}
	return out
}

func TestReplyRendersHandoffButton(t *testing.T) {
	f := newFixture(t,
		llmtest.Text("Here are three hooks.\nHANDOFF:[writer,\"Script the second hook\"]"),
		llmtest.Text("INT. KITCHEN - NIGHT"),
	)
	ctx := context.Background()

	f.bot.handleMessage(ctx, textMessage("ideas for a cooking channel"))

	reply := f.sender.last(t)
	assert.Equal(t, testChatID, reply.ChatID)
	assert.Equal(t, "🤖 Viral Visionary\n\nHere are three hooks.", reply.Text)
	btns := buttons(t, reply)
	require.Len(t, btns, 1)
	assert.Equal(t, "Ask Creative Writer", btns[0].Text)
	require.NotNil(t, btns[0].CallbackData)
	assert.LessOrEqual(t, len(*btns[0].CallbackData), 64)

	f.bot.handleCallback(ctx, callback(*btns[0].CallbackData))

	assert.Equal(t, "writer", f.bot.deps.Dispatcher.Active("7"))
	assert.Equal(t, "🤖 Creative Writer\n\nINT. KITCHEN - NIGHT", f.sender.last(t).Text)

	reqs := f.backend.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Transcript[len(reqs[1].Transcript)-1]
	assert.Equal(t, models.RoleUser, last.Role)
	assert.Equal(t, "Script the second hook", last.Content)
}

func TestActionButtonSimulatesDelivery(t *testing.T) {
	f := newFixture(t, llmtest.Text(`Draft ready. ACTION:[email,"Subject: Collab?"]`))
	ctx := context.Background()

	f.bot.handleMessage(ctx, textMessage("write a sponsor email"))
	btns := buttons(t, f.sender.last(t))
	require.Len(t, btns, 1)
	assert.Equal(t, "Send Email", btns[0].Text)

	f.bot.handleCallback(ctx, callback(*btns[0].CallbackData))

	assert.Equal(t, "✅ Done! Your content was sent to Email.", f.sender.last(t).Text)
	entries, err := f.log.Recent(ctx, "7", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Sent content to Email", entries[0].Summary)
}

func TestExpiredButton(t *testing.T) {
	f := newFixture(t)

	f.bot.handleCallback(context.Background(), callback(callbackAffordance+"missing"))

	assert.Equal(t, []string{"This button has expired."}, f.sender.callbackAnswers())
	assert.Empty(t, f.sender.sent)
}

func TestReplyWithoutDirectivesHasNoKeyboard(t *testing.T) {
	f := newFixture(t, llmtest.Text("Just text."))

	f.bot.handleMessage(context.Background(), textMessage("hi"))

	reply := f.sender.last(t)
	assert.Equal(t, "🤖 Viral Visionary\n\nJust text.", reply.Text)
	assert.Nil(t, reply.ReplyMarkup)
}

func TestBackendFailureShowsApology(t *testing.T) {
	f := newFixture(t, llmtest.Fail(assert.AnError))

	f.bot.handleMessage(context.Background(), textMessage("hi"))

	assert.Equal(t, "🤖 Viral Visionary\n\n"+orchestrator.ApologyText, f.sender.last(t).Text)
}

func TestModelCommandRejectsGatedTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bot.handleMessage(ctx, commandMessage("/model o3-mini"))

	notice := f.sender.last(t).Text
	assert.True(t, strings.HasPrefix(notice, "🔒 "), notice)
	assert.Contains(t, notice, "business")

	settings, err := f.store.LoadSettings(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", settings.Model)
}

func TestModelCommandAfterUpgrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetPlan(ctx, "7", models.PlanBusiness))

	f.bot.handleMessage(ctx, commandMessage("/model o3-mini"))

	assert.Equal(t, "Saved: model o3-mini, temperature 0.7", f.sender.last(t).Text)
}

func TestTempCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bot.handleMessage(ctx, commandMessage("/temp 0.3"))
	assert.Equal(t, "Saved: model gpt-4o-mini, temperature 0.3", f.sender.last(t).Text)

	f.bot.handleMessage(ctx, commandMessage("/temp 1.5"))
	assert.Equal(t, "⚠️ Temperature must be between 0 and 1.", f.sender.last(t).Text)

	settings, err := f.store.LoadSettings(ctx, "7")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, settings.Temperature, 1e-9)
}

func TestAgentCommandSwitchesAndGreets(t *testing.T) {
	f := newFixture(t)

	f.bot.handleMessage(context.Background(), commandMessage("/agent trends"))

	assert.Equal(t, "trends", f.bot.deps.Dispatcher.Active("7"))
	assert.Contains(t, f.sender.last(t).Text, "Hi! I'm Trend Scout.")
}

func TestAgentCommandUnknown(t *testing.T) {
	f := newFixture(t)

	f.bot.handleMessage(context.Background(), commandMessage("/agent chef"))

	assert.Equal(t, "visionary", f.bot.deps.Dispatcher.Active("7"))
	assert.Contains(t, f.sender.last(t).Text, "I don't know that agent")
}

func TestClearCommandRegreets(t *testing.T) {
	f := newFixture(t, llmtest.Text("First answer."))
	ctx := context.Background()

	f.bot.handleMessage(ctx, textMessage("hi"))
	f.bot.handleMessage(ctx, commandMessage("/clear"))

	msgs, err := f.store.LoadConversation(ctx, "7", "visionary")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleModel, msgs[0].Role)
	assert.Contains(t, f.sender.last(t).Text, "Hi! I'm Viral Visionary.")
}

func TestClearCommandWhileReplyPending(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, llmtest.Step{Response: llmtest.Text("Slow answer.").Response, Wait: release})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.bot.handleMessage(ctx, textMessage("hi"))
	}()
	require.Eventually(t, func() bool {
		return len(f.backend.Requests()) == 1
	}, time.Second, 5*time.Millisecond)

	f.bot.handleMessage(ctx, commandMessage("/clear"))
	assert.Contains(t, f.sender.last(t).Text, "Still working on your last message")

	close(release)
	<-done

	msgs, err := f.store.LoadConversation(ctx, "7", "visionary")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Slow answer.", msgs[2].Content)
}

func TestStarterButtonSubmitsPrompt(t *testing.T) {
	f := newFixture(t, llmtest.Text("Trending now: cozy vlogs."))
	ctx := context.Background()
	trends, ok := f.bot.deps.Agents.Find("trends")
	require.True(t, ok)
	require.NotEmpty(t, trends.StarterPrompts)

	f.bot.handleCallback(ctx, callback(callbackStarter+"trends:0"))

	assert.Equal(t, "trends", f.bot.deps.Dispatcher.Active("7"))
	assert.Equal(t, "🤖 Trend Scout\n\nTrending now: cozy vlogs.", f.sender.last(t).Text)
	reqs := f.backend.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, trends.StarterPrompts[0], reqs[0].Transcript[len(reqs[0].Transcript)-1].Content)
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)

	f.bot.handleMessage(context.Background(), commandMessage("/dance"))

	assert.True(t, strings.HasPrefix(f.sender.last(t).Text, "Unknown command."))
}

func TestActivityCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bot.handleMessage(ctx, commandMessage("/activity"))
	assert.Equal(t, "No activity yet.", f.sender.last(t).Text)

	f.log.Record(ctx, "7", "Sent content to Email", "action")
	f.bot.handleMessage(ctx, commandMessage("/activity"))
	msg := f.sender.last(t)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, msg.ParseMode)
	assert.Contains(t, msg.Text, "Sent content to Email")
}

func TestButtonStoreIsPerUser(t *testing.T) {
	s := newButtonStore()
	token := s.put("u1", directive.Affordance{Kind: directive.KindHandoff, AgentID: "writer"})

	a, ok := s.get("u1", token)
	require.True(t, ok)
	assert.Equal(t, "writer", a.AgentID)

	_, ok = s.get("u2", token)
	assert.False(t, ok)
}

func TestButtonStoreEvictsOldest(t *testing.T) {
	s := newButtonStore()
	first := s.put("u1", directive.Affordance{})
	for i := 0; i < maxButtons; i++ {
		s.put("u1", directive.Affordance{})
	}

	_, ok := s.get("u1", first)
	assert.False(t, ok)
	assert.Len(t, s.buttons, maxButtons)
}

func TestParseStarter(t *testing.T) {
	id, index, ok := parseStarter("writer:2")
	require.True(t, ok)
	assert.Equal(t, "writer", id)
	assert.Equal(t, 2, index)

	for _, bad := range []string{"writer", "writer:x", "writer:-1"} {
		_, _, ok := parseStarter(bad)
		assert.False(t, ok, bad)
	}
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	chunks := splitMessage("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, chunks)

	long := strings.Repeat("x", 25)
	chunks = splitMessage(long, 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)
}

func TestSplitMessageCountsUTF16Units(t *testing.T) {
	// Each emoji is one rune but two UTF-16 code units.
	emoji := strings.Repeat("😀", 6)
	assert.Equal(t, []string{emoji}, splitMessage(emoji, 12))

	chunks := splitMessage(emoji, 5)
	assert.Equal(t, []string{"😀😀", "😀😀", "😀😀"}, chunks)

	long := strings.Repeat("🎬", maxMessageLength/2+10)
	for _, c := range splitMessage(long, maxMessageLength) {
		assert.LessOrEqual(t, len(utf16.Encode([]rune(c))), maxMessageLength)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `gpt\-4o \(pro\)\.`, escapeMarkdown("gpt-4o (pro)."))
}
