package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/creator-crew/internal/agents"
	"github.com/xaenox/creator-crew/internal/llm"
	"github.com/xaenox/creator-crew/internal/llm/llmtest"
	"github.com/xaenox/creator-crew/internal/models"
	"github.com/xaenox/creator-crew/internal/session"
	"github.com/xaenox/creator-crew/internal/storage"
	"github.com/xaenox/creator-crew/internal/tools"
	"go.uber.org/zap"
)

type recorded struct {
	userID, summary, icon string
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []recorded
}

func (r *fakeRecorder) Record(ctx context.Context, userID, summary, icon string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recorded{userID, summary, icon})
}

func (r *fakeRecorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.entries...)
}

type staticSearcher struct{}

func (staticSearcher) Search(ctx context.Context, query string, maxResults int) ([]tools.Video, error) {
	return []tools.Video{{ID: "v1", Title: "10 Cheap Dinners", Channel: "Budget Bites"}}, nil
}

type fixture struct {
	orch     *Orchestrator
	store    *session.Store
	backend  *llmtest.ScriptedBackend
	recorder *fakeRecorder
}

func newFixture(t *testing.T, cfg Config, steps ...llmtest.Step) *fixture {
	t.Helper()
	registry := agents.Default()
	store, err := session.NewStore(storage.NewMemoryStorage(), registry, session.Config{
		Tiers:              []models.ModelTier{{ID: "gpt-4o-mini", Label: "Standard", Plan: models.PlanFree}},
		DefaultTemperature: session.DefaultTemperature,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	toolRegistry := tools.NewRegistry(zap.NewNop())
	tools.RegisterBuiltins(toolRegistry, staticSearcher{}, nil)

	backend := llmtest.NewScriptedBackend(steps...)
	recorder := &fakeRecorder{}
	return &fixture{
		orch:     New(registry, store, toolRegistry, backend, recorder, cfg, zap.NewNop()),
		store:    store,
		backend:  backend,
		recorder: recorder,
	}
}

func roles(msgs []models.ChatMessage) []models.Role {
	out := make([]models.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestSubmitFinalAnswer(t *testing.T) {
	f := newFixture(t, Config{}, llmtest.Text("Here are some ideas."))
	ctx := context.Background()

	turn, err := f.orch.Submit(ctx, "u1", "visionary", "ideas for a cooking channel")
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, turn.Outcome)
	assert.Equal(t, "Here are some ideas.", turn.Reply.Content)
	assert.Equal(t, []models.Role{models.RoleModel, models.RoleUser, models.RoleModel}, roles(turn.Messages))
	assert.Equal(t, StateIdle, f.orch.State("u1", "visionary"))

	req := f.backend.Requests()[0]
	visionary, _ := agents.Default().Find("visionary")
	assert.Equal(t, visionary.Persona, req.Persona)
	assert.Equal(t, visionary.Tools, req.Tools)
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, 0.7, req.Temperature)
	assert.Equal(t, "ideas for a cooking channel", req.Transcript[len(req.Transcript)-1].Content)
}

func TestSubmitResolvesToolRoundsInOrder(t *testing.T) {
	f := newFixture(t, Config{},
		llmtest.Calls(
			llm.ToolCall{ID: "a", Name: "youtubeSearch", Arguments: map[string]any{"query": "cooking channel ideas"}},
			llm.ToolCall{ID: "b", Name: "currentDate"},
		),
		llmtest.Calls(llm.ToolCall{ID: "c", Name: "engagementRate", Arguments: map[string]any{"views": float64(100), "likes": float64(5), "comments": float64(5)}}),
		llmtest.Text("Done."),
	)
	ctx := context.Background()

	turn, err := f.orch.Submit(ctx, "u1", "trends", "what's hot in cooking?")
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, turn.Outcome)

	msgs := turn.Messages
	assert.Equal(t, []models.Role{
		models.RoleModel, models.RoleUser,
		models.RoleTool, models.RoleTool, models.RoleTool,
		models.RoleModel,
	}, roles(msgs))
	assert.Equal(t, "a", msgs[2].ToolCall.ID)
	assert.Equal(t, "b", msgs[3].ToolCall.ID)
	assert.Equal(t, "c", msgs[4].ToolCall.ID)
	for _, m := range msgs[2:5] {
		assert.False(t, m.Pending(), m.ToolCall.Name)
	}
	assert.Contains(t, msgs[2].ToolCall.Result, "10 Cheap Dinners")
	assert.Equal(t, "10.00%", msgs[4].ToolCall.Result)

	// The second round sees both resolved results from the first batch.
	requests := f.backend.Requests()
	require.Len(t, requests, 3)
	second := requests[1].Transcript
	require.Len(t, second, 4)
	assert.Equal(t, models.ToolResolved, second[2].ToolCall.Status)
	assert.Equal(t, models.ToolResolved, second[3].ToolCall.Status)

	require.NoError(t, f.store.Flush(ctx))
	stored, err := f.store.LoadConversation(ctx, "u1", "trends")
	require.NoError(t, err)
	assert.Equal(t, roles(msgs), roles(stored))
	for _, m := range stored {
		assert.False(t, m.Pending())
	}
}

func TestSubmitUnknownToolContinuesTurn(t *testing.T) {
	f := newFixture(t, Config{},
		llmtest.Calls(llm.ToolCall{ID: "x", Name: "fooBar"}),
		llmtest.Text("Carrying on without it."),
	)

	turn, err := f.orch.Submit(context.Background(), "u1", "visionary", "hi")
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, turn.Outcome)
	tool := turn.Messages[2]
	require.Equal(t, models.RoleTool, tool.Role)
	assert.Contains(t, tool.ToolCall.Result, "fooBar")
	assert.Contains(t, tool.ToolCall.Result, "Error")
	assert.Len(t, f.backend.Requests(), 2)
}

func TestSubmitBackendFailureApologizes(t *testing.T) {
	f := newFixture(t, Config{},
		llmtest.Calls(llm.ToolCall{ID: "a", Name: "currentDate"}),
		llmtest.Fail(errors.New("quota exceeded")),
	)

	turn, err := f.orch.Submit(context.Background(), "u1", "writer", "write me something")
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, turn.Outcome)
	assert.Equal(t, ApologyText, turn.Reply.Content)
	assert.Equal(t, []models.Role{models.RoleModel, models.RoleUser, models.RoleTool, models.RoleModel}, roles(turn.Messages))
	assert.Equal(t, StateIdle, f.orch.State("u1", "writer"))
	assert.Empty(t, f.recorder.all())
}

func TestSubmitRoundLimit(t *testing.T) {
	loop := llmtest.Calls(llm.ToolCall{Name: "currentDate"})
	f := newFixture(t, Config{MaxToolRounds: 2}, loop, loop, loop, llmtest.Text("never reached"))

	turn, err := f.orch.Submit(context.Background(), "u1", "visionary", "loop forever")
	require.NoError(t, err)

	assert.Equal(t, OutcomeRoundLimit, turn.Outcome)
	assert.Equal(t, RoundLimitText, turn.Reply.Content)
	assert.Len(t, f.backend.Requests(), 3)
	// Two executed batches; the third request was not executed.
	assert.Equal(t, []models.Role{
		models.RoleModel, models.RoleUser, models.RoleTool, models.RoleTool, models.RoleModel,
	}, roles(turn.Messages))
	assert.NotEmpty(t, turn.Messages[2].ToolCall.ID)
}

func TestSubmitRoundTimeout(t *testing.T) {
	never := make(chan struct{})
	f := newFixture(t, Config{RoundTimeout: 20 * time.Millisecond}, llmtest.Step{Wait: never})

	turn, err := f.orch.Submit(context.Background(), "u1", "visionary", "hello?")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, turn.Outcome)
	assert.Equal(t, StateIdle, f.orch.State("u1", "visionary"))
}

func TestSubmitWhileInFlightIsNoop(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, Config{},
		llmtest.Step{Response: llm.Response{Text: "slow answer"}, Wait: release},
		llmtest.Text("other agent answer"),
	)
	ctx := context.Background()

	done := make(chan Turn, 1)
	go func() {
		turn, err := f.orch.Submit(ctx, "u1", "visionary", "first")
		assert.NoError(t, err)
		done <- turn
	}()
	require.Eventually(t, func() bool {
		return f.orch.State("u1", "visionary") == StateAwaitingModel && len(f.backend.Requests()) == 1
	}, time.Second, time.Millisecond)

	before, err := f.store.LoadConversation(ctx, "u1", "visionary")
	require.NoError(t, err)

	_, err = f.orch.Submit(ctx, "u1", "visionary", "second")
	assert.ErrorIs(t, err, ErrTurnInFlight)

	after, err := f.store.LoadConversation(ctx, "u1", "visionary")
	require.NoError(t, err)
	assert.Len(t, after, len(before))

	// A different agent for the same user is independent.
	other, err := f.orch.Submit(ctx, "u1", "writer", "meanwhile")
	require.NoError(t, err)
	assert.Equal(t, "other agent answer", other.Reply.Content)

	close(release)
	first := <-done
	assert.Equal(t, "slow answer", first.Reply.Content)
	assert.Len(t, first.Messages, 3)
}

func TestClearRefusedWhileTurnInFlight(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, Config{},
		llmtest.Text("first answer"),
		llmtest.Step{Response: llm.Response{Text: "slow answer"}, Wait: release},
	)
	ctx := context.Background()

	_, err := f.orch.Submit(ctx, "u1", "visionary", "old question")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.orch.Submit(ctx, "u1", "visionary", "slow question")
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool {
		return len(f.backend.Requests()) == 2
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, f.orch.Clear(ctx, "u1", "visionary"), ErrTurnInFlight)

	close(release)
	<-done

	msgs, err := f.store.LoadConversation(ctx, "u1", "visionary")
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, "slow answer", msgs[4].Content)

	require.NoError(t, f.orch.Clear(ctx, "u1", "visionary"))
	assert.Equal(t, StateIdle, f.orch.State("u1", "visionary"))

	msgs, err = f.store.LoadConversation(ctx, "u1", "visionary")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleModel, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Viral Visionary")
}

func TestClearUnknownAgent(t *testing.T) {
	f := newFixture(t, Config{})
	assert.ErrorIs(t, f.orch.Clear(context.Background(), "u1", "chef"), agents.ErrNotFound)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.orch.Submit(context.Background(), "u1", "visionary", "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = f.orch.Submit(context.Background(), "u1", "ghost", "hi")
	assert.ErrorIs(t, err, agents.ErrNotFound)
	assert.Empty(t, f.backend.Requests())
}

func TestSubmitRecordsActivity(t *testing.T) {
	f := newFixture(t, Config{}, llmtest.Text("ok"))

	_, err := f.orch.Submit(context.Background(), "u1", "visionary", "ideas for a cooking channel that nobody has tried before, with a twist")
	require.NoError(t, err)

	entries := f.recorder.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "u1", entries[0].userID)
	assert.Equal(t, "chat", entries[0].icon)
	assert.Equal(t, "ideas for a cooking channel that nobody has tried before, wi…", entries[0].summary)
}

func TestSubmitUsesSavedSettings(t *testing.T) {
	f := newFixture(t, Config{}, llmtest.Text("ok"))
	ctx := context.Background()
	require.NoError(t, f.store.SaveSettings(ctx, "u1", models.AgentSettings{Model: "gpt-4o-mini", Temperature: 0.1}))

	_, err := f.orch.Submit(ctx, "u1", "visionary", "hi")
	require.NoError(t, err)
	assert.Equal(t, 0.1, f.backend.Requests()[0].Temperature)
}
