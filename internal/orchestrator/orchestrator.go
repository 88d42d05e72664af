// Package orchestrator runs conversation turns between a user, an agent and
// the model backend, resolving tool calls along the way.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/creator-crew/internal/activity"
	"github.com/xaenox/creator-crew/internal/agents"
	"github.com/xaenox/creator-crew/internal/llm"
	"github.com/xaenox/creator-crew/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultMaxToolRounds = 8
	DefaultRoundTimeout  = 60 * time.Second

	previewRunes = 60

	ApologyText    = "Sorry, I couldn't reach my AI brain just now. Please try again in a moment."
	RoundLimitText = "I ran out of steps while working on that. Could you narrow the request down a little?"
)

var (
	ErrEmptyInput   = errors.New("message is empty")
	ErrTurnInFlight = errors.New("a reply is already in progress for this agent")
)

type State string

const (
	StateIdle           State = "idle"
	StateAwaitingModel  State = "awaiting_model"
	StateResolvingTools State = "resolving_tools"
)

type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomeRoundLimit Outcome = "round_limit"
)

// Sessions is the subset of the session store a turn needs.
type Sessions interface {
	LoadConversation(ctx context.Context, userID, agentID string) ([]models.ChatMessage, error)
	SaveConversation(ctx context.Context, userID, agentID string, messages []models.ChatMessage)
	ClearConversation(ctx context.Context, userID, agentID string)
	LoadSettings(ctx context.Context, userID string) (models.AgentSettings, error)
	DefaultSettings() models.AgentSettings
}

// Invoker executes tool calls. Failures are reported in the result text.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) string
}

type AgentFinder interface {
	Find(id string) (agents.Agent, bool)
}

type Config struct {
	MaxToolRounds int
	RoundTimeout  time.Duration
}

// Turn is the outcome of one Submit.
type Turn struct {
	UserID   string
	AgentID  string
	Outcome  Outcome
	Reply    models.ChatMessage
	Messages []models.ChatMessage
}

type turnKey struct {
	userID  string
	agentID string
}

type Orchestrator struct {
	agents   AgentFinder
	sessions Sessions
	tools    Invoker
	backend  llm.Backend
	activity activity.Recorder
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	active map[turnKey]State
}

func New(agentFinder AgentFinder, sessions Sessions, tools Invoker, backend llm.Backend, recorder activity.Recorder, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = DefaultRoundTimeout
	}
	return &Orchestrator{
		agents:   agentFinder,
		sessions: sessions,
		tools:    tools,
		backend:  backend,
		activity: recorder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		active:   make(map[turnKey]State),
	}
}

// State reports where the (userID, agentID) pair is in its turn.
func (o *Orchestrator) State(userID, agentID string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.active[turnKey{userID, agentID}]; ok {
		return s
	}
	return StateIdle
}

func (o *Orchestrator) acquire(key turnKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[key]; busy {
		return false
	}
	o.active[key] = StateAwaitingModel
	return true
}

func (o *Orchestrator) setState(key turnKey, s State) {
	o.mu.Lock()
	o.active[key] = s
	o.mu.Unlock()
}

func (o *Orchestrator) release(key turnKey) {
	o.mu.Lock()
	delete(o.active, key)
	o.mu.Unlock()
}

// Submit runs one turn for text against the (userID, agentID) conversation and
// blocks until the turn is back to idle. While a turn is in flight for the same
// pair, further submissions return ErrTurnInFlight without touching the transcript.
//
// Model backend failures do not produce an error: they end the turn with an
// apology reply and OutcomeFailed.
func (o *Orchestrator) Submit(ctx context.Context, userID, agentID, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyInput
	}
	agent, ok := o.agents.Find(agentID)
	if !ok {
		return Turn{}, fmt.Errorf("%w: %s", agents.ErrNotFound, agentID)
	}

	key := turnKey{userID: userID, agentID: agentID}
	if !o.acquire(key) {
		return Turn{}, ErrTurnInFlight
	}
	defer o.release(key)

	transcript, err := o.sessions.LoadConversation(ctx, userID, agentID)
	if err != nil {
		return Turn{}, fmt.Errorf("load conversation: %w", err)
	}

	settings, err := o.sessions.LoadSettings(ctx, userID)
	if err != nil {
		o.logger.Warn("Failed to load settings, using defaults",
			zap.Error(err),
			zap.String("user_id", userID))
		settings = o.sessions.DefaultSettings()
	}

	t := &turn{
		o:          o,
		key:        key,
		agent:      agent,
		settings:   settings,
		transcript: transcript,
	}
	t.append(models.ChatMessage{Role: models.RoleUser, Content: text})

	result := t.run(ctx)
	if result.Outcome == OutcomeCompleted && o.activity != nil {
		o.activity.Record(ctx, userID, activity.Preview(text, previewRunes), "chat")
	}
	return result, nil
}

// Clear forgets the (userID, agentID) conversation. It returns ErrTurnInFlight
// while a turn is running for the pair, since that turn would write its
// transcript back over the clear.
func (o *Orchestrator) Clear(ctx context.Context, userID, agentID string) error {
	if _, ok := o.agents.Find(agentID); !ok {
		return fmt.Errorf("%w: %s", agents.ErrNotFound, agentID)
	}
	key := turnKey{userID: userID, agentID: agentID}
	if !o.acquire(key) {
		return ErrTurnInFlight
	}
	defer o.release(key)

	o.sessions.ClearConversation(ctx, userID, agentID)
	o.logger.Info("Cleared conversation",
		zap.String("user_id", userID),
		zap.String("agent_id", agentID))
	return nil
}

// turn holds the state of one Submit. Its transcript is owned by this turn alone.
type turn struct {
	o          *Orchestrator
	key        turnKey
	agent      agents.Agent
	settings   models.AgentSettings
	transcript []models.ChatMessage
}

func (t *turn) append(msg models.ChatMessage) int {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = t.o.now()
	}
	t.transcript = append(t.transcript, msg)
	t.persist()
	return len(t.transcript) - 1
}

func (t *turn) persist() {
	t.o.sessions.SaveConversation(context.Background(), t.key.userID, t.key.agentID, t.transcript)
}

func (t *turn) finish(outcome Outcome, text string) Turn {
	idx := t.append(models.ChatMessage{Role: models.RoleModel, Content: text})
	return Turn{
		UserID:   t.key.userID,
		AgentID:  t.key.agentID,
		Outcome:  outcome,
		Reply:    t.transcript[idx],
		Messages: models.CloneMessages(t.transcript),
	}
}

func (t *turn) run(ctx context.Context) Turn {
	log := t.o.logger.With(zap.String("user_id", t.key.userID), zap.String("agent_id", t.key.agentID))

	for toolRounds := 0; ; toolRounds++ {
		t.o.setState(t.key, StateAwaitingModel)
		resp, err := t.generate(ctx)
		if err != nil {
			log.Error("Model backend failed", zap.Error(err), zap.Int("tool_rounds", toolRounds))
			return t.finish(OutcomeFailed, ApologyText)
		}

		if len(resp.ToolCalls) == 0 {
			return t.finish(OutcomeCompleted, resp.Text)
		}
		if toolRounds >= t.o.cfg.MaxToolRounds {
			log.Warn("Tool round limit reached", zap.Int("limit", t.o.cfg.MaxToolRounds))
			return t.finish(OutcomeRoundLimit, RoundLimitText)
		}

		t.o.setState(t.key, StateResolvingTools)
		for _, call := range resp.ToolCalls {
			t.resolve(ctx, call)
		}
	}
}

func (t *turn) generate(ctx context.Context) (llm.Response, error) {
	roundCtx, cancel := context.WithTimeout(ctx, t.o.cfg.RoundTimeout)
	defer cancel()

	return t.o.backend.Generate(roundCtx, llm.Request{
		Model:       t.settings.Model,
		Temperature: t.settings.Temperature,
		Persona:     t.agent.Persona,
		Transcript:  models.CloneMessages(t.transcript),
		Tools:       t.agent.Tools,
	})
}

// resolve appends a pending tool message, runs the tool and fills in the
// result on that same message.
func (t *turn) resolve(ctx context.Context, call llm.ToolCall) {
	id := call.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	idx := t.append(models.ChatMessage{
		Role:    models.RoleTool,
		Content: "Using " + call.Name,
		ToolCall: &models.ToolCall{
			ID:        id,
			Name:      call.Name,
			Arguments: call.Arguments,
			Status:    models.ToolPending,
		},
	})

	result := t.o.tools.Invoke(ctx, call.Name, call.Arguments)

	resolved := *t.transcript[idx].ToolCall
	resolved.Status = models.ToolResolved
	resolved.Result = result
	t.transcript[idx].ToolCall = &resolved
	t.persist()
}
