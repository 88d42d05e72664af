// Package session persists per-user conversations, agent settings and plans.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/creator-crew/internal/agents"
	"github.com/xaenox/creator-crew/internal/models"
	"github.com/xaenox/creator-crew/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrModelNotEntitled   = errors.New("model is not included in your plan")
	ErrUnknownModel       = errors.New("unknown model")
	ErrInvalidTemperature = errors.New("temperature must be between 0 and 1")
	ErrInvalidPlan        = errors.New("unknown plan")
)

const DefaultTemperature = 0.7

func ConversationKey(userID, agentID string) string {
	return fmt.Sprintf("conversation:%s:%s", userID, agentID)
}

func SettingsKey(userID string) string {
	return "settings:" + userID
}

func PlanKey(userID string) string {
	return "plan:" + userID
}

// AgentNamer resolves an agent id to its display name.
type AgentNamer interface {
	Name(id string) (string, bool)
}

type Config struct {
	// Tiers lists selectable models; the first entry is the baseline every plan gets.
	Tiers              []models.ModelTier
	DefaultTemperature float64
}

type cached struct {
	messages []models.ChatMessage
	absent   bool
}

// Store is the session store. Conversation writes go to an in-process copy
// immediately and reach the persistence medium in the background.
type Store struct {
	kv     storage.Storage
	agents AgentNamer
	tiers  []models.ModelTier
	temp   float64
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]cached

	writer *writer
}

func NewStore(kv storage.Storage, agentNames AgentNamer, cfg Config, logger *zap.Logger) (*Store, error) {
	if len(cfg.Tiers) == 0 {
		return nil, errors.New("at least one model tier is required")
	}
	temp := cfg.DefaultTemperature
	if temp < 0 || temp > 1 {
		return nil, fmt.Errorf("default temperature %.2f: %w", temp, ErrInvalidTemperature)
	}
	tiers := make([]models.ModelTier, len(cfg.Tiers))
	copy(tiers, cfg.Tiers)
	for i := range tiers {
		if tiers[i].Plan == "" {
			tiers[i].Plan = models.PlanFree
		}
		if !tiers[i].Plan.Valid() {
			return nil, fmt.Errorf("model %s: %w %q", tiers[i].ID, ErrInvalidPlan, tiers[i].Plan)
		}
	}
	return &Store{
		kv:     kv,
		agents: agentNames,
		tiers:  tiers,
		temp:   temp,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]cached),
		writer: newWriter(kv, logger),
	}, nil
}

// Greeting builds the first message of a fresh conversation with agentName.
func Greeting(agentName string, at time.Time) models.ChatMessage {
	return models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleModel,
		Content:   fmt.Sprintf("Hi! I'm %s. What are we creating today?", agentName),
		CreatedAt: at,
	}
}

// LoadConversation returns the stored transcript for (userID, agentID), or a
// single greeting if none has been stored. A stored empty transcript is
// returned as is.
func (s *Store) LoadConversation(ctx context.Context, userID, agentID string) ([]models.ChatMessage, error) {
	name, ok := s.agents.Name(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", agents.ErrNotFound, agentID)
	}
	key := ConversationKey(userID, agentID)

	s.mu.RLock()
	entry, hit := s.cache[key]
	s.mu.RUnlock()
	if hit {
		if entry.absent {
			return []models.ChatMessage{Greeting(name, s.now())}, nil
		}
		return models.CloneMessages(entry.messages), nil
	}

	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return []models.ChatMessage{Greeting(name, s.now())}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	messages := []models.ChatMessage{}
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", key, err)
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}

	s.mu.Lock()
	if _, raced := s.cache[key]; !raced {
		s.cache[key] = cached{messages: models.CloneMessages(messages)}
	}
	s.mu.Unlock()
	return messages, nil
}

// SaveConversation overwrites the transcript. It never blocks on the
// persistence medium; write failures are logged.
func (s *Store) SaveConversation(ctx context.Context, userID, agentID string, messages []models.ChatMessage) {
	key := ConversationKey(userID, agentID)
	snapshot := models.CloneMessages(messages)
	if snapshot == nil {
		snapshot = []models.ChatMessage{}
	}

	s.mu.Lock()
	s.cache[key] = cached{messages: snapshot}
	s.mu.Unlock()

	raw, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error("Failed to encode conversation",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("agent_id", agentID))
		return
	}
	s.writer.enqueue(key, writeOp{value: raw})
}

// ClearConversation forgets the transcript; the next load greets again.
func (s *Store) ClearConversation(ctx context.Context, userID, agentID string) {
	key := ConversationKey(userID, agentID)

	s.mu.Lock()
	s.cache[key] = cached{absent: true}
	s.mu.Unlock()

	s.writer.enqueue(key, writeOp{delete: true})
}

// Tiers returns the configured model tiers in order.
func (s *Store) Tiers() []models.ModelTier {
	out := make([]models.ModelTier, len(s.tiers))
	copy(out, s.tiers)
	return out
}

func (s *Store) tier(id string) (models.ModelTier, bool) {
	for _, t := range s.tiers {
		if t.ID == id {
			return t, true
		}
	}
	return models.ModelTier{}, false
}

func (s *Store) DefaultSettings() models.AgentSettings {
	return models.AgentSettings{Model: s.tiers[0].ID, Temperature: s.temp}
}

// LoadSettings returns the user's settings. A stored model the user is no
// longer entitled to falls back to the baseline tier.
func (s *Store) LoadSettings(ctx context.Context, userID string) (models.AgentSettings, error) {
	raw, err := s.kv.Get(ctx, SettingsKey(userID))
	if errors.Is(err, storage.ErrNotFound) {
		return s.DefaultSettings(), nil
	}
	if err != nil {
		return models.AgentSettings{}, fmt.Errorf("load settings: %w", err)
	}

	var settings models.AgentSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return models.AgentSettings{}, fmt.Errorf("decode settings: %w", err)
	}

	plan, err := s.Plan(ctx, userID)
	if err != nil {
		return models.AgentSettings{}, err
	}
	if t, ok := s.tier(settings.Model); !ok || !plan.Includes(t.Plan) {
		s.logger.Info("Reverting settings to baseline model",
			zap.String("user_id", userID),
			zap.String("model", settings.Model),
			zap.String("plan", string(plan)))
		settings.Model = s.tiers[0].ID
	}
	return settings, nil
}

// SaveSettings validates and stores settings. On any rejection nothing is
// written and the previous settings stay in effect.
func (s *Store) SaveSettings(ctx context.Context, userID string, settings models.AgentSettings) error {
	if settings.Temperature < 0 || settings.Temperature > 1 {
		return ErrInvalidTemperature
	}
	t, ok := s.tier(settings.Model)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, settings.Model)
	}
	plan, err := s.Plan(ctx, userID)
	if err != nil {
		return err
	}
	if !plan.Includes(t.Plan) {
		return fmt.Errorf("%w: %s requires the %s plan", ErrModelNotEntitled, t.Label, t.Plan)
	}

	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.kv.Put(ctx, SettingsKey(userID), raw); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Plan returns the user's subscription plan, free by default.
func (s *Store) Plan(ctx context.Context, userID string) (models.Plan, error) {
	raw, err := s.kv.Get(ctx, PlanKey(userID))
	if errors.Is(err, storage.ErrNotFound) {
		return models.PlanFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("load plan: %w", err)
	}
	var plan models.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return "", fmt.Errorf("decode plan: %w", err)
	}
	if !plan.Valid() {
		return models.PlanFree, nil
	}
	return plan, nil
}

func (s *Store) SetPlan(ctx context.Context, userID string, plan models.Plan) error {
	if !plan.Valid() {
		return fmt.Errorf("%w %q", ErrInvalidPlan, plan)
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := s.kv.Put(ctx, PlanKey(userID), raw); err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

// Flush waits for queued conversation writes to reach the persistence medium.
func (s *Store) Flush(ctx context.Context) error {
	return s.writer.flush(ctx)
}

// Close drains the write queue and stops the background writer.
func (s *Store) Close() {
	s.writer.close()
}
