// Package handoff tracks each user's active agent and moves users between agents.
package handoff

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xaenox/creator-crew/internal/agents"
	"github.com/xaenox/creator-crew/internal/models"
	"github.com/xaenox/creator-crew/internal/orchestrator"
	"go.uber.org/zap"
)

type Catalog interface {
	Find(id string) (agents.Agent, bool)
	First() (agents.Agent, bool)
}

type ConversationLoader interface {
	LoadConversation(ctx context.Context, userID, agentID string) ([]models.ChatMessage, error)
}

type Submitter interface {
	Submit(ctx context.Context, userID, agentID, text string) (orchestrator.Turn, error)
}

// Result describes the state after a switch or hand-off.
type Result struct {
	Agent    agents.Agent
	Messages []models.ChatMessage
	// Turn is set when a seed prompt was submitted.
	Turn *orchestrator.Turn
}

type Dispatcher struct {
	agents   Catalog
	sessions ConversationLoader
	turns    Submitter
	logger   *zap.Logger

	mu     sync.RWMutex
	active map[string]string
}

func NewDispatcher(catalog Catalog, sessions ConversationLoader, turns Submitter, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		agents:   catalog,
		sessions: sessions,
		turns:    turns,
		logger:   logger,
		active:   make(map[string]string),
	}
}

// Active returns the user's active agent id, defaulting to the first agent.
func (d *Dispatcher) Active(userID string) string {
	d.mu.RLock()
	id, ok := d.active[userID]
	d.mu.RUnlock()
	if ok {
		return id
	}
	if first, ok := d.agents.First(); ok {
		return first.ID
	}
	return ""
}

// Switch makes agentID active for userID and returns its conversation.
func (d *Dispatcher) Switch(ctx context.Context, userID, agentID string) (Result, error) {
	agent, ok := d.agents.Find(agentID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", agents.ErrNotFound, agentID)
	}
	messages, err := d.sessions.LoadConversation(ctx, userID, agentID)
	if err != nil {
		return Result{}, fmt.Errorf("switch to %s: %w", agentID, err)
	}

	d.mu.Lock()
	previous := d.active[userID]
	d.active[userID] = agentID
	d.mu.Unlock()

	d.logger.Info("Switched agent",
		zap.String("user_id", userID),
		zap.String("from", previous),
		zap.String("to", agentID))
	return Result{Agent: agent, Messages: messages}, nil
}

// Handoff switches to target and, if seed is not blank, submits it to the
// target agent as if the user had typed it. An unknown target changes nothing.
//
// A turn still running for the previous agent is left alone; it completes
// against its own conversation.
func (d *Dispatcher) Handoff(ctx context.Context, userID, target, seed string) (Result, error) {
	res, err := d.Switch(ctx, userID, target)
	if err != nil {
		return Result{}, err
	}

	seed = strings.TrimSpace(seed)
	if seed == "" {
		return res, nil
	}

	turn, err := d.turns.Submit(ctx, userID, target, seed)
	if err != nil {
		return res, fmt.Errorf("hand-off to %s: %w", target, err)
	}
	res.Turn = &turn
	res.Messages = turn.Messages
	return res, nil
}
