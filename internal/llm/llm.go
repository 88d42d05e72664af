// Package llm is the boundary to the hosted language model.
package llm

import (
	"context"
	"errors"

	"github.com/xaenox/creator-crew/internal/models"
)

// ErrMalformedResponse is returned when the backend answers with neither text nor tool calls.
var ErrMalformedResponse = errors.New("llm: malformed response")

// Request carries the full instruction context for one model round.
type Request struct {
	Model       string
	Temperature float64
	Persona     string
	Transcript  []models.ChatMessage
	Tools       []models.ToolSpec
}

// ToolCall is a tool invocation proposed by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Response holds either final text or one or more tool calls.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

type Backend interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
