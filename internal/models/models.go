package models

import (
	"maps"
	"time"
)

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

type ToolStatus string

const (
	ToolPending  ToolStatus = "pending"
	ToolResolved ToolStatus = "resolved"
)

// ChatMessage is one entry of a conversation transcript.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ToolCall  *ToolCall `json:"tool_call,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolCall describes a model-requested tool invocation and, once resolved, its result.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Status    ToolStatus     `json:"status"`
	Result    string         `json:"result,omitempty"`
}

// ToolSpec declares a tool to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Pending reports whether the message is a tool call still awaiting its result.
func (m ChatMessage) Pending() bool {
	return m.ToolCall != nil && m.ToolCall.Status == ToolPending
}

// Clone returns a deep copy of m.
func (m ChatMessage) Clone() ChatMessage {
	out := m
	if m.ToolCall != nil {
		call := *m.ToolCall
		if m.ToolCall.Arguments != nil {
			call.Arguments = make(map[string]any, len(m.ToolCall.Arguments))
			maps.Copy(call.Arguments, m.ToolCall.Arguments)
		}
		out.ToolCall = &call
	}
	return out
}

func CloneMessages(in []ChatMessage) []ChatMessage {
	if in == nil {
		return nil
	}
	out := make([]ChatMessage, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
