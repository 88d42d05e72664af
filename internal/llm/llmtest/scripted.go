// Package llmtest provides a deterministic llm.Backend for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/xaenox/creator-crew/internal/llm"
	"github.com/xaenox/creator-crew/internal/models"
)

// Step configures one model round in a scripted sequence.
type Step struct {
	Response llm.Response
	Err      error
	// Wait, if set, blocks the round until it is closed or ctx is done.
	Wait <-chan struct{}
}

// Text is shorthand for a final-answer step.
func Text(text string) Step {
	return Step{Response: llm.Response{Text: text}}
}

// Calls is shorthand for a tool-call step.
func Calls(calls ...llm.ToolCall) Step {
	return Step{Response: llm.Response{ToolCalls: calls}}
}

// Fail is shorthand for a backend error step.
func Fail(err error) Step {
	return Step{Err: err}
}

type ScriptedBackend struct {
	mu       sync.Mutex
	steps    []Step
	index    int
	requests []llm.Request
}

var _ llm.Backend = (*ScriptedBackend)(nil)

func NewScriptedBackend(steps ...Step) *ScriptedBackend {
	cloned := make([]Step, len(steps))
	copy(cloned, steps)
	return &ScriptedBackend{steps: cloned}
}

func (b *ScriptedBackend) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	b.mu.Lock()
	req.Transcript = models.CloneMessages(req.Transcript)
	b.requests = append(b.requests, req)
	if b.index >= len(b.steps) {
		b.mu.Unlock()
		return llm.Response{}, fmt.Errorf("script exhausted at round %d", b.index+1)
	}
	step := b.steps[b.index]
	b.index++
	b.mu.Unlock()

	if step.Wait != nil {
		select {
		case <-step.Wait:
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}
	if step.Err != nil {
		return llm.Response{}, step.Err
	}
	return step.Response, nil
}

// Requests returns every request received so far.
func (b *ScriptedBackend) Requests() []llm.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]llm.Request, len(b.requests))
	copy(out, b.requests)
	return out
}
