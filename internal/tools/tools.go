// Package tools maps model-requested tool names to local functions.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/xaenox/creator-crew/internal/models"
	"go.uber.org/zap"
)

// Handler executes one tool call with the arguments the model supplied.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Registry resolves tool names to handlers. Invoke never fails: every problem
// becomes result text so it can be fed back to the model.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	specs    map[string]models.ToolSpec
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		specs:    make(map[string]models.ToolSpec),
		logger:   logger,
	}
}

// Register adds or replaces the handler for spec.Name.
func (r *Registry) Register(spec models.ToolSpec, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[spec.Name] = handler
	r.specs[spec.Name] = spec
}

// Spec returns the declaration registered under name.
func (r *Registry) Spec(name string) (models.ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

func UnknownToolResult(name string) string {
	return fmt.Sprintf("Error: tool %q is not available", name)
}

// Invoke runs the named tool and returns its result text.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (result string) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok || handler == nil {
		r.logger.Warn("Model requested unknown tool", zap.String("tool", name))
		return UnknownToolResult(name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Tool panicked", zap.String("tool", name), zap.Any("panic", rec))
			result = fmt.Sprintf("Error: %s: %v", name, rec)
		}
	}()

	out, err := handler(ctx, args)
	if err != nil {
		r.logger.Warn("Tool failed", zap.String("tool", name), zap.Error(err))
		return fmt.Sprintf("Error: %s: %v", name, err)
	}
	return out
}
