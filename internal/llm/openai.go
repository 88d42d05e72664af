package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/creator-crew/internal/models"
	"go.uber.org/zap"
)

type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// OpenAIBackend talks to the chat completions API with function tools.
type OpenAIBackend struct {
	client    *openai.Client
	maxTokens int
	logger    *zap.Logger
}

func NewOpenAIBackend(cfg OpenAIConfig, logger *zap.Logger) *OpenAIBackend {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIBackend{
		client:    openai.NewClientWithConfig(clientConfig),
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}
}

func (b *OpenAIBackend) Generate(ctx context.Context, req Request) (Response, error) {
	resp, err := b.client.CreateChatCompletion(ctx, BuildChatRequest(req, b.maxTokens))
	if err != nil {
		b.logger.Error("Failed to get model response", zap.Error(err), zap.String("model", req.Model))
		return Response{}, fmt.Errorf("chat completion: %w", err)
	}
	return ParseChatResponse(resp)
}

var reasoningPrefixes = []string{"o1", "o3", "o4"}

// IsReasoningModel reports whether model belongs to the o-series, which takes
// max_completion_tokens and no temperature.
func IsReasoningModel(model string) bool {
	for _, p := range reasoningPrefixes {
		if model == p || strings.HasPrefix(model, p+"-") {
			return true
		}
	}
	return false
}

// BuildChatRequest converts a transcript into a chat completion request.
// Consecutive tool messages are folded into one assistant turn with all of
// their calls, followed by one tool message per result.
func BuildChatRequest(req Request, maxTokens int) openai.ChatCompletionRequest {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.Persona},
	}

	var (
		pendingCalls   []openai.ToolCall
		pendingResults []openai.ChatCompletionMessage
	)
	flush := func() {
		if len(pendingCalls) == 0 {
			return
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			ToolCalls: pendingCalls,
		})
		messages = append(messages, pendingResults...)
		pendingCalls, pendingResults = nil, nil
	}

	for _, m := range req.Transcript {
		if m.Role == models.RoleTool {
			if m.ToolCall == nil || m.Pending() {
				continue
			}
			args, _ := json.Marshal(m.ToolCall.Arguments)
			pendingCalls = append(pendingCalls, openai.ToolCall{
				ID:   m.ToolCall.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      m.ToolCall.Name,
					Arguments: string(args),
				},
			})
			pendingResults = append(pendingResults, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.ToolCall.Result,
				ToolCallID: m.ToolCall.ID,
			})
			continue
		}
		flush()

		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	flush()

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if IsReasoningModel(req.Model) {
		// Reasoning models only accept the default temperature.
		chatReq.MaxCompletionTokens = maxTokens
	} else {
		chatReq.MaxTokens = maxTokens
		chatReq.Temperature = float32(req.Temperature)
		if chatReq.Temperature == 0 {
			// Temperature is omitempty; a zero value would fall back to the server default.
			chatReq.Temperature = math.SmallestNonzeroFloat32
		}
	}
	for _, spec := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}
	return chatReq
}

// ParseChatResponse extracts final text or tool calls from the first choice.
func ParseChatResponse(resp openai.ChatCompletionResponse) (Response, error) {
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	msg := resp.Choices[0].Message

	if len(msg.ToolCalls) > 0 {
		calls := make([]ToolCall, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			args := map[string]any{}
			if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					return Response{}, fmt.Errorf("%w: arguments for %s: %v", ErrMalformedResponse, tc.Function.Name, err)
				}
			}
			calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
		}
		return Response{ToolCalls: calls}, nil
	}

	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return Response{}, fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}
	return Response{Text: text}, nil
}
