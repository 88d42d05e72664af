package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/creator-crew/internal/activity"
	"github.com/xaenox/creator-crew/internal/agents"
	"github.com/xaenox/creator-crew/internal/directive"
	"github.com/xaenox/creator-crew/internal/handoff"
	"github.com/xaenox/creator-crew/internal/models"
	"github.com/xaenox/creator-crew/internal/orchestrator"
	"github.com/xaenox/creator-crew/internal/session"
	"go.uber.org/zap"
)

// sender is the part of the Telegram API the bot talks to.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Deps are the core services the bot fronts.
type Deps struct {
	Agents       *agents.Registry
	Sessions     *session.Store
	Orchestrator *orchestrator.Orchestrator
	Dispatcher   *handoff.Dispatcher
	Parser       *directive.Parser
	Activity     *activity.Log
}

type Bot struct {
	api     *tgbotapi.BotAPI
	sender  sender
	deps    Deps
	buttons *buttonStore
	logger  *zap.Logger
}

func New(token string, deps Deps, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	b := newBot(api, deps, logger)
	b.api = api
	return b, nil
}

func newBot(s sender, deps Deps, logger *zap.Logger) *Bot {
	return &Bot{
		sender:  s,
		deps:    deps,
		buttons: newButtonStore(),
		logger:  logger,
	}
}

// Start polls for updates until ctx is cancelled. Each update is handled on its
// own goroutine; turns for one (user, agent) pair are serialized by the orchestrator.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			switch {
			case update.Message != nil:
				go b.handleMessage(ctx, update.Message)
			case update.CallbackQuery != nil:
				go b.handleCallback(ctx, update.CallbackQuery)
			}
		}
	}
}

func userKey(u *tgbotapi.User) string {
	return strconv.FormatInt(u.ID, 10)
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil {
		return
	}
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		b.sendMessage(message.Chat.ID, "I can only read text for now. Send me a message!")
		return
	}

	userID := userKey(message.From)
	b.submit(ctx, message.Chat.ID, userID, b.deps.Dispatcher.Active(userID), content)
}

// submit runs a turn for agentID and sends the reply.
func (b *Bot) submit(ctx context.Context, chatID int64, userID, agentID, text string) {
	agent, ok := b.deps.Agents.Find(agentID)
	if !ok {
		b.sendErrorMessage(chatID, "That agent is no longer available.")
		return
	}

	b.sendTyping(chatID)
	turn, err := b.deps.Orchestrator.Submit(ctx, userID, agentID, text)
	switch {
	case errors.Is(err, orchestrator.ErrTurnInFlight):
		b.sendMessage(chatID, fmt.Sprintf("%s is still working on your last message. Hang tight!", agent.Name))
		return
	case err != nil:
		b.logger.Error("Failed to run turn",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("agent_id", agentID))
		b.sendErrorMessage(chatID, "Sorry, something went wrong. Please try again.")
		return
	}
	b.sendReply(chatID, userID, agent, turn.Reply)
}

// sendReply renders a final model message: directives become buttons.
func (b *Bot) sendReply(chatID int64, userID string, agent agents.Agent, reply models.ChatMessage) {
	parsed := b.deps.Parser.Parse(reply.Content)

	tokens := make([]string, len(parsed.Affordances))
	for i, a := range parsed.Affordances {
		tokens[i] = b.buttons.put(userID, a)
	}

	chunks := splitMessage(replyText(agent, parsed), maxMessageLength)
	for i, chunk := range chunks {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if i == len(chunks)-1 {
			if kb := affordanceKeyboard(tokens, parsed.Affordances); kb != nil {
				msg.ReplyMarkup = *kb
			}
		}
		if _, err := b.sender.Send(msg); err != nil {
			b.logger.Error("Failed to send reply",
				zap.Error(err),
				zap.Int64("chat_id", chatID),
				zap.String("agent_id", agent.ID))
			return
		}
	}
}

// sendConversationTail shows the last model message of a conversation, which
// for a new conversation is the greeting.
func (b *Bot) sendConversationTail(chatID int64, userID string, agent agents.Agent, messages []models.ChatMessage) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleModel {
			b.sendReply(chatID, userID, agent, messages[i])
			return
		}
	}
	b.sendMessage(chatID, fmt.Sprintf("You're now talking to %s.", agent.Name))
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.From == nil || query.Message == nil || query.Message.Chat == nil {
		return
	}
	userID := userKey(query.From)
	chatID := query.Message.Chat.ID

	switch data := query.Data; {
	case strings.HasPrefix(data, callbackAffordance):
		a, ok := b.buttons.get(userID, strings.TrimPrefix(data, callbackAffordance))
		if !ok {
			b.answerCallback(query.ID, "This button has expired.")
			return
		}
		b.answerCallback(query.ID, "")
		b.activateAffordance(ctx, chatID, userID, a)

	case strings.HasPrefix(data, callbackAgent):
		b.answerCallback(query.ID, "")
		b.switchAgent(ctx, chatID, userID, strings.TrimPrefix(data, callbackAgent))

	case strings.HasPrefix(data, callbackStarter):
		agentID, index, ok := parseStarter(strings.TrimPrefix(data, callbackStarter))
		agent, found := b.deps.Agents.Find(agentID)
		if !ok || !found || index >= len(agent.StarterPrompts) {
			b.answerCallback(query.ID, "This button has expired.")
			return
		}
		b.answerCallback(query.ID, "")
		if _, err := b.deps.Dispatcher.Switch(ctx, userID, agentID); err != nil {
			b.logger.Error("Failed to switch agent", zap.Error(err), zap.String("user_id", userID))
			b.sendErrorMessage(chatID, "Sorry, I couldn't open that conversation.")
			return
		}
		b.submit(ctx, chatID, userID, agentID, agent.StarterPrompts[index])

	default:
		b.answerCallback(query.ID, "")
	}
}

func parseStarter(data string) (string, int, bool) {
	agentID, rawIndex, ok := strings.Cut(data, ":")
	if !ok {
		return "", 0, false
	}
	index, err := strconv.Atoi(rawIndex)
	if err != nil || index < 0 {
		return "", 0, false
	}
	return agentID, index, true
}

func (b *Bot) activateAffordance(ctx context.Context, chatID int64, userID string, a directive.Affordance) {
	switch a.Kind {
	case directive.KindAction:
		// External services are not connected; completion is simulated.
		b.sendMessage(chatID, fmt.Sprintf("✅ Done! Your content was sent to %s.", a.Service.Name))
		if b.deps.Activity != nil {
			b.deps.Activity.Record(ctx, userID, "Sent content to "+a.Service.Name, "action")
		}

	case directive.KindHandoff:
		target, ok := b.deps.Agents.Find(a.AgentID)
		if !ok {
			b.sendErrorMessage(chatID, "That agent is no longer available.")
			return
		}
		b.sendTyping(chatID)
		res, err := b.deps.Dispatcher.Handoff(ctx, userID, a.AgentID, a.Prompt)
		switch {
		case errors.Is(err, agents.ErrNotFound):
			b.sendErrorMessage(chatID, "That agent is no longer available.")
		case errors.Is(err, orchestrator.ErrTurnInFlight):
			b.sendMessage(chatID, fmt.Sprintf("%s is still working on your last message. Hang tight!", target.Name))
		case err != nil:
			b.logger.Error("Hand-off failed",
				zap.Error(err),
				zap.String("user_id", userID),
				zap.String("agent_id", a.AgentID))
			b.sendErrorMessage(chatID, "Sorry, the hand-off didn't go through. Please try again.")
		case res.Turn != nil:
			b.sendReply(chatID, userID, target, res.Turn.Reply)
		default:
			b.sendConversationTail(chatID, userID, target, res.Messages)
		}
	}
}

func (b *Bot) switchAgent(ctx context.Context, chatID int64, userID, agentID string) {
	res, err := b.deps.Dispatcher.Switch(ctx, userID, agentID)
	if errors.Is(err, agents.ErrNotFound) {
		b.sendErrorMessage(chatID, "I don't know that agent. Use /agents to see the team.")
		return
	}
	if err != nil {
		b.logger.Error("Failed to switch agent",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("agent_id", agentID))
		b.sendErrorMessage(chatID, "Sorry, I couldn't open that conversation.")
		return
	}
	b.sendConversationTail(chatID, userID, res.Agent, res.Messages)
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.sender.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Warn("Failed to answer callback", zap.Error(err))
	}
}

func (b *Bot) sendTyping(chatID int64) {
	if _, err := b.sender.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("Failed to send typing action", zap.Error(err))
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send formatted message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
