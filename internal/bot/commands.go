package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/creator-crew/internal/models"
	"github.com/xaenox/creator-crew/internal/orchestrator"
	"github.com/xaenox/creator-crew/internal/session"
	"go.uber.org/zap"
)

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "agents":
		b.handleAgents(message)
	case "agent":
		b.handleAgent(ctx, message)
	case "starters":
		b.handleStarters(message)
	case "settings":
		b.handleSettings(ctx, message)
	case "model":
		b.handleModel(ctx, message)
	case "temp":
		b.handleTemperature(ctx, message)
	case "clear":
		b.handleClear(ctx, message)
	case "activity":
		b.handleActivity(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to your creator crew! 🎬
A team of AI agents is ready to help you brainstorm, script, spot trends and land sponsors.

Pick who you want to talk to, or just send a message to get started.`

	msg := tgbotapi.NewMessage(message.Chat.ID, welcome)
	msg.ReplyMarkup = agentKeyboard(b.deps.Agents.List(), b.deps.Dispatcher.Active(userKey(message.From)))
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send welcome", zap.Error(err), zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/agents - Meet the team and switch agents
/agent <id> - Switch to an agent by id
/starters - Show starter prompts for the current agent
/settings - Show your model settings
/model <id> - Choose a model
/temp <0-1> - Set the creativity (temperature)
/clear - Clear your conversation with the current agent
/activity - Show your recent activity

Any other message goes to your current agent.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleAgents(message *tgbotapi.Message) {
	active := b.deps.Dispatcher.Active(userKey(message.From))

	var sb strings.Builder
	sb.WriteString("*Your agent team:*\n")
	for _, a := range b.deps.Agents.List() {
		line := fmt.Sprintf("%s (%s)", a.Name, a.ID)
		if len(a.Integrations) > 0 {
			line += " works with " + strings.Join(a.Integrations, ", ")
		}
		sb.WriteString("\n" + escapeMarkdown(line))
	}
	b.sendMarkdown(message.Chat.ID, sb.String(), agentKeyboard(b.deps.Agents.List(), active))
}

func (b *Bot) handleAgent(ctx context.Context, message *tgbotapi.Message) {
	agentID := strings.TrimSpace(message.CommandArguments())
	if agentID == "" {
		b.handleAgents(message)
		return
	}
	b.switchAgent(ctx, message.Chat.ID, userKey(message.From), agentID)
}

func (b *Bot) handleStarters(message *tgbotapi.Message) {
	agent, ok := b.deps.Agents.Find(b.deps.Dispatcher.Active(userKey(message.From)))
	if !ok {
		b.sendErrorMessage(message.Chat.ID, "No agent selected. Use /agents to pick one.")
		return
	}
	msg := tgbotapi.NewMessage(message.Chat.ID, fmt.Sprintf("Try asking %s:", agent.Name))
	msg.ReplyMarkup = starterKeyboard(agent)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send starters", zap.Error(err), zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleSettings(ctx context.Context, message *tgbotapi.Message) {
	userID := userKey(message.From)
	settings, err := b.deps.Sessions.LoadSettings(ctx, userID)
	if err != nil {
		b.logger.Error("Failed to load settings", zap.Error(err), zap.String("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, failed to retrieve your settings. Please try again later.")
		return
	}
	plan, err := b.deps.Sessions.Plan(ctx, userID)
	if err != nil {
		b.logger.Error("Failed to load plan", zap.Error(err), zap.String("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, failed to retrieve your settings. Please try again later.")
		return
	}

	var sb strings.Builder
	sb.WriteString("*Your settings:*\n")
	sb.WriteString(escapeMarkdown(fmt.Sprintf("Plan: %s\nModel: %s\nTemperature: %.1f", plan, settings.Model, settings.Temperature)))
	sb.WriteString("\n\n*Models:*\n")
	for _, t := range b.deps.Sessions.Tiers() {
		marker := "🔓"
		if !plan.Includes(t.Plan) {
			marker = "🔒"
		}
		sb.WriteString(escapeMarkdown(fmt.Sprintf("%s %s (%s) - %s plan", marker, t.Label, t.ID, t.Plan)) + "\n")
	}
	b.sendMarkdown(message.Chat.ID, sb.String(), nil)
}

func (b *Bot) handleModel(ctx context.Context, message *tgbotapi.Message) {
	modelID := strings.TrimSpace(message.CommandArguments())
	if modelID == "" {
		b.sendMessage(message.Chat.ID, "Usage: /model <id>. See /settings for the list.")
		return
	}
	b.updateSettings(ctx, message, func(s *models.AgentSettings) { s.Model = modelID })
}

func (b *Bot) handleTemperature(ctx context.Context, message *tgbotapi.Message) {
	raw := strings.TrimSpace(message.CommandArguments())
	temp, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		b.sendMessage(message.Chat.ID, "Usage: /temp <0-1>, for example /temp 0.7")
		return
	}
	b.updateSettings(ctx, message, func(s *models.AgentSettings) { s.Temperature = temp })
}

func (b *Bot) updateSettings(ctx context.Context, message *tgbotapi.Message, change func(*models.AgentSettings)) {
	userID := userKey(message.From)
	settings, err := b.deps.Sessions.LoadSettings(ctx, userID)
	if err != nil {
		b.logger.Error("Failed to load settings", zap.Error(err), zap.String("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, failed to update your settings. Please try again later.")
		return
	}
	change(&settings)

	err = b.deps.Sessions.SaveSettings(ctx, userID, settings)
	switch {
	case errors.Is(err, session.ErrModelNotEntitled):
		b.sendMessage(message.Chat.ID, "🔒 "+upgradeNotice(err)+" Your settings were not changed.")
	case errors.Is(err, session.ErrUnknownModel):
		b.sendErrorMessage(message.Chat.ID, "Unknown model. See /settings for the list.")
	case errors.Is(err, session.ErrInvalidTemperature):
		b.sendErrorMessage(message.Chat.ID, "Temperature must be between 0 and 1.")
	case err != nil:
		b.logger.Error("Failed to save settings", zap.Error(err), zap.String("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, failed to update your settings. Please try again later.")
	default:
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Saved: model %s, temperature %.1f", settings.Model, settings.Temperature))
	}
}

func upgradeNotice(err error) string {
	msg := err.Error()
	if msg == "" {
		return "Upgrade your plan to use this model."
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}

func (b *Bot) handleClear(ctx context.Context, message *tgbotapi.Message) {
	userID := userKey(message.From)
	agentID := b.deps.Dispatcher.Active(userID)
	err := b.deps.Orchestrator.Clear(ctx, userID, agentID)
	switch {
	case errors.Is(err, orchestrator.ErrTurnInFlight):
		b.sendMessage(message.Chat.ID, "Still working on your last message. Try /clear again once the reply arrives.")
		return
	case err != nil:
		b.logger.Error("Failed to clear conversation", zap.Error(err), zap.String("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't clear that conversation.")
		return
	}
	b.switchAgent(ctx, message.Chat.ID, userID, agentID)
}

func (b *Bot) handleActivity(ctx context.Context, message *tgbotapi.Message) {
	userID := userKey(message.From)
	entries, err := b.deps.Activity.Recent(ctx, userID, 10)
	if err != nil {
		b.logger.Error("Failed to load activity", zap.Error(err), zap.String("user_id", userID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your activity.")
		return
	}
	if len(entries) == 0 {
		b.sendMessage(message.Chat.ID, "No activity yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("*Recent activity:*\n")
	for _, e := range entries {
		icon := "💬"
		if e.Icon == "action" {
			icon = "📤"
		}
		sb.WriteString(escapeMarkdown(fmt.Sprintf("%s %s  %s", icon, e.CreatedAt.Format("Jan 2 15:04"), e.Summary)) + "\n")
	}
	b.sendMarkdown(message.Chat.ID, sb.String(), nil)
}
