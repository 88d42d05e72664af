package bot

import (
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/creator-crew/internal/agents"
	"github.com/xaenox/creator-crew/internal/directive"
)

const (
	maxMessageLength = 4096

	callbackAffordance = "aff:"
	callbackAgent      = "agent:"
	callbackStarter    = "start:"
)

// escapeMarkdown escapes the characters MarkdownV2 treats as markup.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

// splitMessage breaks text into chunks Telegram accepts, preferring line
// breaks. Telegram measures length in UTF-16 code units, so characters outside
// the Basic Multilingual Plane count twice.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	remaining := utf16Units(runes)
	if remaining <= limit {
		return []string{text}
	}
	var chunks []string
	for remaining > limit {
		end, width := 0, 0
		for end < len(runes) && width+utf16Width(runes[end]) <= limit {
			width += utf16Width(runes[end])
			end++
		}
		if end == 0 {
			end = 1
		}
		cut := end
		for i := end; i > end/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		remaining -= utf16Units(runes[:cut])
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func utf16Width(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

func utf16Units(runes []rune) int {
	n := 0
	for _, r := range runes {
		n += utf16Width(r)
	}
	return n
}

// replyText is the display text of a parsed reply, labelled with the agent so
// late replies from a previous agent stay attributable.
func replyText(agent agents.Agent, parsed directive.Result) string {
	body := parsed.Text
	if body == "" {
		body = "…"
	}
	return "🤖 " + agent.Name + "\n\n" + body
}

func affordanceKeyboard(tokens []string, affordances []directive.Affordance) *tgbotapi.InlineKeyboardMarkup {
	if len(affordances) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(affordances))
	for i, a := range affordances {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(a.Label, callbackAffordance+tokens[i]),
		))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func agentKeyboard(list []agents.Agent, active string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(list))
	for _, a := range list {
		label := a.Name
		if a.ID == active {
			label = "✅ " + label
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callbackAgent+a.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func starterKeyboard(agent agents.Agent) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(agent.StarterPrompts))
	for i, prompt := range agent.StarterPrompts {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(prompt, callbackStarter+agent.ID+":"+strconv.Itoa(i)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
