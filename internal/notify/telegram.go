package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"botfleet/internal/models"
)

// TelegramSink posts a one-line summary of selected events to a chat.
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	events []string
}

func NewTelegramSink(token string, chatID int64, events []string) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegramSink(bot, chatID, events), nil
}

func newTelegramSink(bot *tgbotapi.BotAPI, chatID int64, events []string) *TelegramSink {
	return &TelegramSink{bot: bot, chatID: chatID, events: events}
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Deliver(_ context.Context, ev Event) error {
	if !eventAllowed(t.events, ev.Type) {
		return nil
	}
	_, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, summarize(ev)))
	return err
}

func summarize(ev Event) string {
	switch v := ev.Data.(type) {
	case models.Agent:
		return fmt.Sprintf("[%s] %s (#%d)", ev.Type, v.Name, v.ID)
	case *models.Agent:
		return fmt.Sprintf("[%s] %s (#%d)", ev.Type, v.Name, v.ID)
	case models.ActionRecord:
		line := fmt.Sprintf("[%s] agent #%d %s: %s", ev.Type, v.AgentID, v.Kind, v.Outcome)
		if v.Error != nil {
			line += " (" + *v.Error + ")"
		}
		return line
	case map[string]any:
		parts := make([]string, 0, len(v))
		for _, k := range []string{"id", "name", "agent_id"} {
			if val, ok := v[k]; ok {
				parts = append(parts, fmt.Sprintf("%s=%v", k, val))
			}
		}
		return strings.TrimSpace(fmt.Sprintf("[%s] %s", ev.Type, strings.Join(parts, " ")))
	default:
		return fmt.Sprintf("[%s]", ev.Type)
	}
}
