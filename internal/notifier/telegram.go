package notifier

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"sm_copilot/internal/models"
)

// Telegram дублирует серьёзные записи журнала оператору в Telegram.
// Канал исходящий: обновления бот не читает.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegram создает нотификатор и проверяет токен
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}

	logger.Info("✅ Telegram notifier ready", slog.String("bot", bot.Self.UserName))

	return &Telegram{
		bot:    bot,
		chatID: chatID,
		logger: logger,
	}, nil
}

// NotifyAudit отправляет запись журнала в чат; отправка не блокирует пилота
func (t *Telegram) NotifyAudit(entry models.AuditEntry) {
	go func() {
		icon := "⚠️"
		if entry.Status == models.AuditError {
			icon = "❌"
		}

		text := fmt.Sprintf("%s [%s] account %d\n%s", icon, entry.Status, entry.AccountID, entry.Summary)
		if entry.Details != "" {
			text += "\n" + entry.Details
		}

		msg := tgbotapi.NewMessage(t.chatID, text)
		if _, err := t.bot.Send(msg); err != nil {
			t.logger.Warn("Telegram send failed", slog.Any("error", err))
		}
	}()
}
