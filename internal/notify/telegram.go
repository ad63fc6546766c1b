// Package notify pushes run progress to Telegram. The notifier is
// optional; a nil *Telegram is a valid no-op.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"personabench/internal/logging"
	"personabench/internal/store"
)

type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *logging.Logger
	label  string
}

// NewTelegram connects to the bot API. label is prepended to every
// message so runs sharing a chat stay distinguishable.
func NewTelegram(token string, chatID int64, label string, log *logging.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram auth: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, log: log, label: label}, nil
}

// IterationDone sends one line per finished iteration. Send failures
// are logged and swallowed so a flaky bot never stops a run.
func (t *Telegram) IterationDone(_ context.Context, acc store.Accuracy) {
	if t == nil {
		return
	}
	text := fmt.Sprintf("%s iteration %d (%s/%s): %d/%d = %.4f",
		t.label, acc.Iteration, acc.Difficulty, acc.Mode, acc.Correct, acc.Total, acc.Accuracy)
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		t.log.Warn("telegram send failed", "err", err)
	}
}

// RunDone sends the final summary.
func (t *Telegram) RunDone(accs []store.Accuracy) {
	if t == nil || len(accs) == 0 {
		return
	}
	last := accs[len(accs)-1]
	text := fmt.Sprintf("%s done after iteration %d: %d/%d = %.4f",
		t.label, last.Iteration, last.Correct, last.Total, last.Accuracy)
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		t.log.Warn("telegram send failed", "err", err)
	}
}
