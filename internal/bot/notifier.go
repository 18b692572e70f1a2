package bot

import (
	"context"
	"fmt"
	"net/http"

	tele "gopkg.in/telebot.v3"

	"kir-bot/internal/config"
	"kir-bot/internal/notify"
)

// MessageSender is the part of *tele.Bot used to deliver reminders.
type MessageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// reminderSettings configures the client used only for reminders. Its HTTP
// timeout is notify.send_timeout, so a stalled Bot API call is abandoned
// without touching the long poller.
func reminderSettings(cfg *config.Config) tele.Settings {
	return tele.Settings{
		Token:   cfg.Bot.Token,
		Offline: true,
		Client:  &http.Client{Timeout: cfg.Notify.SendTimeout},
	}
}

// NewReminderSender creates the Bot API client that delivers reminders.
func NewReminderSender(cfg *config.Config) (*tele.Bot, error) {
	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	b, err := tele.NewBot(reminderSettings(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create reminder client: %w", err)
	}
	return b, nil
}

// Notifier posts cooldown reminders to the chat the action came from.
type Notifier struct {
	sender MessageSender
}

// NewNotifier creates a Notifier.
func NewNotifier(sender MessageSender) *Notifier {
	return &Notifier{sender: sender}
}

// Notify implements notify.Sender.
func (n *Notifier) Notify(ctx context.Context, p notify.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := fmt.Sprintf("⏰ %s, %s is available again!", p.Name, p.Action.Command())
	if _, err := n.sender.Send(tele.ChatID(p.ChatID), text); err != nil {
		return fmt.Errorf("failed to send reminder: %w", err)
	}
	return nil
}
