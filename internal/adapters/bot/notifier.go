package bot

import (
	"context"

	"github.com/rs/zerolog"

	"companion-bot/internal/adapters/telegram"
	"companion-bot/internal/content"
	"companion-bot/internal/domain"
)

// Notifier отображает события движка в Telegram. Бот работает в личных чатах, поэтому чат совпадает с пользователем.
type Notifier struct {
	bot     Sender
	log     zerolog.Logger
	content *content.Bundle
}

// NewNotifier создаёт отправителя событий.
func NewNotifier(bot Sender, log zerolog.Logger, bundle *content.Bundle) *Notifier {
	return &Notifier{bot: bot, log: log.With().Str("component", "notifier").Logger(), content: bundle}
}

// Handle отправляет событие пользователю. Подходит как обработчик очереди событий.
func (n *Notifier) Handle(ctx context.Context, ev domain.Event) error {
	reply, ok := telegram.Render(ev, n.name)
	if !ok {
		return nil
	}
	if err := send(n.bot, ev.UserID, reply); err != nil {
		n.log.Error().Err(err).Str("event_id", ev.ID).Str("kind", string(ev.Kind)).Msg("не удалось отправить событие")
		return err
	}
	return nil
}

func (n *Notifier) name(characterID string) string {
	if n.content == nil {
		return characterID
	}
	if c, ok := n.content.Character(characterID); ok && c.Name != "" {
		return c.Name
	}
	return characterID
}
