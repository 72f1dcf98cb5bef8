package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"companion-bot/internal/adapters/telegram"
	"companion-bot/internal/content"
	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
)

// Sender — часть tgbotapi.BotAPI, которой пользуется шлюз.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Handler обслуживает вебхук бота: превращает апдейты во входящие события движка и кладёт их в очередь.
// Сам шлюз не меняет состояние прогресса.
type Handler struct {
	bot         Sender
	log         zerolog.Logger
	inputs      domain.InputQueue
	content     *content.Bundle
	defaultChar string
	now         func() time.Time

	mu      sync.Mutex
	current map[int64]string
}

// NewHandler создаёт обработчик.
func NewHandler(bot Sender, log zerolog.Logger, inputs domain.InputQueue, bundle *content.Bundle, defaultChar string) *Handler {
	return &Handler{
		bot:         bot,
		log:         log.With().Str("component", "bot").Logger(),
		inputs:      inputs,
		content:     bundle,
		defaultChar: defaultChar,
		now:         time.Now,
		current:     make(map[int64]string),
	}
}

// HandleUpdate обрабатывает входящий апдейт. Ошибка означает, что событие не попало в очередь
// и Telegram должен повторить доставку.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) error {
	id := "tg:" + strconv.Itoa(upd.UpdateID)
	switch {
	case upd.Message != nil && upd.Message.From != nil:
		return h.handleMessage(ctx, id, upd.Message)
	case upd.CallbackQuery != nil && upd.CallbackQuery.From != nil:
		return h.handleCallback(ctx, id, upd.CallbackQuery)
	}
	return nil
}

func (h *Handler) handleMessage(ctx context.Context, id string, msg *tgbotapi.Message) error {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	char := h.characterOf(userID)
	text := strings.TrimSpace(msg.Text)

	switch {
	case text == "":
		return nil
	case strings.HasPrefix(text, "/start"):
		h.reply(chatID, "Выберите персонажа:", h.charactersKeyboard())
		return nil
	case strings.HasPrefix(text, "/lang"):
		h.reply(chatID, "Выберите язык общения:", h.languageKeyboard(char))
		return nil
	case strings.HasPrefix(text, "/cards"):
		return h.enqueue(ctx, domain.Input{ID: id, Kind: domain.InputCardClaimClicked, UserID: userID, ChatID: chatID, CharacterID: char})
	case strings.HasPrefix(text, "/story"):
		storyID := strings.TrimSpace(strings.TrimPrefix(text, "/story"))
		return h.enqueue(ctx, domain.Input{ID: id, Kind: domain.InputStoryStart, UserID: userID, ChatID: chatID, CharacterID: char, StoryID: storyID})
	case strings.HasPrefix(text, "/"):
		h.reply(chatID, "Команды: /start, /lang, /cards, /story", nil)
		return nil
	}
	return h.enqueue(ctx, domain.Input{ID: id, Kind: domain.InputMessage, UserID: userID, ChatID: chatID, CharacterID: char, Text: text})
}

func (h *Handler) handleCallback(ctx context.Context, id string, cb *tgbotapi.CallbackQuery) error {
	defer h.answer(cb)

	parsed, err := telegram.ParseCallback(cb.Data)
	if err != nil {
		h.log.Warn().Err(err).Int64("user", cb.From.ID).Msg("неизвестная кнопка")
		return nil
	}
	var chatID int64
	if cb.Message != nil && cb.Message.Chat != nil {
		chatID = cb.Message.Chat.ID
	}
	in := domain.Input{
		ID:          id,
		Kind:        parsed.Kind,
		UserID:      cb.From.ID,
		ChatID:      chatID,
		CharacterID: parsed.CharacterID,
		Language:    parsed.Language,
		StoryID:     parsed.StoryID,
		ChoiceKey:   parsed.ChoiceKey,
	}
	if parsed.Kind == domain.InputCharacterChosen {
		if _, ok := h.content.Character(parsed.CharacterID); !ok {
			return nil
		}
		h.setCharacter(cb.From.ID, parsed.CharacterID)
		if err := h.enqueue(ctx, in); err != nil {
			return err
		}
		h.reply(chatID, "Выберите язык общения:", h.languageKeyboard(parsed.CharacterID))
		return nil
	}
	return h.enqueue(ctx, in)
}

func (h *Handler) enqueue(ctx context.Context, in domain.Input) error {
	in.ReceivedAt = h.now()
	if err := h.inputs.Enqueue(ctx, in); err != nil {
		h.log.Error().Err(err).Str("input", in.ID).Str("kind", string(in.Kind)).Msg("не удалось поставить событие в очередь")
		return fmt.Errorf("enqueue %s: %w", in.Kind, err)
	}
	return nil
}

func (h *Handler) characterOf(userID int64) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.current[userID]; ok {
		return c
	}
	return h.defaultChar
}

func (h *Handler) setCharacter(userID int64, char string) {
	h.mu.Lock()
	h.current[userID] = char
	h.mu.Unlock()
}

func (h *Handler) answer(cb *tgbotapi.CallbackQuery) {
	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, ""))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", "callback", start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось ответить на callback")
	}
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	if err := send(h.bot, chatID, telegram.Reply{Text: text, Keyboard: keyboard}); err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("не удалось отправить сообщение")
	}
}

func (h *Handler) charactersKeyboard() *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, c := range h.content.Characters {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(c.Name, telegram.CharacterData(c.ID))))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

func (h *Handler) languageKeyboard(char string) *tgbotapi.InlineKeyboardMarkup {
	c, ok := h.content.Character(char)
	if !ok || len(c.Languages) == 0 {
		return nil
	}
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(c.Languages)+1)
	for _, lang := range c.Languages {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(lang, telegram.LanguageData(char, lang)))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(row, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Карточки", telegram.ClaimData(char)),
		tgbotapi.NewInlineKeyboardButtonData("История", telegram.StoryData(char, "")),
	))
	return &kb
}

// send отправляет ответ частями, клавиатура прикрепляется к первой части.
func send(bot Sender, chatID int64, reply telegram.Reply) error {
	if chatID == 0 {
		return errors.New("chat id is empty")
	}
	for i, part := range telegram.SplitMessage(reply.Text) {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 && reply.Keyboard != nil {
			msg.ReplyMarkup = reply.Keyboard
		}
		start := time.Now()
		_, err := bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", "chat", start, err)
		if err != nil {
			return err
		}
	}
	return nil
}
