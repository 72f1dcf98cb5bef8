package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"companion-bot/internal/domain"
)

// Reply — готовое к отправке сообщение.
type Reply struct {
	Text     string
	Keyboard *tgbotapi.InlineKeyboardMarkup
}

// NameFunc возвращает отображаемое имя персонажа.
type NameFunc func(characterID string) string

// Render превращает событие движка в сообщение. ok=false означает, что событие не показывается пользователю.
func Render(ev domain.Event, name NameFunc) (Reply, bool) {
	if name == nil {
		name = func(id string) string { return id }
	}
	who := name(ev.CharacterID)
	switch ev.Kind {
	case domain.EventMilestoneReached:
		if ev.Milestone == nil {
			return Reply{}, false
		}
		if ev.Milestone.CardID == "" {
			return Reply{Text: fmt.Sprintf("%s: достигнут порог %d. Все карточки уже собраны!", who, ev.Milestone.Milestone)}, true
		}
		return Reply{Text: fmt.Sprintf("%s: достигнут порог %d (счёт %d).", who, ev.Milestone.Milestone, ev.Milestone.Score)}, true
	case domain.EventCardGranted:
		if ev.Card == nil {
			return Reply{}, false
		}
		return Reply{Text: fmt.Sprintf("Новая карточка %s [%s] #%d от %s", ev.Card.CardID, ev.Card.Tier, ev.Card.IssuanceNumber, who)}, true
	case domain.EventLevelChanged:
		if ev.Level == nil {
			return Reply{}, false
		}
		return Reply{Text: fmt.Sprintf("Уровень с %s: %s → %s", who, ev.Level.From, ev.Level.To)}, true
	case domain.EventSessionStarted:
		return Reply{Text: fmt.Sprintf("История с %s началась.", who)}, true
	case domain.EventStoryBeat:
		return renderBeat(ev)
	case domain.EventSessionEnded:
		if ev.Ending == nil {
			return Reply{}, false
		}
		text := fmt.Sprintf("История завершена: выбор %s, итоговый счёт %d.", ev.Ending.ChoiceKey, ev.Ending.Score)
		if ev.Ending.Ending != "" {
			text += "\n" + ev.Ending.Ending
		}
		if ev.Ending.CardID != "" {
			text += "\nНаграда: " + ev.Ending.CardID
		}
		return Reply{Text: text}, true
	case domain.EventSessionTimedOut:
		return Reply{Text: fmt.Sprintf("История с %s прервана: слишком долго не было ответа.", who)}, true
	case domain.EventInputRejected:
		if ev.Rejection == nil {
			return Reply{}, false
		}
		text, ok := rejections[ev.Rejection.Reason]
		if !ok {
			return Reply{}, false
		}
		return Reply{Text: fmt.Sprintf(text, who)}, true
	case domain.EventCharacterChosen:
		return renderProfile(ev, who)
	}
	return Reply{}, false
}

// rejections — тексты отказов, %s — имя персонажа.
var rejections = map[domain.RejectReason]string{
	domain.RejectDailyLimit:          "%s: на сегодня привязанность больше не растёт. Возвращайтесь завтра.",
	domain.RejectStoryLocked:         "История с %s пока закрыта: нужен более высокий уровень.",
	domain.RejectChapterLocked:       "%s: сначала пройдите предыдущую главу.",
	domain.RejectStoryCompleted:      "%s: эта глава уже пройдена.",
	domain.RejectSessionActive:       "История с %s уже идёт.",
	domain.RejectAlreadyCompleted:    "%s: выбор уже сделан.",
	domain.RejectAwaitingChoice:      "%s ждёт вашего выбора.",
	domain.RejectUnknownChoice:       "%s: такого варианта нет.",
	domain.RejectUnknownStory:        "%s: история не найдена.",
	domain.RejectUnknownCharacter:    "Персонаж %s не найден.",
	domain.RejectUnsupportedLanguage: "%s не говорит на этом языке.",
	domain.RejectMilestonesPending:   "%s: награды ещё выдаются, попробуйте позже.",
}

func renderProfile(ev domain.Event, who string) (Reply, bool) {
	if ev.Profile == nil {
		return Reply{}, false
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: уровень %s, счёт %d", who, ev.Profile.Grade, ev.Profile.Score)
	if ev.Profile.NextMilestone > 0 {
		fmt.Fprintf(&b, "\nСледующий порог: %d", ev.Profile.NextMilestone)
	}
	if ev.Profile.Language != "" {
		fmt.Fprintf(&b, "\nЯзык: %s", ev.Profile.Language)
	}
	return Reply{Text: b.String()}, true
}

func renderBeat(ev domain.Event) (Reply, bool) {
	if ev.Beat == nil {
		return Reply{}, false
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Ход %d", ev.Beat.Turn)
	if ev.Beat.Text != "" {
		b.WriteString("\n")
		b.WriteString(ev.Beat.Text)
	}
	reply := Reply{Text: b.String()}
	if len(ev.Beat.Choices) > 0 {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(ev.Beat.Choices))
		for _, key := range ev.Beat.Choices {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(key, ChoiceData(ev.CharacterID, key)))
		}
		kb := tgbotapi.NewInlineKeyboardMarkup(row)
		reply.Keyboard = &kb
	}
	return reply, true
}
