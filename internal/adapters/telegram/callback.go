package telegram

import (
	"errors"
	"fmt"
	"strings"

	"companion-bot/internal/domain"
)

// ErrBadCallback возвращается для нераспознанных данных кнопки.
var ErrBadCallback = errors.New("неизвестные данные кнопки")

// Callback — разобранные данные inline-кнопки.
type Callback struct {
	Kind        domain.InputKind
	CharacterID string
	Language    string
	StoryID     string
	ChoiceKey   string
}

// Префиксы данных кнопок. Telegram ограничивает данные 64 байтами.
const (
	prefixCharacter = "char"
	prefixLanguage  = "lang"
	prefixClaim     = "claim"
	prefixStory     = "story"
	prefixChoice    = "choice"
)

func CharacterData(characterID string) string { return prefixCharacter + ":" + characterID }

func LanguageData(characterID, lang string) string {
	return prefixLanguage + ":" + characterID + ":" + lang
}

func ClaimData(characterID string) string { return prefixClaim + ":" + characterID }

// StoryData кодирует запуск истории. Пустой storyID означает историю персонажа по умолчанию.
func StoryData(characterID, storyID string) string {
	if storyID == "" {
		return prefixStory + ":" + characterID
	}
	return prefixStory + ":" + characterID + ":" + storyID
}

func ChoiceData(characterID, key string) string {
	return prefixChoice + ":" + characterID + ":" + key
}

// ParseCallback разбирает данные кнопки.
func ParseCallback(data string) (Callback, error) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	if len(parts) < 2 || parts[1] == "" {
		return Callback{}, fmt.Errorf("%w: %q", ErrBadCallback, data)
	}
	cb := Callback{CharacterID: parts[1]}
	switch {
	case parts[0] == prefixCharacter && len(parts) == 2:
		cb.Kind = domain.InputCharacterChosen
	case parts[0] == prefixClaim && len(parts) == 2:
		cb.Kind = domain.InputCardClaimClicked
	case parts[0] == prefixLanguage && len(parts) == 3 && parts[2] != "":
		cb.Kind = domain.InputLanguageSelected
		cb.Language = parts[2]
	case parts[0] == prefixStory && (len(parts) == 2 || len(parts) == 3):
		cb.Kind = domain.InputStoryStart
		if len(parts) == 3 {
			cb.StoryID = parts[2]
		}
	case parts[0] == prefixChoice && len(parts) == 3 && parts[2] != "":
		cb.Kind = domain.InputStoryChoiceMade
		cb.ChoiceKey = parts[2]
	default:
		return Callback{}, fmt.Errorf("%w: %q", ErrBadCallback, data)
	}
	return cb, nil
}
