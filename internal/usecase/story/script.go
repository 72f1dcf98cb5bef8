package story

import (
	"fmt"

	"companion-bot/internal/domain"
)

// Hint — подсказка, которая раскрывается один раз за сессию.
type Hint struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Choice — вариант финального выбора.
type Choice struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Ending string `json:"ending"`
	// ScoreDelta добавляется к накопленному счёту перед поиском полосы.
	ScoreDelta int `json:"score_delta,omitempty"`
	// FixedCardID заменяет карточку из полосы.
	FixedCardID string `json:"fixed_card_id,omitempty"`
}

// ScoreRange — допустимый диапазон накопленного счёта. Значения вне диапазона прижимаются к границам.
type ScoreRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// ScoreBand сопоставляет отрезок счёта награде. Пустой CardID и DrawTier означают отсутствие карточки.
type ScoreBand struct {
	Min    int    `json:"min"`
	Max    int    `json:"max"`
	CardID string `json:"card_id,omitempty"`
	// DrawTier разыгрывает карточку указанной редкости вместо фиксированной.
	DrawTier domain.Tier `json:"draw_tier,omitempty"`
}

// Script — неизменяемая конфигурация истории персонажа.
type Script struct {
	ID          string `json:"id"`
	CharacterID string `json:"character_id"`
	Intro       string `json:"intro"`

	// RequiredGrade — минимальный уровень привязанности для начала истории.
	RequiredGrade domain.Grade `json:"required_grade,omitempty"`
	// TurnCap — ход, на котором открывается финальный выбор.
	TurnCap int `json:"turn_cap"`
	// ClueTurns — последний ход фазы подсказок.
	ClueTurns int `json:"clue_turns"`

	Hints          []Hint      `json:"hints"`
	Encouragements []string    `json:"encouragements"`
	FinalPrompt    string      `json:"final_prompt"`
	Choices        []Choice    `json:"choices"`
	Range          ScoreRange  `json:"score_range"`
	Bands          []ScoreBand `json:"bands"`
}

// Validate проверяет конфигурацию: полосы упорядочены, не пересекаются и покрывают диапазон целиком.
func (s *Script) Validate() error {
	field := "story." + s.ID
	if s.ID == "" || s.CharacterID == "" {
		return domain.NewConfigError("story", "у истории нет идентификатора или персонажа")
	}
	if s.TurnCap < 2 {
		return domain.NewConfigError(field, "лимит ходов %d меньше 2", s.TurnCap)
	}
	if s.ClueTurns < 1 || s.ClueTurns >= s.TurnCap {
		return domain.NewConfigError(field, "фаза подсказок %d должна быть в [1, %d)", s.ClueTurns, s.TurnCap)
	}
	hints := make(map[string]bool, len(s.Hints))
	for _, h := range s.Hints {
		if h.ID == "" || hints[h.ID] {
			return domain.NewConfigError(field, "пустой или повторяющийся идентификатор подсказки %q", h.ID)
		}
		hints[h.ID] = true
	}
	if len(s.Choices) == 0 {
		return domain.NewConfigError(field, "нет вариантов выбора")
	}
	keys := make(map[string]bool, len(s.Choices))
	for _, c := range s.Choices {
		if c.Key == "" || keys[c.Key] {
			return domain.NewConfigError(field, "пустой или повторяющийся ключ выбора %q", c.Key)
		}
		keys[c.Key] = true
	}
	if s.Range.Min > s.Range.Max {
		return domain.NewConfigError(field, "диапазон счёта [%d, %d] пуст", s.Range.Min, s.Range.Max)
	}
	if len(s.Bands) == 0 {
		return domain.NewConfigError(field, "нет полос счёта")
	}
	for i, b := range s.Bands {
		if b.Min > b.Max {
			return domain.NewConfigError(field, "полоса [%d, %d] пуста", b.Min, b.Max)
		}
		if b.CardID != "" && b.DrawTier != "" {
			return domain.NewConfigError(field, "полоса [%d, %d] задаёт и карточку, и редкость", b.Min, b.Max)
		}
		if i == 0 {
			if b.Min != s.Range.Min {
				return domain.NewConfigError(field, "первая полоса начинается с %d, а диапазон с %d", b.Min, s.Range.Min)
			}
			continue
		}
		prev := s.Bands[i-1]
		if b.Min <= prev.Max {
			return domain.NewConfigError(field, "полосы [%d, %d] и [%d, %d] пересекаются", prev.Min, prev.Max, b.Min, b.Max)
		}
		if b.Min != prev.Max+1 {
			return domain.NewConfigError(field, "между полосами %d и %d разрыв", prev.Max, b.Min)
		}
	}
	if last := s.Bands[len(s.Bands)-1]; last.Max != s.Range.Max {
		return domain.NewConfigError(field, "последняя полоса заканчивается на %d, а диапазон на %d", last.Max, s.Range.Max)
	}
	return nil
}

// Clamp прижимает счёт к диапазону истории.
func (s *Script) Clamp(score int) int {
	return max(s.Range.Min, min(score, s.Range.Max))
}

// BandFor возвращает первую полосу, содержащую счёт после прижатия к диапазону.
func (s *Script) BandFor(score int) ScoreBand {
	v := s.Clamp(score)
	for _, b := range s.Bands {
		if v >= b.Min && v <= b.Max {
			return b
		}
	}
	// Недостижимо для проверенной конфигурации.
	panic(fmt.Sprintf("story %s: счёт %d не попал ни в одну полосу", s.ID, v))
}

// Choice возвращает вариант по ключу.
func (s *Script) Choice(key string) (Choice, bool) {
	for _, c := range s.Choices {
		if c.Key == key {
			return c, true
		}
	}
	return Choice{}, false
}

// ChoiceKeys возвращает ключи вариантов в порядке конфигурации.
func (s *Script) ChoiceKeys() []string {
	out := make([]string, 0, len(s.Choices))
	for _, c := range s.Choices {
		out = append(out, c.Key)
	}
	return out
}
