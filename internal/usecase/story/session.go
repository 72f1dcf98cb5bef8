package story

import (
	"errors"
	"fmt"
)

// Phase — фаза сессии истории.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseIntro
	PhaseClueReveal
	PhaseEncourage
	PhaseFinalChoice
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseIntro:
		return "intro"
	case PhaseClueReveal:
		return "clue_reveal"
	case PhaseEncourage:
		return "encourage"
	case PhaseFinalChoice:
		return "final_choice"
	case PhaseResolved:
		return "resolved"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var (
	// ErrInvalidPhase возвращается, если операция недоступна в текущей фазе.
	ErrInvalidPhase = errors.New("операция недоступна в текущей фазе")
	// ErrUnknownChoice возвращается для ключа, которого нет среди вариантов.
	ErrUnknownChoice = errors.New("неизвестный вариант выбора")
)

// Beat — очередной ход истории.
type Beat struct {
	Turn    int
	Phase   Phase
	HintID  string
	Text    string
	Choices []Choice
}

// Resolution — результат оценки выбора до выдачи награды.
type Resolution struct {
	Choice Choice
	Score  int
	Band   ScoreBand
}

// Session — конечный автомат одной истории. Не потокобезопасен: им владеет одна горутина.
type Session struct {
	script   *Script
	phase    Phase
	turn     int
	score    int
	revealed map[string]bool
	// committed — награда уже выдана, но выбор ещё не сохранён. Повторный выбор использует её.
	committed *Outcome
}

// NewSession создаёт сессию в фазе Init.
func NewSession(script *Script) *Session {
	return &Session{script: script, revealed: make(map[string]bool, len(script.Hints))}
}

func (s *Session) Phase() Phase { return s.phase }
func (s *Session) Turn() int    { return s.turn }
func (s *Session) Score() int   { return s.score }

// Revealed возвращает число раскрытых подсказок.
func (s *Session) Revealed() int { return len(s.revealed) }

// Start переводит сессию во вступление, ход 1.
func (s *Session) Start() (Beat, error) {
	if s.phase != PhaseInit {
		return Beat{}, fmt.Errorf("%w: start в %s", ErrInvalidPhase, s.phase)
	}
	s.phase = PhaseIntro
	s.turn = 1
	return Beat{Turn: 1, Phase: PhaseIntro, Text: s.script.Intro}, nil
}

// Advance учитывает одно сообщение: ход увеличивается на 1, дельта добавляется к счёту.
// На ходе TurnCap сессия один раз переходит к финальному выбору.
func (s *Session) Advance(delta int) (Beat, error) {
	switch s.phase {
	case PhaseIntro, PhaseClueReveal, PhaseEncourage:
	default:
		return Beat{}, fmt.Errorf("%w: advance в %s", ErrInvalidPhase, s.phase)
	}
	s.turn++
	s.score += delta

	switch {
	case s.turn >= s.script.TurnCap:
		s.phase = PhaseFinalChoice
		return Beat{Turn: s.turn, Phase: PhaseFinalChoice, Text: s.script.FinalPrompt, Choices: append([]Choice(nil), s.script.Choices...)}, nil
	case s.turn <= s.script.ClueTurns:
		s.phase = PhaseClueReveal
		if h, ok := s.nextHint(); ok {
			s.revealed[h.ID] = true
			return Beat{Turn: s.turn, Phase: PhaseClueReveal, HintID: h.ID, Text: h.Text}, nil
		}
		return Beat{Turn: s.turn, Phase: PhaseClueReveal, Text: s.encouragement()}, nil
	default:
		s.phase = PhaseEncourage
		return Beat{Turn: s.turn, Phase: PhaseEncourage, Text: s.encouragement()}, nil
	}
}

func (s *Session) nextHint() (Hint, bool) {
	for _, h := range s.script.Hints {
		if !s.revealed[h.ID] {
			return h, true
		}
	}
	return Hint{}, false
}

func (s *Session) encouragement() string {
	if len(s.script.Encouragements) == 0 {
		return ""
	}
	return s.script.Encouragements[s.turn%len(s.script.Encouragements)]
}

// Evaluate находит вариант и полосу счёта. Фаза не меняется: награду выдаёт владелец сессии.
func (s *Session) Evaluate(choiceKey string) (Resolution, error) {
	if s.phase != PhaseFinalChoice {
		return Resolution{}, fmt.Errorf("%w: resolve в %s", ErrInvalidPhase, s.phase)
	}
	choice, ok := s.script.Choice(choiceKey)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownChoice, choiceKey)
	}
	score := s.script.Clamp(s.score + choice.ScoreDelta)
	return Resolution{Choice: choice, Score: score, Band: s.script.BandFor(score)}, nil
}

// Commit запоминает выданную награду. После этого вариант выбора не меняется.
func (s *Session) Commit(out Outcome) {
	s.committed = &out
}

// Committed возвращает ранее выданную награду.
func (s *Session) Committed() (Outcome, bool) {
	if s.committed == nil {
		return Outcome{}, false
	}
	return *s.committed, true
}

// MarkResolved завершает сессию.
func (s *Session) MarkResolved() {
	s.phase = PhaseResolved
}
