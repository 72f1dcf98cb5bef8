package story

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
	"companion-bot/internal/usecase/notify"
	"companion-bot/internal/usecase/sentiment"
)

var (
	// ErrSessionActive возвращается при попытке начать вторую сессию для той же пары.
	ErrSessionActive = errors.New("сессия истории уже идёт")
	// ErrNoSession возвращается, если активной сессии нет.
	ErrNoSession = errors.New("нет активной сессии истории")
	// ErrUnknownStory возвращается для истории, которой нет в конфигурации.
	ErrUnknownStory = errors.New("неизвестная история")
)

// DefaultTimeout — время ожидания следующего сообщения в истории.
const DefaultTimeout = 10 * time.Minute

// Scorer оценивает сообщение пользователя.
type Scorer interface {
	Classify(ctx context.Context, text string) sentiment.Result
}

// Drawer разыгрывает карточку заданной редкости.
type Drawer interface {
	DrawTier(ctx context.Context, userID int64, characterID string, drawCtx domain.DrawContext, tier domain.Tier) (domain.Draw, error)
}

// Granter выдаёт карточку.
type Granter interface {
	Grant(ctx context.Context, userID int64, characterID, cardID string) (domain.Grant, error)
}

// Outcome — итог финального выбора.
type Outcome struct {
	// AlreadyCompleted=true означает, что сессии уже нет: повторный выбор ничего не делает.
	AlreadyCompleted bool
	StoryID          string
	ChoiceKey        string
	Ending           string
	Score            int
	CardID           string
	Grant            *domain.Grant
}

// Deps — зависимости менеджера историй.
type Deps struct {
	Scorer  Scorer
	Drawer  Drawer
	Granter Granter
	Audit   domain.StoryAuditRepo
	Events  *notify.Emitter
	Logger  zerolog.Logger
	Timeout time.Duration
}

// Manager ведёт реестр сессий по паре пользователь/персонаж. Каждой сессией владеет своя горутина.
type Manager struct {
	scripts map[string]*Script
	deps    Deps
	log     zerolog.Logger

	mu       sync.RWMutex
	sessions map[domain.Key]*runner
}

// NewManager создаёт менеджер. Скрипты должны быть проверены заранее.
func NewManager(scripts []*Script, deps Deps) (*Manager, error) {
	if deps.Timeout <= 0 {
		deps.Timeout = DefaultTimeout
	}
	m := &Manager{
		scripts:  make(map[string]*Script, len(scripts)),
		deps:     deps,
		log:      deps.Logger.With().Str("component", "story").Logger(),
		sessions: make(map[domain.Key]*runner),
	}
	for _, s := range scripts {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m.scripts[s.ID]; dup {
			return nil, domain.NewConfigError("story."+s.ID, "история описана дважды")
		}
		m.scripts[s.ID] = s
	}
	return m, nil
}

// Active сообщает, идёт ли сессия для пары.
func (m *Manager) Active(key domain.Key) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[key]
	return ok
}

func (m *Manager) lookup(key domain.Key) *runner {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[key]
}

// remove снимает сессию из реестра, только если там всё ещё она.
func (m *Manager) remove(key domain.Key, r *runner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[key] == r {
		delete(m.sessions, key)
		metrics.StorySessionsActive.Dec()
	}
}

// Start открывает сессию. Если сессия для пары уже идёт, возвращает ErrSessionActive.
func (m *Manager) Start(ctx context.Context, key domain.Key, storyID string) (Beat, error) {
	script, ok := m.scripts[storyID]
	if !ok {
		return Beat{}, fmt.Errorf("%w: %s", ErrUnknownStory, storyID)
	}
	if script.CharacterID != key.CharacterID {
		return Beat{}, fmt.Errorf("%w: %s не относится к %s", ErrUnknownStory, storyID, key.CharacterID)
	}

	m.mu.Lock()
	if _, busy := m.sessions[key]; busy {
		m.mu.Unlock()
		return Beat{}, ErrSessionActive
	}
	sess := NewSession(script)
	beat, err := sess.Start()
	if err != nil {
		m.mu.Unlock()
		return Beat{}, err
	}
	r := newRunner(m, key, script, sess)
	m.sessions[key] = r
	metrics.StorySessionsActive.Inc()
	m.mu.Unlock()

	go r.loop()
	m.log.Info().Int64("user_id", key.UserID).Str("character", key.CharacterID).Str("story", storyID).Msg("сессия истории начата")
	m.emit(ctx, domain.EventSessionStarted, key, script.ID, beat)
	return beat, nil
}

// Advance оценивает сообщение и передаёт его владельцу сессии.
func (m *Manager) Advance(ctx context.Context, key domain.Key, text string) (Beat, error) {
	r := m.lookup(key)
	if r == nil {
		return Beat{}, ErrNoSession
	}
	delta := 0
	if m.deps.Scorer != nil {
		delta = m.deps.Scorer.Classify(ctx, text).Score
	}
	resp, err := r.call(ctx, request{kind: reqAdvance, delta: delta})
	if err != nil {
		return Beat{}, err
	}
	return resp.beat, resp.err
}

// Resolve применяет финальный выбор. Если сессии уже нет, возвращает Outcome{AlreadyCompleted: true} без ошибки.
func (m *Manager) Resolve(ctx context.Context, key domain.Key, choiceKey string) (Outcome, error) {
	r := m.lookup(key)
	if r == nil {
		return Outcome{AlreadyCompleted: true}, nil
	}
	resp, err := r.call(ctx, request{kind: reqResolve, choice: choiceKey})
	if errors.Is(err, ErrNoSession) {
		return Outcome{AlreadyCompleted: true}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	return resp.outcome, resp.err
}

// Abort прерывает сессию без награды. Возвращает false, если сессии не было.
func (m *Manager) Abort(key domain.Key) bool {
	r := m.lookup(key)
	if r == nil {
		return false
	}
	r.stop()
	<-r.done
	return true
}

// Close прерывает все сессии.
func (m *Manager) Close() {
	m.mu.RLock()
	runners := make([]*runner, 0, len(m.sessions))
	for _, r := range m.sessions {
		runners = append(runners, r)
	}
	m.mu.RUnlock()
	for _, r := range runners {
		r.stop()
		<-r.done
	}
}

func (m *Manager) emit(ctx context.Context, kind domain.EventKind, key domain.Key, storyID string, beat Beat) {
	if m.deps.Events == nil {
		return
	}
	ev := notify.StoryEvent(kind, key)
	payload := &domain.BeatPayload{StoryID: storyID, Turn: beat.Turn, Phase: beat.Phase.String(), HintID: beat.HintID, Text: beat.Text}
	for _, c := range beat.Choices {
		payload.Choices = append(payload.Choices, c.Key)
	}
	ev.Beat = payload
	m.deps.Events.Emit(ctx, ev)
}

func (m *Manager) emitEnding(ctx context.Context, kind domain.EventKind, key domain.Key, ending domain.EndingPayload) {
	if m.deps.Events == nil {
		return
	}
	ev := notify.StoryEvent(kind, key)
	ev.Ending = &ending
	m.deps.Events.Emit(ctx, ev)
}
