package affinity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
)

var (
	// ErrInvalidDelta возвращается для дельты вне {-1, 0, +1}.
	ErrInvalidDelta = errors.New("дельта должна быть -1, 0 или +1")
	// ErrDailyLimit возвращается, если дневной лимит сообщений исчерпан. Счёт не меняется.
	ErrDailyLimit = errors.New("дневной лимит сообщений исчерпан")
)

// Options задаёт политику счёта.
type Options struct {
	// Floor ограничивает счёт снизу. nil — без ограничения.
	Floor *int
	// DailyLimit — максимум учитываемых сообщений в день, 0 — без лимита.
	DailyLimit int
	// Location задаёт границу календарного дня.
	Location *time.Location
}

// Ledger ведёт счёт привязанности.
type Ledger struct {
	repo domain.AffinityRepo
	opts Options
	now  func() time.Time
}

// NewLedger создаёт журнал привязанности.
func NewLedger(repo domain.AffinityRepo, opts Options) *Ledger {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Ledger{repo: repo, opts: opts, now: time.Now}
}

// today возвращает текущую календарную дату в часовом поясе сервиса.
func (l *Ledger) today(now time.Time) time.Time {
	y, m, d := now.In(l.opts.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Get возвращает запись, создавая её при первом обращении.
func (l *Ledger) Get(ctx context.Context, userID int64, characterID string) (domain.Affinity, error) {
	a, err := l.repo.GetAffinity(ctx, userID, characterID, l.today(l.now()))
	if err != nil {
		return domain.Affinity{}, fmt.Errorf("получение привязанности: %w", err)
	}
	return a, nil
}

// Apply атомарно добавляет дельту, увеличивает дневной счётчик и запоминает сообщение.
func (l *Ledger) Apply(ctx context.Context, userID int64, characterID string, delta int, message string) (domain.AffinityChange, error) {
	if delta < -1 || delta > 1 {
		return domain.AffinityChange{}, ErrInvalidDelta
	}
	now := l.now()
	change, applied, err := l.repo.ApplyAffinity(ctx, domain.AffinityUpdate{
		UserID:      userID,
		CharacterID: characterID,
		Delta:       delta,
		Message:     message,
		At:          now.UTC(),
		Today:       l.today(now),
		Floor:       l.opts.Floor,
		DailyLimit:  l.opts.DailyLimit,
	})
	if err != nil {
		return domain.AffinityChange{}, fmt.Errorf("изменение привязанности: %w", err)
	}
	if !applied {
		metrics.IncAffinityRejected(characterID, "daily_limit")
		return domain.AffinityChange{}, ErrDailyLimit
	}
	change.OldGrade = Grade(change.OldScore)
	change.NewGrade = Grade(change.NewScore)
	metrics.ObserveAffinityUpdate(characterID, delta)
	return change, nil
}

// Set выставляет счёт администратором.
func (l *Ledger) Set(ctx context.Context, userID int64, characterID string, value int) (domain.Affinity, error) {
	a, err := l.repo.SetAffinity(ctx, userID, characterID, value, l.today(l.now()))
	if err != nil {
		return domain.Affinity{}, fmt.Errorf("установка привязанности: %w", err)
	}
	return a, nil
}

// Grade возвращает уровень для счёта.
func Grade(score int) domain.Grade {
	return domain.GradeFor(score)
}
