package milestone

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
)

// Drawer разыгрывает карточку для пользователя.
type Drawer interface {
	Draw(ctx context.Context, userID int64, characterID string, drawCtx domain.DrawContext, score int) (domain.Draw, error)
}

// Granter выдаёт карточку.
type Granter interface {
	Grant(ctx context.Context, userID int64, characterID, cardID string) (domain.Grant, error)
}

// Tracker обрабатывает пересечённые пороги ровно один раз.
type Tracker struct {
	schedule Schedule
	claims   domain.MilestoneRepo
	drawer   Drawer
	granter  Granter
	log      zerolog.Logger
	now      func() time.Time
}

// NewTracker создаёт трекер порогов.
func NewTracker(schedule Schedule, claims domain.MilestoneRepo, drawer Drawer, granter Granter, logger zerolog.Logger) *Tracker {
	return &Tracker{
		schedule: schedule,
		claims:   claims,
		drawer:   drawer,
		granter:  granter,
		log:      logger.With().Str("component", "milestone").Logger(),
		now:      time.Now,
	}
}

// Schedule возвращает список порогов.
func (t *Tracker) Schedule() Schedule { return t.schedule }

// Crossed возвращает пороги между старым и новым счётом.
func (t *Tracker) Crossed(old, new int) []int { return t.schedule.Crossed(old, new) }

// ProcessNewly захватывает каждый пересечённый порог вставкой записи. Награду разыгрывает только
// тот вызов, который вставил запись. При временной ошибке розыгрыша или выдачи запись снимается,
// и порог будет обработан при следующей сверке.
func (t *Tracker) ProcessNewly(ctx context.Context, userID int64, characterID string, old, new int) ([]domain.MilestoneResult, error) {
	var results []domain.MilestoneResult
	for _, m := range t.schedule.Crossed(old, new) {
		res, err := t.processOne(ctx, userID, characterID, m)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (t *Tracker) processOne(ctx context.Context, userID int64, characterID string, m int) (domain.MilestoneResult, error) {
	won, err := t.claims.ClaimMilestone(ctx, domain.MilestoneClaim{
		UserID:      userID,
		CharacterID: characterID,
		Milestone:   m,
		ClaimedAt:   t.now().UTC(),
	})
	if err != nil {
		return domain.MilestoneResult{}, fmt.Errorf("захват порога %d: %w", m, err)
	}
	if !won {
		metrics.IncMilestoneClaim(characterID, "already")
		return domain.MilestoneResult{Milestone: m, AlreadyClaimed: true}, nil
	}

	// Веса зависят от счёта, при котором достигнут порог.
	draw, err := t.drawer.Draw(ctx, userID, characterID, domain.DrawMilestone, m)
	if err != nil {
		return domain.MilestoneResult{}, t.release(ctx, userID, characterID, m, fmt.Errorf("розыгрыш за порог %d: %w", m, err))
	}
	if !draw.Found {
		metrics.IncMilestoneClaim(characterID, "empty")
		t.log.Info().Int64("user_id", userID).Str("character", characterID).Int("milestone", m).Msg("коллекция собрана, порог без карточки")
		return domain.MilestoneResult{Milestone: m}, nil
	}
	grant, err := t.granter.Grant(ctx, userID, characterID, draw.CardID)
	if err != nil {
		return domain.MilestoneResult{}, t.release(ctx, userID, characterID, m, fmt.Errorf("выдача за порог %d: %w", m, err))
	}
	if err := t.claims.AttachMilestoneCard(ctx, userID, characterID, m, draw.CardID); err != nil {
		// Карточка уже выдана, запись о пороге остаётся.
		t.log.Warn().Err(err).Int64("user_id", userID).Int("milestone", m).Msg("не удалось привязать карточку к порогу")
	}
	metrics.IncMilestoneClaim(characterID, "claimed")
	return domain.MilestoneResult{Milestone: m, Grant: &grant}, nil
}

func (t *Tracker) release(ctx context.Context, userID int64, characterID string, m int, cause error) error {
	metrics.IncMilestoneClaim(characterID, "released")
	if err := t.claims.ReleaseMilestone(context.WithoutCancel(ctx), userID, characterID, m); err != nil {
		t.log.Error().Err(err).Int64("user_id", userID).Int("milestone", m).Msg("не удалось снять захват порога")
		return fmt.Errorf("%w; снятие захвата: %v", cause, err)
	}
	return cause
}

// LastClaimed возвращает наибольший обработанный порог или 0.
func (t *Tracker) LastClaimed(ctx context.Context, userID int64, characterID string) (int, error) {
	return t.claims.LastClaimedMilestone(ctx, userID, characterID)
}

// Catchup обрабатывает пороги, пересечённые сообщением, и пороги в (LastClaimed, old], захват которых
// был снят после сбоя выдачи. Скан ограничен LastClaimed, список захватов не читается.
func (t *Tracker) Catchup(ctx context.Context, userID int64, characterID string, old, new int) ([]domain.MilestoneResult, error) {
	from := old
	last, err := t.LastClaimed(ctx, userID, characterID)
	if err != nil {
		t.log.Warn().Err(err).Int64("user_id", userID).Str("character", characterID).Msg("последний порог недоступен, проверяем только пересечённые")
	} else if last < from {
		from = last
	}
	return t.ProcessNewly(ctx, userID, characterID, from, new)
}

// Reconcile обрабатывает пороги в (LastClaimed, score] и пропуски ниже LastClaimed. Пропуск возможен,
// если захват снят после сбоя, а более высокий порог успел обработать параллельный вызов.
func (t *Tracker) Reconcile(ctx context.Context, userID int64, characterID string, score int) ([]domain.MilestoneResult, error) {
	last, err := t.LastClaimed(ctx, userID, characterID)
	if err != nil {
		return nil, fmt.Errorf("последний порог: %w", err)
	}
	var results []domain.MilestoneResult
	if below := t.schedule.Crossed(0, min(last, score)); len(below) > 0 {
		claims, err := t.claims.ListMilestoneClaims(ctx, userID, characterID)
		if err != nil {
			return nil, fmt.Errorf("список порогов: %w", err)
		}
		done := make(map[int]bool, len(claims))
		for _, c := range claims {
			done[c.Milestone] = true
		}
		for _, m := range below {
			if done[m] {
				continue
			}
			res, err := t.processOne(ctx, userID, characterID, m)
			if err != nil {
				return results, err
			}
			results = append(results, res)
		}
	}
	tail, err := t.ProcessNewly(ctx, userID, characterID, last, score)
	return append(results, tail...), err
}
