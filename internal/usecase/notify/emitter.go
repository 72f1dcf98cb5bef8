// Package notify собирает события движка и отправляет их в EventSink.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"companion-bot/internal/domain"
)

// Emitter заполняет служебные поля события и публикует его. События отправляются после фиксации
// изменений, поэтому ошибка публикации только логируется.
type Emitter struct {
	sink domain.EventSink
	log  zerolog.Logger
	now  func() time.Time
}

// NewEmitter создаёт отправителя событий.
func NewEmitter(sink domain.EventSink, logger zerolog.Logger) *Emitter {
	return &Emitter{sink: sink, log: logger.With().Str("component", "events").Logger(), now: time.Now}
}

// Emit публикует событие, проставляя идентификатор и время. Nil-получатель ничего не отправляет.
func (e *Emitter) Emit(ctx context.Context, ev domain.Event) domain.Event {
	if e == nil {
		return ev
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.now().UTC()
	}
	if e.sink == nil {
		return ev
	}
	if err := e.sink.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.log.Error().Err(err).Str("kind", string(ev.Kind)).Int64("user_id", ev.UserID).Msg("не удалось опубликовать событие")
	}
	return ev
}

// MilestoneReached строит событие о достигнутом пороге.
func MilestoneReached(key domain.Key, milestone, score int, cardID string) domain.Event {
	return domain.Event{
		Kind:        domain.EventMilestoneReached,
		UserID:      key.UserID,
		CharacterID: key.CharacterID,
		Milestone:   &domain.MilestonePayload{Milestone: milestone, Score: score, CardID: cardID},
	}
}

// CardGranted строит событие о выданной карточке.
func CardGranted(key domain.Key, grant domain.Grant, source domain.DrawContext) domain.Event {
	return domain.Event{
		Kind:        domain.EventCardGranted,
		UserID:      key.UserID,
		CharacterID: key.CharacterID,
		Card: &domain.CardPayload{
			CardID:         grant.CardID,
			Tier:           grant.Tier,
			IssuanceNumber: grant.IssuanceNumber,
			Source:         source,
		},
	}
}

// LevelChanged строит событие о смене уровня.
func LevelChanged(key domain.Key, change domain.AffinityChange) domain.Event {
	return domain.Event{
		Kind:        domain.EventLevelChanged,
		UserID:      key.UserID,
		CharacterID: key.CharacterID,
		Level:       &domain.LevelPayload{From: change.OldGrade, To: change.NewGrade, Score: change.NewScore},
	}
}

// StoryEvent строит событие хода или завершения истории.
func StoryEvent(kind domain.EventKind, key domain.Key) domain.Event {
	return domain.Event{Kind: kind, UserID: key.UserID, CharacterID: key.CharacterID}
}

// InputRejected строит событие об отклонённом входящем событии.
func InputRejected(key domain.Key, reason domain.RejectReason, input domain.InputKind, storyID string) domain.Event {
	return domain.Event{
		Kind:        domain.EventInputRejected,
		UserID:      key.UserID,
		CharacterID: key.CharacterID,
		Rejection:   &domain.RejectionPayload{Reason: reason, Input: input, StoryID: storyID},
	}
}

// CharacterChosen строит событие с состоянием выбранного персонажа.
func CharacterChosen(key domain.Key, profile domain.ProfilePayload) domain.Event {
	return domain.Event{
		Kind:        domain.EventCharacterChosen,
		UserID:      key.UserID,
		CharacterID: key.CharacterID,
		Profile:     &profile,
	}
}
