package events

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"companion-bot/internal/domain"
)

// LogSink пишет каждое событие в журнал.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink создаёт sink поверх zerolog.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{log: logger.With().Str("component", "events").Logger()}
}

// Publish реализует domain.EventSink.
func (s *LogSink) Publish(_ context.Context, event domain.Event) error {
	entry := s.log.Info().
		Str("event_id", event.ID).
		Str("kind", string(event.Kind)).
		Int64("user", event.UserID).
		Str("character", event.CharacterID)
	switch {
	case event.Milestone != nil:
		entry = entry.Int("milestone", event.Milestone.Milestone).Str("card", event.Milestone.CardID)
	case event.Card != nil:
		entry = entry.Str("card", event.Card.CardID).Str("tier", string(event.Card.Tier)).Int("serial", event.Card.IssuanceNumber)
	case event.Level != nil:
		entry = entry.Str("from", string(event.Level.From)).Str("to", string(event.Level.To))
	case event.Beat != nil:
		entry = entry.Str("story", event.Beat.StoryID).Int("turn", event.Beat.Turn).Str("phase", event.Beat.Phase)
	case event.Ending != nil:
		entry = entry.Str("story", event.Ending.StoryID).Str("choice", event.Ending.ChoiceKey).Int("score", event.Ending.Score)
	}
	entry.Msg("событие движка")
	return nil
}

// FanOut рассылает событие во все sink'и. Ошибка одного не мешает остальным.
type FanOut []domain.EventSink

// Publish реализует domain.EventSink.
func (f FanOut) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
