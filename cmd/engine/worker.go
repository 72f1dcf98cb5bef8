package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"companion-bot/internal/domain"
	"companion-bot/internal/usecase/progression"
)

type dispatcher interface {
	Dispatch(ctx context.Context, in domain.Input) (progression.Result, error)
}

type worker struct {
	log    zerolog.Logger
	queue  domain.InputQueue
	engine dispatcher
	// pause — задержка после ошибки чтения очереди.
	pause time.Duration
}

type jobOutcome int

const (
	jobOutcomeCompleted jobOutcome = iota
	jobOutcomeRetry
)

// Run читает очередь до отмены контекста.
func (w *worker) Run(ctx context.Context) error {
	pause := w.pause
	if pause <= 0 {
		pause = time.Second
	}
	for {
		in, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error().Err(err).Msg("engine: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pause):
			}
			continue
		}

		jobLog := w.log.With().
			Str("input", in.ID).
			Str("kind", string(in.Kind)).
			Int64("user", in.UserID).
			Str("character", in.CharacterID).
			Logger()

		outcome := w.handle(ctx, in, jobLog)
		if err := ack(outcome == jobOutcomeCompleted); err != nil {
			jobLog.Error().Err(err).Msg("engine: не удалось подтвердить событие")
		}
	}
}

func (w *worker) handle(ctx context.Context, in domain.Input, jobLog zerolog.Logger) jobOutcome {
	if in.ID == "" {
		jobLog.Error().Msg("engine: событие без идентификатора, пропускаем")
		return jobOutcomeCompleted
	}
	res, err := w.engine.Dispatch(ctx, in)
	switch {
	case err == nil:
	case domain.IsTransient(err):
		jobLog.Warn().Err(err).Msg("engine: хранилище недоступно, повторим позже")
		return jobOutcomeRetry
	case errors.Is(err, context.Canceled):
		return jobOutcomeRetry
	default:
		jobLog.Info().Err(err).Msg("engine: событие отклонено")
		return jobOutcomeCompleted
	}

	entry := jobLog.Debug()
	if res.Ignored != "" {
		entry = entry.Str("ignored", res.Ignored)
	}
	if res.Change != nil {
		entry = entry.Int("old", res.Change.OldScore).Int("new", res.Change.NewScore)
	}
	if res.PendingMilestones {
		jobLog.Warn().Msg("engine: пороги будут сверены позже")
	}
	entry.Int("milestones", len(res.Milestones)).Bool("limited", res.Limited).Msg("engine: событие обработано")
	return jobOutcomeCompleted
}
