package story

import (
	"context"
	"fmt"
	"sync"
	"time"

	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
	"companion-bot/internal/usecase/notify"
)

type requestKind int

const (
	reqAdvance requestKind = iota
	reqResolve
)

type request struct {
	ctx    context.Context
	kind   requestKind
	delta  int
	choice string
	reply  chan response
}

type response struct {
	beat    Beat
	outcome Outcome
	err     error
}

// runner владеет одной сессией. Состояние меняется только в loop.
type runner struct {
	m      *Manager
	key    domain.Key
	script *Script
	sess   *Session

	inbox    chan request
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func newRunner(m *Manager, key domain.Key, script *Script, sess *Session) *runner {
	return &runner{
		m:      m,
		key:    key,
		script: script,
		sess:   sess,
		inbox:  make(chan request),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (r *runner) stop() {
	r.quitOnce.Do(func() { close(r.quit) })
}

// call передаёт запрос владельцу сессии. Если сессия закончилась раньше, возвращает ErrNoSession.
func (r *runner) call(ctx context.Context, req request) (response, error) {
	req.ctx = ctx
	req.reply = make(chan response, 1)
	select {
	case r.inbox <- req:
	case <-r.done:
		return response{}, ErrNoSession
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	// Принятый запрос всегда получает ответ до выхода loop.
	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

func (r *runner) loop() {
	defer close(r.done)
	idle := time.NewTimer(r.m.deps.Timeout)
	defer idle.Stop()

	for {
		select {
		case <-r.quit:
			r.finish()
			metrics.ObserveStoryOutcome(r.key.CharacterID, "aborted")
			r.m.log.Info().Int64("user_id", r.key.UserID).Str("character", r.key.CharacterID).Msg("сессия истории прервана")
			return
		case <-idle.C:
			r.finish()
			metrics.ObserveStoryOutcome(r.key.CharacterID, "timeout")
			r.m.log.Info().Int64("user_id", r.key.UserID).Str("character", r.key.CharacterID).Int("turn", r.sess.Turn()).Msg("сессия истории истекла")
			r.m.emitEnding(context.Background(), domain.EventSessionTimedOut, r.key, domain.EndingPayload{StoryID: r.script.ID, Score: r.sess.Score()})
			return
		case req := <-r.inbox:
			switch req.kind {
			case reqAdvance:
				beat, err := r.sess.Advance(req.delta)
				if err == nil {
					resetTimer(idle, r.m.deps.Timeout)
					r.m.emit(req.ctx, domain.EventStoryBeat, r.key, r.script.ID, beat)
				}
				req.reply <- response{beat: beat, err: err}
			case reqResolve:
				outcome, err := r.resolve(req.ctx, req.choice)
				if err != nil {
					req.reply <- response{err: err}
					continue
				}
				// Сессия снимается до ответа: повторный выбор уже не найдёт её.
				r.finish()
				metrics.ObserveStoryOutcome(r.key.CharacterID, "resolved")
				r.m.emitEnding(req.ctx, domain.EventSessionEnded, r.key, domain.EndingPayload{
					StoryID:   r.script.ID,
					ChoiceKey: outcome.ChoiceKey,
					Ending:    outcome.Ending,
					Score:     outcome.Score,
					CardID:    outcome.CardID,
				})
				req.reply <- response{outcome: outcome}
				return
			}
		}
	}
}

// finish снимает сессию из реестра. Незавершённый прогресс отбрасывается.
func (r *runner) finish() {
	r.m.remove(r.key, r)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// resolve выдаёт награду и сохраняет аудит. При ошибке сессия остаётся в финальном выборе.
// Выданная награда запоминается в сессии, поэтому повтор после сбоя аудита не разыгрывает карточку заново.
func (r *runner) resolve(ctx context.Context, choiceKey string) (Outcome, error) {
	out, ok := r.sess.Committed()
	if !ok {
		var err error
		out, err = r.reward(ctx, choiceKey)
		if err != nil {
			return Outcome{}, err
		}
		r.sess.Commit(out)
	}

	if r.m.deps.Audit != nil {
		rec := domain.StoryChoiceRecord{
			UserID:      r.key.UserID,
			CharacterID: r.key.CharacterID,
			StoryID:     r.script.ID,
			ChoiceKey:   out.ChoiceKey,
			Ending:      out.Ending,
			Score:       out.Score,
			CardID:      out.CardID,
			Granted:     out.Grant != nil && out.Grant.Granted,
			CreatedAt:   time.Now().UTC(),
		}
		if err := r.m.deps.Audit.SaveStoryChoice(ctx, rec); err != nil {
			return Outcome{}, fmt.Errorf("сохранение выбора: %w", err)
		}
	}
	r.sess.MarkResolved()

	if out.Grant != nil && out.Grant.Granted && r.m.deps.Events != nil {
		r.m.deps.Events.Emit(ctx, notify.CardGranted(r.key, *out.Grant, domain.DrawStory))
	}
	return out, nil
}

// reward оценивает выбор и выдаёт карточку полосы или варианта.
func (r *runner) reward(ctx context.Context, choiceKey string) (Outcome, error) {
	res, err := r.sess.Evaluate(choiceKey)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{StoryID: r.script.ID, ChoiceKey: res.Choice.Key, Ending: res.Choice.Ending, Score: res.Score}

	cardID := res.Choice.FixedCardID
	if cardID == "" {
		cardID = res.Band.CardID
	}
	if cardID == "" && res.Band.DrawTier != "" && r.m.deps.Drawer != nil {
		draw, err := r.m.deps.Drawer.DrawTier(ctx, r.key.UserID, r.key.CharacterID, domain.DrawStory, res.Band.DrawTier)
		if err != nil {
			return Outcome{}, fmt.Errorf("розыгрыш награды истории: %w", err)
		}
		if draw.Found {
			cardID = draw.CardID
		}
	}

	if cardID != "" {
		grant, err := r.m.deps.Granter.Grant(ctx, r.key.UserID, r.key.CharacterID, cardID)
		if err != nil {
			return Outcome{}, fmt.Errorf("выдача награды истории: %w", err)
		}
		out.CardID = cardID
		out.Grant = &grant
	}
	return out, nil
}
