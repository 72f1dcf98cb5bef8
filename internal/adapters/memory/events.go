package memory

import (
	"context"
	"sync"

	"companion-bot/internal/domain"
)

// Recorder запоминает опубликованные события.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

var _ domain.EventSink = (*Recorder)(nil)

// Publish сохраняет событие.
func (r *Recorder) Publish(ctx context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events возвращает копию всех событий.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// OfKind возвращает события указанного типа.
func (r *Recorder) OfKind(kind domain.EventKind) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
