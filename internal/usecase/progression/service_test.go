package progression

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"companion-bot/internal/adapters/memory"
	"companion-bot/internal/content"
	"companion-bot/internal/domain"
	"companion-bot/internal/usecase/affinity"
	"companion-bot/internal/usecase/cards"
	"companion-bot/internal/usecase/milestone"
	"companion-bot/internal/usecase/notify"
	"companion-bot/internal/usecase/sentiment"
	"companion-bot/internal/usecase/story"
)

type constScorer struct{ score int }

func (c constScorer) Classify(context.Context, string) sentiment.Result {
	return sentiment.Result{Score: c.score, Attempts: 1}
}

type env struct {
	store *memory.Store
	rec   *memory.Recorder
	svc   *Service
	ids   atomic.Int64
}

func newEnv(t *testing.T, opts affinity.Options, spam time.Duration) *env {
	t.Helper()
	return newEnvWith(t, opts, spam, nil)
}

// newEnvWith позволяет изменить встроенную конфигурацию до сборки сервиса.
func newEnvWith(t *testing.T, opts affinity.Options, spam time.Duration, edit func(*content.Bundle)) *env {
	t.Helper()
	bundle, err := content.Load("", 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку конфигурации: %v", err)
	}
	if edit != nil {
		edit(bundle)
	}
	store := memory.NewStore()
	rec := &memory.Recorder{}
	events := notify.NewEmitter(rec, zerolog.Nop())
	alloc := cards.NewAllocator(bundle.Catalog, store, cards.NewSeededRand(42))
	vault := cards.NewVault(bundle.Catalog, store)
	scorer := constScorer{score: 1}
	stories, err := story.NewManager(bundle.Stories, story.Deps{
		Scorer:  scorer,
		Drawer:  alloc,
		Granter: vault,
		Audit:   store,
		Events:  events,
		Logger:  zerolog.Nop(),
		Timeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	t.Cleanup(stories.Close)
	svc := NewService(Deps{
		Content:     bundle,
		Ledger:      affinity.NewLedger(store, opts),
		Tracker:     milestone.NewTracker(bundle.Schedule, store, alloc, vault, zerolog.Nop()),
		Stories:     stories,
		Scorer:      scorer,
		Emotions:    store,
		Preferences: store,
		Audit:       store,
		Guard:       memory.NewCache(nil),
		Events:      events,
		Logger:      zerolog.Nop(),
		SpamWindow:  spam,
	})
	return &env{store: store, rec: rec, svc: svc}
}

func (e *env) message(char, text string) domain.Input {
	id := e.ids.Add(1)
	return domain.Input{ID: "in-" + strconv.FormatInt(id, 10), Kind: domain.InputMessage, UserID: 1, CharacterID: char, Text: text}
}

func TestMessageCrossesMilestoneAndLevel(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, affinity.Options{}, 0)
	if _, err := e.svc.deps.Ledger.Set(ctx, 1, "kagari", 9); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	res, err := e.svc.Dispatch(ctx, e.message("kagari", "ты сегодня прекрасна"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Change == nil || res.Change.NewScore != 10 {
		t.Fatalf("ожидали счёт 10: %+v", res.Change)
	}
	if len(res.Milestones) != 1 || res.Milestones[0].Grant == nil {
		t.Fatalf("ожидали награду за порог 10: %+v", res.Milestones)
	}
	if res.Milestones[0].Grant.Tier == domain.TierS {
		t.Fatal("S не выдаётся за пороги")
	}
	if len(e.rec.OfKind(domain.EventLevelChanged)) != 1 || len(e.rec.OfKind(domain.EventMilestoneReached)) != 1 || len(e.rec.OfKind(domain.EventCardGranted)) != 1 {
		t.Fatalf("ожидали события уровня, порога и карточки: %+v", e.rec.Events())
	}
	if log := e.store.EmotionLog(); len(log) != 1 || log[0].Score != 1 {
		t.Fatalf("ожидали запись в журнале оценок: %+v", log)
	}
}

func TestDuplicateInputIgnored(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, affinity.Options{}, 0)
	in := e.message("eros", "привет")
	if _, err := e.svc.Dispatch(ctx, in); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	res, err := e.svc.Dispatch(ctx, in)
	if err != nil || res.Ignored != IgnoredDuplicate {
		t.Fatalf("ожидали пропуск повтора, получили %+v %v", res, err)
	}
	a, _ := e.svc.deps.Ledger.Get(ctx, 1, "eros")
	if a.Score != 1 {
		t.Fatalf("счёт должен измениться один раз, получили %d", a.Score)
	}
}

func TestSpamGuard(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, affinity.Options{}, 3*time.Second)
	if _, err := e.svc.Dispatch(ctx, e.message("eros", "привет")); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	res, err := e.svc.Dispatch(ctx, e.message("eros", "привет"))
	if err != nil || res.Ignored != IgnoredSpam {
		t.Fatalf("ожидали spam, получили %+v %v", res, err)
	}
	res, err = e.svc.Dispatch(ctx, e.message("eros", "как дела?"))
	if err != nil || res.Ignored != "" {
		t.Fatalf("другое сообщение должно учитываться: %+v %v", res, err)
	}
}

func TestDailyLimitReported(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, affinity.Options{DailyLimit: 1}, 0)
	if _, err := e.svc.Dispatch(ctx, e.message("kagari", "раз")); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	res, err := e.svc.Dispatch(ctx, e.message("kagari", "два"))
	if err != nil || !res.Limited {
		t.Fatalf("ожидали лимит, получили %+v %v", res, err)
	}
}

func TestUnknownCharacterRejected(t *testing.T) {
	e := newEnv(t, affinity.Options{}, 0)
	_, err := e.svc.Dispatch(context.Background(), e.message("ira", "привет"))
	if !errors.Is(err, ErrUnknownCharacter) {
		t.Fatalf("ожидали ErrUnknownCharacter, получили %v", err)
	}
}

func TestStoryLockedBelowGrade(t *testing.T) {
	e := newEnv(t, affinity.Options{}, 0)
	_, err := e.svc.Dispatch(context.Background(), domain.Input{Kind: domain.InputStoryStart, UserID: 1, CharacterID: "eros"})
	if !errors.Is(err, ErrStoryLocked) {
		t.Fatalf("ожидали ErrStoryLocked, получили %v", err)
	}
}

func TestStoryFlowThroughDispatch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, affinity.Options{}, 0)
	if _, err := e.svc.deps.Ledger.Set(ctx, 1, "eros", 100); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	res, err := e.svc.Dispatch(ctx, domain.Input{Kind: domain.InputStoryStart, UserID: 1, CharacterID: "eros"})
	if err != nil || res.Beat == nil || res.Beat.Turn != 1 {
		t.Fatalf("ожидали начало истории: %+v %v", res, err)
	}
	var last story.Beat
	for i := 0; i < 19; i++ {
		res, err := e.svc.Dispatch(ctx, e.message("eros", "сообщение"))
		if err != nil || res.Beat == nil {
			t.Fatalf("ход %d: ожидали ход истории, получили %+v %v", i, res, err)
		}
		last = *res.Beat
	}
	if last.Phase != story.PhaseFinalChoice || last.Turn != 20 {
		t.Fatalf("ожидали финальный выбор на ходу 20, получили %+v", last)
	}
	a, _ := e.svc.deps.Ledger.Get(ctx, 1, "eros")
	if a.Score != 100 {
		t.Fatalf("сообщения истории не меняют счёт, получили %d", a.Score)
	}

	choice := domain.Input{ID: "choice-1", Kind: domain.InputStoryChoiceMade, UserID: 1, CharacterID: "eros", ChoiceKey: "D"}
	res, err = e.svc.Dispatch(ctx, choice)
	if err != nil || res.Outcome == nil || res.Outcome.CardID != "eross1" {
		t.Fatalf("ожидали карточку eross1, получили %+v %v", res.Outcome, err)
	}
	choice.ID = "choice-2"
	res, err = e.svc.Dispatch(ctx, choice)
	if err != nil || res.Outcome == nil || !res.Outcome.AlreadyCompleted {
		t.Fatalf("повторный выбор должен быть пустым: %+v %v", res.Outcome, err)
	}
}

func TestClaimMissingAfterFailedGrant(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, affinity.Options{}, 0)
	if _, err := e.svc.deps.Ledger.Set(ctx, 1, "kagari", 9); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	e.store.Fail = func(op string) error {
		if op == "cards_grant" {
			return errors.New("timeout")
		}
		return nil
	}
	res, err := e.svc.Dispatch(ctx, e.message("kagari", "привет"))
	if err != nil {
		t.Fatalf("сообщение не должно повторяться после изменения счёта: %v", err)
	}
	if !res.PendingMilestones {
		t.Fatal("ожидали отложенные пороги")
	}
	e.store.Fail = nil

	res, err = e.svc.Dispatch(ctx, domain.Input{Kind: domain.InputCardClaimClicked, UserID: 1, CharacterID: "kagari"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Milestones) != 1 || res.Milestones[0].Milestone != 10 || res.Milestones[0].Grant == nil {
		t.Fatalf("ожидали выдачу за порог 10: %+v", res.Milestones)
	}
}

func TestLanguageSelection(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, affinity.Options{}, 0)
	in := domain.Input{Kind: domain.InputLanguageSelected, UserID: 1, CharacterID: "kagari", Language: "JA"}
	if _, err := e.svc.Dispatch(ctx, in); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if lang, _ := e.store.GetLanguage(ctx, 1, "kagari"); lang != "ja" {
		t.Fatalf("ожидали ja, получили %q", lang)
	}
	in.Language = "ko"
	if _, err := e.svc.Dispatch(ctx, in); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("ожидали ErrUnsupportedLanguage, получили %v", err)
	}
}

func rejections(rec *memory.Recorder) []domain.RejectReason {
	var out []domain.RejectReason
	for _, ev := range rec.OfKind(domain.EventInputRejected) {
		out = append(out, ev.Rejection.Reason)
	}
	return out
}

func TestMessageRetriesReleasedMilestone(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, affinity.Options{}, 0)
	if _, err := e.svc.deps.Ledger.Set(ctx, 1, "kagari", 9); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	e.store.Fail = func(op string) error {
		if op == "cards_grant" {
			return errors.New("timeout")
		}
		return nil
	}
	if res, err := e.svc.Dispatch(ctx, e.message("kagari", "привет")); err != nil || !res.PendingMilestones {
		t.Fatalf("ожидали отложенный порог: %+v %v", res, err)
	}
	e.store.Fail = nil

	res, err := e.svc.Dispatch(ctx, e.message("kagari", "как дела?"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Milestones) != 1 || res.Milestones[0].Milestone != 10 || res.Milestones[0].Grant == nil {
		t.Fatalf("следующее сообщение должно выдать карточку за порог 10: %+v", res.Milestones)
	}
	if got := len(e.rec.OfKind(domain.EventCardGranted)); got != 1 {
		t.Fatalf("ожидали одну карточку, получили %d", got)
	}
}

func TestRejectionsReachUser(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, affinity.Options{DailyLimit: 1}, 0)
	if _, err := e.svc.Dispatch(ctx, e.message("kagari", "раз")); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res, _ := e.svc.Dispatch(ctx, e.message("kagari", "два")); !res.Limited {
		t.Fatal("ожидали лимит")
	}
	if _, err := e.svc.Dispatch(ctx, domain.Input{Kind: domain.InputStoryStart, UserID: 1, CharacterID: "eros"}); !errors.Is(err, ErrStoryLocked) {
		t.Fatalf("ожидали ErrStoryLocked, получили %v", err)
	}
	_, _ = e.svc.Dispatch(ctx, e.message("ira", "привет"))

	got := rejections(e.rec)
	want := []domain.RejectReason{domain.RejectDailyLimit, domain.RejectStoryLocked, domain.RejectUnknownCharacter}
	if len(got) != len(want) {
		t.Fatalf("ожидали отказы %v, получили %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ожидали отказы %v, получили %v", want, got)
		}
	}
	if ev := e.rec.OfKind(domain.EventInputRejected)[1]; ev.Rejection.Input != domain.InputStoryStart || ev.CharacterID != "eros" {
		t.Fatalf("отказ должен указывать вход и персонажа: %+v", ev)
	}
}

func TestRejectionOf(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		err  error
		want domain.RejectReason
		ok   bool
	}{
		{name: "applied", res: Result{}},
		{name: "spam stays silent", res: Result{Ignored: IgnoredSpam}},
		{name: "awaiting choice", res: Result{Ignored: IgnoredAwaitingChoice}, want: domain.RejectAwaitingChoice, ok: true},
		{name: "already completed", res: Result{Outcome: &story.Outcome{AlreadyCompleted: true}}, want: domain.RejectAlreadyCompleted, ok: true},
		{name: "session active", err: story.ErrSessionActive, want: domain.RejectSessionActive, ok: true},
		{name: "chapter locked", err: fmt.Errorf("%w: x", ErrChapterLocked), want: domain.RejectChapterLocked, ok: true},
		{name: "invalid phase", err: story.ErrInvalidPhase, want: domain.RejectUnknownChoice, ok: true},
		{name: "transient", err: fmt.Errorf("ход истории: %w", &domain.TransientStoreError{Op: "ledger", Err: errors.New("timeout")})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := rejectionOf(tt.res, tt.err)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("ожидали %q/%v, получили %q/%v", tt.want, tt.ok, got, ok)
			}
		})
	}
}

// reachFinalChoice проводит историю eros до финального выбора.
func reachFinalChoice(t *testing.T, e *env, storyID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.svc.deps.Ledger.Set(ctx, 1, "eros", 100); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := e.svc.Dispatch(ctx, domain.Input{Kind: domain.InputStoryStart, UserID: 1, CharacterID: "eros", StoryID: storyID}); err != nil {
		t.Fatalf("не ожидали ошибку начала истории: %v", err)
	}
	playToChoice(t, e)
}

func playToChoice(t *testing.T, e *env) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 19; i++ {
		if _, err := e.svc.Dispatch(ctx, e.message("eros", "сообщение")); err != nil {
			t.Fatalf("ход %d: %v", i, err)
		}
	}
}

func TestMessageDuringFinalChoiceIgnored(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, affinity.Options{}, 0)
	reachFinalChoice(t, e, "")
	res, err := e.svc.Dispatch(ctx, e.message("eros", "я думаю"))
	if err != nil || res.Ignored != IgnoredAwaitingChoice {
		t.Fatalf("ожидали пропуск до выбора, получили %+v %v", res, err)
	}
	if a, _ := e.svc.deps.Ledger.Get(ctx, 1, "eros"); a.Score != 100 {
		t.Fatalf("сообщение не должно менять счёт, получили %d", a.Score)
	}
	if got := rejections(e.rec); len(got) != 1 || got[0] != domain.RejectAwaitingChoice {
		t.Fatalf("ожидали напоминание о выборе, получили %v", got)
	}
}

func TestCompletedStoryNotReplayed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, affinity.Options{}, 0)
	reachFinalChoice(t, e, "")
	choice := domain.Input{ID: "choice-1", Kind: domain.InputStoryChoiceMade, UserID: 1, CharacterID: "eros", ChoiceKey: "D"}
	if _, err := e.svc.Dispatch(ctx, choice); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	_, err := e.svc.Dispatch(ctx, domain.Input{Kind: domain.InputStoryStart, UserID: 1, CharacterID: "eros"})
	if !errors.Is(err, ErrStoryCompleted) {
		t.Fatalf("ожидали ErrStoryCompleted, получили %v", err)
	}
	if e.svc.deps.Stories.Active(domain.Key{UserID: 1, CharacterID: "eros"}) {
		t.Fatal("пройденная история не должна открываться")
	}
}

func TestChaptersUnlockInOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnvWith(t, affinity.Options{}, 0, func(b *content.Bundle) {
		for _, st := range b.Stories {
			if st.CharacterID == "eros" {
				next := *st
				next.ID = "eros_chapter_two"
				b.Stories = append(b.Stories, &next)
				return
			}
		}
	})
	if _, err := e.svc.deps.Ledger.Set(ctx, 1, "eros", 100); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	_, err := e.svc.Dispatch(ctx, domain.Input{Kind: domain.InputStoryStart, UserID: 1, CharacterID: "eros", StoryID: "eros_chapter_two"})
	if !errors.Is(err, ErrChapterLocked) {
		t.Fatalf("вторая глава закрыта до прохождения первой, получили %v", err)
	}

	reachFinalChoice(t, e, "")
	choice := domain.Input{ID: "choice-1", Kind: domain.InputStoryChoiceMade, UserID: 1, CharacterID: "eros", ChoiceKey: "D"}
	if _, err := e.svc.Dispatch(ctx, choice); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	res, err := e.svc.Dispatch(ctx, domain.Input{Kind: domain.InputStoryStart, UserID: 1, CharacterID: "eros"})
	if err != nil || res.Beat == nil {
		t.Fatalf("ожидали начало второй главы: %+v %v", res, err)
	}
	playToChoice(t, e)
	choice.ID = "choice-2"
	if _, err := e.svc.Dispatch(ctx, choice); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	recs := e.store.StoryChoices()
	if len(recs) != 2 || recs[1].StoryID != "eros_chapter_two" {
		t.Fatalf("ожидали прохождение второй главы: %+v", recs)
	}
	if _, err := e.svc.Dispatch(ctx, domain.Input{Kind: domain.InputStoryStart, UserID: 1, CharacterID: "eros"}); !errors.Is(err, ErrStoryCompleted) {
		t.Fatalf("все главы пройдены, получили %v", err)
	}
	if got := rejections(e.rec); len(got) != 2 || got[0] != domain.RejectChapterLocked || got[1] != domain.RejectStoryCompleted {
		t.Fatalf("ожидали отказы chapter_locked и story_completed, получили %v", got)
	}
}

func TestCharacterChosenReportsProfile(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, affinity.Options{}, 0)
	if err := e.store.SetLanguage(ctx, 1, "kagari", "ja"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := e.svc.deps.Ledger.Set(ctx, 1, "kagari", 12); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	res, err := e.svc.Dispatch(ctx, domain.Input{Kind: domain.InputCharacterChosen, UserID: 1, CharacterID: "kagari"})
	if err != nil || res.Language != "ja" {
		t.Fatalf("ожидали язык ja, получили %+v %v", res, err)
	}
	evs := e.rec.OfKind(domain.EventCharacterChosen)
	if len(evs) != 1 || evs[0].Profile == nil {
		t.Fatalf("ожидали событие профиля: %+v", evs)
	}
	p := evs[0].Profile
	if p.Score != 12 || p.Language != "ja" || p.NextMilestone != 20 || p.Grade != domain.GradeFor(12) {
		t.Fatalf("неожиданный профиль: %+v", p)
	}

	e.store.Fail = func(op string) error {
		if op == "language_get" {
			return errors.New("timeout")
		}
		return nil
	}
	if res, err := e.svc.Dispatch(ctx, domain.Input{Kind: domain.InputCharacterChosen, UserID: 1, CharacterID: "kagari"}); err != nil || res.Language != "" {
		t.Fatalf("сбой чтения языка не мешает выбору: %+v %v", res, err)
	}
}
