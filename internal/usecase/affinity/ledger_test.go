package affinity

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"companion-bot/internal/adapters/memory"
	"companion-bot/internal/domain"
)

func newLedger(store *memory.Store, opts Options, clock *time.Time) *Ledger {
	l := NewLedger(store, opts)
	l.now = func() time.Time { return *clock }
	return l
}

func TestApplySumsDeltas(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newLedger(store, Options{}, &clock)

	rnd := rand.New(rand.NewPCG(1, 2))
	sum := 0
	for i := 0; i < 200; i++ {
		delta := rnd.IntN(3) - 1
		sum += delta
		change, err := l.Apply(ctx, 1, "kagari", delta, "привет")
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if change.NewScore-change.OldScore != delta {
			t.Fatalf("ожидали разницу %d, получили %d", delta, change.NewScore-change.OldScore)
		}
		// Новый экземпляр журнала поверх того же хранилища имитирует перезапуск.
		l = newLedger(store, Options{}, &clock)
	}
	a, err := l.Get(ctx, 1, "kagari")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if a.Score != sum {
		t.Fatalf("ожидали счёт %d, получили %d", sum, a.Score)
	}
	if a.DailyCount != 200 {
		t.Fatalf("ожидали 200 сообщений за день, получили %d", a.DailyCount)
	}
}

func TestConcurrentApplySameKey(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newLedger(store, Options{}, &clock)

	const n = 64
	olds := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			change, err := l.Apply(ctx, 1, "kagari", 1, "привет")
			olds[i], errs[i] = change.OldScore, err
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("не ожидали ошибку: %v", errs[i])
		}
		if seen[olds[i]] {
			t.Fatalf("два изменения начались со счёта %d", olds[i])
		}
		seen[olds[i]] = true
	}
	a, err := l.Get(ctx, 1, "kagari")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if a.Score != n || a.DailyCount != n {
		t.Fatalf("ожидали счёт и дневной счётчик %d, получили %d и %d", n, a.Score, a.DailyCount)
	}
}

func TestApplyRejectsInvalidDelta(t *testing.T) {
	clock := time.Now()
	l := newLedger(memory.NewStore(), Options{}, &clock)
	for _, d := range []int{-2, 2, 5} {
		if _, err := l.Apply(context.Background(), 1, "kagari", d, ""); !errors.Is(err, ErrInvalidDelta) {
			t.Fatalf("дельта %d: ожидали ErrInvalidDelta, получили %v", d, err)
		}
	}
}

func TestScoreMayGoNegativeWithoutFloor(t *testing.T) {
	ctx := context.Background()
	clock := time.Now()
	l := newLedger(memory.NewStore(), Options{}, &clock)
	change, err := l.Apply(ctx, 1, "eros", -1, "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if change.NewScore != -1 || change.NewGrade != domain.GradeRookie {
		t.Fatalf("ожидали -1 и Rookie, получили %+v", change)
	}

	floor := 0
	fl := newLedger(memory.NewStore(), Options{Floor: &floor}, &clock)
	change, _ = fl.Apply(ctx, 1, "eros", -1, "")
	if change.NewScore != 0 {
		t.Fatalf("пол должен удержать счёт на 0, получили %d", change.NewScore)
	}
}

func TestDailyCounterResetsOnNewDay(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	clock := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	l := newLedger(store, Options{DailyLimit: 2}, &clock)

	for i := 0; i < 2; i++ {
		if _, err := l.Apply(ctx, 1, "kagari", 1, ""); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if _, err := l.Apply(ctx, 1, "kagari", 1, ""); !errors.Is(err, ErrDailyLimit) {
		t.Fatalf("ожидали ErrDailyLimit, получили %v", err)
	}
	a, _ := l.Get(ctx, 1, "kagari")
	if a.Score != 2 || a.DailyCount != 2 {
		t.Fatalf("отклонённое сообщение не должно менять запись: %+v", a)
	}

	clock = clock.Add(20 * time.Minute)
	a, _ = l.Get(ctx, 1, "kagari")
	if a.DailyCount != 0 {
		t.Fatalf("счётчик должен сброситься после полуночи, получили %d", a.DailyCount)
	}
	if _, err := l.Apply(ctx, 1, "kagari", 1, ""); err != nil {
		t.Fatalf("после сброса лимит снова доступен: %v", err)
	}
}

func TestLevelChangeDetected(t *testing.T) {
	ctx := context.Background()
	clock := time.Now()
	l := newLedger(memory.NewStore(), Options{}, &clock)
	if _, err := l.Set(ctx, 1, "kagari", 9); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	change, err := l.Apply(ctx, 1, "kagari", 1, "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !change.LevelChanged() || change.OldGrade != domain.GradeRookie || change.NewGrade != domain.GradeIron {
		t.Fatalf("ожидали переход Rookie -> Iron, получили %+v", change)
	}
}

func TestStoreFailureIsTransient(t *testing.T) {
	store := memory.NewStore()
	store.Fail = func(string) error { return errors.New("connection refused") }
	clock := time.Now()
	l := newLedger(store, Options{}, &clock)
	if _, err := l.Apply(context.Background(), 1, "kagari", 1, ""); !domain.IsTransient(err) {
		t.Fatalf("ожидали TransientStoreError, получили %v", err)
	}
}
