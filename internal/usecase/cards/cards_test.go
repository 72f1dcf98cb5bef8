package cards

import (
	"context"
	"errors"
	"sync"
	"testing"

	"companion-bot/internal/adapters/memory"
	"companion-bot/internal/domain"
)

type fixedRand struct {
	f float64
	n int
}

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) IntN(n int) int {
	if r.n >= n {
		return n - 1
	}
	return r.n
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog([]string{"kagari", "eros"}, DefaultTiers(), nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку каталога: %v", err)
	}
	return c
}

func TestCatalogLayout(t *testing.T) {
	c := newTestCatalog(t)
	want := map[domain.Tier]int{domain.TierC: 10, domain.TierB: 7, domain.TierA: 5, domain.TierS: 4, domain.TierSpecial: 2}
	for tier, n := range want {
		if got := len(c.Cards("kagari", tier)); got != n {
			t.Fatalf("редкость %s: ожидали %d карточек, получили %d", tier, n, got)
		}
	}
	if got := c.Cards("kagari", domain.TierSpecial)[0]; got != "kagarispecial1" {
		t.Fatalf("неожиданный идентификатор: %s", got)
	}
	if tier, ok := c.TierOf("eros", "eross3"); !ok || tier != domain.TierS {
		t.Fatalf("ожидали S для eross3, получили %v %v", tier, ok)
	}
	if _, ok := c.TierOf("kagari", "eross3"); ok {
		t.Fatal("карточка другого персонажа не должна находиться")
	}
}

func TestCatalogWeightsByContext(t *testing.T) {
	c := newTestCatalog(t)
	if w := c.Weight(domain.DrawChat, domain.TierS); w != 0 {
		t.Fatalf("S не должна разыгрываться в чате, вес %v", w)
	}
	if w := c.Weight(domain.DrawMilestone, domain.TierS); w != 0 {
		t.Fatalf("S не должна разыгрываться за пороги, вес %v", w)
	}
	if w := c.Weight(domain.DrawStory, domain.TierS); w != 0.08 {
		t.Fatalf("ожидали вес 0.08 для S в истории, получили %v", w)
	}

	over, err := NewCatalog([]string{"kagari"}, DefaultTiers(), map[domain.DrawContext]map[domain.Tier]float64{
		domain.DrawMilestone: {domain.TierC: 0},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if w := over.Weight(domain.DrawMilestone, domain.TierC); w != 0 {
		t.Fatalf("ожидали переопределённый вес 0, получили %v", w)
	}
	if w := over.Weight(domain.DrawChat, domain.TierC); w != 0.40 {
		t.Fatalf("переопределение не должно влиять на другие контексты: %v", w)
	}
}

func TestNewCatalogValidation(t *testing.T) {
	tests := []struct {
		name  string
		chars []string
		tiers []TierSpec
		over  map[domain.DrawContext]map[domain.Tier]float64
	}{
		{name: "no characters", chars: nil, tiers: DefaultTiers()},
		{name: "no tiers", chars: []string{"a"}, tiers: nil},
		{name: "duplicate tier", chars: []string{"a"}, tiers: []TierSpec{
			{Tier: domain.TierC, Count: 1, Weight: 1, Contexts: []domain.DrawContext{domain.DrawChat}},
			{Tier: domain.TierC, Count: 1, Weight: 1, Contexts: []domain.DrawContext{domain.DrawChat}},
		}},
		{name: "zero count", chars: []string{"a"}, tiers: []TierSpec{{Tier: domain.TierC, Weight: 1, Contexts: []domain.DrawContext{domain.DrawChat}}}},
		{name: "zero weight", chars: []string{"a"}, tiers: []TierSpec{{Tier: domain.TierC, Count: 1, Contexts: []domain.DrawContext{domain.DrawChat}}}},
		{name: "no contexts", chars: []string{"a"}, tiers: []TierSpec{{Tier: domain.TierC, Count: 1, Weight: 1}}},
		{name: "duplicate character", chars: []string{"a", "A"}, tiers: DefaultTiers()},
		{name: "unknown override tier", chars: []string{"a"}, tiers: DefaultTiers(), over: map[domain.DrawContext]map[domain.Tier]float64{domain.DrawChat: {"X": 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.chars, tt.tiers, tt.over)
			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("ожидали ConfigError, получили %v", err)
			}
		})
	}
}

func TestDrawNeverReturnsOwnedCard(t *testing.T) {
	ctx := context.Background()
	catalog := newTestCatalog(t)
	store := memory.NewStore()
	vault := NewVault(catalog, store)
	alloc := NewAllocator(catalog, store, NewSeededRand(7))

	total := 0
	for _, tier := range catalog.Tiers() {
		if catalog.Weight(domain.DrawChat, tier) > 0 {
			total += len(catalog.Cards("kagari", tier))
		}
	}
	seen := make(map[string]bool)
	for i := 0; i < total; i++ {
		d, err := alloc.Draw(ctx, 1, "kagari", domain.DrawChat, 0)
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if !d.Found {
			t.Fatalf("шаг %d: ожидали карточку", i)
		}
		if d.Tier == domain.TierS {
			t.Fatalf("S выпала в чате: %s", d.CardID)
		}
		if seen[d.CardID] {
			t.Fatalf("выпала уже полученная карточка %s", d.CardID)
		}
		seen[d.CardID] = true
		g, err := vault.Grant(ctx, 1, "kagari", d.CardID)
		if err != nil || !g.Granted {
			t.Fatalf("ожидали выдачу %s: %+v %v", d.CardID, g, err)
		}
	}
	d, err := alloc.Draw(ctx, 1, "kagari", domain.DrawChat, 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if d.Found {
		t.Fatalf("ожидали пустой розыгрыш после полной коллекции, получили %+v", d)
	}
	story, err := alloc.Draw(ctx, 1, "kagari", domain.DrawStory, 0)
	if err != nil || !story.Found || story.Tier != domain.TierS {
		t.Fatalf("в истории должна остаться S: %+v %v", story, err)
	}
}

func TestDrawSkipsExhaustedTierForAnySeed(t *testing.T) {
	ctx := context.Background()
	catalog := newTestCatalog(t)
	store := memory.NewStore()
	vault := NewVault(catalog, store)
	for _, id := range catalog.Cards("eros", domain.TierC) {
		if _, err := vault.Grant(ctx, 5, "eros", id); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	for seed := uint64(0); seed < 200; seed++ {
		alloc := NewAllocator(catalog, store, NewSeededRand(seed))
		d, err := alloc.Draw(ctx, 5, "eros", domain.DrawMilestone, 0)
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if !d.Found || d.Tier == domain.TierC {
			t.Fatalf("seed %d: выпала исчерпанная редкость %+v", seed, d)
		}
	}
	// r=0 без исключения попал бы в C.
	alloc := NewAllocator(catalog, store, fixedRand{f: 0})
	d, _ := alloc.Draw(ctx, 5, "eros", domain.DrawChat, 0)
	if d.Tier != domain.TierB {
		t.Fatalf("ожидали перенормировку на B, получили %s", d.Tier)
	}
}

func TestPickTierRenormalises(t *testing.T) {
	eligible := []eligibleTier{{tier: domain.TierB, weight: 0.30}, {tier: domain.TierA, weight: 0.20}}
	tests := []struct {
		r    float64
		want domain.Tier
	}{
		{r: 0, want: domain.TierB},
		{r: 0.59, want: domain.TierB},
		{r: 0.6, want: domain.TierA},
		{r: 0.999, want: domain.TierA},
	}
	for _, tt := range tests {
		if got := pickTier(eligible, 0.5, tt.r).tier; got != tt.want {
			t.Fatalf("r=%v: ожидали %s, получили %s", tt.r, tt.want, got)
		}
	}
}

func TestDrawTierRestricts(t *testing.T) {
	ctx := context.Background()
	catalog := newTestCatalog(t)
	store := memory.NewStore()
	alloc := NewAllocator(catalog, store, fixedRand{f: 0.99, n: 1})
	d, err := alloc.DrawTier(ctx, 1, "kagari", domain.DrawStory, domain.TierS)
	if err != nil || !d.Found || d.CardID != "kagaris2" {
		t.Fatalf("ожидали kagaris2, получили %+v %v", d, err)
	}
	d, err = alloc.DrawTier(ctx, 1, "kagari", domain.DrawChat, domain.TierS)
	if err != nil || d.Found {
		t.Fatalf("S в чате недоступна, получили %+v %v", d, err)
	}
	if _, err := alloc.Draw(ctx, 1, "nobody", domain.DrawChat, 0); !errors.Is(err, ErrUnknownCharacter) {
		t.Fatalf("ожидали ErrUnknownCharacter, получили %v", err)
	}
}

func TestGrantTwiceKeepsCounter(t *testing.T) {
	ctx := context.Background()
	catalog := newTestCatalog(t)
	store := memory.NewStore()
	vault := NewVault(catalog, store)

	first, err := vault.Grant(ctx, 1, "kagari", "kagaria2")
	if err != nil || !first.Granted || first.IssuanceNumber != 1 {
		t.Fatalf("первая выдача: %+v %v", first, err)
	}
	second, err := vault.Grant(ctx, 1, "kagari", "kagaria2")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if second.Granted {
		t.Fatal("повторная выдача должна вернуть Granted=false")
	}
	if n, _ := vault.IssuanceNumber(ctx, "kagari", "kagaria2"); n != 1 {
		t.Fatalf("счётчик не должен меняться, получили %d", n)
	}
	other, _ := vault.Grant(ctx, 2, "kagari", "kagaria2")
	if other.IssuanceNumber != 2 {
		t.Fatalf("второй пользователь должен получить номер 2, получили %d", other.IssuanceNumber)
	}
	owned, _ := vault.Owned(ctx, 1, "kagari")
	if len(owned) != 1 {
		t.Fatalf("ожидали одну запись владения, получили %d", len(owned))
	}
	if _, err := vault.Grant(ctx, 1, "kagari", "nope"); !errors.Is(err, ErrUnknownCard) {
		t.Fatalf("ожидали ErrUnknownCard, получили %v", err)
	}
}

func TestGrantConcurrent(t *testing.T) {
	ctx := context.Background()
	catalog := newTestCatalog(t)
	store := memory.NewStore()
	vault := NewVault(catalog, store)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := vault.Grant(ctx, 3, "eros", "erosb1")
			if err != nil {
				t.Errorf("не ожидали ошибку: %v", err)
				return
			}
			if g.Granted {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 1 {
		t.Fatalf("ожидали ровно одну выдачу, получили %d", granted)
	}
	if n, _ := vault.IssuanceNumber(ctx, "eros", "erosb1"); n != 1 {
		t.Fatalf("ожидали счётчик 1, получили %d", n)
	}
}

func TestGrantTransientError(t *testing.T) {
	ctx := context.Background()
	catalog := newTestCatalog(t)
	store := memory.NewStore()
	store.Fail = func(op string) error { return errors.New("down") }
	vault := NewVault(catalog, store)
	_, err := vault.Grant(ctx, 1, "kagari", "kagaric1")
	if !domain.IsTransient(err) {
		t.Fatalf("ожидали TransientStoreError, получили %v", err)
	}
}

func scoreWeights() []ScoreWeights {
	return []ScoreWeights{
		{Min: 100, Weights: map[domain.Tier]float64{domain.TierA: 0.35, domain.TierB: 0.35, domain.TierC: 0.30}},
		{Min: 0, Weights: map[domain.Tier]float64{domain.TierC: 1}},
		{Min: 30, Weights: map[domain.Tier]float64{domain.TierA: 0.10, domain.TierB: 0.45, domain.TierC: 0.45}},
	}
}

func TestWeightAtFollowsScore(t *testing.T) {
	base := newTestCatalog(t)
	c, err := base.WithScoreWeights(scoreWeights())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	tests := []struct {
		drawCtx domain.DrawContext
		tier    domain.Tier
		score   int
		want    float64
	}{
		{domain.DrawMilestone, domain.TierC, 10, 1},
		{domain.DrawMilestone, domain.TierB, 10, 0},
		{domain.DrawMilestone, domain.TierB, 35, 0.45},
		{domain.DrawMilestone, domain.TierA, 150, 0.35},
		{domain.DrawMilestone, domain.TierS, 150, 0},
		{domain.DrawMilestone, domain.TierB, -5, 0.30},
		{domain.DrawChat, domain.TierB, 10, 0.30},
	}
	for _, tt := range tests {
		if got := c.WeightAt(tt.drawCtx, tt.tier, tt.score); got != tt.want {
			t.Fatalf("%s/%s при счёте %d: ожидали %v, получили %v", tt.drawCtx, tt.tier, tt.score, tt.want, got)
		}
	}
	if got := base.WeightAt(domain.DrawMilestone, domain.TierB, 10); got != 0.30 {
		t.Fatalf("исходный справочник не должен меняться, вес %v", got)
	}
}

func TestMilestoneDrawUsesScoreWeights(t *testing.T) {
	ctx := context.Background()
	catalog, err := newTestCatalog(t).WithScoreWeights(scoreWeights())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	store := memory.NewStore()
	for seed := uint64(0); seed < 100; seed++ {
		alloc := NewAllocator(catalog, store, NewSeededRand(seed))
		d, err := alloc.Draw(ctx, 1, "kagari", domain.DrawMilestone, 10)
		if err != nil || !d.Found || d.Tier != domain.TierC {
			t.Fatalf("seed %d: при счёте 10 разыгрывается только C, получили %+v %v", seed, d, err)
		}
	}

	vault := NewVault(catalog, store)
	for _, id := range catalog.Cards("kagari", domain.TierC) {
		if _, err := vault.Grant(ctx, 1, "kagari", id); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	alloc := NewAllocator(catalog, store, NewSeededRand(3))
	if d, err := alloc.Draw(ctx, 1, "kagari", domain.DrawMilestone, 10); err != nil || d.Found {
		t.Fatalf("C собрана, при счёте 10 нечего разыгрывать: %+v %v", d, err)
	}
	d, err := alloc.Draw(ctx, 1, "kagari", domain.DrawMilestone, 40)
	if err != nil || !d.Found || (d.Tier != domain.TierA && d.Tier != domain.TierB) {
		t.Fatalf("при счёте 40 ожидали A или B, получили %+v %v", d, err)
	}
}

func TestWithScoreWeightsValidation(t *testing.T) {
	tests := []struct {
		name  string
		bands []ScoreWeights
	}{
		{name: "unknown tier", bands: []ScoreWeights{{Min: 0, Weights: map[domain.Tier]float64{"Z": 1}}}},
		{name: "duplicate min", bands: []ScoreWeights{{Min: 0, Weights: map[domain.Tier]float64{domain.TierC: 1}}, {Min: 0, Weights: map[domain.Tier]float64{domain.TierB: 1}}}},
		{name: "negative", bands: []ScoreWeights{{Min: 0, Weights: map[domain.Tier]float64{domain.TierC: -1}}}},
		{name: "empty", bands: []ScoreWeights{{Min: 0, Weights: map[domain.Tier]float64{domain.TierC: 0}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestCatalog(t).WithScoreWeights(tt.bands)
			var cfgErr *domain.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("ожидали ConfigError, получили %v", err)
			}
		})
	}
}
