package cards

import (
	"slices"
	"strconv"
	"strings"

	"companion-bot/internal/domain"
)

// TierSpec описывает редкость: сколько карточек, с каким весом и в каких контекстах разыгрывается.
type TierSpec struct {
	Tier     domain.Tier          `json:"tier"`
	Count    int                  `json:"count"`
	Weight   float64              `json:"weight"`
	Contexts []domain.DrawContext `json:"contexts"`
}

// DefaultTiers возвращает стандартную раскладку редкостей. S доступна только в истории.
func DefaultTiers() []TierSpec {
	all := []domain.DrawContext{domain.DrawChat, domain.DrawMilestone, domain.DrawStory}
	return []TierSpec{
		{Tier: domain.TierC, Count: 10, Weight: 0.40, Contexts: all},
		{Tier: domain.TierB, Count: 7, Weight: 0.30, Contexts: all},
		{Tier: domain.TierA, Count: 5, Weight: 0.20, Contexts: all},
		{Tier: domain.TierS, Count: 4, Weight: 0.08, Contexts: []domain.DrawContext{domain.DrawStory}},
		{Tier: domain.TierSpecial, Count: 2, Weight: 0.02, Contexts: all},
	}
}

// ScoreWeights задаёт веса редкостей для розыгрыша за порог, начиная со счёта Min.
// Редкости, которых нет в Weights, при таком счёте не разыгрываются.
type ScoreWeights struct {
	Min     int                     `json:"min"`
	Weights map[domain.Tier]float64 `json:"weights"`
}

// CardID строит идентификатор карточки вида kagaric1.
func CardID(characterID string, tier domain.Tier, n int) string {
	return strings.ToLower(characterID + string(tier) + strconv.Itoa(n))
}

// Catalog — неизменяемый справочник карточек по персонажам.
type Catalog struct {
	tiers      []TierSpec
	overrides  map[domain.DrawContext]map[domain.Tier]float64
	byScore    []ScoreWeights
	characters map[string]map[domain.Tier][]string
	tierOf     map[string]map[string]domain.Tier
	order      []string
}

// NewCatalog проверяет раскладку и строит справочник. overrides задаёт веса для отдельных контекстов.
func NewCatalog(characters []string, tiers []TierSpec, overrides map[domain.DrawContext]map[domain.Tier]float64) (*Catalog, error) {
	if len(characters) == 0 {
		return nil, domain.NewConfigError("catalog.characters", "список персонажей пуст")
	}
	if len(tiers) == 0 {
		return nil, domain.NewConfigError("catalog.tiers", "список редкостей пуст")
	}
	seen := make(map[domain.Tier]bool, len(tiers))
	for _, spec := range tiers {
		if spec.Tier == "" {
			return nil, domain.NewConfigError("catalog.tiers", "редкость без имени")
		}
		if seen[spec.Tier] {
			return nil, domain.NewConfigError("catalog.tiers", "редкость %s описана дважды", spec.Tier)
		}
		seen[spec.Tier] = true
		if spec.Count <= 0 {
			return nil, domain.NewConfigError("catalog.tiers", "у редкости %s нет карточек", spec.Tier)
		}
		if spec.Weight <= 0 {
			return nil, domain.NewConfigError("catalog.tiers", "вес редкости %s должен быть положительным", spec.Tier)
		}
		if len(spec.Contexts) == 0 {
			return nil, domain.NewConfigError("catalog.tiers", "редкость %s не разыгрывается ни в одном контексте", spec.Tier)
		}
	}
	for drawCtx, weights := range overrides {
		for tier, w := range weights {
			if !seen[tier] {
				return nil, domain.NewConfigError("catalog.overrides", "контекст %s ссылается на неизвестную редкость %s", drawCtx, tier)
			}
			if w < 0 {
				return nil, domain.NewConfigError("catalog.overrides", "отрицательный вес %s в контексте %s", tier, drawCtx)
			}
		}
	}

	c := &Catalog{
		tiers:      slices.Clone(tiers),
		overrides:  overrides,
		characters: make(map[string]map[domain.Tier][]string, len(characters)),
		tierOf:     make(map[string]map[string]domain.Tier, len(characters)),
	}
	for _, ch := range characters {
		id := strings.ToLower(strings.TrimSpace(ch))
		if id == "" {
			return nil, domain.NewConfigError("catalog.characters", "пустой идентификатор персонажа")
		}
		if _, dup := c.characters[id]; dup {
			return nil, domain.NewConfigError("catalog.characters", "персонаж %s описан дважды", id)
		}
		byTier := make(map[domain.Tier][]string, len(tiers))
		index := make(map[string]domain.Tier)
		for _, spec := range tiers {
			ids := make([]string, 0, spec.Count)
			for n := 1; n <= spec.Count; n++ {
				cardID := CardID(id, spec.Tier, n)
				if _, clash := index[cardID]; clash {
					return nil, domain.NewConfigError("catalog.cards", "идентификатор %s повторяется", cardID)
				}
				index[cardID] = spec.Tier
				ids = append(ids, cardID)
			}
			byTier[spec.Tier] = ids
		}
		c.characters[id] = byTier
		c.tierOf[id] = index
		c.order = append(c.order, id)
	}
	return c, nil
}

// WithScoreWeights возвращает копию справочника, в которой веса розыгрыша за порог зависят от счёта.
// Полосы сортируются по Min, проверяются редкости и веса.
func (c *Catalog) WithScoreWeights(bands []ScoreWeights) (*Catalog, error) {
	known := make(map[domain.Tier]bool, len(c.tiers))
	for _, spec := range c.tiers {
		known[spec.Tier] = true
	}
	sorted := slices.Clone(bands)
	slices.SortFunc(sorted, func(a, b ScoreWeights) int { return a.Min - b.Min })
	for i, b := range sorted {
		if i > 0 && sorted[i-1].Min == b.Min {
			return nil, domain.NewConfigError("catalog.score_weights", "полоса со счёта %d описана дважды", b.Min)
		}
		positive := false
		for tier, w := range b.Weights {
			if !known[tier] {
				return nil, domain.NewConfigError("catalog.score_weights", "полоса %d ссылается на неизвестную редкость %s", b.Min, tier)
			}
			if w < 0 {
				return nil, domain.NewConfigError("catalog.score_weights", "отрицательный вес %s в полосе %d", tier, b.Min)
			}
			positive = positive || w > 0
		}
		if !positive {
			return nil, domain.NewConfigError("catalog.score_weights", "в полосе %d нет ни одной редкости", b.Min)
		}
	}
	out := *c
	out.byScore = sorted
	return &out, nil
}

// Characters возвращает идентификаторы персонажей в порядке конфигурации.
func (c *Catalog) Characters() []string { return slices.Clone(c.order) }

// HasCharacter сообщает, описан ли персонаж.
func (c *Catalog) HasCharacter(characterID string) bool {
	_, ok := c.characters[characterID]
	return ok
}

// Tiers возвращает редкости в порядке конфигурации.
func (c *Catalog) Tiers() []domain.Tier {
	out := make([]domain.Tier, 0, len(c.tiers))
	for _, spec := range c.tiers {
		out = append(out, spec.Tier)
	}
	return out
}

// Cards возвращает карточки персонажа указанной редкости.
func (c *Catalog) Cards(characterID string, tier domain.Tier) []string {
	return slices.Clone(c.characters[characterID][tier])
}

// TierOf возвращает редкость карточки.
func (c *Catalog) TierOf(characterID, cardID string) (domain.Tier, bool) {
	tier, ok := c.tierOf[characterID][cardID]
	return tier, ok
}

// Weight возвращает вес редкости в контексте. Ноль означает, что редкость в контексте не разыгрывается.
func (c *Catalog) Weight(drawCtx domain.DrawContext, tier domain.Tier) float64 {
	for _, spec := range c.tiers {
		if spec.Tier != tier {
			continue
		}
		if !slices.Contains(spec.Contexts, drawCtx) {
			return 0
		}
		if w, ok := c.overrides[drawCtx][tier]; ok {
			return w
		}
		return spec.Weight
	}
	return 0
}

// WeightAt возвращает вес редкости с учётом счёта. Для розыгрыша за порог действует последняя полоса
// с Min <= score. Ниже первой полосы и в других контекстах вес берётся из Weight.
func (c *Catalog) WeightAt(drawCtx domain.DrawContext, tier domain.Tier, score int) float64 {
	base := c.Weight(drawCtx, tier)
	if base == 0 || drawCtx != domain.DrawMilestone {
		return base
	}
	for i := len(c.byScore) - 1; i >= 0; i-- {
		if c.byScore[i].Min <= score {
			return c.byScore[i].Weights[tier]
		}
	}
	return base
}
