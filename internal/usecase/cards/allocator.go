package cards

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"companion-bot/internal/domain"
)

// ErrUnknownCharacter возвращается, если персонажа нет в справочнике.
var ErrUnknownCharacter = errors.New("неизвестный персонаж")

// Allocator разыгрывает карточки среди тех, которых у пользователя ещё нет.
type Allocator struct {
	catalog *Catalog
	cards   domain.CardRepo
	rnd     Rand
}

// NewAllocator создаёт аллокатор.
func NewAllocator(catalog *Catalog, cards domain.CardRepo, rnd Rand) *Allocator {
	return &Allocator{catalog: catalog, cards: cards, rnd: rnd}
}

type eligibleTier struct {
	tier   domain.Tier
	weight float64
	cards  []string
}

// Draw выбирает редкость по весу среди доступных в контексте и неисчерпанных, затем карточку равновероятно.
// score влияет на веса розыгрыша за порог. Found=false означает, что все доступные редкости собраны полностью.
func (a *Allocator) Draw(ctx context.Context, userID int64, characterID string, drawCtx domain.DrawContext, score int) (domain.Draw, error) {
	return a.draw(ctx, userID, characterID, drawCtx, score, a.catalog.Tiers())
}

// DrawTier разыгрывает карточку только указанной редкости.
func (a *Allocator) DrawTier(ctx context.Context, userID int64, characterID string, drawCtx domain.DrawContext, tier domain.Tier) (domain.Draw, error) {
	return a.draw(ctx, userID, characterID, drawCtx, 0, []domain.Tier{tier})
}

func (a *Allocator) draw(ctx context.Context, userID int64, characterID string, drawCtx domain.DrawContext, score int, tiers []domain.Tier) (domain.Draw, error) {
	if !a.catalog.HasCharacter(characterID) {
		return domain.Draw{}, fmt.Errorf("%w: %s", ErrUnknownCharacter, characterID)
	}
	owned, err := a.cards.ListOwnedCards(ctx, userID, characterID)
	if err != nil {
		return domain.Draw{}, fmt.Errorf("получение коллекции: %w", err)
	}
	have := make(map[string]bool, len(owned))
	for _, own := range owned {
		have[own.CardID] = true
	}

	var (
		eligible []eligibleTier
		total    float64
	)
	for _, tier := range tiers {
		w := a.catalog.WeightAt(drawCtx, tier, score)
		if w <= 0 {
			continue
		}
		var free []string
		for _, id := range a.catalog.Cards(characterID, tier) {
			if !have[id] {
				free = append(free, id)
			}
		}
		if len(free) == 0 {
			continue
		}
		eligible = append(eligible, eligibleTier{tier: tier, weight: w, cards: free})
		total += w
	}
	if len(eligible) == 0 {
		return domain.Draw{}, nil
	}

	picked := pickTier(eligible, total, a.rnd.Float64())
	cardID := picked.cards[a.rnd.IntN(len(picked.cards))]
	return domain.Draw{Found: true, Tier: picked.tier, CardID: cardID}, nil
}

// pickTier выбирает редкость по кумулятивному весу. r в [0, 1).
func pickTier(eligible []eligibleTier, total, r float64) eligibleTier {
	target := r * total
	acc := 0.0
	for _, t := range eligible {
		acc += t.weight
		if target < acc {
			return t
		}
	}
	return eligible[len(eligible)-1]
}

// Remaining возвращает карточки персонажа, которых у пользователя ещё нет, по редкостям.
func (a *Allocator) Remaining(ctx context.Context, userID int64, characterID string) (map[domain.Tier][]string, error) {
	owned, err := a.cards.ListOwnedCards(ctx, userID, characterID)
	if err != nil {
		return nil, fmt.Errorf("получение коллекции: %w", err)
	}
	out := make(map[domain.Tier][]string)
	for _, tier := range a.catalog.Tiers() {
		for _, id := range a.catalog.Cards(characterID, tier) {
			if !slices.ContainsFunc(owned, func(o domain.CardOwnership) bool { return o.CardID == id }) {
				out[tier] = append(out[tier], id)
			}
		}
	}
	return out, nil
}
