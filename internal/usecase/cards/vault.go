package cards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
)

// ErrUnknownCard возвращается, если карточки нет в справочнике.
var ErrUnknownCard = errors.New("неизвестная карточка")

// Vault управляет владением карточками.
type Vault struct {
	catalog *Catalog
	repo    domain.CardRepo
	now     func() time.Time
}

// NewVault создаёт хранилище карточек.
func NewVault(catalog *Catalog, repo domain.CardRepo) *Vault {
	return &Vault{catalog: catalog, repo: repo, now: time.Now}
}

// Has сообщает, есть ли карточка у пользователя. Результат справочный: выдачу решает Grant.
func (v *Vault) Has(ctx context.Context, userID int64, characterID, cardID string) (bool, error) {
	return v.repo.HasCard(ctx, userID, characterID, cardID)
}

// Grant выдаёт карточку ровно один раз. Повторная выдача возвращает Granted=false и не меняет счётчик.
func (v *Vault) Grant(ctx context.Context, userID int64, characterID, cardID string) (domain.Grant, error) {
	tier, ok := v.catalog.TierOf(characterID, cardID)
	if !ok {
		return domain.Grant{}, fmt.Errorf("%w: %s/%s", ErrUnknownCard, characterID, cardID)
	}
	grant, err := v.repo.GrantCard(ctx, domain.CardOwnership{
		UserID:      userID,
		CharacterID: characterID,
		CardID:      cardID,
		Tier:        tier,
		ObtainedAt:  v.now().UTC(),
	})
	if err != nil {
		return domain.Grant{}, fmt.Errorf("выдача карточки %s: %w", cardID, err)
	}
	grant.CardID = cardID
	grant.Tier = tier
	metrics.IncCardGrant(characterID, string(tier), grant.Granted)
	return grant, nil
}

// IssuanceNumber возвращает текущее значение счётчика выпуска карточки.
func (v *Vault) IssuanceNumber(ctx context.Context, characterID, cardID string) (int, error) {
	return v.repo.IssuanceNumber(ctx, characterID, cardID)
}

// Owned возвращает коллекцию пользователя.
func (v *Vault) Owned(ctx context.Context, userID int64, characterID string) ([]domain.CardOwnership, error) {
	return v.repo.ListOwnedCards(ctx, userID, characterID)
}
