package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
)

// HasCard реализует domain.CardRepo.
func (p *Postgres) HasCard(ctx context.Context, userID int64, characterID, cardID string) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var ok bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM user_cards WHERE user_id = $1 AND character_id = $2 AND card_id = $3)
`, userID, characterID, cardID).Scan(&ok)
	metrics.ObserveNetworkRequest("postgres", "cards_has", "user_cards", start, err)
	if err != nil {
		return false, classify("cards_has", err)
	}
	return ok, nil
}

// GrantCard выдаёт карточку в одной транзакции: вставка владения, увеличение счётчика выпуска и
// проставление номера. Если карточка уже есть, транзакция откатывается и возвращается Granted=false.
func (p *Postgres) GrantCard(ctx context.Context, own domain.CardOwnership) (domain.Grant, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "user_cards", start, err)
	if err != nil {
		return domain.Grant{}, classify("cards_grant", err)
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	res, err := tx.Exec(ctx, `
INSERT INTO user_cards (user_id, character_id, card_id, tier, obtained_at, issuance_number)
VALUES ($1, $2, $3, $4, $5, 0)
ON CONFLICT (user_id, character_id, card_id) DO NOTHING
`, own.UserID, own.CharacterID, own.CardID, string(own.Tier), own.ObtainedAt)
	metrics.ObserveNetworkRequest("postgres", "cards_insert", "user_cards", start, err)
	if err != nil {
		return domain.Grant{}, classify("cards_grant", err)
	}
	if res.RowsAffected() == 0 {
		return domain.Grant{CardID: own.CardID, Tier: own.Tier}, nil
	}

	var number int
	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO card_issued (character_id, card_id, issued_number)
VALUES ($1, $2, 1)
ON CONFLICT (character_id, card_id) DO UPDATE SET issued_number = card_issued.issued_number + 1
RETURNING issued_number
`, own.CharacterID, own.CardID).Scan(&number)
	metrics.ObserveNetworkRequest("postgres", "card_issued_increment", "card_issued", start, err)
	if err != nil {
		return domain.Grant{}, classify("cards_grant", err)
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE user_cards SET issuance_number = $4
WHERE user_id = $1 AND character_id = $2 AND card_id = $3
`, own.UserID, own.CharacterID, own.CardID, number)
	metrics.ObserveNetworkRequest("postgres", "cards_stamp", "user_cards", start, err)
	if err != nil {
		return domain.Grant{}, classify("cards_grant", err)
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "user_cards", start, err)
	if err != nil {
		return domain.Grant{}, classify("cards_grant", err)
	}
	return domain.Grant{CardID: own.CardID, Tier: own.Tier, Granted: true, IssuanceNumber: number}, nil
}

// IssuanceNumber возвращает текущее значение счётчика выпуска.
func (p *Postgres) IssuanceNumber(ctx context.Context, characterID, cardID string) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var n int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT COALESCE((SELECT issued_number FROM card_issued WHERE character_id = $1 AND card_id = $2), 0)
`, characterID, cardID).Scan(&n)
	metrics.ObserveNetworkRequest("postgres", "card_issued_get", "card_issued", start, err)
	if err != nil {
		return 0, classify("card_issued_get", err)
	}
	return n, nil
}

// ListOwnedCards возвращает коллекцию пользователя.
func (p *Postgres) ListOwnedCards(ctx context.Context, userID int64, characterID string) ([]domain.CardOwnership, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id, character_id, card_id, tier, obtained_at, issuance_number
FROM user_cards
WHERE user_id = $1 AND character_id = $2
ORDER BY card_id
`, userID, characterID)
	metrics.ObserveNetworkRequest("postgres", "cards_list", "user_cards", start, err)
	if err != nil {
		return nil, classify("cards_list", err)
	}
	defer rows.Close()

	var out []domain.CardOwnership
	for rows.Next() {
		var (
			own  domain.CardOwnership
			tier string
		)
		if err := rows.Scan(&own.UserID, &own.CharacterID, &own.CardID, &tier, &own.ObtainedAt, &own.IssuanceNumber); err != nil {
			return nil, classify("cards_list", err)
		}
		own.Tier = domain.Tier(tier)
		out = append(out, own)
	}
	return out, classify("cards_list", rows.Err())
}
