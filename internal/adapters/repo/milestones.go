package repo

import (
	"context"
	"time"

	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
)

// ClaimMilestone вставляет запись о пороге и возвращает true, если удалось. При конфликте возвращает false без ошибки.
func (p *Postgres) ClaimMilestone(ctx context.Context, claim domain.MilestoneClaim) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
INSERT INTO user_milestone_claims (user_id, character_id, milestone, claimed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, character_id, milestone) DO NOTHING
`, claim.UserID, claim.CharacterID, claim.Milestone, claim.ClaimedAt)
	metrics.ObserveNetworkRequest("postgres", "milestone_claim", "user_milestone_claims", start, err)
	if err != nil {
		return false, classify("milestone_claim", err)
	}
	return res.RowsAffected() > 0, nil
}

// ReleaseMilestone удаляет запись о пороге, за который награда не была выдана.
func (p *Postgres) ReleaseMilestone(ctx context.Context, userID int64, characterID string, milestone int) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
DELETE FROM user_milestone_claims
WHERE user_id = $1 AND character_id = $2 AND milestone = $3 AND card_id IS NULL
`, userID, characterID, milestone)
	metrics.ObserveNetworkRequest("postgres", "milestone_release", "user_milestone_claims", start, err)
	return classify("milestone_release", err)
}

// AttachMilestoneCard запоминает выданную за порог карточку.
func (p *Postgres) AttachMilestoneCard(ctx context.Context, userID int64, characterID string, milestone int, cardID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE user_milestone_claims SET card_id = $4
WHERE user_id = $1 AND character_id = $2 AND milestone = $3
`, userID, characterID, milestone, cardID)
	metrics.ObserveNetworkRequest("postgres", "milestone_attach", "user_milestone_claims", start, err)
	if err != nil {
		return classify("milestone_attach", err)
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LastClaimedMilestone возвращает наибольший обработанный порог или 0.
func (p *Postgres) LastClaimedMilestone(ctx context.Context, userID int64, characterID string) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var last int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT COALESCE(MAX(milestone), 0) FROM user_milestone_claims WHERE user_id = $1 AND character_id = $2
`, userID, characterID).Scan(&last)
	metrics.ObserveNetworkRequest("postgres", "milestone_last", "user_milestone_claims", start, err)
	if err != nil {
		return 0, classify("milestone_last", err)
	}
	return last, nil
}

// ListMilestoneClaims возвращает обработанные пороги по возрастанию.
func (p *Postgres) ListMilestoneClaims(ctx context.Context, userID int64, characterID string) ([]domain.MilestoneClaim, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id, character_id, milestone, COALESCE(card_id, ''), claimed_at
FROM user_milestone_claims
WHERE user_id = $1 AND character_id = $2
ORDER BY milestone
`, userID, characterID)
	metrics.ObserveNetworkRequest("postgres", "milestone_list", "user_milestone_claims", start, err)
	if err != nil {
		return nil, classify("milestone_list", err)
	}
	defer rows.Close()

	var out []domain.MilestoneClaim
	for rows.Next() {
		var c domain.MilestoneClaim
		if err := rows.Scan(&c.UserID, &c.CharacterID, &c.Milestone, &c.CardID, &c.ClaimedAt); err != nil {
			return nil, classify("milestone_list", err)
		}
		out = append(out, c)
	}
	return out, classify("milestone_list", rows.Err())
}
