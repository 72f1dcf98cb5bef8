package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.AffinityRepo   = (*Postgres)(nil)
	_ domain.MilestoneRepo  = (*Postgres)(nil)
	_ domain.CardRepo       = (*Postgres)(nil)
	_ domain.StoryAuditRepo = (*Postgres)(nil)
	_ domain.EmotionLogRepo = (*Postgres)(nil)
	_ domain.PreferenceRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const affinityColumns = `user_id, character_id, score, daily_count, last_reset_date, last_message_at`

func scanAffinity(row pgx.Row) (domain.Affinity, error) {
	var (
		a      domain.Affinity
		lastAt *time.Time
	)
	if err := row.Scan(&a.UserID, &a.CharacterID, &a.Score, &a.DailyCount, &a.LastResetDate, &lastAt); err != nil {
		return domain.Affinity{}, err
	}
	a.LastMessageAt = lastAt
	return a, nil
}

// GetAffinity реализует domain.AffinityRepo. Создание записи и сброс дневного счётчика выполняются одним выражением.
func (p *Postgres) GetAffinity(ctx context.Context, userID int64, characterID string, today time.Time) (domain.Affinity, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	a, err := scanAffinity(p.pool.QueryRow(ctx, `
INSERT INTO affinity AS a (user_id, character_id, score, prev_score, daily_count, last_reset_date)
VALUES ($1, $2, 0, 0, 0, $3)
ON CONFLICT (user_id, character_id) DO UPDATE SET
	daily_count = CASE WHEN a.last_reset_date < $3 THEN 0 ELSE a.daily_count END,
	last_reset_date = GREATEST(a.last_reset_date, $3)
RETURNING `+affinityColumns, userID, characterID, today))
	metrics.ObserveNetworkRequest("postgres", "affinity_get", "affinity", start, err)
	if err != nil {
		return domain.Affinity{}, classify("affinity_get", err)
	}
	return a, nil
}

// ApplyAffinity реализует domain.AffinityRepo. Прежний счёт фиксируется в prev_score тем же выражением,
// дневной лимит проверяется в WHERE, поэтому при превышении строка не меняется.
func (p *Postgres) ApplyAffinity(ctx context.Context, upd domain.AffinityUpdate) (domain.AffinityChange, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var floor *int
	if upd.Floor != nil {
		v := *upd.Floor
		floor = &v
	}

	var change domain.AffinityChange
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO affinity AS a (user_id, character_id, score, prev_score, daily_count, last_reset_date, last_message_at, last_message)
VALUES ($1, $2, CASE WHEN $4::int IS NULL THEN $3::int ELSE GREATEST($3::int, $4::int) END, 0, 1, $5, $6, $7)
ON CONFLICT (user_id, character_id) DO UPDATE SET
	prev_score = a.score,
	score = CASE WHEN $4::int IS NULL THEN a.score + $3::int ELSE GREATEST(a.score + $3::int, $4::int) END,
	daily_count = CASE WHEN a.last_reset_date < $5 THEN 1 ELSE a.daily_count + 1 END,
	last_reset_date = GREATEST(a.last_reset_date, $5),
	last_message_at = $6,
	last_message = $7
WHERE $8::int = 0 OR a.last_reset_date < $5 OR a.daily_count < $8::int
RETURNING prev_score, score, daily_count
`, upd.UserID, upd.CharacterID, upd.Delta, floor, upd.Today, upd.At, upd.Message, upd.DailyLimit).
		Scan(&change.OldScore, &change.NewScore, &change.DailyCount)
	metrics.ObserveNetworkRequest("postgres", "affinity_apply", "affinity", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AffinityChange{}, false, nil
	}
	if err != nil {
		return domain.AffinityChange{}, false, classify("affinity_apply", err)
	}
	return change, true, nil
}

// SetAffinity реализует domain.AffinityRepo.
func (p *Postgres) SetAffinity(ctx context.Context, userID int64, characterID string, score int, today time.Time) (domain.Affinity, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	a, err := scanAffinity(p.pool.QueryRow(ctx, `
INSERT INTO affinity AS a (user_id, character_id, score, prev_score, daily_count, last_reset_date)
VALUES ($1, $2, $3, 0, 0, $4)
ON CONFLICT (user_id, character_id) DO UPDATE SET
	prev_score = a.score,
	score = EXCLUDED.score,
	daily_count = CASE WHEN a.last_reset_date < $4 THEN 0 ELSE a.daily_count END,
	last_reset_date = GREATEST(a.last_reset_date, $4)
RETURNING `+affinityColumns, userID, characterID, score, today))
	metrics.ObserveNetworkRequest("postgres", "affinity_set", "affinity", start, err)
	if err != nil {
		return domain.Affinity{}, classify("affinity_set", err)
	}
	return a, nil
}
