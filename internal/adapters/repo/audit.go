package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
)

// SaveStoryChoice сохраняет выбор и отметку о прохождении истории в одной транзакции.
func (p *Postgres) SaveStoryChoice(ctx context.Context, rec domain.StoryChoiceRecord) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "story_choices", start, err)
	if err != nil {
		return classify("story_choice", err)
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO story_choices (user_id, character_id, story_id, choice_key, ending, score, card_id, granted, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
`, rec.UserID, rec.CharacterID, rec.StoryID, rec.ChoiceKey, rec.Ending, rec.Score, rec.CardID, rec.Granted, rec.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "story_choices_insert", "story_choices", start, err)
	if err != nil {
		return classify("story_choice", err)
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO story_progress (user_id, character_id, story_id, completed_at, selected_choice)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, character_id, story_id) DO UPDATE SET completed_at = EXCLUDED.completed_at, selected_choice = EXCLUDED.selected_choice
`, rec.UserID, rec.CharacterID, rec.StoryID, rec.CreatedAt, rec.ChoiceKey)
	metrics.ObserveNetworkRequest("postgres", "story_progress_upsert", "story_progress", start, err)
	if err != nil {
		return classify("story_choice", err)
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "story_choices", start, err)
	return classify("story_choice", err)
}

// StoryCompleted сообщает, проходил ли пользователь историю.
func (p *Postgres) StoryCompleted(ctx context.Context, userID int64, characterID, storyID string) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var ok bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM story_progress WHERE user_id = $1 AND character_id = $2 AND story_id = $3)
`, userID, characterID, storyID).Scan(&ok)
	metrics.ObserveNetworkRequest("postgres", "story_progress_get", "story_progress", start, err)
	if err != nil {
		return false, classify("story_progress", err)
	}
	return ok, nil
}

// SaveEmotionLog сохраняет оценку сообщения.
func (p *Postgres) SaveEmotionLog(ctx context.Context, entry domain.EmotionLogEntry) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO emotion_log (user_id, character_id, score, attempts, fallback, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, entry.UserID, entry.CharacterID, entry.Score, entry.Attempts, entry.Fallback, entry.Message, entry.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "emotion_log_insert", "emotion_log", start, err)
	return classify("emotion_log", err)
}

// SetLanguage сохраняет язык общения с персонажем.
func (p *Postgres) SetLanguage(ctx context.Context, userID int64, characterID, language string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO user_language (user_id, character_id, language, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (user_id, character_id) DO UPDATE SET language = EXCLUDED.language, updated_at = now()
`, userID, characterID, language)
	metrics.ObserveNetworkRequest("postgres", "user_language_upsert", "user_language", start, err)
	return classify("language_set", err)
}

// GetLanguage возвращает язык или domain.ErrNotFound.
func (p *Postgres) GetLanguage(ctx context.Context, userID int64, characterID string) (string, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var lang string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT language FROM user_language WHERE user_id = $1 AND character_id = $2
`, userID, characterID).Scan(&lang)
	metrics.ObserveNetworkRequest("postgres", "user_language_get", "user_language", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", classify("language_get", err)
	}
	return lang, nil
}
