package domain

import (
	"context"
	"time"
)

// AffinityRepo хранит счёт привязанности. Каждая операция атомарна на уровне строки.
type AffinityRepo interface {
	// GetAffinity создаёт запись при первом обращении и сбрасывает дневной счётчик после смены даты.
	GetAffinity(ctx context.Context, userID int64, characterID string, today time.Time) (Affinity, error)
	// ApplyAffinity применяет дельту одним выражением. applied=false означает, что превышен дневной лимит.
	ApplyAffinity(ctx context.Context, upd AffinityUpdate) (change AffinityChange, applied bool, err error)
	// SetAffinity выставляет счёт в обход учёта дельт.
	SetAffinity(ctx context.Context, userID int64, characterID string, score int, today time.Time) (Affinity, error)
}

// MilestoneRepo хранит факты обработки порогов.
type MilestoneRepo interface {
	// ClaimMilestone вставляет запись, если её нет. При конфликте возвращает false без ошибки.
	ClaimMilestone(ctx context.Context, claim MilestoneClaim) (bool, error)
	// ReleaseMilestone удаляет запись, если выдача награды не удалась.
	ReleaseMilestone(ctx context.Context, userID int64, characterID string, milestone int) error
	AttachMilestoneCard(ctx context.Context, userID int64, characterID string, milestone int, cardID string) error
	LastClaimedMilestone(ctx context.Context, userID int64, characterID string) (int, error)
	ListMilestoneClaims(ctx context.Context, userID int64, characterID string) ([]MilestoneClaim, error)
}

// CardRepo хранит владение карточками и счётчики выпуска.
type CardRepo interface {
	HasCard(ctx context.Context, userID int64, characterID, cardID string) (bool, error)
	// GrantCard в одной транзакции вставляет владение, увеличивает счётчик и проставляет номер.
	// Если карточка уже есть, возвращает Granted=false и ничего не меняет.
	GrantCard(ctx context.Context, own CardOwnership) (Grant, error)
	IssuanceNumber(ctx context.Context, characterID, cardID string) (int, error)
	ListOwnedCards(ctx context.Context, userID int64, characterID string) ([]CardOwnership, error)
}

// StoryAuditRepo сохраняет выбор концовки и прогресс истории.
type StoryAuditRepo interface {
	SaveStoryChoice(ctx context.Context, rec StoryChoiceRecord) error
	StoryCompleted(ctx context.Context, userID int64, characterID, storyID string) (bool, error)
}

// EmotionLogRepo сохраняет результаты классификации.
type EmotionLogRepo interface {
	SaveEmotionLog(ctx context.Context, entry EmotionLogEntry) error
}

// PreferenceRepo хранит выбранный язык для пары пользователь/персонаж.
type PreferenceRepo interface {
	SetLanguage(ctx context.Context, userID int64, characterID, language string) error
	GetLanguage(ctx context.Context, userID int64, characterID string) (string, error)
}

// SentimentClassifier оценивает сообщение числом из {-1, 0, +1}.
type SentimentClassifier interface {
	Classify(ctx context.Context, text string) (int, error)
}

// EventSink принимает события движка.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	// Once выполняет fn, только если ключ ещё не задан. При ошибке fn ключ снимается.
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
	// Mark ставит ключ, если его нет, и сообщает, был ли он поставлен.
	Mark(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
