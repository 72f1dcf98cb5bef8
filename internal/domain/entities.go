package domain

import "time"

// Key идентифицирует пару пользователь/персонаж.
type Key struct {
	UserID      int64  `json:"user_id"`
	CharacterID string `json:"character_id"`
}

// Affinity описывает состояние привязанности пользователя к персонажу.
type Affinity struct {
	UserID        int64
	CharacterID   string
	Score         int
	DailyCount    int
	LastResetDate time.Time
	LastMessageAt *time.Time
}

// AffinityUpdate содержит входные данные атомарного изменения счёта.
type AffinityUpdate struct {
	UserID      int64
	CharacterID string
	Delta       int
	Message     string
	At          time.Time
	// Today — календарная дата в часовом поясе сервиса, по ней сбрасывается дневной счётчик.
	Today time.Time
	// Floor ограничивает счёт снизу, nil означает отсутствие ограничения.
	Floor *int
	// DailyLimit ограничивает число учитываемых сообщений в день, 0 — без лимита.
	DailyLimit int
}

// AffinityChange возвращается после успешного изменения счёта.
type AffinityChange struct {
	OldScore   int
	NewScore   int
	DailyCount int
	OldGrade   Grade
	NewGrade   Grade
}

// LevelChanged сообщает, изменился ли уровень после обновления.
func (c AffinityChange) LevelChanged() bool {
	return c.OldGrade != c.NewGrade
}

// MilestoneClaim фиксирует факт выдачи награды за порог.
type MilestoneClaim struct {
	UserID      int64
	CharacterID string
	Milestone   int
	CardID      string
	ClaimedAt   time.Time
}

// MilestoneResult описывает обработку одного пересечённого порога.
type MilestoneResult struct {
	Milestone      int
	AlreadyClaimed bool
	// Grant пуст, если коллекция исчерпана или порог уже обработан.
	Grant *Grant
}

// Tier обозначает редкость карточки.
type Tier string

const (
	TierC       Tier = "C"
	TierB       Tier = "B"
	TierA       Tier = "A"
	TierS       Tier = "S"
	TierSpecial Tier = "Special"
)

// DrawContext задаёт контекст розыгрыша карточки.
type DrawContext string

const (
	DrawChat      DrawContext = "chat"
	DrawMilestone DrawContext = "milestone"
	DrawStory     DrawContext = "story"
)

// Draw — результат розыгрыша. Found=false соответствует отсутствию доступных карточек.
type Draw struct {
	Found  bool
	Tier   Tier
	CardID string
}

// CardOwnership — запись о владении карточкой.
type CardOwnership struct {
	UserID         int64
	CharacterID    string
	CardID         string
	Tier           Tier
	ObtainedAt     time.Time
	IssuanceNumber int
}

// Grant — итог попытки выдачи карточки.
type Grant struct {
	CardID         string
	Tier           Tier
	Granted        bool
	IssuanceNumber int
}

// StoryChoiceRecord — аудит выбора концовки, переживает сессию.
type StoryChoiceRecord struct {
	UserID      int64
	CharacterID string
	StoryID     string
	ChoiceKey   string
	Ending      string
	Score       int
	CardID      string
	Granted     bool
	CreatedAt   time.Time
}

// EmotionLogEntry хранит результат классификации сообщения.
type EmotionLogEntry struct {
	UserID      int64
	CharacterID string
	Score       int
	Attempts    int
	Fallback    bool
	Message     string
	CreatedAt   time.Time
}
