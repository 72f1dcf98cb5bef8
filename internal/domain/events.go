package domain

import "time"

// EventKind — тип события движка.
type EventKind string

const (
	EventMilestoneReached EventKind = "milestone_reached"
	EventCardGranted      EventKind = "card_granted"
	EventLevelChanged     EventKind = "level_changed"
	EventSessionStarted   EventKind = "session_started"
	EventStoryBeat        EventKind = "story_beat"
	EventSessionEnded     EventKind = "session_ended"
	EventSessionTimedOut  EventKind = "session_timed_out"
	EventInputRejected    EventKind = "input_rejected"
	EventCharacterChosen  EventKind = "character_chosen"
)

// RejectReason — почему входящее событие не изменило прогресс.
type RejectReason string

const (
	RejectDailyLimit          RejectReason = "daily_limit"
	RejectStoryLocked         RejectReason = "story_locked"
	RejectChapterLocked       RejectReason = "chapter_locked"
	RejectStoryCompleted      RejectReason = "story_completed"
	RejectSessionActive       RejectReason = "session_active"
	RejectAlreadyCompleted    RejectReason = "already_completed"
	RejectAwaitingChoice      RejectReason = "awaiting_choice"
	RejectUnknownChoice       RejectReason = "unknown_choice"
	RejectUnknownStory        RejectReason = "unknown_story"
	RejectUnknownCharacter    RejectReason = "unknown_character"
	RejectUnsupportedLanguage RejectReason = "unsupported_language"
	RejectMilestonesPending   RejectReason = "milestones_pending"
)

// Event — неизменяемое событие для слоя отображения. Заполнено ровно одно поле полезной нагрузки.
type Event struct {
	ID          string    `json:"id"`
	Kind        EventKind `json:"kind"`
	UserID      int64     `json:"user_id"`
	CharacterID string    `json:"character_id"`
	OccurredAt  time.Time `json:"occurred_at"`

	Milestone *MilestonePayload `json:"milestone,omitempty"`
	Card      *CardPayload      `json:"card,omitempty"`
	Level     *LevelPayload     `json:"level,omitempty"`
	Beat      *BeatPayload      `json:"beat,omitempty"`
	Ending    *EndingPayload    `json:"ending,omitempty"`
	Rejection *RejectionPayload `json:"rejection,omitempty"`
	Profile   *ProfilePayload   `json:"profile,omitempty"`
}

// RejectionPayload — событие пользователя отклонено или отложено. Повтор того же действия безопасен.
type RejectionPayload struct {
	Reason  RejectReason `json:"reason"`
	Input   InputKind    `json:"input"`
	StoryID string       `json:"story_id,omitempty"`
}

// ProfilePayload — состояние пары пользователь/персонаж после выбора персонажа.
// NextMilestone равен 0, если все пороги пройдены. Language пуст, если язык ещё не выбран.
type ProfilePayload struct {
	Score         int    `json:"score"`
	Grade         Grade  `json:"grade"`
	NextMilestone int    `json:"next_milestone,omitempty"`
	Language      string `json:"language,omitempty"`
}

// MilestonePayload — достигнут порог. CardID пуст, если коллекция исчерпана.
type MilestonePayload struct {
	Milestone int    `json:"milestone"`
	Score     int    `json:"score"`
	CardID    string `json:"card_id,omitempty"`
}

// CardPayload — выдана карточка.
type CardPayload struct {
	CardID         string      `json:"card_id"`
	Tier           Tier        `json:"tier"`
	IssuanceNumber int         `json:"issuance_number"`
	Source         DrawContext `json:"source"`
}

// LevelPayload — изменился уровень привязанности.
type LevelPayload struct {
	From  Grade `json:"from"`
	To    Grade `json:"to"`
	Score int   `json:"score"`
}

// BeatPayload — очередной ход истории.
type BeatPayload struct {
	StoryID string   `json:"story_id"`
	Turn    int      `json:"turn"`
	Phase   string   `json:"phase"`
	HintID  string   `json:"hint_id,omitempty"`
	Text    string   `json:"text,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

// EndingPayload — итог сессии истории.
type EndingPayload struct {
	StoryID   string `json:"story_id"`
	ChoiceKey string `json:"choice_key,omitempty"`
	Ending    string `json:"ending,omitempty"`
	Score     int    `json:"score"`
	CardID    string `json:"card_id,omitempty"`
}
