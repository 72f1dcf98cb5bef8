package domain

import (
	"context"
	"time"
)

// InputKind — тип входящего события.
type InputKind string

const (
	InputMessage          InputKind = "message"
	InputLanguageSelected InputKind = "language_selected"
	InputCharacterChosen  InputKind = "character_chosen"
	InputCardClaimClicked InputKind = "card_claim_clicked"
	InputStoryChoiceMade  InputKind = "story_choice_made"
	InputStoryStart       InputKind = "story_start"
)

// Input — неизменяемое входящее событие. Поля кроме общих заполняются по типу.
type Input struct {
	ID          string    `json:"id"`
	Kind        InputKind `json:"kind"`
	UserID      int64     `json:"user_id"`
	ChatID      int64     `json:"chat_id,omitempty"`
	CharacterID string    `json:"character_id"`
	ReceivedAt  time.Time `json:"received_at"`

	Text      string `json:"text,omitempty"`
	Language  string `json:"language,omitempty"`
	StoryID   string `json:"story_id,omitempty"`
	ChoiceKey string `json:"choice_key,omitempty"`
}

// Key возвращает пару пользователь/персонаж.
func (in Input) Key() Key {
	return Key{UserID: in.UserID, CharacterID: in.CharacterID}
}

// InputAckFunc подтверждает обработку или просит повторную доставку.
type InputAckFunc func(success bool) error

// InputQueue — очередь входящих событий между шлюзом и движком.
type InputQueue interface {
	Enqueue(ctx context.Context, in Input) error
	Receive(ctx context.Context) (Input, InputAckFunc, error)
}
