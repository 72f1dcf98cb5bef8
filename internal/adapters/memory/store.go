// Package memory содержит хранилища в памяти процесса. Используется в тестах и локальном режиме.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"companion-bot/internal/domain"
)

// Store реализует все репозитории движка в памяти. Один мьютекс даёт ту же
// построчную атомарность, что и отдельные SQL выражения.
type Store struct {
	mu sync.Mutex

	affinity   map[domain.Key]*affinityRow
	milestones map[milestoneKey]domain.MilestoneClaim
	cards      map[cardKey]domain.CardOwnership
	issued     map[issuedKey]int
	choices    []domain.StoryChoiceRecord
	progress   map[progressKey]time.Time
	emotions   []domain.EmotionLogEntry
	languages  map[domain.Key]string

	// Fail, если задана, возвращается из каждой операции. Позволяет имитировать недоступность хранилища.
	Fail func(op string) error
}

type affinityRow struct {
	domain.Affinity
	lastMessage string
}

type milestoneKey struct {
	key       domain.Key
	milestone int
}

type cardKey struct {
	key    domain.Key
	cardID string
}

type issuedKey struct {
	characterID string
	cardID      string
}

type progressKey struct {
	key     domain.Key
	storyID string
}

var (
	_ domain.AffinityRepo   = (*Store)(nil)
	_ domain.MilestoneRepo  = (*Store)(nil)
	_ domain.CardRepo       = (*Store)(nil)
	_ domain.StoryAuditRepo = (*Store)(nil)
	_ domain.EmotionLogRepo = (*Store)(nil)
	_ domain.PreferenceRepo = (*Store)(nil)
)

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		affinity:   make(map[domain.Key]*affinityRow),
		milestones: make(map[milestoneKey]domain.MilestoneClaim),
		cards:      make(map[cardKey]domain.CardOwnership),
		issued:     make(map[issuedKey]int),
		progress:   make(map[progressKey]time.Time),
		languages:  make(map[domain.Key]string),
	}
}

func (s *Store) fail(op string) error {
	if s.Fail == nil {
		return nil
	}
	if err := s.Fail(op); err != nil {
		return &domain.TransientStoreError{Op: op, Err: err}
	}
	return nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// row возвращает строку, создавая её и сбрасывая дневной счётчик при смене даты. Вызывается под мьютексом.
func (s *Store) row(userID int64, characterID string, today time.Time) *affinityRow {
	key := domain.Key{UserID: userID, CharacterID: characterID}
	day := dateOf(today)
	r, ok := s.affinity[key]
	if !ok {
		r = &affinityRow{Affinity: domain.Affinity{UserID: userID, CharacterID: characterID, LastResetDate: day}}
		s.affinity[key] = r
		return r
	}
	if r.LastResetDate.Before(day) {
		r.DailyCount = 0
		r.LastResetDate = day
	}
	return r
}

func (s *Store) GetAffinity(ctx context.Context, userID int64, characterID string, today time.Time) (domain.Affinity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("affinity_get"); err != nil {
		return domain.Affinity{}, err
	}
	return copyAffinity(s.row(userID, characterID, today).Affinity), nil
}

func (s *Store) ApplyAffinity(ctx context.Context, upd domain.AffinityUpdate) (domain.AffinityChange, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("affinity_apply"); err != nil {
		return domain.AffinityChange{}, false, err
	}
	r := s.row(upd.UserID, upd.CharacterID, upd.Today)
	if upd.DailyLimit > 0 && r.DailyCount >= upd.DailyLimit {
		return domain.AffinityChange{OldScore: r.Score, NewScore: r.Score, DailyCount: r.DailyCount}, false, nil
	}
	old := r.Score
	next := old + upd.Delta
	if upd.Floor != nil && next < *upd.Floor {
		next = *upd.Floor
	}
	r.Score = next
	r.DailyCount++
	at := upd.At
	r.LastMessageAt = &at
	r.lastMessage = upd.Message
	return domain.AffinityChange{OldScore: old, NewScore: next, DailyCount: r.DailyCount}, true, nil
}

func (s *Store) SetAffinity(ctx context.Context, userID int64, characterID string, score int, today time.Time) (domain.Affinity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("affinity_set"); err != nil {
		return domain.Affinity{}, err
	}
	r := s.row(userID, characterID, today)
	r.Score = score
	return copyAffinity(r.Affinity), nil
}

func copyAffinity(a domain.Affinity) domain.Affinity {
	if a.LastMessageAt != nil {
		at := *a.LastMessageAt
		a.LastMessageAt = &at
	}
	return a
}

func (s *Store) ClaimMilestone(ctx context.Context, claim domain.MilestoneClaim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("milestone_claim"); err != nil {
		return false, err
	}
	k := milestoneKey{key: domain.Key{UserID: claim.UserID, CharacterID: claim.CharacterID}, milestone: claim.Milestone}
	if _, ok := s.milestones[k]; ok {
		return false, nil
	}
	s.milestones[k] = claim
	return true, nil
}

func (s *Store) ReleaseMilestone(ctx context.Context, userID int64, characterID string, milestone int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("milestone_release"); err != nil {
		return err
	}
	delete(s.milestones, milestoneKey{key: domain.Key{UserID: userID, CharacterID: characterID}, milestone: milestone})
	return nil
}

func (s *Store) AttachMilestoneCard(ctx context.Context, userID int64, characterID string, milestone int, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("milestone_attach"); err != nil {
		return err
	}
	k := milestoneKey{key: domain.Key{UserID: userID, CharacterID: characterID}, milestone: milestone}
	claim, ok := s.milestones[k]
	if !ok {
		return domain.ErrNotFound
	}
	claim.CardID = cardID
	s.milestones[k] = claim
	return nil
}

func (s *Store) LastClaimedMilestone(ctx context.Context, userID int64, characterID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("milestone_last"); err != nil {
		return 0, err
	}
	key := domain.Key{UserID: userID, CharacterID: characterID}
	last := 0
	for k := range s.milestones {
		if k.key == key && k.milestone > last {
			last = k.milestone
		}
	}
	return last, nil
}

func (s *Store) ListMilestoneClaims(ctx context.Context, userID int64, characterID string) ([]domain.MilestoneClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("milestone_list"); err != nil {
		return nil, err
	}
	key := domain.Key{UserID: userID, CharacterID: characterID}
	var out []domain.MilestoneClaim
	for k, claim := range s.milestones {
		if k.key == key {
			out = append(out, claim)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Milestone < out[j].Milestone })
	return out, nil
}

func (s *Store) HasCard(ctx context.Context, userID int64, characterID, cardID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("cards_has"); err != nil {
		return false, err
	}
	_, ok := s.cards[cardKey{key: domain.Key{UserID: userID, CharacterID: characterID}, cardID: cardID}]
	return ok, nil
}

func (s *Store) GrantCard(ctx context.Context, own domain.CardOwnership) (domain.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("cards_grant"); err != nil {
		return domain.Grant{}, err
	}
	k := cardKey{key: domain.Key{UserID: own.UserID, CharacterID: own.CharacterID}, cardID: own.CardID}
	if existing, ok := s.cards[k]; ok {
		return domain.Grant{CardID: own.CardID, Tier: existing.Tier, IssuanceNumber: existing.IssuanceNumber}, nil
	}
	ik := issuedKey{characterID: own.CharacterID, cardID: own.CardID}
	s.issued[ik]++
	own.IssuanceNumber = s.issued[ik]
	s.cards[k] = own
	return domain.Grant{CardID: own.CardID, Tier: own.Tier, Granted: true, IssuanceNumber: own.IssuanceNumber}, nil
}

func (s *Store) IssuanceNumber(ctx context.Context, characterID, cardID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("cards_issued"); err != nil {
		return 0, err
	}
	return s.issued[issuedKey{characterID: characterID, cardID: cardID}], nil
}

func (s *Store) ListOwnedCards(ctx context.Context, userID int64, characterID string) ([]domain.CardOwnership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("cards_list"); err != nil {
		return nil, err
	}
	key := domain.Key{UserID: userID, CharacterID: characterID}
	var out []domain.CardOwnership
	for k, own := range s.cards {
		if k.key == key {
			out = append(out, own)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CardID < out[j].CardID })
	return out, nil
}

func (s *Store) SaveStoryChoice(ctx context.Context, rec domain.StoryChoiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("story_choice"); err != nil {
		return err
	}
	s.choices = append(s.choices, rec)
	s.progress[progressKey{key: domain.Key{UserID: rec.UserID, CharacterID: rec.CharacterID}, storyID: rec.StoryID}] = rec.CreatedAt
	return nil
}

func (s *Store) StoryCompleted(ctx context.Context, userID int64, characterID, storyID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("story_progress"); err != nil {
		return false, err
	}
	_, ok := s.progress[progressKey{key: domain.Key{UserID: userID, CharacterID: characterID}, storyID: storyID}]
	return ok, nil
}

// StoryChoices возвращает копию сохранённых выборов.
func (s *Store) StoryChoices() []domain.StoryChoiceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StoryChoiceRecord(nil), s.choices...)
}

func (s *Store) SaveEmotionLog(ctx context.Context, entry domain.EmotionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("emotion_log"); err != nil {
		return err
	}
	s.emotions = append(s.emotions, entry)
	return nil
}

// EmotionLog возвращает копию журнала классификаций.
func (s *Store) EmotionLog() []domain.EmotionLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EmotionLogEntry(nil), s.emotions...)
}

func (s *Store) SetLanguage(ctx context.Context, userID int64, characterID, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("language_set"); err != nil {
		return err
	}
	s.languages[domain.Key{UserID: userID, CharacterID: characterID}] = language
	return nil
}

func (s *Store) GetLanguage(ctx context.Context, userID int64, characterID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("language_get"); err != nil {
		return "", err
	}
	lang, ok := s.languages[domain.Key{UserID: userID, CharacterID: characterID}]
	if !ok {
		return "", domain.ErrNotFound
	}
	return lang, nil
}
