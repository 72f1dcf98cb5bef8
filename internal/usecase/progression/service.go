package progression

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"companion-bot/internal/content"
	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
	"companion-bot/internal/usecase/affinity"
	"companion-bot/internal/usecase/milestone"
	"companion-bot/internal/usecase/notify"
	"companion-bot/internal/usecase/sentiment"
	"companion-bot/internal/usecase/story"
)

var (
	// ErrUnknownCharacter возвращается для персонажа, которого нет в конфигурации.
	ErrUnknownCharacter = errors.New("неизвестный персонаж")
	// ErrUnsupportedLanguage возвращается, если язык недоступен для персонажа.
	ErrUnsupportedLanguage = errors.New("язык не поддерживается")
	// ErrStoryLocked возвращается, если уровень привязанности ниже требуемого для истории.
	ErrStoryLocked = errors.New("история пока недоступна")
	// ErrChapterLocked возвращается, если предыдущая глава персонажа ещё не пройдена.
	ErrChapterLocked = errors.New("предыдущая глава не пройдена")
	// ErrStoryCompleted возвращается при попытке пройти главу повторно.
	ErrStoryCompleted = errors.New("глава уже пройдена")
	// ErrUnknownInput возвращается для неизвестного типа входящего события.
	ErrUnknownInput = errors.New("неизвестный тип события")
)

// Ignore-причины.
const (
	IgnoredDuplicate = "duplicate"
	IgnoredSpam      = "spam"
	IgnoredEmpty     = "empty"
	// IgnoredAwaitingChoice — сообщение пришло, когда история ждёт финального выбора.
	IgnoredAwaitingChoice = "awaiting_choice"
)

// Scorer оценивает сообщение с повторами и нейтральной оценкой по умолчанию.
type Scorer interface {
	Classify(ctx context.Context, text string) sentiment.Result
}

// Deps — зависимости сервиса.
type Deps struct {
	Content     *content.Bundle
	Ledger      *affinity.Ledger
	Tracker     *milestone.Tracker
	Stories     *story.Manager
	Scorer      Scorer
	Emotions    domain.EmotionLogRepo
	Preferences domain.PreferenceRepo
	// Audit, если задан, ограничивает истории: главы проходятся по порядку и один раз.
	Audit domain.StoryAuditRepo
	Guard       domain.Cache
	Events      *notify.Emitter
	Logger      zerolog.Logger
	// SpamWindow — окно, в котором одинаковое сообщение считается повтором. 0 отключает проверку.
	SpamWindow time.Duration
	// DedupeTTL — сколько помнить идентификаторы обработанных событий.
	DedupeTTL time.Duration
}

// Result описывает, что произошло при обработке события.
type Result struct {
	Kind       domain.InputKind
	Ignored    string
	Limited    bool
	Sentiment  *sentiment.Result
	Change     *domain.AffinityChange
	Affinity   *domain.Affinity
	Milestones []domain.MilestoneResult
	// PendingMilestones=true означает, что часть порогов не обработана и будет сверена позже.
	PendingMilestones bool
	Beat              *story.Beat
	Outcome           *story.Outcome
	Language          string
}

// Service связывает счёт, пороги, награды и истории в единый поток обработки событий.
type Service struct {
	deps Deps
	log  zerolog.Logger
}

// NewService создаёт сервис.
func NewService(deps Deps) *Service {
	if deps.DedupeTTL <= 0 {
		deps.DedupeTTL = 24 * time.Hour
	}
	return &Service{deps: deps, log: deps.Logger.With().Str("component", "progression").Logger()}
}

// Dispatch обрабатывает входящее событие. Событие с уже обработанным идентификатором пропускается.
// Ошибка возвращается только если событие можно безопасно обработать повторно.
func (s *Service) Dispatch(ctx context.Context, in domain.Input) (Result, error) {
	if !s.deps.Content.Catalog.HasCharacter(in.CharacterID) {
		metrics.IncInput(string(in.Kind), "rejected")
		err := fmt.Errorf("%w: %s", ErrUnknownCharacter, in.CharacterID)
		s.reportRejection(ctx, in, Result{}, err)
		return Result{Kind: in.Kind}, err
	}
	if in.ID == "" || s.deps.Guard == nil {
		return s.dispatch(ctx, in)
	}

	var res Result
	ran, err := s.deps.Guard.Once(ctx, "input:"+in.ID, s.deps.DedupeTTL, func() error {
		var err error
		res, err = s.dispatch(ctx, in)
		return err
	})
	if err != nil {
		return res, err
	}
	if !ran {
		metrics.IncInput(string(in.Kind), IgnoredDuplicate)
		return Result{Kind: in.Kind, Ignored: IgnoredDuplicate}, nil
	}
	return res, nil
}

func (s *Service) dispatch(ctx context.Context, in domain.Input) (Result, error) {
	var (
		res Result
		err error
	)
	switch in.Kind {
	case domain.InputMessage:
		res, err = s.HandleMessage(ctx, in)
	case domain.InputLanguageSelected:
		res, err = s.selectLanguage(ctx, in)
	case domain.InputCharacterChosen:
		res, err = s.chooseCharacter(ctx, in)
	case domain.InputCardClaimClicked:
		res, err = s.ClaimMissing(ctx, in.Key())
	case domain.InputStoryStart:
		res, err = s.StartStory(ctx, in.Key(), in.StoryID)
	case domain.InputStoryChoiceMade:
		res, err = s.resolveStory(ctx, in)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownInput, in.Kind)
	}
	res.Kind = in.Kind
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case res.Ignored != "":
		status = res.Ignored
	}
	metrics.IncInput(string(in.Kind), status)
	s.reportRejection(ctx, in, res, err)
	return res, err
}

// reportRejection сообщает пользователю, что событие не изменило прогресс. Временные ошибки не
// сообщаются: событие будет доставлено повторно.
func (s *Service) reportRejection(ctx context.Context, in domain.Input, res Result, err error) {
	reason, ok := rejectionOf(res, err)
	if !ok {
		return
	}
	s.deps.Events.Emit(ctx, notify.InputRejected(in.Key(), reason, in.Kind, in.StoryID))
}

func rejectionOf(res Result, err error) (domain.RejectReason, bool) {
	if err == nil {
		switch {
		case res.Limited:
			return domain.RejectDailyLimit, true
		case res.Ignored == IgnoredAwaitingChoice:
			return domain.RejectAwaitingChoice, true
		case res.Outcome != nil && res.Outcome.AlreadyCompleted:
			return domain.RejectAlreadyCompleted, true
		case res.PendingMilestones:
			return domain.RejectMilestonesPending, true
		}
		return "", false
	}
	switch {
	case domain.IsTransient(err):
		return "", false
	case errors.Is(err, ErrStoryLocked):
		return domain.RejectStoryLocked, true
	case errors.Is(err, ErrChapterLocked):
		return domain.RejectChapterLocked, true
	case errors.Is(err, ErrStoryCompleted):
		return domain.RejectStoryCompleted, true
	case errors.Is(err, story.ErrSessionActive):
		return domain.RejectSessionActive, true
	case errors.Is(err, story.ErrUnknownStory):
		return domain.RejectUnknownStory, true
	case errors.Is(err, story.ErrUnknownChoice), errors.Is(err, story.ErrInvalidPhase):
		return domain.RejectUnknownChoice, true
	case errors.Is(err, ErrUnknownCharacter):
		return domain.RejectUnknownCharacter, true
	case errors.Is(err, ErrUnsupportedLanguage):
		return domain.RejectUnsupportedLanguage, true
	}
	return "", false
}

// HandleMessage обрабатывает сообщение: во время истории оно продвигает сессию, иначе меняет счёт
// и обрабатывает пересечённые пороги.
func (s *Service) HandleMessage(ctx context.Context, in domain.Input) (Result, error) {
	key := in.Key()
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Result{Ignored: IgnoredEmpty}, nil
	}

	if s.deps.Stories != nil && s.deps.Stories.Active(key) {
		beat, err := s.deps.Stories.Advance(ctx, key, text)
		if err == nil {
			return Result{Beat: &beat}, nil
		}
		if errors.Is(err, story.ErrInvalidPhase) {
			return Result{Ignored: IgnoredAwaitingChoice}, nil
		}
		if !errors.Is(err, story.ErrNoSession) {
			return Result{}, fmt.Errorf("ход истории: %w", err)
		}
		// Сессия закончилась между проверкой и ходом, сообщение идёт в обычный поток.
	}

	if spam, err := s.isSpam(ctx, key, text); err != nil {
		s.log.Warn().Err(err).Msg("проверка повторов недоступна")
	} else if spam {
		metrics.IncAffinityRejected(key.CharacterID, "spam")
		return Result{Ignored: IgnoredSpam}, nil
	}

	score := s.deps.Scorer.Classify(ctx, text)
	s.logEmotion(ctx, key, text, score)

	change, err := s.deps.Ledger.Apply(ctx, key.UserID, key.CharacterID, score.Score, text)
	if errors.Is(err, affinity.ErrDailyLimit) {
		return Result{Sentiment: &score, Limited: true}, nil
	}
	if err != nil {
		return Result{Sentiment: &score}, err
	}
	res := Result{Sentiment: &score, Change: &change}

	if change.LevelChanged() {
		s.deps.Events.Emit(ctx, notify.LevelChanged(key, change))
	}

	// Catchup повторяет пороги, захват которых снят после прошлого сбоя выдачи.
	results, err := s.deps.Tracker.Catchup(ctx, key.UserID, key.CharacterID, change.OldScore, change.NewScore)
	s.emitMilestones(ctx, key, change.NewScore, results)
	res.Milestones = results
	if err != nil {
		// Счёт уже изменён, повтор события исказил бы его. Захват снят, порог будет сверен позже.
		s.log.Error().Err(err).Int64("user_id", key.UserID).Str("character", key.CharacterID).Msg("пороги не обработаны")
		res.PendingMilestones = true
	}
	return res, nil
}

// ClaimMissing выдаёт награды за все достигнутые, но не обработанные пороги.
func (s *Service) ClaimMissing(ctx context.Context, key domain.Key) (Result, error) {
	current, err := s.deps.Ledger.Get(ctx, key.UserID, key.CharacterID)
	if err != nil {
		return Result{}, err
	}
	results, err := s.deps.Tracker.Reconcile(ctx, key.UserID, key.CharacterID, current.Score)
	s.emitMilestones(ctx, key, current.Score, results)
	if err != nil {
		return Result{Affinity: &current, Milestones: results}, fmt.Errorf("сверка порогов: %w", err)
	}
	return Result{Affinity: &current, Milestones: results}, nil
}

// StartStory открывает историю, если уровень привязанности достаточен. Главы персонажа идут в порядке
// конфигурации: следующая открывается после прохождения предыдущей, пройденная не повторяется.
// Пустой storyID выбирает первую непройденную главу.
func (s *Service) StartStory(ctx context.Context, key domain.Key, storyID string) (Result, error) {
	var chapters []*story.Script
	for _, st := range s.deps.Content.Stories {
		if st.CharacterID == key.CharacterID {
			chapters = append(chapters, st)
		}
	}
	idx := -1
	for i, st := range chapters {
		if storyID == "" || st.ID == storyID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Result{}, fmt.Errorf("%w: %s", story.ErrUnknownStory, storyID)
	}
	current, err := s.deps.Ledger.Get(ctx, key.UserID, key.CharacterID)
	if err != nil {
		return Result{}, err
	}
	if !domain.GradeFor(current.Score).AtLeast(chapters[idx].RequiredGrade) {
		return Result{Affinity: &current}, ErrStoryLocked
	}
	if s.deps.Audit != nil {
		if idx, err = s.chapter(ctx, key, chapters, idx, storyID == ""); err != nil {
			return Result{Affinity: &current}, err
		}
	}
	script := chapters[idx]
	beat, err := s.deps.Stories.Start(ctx, key, script.ID)
	if err != nil {
		return Result{Affinity: &current}, err
	}
	return Result{Affinity: &current, Beat: &beat}, nil
}

// chapter проверяет порядок глав. next=true ищет первую непройденную главу начиная с idx.
func (s *Service) chapter(ctx context.Context, key domain.Key, chapters []*story.Script, idx int, next bool) (int, error) {
	completed := func(st *story.Script) (bool, error) {
		done, err := s.deps.Audit.StoryCompleted(ctx, key.UserID, key.CharacterID, st.ID)
		if err != nil {
			return false, fmt.Errorf("прогресс глав: %w", err)
		}
		return done, nil
	}
	for ; idx < len(chapters); idx++ {
		done, err := completed(chapters[idx])
		if err != nil {
			return 0, err
		}
		if !done {
			break
		}
		if !next {
			return 0, fmt.Errorf("%w: %s", ErrStoryCompleted, chapters[idx].ID)
		}
	}
	if idx == len(chapters) {
		return 0, fmt.Errorf("%w: все главы %s пройдены", ErrStoryCompleted, key.CharacterID)
	}
	if idx > 0 {
		done, err := completed(chapters[idx-1])
		if err != nil {
			return 0, err
		}
		if !done {
			return 0, fmt.Errorf("%w: %s", ErrChapterLocked, chapters[idx-1].ID)
		}
	}
	return idx, nil
}

func (s *Service) resolveStory(ctx context.Context, in domain.Input) (Result, error) {
	out, err := s.deps.Stories.Resolve(ctx, in.Key(), in.ChoiceKey)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: &out}, nil
}

func (s *Service) selectLanguage(ctx context.Context, in domain.Input) (Result, error) {
	lang := strings.ToLower(strings.TrimSpace(in.Language))
	if !s.deps.Content.SupportsLanguage(in.CharacterID, lang) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, in.Language)
	}
	if err := s.deps.Preferences.SetLanguage(ctx, in.UserID, in.CharacterID, lang); err != nil {
		return Result{}, fmt.Errorf("сохранение языка: %w", err)
	}
	return Result{Language: lang}, nil
}

// chooseCharacter возвращает состояние пары и сохранённый язык. Сбой чтения языка не мешает выбору.
func (s *Service) chooseCharacter(ctx context.Context, in domain.Input) (Result, error) {
	current, err := s.deps.Ledger.Get(ctx, in.UserID, in.CharacterID)
	if err != nil {
		return Result{}, err
	}
	res := Result{Affinity: &current}
	if s.deps.Preferences != nil {
		lang, err := s.deps.Preferences.GetLanguage(ctx, in.UserID, in.CharacterID)
		switch {
		case err == nil:
			res.Language = lang
		case !errors.Is(err, domain.ErrNotFound):
			s.log.Warn().Err(err).Int64("user_id", in.UserID).Msg("язык недоступен")
		}
	}
	profile := domain.ProfilePayload{Score: current.Score, Grade: domain.GradeFor(current.Score), Language: res.Language}
	if next, ok := s.deps.Tracker.Schedule().Next(current.Score); ok {
		profile.NextMilestone = next
	}
	s.deps.Events.Emit(ctx, notify.CharacterChosen(in.Key(), profile))
	return res, nil
}

func (s *Service) isSpam(ctx context.Context, key domain.Key, text string) (bool, error) {
	if s.deps.SpamWindow <= 0 || s.deps.Guard == nil {
		return false, nil
	}
	sum := sha256.Sum256([]byte(text))
	k := "spam:" + strconv.FormatInt(key.UserID, 10) + ":" + key.CharacterID + ":" + hex.EncodeToString(sum[:8])
	fresh, err := s.deps.Guard.Mark(ctx, k, s.deps.SpamWindow)
	if err != nil {
		return false, err
	}
	return !fresh, nil
}

func (s *Service) logEmotion(ctx context.Context, key domain.Key, text string, score sentiment.Result) {
	if s.deps.Emotions == nil {
		return
	}
	entry := domain.EmotionLogEntry{
		UserID:      key.UserID,
		CharacterID: key.CharacterID,
		Score:       score.Score,
		Attempts:    score.Attempts,
		Fallback:    score.Fallback,
		Message:     text,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.deps.Emotions.SaveEmotionLog(ctx, entry); err != nil {
		s.log.Warn().Err(err).Msg("не удалось сохранить оценку сообщения")
	}
}

func (s *Service) emitMilestones(ctx context.Context, key domain.Key, score int, results []domain.MilestoneResult) {
	for _, r := range results {
		if r.AlreadyClaimed {
			continue
		}
		cardID := ""
		if r.Grant != nil {
			cardID = r.Grant.CardID
		}
		s.deps.Events.Emit(ctx, notify.MilestoneReached(key, r.Milestone, score, cardID))
		if r.Grant != nil && r.Grant.Granted {
			s.deps.Events.Emit(ctx, notify.CardGranted(key, *r.Grant, domain.DrawMilestone))
		}
	}
}
