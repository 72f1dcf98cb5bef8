// Package httpapi — административный HTTP API и эндпоинты Mini App поверх движка.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"companion-bot/internal/content"
	"companion-bot/internal/domain"
	httpinfra "companion-bot/internal/infra/http"
)

// AffinityStore читает и выставляет счёт.
type AffinityStore interface {
	Get(ctx context.Context, userID int64, characterID string) (domain.Affinity, error)
	Set(ctx context.Context, userID int64, characterID string, value int) (domain.Affinity, error)
}

// CardLister возвращает коллекцию пользователя.
type CardLister interface {
	Owned(ctx context.Context, userID int64, characterID string) ([]domain.CardOwnership, error)
}

// ClaimLister возвращает обработанные пороги.
type ClaimLister interface {
	ListMilestoneClaims(ctx context.Context, userID int64, characterID string) ([]domain.MilestoneClaim, error)
}

// Deps — зависимости API.
type Deps struct {
	Affinity AffinityStore
	Cards    CardLister
	Claims   ClaimLister
	Inputs   domain.InputQueue
	Content  *content.Bundle
	Logger   zerolog.Logger
}

// API обслуживает HTTP-запросы.
type API struct {
	deps Deps
	log  zerolog.Logger
	now  func() time.Time
}

// New создаёт API.
func New(deps Deps) *API {
	return &API{deps: deps, log: deps.Logger.With().Str("component", "httpapi").Logger(), now: time.Now}
}

// Mount регистрирует маршруты. adminToken защищает /admin, botToken проверяет initData для /api/v1.
func (a *API) Mount(r chi.Router, adminToken, botToken string) {
	r.Route("/admin", func(admin chi.Router) {
		admin.Use(httpinfra.AdminTokenMiddleware(adminToken))
		admin.Get("/affinity/{user}/{char}", a.getAffinity)
		admin.Put("/affinity/{user}/{char}", a.putAffinity)
		admin.Get("/cards/{user}/{char}", a.getCards)
		admin.Get("/milestones/{user}/{char}", a.getMilestones)
		admin.Post("/inputs", a.postInput)
	})
	r.Route("/api/v1", func(app chi.Router) {
		app.Use(httpinfra.WebAppAuthMiddleware(botToken))
		app.Get("/me/{char}", a.getMe)
	})
}

type affinityResponse struct {
	UserID        int64      `json:"user_id"`
	CharacterID   string     `json:"character_id"`
	Score         int        `json:"score"`
	Grade         string     `json:"grade"`
	DailyCount    int        `json:"daily_count"`
	NextMilestone *int       `json:"next_milestone,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

type cardResponse struct {
	CardID         string    `json:"card_id"`
	Tier           string    `json:"tier"`
	IssuanceNumber int       `json:"issuance_number"`
	ObtainedAt     time.Time `json:"obtained_at"`
}

type milestoneResponse struct {
	Milestone int       `json:"milestone"`
	CardID    string    `json:"card_id,omitempty"`
	ClaimedAt time.Time `json:"claimed_at"`
}

func (a *API) key(w http.ResponseWriter, r *http.Request) (domain.Key, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "user"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "некорректный user")
		return domain.Key{}, false
	}
	char := chi.URLParam(r, "char")
	if !a.deps.Content.Catalog.HasCharacter(char) {
		writeError(w, http.StatusNotFound, "неизвестный персонаж")
		return domain.Key{}, false
	}
	return domain.Key{UserID: userID, CharacterID: char}, true
}

func (a *API) view(aff domain.Affinity) affinityResponse {
	resp := affinityResponse{
		UserID:        aff.UserID,
		CharacterID:   aff.CharacterID,
		Score:         aff.Score,
		Grade:         string(domain.GradeFor(aff.Score)),
		DailyCount:    aff.DailyCount,
		LastMessageAt: aff.LastMessageAt,
	}
	if next, ok := a.deps.Content.Schedule.Next(aff.Score); ok {
		resp.NextMilestone = &next
	}
	return resp
}

func (a *API) getAffinity(w http.ResponseWriter, r *http.Request) {
	key, ok := a.key(w, r)
	if !ok {
		return
	}
	aff, err := a.deps.Affinity.Get(r.Context(), key.UserID, key.CharacterID)
	if err != nil {
		a.fail(w, "get affinity", err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(aff))
}

func (a *API) putAffinity(w http.ResponseWriter, r *http.Request) {
	key, ok := a.key(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	var req struct {
		Score *int `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Score == nil {
		writeError(w, http.StatusBadRequest, "ожидается {\"score\": N}")
		return
	}
	aff, err := a.deps.Affinity.Set(r.Context(), key.UserID, key.CharacterID, *req.Score)
	if err != nil {
		a.fail(w, "set affinity", err)
		return
	}
	a.log.Info().Int64("user", key.UserID).Str("character", key.CharacterID).Int("score", aff.Score).Msg("счёт выставлен вручную")
	writeJSON(w, http.StatusOK, a.view(aff))
}

func (a *API) cards(ctx context.Context, key domain.Key) ([]cardResponse, error) {
	owned, err := a.deps.Cards.Owned(ctx, key.UserID, key.CharacterID)
	if err != nil {
		return nil, err
	}
	out := make([]cardResponse, 0, len(owned))
	for _, c := range owned {
		out = append(out, cardResponse{CardID: c.CardID, Tier: string(c.Tier), IssuanceNumber: c.IssuanceNumber, ObtainedAt: c.ObtainedAt})
	}
	return out, nil
}

func (a *API) getCards(w http.ResponseWriter, r *http.Request) {
	key, ok := a.key(w, r)
	if !ok {
		return
	}
	out, err := a.cards(r.Context(), key)
	if err != nil {
		a.fail(w, "list cards", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getMilestones(w http.ResponseWriter, r *http.Request) {
	key, ok := a.key(w, r)
	if !ok {
		return
	}
	claims, err := a.deps.Claims.ListMilestoneClaims(r.Context(), key.UserID, key.CharacterID)
	if err != nil {
		a.fail(w, "list milestones", err)
		return
	}
	out := make([]milestoneResponse, 0, len(claims))
	for _, c := range claims {
		out = append(out, milestoneResponse{Milestone: c.Milestone, CardID: c.CardID, ClaimedAt: c.ClaimedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// postInput ставит событие в очередь движка. Нужен для ручной отладки без Telegram.
func (a *API) postInput(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var in domain.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}
	if in.UserID <= 0 || in.Kind == "" {
		writeError(w, http.StatusBadRequest, "нужны user_id и kind")
		return
	}
	if !a.deps.Content.Catalog.HasCharacter(in.CharacterID) {
		writeError(w, http.StatusNotFound, "неизвестный персонаж")
		return
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = a.now()
	}
	if err := a.deps.Inputs.Enqueue(r.Context(), in); err != nil {
		a.fail(w, "enqueue input", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": in.ID})
}

func (a *API) getMe(w http.ResponseWriter, r *http.Request) {
	user, ok := httpinfra.WebAppUserFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "нет пользователя")
		return
	}
	char := chi.URLParam(r, "char")
	if !a.deps.Content.Catalog.HasCharacter(char) {
		writeError(w, http.StatusNotFound, "неизвестный персонаж")
		return
	}
	key := domain.Key{UserID: user.ID, CharacterID: char}
	aff, err := a.deps.Affinity.Get(r.Context(), key.UserID, key.CharacterID)
	if err != nil {
		a.fail(w, "get affinity", err)
		return
	}
	owned, err := a.cards(r.Context(), key)
	if err != nil {
		a.fail(w, "list cards", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"affinity": a.view(aff), "cards": owned})
}

func (a *API) fail(w http.ResponseWriter, op string, err error) {
	if domain.IsTransient(err) {
		a.log.Warn().Err(err).Str("op", op).Msg("хранилище временно недоступно")
		writeError(w, http.StatusServiceUnavailable, "хранилище временно недоступно")
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "не найдено")
		return
	}
	a.log.Error().Err(err).Str("op", op).Msg("ошибка обработки запроса")
	writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
