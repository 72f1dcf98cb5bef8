// Package content загружает конфигурацию персонажей, каталога и историй и проверяет её при старте.
package content

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"companion-bot/internal/domain"
	"companion-bot/internal/usecase/cards"
	"companion-bot/internal/usecase/milestone"
	"companion-bot/internal/usecase/story"
)

//go:embed characters.json
var embedded []byte

// Character — описание персонажа.
type Character struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Languages []string `json:"languages"`
}

type document struct {
	Characters   []Character                                    `json:"characters"`
	Tiers        []cards.TierSpec                               `json:"tiers,omitempty"`
	Overrides    map[domain.DrawContext]map[domain.Tier]float64 `json:"weight_overrides,omitempty"`
	ScoreWeights []cards.ScoreWeights                           `json:"milestone_score_weights,omitempty"`
	Milestones   []int                                          `json:"milestones,omitempty"`
	MilestoneMax int                                            `json:"milestone_max,omitempty"`
	Stories      []*story.Script                                `json:"stories"`
}

// Bundle — проверенная конфигурация, доступная только для чтения.
type Bundle struct {
	Characters []Character
	Catalog    *cards.Catalog
	Schedule   milestone.Schedule
	Stories    []*story.Script
}

// Character возвращает персонажа по идентификатору.
func (b *Bundle) Character(id string) (Character, bool) {
	for _, c := range b.Characters {
		if c.ID == id {
			return c, true
		}
	}
	return Character{}, false
}

// SupportsLanguage сообщает, доступен ли язык для персонажа.
func (b *Bundle) SupportsLanguage(characterID, lang string) bool {
	c, ok := b.Character(characterID)
	if !ok {
		return false
	}
	for _, l := range c.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Load читает конфигурацию из файла или, если путь пуст, из встроенного документа.
// milestoneMax переопределяет верхнюю границу стандартного списка порогов, если больше нуля.
func Load(path string, milestoneMax int) (*Bundle, error) {
	raw := embedded
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
		}
		raw = data
	}
	return Parse(raw, milestoneMax)
}

// Parse проверяет документ и строит Bundle. Любая ошибка конфигурации возвращается как *domain.ConfigError.
func Parse(raw []byte, milestoneMax int) (*Bundle, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &domain.ConfigError{Reason: "разбор JSON: " + err.Error()}
	}

	ids := make([]string, 0, len(doc.Characters))
	for i := range doc.Characters {
		doc.Characters[i].ID = strings.ToLower(strings.TrimSpace(doc.Characters[i].ID))
		ids = append(ids, doc.Characters[i].ID)
	}
	tiers := doc.Tiers
	if len(tiers) == 0 {
		tiers = cards.DefaultTiers()
	}
	catalog, err := cards.NewCatalog(ids, tiers, doc.Overrides)
	if err != nil {
		return nil, err
	}
	if len(doc.ScoreWeights) > 0 {
		if catalog, err = catalog.WithScoreWeights(doc.ScoreWeights); err != nil {
			return nil, err
		}
	}

	points := doc.Milestones
	if len(points) == 0 {
		max := doc.MilestoneMax
		if milestoneMax > 0 {
			max = milestoneMax
		}
		if max <= 0 {
			max = 5000
		}
		points = milestone.DefaultPoints(max)
	}
	schedule, err := milestone.NewSchedule(points)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(doc.Stories))
	for _, s := range doc.Stories {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.ID] {
			return nil, domain.NewConfigError("story."+s.ID, "история описана дважды")
		}
		seen[s.ID] = true
		if err := checkStoryCards(catalog, s); err != nil {
			return nil, err
		}
		if s.RequiredGrade != "" {
			if _, ok := domain.ParseGrade(string(s.RequiredGrade)); !ok {
				return nil, domain.NewConfigError("story."+s.ID, "неизвестный уровень %s", s.RequiredGrade)
			}
		}
	}

	return &Bundle{Characters: doc.Characters, Catalog: catalog, Schedule: schedule, Stories: doc.Stories}, nil
}

func checkStoryCards(catalog *cards.Catalog, s *story.Script) error {
	field := "story." + s.ID
	if !catalog.HasCharacter(s.CharacterID) {
		return domain.NewConfigError(field, "неизвестный персонаж %s", s.CharacterID)
	}
	known := make(map[domain.Tier]bool)
	for _, t := range catalog.Tiers() {
		known[t] = true
	}
	for _, b := range s.Bands {
		if b.CardID != "" {
			if _, ok := catalog.TierOf(s.CharacterID, b.CardID); !ok {
				return domain.NewConfigError(field, "полоса ссылается на неизвестную карточку %s", b.CardID)
			}
		}
		if b.DrawTier != "" && !known[b.DrawTier] {
			return domain.NewConfigError(field, "полоса ссылается на неизвестную редкость %s", b.DrawTier)
		}
	}
	for _, c := range s.Choices {
		if c.FixedCardID == "" {
			continue
		}
		if _, ok := catalog.TierOf(s.CharacterID, c.FixedCardID); !ok {
			return domain.NewConfigError(field, "выбор %s ссылается на неизвестную карточку %s", c.Key, c.FixedCardID)
		}
	}
	return nil
}
