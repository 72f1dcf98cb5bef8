package sentiment

import (
	"context"
	"math"
	"strings"

	"companion-bot/internal/domain"
)

var (
	defaultPositive = []string{"спасибо", "люблю", "нравится", "здорово", "thank", "love", "great", "awesome", "ありがとう", "谢谢"}
	defaultNegative = []string{"дурак", "ненавижу", "отстань", "заткнись", "stupid", "hate", "shut up", "idiot", "うるさい", "滚"}
)

// Pattern — эвристический классификатор по ключевым словам. Не обращается к сети.
type Pattern struct {
	positive []string
	negative []string
}

var _ domain.SentimentClassifier = (*Pattern)(nil)

// NewPattern создаёт классификатор. Пустые списки заменяются словарями по умолчанию.
func NewPattern(positive, negative []string) *Pattern {
	if len(positive) == 0 {
		positive = defaultPositive
	}
	if len(negative) == 0 {
		negative = defaultNegative
	}
	return &Pattern{positive: lower(positive), negative: lower(negative)}
}

// Classify возвращает +1 при позитивном слове, -1 при негативном, иначе 0.
func (p *Pattern) Classify(_ context.Context, text string) (int, error) {
	return p.score(text), nil
}

func (p *Pattern) score(text string) int {
	text = strings.ToLower(text)
	for _, w := range p.positive {
		if strings.Contains(text, w) {
			return 1
		}
	}
	for _, w := range p.negative {
		if strings.Contains(text, w) {
			return -1
		}
	}
	return 0
}

func lower(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Blend смешивает оценку модели с эвристикой в пропорции 0.7 / 0.3.
// Ошибка модели возвращается как есть, чтобы политика повторов могла её обработать.
type Blend struct {
	primary domain.SentimentClassifier
	pattern *Pattern
}

var _ domain.SentimentClassifier = (*Blend)(nil)

// NewBlend создаёт смешанный классификатор.
func NewBlend(primary domain.SentimentClassifier, pattern *Pattern) *Blend {
	if pattern == nil {
		pattern = NewPattern(nil, nil)
	}
	return &Blend{primary: primary, pattern: pattern}
}

// Classify реализует domain.SentimentClassifier.
func (b *Blend) Classify(ctx context.Context, text string) (int, error) {
	model, err := b.primary.Classify(ctx, text)
	if err != nil {
		return 0, err
	}
	if model < -1 || model > 1 {
		return model, nil
	}
	return int(math.Round(0.7*float64(model) + 0.3*float64(b.pattern.score(text)))), nil
}
