// Package sentiment содержит реализации domain.SentimentClassifier.
package sentiment

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"companion-bot/internal/domain"
	openai "companion-bot/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

var scoreRe = regexp.MustCompile(`\[score:([+-]?\d+)\]`)

// OpenAI оценивает сообщение через Chat Completions. Частота запросов ограничена rate.Limiter.
type OpenAI struct {
	client  chatClient
	model   string
	limiter *rate.Limiter
}

var _ domain.SentimentClassifier = (*OpenAI)(nil)

// NewOpenAI создаёт классификатор. rps <= 0 снимает ограничение частоты.
func NewOpenAI(client chatClient, model string, rps float64) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &OpenAI{client: client, model: model, limiter: rate.NewLimiter(limit, burst)}
}

// Classify возвращает -1, 0 или +1. Ответ без метки [score:N] считается нейтральным.
func (o *OpenAI) Classify(ctx context.Context, text string) (int, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("openai limiter: %w", err)
	}
	prompt := fmt.Sprintf("Classify the following user message as Positive (+1), Neutral (0), or Negative (-1):\nUser: %q\nReply ONLY with [score:+1], [score:0], or [score:-1].", clipRunes(strings.TrimSpace(text), 1000))
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		MaxTokens:   10,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: "You are a sentiment classifier for a companion chat."},
			{Role: openai.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("openai completion: %w", err)
	}
	return ParseScore(resp.Text()), nil
}

// ParseScore извлекает оценку из ответа модели.
func ParseScore(reply string) int {
	m := scoreRe.FindStringSubmatch(reply)
	if m == nil {
		return 0
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return v
}

func clipRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
