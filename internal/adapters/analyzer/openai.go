package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tg-insight-collector/internal/domain"
	openai "tg-insight-collector/internal/infra/openai"
)

const defaultMaxPromptLength = 3800

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI реализует domain.Analyzer через Chat Completions в JSON-режиме.
type OpenAI struct {
	client          chatClient
	model           string
	maxPromptLength int
}

var _ domain.Analyzer = (*OpenAI)(nil)

// NewOpenAI создаёт анализатор.
func NewOpenAI(client chatClient, model string, maxPromptLength int) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if maxPromptLength <= 0 {
		maxPromptLength = defaultMaxPromptLength
	}
	return &OpenAI{client: client, model: model, maxPromptLength: maxPromptLength}
}

const systemPrompt = "Ты аналитик телеграм-каналов. Отвечай только валидным JSON-объектом."

const instructions = `Проанализируй пост и комментарии к нему.
Верни JSON формата {"summary": "...", "sentiment": {"positive": 0.0, "neutral": 0.0, "negative": 0.0}, "key_topics": ["..."]}.
summary — 2-3 предложения на русском, sentiment — доли от 0 до 1, key_topics — до 5 тем.

`

type analysisPayload struct {
	Summary   string             `json:"summary"`
	Sentiment map[string]float64 `json:"sentiment"`
	KeyTopics []string           `json:"key_topics"`
}

// Analyze строит анализ поста по тексту и комментариям.
func (a *OpenAI) Analyze(ctx context.Context, postText string, comments []string) (domain.AnalysisResult, error) {
	req := openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0.2,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: instructions + BuildPrompt(postText, comments, a.maxPromptLength)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.AnalysisResult{}, classifyCompletionError(err)
	}
	if len(resp.Choices) == 0 {
		return domain.AnalysisResult{}, fmt.Errorf("openai completion: пустой ответ: %w", domain.ErrMalformedAnalysis)
	}
	result, err := parseAnalysis(resp.Choices[0].Message.Content)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	result.Model = resp.Model
	if result.Model == "" {
		result.Model = a.model
	}
	return result, nil
}

// classifyCompletionError: 429 с Retry-After становится ожиданием провайдера,
// прочие 429 и 5xx повторяются по backoff, остальные 4xx терминальны.
func classifyCompletionError(err error) error {
	var status *openai.StatusError
	if !errors.As(err, &status) {
		return fmt.Errorf("openai completion: %w", err)
	}
	switch {
	case !status.Temporary():
		return fmt.Errorf("openai completion: %w: %w", domain.ErrAnalysisRejected, err)
	case status.RetryAfter > 0:
		return &domain.FloodWaitError{Delay: status.RetryAfter, Err: fmt.Errorf("openai completion: %w", err)}
	default:
		return fmt.Errorf("openai completion: %w", err)
	}
}

// BuildPrompt собирает текст поста и комментарии и обрезает его до limit символов.
func BuildPrompt(postText string, comments []string, limit int) string {
	var b strings.Builder
	b.WriteString("ПОСТ:\n")
	b.WriteString(postText)
	b.WriteString("\n\nКОММЕНТАРИИ:\n")
	for i, c := range comments {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(c)
	}
	return clipRunes(b.String(), limit)
}

func parseAnalysis(content string) (domain.AnalysisResult, error) {
	var parsed analysisPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("распаковка ответа LLM: %v: %w", err, domain.ErrMalformedAnalysis)
	}
	summary := strings.TrimSpace(parsed.Summary)
	if summary == "" {
		return domain.AnalysisResult{}, fmt.Errorf("в ответе LLM нет summary: %w", domain.ErrMalformedAnalysis)
	}
	return domain.AnalysisResult{
		Summary:   summary,
		Sentiment: parsed.Sentiment,
		KeyTopics: filterValues(parsed.KeyTopics),
	}, nil
}

func filterValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
