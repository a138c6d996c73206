package analyzer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-insight-collector/internal/domain"
	openai "tg-insight-collector/internal/infra/openai"
)

type stubChat struct {
	resp openai.ChatCompletionResponse
	err  error
	req  openai.ChatCompletionRequest
}

func (s *stubChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.req = req
	return s.resp, s.err
}

func reply(model, content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Model:   model,
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Role: "assistant", Content: content}}},
	}
}

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt("текст", []string{"раз", "два"}, 0)
	assert.Equal(t, "ПОСТ:\nтекст\n\nКОММЕНТАРИИ:\n- раз\n- два", got)
}

func TestBuildPromptClipsRunes(t *testing.T) {
	got := BuildPrompt(strings.Repeat("я", 100), nil, 10)
	assert.Equal(t, 10, len([]rune(got)))
	assert.True(t, strings.HasPrefix(got, "ПОСТ:\n"))
}

func TestAnalyzeParsesResult(t *testing.T) {
	chat := &stubChat{resp: reply("gpt-4o-mini-2024", `{"summary":" Итог ","sentiment":{"positive":0.7},"key_topics":["ai"," ",""]}`)}
	a := NewOpenAI(chat, "gpt-4o-mini", 100)

	res, err := a.Analyze(context.Background(), "пост", []string{"коммент"})
	require.NoError(t, err)
	assert.Equal(t, "Итог", res.Summary)
	assert.Equal(t, 0.7, res.Sentiment["positive"])
	assert.Equal(t, []string{"ai"}, res.KeyTopics)
	assert.Equal(t, "gpt-4o-mini-2024", res.Model)
	require.NotNil(t, chat.req.ResponseFormat)
	assert.Equal(t, openai.ResponseFormatTypeJSONObject, chat.req.ResponseFormat.Type)
}

func TestAnalyzeFallsBackToConfiguredModel(t *testing.T) {
	chat := &stubChat{resp: reply("", `{"summary":"ok"}`)}
	res, err := NewOpenAI(chat, "m1", 0).Analyze(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.Equal(t, "m1", res.Model)
}

func TestAnalyzeMalformed(t *testing.T) {
	cases := map[string]openai.ChatCompletionResponse{
		"not json":      reply("m", "просто текст"),
		"no summary":    reply("m", `{"key_topics":["x"]}`),
		"empty choices": {Model: "m"},
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewOpenAI(&stubChat{resp: resp}, "m", 0).Analyze(context.Background(), "p", nil)
			require.ErrorIs(t, err, domain.ErrMalformedAnalysis)
		})
	}
}

func TestAnalyzeTransportErrorIsNotMalformed(t *testing.T) {
	chat := &stubChat{err: errors.New("timeout")}
	_, err := NewOpenAI(chat, "m", 0).Analyze(context.Background(), "p", nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrMalformedAnalysis))
}

func statusServer(t *testing.T, code int, retryAfter string) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"error":{"message":"отказ","type":"invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)
	return openai.NewClient("key", srv.URL, time.Second)
}

func TestAnalyzeClientErrorIsTerminal(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusUnprocessableEntity} {
		_, err := NewOpenAI(statusServer(t, code, ""), "m", 0).Analyze(context.Background(), "p", nil)
		require.ErrorIs(t, err, domain.ErrAnalysisRejected, "code %d", code)
		assert.ErrorContains(t, err, "отказ")
	}
}

func TestAnalyzeRateLimitAndServerErrorsRetry(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		_, err := NewOpenAI(statusServer(t, code, ""), "m", 0).Analyze(context.Background(), "p", nil)
		require.Error(t, err)
		assert.False(t, errors.Is(err, domain.ErrAnalysisRejected), "code %d", code)
		assert.False(t, errors.Is(err, domain.ErrMalformedAnalysis), "code %d", code)
		_, wait := domain.AsFloodWait(err)
		assert.False(t, wait, "code %d", code)
	}
}

func TestAnalyzeRateLimitHonoursRetryAfter(t *testing.T) {
	_, err := NewOpenAI(statusServer(t, http.StatusTooManyRequests, "17"), "m", 0).Analyze(context.Background(), "p", nil)
	delay, ok := domain.AsFloodWait(err)
	require.True(t, ok)
	assert.Equal(t, 17*time.Second, delay)

	var status *openai.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusTooManyRequests, status.Code)
}
