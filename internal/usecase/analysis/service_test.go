package analysis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-insight-collector/internal/adapters/memstore"
	"tg-insight-collector/internal/domain"
)

type stubAnalyzer struct {
	calls    int
	comments []string
	err      error
}

func (a *stubAnalyzer) Analyze(_ context.Context, _ string, comments []string) (domain.AnalysisResult, error) {
	a.calls++
	a.comments = comments
	if a.err != nil {
		return domain.AnalysisResult{}, a.err
	}
	return domain.AnalysisResult{
		Summary:   "кратко",
		Sentiment: map[string]float64{"positive": 0.7},
		KeyTopics: []string{"go"},
		Model:     "gpt-test",
	}, nil
}

func seedPost(store *memstore.Store) domain.Post {
	ch := store.AddChannel(domain.Channel{ExternalID: 1, Name: "demo", IsActive: true})
	return store.AddPost(domain.Post{ChannelID: ch.ID, ExternalID: 10, Text: "новость", CreatedAt: time.Now().UTC()})
}

func TestRequestAnalysis(t *testing.T) {
	store := memstore.New()
	post := seedPost(store)
	svc := NewService(store, nil, zerolog.Nop(), 10)

	require.NoError(t, svc.RequestAnalysis(context.Background(), post.ID))
	require.NoError(t, svc.RequestAnalysis(context.Background(), post.ID))
	outbox := store.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, domain.TaskAnalyzePost, outbox[0].TaskName)
	assert.JSONEq(t, fmt.Sprintf(`{"post_id":%d}`, post.ID), string(outbox[0].Args))

	err := svc.RequestAnalysis(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequestAnalysisForAnalysedPost(t *testing.T) {
	store := memstore.New()
	post := seedPost(store)
	store.AddAnalysis(domain.Analysis{PostID: post.ID, Summary: "готово"})
	svc := NewService(store, nil, zerolog.Nop(), 10)

	err := svc.RequestAnalysis(context.Background(), post.ID)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, store.Outbox())
}

func TestAnalyzeStoresArtifactOnce(t *testing.T) {
	store := memstore.New()
	post := seedPost(store)
	_, err := store.InsertComments(context.Background(), []domain.Comment{
		{PostID: post.ID, ExternalID: 1, Text: "первый", CreatedAt: time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)},
		{PostID: post.ID, ExternalID: 2, Text: "", CreatedAt: time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC)},
		{PostID: post.ID, ExternalID: 3, Text: "второй", CreatedAt: time.Date(2024, 1, 1, 0, 0, 3, 0, time.UTC)},
	})
	require.NoError(t, err)
	analyzer := &stubAnalyzer{}
	svc := NewService(store, analyzer, zerolog.Nop(), 10)

	require.NoError(t, svc.Analyze(context.Background(), domain.AnalyzePostArgs{PostID: post.ID}))
	require.NoError(t, svc.Analyze(context.Background(), domain.AnalyzePostArgs{PostID: post.ID}))

	analyses := store.Analyses()
	require.Len(t, analyses, 1)
	assert.Equal(t, "кратко", analyses[0].Summary)
	assert.Equal(t, "gpt-test", analyses[0].ModelUsed)
	assert.Equal(t, 1, analyzer.calls)
	assert.Equal(t, []string{"первый", "второй"}, analyzer.comments)
}

func TestAnalyzeMalformedResult(t *testing.T) {
	store := memstore.New()
	post := seedPost(store)
	svc := NewService(store, &stubAnalyzer{err: domain.ErrMalformedAnalysis}, zerolog.Nop(), 10)

	err := svc.Analyze(context.Background(), domain.AnalyzePostArgs{PostID: post.ID})
	require.ErrorIs(t, err, domain.ErrMalformedAnalysis)
	assert.Empty(t, store.Analyses())
}

func TestAnalyzeMissingPost(t *testing.T) {
	store := memstore.New()
	analyzer := &stubAnalyzer{}
	svc := NewService(store, analyzer, zerolog.Nop(), 10)

	require.NoError(t, svc.Analyze(context.Background(), domain.AnalyzePostArgs{PostID: 404}))
	assert.Zero(t, analyzer.calls)
}

func TestAnalyzeDuplicateInsertIsBenign(t *testing.T) {
	store := memstore.New()
	post := seedPost(store)
	svc := NewService(store, &stubAnalyzer{}, zerolog.Nop(), 10)
	store.Fail["InsertAnalysis"] = fmt.Errorf("post_analyses: %w", domain.ErrDuplicate)

	require.NoError(t, svc.Analyze(context.Background(), domain.AnalyzePostArgs{PostID: post.ID}))
}
