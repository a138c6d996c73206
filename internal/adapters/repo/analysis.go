package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tg-insight-collector/internal/domain"
)

// AnalysisExists проверяет наличие анализа поста.
func (p *Postgres) AnalysisExists(ctx context.Context, postID int64) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM post_analyses WHERE post_id = $1)`, postID).Scan(&exists)
	observe("post_analyses_exists", "post_analyses", start, err)
	return exists, err
}

// InsertAnalysis сохраняет анализ поста.
func (p *Postgres) InsertAnalysis(ctx context.Context, a domain.Analysis) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	sentiment := a.Sentiment
	if sentiment == nil {
		sentiment = map[string]float64{}
	}
	sentimentJSON, err := json.Marshal(sentiment)
	if err != nil {
		return fmt.Errorf("encode sentiment: %w", err)
	}
	topics := a.KeyTopics
	if topics == nil {
		topics = []string{}
	}
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("encode key_topics: %w", err)
	}
	generatedAt := a.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}

	start := time.Now()
	_, err = p.q.Exec(ctx, `
INSERT INTO post_analyses (post_id, summary, sentiment, key_topics, model_used, generated_at)
VALUES ($1, $2, $3, $4, $5, $6)`, a.PostID, a.Summary, sentimentJSON, topicsJSON, a.ModelUsed, generatedAt)
	observe("post_analyses_insert", "post_analyses", start, err)
	return mapError(err)
}
