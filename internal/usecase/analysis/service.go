package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-insight-collector/internal/domain"
)

// Service ставит и выполняет AI-анализ постов.
type Service struct {
	store        domain.Store
	analyzer     domain.Analyzer
	log          zerolog.Logger
	commentLimit int
	now          func() time.Time
}

// NewService создаёт сервис анализа. analyzer может быть nil, если сервис только ставит задачи.
func NewService(store domain.Store, analyzer domain.Analyzer, log zerolog.Logger, commentLimit int) *Service {
	return &Service{
		store:        store,
		analyzer:     analyzer,
		log:          log,
		commentLimit: commentLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RequestAnalysis ставит анализ поста в outbox. Для уже проанализированного поста возвращает ErrConflict.
func (s *Service) RequestAnalysis(ctx context.Context, postID int64) error {
	return s.store.InTx(ctx, func(tx domain.Repository) error {
		if _, err := tx.GetPost(ctx, postID); err != nil {
			return fmt.Errorf("получение поста: %w", err)
		}
		exists, err := tx.AnalysisExists(ctx, postID)
		if err != nil {
			return fmt.Errorf("проверка анализа: %w", err)
		}
		if exists {
			return fmt.Errorf("анализ поста %d: %w", postID, domain.ErrConflict)
		}
		entry, err := domain.NewOutboxEntry(domain.TaskAnalyzePost, domain.AnalyzePostArgs{PostID: postID}, domain.DedupeKey(domain.TaskAnalyzePost, postID))
		if err != nil {
			return err
		}
		if _, err := tx.EnqueueOutbox(ctx, entry); err != nil {
			return fmt.Errorf("outbox: %w", err)
		}
		return nil
	})
}

// Analyze строит анализ поста по тексту и комментариям. Повторный запуск ничего не меняет.
func (s *Service) Analyze(ctx context.Context, args domain.AnalyzePostArgs) error {
	log := s.log.With().Int64("post_id", args.PostID).Logger()
	if s.analyzer == nil {
		return errors.New("analysis: анализатор не настроен")
	}
	exists, err := s.store.AnalysisExists(ctx, args.PostID)
	if err != nil {
		return fmt.Errorf("проверка анализа: %w", err)
	}
	if exists {
		log.Debug().Msg("analysis: анализ уже есть, пропускаем")
		return nil
	}
	post, err := s.store.GetPost(ctx, args.PostID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("analysis: пост не найден")
		return nil
	}
	if err != nil {
		return fmt.Errorf("получение поста: %w", err)
	}
	comments, err := s.store.ListCommentTexts(ctx, post.ID, s.commentLimit)
	if err != nil {
		return fmt.Errorf("комментарии поста: %w", err)
	}

	result, err := s.analyzer.Analyze(ctx, post.Text, comments)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMalformedAnalysis):
			log.Error().Err(err).Msg("analysis: анализатор вернул некорректный ответ")
		case errors.Is(err, domain.ErrAnalysisRejected):
			log.Error().Err(err).Msg("analysis: провайдер отклонил запрос анализа")
		}
		return fmt.Errorf("анализ поста: %w", err)
	}

	err = s.store.InsertAnalysis(ctx, domain.Analysis{
		PostID:      post.ID,
		Summary:     result.Summary,
		Sentiment:   result.Sentiment,
		KeyTopics:   result.KeyTopics,
		ModelUsed:   result.Model,
		GeneratedAt: s.now(),
	})
	if errors.Is(err, domain.ErrDuplicate) {
		log.Info().Msg("analysis: анализ уже сохранён параллельной задачей")
		return nil
	}
	if err != nil {
		return fmt.Errorf("сохранение анализа: %w", err)
	}
	log.Info().Int("comments", len(comments)).Str("model", result.Model).Msg("analysis: анализ сохранён")
	return nil
}
