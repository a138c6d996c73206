package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-insight-collector/internal/domain"
	"tg-insight-collector/internal/infra/metrics"
)

// Dispatch выгружает посты канала и ставит по задаче сохранения на каждый пост.
func (u *Units) Dispatch(ctx context.Context, args domain.CollectPostsArgs) error {
	log := u.log.With().Int64("channel_id", args.ChannelID).Logger()
	channel, err := u.store.GetChannel(ctx, args.ChannelID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("collection: канал не найден, сбор пропущен")
		return nil
	}
	if err != nil {
		return fmt.Errorf("получение канала: %w", err)
	}
	if !channel.IsActive {
		log.Warn().Str("channel", channel.Name).Msg("collection: канал неактивен, сбор пропущен")
		return nil
	}
	if err := u.store.SetCollectionStatus(ctx, channel.ID, domain.CollectionStatusRunning, "", u.now()); err != nil {
		return fmt.Errorf("статус сбора: %w", err)
	}

	scope := u.newScope(log)
	defer u.closeScope(ctx, scope, log)

	count, err := u.dispatchPosts(ctx, scope, channel, args, log)
	statusCtx := context.WithoutCancel(ctx)
	if err != nil {
		if statusErr := u.store.SetCollectionStatus(statusCtx, channel.ID, domain.CollectionStatusError, err.Error(), u.now()); statusErr != nil {
			log.Error().Err(statusErr).Msg("collection: не удалось сохранить статус ошибки")
		}
		return err
	}
	if err := u.store.SetCollectionStatus(statusCtx, channel.ID, domain.CollectionStatusOK, "", u.now()); err != nil {
		return fmt.Errorf("статус сбора: %w", err)
	}
	log.Info().Str("channel", channel.Name).Int("posts", count).Msg("collection: посты канала отправлены на обработку")
	return nil
}

func (u *Units) dispatchPosts(ctx context.Context, scope *Scope, channel domain.Channel, args domain.CollectPostsArgs, log zerolog.Logger) (int, error) {
	collector, err := scope.Collector(ctx)
	if err != nil {
		return 0, err
	}
	query := domain.PostQuery{Limit: args.Limit, OffsetDate: args.OffsetDate, MinID: args.MinID}
	var boundary time.Time
	if args.HistoricalStartDate != nil {
		boundary = startOfDay(*args.HistoricalStartDate)
	}

	count := 0
	for raw, err := range collector.IterPosts(ctx, channel.Ref(), query) {
		if err != nil {
			return count, scope.Observe(ctx, fmt.Errorf("выгрузка постов: %w", err))
		}
		if !boundary.IsZero() && raw.CreatedAt.UTC().Before(boundary) {
			log.Debug().Int64("post_external_id", raw.ExternalID).Msg("collection: достигнута начальная дата исторического сбора")
			break
		}
		payload, err := json.Marshal(raw)
		if err != nil {
			return count, fmt.Errorf("сериализация поста %d: %w", raw.ExternalID, err)
		}
		task, err := domain.NewTask(domain.TaskProcessPost, domain.ProcessPostArgs{ChannelID: channel.ID, RawPost: payload})
		if err != nil {
			return count, err
		}
		if err := u.publisher.Publish(ctx, task); err != nil {
			return count, fmt.Errorf("публикация поста %d: %w", raw.ExternalID, err)
		}
		metrics.PostsDispatched.Inc()
		count++
	}
	return count, nil
}

func startOfDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
