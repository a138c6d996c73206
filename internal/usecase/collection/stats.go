package collection

import (
	"context"
	"errors"
	"fmt"

	"tg-insight-collector/internal/domain"
)

// UpdateStats перечитывает пост у провайдера и обновляет просмотры, пересылки и реакции.
func (u *Units) UpdateStats(ctx context.Context, args domain.UpdateStatsArgs) error {
	log := u.log.With().Int64("post_id", args.PostID).Logger()
	ref, err := u.store.GetPostRef(ctx, args.PostID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("collection: пост не найден, обновление статистики пропущено")
		return nil
	}
	if err != nil {
		return fmt.Errorf("получение поста: %w", err)
	}

	scope := u.newScope(log)
	defer u.closeScope(ctx, scope, log)
	collector, err := scope.Collector(ctx)
	if err != nil {
		return err
	}
	raw, err := collector.GetSinglePost(ctx, ref.Channel, ref.PostExternalID)
	if err != nil {
		return scope.Observe(ctx, fmt.Errorf("получение поста у провайдера: %w", err))
	}
	if raw == nil {
		log.Warn().Int64("post_external_id", ref.PostExternalID).Msg("collection: пост удалён у провайдера")
		return nil
	}
	stats := domain.PostStats{
		ViewsCount:    derefInt(raw.ViewsCount),
		ForwardsCount: derefInt(raw.ForwardsCount),
		Reactions:     raw.Reactions,
		UpdatedAt:     u.now(),
	}
	if err := u.store.UpdatePostStats(ctx, ref.PostID, stats); err != nil {
		return fmt.Errorf("обновление статистики: %w", err)
	}
	log.Debug().Int("views", stats.ViewsCount).Msg("collection: статистика обновлена")
	return nil
}
