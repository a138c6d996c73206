package collection

import (
	"context"
	"errors"
	"fmt"

	"tg-insight-collector/internal/domain"
	"tg-insight-collector/internal/infra/metrics"
)

// CollectComments догружает комментарии поста новее сохранённой отметки.
// При ForceFullRescan комментарии поста сначала удаляются отдельной транзакцией.
func (u *Units) CollectComments(ctx context.Context, args domain.CollectCommentsArgs) error {
	log := u.log.With().Int64("post_id", args.PostID).Logger()
	if args.ForceFullRescan {
		err := u.store.InTx(ctx, func(tx domain.Repository) error {
			return tx.ResetComments(ctx, args.PostID)
		})
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("collection: пост для пересбора комментариев не найден")
			return nil
		}
		if err != nil {
			return fmt.Errorf("сброс комментариев: %w", err)
		}
		log.Info().Msg("collection: комментарии поста сброшены для полного пересбора")
	}

	ref, err := u.store.GetPostRef(ctx, args.PostID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("collection: пост не найден, сбор комментариев пропущен")
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

	var after int64
	if ref.LastCommentExternalID != nil {
		after = *ref.LastCommentExternalID
	}
	var (
		batch    = make([]domain.RawComment, 0, u.batchSize)
		maxSeen  *int64
		inserted int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := u.saveComments(ctx, ref.PostID, batch)
		if err != nil {
			return err
		}
		inserted += n
		batch = batch[:0]
		return nil
	}

	for raw, err := range collector.GetCommentsForPost(ctx, ref.Channel, ref.PostExternalID, after) {
		if err != nil {
			return scope.Observe(ctx, fmt.Errorf("выгрузка комментариев: %w", err))
		}
		if raw.ExternalID > 0 && (maxSeen == nil || raw.ExternalID > *maxSeen) {
			id := raw.ExternalID
			maxSeen = &id
		}
		if err := u.validateRecord(raw, raw.CreatedAt); err != nil {
			log.Warn().Err(err).Int64("comment_external_id", raw.ExternalID).Msg("collection: комментарий не прошёл проверку, пропущен")
			continue
		}
		batch = append(batch, raw)
		if len(batch) >= u.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if err := u.store.AdvanceCommentMark(ctx, ref.PostID, maxSeen, u.now()); err != nil {
		return fmt.Errorf("отметка комментариев: %w", err)
	}
	metrics.CommentsInserted.Add(float64(inserted))
	log.Info().Int("inserted", inserted).Msg("collection: комментарии собраны")
	return nil
}

// saveComments сохраняет пачку авторов и комментариев одной транзакцией.
func (u *Units) saveComments(ctx context.Context, postID int64, batch []domain.RawComment) (int, error) {
	authors := make([]domain.Author, 0, len(batch))
	seen := make(map[int64]struct{}, len(batch))
	comments := make([]domain.Comment, 0, len(batch))
	for _, raw := range batch {
		comment := domain.Comment{
			PostID:           postID,
			ExternalID:       raw.ExternalID,
			Text:             raw.Text,
			CreatedAt:        raw.CreatedAt.UTC(),
			Reactions:        raw.Reactions,
			ParentExternalID: raw.ParentID,
		}
		if a := raw.Author; a != nil {
			authorID := a.ExternalID
			comment.AuthorExternalID = &authorID
			if _, ok := seen[authorID]; !ok {
				seen[authorID] = struct{}{}
				authors = append(authors, domain.Author{
					ExternalID: a.ExternalID,
					Username:   a.Username,
					FirstName:  a.FirstName,
					LastName:   a.LastName,
					IsBot:      a.IsBot,
				})
			}
		}
		comments = append(comments, comment)
	}

	var inserted int
	err := u.store.InTx(ctx, func(tx domain.Repository) error {
		if len(authors) > 0 {
			if err := tx.UpsertAuthors(ctx, authors); err != nil {
				return fmt.Errorf("сохранение авторов: %w", err)
			}
		}
		n, err := tx.InsertComments(ctx, comments)
		if err != nil {
			return fmt.Errorf("сохранение комментариев: %w", err)
		}
		inserted = n
		return nil
	})
	return inserted, err
}
