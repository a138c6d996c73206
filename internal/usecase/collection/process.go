package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tg-insight-collector/internal/domain"
)

// ProcessPost сохраняет сырой пост и ставит в outbox анализ и сбор комментариев.
// Повторная обработка того же поста обновляет его без дублей.
func (u *Units) ProcessPost(ctx context.Context, args domain.ProcessPostArgs) error {
	log := u.log.With().Int64("channel_id", args.ChannelID).Logger()
	var raw domain.RawPost
	if err := json.Unmarshal(args.RawPost, &raw); err != nil {
		log.Error().Err(err).Msg("collection: не удалось разобрать сырой пост")
		return nil
	}
	if err := u.validateRecord(raw, raw.CreatedAt); err != nil {
		log.Error().Err(err).Int64("post_external_id", raw.ExternalID).Msg("collection: сырой пост не прошёл проверку")
		return nil
	}
	log = log.With().Int64("post_external_id", raw.ExternalID).Logger()
	post := postFromRaw(args.ChannelID, raw)

	var (
		postID   int64
		inserted bool
	)
	err := u.store.InTx(ctx, func(tx domain.Repository) error {
		id, found, err := tx.FindPostID(ctx, args.ChannelID, raw.ExternalID)
		if err != nil {
			return fmt.Errorf("поиск поста: %w", err)
		}
		if found {
			postID = id
			if err := tx.UpdatePostContent(ctx, id, post); err != nil {
				return fmt.Errorf("обновление поста: %w", err)
			}
			analysed, err := tx.AnalysisExists(ctx, id)
			if err != nil {
				return fmt.Errorf("проверка анализа: %w", err)
			}
			if analysed {
				return nil
			}
			return enqueuePostTask(ctx, tx, domain.TaskAnalyzePost, domain.AnalyzePostArgs{PostID: id}, id)
		}

		id, err = tx.InsertPost(ctx, post)
		if err != nil {
			return fmt.Errorf("сохранение поста: %w", err)
		}
		postID, inserted = id, true
		if err := enqueuePostTask(ctx, tx, domain.TaskAnalyzePost, domain.AnalyzePostArgs{PostID: id}, id); err != nil {
			return err
		}
		return enqueuePostTask(ctx, tx, domain.TaskCollectComments, domain.CollectCommentsArgs{PostID: id}, id)
	})
	switch {
	case errors.Is(err, domain.ErrDuplicate):
		log.Info().Msg("collection: пост уже сохранён параллельной задачей")
		return nil
	case errors.Is(err, domain.ErrNotFound):
		log.Warn().Err(err).Msg("collection: канал поста удалён, пост пропущен")
		return nil
	case err != nil:
		return err
	}
	log.Debug().Int64("post_id", postID).Bool("inserted", inserted).Msg("collection: пост обработан")
	return nil
}

func enqueuePostTask(ctx context.Context, tx domain.Repository, name domain.TaskName, args any, postID int64) error {
	entry, err := domain.NewOutboxEntry(name, args, domain.DedupeKey(name, postID))
	if err != nil {
		return err
	}
	if _, err := tx.EnqueueOutbox(ctx, entry); err != nil {
		return fmt.Errorf("outbox %s: %w", name, err)
	}
	return nil
}

func postFromRaw(channelID int64, raw domain.RawPost) domain.Post {
	return domain.Post{
		ChannelID:         channelID,
		ExternalID:        raw.ExternalID,
		CreatedAt:         raw.CreatedAt.UTC(),
		Text:              raw.Text,
		URL:               raw.URL,
		ViewsCount:        derefInt(raw.ViewsCount),
		ForwardsCount:     derefInt(raw.ForwardsCount),
		Reactions:         raw.Reactions,
		Media:             raw.Media,
		ForwardInfo:       raw.ForwardInfo,
		Poll:              raw.Poll,
		ReplyToExternalID: raw.ReplyToID,
		GroupedID:         raw.GroupedID,
	}
}
