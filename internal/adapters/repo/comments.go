package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-insight-collector/internal/domain"
)

// ResetComments удаляет комментарии поста и сбрасывает отметку сбора.
// Вызывается внутри InTx, чтобы оба изменения применились вместе.
func (p *Postgres) ResetComments(ctx context.Context, postID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.q.Exec(ctx, `DELETE FROM comments WHERE post_id = $1`, postID)
	observe("comments_reset", "comments", start, err)
	if err != nil {
		return err
	}
	start = time.Now()
	tag, err := p.q.Exec(ctx, `
UPDATE posts SET last_comment_external_id = NULL, comments_last_collected_at = NULL WHERE id = $1`, postID)
	observe("posts_reset_comment_mark", "posts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertAuthors сохраняет авторов; строка переписывается, только если данные изменились.
func (p *Postgres) UpsertAuthors(ctx context.Context, authors []domain.Author) error {
	if len(authors) == 0 {
		return nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, a := range authors {
		batch.Queue(`
INSERT INTO authors (external_id, username, first_name, last_name, is_bot, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (external_id) DO UPDATE
SET username = EXCLUDED.username,
    first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    is_bot = EXCLUDED.is_bot,
    updated_at = now()
WHERE (authors.username, authors.first_name, authors.last_name, authors.is_bot)
      IS DISTINCT FROM (EXCLUDED.username, EXCLUDED.first_name, EXCLUDED.last_name, EXCLUDED.is_bot)`,
			a.ExternalID, a.Username, a.FirstName, a.LastName, a.IsBot)
	}
	return p.execBatch(ctx, "authors_upsert", "authors", batch, len(authors), nil)
}

// InsertComments вставляет комментарии, пропуская уже сохранённые.
func (p *Postgres) InsertComments(ctx context.Context, comments []domain.Comment) (int, error) {
	if len(comments) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, c := range comments {
		reactions, err := marshalReactions(c.Reactions)
		if err != nil {
			return 0, fmt.Errorf("encode reactions: %w", err)
		}
		batch.Queue(`
INSERT INTO comments (post_id, external_id, author_external_id, text, created_at, reactions, parent_external_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (post_id, external_id) DO NOTHING`,
			c.PostID, c.ExternalID, c.AuthorExternalID, c.Text, c.CreatedAt, reactions, c.ParentExternalID)
	}
	inserted := 0
	err := p.execBatch(ctx, "comments_insert", "comments", batch, len(comments), func(affected int64) {
		inserted += int(affected)
	})
	if err != nil {
		return 0, mapError(err)
	}
	return inserted, nil
}

func (p *Postgres) execBatch(ctx context.Context, op, table string, batch *pgx.Batch, n int, onExec func(affected int64)) (err error) {
	start := time.Now()
	br := p.q.SendBatch(ctx, batch)
	defer func() {
		closeErr := br.Close()
		if err == nil {
			err = closeErr
		}
		observe(op, table, start, err)
	}()
	for i := 0; i < n; i++ {
		tag, execErr := br.Exec()
		if execErr != nil {
			return execErr
		}
		if onExec != nil {
			onExec(tag.RowsAffected())
		}
	}
	return nil
}

// AdvanceCommentMark сдвигает отметку последнего комментария только вперёд.
func (p *Postgres) AdvanceCommentMark(ctx context.Context, postID int64, maxSeen *int64, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.q.Exec(ctx, `
UPDATE posts
SET last_comment_external_id = GREATEST(last_comment_external_id, $2::bigint),
    comments_last_collected_at = $3
WHERE id = $1`, postID, maxSeen, at)
	observe("posts_advance_comment_mark", "posts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListCommentTexts возвращает непустые тексты комментариев в хронологическом порядке.
func (p *Postgres) ListCommentTexts(ctx context.Context, postID int64, limit int) ([]string, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.q.Query(ctx, `
SELECT text FROM comments
WHERE post_id = $1 AND text <> ''
ORDER BY created_at, id
LIMIT $2`, postID, limit)
	observe("comments_list_texts", "comments", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}
