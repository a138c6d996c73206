package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-insight-collector/internal/domain"
)

const postColumns = `id, channel_id, external_id, created_at, text, url, views_count, forwards_count,
reactions, media, forward_info, poll, reply_to_external_id, grouped_id, last_comment_external_id,
comments_last_collected_at, stats_last_updated_at`

func scanPost(row pgx.Row) (domain.Post, error) {
	var (
		post                           domain.Post
		reactions, media, forward, pol []byte
	)
	err := row.Scan(&post.ID, &post.ChannelID, &post.ExternalID, &post.CreatedAt, &post.Text, &post.URL,
		&post.ViewsCount, &post.ForwardsCount, &reactions, &media, &forward, &pol, &post.ReplyToExternalID,
		&post.GroupedID, &post.LastCommentExternalID, &post.CommentsLastCollectedAt, &post.StatsLastUpdatedAt)
	if err != nil {
		return domain.Post{}, err
	}
	if post.Reactions, err = unmarshalReactions(reactions); err != nil {
		return domain.Post{}, fmt.Errorf("decode reactions: %w", err)
	}
	if post.Media, err = unmarshalNullable[domain.Media](media); err != nil {
		return domain.Post{}, fmt.Errorf("decode media: %w", err)
	}
	if post.ForwardInfo, err = unmarshalNullable[domain.ForwardInfo](forward); err != nil {
		return domain.Post{}, fmt.Errorf("decode forward_info: %w", err)
	}
	if post.Poll, err = unmarshalNullable[domain.Poll](pol); err != nil {
		return domain.Post{}, fmt.Errorf("decode poll: %w", err)
	}
	return post, nil
}

// postJSON: сериализованные JSONB-поля поста.
type postJSON struct {
	reactions, media, forward, poll []byte
}

func encodePostJSON(post domain.Post) (postJSON, error) {
	var (
		out postJSON
		err error
	)
	if out.reactions, err = marshalReactions(post.Reactions); err != nil {
		return postJSON{}, err
	}
	if out.media, err = marshalNullable(post.Media); err != nil {
		return postJSON{}, err
	}
	if out.forward, err = marshalNullable(post.ForwardInfo); err != nil {
		return postJSON{}, err
	}
	if out.poll, err = marshalNullable(post.Poll); err != nil {
		return postJSON{}, err
	}
	return out, nil
}

// GetPost возвращает пост по идентификатору.
func (p *Postgres) GetPost(ctx context.Context, id int64) (domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	post, err := scanPost(p.q.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	observe("posts_get", "posts", start, err)
	if err != nil {
		return domain.Post{}, mapError(err)
	}
	return post, nil
}

// GetPostRef возвращает пост вместе с адресом канала.
func (p *Postgres) GetPostRef(ctx context.Context, id int64) (domain.PostRef, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var ref domain.PostRef
	start := time.Now()
	err := p.q.QueryRow(ctx, `
SELECT p.id, p.external_id, p.channel_id, c.external_id, c.name, p.last_comment_external_id
FROM posts p
JOIN channels c ON c.id = p.channel_id
WHERE p.id = $1`, id).Scan(&ref.PostID, &ref.PostExternalID, &ref.ChannelID,
		&ref.Channel.ExternalID, &ref.Channel.Username, &ref.LastCommentExternalID)
	observe("posts_get_ref", "posts", start, err)
	if err != nil {
		return domain.PostRef{}, mapError(err)
	}
	return ref, nil
}

// FindPostID ищет пост канала по внешнему идентификатору.
func (p *Postgres) FindPostID(ctx context.Context, channelID, externalID int64) (int64, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var id int64
	start := time.Now()
	err := p.q.QueryRow(ctx, `SELECT id FROM posts WHERE channel_id = $1 AND external_id = $2`, channelID, externalID).Scan(&id)
	observe("posts_find_id", "posts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// InsertPost добавляет пост.
func (p *Postgres) InsertPost(ctx context.Context, post domain.Post) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	payload, err := encodePostJSON(post)
	if err != nil {
		return 0, fmt.Errorf("encode post: %w", err)
	}
	var id int64
	start := time.Now()
	err = p.q.QueryRow(ctx, `
INSERT INTO posts (channel_id, external_id, created_at, text, url, views_count, forwards_count,
                   reactions, media, forward_info, poll, reply_to_external_id, grouped_id, stats_last_updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
RETURNING id`, post.ChannelID, post.ExternalID, post.CreatedAt, post.Text, post.URL, post.ViewsCount,
		post.ForwardsCount, payload.reactions, payload.media, payload.forward, payload.poll,
		post.ReplyToExternalID, post.GroupedID).Scan(&id)
	observe("posts_insert", "posts", start, err)
	if err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

// UpdatePostContent перезаписывает изменяемые поля поста.
func (p *Postgres) UpdatePostContent(ctx context.Context, id int64, post domain.Post) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	payload, err := encodePostJSON(post)
	if err != nil {
		return fmt.Errorf("encode post: %w", err)
	}
	start := time.Now()
	tag, err := p.q.Exec(ctx, `
UPDATE posts
SET text = $2, url = $3, views_count = $4, forwards_count = $5, reactions = $6,
    media = $7, forward_info = $8, poll = $9, reply_to_external_id = $10, grouped_id = $11,
    stats_last_updated_at = now()
WHERE id = $1`, id, post.Text, post.URL, post.ViewsCount, post.ForwardsCount, payload.reactions,
		payload.media, payload.forward, payload.poll, post.ReplyToExternalID, post.GroupedID)
	observe("posts_update_content", "posts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdatePostStats перезаписывает счётчики поста.
func (p *Postgres) UpdatePostStats(ctx context.Context, id int64, stats domain.PostStats) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	reactions, err := marshalReactions(stats.Reactions)
	if err != nil {
		return fmt.Errorf("encode reactions: %w", err)
	}
	start := time.Now()
	tag, err := p.q.Exec(ctx, `
UPDATE posts
SET views_count = $2, forwards_count = $3, reactions = $4, stats_last_updated_at = $5
WHERE id = $1`, id, stats.ViewsCount, stats.ForwardsCount, reactions, stats.UpdatedAt)
	observe("posts_update_stats", "posts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LatestPostExternalID возвращает наибольший внешний идентификатор поста канала.
func (p *Postgres) LatestPostExternalID(ctx context.Context, channelID int64) (int64, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var latest *int64
	start := time.Now()
	err := p.q.QueryRow(ctx, `SELECT MAX(external_id) FROM posts WHERE channel_id = $1`, channelID).Scan(&latest)
	observe("posts_latest_external_id", "posts", start, err)
	if err != nil {
		return 0, false, err
	}
	if latest == nil {
		return 0, false, nil
	}
	return *latest, true, nil
}

// ExistingPostIDs возвращает те из ids, что есть в БД.
func (p *Postgres) ExistingPostIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return p.queryIDs(ctx, "posts_existing_ids", `SELECT id FROM posts WHERE id = ANY($1) ORDER BY id`, ids)
}

// ListPostsForStatsRefresh возвращает свежие посты с устаревшей статистикой.
func (p *Postgres) ListPostsForStatsRefresh(ctx context.Context, createdAfter, statsBefore time.Time, limit int) ([]int64, error) {
	return p.queryIDs(ctx, "posts_stats_due", `
SELECT id FROM posts
WHERE created_at >= $1
  AND (stats_last_updated_at IS NULL OR stats_last_updated_at < $2)
ORDER BY stats_last_updated_at NULLS FIRST, id
LIMIT $3`, createdAfter, statsBefore, limit)
}

func (p *Postgres) queryIDs(ctx context.Context, op, sql string, args ...any) ([]int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.q.Query(ctx, sql, args...)
	observe(op, "posts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
