package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-insight-collector/internal/domain"
)

const channelColumns = `id, external_id, name, title, is_active, collection_schedule, last_scheduled_at,
last_collection_status, last_collection_error, last_collected_at, created_at`

func scanChannel(row pgx.Row) (domain.Channel, error) {
	var (
		ch     domain.Channel
		status string
	)
	err := row.Scan(&ch.ID, &ch.ExternalID, &ch.Name, &ch.Title, &ch.IsActive, &ch.CollectionSchedule,
		&ch.LastScheduledAt, &status, &ch.LastCollectionError, &ch.LastCollectedAt, &ch.CreatedAt)
	ch.LastCollectionStatus = domain.CollectionStatus(status)
	return ch, err
}

func (p *Postgres) getChannelBy(ctx context.Context, op, where string, arg any) (domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	ch, err := scanChannel(p.q.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE `+where, arg))
	observe(op, "channels", start, err)
	if err != nil {
		return domain.Channel{}, mapError(err)
	}
	return ch, nil
}

// GetChannel возвращает канал по идентификатору.
func (p *Postgres) GetChannel(ctx context.Context, id int64) (domain.Channel, error) {
	return p.getChannelBy(ctx, "channels_get", "id = $1", id)
}

// FindChannelByName ищет канал по каноническому имени.
func (p *Postgres) FindChannelByName(ctx context.Context, name string) (domain.Channel, error) {
	return p.getChannelBy(ctx, "channels_find_name", "name = $1", name)
}

// FindChannelByExternalID ищет канал по идентификатору Telegram.
func (p *Postgres) FindChannelByExternalID(ctx context.Context, externalID int64) (domain.Channel, error) {
	return p.getChannelBy(ctx, "channels_find_external", "external_id = $1", externalID)
}

// InsertChannel добавляет канал.
func (p *Postgres) InsertChannel(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if ch.CollectionSchedule == "" {
		ch.CollectionSchedule = domain.DefaultCollectionSchedule
	}
	start := time.Now()
	created, err := scanChannel(p.q.QueryRow(ctx, `
INSERT INTO channels (external_id, name, title, is_active, collection_schedule)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+channelColumns, ch.ExternalID, ch.Name, ch.Title, ch.IsActive, ch.CollectionSchedule))
	observe("channels_insert", "channels", start, err)
	if err != nil {
		return domain.Channel{}, mapError(err)
	}
	return created, nil
}

func (p *Postgres) updateChannel(ctx context.Context, op, sql string, args ...any) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.q.Exec(ctx, sql, args...)
	observe(op, "channels", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetChannelActive включает или выключает сбор канала.
func (p *Postgres) SetChannelActive(ctx context.Context, id int64, active bool) error {
	return p.updateChannel(ctx, "channels_set_active", `UPDATE channels SET is_active = $2 WHERE id = $1`, id, active)
}

// SetChannelSchedule меняет расписание сбора.
func (p *Postgres) SetChannelSchedule(ctx context.Context, id int64, spec string) error {
	return p.updateChannel(ctx, "channels_set_schedule", `UPDATE channels SET collection_schedule = $2 WHERE id = $1`, id, spec)
}

// SetCollectionStatus фиксирует состояние сбора; при успехе обновляет last_collected_at.
func (p *Postgres) SetCollectionStatus(ctx context.Context, id int64, status domain.CollectionStatus, errText string, at time.Time) error {
	return p.updateChannel(ctx, "channels_set_status", `
UPDATE channels
SET last_collection_status = $2,
    last_collection_error = $3,
    last_collected_at = CASE WHEN $2::text = 'ok' THEN $4 ELSE last_collected_at END
WHERE id = $1`, id, string(status), errText, at)
}

// ListActiveChannels возвращает активные каналы.
func (p *Postgres) ListActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.q.Query(ctx, `SELECT `+channelColumns+` FROM channels WHERE is_active ORDER BY id`)
	observe("channels_list_active", "channels", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var channels []domain.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// MarkScheduled запоминает время последней постановки сбора по расписанию.
func (p *Postgres) MarkScheduled(ctx context.Context, id int64, at time.Time) error {
	return p.updateChannel(ctx, "channels_mark_scheduled", `UPDATE channels SET last_scheduled_at = $2 WHERE id = $1`, id, at)
}
