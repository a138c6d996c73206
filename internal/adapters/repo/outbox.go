package repo

import (
	"context"
	"fmt"
	"time"

	"tg-insight-collector/internal/domain"
)

// EnqueueOutbox добавляет задачу в outbox в рамках текущей транзакции.
// При занятом ключе дедупликации запись не создаётся.
func (p *Postgres) EnqueueOutbox(ctx context.Context, entry domain.OutboxEntry) (bool, error) {
	if entry.TaskName == "" {
		return false, fmt.Errorf("outbox task name is required: %w", domain.ErrValidation)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	args := []byte(entry.Args)
	if len(args) == 0 {
		args = []byte("{}")
	}
	start := time.Now()
	tag, err := p.q.Exec(ctx, `
INSERT INTO outbox (task_name, task_args, dedupe_key, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (dedupe_key) DO NOTHING`,
		string(entry.TaskName), args, nullableString(entry.DedupeKey), string(domain.OutboxStatusPending))
	observe("outbox_enqueue", "outbox", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// LockOutboxBatch блокирует старейшие ожидающие записи. Должен вызываться внутри InTx.
func (p *Postgres) LockOutboxBatch(ctx context.Context, limit int) ([]domain.OutboxEntry, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.q.Query(ctx, `
SELECT id, task_name, task_args, COALESCE(dedupe_key, ''), status, retry_count,
       COALESCE(last_error, ''), created_at, processed_at
FROM outbox
WHERE status = $1
ORDER BY created_at, id
LIMIT $2
FOR UPDATE SKIP LOCKED`, string(domain.OutboxStatusPending), limit)
	observe("outbox_lock_batch", "outbox", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.OutboxEntry
	for rows.Next() {
		var (
			e      domain.OutboxEntry
			name   string
			status string
			args   []byte
		)
		if err := rows.Scan(&e.ID, &name, &args, &e.DedupeKey, &status, &e.RetryCount, &e.LastError, &e.CreatedAt, &e.ProcessedAt); err != nil {
			return nil, err
		}
		e.TaskName = domain.TaskName(name)
		e.Status = domain.OutboxStatus(status)
		e.Args = append([]byte(nil), args...)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteOutbox удаляет опубликованные записи.
func (p *Postgres) DeleteOutbox(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.q.Exec(ctx, `DELETE FROM outbox WHERE id = ANY($1)`, ids)
	observe("outbox_delete", "outbox", start, err)
	return err
}

// MarkOutboxFailed увеличивает счётчик попыток и запоминает ошибку.
func (p *Postgres) MarkOutboxFailed(ctx context.Context, id int64, errText string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.q.Exec(ctx, `
UPDATE outbox SET retry_count = retry_count + 1, last_error = $2, processed_at = now() WHERE id = $1`, id, errText)
	observe("outbox_mark_failed", "outbox", start, err)
	return err
}

// DeleteOutboxBefore удаляет записи старше cutoff независимо от статуса.
func (p *Postgres) DeleteOutboxBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.q.Exec(ctx, `DELETE FROM outbox WHERE created_at < $1`, cutoff)
	observe("outbox_delete_before", "outbox", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
