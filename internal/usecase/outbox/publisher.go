// Package outbox переносит задачи из таблицы outbox в очередь и чистит устаревшие записи.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"tg-insight-collector/internal/domain"
	"tg-insight-collector/internal/infra/metrics"
)

// Publisher отправляет записи outbox в очередь задач.
type Publisher struct {
	store     domain.Store
	queue     domain.TaskPublisher
	batchSize int
	log       zerolog.Logger
}

// NewPublisher создаёт публикатор outbox.
func NewPublisher(store domain.Store, queue domain.TaskPublisher, batchSize int, log zerolog.Logger) *Publisher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Publisher{store: store, queue: queue, batchSize: batchSize, log: log}
}

// PublishBatch блокирует пачку записей, публикует их и удаляет отправленные в той же транзакции.
// Неотправленные записи остаются в таблице с увеличенным счётчиком попыток.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	var (
		published int
		failures  error
	)
	err := p.store.InTx(ctx, func(tx domain.Repository) error {
		published, failures = 0, nil
		entries, err := tx.LockOutboxBatch(ctx, p.batchSize)
		if err != nil {
			return fmt.Errorf("выборка outbox: %w", err)
		}
		sent := make([]int64, 0, len(entries))
		for _, entry := range entries {
			task := domain.Task{
				ID:         uuid.NewString(),
				Name:       entry.TaskName,
				Args:       entry.Args,
				EnqueuedAt: time.Now().UTC(),
			}
			if err := p.queue.Publish(ctx, task); err != nil {
				failures = multierr.Append(failures, fmt.Errorf("запись %d (%s): %w", entry.ID, entry.TaskName, err))
				if markErr := tx.MarkOutboxFailed(ctx, entry.ID, err.Error()); markErr != nil {
					return fmt.Errorf("отметка ошибки outbox %d: %w", entry.ID, markErr)
				}
				continue
			}
			sent = append(sent, entry.ID)
		}
		if len(sent) > 0 {
			if err := tx.DeleteOutbox(ctx, sent); err != nil {
				return fmt.Errorf("удаление outbox: %w", err)
			}
		}
		published = len(sent)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if failures != nil {
		failed := len(multierr.Errors(failures))
		metrics.OutboxFailed.Add(float64(failed))
		p.log.Warn().Err(failures).Int("failed", failed).Msg("outbox: часть записей не отправлена")
	}
	if published > 0 {
		metrics.OutboxPublished.Add(float64(published))
		p.log.Debug().Int("published", published).Msg("outbox: записи отправлены в очередь")
	}
	return published, nil
}
