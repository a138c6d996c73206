package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-insight-collector/internal/domain"
	"tg-insight-collector/internal/infra/metrics"
)

// Cleaner удаляет записи outbox старше срока хранения независимо от статуса.
type Cleaner struct {
	repo      domain.OutboxRepo
	alerter   domain.Alerter
	retention time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewCleaner создаёт очистку outbox. alerter может быть nil.
func NewCleaner(repo domain.OutboxRepo, alerter domain.Alerter, retention time.Duration, log zerolog.Logger) *Cleaner {
	return &Cleaner{repo: repo, alerter: alerter, retention: retention, log: log, now: time.Now}
}

// Cleanup удаляет устаревшие записи и сообщает об их количестве.
func (c *Cleaner) Cleanup(ctx context.Context) (int64, error) {
	cutoff := c.now().Add(-c.retention)
	removed, err := c.repo.DeleteOutboxBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("очистка outbox: %w", err)
	}
	if removed == 0 {
		return 0, nil
	}
	metrics.OutboxCleaned.Add(float64(removed))
	c.log.Warn().Int64("removed", removed).Time("cutoff", cutoff).Msg("outbox: удалены неотправленные устаревшие записи")
	if c.alerter != nil {
		text := fmt.Sprintf("Очистка outbox удалила %d записей старше %s", removed, cutoff.UTC().Format(time.RFC3339))
		if err := c.alerter.Alert(ctx, text); err != nil {
			c.log.Error().Err(err).Msg("outbox: не удалось отправить оповещение")
		}
	}
	return removed, nil
}
