// Package collection содержит задачи сбора постов, комментариев и статистики,
// а также запуск этих задач из API и планировщика.
package collection

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"tg-insight-collector/internal/domain"
)

// UnitsConfig: параметры задач сбора.
type UnitsConfig struct {
	CommentBatchSize int
}

// Units выполняет задачи сбора. Каждая задача получает собственную область с коллектором.
type Units struct {
	store      domain.Store
	collectors domain.CollectorFactory
	publisher  domain.TaskPublisher
	alerter    domain.Alerter
	validate   *validator.Validate
	log        zerolog.Logger
	batchSize  int
	now        func() time.Time
}

// NewUnits создаёт исполнителя задач сбора. alerter может быть nil.
func NewUnits(store domain.Store, collectors domain.CollectorFactory, publisher domain.TaskPublisher, alerter domain.Alerter, log zerolog.Logger, cfg UnitsConfig) *Units {
	batch := cfg.CommentBatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Units{
		store:      store,
		collectors: collectors,
		publisher:  publisher,
		alerter:    alerter,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		log:        log,
		batchSize:  batch,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (u *Units) newScope(log zerolog.Logger) *Scope {
	return NewScope(u.store, u.collectors, u.alerter, log)
}

// closeScope закрывает область вне зависимости от отмены контекста задачи.
func (u *Units) closeScope(ctx context.Context, scope *Scope, log zerolog.Logger) {
	if err := scope.Close(context.WithoutCancel(ctx)); err != nil {
		log.Error().Err(err).Msg("collection: ошибки при закрытии области задачи")
	}
}

func (u *Units) validateRecord(record any, createdAt domain.Timestamp) error {
	if err := u.validate.Struct(record); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if createdAt.IsZero() {
		return fmt.Errorf("%w: не указано created_at", domain.ErrValidation)
	}
	return nil
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
