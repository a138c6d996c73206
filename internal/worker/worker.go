// Package worker читает задачи из очереди и исполняет зарегистрированные обработчики
// с лимитами времени и политикой повторов.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tg-insight-collector/internal/domain"
	"tg-insight-collector/internal/infra/metrics"
	"tg-insight-collector/internal/usecase/collection"
)

// HandlerFunc обрабатывает одну задачу.
type HandlerFunc func(ctx context.Context, task domain.Task) error

// Handle оборачивает типизированный обработчик: аргументы задачи декодируются в T.
// Нечитаемые аргументы считаются ошибкой валидации.
func Handle[T any](fn func(ctx context.Context, args T) error) HandlerFunc {
	return func(ctx context.Context, task domain.Task) error {
		var args T
		if err := json.Unmarshal(task.Args, &args); err != nil {
			return fmt.Errorf("%w: аргументы %s: %v", domain.ErrValidation, task.Name, err)
		}
		return fn(ctx, args)
	}
}

// Classifier решает, что делать с задачей после ошибки.
type Classifier interface {
	Classify(task domain.Task, err error) collection.Decision
}

// Config: параметры воркера.
type Config struct {
	Concurrency   int
	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration
	// ErrorBackoff: пауза после ошибки чтения очереди.
	ErrorBackoff time.Duration
}

// Worker исполняет задачи из очереди.
type Worker struct {
	queue    domain.TaskQueue
	policy   Classifier
	log      zerolog.Logger
	cfg      Config
	handlers map[domain.TaskName]HandlerFunc
}

// New создаёт воркер.
func New(queue domain.TaskQueue, policy Classifier, log zerolog.Logger, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{queue: queue, policy: policy, log: log, cfg: cfg, handlers: map[domain.TaskName]HandlerFunc{}}
}

// Register привязывает обработчик к имени задачи.
func (w *Worker) Register(name domain.TaskName, h HandlerFunc) {
	w.handlers[name] = h
}

// Run запускает Concurrency потоков чтения и ждёт их завершения после отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, w.log.With().Int("slot", slot).Logger())
		}(i)
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, log zerolog.Logger) {
	for {
		task, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		w.Process(ctx, task, ack, log)
	}
}

// Process исполняет задачу и подтверждает её по решению политики повторов.
func (w *Worker) Process(ctx context.Context, task domain.Task, ack domain.TaskAckFunc, log zerolog.Logger) {
	taskLog := log.With().
		Str("task_id", task.ID).
		Str("task", string(task.Name)).
		Int("attempt", task.Attempt).
		Logger()
	start := time.Now()

	err := w.execute(ctx, task)
	if ctx.Err() != nil {
		taskLog.Warn().Err(err).Msg("worker: остановка, задача возвращена в очередь")
		if ackErr := ack(false); ackErr != nil {
			taskLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу в очередь")
		}
		metrics.ObserveTask(string(task.Name), "requeued", start)
		return
	}

	decision := w.policy.Classify(task, err)
	outcome := decision.Action.String()
	switch decision.Action {
	case collection.ActionDone:
		taskLog.Debug().Dur("took", time.Since(start)).Msg("worker: задача выполнена")
	case collection.ActionRetry:
		if pubErr := w.queue.PublishDelayed(ctx, decision.Next, decision.Delay); pubErr != nil {
			taskLog.Error().Err(pubErr).AnErr("cause", err).Msg("worker: не удалось поставить повтор, возвращаем задачу в очередь")
			if ackErr := ack(false); ackErr != nil {
				taskLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу в очередь")
			}
			metrics.ObserveTask(string(task.Name), "requeued", start)
			return
		}
		taskLog.Warn().Err(err).Dur("delay", decision.Delay).Msg("worker: задача завершилась ошибкой, повторим позже")
	case collection.ActionTerminal:
		taskLog.Warn().Err(err).Msg("worker: задача отклонена без повтора")
	case collection.ActionDrop:
		taskLog.Error().Err(err).Int("flood_waits", task.FloodWaits).Msg("worker: достигнут предел попыток, задача отброшена")
	}
	if ackErr := ack(true); ackErr != nil {
		taskLog.Error().Err(ackErr).Msg("worker: не удалось подтвердить задачу")
	}
	metrics.ObserveTask(string(task.Name), outcome, start)
}

// execute запускает обработчик с мягким лимитом через контекст. По жёсткому лимиту
// обработчик бросается, а задача получает ErrHardTimeout.
func (w *Worker) execute(ctx context.Context, task domain.Task) error {
	handler, ok := w.handlers[task.Name]
	if !ok {
		return fmt.Errorf("%w: неизвестная задача %q", domain.ErrValidation, task.Name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if w.cfg.SoftTimeLimit > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, w.cfg.SoftTimeLimit)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic в обработчике %s: %v", task.Name, r)
			}
		}()
		done <- handler(runCtx, task)
	}()

	var hard <-chan time.Time
	if w.cfg.HardTimeLimit > 0 {
		timer := time.NewTimer(w.cfg.HardTimeLimit)
		defer timer.Stop()
		hard = timer.C
	}
	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) && runCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("мягкий лимит времени %s: %w", w.cfg.SoftTimeLimit, err)
		}
		return err
	case <-hard:
		return domain.ErrHardTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
