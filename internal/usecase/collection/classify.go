package collection

import (
	"errors"
	"time"

	"tg-insight-collector/internal/domain"
)

// Action: что сделать с задачей после выполнения.
type Action int

const (
	// ActionDone: задача выполнена.
	ActionDone Action = iota
	// ActionRetry: отправить Decision.Next с задержкой Decision.Delay.
	ActionRetry
	// ActionTerminal: ошибка не лечится повтором, задача подтверждается.
	ActionTerminal
	// ActionDrop: попытки исчерпаны.
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionDone:
		return "ok"
	case ActionRetry:
		return "retry"
	case ActionTerminal:
		return "terminal"
	case ActionDrop:
		return "dropped"
	default:
		return "unknown"
	}
}

// Decision: решение политики повторов.
type Decision struct {
	Action Action
	Delay  time.Duration
	Next   domain.Task
}

// RetryPolicy решает судьбу задачи по её ошибке.
type RetryPolicy struct {
	MaxRetries          int
	RetryDelay          time.Duration
	MaxRetryDelay       time.Duration
	FloodWaitMargin     time.Duration
	FloodWaitMaxRetries int
}

var terminalErrors = []error{
	domain.ErrValidation,
	domain.ErrNotFound,
	domain.ErrNotEligible,
	domain.ErrChannelInactive,
	domain.ErrMalformedAnalysis,
	domain.ErrAnalysisRejected,
}

// Classify возвращает решение для задачи, завершившейся с ошибкой err.
func (p RetryPolicy) Classify(task domain.Task, err error) Decision {
	if err == nil {
		return Decision{Action: ActionDone}
	}
	if delay, ok := domain.AsFloodWait(err); ok {
		if task.FloodWaits >= p.FloodWaitMaxRetries {
			return Decision{Action: ActionDrop}
		}
		return Decision{Action: ActionRetry, Delay: delay + p.FloodWaitMargin, Next: task.RetryAfterFloodWait()}
	}
	for _, target := range terminalErrors {
		if errors.Is(err, target) {
			return Decision{Action: ActionTerminal}
		}
	}
	if task.Attempt >= p.MaxRetries {
		return Decision{Action: ActionDrop}
	}
	if errors.Is(err, domain.ErrCredentialRevoked) || errors.Is(err, domain.ErrConnection) {
		return Decision{Action: ActionRetry, Next: task.Retry()}
	}
	return Decision{Action: ActionRetry, Delay: p.backoff(task.Attempt), Next: task.Retry()}
}

// backoff удваивает задержку с каждой попыткой, не превышая MaxRetryDelay.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.RetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.MaxRetryDelay > 0 && delay >= p.MaxRetryDelay {
			return p.MaxRetryDelay
		}
	}
	if p.MaxRetryDelay > 0 && delay > p.MaxRetryDelay {
		return p.MaxRetryDelay
	}
	return delay
}
