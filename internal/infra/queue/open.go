package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tg-insight-collector/internal/domain"
)

// Backend-ы очереди задач.
const (
	BackendRedis    = "redis"
	BackendRabbitMQ = "rabbitmq"
)

// Options выбирают реализацию очереди.
type Options struct {
	Backend     string
	Key         string
	Consumer    string
	RabbitMQURL string
	Prefetch    int
}

// Recoverer реализуют очереди, которые умеют вернуть задачи, взятые
// до аварийной остановки потребителя.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// Open создаёт очередь выбранного backend-а. release освобождает соединение брокера.
func Open(opts Options, client *redis.Client) (q domain.TaskQueue, release func() error, err error) {
	switch opts.Backend {
	case "", BackendRedis:
		if client == nil {
			return nil, nil, fmt.Errorf("очередь %s: нет клиента redis", BackendRedis)
		}
		return NewRedisTaskQueue(client, opts.Key, opts.Consumer), func() error { return nil }, nil
	case BackendRabbitMQ:
		rabbit, err := NewRabbitTaskQueue(opts.RabbitMQURL, opts.Key, opts.Prefetch)
		if err != nil {
			return nil, nil, err
		}
		return rabbit, rabbit.Close, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный backend очереди %q", opts.Backend)
	}
}
