package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-insight-collector/internal/domain"
	"tg-insight-collector/internal/infra/metrics"
)

// promoteScript атомарно переносит созревшие отложенные задачи в основной список.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, payload in ipairs(due) do
	redis.call('ZREM', KEYS[1], payload)
	redis.call('LPUSH', KEYS[2], payload)
end
return #due
`)

// requeueScript возвращает задачу из списка обработки в голову очереди,
// если её там ещё не вернул Recover.
var requeueScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) > 0 then
	redis.call('RPUSH', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// recoverScript переносит все задачи из списка обработки обратно в голову очереди,
// сохраняя порядок, в котором они были взяты.
var recoverScript = redis.NewScript(`
local n = 0
while redis.call('LMOVE', KEYS[1], KEYS[2], 'LEFT', 'RIGHT') do
	n = n + 1
end
return n
`)

const (
	promoteBatch    = 100
	defaultConsumer = "default"
)

// RedisTaskQueue реализует очередь задач на базе Redis list и отложенного ZSET.
// Взятая задача лежит в списке обработки потребителя до подтверждения, поэтому
// падение воркера её не теряет: Recover при следующем старте вернёт её в очередь.
type RedisTaskQueue struct {
	client   *redis.Client
	key      string
	consumer string
}

var _ domain.TaskQueue = (*RedisTaskQueue)(nil)

// NewRedisTaskQueue создаёт очередь по указанному ключу. consumer задаёт
// стабильное имя воркера для его списка обработки.
func NewRedisTaskQueue(client *redis.Client, key, consumer string) *RedisTaskQueue {
	if consumer == "" {
		consumer = defaultConsumer
	}
	return &RedisTaskQueue{client: client, key: key, consumer: consumer}
}

func (q *RedisTaskQueue) delayedKey() string {
	return q.key + ":delayed"
}

func (q *RedisTaskQueue) processingKey() string {
	return q.key + ":processing:" + q.consumer
}

// Publish публикует задачу в очередь.
func (q *RedisTaskQueue) Publish(ctx context.Context, task domain.Task) error {
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push task: %w", err)
	}
	return nil
}

// PublishDelayed откладывает задачу на delay.
func (q *RedisTaskQueue) PublishDelayed(ctx context.Context, task domain.Task, delay time.Duration) error {
	if delay <= 0 {
		return q.Publish(ctx, task)
	}
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  dueScore(time.Now(), delay),
		Member: payload,
	}).Err()
	metrics.ObserveNetworkRequest("redis", "zadd", q.delayedKey(), start, err)
	if err != nil {
		return fmt.Errorf("schedule task: %w", err)
	}
	return nil
}

// Receive блокирующе переносит задачу из очереди в список обработки.
// ack(true) удаляет её оттуда, ack(false) возвращает в начало очереди.
func (q *RedisTaskQueue) Receive(ctx context.Context) (domain.Task, domain.TaskAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Task{}, nil, err
		}
		if err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
			return domain.Task{}, nil, err
		}

		payload, err := q.client.BLMove(ctx, q.key, q.processingKey(), "RIGHT", "LEFT", time.Second).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.Task{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.Task{}, nil, err
		}
		task, err := decodeTask([]byte(payload))
		if err != nil {
			// битая задача не должна вечно висеть в списке обработки
			_ = q.client.LRem(context.Background(), q.processingKey(), 1, payload).Err()
			return domain.Task{}, nil, err
		}
		return task, q.ack(payload), nil
	}
}

func (q *RedisTaskQueue) ack(payload string) domain.TaskAckFunc {
	return func(success bool) error {
		ctx := context.Background()
		start := time.Now()
		var err error
		if success {
			err = q.client.LRem(ctx, q.processingKey(), 1, payload).Err()
			metrics.ObserveNetworkRequest("redis", "lrem", q.processingKey(), start, err)
		} else {
			err = requeueScript.Run(ctx, q.client, []string{q.processingKey(), q.key}, payload).Err()
			metrics.ObserveNetworkRequest("redis", "requeue", q.processingKey(), start, err)
		}
		if err != nil {
			return fmt.Errorf("ack task: %w", err)
		}
		return nil
	}
}

// Recover возвращает в очередь задачи, оставшиеся в списке обработки после
// аварийной остановки этого потребителя. Вызывается до первого Receive.
func (q *RedisTaskQueue) Recover(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := recoverScript.Run(ctx, q.client, []string{q.processingKey(), q.key}).Int()
	metrics.ObserveNetworkRequest("redis", "recover", q.processingKey(), start, err)
	if err != nil {
		return 0, fmt.Errorf("recover in-flight tasks: %w", err)
	}
	return n, nil
}

func (q *RedisTaskQueue) promoteDue(ctx context.Context) error {
	start := time.Now()
	now := strconv.FormatFloat(dueScore(time.Now(), 0), 'f', 0, 64)
	err := promoteScript.Run(ctx, q.client, []string{q.delayedKey(), q.key}, now, promoteBatch).Err()
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	metrics.ObserveNetworkRequest("redis", "promote_delayed", q.delayedKey(), start, err)
	if err != nil {
		return fmt.Errorf("promote delayed tasks: %w", err)
	}
	return nil
}

func dueScore(now time.Time, delay time.Duration) float64 {
	return float64(now.Add(delay).UnixMilli())
}

func encodeTask(task domain.Task) ([]byte, error) {
	if task.Name == "" {
		return nil, errors.New("task name is empty")
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	return payload, nil
}

func decodeTask(payload []byte) (domain.Task, error) {
	var task domain.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return domain.Task{}, fmt.Errorf("decode task: %w", err)
	}
	if task.Name == "" {
		return domain.Task{}, errors.New("decode task: empty task name")
	}
	return task, nil
}
