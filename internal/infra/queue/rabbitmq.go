package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"

	"tg-insight-collector/internal/domain"
	"tg-insight-collector/internal/infra/metrics"
)

// RabbitTaskQueue реализует очередь задач через AMQP. Отложенные задачи ждут
// в очереди своего интервала ожидания (x-message-ttl) и возвращаются в основную
// через dead-letter. У всех сообщений одной такой очереди одинаковый TTL, поэтому
// короткая задержка не застревает за длинной.
type RabbitTaskQueue struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	queue    string
	prefetch int

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
	delayed    map[time.Duration]string
}

var _ domain.TaskQueue = (*RabbitTaskQueue)(nil)

// NewRabbitTaskQueue подключается к брокеру и объявляет очереди.
func NewRabbitTaskQueue(amqpURL, queue string, prefetch int) (*RabbitTaskQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q := &RabbitTaskQueue{conn: conn, ch: ch, queue: queue, prefetch: prefetch, delayed: map[time.Duration]string{}}
	if err := q.declare(); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitTaskQueue) declare() error {
	if _, err := q.ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.queue, err)
	}
	if err := q.ch.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

// delayQueue объявляет (один раз) очередь ожидания для интервала bucket.
func (q *RabbitTaskQueue) delayQueue(bucket time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if name, ok := q.delayed[bucket]; ok {
		return name, nil
	}
	name := delayQueueName(q.queue, bucket)
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.queue,
		"x-message-ttl":             bucket.Milliseconds(),
	}
	if _, err := q.ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return "", fmt.Errorf("declare queue %s: %w", name, err)
	}
	q.delayed[bucket] = name
	return name, nil
}

// Publish публикует задачу в основную очередь.
func (q *RabbitTaskQueue) Publish(ctx context.Context, task domain.Task) error {
	return q.publish(ctx, q.queue, task)
}

// PublishDelayed публикует задачу в очередь ожидания, интервал которой
// не короче delay.
func (q *RabbitTaskQueue) PublishDelayed(ctx context.Context, task domain.Task, delay time.Duration) error {
	if delay <= 0 {
		return q.Publish(ctx, task)
	}
	name, err := q.delayQueue(delayBucket(delay))
	if err != nil {
		return err
	}
	return q.publish(ctx, name, task)
}

func (q *RabbitTaskQueue) publish(ctx context.Context, routingKey string, task domain.Task) error {
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.ID,
		Type:         string(task.Name),
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}
	start := time.Now()
	q.mu.Lock()
	err = q.ch.PublishWithContext(ctx, "", routingKey, false, false, msg)
	q.mu.Unlock()
	metrics.ObserveNetworkRequest("rabbitmq", "publish", routingKey, start, err)
	if err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

// Receive ожидает следующую задачу. ack(false) возвращает сообщение брокеру.
func (q *RabbitTaskQueue) Receive(ctx context.Context) (domain.Task, domain.TaskAckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.Task{}, nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.Task{}, nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return domain.Task{}, nil, errors.New("rabbitmq: канал доставки закрыт")
			}
			task, err := decodeTask(d.Body)
			if err != nil {
				_ = d.Nack(false, false)
				return domain.Task{}, nil, err
			}
			ack := func(success bool) error {
				if success {
					return d.Ack(false)
				}
				return d.Nack(false, true)
			}
			return task, ack, nil
		}
	}
}

func (q *RabbitTaskQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.queue, err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close закрывает канал и соединение.
func (q *RabbitTaskQueue) Close() error {
	var err error
	if q.ch != nil {
		err = multierr.Append(err, q.ch.Close())
	}
	if q.conn != nil {
		err = multierr.Append(err, q.conn.Close())
	}
	return err
}

// delayBucket округляет задержку вверх до интервала очереди ожидания:
// до секунды в пределах минуты, до 10 секунд в пределах 10 минут, дальше до минуты.
// Так число очередей ограничено, а задержка никогда не сокращается.
func delayBucket(delay time.Duration) time.Duration {
	step := time.Minute
	switch {
	case delay <= time.Minute:
		step = time.Second
	case delay <= 10*time.Minute:
		step = 10 * time.Second
	}
	bucket := (delay + step - 1) / step * step
	if bucket < step {
		bucket = step
	}
	return bucket
}

func delayQueueName(queue string, bucket time.Duration) string {
	return queue + ".delayed." + strconv.FormatInt(bucket.Milliseconds(), 10)
}
