package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-insight-collector/internal/domain"
)

func TestProcessingKeyPerConsumer(t *testing.T) {
	assert.Equal(t, "tasks:processing:worker-1", NewRedisTaskQueue(nil, "tasks", "worker-1").processingKey())
	assert.Equal(t, "tasks:processing:default", NewRedisTaskQueue(nil, "tasks", "").processingKey())
}

// liveRedis возвращает клиента к REDIS_TEST_ADDR или пропускает тест.
func liveRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR не задан")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestUnackedTaskSurvivesConsumerCrash(t *testing.T) {
	client := liveRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	key := "test_tasks_" + uuid.NewString()
	t.Cleanup(func() {
		client.Del(context.Background(), key, key+":delayed", key+":processing:w1")
	})

	q := NewRedisTaskQueue(client, key, "w1")
	task, err := domain.NewTask(domain.TaskAnalyzePost, domain.AnalyzePostArgs{PostID: 7})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, task))

	got, _, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.EqualValues(t, 0, client.LLen(ctx, key).Val())
	assert.EqualValues(t, 1, client.LLen(ctx, key+":processing:w1").Val())

	// воркер упал без ack: новый экземпляр с тем же именем забирает задачу обратно
	restarted := NewRedisTaskQueue(client, key, "w1")
	n, err := restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, ack, err := restarted.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, again.ID)
	require.NoError(t, ack(true))
	assert.EqualValues(t, 0, client.LLen(ctx, key+":processing:w1").Val())
	assert.EqualValues(t, 0, client.LLen(ctx, key).Val())
}

func TestNackedTaskReturnsToHead(t *testing.T) {
	client := liveRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	key := "test_tasks_" + uuid.NewString()
	t.Cleanup(func() {
		client.Del(context.Background(), key, key+":delayed", key+":processing:w1")
	})

	q := NewRedisTaskQueue(client, key, "w1")
	first, err := domain.NewTask(domain.TaskAnalyzePost, domain.AnalyzePostArgs{PostID: 1})
	require.NoError(t, err)
	second, err := domain.NewTask(domain.TaskAnalyzePost, domain.AnalyzePostArgs{PostID: 2})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, first))
	require.NoError(t, q.Publish(ctx, second))

	got, ack, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	require.NoError(t, ack(false))
	require.NoError(t, ack(false))

	got, _, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.EqualValues(t, 1, client.LLen(ctx, key).Val())
}
