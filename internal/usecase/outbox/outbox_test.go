package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-insight-collector/internal/adapters/memstore"
	"tg-insight-collector/internal/domain"
	"tg-insight-collector/internal/usecase/analysis"
	"tg-insight-collector/internal/usecase/collection"
)

type recordingQueue struct {
	tasks []domain.Task
	fail  map[domain.TaskName]error
}

func (q *recordingQueue) Publish(_ context.Context, task domain.Task) error {
	if err := q.fail[task.Name]; err != nil {
		return err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

type recordingAlerter struct{ texts []string }

func (a *recordingAlerter) Alert(_ context.Context, text string) error {
	a.texts = append(a.texts, text)
	return nil
}

func addEntry(t *testing.T, store *memstore.Store, name domain.TaskName, postID int64) domain.OutboxEntry {
	t.Helper()
	entry, err := domain.NewOutboxEntry(name, domain.AnalyzePostArgs{PostID: postID}, domain.DedupeKey(name, postID))
	require.NoError(t, err)
	return store.AddOutbox(entry)
}

func TestPublishBatchDeletesPublished(t *testing.T) {
	store := memstore.New()
	first := addEntry(t, store, domain.TaskAnalyzePost, 1)
	second := addEntry(t, store, domain.TaskCollectComments, 1)
	store.SetOutboxCreatedAt(first.ID, time.Now().Add(-time.Minute))
	store.SetOutboxCreatedAt(second.ID, time.Now().Add(-2*time.Minute))
	queue := &recordingQueue{}

	n, err := NewPublisher(store, queue, 10, zerolog.Nop()).PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, store.Outbox())
	require.Len(t, queue.tasks, 2)
	assert.Equal(t, domain.TaskCollectComments, queue.tasks[0].Name)
	assert.Equal(t, domain.TaskAnalyzePost, queue.tasks[1].Name)
	assert.NotEmpty(t, queue.tasks[0].ID)
	assert.JSONEq(t, `{"post_id":1}`, string(queue.tasks[1].Args))
}

func TestPublishBatchKeepsFailedRows(t *testing.T) {
	store := memstore.New()
	addEntry(t, store, domain.TaskAnalyzePost, 1)
	failed := addEntry(t, store, domain.TaskCollectComments, 1)
	queue := &recordingQueue{fail: map[domain.TaskName]error{domain.TaskCollectComments: errors.New("broker unavailable")}}

	n, err := NewPublisher(store, queue, 10, zerolog.Nop()).PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rest := store.Outbox()
	require.Len(t, rest, 1)
	assert.Equal(t, failed.ID, rest[0].ID)
	assert.Equal(t, 1, rest[0].RetryCount)
	assert.Equal(t, "broker unavailable", rest[0].LastError)
	assert.NotNil(t, rest[0].ProcessedAt)
	assert.Equal(t, domain.OutboxStatusPending, rest[0].Status)
}

func TestPublishBatchRespectsBatchSize(t *testing.T) {
	store := memstore.New()
	for i := int64(1); i <= 3; i++ {
		addEntry(t, store, domain.TaskAnalyzePost, i)
	}
	queue := &recordingQueue{}
	publisher := NewPublisher(store, queue, 2, zerolog.Nop())

	n, err := publisher.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, store.Outbox(), 1)

	n, err = publisher.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, store.Outbox())
}

func TestPublishBatchCommitFailureKeepsRows(t *testing.T) {
	store := memstore.New()
	addEntry(t, store, domain.TaskAnalyzePost, 1)
	store.Fail["Commit"] = errors.New("connection lost")
	queue := &recordingQueue{}

	_, err := NewPublisher(store, queue, 10, zerolog.Nop()).PublishBatch(context.Background())
	require.Error(t, err)
	assert.Len(t, queue.tasks, 1)
	assert.Len(t, store.Outbox(), 1)
}

func TestDuplicateDeliveryIsAbsorbed(t *testing.T) {
	store := memstore.New()
	channel := store.AddChannel(domain.Channel{ExternalID: 1000, Name: "demo", IsActive: true})
	units := collection.NewUnits(store, nil, nil, nil, zerolog.Nop(), collection.UnitsConfig{})
	raw, err := json.Marshal(domain.RawPost{ExternalID: 5, Text: "пост", CreatedAt: domain.NewTimestamp(time.Now())})
	require.NoError(t, err)
	process := domain.ProcessPostArgs{ChannelID: channel.ID, RawPost: raw}
	require.NoError(t, units.ProcessPost(context.Background(), process))
	require.Len(t, store.Outbox(), 2)

	queue := &recordingQueue{}
	publisher := NewPublisher(store, queue, 10, zerolog.Nop())
	store.Fail["Commit"] = errors.New("crash after send")
	_, err = publisher.PublishBatch(context.Background())
	require.Error(t, err)
	delete(store.Fail, "Commit")
	n, err := publisher.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, queue.tasks, 4)

	analyzer := analysis.NewService(store, stubAnalyzer{}, zerolog.Nop(), 10)
	for _, task := range queue.tasks {
		if task.Name != domain.TaskAnalyzePost {
			continue
		}
		var args domain.AnalyzePostArgs
		require.NoError(t, json.Unmarshal(task.Args, &args))
		require.NoError(t, analyzer.Analyze(context.Background(), args))
	}
	require.NoError(t, units.ProcessPost(context.Background(), process))

	assert.Len(t, store.Posts(), 1)
	assert.Len(t, store.Analyses(), 1)
	assert.Empty(t, store.Outbox())
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(context.Context, string, []string) (domain.AnalysisResult, error) {
	return domain.AnalysisResult{Summary: "итог", Model: "gpt-test"}, nil
}

func TestCleanupRemovesStaleRows(t *testing.T) {
	store := memstore.New()
	stale := addEntry(t, store, domain.TaskAnalyzePost, 1)
	fresh := addEntry(t, store, domain.TaskAnalyzePost, 2)
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	store.SetOutboxCreatedAt(stale.ID, now.Add(-8*24*time.Hour))
	store.SetOutboxCreatedAt(fresh.ID, now.Add(-time.Hour))
	alerter := &recordingAlerter{}
	cleaner := NewCleaner(store, alerter, 7*24*time.Hour, zerolog.Nop())
	cleaner.now = func() time.Time { return now }

	removed, err := cleaner.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	require.Len(t, store.Outbox(), 1)
	assert.Equal(t, fresh.ID, store.Outbox()[0].ID)
	assert.Len(t, alerter.texts, 1)

	removed, err = cleaner.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Len(t, alerter.texts, 1)
}
