package schedule

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-insight-collector/internal/adapters/memstore"
	"tg-insight-collector/internal/domain"
	"tg-insight-collector/internal/usecase/collection"
)

type fakeLocker struct {
	held map[string]bool
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func(context.Context) error {
		delete(l.held, key)
		return nil
	}, true, nil
}

type recordingPublisher struct {
	tasks []domain.Task
}

func (p *recordingPublisher) Publish(_ context.Context, task domain.Task) error {
	p.tasks = append(p.tasks, task)
	return nil
}

func newScheduler(store *memstore.Store, now time.Time) (*Service, *recordingPublisher, *fakeLocker) {
	publisher := &recordingPublisher{}
	locker := &fakeLocker{held: map[string]bool{}}
	svc := NewService(store, collection.NewService(store, publisher, 50), publisher, locker, zerolog.Nop(), Config{
		StatsWindow:   72 * time.Hour,
		StatsInterval: 6 * time.Hour,
		StatsBatch:    10,
	})
	svc.now = func() time.Time { return now }
	return svc, publisher, locker
}

func TestIsDue(t *testing.T) {
	last := time.Date(2024, 4, 1, 10, 10, 0, 0, time.UTC)
	hourly := domain.Channel{CollectionSchedule: "@hourly", LastScheduledAt: &last}

	due, err := IsDue(domain.Channel{CollectionSchedule: "@hourly"}, last)
	require.NoError(t, err)
	assert.True(t, due)

	due, err = IsDue(hourly, last.Add(40*time.Minute))
	require.NoError(t, err)
	assert.False(t, due)

	due, err = IsDue(hourly, time.Date(2024, 4, 1, 11, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, due)

	_, err = IsDue(domain.Channel{CollectionSchedule: "иногда"}, last)
	assert.Error(t, err)
}

func TestChannelTickPicksModePerChannel(t *testing.T) {
	store := memstore.New()
	now := time.Date(2024, 4, 1, 12, 30, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)
	withPosts := store.AddChannel(domain.Channel{ExternalID: 1, Name: "with_posts", IsActive: true})
	store.AddPost(domain.Post{ChannelID: withPosts.ID, ExternalID: 40})
	empty := store.AddChannel(domain.Channel{ExternalID: 2, Name: "empty_one", IsActive: true})
	store.AddChannel(domain.Channel{ExternalID: 3, Name: "sleeping", IsActive: false})
	store.AddChannel(domain.Channel{ExternalID: 4, Name: "not_due", IsActive: true, LastScheduledAt: &recent})

	svc, publisher, _ := newScheduler(store, now)
	require.NoError(t, svc.ChannelTick(context.Background()))
	require.Len(t, publisher.tasks, 2)

	byChannel := map[int64]domain.CollectPostsArgs{}
	for _, task := range publisher.tasks {
		var args domain.CollectPostsArgs
		require.NoError(t, json.Unmarshal(task.Args, &args))
		byChannel[args.ChannelID] = args
	}
	assert.Equal(t, int64(40), byChannel[withPosts.ID].MinID)
	assert.Zero(t, byChannel[empty.ID].MinID)
	assert.Equal(t, 50, byChannel[empty.ID].Limit)

	ch, err := store.GetChannel(context.Background(), empty.ID)
	require.NoError(t, err)
	require.NotNil(t, ch.LastScheduledAt)
	assert.True(t, now.Equal(*ch.LastScheduledAt))

	require.NoError(t, svc.ChannelTick(context.Background()))
	assert.Len(t, publisher.tasks, 2)
}

func TestGuardedSkipsWhenLocked(t *testing.T) {
	store := memstore.New()
	svc, _, locker := newScheduler(store, time.Now())
	locker.held["scheduler:outbox_cleanup"] = true

	ran := false
	err := svc.Guarded(context.Background(), "outbox_cleanup", func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLocked)
	assert.False(t, ran)

	require.NoError(t, svc.Guarded(context.Background(), "stats_tick", func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
	assert.False(t, locker.held["scheduler:stats_tick"])
}

func TestStatsTickSelectsStalePosts(t *testing.T) {
	store := memstore.New()
	now := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	ch := store.AddChannel(domain.Channel{ExternalID: 1, Name: "demo", IsActive: true})
	freshStats := now.Add(-time.Hour)
	staleStats := now.Add(-7 * time.Hour)
	never := store.AddPost(domain.Post{ChannelID: ch.ID, ExternalID: 1, CreatedAt: now.Add(-time.Hour)})
	store.AddPost(domain.Post{ChannelID: ch.ID, ExternalID: 2, CreatedAt: now.Add(-100 * time.Hour)})
	store.AddPost(domain.Post{ChannelID: ch.ID, ExternalID: 3, CreatedAt: now.Add(-2 * time.Hour), StatsLastUpdatedAt: &freshStats})
	stale := store.AddPost(domain.Post{ChannelID: ch.ID, ExternalID: 4, CreatedAt: now.Add(-20 * time.Hour), StatsLastUpdatedAt: &staleStats})

	svc, publisher, _ := newScheduler(store, now)
	require.NoError(t, svc.StatsTick(context.Background()))
	require.Len(t, publisher.tasks, 2)

	var ids []int64
	for _, task := range publisher.tasks {
		assert.Equal(t, domain.TaskUpdateStats, task.Name)
		var args domain.UpdateStatsArgs
		require.NoError(t, json.Unmarshal(task.Args, &args))
		ids = append(ids, args.PostID)
	}
	assert.Equal(t, []int64{never.ID, stale.ID}, ids)
}
