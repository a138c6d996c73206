package channels

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-insight-collector/internal/adapters/memstore"
	"tg-insight-collector/internal/domain"
)

func TestParseAlias(t *testing.T) {
	cases := map[string]string{
		"@Example":                 "example",
		"https://t.me/A":           "",
		"t.me/golang":              "golang",
		"https://t.me/durov_news/": "durov_news",
		"  @tg_insight ":           "tg_insight",
		"https://example.com/x":    "",
	}
	for input, expected := range cases {
		alias, err := ParseAlias(input)
		if expected == "" {
			if err == nil {
				t.Fatalf("ожидали ошибку для %s", input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if alias != expected {
			t.Fatalf("ожидали %s, получили %s", expected, alias)
		}
	}
}

type stubCollector struct {
	info        *domain.ChannelInfo
	err         error
	disconnects int
}

func (c *stubCollector) Initialize(context.Context) error { return nil }
func (c *stubCollector) GetChannelInfo(context.Context, string) (*domain.ChannelInfo, error) {
	return c.info, c.err
}
func (c *stubCollector) IterPosts(context.Context, domain.ChannelRef, domain.PostQuery) iter.Seq2[domain.RawPost, error] {
	return func(func(domain.RawPost, error) bool) {}
}
func (c *stubCollector) GetCommentsForPost(context.Context, domain.ChannelRef, int64, int64) iter.Seq2[domain.RawComment, error] {
	return func(func(domain.RawComment, error) bool) {}
}
func (c *stubCollector) GetSinglePost(context.Context, domain.ChannelRef, int64) (*domain.RawPost, error) {
	return nil, nil
}
func (c *stubCollector) Disconnect(context.Context) error {
	c.disconnects++
	return nil
}

type stubFactory struct{ collector *stubCollector }

func (f stubFactory) NewCollector(domain.Account) (domain.SourceCollector, error) {
	return f.collector, nil
}

type stubDispatcher struct {
	requests []domain.DispatchRequest
	err      error
}

func (d *stubDispatcher) TriggerPosts(_ context.Context, req domain.DispatchRequest) (domain.Task, error) {
	d.requests = append(d.requests, req)
	return domain.Task{ID: "t"}, d.err
}

func newService(collector *stubCollector) (*Service, *memstore.Store, *stubDispatcher) {
	store := memstore.New()
	store.AddAccount(domain.Account{Name: "main", IsActive: true})
	dispatcher := &stubDispatcher{}
	return NewService(store, stubFactory{collector: collector}, nil, dispatcher, zerolog.Nop()), store, dispatcher
}

func TestRegisterChannel(t *testing.T) {
	collector := &stubCollector{info: &domain.ChannelInfo{ExternalID: 1001, Username: "GoNews", Title: "Go News"}}
	svc, store, dispatcher := newService(collector)

	ch, err := svc.Register(context.Background(), "https://t.me/gonews")
	require.NoError(t, err)
	assert.Equal(t, "gonews", ch.Name)
	assert.Equal(t, int64(1001), ch.ExternalID)
	assert.True(t, ch.IsActive)
	assert.Equal(t, domain.DefaultCollectionSchedule, ch.CollectionSchedule)
	assert.Equal(t, 1, collector.disconnects)

	require.Len(t, dispatcher.requests, 1)
	assert.Equal(t, domain.DispatchInitial, dispatcher.requests[0].Mode)
	assert.Equal(t, ch.ID, dispatcher.requests[0].ChannelID)

	_, err = svc.Register(context.Background(), "@gonews")
	assert.ErrorIs(t, err, domain.ErrConflict)

	stored, err := store.FindChannelByExternalID(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, "Go News", stored.Title)
}

func TestRegisterDuplicateByExternalID(t *testing.T) {
	collector := &stubCollector{info: &domain.ChannelInfo{ExternalID: 1001, Username: "renamed"}}
	svc, store, dispatcher := newService(collector)
	store.AddChannel(domain.Channel{ExternalID: 1001, Name: "oldname", IsActive: true})

	_, err := svc.Register(context.Background(), "@renamed")
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, dispatcher.requests)
}

func TestRegisterUnavailableChannel(t *testing.T) {
	svc, _, _ := newService(&stubCollector{})
	_, err := svc.Register(context.Background(), "@private_one")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Register(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRegisterKeepsChannelWhenDispatchFails(t *testing.T) {
	collector := &stubCollector{info: &domain.ChannelInfo{ExternalID: 1001, Username: "gonews"}}
	svc, store, dispatcher := newService(collector)
	dispatcher.err = errors.New("queue down")

	_, err := svc.Register(context.Background(), "@gonews")
	require.NoError(t, err)
	_, err = store.FindChannelByName(context.Background(), "gonews")
	assert.NoError(t, err)
}

func TestRegisterRevokedAccount(t *testing.T) {
	collector := &stubCollector{err: domain.ErrCredentialRevoked}
	svc, store, _ := newService(collector)

	_, err := svc.Register(context.Background(), "@gonews")
	require.ErrorIs(t, err, domain.ErrCredentialRevoked)
	assert.True(t, store.Accounts()[0].IsBanned)
}

func TestSetSchedule(t *testing.T) {
	svc, store, _ := newService(&stubCollector{})
	ch := store.AddChannel(domain.Channel{ExternalID: 1, Name: "demo", IsActive: true})

	require.NoError(t, svc.SetSchedule(context.Background(), ch.ID, "*/30 * * * *"))
	require.NoError(t, svc.SetSchedule(context.Background(), ch.ID, "@every 2h"))
	assert.ErrorIs(t, svc.SetSchedule(context.Background(), ch.ID, "every day"), domain.ErrValidation)
	assert.ErrorIs(t, svc.SetSchedule(context.Background(), 404, "@daily"), domain.ErrNotFound)

	stored, err := store.GetChannel(context.Background(), ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "@every 2h", stored.CollectionSchedule)

	require.NoError(t, svc.SetActive(context.Background(), ch.ID, false))
	stored, err = store.GetChannel(context.Background(), ch.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}
