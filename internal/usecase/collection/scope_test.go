package collection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-insight-collector/internal/adapters/memstore"
	"tg-insight-collector/internal/domain"
)

func TestScopeBansRevokedAccountOnce(t *testing.T) {
	store := memstore.New()
	acc := store.AddAccount(domain.Account{Name: "main", IsActive: true})
	collector := &stubCollector{initErr: fmt.Errorf("auth: %w", domain.ErrCredentialRevoked)}
	alerter := &recordingAlerter{}
	scope := NewScope(store, &stubFactory{collector: collector}, alerter, zerolog.Nop())

	_, err := scope.Collector(context.Background())
	require.ErrorIs(t, err, domain.ErrCredentialRevoked)

	err = scope.Observe(context.Background(), fmt.Errorf("again: %w", domain.ErrCredentialRevoked))
	require.ErrorIs(t, err, domain.ErrCredentialRevoked)

	accounts := store.Accounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, acc.ID, accounts[0].ID)
	assert.True(t, accounts[0].IsBanned)
	assert.False(t, accounts[0].IsActive)
	assert.Len(t, alerter.texts, 1)
	assert.Equal(t, 1, collector.disconnects)
	assert.NoError(t, scope.Close(context.Background()))
}

func TestScopeObserveIgnoresOtherErrors(t *testing.T) {
	store := memstore.New()
	store.AddAccount(domain.Account{Name: "main", IsActive: true})
	collector := &stubCollector{}
	scope := NewScope(store, &stubFactory{collector: collector}, nil, zerolog.Nop())

	_, err := scope.Collector(context.Background())
	require.NoError(t, err)
	boom := errors.New("boom")
	assert.Same(t, boom, scope.Observe(context.Background(), boom))
	assert.False(t, store.Accounts()[0].IsBanned)
}

func TestScopeWithoutAccounts(t *testing.T) {
	store := memstore.New()
	store.AddAccount(domain.Account{Name: "banned", IsActive: false, IsBanned: true})
	scope := NewScope(store, &stubFactory{collector: &stubCollector{}}, nil, zerolog.Nop())

	_, err := scope.Collector(context.Background())
	require.ErrorIs(t, err, domain.ErrNoAccountAvailable)
	_, ok := scope.Account()
	assert.False(t, ok)
	assert.NoError(t, scope.Close(context.Background()))
}

func TestScopeCloseIsIdempotent(t *testing.T) {
	store := memstore.New()
	store.AddAccount(domain.Account{Name: "main", IsActive: true})
	collector := &stubCollector{}
	factory := &stubFactory{collector: collector}
	scope := NewScope(store, factory, nil, zerolog.Nop())

	first, err := scope.Collector(context.Background())
	require.NoError(t, err)
	second, err := scope.Collector(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Len(t, factory.accounts, 1)

	require.NoError(t, scope.Close(context.Background()))
	require.NoError(t, scope.Close(context.Background()))
	assert.Equal(t, 1, collector.disconnects)

	_, err = scope.Collector(context.Background())
	assert.ErrorIs(t, err, errScopeClosed)
}

func TestAcquireRotatesLeastRecentlyUsed(t *testing.T) {
	store := memstore.New()
	old := time.Now().Add(-time.Hour)
	recent := time.Now().Add(-time.Minute)
	store.AddAccount(domain.Account{Name: "banned", IsActive: true, IsBanned: true})
	store.AddAccount(domain.Account{Name: "off", IsActive: false})
	store.AddAccount(domain.Account{Name: "recent", IsActive: true, LastUsedAt: &recent})
	store.AddAccount(domain.Account{Name: "old", IsActive: true, LastUsedAt: &old})
	store.AddAccount(domain.Account{Name: "fresh", IsActive: true})

	var names []string
	for i := 0; i < 3; i++ {
		acc, err := store.AcquireAccount(context.Background())
		require.NoError(t, err)
		names = append(names, acc.Name)
	}
	assert.Equal(t, []string{"fresh", "old", "recent"}, names)
}

func TestConcurrentAcquireHandsOutDistinctAccounts(t *testing.T) {
	const workers = 8
	store := memstore.New()
	for i := 0; i < workers; i++ {
		store.AddAccount(domain.Account{Name: fmt.Sprintf("acc%d", i), IsActive: true})
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[int64]int{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc, err := store.AcquireAccount(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[acc.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, workers)
	for id, n := range ids {
		assert.Equal(t, 1, n, "account %d acquired twice", id)
	}
}
