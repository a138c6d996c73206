package mtproto

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/gotd/td/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSessionPassesGotdJSON(t *testing.T) {
	raw := []byte(`  {"Version":1,"Data":{"DC":2}}  `)
	out, err := NormalizeSession(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Version":1,"Data":{"DC":2}}`, string(out))
}

func TestNormalizeSessionTelethonRows(t *testing.T) {
	key := strings.Repeat("ab", 256)
	rows, err := json.Marshal([]map[string]any{
		{"dc_id": 2, "server_address": "149.154.167.51", "port": 443, "auth_key": key},
	})
	require.NoError(t, err)

	out, err := NormalizeSession(rows)
	require.NoError(t, err)

	var decoded struct {
		Version int          `json:"Version"`
		Data    session.Data `json:"Data"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, 1, decoded.Version)
	assert.Equal(t, 2, decoded.Data.DC)
	assert.Equal(t, "149.154.167.51:443", decoded.Data.Addr)
	assert.Equal(t, key, hex.EncodeToString(decoded.Data.AuthKey))
	assert.Len(t, decoded.Data.AuthKeyID, 8)
}

func TestNormalizeSessionRejectsGarbage(t *testing.T) {
	_, err := NormalizeSession([]byte("   "))
	require.ErrorIs(t, err, ErrUnsupportedSessionFormat)

	_, err = NormalizeSession([]byte(`{"foo":"bar"}`))
	require.ErrorIs(t, err, ErrUnsupportedSessionFormat)
}

type stubCache struct {
	data   map[string][]byte
	stored map[string][]byte
	err    error
}

func (s *stubCache) LoadMTProtoSession(_ context.Context, name string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if d, ok := s.data[name]; ok {
		return d, nil
	}
	return nil, session.ErrNotFound
}

func (s *stubCache) StoreMTProtoSession(_ context.Context, name string, data []byte) error {
	if s.stored == nil {
		s.stored = map[string][]byte{}
	}
	s.stored[name] = data
	return nil
}

func TestAccountSessionPrefersCache(t *testing.T) {
	cache := &stubCache{data: map[string][]byte{"acc": []byte(`{"Version":1}`)}}
	s := &accountSession{cache: cache, name: "acc", seed: "ignored"}

	data, err := s.LoadSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"Version":1}`, string(data))

	require.NoError(t, s.StoreSession(context.Background(), []byte("new")))
	assert.Equal(t, "new", string(cache.stored["acc"]))
}

func TestAccountSessionFallsBackToSeed(t *testing.T) {
	s := &accountSession{cache: &stubCache{}, name: "acc", seed: `{"Version":1,"Data":{}}`}
	data, err := s.LoadSession(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"Version":1,"Data":{}}`, string(data))

	empty := &accountSession{cache: &stubCache{}, name: "acc"}
	_, err = empty.LoadSession(context.Background())
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestAccountSessionCacheFailure(t *testing.T) {
	s := &accountSession{cache: &stubCache{err: errors.New("db down")}, name: "acc", seed: "x"}
	_, err := s.LoadSession(context.Background())
	require.Error(t, err)
}
