package repo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-insight-collector/internal/domain"
)

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(pgx.ErrNoRows), domain.ErrNotFound)

	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "posts_channel_id_external_id_key"})
	assert.ErrorIs(t, mapError(unique), domain.ErrDuplicate)

	fk := &pgconn.PgError{Code: pgForeignKeyViolation, ConstraintName: "posts_channel_id_fkey"}
	assert.ErrorIs(t, mapError(fk), domain.ErrNotFound)

	other := errors.New("boom")
	assert.Equal(t, other, mapError(other))
}

func TestNullableJSON(t *testing.T) {
	data, err := marshalNullable[domain.Media](nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	media := &domain.Media{Type: "photo"}
	data, err = marshalNullable(media)
	require.NoError(t, err)

	back, err := unmarshalNullable[domain.Media](data)
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, "photo", back.Type)

	empty, err := unmarshalNullable[domain.Poll]([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestReactionsNeverNull(t *testing.T) {
	data, err := marshalReactions(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))

	r, err := unmarshalReactions(nil)
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestNullableString(t *testing.T) {
	assert.Nil(t, nullableString(""))
	require.NotNil(t, nullableString("k"))
	assert.Equal(t, "k", *nullableString("k"))
}
