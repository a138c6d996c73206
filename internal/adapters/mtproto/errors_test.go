package mtproto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-insight-collector/internal/domain"
)

func TestClassifyFloodWait(t *testing.T) {
	err := classifyError(fmt.Errorf("rpc: %w", tgerr.New(420, "FLOOD_WAIT_30")))
	delay, ok := domain.AsFloodWait(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, delay)
}

func TestClassifyRevoked(t *testing.T) {
	for _, typ := range []string{"AUTH_KEY_UNREGISTERED", "SESSION_REVOKED", "USER_DEACTIVATED_BAN"} {
		err := classifyError(tgerr.New(401, typ))
		assert.ErrorIs(t, err, domain.ErrCredentialRevoked, typ)
	}
}

func TestClassifyNetwork(t *testing.T) {
	assert.ErrorIs(t, classifyError(io.ErrUnexpectedEOF), domain.ErrConnection)
}

func TestClassifyKeepsContextErrors(t *testing.T) {
	assert.Equal(t, context.DeadlineExceeded, classifyError(context.DeadlineExceeded))
	assert.Equal(t, context.Canceled, classifyError(context.Canceled))
}

func TestClassifyPassThrough(t *testing.T) {
	assert.NoError(t, classifyError(nil))
	other := errors.New("boom")
	assert.Equal(t, other, classifyError(other))
}

func TestChannelUnavailable(t *testing.T) {
	assert.True(t, isChannelUnavailable(tgerr.New(400, "USERNAME_NOT_OCCUPIED")))
	assert.True(t, isChannelUnavailable(tgerr.New(400, "CHANNEL_PRIVATE")))
	assert.False(t, isChannelUnavailable(tgerr.New(400, "MSG_ID_INVALID")))
	assert.True(t, isMissingDiscussion(tgerr.New(400, "MSG_ID_INVALID")))
}
