package mtproto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/gotd/td/tgerr"

	"tg-insight-collector/internal/domain"
)

var revokedTypes = []string{
	"AUTH_KEY_UNREGISTERED",
	"AUTH_KEY_INVALID",
	"AUTH_KEY_DUPLICATED",
	"SESSION_REVOKED",
	"SESSION_EXPIRED",
	"USER_DEACTIVATED",
	"USER_DEACTIVATED_BAN",
}

var channelUnavailableTypes = []string{
	"CHANNEL_PRIVATE",
	"CHANNEL_INVALID",
	"USERNAME_NOT_OCCUPIED",
	"USERNAME_INVALID",
	"CHANNEL_PUBLIC_GROUP_NA",
}

// classifyError переводит ошибки MTProto в доменные.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &domain.FloodWaitError{Delay: d, Err: err}
	}
	if tgerr.Is(err, revokedTypes...) || tgerr.IsCode(err, 401) {
		return fmt.Errorf("%w: %v", domain.ErrCredentialRevoked, err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	return err
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// isChannelUnavailable сообщает, что канал не существует или закрыт для аккаунта.
func isChannelUnavailable(err error) bool {
	return tgerr.Is(err, channelUnavailableTypes...)
}

// isMissingDiscussion сообщает, что у поста нет обсуждения.
func isMissingDiscussion(err error) bool {
	return tgerr.Is(err, "MSG_ID_INVALID", "CHAT_ID_INVALID")
}
