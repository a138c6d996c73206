package mtproto

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/session"
)

// SessionCache хранит обновлённые gotd-сессии аккаунтов.
type SessionCache interface {
	LoadMTProtoSession(ctx context.Context, name string) ([]byte, error)
	StoreMTProtoSession(ctx context.Context, name string, data []byte) error
}

// accountSession реализует session.Storage для одного аккаунта пула: сначала
// читается кэш, при его отсутствии используется исходная сессия аккаунта.
type accountSession struct {
	cache SessionCache
	name  string
	seed  string
}

var _ session.Storage = (*accountSession)(nil)

func (s *accountSession) LoadSession(ctx context.Context) ([]byte, error) {
	if s.cache != nil {
		data, err := s.cache.LoadMTProtoSession(ctx, s.name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("load session cache: %w", err)
		}
	}
	if s.seed == "" {
		return nil, session.ErrNotFound
	}
	data, err := NormalizeSession([]byte(s.seed))
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", s.name, err)
	}
	return data, nil
}

func (s *accountSession) StoreSession(ctx context.Context, data []byte) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.StoreMTProtoSession(ctx, s.name, data)
}
