package repo

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5"
)

// LoadMTProtoSession загружает сохранённую MTProto-сессию аккаунта.
func (p *Postgres) LoadMTProtoSession(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var data []byte
	start := time.Now()
	err := p.q.QueryRow(ctx, `SELECT data FROM mtproto_sessions WHERE name = $1`, name).Scan(&data)
	observe("mtproto_sessions_load", "mtproto_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

// StoreMTProtoSession сохраняет MTProto-сессию аккаунта.
func (p *Postgres) StoreMTProtoSession(ctx context.Context, name string, data []byte) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.q.Exec(ctx, `
INSERT INTO mtproto_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, name, append([]byte(nil), data...))
	observe("mtproto_sessions_store", "mtproto_sessions", start, err)
	return err
}

// DeleteMTProtoSession удаляет кэш сессии, например после повторного импорта аккаунта.
func (p *Postgres) DeleteMTProtoSession(ctx context.Context, name string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.q.Exec(ctx, `DELETE FROM mtproto_sessions WHERE name = $1`, name)
	observe("mtproto_sessions_delete", "mtproto_sessions", start, err)
	return err
}
