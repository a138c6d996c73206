package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-insight-collector/internal/domain"
)

const accountColumns = `id, name, session, is_active, is_banned, last_used_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Name, &a.Session, &a.IsActive, &a.IsBanned, &a.LastUsedAt)
	return a, err
}

// AcquireAccount берёт наименее недавно использованный аккаунт под блокировкой строки
// и сразу фиксирует last_used_at, чтобы конкурирующие воркеры получили другие аккаунты.
func (p *Postgres) AcquireAccount(ctx context.Context) (domain.Account, error) {
	var acc domain.Account
	err := p.withTx(ctx, func(tx *Postgres) error {
		q := tx.q
		ctx, cancel := p.connCtx(ctx)
		defer cancel()

		start := time.Now()
		a, err := scanAccount(q.QueryRow(ctx, `
SELECT `+accountColumns+`
FROM accounts
WHERE is_active AND NOT is_banned
ORDER BY last_used_at NULLS FIRST, id
LIMIT 1
FOR UPDATE SKIP LOCKED`))
		observe("accounts_acquire", "accounts", start, err)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNoAccountAvailable
		}
		if err != nil {
			return err
		}

		start = time.Now()
		err = q.QueryRow(ctx, `UPDATE accounts SET last_used_at = now() WHERE id = $1 RETURNING last_used_at`, a.ID).Scan(&a.LastUsedAt)
		observe("accounts_touch", "accounts", start, err)
		if err != nil {
			return err
		}
		acc = a
		return nil
	})
	if err != nil {
		return domain.Account{}, err
	}
	return acc, nil
}

// MarkAccountBanned выводит аккаунт из ротации.
func (p *Postgres) MarkAccountBanned(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.q.Exec(ctx, `UPDATE accounts SET is_banned = TRUE, is_active = FALSE WHERE id = $1`, id)
	observe("accounts_mark_banned", "accounts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertAccount сохраняет сессию аккаунта и возвращает его в ротацию.
func (p *Postgres) UpsertAccount(ctx context.Context, name, session string) (domain.Account, error) {
	if name == "" {
		return domain.Account{}, fmt.Errorf("account name is required: %w", domain.ErrValidation)
	}
	if session == "" {
		return domain.Account{}, fmt.Errorf("account session is required: %w", domain.ErrValidation)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	a, err := scanAccount(p.q.QueryRow(ctx, `
INSERT INTO accounts (name, session)
VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE
SET session = EXCLUDED.session,
    is_active = TRUE,
    is_banned = FALSE
RETURNING `+accountColumns, name, session))
	observe("accounts_upsert", "accounts", start, err)
	return a, err
}
