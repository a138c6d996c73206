package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"tg-insight-collector/internal/adapters/mtproto"
	"tg-insight-collector/internal/adapters/repo"
	"tg-insight-collector/internal/infra/config"
	"tg-insight-collector/internal/infra/db"
	applog "tg-insight-collector/internal/infra/log"
)

func main() {
	var (
		filePath    string
		sessionText string
		accountName string
	)
	flag.StringVar(&filePath, "file", "", "Path to session file (Telethon string, Telethon JSON export or gotd JSON)")
	flag.StringVar(&sessionText, "session", "", "Session string, alternative to -file")
	flag.StringVar(&accountName, "name", "", "Account name in the pool")
	flag.Parse()

	cfg := config.Load()
	logger := applog.With(applog.NewLogger(cfg.AppEnv), "mtproto-importer")

	if accountName == "" {
		logger.Fatal().Msg("mtproto-importer: account name is required (-name)")
	}
	raw := []byte(strings.TrimSpace(sessionText))
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("mtproto-importer: failed to read session file")
		}
		raw = data
	}
	if len(raw) == 0 {
		logger.Fatal().Msg("mtproto-importer: session is required (-file or -session)")
	}
	normalized, err := mtproto.NormalizeSession(raw)
	if err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: unsupported MTProto session format")
	}

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("mtproto-importer: PG_DSN environment variable is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.PGDSN, 1)
	if err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: failed to connect to database")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	account, err := store.UpsertAccount(ctx, accountName, string(normalized))
	if err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: failed to store account")
	}
	if err := store.DeleteMTProtoSession(ctx, accountName); err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: failed to drop cached session")
	}
	fmt.Printf("Stored account %q (id %d, %d bytes of session); it is active and not banned\n", account.Name, account.ID, len(normalized))
}
