package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"tg-insight-collector/internal/infra/config"
	"tg-insight-collector/internal/infra/db"
	applog "tg-insight-collector/internal/infra/log"
)

func main() {
	flag.Parse()
	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)
	if cfg.PGDSN == "" {
		logger.Fatal().Msg("migrate: не указан PG_DSN")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.PGDSN, 1)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate: нет подключения к БД")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, command, flag.Args()[min(1, flag.NArg()):]...); err != nil {
		logger.Fatal().Err(err).Str("command", command).Msg("migrate: ошибка миграции")
	}
	logger.Info().Str("command", command).Msg("migrate: готово")
}
