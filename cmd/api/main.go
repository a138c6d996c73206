package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-insight-collector/internal/adapters/mtproto"
	"tg-insight-collector/internal/adapters/repo"
	"tg-insight-collector/internal/adapters/telegram"
	"tg-insight-collector/internal/infra/config"
	"tg-insight-collector/internal/infra/db"
	httpinfra "tg-insight-collector/internal/infra/http"
	applog "tg-insight-collector/internal/infra/log"
	"tg-insight-collector/internal/infra/metrics"
	"tg-insight-collector/internal/infra/queue"
	"tg-insight-collector/internal/usecase/analysis"
	"tg-insight-collector/internal/usecase/channels"
	"tg-insight-collector/internal/usecase/collection"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.PGDSN, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	taskQueue, closeQueue, err := queue.Open(queue.Options{
		Backend:     cfg.Queue.Backend,
		Key:         cfg.Queue.Key,
		RabbitMQURL: cfg.Queue.RabbitMQURL,
	}, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось открыть очередь задач")
	}
	defer func() {
		if err := closeQueue(); err != nil {
			logger.Error().Err(err).Msg("api: ошибка закрытия очереди")
		}
	}()

	alerter, err := telegram.NewAlerter(cfg.Alerts.BotToken, cfg.Alerts.ChatID, applog.With(logger, "alerts"))
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось создать бота оповещений")
	}
	collectors, err := mtproto.NewFactory(mtproto.Config{
		APIID:   cfg.Telegram.APIID,
		APIHash: cfg.Telegram.APIHash,
		RPS:     cfg.Collector.RPS,
		Burst:   cfg.Collector.Burst,
	}, store, applog.With(logger, "mtproto"))
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось создать фабрику MTProto")
	}

	triggers := collection.NewService(store, taskQueue, cfg.Collector.PostFetchLimit)
	registry := channels.NewService(store, collectors, alerter, triggers, applog.With(logger, "channels"))
	analysisService := analysis.NewService(store, nil, applog.With(logger, "analysis"), cfg.LLM.CommentLimit)

	server := httpinfra.NewServer(applog.With(logger, "http"))
	httpinfra.NewHandlers(triggers, registry, analysisService, applog.With(logger, "api")).Mount(server.Router)

	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка остановки сервера")
	}
}
