package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"tg-insight-collector/internal/adapters/repo"
	"tg-insight-collector/internal/adapters/telegram"
	"tg-insight-collector/internal/infra/config"
	"tg-insight-collector/internal/infra/db"
	"tg-insight-collector/internal/infra/lock"
	applog "tg-insight-collector/internal/infra/log"
	"tg-insight-collector/internal/infra/metrics"
	"tg-insight-collector/internal/infra/queue"
	"tg-insight-collector/internal/usecase/collection"
	"tg-insight-collector/internal/usecase/outbox"
	"tg-insight-collector/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.With(logger, "metrics"), cfg.MetricsAddr)

	pool, err := db.Connect(ctx, cfg.PGDSN, 4)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
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
		logger.Fatal().Err(err).Msg("scheduler: не удалось открыть очередь задач")
	}
	defer func() {
		if err := closeQueue(); err != nil {
			logger.Error().Err(err).Msg("scheduler: ошибка закрытия очереди")
		}
	}()

	alerter, err := telegram.NewAlerter(cfg.Alerts.BotToken, cfg.Alerts.ChatID, applog.With(logger, "alerts"))
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось создать бота оповещений")
	}

	publisher := outbox.NewPublisher(store, taskQueue, cfg.Outbox.BatchSize, applog.With(logger, "outbox"))
	cleaner := outbox.NewCleaner(store, alerter, cfg.Outbox.Retention, applog.With(logger, "outbox"))
	triggers := collection.NewService(store, taskQueue, cfg.Collector.PostFetchLimit)
	scheduler := schedule.NewService(store, triggers, taskQueue, lock.NewRedis(redisClient, "lock:"), applog.With(logger, "schedule"), schedule.Config{
		StatsWindow:   cfg.Schedule.StatsWindow,
		StatsInterval: cfg.Schedule.StatsInterval,
		StatsBatch:    cfg.Schedule.StatsBatch,
		LockTTL:       cfg.Schedule.LockTTL,
	})

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	jobs := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{cfg.Outbox.PublishInterval, "outbox_publish", func(ctx context.Context) error {
			_, err := publisher.PublishBatch(ctx)
			return err
		}},
		{cfg.Outbox.CleanupSchedule, "outbox_cleanup", func(ctx context.Context) error {
			_, err := cleaner.Cleanup(ctx)
			return err
		}},
		{cfg.Schedule.ChannelTick, "channel_tick", scheduler.ChannelTick},
		{cfg.Schedule.StatsTick, "stats_tick", scheduler.StatsTick},
	}
	for _, job := range jobs {
		if err := scheduler.Schedule(ctx, c, job.spec, job.name, job.run); err != nil {
			logger.Fatal().Err(err).Msg("scheduler: некорректное расписание")
		}
	}

	c.Start()
	logger.Info().Int("jobs", len(jobs)).Msg("scheduler: запущен")
	<-ctx.Done()
	logger.Info().Msg("scheduler: остановка")
	<-c.Stop().Done()
}
