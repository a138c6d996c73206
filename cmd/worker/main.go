package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-insight-collector/internal/adapters/analyzer"
	"tg-insight-collector/internal/adapters/mtproto"
	"tg-insight-collector/internal/adapters/repo"
	"tg-insight-collector/internal/adapters/telegram"
	"tg-insight-collector/internal/domain"
	"tg-insight-collector/internal/infra/config"
	"tg-insight-collector/internal/infra/db"
	applog "tg-insight-collector/internal/infra/log"
	"tg-insight-collector/internal/infra/metrics"
	"tg-insight-collector/internal/infra/openai"
	"tg-insight-collector/internal/infra/queue"
	"tg-insight-collector/internal/usecase/analysis"
	"tg-insight-collector/internal/usecase/collection"
	"tg-insight-collector/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.With(logger, "metrics"), cfg.MetricsAddr)

	pool, err := db.Connect(ctx, cfg.PGDSN, int32(cfg.Tasks.Concurrency+2))
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	consumer := cfg.Queue.Consumer
	if consumer == "" {
		consumer, _ = os.Hostname()
	}
	taskQueue, closeQueue, err := queue.Open(queue.Options{
		Backend:     cfg.Queue.Backend,
		Key:         cfg.Queue.Key,
		Consumer:    consumer,
		RabbitMQURL: cfg.Queue.RabbitMQURL,
		Prefetch:    cfg.Tasks.Concurrency,
	}, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось открыть очередь задач")
	}
	defer func() {
		if err := closeQueue(); err != nil {
			logger.Error().Err(err).Msg("worker: ошибка закрытия очереди")
		}
	}()
	if r, ok := taskQueue.(queue.Recoverer); ok {
		n, err := r.Recover(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось вернуть незавершённые задачи")
		}
		if n > 0 {
			logger.Warn().Int("tasks", n).Str("consumer", consumer).Msg("worker: незавершённые задачи возвращены в очередь")
		}
	}

	alerter, err := telegram.NewAlerter(cfg.Alerts.BotToken, cfg.Alerts.ChatID, applog.With(logger, "alerts"))
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать бота оповещений")
	}

	collectors, err := mtproto.NewFactory(mtproto.Config{
		APIID:        cfg.Telegram.APIID,
		APIHash:      cfg.Telegram.APIHash,
		RPS:          cfg.Collector.RPS,
		Burst:        cfg.Collector.Burst,
		PageSize:     cfg.Collector.PageSize,
		CommentLimit: cfg.Collector.CommentLimit,
	}, store, applog.With(logger, "mtproto"))
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать фабрику MTProto")
	}

	var postAnalyzer domain.Analyzer
	if cfg.LLM.APIKey == "" {
		logger.Warn().Msg("worker: не указан ключ OpenAI (OPENAI_API_KEY), задачи анализа будут завершаться ошибкой")
	} else {
		client := openai.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Timeout)
		postAnalyzer = analyzer.NewOpenAI(client, cfg.LLM.Model, cfg.LLM.MaxPromptLength)
	}

	units := collection.NewUnits(store, collectors, taskQueue, alerter, applog.With(logger, "collection"), collection.UnitsConfig{
		CommentBatchSize: cfg.Collector.CommentBatchSize,
	})
	analysisService := analysis.NewService(store, postAnalyzer, applog.With(logger, "analysis"), cfg.LLM.CommentLimit)

	policy := collection.RetryPolicy{
		MaxRetries:          cfg.Tasks.MaxRetries,
		RetryDelay:          cfg.Tasks.RetryDelay,
		MaxRetryDelay:       cfg.Tasks.MaxRetryDelay,
		FloodWaitMargin:     cfg.Tasks.FloodWaitMargin,
		FloodWaitMaxRetries: cfg.Tasks.FloodWaitMaxRetries,
	}
	w := worker.New(taskQueue, policy, applog.With(logger, "worker"), worker.Config{
		Concurrency:   cfg.Tasks.Concurrency,
		SoftTimeLimit: cfg.Tasks.SoftTimeLimit,
		HardTimeLimit: cfg.Tasks.HardTimeLimit,
		ErrorBackoff:  time.Second,
	})
	w.Register(domain.TaskCollectPosts, worker.Handle(units.Dispatch))
	w.Register(domain.TaskProcessPost, worker.Handle(units.ProcessPost))
	w.Register(domain.TaskCollectComments, worker.Handle(units.CollectComments))
	w.Register(domain.TaskUpdateStats, worker.Handle(units.UpdateStats))
	w.Register(domain.TaskAnalyzePost, worker.Handle(analysisService.Analyze))

	logger.Info().Str("queue", cfg.Queue.Backend).Int("concurrency", cfg.Tasks.Concurrency).Msg("worker: запуск обработки очереди")
	w.Run(ctx)
	logger.Info().Msg("worker: остановлен")
}
