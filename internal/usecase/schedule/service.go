package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"tg-insight-collector/internal/domain"
)

// ErrLocked возвращается, если задание уже выполняет другой экземпляр планировщика.
var ErrLocked = errors.New("задание выполняется другим экземпляром")

type postsTrigger interface {
	TriggerPosts(ctx context.Context, req domain.DispatchRequest) (domain.Task, error)
}

// Config: параметры периодических заданий.
type Config struct {
	StatsWindow   time.Duration
	StatsInterval time.Duration
	StatsBatch    int
	LockTTL       time.Duration
}

// Service выполняет периодические задания планировщика.
type Service struct {
	repo      domain.Repository
	posts     postsTrigger
	publisher domain.TaskPublisher
	locker    domain.Locker
	log       zerolog.Logger
	cfg       Config
	now       func() time.Time
}

// NewService создаёт сервис расписаний.
func NewService(repo domain.Repository, posts postsTrigger, publisher domain.TaskPublisher, locker domain.Locker, log zerolog.Logger, cfg Config) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 50 * time.Second
	}
	return &Service{
		repo:      repo,
		posts:     posts,
		publisher: publisher,
		locker:    locker,
		log:       log,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Schedule добавляет задание в cron. Каждый запуск берёт распределённую блокировку по имени задания.
func (s *Service) Schedule(ctx context.Context, c *cron.Cron, spec, name string, job func(context.Context) error) error {
	_, err := c.AddFunc(spec, func() {
		start := time.Now()
		err := s.Guarded(ctx, name, job)
		switch {
		case errors.Is(err, ErrLocked):
			s.log.Debug().Str("job", name).Msg("schedule: задание занято другим экземпляром")
		case err != nil:
			s.log.Error().Err(err).Str("job", name).Msg("schedule: задание завершилось ошибкой")
		default:
			s.log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("schedule: задание выполнено")
		}
	})
	if err != nil {
		return fmt.Errorf("cron %s %q: %w", name, spec, err)
	}
	return nil
}

// Guarded выполняет job под блокировкой name.
func (s *Service) Guarded(ctx context.Context, name string, job func(context.Context) error) error {
	release, ok, err := s.locker.TryLock(ctx, "scheduler:"+name, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("блокировка %s: %w", name, err)
	}
	if !ok {
		return ErrLocked
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn().Err(err).Str("job", name).Msg("schedule: не удалось снять блокировку")
		}
	}()
	return job(ctx)
}

// ChannelTick ставит сбор для каналов, у которых по расписанию наступило время.
// Канал без постов получает первичный сбор вместо инкрементального.
func (s *Service) ChannelTick(ctx context.Context) error {
	channels, err := s.repo.ListActiveChannels(ctx)
	if err != nil {
		return fmt.Errorf("активные каналы: %w", err)
	}
	now := s.now()
	var errs error
	for _, ch := range channels {
		log := s.log.With().Int64("channel_id", ch.ID).Str("channel", ch.Name).Logger()
		due, err := IsDue(ch, now)
		if err != nil {
			log.Warn().Err(err).Str("schedule", ch.CollectionSchedule).Msg("schedule: некорректное расписание канала")
			continue
		}
		if !due {
			continue
		}
		mode := domain.DispatchNew
		_, err = s.posts.TriggerPosts(ctx, domain.DispatchRequest{ChannelID: ch.ID, Mode: mode})
		if errors.Is(err, domain.ErrNotEligible) {
			mode = domain.DispatchInitial
			_, err = s.posts.TriggerPosts(ctx, domain.DispatchRequest{ChannelID: ch.ID, Mode: mode})
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("канал %d: %w", ch.ID, err))
			continue
		}
		if err := s.repo.MarkScheduled(ctx, ch.ID, now); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("отметка канала %d: %w", ch.ID, err))
			continue
		}
		log.Info().Str("mode", string(mode)).Msg("schedule: сбор канала поставлен")
	}
	return errs
}

// IsDue сообщает, наступило ли по расписанию канала время очередного сбора.
func IsDue(ch domain.Channel, now time.Time) (bool, error) {
	spec := ch.CollectionSchedule
	if spec == "" {
		spec = domain.DefaultCollectionSchedule
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return false, err
	}
	if ch.LastScheduledAt == nil {
		return true, nil
	}
	return !sched.Next(*ch.LastScheduledAt).After(now), nil
}

// StatsTick ставит обновление статистики для свежих постов с устаревшими счётчиками.
func (s *Service) StatsTick(ctx context.Context) error {
	now := s.now()
	ids, err := s.repo.ListPostsForStatsRefresh(ctx, now.Add(-s.cfg.StatsWindow), now.Add(-s.cfg.StatsInterval), s.cfg.StatsBatch)
	if err != nil {
		return fmt.Errorf("посты для статистики: %w", err)
	}
	for _, id := range ids {
		task, err := domain.NewTask(domain.TaskUpdateStats, domain.UpdateStatsArgs{PostID: id})
		if err != nil {
			return err
		}
		if err := s.publisher.Publish(ctx, task); err != nil {
			return fmt.Errorf("публикация статистики поста %d: %w", id, err)
		}
	}
	if len(ids) > 0 {
		s.log.Info().Int("posts", len(ids)).Msg("schedule: поставлено обновление статистики")
	}
	return nil
}
