package channels

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tg-insight-collector/internal/domain"
	"tg-insight-collector/internal/usecase/collection"
)

// ErrAliasInvalid: ввод не похож на публичный алиас канала.
var ErrAliasInvalid = fmt.Errorf("%w: некорректный алиас", domain.ErrValidation)

var aliasRegex = regexp.MustCompile(`(?i)^(?:@|https?://t\.me/|t\.me/)?([a-z0-9_]{5,})/?$`)

type dispatcher interface {
	TriggerPosts(ctx context.Context, req domain.DispatchRequest) (domain.Task, error)
}

// Service управляет реестром отслеживаемых каналов.
type Service struct {
	store      domain.Store
	collectors domain.CollectorFactory
	alerter    domain.Alerter
	dispatcher dispatcher
	log        zerolog.Logger
}

// NewService создаёт сервис каналов.
func NewService(store domain.Store, collectors domain.CollectorFactory, alerter domain.Alerter, dispatcher dispatcher, log zerolog.Logger) *Service {
	return &Service{store: store, collectors: collectors, alerter: alerter, dispatcher: dispatcher, log: log}
}

// ParseAlias приводит ввод пользователя к каноничному алиасу.
func ParseAlias(input string) (string, error) {
	trim := strings.TrimSpace(input)
	matches := aliasRegex.FindStringSubmatch(trim)
	if len(matches) < 2 {
		return "", ErrAliasInvalid
	}
	return strings.ToLower(matches[1]), nil
}

// Register резолвит канал у провайдера, сохраняет его и ставит первичный сбор.
func (s *Service) Register(ctx context.Context, identifier string) (domain.Channel, error) {
	name, err := ParseAlias(identifier)
	if err != nil {
		return domain.Channel{}, err
	}
	if err := s.ensureAbsent(s.store.FindChannelByName(ctx, name)); err != nil {
		return domain.Channel{}, err
	}

	info, err := s.resolve(ctx, name)
	if err != nil {
		return domain.Channel{}, err
	}
	if err := s.ensureAbsent(s.store.FindChannelByExternalID(ctx, info.ExternalID)); err != nil {
		return domain.Channel{}, err
	}
	if info.Username != "" {
		name = strings.ToLower(info.Username)
	}

	channel, err := s.store.InsertChannel(ctx, domain.Channel{
		ExternalID:         info.ExternalID,
		Name:               name,
		Title:              info.Title,
		IsActive:           true,
		CollectionSchedule: domain.DefaultCollectionSchedule,
	})
	if errors.Is(err, domain.ErrDuplicate) {
		return domain.Channel{}, fmt.Errorf("канал %s: %w", name, domain.ErrConflict)
	}
	if err != nil {
		return domain.Channel{}, fmt.Errorf("сохранение канала: %w", err)
	}
	log := s.log.With().Int64("channel_id", channel.ID).Str("channel", channel.Name).Logger()
	log.Info().Int("participants", info.ParticipantsCount).Msg("channels: канал зарегистрирован")

	if _, err := s.dispatcher.TriggerPosts(ctx, domain.DispatchRequest{ChannelID: channel.ID, Mode: domain.DispatchInitial}); err != nil {
		log.Error().Err(err).Msg("channels: не удалось поставить первичный сбор, его запустит планировщик")
	}
	return channel, nil
}

func (s *Service) ensureAbsent(existing domain.Channel, err error) error {
	if err == nil {
		return fmt.Errorf("канал %s уже отслеживается: %w", existing.Name, domain.ErrConflict)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("поиск канала: %w", err)
}

func (s *Service) resolve(ctx context.Context, name string) (*domain.ChannelInfo, error) {
	scope := collection.NewScope(s.store, s.collectors, s.alerter, s.log)
	defer func() {
		if err := scope.Close(context.WithoutCancel(ctx)); err != nil {
			s.log.Error().Err(err).Msg("channels: ошибки при закрытии коллектора")
		}
	}()
	collector, err := scope.Collector(ctx)
	if err != nil {
		return nil, err
	}
	info, err := collector.GetChannelInfo(ctx, name)
	if err != nil {
		return nil, scope.Observe(ctx, fmt.Errorf("резолв канала: %w", err))
	}
	if info == nil {
		return nil, fmt.Errorf("канал %s не найден или приватный: %w", name, domain.ErrNotFound)
	}
	return info, nil
}

// SetActive включает или выключает сбор канала.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	if err := s.store.SetChannelActive(ctx, id, active); err != nil {
		return fmt.Errorf("статус канала: %w", err)
	}
	return nil
}

// SetSchedule меняет cron-расписание сбора канала.
func (s *Service) SetSchedule(ctx context.Context, id int64, spec string) error {
	spec = strings.TrimSpace(spec)
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("%w: расписание %q: %v", domain.ErrValidation, spec, err)
	}
	if err := s.store.SetChannelSchedule(ctx, id, spec); err != nil {
		return fmt.Errorf("расписание канала: %w", err)
	}
	return nil
}
