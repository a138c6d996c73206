package collection

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"tg-insight-collector/internal/domain"
)

// Service ставит задачи сбора по запросу API и планировщика.
type Service struct {
	repo           domain.Repository
	publisher      domain.TaskPublisher
	validate       *validator.Validate
	postFetchLimit int
	now            func() time.Time
}

// NewService создаёт сервис запуска сбора.
func NewService(repo domain.Repository, publisher domain.TaskPublisher, postFetchLimit int) *Service {
	return &Service{
		repo:           repo,
		publisher:      publisher,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		postFetchLimit: postFetchLimit,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// TriggerPosts проверяет запрос и ставит задачу выгрузки постов канала.
func (s *Service) TriggerPosts(ctx context.Context, req domain.DispatchRequest) (domain.Task, error) {
	if err := s.validate.Struct(req); err != nil {
		return domain.Task{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if req.DateFrom != nil && req.DateTo != nil && req.DateFrom.After(*req.DateTo) {
		return domain.Task{}, fmt.Errorf("%w: date_from позже date_to", domain.ErrValidation)
	}
	channel, err := s.repo.GetChannel(ctx, req.ChannelID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("получение канала: %w", err)
	}
	if !channel.IsActive {
		return domain.Task{}, domain.ErrChannelInactive
	}

	args := domain.CollectPostsArgs{ChannelID: channel.ID, Limit: req.Limit}
	switch req.Mode {
	case domain.DispatchNew:
		latest, found, err := s.repo.LatestPostExternalID(ctx, channel.ID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("последний пост канала: %w", err)
		}
		if !found {
			return domain.Task{}, domain.ErrNotEligible
		}
		args.MinID = latest
		if args.Limit == 0 {
			args.Limit = s.postFetchLimit
		}
	case domain.DispatchHistorical:
		offset := s.now()
		if req.DateTo != nil {
			offset = startOfDay(*req.DateTo).Add(24 * time.Hour)
		}
		start := startOfDay(*req.DateFrom)
		args.OffsetDate = &offset
		args.HistoricalStartDate = &start
	case domain.DispatchInitial:
		if args.Limit == 0 {
			args.Limit = s.postFetchLimit
		}
	}
	return s.publish(ctx, domain.TaskCollectPosts, args)
}

// TriggerComments ставит сбор комментариев одного поста.
func (s *Service) TriggerComments(ctx context.Context, postID int64, rescan bool) (domain.Task, error) {
	if err := s.ensurePosts(ctx, []int64{postID}); err != nil {
		return domain.Task{}, err
	}
	return s.publish(ctx, domain.TaskCollectComments, domain.CollectCommentsArgs{PostID: postID, ForceFullRescan: rescan})
}

// TriggerBulkComments ставит сбор комментариев нескольких постов.
// Если хотя бы одного поста нет, ничего не ставится.
func (s *Service) TriggerBulkComments(ctx context.Context, postIDs []int64, rescan bool) ([]domain.Task, error) {
	ids := uniqueIDs(postIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: пустой список постов", domain.ErrValidation)
	}
	if err := s.ensurePosts(ctx, ids); err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.publish(ctx, domain.TaskCollectComments, domain.CollectCommentsArgs{PostID: id, ForceFullRescan: rescan})
		if err != nil {
			return tasks, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// TriggerStats ставит обновление статистики поста.
func (s *Service) TriggerStats(ctx context.Context, postID int64) (domain.Task, error) {
	if err := s.ensurePosts(ctx, []int64{postID}); err != nil {
		return domain.Task{}, err
	}
	return s.publish(ctx, domain.TaskUpdateStats, domain.UpdateStatsArgs{PostID: postID})
}

func (s *Service) ensurePosts(ctx context.Context, ids []int64) error {
	existing, err := s.repo.ExistingPostIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("проверка постов: %w", err)
	}
	found := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		found[id] = struct{}{}
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &domain.MissingPostsError{IDs: missing}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, name domain.TaskName, args any) (domain.Task, error) {
	task, err := domain.NewTask(name, args)
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.publisher.Publish(ctx, task); err != nil {
		return domain.Task{}, fmt.Errorf("публикация %s: %w", name, err)
	}
	return task, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
