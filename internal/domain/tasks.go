package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskName: имя задачи в очереди.
type TaskName string

const (
	TaskCollectPosts    TaskName = "collect_posts_for_channel"
	TaskProcessPost     TaskName = "process_raw_post"
	TaskCollectComments TaskName = "collect_comments_for_post"
	TaskUpdateStats     TaskName = "update_stats_for_post"
	TaskAnalyzePost     TaskName = "analyze_single_post"
)

// Task: сообщение очереди задач.
type Task struct {
	ID         string          `json:"task_id"`
	Name       TaskName        `json:"task"`
	Args       json.RawMessage `json:"args"`
	Attempt    int             `json:"attempt"`
	FloodWaits int             `json:"flood_waits,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewTask сериализует аргументы и присваивает задаче идентификатор.
func NewTask(name TaskName, args any) (Task, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Task{}, fmt.Errorf("marshal %s args: %w", name, err)
	}
	return Task{
		ID:         uuid.NewString(),
		Name:       name,
		Args:       raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Retry возвращает копию задачи для следующей попытки.
func (t Task) Retry() Task {
	next := t
	next.Attempt++
	next.EnqueuedAt = time.Now().UTC()
	return next
}

// RetryAfterFloodWait возвращает копию задачи после FLOOD_WAIT, не расходуя обычные попытки.
func (t Task) RetryAfterFloodWait() Task {
	next := t
	next.FloodWaits++
	next.EnqueuedAt = time.Now().UTC()
	return next
}

// DedupeKey строит ключ дедупликации outbox для задачи над постом.
func DedupeKey(name TaskName, postID int64) string {
	return fmt.Sprintf("%s:%d", name, postID)
}

// NewOutboxEntry сериализует аргументы задачи в запись outbox.
func NewOutboxEntry(name TaskName, args any, dedupeKey string) (OutboxEntry, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return OutboxEntry{}, fmt.Errorf("marshal %s args: %w", name, err)
	}
	return OutboxEntry{TaskName: name, Args: raw, DedupeKey: dedupeKey, Status: OutboxStatusPending}, nil
}

// CollectPostsArgs: параметры сбора постов канала.
type CollectPostsArgs struct {
	ChannelID           int64      `json:"channel_id"`
	Limit               int        `json:"limit,omitempty"`
	MinID               int64      `json:"min_id,omitempty"`
	OffsetDate          *time.Time `json:"offset_date,omitempty"`
	HistoricalStartDate *time.Time `json:"historical_start_date,omitempty"`
}

// ProcessPostArgs: сырой пост для сохранения.
type ProcessPostArgs struct {
	ChannelID int64           `json:"channel_id"`
	RawPost   json.RawMessage `json:"raw_post"`
}

// CollectCommentsArgs: параметры сбора комментариев поста.
type CollectCommentsArgs struct {
	PostID          int64 `json:"post_id"`
	ForceFullRescan bool  `json:"force_full_rescan,omitempty"`
}

// UpdateStatsArgs: параметры обновления статистики поста.
type UpdateStatsArgs struct {
	PostID int64 `json:"post_id"`
}

// AnalyzePostArgs: параметры анализа поста.
type AnalyzePostArgs struct {
	PostID int64 `json:"post_id"`
}

// DispatchMode: режим сбора постов.
type DispatchMode string

const (
	DispatchNew        DispatchMode = "new"
	DispatchHistorical DispatchMode = "historical"
	DispatchInitial    DispatchMode = "initial"
)

// DispatchRequest: запрос на сбор постов канала.
type DispatchRequest struct {
	ChannelID int64        `json:"channel_id" validate:"required,gt=0"`
	Mode      DispatchMode `json:"mode" validate:"required,oneof=new historical initial"`
	DateFrom  *time.Time   `json:"date_from,omitempty" validate:"required_if=Mode historical"`
	DateTo    *time.Time   `json:"date_to,omitempty"`
	Limit     int          `json:"limit,omitempty" validate:"gte=0"`
}
