package domain

import (
	"encoding/json"
	"time"
)

// CollectionStatus отражает результат последнего сбора канала.
type CollectionStatus string

const (
	CollectionStatusIdle    CollectionStatus = "idle"
	CollectionStatusRunning CollectionStatus = "running"
	CollectionStatusOK      CollectionStatus = "ok"
	CollectionStatusError   CollectionStatus = "error"
)

// DefaultCollectionSchedule используется для новых каналов.
const DefaultCollectionSchedule = "@hourly"

// Channel описывает отслеживаемый канал Telegram.
type Channel struct {
	ID                   int64
	ExternalID           int64
	Name                 string
	Title                string
	IsActive             bool
	CollectionSchedule   string
	LastScheduledAt      *time.Time
	LastCollectionStatus CollectionStatus
	LastCollectionError  string
	LastCollectedAt      *time.Time
	CreatedAt            time.Time
}

// Ref возвращает ссылку на канал для коллектора.
func (c Channel) Ref() ChannelRef {
	return ChannelRef{ExternalID: c.ExternalID, Username: c.Name}
}

// ChannelRef адресует канал у провайдера.
type ChannelRef struct {
	ExternalID int64
	Username   string
}

// ChannelInfo содержит метаданные канала, полученные у провайдера.
type ChannelInfo struct {
	ExternalID        int64
	Username          string
	Title             string
	About             string
	ParticipantsCount int
	Verified          bool
	Scam              bool
	Fake              bool
}

// Account: учётная запись из пула для работы с MTProto.
type Account struct {
	ID         int64
	Name       string
	Session    string
	IsActive   bool
	IsBanned   bool
	LastUsedAt *time.Time
}

// Post: сохранённый пост канала.
type Post struct {
	ID                      int64
	ChannelID               int64
	ExternalID              int64
	CreatedAt               time.Time
	Text                    string
	URL                     string
	ViewsCount              int
	ForwardsCount           int
	Reactions               Reactions
	Media                   *Media
	ForwardInfo             *ForwardInfo
	Poll                    *Poll
	ReplyToExternalID       *int64
	GroupedID               *int64
	LastCommentExternalID   *int64
	CommentsLastCollectedAt *time.Time
	StatsLastUpdatedAt      *time.Time
}

// PostRef: минимальный набор полей поста для обращения к провайдеру.
type PostRef struct {
	PostID                int64
	PostExternalID        int64
	ChannelID             int64
	Channel               ChannelRef
	LastCommentExternalID *int64
}

// PostStats: изменяемые счётчики поста.
type PostStats struct {
	ViewsCount    int
	ForwardsCount int
	Reactions     Reactions
	UpdatedAt     time.Time
}

// Author: автор комментария.
type Author struct {
	ExternalID int64
	Username   string
	FirstName  string
	LastName   string
	IsBot      bool
}

// Comment: комментарий к посту.
type Comment struct {
	ID               int64
	PostID           int64
	ExternalID       int64
	AuthorExternalID *int64
	Text             string
	CreatedAt        time.Time
	Reactions        Reactions
	ParentExternalID *int64
}

// Analysis: результат AI-анализа поста, не более одного на пост.
type Analysis struct {
	ID          int64
	PostID      int64
	Summary     string
	Sentiment   map[string]float64
	KeyTopics   []string
	ModelUsed   string
	GeneratedAt time.Time
}

// AnalysisResult возвращается анализатором.
type AnalysisResult struct {
	Summary   string
	Sentiment map[string]float64
	KeyTopics []string
	Model     string
}

// OutboxStatus: статус записи outbox.
type OutboxStatus string

const OutboxStatusPending OutboxStatus = "pending"

// OutboxEntry: отложенная задача, записанная в одной транзакции с бизнес-изменением.
type OutboxEntry struct {
	ID          int64
	TaskName    TaskName
	Args        json.RawMessage
	DedupeKey   string
	Status      OutboxStatus
	RetryCount  int
	LastError   string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}
