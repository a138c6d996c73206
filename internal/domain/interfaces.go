package domain

import (
	"context"
	"iter"
	"time"
)

// PostQuery задаёт окно выборки постов. OffsetDate и MinID взаимоисключающие.
type PostQuery struct {
	Limit      int
	OffsetDate *time.Time
	MinID      int64
}

// SourceCollector получает данные канала у провайдера от имени одного аккаунта.
type SourceCollector interface {
	// Initialize подключается и проверяет авторизацию аккаунта.
	Initialize(ctx context.Context) error
	// GetChannelInfo возвращает nil без ошибки, если канал не найден или закрыт.
	GetChannelInfo(ctx context.Context, identifier string) (*ChannelInfo, error)
	IterPosts(ctx context.Context, channel ChannelRef, query PostQuery) iter.Seq2[RawPost, error]
	// GetCommentsForPost выдаёт комментарии новее lastKnownID от старых к новым. Если выдача обрезана
	// лимитом, все более старые новые комментарии уже выданы.
	GetCommentsForPost(ctx context.Context, channel ChannelRef, postExternalID, lastKnownID int64) iter.Seq2[RawComment, error]
	// GetSinglePost возвращает nil без ошибки, если пост удалён.
	GetSinglePost(ctx context.Context, channel ChannelRef, postExternalID int64) (*RawPost, error)
	Disconnect(ctx context.Context) error
}

// CollectorFactory создаёт коллектор для выбранного аккаунта.
type CollectorFactory interface {
	NewCollector(account Account) (SourceCollector, error)
}

// Analyzer строит AI-анализ поста по тексту и комментариям.
type Analyzer interface {
	Analyze(ctx context.Context, postText string, comments []string) (AnalysisResult, error)
}

// TaskPublisher отправляет задачу в очередь.
type TaskPublisher interface {
	Publish(ctx context.Context, task Task) error
}

// TaskAckFunc подтверждает обработку задачи или возвращает её в очередь.
type TaskAckFunc func(success bool) error

// TaskQueue: брокер задач.
type TaskQueue interface {
	TaskPublisher
	PublishDelayed(ctx context.Context, task Task, delay time.Duration) error
	Receive(ctx context.Context) (Task, TaskAckFunc, error)
}

// Alerter отправляет оповещения операторам.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Locker выдаёт распределённую блокировку. ok=false означает, что блокировка занята.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// AccountRepo управляет пулом аккаунтов.
type AccountRepo interface {
	// AcquireAccount выбирает наименее недавно использованный активный аккаунт
	// и отмечает его использование. Пустой пул даёт ErrNoAccountAvailable.
	AcquireAccount(ctx context.Context) (Account, error)
	MarkAccountBanned(ctx context.Context, id int64) error
	UpsertAccount(ctx context.Context, name, session string) (Account, error)
}

// ChannelRepo управляет каналами.
type ChannelRepo interface {
	GetChannel(ctx context.Context, id int64) (Channel, error)
	FindChannelByName(ctx context.Context, name string) (Channel, error)
	FindChannelByExternalID(ctx context.Context, externalID int64) (Channel, error)
	InsertChannel(ctx context.Context, ch Channel) (Channel, error)
	SetChannelActive(ctx context.Context, id int64, active bool) error
	SetChannelSchedule(ctx context.Context, id int64, spec string) error
	SetCollectionStatus(ctx context.Context, id int64, status CollectionStatus, errText string, at time.Time) error
	ListActiveChannels(ctx context.Context) ([]Channel, error)
	MarkScheduled(ctx context.Context, id int64, at time.Time) error
}

// PostRepo управляет постами.
type PostRepo interface {
	GetPost(ctx context.Context, id int64) (Post, error)
	GetPostRef(ctx context.Context, id int64) (PostRef, error)
	// FindPostID ищет пост по внешнему идентификатору; found=false без ошибки, если его нет.
	FindPostID(ctx context.Context, channelID, externalID int64) (id int64, found bool, err error)
	// InsertPost возвращает ErrDuplicate при конфликте и ErrNotFound, если канала нет.
	InsertPost(ctx context.Context, post Post) (int64, error)
	UpdatePostContent(ctx context.Context, id int64, post Post) error
	UpdatePostStats(ctx context.Context, id int64, stats PostStats) error
	LatestPostExternalID(ctx context.Context, channelID int64) (externalID int64, found bool, err error)
	ExistingPostIDs(ctx context.Context, ids []int64) ([]int64, error)
	ListPostsForStatsRefresh(ctx context.Context, createdAfter, statsBefore time.Time, limit int) ([]int64, error)
}

// CommentRepo управляет комментариями и авторами.
type CommentRepo interface {
	// ResetComments удаляет комментарии поста и сбрасывает отметку сбора.
	ResetComments(ctx context.Context, postID int64) error
	UpsertAuthors(ctx context.Context, authors []Author) error
	// InsertComments пропускает уже сохранённые комментарии и возвращает число вставленных.
	InsertComments(ctx context.Context, comments []Comment) (int, error)
	// AdvanceCommentMark сдвигает отметку только вперёд; maxSeen=nil лишь обновляет время сбора.
	AdvanceCommentMark(ctx context.Context, postID int64, maxSeen *int64, at time.Time) error
	ListCommentTexts(ctx context.Context, postID int64, limit int) ([]string, error)
}

// AnalysisRepo хранит результаты анализа.
type AnalysisRepo interface {
	AnalysisExists(ctx context.Context, postID int64) (bool, error)
	// InsertAnalysis возвращает ErrDuplicate, если анализ уже сохранён.
	InsertAnalysis(ctx context.Context, a Analysis) error
}

// OutboxRepo управляет таблицей outbox.
type OutboxRepo interface {
	// EnqueueOutbox вставляет запись; при занятом ключе дедупликации возвращает false.
	EnqueueOutbox(ctx context.Context, entry OutboxEntry) (bool, error)
	LockOutboxBatch(ctx context.Context, limit int) ([]OutboxEntry, error)
	DeleteOutbox(ctx context.Context, ids []int64) error
	MarkOutboxFailed(ctx context.Context, id int64, errText string) error
	DeleteOutboxBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repository объединяет все хранилища.
type Repository interface {
	AccountRepo
	ChannelRepo
	PostRepo
	CommentRepo
	AnalysisRepo
	OutboxRepo
}

// Store: хранилище с поддержкой транзакций.
type Store interface {
	Repository
	// InTx выполняет fn в одной транзакции; ошибка fn откатывает её.
	InTx(ctx context.Context, fn func(tx Repository) error) error
}
