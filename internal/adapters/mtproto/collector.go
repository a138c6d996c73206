package mtproto

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tg-insight-collector/internal/domain"
	"tg-insight-collector/internal/infra/metrics"
)

const (
	defaultPageSize     = 100
	defaultCommentLimit = 100
)

// Collector реализует domain.SourceCollector поверх gotd от имени одного аккаунта.
type Collector struct {
	client       *telegram.Client
	limiter      *rate.Limiter
	log          zerolog.Logger
	pageSize     int
	commentLimit int

	mu         sync.Mutex
	api        *tg.Client
	connected  bool
	cancelFunc context.CancelFunc
	runDone    chan struct{}

	// Access hash канала привязан к аккаунту, поэтому кэш живёт вместе с коллектором.
	peers map[string]*tg.Channel
}

var _ domain.SourceCollector = (*Collector)(nil)

// Initialize подключается к Telegram и проверяет авторизацию сессии.
func (c *Collector) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	errCh := make(chan error, 1)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		err := c.client.Run(runCtx, func(ctx context.Context) error {
			start := time.Now()
			status, err := c.client.Auth().Status(ctx)
			metrics.ObserveNetworkRequest("mtproto", "auth_status", "auth", start, err)
			if err != nil {
				return fmt.Errorf("auth status: %w", err)
			}
			if !status.Authorized {
				return fmt.Errorf("сессия не авторизована: %w", domain.ErrCredentialRevoked)
			}
			c.api = c.client.API()
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		errCh <- err
	}()

	select {
	case <-ready:
		c.connected = true
		c.cancelFunc = cancel
		c.runDone = runDone
		c.log.Debug().Msg("mtproto: клиент подключён")
		return nil
	case err := <-errCh:
		cancel()
		if err == nil {
			err = errors.New("mtproto: клиент остановился до готовности")
		}
		return classifyError(err)
	case <-ctx.Done():
		cancel()
		<-runDone
		return ctx.Err()
	}
}

// Disconnect останавливает клиента. Повторный вызов ничего не делает.
func (c *Collector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	cancel, runDone := c.cancelFunc, c.runDone
	c.connected = false
	c.api = nil
	c.cancelFunc = nil
	c.runDone = nil
	c.mu.Unlock()

	cancel()
	select {
	case <-runDone:
		c.log.Debug().Msg("mtproto: клиент отключён")
		return nil
	case <-ctx.Done():
		c.log.Warn().Msg("mtproto: истекло ожидание остановки клиента")
		return ctx.Err()
	}
}

func (c *Collector) apiClient() (*tg.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.api == nil {
		return nil, fmt.Errorf("mtproto: клиент не подключён: %w", domain.ErrConnection)
	}
	return c.api, nil
}

// call ожидает лимитер, выполняет запрос и классифицирует ошибку.
func (c *Collector) call(ctx context.Context, op, target string, fn func(api *tg.Client) error) error {
	api, err := c.apiClient()
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	start := time.Now()
	err = fn(api)
	metrics.ObserveNetworkRequest("mtproto", op, target, start, err)
	return classifyError(err)
}

// resolve находит канал по username; результат кэшируется на время жизни коллектора.
func (c *Collector) resolve(ctx context.Context, username string) (*tg.Channel, error) {
	key := strings.ToLower(username)
	c.mu.Lock()
	cached, ok := c.peers[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	var resolved *tg.ContactsResolvedPeer
	err := c.call(ctx, "contacts_resolve_username", username, func(api *tg.Client) error {
		var err error
		resolved, err = api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, chat := range resolved.Chats {
		if channel, ok := chat.(*tg.Channel); ok {
			c.mu.Lock()
			c.peers[key] = channel
			c.mu.Unlock()
			return channel, nil
		}
	}
	return nil, nil
}

// resolveRef находит канал по ссылке и проверяет, что username всё ещё принадлежит ему.
func (c *Collector) resolveRef(ctx context.Context, ref domain.ChannelRef) (*tg.Channel, error) {
	channel, err := c.resolve(ctx, ref.Username)
	if err != nil {
		if isChannelUnavailable(err) {
			return nil, fmt.Errorf("канал @%s недоступен: %v: %w", ref.Username, err, domain.ErrNotFound)
		}
		return nil, err
	}
	if channel == nil {
		return nil, fmt.Errorf("@%s не является каналом: %w", ref.Username, domain.ErrNotFound)
	}
	if ref.ExternalID != 0 && channel.ID != ref.ExternalID {
		return nil, fmt.Errorf("@%s теперь указывает на канал %d вместо %d: %w", ref.Username, channel.ID, ref.ExternalID, domain.ErrNotFound)
	}
	return channel, nil
}

// GetChannelInfo возвращает метаданные канала или nil, если он не найден либо закрыт.
func (c *Collector) GetChannelInfo(ctx context.Context, identifier string) (*domain.ChannelInfo, error) {
	username := strings.TrimPrefix(strings.TrimSpace(identifier), "@")
	channel, err := c.resolve(ctx, username)
	if err != nil {
		if isChannelUnavailable(err) {
			c.log.Info().Str("channel", username).Err(err).Msg("mtproto: канал не найден или закрыт")
			return nil, nil
		}
		return nil, err
	}
	if channel == nil {
		return nil, nil
	}

	info := &domain.ChannelInfo{
		ExternalID: channel.ID,
		Username:   channel.Username,
		Title:      channel.Title,
		Verified:   channel.Verified,
		Scam:       channel.Scam,
		Fake:       channel.Fake,
	}
	if info.Username == "" {
		info.Username = username
	}

	var full *tg.MessagesChatFull
	err = c.call(ctx, "channels_get_full_channel", username, func(api *tg.Client) error {
		var err error
		full, err = api.ChannelsGetFullChannel(ctx, channel.AsInput())
		return err
	})
	if err != nil {
		if isChannelUnavailable(err) {
			return nil, nil
		}
		return nil, err
	}
	if cf, ok := full.FullChat.(*tg.ChannelFull); ok {
		info.About = cf.About
		if count, ok := cf.GetParticipantsCount(); ok {
			info.ParticipantsCount = count
		}
	}
	return info, nil
}

// IterPosts лениво выдаёт посты канала страницами.
// С MinID посты идут от старых к новым, иначе от новых к старым начиная с OffsetDate.
func (c *Collector) IterPosts(ctx context.Context, ref domain.ChannelRef, query domain.PostQuery) iter.Seq2[domain.RawPost, error] {
	return func(yield func(domain.RawPost, error) bool) {
		channel, err := c.resolveRef(ctx, ref)
		if err != nil {
			yield(domain.RawPost{}, err)
			return
		}
		if query.MinID > 0 {
			c.iterForward(ctx, channel, query, yield)
			return
		}
		c.iterBackward(ctx, channel, query, yield)
	}
}

func (c *Collector) pageLimit(limit, emitted int) int {
	n := c.pageSize
	if limit > 0 && limit-emitted < n {
		n = limit - emitted
	}
	return n
}

func (c *Collector) history(ctx context.Context, channel *tg.Channel, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
	req.Peer = channel.AsInputPeer()
	var res tg.MessagesMessagesClass
	err := c.call(ctx, "messages_get_history", channel.Username, func(api *tg.Client) error {
		var err error
		res, err = api.MessagesGetHistory(ctx, req)
		return err
	})
	return res, err
}

func (c *Collector) iterBackward(ctx context.Context, channel *tg.Channel, query domain.PostQuery, yield func(domain.RawPost, error) bool) {
	req := &tg.MessagesGetHistoryRequest{}
	if query.OffsetDate != nil {
		req.OffsetDate = int(query.OffsetDate.Unix())
	}
	emitted := 0
	for {
		if query.Limit > 0 && emitted >= query.Limit {
			return
		}
		req.Limit = c.pageLimit(query.Limit, emitted)
		res, err := c.history(ctx, channel, req)
		if err != nil {
			yield(domain.RawPost{}, err)
			return
		}
		oldest, ok := oldestID(res)
		if !ok {
			return
		}
		for _, msg := range plainMessages(res) {
			if !yield(convertPost(msg, channel.Username), nil) {
				return
			}
			emitted++
			if query.Limit > 0 && emitted >= query.Limit {
				return
			}
		}
		req.OffsetID = oldest
		req.OffsetDate = 0
	}
}

func (c *Collector) iterForward(ctx context.Context, channel *tg.Channel, query domain.PostQuery, yield func(domain.RawPost, error) bool) {
	err := c.forward(int(query.MinID), query.Limit,
		func(offsetID, addOffset, limit, minID int) (tg.MessagesMessagesClass, error) {
			return c.history(ctx, channel, &tg.MessagesGetHistoryRequest{
				OffsetID:  offsetID,
				AddOffset: addOffset,
				Limit:     limit,
				MinID:     minID,
			})
		},
		func(msg *tg.Message, _ tg.MessagesMessagesClass) bool {
			return yield(convertPost(msg, channel.Username), nil)
		})
	if err != nil {
		yield(domain.RawPost{}, err)
	}
}

// forward листает сообщения строго новее cursor от старых к новым, не больше limit штук.
// Страница без единого id выше курсора завершает обход. emit возвращает false, чтобы прервать его.
func (c *Collector) forward(
	cursor, limit int,
	fetch func(offsetID, addOffset, limit, minID int) (tg.MessagesMessagesClass, error),
	emit func(msg *tg.Message, res tg.MessagesMessagesClass) bool,
) error {
	emitted := 0
	for limit <= 0 || emitted < limit {
		n := c.pageLimit(limit, emitted)
		res, err := fetch(cursor+1, -n, n, cursor)
		if err != nil {
			return err
		}
		next := cursor
		for _, id := range messageIDs(res) {
			next = max(next, id)
		}
		msgs := plainMessages(res)
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
		for _, msg := range msgs {
			if msg.ID <= cursor {
				continue
			}
			if !emit(msg, res) {
				return nil
			}
			emitted++
			if limit > 0 && emitted >= limit {
				return nil
			}
		}
		if next == cursor {
			return nil
		}
		cursor = next
	}
	return nil
}

// GetCommentsForPost выдаёт комментарии новее lastKnownID от старых к новым, не больше лимита за запуск.
// Не поместившиеся в лимит более новые комментарии забирает следующий запуск.
func (c *Collector) GetCommentsForPost(ctx context.Context, ref domain.ChannelRef, postExternalID, lastKnownID int64) iter.Seq2[domain.RawComment, error] {
	return func(yield func(domain.RawComment, error) bool) {
		channel, err := c.resolveRef(ctx, ref)
		if err != nil {
			yield(domain.RawComment{}, err)
			return
		}
		var (
			page  tg.MessagesMessagesClass
			users map[int64]*tg.User
		)
		err = c.forward(int(lastKnownID), c.commentLimit,
			func(offsetID, addOffset, limit, minID int) (tg.MessagesMessagesClass, error) {
				var res tg.MessagesMessagesClass
				err := c.call(ctx, "messages_get_replies", channel.Username, func(api *tg.Client) error {
					var err error
					res, err = api.MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
						Peer:      channel.AsInputPeer(),
						MsgID:     int(postExternalID),
						OffsetID:  offsetID,
						AddOffset: addOffset,
						Limit:     limit,
						MinID:     minID,
					})
					return err
				})
				return res, err
			},
			func(msg *tg.Message, res tg.MessagesMessagesClass) bool {
				if res != page {
					page, users = res, usersByID(modifiedUsers(res))
				}
				return yield(convertComment(msg, users), nil)
			})
		if err == nil {
			return
		}
		if isMissingDiscussion(err) {
			c.log.Debug().Int64("post", postExternalID).Err(err).Msg("mtproto: у поста нет обсуждения")
			return
		}
		yield(domain.RawComment{}, err)
	}
}

// GetSinglePost возвращает пост или nil, если он удалён.
func (c *Collector) GetSinglePost(ctx context.Context, ref domain.ChannelRef, postExternalID int64) (*domain.RawPost, error) {
	channel, err := c.resolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	var res tg.MessagesMessagesClass
	err = c.call(ctx, "channels_get_messages", channel.Username, func(api *tg.Client) error {
		var err error
		res, err = api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: channel.AsInput(),
			ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: int(postExternalID)}},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, msg := range plainMessages(res) {
		if int64(msg.ID) == postExternalID {
			post := convertPost(msg, channel.Username)
			return &post, nil
		}
	}
	return nil, nil
}

// plainMessages оставляет только обычные сообщения, отбрасывая служебные и пустые.
func plainMessages(res tg.MessagesMessagesClass) []*tg.Message {
	modified, ok := res.AsModified()
	if !ok {
		return nil
	}
	var out []*tg.Message
	for _, m := range modified.GetMessages() {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, msg)
		}
	}
	return out
}

// messageIDs возвращает id всех сообщений ответа, включая служебные.
func messageIDs(res tg.MessagesMessagesClass) []int {
	modified, ok := res.AsModified()
	if !ok {
		return nil
	}
	msgs := modified.GetMessages()
	ids := make([]int, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.GetID())
	}
	return ids
}

// oldestID возвращает наименьший id ответа; ok=false, если сообщений нет.
func oldestID(res tg.MessagesMessagesClass) (int, bool) {
	ids := messageIDs(res)
	if len(ids) == 0 {
		return 0, false
	}
	return slices.Min(ids), true
}

func modifiedUsers(res tg.MessagesMessagesClass) []tg.UserClass {
	modified, ok := res.AsModified()
	if !ok {
		return nil
	}
	return modified.GetUsers()
}
