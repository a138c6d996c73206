package mtproto

import (
	"context"
	"fmt"
	"testing"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"tg-insight-collector/internal/domain"
)

// fakeHistory отдаёт страницы по правилам Telegram: сообщения от новых к старым,
// offset_id и add_offset сдвигают окно, min_id отсекает старые.
type fakeHistory struct {
	ids      []int
	service  map[int]bool
	requests int
}

func newFakeHistory(from, to int, service ...int) *fakeHistory {
	h := &fakeHistory{service: map[int]bool{}}
	for id := to; id >= from; id-- {
		h.ids = append(h.ids, id)
	}
	for _, id := range service {
		h.service[id] = true
	}
	return h
}

func (h *fakeHistory) page(offsetID, addOffset, limit, minID int) []tg.MessageClass {
	start := 0
	if offsetID > 0 {
		start = len(h.ids)
		for i, id := range h.ids {
			if id < offsetID {
				start = i
				break
			}
		}
	}
	start = max(start+addOffset, 0)
	var out []tg.MessageClass
	for i := start; i < len(h.ids) && len(out) < limit; i++ {
		id := h.ids[i]
		if minID > 0 && id <= minID {
			break
		}
		peer := &tg.PeerChannel{ChannelID: 1000}
		if h.service[id] {
			out = append(out, &tg.MessageService{ID: id, PeerID: peer, Action: &tg.MessageActionPinMessage{}})
			continue
		}
		out = append(out, &tg.Message{ID: id, PeerID: peer, Message: fmt.Sprintf("сообщение %d", id), Date: 1_700_000_000 + id})
	}
	return out
}

func (h *fakeHistory) Invoke(_ context.Context, input bin.Encoder, output bin.Decoder) error {
	box, ok := output.(*tg.MessagesMessagesBox)
	if !ok {
		return fmt.Errorf("неожиданный тип ответа %T", output)
	}
	h.requests++
	switch req := input.(type) {
	case *tg.MessagesGetRepliesRequest:
		box.Messages = &tg.MessagesChannelMessages{Messages: h.page(req.OffsetID, req.AddOffset, req.Limit, req.MinID)}
	case *tg.MessagesGetHistoryRequest:
		box.Messages = &tg.MessagesChannelMessages{Messages: h.page(req.OffsetID, req.AddOffset, req.Limit, req.MinID)}
	default:
		return fmt.Errorf("неожиданный запрос %T", input)
	}
	return nil
}

func newTestCollector(inv tg.Invoker, pageSize, commentLimit int) *Collector {
	return &Collector{
		limiter:      rate.NewLimiter(rate.Inf, 1),
		log:          zerolog.Nop(),
		pageSize:     pageSize,
		commentLimit: commentLimit,
		api:          tg.NewClient(inv),
		connected:    true,
		peers:        map[string]*tg.Channel{"demo": {ID: 1000, Username: "demo", AccessHash: 1}},
	}
}

var demoRef = domain.ChannelRef{ExternalID: 1000, Username: "demo"}

func commentIDs(t *testing.T, c *Collector, mark int64) []int64 {
	t.Helper()
	var ids []int64
	for comment, err := range c.GetCommentsForPost(context.Background(), demoRef, 42, mark) {
		require.NoError(t, err)
		ids = append(ids, comment.ExternalID)
	}
	return ids
}

func postIDs(t *testing.T, c *Collector, query domain.PostQuery) []int64 {
	t.Helper()
	var ids []int64
	for post, err := range c.IterPosts(context.Background(), demoRef, query) {
		require.NoError(t, err)
		ids = append(ids, post.ExternalID)
	}
	return ids
}

func TestCommentsOverLimitArePickedUpNextRun(t *testing.T) {
	c := newTestCollector(newFakeHistory(5, 10), 2, 3)

	first := commentIDs(t, c, 5)
	assert.Equal(t, []int64{6, 7, 8}, first)

	second := commentIDs(t, c, first[len(first)-1])
	assert.Equal(t, []int64{9, 10}, second)

	assert.Empty(t, commentIDs(t, c, 10))
}

func TestCommentsSkipServiceMessages(t *testing.T) {
	c := newTestCollector(newFakeHistory(5, 10, 7), 2, 3)
	assert.Equal(t, []int64{6, 8, 9}, commentIDs(t, c, 5))
}

func TestIterBackwardPassesServiceOnlyPage(t *testing.T) {
	history := newFakeHistory(11, 20, 18, 17)
	c := newTestCollector(history, 2, 100)

	ids := postIDs(t, c, domain.PostQuery{})
	assert.Equal(t, []int64{20, 19, 16, 15, 14, 13, 12, 11}, ids)
}

func TestIterBackwardRespectsLimit(t *testing.T) {
	c := newTestCollector(newFakeHistory(11, 20), 2, 100)
	assert.Equal(t, []int64{20, 19, 18}, postIDs(t, c, domain.PostQuery{Limit: 3}))
}

func TestIterForwardFromMinID(t *testing.T) {
	c := newTestCollector(newFakeHistory(11, 20, 18, 17), 2, 100)
	assert.Equal(t, []int64{13, 14, 15, 16, 19, 20}, postIDs(t, c, domain.PostQuery{MinID: 12}))
	assert.Equal(t, []int64{13, 14}, postIDs(t, c, domain.PostQuery{MinID: 12, Limit: 2}))
	assert.Empty(t, postIDs(t, c, domain.PostQuery{MinID: 20}))
}
