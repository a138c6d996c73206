package collection

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"tg-insight-collector/internal/domain"
)

type stubCollector struct {
	posts    []domain.RawPost
	comments []domain.RawComment
	single   *domain.RawPost
	// commentCap ограничивает выдачу комментариев за один вызов.
	commentCap int

	initErr     error
	iterErr     error
	commentsErr error
	singleErr   error

	queries     []domain.PostQuery
	afters      []int64
	disconnects int
}

func (c *stubCollector) Initialize(context.Context) error { return c.initErr }

func (c *stubCollector) GetChannelInfo(_ context.Context, identifier string) (*domain.ChannelInfo, error) {
	return &domain.ChannelInfo{ExternalID: 1000, Username: identifier}, nil
}

// IterPosts повторяет семантику провайдера: offset_date отдаёт посты строго раньше даты
// от новых к старым, min_id отдаёт более новые посты от старых к новым.
func (c *stubCollector) IterPosts(_ context.Context, _ domain.ChannelRef, q domain.PostQuery) iter.Seq2[domain.RawPost, error] {
	c.queries = append(c.queries, q)
	return func(yield func(domain.RawPost, error) bool) {
		selected := make([]domain.RawPost, 0, len(c.posts))
		for _, p := range c.posts {
			if q.OffsetDate != nil && !p.CreatedAt.Before(*q.OffsetDate) {
				continue
			}
			if p.ExternalID <= q.MinID {
				continue
			}
			selected = append(selected, p)
		}
		if q.MinID > 0 {
			sort.Slice(selected, func(i, j int) bool { return selected[i].ExternalID < selected[j].ExternalID })
		} else {
			sort.Slice(selected, func(i, j int) bool { return selected[i].ExternalID > selected[j].ExternalID })
		}
		for i, p := range selected {
			if q.Limit > 0 && i >= q.Limit {
				return
			}
			if !yield(p, nil) {
				return
			}
		}
		if c.iterErr != nil {
			yield(domain.RawPost{}, c.iterErr)
		}
	}
}

func (c *stubCollector) GetCommentsForPost(_ context.Context, _ domain.ChannelRef, _ int64, lastKnownID int64) iter.Seq2[domain.RawComment, error] {
	c.afters = append(c.afters, lastKnownID)
	return func(yield func(domain.RawComment, error) bool) {
		if c.commentsErr != nil {
			yield(domain.RawComment{}, c.commentsErr)
			return
		}
		emitted := 0
		for _, cm := range c.comments {
			if cm.ExternalID <= lastKnownID {
				continue
			}
			if c.commentCap > 0 && emitted == c.commentCap {
				return
			}
			emitted++
			if !yield(cm, nil) {
				return
			}
		}
	}
}

func (c *stubCollector) GetSinglePost(context.Context, domain.ChannelRef, int64) (*domain.RawPost, error) {
	return c.single, c.singleErr
}

func (c *stubCollector) Disconnect(context.Context) error {
	c.disconnects++
	return nil
}

type stubFactory struct {
	collector *stubCollector
	accounts  []domain.Account
}

func (f *stubFactory) NewCollector(account domain.Account) (domain.SourceCollector, error) {
	f.accounts = append(f.accounts, account)
	return f.collector, nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	tasks []domain.Task
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, task domain.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

type recordingAlerter struct {
	texts []string
}

func (a *recordingAlerter) Alert(_ context.Context, text string) error {
	a.texts = append(a.texts, text)
	return nil
}

func intPtr(v int) *int { return &v }

func rawPost(id int64, at time.Time) domain.RawPost {
	return domain.RawPost{
		ExternalID: id,
		URL:        fmt.Sprintf("https://t.me/demo/%d", id),
		Text:       fmt.Sprintf("пост %d", id),
		CreatedAt:  domain.NewTimestamp(at),
		ViewsCount: intPtr(10),
		Reactions:  domain.Reactions{"👍": 2},
	}
}

func rawComment(id int64, authorID int64) domain.RawComment {
	return domain.RawComment{
		ExternalID: id,
		Text:       fmt.Sprintf("комментарий %d", id),
		CreatedAt:  domain.NewTimestamp(time.Date(2024, 3, 1, 12, 0, int(id), 0, time.UTC)),
		Author:     &domain.RawAuthor{ExternalID: authorID, Username: fmt.Sprintf("user%d", authorID)},
	}
}
