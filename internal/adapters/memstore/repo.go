package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tg-insight-collector/internal/domain"
)

func (v *view) AcquireAccount(ctx context.Context) (domain.Account, error) {
	if err := v.fail("AcquireAccount"); err != nil {
		return domain.Account{}, err
	}
	var best *domain.Account
	for _, a := range v.st.accounts {
		if !a.IsActive || a.IsBanned {
			continue
		}
		if best == nil || lessRecentlyUsed(a, best) {
			best = a
		}
	}
	if best == nil {
		return domain.Account{}, domain.ErrNoAccountAvailable
	}
	now := time.Now().UTC()
	best.LastUsedAt = &now
	return *best, nil
}

func lessRecentlyUsed(a, b *domain.Account) bool {
	switch {
	case a.LastUsedAt == nil && b.LastUsedAt == nil:
		return a.ID < b.ID
	case a.LastUsedAt == nil:
		return true
	case b.LastUsedAt == nil:
		return false
	case a.LastUsedAt.Equal(*b.LastUsedAt):
		return a.ID < b.ID
	default:
		return a.LastUsedAt.Before(*b.LastUsedAt)
	}
}

func (v *view) MarkAccountBanned(ctx context.Context, id int64) error {
	if err := v.fail("MarkAccountBanned"); err != nil {
		return err
	}
	a, ok := v.st.accounts[id]
	if !ok {
		return notFound("account", id)
	}
	a.IsBanned = true
	a.IsActive = false
	return nil
}

func (v *view) UpsertAccount(ctx context.Context, name, session string) (domain.Account, error) {
	if err := v.fail("UpsertAccount"); err != nil {
		return domain.Account{}, err
	}
	for _, a := range v.st.accounts {
		if a.Name == name {
			a.Session = session
			a.IsActive = true
			a.IsBanned = false
			return *a, nil
		}
	}
	a := &domain.Account{ID: v.st.id(), Name: name, Session: session, IsActive: true}
	v.st.accounts[a.ID] = a
	return *a, nil
}

func (v *view) GetChannel(ctx context.Context, id int64) (domain.Channel, error) {
	if err := v.fail("GetChannel"); err != nil {
		return domain.Channel{}, err
	}
	ch, ok := v.st.channels[id]
	if !ok {
		return domain.Channel{}, notFound("channel", id)
	}
	return *ch, nil
}

func (v *view) findChannel(match func(*domain.Channel) bool) (domain.Channel, error) {
	for _, ch := range v.st.channels {
		if match(ch) {
			return *ch, nil
		}
	}
	return domain.Channel{}, domain.ErrNotFound
}

func (v *view) FindChannelByName(ctx context.Context, name string) (domain.Channel, error) {
	return v.findChannel(func(ch *domain.Channel) bool { return strings.EqualFold(ch.Name, name) })
}

func (v *view) FindChannelByExternalID(ctx context.Context, externalID int64) (domain.Channel, error) {
	return v.findChannel(func(ch *domain.Channel) bool { return ch.ExternalID == externalID })
}

func (v *view) InsertChannel(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	if err := v.fail("InsertChannel"); err != nil {
		return domain.Channel{}, err
	}
	for _, existing := range v.st.channels {
		if existing.ExternalID == ch.ExternalID || strings.EqualFold(existing.Name, ch.Name) {
			return domain.Channel{}, fmt.Errorf("channel %s: %w", ch.Name, domain.ErrDuplicate)
		}
	}
	ch.ID = v.st.id()
	if ch.CollectionSchedule == "" {
		ch.CollectionSchedule = domain.DefaultCollectionSchedule
	}
	ch.LastCollectionStatus = domain.CollectionStatusIdle
	ch.CreatedAt = time.Now().UTC()
	cp := ch
	v.st.channels[ch.ID] = &cp
	return ch, nil
}

func (v *view) updateChannel(id int64, fn func(ch *domain.Channel)) error {
	ch, ok := v.st.channels[id]
	if !ok {
		return notFound("channel", id)
	}
	fn(ch)
	return nil
}

func (v *view) SetChannelActive(ctx context.Context, id int64, active bool) error {
	return v.updateChannel(id, func(ch *domain.Channel) { ch.IsActive = active })
}

func (v *view) SetChannelSchedule(ctx context.Context, id int64, spec string) error {
	return v.updateChannel(id, func(ch *domain.Channel) { ch.CollectionSchedule = spec })
}

func (v *view) SetCollectionStatus(ctx context.Context, id int64, status domain.CollectionStatus, errText string, at time.Time) error {
	if err := v.fail("SetCollectionStatus"); err != nil {
		return err
	}
	return v.updateChannel(id, func(ch *domain.Channel) {
		ch.LastCollectionStatus = status
		ch.LastCollectionError = errText
		if status == domain.CollectionStatusOK {
			t := at
			ch.LastCollectedAt = &t
		}
	})
}

func (v *view) ListActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	if err := v.fail("ListActiveChannels"); err != nil {
		return nil, err
	}
	var out []domain.Channel
	for _, ch := range values(v.st.channels) {
		if ch.IsActive {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (v *view) MarkScheduled(ctx context.Context, id int64, at time.Time) error {
	return v.updateChannel(id, func(ch *domain.Channel) {
		t := at
		ch.LastScheduledAt = &t
	})
}

func (v *view) GetPost(ctx context.Context, id int64) (domain.Post, error) {
	if err := v.fail("GetPost"); err != nil {
		return domain.Post{}, err
	}
	p, ok := v.st.posts[id]
	if !ok {
		return domain.Post{}, notFound("post", id)
	}
	return *p, nil
}

func (v *view) GetPostRef(ctx context.Context, id int64) (domain.PostRef, error) {
	if err := v.fail("GetPostRef"); err != nil {
		return domain.PostRef{}, err
	}
	p, ok := v.st.posts[id]
	if !ok {
		return domain.PostRef{}, notFound("post", id)
	}
	ch, ok := v.st.channels[p.ChannelID]
	if !ok {
		return domain.PostRef{}, notFound("channel", p.ChannelID)
	}
	return domain.PostRef{
		PostID:                p.ID,
		PostExternalID:        p.ExternalID,
		ChannelID:             p.ChannelID,
		Channel:               ch.Ref(),
		LastCommentExternalID: p.LastCommentExternalID,
	}, nil
}

func (v *view) FindPostID(ctx context.Context, channelID, externalID int64) (int64, bool, error) {
	if err := v.fail("FindPostID"); err != nil {
		return 0, false, err
	}
	for _, p := range v.st.posts {
		if p.ChannelID == channelID && p.ExternalID == externalID {
			return p.ID, true, nil
		}
	}
	return 0, false, nil
}

func (v *view) InsertPost(ctx context.Context, post domain.Post) (int64, error) {
	if err := v.fail("InsertPost"); err != nil {
		return 0, err
	}
	if _, ok := v.st.channels[post.ChannelID]; !ok {
		return 0, notFound("channel", post.ChannelID)
	}
	for _, p := range v.st.posts {
		if p.ChannelID == post.ChannelID && p.ExternalID == post.ExternalID {
			return 0, fmt.Errorf("post %d: %w", post.ExternalID, domain.ErrDuplicate)
		}
	}
	post.ID = v.st.id()
	now := time.Now().UTC()
	post.StatsLastUpdatedAt = &now
	cp := post
	v.st.posts[post.ID] = &cp
	return post.ID, nil
}

func (v *view) UpdatePostContent(ctx context.Context, id int64, post domain.Post) error {
	if err := v.fail("UpdatePostContent"); err != nil {
		return err
	}
	p, ok := v.st.posts[id]
	if !ok {
		return notFound("post", id)
	}
	p.Text = post.Text
	p.URL = post.URL
	p.ViewsCount = post.ViewsCount
	p.ForwardsCount = post.ForwardsCount
	p.Reactions = post.Reactions
	p.Media = post.Media
	p.ForwardInfo = post.ForwardInfo
	p.Poll = post.Poll
	p.ReplyToExternalID = post.ReplyToExternalID
	p.GroupedID = post.GroupedID
	now := time.Now().UTC()
	p.StatsLastUpdatedAt = &now
	return nil
}

func (v *view) UpdatePostStats(ctx context.Context, id int64, stats domain.PostStats) error {
	if err := v.fail("UpdatePostStats"); err != nil {
		return err
	}
	p, ok := v.st.posts[id]
	if !ok {
		return notFound("post", id)
	}
	p.ViewsCount = stats.ViewsCount
	p.ForwardsCount = stats.ForwardsCount
	p.Reactions = stats.Reactions
	at := stats.UpdatedAt
	p.StatsLastUpdatedAt = &at
	return nil
}

func (v *view) LatestPostExternalID(ctx context.Context, channelID int64) (int64, bool, error) {
	var (
		latest int64
		found  bool
	)
	for _, p := range v.st.posts {
		if p.ChannelID == channelID && (!found || p.ExternalID > latest) {
			latest, found = p.ExternalID, true
		}
	}
	return latest, found, nil
}

func (v *view) ExistingPostIDs(ctx context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		if _, ok := v.st.posts[id]; ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (v *view) ListPostsForStatsRefresh(ctx context.Context, createdAfter, statsBefore time.Time, limit int) ([]int64, error) {
	var out []int64
	for _, p := range values(v.st.posts) {
		if p.CreatedAt.Before(createdAfter) {
			continue
		}
		if p.StatsLastUpdatedAt != nil && !p.StatsLastUpdatedAt.Before(statsBefore) {
			continue
		}
		out = append(out, p.ID)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (v *view) ResetComments(ctx context.Context, postID int64) error {
	if err := v.fail("ResetComments"); err != nil {
		return err
	}
	p, ok := v.st.posts[postID]
	if !ok {
		return notFound("post", postID)
	}
	for id, c := range v.st.comments {
		if c.PostID == postID {
			delete(v.st.comments, id)
		}
	}
	p.LastCommentExternalID = nil
	p.CommentsLastCollectedAt = nil
	return nil
}

func (v *view) UpsertAuthors(ctx context.Context, authors []domain.Author) error {
	if err := v.fail("UpsertAuthors"); err != nil {
		return err
	}
	for _, a := range authors {
		cp := a
		v.st.authors[a.ExternalID] = &cp
	}
	return nil
}

func (v *view) InsertComments(ctx context.Context, comments []domain.Comment) (int, error) {
	if err := v.fail("InsertComments"); err != nil {
		return 0, err
	}
	inserted := 0
	for _, c := range comments {
		if _, ok := v.st.posts[c.PostID]; !ok {
			return 0, notFound("post", c.PostID)
		}
		dup := false
		for _, existing := range v.st.comments {
			if existing.PostID == c.PostID && existing.ExternalID == c.ExternalID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		c.ID = v.st.id()
		cp := c
		v.st.comments[c.ID] = &cp
		inserted++
	}
	return inserted, nil
}

func (v *view) AdvanceCommentMark(ctx context.Context, postID int64, maxSeen *int64, at time.Time) error {
	if err := v.fail("AdvanceCommentMark"); err != nil {
		return err
	}
	p, ok := v.st.posts[postID]
	if !ok {
		return notFound("post", postID)
	}
	if maxSeen != nil && (p.LastCommentExternalID == nil || *maxSeen > *p.LastCommentExternalID) {
		mark := *maxSeen
		p.LastCommentExternalID = &mark
	}
	t := at
	p.CommentsLastCollectedAt = &t
	return nil
}

func (v *view) ListCommentTexts(ctx context.Context, postID int64, limit int) ([]string, error) {
	var cs []domain.Comment
	for _, c := range v.st.comments {
		if c.PostID == postID && c.Text != "" {
			cs = append(cs, *c)
		}
	}
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].CreatedAt.Before(cs[j].CreatedAt)
	})
	var out []string
	for _, c := range cs {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, c.Text)
	}
	return out, nil
}

func (v *view) AnalysisExists(ctx context.Context, postID int64) (bool, error) {
	if err := v.fail("AnalysisExists"); err != nil {
		return false, err
	}
	for _, a := range v.st.analyses {
		if a.PostID == postID {
			return true, nil
		}
	}
	return false, nil
}

func (v *view) InsertAnalysis(ctx context.Context, a domain.Analysis) error {
	if err := v.fail("InsertAnalysis"); err != nil {
		return err
	}
	if _, ok := v.st.posts[a.PostID]; !ok {
		return notFound("post", a.PostID)
	}
	for _, existing := range v.st.analyses {
		if existing.PostID == a.PostID {
			return fmt.Errorf("analysis for post %d: %w", a.PostID, domain.ErrDuplicate)
		}
	}
	a.ID = v.st.id()
	cp := a
	v.st.analyses[a.ID] = &cp
	return nil
}

func (v *view) EnqueueOutbox(ctx context.Context, entry domain.OutboxEntry) (bool, error) {
	if err := v.fail("EnqueueOutbox"); err != nil {
		return false, err
	}
	if entry.DedupeKey != "" {
		for _, e := range v.st.outbox {
			if e.DedupeKey == entry.DedupeKey {
				return false, nil
			}
		}
	}
	entry.ID = v.st.id()
	entry.Status = domain.OutboxStatusPending
	entry.CreatedAt = time.Now().UTC()
	cp := entry
	v.st.outbox[entry.ID] = &cp
	return true, nil
}

func (v *view) LockOutboxBatch(ctx context.Context, limit int) ([]domain.OutboxEntry, error) {
	if err := v.fail("LockOutboxBatch"); err != nil {
		return nil, err
	}
	entries := values(v.st.outbox)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	var out []domain.OutboxEntry
	for _, e := range entries {
		if e.Status != domain.OutboxStatusPending {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (v *view) DeleteOutbox(ctx context.Context, ids []int64) error {
	if err := v.fail("DeleteOutbox"); err != nil {
		return err
	}
	for _, id := range ids {
		delete(v.st.outbox, id)
	}
	return nil
}

func (v *view) MarkOutboxFailed(ctx context.Context, id int64, errText string) error {
	if err := v.fail("MarkOutboxFailed"); err != nil {
		return err
	}
	if e, ok := v.st.outbox[id]; ok {
		e.RetryCount++
		e.LastError = errText
		now := time.Now().UTC()
		e.ProcessedAt = &now
	}
	return nil
}

func (v *view) DeleteOutboxBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := v.fail("DeleteOutboxBefore"); err != nil {
		return 0, err
	}
	var n int64
	for id, e := range v.st.outbox {
		if e.CreatedAt.Before(cutoff) {
			delete(v.st.outbox, id)
			n++
		}
	}
	return n, nil
}
