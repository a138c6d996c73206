package memstore

import (
	"context"
	"time"

	"tg-insight-collector/internal/domain"
)

func (s *Store) AcquireAccount(ctx context.Context) (domain.Account, error) {
	return call(s, func(v *view) (domain.Account, error) { return v.AcquireAccount(ctx) })
}

func (s *Store) MarkAccountBanned(ctx context.Context, id int64) error {
	return exec(s, func(v *view) error { return v.MarkAccountBanned(ctx, id) })
}

func (s *Store) UpsertAccount(ctx context.Context, name, session string) (domain.Account, error) {
	return call(s, func(v *view) (domain.Account, error) { return v.UpsertAccount(ctx, name, session) })
}

func (s *Store) GetChannel(ctx context.Context, id int64) (domain.Channel, error) {
	return call(s, func(v *view) (domain.Channel, error) { return v.GetChannel(ctx, id) })
}

func (s *Store) FindChannelByName(ctx context.Context, name string) (domain.Channel, error) {
	return call(s, func(v *view) (domain.Channel, error) { return v.FindChannelByName(ctx, name) })
}

func (s *Store) FindChannelByExternalID(ctx context.Context, externalID int64) (domain.Channel, error) {
	return call(s, func(v *view) (domain.Channel, error) { return v.FindChannelByExternalID(ctx, externalID) })
}

func (s *Store) InsertChannel(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	return call(s, func(v *view) (domain.Channel, error) { return v.InsertChannel(ctx, ch) })
}

func (s *Store) SetChannelActive(ctx context.Context, id int64, active bool) error {
	return exec(s, func(v *view) error { return v.SetChannelActive(ctx, id, active) })
}

func (s *Store) SetChannelSchedule(ctx context.Context, id int64, spec string) error {
	return exec(s, func(v *view) error { return v.SetChannelSchedule(ctx, id, spec) })
}

func (s *Store) SetCollectionStatus(ctx context.Context, id int64, status domain.CollectionStatus, errText string, at time.Time) error {
	return exec(s, func(v *view) error { return v.SetCollectionStatus(ctx, id, status, errText, at) })
}

func (s *Store) ListActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	return call(s, func(v *view) ([]domain.Channel, error) { return v.ListActiveChannels(ctx) })
}

func (s *Store) MarkScheduled(ctx context.Context, id int64, at time.Time) error {
	return exec(s, func(v *view) error { return v.MarkScheduled(ctx, id, at) })
}

func (s *Store) GetPost(ctx context.Context, id int64) (domain.Post, error) {
	return call(s, func(v *view) (domain.Post, error) { return v.GetPost(ctx, id) })
}

func (s *Store) GetPostRef(ctx context.Context, id int64) (domain.PostRef, error) {
	return call(s, func(v *view) (domain.PostRef, error) { return v.GetPostRef(ctx, id) })
}

func (s *Store) FindPostID(ctx context.Context, channelID, externalID int64) (int64, bool, error) {
	var (
		id    int64
		found bool
	)
	err := exec(s, func(v *view) error {
		var err error
		id, found, err = v.FindPostID(ctx, channelID, externalID)
		return err
	})
	return id, found, err
}

func (s *Store) InsertPost(ctx context.Context, post domain.Post) (int64, error) {
	return call(s, func(v *view) (int64, error) { return v.InsertPost(ctx, post) })
}

func (s *Store) UpdatePostContent(ctx context.Context, id int64, post domain.Post) error {
	return exec(s, func(v *view) error { return v.UpdatePostContent(ctx, id, post) })
}

func (s *Store) UpdatePostStats(ctx context.Context, id int64, stats domain.PostStats) error {
	return exec(s, func(v *view) error { return v.UpdatePostStats(ctx, id, stats) })
}

func (s *Store) LatestPostExternalID(ctx context.Context, channelID int64) (int64, bool, error) {
	var (
		id    int64
		found bool
	)
	err := exec(s, func(v *view) error {
		var err error
		id, found, err = v.LatestPostExternalID(ctx, channelID)
		return err
	})
	return id, found, err
}

func (s *Store) ExistingPostIDs(ctx context.Context, ids []int64) ([]int64, error) {
	return call(s, func(v *view) ([]int64, error) { return v.ExistingPostIDs(ctx, ids) })
}

func (s *Store) ListPostsForStatsRefresh(ctx context.Context, createdAfter, statsBefore time.Time, limit int) ([]int64, error) {
	return call(s, func(v *view) ([]int64, error) { return v.ListPostsForStatsRefresh(ctx, createdAfter, statsBefore, limit) })
}

func (s *Store) ResetComments(ctx context.Context, postID int64) error {
	return exec(s, func(v *view) error { return v.ResetComments(ctx, postID) })
}

func (s *Store) UpsertAuthors(ctx context.Context, authors []domain.Author) error {
	return exec(s, func(v *view) error { return v.UpsertAuthors(ctx, authors) })
}

func (s *Store) InsertComments(ctx context.Context, comments []domain.Comment) (int, error) {
	return call(s, func(v *view) (int, error) { return v.InsertComments(ctx, comments) })
}

func (s *Store) AdvanceCommentMark(ctx context.Context, postID int64, maxSeen *int64, at time.Time) error {
	return exec(s, func(v *view) error { return v.AdvanceCommentMark(ctx, postID, maxSeen, at) })
}

func (s *Store) ListCommentTexts(ctx context.Context, postID int64, limit int) ([]string, error) {
	return call(s, func(v *view) ([]string, error) { return v.ListCommentTexts(ctx, postID, limit) })
}

func (s *Store) AnalysisExists(ctx context.Context, postID int64) (bool, error) {
	return call(s, func(v *view) (bool, error) { return v.AnalysisExists(ctx, postID) })
}

func (s *Store) InsertAnalysis(ctx context.Context, a domain.Analysis) error {
	return exec(s, func(v *view) error { return v.InsertAnalysis(ctx, a) })
}

func (s *Store) EnqueueOutbox(ctx context.Context, entry domain.OutboxEntry) (bool, error) {
	return call(s, func(v *view) (bool, error) { return v.EnqueueOutbox(ctx, entry) })
}

func (s *Store) LockOutboxBatch(ctx context.Context, limit int) ([]domain.OutboxEntry, error) {
	return call(s, func(v *view) ([]domain.OutboxEntry, error) { return v.LockOutboxBatch(ctx, limit) })
}

func (s *Store) DeleteOutbox(ctx context.Context, ids []int64) error {
	return exec(s, func(v *view) error { return v.DeleteOutbox(ctx, ids) })
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id int64, errText string) error {
	return exec(s, func(v *view) error { return v.MarkOutboxFailed(ctx, id, errText) })
}

func (s *Store) DeleteOutboxBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return call(s, func(v *view) (int64, error) { return v.DeleteOutboxBefore(ctx, cutoff) })
}
