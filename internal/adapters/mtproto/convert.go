package mtproto

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gotd/td/tg"

	"tg-insight-collector/internal/domain"
)

// convertPost нормализует сообщение канала в RawPost.
func convertPost(msg *tg.Message, username string) domain.RawPost {
	post := domain.RawPost{
		ExternalID: int64(msg.ID),
		Text:       msg.Message,
		CreatedAt:  unixTimestamp(msg.Date),
	}
	if username != "" {
		post.URL = fmt.Sprintf("https://t.me/%s/%d", username, msg.ID)
	}
	if views, ok := msg.GetViews(); ok {
		post.ViewsCount = &views
	}
	if forwards, ok := msg.GetForwards(); ok {
		post.ForwardsCount = &forwards
	}
	if reactions, ok := msg.GetReactions(); ok {
		post.Reactions = convertReactions(reactions)
	}
	if media, ok := msg.GetMedia(); ok {
		post.Media = &domain.Media{Type: mediaType(media)}
		if poll, ok := media.(*tg.MessageMediaPoll); ok {
			post.Poll = convertPoll(poll)
		}
	}
	if fwd, ok := msg.GetFwdFrom(); ok {
		post.ForwardInfo = convertForward(fwd)
	}
	if reply, ok := msg.GetReplyTo(); ok {
		if header, ok := reply.(*tg.MessageReplyHeader); ok {
			if id, ok := header.GetReplyToMsgID(); ok {
				v := int64(id)
				post.ReplyToID = &v
			}
		}
	}
	if grouped, ok := msg.GetGroupedID(); ok {
		post.GroupedID = &grouped
	}
	return post
}

// convertComment нормализует ответ в обсуждении. users: авторы из того же ответа API.
func convertComment(msg *tg.Message, users map[int64]*tg.User) domain.RawComment {
	comment := domain.RawComment{
		ExternalID: int64(msg.ID),
		Text:       msg.Message,
		CreatedAt:  unixTimestamp(msg.Date),
	}
	if reactions, ok := msg.GetReactions(); ok {
		comment.Reactions = convertReactions(reactions)
	}
	if from, ok := msg.GetFromID(); ok {
		if peer, ok := from.(*tg.PeerUser); ok {
			comment.Author = convertAuthor(peer.UserID, users[peer.UserID])
		}
	}
	if reply, ok := msg.GetReplyTo(); ok {
		if header, ok := reply.(*tg.MessageReplyHeader); ok {
			// Без top_id комментарий отвечает на сам пост, а не на другой комментарий.
			if _, nested := header.GetReplyToTopID(); nested {
				if id, ok := header.GetReplyToMsgID(); ok {
					v := int64(id)
					comment.ParentID = &v
				}
			}
		}
	}
	return comment
}

func convertAuthor(id int64, user *tg.User) *domain.RawAuthor {
	author := &domain.RawAuthor{ExternalID: id}
	if user == nil {
		return author
	}
	author.Username = user.Username
	author.FirstName = user.FirstName
	author.LastName = user.LastName
	author.IsBot = user.Bot
	return author
}

func convertReactions(r tg.MessageReactions) domain.Reactions {
	if len(r.Results) == 0 {
		return nil
	}
	out := make(domain.Reactions, len(r.Results))
	for _, rc := range r.Results {
		switch reaction := rc.Reaction.(type) {
		case *tg.ReactionEmoji:
			out[reaction.Emoticon] += rc.Count
		case *tg.ReactionCustomEmoji:
			out["custom:"+strconv.FormatInt(reaction.DocumentID, 10)] += rc.Count
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mediaType(media tg.MessageMediaClass) string {
	switch media.(type) {
	case *tg.MessageMediaPhoto:
		return "photo"
	case *tg.MessageMediaDocument:
		return "document"
	case *tg.MessageMediaWebPage:
		return "webpage"
	case *tg.MessageMediaPoll:
		return "poll"
	default:
		return "unknown"
	}
}

func convertPoll(media *tg.MessageMediaPoll) *domain.Poll {
	poll := &domain.Poll{
		Question: media.Poll.Question.Text,
		Closed:   media.Poll.Closed,
	}
	for _, answer := range media.Poll.Answers {
		poll.Answers = append(poll.Answers, answer.Text.Text)
	}
	if total, ok := media.Results.GetTotalVoters(); ok {
		poll.TotalVoters = total
	}
	return poll
}

func convertForward(fwd tg.MessageFwdHeader) *domain.ForwardInfo {
	info := &domain.ForwardInfo{}
	if from, ok := fwd.GetFromID(); ok {
		if peer, ok := from.(*tg.PeerChannel); ok {
			id := peer.ChannelID
			info.FromChannelID = &id
		}
	}
	if post, ok := fwd.GetChannelPost(); ok {
		id := int64(post)
		info.FromMessageID = &id
	}
	if name, ok := fwd.GetFromName(); ok {
		info.SenderName = name
	}
	if fwd.Date != 0 {
		ts := unixTimestamp(fwd.Date)
		info.Date = &ts
	}
	return info
}

func unixTimestamp(sec int) domain.Timestamp {
	return domain.NewTimestamp(time.Unix(int64(sec), 0))
}

// usersByID индексирует пользователей из ответа API.
func usersByID(users []tg.UserClass) map[int64]*tg.User {
	out := make(map[int64]*tg.User, len(users))
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			out[user.ID] = user
		}
	}
	return out
}
