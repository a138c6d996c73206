package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Reactions хранит количество реакций по эмодзи.
type Reactions map[string]int

// Media описывает вложение поста.
type Media struct {
	Type string `json:"type" validate:"required,oneof=photo document webpage poll unknown"`
}

// ForwardInfo описывает источник пересланного поста.
type ForwardInfo struct {
	FromChannelID *int64     `json:"from_channel_id,omitempty" validate:"omitempty,gt=0"`
	FromMessageID *int64     `json:"from_message_id,omitempty" validate:"omitempty,gt=0"`
	SenderName    string     `json:"sender_name,omitempty"`
	Date          *Timestamp `json:"date,omitempty"`
}

// Poll описывает опрос в посте.
type Poll struct {
	Question    string   `json:"question"`
	Answers     []string `json:"answers,omitempty"`
	TotalVoters int      `json:"total_voters" validate:"gte=0"`
	Closed      bool     `json:"closed,omitempty"`
}

// RawPost: нормализованная запись поста от коллектора.
type RawPost struct {
	ExternalID    int64        `json:"telegram_id" validate:"required,gt=0"`
	URL           string       `json:"url,omitempty" validate:"omitempty,url"`
	Text          string       `json:"text,omitempty"`
	CreatedAt     Timestamp    `json:"created_at"`
	ViewsCount    *int         `json:"views_count,omitempty" validate:"omitempty,gte=0"`
	ForwardsCount *int         `json:"forwards_count,omitempty" validate:"omitempty,gte=0"`
	Reactions     Reactions    `json:"reactions,omitempty" validate:"omitempty,dive,keys,required,endkeys,gte=0"`
	Media         *Media       `json:"media,omitempty"`
	ForwardInfo   *ForwardInfo `json:"forward_info,omitempty"`
	Poll          *Poll        `json:"poll,omitempty"`
	ReplyToID     *int64       `json:"reply_to_id,omitempty" validate:"omitempty,gt=0"`
	GroupedID     *int64       `json:"grouped_id,omitempty"`
}

// RawAuthor: автор комментария в сыром виде.
type RawAuthor struct {
	ExternalID int64  `json:"telegram_id" validate:"required,gt=0"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	IsBot      bool   `json:"is_bot,omitempty"`
}

// RawComment: нормализованная запись комментария от коллектора.
type RawComment struct {
	ExternalID int64      `json:"telegram_id" validate:"required,gt=0"`
	Text       string     `json:"text,omitempty"`
	CreatedAt  Timestamp  `json:"created_at"`
	Reactions  Reactions  `json:"reactions,omitempty" validate:"omitempty,dive,keys,required,endkeys,gte=0"`
	Author     *RawAuthor `json:"author,omitempty"`
	ParentID   *int64     `json:"reply_to_id,omitempty" validate:"omitempty,gt=0"`
}

// Timestamp принимает время с зоной и без неё; время без зоны считается UTC.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// NewTimestamp нормализует время к UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// UnmarshalJSON разбирает RFC3339 или «наивное» время.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t.Time = parsed.UTC()
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: неизвестный формат %q", raw)
}

// MarshalJSON всегда пишет UTC в RFC3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
