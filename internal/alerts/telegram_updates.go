package alerts

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"
)

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      *Chat  `json:"chat"`
	Text      string `json:"text"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Chat struct {
	ID int64 `json:"id"`
}

// GetUpdates long-polls the bot for messages with update_id >= offset.
func (t *Telegram) GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]Update, error) {
	if t.token == "" {
		return nil, errors.New("telegram token is required")
	}
	q := url.Values{}
	if offset > 0 {
		q.Set("offset", strconv.FormatInt(offset, 10))
	}
	if secs := int(wait / time.Second); secs > 0 {
		q.Set("timeout", strconv.Itoa(secs))
	}
	q.Set("allowed_updates", `["message"]`)
	var updates []Update
	if err := t.call(ctx, "getUpdates", q, nil, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}
