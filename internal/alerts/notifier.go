package alerts

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const (
	EmojiSell          = ":heart:"
	EmojiBuy           = ":blue_heart:"
	EmojiNotEnoughCoin = ":rocket:"
	EmojiNotEnoughFiat = ":anchor:"
	EmojiException     = ":rotating_light:"
)

// Event is one operator-facing message. The flags only change decoration.
type Event struct {
	Text      string
	Exception bool
	Side      string
	NeedCoin  bool
	NeedFiat  bool
	Admin     bool
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Format renders ev the way chat channels show it. admin is mentioned when
// ev.Admin is set and admin is not empty.
func Format(ev Event, admin string) string {
	text := ev.Text
	if ev.Exception {
		text = EmojiException + " Exception:" + text
	}
	switch ev.Side {
	case "buy":
		text = EmojiBuy + " " + text
	case "sell":
		text = EmojiSell + " " + text
	}
	if ev.NeedCoin {
		text = EmojiNotEnoughCoin + " " + text
	}
	if ev.NeedFiat {
		text = EmojiNotEnoughFiat + " " + text
	}
	admin = strings.TrimPrefix(strings.TrimSpace(admin), "@")
	if ev.Admin && admin != "" {
		text = "@" + admin + " " + text
	}
	return text
}

// Multi logs every event and fans it out to the configured channels.
// Channel failures are logged, never returned.
type Multi struct {
	notifiers []Notifier
	log       *zap.Logger
}

func NewMulti(log *zap.Logger, notifiers ...Notifier) *Multi {
	if log == nil {
		log = zap.NewNop()
	}
	var kept []Notifier
	for _, n := range notifiers {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return &Multi{notifiers: kept, log: log}
}

func (m *Multi) Notify(ctx context.Context, ev Event) error {
	fields := []zap.Field{}
	if ev.Side != "" {
		fields = append(fields, zap.String("side", ev.Side))
	}
	if ev.Exception {
		m.log.Error(ev.Text, fields...)
	} else {
		m.log.Info(ev.Text, fields...)
	}
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			m.log.Warn("notification failed", zap.Error(err))
		}
	}
	return nil
}
