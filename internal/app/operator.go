package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bfx-trade-bot/internal/alerts"
	"bfx-trade-bot/internal/config"
	"bfx-trade-bot/internal/ledger"
	"bfx-trade-bot/internal/report"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

// operatorAPI is the part of the Telegram client the command loop uses.
type operatorAPI interface {
	GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]alerts.Update, error)
	Send(ctx context.Context, message string) error
}

type operatorBot interface {
	Summary(ctx context.Context) (string, error)
	SetPaused(paused bool) bool
	Paused() bool
	Ledger() *ledger.Ledger
}

type operatorStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
}

type operator struct {
	api          operatorAPI
	bot          operatorBot
	store        operatorStore
	log          *zap.Logger
	chatID       int64
	allowedUsers map[int64]struct{}
	pollInterval time.Duration
	warned       bool
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.telegram == nil || a.bot == nil {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	op := newOperator(a.cfg.Telegram, a.telegram, a.bot, a.store, chatID, a.log)
	go op.loop(ctx)
}

func newOperator(cfg config.TelegramConfig, api operatorAPI, bot operatorBot, store operatorStore, chatID int64, log *zap.Logger) *operator {
	allowed := make(map[int64]struct{}, len(cfg.OperatorAllowedUserIDs))
	for _, id := range cfg.OperatorAllowedUserIDs {
		allowed[id] = struct{}{}
	}
	poll := cfg.OperatorPollInterval
	if poll <= 0 {
		poll = 3 * time.Second
	}
	return &operator{
		api:          api,
		bot:          bot,
		store:        store,
		log:          log,
		chatID:       chatID,
		allowedUsers: allowed,
		pollInterval: poll,
	}
}

func (o *operator) loop(ctx context.Context) {
	offset := o.loadOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := o.api.GetUpdates(ctx, offset, o.pollInterval)
		if err != nil {
			o.logError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.pollInterval):
			}
			continue
		}
		if o.warned {
			o.log.Info("telegram operator recovered")
			o.warned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				o.saveOffset(ctx, offset)
			}
			o.handleUpdate(ctx, upd)
		}
	}
}

func (o *operator) handleUpdate(ctx context.Context, upd alerts.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != o.chatID {
		return
	}
	if len(o.allowedUsers) > 0 {
		if _, ok := o.allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := o.handleCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := o.api.Send(ctx, resp); err != nil {
		o.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// group chats address commands as /status@botname
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:], true
}

func (o *operator) handleCommand(ctx context.Context, cmd string, _ []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "ping":
		return "pong", nil
	case "status":
		return o.status(), nil
	case "summary":
		return o.bot.Summary(ctx)
	case "pause":
		before := o.bot.SetPaused(true)
		o.audit(ctx, "pause", meta, before, true)
		if before {
			return "trading already paused", nil
		}
		return "trading paused", nil
	case "resume":
		before := o.bot.SetPaused(false)
		o.audit(ctx, "resume", meta, before, false)
		if !before {
			return "trading already active", nil
		}
		return "trading resumed", nil
	default:
		return operatorHelpText(), nil
	}
}

func (o *operator) status() string {
	orders := o.bot.Ledger().All()
	lines := []string{
		fmt.Sprintf("paused: %t", o.bot.Paused()),
		fmt.Sprintf("watched orders: %d", len(orders)),
	}
	if len(orders) > 0 {
		lines = append(lines, "```\n"+report.Orders(orders)+"\n```")
	}
	return strings.Join(lines, "\n")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/ping - check the bot is alive",
		"/status - watched orders",
		"/summary - today's executions",
		"/pause - stop reconciling and placing orders",
		"/resume - resume reconciling",
	}, "\n")
}

func (o *operator) logError(err error) {
	if o.warned {
		return
	}
	o.warned = true
	o.log.Warn("telegram operator failed", zap.Error(err))
}

func (o *operator) loadOffset(ctx context.Context) int64 {
	if o.store == nil {
		return 0
	}
	raw, ok, err := o.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (o *operator) saveOffset(ctx context.Context, offset int64) {
	if o.store == nil {
		return
	}
	_ = o.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (o *operator) audit(ctx context.Context, action string, meta operatorMeta, before, after bool) {
	if o.store == nil {
		return
	}
	event := operatorAuditEvent{
		UpdateID:     meta.UpdateID,
		Time:         time.Now().UTC(),
		Action:       action,
		Command:      meta.Raw,
		UserID:       meta.UserID,
		Username:     meta.Username,
		ChatID:       meta.ChatID,
		PausedBefore: before,
		PausedAfter:  after,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", event.Time.UnixNano(), event.UpdateID)
	_ = o.store.Set(ctx, key, string(payload))
}
