package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bfx-trade-bot/internal/config"

	"go.uber.org/zap"
)

const telegramBaseURL = "https://api.telegram.org"

// Telegram has no shortcodes, so the chat decorations are sent as emoji.
var telegramEmoji = strings.NewReplacer(
	EmojiSell, "❤️",
	EmojiBuy, "💙",
	EmojiNotEnoughCoin, "🚀",
	EmojiNotEnoughFiat, "⚓",
	EmojiException, "🚨",
)

// Telegram posts events to one chat through the Bot API and, for the
// operator, reads commands back from it.
type Telegram struct {
	enabled bool
	token   string
	chatID  string
	admin   string
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

type telegramMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) *Telegram {
	return newTelegram(cfg, log, telegramBaseURL, &http.Client{Timeout: 10 * time.Second})
}

func newTelegram(cfg config.TelegramConfig, log *zap.Logger, baseURL string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Telegram{
		enabled: cfg.Enabled,
		token:   strings.TrimSpace(cfg.Token),
		chatID:  strings.TrimSpace(cfg.ChatID),
		admin:   strings.TrimSpace(cfg.Admin),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log,
	}
}

// Notify posts ev to the chat. Fills and balance warnings arrive silently,
// exceptions and admin events ring. Admin events mention the admin.
func (t *Telegram) Notify(ctx context.Context, ev Event) error {
	return t.send(ctx, telegramMessage{
		ChatID:              t.chatID,
		Text:                telegramEmoji.Replace(Format(ev, t.admin)),
		DisableNotification: !ev.Exception && !ev.Admin,
	})
}

// Send posts a plain text reply.
func (t *Telegram) Send(ctx context.Context, message string) error {
	return t.send(ctx, telegramMessage{ChatID: t.chatID, Text: message})
}

func (t *Telegram) send(ctx context.Context, msg telegramMessage) error {
	if !t.enabled {
		return nil
	}
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram token and chat_id are required")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return errors.New("telegram message is empty")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return t.call(ctx, "sendMessage", nil, body, nil)
}

// call invokes one Bot API method. A body makes it a JSON POST. The result
// field of the reply is decoded into out when out is not nil.
func (t *Telegram) call(ctx context.Context, method string, query url.Values, body []byte, out any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	verb := http.MethodGet
	var reader io.Reader
	if body != nil {
		verb = http.MethodPost
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, verb, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("telegram %s failed: http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var reply struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("telegram %s: decode reply: %w", method, err)
	}
	if !reply.OK {
		desc := strings.TrimSpace(reply.Description)
		if desc == "" {
			desc = "unknown telegram error"
		}
		return fmt.Errorf("telegram %s failed: %s", method, desc)
	}
	if out == nil || len(reply.Result) == 0 {
		return nil
	}
	return json.Unmarshal(reply.Result, out)
}
