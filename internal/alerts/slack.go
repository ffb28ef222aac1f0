package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bfx-trade-bot/internal/config"

	"go.uber.org/zap"
)

const slackBaseURL = "https://slack.com/api"

type Slack struct {
	enabled bool
	token   string
	channel string
	admin   string
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewSlack(cfg config.SlackConfig, log *zap.Logger) *Slack {
	return newSlack(cfg, log, slackBaseURL, &http.Client{Timeout: 10 * time.Second})
}

func newSlack(cfg config.SlackConfig, log *zap.Logger, baseURL string, client *http.Client) *Slack {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Slack{
		enabled: cfg.Enabled,
		token:   strings.TrimSpace(cfg.Token),
		channel: strings.TrimSpace(cfg.Channel),
		admin:   strings.TrimSpace(cfg.Admin),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log,
	}
}

func (s *Slack) Notify(ctx context.Context, ev Event) error {
	return s.Send(ctx, Format(ev, s.admin))
}

func (s *Slack) Send(ctx context.Context, message string) error {
	if !s.enabled {
		return nil
	}
	if s.token == "" || s.channel == "" {
		return errors.New("slack token and channel are required")
	}
	if strings.TrimSpace(message) == "" {
		return errors.New("slack message is empty")
	}
	body, err := json.Marshal(map[string]any{
		"channel":    s.channel,
		"text":       message,
		"link_names": true,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("slack send failed: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("slack send failed: decode response: %w", err)
	}
	if !result.OK {
		if result.Error == "" {
			result.Error = "unknown slack error"
		}
		return fmt.Errorf("slack send failed: %s", result.Error)
	}
	return nil
}
