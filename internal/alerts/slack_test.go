package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"bfx-trade-bot/internal/config"

	"go.uber.org/zap"
)

func TestSlackSendDisabled(t *testing.T) {
	client := newSlack(config.SlackConfig{}, zap.NewNop(), "http://unused", nil)
	if err := client.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected nil error when disabled, got %v", err)
	}
}

func TestSlackSendMissingConfig(t *testing.T) {
	client := newSlack(config.SlackConfig{Enabled: true}, zap.NewNop(), "http://unused", nil)
	if err := client.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for missing token/channel")
	}
}

func TestSlackNotifyPostsMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	cfg := config.SlackConfig{Enabled: true, Token: "xoxb", Channel: "#trading", Admin: "alec"}
	client := newSlack(cfg, zap.NewNop(), server.URL, server.Client())
	if err := client.Notify(context.Background(), Event{Text: "Tradebot started", Admin: true}); err != nil {
		t.Fatalf("expected send success, got %v", err)
	}
	if gotPath != "/chat.postMessage" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer xoxb" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotPayload["channel"] != "#trading" {
		t.Fatalf("unexpected channel %v", gotPayload["channel"])
	}
	if gotPayload["text"] != "@alec Tradebot started" {
		t.Fatalf("unexpected text %v", gotPayload["text"])
	}
}

func TestSlackSendReportsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer server.Close()

	cfg := config.SlackConfig{Enabled: true, Token: "xoxb", Channel: "#missing"}
	client := newSlack(cfg, zap.NewNop(), server.URL, server.Client())
	err := client.Send(context.Background(), "hello")
	if err == nil || err.Error() != "slack send failed: channel_not_found" {
		t.Fatalf("expected channel_not_found error, got %v", err)
	}
}
