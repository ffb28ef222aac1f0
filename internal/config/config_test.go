package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"SLACK_ENABLE", "SLACK_TOKEN", "SLACK_CHANNEL", "SLACK_ADMIN", "TRADE_BOT_TARGETS", "TRADE_BOT_DB"} {
		unsetEnv(t, key)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bot.Interval != 30*time.Second {
		t.Fatalf("expected 30s interval, got %v", cfg.Bot.Interval)
	}
	if cfg.Bot.StatusRetries != 30 || cfg.Bot.StatusRetryInterval != time.Second {
		t.Fatalf("unexpected status retry defaults: %d %v", cfg.Bot.StatusRetries, cfg.Bot.StatusRetryInterval)
	}
	if cfg.Bot.CancelRetries != 10 {
		t.Fatalf("expected 10 cancel retries, got %d", cfg.Bot.CancelRetries)
	}
	if cfg.REST.MaxRetries != 5 || cfg.REST.RateLimitDelay != 20*time.Second {
		t.Fatalf("unexpected rest defaults: %+v", cfg.REST)
	}
	if !cfg.Bot.BalanceMargin.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected balance margin 2, got %s", cfg.Bot.BalanceMargin)
	}
	if cfg.Bot.RateLimitCooldown != 120*time.Second {
		t.Fatalf("expected 120s cooldown, got %v", cfg.Bot.RateLimitCooldown)
	}
	if cfg.Lend.Currency != "USD" || cfg.Lend.Period != 2 {
		t.Fatalf("unexpected lend defaults: %+v", cfg.Lend)
	}
}

func TestLoadYAMLTargets(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
bot:
  interval: 10s
targets:
  etcusd:
    unit: 1
    step: "0.01"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bot.Interval != 10*time.Second {
		t.Fatalf("expected 10s interval, got %v", cfg.Bot.Interval)
	}
	target, ok := cfg.Targets["ETCUSD"]
	if !ok {
		t.Fatalf("expected normalized ETCUSD target, got %v", cfg.Targets)
	}
	if !target.Unit.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected unit 1, got %s", target.Unit)
	}
	if !target.Step.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("expected step 0.01, got %s", target.Step)
	}
	if got := cfg.Currency("ETCUSD"); got != "etc" {
		t.Fatalf("expected currency etc, got %q", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRADE_BOT_TARGETS", `{"ethusd":{"unit":"0.1","step":0.02},"BTCUSD":{"unit":"0.01","step":"0.005"}}`)
	t.Setenv("TRADE_BOT_DB", "/tmp/bot.db")
	t.Setenv("SLACK_ENABLE", "true")
	t.Setenv("SLACK_TOKEN", "xoxb")
	t.Setenv("SLACK_CHANNEL", "#trade")
	path := writeConfig(t, `
targets:
  ETCUSD:
    unit: 1
    step: 0.01
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	symbols := cfg.TargetSymbols()
	if len(symbols) != 2 || symbols[0] != "BTCUSD" || symbols[1] != "ETHUSD" {
		t.Fatalf("expected env targets to replace file targets, got %v", symbols)
	}
	if !cfg.Targets["ETHUSD"].Step.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("unexpected step: %s", cfg.Targets["ETHUSD"].Step)
	}
	if cfg.State.SQLitePath != "/tmp/bot.db" {
		t.Fatalf("expected db override, got %q", cfg.State.SQLitePath)
	}
	if !cfg.Slack.Enabled || cfg.Slack.Token != "xoxb" || cfg.Slack.Channel != "#trade" {
		t.Fatalf("unexpected slack config: %+v", cfg.Slack)
	}
}

func TestValidateRejectsBadTargets(t *testing.T) {
	cases := map[string]string{
		"wrong quote": "targets:\n  ETCBTC:\n    unit: 1\n    step: 0.01\n",
		"zero unit":   "targets:\n  ETCUSD:\n    unit: 0\n    step: 0.01\n",
		"step >= 1":   "targets:\n  ETCUSD:\n    unit: 1\n    step: 1\n",
		"backend":     "state:\n  backend: redis\n",
	}
	for name, content := range cases {
		clearEnv(t)
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadRejectsBadDecimal(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "targets:\n  ETCUSD:\n    unit: abc\n    step: 0.01\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decimal parse error")
	}
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRADE_BOT_DB", "/tmp/bot.db")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.State.SQLitePath != "/tmp/bot.db" {
		t.Fatalf("expected env db path, got %q", cfg.State.SQLitePath)
	}
}
