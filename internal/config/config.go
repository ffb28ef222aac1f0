package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig           `yaml:"log"`
	REST      RESTConfig              `yaml:"rest"`
	WS        WSConfig                `yaml:"ws"`
	State     StateConfig             `yaml:"state"`
	Bot       BotConfig               `yaml:"bot"`
	Targets   map[string]TargetConfig `yaml:"targets"`
	Replenish ReplenishConfig         `yaml:"replenish"`
	Summary   SummaryConfig           `yaml:"summary"`
	Lend      LendConfig              `yaml:"lend"`
	Slack     SlackConfig             `yaml:"slack"`
	Telegram  TelegramConfig          `yaml:"telegram"`
	Metrics   MetricsConfig           `yaml:"metrics"`
	Timescale TimescaleConfig         `yaml:"timescale"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Encoding   string `yaml:"encoding"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type RESTConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay"`
	// HistoryInterval throttles the history endpoints client side.
	HistoryInterval time.Duration `yaml:"history_interval"`
}

type WSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PriceMaxAge    time.Duration `yaml:"price_max_age"`
}

type StateConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
	BadgerPath string `yaml:"badger_path"`
}

type BotConfig struct {
	Interval            time.Duration `yaml:"interval"`
	Fiat                string        `yaml:"fiat"`
	StatusRetries       int           `yaml:"status_retries"`
	StatusRetryInterval time.Duration `yaml:"status_retry_interval"`
	CancelRetries       int           `yaml:"cancel_retries"`
	CancelRetryInterval time.Duration `yaml:"cancel_retry_interval"`
	RateLimitCooldown   time.Duration `yaml:"rate_limit_cooldown"`
	BalanceMargin       Decimal       `yaml:"balance_margin"`
}

// TargetConfig holds per-symbol strategy parameters.
type TargetConfig struct {
	Unit Decimal `yaml:"unit" json:"unit"`
	Step Decimal `yaml:"step" json:"step"`
}

type ReplenishConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ThresholdUnits int           `yaml:"threshold_units"`
	BuyUnits       int           `yaml:"buy_units"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
}

type SummaryConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type LendConfig struct {
	Currency  string        `yaml:"currency"`
	Interval  time.Duration `yaml:"interval"`
	MinAmount Decimal       `yaml:"min_amount"`
	Rate      Decimal       `yaml:"rate"`
	Period    int           `yaml:"period"`
	StopFile  string        `yaml:"stop_file"`
}

type SlackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
	Admin   string `yaml:"admin"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
	// Admin is mentioned on admin events.
	Admin string `yaml:"admin"`
	// Operator commands are read from ChatID when enabled.
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Decimal is an exact decimal that decodes from yaml and json scalars.
type Decimal struct {
	decimal.Decimal
}

func (d *Decimal) UnmarshalYAML(node *yaml.Node) error {
	value, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", node.Value, err)
	}
	d.Decimal = value
	return nil
}

func NewDecimal(s string) Decimal {
	return Decimal{decimal.RequireFromString(s)}
}

// Load reads the yaml file at path (optional) and applies environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// env-only setup
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, err
			}
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("SLACK_ENABLE"); ok {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid SLACK_ENABLE %q: %w", v, err)
		}
		cfg.Slack.Enabled = enabled
	}
	if v := strings.TrimSpace(os.Getenv("SLACK_TOKEN")); v != "" {
		cfg.Slack.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("SLACK_CHANNEL")); v != "" {
		cfg.Slack.Channel = v
	}
	if v := strings.TrimSpace(os.Getenv("SLACK_ADMIN")); v != "" {
		cfg.Slack.Admin = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_ADMIN")); v != "" {
		cfg.Telegram.Admin = v
	}
	if v := strings.TrimSpace(os.Getenv("TRADE_BOT_TARGETS")); v != "" {
		var targets map[string]TargetConfig
		if err := json.Unmarshal([]byte(v), &targets); err != nil {
			return fmt.Errorf("invalid TRADE_BOT_TARGETS: %w", err)
		}
		cfg.Targets = targets
	}
	if v := strings.TrimSpace(os.Getenv("TRADE_BOT_DB")); v != "" {
		cfg.State.SQLitePath = v
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = "json"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.bitfinex.com"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.MaxRetries == 0 {
		cfg.REST.MaxRetries = 5
	}
	if cfg.REST.BackoffBase == 0 {
		cfg.REST.BackoffBase = time.Second
	}
	if cfg.REST.RateLimitDelay == 0 {
		cfg.REST.RateLimitDelay = 20 * time.Second
	}
	if cfg.REST.HistoryInterval == 0 {
		cfg.REST.HistoryInterval = 6 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://api-pub.bitfinex.com/ws/2"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.WS.PriceMaxAge == 0 {
		cfg.WS.PriceMaxAge = time.Minute
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "sqlite"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/bfx-trade-bot.db"
	}
	if cfg.State.BadgerPath == "" {
		cfg.State.BadgerPath = "data/badger"
	}
	if cfg.Bot.Interval == 0 {
		cfg.Bot.Interval = 30 * time.Second
	}
	if cfg.Bot.Fiat == "" {
		cfg.Bot.Fiat = "usd"
	}
	cfg.Bot.Fiat = strings.ToLower(cfg.Bot.Fiat)
	if cfg.Bot.StatusRetries == 0 {
		cfg.Bot.StatusRetries = 30
	}
	if cfg.Bot.StatusRetryInterval == 0 {
		cfg.Bot.StatusRetryInterval = time.Second
	}
	if cfg.Bot.CancelRetries == 0 {
		cfg.Bot.CancelRetries = 10
	}
	if cfg.Bot.CancelRetryInterval == 0 {
		cfg.Bot.CancelRetryInterval = time.Second
	}
	if cfg.Bot.RateLimitCooldown == 0 {
		cfg.Bot.RateLimitCooldown = 120 * time.Second
	}
	if cfg.Bot.BalanceMargin.IsZero() {
		cfg.Bot.BalanceMargin = NewDecimal("2")
	}
	if cfg.Replenish.ThresholdUnits == 0 {
		cfg.Replenish.ThresholdUnits = 3
	}
	if cfg.Replenish.BuyUnits == 0 {
		cfg.Replenish.BuyUnits = 2
	}
	if cfg.Replenish.SettleDelay == 0 {
		cfg.Replenish.SettleDelay = 5 * time.Second
	}
	if cfg.Summary.Interval == 0 {
		cfg.Summary.Interval = 5 * time.Minute
	}
	if cfg.Lend.Currency == "" {
		cfg.Lend.Currency = "USD"
	}
	cfg.Lend.Currency = strings.ToUpper(cfg.Lend.Currency)
	if cfg.Lend.Interval == 0 {
		cfg.Lend.Interval = 60 * time.Second
	}
	if cfg.Lend.MinAmount.IsZero() {
		cfg.Lend.MinAmount = NewDecimal("50")
	}
	if cfg.Lend.Period == 0 {
		cfg.Lend.Period = 2
	}
	if cfg.Lend.StopFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Lend.StopFile = home + "/.stop_lendbot"
		} else {
			cfg.Lend.StopFile = ".stop_lendbot"
		}
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":9090"
	}
	if len(cfg.Targets) > 0 {
		normalized := make(map[string]TargetConfig, len(cfg.Targets))
		for symbol, target := range cfg.Targets {
			normalized[strings.ToUpper(strings.TrimSpace(symbol))] = target
		}
		cfg.Targets = normalized
	}
}

func validate(cfg *Config) error {
	for _, symbol := range cfg.TargetSymbols() {
		target := cfg.Targets[symbol]
		fiat := strings.ToUpper(cfg.Bot.Fiat)
		if len(symbol) <= len(fiat) || !strings.HasSuffix(symbol, fiat) {
			return fmt.Errorf("target %s must be quoted in %s", symbol, fiat)
		}
		if !target.Unit.IsPositive() {
			return fmt.Errorf("target %s: unit must be > 0", symbol)
		}
		if !target.Step.IsPositive() || target.Step.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("target %s: step must be in (0, 1)", symbol)
		}
	}
	if cfg.Bot.BalanceMargin.LessThan(decimal.NewFromInt(1)) {
		return errors.New("bot.balance_margin must be >= 1")
	}
	switch cfg.State.Backend {
	case "sqlite", "badger":
	default:
		return fmt.Errorf("unknown state.backend %q", cfg.State.Backend)
	}
	if cfg.Lend.Period < 2 || cfg.Lend.Period > 30 {
		return errors.New("lend.period must be between 2 and 30 days")
	}
	return nil
}

// TargetSymbols returns the configured symbols in a stable order.
func (c *Config) TargetSymbols() []string {
	symbols := make([]string, 0, len(c.Targets))
	for symbol := range c.Targets {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Currency returns the lower-case coin of a target symbol, e.g. "etc" for ETCUSD.
func (c *Config) Currency(symbol string) string {
	return strings.ToLower(strings.TrimSuffix(symbol, strings.ToUpper(c.Bot.Fiat)))
}
