// Package app wires configuration, storage, the exchange client and the
// notifiers into the runnable bots.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bfx-trade-bot/internal/alerts"
	"bfx-trade-bot/internal/bitfinex"
	"bfx-trade-bot/internal/bitfinex/ws"
	"bfx-trade-bot/internal/config"
	"bfx-trade-bot/internal/ledger"
	"bfx-trade-bot/internal/lendbot"
	"bfx-trade-bot/internal/market"
	"bfx-trade-bot/internal/metrics"
	"bfx-trade-bot/internal/report"
	"bfx-trade-bot/internal/state"
	"bfx-trade-bot/internal/state/badger"
	"bfx-trade-bot/internal/state/sqlite"
	"bfx-trade-bot/internal/timescale"
	"bfx-trade-bot/internal/tradebot"
	"bfx-trade-bot/internal/walletstats"

	"go.uber.org/zap"
)

// Store is what every state backend provides.
type Store interface {
	state.Store
	tradebot.Sink
	SaveMovements(ctx context.Context, movements []bitfinex.Movement) error
	Movements(ctx context.Context, currency string) ([]bitfinex.Movement, error)
}

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    Store
	client   *bitfinex.Client
	stream   *ws.Client
	prices   *market.Prices
	telegram *alerts.Telegram
	notifier *alerts.Multi
	metrics  *metrics.Metrics
	prom     *metrics.Prometheus
	mirror   *timescale.Writer

	bot     *tradebot.Bot
	started bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	store, err := openStore(cfg.State)
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(os.Getenv("BFX_API_KEY"))
	apiSecret := strings.TrimSpace(os.Getenv("BFX_API_SECRET"))
	if apiKey == "" || apiSecret == "" {
		_ = store.Close()
		return nil, errors.New("BFX_API_KEY and BFX_API_SECRET are required")
	}
	client, err := bitfinex.New(bitfinex.Options{
		BaseURL:         cfg.REST.BaseURL,
		APIKey:          apiKey,
		APISecret:       apiSecret,
		Timeout:         cfg.REST.Timeout,
		MaxRetries:      cfg.REST.MaxRetries,
		BackoffBase:     cfg.REST.BackoffBase,
		RateLimitDelay:  cfg.REST.RateLimitDelay,
		HistoryInterval: cfg.REST.HistoryInterval,
	}, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		client:   client,
		telegram: alerts.NewTelegram(cfg.Telegram, log),
		metrics:  metrics.NewNoop(),
	}
	var stream market.Stream
	if cfg.WS.Enabled {
		a.stream = ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
		stream = a.stream
	}
	a.prices = market.New(client, stream, cfg.WS.PriceMaxAge, log)

	var notifiers []alerts.Notifier
	if cfg.Slack.Enabled {
		notifiers = append(notifiers, alerts.NewSlack(cfg.Slack, log))
	}
	if cfg.Telegram.Enabled {
		notifiers = append(notifiers, a.telegram)
	}
	a.notifier = alerts.NewMulti(log, notifiers...)

	if cfg.Metrics.Enabled {
		a.prom = metrics.NewPrometheus()
		a.metrics = a.prom.Metrics
	}
	mirror, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("timescale: %w", err)
	}
	a.mirror = mirror
	return a, nil
}

func openStore(cfg config.StateConfig) (Store, error) {
	switch cfg.Backend {
	case "badger":
		if err := os.MkdirAll(cfg.BadgerPath, 0o755); err != nil {
			return nil, err
		}
		return badger.New(cfg.BadgerPath)
	default:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, err
			}
		}
		return sqlite.New(cfg.SQLitePath)
	}
}

// start brings up the shared background pieces: nonce persistence, the
// ops listener and the mirror writer.
func (a *App) start(ctx context.Context) {
	if a.started {
		return
	}
	a.started = true
	if err := a.client.InitNonceStore(ctx, a.store); err != nil {
		a.log.Warn("nonce store init failed", zap.Error(err))
	}
	if a.prom != nil {
		a.serveOps(ctx)
	}
	a.mirror.Start(ctx)
}

// serveOps listens on the metrics address for /metrics, /healthz and, while
// the trade bot runs, the watched orders.
func (a *App) serveOps(ctx context.Context) {
	var watched func() *ledger.Ledger
	if a.bot != nil {
		watched = a.bot.Ledger
	}
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           newRouter(a.prom.Handler(), watched, a.log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("ops listener stopped", zap.Error(err))
		}
	}()
	a.log.Info("ops listening", zap.String("address", a.cfg.Metrics.Address))
}

func (a *App) Close() error {
	var errs []error
	if a.stream != nil {
		errs = append(errs, a.stream.Close())
	}
	errs = append(errs, a.mirror.Close(), a.store.Close())
	return errors.Join(errs...)
}

func (a *App) tradeBot() (*tradebot.Bot, error) {
	if a.bot != nil {
		return a.bot, nil
	}
	opts := tradebot.Options{
		Snapshots: a.store,
		Notifier:  a.notifier,
		Metrics:   a.metrics,
	}
	if a.mirror != nil {
		opts.Mirror = a.mirror
	}
	bot, err := tradebot.New(a.client, a.prices, a.store, tradebot.SettingsFromConfig(a.cfg), opts, a.log)
	if err != nil {
		return nil, err
	}
	a.bot = bot
	return bot, nil
}

// RunTradeBot reconciles the configured targets until ctx is done.
func (a *App) RunTradeBot(ctx context.Context) error {
	bot, err := a.tradeBot()
	if err != nil {
		return err
	}
	a.start(ctx)
	if err := a.prices.Start(ctx, a.cfg.TargetSymbols()); err != nil {
		a.log.Warn("ticker stream unavailable, using rest prices", zap.Error(err))
	}
	a.startOperator(ctx)
	return bot.Run(ctx)
}

// CleanUpOrders cancels every live order of the configured targets.
func (a *App) CleanUpOrders(ctx context.Context) error {
	bot, err := a.tradeBot()
	if err != nil {
		return err
	}
	a.start(ctx)
	return bot.CleanUp(ctx)
}

// OrderStatus renders one order, or a not found line.
func (a *App) OrderStatus(ctx context.Context, id int64) (string, error) {
	bot, err := a.tradeBot()
	if err != nil {
		return "", err
	}
	a.start(ctx)
	order, found, err := bot.OrderStatus(ctx, id)
	if err != nil {
		return "", err
	}
	if !found {
		return fmt.Sprintf("order %d not found", id), nil
	}
	return report.Orders([]bitfinex.Order{order}), nil
}

// RunLendBot keeps the configured funding currency lent out.
func (a *App) RunLendBot(ctx context.Context, stopFile string) error {
	settings := lendbot.SettingsFromConfig(a.cfg.Lend)
	if stopFile != "" {
		settings.StopFile = stopFile
	}
	bot, err := lendbot.New(a.client, settings, a.notifier, a.log)
	if err != nil {
		return err
	}
	a.start(ctx)
	return bot.Run(ctx)
}

// WalletStats renders the return of the account over [since, until].
func (a *App) WalletStats(ctx context.Context, since, until time.Time, currencies []string) (string, error) {
	a.start(ctx)
	stats := walletstats.New(a.client, a.store, a.log)
	rows, err := stats.Run(ctx, walletstats.Options{
		Since:      since,
		Until:      until,
		Currencies: currencies,
		Fiat:       a.cfg.Bot.Fiat,
	})
	if err != nil {
		return "", err
	}
	return report.XIRR(rows), nil
}
