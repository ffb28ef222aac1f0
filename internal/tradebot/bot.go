// Package tradebot keeps pairs of resting limit orders around the last fill
// for every configured symbol.
package tradebot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"bfx-trade-bot/internal/alerts"
	"bfx-trade-bot/internal/bitfinex"
	"bfx-trade-bot/internal/config"
	"bfx-trade-bot/internal/ledger"
	"bfx-trade-bot/internal/metrics"
	"bfx-trade-bot/internal/state"
	"bfx-trade-bot/internal/timescale"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Exchange interface {
	Balances(ctx context.Context) ([]bitfinex.Balance, error)
	ActiveOrders(ctx context.Context) ([]bitfinex.Order, error)
	OrderStatus(ctx context.Context, id int64) (bitfinex.Order, error)
	CancelOrder(ctx context.Context, id int64) error
	PlaceLimitOrder(ctx context.Context, symbol string, amount, price decimal.Decimal, side bitfinex.Side) (bitfinex.Order, error)
	PlaceMarketOrder(ctx context.Context, symbol string, amount decimal.Decimal, side bitfinex.Side) (bitfinex.Order, error)
}

type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Sink is the durable record of executions and of orders the bot asked to cancel.
type Sink interface {
	RecordExecution(ctx context.Context, e state.Execution) error
	Executions(ctx context.Context, since, until time.Time) ([]state.Execution, error)
	MarkCancelRequested(ctx context.Context, id int64) error
	CancelRequested(ctx context.Context, id int64) (bool, error)
}

type Mirror interface {
	EnqueueExecution(e state.Execution)
	EnqueueBalance(snap timescale.BalanceSnapshot)
}

type Target struct {
	Symbol   string
	Currency string
	Unit     decimal.Decimal
	Step     decimal.Decimal
}

type ReplenishSettings struct {
	Enabled        bool
	ThresholdUnits int
	BuyUnits       int
	SettleDelay    time.Duration
}

type Settings struct {
	Targets             []Target
	Fiat                string
	Interval            time.Duration
	StatusRetries       int
	StatusRetryInterval time.Duration
	CancelRetries       int
	CancelRetryInterval time.Duration
	RateLimitCooldown   time.Duration
	BalanceMargin       decimal.Decimal
	SummaryInterval     time.Duration
	Replenish           ReplenishSettings
}

func SettingsFromConfig(cfg *config.Config) Settings {
	s := Settings{
		Fiat:                cfg.Bot.Fiat,
		Interval:            cfg.Bot.Interval,
		StatusRetries:       cfg.Bot.StatusRetries,
		StatusRetryInterval: cfg.Bot.StatusRetryInterval,
		CancelRetries:       cfg.Bot.CancelRetries,
		CancelRetryInterval: cfg.Bot.CancelRetryInterval,
		RateLimitCooldown:   cfg.Bot.RateLimitCooldown,
		BalanceMargin:       cfg.Bot.BalanceMargin.Decimal,
		SummaryInterval:     cfg.Summary.Interval,
		Replenish: ReplenishSettings{
			Enabled:        cfg.Replenish.Enabled,
			ThresholdUnits: cfg.Replenish.ThresholdUnits,
			BuyUnits:       cfg.Replenish.BuyUnits,
			SettleDelay:    cfg.Replenish.SettleDelay,
		},
	}
	for _, symbol := range cfg.TargetSymbols() {
		target := cfg.Targets[symbol]
		s.Targets = append(s.Targets, Target{
			Symbol:   symbol,
			Currency: cfg.Currency(symbol),
			Unit:     target.Unit.Decimal,
			Step:     target.Step.Decimal,
		})
	}
	return s
}

func (s Settings) withDefaults() Settings {
	if s.Fiat == "" {
		s.Fiat = "usd"
	}
	if s.Interval <= 0 {
		s.Interval = 30 * time.Second
	}
	if s.StatusRetries <= 0 {
		s.StatusRetries = 30
	}
	if s.StatusRetryInterval <= 0 {
		s.StatusRetryInterval = time.Second
	}
	if s.CancelRetries <= 0 {
		s.CancelRetries = 10
	}
	if s.CancelRetryInterval <= 0 {
		s.CancelRetryInterval = time.Second
	}
	if s.RateLimitCooldown <= 0 {
		s.RateLimitCooldown = 120 * time.Second
	}
	if !s.BalanceMargin.IsPositive() {
		s.BalanceMargin = decimal.NewFromInt(2)
	}
	if s.Replenish.ThresholdUnits <= 0 {
		s.Replenish.ThresholdUnits = 3
	}
	if s.Replenish.BuyUnits <= 0 {
		s.Replenish.BuyUnits = 2
	}
	return s
}

// Options carries the optional collaborators of a Bot.
type Options struct {
	Snapshots state.Store
	Notifier  alerts.Notifier
	Metrics   *metrics.Metrics
	Mirror    Mirror
}

type Bot struct {
	exchange  Exchange
	prices    PriceSource
	sink      Sink
	snapshots state.Store
	notifier  alerts.Notifier
	metrics   *metrics.Metrics
	mirror    Mirror
	log       *zap.Logger

	settings Settings
	targets  map[string]Target
	ledger   *ledger.Ledger
	// Market orders from replenishment are never paired or re-created.
	marketOrders map[int64]bitfinex.Order
	lastSummary  time.Time
	paused       atomic.Bool

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(ex Exchange, prices PriceSource, sink Sink, settings Settings, opts Options, log *zap.Logger) (*Bot, error) {
	if ex == nil || prices == nil || sink == nil {
		return nil, errors.New("tradebot: exchange, prices and sink are required")
	}
	if len(settings.Targets) == 0 {
		return nil, errors.New("tradebot: no targets configured")
	}
	if log == nil {
		log = zap.NewNop()
	}
	settings = settings.withDefaults()
	targets := make(map[string]Target, len(settings.Targets))
	for _, t := range settings.Targets {
		if !t.Unit.IsPositive() {
			return nil, fmt.Errorf("tradebot: target %s: unit must be > 0", t.Symbol)
		}
		if !t.Step.IsPositive() || t.Step.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("tradebot: target %s: step must be in (0, 1)", t.Symbol)
		}
		targets[t.Symbol] = t
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = alerts.NewMulti(log)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Bot{
		exchange:     ex,
		prices:       prices,
		sink:         sink,
		snapshots:    opts.Snapshots,
		notifier:     notifier,
		metrics:      m,
		mirror:       opts.Mirror,
		log:          log,
		settings:     settings,
		targets:      targets,
		ledger:       ledger.New(),
		marketOrders: make(map[int64]bitfinex.Order),
		sleep:        sleepContext,
		now:          time.Now,
	}, nil
}

// Ledger exposes the watched orders and pairings.
func (b *Bot) Ledger() *ledger.Ledger {
	return b.ledger
}

// Run restores the last ledger snapshot and reconciles until ctx is done or an
// unrecoverable error occurs. Rate limits pause the loop instead of ending it.
func (b *Bot) Run(ctx context.Context) error {
	b.restoreSnapshot(ctx)
	b.notify(ctx, alerts.Event{Text: "Tradebot started", Admin: true})
	wallets, err := b.exchangeWallets(ctx)
	if err == nil {
		_, err = b.logAccountValue(ctx, wallets, true)
	}
	if err != nil {
		b.notify(ctx, alerts.Event{Text: err.Error(), Exception: true})
		return err
	}
	for {
		var err error
		if b.paused.Load() {
			b.log.Debug("paused, skipping iteration")
		} else {
			err = b.Step(ctx)
		}
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		wait := b.settings.Interval
		if err != nil {
			if !bitfinex.IsRateLimit(err) {
				b.notify(ctx, alerts.Event{Text: err.Error(), Exception: true})
				return err
			}
			b.metrics.RateLimited.Inc()
			b.notify(ctx, alerts.Event{Text: "Bitfinex: " + err.Error(), Exception: true})
			b.notify(ctx, alerts.Event{Text: "Bitfinex: sleep some time for rate limit"})
			wait = b.settings.RateLimitCooldown
		}
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Step runs one reconciliation iteration.
func (b *Bot) Step(ctx context.Context) error {
	if err := b.Discover(ctx); err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	if err := b.Backfill(ctx); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	if err := b.React(ctx); err != nil {
		return fmt.Errorf("react: %w", err)
	}
	if b.settings.Replenish.Enabled {
		if err := b.replenish(ctx); err != nil {
			return fmt.Errorf("replenish: %w", err)
		}
	}
	b.logWatched()
	b.saveSnapshot(ctx)
	if err := b.maybePostSummary(ctx); err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	return nil
}

// SetPaused stops or resumes the reconciliation iterations of Run. It
// returns the previous value.
func (b *Bot) SetPaused(paused bool) bool {
	return b.paused.Swap(paused)
}

func (b *Bot) Paused() bool {
	return b.paused.Load()
}

// CleanUp cancels every live order that matches a target.
func (b *Bot) CleanUp(ctx context.Context) error {
	b.notify(ctx, alerts.Event{Text: "Tradebot clean up orders", Admin: true})
	if err := b.Discover(ctx); err != nil {
		return err
	}
	for _, id := range b.ledger.IDs() {
		cancelled, err := b.cancelOrder(ctx, id)
		if err != nil {
			return err
		}
		if cancelled {
			b.ledger.Unwatch(id)
		}
	}
	b.saveSnapshot(ctx)
	return nil
}

// OrderStatus looks up one order with the same lag tolerance as the loop.
func (b *Bot) OrderStatus(ctx context.Context, id int64) (bitfinex.Order, bool, error) {
	return b.pollStatus(ctx, id)
}

func (b *Bot) restoreSnapshot(ctx context.Context) {
	snap, ok, err := state.LoadLedgerSnapshot(ctx, b.snapshots)
	if err != nil {
		b.log.Warn("ledger snapshot load failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	b.ledger.Restore(snap)
	b.log.Info("ledger snapshot restored",
		zap.Int("orders", b.ledger.Len()),
		zap.Int("pairs", len(b.ledger.Snapshot().Pairs)),
	)
}

func (b *Bot) saveSnapshot(ctx context.Context) {
	if err := state.SaveLedgerSnapshot(ctx, b.snapshots, b.ledger.Snapshot()); err != nil {
		b.log.Warn("ledger snapshot save failed", zap.Error(err))
	}
}

func (b *Bot) logWatched() {
	for _, order := range b.ledger.All() {
		fields := orderFields(order)
		if sibling, ok := b.ledger.PairedWith(order.ID); ok {
			fields = append(fields, zap.Int64("paired_with", sibling))
		}
		b.log.Info("watching order", fields...)
	}
}

func (b *Bot) notify(ctx context.Context, ev alerts.Event) {
	_ = b.notifier.Notify(ctx, ev)
}

// walletCache is one iteration's view of the exchange wallets keyed by
// lower-case currency. Available is debited locally after each placement.
type walletCache map[string]*bitfinex.Balance

func (b *Bot) exchangeWallets(ctx context.Context) (walletCache, error) {
	balances, err := b.exchange.Balances(ctx)
	if err != nil {
		return nil, err
	}
	wallets := make(walletCache)
	for i := range balances {
		if balances[i].Wallet != bitfinex.WalletExchange {
			continue
		}
		balance := balances[i]
		wallets[balance.Currency] = &balance
	}
	return wallets, nil
}

func (w walletCache) get(currency string) bitfinex.Balance {
	if balance, ok := w[currency]; ok {
		return *balance
	}
	return bitfinex.Balance{Wallet: bitfinex.WalletExchange, Currency: currency}
}

func (w walletCache) debit(currency string, amount decimal.Decimal) {
	if balance, ok := w[currency]; ok {
		balance.Available = balance.Available.Sub(amount)
	}
}

func orderFields(o bitfinex.Order) []zap.Field {
	fields := []zap.Field{
		zap.Int64("order_id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("side", string(o.Side)),
		zap.String("amount", o.OriginalAmount.String()),
	}
	if o.Price.Valid {
		fields = append(fields, zap.String("price", o.Price.Decimal.String()))
	}
	return fields
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
