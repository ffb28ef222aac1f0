// Package lendbot keeps a funding wallet lent out and drains it back to the
// exchange wallet while a stop file exists.
package lendbot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"bfx-trade-bot/internal/alerts"
	"bfx-trade-bot/internal/bitfinex"
	"bfx-trade-bot/internal/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Exchange interface {
	Balances(ctx context.Context) ([]bitfinex.Balance, error)
	Offers(ctx context.Context) ([]bitfinex.Offer, error)
	NewOffer(ctx context.Context, currency string, amount, dailyRate decimal.Decimal, period int) (bitfinex.Offer, error)
	CancelOffer(ctx context.Context, id int64) error
	Transfer(ctx context.Context, currency string, amount decimal.Decimal, from, to bitfinex.Wallet) error
}

type Settings struct {
	Currency  string
	Interval  time.Duration
	MinAmount decimal.Decimal
	// Rate is the daily rate in percent. Zero lends at FRR.
	Rate     decimal.Decimal
	Period   int
	StopFile string
}

func SettingsFromConfig(cfg config.LendConfig) Settings {
	return Settings{
		Currency:  cfg.Currency,
		Interval:  cfg.Interval,
		MinAmount: cfg.MinAmount.Decimal,
		Rate:      cfg.Rate.Decimal,
		Period:    cfg.Period,
		StopFile:  cfg.StopFile,
	}
}

type Bot struct {
	exchange Exchange
	notifier alerts.Notifier
	log      *zap.Logger
	settings Settings

	sleep      func(ctx context.Context, d time.Duration) error
	stopExists func(path string) bool
}

func New(ex Exchange, settings Settings, notifier alerts.Notifier, log *zap.Logger) (*Bot, error) {
	if ex == nil {
		return nil, errors.New("lendbot: exchange is required")
	}
	settings.Currency = strings.ToUpper(strings.TrimSpace(settings.Currency))
	if settings.Currency == "" {
		return nil, errors.New("lendbot: currency is required")
	}
	if settings.Interval <= 0 {
		settings.Interval = 60 * time.Second
	}
	if settings.Period <= 0 {
		settings.Period = 2
	}
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = alerts.NewMulti(log)
	}
	return &Bot{
		exchange:   ex,
		notifier:   notifier,
		log:        log,
		settings:   settings,
		sleep:      sleepContext,
		stopExists: fileExists,
	}, nil
}

func (b *Bot) Run(ctx context.Context) error {
	b.notify(ctx, alerts.Event{Text: "LendBot started"})
	for {
		if err := b.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.notify(ctx, alerts.Event{Text: err.Error(), Exception: true})
			return err
		}
		if err := b.sleep(ctx, b.settings.Interval); err != nil {
			return err
		}
	}
}

func (b *Bot) Step(ctx context.Context) error {
	wallet, err := b.fundingWallet(ctx)
	if err != nil {
		return fmt.Errorf("balances: %w", err)
	}
	if b.settings.StopFile != "" && b.stopExists(b.settings.StopFile) {
		return b.stop(ctx, wallet)
	}
	return b.lend(ctx, wallet)
}

func (b *Bot) lend(ctx context.Context, wallet bitfinex.Balance) error {
	available := wallet.Available
	b.log.Info("funding wallet", zap.String("currency", b.settings.Currency), zap.String("available", available.String()))
	if available.LessThan(b.settings.MinAmount) || !available.IsPositive() {
		return nil
	}
	offer, err := b.exchange.NewOffer(ctx, b.settings.Currency, available, b.settings.Rate, b.settings.Period)
	if err != nil {
		return fmt.Errorf("new offer: %w", err)
	}
	b.log.Info("offer created", zap.Int64("offer_id", offer.ID))
	b.notify(ctx, alerts.Event{Text: fmt.Sprintf("Create an new %s offer with amount: %s, rate: %s, period: %d",
		b.settings.Currency, available, b.settings.Rate, b.settings.Period)})
	return nil
}

// stop cancels the currency's offers and moves the available funding balance
// to the exchange wallet.
func (b *Bot) stop(ctx context.Context, wallet bitfinex.Balance) error {
	offers, err := b.exchange.Offers(ctx)
	if err != nil {
		return fmt.Errorf("offers: %w", err)
	}
	for _, offer := range offers {
		if offer.Currency != b.settings.Currency {
			continue
		}
		if err := b.exchange.CancelOffer(ctx, offer.ID); err != nil {
			return fmt.Errorf("cancel offer %d: %w", offer.ID, err)
		}
		daily := offer.Rate.Div(decimal.NewFromInt(365))
		b.notify(ctx, alerts.Event{Text: fmt.Sprintf("Cancel an offer with amount: %s, rate: %s, period: %d",
			offer.RemainingAmount, daily.StringFixed(6), offer.Period)})
	}
	if !wallet.Available.IsPositive() {
		return nil
	}
	if err := b.exchange.Transfer(ctx, b.settings.Currency, wallet.Available, bitfinex.WalletFunding, bitfinex.WalletExchange); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	b.notify(ctx, alerts.Event{Text: fmt.Sprintf("Transfer %s %s from funding to exchange", wallet.Available, b.settings.Currency)})
	return nil
}

func (b *Bot) fundingWallet(ctx context.Context) (bitfinex.Balance, error) {
	balances, err := b.exchange.Balances(ctx)
	if err != nil {
		return bitfinex.Balance{}, err
	}
	for _, balance := range balances {
		if balance.Wallet == bitfinex.WalletFunding && strings.EqualFold(balance.Currency, b.settings.Currency) {
			return balance, nil
		}
	}
	b.log.Debug("no funding wallet", zap.String("currency", b.settings.Currency))
	return bitfinex.Balance{Wallet: bitfinex.WalletFunding, Currency: b.settings.Currency}, nil
}

func (b *Bot) notify(ctx context.Context, ev alerts.Event) {
	_ = b.notifier.Notify(ctx, ev)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
