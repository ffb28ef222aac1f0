package tradebot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bfx-trade-bot/internal/alerts"
	"bfx-trade-bot/internal/report"
	"bfx-trade-bot/internal/state"
	"bfx-trade-bot/internal/timescale"

	"github.com/shopspring/decimal"
)

// logAccountValue reports fiat plus the exchange holdings of every target coin
// at its last price. detailed adds one line per wallet.
func (b *Bot) logAccountValue(ctx context.Context, wallets walletCache, detailed bool) (decimal.Decimal, error) {
	now := b.now().UTC()
	fiat := wallets.get(b.settings.Fiat)
	total := fiat.Amount
	if detailed {
		b.notify(ctx, alerts.Event{Text: fmt.Sprintf("%s amount %s, available: %s", strings.ToUpper(b.settings.Fiat), fiat.Amount, fiat.Available)})
	}
	b.mirrorBalance(timescale.BalanceSnapshot{
		Time:      now,
		Currency:  b.settings.Fiat,
		Amount:    fiat.Amount,
		Available: fiat.Available,
		Price:     decimal.NewFromInt(1),
		Value:     fiat.Amount,
	})
	for _, target := range b.settings.Targets {
		coin := wallets.get(target.Currency)
		price, err := b.prices.LastPrice(ctx, target.Symbol)
		if err != nil {
			return decimal.Zero, fmt.Errorf("last price %s: %w", target.Symbol, err)
		}
		value := coin.Amount.Mul(price)
		if detailed {
			b.notify(ctx, alerts.Event{Text: fmt.Sprintf("coin %s amount: %s, price: %s, value: %s", target.Currency, coin.Amount, price, value)})
		}
		b.mirrorBalance(timescale.BalanceSnapshot{
			Time:      now,
			Currency:  target.Currency,
			Amount:    coin.Amount,
			Available: coin.Available,
			Price:     price,
			Value:     value,
		})
		total = total.Add(value)
	}
	b.notify(ctx, alerts.Event{Text: fmt.Sprintf("Total value: %s", total.StringFixed(2))})
	return total, nil
}

func (b *Bot) mirrorBalance(snap timescale.BalanceSnapshot) {
	if b.mirror != nil {
		b.mirror.EnqueueBalance(snap)
	}
}

func (b *Bot) maybePostSummary(ctx context.Context) error {
	interval := b.settings.SummaryInterval
	if interval <= 0 {
		return nil
	}
	now := b.now()
	if !b.lastSummary.IsZero() && now.Sub(b.lastSummary) < interval {
		return nil
	}
	if err := b.postSummary(ctx, now); err != nil {
		return err
	}
	b.lastSummary = now
	return nil
}

// postSummary posts today's executions grouped by side and by symbol.
func (b *Bot) postSummary(ctx context.Context, now time.Time) error {
	text, err := b.summaryText(ctx, now)
	if err != nil {
		return err
	}
	b.notify(ctx, alerts.Event{Text: text})
	return nil
}

// Summary renders today's executions.
func (b *Bot) Summary(ctx context.Context) (string, error) {
	return b.summaryText(ctx, b.now())
}

func (b *Bot) summaryText(ctx context.Context, now time.Time) (string, error) {
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	execs, err := b.sink.Executions(ctx, since, since.AddDate(0, 0, 1))
	if err != nil {
		return "", err
	}
	if len(execs) == 0 {
		return fmt.Sprintf("%s: no executed orders today", since.Format("2006-01-02")), nil
	}
	bySide, bySymbol := state.Summarize(execs)
	var buys, sells int
	for _, total := range bySide {
		switch total.Side {
		case "buy":
			buys = total.Count
		case "sell":
			sells = total.Count
		}
	}
	return fmt.Sprintf("%s: %d/%d buy/sell\n```\n%s\n```", since.Format("2006-01-02"), buys, sells, report.Summary(bySide, bySymbol)), nil
}
