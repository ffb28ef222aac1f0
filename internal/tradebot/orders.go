package tradebot

import (
	"context"
	"fmt"
	"strings"

	"bfx-trade-bot/internal/alerts"
	"bfx-trade-bot/internal/bitfinex"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// createPair places a sell above and a buy below mid, each only when the cached
// wallet covers it with the configured margin. The legs are paired only when
// both were placed.
func (b *Bot) createPair(ctx context.Context, target Target, mid, amount decimal.Decimal, wallets walletCache) error {
	one := decimal.NewFromInt(1)
	margin := b.settings.BalanceMargin
	b.log.Debug("create paired orders",
		zap.String("symbol", target.Symbol),
		zap.String("amount", amount.String()),
		zap.String("price", mid.String()),
	)

	var sellID, buyID int64
	sellPrice := mid.Mul(one.Add(target.Step))
	if wallets.get(target.Currency).Available.GreaterThanOrEqual(amount.Mul(margin)) {
		order, placed, err := b.placeLimit(ctx, target, amount, sellPrice, bitfinex.SideSell)
		if err != nil {
			return err
		}
		if placed {
			sellID = order.ID
			wallets.debit(target.Currency, amount)
		}
	} else {
		b.notEnough(ctx, target.Currency, bitfinex.SideSell, sellPrice)
	}

	buyPrice := mid.Mul(one.Sub(target.Step))
	fiat := b.settings.Fiat
	if wallets.get(fiat).Available.GreaterThanOrEqual(buyPrice.Mul(amount).Mul(margin)) {
		order, placed, err := b.placeLimit(ctx, target, amount, buyPrice, bitfinex.SideBuy)
		if err != nil {
			return err
		}
		if placed {
			buyID = order.ID
			wallets.debit(fiat, buyPrice.Mul(amount))
		}
	} else {
		b.notEnough(ctx, fiat, bitfinex.SideBuy, buyPrice)
	}

	if sellID != 0 && buyID != 0 {
		b.ledger.Pair(sellID, buyID)
	}
	return nil
}

// placeLimit places and watches one order. placed is false when the exchange
// rejected it for lack of balance.
func (b *Bot) placeLimit(ctx context.Context, target Target, amount, price decimal.Decimal, side bitfinex.Side) (bitfinex.Order, bool, error) {
	order, err := b.exchange.PlaceLimitOrder(ctx, target.Symbol, amount, price, side)
	if err != nil {
		if bitfinex.IsInsufficientBalance(err) {
			currency := target.Currency
			if side == bitfinex.SideBuy {
				currency = b.settings.Fiat
			}
			b.log.Warn("order rejected for balance", zap.String("symbol", target.Symbol), zap.String("side", string(side)), zap.Error(err))
			b.notEnough(ctx, currency, side, price)
			return bitfinex.Order{}, false, nil
		}
		b.metrics.OrdersFailed.Inc()
		return bitfinex.Order{}, false, fmt.Errorf("place %s %s: %w", side, target.Symbol, err)
	}
	b.metrics.OrdersPlaced.Inc()
	b.ledger.Watch(order)
	b.log.Info("new order", orderFields(order)...)
	b.notify(ctx, alerts.Event{Text: fmt.Sprintf("Create %d: %s %s: %s @ %s", order.ID, side, target.Symbol, amount, price)})
	return order, true, nil
}

func (b *Bot) notEnough(ctx context.Context, currency string, side bitfinex.Side, price decimal.Decimal) {
	b.metrics.InsufficientBalance.Inc()
	b.notify(ctx, alerts.Event{
		Text:     fmt.Sprintf("Not enough %s to create a %s order @ %s", strings.ToUpper(currency), side, price),
		NeedCoin: side == bitfinex.SideSell,
		NeedFiat: side == bitfinex.SideBuy,
	})
}

// cancelOrder records the intent to cancel, then retries while the exchange
// reports the order as not cancellable. cancelled is false when every attempt
// hit that race; other errors are returned.
func (b *Bot) cancelOrder(ctx context.Context, id int64) (bool, error) {
	b.notify(ctx, alerts.Event{Text: fmt.Sprintf("Cancel order %d", id)})
	if err := b.sink.MarkCancelRequested(ctx, id); err != nil {
		return false, fmt.Errorf("mark cancel requested %d: %w", id, err)
	}
	retries := b.settings.CancelRetries
	for attempt := 1; attempt <= retries; attempt++ {
		err := b.exchange.CancelOrder(ctx, id)
		if err == nil {
			b.metrics.OrdersCancelled.Inc()
			return true, nil
		}
		if !bitfinex.IsNotCancellable(err) {
			return false, fmt.Errorf("cancel order %d: %w", id, err)
		}
		b.log.Warn("order could not be cancelled", zap.Int64("order_id", id), zap.Int("attempt", attempt))
		if attempt < retries {
			if err := b.sleep(ctx, b.settings.CancelRetryInterval); err != nil {
				return false, err
			}
		}
	}
	b.metrics.CancelFailed.Inc()
	b.notify(ctx, alerts.Event{Text: fmt.Sprintf("Still can not cancel order for %d", id), Exception: true})
	return false, nil
}
