package tradebot

import (
	"context"
	"fmt"

	"bfx-trade-bot/internal/alerts"
	"bfx-trade-bot/internal/bitfinex"
	"bfx-trade-bot/internal/state"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Discover refreshes watched orders from the exchange's live order list and
// starts watching live target orders placed before the bot started.
func (b *Bot) Discover(ctx context.Context) error {
	orders, err := b.exchange.ActiveOrders(ctx)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if _, market := b.marketOrders[order.ID]; market {
			continue
		}
		if b.ledger.IsWatched(order.ID) || b.shouldWatch(order) {
			b.ledger.Watch(order)
		}
	}
	return nil
}

func (b *Bot) shouldWatch(order bitfinex.Order) bool {
	target, ok := b.targets[order.Symbol]
	if !ok {
		return false
	}
	if !order.OriginalAmount.Equal(target.Unit) {
		return false
	}
	if !order.IsLive {
		return false
	}
	return order.Type == bitfinex.TypeExchangeLimit
}

// Backfill places an initial pair around the last price for every target
// that has no watched order.
func (b *Bot) Backfill(ctx context.Context) error {
	var wallets walletCache
	for _, target := range b.settings.Targets {
		if b.ledger.CountSymbol(target.Symbol) > 0 {
			continue
		}
		if wallets == nil {
			var err error
			if wallets, err = b.exchangeWallets(ctx); err != nil {
				return err
			}
		}
		b.notify(ctx, alerts.Event{Text: fmt.Sprintf("Create initial orders for %s", target.Symbol)})
		price, err := b.prices.LastPrice(ctx, target.Symbol)
		if err != nil {
			return fmt.Errorf("last price %s: %w", target.Symbol, err)
		}
		if err := b.createPair(ctx, target, price, target.Unit, wallets); err != nil {
			return err
		}
	}
	return nil
}

// React polls every watched order once and handles cancellations and fills.
// One balance snapshot serves the whole pass.
func (b *Bot) React(ctx context.Context) error {
	ids := b.ledger.IDs()
	if len(ids) == 0 {
		return nil
	}
	wallets, err := b.exchangeWallets(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !b.ledger.IsWatched(id) {
			continue
		}
		order, found, err := b.pollStatus(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		switch {
		case order.Cancelled():
			b.metrics.OrdersCancelled.Inc()
			b.log.Info("watched order cancelled", orderFields(order)...)
			b.ledger.Unwatch(id)
		case order.Executed():
			if err := b.handleExecuted(ctx, order, wallets); err != nil {
				return err
			}
		default:
			b.ledger.Watch(order)
		}
	}
	return nil
}

// pollStatus tolerates the exchange's lag between placement and status
// visibility. found is false when the order stayed unknown for every attempt.
func (b *Bot) pollStatus(ctx context.Context, id int64) (bitfinex.Order, bool, error) {
	retries := b.settings.StatusRetries
	for attempt := 1; attempt <= retries; attempt++ {
		order, err := b.exchange.OrderStatus(ctx, id)
		if err == nil {
			return order, true, nil
		}
		if !bitfinex.IsOrderNotFound(err) {
			return bitfinex.Order{}, false, fmt.Errorf("order status %d: %w", id, err)
		}
		b.log.Debug("order status not found, retrying", zap.Int64("order_id", id), zap.Int("attempt", attempt))
		if attempt < retries {
			if err := b.sleep(ctx, b.settings.StatusRetryInterval); err != nil {
				return bitfinex.Order{}, false, err
			}
		}
	}
	b.metrics.StatusLookupGaveUp.Inc()
	b.log.Warn("still can not find order status", zap.Int64("order_id", id), zap.Int("attempts", retries))
	return bitfinex.Order{}, false, nil
}

func (b *Bot) handleExecuted(ctx context.Context, order bitfinex.Order, wallets walletCache) error {
	b.metrics.OrdersExecuted.Inc()
	// the iteration snapshot predates the fill
	current, err := b.exchangeWallets(ctx)
	if err != nil {
		return err
	}
	if _, err := b.logAccountValue(ctx, current, false); err != nil {
		return err
	}
	price, ok := executionPrice(order)
	exec := b.execution(order, price)
	b.log.Info("order executed", orderFields(order)...)
	b.notify(ctx, alerts.Event{
		Text: fmt.Sprintf("Executed: %s %s: %s @ %s", order.Side, order.Symbol, exec.Amount, price),
		Side: string(order.Side),
	})
	if err := b.sink.RecordExecution(ctx, exec); err != nil {
		return fmt.Errorf("record execution %d: %w", order.ID, err)
	}
	if b.mirror != nil {
		b.mirror.EnqueueExecution(exec)
	}

	sibling, paired := b.ledger.PairedWith(order.ID)
	b.ledger.Unwatch(order.ID)
	if paired {
		cancelled, err := b.cancelOrder(ctx, sibling)
		if err != nil {
			return err
		}
		if cancelled {
			b.ledger.Unwatch(sibling)
		}
	}

	suppressed, err := b.sink.CancelRequested(ctx, order.ID)
	if err != nil {
		return err
	}
	if suppressed {
		b.notify(ctx, alerts.Event{
			Text:      fmt.Sprintf("Order %d executed after a cancel was requested, not creating new orders", order.ID),
			Exception: true,
		})
		return nil
	}
	target, known := b.targets[order.Symbol]
	if !known {
		return nil
	}
	if !ok {
		b.log.Warn("executed order has no price, not creating new orders", orderFields(order)...)
		return nil
	}
	return b.createPair(ctx, target, price, order.OriginalAmount, wallets)
}

// executionPrice prefers the average fill price and falls back to the limit price.
func executionPrice(order bitfinex.Order) (decimal.Decimal, bool) {
	if price, ok := order.ExecutionPrice(); ok && price.IsPositive() {
		return price, true
	}
	if order.Price.Valid && order.Price.Decimal.IsPositive() {
		return order.Price.Decimal, true
	}
	return decimal.Zero, false
}

func (b *Bot) execution(order bitfinex.Order, price decimal.Decimal) state.Execution {
	ts := order.Timestamp
	if ts.IsZero() {
		ts = b.now()
	}
	amount := order.ExecutedAmount
	if !amount.IsPositive() {
		amount = order.OriginalAmount
	}
	return state.Execution{
		OrderID:   order.ID,
		Timestamp: ts.UTC(),
		Symbol:    order.Symbol,
		Side:      string(order.Side),
		Amount:    amount,
		Price:     price,
		Market:    order.IsMarket(),
	}
}
