package tradebot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"bfx-trade-bot/internal/alerts"
	"bfx-trade-bot/internal/bitfinex"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// replenish buys coin at market for targets whose exchange holdings fell below
// the threshold, then settles outstanding market orders.
func (b *Bot) replenish(ctx context.Context) error {
	wallets, err := b.exchangeWallets(ctx)
	if err != nil {
		return err
	}
	cfg := b.settings.Replenish
	placed := false
	for _, target := range b.settings.Targets {
		if b.pendingMarket(target.Symbol) {
			continue
		}
		amount := wallets.get(target.Currency).Amount
		threshold := target.Unit.Mul(decimal.NewFromInt(int64(cfg.ThresholdUnits)))
		if !amount.IsPositive() || amount.GreaterThanOrEqual(threshold) {
			continue
		}
		b.notify(ctx, alerts.Event{
			Text:     fmt.Sprintf("Only %s %s left, buying %d x %s at market", amount, target.Currency, cfg.BuyUnits, target.Unit),
			NeedCoin: true,
		})
		for i := 0; i < cfg.BuyUnits; i++ {
			order, err := b.exchange.PlaceMarketOrder(ctx, target.Symbol, target.Unit, bitfinex.SideBuy)
			if err != nil {
				if bitfinex.IsInsufficientBalance(err) {
					b.metrics.InsufficientBalance.Inc()
					b.notify(ctx, alerts.Event{
						Text:     fmt.Sprintf("Not enough %s to buy %s at market", strings.ToUpper(b.settings.Fiat), target.Currency),
						NeedFiat: true,
					})
					break
				}
				b.metrics.OrdersFailed.Inc()
				return fmt.Errorf("market buy %s: %w", target.Symbol, err)
			}
			b.metrics.OrdersPlaced.Inc()
			b.marketOrders[order.ID] = order
			placed = true
			b.log.Info("new market order", orderFields(order)...)
		}
	}
	if placed {
		if err := b.sleep(ctx, cfg.SettleDelay); err != nil {
			return err
		}
	}
	return b.checkMarketOrders(ctx)
}

func (b *Bot) pendingMarket(symbol string) bool {
	for _, order := range b.marketOrders {
		if order.Symbol == symbol {
			return true
		}
	}
	return false
}

// checkMarketOrders records filled market orders. They never trigger a new pair.
func (b *Bot) checkMarketOrders(ctx context.Context) error {
	ids := make([]int64, 0, len(b.marketOrders))
	for id := range b.marketOrders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		order, found, err := b.pollStatus(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		switch {
		case order.Cancelled():
			b.log.Warn("market order cancelled", orderFields(order)...)
			delete(b.marketOrders, id)
		case order.Executed():
			price, _ := executionPrice(order)
			exec := b.execution(order, price)
			b.notify(ctx, alerts.Event{
				Text: fmt.Sprintf("Executed market: %s %s: %s @ %s", order.Side, order.Symbol, exec.Amount, price),
				Side: string(order.Side),
			})
			if err := b.sink.RecordExecution(ctx, exec); err != nil {
				return fmt.Errorf("record execution %d: %w", id, err)
			}
			if b.mirror != nil {
				b.mirror.EnqueueExecution(exec)
			}
			b.metrics.OrdersExecuted.Inc()
			delete(b.marketOrders, id)
		default:
			b.marketOrders[id] = order
			b.log.Debug("market order still live", zap.Int64("order_id", id))
		}
	}
	return nil
}
