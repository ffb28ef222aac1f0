package bitfinex

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// marketPricePlaceholder is required by the API but ignored for market orders.
var marketPricePlaceholder = decimal.RequireFromString("0.001")

func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	var wire []balanceWire
	if err := c.authPost(ctx, "/v1/balances", nil, true, &wire); err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toBalance())
	}
	return out, nil
}

// ActiveOrders lists the live orders of the account.
func (c *Client) ActiveOrders(ctx context.Context) ([]Order, error) {
	var wire []orderWire
	if err := c.authPost(ctx, "/v1/orders", nil, true, &wire); err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toOrder())
	}
	return out, nil
}

func (c *Client) OrderStatus(ctx context.Context, id int64) (Order, error) {
	var wire orderWire
	if err := c.authPost(ctx, "/v1/order/status", map[string]any{"order_id": id}, true, &wire); err != nil {
		return Order{}, err
	}
	return wire.toOrder(), nil
}

func (c *Client) CancelOrder(ctx context.Context, id int64) error {
	return c.authPost(ctx, "/v1/order/cancel", map[string]any{"order_id": id}, true, nil)
}

// PlaceLimitOrder is never retried on transport failure: the exchange may
// already hold the order.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, amount, price decimal.Decimal, side Side) (Order, error) {
	if !price.IsPositive() {
		return Order{}, errors.New("limit price must be > 0")
	}
	return c.placeOrder(ctx, symbol, amount, price, side, TypeExchangeLimit)
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, amount decimal.Decimal, side Side) (Order, error) {
	return c.placeOrder(ctx, symbol, amount, marketPricePlaceholder, side, TypeExchangeMarket)
}

func (c *Client) placeOrder(ctx context.Context, symbol string, amount, price decimal.Decimal, side Side, kind OrderType) (Order, error) {
	if !amount.IsPositive() {
		return Order{}, errors.New("order amount must be > 0")
	}
	if side != SideBuy && side != SideSell {
		return Order{}, errors.New("order side must be buy or sell")
	}
	params := map[string]any{
		"symbol":   strings.ToLower(symbol),
		"amount":   amount.String(),
		"price":    price.String(),
		"exchange": "bitfinex",
		"side":     string(side),
		"type":     string(kind),
	}
	var wire orderWire
	if err := c.authPost(ctx, "/v1/order/new", params, false, &wire); err != nil {
		return Order{}, err
	}
	return wire.toOrder(), nil
}
