package bitfinex

import (
	"context"
	"strings"
)

func (c *Client) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	var wire tickerWire
	if err := c.publicGet(ctx, "/v1/pubticker/"+strings.ToLower(symbol), &wire); err != nil {
		return Ticker{}, err
	}
	return Ticker{
		Symbol:    strings.ToUpper(symbol),
		Mid:       wire.Mid,
		Bid:       wire.Bid,
		Ask:       wire.Ask,
		LastPrice: wire.LastPrice,
		Volume:    wire.Volume,
		Timestamp: parseTimestamp(wire.Timestamp),
	}, nil
}
