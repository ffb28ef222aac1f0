package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"bfx-trade-bot/internal/bitfinex"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// tickerLastPriceIndex is LAST_PRICE in a v2 ticker update.
const tickerLastPriceIndex = 6

type TickerClient interface {
	Ticker(ctx context.Context, symbol string) (bitfinex.Ticker, error)
}

type Stream interface {
	Subscribe(ctx context.Context, sub any) error
	Run(ctx context.Context, handler func(json.RawMessage)) error
}

type quote struct {
	price decimal.Decimal
	at    time.Time
}

// Prices serves last trade prices, preferring a fresh streamed ticker and
// falling back to the REST ticker.
type Prices struct {
	rest   TickerClient
	stream Stream
	maxAge time.Duration
	now    func() time.Time
	log    *zap.Logger

	mu       sync.RWMutex
	last     map[string]quote
	channels map[int64]string
}

func New(rest TickerClient, stream Stream, maxAge time.Duration, log *zap.Logger) *Prices {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prices{
		rest:     rest,
		stream:   stream,
		maxAge:   maxAge,
		now:      time.Now,
		log:      log,
		last:     make(map[string]quote),
		channels: make(map[int64]string),
	}
}

// Start subscribes the ticker channel of every symbol and consumes the
// stream in the background. Without a stream it is a no-op.
func (p *Prices) Start(ctx context.Context, symbols []string) error {
	if p.stream == nil {
		return nil
	}
	for _, symbol := range symbols {
		sub := map[string]any{"event": "subscribe", "channel": "ticker", "symbol": "t" + strings.ToUpper(symbol)}
		if err := p.stream.Subscribe(ctx, sub); err != nil {
			return fmt.Errorf("subscribe ticker %s: %w", symbol, err)
		}
	}
	go func() {
		if err := p.stream.Run(ctx, p.handleMessage); err != nil && ctx.Err() == nil {
			p.log.Warn("ticker stream stopped", zap.Error(err))
		}
	}()
	return nil
}

func (p *Prices) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(symbol)
	p.mu.RLock()
	q, ok := p.last[symbol]
	p.mu.RUnlock()
	if ok && (p.maxAge <= 0 || p.now().Sub(q.at) <= p.maxAge) {
		return q.price, nil
	}
	ticker, err := p.rest.Ticker(ctx, symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !ticker.LastPrice.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("no last price for %s", symbol)
	}
	p.set(symbol, ticker.LastPrice)
	return ticker.LastPrice, nil
}

func (p *Prices) set(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	p.last[symbol] = quote{price: price, at: p.now()}
	p.mu.Unlock()
}

func (p *Prices) handleMessage(msg json.RawMessage) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 {
		return
	}
	if trimmed[0] == '{' {
		p.handleEvent(trimmed)
		return
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var frame []json.RawMessage
	if err := dec.Decode(&frame); err != nil || len(frame) < 2 {
		return
	}
	var chanID int64
	if err := json.Unmarshal(frame[0], &chanID); err != nil {
		return
	}
	p.mu.RLock()
	symbol, ok := p.channels[chanID]
	p.mu.RUnlock()
	if !ok {
		return
	}
	price, ok := parseLastPrice(frame[1])
	if !ok {
		return
	}
	p.set(symbol, price)
}

func (p *Prices) handleEvent(data []byte) {
	var evt struct {
		Event   string `json:"event"`
		Channel string `json:"channel"`
		ChanID  int64  `json:"chanId"`
		Symbol  string `json:"symbol"`
		Pair    string `json:"pair"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		return
	}
	switch evt.Event {
	case "subscribed":
		if evt.Channel != "ticker" {
			return
		}
		symbol := evt.Pair
		if symbol == "" {
			symbol = strings.TrimPrefix(evt.Symbol, "t")
		}
		p.mu.Lock()
		p.channels[evt.ChanID] = strings.ToUpper(symbol)
		p.mu.Unlock()
	case "error":
		p.log.Warn("ticker stream error", zap.String("msg", evt.Msg))
	}
}

func parseLastPrice(raw json.RawMessage) (decimal.Decimal, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields []any
	if err := dec.Decode(&fields); err != nil || len(fields) <= tickerLastPriceIndex {
		return decimal.Decimal{}, false
	}
	num, ok := fields[tickerLastPriceIndex].(json.Number)
	if !ok {
		return decimal.Decimal{}, false
	}
	price, err := decimal.NewFromString(num.String())
	if err != nil || !price.IsPositive() {
		return decimal.Decimal{}, false
	}
	return price, true
}
