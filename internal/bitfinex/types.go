package bitfinex

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	TypeExchangeLimit  OrderType = "exchange limit"
	TypeExchangeMarket OrderType = "exchange market"
)

type Wallet string

const (
	WalletExchange Wallet = "exchange"
	WalletTrading  Wallet = "trading"
	WalletFunding  Wallet = "funding"
)

// Order is a point-in-time copy of an exchange order.
type Order struct {
	ID     int64
	Symbol string
	Side   Side
	Type   OrderType
	// Price is invalid for market orders.
	Price decimal.NullDecimal
	// AvgExecutionPrice is valid only once something was filled.
	AvgExecutionPrice decimal.NullDecimal
	OriginalAmount    decimal.Decimal
	RemainingAmount   decimal.Decimal
	ExecutedAmount    decimal.Decimal
	IsLive            bool
	IsCancelled       bool
	Timestamp         time.Time
}

func (o Order) Cancelled() bool {
	return !o.IsLive && o.IsCancelled
}

// Executed reports a fully or partially filled order that is no longer live.
func (o Order) Executed() bool {
	return !o.IsLive && !o.IsCancelled
}

func (o Order) IsMarket() bool {
	return o.Type == TypeExchangeMarket
}

func (o Order) ExecutionPrice() (decimal.Decimal, bool) {
	if !o.AvgExecutionPrice.Valid {
		return decimal.Decimal{}, false
	}
	return o.AvgExecutionPrice.Decimal, true
}

type Balance struct {
	Wallet    Wallet
	Currency  string
	Amount    decimal.Decimal
	Available decimal.Decimal
}

type Ticker struct {
	Symbol    string
	Mid       decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	LastPrice decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

type Offer struct {
	ID              int64
	Currency        string
	Rate            decimal.Decimal
	Period          int
	Direction       string
	IsLive          bool
	IsCancelled     bool
	OriginalAmount  decimal.Decimal
	RemainingAmount decimal.Decimal
	ExecutedAmount  decimal.Decimal
	Timestamp       time.Time
}

type Movement struct {
	ID          int64
	Currency    string
	Method      string
	Type        string
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	Status      string
	Description string
	Timestamp   time.Time
}

// IsDeposit reports whether the movement brought funds into the account.
func (m Movement) IsDeposit() bool {
	return strings.EqualFold(m.Type, "deposit")
}

// IsCompleted reports whether the movement settled. History rows without a
// status are treated as settled.
func (m Movement) IsCompleted() bool {
	return m.Status == "" || strings.EqualFold(m.Status, "COMPLETED")
}

// IsFinal reports whether the status can no longer change.
func (m Movement) IsFinal() bool {
	if m.IsCompleted() {
		return true
	}
	switch strings.ToUpper(m.Status) {
	case "CANCELED", "CANCELLED":
		return true
	}
	return false
}

type orderWire struct {
	ID                int64           `json:"id"`
	Symbol            string          `json:"symbol"`
	Price             decimal.Decimal `json:"price"`
	AvgExecutionPrice decimal.Decimal `json:"avg_execution_price"`
	Side              string          `json:"side"`
	Type              string          `json:"type"`
	Timestamp         decimal.Decimal `json:"timestamp"`
	IsLive            bool            `json:"is_live"`
	IsCancelled       bool            `json:"is_cancelled"`
	OriginalAmount    decimal.Decimal `json:"original_amount"`
	RemainingAmount   decimal.Decimal `json:"remaining_amount"`
	ExecutedAmount    decimal.Decimal `json:"executed_amount"`
}

func (w orderWire) toOrder() Order {
	order := Order{
		ID:              w.ID,
		Symbol:          strings.ToUpper(w.Symbol),
		Side:            Side(strings.ToLower(w.Side)),
		Type:            OrderType(strings.ToLower(w.Type)),
		OriginalAmount:  w.OriginalAmount.Abs(),
		RemainingAmount: w.RemainingAmount.Abs(),
		ExecutedAmount:  w.ExecutedAmount.Abs(),
		IsLive:          w.IsLive,
		IsCancelled:     w.IsCancelled,
		Timestamp:       parseTimestamp(w.Timestamp),
	}
	if order.Type != TypeExchangeMarket {
		order.Price = decimal.NewNullDecimal(w.Price)
	}
	if order.ExecutedAmount.IsPositive() {
		order.AvgExecutionPrice = decimal.NewNullDecimal(w.AvgExecutionPrice)
	}
	return order
}

type balanceWire struct {
	Type      string          `json:"type"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Available decimal.Decimal `json:"available"`
}

func (w balanceWire) toBalance() Balance {
	return Balance{
		Wallet:    normalizeWallet(w.Type),
		Currency:  strings.ToLower(w.Currency),
		Amount:    w.Amount,
		Available: w.Available,
	}
}

type tickerWire struct {
	Mid       decimal.Decimal `json:"mid"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	LastPrice decimal.Decimal `json:"last_price"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp decimal.Decimal `json:"timestamp"`
}

type offerWire struct {
	ID              int64           `json:"id"`
	Currency        string          `json:"currency"`
	Rate            decimal.Decimal `json:"rate"`
	Period          int             `json:"period"`
	Direction       string          `json:"direction"`
	Timestamp       decimal.Decimal `json:"timestamp"`
	IsLive          bool            `json:"is_live"`
	IsCancelled     bool            `json:"is_cancelled"`
	OriginalAmount  decimal.Decimal `json:"original_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	ExecutedAmount  decimal.Decimal `json:"executed_amount"`
}

func (w offerWire) toOffer() Offer {
	return Offer{
		ID:              w.ID,
		Currency:        strings.ToUpper(w.Currency),
		Rate:            w.Rate,
		Period:          w.Period,
		Direction:       strings.ToLower(w.Direction),
		IsLive:          w.IsLive,
		IsCancelled:     w.IsCancelled,
		OriginalAmount:  w.OriginalAmount,
		RemainingAmount: w.RemainingAmount,
		ExecutedAmount:  w.ExecutedAmount,
		Timestamp:       parseTimestamp(w.Timestamp),
	}
}

type movementWire struct {
	ID          int64           `json:"id"`
	Currency    string          `json:"currency"`
	Method      string          `json:"method"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
	Timestamp   decimal.Decimal `json:"timestamp"`
}

func (w movementWire) toMovement() Movement {
	return Movement{
		ID:          w.ID,
		Currency:    strings.ToUpper(w.Currency),
		Method:      w.Method,
		Type:        strings.ToUpper(w.Type),
		Amount:      w.Amount.Abs(),
		Fee:         w.Fee,
		Status:      w.Status,
		Description: w.Description,
		Timestamp:   parseTimestamp(w.Timestamp),
	}
}

// parseTimestamp converts "1444272165.252370982" style seconds.
func parseTimestamp(ts decimal.Decimal) time.Time {
	if ts.IsZero() {
		return time.Time{}
	}
	secs := ts.IntPart()
	nanos := ts.Sub(decimal.NewFromInt(secs)).Shift(9).IntPart()
	return time.Unix(secs, nanos).UTC()
}

// normalizeWallet maps the v1 "deposit" wallet to funding.
func normalizeWallet(name string) Wallet {
	name = strings.ToLower(name)
	if name == "deposit" {
		return WalletFunding
	}
	return Wallet(name)
}

func walletParam(w Wallet) string {
	if w == WalletFunding {
		return "deposit"
	}
	return string(w)
}
