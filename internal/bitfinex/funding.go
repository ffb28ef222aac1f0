package bitfinex

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var daysPerYear = decimal.NewFromInt(365)

// MovementsLimit is the page size requested from the movements history.
const MovementsLimit = 1000

func (c *Client) Offers(ctx context.Context) ([]Offer, error) {
	var wire []offerWire
	if err := c.authPost(ctx, "/v1/offers", nil, true, &wire); err != nil {
		return nil, err
	}
	out := make([]Offer, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toOffer())
	}
	return out, nil
}

// NewOffer places a lend offer. dailyRate is a percentage per day; zero
// lends at the flash return rate.
func (c *Client) NewOffer(ctx context.Context, currency string, amount, dailyRate decimal.Decimal, period int) (Offer, error) {
	if !amount.IsPositive() {
		return Offer{}, errors.New("offer amount must be > 0")
	}
	params := map[string]any{
		"currency":  strings.ToUpper(currency),
		"amount":    amount.String(),
		"rate":      dailyRate.Mul(daysPerYear).String(),
		"period":    period,
		"direction": "lend",
	}
	var wire offerWire
	if err := c.authPost(ctx, "/v1/offer/new", params, false, &wire); err != nil {
		return Offer{}, err
	}
	return wire.toOffer(), nil
}

func (c *Client) CancelOffer(ctx context.Context, id int64) error {
	return c.authPost(ctx, "/v1/offer/cancel", map[string]any{"offer_id": id}, true, nil)
}

// Transfer moves available balance between wallets.
func (c *Client) Transfer(ctx context.Context, currency string, amount decimal.Decimal, from, to Wallet) error {
	if !amount.IsPositive() {
		return errors.New("transfer amount must be > 0")
	}
	params := map[string]any{
		"currency":   strings.ToUpper(currency),
		"amount":     amount.String(),
		"walletfrom": walletParam(from),
		"walletto":   walletParam(to),
	}
	var resp []struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := c.authPost(ctx, "/v1/transfer", params, false, &resp); err != nil {
		return err
	}
	if len(resp) > 0 && !strings.EqualFold(resp[0].Status, "success") {
		return &APIError{Status: 200, Message: resp[0].Message}
	}
	return nil
}

// Movements lists deposits and withdrawals within [since, until], newest
// first, at most MovementsLimit per call.
func (c *Client) Movements(ctx context.Context, currency string, since, until time.Time) ([]Movement, error) {
	if c.history != nil {
		if err := c.history.Wait(ctx); err != nil {
			return nil, err
		}
	}
	params := map[string]any{"currency": strings.ToUpper(currency), "limit": MovementsLimit}
	if !since.IsZero() {
		params["since"] = since.Unix()
	}
	if !until.IsZero() {
		params["until"] = until.Unix()
	}
	var wire []movementWire
	if err := c.authPost(ctx, "/v1/history/movements", params, true, &wire); err != nil {
		return nil, err
	}
	out := make([]Movement, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toMovement())
	}
	return out, nil
}
