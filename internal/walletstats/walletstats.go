// Package walletstats computes the return on deposited funds from the
// account's deposit and withdrawal history.
package walletstats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"bfx-trade-bot/internal/bitfinex"
	"bfx-trade-bot/internal/report"
	"bfx-trade-bot/internal/stats"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const fetchedKeyPrefix = "walletstats:fetched:"

// Total is the currency column of the combined row.
const Total = "TOTAL"

type Exchange interface {
	Balances(ctx context.Context) ([]bitfinex.Balance, error)
	Movements(ctx context.Context, currency string, since, until time.Time) ([]bitfinex.Movement, error)
	Ticker(ctx context.Context, symbol string) (bitfinex.Ticker, error)
}

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SaveMovements(ctx context.Context, movements []bitfinex.Movement) error
	Movements(ctx context.Context, currency string) ([]bitfinex.Movement, error)
}

type Options struct {
	Since, Until time.Time
	// Currencies limits the report. Empty means every currency with a balance.
	Currencies []string
	Fiat       string
}

type Stats struct {
	exchange Exchange
	store    Store
	log      *zap.Logger
	now      func() time.Time
}

func New(ex Exchange, store Store, log *zap.Logger) *Stats {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stats{exchange: ex, store: store, log: log, now: time.Now}
}

// Run fetches any history not yet stored and returns one row per currency
// plus a combined row valued in fiat.
func (s *Stats) Run(ctx context.Context, opts Options) ([]report.XIRRRow, error) {
	fiat := strings.ToUpper(opts.Fiat)
	if fiat == "" {
		fiat = "USD"
	}
	until := opts.Until
	if until.IsZero() {
		until = s.now()
	}
	since := opts.Since
	if since.After(until) {
		return nil, fmt.Errorf("since %s is after until %s", since, until)
	}

	balances, err := s.exchange.Balances(ctx)
	if err != nil {
		return nil, fmt.Errorf("balances: %w", err)
	}
	holdings := make(map[string]decimal.Decimal)
	for _, b := range balances {
		cur := strings.ToUpper(b.Currency)
		holdings[cur] = holdings[cur].Add(b.Amount)
	}
	currencies := selectCurrencies(holdings, opts.Currencies)

	var (
		rows  []report.XIRRRow
		all   []stats.Flow
		total decimal.Decimal
	)
	for _, cur := range currencies {
		if err := s.fetch(ctx, cur, since.Unix(), until.Unix()); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", cur, err)
		}
		price, err := s.price(ctx, cur, fiat)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", cur, err)
		}
		movements, err := s.store.Movements(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("load movements %s: %w", cur, err)
		}
		value := holdings[cur].Mul(price)
		flows := Flows(movements, price, since, until)
		flows = append(flows, stats.Flow{Time: until, Amount: value.InexactFloat64()})
		all = append(all, flows...)
		total = total.Add(value)

		row, err := xirrRow(cur, value, flows)
		if err != nil {
			s.log.Warn("xirr unavailable", zap.String("currency", cur), zap.Error(err))
			continue
		}
		rows = append(rows, row)
	}
	if len(currencies) > 1 {
		row, err := xirrRow(Total, total, all)
		if err != nil {
			s.log.Warn("xirr unavailable", zap.String("currency", Total), zap.Error(err))
		} else {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Flows turns completed movements in [since, until] into cash flows valued at
// price. Deposits flow into the account, withdrawals out of it.
func Flows(movements []bitfinex.Movement, price decimal.Decimal, since, until time.Time) []stats.Flow {
	var out []stats.Flow
	for _, m := range movements {
		if m.Timestamp.Before(since) || m.Timestamp.After(until) {
			continue
		}
		if !m.IsCompleted() {
			continue
		}
		amount := m.Amount.Mul(price).InexactFloat64()
		if m.IsDeposit() {
			amount = -amount
		}
		out = append(out, stats.Flow{Time: m.Timestamp, Amount: amount})
	}
	return out
}

func xirrRow(currency string, value decimal.Decimal, flows []stats.Flow) (report.XIRRRow, error) {
	daily, err := stats.XIRR(flows, stats.Day, true)
	if err != nil {
		return report.XIRRRow{}, err
	}
	yearly, err := stats.XIRR(flows, stats.Year, true)
	if err != nil {
		return report.XIRRRow{}, err
	}
	return report.XIRRRow{Currency: currency, Value: value, Flows: len(flows), Daily: daily, Yearly: yearly}, nil
}

// fetch downloads movements for the parts of [since, until] (unix seconds)
// not fetched before. Pages are walked from newest to oldest. Seconds holding
// a movement whose status may still change stay unfetched.
func (s *Stats) fetch(ctx context.Context, currency string, since, until int64) error {
	fetched, err := s.loadFetched(ctx, currency)
	if err != nil {
		return err
	}
	for _, gap := range fetched.Sub(since, until).Ranges {
		start, end := gap.Start, gap.End
		for start <= end {
			s.log.Info("fetch movements", zap.String("currency", currency), zap.Int64("since", start), zap.Int64("until", end))
			page, err := s.exchange.Movements(ctx, currency, time.Unix(start, 0), time.Unix(end, 0))
			if err != nil {
				return err
			}
			if err := s.store.SaveMovements(ctx, page); err != nil {
				return err
			}
			if len(page) < bitfinex.MovementsLimit {
				markFetched(&fetched, page, start, end)
				end = start - 1
			} else {
				oldest := oldestSecond(page)
				if oldest >= end {
					return errors.New("too many movements in one second")
				}
				// the oldest second may hold more rows than this page returned
				markFetched(&fetched, page, oldest+1, end)
				end = oldest
			}
			if err := s.saveFetched(ctx, currency, fetched); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Stats) loadFetched(ctx context.Context, currency string) (stats.Intervals, error) {
	var iv stats.Intervals
	raw, ok, err := s.store.Get(ctx, fetchedKeyPrefix+currency)
	if err != nil || !ok {
		return iv, err
	}
	if err := json.Unmarshal([]byte(raw), &iv); err != nil {
		return iv, fmt.Errorf("decode fetched ranges: %w", err)
	}
	return iv, nil
}

func (s *Stats) saveFetched(ctx context.Context, currency string, iv stats.Intervals) error {
	raw, err := json.Marshal(iv)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, fetchedKeyPrefix+currency, string(raw))
}

func (s *Stats) price(ctx context.Context, currency, fiat string) (decimal.Decimal, error) {
	if currency == fiat {
		return decimal.NewFromInt(1), nil
	}
	ticker, err := s.exchange.Ticker(ctx, currency+fiat)
	if err != nil {
		return decimal.Zero, err
	}
	return ticker.LastPrice, nil
}

// markFetched adds [start, end] to fetched, leaving out the span between the
// oldest and newest pending movement of the page.
func markFetched(fetched *stats.Intervals, page []bitfinex.Movement, start, end int64) {
	first, last := int64(0), int64(-1)
	for _, m := range page {
		if m.IsFinal() {
			continue
		}
		ts := m.Timestamp.Unix()
		if ts < start || ts > end {
			continue
		}
		if last < first {
			first, last = ts, ts
			continue
		}
		first, last = min(first, ts), max(last, ts)
	}
	if last < first {
		fetched.Add(start, end)
		return
	}
	if start < first {
		fetched.Add(start, first-1)
	}
	if last < end {
		fetched.Add(last+1, end)
	}
}

func oldestSecond(page []bitfinex.Movement) int64 {
	oldest := page[0].Timestamp.Unix()
	for _, m := range page[1:] {
		if ts := m.Timestamp.Unix(); ts < oldest {
			oldest = ts
		}
	}
	return oldest
}

func selectCurrencies(holdings map[string]decimal.Decimal, filter []string) []string {
	var out []string
	if len(filter) > 0 {
		seen := make(map[string]bool)
		for _, c := range filter {
			c = strings.ToUpper(strings.TrimSpace(c))
			if c != "" && !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	} else {
		for c, amount := range holdings {
			if !amount.IsZero() {
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out
}
