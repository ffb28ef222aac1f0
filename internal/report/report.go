// Package report renders operator-facing tables.
package report

import (
	"strconv"

	"bfx-trade-bot/internal/bitfinex"
	"bfx-trade-bot/internal/state"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
)

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

func OrderStatus(o bitfinex.Order) string {
	status := "live"
	switch {
	case o.Cancelled():
		status = "cancelled"
	case o.Executed():
		status = "executed"
	}
	return status
}

// Orders renders one row per order with its price and execution state.
func Orders(orders []bitfinex.Order) string {
	t := newTable(table.Row{"ID", "Side", "Symbol", "Type", "Amount", "Price", "Avg Price", "Status"})
	for _, o := range orders {
		t.AppendRow(table.Row{
			strconv.FormatInt(o.ID, 10),
			string(o.Side),
			o.Symbol,
			string(o.Type),
			o.OriginalAmount.String(),
			nullString(o.Price),
			nullString(o.AvgExecutionPrice),
			OrderStatus(o),
		})
	}
	return t.Render()
}

// Summary renders per-side totals followed by per-symbol totals.
func Summary(bySide, bySymbol []state.SideTotal) string {
	sides := newTable(table.Row{"Side", "Count", "Value"})
	for _, s := range bySide {
		sides.AppendRow(table.Row{s.Side, s.Count, s.Value.StringFixed(2)})
	}
	symbols := newTable(table.Row{"Symbol", "Side", "Count", "Value"})
	for _, s := range bySymbol {
		symbols.AppendRow(table.Row{s.Symbol, s.Side, s.Count, s.Value.StringFixed(2)})
	}
	return sides.Render() + "\n" + symbols.Render()
}

type XIRRRow struct {
	Currency string
	Value    decimal.Decimal
	Flows    int
	Daily    float64
	Yearly   float64
}

func XIRR(rows []XIRRRow) string {
	t := newTable(table.Row{"Currency", "Value", "Flows", "Daily %", "Yearly %"})
	for _, r := range rows {
		t.AppendRow(table.Row{
			r.Currency,
			r.Value.StringFixed(2),
			r.Flows,
			strconv.FormatFloat(r.Daily*100, 'f', 4, 64),
			strconv.FormatFloat(r.Yearly*100, 'f', 2, 64),
		})
	}
	return t.Render()
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}
