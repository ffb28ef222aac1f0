package state

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Summarize totals executions by side and by symbol and side. Value is
// amount times price.
func Summarize(execs []Execution) (bySide, bySymbol []SideTotal) {
	sides := map[string]*SideTotal{}
	symbols := map[[2]string]*SideTotal{}
	for _, e := range execs {
		value := e.Amount.Mul(e.Price)
		st, ok := sides[e.Side]
		if !ok {
			st = &SideTotal{Side: e.Side, Value: decimal.Zero}
			sides[e.Side] = st
		}
		st.Count++
		st.Value = st.Value.Add(value)

		key := [2]string{e.Symbol, e.Side}
		ct, ok := symbols[key]
		if !ok {
			ct = &SideTotal{Symbol: e.Symbol, Side: e.Side, Value: decimal.Zero}
			symbols[key] = ct
		}
		ct.Count++
		ct.Value = ct.Value.Add(value)
	}
	for _, st := range sides {
		bySide = append(bySide, *st)
	}
	for _, ct := range symbols {
		bySymbol = append(bySymbol, *ct)
	}
	sort.Slice(bySide, func(i, j int) bool { return bySide[i].Side < bySide[j].Side })
	sort.Slice(bySymbol, func(i, j int) bool {
		if bySymbol[i].Symbol != bySymbol[j].Symbol {
			return bySymbol[i].Symbol < bySymbol[j].Symbol
		}
		return bySymbol[i].Side < bySymbol[j].Side
	})
	return bySide, bySymbol
}
