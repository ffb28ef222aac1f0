// Package stats holds the numeric helpers behind wallet statistics.
package stats

import (
	"errors"
	"math"
	"sort"
	"time"
)

const (
	Day  = 24 * time.Hour
	Year = 365 * Day

	approxThreshold = 1000
	minRate         = 1e-10
	maxRate         = 1e10
	rateTolerance   = 1e-8
)

// ErrNoRoot is returned when the present value has the same sign at both
// ends of the search bracket.
var ErrNoRoot = errors.New("stats: xirr has no root in bracket")

// Flow is one cash flow. Negative amounts go into the account, positive
// amounts come out of it.
type Flow struct {
	Time   time.Time
	Amount float64
}

// XIRR returns the compounded rate of return per period for irregular flows.
// With approx set, more than 1000 flows are bucketed before solving.
func XIRR(flows []Flow, period time.Duration, approx bool) (float64, error) {
	if len(flows) == 0 {
		return 0, errors.New("stats: xirr needs at least one flow")
	}
	if period <= 0 {
		return 0, errors.New("stats: xirr period must be > 0")
	}
	sorted := make([]Flow, len(flows))
	copy(sorted, flows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Time.Equal(sorted[j].Time) {
			return sorted[i].Amount < sorted[j].Amount
		}
		return sorted[i].Time.Before(sorted[j].Time)
	})
	if sorted[0].Time.Equal(sorted[len(sorted)-1].Time) {
		return 0, nil
	}
	if approx && len(sorted) > approxThreshold {
		sorted = Aggregate(sorted, granularity(sorted))
	}

	begin := sorted[0].Time
	periods := make([]float64, len(sorted))
	for i, f := range sorted {
		periods[i] = float64(f.Time.Sub(begin)) / float64(period)
	}
	pv := func(rate float64) float64 {
		total := 0.0
		for i, f := range sorted {
			total += f.Amount / math.Pow(rate, periods[i])
		}
		return total
	}

	l, r := minRate, maxRate
	if sign(pv(l))*sign(pv(r)) > 0 {
		return 0, ErrNoRoot
	}
	for l+rateTolerance < r {
		m := (l + r) / 2
		pvm := pv(m)
		switch {
		case pvm == 0:
			return m - 1, nil
		case pvm < 0:
			r = m
		default:
			l = m
		}
	}
	return l - 1, nil
}

func granularity(flows []Flow) time.Duration {
	span := flows[len(flows)-1].Time.Sub(flows[0].Time)
	g := span / approxThreshold
	if g > Day {
		g = Day
	}
	return g
}

// Aggregate merges sorted flows into buckets of width g. The first and last
// flows keep their exact timestamps.
func Aggregate(flows []Flow, g time.Duration) []Flow {
	if g <= 0 || len(flows) == 0 {
		return flows
	}
	out := make([]Flow, 0, len(flows))
	for i, f := range flows {
		t := f.Time
		if i != 0 && i != len(flows)-1 {
			t = f.Time.Truncate(g)
			if t.Before(out[len(out)-1].Time) {
				t = out[len(out)-1].Time
			}
		}
		if i == 0 || !t.Equal(out[len(out)-1].Time) {
			out = append(out, Flow{Time: t, Amount: f.Amount})
			continue
		}
		out[len(out)-1].Amount += f.Amount
	}
	return out
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
