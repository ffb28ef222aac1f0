package stats

import "sort"

// Interval is an inclusive integer range.
type Interval struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Intervals is a sorted set of disjoint, non-adjacent inclusive ranges.
type Intervals struct {
	Ranges []Interval `json:"ranges"`
}

// Add unions [start, end] into the set. Overlapping and adjacent ranges merge.
func (iv *Intervals) Add(start, end int64) {
	if end < start {
		return
	}
	merged := make([]Interval, 0, len(iv.Ranges)+1)
	for _, it := range iv.Ranges {
		if it.End+1 >= start && it.Start-1 <= end {
			start = min(start, it.Start)
			end = max(end, it.End)
			continue
		}
		merged = append(merged, it)
	}
	merged = append(merged, Interval{Start: start, End: end})
	sort.Slice(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	iv.Ranges = merged
}

// Sub returns the parts of [start, end] not covered by the set.
func (iv Intervals) Sub(start, end int64) Intervals {
	var out Intervals
	if end < start {
		return out
	}
	for _, it := range iv.Ranges {
		if start > end || it.Start > end {
			break
		}
		if it.End < start {
			continue
		}
		if start < it.Start {
			out.Ranges = append(out.Ranges, Interval{Start: start, End: it.Start - 1})
		}
		start = it.End + 1
	}
	if start <= end {
		out.Ranges = append(out.Ranges, Interval{Start: start, End: end})
	}
	return out
}

// Covers reports whether every point of [start, end] is in the set.
func (iv Intervals) Covers(start, end int64) bool {
	return len(iv.Sub(start, end).Ranges) == 0
}
