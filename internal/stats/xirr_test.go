package stats

import (
	"errors"
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

func TestXIRRYearly(t *testing.T) {
	flows := []Flow{
		{Time: t0.Add(Year), Amount: 110},
		{Time: t0, Amount: -100},
	}
	got, err := XIRR(flows, Year, false)
	if err != nil {
		t.Fatalf("xirr: %v", err)
	}
	if math.Abs(got-0.10) > 1e-6 {
		t.Fatalf("expected 10%% per year, got %v", got)
	}

	daily, err := XIRR(flows, Day, false)
	if err != nil {
		t.Fatalf("xirr daily: %v", err)
	}
	want := math.Pow(1.1, 1.0/365) - 1
	if math.Abs(daily-want) > 1e-7 {
		t.Fatalf("expected %v per day, got %v", want, daily)
	}
}

func TestXIRRSameTimestampIsZero(t *testing.T) {
	got, err := XIRR([]Flow{{Time: t0, Amount: -1}, {Time: t0, Amount: 2}}, Year, false)
	if err != nil || got != 0 {
		t.Fatalf("expected 0, got %v (%v)", got, err)
	}
}

func TestXIRRNoRoot(t *testing.T) {
	_, err := XIRR([]Flow{{Time: t0, Amount: 1}, {Time: t0.Add(Day), Amount: 1}}, Year, false)
	if !errors.Is(err, ErrNoRoot) {
		t.Fatalf("expected ErrNoRoot, got %v", err)
	}
}

func TestXIRRApproxMatchesExact(t *testing.T) {
	flows := []Flow{{Time: t0, Amount: -1000}}
	for i := 0; i < 1500; i++ {
		flows = append(flows, Flow{Time: t0.Add(time.Duration(i) * time.Hour), Amount: -1})
	}
	flows = append(flows, Flow{Time: t0.Add(Year), Amount: 2800})

	exact, err := XIRR(flows, Year, false)
	if err != nil {
		t.Fatalf("exact: %v", err)
	}
	approx, err := XIRR(flows, Year, true)
	if err != nil {
		t.Fatalf("approx: %v", err)
	}
	if math.Abs(exact-approx) > 0.01 {
		t.Fatalf("approximation drifted: exact %v approx %v", exact, approx)
	}
}

func TestAggregateKeepsEndpoints(t *testing.T) {
	flows := []Flow{
		{Time: t0.Add(10 * time.Minute), Amount: -5},
		{Time: t0.Add(2 * time.Hour), Amount: -1},
		{Time: t0.Add(3 * time.Hour), Amount: -2},
		{Time: t0.Add(30 * time.Hour), Amount: 9},
	}
	got := Aggregate(flows, Day)
	if len(got) != 2 {
		t.Fatalf("expected 2 buckets, got %+v", got)
	}
	if !got[0].Time.Equal(flows[0].Time) || got[0].Amount != -8 {
		t.Fatalf("unexpected first bucket %+v", got[0])
	}
	if !got[1].Time.Equal(flows[3].Time) || got[1].Amount != 9 {
		t.Fatalf("unexpected last bucket %+v", got[1])
	}
}
