package engine

import (
	"math"
	"testing"
)

func TestCloseGridFrontwardsLongSumsToPositionSize(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	sc.UnstuckThreshold = 0 // isolate grid distribution from auto-unstuck
	balance, psize, pprice := 1000.0, 1.0, 100.0
	lowestAsk, emaUpper := 101.0, 105.0

	closes := CloseGridFrontwardsLong(ep, sc, balance, psize, pprice, lowestAsk, emaUpper, 0, 0)
	if len(closes) == 0 {
		t.Fatal("expected at least one close order")
	}
	total := 0.0
	lastPrice := -math.MaxFloat64
	for _, c := range closes {
		if c.Qty >= 0 {
			t.Errorf("expected negative (sell) qty for long close, got %v", c.Qty)
		}
		if c.Price < lastPrice {
			t.Errorf("expected ascending close prices, got %v after %v", c.Price, lastPrice)
		}
		lastPrice = c.Price
		total += math.Abs(c.Qty)
	}
	if !almostEqual(total, psize, ep.QtyStep) {
		t.Errorf("close orders sum to %v, want %v", total, psize)
	}
}

func TestCloseGridBackwardsLongSumsToPositionSize(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	sc.UnstuckThreshold = 0
	sc.BackwardsTP = true
	balance, psize, pprice := 1000.0, 0.5, 100.0
	lowestAsk, emaUpper := 101.0, 105.0

	closes := CloseGridBackwardsLong(ep, sc, balance, psize, pprice, lowestAsk, emaUpper, 0, 0)
	if len(closes) == 0 {
		t.Fatal("expected at least one close order")
	}
	total := 0.0
	lastPrice := -math.MaxFloat64
	for _, c := range closes {
		if c.Price < lastPrice {
			t.Errorf("expected ascending close prices (post-sort), got %v after %v", c.Price, lastPrice)
		}
		lastPrice = c.Price
		total += math.Abs(c.Qty)
	}
	if !almostEqual(total, psize, ep.QtyStep) {
		t.Errorf("close orders sum to %v, want %v", total, psize)
	}
}

func TestCloseGridFrontwardsShortSumsToPositionSize(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	sc.UnstuckThreshold = 0
	balance, psize, pprice := 1000.0, -1.0, 100.0
	highestBid, emaLower := 99.0, 95.0

	closes := CloseGridFrontwardsShort(ep, sc, balance, psize, pprice, highestBid, emaLower, 0, 0)
	if len(closes) == 0 {
		t.Fatal("expected at least one close order")
	}
	total := 0.0
	for _, c := range closes {
		if c.Qty <= 0 {
			t.Errorf("expected positive (buy) qty for short close, got %v", c.Qty)
		}
		total += c.Qty
	}
	if !almostEqual(total, math.Abs(psize), ep.QtyStep) {
		t.Errorf("close orders sum to %v, want %v", total, math.Abs(psize))
	}
}

func TestCloseGridEmptyPositionReturnsNil(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	if closes := CloseGridFrontwardsLong(ep, sc, 1000.0, 0.0, 100.0, 101.0, 105.0, 0, 0); closes != nil {
		t.Errorf("expected nil for zero position, got %+v", closes)
	}
}

func TestAutoUnstuckCloseLongFiresPastThreshold(t *testing.T) {
	ep := testExchangeParams()
	wel := 10.0
	auThreshold := 0.1
	// Deeply over-exposed long position relative to its limit.
	balance, psize, pprice := 1000.0, 200.0, 100.0
	lowestAsk, emaUpper := 101.0, 105.0

	qty, price, kind := autoUnstuckCloseLong(balance, psize, pprice, lowestAsk, emaUpper, 0, 0, ep, wel, auThreshold, 0.01, 0, 0, 1e18)
	if kind != KindCloseUnstuckLong {
		t.Fatalf("expected KindCloseUnstuckLong, got %v", kind)
	}
	if qty == 0 {
		t.Fatal("expected a nonzero unstuck close qty for a deeply over-exposed position")
	}
	if price <= 0 {
		t.Errorf("expected a positive price, got %v", price)
	}
}

func TestAutoUnstuckCloseLongClockQtyPath(t *testing.T) {
	ep := testExchangeParams()
	wel := 10.0
	auThreshold := 0.1
	balance, psize, pprice := 1000.0, 200.0, 100.0
	lowestAsk, emaUpper := 101.0, 105.0

	// delay minutes / qty pct both nonzero selects the clock-qty path; with
	// now - prev comfortably past the delay floor it should fire.
	qty, _, _ := autoUnstuckCloseLong(balance, psize, pprice, lowestAsk, emaUpper, 10_000_000, 0, ep, wel, auThreshold, 0.01, 1.0, 0.05, 1e18)
	if qty == 0 {
		t.Error("expected clock-qty path to produce a nonzero close after the delay has elapsed")
	}
}

func TestAutoUnstuckCloseLongClockQtyPathRespectsDelay(t *testing.T) {
	ep := testExchangeParams()
	wel := 10.0
	auThreshold := 0.1
	balance, psize, pprice := 1000.0, 200.0, 100.0
	lowestAsk, emaUpper := 101.0, 105.0

	// now == prev: delay has not elapsed, so the clock-qty path should not fire.
	qty, _, _ := autoUnstuckCloseLong(balance, psize, pprice, lowestAsk, emaUpper, 0, 0, ep, wel, auThreshold, 0.01, 1.0, 0.05, 1e18)
	if qty != 0 {
		t.Errorf("expected no close before the delay elapses, got qty %v", qty)
	}
}

func TestTrailingCloseLongFiresOnThresholdAndRetracement(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	sc.CloseTrailingThresholdPct = 0.01
	sc.CloseTrailingRetracementPct = 0.005
	sc.CloseTrailingQtyPct = 0.5

	snap := testSnapshot()
	snap.OrderBook.Bids = [][2]float64{{103.0, 1.0}} // retraced below the high
	pos := Position{Size: 1.0, Price: 100.0}

	tb := NewTrailingPriceBundle()
	tb = UpdateTrailingPriceBundle(tb, 100.0)
	tb = UpdateTrailingPriceBundle(tb, 110.0) // ran up well past threshold

	closes := TrailingCloseLong(ep, snap, sc, pos, tb)
	if len(closes) != 1 {
		t.Fatalf("expected exactly one trailing close, got %d", len(closes))
	}
	if closes[0].Kind != KindCloseTrailingLong {
		t.Errorf("expected KindCloseTrailingLong, got %v", closes[0].Kind)
	}
	if closes[0].Qty >= 0 {
		t.Errorf("expected negative qty, got %v", closes[0].Qty)
	}
}

func TestTrailingCloseLongNoFireWithoutThreshold(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	sc.CloseTrailingThresholdPct = 0
	snap := testSnapshot()
	pos := Position{Size: 1.0, Price: 100.0}
	if closes := TrailingCloseLong(ep, snap, sc, pos, NewTrailingPriceBundle()); closes != nil {
		t.Errorf("expected nil with threshold pct disabled, got %+v", closes)
	}
}

func TestNextClosesLongRoutesToGridWhenTrailingDisabled(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	sc.CloseTrailingThresholdPct = 0
	sc.UnstuckThreshold = 0
	snap := testSnapshot()
	pos := Position{Size: 1.0, Price: 100.0}

	closes := NextClosesLong(ep, snap, sc, pos, NewTrailingPriceBundle(), 0, 0)
	if len(closes) == 0 {
		t.Fatal("expected grid closes when trailing close is disabled")
	}
	for _, c := range closes {
		if c.Kind != KindCloseGridLong {
			t.Errorf("expected all grid-kind closes, got %v", c.Kind)
		}
	}
}
