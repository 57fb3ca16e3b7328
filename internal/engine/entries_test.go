package engine

import "testing"

func testSideConfig() SideConfig {
	return SideConfig{
		TotalWalletExposureLimit:   10.0,
		EntryInitialEmaDist:        0.001,
		EntryInitialQtyPct:         0.01,
		EntryGridSpacingPct:        0.01,
		EntryGridSpacingWeight:     1.0,
		EntryGridDoubleDownFactor:  2.0,
		EntryTrailingGridRatio:     0.0,
		EntryTrailingThresholdPct:  0.005,
		EntryTrailingRetracementPct: 0.005,
		UnstuckThreshold:           0.1,
		UnstuckEmaDist:             0.01,
		CloseGridMinMarkup:         0.005,
		CloseGridMarkupRange:       0.02,
		NCloseOrders:               5,
	}
}

func testSnapshot() MarketSnapshot {
	return MarketSnapshot{
		Balance: 1000.0,
		OrderBook: OrderBook{
			Bids: [][2]float64{{99.0, 1.0}},
			Asks: [][2]float64{{101.0, 1.0}},
		},
		EMABands: EMABands{Upper: 105.0, Lower: 95.0},
	}
}

func TestInitialEntryQty(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	got := initialEntryQty(ep, sc, 1000.0, 100.0)
	// balance*wel*qty_pct = 1000*10*0.01 = 100 cost @ 100 = 1.0 qty
	if !almostEqual(got, 1.0, 1e-9) {
		t.Errorf("initialEntryQty = %v, want 1.0", got)
	}
}

func TestReentryQty(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	got := reentryQty(100.0, 1000.0, 1.0, ep, sc)
	// max(1.0*2.0, 1000/100 * 10 * 0.01 = 1.0) = 2.0
	if !almostEqual(got, 2.0, 1e-9) {
		t.Errorf("reentryQty = %v, want 2.0", got)
	}
}

func TestReentryPriceBid(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	// we=0 -> multiplier 0, price = 100*(1-0.01) = 99.0, capped at book bid 99.0
	got := reentryPriceBid(100.0, 0.0, 99.0, ep, sc)
	if !almostEqual(got, 99.0, 1e-9) {
		t.Errorf("reentryPriceBid = %v, want 99.0", got)
	}
}

func TestReentryPriceAsk(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	got := reentryPriceAsk(100.0, 0.0, 101.0, ep, sc)
	if !almostEqual(got, 101.0, 1e-9) {
		t.Errorf("reentryPriceAsk = %v, want 101.0", got)
	}
}

func TestCroppedReentryQtyIsCropped(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	sc.TotalWalletExposureLimit = 1.0 // small limit to force cropping
	pos := Position{Size: 9.0, Price: 100.0}
	we := WalletExposure(ep.CMult, 1000.0, pos.Size, pos.Price, ep.Inverse)

	weIfFilled, croppedQty := croppedReentryQty(ep, sc, pos, we, 1000.0, 5.0, 100.0)
	if weIfFilled <= sc.TotalWalletExposureLimit {
		t.Fatalf("expected weIfFilled %v to exceed limit %v to exercise cropping", weIfFilled, sc.TotalWalletExposureLimit)
	}
	if croppedQty >= 5.0 {
		t.Errorf("expected cropped qty < 5.0, got %v", croppedQty)
	}
}

func TestGridEntryLongInitial(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	snap := testSnapshot()
	order := GridEntryLong(ep, snap, sc, Position{})
	if order.Kind != KindEntryInitialNormalLong {
		t.Fatalf("expected initial normal long entry, got kind %v", order.Kind)
	}
	if order.Qty <= 0 {
		t.Errorf("expected positive qty, got %v", order.Qty)
	}
}

func TestGridEntryShortInitial(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	snap := testSnapshot()
	order := GridEntryShort(ep, snap, sc, Position{})
	if order.Kind != KindEntryInitialNormalShort {
		t.Fatalf("expected initial normal short entry, got kind %v", order.Kind)
	}
	if order.Qty >= 0 {
		t.Errorf("expected negative qty, got %v", order.Qty)
	}
}

func TestGridEntryLongZeroExposureLimitReturnsEmpty(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	sc.TotalWalletExposureLimit = 0
	order := GridEntryLong(ep, testSnapshot(), sc, Position{})
	if !order.IsEmpty() {
		t.Errorf("expected empty order, got %+v", order)
	}
}

func TestTrailingEntryLongNotTriggered(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	snap := testSnapshot()
	pos := Position{Size: 1.0, Price: 100.0}
	tb := NewTrailingPriceBundle()
	tb = UpdateTrailingPriceBundle(tb, 100.0)

	order := TrailingEntryLong(ep, snap, sc, pos, tb)
	if order.Qty != 0 {
		t.Errorf("expected no trailing entry yet, got qty %v", order.Qty)
	}
}

func TestTrailingEntryLongTriggersOnThresholdAndRetracement(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	snap := testSnapshot()
	pos := Position{Size: 1.0, Price: 100.0}

	tb := NewTrailingPriceBundle()
	tb = UpdateTrailingPriceBundle(tb, 100.0)
	tb = UpdateTrailingPriceBundle(tb, 90.0) // drop past threshold (0.5%) below pprice
	tb = UpdateTrailingPriceBundle(tb, 95.0) // retrace up past retracement pct off the low

	order := TrailingEntryLong(ep, snap, sc, pos, tb)
	if order.Kind != KindEntryTrailingNormalLong && order.Kind != KindEntryTrailingCroppedLong {
		t.Fatalf("expected a trailing entry to fire, got kind %v qty %v", order.Kind, order.Qty)
	}
	if order.Qty <= 0 {
		t.Errorf("expected positive qty, got %v", order.Qty)
	}
}

func TestNextEntryLongRatioZeroUsesGrid(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	sc.EntryTrailingGridRatio = 0
	snap := testSnapshot()
	order := NextEntryLong(ep, snap, sc, Position{}, NewTrailingPriceBundle())
	if order.Kind != KindEntryInitialNormalLong {
		t.Errorf("expected grid path for ratio=0, got kind %v", order.Kind)
	}
}

func TestNextEntryLongRatioOneUsesTrailing(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	sc.EntryTrailingGridRatio = 1.0
	snap := testSnapshot()
	order := NextEntryLong(ep, snap, sc, Position{}, NewTrailingPriceBundle())
	if order.Kind != KindEntryInitialNormalLong {
		t.Errorf("expected initial entry regardless of path at flat position, got kind %v", order.Kind)
	}
}

func TestEntriesLongUnrollStopsOnZeroQty(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	sc.TotalWalletExposureLimit = 0.001 // tiny limit so the unroller exhausts quickly
	snap := testSnapshot()
	entries := EntriesLong(ep, snap, sc, Position{}, NewTrailingPriceBundle())
	if len(entries) == 0 {
		t.Fatal("expected at least the initial entry")
	}
	if len(entries) > 500 {
		t.Errorf("unroller exceeded 500-iteration cap: %d", len(entries))
	}
}

func TestEntriesLongIncludesAutoUnstuckWhenDeepInLoss(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	snap := testSnapshot()
	// Deeply underwater long: entry at 1000, market at 99 -> massive loss pct.
	pos := Position{Size: 100.0, Price: 1000.0}
	entries := EntriesLong(ep, snap, sc, pos, NewTrailingPriceBundle())
	if len(entries) == 0 {
		t.Fatal("expected at least one entry")
	}
	if entries[0].Kind != KindEntryUnstuckLong {
		t.Errorf("expected first entry to be the auto-unstuck entry, got kind %v", entries[0].Kind)
	}
}

func TestEntriesShortIncludesAutoUnstuckWhenDeepInLoss(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	snap := testSnapshot()
	pos := Position{Size: -100.0, Price: 1.0}
	entries := EntriesShort(ep, snap, sc, pos, NewTrailingPriceBundle())
	if len(entries) == 0 {
		t.Fatal("expected at least one entry")
	}
	if entries[0].Kind != KindEntryUnstuckShort {
		t.Errorf("expected first entry to be the auto-unstuck entry, got kind %v", entries[0].Kind)
	}
}
