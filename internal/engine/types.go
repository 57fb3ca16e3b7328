// Package engine implements the pure order-generation core: given a market
// snapshot, a position, a trailing price bundle and a side configuration, it
// computes the next batch of entry and close orders for a perpetual-futures
// grid + trailing strategy. Every function here is total and side-effect
// free; callers own all state between calls.
package engine

import "math"

// ExchangeParams carries the per-market quantization and contract constants
// the engine needs to round prices/quantities and convert cost<->qty.
type ExchangeParams struct {
	QtyStep   float64
	PriceStep float64
	MinQty    float64
	MinCost   float64
	CMult     float64
	Inverse   bool
}

// Position is a signed, value-typed snapshot of the current position on one
// side. Size is signed (long>0, short<0); Price is the average entry price
// and is meaningless when Size == 0.
type Position struct {
	Size  float64
	Price float64
}

// OrderBook holds best-bid/best-ask levels. Only the top of book matters to
// the engine; deeper levels are accepted for parity with the source format
// but unused.
type OrderBook struct {
	Bids [][2]float64
	Asks [][2]float64
}

// BestBid returns the highest bid, or 0 if the book has no bids.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0][0]
}

// BestAsk returns the lowest ask, or math.MaxFloat64 (standing in for an
// unbounded ask) if the book has no asks.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return math.MaxFloat64
	}
	return b.Asks[0][0]
}

// EMABands is the pair of exponentially-smoothed price bands the caller
// derives from two EMAs computed at SideConfig.EMASpan0/EMASpan1.
type EMABands struct {
	Upper float64
	Lower float64
}

// MarketSnapshot is the per-tick, per-symbol state the engine consumes.
type MarketSnapshot struct {
	Balance   float64
	OrderBook OrderBook
	EMABands  EMABands
}

// TrailingPriceBundle is the externally-maintained running extrema of the
// observed close price, used to drive the trailing entry/close state
// machines. Reset to NewTrailingPriceBundle whenever a position goes flat.
type TrailingPriceBundle struct {
	MinSinceOpen float64
	MaxSinceMin  float64
	MaxSinceOpen float64
	MinSinceMax  float64
}

// NewTrailingPriceBundle returns the zero-state bundle: no observations yet.
func NewTrailingPriceBundle() TrailingPriceBundle {
	return TrailingPriceBundle{
		MinSinceOpen: math.MaxFloat64,
		MaxSinceMin:  0,
		MaxSinceOpen: 0,
		MinSinceMax:  math.MaxFloat64,
	}
}

// UpdateTrailingPriceBundle folds one observed close price into the bundle,
// per the caller contract in SPEC_FULL.md / spec.md §6.
func UpdateTrailingPriceBundle(b TrailingPriceBundle, price float64) TrailingPriceBundle {
	b.MinSinceOpen = math.Min(b.MinSinceOpen, price)
	b.MaxSinceOpen = math.Max(b.MaxSinceOpen, price)
	if b.MinSinceOpen < b.MaxSinceOpen {
		b.MaxSinceMin = math.Max(b.MaxSinceMin, price)
	}
	if b.MaxSinceOpen > b.MinSinceOpen {
		b.MinSinceMax = math.Min(b.MinSinceMax, price)
	}
	return b
}

// SideConfig bundles all tunables for one side (long or short) of the grid +
// trailing strategy, including the auto-unstuck recovery mode.
type SideConfig struct {
	TotalWalletExposureLimit float64
	WalletExposureLimit      float64

	EntryInitialQtyPct      float64
	EntryInitialEmaDist     float64
	EntryGridSpacingPct     float64
	EntryGridSpacingWeight  float64
	EntryGridDoubleDownFactor float64

	EntryTrailingThresholdPct   float64
	EntryTrailingRetracementPct float64
	EntryTrailingGridRatio      float64

	CloseGridMinMarkup      float64
	CloseGridMarkupRange    float64
	CloseGridQtyPct         float64
	NCloseOrders            float64
	BackwardsTP             bool

	CloseTrailingThresholdPct   float64
	CloseTrailingRetracementPct float64
	CloseTrailingQtyPct         float64
	CloseTrailingGridRatio      float64

	UnstuckThreshold       float64
	UnstuckEmaDist         float64
	UnstuckLossAllowancePct float64
	UnstuckClosePct        float64

	// UnstuckDelayMinutes/UnstuckQtyPct gate the supplemented clock-qty
	// delayed auto-unstuck-close path (see SPEC_FULL.md "Supplemented
	// Features"). Zero (the default) reproduces spec.md's legacy solver
	// path exactly.
	UnstuckDelayMinutes float64
	UnstuckQtyPct       float64

	EMASpan0 float64
	EMASpan1 float64
}

// OrderKind tags the behavioral origin of a GridOrder for telemetry and
// testing. The entry unrollers (EntriesLong/EntriesShort) also read it: they
// stop unrolling when a trailing-entry kind appears after the first entry.
type OrderKind int

const (
	KindEmpty OrderKind = iota
	KindEntryInitialNormalLong
	KindEntryInitialPartialLong
	KindEntryTrailingNormalLong
	KindEntryTrailingCroppedLong
	KindEntryGridNormalLong
	KindEntryGridCroppedLong
	KindEntryGridInflatedLong
	KindEntryUnstuckLong
	KindCloseGridLong
	KindCloseTrailingLong
	KindCloseUnstuckLong

	KindEntryInitialNormalShort
	KindEntryInitialPartialShort
	KindEntryTrailingNormalShort
	KindEntryTrailingCroppedShort
	KindEntryGridNormalShort
	KindEntryGridCroppedShort
	KindEntryGridInflatedShort
	KindEntryUnstuckShort
	KindCloseGridShort
	KindCloseTrailingShort
	KindCloseUnstuckShort
)

func (k OrderKind) String() string {
	switch k {
	case KindEntryInitialNormalLong:
		return "entry_initial_normal_long"
	case KindEntryInitialPartialLong:
		return "entry_initial_partial_long"
	case KindEntryTrailingNormalLong:
		return "entry_trailing_normal_long"
	case KindEntryTrailingCroppedLong:
		return "entry_trailing_cropped_long"
	case KindEntryGridNormalLong:
		return "entry_grid_normal_long"
	case KindEntryGridCroppedLong:
		return "entry_grid_cropped_long"
	case KindEntryGridInflatedLong:
		return "entry_grid_inflated_long"
	case KindEntryUnstuckLong:
		return "entry_unstuck_long"
	case KindCloseGridLong:
		return "close_grid_long"
	case KindCloseTrailingLong:
		return "close_trailing_long"
	case KindCloseUnstuckLong:
		return "close_unstuck_long"
	case KindEntryInitialNormalShort:
		return "entry_initial_normal_short"
	case KindEntryInitialPartialShort:
		return "entry_initial_partial_short"
	case KindEntryTrailingNormalShort:
		return "entry_trailing_normal_short"
	case KindEntryTrailingCroppedShort:
		return "entry_trailing_cropped_short"
	case KindEntryGridNormalShort:
		return "entry_grid_normal_short"
	case KindEntryGridCroppedShort:
		return "entry_grid_cropped_short"
	case KindEntryGridInflatedShort:
		return "entry_grid_inflated_short"
	case KindEntryUnstuckShort:
		return "entry_unstuck_short"
	case KindCloseGridShort:
		return "close_grid_short"
	case KindCloseTrailingShort:
		return "close_trailing_short"
	case KindCloseUnstuckShort:
		return "close_unstuck_short"
	default:
		return "empty"
	}
}

// GridOrder is the engine's sole output type: a signed quantity at a price,
// tagged with the kind of logic that produced it. qty>0 buys, qty<0 sells.
type GridOrder struct {
	Qty   float64
	Price float64
	Kind  OrderKind
}

// IsEmpty reports whether the order carries no actionable quantity.
func (o GridOrder) IsEmpty() bool {
	return o.Qty == 0
}
