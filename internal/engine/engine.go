package engine

// TickInput bundles everything a single evaluation of the engine needs for
// both sides of one symbol. All fields are caller-owned; nothing here is
// mutated in place.
type TickInput struct {
	Exchange ExchangeParams
	Snapshot MarketSnapshot

	Long  SideConfig
	Short SideConfig

	LongPosition  Position
	ShortPosition Position

	LongTrailing  TrailingPriceBundle
	ShortTrailing TrailingPriceBundle

	// NowMs and the PrevUnstuckFillTsClose* fields drive the supplemented
	// clock-qty auto-unstuck-close throttle (see closes.go). They are only
	// read when a side's SideConfig sets both UnstuckDelayMinutes and
	// UnstuckQtyPct; with either of those at zero the legacy solver-only
	// auto-unstuck-close path is used and these fields are ignored.
	NowMs                       int64
	PrevUnstuckFillTsCloseLong  int64
	PrevUnstuckFillTsCloseShort int64
}

// TickResult is the engine's output: the four ordered order lists a caller
// should place, in the order they appear in AllOrders.
type TickResult struct {
	EntriesLong  []GridOrder
	EntriesShort []GridOrder
	ClosesLong   []GridOrder
	ClosesShort  []GridOrder
}

// AllOrders concatenates the result in canonical placement order: long
// entries (auto-unstuck entry first, if any), short entries, long closes,
// short closes.
func (r TickResult) AllOrders() []GridOrder {
	all := make([]GridOrder, 0, len(r.EntriesLong)+len(r.EntriesShort)+len(r.ClosesLong)+len(r.ClosesShort))
	all = append(all, r.EntriesLong...)
	all = append(all, r.EntriesShort...)
	all = append(all, r.ClosesLong...)
	all = append(all, r.ClosesShort...)
	return all
}

// Tick is the engine's single entry point: a pure function from market
// state to the next batch of entry and close orders. It performs no I/O and
// holds no state between calls — callers are responsible for persisting
// positions and trailing price bundles across ticks.
func Tick(in TickInput) TickResult {
	return TickResult{
		EntriesLong:  EntriesLong(in.Exchange, in.Snapshot, in.Long, in.LongPosition, in.LongTrailing),
		EntriesShort: EntriesShort(in.Exchange, in.Snapshot, in.Short, in.ShortPosition, in.ShortTrailing),
		ClosesLong:   NextClosesLong(in.Exchange, in.Snapshot, in.Long, in.LongPosition, in.LongTrailing, in.NowMs, in.PrevUnstuckFillTsCloseLong),
		ClosesShort:  NextClosesShort(in.Exchange, in.Snapshot, in.Short, in.ShortPosition, in.ShortTrailing, in.NowMs, in.PrevUnstuckFillTsCloseShort),
	}
}
