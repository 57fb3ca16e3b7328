package engine

import "math"

// AutoUnstuckEntryLong computes a recovery entry for a long position that is
// deep in loss: it buys further below market (anchored to the lower EMA
// band) to average the position price down, sized to bring wallet exposure
// to the side's total limit.
func AutoUnstuckEntryLong(ep ExchangeParams, sc SideConfig, snap MarketSnapshot, pos Position) GridOrder {
	price := math.Min(snap.OrderBook.BestBid(),
		RoundDn(snap.EMABands.Lower*(1.0-sc.UnstuckEmaDist), ep.PriceStep))

	qty := FindEntryQtyForWalletExposureTarget(snap.Balance, pos.Size, pos.Price, sc.TotalWalletExposureLimit, price, ep.Inverse, ep)
	minQty := MinEntryQty(price, ep)

	return GridOrder{Qty: math.Max(qty, minQty), Price: price, Kind: KindEntryUnstuckLong}
}

// AutoUnstuckEntryShort is the short-side counterpart: it sells further
// above market, anchored to the upper EMA band, to average the position
// price up.
func AutoUnstuckEntryShort(ep ExchangeParams, sc SideConfig, snap MarketSnapshot, pos Position) GridOrder {
	price := math.Max(snap.OrderBook.BestAsk(),
		RoundUp(snap.EMABands.Upper*(1.0+sc.UnstuckEmaDist), ep.PriceStep))

	qty := FindEntryQtyForWalletExposureTarget(snap.Balance, pos.Size, pos.Price, sc.TotalWalletExposureLimit, price, ep.Inverse, ep)
	minQty := MinEntryQty(price, ep)

	return GridOrder{Qty: -math.Max(qty, minQty), Price: price, Kind: KindEntryUnstuckShort}
}

func initialEntryQty(ep ExchangeParams, sc SideConfig, balance, entryPrice float64) float64 {
	return math.Max(
		MinEntryQty(entryPrice, ep),
		RoundTo(CostToQty(balance*sc.TotalWalletExposureLimit*sc.EntryInitialQtyPct, entryPrice, ep.Inverse, ep.CMult), ep.QtyStep),
	)
}

// croppedReentryQty shrinks a proposed reentry quantity, via linear
// interpolation between the current and filled wallet exposure, when filling
// it in full would push exposure past 1.01x the side's limit. Returns the
// projected wallet-exposure-if-filled alongside the (possibly cropped) qty.
func croppedReentryQty(ep ExchangeParams, sc SideConfig, pos Position, we, balance, entryQty, entryPrice float64) (float64, float64) {
	positionSizeAbs := math.Abs(pos.Size)
	entryQtyAbs := math.Abs(entryQty)
	weIfFilled := WalletExposureIfFilled(balance, positionSizeAbs, pos.Price, entryQtyAbs, entryPrice, ep.Inverse, ep)
	minQty := MinEntryQty(entryPrice, ep)

	if weIfFilled > sc.TotalWalletExposureLimit*1.01 {
		croppedAbs := Interpolate2(sc.TotalWalletExposureLimit,
			[2]float64{we, weIfFilled},
			[2]float64{positionSizeAbs, positionSizeAbs + entryQtyAbs}) - positionSizeAbs
		return weIfFilled, math.Max(RoundTo(croppedAbs, ep.QtyStep), minQty)
	}
	return weIfFilled, math.Max(entryQtyAbs, minQty)
}

func reentryQty(entryPrice, balance, positionSize float64, ep ExchangeParams, sc SideConfig) float64 {
	return math.Max(
		MinEntryQty(entryPrice, ep),
		RoundTo(math.Max(
			math.Abs(positionSize)*sc.EntryGridDoubleDownFactor,
			CostToQty(balance, entryPrice, ep.Inverse, ep.CMult)*sc.TotalWalletExposureLimit*sc.EntryInitialQtyPct,
		), ep.QtyStep),
	)
}

func reentryPriceBid(positionPrice, we, orderBookBid float64, ep ExchangeParams, sc SideConfig) float64 {
	multiplier := (we / sc.TotalWalletExposureLimit) * sc.EntryGridSpacingWeight
	price := math.Min(
		RoundDn(positionPrice*(1.0-sc.EntryGridSpacingPct*(1.0+multiplier)), ep.PriceStep),
		orderBookBid,
	)
	if price <= ep.PriceStep {
		return 0
	}
	return price
}

func reentryPriceAsk(positionPrice, we, orderBookAsk float64, ep ExchangeParams, sc SideConfig) float64 {
	multiplier := (we / sc.TotalWalletExposureLimit) * sc.EntryGridSpacingWeight
	price := math.Max(
		RoundUp(positionPrice*(1.0+sc.EntryGridSpacingPct*(1.0+multiplier)), ep.PriceStep),
		orderBookAsk,
	)
	if price <= ep.PriceStep {
		return 0
	}
	return price
}

// GridEntryLong computes the next long grid entry: initial, partial-initial,
// normal/cropped/inflated reentry, or an empty order when none is due.
func GridEntryLong(ep ExchangeParams, snap MarketSnapshot, sc SideConfig, pos Position) GridOrder {
	if sc.TotalWalletExposureLimit == 0 || snap.Balance <= 0 {
		return GridOrder{}
	}
	initialPrice := EMAPriceBid(ep.PriceStep, snap.OrderBook.BestBid(), snap.EMABands.Lower, sc.EntryInitialEmaDist)
	if initialPrice <= ep.PriceStep {
		return GridOrder{}
	}
	initialQty := initialEntryQty(ep, sc, snap.Balance, initialPrice)

	if pos.Size == 0 {
		return GridOrder{Qty: initialQty, Price: initialPrice, Kind: KindEntryInitialNormalLong}
	}
	if pos.Size < initialQty*0.8 {
		return GridOrder{
			Qty:   math.Max(MinEntryQty(initialPrice, ep), RoundDn(initialQty-pos.Size, ep.QtyStep)),
			Price: initialPrice,
			Kind:  KindEntryInitialPartialLong,
		}
	}

	we := WalletExposure(ep.CMult, snap.Balance, pos.Size, pos.Price, ep.Inverse)
	if we >= sc.TotalWalletExposureLimit*0.999 {
		return GridOrder{}
	}

	price := reentryPriceBid(pos.Price, we, snap.OrderBook.BestBid(), ep, sc)
	if price <= 0 {
		return GridOrder{}
	}
	qty := math.Max(reentryQty(price, snap.Balance, pos.Size, ep, sc), initialQty)
	weIfFilled, croppedQty := croppedReentryQty(ep, sc, pos, we, snap.Balance, qty, price)
	if croppedQty < qty {
		return GridOrder{Qty: croppedQty, Price: price, Kind: KindEntryGridCroppedLong}
	}

	psizeIfFilled, ppriceIfFilled := NewPositionSizePrice(pos.Size, pos.Price, qty, price, ep.QtyStep)
	nextPrice := reentryPriceBid(ppriceIfFilled, weIfFilled, snap.OrderBook.BestBid(), ep, sc)
	nextQty := math.Max(reentryQty(nextPrice, snap.Balance, psizeIfFilled, ep, sc), initialQty)
	_, nextCroppedQty := croppedReentryQty(ep, sc, Position{Size: psizeIfFilled, Price: ppriceIfFilled}, weIfFilled, snap.Balance, nextQty, nextPrice)

	effectiveDDF := nextCroppedQty / psizeIfFilled
	if effectiveDDF < sc.EntryGridDoubleDownFactor*0.25 {
		newQty := Interpolate2(sc.TotalWalletExposureLimit,
			[2]float64{we, weIfFilled},
			[2]float64{pos.Size, pos.Size + qty}) - pos.Size
		return GridOrder{Qty: RoundTo(newQty, ep.QtyStep), Price: price, Kind: KindEntryGridInflatedLong}
	}
	return GridOrder{Qty: qty, Price: price, Kind: KindEntryGridNormalLong}
}

// GridEntryShort is the short-side counterpart of GridEntryLong.
func GridEntryShort(ep ExchangeParams, snap MarketSnapshot, sc SideConfig, pos Position) GridOrder {
	if sc.TotalWalletExposureLimit == 0 || snap.Balance <= 0 {
		return GridOrder{}
	}
	initialPrice := EMAPriceAsk(ep.PriceStep, snap.OrderBook.BestAsk(), snap.EMABands.Upper, sc.EntryInitialEmaDist)
	if initialPrice <= ep.PriceStep {
		return GridOrder{}
	}
	initialQty := initialEntryQty(ep, sc, snap.Balance, initialPrice)
	positionSizeAbs := math.Abs(pos.Size)

	if positionSizeAbs == 0 {
		return GridOrder{Qty: -initialQty, Price: initialPrice, Kind: KindEntryInitialNormalShort}
	}
	if positionSizeAbs < initialQty*0.8 {
		return GridOrder{
			Qty:   -math.Max(MinEntryQty(initialPrice, ep), RoundDn(initialQty-positionSizeAbs, ep.QtyStep)),
			Price: initialPrice,
			Kind:  KindEntryInitialPartialShort,
		}
	}

	we := WalletExposure(ep.CMult, snap.Balance, positionSizeAbs, pos.Price, ep.Inverse)
	if we >= sc.TotalWalletExposureLimit*0.999 {
		return GridOrder{}
	}

	price := reentryPriceAsk(pos.Price, we, snap.OrderBook.BestAsk(), ep, sc)
	if price <= 0 {
		return GridOrder{}
	}
	qty := math.Max(reentryQty(price, snap.Balance, positionSizeAbs, ep, sc), initialQty)
	weIfFilled, croppedQty := croppedReentryQty(ep, sc, pos, we, snap.Balance, qty, price)
	if croppedQty < qty {
		return GridOrder{Qty: -croppedQty, Price: price, Kind: KindEntryGridCroppedShort}
	}

	psizeIfFilled, ppriceIfFilled := NewPositionSizePrice(positionSizeAbs, pos.Price, qty, price, ep.QtyStep)
	nextPrice := reentryPriceAsk(ppriceIfFilled, weIfFilled, snap.OrderBook.BestAsk(), ep, sc)
	nextQty := math.Max(reentryQty(nextPrice, snap.Balance, psizeIfFilled, ep, sc), initialQty)
	_, nextCroppedQty := croppedReentryQty(ep, sc, Position{Size: psizeIfFilled, Price: ppriceIfFilled}, weIfFilled, snap.Balance, nextQty, nextPrice)

	effectiveDDF := nextCroppedQty / psizeIfFilled
	if effectiveDDF < sc.EntryGridDoubleDownFactor*0.25 {
		newQty := Interpolate2(sc.TotalWalletExposureLimit,
			[2]float64{we, weIfFilled},
			[2]float64{positionSizeAbs, positionSizeAbs + qty}) - positionSizeAbs
		return GridOrder{Qty: -RoundTo(newQty, ep.QtyStep), Price: price, Kind: KindEntryGridInflatedShort}
	}
	return GridOrder{Qty: -qty, Price: price, Kind: KindEntryGridNormalShort}
}

// TrailingEntryLong computes the next long entry under the trailing-reentry
// finite-state machine, falling back to initial/partial-initial entries
// exactly as the grid path does.
func TrailingEntryLong(ep ExchangeParams, snap MarketSnapshot, sc SideConfig, pos Position, tb TrailingPriceBundle) GridOrder {
	initialPrice := EMAPriceBid(ep.PriceStep, snap.OrderBook.BestBid(), snap.EMABands.Lower, sc.EntryInitialEmaDist)
	if initialPrice <= ep.PriceStep {
		return GridOrder{}
	}
	initialQty := initialEntryQty(ep, sc, snap.Balance, initialPrice)

	if pos.Size == 0 {
		return GridOrder{Qty: initialQty, Price: initialPrice, Kind: KindEntryInitialNormalLong}
	}
	if pos.Size < initialQty*0.8 {
		return GridOrder{
			Qty:   math.Max(MinEntryQty(initialPrice, ep), RoundDn(initialQty-pos.Size, ep.QtyStep)),
			Price: initialPrice,
			Kind:  KindEntryInitialPartialLong,
		}
	}

	we := WalletExposure(ep.CMult, snap.Balance, pos.Size, pos.Price, ep.Inverse)
	if we > sc.TotalWalletExposureLimit*0.999 {
		return GridOrder{}
	}

	triggered := false
	var price float64
	switch {
	case sc.EntryTrailingThresholdPct <= 0:
		if sc.EntryTrailingRetracementPct > 0 &&
			tb.MaxSinceMin > tb.MinSinceOpen*(1.0+sc.EntryTrailingRetracementPct) {
			triggered = true
			price = snap.OrderBook.BestBid()
		}
	case sc.EntryTrailingRetracementPct <= 0:
		triggered = true
		price = math.Min(snap.OrderBook.BestBid(), RoundDn(pos.Price*(1.0-sc.EntryTrailingThresholdPct), ep.PriceStep))
	default:
		if tb.MinSinceOpen < pos.Price*(1.0-sc.EntryTrailingThresholdPct) &&
			tb.MaxSinceMin > tb.MinSinceOpen*(1.0+sc.EntryTrailingRetracementPct) {
			triggered = true
			price = math.Min(snap.OrderBook.BestBid(),
				RoundDn(pos.Price*(1.0-sc.EntryTrailingThresholdPct+sc.EntryTrailingRetracementPct), ep.PriceStep))
		}
	}
	if !triggered {
		return GridOrder{Qty: 0, Price: 0, Kind: KindEntryTrailingNormalLong}
	}

	qty := math.Max(reentryQty(price, snap.Balance, pos.Size, ep, sc), initialQty)
	_, croppedQty := croppedReentryQty(ep, sc, pos, we, snap.Balance, qty, price)
	if croppedQty < qty {
		return GridOrder{Qty: croppedQty, Price: price, Kind: KindEntryTrailingCroppedLong}
	}
	return GridOrder{Qty: qty, Price: price, Kind: KindEntryTrailingNormalLong}
}

// TrailingEntryShort is the short-side counterpart of TrailingEntryLong.
func TrailingEntryShort(ep ExchangeParams, snap MarketSnapshot, sc SideConfig, pos Position, tb TrailingPriceBundle) GridOrder {
	initialPrice := EMAPriceAsk(ep.PriceStep, snap.OrderBook.BestAsk(), snap.EMABands.Upper, sc.EntryInitialEmaDist)
	if initialPrice <= ep.PriceStep {
		return GridOrder{}
	}
	initialQty := initialEntryQty(ep, sc, snap.Balance, initialPrice)
	positionSizeAbs := math.Abs(pos.Size)

	if positionSizeAbs == 0 {
		return GridOrder{Qty: -initialQty, Price: initialPrice, Kind: KindEntryInitialNormalShort}
	}
	if positionSizeAbs < initialQty*0.8 {
		return GridOrder{
			Qty:   -math.Max(MinEntryQty(initialPrice, ep), RoundDn(initialQty-positionSizeAbs, ep.QtyStep)),
			Price: initialPrice,
			Kind:  KindEntryInitialPartialShort,
		}
	}

	we := WalletExposure(ep.CMult, snap.Balance, positionSizeAbs, pos.Price, ep.Inverse)
	if we > sc.TotalWalletExposureLimit*0.999 {
		return GridOrder{}
	}

	triggered := false
	var price float64
	switch {
	case sc.EntryTrailingThresholdPct <= 0:
		if sc.EntryTrailingRetracementPct > 0 &&
			tb.MinSinceMax < tb.MaxSinceOpen*(1.0-sc.EntryTrailingRetracementPct) {
			triggered = true
			price = snap.OrderBook.BestAsk()
		}
	case sc.EntryTrailingRetracementPct <= 0:
		triggered = true
		price = math.Max(snap.OrderBook.BestAsk(), RoundUp(pos.Price*(1.0+sc.EntryTrailingThresholdPct), ep.PriceStep))
	default:
		if tb.MaxSinceOpen > pos.Price*(1.0+sc.EntryTrailingThresholdPct) &&
			tb.MinSinceMax < tb.MaxSinceOpen*(1.0-sc.EntryTrailingRetracementPct) {
			triggered = true
			price = math.Max(snap.OrderBook.BestAsk(),
				RoundUp(pos.Price*(1.0+sc.EntryTrailingThresholdPct-sc.EntryTrailingRetracementPct), ep.PriceStep))
		}
	}
	if !triggered {
		return GridOrder{Qty: 0, Price: 0, Kind: KindEntryTrailingNormalShort}
	}

	qty := math.Max(reentryQty(price, snap.Balance, positionSizeAbs, ep, sc), initialQty)
	_, croppedQty := croppedReentryQty(ep, sc, pos, we, snap.Balance, qty, price)
	if croppedQty < qty {
		return GridOrder{Qty: -croppedQty, Price: price, Kind: KindEntryTrailingCroppedShort}
	}
	return GridOrder{Qty: -qty, Price: price, Kind: KindEntryTrailingNormalShort}
}

// NextEntryLong routes between grid and trailing long entries according to
// sc.EntryTrailingGridRatio, temporarily scaling the exposure limit during
// the handoff band exactly as the grid/trailing split requires.
func NextEntryLong(ep ExchangeParams, snap MarketSnapshot, sc SideConfig, pos Position, tb TrailingPriceBundle) GridOrder {
	if sc.TotalWalletExposureLimit == 0 || snap.Balance <= 0 {
		return GridOrder{}
	}
	ratio := sc.EntryTrailingGridRatio
	if ratio >= 1.0 || ratio <= -1.0 {
		return TrailingEntryLong(ep, snap, sc, pos, tb)
	}
	if ratio == 0 {
		return GridEntryLong(ep, snap, sc, pos)
	}

	we := WalletExposure(ep.CMult, snap.Balance, pos.Size, pos.Price, ep.Inverse)
	weRatio := we / sc.TotalWalletExposureLimit

	if ratio > 0 {
		if weRatio < ratio {
			if we == 0 {
				return TrailingEntryLong(ep, snap, sc, pos, tb)
			}
			modified := sc
			modified.TotalWalletExposureLimit = sc.TotalWalletExposureLimit * ratio * 1.01
			return TrailingEntryLong(ep, snap, modified, pos, tb)
		}
		return GridEntryLong(ep, snap, sc, pos)
	}

	if weRatio < 1.0+ratio {
		if we == 0 {
			return GridEntryLong(ep, snap, sc, pos)
		}
		modified := sc
		modified.TotalWalletExposureLimit = sc.TotalWalletExposureLimit * (1.0 + ratio) * 1.01
		return GridEntryLong(ep, snap, modified, pos)
	}
	return TrailingEntryLong(ep, snap, sc, pos, tb)
}

// NextEntryShort is the short-side counterpart of NextEntryLong.
func NextEntryShort(ep ExchangeParams, snap MarketSnapshot, sc SideConfig, pos Position, tb TrailingPriceBundle) GridOrder {
	if sc.TotalWalletExposureLimit == 0 || snap.Balance <= 0 {
		return GridOrder{}
	}
	ratio := sc.EntryTrailingGridRatio
	if ratio >= 1.0 || ratio <= -1.0 {
		return TrailingEntryShort(ep, snap, sc, pos, tb)
	}
	if ratio == 0 {
		return GridEntryShort(ep, snap, sc, pos)
	}

	we := WalletExposure(ep.CMult, snap.Balance, math.Abs(pos.Size), pos.Price, ep.Inverse)
	weRatio := we / sc.TotalWalletExposureLimit

	if ratio > 0 {
		if weRatio < ratio {
			if we == 0 {
				return TrailingEntryShort(ep, snap, sc, pos, tb)
			}
			modified := sc
			modified.TotalWalletExposureLimit = sc.TotalWalletExposureLimit * ratio * 1.01
			return TrailingEntryShort(ep, snap, modified, pos, tb)
		}
		return GridEntryShort(ep, snap, sc, pos)
	}

	if weRatio < 1.0+ratio {
		if we == 0 {
			return GridEntryShort(ep, snap, sc, pos)
		}
		modified := sc
		modified.TotalWalletExposureLimit = sc.TotalWalletExposureLimit * (1.0 + ratio) * 1.01
		return GridEntryShort(ep, snap, modified, pos)
	}
	return TrailingEntryShort(ep, snap, sc, pos, tb)
}

// EntriesLong unrolls up to 500 predicted future long entries by repeatedly
// calling NextEntryLong against a simulated position, prefixed with an
// auto-unstuck entry when the position is deep enough in loss. The unroll
// stops on a zero-qty order, the appearance of a trailing order past the
// first entry, or price stagnation.
func EntriesLong(ep ExchangeParams, snap MarketSnapshot, sc SideConfig, pos Position, tb TrailingPriceBundle) []GridOrder {
	var entries []GridOrder

	posPnlPct := PnLLong(pos.Price, snap.OrderBook.BestBid(), pos.Size, ep.Inverse, ep.CMult) / snap.Balance
	if -posPnlPct > sc.UnstuckThreshold &&
		snap.OrderBook.BestBid()/snap.EMABands.Lower-1.0 > sc.UnstuckEmaDist {
		entries = append(entries, AutoUnstuckEntryLong(ep, sc, snap, pos))
	}

	psize, pprice := pos.Size, pos.Price
	bid := snap.OrderBook.BestBid()
	for i := 0; i < 500; i++ {
		simPos := Position{Size: psize, Price: pprice}
		simSnap := MarketSnapshot{
			Balance:  snap.Balance,
			EMABands: snap.EMABands,
			OrderBook: OrderBook{
				Bids: [][2]float64{{bid, 0}},
			},
		}
		entry := NextEntryLong(ep, simSnap, sc, simPos, tb)
		if entry.Qty == 0 {
			break
		}
		if len(entries) > 0 {
			if entry.Kind == KindEntryTrailingNormalLong || entry.Kind == KindEntryTrailingCroppedLong {
				break
			}
			if entries[len(entries)-1].Price == entry.Price {
				break
			}
		}
		psize, pprice = NewPositionSizePrice(psize, pprice, entry.Qty, entry.Price, ep.QtyStep)
		bid = math.Min(bid, entry.Price)
		entries = append(entries, entry)
	}
	return entries
}

// EntriesShort is the short-side counterpart of EntriesLong.
func EntriesShort(ep ExchangeParams, snap MarketSnapshot, sc SideConfig, pos Position, tb TrailingPriceBundle) []GridOrder {
	var entries []GridOrder

	posPnlPct := PnLShort(pos.Price, snap.OrderBook.BestAsk(), pos.Size, ep.Inverse, ep.CMult) / snap.Balance
	if -posPnlPct > sc.UnstuckThreshold &&
		snap.EMABands.Upper/snap.OrderBook.BestAsk()-1.0 > sc.UnstuckEmaDist {
		entries = append(entries, AutoUnstuckEntryShort(ep, sc, snap, pos))
	}

	psize, pprice := pos.Size, pos.Price
	ask := snap.OrderBook.BestAsk()
	for i := 0; i < 500; i++ {
		simPos := Position{Size: psize, Price: pprice}
		simSnap := MarketSnapshot{
			Balance:  snap.Balance,
			EMABands: snap.EMABands,
			OrderBook: OrderBook{
				Asks: [][2]float64{{ask, 0}},
			},
		}
		entry := NextEntryShort(ep, simSnap, sc, simPos, tb)
		if entry.Qty == 0 {
			break
		}
		if len(entries) > 0 {
			if entry.Kind == KindEntryTrailingNormalShort || entry.Kind == KindEntryTrailingCroppedShort {
				break
			}
			if entries[len(entries)-1].Price == entry.Price {
				break
			}
		}
		psize, pprice = NewPositionSizePrice(psize, pprice, entry.Qty, entry.Price, ep.QtyStep)
		ask = math.Max(ask, entry.Price)
		entries = append(entries, entry)
	}
	return entries
}
