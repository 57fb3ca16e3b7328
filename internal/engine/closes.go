package engine

import (
	"math"
	"sort"
)

// closeLeg is the internal (qty, price, kind) triple produced while building
// a close grid, before it is materialized into GridOrders.
type closeLeg struct {
	qty   float64
	price float64
	kind  OrderKind
}

func legsToOrders(legs []closeLeg) []GridOrder {
	if len(legs) == 0 {
		return nil
	}
	orders := make([]GridOrder, len(legs))
	for i, l := range legs {
		orders[i] = GridOrder{Qty: l.qty, Price: l.price, Kind: l.kind}
	}
	return orders
}

func delayBetweenFillsMsAsk(pprice, price, delayMs, delayWeight float64) float64 {
	diff := 0.0
	if pprice > 0 {
		diff = price/pprice - 1.0
	}
	return math.Max(60000.0, delayMs*math.Min(1.0-diff*delayWeight, 1.0))
}

func delayBetweenFillsMsBid(pprice, price, delayMs, delayWeight float64) float64 {
	diff := 0.0
	if pprice > 0 {
		diff = 1.0 - price/pprice
	}
	return math.Max(60000.0, delayMs*math.Min(1.0-diff*delayWeight, 1.0))
}

// clockQty sizes a fixed-cadence auto-unstuck close: a qty_pct share of
// balance*walletExposureLimit, scaled by how saturated the current exposure
// already is.
func clockQty(balance, we, entryPrice float64, ep ExchangeParams, qtyPct, weMultiplier, wel float64) float64 {
	ratio := we / wel
	cost := balance * wel * qtyPct * (1.0 + ratio*weMultiplier)
	return math.Max(MinEntryQty(entryPrice, ep), RoundTo(CostToQty(cost, entryPrice, ep.Inverse, ep.CMult), ep.QtyStep))
}

func generateRawClosePricesLong(pprice, minMarkup, markupRange float64, n int) []float64 {
	minm := pprice * (1.0 + minMarkup)
	denom := math.Max(float64(n)-1.0, 1.0)
	prices := make([]float64, n)
	for i := 0; i < n; i++ {
		prices[i] = minm + (pprice*markupRange/denom)*float64(i)
	}
	return prices
}

func generateRawClosePricesShort(pprice, minMarkup, markupRange float64, n int) []float64 {
	minm := pprice * (1.0 - minMarkup)
	denom := math.Max(float64(n)-1.0, 1.0)
	prices := make([]float64, n)
	for i := 0; i < n; i++ {
		prices[i] = minm - (pprice*markupRange/denom)*float64(i)
	}
	return prices
}

// autoUnstuckCloseLong computes a de-risking close for a long position whose
// wallet exposure has breached (1-threshold)*walletExposureLimit. When
// auDelayMinutes/auQtyPct are both nonzero it uses the clock-qty/delay path;
// otherwise it falls back to the legacy solver path. The legacy path forces
// inverse=false on the solver call, matching the reference implementation's
// own (deliberately preserved) behavior.
func autoUnstuckCloseLong(balance, psize, pprice, lowestAsk, emaBandUpper, nowMs, prevFillTs float64, ep ExchangeParams, wel, auThreshold, auEmaDist, auDelayMinutes, auQtyPct, lowestNormalClosePrice float64) (float64, float64, OrderKind) {
	threshold := wel * (1.0 - auThreshold)
	we := QtyToCost(psize, pprice, ep.Inverse, ep.CMult) / balance
	if we > threshold {
		unstuckQty := 0.0
		price := math.Max(lowestAsk, RoundUp(emaBandUpper*(1.0+auEmaDist), ep.PriceStep))
		if price < lowestNormalClosePrice {
			if auDelayMinutes != 0 && auQtyPct != 0 {
				delay := delayBetweenFillsMsAsk(pprice, lowestAsk, auDelayMinutes*60.0*1000.0, 0.0)
				if nowMs-prevFillTs > delay {
					unstuckQty = math.Min(psize, clockQty(balance, we, price, ep, auQtyPct, 0.0, wel))
				}
			} else {
				legacyEP := ep
				legacyEP.Inverse = false
				unstuckQty = FindCloseQtyLongForWalletExposureTarget(balance, psize, pprice, threshold*1.01, price, legacyEP.Inverse, legacyEP)
			}
		}
		if unstuckQty != 0 {
			minQty := MinEntryQty(price, ep)
			unstuckQty = math.Max(unstuckQty, minQty)
			return -unstuckQty, price, KindCloseUnstuckLong
		}
	}
	return 0, 0, KindCloseUnstuckLong
}

// autoUnstuckCloseShort is the short-side counterpart of autoUnstuckCloseLong.
func autoUnstuckCloseShort(balance, psize, pprice, highestBid, emaBandLower, nowMs, prevFillTs float64, ep ExchangeParams, wel, auThreshold, auEmaDist, auDelayMinutes, auQtyPct, highestNormalClosePrice float64) (float64, float64, OrderKind) {
	threshold := wel * (1.0 - auThreshold)
	we := QtyToCost(psize, pprice, ep.Inverse, ep.CMult) / balance
	if we > threshold {
		unstuckQty := 0.0
		price := math.Min(highestBid, RoundDn(emaBandLower*(1.0-auEmaDist), ep.PriceStep))
		if price > highestNormalClosePrice {
			if auDelayMinutes != 0 && auQtyPct != 0 {
				delay := delayBetweenFillsMsBid(pprice, highestBid, auDelayMinutes*60.0*1000.0, 0.0)
				if nowMs-prevFillTs > delay {
					unstuckQty = math.Min(math.Abs(psize), clockQty(balance, we, price, ep, auQtyPct, 0.0, wel))
				}
			} else {
				legacyEP := ep
				legacyEP.Inverse = false
				unstuckQty = FindCloseQtyShortForWalletExposureTarget(balance, psize, pprice, threshold*1.01, price, legacyEP.Inverse, legacyEP)
			}
		}
		if unstuckQty != 0 {
			minQty := MinEntryQty(price, ep)
			unstuckQty = math.Max(unstuckQty, minQty)
			return unstuckQty, price, KindCloseUnstuckShort
		}
	}
	return 0, 0, KindCloseUnstuckShort
}

// CloseGridFrontwardsLong distributes the close quantity evenly across the
// markup-range price levels, absorbing any sub-minimum residual into the
// previous level.
func CloseGridFrontwardsLong(ep ExchangeParams, sc SideConfig, balance, psize, pprice, lowestAsk, emaBandUpper, nowMs, prevUnstuckFillTsClose float64) []GridOrder {
	psizeRem := RoundDn(psize, ep.QtyStep)
	if psizeRem == 0 {
		return nil
	}
	n := int(math.Round(sc.NCloseOrders))
	raw := generateRawClosePricesLong(pprice, sc.CloseGridMinMarkup, sc.CloseGridMarkupRange, n)

	var closePrices []float64
	for _, p := range raw {
		price := RoundUp(p, ep.PriceStep)
		if price >= lowestAsk {
			closePrices = append(closePrices, price)
		}
	}
	if len(closePrices) == 0 {
		return []GridOrder{{Qty: -psize, Price: lowestAsk, Kind: KindCloseGridLong}}
	}

	var closes []closeLeg
	if sc.UnstuckThreshold != 0 {
		auQty, auPrice, auKind := autoUnstuckCloseLong(balance, psize, pprice, lowestAsk, emaBandUpper, nowMs, prevUnstuckFillTsClose, ep, sc.TotalWalletExposureLimit, sc.UnstuckThreshold, sc.UnstuckEmaDist, sc.UnstuckDelayMinutes, sc.UnstuckQtyPct, closePrices[0])
		if auQty != 0 {
			psizeRem = RoundTo(psizeRem-math.Abs(auQty), ep.QtyStep)
			if psizeRem < MinEntryQty(auPrice, ep) {
				return []GridOrder{{Qty: -psize, Price: auPrice, Kind: KindCloseUnstuckLong}}
			}
			closes = append(closes, closeLeg{auQty, auPrice, auKind})
		}
	}

	if len(closePrices) == 1 {
		if psizeRem >= MinEntryQty(closePrices[0], ep) {
			closes = append(closes, closeLeg{-psizeRem, closePrices[0], KindCloseGridLong})
		}
		return legsToOrders(closes)
	}

	defaultQty := RoundDn(psizeRem/float64(len(closePrices)), ep.QtyStep)
	for _, price := range closePrices[:len(closePrices)-1] {
		minQty := MinEntryQty(price, ep)
		if psizeRem < minQty {
			break
		}
		qty := math.Min(psizeRem, math.Max(defaultQty, minQty))
		closes = append(closes, closeLeg{-qty, price, KindCloseGridLong})
		psizeRem = RoundTo(psizeRem-qty, ep.QtyStep)
	}

	lastPrice := closePrices[len(closePrices)-1]
	if psizeRem >= MinEntryQty(lastPrice, ep) {
		closes = append(closes, closeLeg{-psizeRem, lastPrice, KindCloseGridLong})
	} else if len(closes) > 0 {
		last := &closes[len(closes)-1]
		last.qty = -RoundTo(math.Abs(last.qty)+psizeRem, ep.QtyStep)
	}
	return legsToOrders(closes)
}

// CloseGridBackwardsLong allocates a fixed per-level quantity (sized from
// full position capacity), starting at the farthest level, absorbing any
// final residual into the most-recently-emitted leg.
func CloseGridBackwardsLong(ep ExchangeParams, sc SideConfig, balance, psize, pprice, lowestAsk, emaBandUpper, nowMs, prevUnstuckFillTsClose float64) []GridOrder {
	psizeRem := RoundDn(psize, ep.QtyStep)
	if psizeRem == 0 {
		return nil
	}
	fullPsize := CostToQty(balance*sc.TotalWalletExposureLimit, pprice, ep.Inverse, ep.CMult)
	n := int(math.Round(math.Max(math.Min(sc.NCloseOrders, fullPsize/MinEntryQty(pprice, ep)), 1.0)))

	raw := generateRawClosePricesLong(pprice, sc.CloseGridMinMarkup, sc.CloseGridMarkupRange, n)

	var closePricesAll, closePrices []float64
	seen := make(map[float64]bool)
	for _, p := range raw {
		price := RoundUp(p, ep.PriceStep)
		if !seen[price] {
			seen[price] = true
			closePricesAll = append(closePricesAll, price)
			if price >= lowestAsk {
				closePrices = append(closePrices, price)
			}
		}
	}
	if len(closePrices) == 0 {
		return []GridOrder{{Qty: -psize, Price: lowestAsk, Kind: KindCloseGridLong}}
	}

	var closes []closeLeg
	if sc.UnstuckThreshold != 0 {
		auQty, auPrice, auKind := autoUnstuckCloseLong(balance, psize, pprice, lowestAsk, emaBandUpper, nowMs, prevUnstuckFillTsClose, ep, sc.TotalWalletExposureLimit, sc.UnstuckThreshold, sc.UnstuckEmaDist, sc.UnstuckDelayMinutes, sc.UnstuckQtyPct, closePrices[0])
		if auQty != 0 {
			psizeRem = RoundTo(psizeRem-math.Abs(auQty), ep.QtyStep)
			if psizeRem < MinEntryQty(auPrice, ep) {
				return []GridOrder{{Qty: -psize, Price: auPrice, Kind: KindCloseUnstuckLong}}
			}
			closes = append(closes, closeLeg{auQty, auPrice, auKind})
		}
	}

	if len(closePrices) == 1 {
		if psizeRem >= MinEntryQty(closePrices[0], ep) {
			closes = append(closes, closeLeg{-psizeRem, closePrices[0], KindCloseGridLong})
		}
		return legsToOrders(closes)
	}

	qtyPerClose := RoundUp(math.Max(fullPsize/float64(len(closePricesAll)), ep.MinQty), ep.QtyStep)

	for i := len(closePrices) - 1; i >= 0; i-- {
		price := closePrices[i]
		minQty := MinEntryQty(price, ep)
		qty := math.Min(psizeRem, math.Max(qtyPerClose, minQty))
		if qty < minQty {
			if len(closes) > 0 {
				last := &closes[len(closes)-1]
				last.qty = -RoundTo(math.Abs(last.qty)+psizeRem, ep.QtyStep)
			} else {
				closes = append(closes, closeLeg{-psizeRem, price, KindCloseGridLong})
			}
			psizeRem = 0
			break
		}
		closes = append(closes, closeLeg{-qty, price, KindCloseGridLong})
		psizeRem = RoundTo(psizeRem-qty, ep.QtyStep)
		if psizeRem <= 0 {
			break
		}
	}

	if psizeRem > 0 && len(closes) > 0 {
		last := &closes[len(closes)-1]
		last.qty = -RoundTo(math.Abs(last.qty)+psizeRem, ep.QtyStep)
	}

	sort.Slice(closes, func(a, b int) bool { return closes[a].price < closes[b].price })
	return legsToOrders(closes)
}

// CloseGridFrontwardsShort is the short-side counterpart of
// CloseGridFrontwardsLong.
func CloseGridFrontwardsShort(ep ExchangeParams, sc SideConfig, balance, psize, pprice, highestBid, emaBandLower, nowMs, prevUnstuckFillTsClose float64) []GridOrder {
	psizeRem := RoundDn(math.Abs(psize), ep.QtyStep)
	if psizeRem == 0 {
		return nil
	}
	n := int(math.Round(sc.NCloseOrders))
	raw := generateRawClosePricesShort(pprice, sc.CloseGridMinMarkup, sc.CloseGridMarkupRange, n)

	var closePrices []float64
	for _, p := range raw {
		price := RoundDn(p, ep.PriceStep)
		if price <= highestBid {
			closePrices = append(closePrices, price)
		}
	}
	if len(closePrices) == 0 {
		return []GridOrder{{Qty: psizeRem, Price: highestBid, Kind: KindCloseGridShort}}
	}

	var closes []closeLeg
	if sc.UnstuckThreshold != 0 {
		auQty, auPrice, auKind := autoUnstuckCloseShort(balance, psize, pprice, highestBid, emaBandLower, nowMs, prevUnstuckFillTsClose, ep, sc.TotalWalletExposureLimit, sc.UnstuckThreshold, sc.UnstuckEmaDist, sc.UnstuckDelayMinutes, sc.UnstuckQtyPct, closePrices[0])
		if auQty != 0 {
			psizeRem = RoundTo(psizeRem-math.Abs(auQty), ep.QtyStep)
			if psizeRem < MinEntryQty(auPrice, ep) {
				return []GridOrder{{Qty: math.Abs(psize), Price: auPrice, Kind: KindCloseUnstuckShort}}
			}
			closes = append(closes, closeLeg{auQty, auPrice, auKind})
		}
	}

	if len(closePrices) == 1 {
		if psizeRem >= MinEntryQty(closePrices[0], ep) {
			closes = append(closes, closeLeg{psizeRem, closePrices[0], KindCloseGridShort})
		}
		return legsToOrders(closes)
	}

	defaultQty := RoundDn(psizeRem/float64(len(closePrices)), ep.QtyStep)
	for _, price := range closePrices[:len(closePrices)-1] {
		minQty := MinEntryQty(price, ep)
		if psizeRem < minQty {
			break
		}
		qty := math.Min(psizeRem, math.Max(defaultQty, minQty))
		closes = append(closes, closeLeg{qty, price, KindCloseGridShort})
		psizeRem = RoundTo(psizeRem-qty, ep.QtyStep)
	}

	lastPrice := closePrices[len(closePrices)-1]
	if psizeRem >= MinEntryQty(lastPrice, ep) {
		closes = append(closes, closeLeg{psizeRem, lastPrice, KindCloseGridShort})
	} else if len(closes) > 0 {
		last := &closes[len(closes)-1]
		last.qty = RoundTo(math.Abs(last.qty)+psizeRem, ep.QtyStep)
	}
	return legsToOrders(closes)
}

// CloseGridBackwardsShort is the short-side counterpart of
// CloseGridBackwardsLong.
func CloseGridBackwardsShort(ep ExchangeParams, sc SideConfig, balance, psize, pprice, highestBid, emaBandLower, nowMs, prevUnstuckFillTsClose float64) []GridOrder {
	psizeRem := RoundDn(math.Abs(psize), ep.QtyStep)
	if psizeRem == 0 {
		return nil
	}
	fullPsize := CostToQty(balance*sc.TotalWalletExposureLimit, pprice, ep.Inverse, ep.CMult)
	n := int(math.Round(math.Max(math.Min(sc.NCloseOrders, fullPsize/MinEntryQty(pprice, ep)), 1.0)))

	raw := generateRawClosePricesShort(pprice, sc.CloseGridMinMarkup, sc.CloseGridMarkupRange, n)

	var closePricesAll, closePrices []float64
	seen := make(map[float64]bool)
	for _, p := range raw {
		price := RoundDn(p, ep.PriceStep)
		if !seen[price] {
			seen[price] = true
			closePricesAll = append(closePricesAll, price)
			if price <= highestBid {
				closePrices = append(closePrices, price)
			}
		}
	}
	if len(closePrices) == 0 {
		return []GridOrder{{Qty: psizeRem, Price: highestBid, Kind: KindCloseGridShort}}
	}

	var closes []closeLeg
	if sc.UnstuckThreshold != 0 {
		auQty, auPrice, auKind := autoUnstuckCloseShort(balance, psize, pprice, highestBid, emaBandLower, nowMs, prevUnstuckFillTsClose, ep, sc.TotalWalletExposureLimit, sc.UnstuckThreshold, sc.UnstuckEmaDist, sc.UnstuckDelayMinutes, sc.UnstuckQtyPct, closePrices[0])
		if auQty != 0 {
			psizeRem = RoundTo(psizeRem-math.Abs(auQty), ep.QtyStep)
			if psizeRem < MinEntryQty(auPrice, ep) {
				return []GridOrder{{Qty: math.Abs(psize), Price: auPrice, Kind: KindCloseUnstuckShort}}
			}
			closes = append(closes, closeLeg{auQty, auPrice, auKind})
		}
	}

	if len(closePrices) == 1 {
		if psizeRem >= MinEntryQty(closePrices[0], ep) {
			closes = append(closes, closeLeg{psizeRem, closePrices[0], KindCloseGridShort})
		}
		return legsToOrders(closes)
	}

	qtyPerClose := RoundUp(math.Max(fullPsize/float64(len(closePricesAll)), ep.MinQty), ep.QtyStep)

	for i := len(closePrices) - 1; i >= 0; i-- {
		price := closePrices[i]
		minQty := MinEntryQty(price, ep)
		qty := math.Min(psizeRem, math.Max(qtyPerClose, minQty))
		if qty < minQty {
			if len(closes) > 0 {
				last := &closes[len(closes)-1]
				last.qty = RoundTo(math.Abs(last.qty)+psizeRem, ep.QtyStep)
			} else {
				closes = append(closes, closeLeg{psizeRem, price, KindCloseGridShort})
			}
			psizeRem = 0
			break
		}
		closes = append(closes, closeLeg{qty, price, KindCloseGridShort})
		psizeRem = RoundTo(psizeRem-qty, ep.QtyStep)
		if psizeRem <= 0 {
			break
		}
	}

	if psizeRem > 0 && len(closes) > 0 {
		last := &closes[len(closes)-1]
		last.qty = RoundTo(math.Abs(last.qty)+psizeRem, ep.QtyStep)
	}

	sort.Slice(closes, func(a, b int) bool { return closes[a].price > closes[b].price })
	return legsToOrders(closes)
}

// TrailingCloseLong emits a single partial close when price has run up past
// threshold from the position price and then retraced past the retracement
// band off its high.
func TrailingCloseLong(ep ExchangeParams, snap MarketSnapshot, sc SideConfig, pos Position, tb TrailingPriceBundle) []GridOrder {
	if pos.Size == 0 || sc.CloseTrailingThresholdPct <= 0 {
		return nil
	}
	thresholdPrice := pos.Price * (1.0 + sc.CloseTrailingThresholdPct)
	retracementPrice := tb.MaxSinceOpen * (1.0 - sc.CloseTrailingRetracementPct)
	if tb.MaxSinceOpen > thresholdPrice && snap.OrderBook.BestBid() < retracementPrice {
		closeQty := pos.Size * sc.CloseTrailingQtyPct
		closePrice := snap.OrderBook.BestBid()
		if closeQty >= MinEntryQty(closePrice, ep) {
			return []GridOrder{{Qty: -closeQty, Price: closePrice, Kind: KindCloseTrailingLong}}
		}
	}
	return nil
}

// TrailingCloseShort is the short-side counterpart of TrailingCloseLong.
func TrailingCloseShort(ep ExchangeParams, snap MarketSnapshot, sc SideConfig, pos Position, tb TrailingPriceBundle) []GridOrder {
	if pos.Size == 0 || sc.CloseTrailingThresholdPct <= 0 {
		return nil
	}
	thresholdPrice := pos.Price * (1.0 - sc.CloseTrailingThresholdPct)
	retracementPrice := tb.MinSinceOpen * (1.0 + sc.CloseTrailingRetracementPct)
	if tb.MinSinceOpen < thresholdPrice && snap.OrderBook.BestAsk() > retracementPrice {
		closeQty := math.Abs(pos.Size) * sc.CloseTrailingQtyPct
		closePrice := snap.OrderBook.BestAsk()
		if closeQty >= MinEntryQty(closePrice, ep) {
			return []GridOrder{{Qty: closeQty, Price: closePrice, Kind: KindCloseTrailingShort}}
		}
	}
	return nil
}

// NextClosesLong routes to the trailing close when both trailing thresholds
// are configured and it fires; otherwise it falls back to the configured
// close-grid distribution (frontwards or backwards).
func NextClosesLong(ep ExchangeParams, snap MarketSnapshot, sc SideConfig, pos Position, tb TrailingPriceBundle, nowMs, prevUnstuckFillTsClose int64) []GridOrder {
	if sc.CloseTrailingThresholdPct > 0 && sc.CloseTrailingRetracementPct > 0 {
		if trailing := TrailingCloseLong(ep, snap, sc, pos, tb); len(trailing) > 0 {
			return trailing
		}
	}
	nowF, prevF := float64(nowMs), float64(prevUnstuckFillTsClose)
	if sc.BackwardsTP {
		return CloseGridBackwardsLong(ep, sc, snap.Balance, pos.Size, pos.Price, snap.OrderBook.BestAsk(), snap.EMABands.Upper, nowF, prevF)
	}
	return CloseGridFrontwardsLong(ep, sc, snap.Balance, pos.Size, pos.Price, snap.OrderBook.BestAsk(), snap.EMABands.Upper, nowF, prevF)
}

// NextClosesShort is the short-side counterpart of NextClosesLong.
func NextClosesShort(ep ExchangeParams, snap MarketSnapshot, sc SideConfig, pos Position, tb TrailingPriceBundle, nowMs, prevUnstuckFillTsClose int64) []GridOrder {
	if sc.CloseTrailingThresholdPct > 0 && sc.CloseTrailingRetracementPct > 0 {
		if trailing := TrailingCloseShort(ep, snap, sc, pos, tb); len(trailing) > 0 {
			return trailing
		}
	}
	nowF, prevF := float64(nowMs), float64(prevUnstuckFillTsClose)
	if sc.BackwardsTP {
		return CloseGridBackwardsShort(ep, sc, snap.Balance, pos.Size, pos.Price, snap.OrderBook.BestBid(), snap.EMABands.Lower, nowF, prevF)
	}
	return CloseGridFrontwardsShort(ep, sc, snap.Balance, pos.Size, pos.Price, snap.OrderBook.BestBid(), snap.EMABands.Lower, nowF, prevF)
}
