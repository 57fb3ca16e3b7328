package engine

import "math"

// reround suppresses IEEE-754 binary-float drift by re-rounding the mantissa
// to ten decimal places after every step-rounding operation.
func reround(v float64) float64 {
	const mult = 1e10
	return math.Round(v*mult) / mult
}

// RoundTo rounds n to the nearest multiple of step.
func RoundTo(n, step float64) float64 {
	return reround(math.Round(n/step) * step)
}

// RoundUp rounds n up to the nearest multiple of step.
func RoundUp(n, step float64) float64 {
	return reround(math.Ceil(n/step) * step)
}

// RoundDn rounds n down to the nearest multiple of step.
func RoundDn(n, step float64) float64 {
	return reround(math.Floor(n/step) * step)
}

// EMA computes the next exponential moving average value for the given span.
// Seed prevEMA with the first observed price when no previous value exists.
func EMA(prevEMA, price, span float64) float64 {
	mult := 2.0 / (span + 1.0)
	return price*mult + prevEMA*(1.0-mult)
}

// CostToQty converts a quote-currency cost into a base-currency quantity.
func CostToQty(cost, price float64, inverse bool, cMult float64) float64 {
	if inverse {
		return (cost * price) / cMult
	}
	if price > 0 {
		return (cost / price) / cMult
	}
	return 0
}

// QtyToCost converts a base-currency quantity into a quote-currency cost.
func QtyToCost(qty, price float64, inverse bool, cMult float64) float64 {
	if inverse {
		if price > 0 {
			return (math.Abs(qty) / price) * cMult
		}
		return 0
	}
	return math.Abs(qty) * price * cMult
}

// PnLLong computes the profit/loss of a long position of qty between entry
// and close prices.
func PnLLong(entryPrice, closePrice, qty float64, inverse bool, cMult float64) float64 {
	if inverse {
		if entryPrice == 0 || closePrice == 0 {
			return 0
		}
		return math.Abs(qty) * cMult * (1.0/entryPrice - 1.0/closePrice)
	}
	return math.Abs(qty) * cMult * (closePrice - entryPrice)
}

// PnLShort computes the profit/loss of a short position of qty between entry
// and close prices.
func PnLShort(entryPrice, closePrice, qty float64, inverse bool, cMult float64) float64 {
	if inverse {
		if entryPrice == 0 || closePrice == 0 {
			return 0
		}
		return math.Abs(qty) * cMult * (1.0/closePrice - 1.0/entryPrice)
	}
	return math.Abs(qty) * cMult * (entryPrice - closePrice)
}

// WalletExposure computes position notional / balance, zero on degenerate
// inputs.
func WalletExposure(cMult, balance, positionSize, positionPrice float64, inverse bool) float64 {
	if balance <= 0 || positionSize == 0 {
		return 0
	}
	return QtyToCost(positionSize, positionPrice, inverse, cMult) / balance
}

// nanTo0 replaces NaN with 0, matching the source's documented coercion of a
// degenerate position price.
func nanTo0(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// NewPositionSizePrice computes the weighted-average position size/price
// after a fill of qty at price, rounding the new size to qtyStep.
func NewPositionSizePrice(psize, pprice, qty, price, qtyStep float64) (float64, float64) {
	if qty == 0 {
		return psize, pprice
	}
	if psize == 0 {
		return qty, price
	}
	newPsize := RoundTo(psize+qty, qtyStep)
	if newPsize == 0 {
		return 0, 0
	}
	newPprice := nanTo0(pprice)*(psize/newPsize) + price*(qty/newPsize)
	return newPsize, newPprice
}

// WalletExposureIfFilled projects the wallet exposure that would result from
// filling qty at price against the current (psize, pprice).
func WalletExposureIfFilled(balance, psize, pprice, qty, price float64, inverse bool, ep ExchangeParams) float64 {
	psizeAbs := RoundTo(math.Abs(psize), ep.QtyStep)
	qtyAbs := RoundTo(math.Abs(qty), ep.QtyStep)
	newPsize, newPprice := NewPositionSizePrice(psizeAbs, pprice, qtyAbs, price, ep.QtyStep)
	return WalletExposure(ep.CMult, balance, newPsize, newPprice, inverse)
}

// Interpolate2 performs 2-point Lagrange interpolation (degenerating to
// linear interpolation) evaluating the function passing through (xs[i],
// ys[i]) at the point x.
func Interpolate2(x float64, xs, ys [2]float64) float64 {
	var result float64
	for i := 0; i < 2; i++ {
		term := ys[i]
		for j := 0; j < 2; j++ {
			if i != j {
				term *= (x - xs[j]) / (xs[i] - xs[j])
			}
		}
		result += term
	}
	return result
}

// MinEntryQty returns the minimum legal order quantity at price: the larger
// of the exchange's absolute minimum and the quantity needed to satisfy
// min_cost, step-rounded up. Inverse markets use min_qty directly.
func MinEntryQty(price float64, ep ExchangeParams) float64 {
	if ep.Inverse {
		return ep.MinQty
	}
	return math.Max(ep.MinQty, RoundUp(CostToQty(ep.MinCost, price, ep.Inverse, ep.CMult), ep.QtyStep))
}

// EMAPriceBid computes the EMA-anchored bid-side target price, capped to the
// top of book.
func EMAPriceBid(priceStep, orderBookBid, emaBandsLower, emaDist float64) float64 {
	return math.Min(orderBookBid, RoundDn(emaBandsLower*(1.0-emaDist), priceStep))
}

// EMAPriceAsk computes the EMA-anchored ask-side target price, floored to
// the top of book.
func EMAPriceAsk(priceStep, orderBookAsk, emaBandsUpper, emaDist float64) float64 {
	return math.Max(orderBookAsk, RoundUp(emaBandsUpper*(1.0+emaDist), priceStep))
}
