package engine

import (
	"math"
	"sort"
)

// FindEntryQtyForWalletExposureTarget solves for the entry quantity at
// entryPrice that brings the resulting wallet exposure as close as possible
// to weTarget. Returns 0 if weTarget is 0 or the current exposure is already
// at or above 99% of it.
func FindEntryQtyForWalletExposureTarget(balance, psize, pprice, weTarget, entryPrice float64, inverse bool, ep ExchangeParams) float64 {
	if weTarget == 0 {
		return 0
	}
	we := WalletExposure(ep.CMult, balance, psize, pprice, inverse)
	if we >= weTarget*0.99 {
		return 0
	}

	var guesses, vals, evals []float64

	g0 := RoundTo(math.Abs(psize)*weTarget/math.Max(we, 0.01), ep.QtyStep)
	guesses = append(guesses, g0)
	v0 := WalletExposureIfFilled(balance, psize, pprice, g0, entryPrice, inverse, ep)
	vals = append(vals, v0)
	evals = append(evals, math.Abs(v0-weTarget)/weTarget)

	g1 := math.Max(math.Max(g0*1.2, g0+ep.QtyStep), 0.0)
	guesses = append(guesses, g1)
	v1 := WalletExposureIfFilled(balance, psize, pprice, g1, entryPrice, inverse, ep)
	vals = append(vals, v1)
	evals = append(evals, math.Abs(v1-weTarget)/weTarget)

	for i := 0; i < 15; i++ {
		if guesses[len(guesses)-1] == guesses[len(guesses)-2] {
			last := guesses[len(guesses)-1]
			bumped := math.Max(last*1.1, last+ep.QtyStep)
			guesses = append(guesses, bumped)
			vals = append(vals, WalletExposureIfFilled(balance, psize, pprice, bumped, entryPrice, inverse, ep))
		}

		newGuess := math.Max(Interpolate2(weTarget,
			[2]float64{vals[len(vals)-2], vals[len(vals)-1]},
			[2]float64{guesses[len(guesses)-2], guesses[len(guesses)-1]}), 0.0)
		newGuess = RoundTo(newGuess, ep.QtyStep)
		guesses = append(guesses, newGuess)
		v := WalletExposureIfFilled(balance, psize, pprice, newGuess, entryPrice, inverse, ep)
		vals = append(vals, v)
		e := math.Abs(v-weTarget) / weTarget
		evals = append(evals, e)
		if e < 0.01 {
			break
		}
	}

	return bestGuess(evals, guesses)
}

// FindCloseQtyLongForWalletExposureTarget solves for the closing quantity of
// a long position at closePrice that brings wallet exposure down to
// weTarget. Returns psize if weTarget is 0 (close everything) or 0 if the
// current exposure is already at or below 100.1% of the target.
func FindCloseQtyLongForWalletExposureTarget(balance, psize, pprice, weTarget, closePrice float64, inverse bool, ep ExchangeParams) float64 {
	eval := func(guess float64) float64 {
		pnl := PnLLong(pprice, closePrice, guess, inverse, ep.CMult)
		newBalance := balance + pnl
		return QtyToCost(psize-guess, pprice, inverse, ep.CMult) / newBalance
	}

	if weTarget == 0 {
		return psize
	}
	we := WalletExposure(ep.CMult, balance, psize, pprice, inverse)
	if we <= weTarget*1.001 {
		return 0
	}

	return solveCloseQty(psize, weTarget, we, eval, ep.QtyStep)
}

// FindCloseQtyShortForWalletExposureTarget solves for the (positive) closing
// quantity of a short position at closePrice that brings wallet exposure
// down to weTarget.
func FindCloseQtyShortForWalletExposureTarget(balance, psize, pprice, weTarget, closePrice float64, inverse bool, ep ExchangeParams) float64 {
	absPsize := math.Abs(psize)
	eval := func(guess float64) float64 {
		pnl := PnLShort(pprice, closePrice, guess, inverse, ep.CMult)
		newBalance := balance + pnl
		return QtyToCost(absPsize-guess, pprice, inverse, ep.CMult) / newBalance
	}

	if weTarget == 0 {
		return absPsize
	}
	we := WalletExposure(ep.CMult, balance, psize, pprice, inverse)
	if we <= weTarget*1.001 {
		return 0
	}

	return solveCloseQty(absPsize, weTarget, we, eval, ep.QtyStep)
}

// solveCloseQty is the shared iterative body of the long/short close-qty
// solvers: they differ only in how `eval` computes projected wallet exposure
// and which signed/absolute position size bounds the guess.
func solveCloseQty(psizeBound, weTarget, we float64, eval func(float64) float64, qtyStep float64) float64 {
	clamp := func(v float64) float64 {
		return math.Max(0.0, math.Min(v, psizeBound))
	}

	var guesses, vals, evals []float64

	g0 := clamp(RoundTo(psizeBound*(1.0-weTarget/we), qtyStep))
	guesses = append(guesses, g0)
	v0 := eval(g0)
	vals = append(vals, v0)
	evals = append(evals, math.Abs(v0-weTarget)/weTarget)

	next := math.Max(g0*1.2, g0+qtyStep)
	if next == g0 {
		next = math.Min(g0*0.8, g0-qtyStep)
	}
	g1 := clamp(next)
	guesses = append(guesses, g1)
	v1 := eval(g1)
	vals = append(vals, v1)
	evals = append(evals, math.Abs(v1-weTarget)/weTarget)

	for i := 0; i < 15; i++ {
		type egv struct {
			e, g, v float64
		}
		sorted := make([]egv, len(evals))
		for j := range evals {
			sorted[j] = egv{evals[j], guesses[j], vals[j]}
		}
		sort.Slice(sorted, func(a, b int) bool { return sorted[a].e < sorted[b].e })

		newGuess := Interpolate2(weTarget,
			[2]float64{sorted[0].v, sorted[1].v},
			[2]float64{sorted[0].g, sorted[1].g})
		newGuess = clamp(RoundTo(newGuess, qtyStep))

		if contains(guesses, newGuess) {
			newGuess = clamp(newGuess - qtyStep)
			if contains(guesses, newGuess) {
				newGuess = clamp(newGuess + 2.0*qtyStep)
				if contains(guesses, newGuess) {
					break
				}
			}
		}

		guesses = append(guesses, newGuess)
		v := eval(newGuess)
		vals = append(vals, v)
		e := math.Abs(v-weTarget) / weTarget
		evals = append(evals, e)
		if e < 0.01 {
			break
		}
	}

	return bestGuess(evals, guesses)
}

func contains(xs []float64, x float64) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// bestGuess returns the guess with the lowest associated evaluation error.
func bestGuess(evals, guesses []float64) float64 {
	bestIdx := 0
	for i := 1; i < len(evals); i++ {
		if evals[i] < evals[bestIdx] {
			bestIdx = i
		}
	}
	return guesses[bestIdx]
}
