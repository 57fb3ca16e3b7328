package engine

import "testing"

func testExchangeParams() ExchangeParams {
	return ExchangeParams{QtyStep: 0.001, PriceStep: 0.01, MinQty: 0.001, MinCost: 1.0, CMult: 1.0, Inverse: false}
}

func TestFindEntryQtyForWalletExposureTargetZeroTarget(t *testing.T) {
	ep := testExchangeParams()
	got := FindEntryQtyForWalletExposureTarget(1000.0, 0.0, 0.0, 0.0, 100.0, false, ep)
	if got != 0 {
		t.Errorf("got %v, want 0 for zero target", got)
	}
}

func TestFindEntryQtyForWalletExposureTargetConverges(t *testing.T) {
	ep := testExchangeParams()
	balance := 1000.0
	psize := 1.0
	pprice := 100.0
	weTarget := 5.0
	entryPrice := 95.0

	qty := FindEntryQtyForWalletExposureTarget(balance, psize, pprice, weTarget, entryPrice, false, ep)
	if qty <= 0 {
		t.Fatalf("expected positive qty, got %v", qty)
	}
	we := WalletExposureIfFilled(balance, psize, pprice, qty, entryPrice, false, ep)
	if !almostEqual(we, weTarget, weTarget*0.02) {
		t.Errorf("resulting wallet exposure %v not within 2%% of target %v", we, weTarget)
	}
}

func TestFindCloseQtyLongForWalletExposureTargetZeroTarget(t *testing.T) {
	ep := testExchangeParams()
	got := FindCloseQtyLongForWalletExposureTarget(1000.0, 2.0, 100.0, 0.0, 110.0, false, ep)
	if got != 2.0 {
		t.Errorf("got %v, want full position size 2.0", got)
	}
}

func TestFindCloseQtyLongForWalletExposureTargetAlreadyBelow(t *testing.T) {
	ep := testExchangeParams()
	// we = 100*1/1000 = 0.1, target*1.001 well above we
	got := FindCloseQtyLongForWalletExposureTarget(1000.0, 1.0, 100.0, 1.0, 110.0, false, ep)
	if got != 0 {
		t.Errorf("got %v, want 0 (already under target)", got)
	}
}

func TestFindCloseQtyLongForWalletExposureTargetConverges(t *testing.T) {
	ep := testExchangeParams()
	balance := 1000.0
	psize := 10.0
	pprice := 100.0
	closePrice := 105.0
	weTarget := 0.3

	qty := FindCloseQtyLongForWalletExposureTarget(balance, psize, pprice, weTarget, closePrice, false, ep)
	if qty <= 0 || qty > psize {
		t.Fatalf("expected 0 < qty <= psize, got %v", qty)
	}
	pnl := PnLLong(pprice, closePrice, qty, false, ep.CMult)
	newBalance := balance + pnl
	we := QtyToCost(psize-qty, pprice, false, ep.CMult) / newBalance
	if !almostEqual(we, weTarget, weTarget*0.02) {
		t.Errorf("resulting wallet exposure %v not within 2%% of target %v", we, weTarget)
	}
}

func TestFindCloseQtyShortForWalletExposureTargetConverges(t *testing.T) {
	ep := testExchangeParams()
	balance := 1000.0
	psize := -10.0
	pprice := 100.0
	closePrice := 95.0
	weTarget := 0.3

	qty := FindCloseQtyShortForWalletExposureTarget(balance, psize, pprice, weTarget, closePrice, false, ep)
	if qty <= 0 || qty > 10.0 {
		t.Fatalf("expected 0 < qty <= 10.0, got %v", qty)
	}
	pnl := PnLShort(pprice, closePrice, qty, false, ep.CMult)
	newBalance := balance + pnl
	we := QtyToCost(10.0-qty, pprice, false, ep.CMult) / newBalance
	if !almostEqual(we, weTarget, weTarget*0.02) {
		t.Errorf("resulting wallet exposure %v not within 2%% of target %v", we, weTarget)
	}
}

func TestBestGuessPicksLowestError(t *testing.T) {
	evals := []float64{0.5, 0.01, 0.3}
	guesses := []float64{1.0, 2.0, 3.0}
	if got := bestGuess(evals, guesses); got != 2.0 {
		t.Errorf("bestGuess = %v, want 2.0", got)
	}
}

func TestContains(t *testing.T) {
	xs := []float64{1.0, 2.0, 3.0}
	if !contains(xs, 2.0) {
		t.Error("expected contains to find 2.0")
	}
	if contains(xs, 4.0) {
		t.Error("expected contains to not find 4.0")
	}
}
