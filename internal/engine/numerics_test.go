package engine

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestRoundTo(t *testing.T) {
	tests := []struct {
		name string
		n    float64
		step float64
		want float64
	}{
		{"exact multiple", 1.0, 0.01, 1.0},
		{"rounds down", 1.004, 0.01, 1.0},
		{"rounds up", 1.006, 0.01, 1.01},
		{"zero step multiple", 0.0, 0.001, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundTo(tt.n, tt.step); !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("RoundTo(%v, %v) = %v, want %v", tt.n, tt.step, got, tt.want)
			}
		})
	}
}

func TestRoundUpRoundDn(t *testing.T) {
	if got := RoundUp(100.001, 0.01); !almostEqual(got, 100.01, 1e-9) {
		t.Errorf("RoundUp = %v, want 100.01", got)
	}
	if got := RoundDn(100.009, 0.01); !almostEqual(got, 100.0, 1e-9) {
		t.Errorf("RoundDn = %v, want 100.0", got)
	}
}

func TestCostToQtyQtyToCostLinear(t *testing.T) {
	cost := 1000.0
	price := 100.0
	qty := CostToQty(cost, price, false, 1.0)
	if !almostEqual(qty, 10.0, 1e-9) {
		t.Fatalf("CostToQty = %v, want 10.0", qty)
	}
	gotCost := QtyToCost(qty, price, false, 1.0)
	if !almostEqual(gotCost, cost, 1e-9) {
		t.Errorf("QtyToCost round-trip = %v, want %v", gotCost, cost)
	}
}

func TestCostToQtyQtyToCostInverse(t *testing.T) {
	cost := 10.0
	price := 100.0
	qty := CostToQty(cost, price, true, 1.0)
	if !almostEqual(qty, 1000.0, 1e-9) {
		t.Fatalf("CostToQty inverse = %v, want 1000.0", qty)
	}
	gotCost := QtyToCost(qty, price, true, 1.0)
	if !almostEqual(gotCost, cost, 1e-9) {
		t.Errorf("QtyToCost inverse round-trip = %v, want %v", gotCost, cost)
	}
}

func TestPnLLong(t *testing.T) {
	pnl := PnLLong(100.0, 110.0, 2.0, false, 1.0)
	if !almostEqual(pnl, 20.0, 1e-9) {
		t.Errorf("PnLLong = %v, want 20.0", pnl)
	}
}

func TestPnLShort(t *testing.T) {
	pnl := PnLShort(100.0, 90.0, 2.0, false, 1.0)
	if !almostEqual(pnl, 20.0, 1e-9) {
		t.Errorf("PnLShort = %v, want 20.0", pnl)
	}
}

func TestWalletExposure(t *testing.T) {
	we := WalletExposure(1.0, 1000.0, 5.0, 100.0, false)
	if !almostEqual(we, 0.5, 1e-9) {
		t.Errorf("WalletExposure = %v, want 0.5", we)
	}
	if got := WalletExposure(1.0, 0.0, 5.0, 100.0, false); got != 0 {
		t.Errorf("WalletExposure with zero balance = %v, want 0", got)
	}
}

func TestNewPositionSizePrice(t *testing.T) {
	psize, pprice := NewPositionSizePrice(1.0, 100.0, 1.0, 110.0, 0.001)
	if !almostEqual(psize, 2.0, 1e-9) {
		t.Errorf("psize = %v, want 2.0", psize)
	}
	if !almostEqual(pprice, 105.0, 1e-9) {
		t.Errorf("pprice = %v, want 105.0", pprice)
	}
}

func TestNewPositionSizePriceFromFlat(t *testing.T) {
	psize, pprice := NewPositionSizePrice(0.0, 0.0, 3.0, 50.0, 0.001)
	if psize != 3.0 || pprice != 50.0 {
		t.Errorf("got (%v, %v), want (3.0, 50.0)", psize, pprice)
	}
}

func TestInterpolate2(t *testing.T) {
	got := Interpolate2(5.0, [2]float64{0.0, 10.0}, [2]float64{0.0, 100.0})
	if !almostEqual(got, 50.0, 1e-9) {
		t.Errorf("Interpolate2 = %v, want 50.0", got)
	}
}

func TestMinEntryQty(t *testing.T) {
	ep := ExchangeParams{QtyStep: 0.001, PriceStep: 0.01, MinQty: 0.001, MinCost: 1.0, CMult: 1.0, Inverse: false}
	got := MinEntryQty(100.0, ep)
	if !almostEqual(got, 0.01, 1e-9) {
		t.Errorf("MinEntryQty = %v, want 0.01", got)
	}
}

func TestMinEntryQtyInverse(t *testing.T) {
	ep := ExchangeParams{QtyStep: 1.0, PriceStep: 0.1, MinQty: 1.0, MinCost: 1.0, CMult: 1.0, Inverse: true}
	if got := MinEntryQty(100.0, ep); got != 1.0 {
		t.Errorf("MinEntryQty inverse = %v, want 1.0", got)
	}
}

func TestEMAPriceBidAsk(t *testing.T) {
	bid := EMAPriceBid(0.01, 99.0, 100.0, 0.01)
	if bid != 99.0 {
		t.Errorf("EMAPriceBid = %v, want 99.0 (capped at book)", bid)
	}
	ask := EMAPriceAsk(0.01, 101.0, 100.0, 0.01)
	if ask != 101.0 {
		t.Errorf("EMAPriceAsk = %v, want 101.0 (floored at book)", ask)
	}
}
