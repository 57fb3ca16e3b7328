package engine

import "testing"

func TestTickFlatPositionsProduceEntriesButNoCloses(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	snap := testSnapshot()

	result := Tick(TickInput{
		Exchange: ep,
		Snapshot: snap,
		Long:     sc,
		Short:    sc,
	})

	if len(result.EntriesLong) == 0 {
		t.Error("expected at least one long entry for a flat position")
	}
	if len(result.EntriesShort) == 0 {
		t.Error("expected at least one short entry for a flat position")
	}
	if len(result.ClosesLong) != 0 {
		t.Errorf("expected no long closes for a flat position, got %+v", result.ClosesLong)
	}
	if len(result.ClosesShort) != 0 {
		t.Errorf("expected no short closes for a flat position, got %+v", result.ClosesShort)
	}
}

func TestTickAllOrdersPreservesPlacementOrder(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	sc.UnstuckThreshold = 0
	sc.CloseTrailingThresholdPct = 0
	snap := testSnapshot()

	result := Tick(TickInput{
		Exchange:      ep,
		Snapshot:      snap,
		Long:          sc,
		Short:         sc,
		LongPosition:  Position{Size: 1.0, Price: 100.0},
		ShortPosition: Position{Size: -1.0, Price: 100.0},
	})

	all := result.AllOrders()
	want := len(result.EntriesLong) + len(result.EntriesShort) + len(result.ClosesLong) + len(result.ClosesShort)
	if len(all) != want {
		t.Fatalf("AllOrders length %d, want %d", len(all), want)
	}
	for i, o := range result.EntriesLong {
		if all[i] != o {
			t.Errorf("entries-long order %d mismatch in concatenation", i)
		}
	}
}

func TestTickWithPositionsProducesGridReentriesAndCloses(t *testing.T) {
	ep := testExchangeParams()
	sc := testSideConfig()
	sc.UnstuckThreshold = 0
	sc.CloseTrailingThresholdPct = 0
	snap := testSnapshot()

	result := Tick(TickInput{
		Exchange:      ep,
		Snapshot:      snap,
		Long:          sc,
		Short:         sc,
		LongPosition:  Position{Size: 1.0, Price: 100.0},
		ShortPosition: Position{Size: -1.0, Price: 100.0},
	})

	if len(result.ClosesLong) == 0 {
		t.Error("expected long close orders for an open long position")
	}
	if len(result.ClosesShort) == 0 {
		t.Error("expected short close orders for an open short position")
	}
}
