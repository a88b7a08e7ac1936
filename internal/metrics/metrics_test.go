package metrics

import (
	"testing"

	"clobbacktest/pkg/types"
)

func TestObserveFillAttributionSeparatesMakerTaker(t *testing.T) {
	t.Parallel()

	c := New(60_000_000_000) // 60s window
	c.ObserveFillAttribution(true, 1.5)
	c.ObserveFillAttribution(false, -2.0)

	summaries, err := c.Summaries()
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	s, ok := summaries["backtest_fill_attribution_ticks"]
	if !ok {
		t.Fatalf("missing fill attribution summary")
	}
	if s.Count != 2 {
		t.Errorf("Count = %d, want 2", s.Count)
	}
}

func TestObserveSlippageRecorded(t *testing.T) {
	t.Parallel()

	c := New(60_000_000_000)
	c.ObserveSlippage(types.Buy, 3.0)

	summaries, err := c.Summaries()
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	s := summaries["backtest_slippage_ticks"]
	if s.Count != 1 {
		t.Errorf("Count = %d, want 1", s.Count)
	}
	if s.Sum != 3.0 {
		t.Errorf("Sum = %v, want 3.0", s.Sum)
	}
}

func TestRecordFillEvictsOutsideWindow(t *testing.T) {
	t.Parallel()

	c := New(100) // tiny window: 100ns
	c.RecordFill(0, types.Buy)
	c.RecordFill(50, types.Buy)
	// This fill's cutoff is 250-100=150, which evicts the fills at 0 and 50.
	c.RecordFill(250, types.Sell)

	if len(c.fills) != 1 {
		t.Fatalf("len(fills) = %d, want 1 (older fills evicted)", len(c.fills))
	}
}

func TestGatherReturnsRegisteredFamilies(t *testing.T) {
	t.Parallel()

	c := New(1000)
	c.ObserveFillAttribution(true, 1.0)
	c.ObserveSlippage(types.Buy, 1.0)
	c.RecordFill(0, types.Buy) // observes the adverse-selection histogram

	families, err := c.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 3 {
		t.Errorf("len(families) = %d, want 3 (fill attribution, slippage, adverse selection)", len(families))
	}
}
