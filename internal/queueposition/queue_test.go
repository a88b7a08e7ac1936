package queueposition

import (
	"testing"

	"clobbacktest/pkg/types"
)

func TestQueueFIFOOrderPreserved(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveExternal("tok1", 50, "ext-1", 10)
	m.ObserveExternal("tok1", 50, "ext-2", 20)
	m.SubmitOrder("tok1", "our-1", types.Buy, 50, 5, 0, 0)
	m.ProcessArrivals(0)

	ahead, ok := m.SizeAhead("tok1", 50, "our-1")
	if !ok {
		t.Fatal("expected our order to be found in the queue")
	}
	if ahead != 30 {
		t.Errorf("SizeAhead = %d, want 30 (sum of ext-1 + ext-2)", ahead)
	}
}

func TestSubmitOrderNotVisibleUntilArrival(t *testing.T) {
	t.Parallel()

	m := New()
	m.SubmitOrder("tok1", "our-1", types.Buy, 50, 5, 0, 100)
	if _, ok := m.SizeAhead("tok1", 50, "our-1"); ok {
		t.Fatal("in-flight order should not be visible before ProcessArrivals reaches its arrival time")
	}

	materialised := m.ProcessArrivals(50)
	if len(materialised) != 0 {
		t.Fatalf("ProcessArrivals(50) materialised %v, want none (arrives at 100)", materialised)
	}

	materialised = m.ProcessArrivals(100)
	if len(materialised) != 1 || materialised[0] != "our-1" {
		t.Fatalf("ProcessArrivals(100) = %v, want [our-1]", materialised)
	}
	if _, ok := m.SizeAhead("tok1", 50, "our-1"); !ok {
		t.Fatal("order should be visible once its arrival time has passed")
	}
}

func TestConsumeTradeFIFOAndFillAttribution(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveExternal("tok1", 50, "ext-1", 10)
	m.SubmitOrder("tok1", "our-1", types.Buy, 50, 5, 0, 0)
	m.ProcessArrivals(0)
	m.ObserveExternal("tok1", 50, "ext-2", 20)

	// A trade consuming only 10 should exhaust ext-1 and leave our-1 and
	// ext-2 untouched (strict FIFO: front-of-queue consumed first).
	results := m.ConsumeTrade("tok1", 50, 10, 1000, 0)
	if len(results) != 0 {
		t.Fatalf("ConsumeTrade(10) results = %v, want none (only ext-1 consumed)", results)
	}
	ahead, ok := m.SizeAhead("tok1", 50, "our-1")
	if !ok || ahead != 0 {
		t.Fatalf("SizeAhead after ext-1 consumed = %d, ok=%v; want 0, true", ahead, ok)
	}

	// Consuming 5 more reaches exactly our-1's size with no pending cancel:
	// a trivial fill win.
	results = m.ConsumeTrade("tok1", 50, 5, 1000, 0)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].OrderID != "our-1" || results[0].Outcome != types.RaceFillWon || results[0].Filled != 5 {
		t.Errorf("results[0] = %+v, want {our-1 FillWon 5}", results[0])
	}
}

func TestAdjudicateCancelWinsWhenArrivesBeforeTrade(t *testing.T) {
	t.Parallel()

	m := New()
	m.SubmitOrder("tok1", "our-1", types.Buy, 50, 5, 0, 0)
	m.ProcessArrivals(0)
	// Cancel sent at 0, 100ns latency -> arrives at 100. With 0 margin, a
	// trade at 200 is after the cancel's arrival, so the cancel wins.
	m.SubmitCancel("our-1", 0, 100)

	results := m.ConsumeTrade("tok1", 50, 5, 200, 0)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].Outcome != types.RaceCancelled {
		t.Errorf("Outcome = %v, want Cancelled", results[0].Outcome)
	}
	if got := m.CancelRaceLossRate(); got != 0 {
		t.Errorf("CancelRaceLossRate = %d, want 0 (cancel won, no loss recorded)", got)
	}
}

func TestAdjudicateFillWinsWhenCancelArrivesAfterTrade(t *testing.T) {
	t.Parallel()

	m := New()
	m.SubmitOrder("tok1", "our-1", types.Buy, 50, 5, 0, 0)
	m.ProcessArrivals(0)
	// Cancel sent at 0, 1000ns latency -> arrives at 1000, after the trade
	// at 200: the fill wins the race.
	m.SubmitCancel("our-1", 0, 1000)

	results := m.ConsumeTrade("tok1", 50, 5, 200, 0)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].Outcome != types.RaceFillWon || results[0].Filled != 5 {
		t.Errorf("result = %+v, want {FillWon Filled=5}", results[0])
	}
	if got := m.CancelRaceLossRate(); got != 1_000_000 {
		t.Errorf("CancelRaceLossRate = %d, want 1_000_000 (100%% loss rate after one lost race)", got)
	}
}

func TestCancelRaceLossRateExcludesNonRaceFills(t *testing.T) {
	t.Parallel()

	m := New()
	m.SubmitOrder("tok1", "our-1", types.Buy, 50, 5, 0, 0)
	m.ProcessArrivals(0)

	// No cancel was ever submitted for our-1: this is a plain fill, not a
	// contested race, and must not count toward the loss-rate statistic.
	results := m.ConsumeTrade("tok1", 50, 5, 200, 0)
	if len(results) != 1 || results[0].Outcome != types.RaceFillWon {
		t.Fatalf("results = %+v, want a single FillWon", results)
	}
	if got := m.CancelRaceLossRate(); got != 0 {
		t.Errorf("CancelRaceLossRate = %d, want 0 (no race was ever contested)", got)
	}
}
