package eventqueue

import (
	"testing"

	"clobbacktest/pkg/types"
)

func TestPushRejectsArrivalBeforeSource(t *testing.T) {
	t.Parallel()

	q := New()
	err := q.Push(types.TimestampedEvent{ArrivalTime: 5, SourceTime: 10})
	if err == nil {
		t.Fatal("expected rejection of arrival < source")
	}
}

func TestPushRejectsNegativeTimestamp(t *testing.T) {
	t.Parallel()

	q := New()
	if err := q.Push(types.TimestampedEvent{ArrivalTime: -1, SourceTime: -1}); err == nil {
		t.Fatal("expected rejection of negative timestamp")
	}
}

func TestOrderingByArrivalTime(t *testing.T) {
	t.Parallel()

	q := New()
	for _, a := range []types.Nanos{300, 100, 200} {
		if err := q.Push(types.TimestampedEvent{ArrivalTime: a, SourceTime: 0}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	var got []types.Nanos
	for {
		ev, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, ev.ArrivalTime)
	}

	want := []types.Nanos{100, 200, 300}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("got[%d] = %d, want %d", i, got[i], w)
		}
	}
}

func TestOrderingByPriorityThenSourceThenSeq(t *testing.T) {
	t.Parallel()

	q := New()
	// Same arrival time: priority breaks the tie first.
	_ = q.Push(types.TimestampedEvent{ArrivalTime: 100, Priority: types.PriorityTradePrint, SourceID: "b"})
	_ = q.Push(types.TimestampedEvent{ArrivalTime: 100, Priority: types.PrioritySnapshot, SourceID: "a"})
	_ = q.Push(types.TimestampedEvent{ArrivalTime: 100, Priority: types.PrioritySnapshot, SourceID: "a"})

	ev1, _ := q.Pop()
	if ev1.Priority != types.PrioritySnapshot || ev1.Seq != 1 {
		t.Errorf("first pop = priority %v seq %d, want snapshot seq 1 (first-pushed snapshot)", ev1.Priority, ev1.Seq)
	}
	ev2, _ := q.Pop()
	if ev2.Priority != types.PrioritySnapshot || ev2.Seq != 2 {
		t.Errorf("second pop = priority %v seq %d, want snapshot seq 2", ev2.Priority, ev2.Seq)
	}
	ev3, _ := q.Pop()
	if ev3.Priority != types.PriorityTradePrint {
		t.Errorf("third pop priority = %v, want trade print", ev3.Priority)
	}
}

func TestDrainUntil(t *testing.T) {
	t.Parallel()

	q := New()
	for _, a := range []types.Nanos{100, 200, 300, 400} {
		_ = q.Push(types.TimestampedEvent{ArrivalTime: a})
	}

	drained := q.DrainUntil(250)
	if len(drained) != 2 {
		t.Fatalf("DrainUntil(250) returned %d events, want 2", len(drained))
	}
	if q.Len() != 2 {
		t.Errorf("Len() after drain = %d, want 2", q.Len())
	}
}

func TestDeterministicReplayOrder(t *testing.T) {
	t.Parallel()

	build := func() []types.Nanos {
		q := New()
		events := []types.TimestampedEvent{
			{ArrivalTime: 50, Priority: types.PriorityDelta, SourceID: "tok1"},
			{ArrivalTime: 10, Priority: types.PrioritySnapshot, SourceID: "tok1"},
			{ArrivalTime: 50, Priority: types.PrioritySnapshot, SourceID: "tok2"},
			{ArrivalTime: 10, Priority: types.PrioritySnapshot, SourceID: "tok2"},
		}
		for _, ev := range events {
			_ = q.Push(ev)
		}
		var order []types.Nanos
		for {
			ev, ok := q.Pop()
			if !ok {
				break
			}
			order = append(order, ev.ArrivalTime)
		}
		return order
	}

	first := build()
	second := build()
	if len(first) != len(second) {
		t.Fatalf("length mismatch: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("order diverged at index %d: %d vs %d", i, first[i], second[i])
		}
	}
}
