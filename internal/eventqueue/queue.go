// Package eventqueue implements the deterministic min-heap the orchestrator
// drains one event at a time (spec.md §4.1). Ordering key:
//
//	(arrival_time ASC, event_priority ASC, source_id ASC, seq ASC)
//
// Push is the only mutation that assigns Seq, so insertion order fully
// determines tie-breaking once arrival_time, priority, and source_id are
// equal — this is what makes two runs over the same dataset byte-identical.
package eventqueue

import (
	"container/heap"
	"fmt"

	"clobbacktest/pkg/types"
)

// Queue is a min-heap of TimestampedEvents ordered by the composite key
// above. It is not safe for concurrent use — the replay loop is single
// threaded by design (spec.md §5).
type Queue struct {
	h      eventHeap
	nextSeq uint64
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{h: make(eventHeap, 0, 1024)}
}

// Len returns the number of pending events.
func (q *Queue) Len() int { return len(q.h) }

// Push assigns the next monotone sequence number and inserts ev. It rejects
// events with negative timestamps or ArrivalTime < SourceTime, per spec.md
// §4.1's push_timestamped failure modes.
func (q *Queue) Push(ev types.TimestampedEvent) error {
	if ev.ArrivalTime < 0 || ev.SourceTime < 0 {
		return fmt.Errorf("eventqueue: negative timestamp (arrival=%d source=%d)", ev.ArrivalTime, ev.SourceTime)
	}
	if ev.ArrivalTime < ev.SourceTime {
		return fmt.Errorf("eventqueue: arrival_time %d precedes source_time %d", ev.ArrivalTime, ev.SourceTime)
	}
	ev.Seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.h, ev)
	return nil
}

// Pop removes and returns the next event in causal order. The second return
// value is false if the queue is empty.
func (q *Queue) Pop() (types.TimestampedEvent, bool) {
	if len(q.h) == 0 {
		return types.TimestampedEvent{}, false
	}
	ev := heap.Pop(&q.h).(types.TimestampedEvent)
	return ev, true
}

// Peek returns the next event without removing it.
func (q *Queue) Peek() (types.TimestampedEvent, bool) {
	if len(q.h) == 0 {
		return types.TimestampedEvent{}, false
	}
	return q.h[0], true
}

// DrainUntil pops and returns, in causal order, every event with
// ArrivalTime <= cutoff.
func (q *Queue) DrainUntil(cutoff types.Nanos) []types.TimestampedEvent {
	var out []types.TimestampedEvent
	for {
		ev, ok := q.Peek()
		if !ok || ev.ArrivalTime > cutoff {
			break
		}
		heap.Pop(&q.h)
		out = append(out, ev)
	}
	return out
}

// eventHeap implements container/heap.Interface over the composite key.
type eventHeap []types.TimestampedEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.ArrivalTime != b.ArrivalTime {
		return a.ArrivalTime < b.ArrivalTime
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	return a.Seq < b.Seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(types.TimestampedEvent))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
