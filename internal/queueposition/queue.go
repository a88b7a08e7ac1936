// Package queueposition tracks per-price-level FIFO queues, including the
// position of our own resting orders within them, and adjudicates the
// cancel-fill race when a trade print consumes volume at a level our order
// sits on (spec.md §4.5, §8).
package queueposition

import (
	"sort"

	"clobbacktest/pkg/types"
)

// Entry is one FIFO queue member at a price level.
type Entry struct {
	OrderID string
	Size    types.Size
	IsOurs  bool
}

// levelQueue is a FIFO queue at one price, implemented as a slice acting as
// a deque (removal always happens from the front, per spec.md "Queue FIFO"
// property).
type levelQueue struct {
	entries []Entry
}

func (q *levelQueue) sizeAheadOf(orderID string) (types.Size, bool) {
	var ahead types.Size
	for _, e := range q.entries {
		if e.OrderID == orderID {
			return ahead, true
		}
		ahead += e.Size
	}
	return 0, false
}

// InFlightOrder is one of our orders submitted but not yet materialised in
// the queue (spec.md §3 InFlightOrder).
type InFlightOrder struct {
	OrderID  string
	Side     types.Side
	Price    types.Tick
	Size     types.Size
	SentAt   types.Nanos
	ArrivesAt types.Nanos
}

// CancelRequest is an in-flight cancel targeting one of our resting orders
// (spec.md §3 CancelRequest).
type CancelRequest struct {
	OrderID   string
	SentAt    types.Nanos
	ArrivesAt types.Nanos
}

// RaceResult is the outcome of adjudicating a cancel against a fill for one
// of our orders (spec.md §4.5, §8).
type RaceResult struct {
	OrderID string
	Outcome types.RaceOutcome
	Filled  types.Size // non-zero only when Outcome == RaceFillWon
}

// Model owns the per-token, per-price FIFO queues plus our in-flight orders
// and cancels. It is single-owner, mutated only by the orchestrator inside
// dispatch.
type Model struct {
	levels         map[string]map[types.Tick]*levelQueue // tokenID -> price -> queue
	inFlight       map[string]InFlightOrder              // orderID -> order, pending arrival
	pendingCancels map[string]CancelRequest              // orderID -> cancel, pending arrival
	orderToken     map[string]string                     // orderID -> tokenID, set at submission

	cancelRaceLosses int64
	cancelRaceWins   int64
}

// New creates an empty queue-position model.
func New() *Model {
	return &Model{
		levels:         make(map[string]map[types.Tick]*levelQueue),
		inFlight:       make(map[string]InFlightOrder),
		pendingCancels: make(map[string]CancelRequest),
		orderToken:     make(map[string]string),
	}
}

func (m *Model) levelFor(tokenID string, price types.Tick) *levelQueue {
	byPrice, ok := m.levels[tokenID]
	if !ok {
		byPrice = make(map[types.Tick]*levelQueue)
		m.levels[tokenID] = byPrice
	}
	lq, ok := byPrice[price]
	if !ok {
		lq = &levelQueue{}
		byPrice[price] = lq
	}
	return lq
}

// ObserveExternal appends an externally observed order to the back of its
// level's FIFO queue, as it is seen in the feed. External orders are never
// tracked as in-flight — they are appended the instant they are observed.
func (m *Model) ObserveExternal(tokenID string, price types.Tick, orderID string, size types.Size) {
	lq := m.levelFor(tokenID, price)
	lq.entries = append(lq.entries, Entry{OrderID: orderID, Size: size, IsOurs: false})
}

// SubmitOrder records one of our own orders as in-flight; it is not
// materialised in the queue until ProcessArrivals reaches its ArrivesAt
// (spec.md §4.5 submit_order).
func (m *Model) SubmitOrder(tokenID string, orderID string, side types.Side, price types.Tick, size types.Size, sentAt types.Nanos, latency int64) {
	m.inFlight[orderID] = InFlightOrder{
		OrderID:   orderID,
		Side:      side,
		Price:     price,
		Size:      size,
		SentAt:    sentAt,
		ArrivesAt: sentAt + types.Nanos(latency),
	}
	// The token/price this order belongs to is re-derived from the record
	// when it materialises; stash it via a synthetic orderID->token map.
	m.orderToken[orderID] = tokenID
}

// SubmitCancel records a cancel request against one of our orders as
// in-flight, pending ArrivesAt.
func (m *Model) SubmitCancel(orderID string, sentAt types.Nanos, latency int64) {
	m.pendingCancels[orderID] = CancelRequest{
		OrderID:   orderID,
		SentAt:    sentAt,
		ArrivesAt: sentAt + types.Nanos(latency),
	}
}

// ProcessArrivals materialises every in-flight order whose ArrivesAt has
// reached now, appending it to the back of its level's FIFO queue
// (spec.md §4.5 process_arrivals). Cancels whose ArrivesAt has reached now
// are left in pendingCancels — they are only resolved by RaceResult or by
// CancelAcknowledged, since an arrived-but-unresolved cancel can still win
// a race against a fill observed at the very same instant.
//
// m.inFlight is a map, so iteration order is randomized; when two or more
// of our orders arrive at the same instant, ranging over it directly would
// make their relative FIFO position (and therefore which one a later trade
// print fills against) vary from run to run. Arrivals due at now are
// collected first and sorted by order ID before being appended, so replay
// is reproducible (spec.md §3/§5/§8).
func (m *Model) ProcessArrivals(now types.Nanos) []string {
	var due []string
	for orderID, ord := range m.inFlight {
		if ord.ArrivesAt > now {
			continue
		}
		due = append(due, orderID)
	}
	sort.Strings(due)

	for _, orderID := range due {
		ord := m.inFlight[orderID]
		tokenID := m.orderToken[orderID]
		lq := m.levelFor(tokenID, ord.Price)
		lq.entries = append(lq.entries, Entry{OrderID: orderID, Size: ord.Size, IsOurs: true})
		delete(m.inFlight, orderID)
	}
	return due
}

// CancelAcknowledged removes a resolved cancel from tracking (called once
// the OMS has recorded the Cancelled transition).
func (m *Model) CancelAcknowledged(orderID string) {
	delete(m.pendingCancels, orderID)
}

// SizeAhead returns the queue-ahead size for our order (spec.md glossary
// "Queue-ahead"): the sum of the sizes of every entry queued before it at
// its price level, our own earlier orders included.
func (m *Model) SizeAhead(tokenID string, price types.Tick, orderID string) (types.Size, bool) {
	byPrice, ok := m.levels[tokenID]
	if !ok {
		return 0, false
	}
	lq, ok := byPrice[price]
	if !ok {
		return 0, false
	}
	return lq.sizeAheadOf(orderID)
}

// ConsumeTrade applies a trade print's consumed volume to the front of the
// FIFO queue at (tokenID, price), in strict FIFO order (spec.md "Queue
// FIFO" property: removal of the first entry precedes removal of later
// entries). For every one of our own entries it consumes, it adjudicates
// the cancel-fill race against tradeTime using cancelLatencyMargin
// (spec.md §4.5, §4.6 CancelRaceProof) and returns the results.
func (m *Model) ConsumeTrade(tokenID string, price types.Tick, consumed types.Size, tradeTime types.Nanos, cancelLatencyMargin int64) []RaceResult {
	byPrice, ok := m.levels[tokenID]
	if !ok {
		return nil
	}
	lq, ok := byPrice[price]
	if !ok {
		return nil
	}

	var results []RaceResult
	remaining := consumed
	var kept []Entry
	for i, e := range lq.entries {
		if remaining <= 0 {
			kept = append(kept, lq.entries[i:]...)
			break
		}
		take := e.Size
		if take > remaining {
			take = remaining
		}
		remaining -= take

		if e.IsOurs {
			results = append(results, m.adjudicate(e.OrderID, take, tradeTime, cancelLatencyMargin))
		}

		if take < e.Size {
			kept = append(kept, Entry{OrderID: e.OrderID, Size: e.Size - take, IsOurs: e.IsOurs})
		}
	}
	lq.entries = kept
	return results
}

// adjudicate resolves the cancel-fill race for one of our orders consumed
// by a trade at tradeTime (spec.md §4.5, §8): the cancel wins iff its
// projected venue arrival is at or before the trade's exchange timestamp,
// allowing cancelLatencyMargin of slack in the cancel's favor.
func (m *Model) adjudicate(orderID string, size types.Size, tradeTime types.Nanos, cancelLatencyMargin int64) RaceResult {
	cancel, hasCancel := m.pendingCancels[orderID]
	if !hasCancel {
		return RaceResult{OrderID: orderID, Outcome: types.RaceFillWon, Filled: size}
	}

	cancelArrival := cancel.ArrivesAt - types.Nanos(cancelLatencyMargin)
	if cancelArrival <= tradeTime {
		delete(m.pendingCancels, orderID)
		m.cancelRaceWins++
		return RaceResult{OrderID: orderID, Outcome: types.RaceCancelled}
	}
	m.cancelRaceLosses++
	return RaceResult{OrderID: orderID, Outcome: types.RaceFillWon, Filled: size}
}

// CancelRaceLossRate returns cancels-lost / (cancels-lost + cancels-won),
// the statistic spec.md §4.5 requires ("statistics track
// cancel_race_loss_rate"), scaled by 1e6 fixed-point. Returns 0 if no races
// have been adjudicated yet.
func (m *Model) CancelRaceLossRate() int64 {
	total := m.cancelRaceLosses + m.cancelRaceWins
	if total == 0 {
		return 0
	}
	return m.cancelRaceLosses * 1_000_000 / total
}
