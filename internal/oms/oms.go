// Package oms implements the order lifecycle state machine, venue-side
// constraint checks, and the maker/taker fee model (spec.md §4.7).
package oms

import (
	"fmt"

	"clobbacktest/pkg/types"
)

// Order is one OMS-tracked order.
type Order struct {
	ID          string
	TokenID     string
	ClientID    string
	Side        types.Side
	Price       types.Tick
	Size        types.Size
	FilledSize  types.Size
	State       types.OrderState
	PostOnly    bool
	SentAt      types.Nanos
}

// Remaining returns the unfilled size.
func (o Order) Remaining() types.Size { return o.Size - o.FilledSize }

// transitions enumerates the legal one-way edges of the OMS state machine
// (spec.md §4.7), except PartiallyFilled -> PartiallyFilled which is
// allowed as a self-loop for successive partial fills.
var transitions = map[types.OrderState]map[types.OrderState]bool{
	types.StateNew: {
		types.StateAcknowledged: true,
		types.StateRejected:     true,
	},
	types.StateAcknowledged: {
		types.StatePartiallyFilled: true,
		types.StateFilled:          true,
		types.StateCancelling:      true,
		types.StateExpired:         true,
	},
	types.StatePartiallyFilled: {
		types.StatePartiallyFilled: true,
		types.StateFilled:          true,
		types.StateCancelling:      true,
		types.StateExpired:         true,
	},
	types.StateCancelling: {
		types.StateCancelled: true,
	},
}

// TransitionErr reports an illegal OMS state transition.
type TransitionErr struct {
	OrderID string
	From    types.OrderState
	To      types.OrderState
}

func (e TransitionErr) Error() string {
	return fmt.Sprintf("oms: order %s illegal transition %s -> %s", e.OrderID, e.From, e.To)
}

// SelfTradeMode selects how the venue prevents an account from trading
// against its own resting orders.
type SelfTradeMode string

const (
	SelfTradeCancelNewest SelfTradeMode = "CancelNewest"
	SelfTradeCancelOldest SelfTradeMode = "CancelOldest"
	SelfTradeCancelBoth   SelfTradeMode = "CancelBoth"
)

// VenueConstraints are the checks applied before an order reaches matching
// (spec.md §4.7 "Venue constraints enforced before matching").
type VenueConstraints struct {
	TickSize      types.Tick
	MinSize       types.Size
	SelfTradeMode SelfTradeMode
	RateLimitPerS int
}

// FeeModel computes the maker rebate or taker fee applied post-fill,
// expressed in basis points of notional (spec.md §4.7).
type FeeModel struct {
	MakerRebateBps int64
	TakerFeeBps    int64
}

// Fee returns the signed fixed-point fee for a fill of size at price,
// notional being price(ticks)/100 * size(AmountFP units). Positive values
// are owed by the account (taker fee); negative values are rebated to it
// (maker rebate).
func (f FeeModel) Fee(isMaker bool, price types.Tick, size types.Size) types.AmountFP {
	notional := int64(price) * int64(size) / 100
	if isMaker {
		return types.AmountFP(-notional * f.MakerRebateBps / 10_000)
	}
	return types.AmountFP(notional * f.TakerFeeBps / 10_000)
}

// Manager owns every Order by ID and enforces state transitions plus a
// simple per-client rate limiter: a count of orders per client within a
// fixed one-second window.
type Manager struct {
	constraints VenueConstraints
	fees        FeeModel

	orders     map[string]*Order
	rateBucket map[string]int // clientID -> orders sent in current second
	rateWindow types.Nanos    // start of the current rate-limit window
}

// NewManager creates an OMS manager with the given venue constraints and
// fee schedule.
func NewManager(constraints VenueConstraints, fees FeeModel) *Manager {
	return &Manager{
		constraints: constraints,
		fees:        fees,
		orders:      make(map[string]*Order),
		rateBucket:  make(map[string]int),
	}
}

// RejectReason enumerates why Submit refused an order before it ever
// reached the book.
type RejectReason string

const (
	RejectTickSize    RejectReason = "TickSize"
	RejectMinSize     RejectReason = "MinSize"
	RejectPostOnly    RejectReason = "PostOnlyCrossing"
	RejectRateLimited RejectReason = "RateLimited"
)

// Submit validates an order against venue constraints and, if it passes,
// creates it in State New. bestOpposite is the current best price on the
// opposing side (for the post-only check); ok is false if none exists.
func (m *Manager) Submit(o Order, now types.Nanos, bestOpposite types.Tick, bestOppositeOK bool) (RejectReason, bool) {
	if m.constraints.TickSize > 0 && int32(o.Price)%int32(m.constraints.TickSize) != 0 {
		return RejectTickSize, false
	}
	if o.Size < m.constraints.MinSize {
		return RejectMinSize, false
	}
	if o.PostOnly && bestOppositeOK {
		crosses := (o.Side == types.Buy && o.Price >= bestOpposite) ||
			(o.Side == types.Sell && o.Price <= bestOpposite)
		if crosses {
			return RejectPostOnly, false
		}
	}
	if m.constraints.RateLimitPerS > 0 {
		if now-m.rateWindow >= types.Nanos(1_000_000_000) {
			m.rateWindow = now
			m.rateBucket = make(map[string]int)
		}
		if m.rateBucket[o.ClientID] >= m.constraints.RateLimitPerS {
			return RejectRateLimited, false
		}
		m.rateBucket[o.ClientID]++
	}

	o.State = types.StateNew
	m.orders[o.ID] = &o
	return "", true
}

// Order returns the order by ID.
func (m *Manager) Order(id string) (*Order, bool) {
	o, ok := m.orders[id]
	return o, ok
}

// transition applies a legal state change or returns TransitionErr.
func (m *Manager) transition(id string, to types.OrderState) error {
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("oms: unknown order %s", id)
	}
	if o.State == types.StatePartiallyFilled && to == types.StatePartiallyFilled {
		return nil
	}
	if !transitions[o.State][to] {
		return TransitionErr{OrderID: id, From: o.State, To: to}
	}
	o.State = to
	return nil
}

// Acknowledge moves New -> Acknowledged.
func (m *Manager) Acknowledge(id string) error { return m.transition(id, types.StateAcknowledged) }

// Reject moves New -> Rejected.
func (m *Manager) Reject(id string) error { return m.transition(id, types.StateRejected) }

// Fill applies a fill of size at price, computing the fee via the fee
// model, and transitions to PartiallyFilled or Filled depending on
// remaining size. Returns the fee owed/rebated for this fill.
func (m *Manager) Fill(id string, size types.Size, price types.Tick, isMaker bool) (types.AmountFP, error) {
	o, ok := m.orders[id]
	if !ok {
		return 0, fmt.Errorf("oms: unknown order %s", id)
	}
	o.FilledSize += size
	next := types.StatePartiallyFilled
	if o.FilledSize >= o.Size {
		next = types.StateFilled
	}
	if err := m.transition(id, next); err != nil {
		return 0, err
	}
	return m.fees.Fee(isMaker, price, size), nil
}

// RequestCancel moves Acknowledged/PartiallyFilled -> Cancelling.
func (m *Manager) RequestCancel(id string) error { return m.transition(id, types.StateCancelling) }

// AckCancel moves Cancelling -> Cancelled.
func (m *Manager) AckCancel(id string) error { return m.transition(id, types.StateCancelled) }

// Expire moves Acknowledged/PartiallyFilled -> Expired.
func (m *Manager) Expire(id string) error { return m.transition(id, types.StateExpired) }
