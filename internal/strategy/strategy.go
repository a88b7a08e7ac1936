// Package strategy defines the capability surface every backtested
// strategy implements, and the reference Avellaneda-Stoikov maker
// (adapted from the teacher's live Maker) plus the synthetic probe
// strategies the TrustGate GateSuite replays against (spec.md §4.12,
// §9 "Dynamic dispatch in strategies"). There are no callbacks and no
// re-entrancy: the orchestrator calls exactly one of these methods per
// dispatched event and collects the returned actions.
package strategy

import (
	"clobbacktest/internal/orderbook"
	"clobbacktest/pkg/types"
)

// DecisionContext is the read-only view a strategy is given at decision
// time. Its DecisionTime is the SimClock reading at invocation, and is the
// timestamp recorded against every VisibilityWatermark check the
// orchestrator performs before and after the call.
type DecisionContext struct {
	DecisionTime types.Nanos
	TokenID      string
	Book         *orderbook.Book
	Inventory    types.Size // our current signed position in TokenID
}

// ActionKind tags the variant of one StrategyAction.
type ActionKind uint8

const (
	ActionNone ActionKind = iota
	ActionPlaceOrder
	ActionCancelOrder
)

// StrategyAction is the single tagged output type every capability method
// returns (spec.md §9): no direct calls into OMS, only declarative intent
// the orchestrator executes.
type StrategyAction struct {
	Kind     ActionKind
	ClientID string
	Side     types.Side
	Price    types.Tick
	Size     types.Size
	PostOnly bool
	OrderID  string // set for ActionCancelOrder
}

// Strategy is the capability surface spec.md §9 requires: on_book, on_trade,
// on_ack, on_fill, on_timer. Every method is pure with respect to its
// inputs — no I/O, no clock read — so a strategy replayed twice over the
// same event stream returns the same actions (spec.md §5).
type Strategy interface {
	OnBook(ctx DecisionContext) []StrategyAction
	OnTrade(ctx DecisionContext, trade types.TradePayload) []StrategyAction
	OnAck(ctx DecisionContext, orderID string) []StrategyAction
	OnFill(ctx DecisionContext, orderID string, side types.Side, price types.Tick, size types.Size) []StrategyAction
	OnTimer(ctx DecisionContext, kind string) []StrategyAction
}
