// Package makergate implements the MakerFillGate: a simulated maker fill is
// admitted only when QueueProof, CancelRaceProof, and SnapshotSufficiency
// all hold (spec.md §4.6).
package makergate

import (
	"clobbacktest/internal/orderbook"
	"clobbacktest/internal/queueposition"
	"clobbacktest/pkg/types"
)

// Config parameterizes the gate's thresholds.
type Config struct {
	MinSize             types.Size
	CancelLatencyMargin int64 // ns, slack given to the cancel side of the race
	MinDepthLevels      int   // book must have at least this many levels populated per side
}

// Decision is the gate's verdict for one candidate maker fill.
type Decision struct {
	Admitted bool
	Reason   types.MakerGateRejectReason // set on every gate rejection; empty when Admitted or when the cancel won the race
	Filled   types.Size
}

// Gate evaluates candidate maker fills against queue, cancel-race, and
// book-sufficiency evidence.
type Gate struct {
	cfg Config
}

// New creates a Gate with the given configuration.
func New(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// Evaluate decides whether our resting order orderID, sitting at price on
// book b, is validly filled by a trade print that consumed consumedSize on
// the opposing side at tradeTime. selfTrade is true if the aggressor was
// our own order (spec.md SelfTradeGuard).
func (g *Gate) Evaluate(
	b *orderbook.Book,
	qm *queueposition.Model,
	tokenID string,
	orderID string,
	price types.Tick,
	consumedSize types.Size,
	tradeTime types.Nanos,
	selfTrade bool,
) Decision {
	if selfTrade {
		return Decision{Reason: types.RejectSelfTradeGuard}
	}
	if consumedSize < g.cfg.MinSize {
		return Decision{Reason: types.RejectSizeBelowMin}
	}
	if b.Crossed() {
		return Decision{Reason: types.RejectStaleBook}
	}

	bids, asks := b.DepthAtLevels(g.cfg.MinDepthLevels)
	if len(bids) < g.cfg.MinDepthLevels || len(asks) < g.cfg.MinDepthLevels {
		return Decision{Reason: types.RejectQueueAheadUnknown}
	}

	// QueueProof: size_ahead at this level must be resolvable. If the
	// order isn't found in the queue at all, its position is unknown.
	sizeAhead, found := qm.SizeAhead(tokenID, price, orderID)
	if !found {
		return Decision{Reason: types.RejectQueueAheadUnknown}
	}
	if sizeAhead > consumedSize {
		// Not enough of the trade's volume reached our position yet.
		return Decision{Reason: types.RejectQueueAheadUnknown}
	}

	// CancelRaceProof + the actual FIFO consumption (which performs the
	// race adjudication) happen together: ConsumeTrade resolves every one
	// of our entries the trade touches against any pending cancel.
	residual := consumedSize - sizeAhead
	results := qm.ConsumeTrade(tokenID, price, sizeAhead+residual, tradeTime, g.cfg.CancelLatencyMargin)

	var filled types.Size
	ambiguous := true
	for _, r := range results {
		if r.OrderID != orderID {
			continue
		}
		ambiguous = false
		if r.Outcome == types.RaceFillWon {
			filled = r.Filled
		}
	}
	if ambiguous {
		return Decision{Reason: types.RejectCancelRaceAmbiguous}
	}
	if filled == 0 {
		// The cancel won the race; no fill is admitted, but this is not a
		// rejection in the error sense — the caller distinguishes a
		// Decision{Admitted:false} with no Reason from an actual gate
		// rejection by checking filled==0 && Reason=="".
		return Decision{}
	}
	return Decision{Admitted: true, Filled: filled}
}
