// Package portfolio tracks per-token position and realized/unrealized P&L
// in fixed-point integers, and the window-aligned equity curve spec.md
// §2/§4.13 requires. It generalizes the teacher's strategy.Inventory
// (float YES/NO quantities, average entry price, NetDelta skew) to an
// arbitrary number of tokens with AmountFP/Size fixed-point arithmetic, so
// no P&L figure that could feed a fingerprint or RunArtifact ever
// round-trips through a float.
package portfolio

import (
	"clobbacktest/pkg/types"
)

// position is the per-token running state: size is signed (positive = long,
// negative = short); avgEntryFP is the fixed-point average entry price per
// unit, scaled the same way AmountFP is.
type position struct {
	size       types.Size
	avgEntryFP types.AmountFP
	realized   types.AmountFP
}

// Portfolio owns every token position and the realized-P&L ledger feed;
// unrealized P&L is computed on demand against a supplied mark.
type Portfolio struct {
	positions map[string]*position
	bankroll  types.AmountFP // starting cash, fixed point
	cash      types.AmountFP
}

// New creates a Portfolio starting from initialBankroll (spec.md §6
// "initial_bankroll").
func New(initialBankroll types.AmountFP) *Portfolio {
	return &Portfolio{
		positions: make(map[string]*position),
		bankroll:  initialBankroll,
		cash:      initialBankroll,
	}
}

func (p *Portfolio) pos(tokenID string) *position {
	ps, ok := p.positions[tokenID]
	if !ok {
		ps = &position{}
		p.positions[tokenID] = ps
	}
	return ps
}

// ApplyFill updates the position for tokenID with a fill of size at price
// (in AmountFP per unit), realizing P&L on any reduction and updating cash.
// fee is signed: positive is paid out of cash, negative (a maker rebate) is
// paid into cash.
func (p *Portfolio) ApplyFill(tokenID string, side types.Side, priceFP types.AmountFP, size types.Size, fee types.AmountFP) {
	ps := p.pos(tokenID)
	signedSize := int64(size)
	if side == types.Sell {
		signedSize = -signedSize
	}

	switch {
	case ps.size == 0 || sameSign(ps.size, types.Size(signedSize)):
		// Opening or adding to a position: blend the average entry price.
		totalCost := int64(ps.avgEntryFP)*abs64(int64(ps.size)) + int64(priceFP)*abs64(signedSize)
		ps.size += types.Size(signedSize)
		if ps.size != 0 {
			ps.avgEntryFP = types.AmountFP(totalCost / abs64(int64(ps.size)))
		}
	default:
		// Reducing (or flipping through) a position: realize P&L on the
		// portion that closes out the existing side, then open any
		// remainder fresh at the fill price.
		existingSign := sign(ps.size)
		closing := abs64(signedSize)
		existing := abs64(int64(ps.size))
		if closing > existing {
			closing = existing
		}
		var pnlPerUnit int64
		if existingSign > 0 {
			pnlPerUnit = int64(priceFP) - int64(ps.avgEntryFP)
		} else {
			pnlPerUnit = int64(ps.avgEntryFP) - int64(priceFP)
		}
		ps.realized += types.AmountFP(pnlPerUnit * closing / types.AmountScale)

		flipRemainder := abs64(signedSize) - closing
		ps.size += types.Size(signedSize)
		if ps.size == 0 {
			ps.avgEntryFP = 0
		} else if flipRemainder > 0 {
			// The fill fully closed the old side and opened a new one in
			// the opposite direction with the remainder.
			ps.avgEntryFP = priceFP
		}
	}

	notional := int64(priceFP) * int64(size) / types.AmountScale
	if side == types.Buy {
		p.cash -= types.AmountFP(notional)
	} else {
		p.cash += types.AmountFP(notional)
	}
	p.cash -= fee
}

func sameSign(a types.Size, b types.Size) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func sign(a types.Size) int {
	switch {
	case a > 0:
		return 1
	case a < 0:
		return -1
	default:
		return 0
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Size returns the current signed position size for tokenID.
func (p *Portfolio) Size(tokenID string) types.Size {
	return p.pos(tokenID).size
}

// Realized returns cumulative realized P&L for tokenID.
func (p *Portfolio) Realized(tokenID string) types.AmountFP {
	return p.pos(tokenID).realized
}

// Unrealized computes mark-to-market P&L for tokenID against markFP (the
// current mid or settlement price, in AmountFP per unit).
func (p *Portfolio) Unrealized(tokenID string, markFP types.AmountFP) types.AmountFP {
	ps := p.pos(tokenID)
	if ps.size == 0 {
		return 0
	}
	var pnlPerUnit int64
	if ps.size > 0 {
		pnlPerUnit = int64(markFP) - int64(ps.avgEntryFP)
	} else {
		pnlPerUnit = int64(ps.avgEntryFP) - int64(markFP)
	}
	return types.AmountFP(pnlPerUnit * abs64(int64(ps.size)) / types.AmountScale)
}

// Cash returns current cash balance.
func (p *Portfolio) Cash() types.AmountFP { return p.cash }

// Equity computes total account equity: cash plus unrealized P&L across
// every token, marked using the marks function supplied by the caller
// (typically the current book mid or, at window close, the settlement
// price).
func (p *Portfolio) Equity(marks func(tokenID string) (types.AmountFP, bool)) types.AmountFP {
	total := p.cash
	for tokenID, ps := range p.positions {
		if ps.size == 0 {
			continue
		}
		mark, ok := marks(tokenID)
		if !ok {
			continue
		}
		total += p.Unrealized(tokenID, mark)
	}
	return total
}

// Tokens returns every token with a tracked position.
func (p *Portfolio) Tokens() []string {
	out := make([]string, 0, len(p.positions))
	for t := range p.positions {
		out = append(out, t)
	}
	return out
}

// WindowPoint is one sample of the equity curve at a window boundary
// (spec.md §2 Portfolio/WindowAccounting, §6 RunArtifact time_series).
type WindowPoint struct {
	WindowEnd types.Nanos
	Equity    types.AmountFP
	PnL       types.AmountFP // change in equity since the previous point
	Drawdown  types.AmountFP // peak-to-trough decline in equity as of this point
}

// WindowAccounting accumulates the equity curve and drawdown series across
// successive settlement/accounting windows.
type WindowAccounting struct {
	points []WindowPoint
	peak   types.AmountFP
	havePeak bool
}

// NewWindowAccounting creates an empty window-accounting series.
func NewWindowAccounting() *WindowAccounting {
	return &WindowAccounting{}
}

// Record appends one window's closing equity, deriving window P&L (vs. the
// prior point) and running drawdown (vs. the running peak).
func (w *WindowAccounting) Record(windowEnd types.Nanos, equity types.AmountFP) WindowPoint {
	var pnl types.AmountFP
	if len(w.points) > 0 {
		pnl = equity - w.points[len(w.points)-1].Equity
	} else {
		pnl = equity
	}
	if !w.havePeak || equity > w.peak {
		w.peak = equity
		w.havePeak = true
	}
	drawdown := w.peak - equity
	pt := WindowPoint{WindowEnd: windowEnd, Equity: equity, PnL: pnl, Drawdown: drawdown}
	w.points = append(w.points, pt)
	return pt
}

// Points returns the full recorded equity/drawdown series.
func (w *WindowAccounting) Points() []WindowPoint { return w.points }
