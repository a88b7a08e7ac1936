package portfolio

import (
	"testing"

	"clobbacktest/pkg/types"
)

func TestApplyFillOpensPosition(t *testing.T) {
	t.Parallel()

	p := New(1000 * types.AmountScale)
	p.ApplyFill("tok1", types.Buy, 40*types.AmountScale/100, 10*types.AmountScale, 0)

	if got := p.Size("tok1"); got != 10*types.AmountScale {
		t.Errorf("Size = %d, want %d", got, 10*types.AmountScale)
	}
	wantCash := types.AmountFP(1000*types.AmountScale) - 4*types.AmountScale
	if got := p.Cash(); got != wantCash {
		t.Errorf("Cash = %d, want %d", got, wantCash)
	}
}

func TestApplyFillRealizesPnLOnReduction(t *testing.T) {
	t.Parallel()

	p := New(1000 * types.AmountScale)
	// Open long 10 @ 0.40.
	p.ApplyFill("tok1", types.Buy, 40*types.AmountScale/100, 10*types.AmountScale, 0)
	// Close 10 @ 0.50: realized PnL = (0.50-0.40)*10 = 1.0 (one AmountScale unit).
	p.ApplyFill("tok1", types.Sell, 50*types.AmountScale/100, 10*types.AmountScale, 0)

	if got := p.Size("tok1"); got != 0 {
		t.Errorf("Size after full close = %d, want 0", got)
	}
	want := types.AmountFP(1 * types.AmountScale)
	if got := p.Realized("tok1"); got != want {
		t.Errorf("Realized = %d, want %d", got, want)
	}
}

func TestApplyFillFlipsThroughPosition(t *testing.T) {
	t.Parallel()

	p := New(1000 * types.AmountScale)
	p.ApplyFill("tok1", types.Buy, 40*types.AmountScale/100, 10*types.AmountScale, 0)
	// Sell 15: closes the 10 long and opens a 5 short at the fill price.
	p.ApplyFill("tok1", types.Sell, 50*types.AmountScale/100, 15*types.AmountScale, 0)

	if got := p.Size("tok1"); got != -5*types.AmountScale {
		t.Errorf("Size after flip = %d, want %d", got, -5*types.AmountScale)
	}
}

func TestUnrealizedMarksAgainstCurrentPrice(t *testing.T) {
	t.Parallel()

	p := New(1000 * types.AmountScale)
	p.ApplyFill("tok1", types.Buy, 40*types.AmountScale/100, 10*types.AmountScale, 0)

	got := p.Unrealized("tok1", 45*types.AmountScale/100)
	want := types.AmountFP(5 * types.AmountScale / 10)
	if got != want {
		t.Errorf("Unrealized = %d, want %d", got, want)
	}
}

func TestEquitySumsAcrossTokens(t *testing.T) {
	t.Parallel()

	p := New(1000 * types.AmountScale)
	p.ApplyFill("tok1", types.Buy, 40*types.AmountScale/100, 10*types.AmountScale, 0)
	p.ApplyFill("tok2", types.Buy, 20*types.AmountScale/100, 5*types.AmountScale, 0)

	marks := map[string]types.AmountFP{
		"tok1": 40 * types.AmountScale / 100,
		"tok2": 20 * types.AmountScale / 100,
	}
	equity := p.Equity(func(tokenID string) (types.AmountFP, bool) {
		v, ok := marks[tokenID]
		return v, ok
	})
	if equity != p.Cash() {
		t.Errorf("Equity = %d, want %d (marked flat at entry, no unrealized PnL)", equity, p.Cash())
	}
}

func TestWindowAccountingTracksDrawdown(t *testing.T) {
	t.Parallel()

	w := NewWindowAccounting()
	w.Record(100, 1000)
	w.Record(200, 1200)
	pt := w.Record(300, 900)

	if pt.PnL != -300 {
		t.Errorf("PnL = %d, want -300", pt.PnL)
	}
	if pt.Drawdown != 300 {
		t.Errorf("Drawdown = %d, want 300 (peak 1200 - 900)", pt.Drawdown)
	}
	if len(w.Points()) != 3 {
		t.Errorf("len(Points()) = %d, want 3", len(w.Points()))
	}
}
