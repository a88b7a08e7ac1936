package strategy

import (
	"testing"

	"clobbacktest/internal/orderbook"
	"clobbacktest/pkg/types"
)

func bookWithMid(t *testing.T, bid, ask types.Tick) *orderbook.Book {
	t.Helper()
	b := orderbook.New("tok-1")
	b.ApplySnapshot(
		[]types.LevelUpdate{{Price: bid, Size: 10}},
		[]types.LevelUpdate{{Price: ask, Size: 10}},
		1, 0,
	)
	return b
}

func TestMakerQuotesBalancedSymmetric(t *testing.T) {
	cfg := MakerConfig{Gamma: 0.5, Sigma: 0.05, K: 1.5, T: 1, MinSpreadTicks: 1, OrderSize: 10, MaxInventory: 100}
	m := NewMaker(cfg)
	ctx := DecisionContext{Book: bookWithMid(t, 49, 51), Inventory: 0}

	actions := m.OnBook(ctx)
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	buy, sell := actions[0], actions[1]
	if buy.Side != types.Buy || sell.Side != types.Sell {
		t.Fatalf("expected buy then sell, got %v then %v", buy.Side, sell.Side)
	}
	if buy.Price >= sell.Price {
		t.Errorf("bid %d should be below ask %d", buy.Price, sell.Price)
	}
	mid := types.Tick(50)
	bidDist := mid - buy.Price
	askDist := sell.Price - mid
	if bidDist != askDist {
		t.Errorf("expected symmetric quotes around mid with zero inventory, got bidDist=%d askDist=%d", bidDist, askDist)
	}
}

func TestMakerQuotesSkewLongInventory(t *testing.T) {
	cfg := MakerConfig{Gamma: 0.5, Sigma: 0.05, K: 1.5, T: 1, MinSpreadTicks: 1, OrderSize: 10, MaxInventory: 100}
	m := NewMaker(cfg)
	ctx := DecisionContext{Book: bookWithMid(t, 49, 51), Inventory: 80}

	actions := m.OnBook(ctx)
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	midpoint := (actions[0].Price + actions[1].Price) / 2
	if midpoint >= 50 {
		t.Errorf("long inventory should skew quotes below mid, got midpoint=%d", midpoint)
	}
}

func TestMakerQuotesNoBookReturnsNil(t *testing.T) {
	cfg := MakerConfig{Gamma: 0.5, Sigma: 0.05, K: 1.5, T: 1, MinSpreadTicks: 1, OrderSize: 10, MaxInventory: 100}
	m := NewMaker(cfg)
	ctx := DecisionContext{Book: orderbook.New("tok-1")}

	if actions := m.OnBook(ctx); actions != nil {
		t.Errorf("expected nil actions with no two-sided book, got %v", actions)
	}
}

func TestDoNothingProbeNeverActs(t *testing.T) {
	p := DoNothingProbe{}
	ctx := DecisionContext{Book: bookWithMid(t, 49, 51)}
	if actions := p.OnBook(ctx); actions != nil {
		t.Errorf("expected no actions, got %v", actions)
	}
	if actions := p.OnFill(ctx, "o1", types.Buy, 50, 10); actions != nil {
		t.Errorf("expected no actions on fill, got %v", actions)
	}
}

func TestZeroEdgeProbeQuotesAtTouch(t *testing.T) {
	p := NewZeroEdgeProbe(10)
	ctx := DecisionContext{Book: bookWithMid(t, 49, 51)}
	actions := p.OnBook(ctx)
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	if actions[0].Price != 49 || actions[1].Price != 51 {
		t.Errorf("expected quotes at the touch, got bid=%d ask=%d", actions[0].Price, actions[1].Price)
	}
}

func TestSignalInverterProbeFlipsSide(t *testing.T) {
	inner := NewZeroEdgeProbe(10)
	p := NewSignalInverterProbe(inner)
	ctx := DecisionContext{Book: bookWithMid(t, 49, 51)}

	original := inner.OnBook(ctx)
	inverted := p.OnBook(ctx)
	if len(original) != len(inverted) {
		t.Fatalf("expected same action count, got %d vs %d", len(original), len(inverted))
	}
	for i := range original {
		if original[i].Side == inverted[i].Side {
			t.Errorf("action %d: expected inverted side, got same side %v", i, original[i].Side)
		}
	}
}

func TestRandomTakerProbeDeterministicUnderSameSeed(t *testing.T) {
	ctx := DecisionContext{Book: bookWithMid(t, 49, 51)}

	p1 := NewRandomTakerProbe(42, 5)
	p2 := NewRandomTakerProbe(42, 5)

	for i := 0; i < 20; i++ {
		a1 := p1.OnBook(ctx)
		a2 := p2.OnBook(ctx)
		if len(a1) != len(a2) {
			t.Fatalf("iteration %d: action count diverged: %d vs %d", i, len(a1), len(a2))
		}
		for j := range a1 {
			if a1[j] != a2[j] {
				t.Fatalf("iteration %d: action %d diverged: %+v vs %+v", i, j, a1[j], a2[j])
			}
		}
	}
}

func TestSyntheticPriceGeneratorProbeStaysInBounds(t *testing.T) {
	p := NewSyntheticPriceGeneratorProbe(7, 50, 10)
	ctx := DecisionContext{Book: bookWithMid(t, 49, 51)}

	for i := 0; i < 200; i++ {
		actions := p.OnBook(ctx)
		for _, a := range actions {
			if !a.Price.Valid() {
				t.Fatalf("iteration %d: price %d out of tick bounds", i, a.Price)
			}
		}
	}
}
