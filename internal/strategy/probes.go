// Probe strategies wrap or replace the final strategy under test so the
// TrustGate GateSuite can replay the recorded market data through each one
// and compare the result against a threshold (spec.md §4.12).
package strategy

import (
	"math/rand"

	"clobbacktest/pkg/types"
)

// DoNothingProbe never places an order. A correct engine must report net
// P&L of zero (plus/minus fee tolerance) when run under it — any other
// result indicates a bug in the ledger/portfolio wiring, not the strategy.
type DoNothingProbe struct{}

func (DoNothingProbe) OnBook(DecisionContext) []StrategyAction                                    { return nil }
func (DoNothingProbe) OnTrade(DecisionContext, types.TradePayload) []StrategyAction                { return nil }
func (DoNothingProbe) OnAck(DecisionContext, string) []StrategyAction                               { return nil }
func (DoNothingProbe) OnFill(DecisionContext, string, types.Side, types.Tick, types.Size) []StrategyAction {
	return nil
}
func (DoNothingProbe) OnTimer(DecisionContext, string) []StrategyAction { return nil }

// RandomTakerProbe crosses the book at a random interval with a seeded PRNG
// — a baseline "dumb money" probe any durably profitable methodology bug
// would show up against (taking liquidity at random should not, on
// average, make money net of fees).
type RandomTakerProbe struct {
	rng       *rand.Rand
	orderSize types.Size
	clientSeq int
}

// NewRandomTakerProbe creates a probe seeded independently of the run's
// main PRNG, so its randomness never perturbs the strategy under test.
func NewRandomTakerProbe(seed int64, orderSize types.Size) *RandomTakerProbe {
	return &RandomTakerProbe{rng: rand.New(rand.NewSource(seed ^ 0x7261)), orderSize: orderSize}
}

func (p *RandomTakerProbe) nextClientID() string {
	p.clientSeq++
	return "probe-random-" + string(rune('a'+p.clientSeq%26))
}

func (p *RandomTakerProbe) OnBook(ctx DecisionContext) []StrategyAction {
	if p.rng.Float64() > 0.1 {
		return nil
	}
	bid, bidOK := ctx.Book.BestBid()
	ask, askOK := ctx.Book.BestAsk()
	if !bidOK || !askOK {
		return nil
	}
	side, price := types.Buy, ask
	if p.rng.Float64() < 0.5 {
		side, price = types.Sell, bid
	}
	return []StrategyAction{{Kind: ActionPlaceOrder, ClientID: p.nextClientID(), Side: side, Price: price, Size: p.orderSize}}
}

func (p *RandomTakerProbe) OnTrade(DecisionContext, types.TradePayload) []StrategyAction { return nil }
func (p *RandomTakerProbe) OnAck(DecisionContext, string) []StrategyAction                { return nil }
func (p *RandomTakerProbe) OnFill(DecisionContext, string, types.Side, types.Tick, types.Size) []StrategyAction {
	return nil
}
func (p *RandomTakerProbe) OnTimer(DecisionContext, string) []StrategyAction { return nil }

// SignalInverterProbe wraps a real strategy and flips the side of every
// order it would place. If the wrapped strategy has genuine predictive
// edge, its inverse should lose money; a methodology that can't tell the
// difference (both the strategy and its inverse look profitable) indicates
// a lookahead or fingerprint bug, not a real edge.
type SignalInverterProbe struct {
	inner Strategy
}

// NewSignalInverterProbe wraps inner, inverting every action it emits.
func NewSignalInverterProbe(inner Strategy) *SignalInverterProbe {
	return &SignalInverterProbe{inner: inner}
}

func invertActions(actions []StrategyAction) []StrategyAction {
	out := make([]StrategyAction, len(actions))
	for i, a := range actions {
		if a.Kind == ActionPlaceOrder {
			a.Side = a.Side.Opposite()
		}
		out[i] = a
	}
	return out
}

func (p *SignalInverterProbe) OnBook(ctx DecisionContext) []StrategyAction {
	return invertActions(p.inner.OnBook(ctx))
}
func (p *SignalInverterProbe) OnTrade(ctx DecisionContext, t types.TradePayload) []StrategyAction {
	return invertActions(p.inner.OnTrade(ctx, t))
}
func (p *SignalInverterProbe) OnAck(ctx DecisionContext, id string) []StrategyAction {
	return invertActions(p.inner.OnAck(ctx, id))
}
func (p *SignalInverterProbe) OnFill(ctx DecisionContext, id string, side types.Side, price types.Tick, size types.Size) []StrategyAction {
	return invertActions(p.inner.OnFill(ctx, id, side, price, size))
}
func (p *SignalInverterProbe) OnTimer(ctx DecisionContext, kind string) []StrategyAction {
	return invertActions(p.inner.OnTimer(ctx, kind))
}

// ZeroEdgeProbe quotes symmetrically at exactly the current mid on both
// sides — a market maker with literally zero informational edge. Over a
// representative dataset it should not show a durable positive P&L beyond
// what pure spread capture plus fees explains.
type ZeroEdgeProbe struct {
	orderSize types.Size
	clientSeq int
}

// NewZeroEdgeProbe creates a zero-edge probe quoting the given order size.
func NewZeroEdgeProbe(orderSize types.Size) *ZeroEdgeProbe {
	return &ZeroEdgeProbe{orderSize: orderSize}
}

func (p *ZeroEdgeProbe) nextClientID() string {
	p.clientSeq++
	return "probe-zero-" + string(rune('a'+p.clientSeq%26))
}

func (p *ZeroEdgeProbe) OnBook(ctx DecisionContext) []StrategyAction {
	bid, bidOK := ctx.Book.BestBid()
	ask, askOK := ctx.Book.BestAsk()
	if !bidOK || !askOK {
		return nil
	}
	return []StrategyAction{
		{Kind: ActionPlaceOrder, ClientID: p.nextClientID(), Side: types.Buy, Price: bid, Size: p.orderSize, PostOnly: true},
		{Kind: ActionPlaceOrder, ClientID: p.nextClientID(), Side: types.Sell, Price: ask, Size: p.orderSize, PostOnly: true},
	}
}
func (p *ZeroEdgeProbe) OnTrade(DecisionContext, types.TradePayload) []StrategyAction { return nil }
func (p *ZeroEdgeProbe) OnAck(DecisionContext, string) []StrategyAction               { return nil }
func (p *ZeroEdgeProbe) OnFill(ctx DecisionContext, id string, side types.Side, price types.Tick, size types.Size) []StrategyAction {
	return p.OnBook(ctx)
}
func (p *ZeroEdgeProbe) OnTimer(DecisionContext, string) []StrategyAction { return nil }

// SyntheticPriceGeneratorProbe replaces the real market mid with a
// synthetic, seeded random-walk price series, so a methodology that is
// somehow profitable against *any* input (e.g. because it leaks future
// data rather than reading the real signal) is caught independent of the
// actual dataset's statistical properties.
type SyntheticPriceGeneratorProbe struct {
	rng       *rand.Rand
	price     float64
	orderSize types.Size
	clientSeq int
}

// NewSyntheticPriceGeneratorProbe creates a probe whose internal synthetic
// mid starts at startTick and random-walks deterministically from seed.
func NewSyntheticPriceGeneratorProbe(seed int64, startTick types.Tick, orderSize types.Size) *SyntheticPriceGeneratorProbe {
	return &SyntheticPriceGeneratorProbe{
		rng:       rand.New(rand.NewSource(seed ^ 0x7370)),
		price:     float64(startTick),
		orderSize: orderSize,
	}
}

func (p *SyntheticPriceGeneratorProbe) nextClientID() string {
	p.clientSeq++
	return "probe-synth-" + string(rune('a'+p.clientSeq%26))
}

func (p *SyntheticPriceGeneratorProbe) OnBook(ctx DecisionContext) []StrategyAction {
	p.price += p.rng.NormFloat64()
	if p.price < float64(types.MinTick) {
		p.price = float64(types.MinTick)
	}
	if p.price > float64(types.MaxTick) {
		p.price = float64(types.MaxTick)
	}
	mid := clampTick(p.price)
	bid, ask := mid-1, mid+1
	if bid < types.MinTick {
		bid = types.MinTick
	}
	if ask > types.MaxTick {
		ask = types.MaxTick
	}
	return []StrategyAction{
		{Kind: ActionPlaceOrder, ClientID: p.nextClientID(), Side: types.Buy, Price: bid, Size: p.orderSize, PostOnly: true},
		{Kind: ActionPlaceOrder, ClientID: p.nextClientID(), Side: types.Sell, Price: ask, Size: p.orderSize, PostOnly: true},
	}
}
func (p *SyntheticPriceGeneratorProbe) OnTrade(DecisionContext, types.TradePayload) []StrategyAction {
	return nil
}
func (p *SyntheticPriceGeneratorProbe) OnAck(DecisionContext, string) []StrategyAction { return nil }
func (p *SyntheticPriceGeneratorProbe) OnFill(ctx DecisionContext, id string, side types.Side, price types.Tick, size types.Size) []StrategyAction {
	return nil
}
func (p *SyntheticPriceGeneratorProbe) OnTimer(DecisionContext, string) []StrategyAction { return nil }
