package strategy

import (
	"math"
	"strconv"

	"clobbacktest/pkg/types"
)

// MakerConfig tunes the Avellaneda-Stoikov market-making algorithm, carried
// over field-for-field from the teacher's StrategyConfig (gamma/sigma/k/T,
// spread floor, order size), minus the live-trading fields (RefreshInterval,
// StaleBookTimeout) that have no meaning once quoting is driven by replayed
// book events instead of a wall-clock ticker.
type MakerConfig struct {
	Gamma            float64
	Sigma            float64
	K                float64
	T                float64
	MinSpreadTicks   types.Tick
	OrderSize        types.Size
	MaxInventory     types.Size
}

// Maker replays the teacher's reservation-price/optimal-spread formula
// (spec.md §9's capability surface, rather than the teacher's ticker-driven
// goroutine): r = mid - q*gamma*sigma^2*T, delta = gamma*sigma^2*T +
// (2/gamma)*ln(1+gamma/k). Inventory skew q is this market's current
// position, normalized by MaxInventory into [-1, 1], exactly mirroring the
// teacher's Inventory.NetDelta role.
type Maker struct {
	cfg       MakerConfig
	clientSeq int
}

// NewMaker creates a reference maker strategy.
func NewMaker(cfg MakerConfig) *Maker {
	return &Maker{cfg: cfg}
}

func (m *Maker) nextClientID() string {
	m.clientSeq++
	return "maker-" + strconv.Itoa(m.clientSeq)
}

// quotes computes (bid, ask) ticks from the current book mid and our
// inventory skew. Returns ok=false if no two-sided mid is available.
func (m *Maker) quotes(ctx DecisionContext) (bid, ask types.Tick, ok bool) {
	midX2, midOK := ctx.Book.MidTimesTwo()
	if !midOK {
		return 0, 0, false
	}
	mid := float64(midX2) / 2.0

	var q float64
	if m.cfg.MaxInventory > 0 {
		q = float64(ctx.Inventory) / float64(m.cfg.MaxInventory)
		q = math.Max(-1, math.Min(1, q))
	}

	gamma, sigma, k, T := m.cfg.Gamma, m.cfg.Sigma, m.cfg.K, m.cfg.T
	reservation := mid - q*gamma*sigma*sigma*T
	optSpread := gamma*sigma*sigma*T + (2.0/gamma)*math.Log(1+gamma/k)

	if optSpread < float64(m.cfg.MinSpreadTicks) {
		optSpread = float64(m.cfg.MinSpreadTicks)
	}

	bidRaw := reservation - optSpread/2
	askRaw := reservation + optSpread/2

	bid = clampTick(bidRaw)
	ask = clampTick(askRaw)
	if ask <= bid {
		ask = bid + 1
	}
	return bid, ask, true
}

func clampTick(v float64) types.Tick {
	t := types.Tick(math.Round(v))
	if t < types.MinTick {
		return types.MinTick
	}
	if t > types.MaxTick {
		return types.MaxTick
	}
	return t
}

// OnBook re-quotes both sides on every book update.
func (m *Maker) OnBook(ctx DecisionContext) []StrategyAction {
	bid, ask, ok := m.quotes(ctx)
	if !ok {
		return nil
	}
	return []StrategyAction{
		{Kind: ActionPlaceOrder, ClientID: m.nextClientID(), Side: types.Buy, Price: bid, Size: m.cfg.OrderSize, PostOnly: true},
		{Kind: ActionPlaceOrder, ClientID: m.nextClientID(), Side: types.Sell, Price: ask, Size: m.cfg.OrderSize, PostOnly: true},
	}
}

// OnTrade does not react directly to external trade prints; the maker only
// re-quotes from book state and its own fills.
func (m *Maker) OnTrade(ctx DecisionContext, trade types.TradePayload) []StrategyAction { return nil }

// OnAck takes no action; acknowledgement is informational.
func (m *Maker) OnAck(ctx DecisionContext, orderID string) []StrategyAction { return nil }

// OnFill re-quotes to reflect the new inventory skew.
func (m *Maker) OnFill(ctx DecisionContext, orderID string, side types.Side, price types.Tick, size types.Size) []StrategyAction {
	return m.OnBook(ctx)
}

// OnTimer does nothing for the reference maker; it has no periodic
// housekeeping beyond what book/fill events already trigger.
func (m *Maker) OnTimer(ctx DecisionContext, kind string) []StrategyAction { return nil }
