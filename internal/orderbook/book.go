// Package orderbook maintains the L2 order book for every token in the
// dataset (spec.md §4.5). It replaces the teacher's REST/WebSocket Book
// mirror (previously internal/market.Book) with snapshot+delta application
// over the canonical TimestampedEvent stream, and adds the crossed-book and
// sequence-gap detection spec.md §3/§8 require.
package orderbook

import (
	"sort"

	"clobbacktest/pkg/types"
)

// level is one price level: Size == 0 means the level has been removed.
type level struct {
	Price types.Tick
	Size  types.Size
}

// Book mirrors the L2 book for one token. It is owned exclusively by the
// orchestrator; there is no internal locking because the replay loop is
// single-threaded (spec.md §5).
type Book struct {
	tokenID     string
	bids        map[types.Tick]types.Size
	asks        map[types.Tick]types.Size
	lastSeq     int64
	haveSeq     bool
	lastUpdate  types.Nanos
	updateCount int64
	crossed     bool
}

// New creates an empty book for tokenID.
func New(tokenID string) *Book {
	return &Book{
		tokenID: tokenID,
		bids:    make(map[types.Tick]types.Size),
		asks:    make(map[types.Tick]types.Size),
	}
}

// TokenID returns the token this book mirrors.
func (b *Book) TokenID() string { return b.tokenID }

// ApplySnapshot clears existing state and installs bids/asks wholesale
// (spec.md §4.5 apply_snapshot). Size == 0 levels are omitted.
func (b *Book) ApplySnapshot(bids, asks []types.LevelUpdate, seq int64, ts types.Nanos) {
	b.bids = make(map[types.Tick]types.Size, len(bids))
	b.asks = make(map[types.Tick]types.Size, len(asks))
	for _, lv := range bids {
		if lv.Size > 0 {
			b.bids[lv.Price] = lv.Size
		}
	}
	for _, lv := range asks {
		if lv.Size > 0 {
			b.asks[lv.Price] = lv.Size
		}
	}
	b.lastSeq = seq
	b.haveSeq = true
	b.lastUpdate = ts
	b.updateCount++
	b.recomputeCrossed()
}

// DeltaResult reports what ApplyDelta observed about sequencing, so the
// caller (Normalizer/IntegrityGuard already screens gaps upstream, but the
// book independently re-checks the seq it actually applies) can react.
type DeltaResult struct {
	Gap     bool // seq skipped one or more updates
	Crossed bool // book is crossed after this delta
}

// ApplyDelta applies incremental bid/ask updates; a Size of 0 removes the
// level (spec.md §3, §4.5). Per spec.md §3, a delta whose seq does not
// equal lastSeq+1 is flagged as a gap, but is still applied — upstream
// resync policy (feed.IntegrityGuard) is what decides whether to drop it
// before it ever reaches the book.
func (b *Book) ApplyDelta(bidUpdates, askUpdates []types.LevelUpdate, seq int64, ts types.Nanos) DeltaResult {
	gap := b.haveSeq && seq != b.lastSeq+1
	for _, lv := range bidUpdates {
		if lv.Size <= 0 {
			delete(b.bids, lv.Price)
		} else {
			b.bids[lv.Price] = lv.Size
		}
	}
	for _, lv := range askUpdates {
		if lv.Size <= 0 {
			delete(b.asks, lv.Price)
		} else {
			b.asks[lv.Price] = lv.Size
		}
	}
	b.lastSeq = seq
	b.haveSeq = true
	b.lastUpdate = ts
	b.updateCount++
	b.recomputeCrossed()
	return DeltaResult{Gap: gap, Crossed: b.crossed}
}

func (b *Book) recomputeCrossed() {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	b.crossed = bidOk && askOk && bid >= ask
}

// Crossed reports whether the book is currently flagged as crossed
// (spec.md §3, §8 "no crossed book" property). While crossed, MakerFillGate
// must refuse fills at the offending level until the book is repaired.
func (b *Book) Crossed() bool { return b.crossed }

// BestBid returns the highest bid price, if any.
func (b *Book) BestBid() (types.Tick, bool) {
	best, ok := types.Tick(0), false
	for p := range b.bids {
		if !ok || p > best {
			best, ok = p, true
		}
	}
	return best, ok
}

// BestAsk returns the lowest ask price, if any.
func (b *Book) BestAsk() (types.Tick, bool) {
	best, ok := types.Tick(0), false
	for p := range b.asks {
		if !ok || p < best {
			best, ok = p, true
		}
	}
	return best, ok
}

// MidTimesTwo returns (bid+ask)/2 in ticks*2 fixed units (to avoid a float), and
// whether both sides are populated. Callers needing a float for a metric
// (never for a fingerprinted value) divide by 2.0 themselves.
func (b *Book) MidTimesTwo() (int32, bool) {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	if !bidOk || !askOk {
		return 0, false
	}
	return int32(bid) + int32(ask), true
}

// Spread returns ask-bid in ticks, and whether both sides are populated.
func (b *Book) Spread() (types.Tick, bool) {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	if !bidOk || !askOk {
		return 0, false
	}
	return ask - bid, true
}

// DepthLevel is one level of a depth snapshot, sorted toward the touch.
type DepthLevel struct {
	Price types.Tick
	Size  types.Size
}

// DepthAtLevels returns up to n price levels per side, best price first.
func (b *Book) DepthAtLevels(n int) (bids, asks []DepthLevel) {
	bids = sortedLevels(b.bids, true, n)
	asks = sortedLevels(b.asks, false, n)
	return bids, asks
}

func sortedLevels(m map[types.Tick]types.Size, desc bool, n int) []DepthLevel {
	out := make([]DepthLevel, 0, len(m))
	for p, s := range m {
		out = append(out, DepthLevel{Price: p, Size: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Imbalance returns (bidDepth-askDepth)/(bidDepth+askDepth) over the top n
// levels, scaled by 1e6 (fixed-point, range [-1e6, 1e6]). Returns 0 if both
// sides are empty.
func (b *Book) Imbalance(n int) int64 {
	bids, asks := b.DepthAtLevels(n)
	var bidSize, askSize int64
	for _, lv := range bids {
		bidSize += int64(lv.Size)
	}
	for _, lv := range asks {
		askSize += int64(lv.Size)
	}
	total := bidSize + askSize
	if total == 0 {
		return 0
	}
	return (bidSize - askSize) * 1_000_000 / total
}

// SimulateMarketImpact walks the opposing side of the book to estimate the
// average fill price for a hypothetical order of the given size, without
// mutating book state (spec.md §4.5). Returns the volume-weighted average
// price (in whole ticks, truncated toward zero) and the size actually fillable
// at current depth (may be less than requested if the book is thin).
func (b *Book) SimulateMarketImpact(side types.Side, size types.Size) (avgPriceFP int64, filled types.Size) {
	var levels []DepthLevel
	if side == types.Buy {
		levels = sortedLevels(b.asks, false, 0)
	} else {
		levels = sortedLevels(b.bids, true, 0)
	}

	remaining := size
	var notional int64
	for _, lv := range levels {
		if remaining <= 0 {
			break
		}
		take := lv.Size
		if take > remaining {
			take = remaining
		}
		notional += int64(lv.Price) * int64(take)
		filled += take
		remaining -= take
	}
	if filled == 0 {
		return 0, 0
	}
	return notional / int64(filled), filled
}

// LastUpdate returns the arrival time of the last applied snapshot/delta.
func (b *Book) LastUpdate() types.Nanos { return b.lastUpdate }

// UpdateCount returns how many snapshots/deltas have been applied.
func (b *Book) UpdateCount() int64 { return b.updateCount }

// LastSeq returns the exchange sequence number of the last applied update.
func (b *Book) LastSeq() int64 { return b.lastSeq }

// Manager owns one Book per token, created lazily on first reference.
type Manager struct {
	books map[string]*Book
}

// NewManager creates an empty book manager.
func NewManager() *Manager {
	return &Manager{books: make(map[string]*Book)}
}

// Book returns the book for tokenID, creating it if this is the first
// reference.
func (m *Manager) Book(tokenID string) *Book {
	b, ok := m.books[tokenID]
	if !ok {
		b = New(tokenID)
		m.books[tokenID] = b
	}
	return b
}

// Tokens returns every token currently tracked, for iteration at shutdown
// (e.g. closing out open positions against last-known mids).
func (m *Manager) Tokens() []string {
	out := make([]string, 0, len(m.books))
	for t := range m.books {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
