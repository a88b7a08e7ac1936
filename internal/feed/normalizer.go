package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"clobbacktest/pkg/types"
)

// tickDivisor converts a [0,1] decimal price into an integer tick: prices
// are quoted in cents (tick size 0.01), so tick = round(price * 100).
var tickDivisor = decimal.NewFromInt(100)

// Normalizer converts raw dataset records into canonical TimestampedEvents,
// enforcing the validation and sequence-gap policy of spec.md §4.2. It uses
// shopspring/decimal to parse untrusted numeric fields (which may arrive as
// a JSON string or a JSON number) exactly, before rounding to the integer
// tick/fixed-point domain the rest of the engine operates in — no float
// ever touches a value that will feed a fingerprint.
type Normalizer struct {
	policy  ArrivalPolicy
	guard   *IntegrityGuard
	maxGap  int64
}

// NewNormalizer builds a Normalizer. maxGap is the per-token sequence gap
// threshold beyond which a token is marked PendingResync (spec.md §4.2).
func NewNormalizer(policy ArrivalPolicy, maxGap int64) *Normalizer {
	return &Normalizer{
		policy: policy,
		guard:  NewIntegrityGuard(),
		maxGap: maxGap,
	}
}

// Guard exposes the integrity counters for the methodology capsule / defect
// rate check.
func (n *Normalizer) Guard() *IntegrityGuard { return n.guard }

// Normalize converts one raw Record into zero or one TimestampedEvent.
// Zero events are returned (ok=false, err=nil) for records dropped by the
// sequence-gap policy (stale/duplicate deltas while PendingResync).
func (n *Normalizer) Normalize(rec Record) (types.TimestampedEvent, bool, error) {
	switch rec.Kind {
	case KindSnapshot:
		return n.normalizeSnapshot(rec.Snapshot)
	case KindDelta:
		return n.normalizeDelta(rec.Delta)
	case KindTrade:
		return n.normalizeTrade(rec.Trade)
	case KindSettlement:
		return n.normalizeSettlement(rec.Settlement)
	default:
		return types.TimestampedEvent{}, false, fmt.Errorf("normalizer: unknown record kind %d", rec.Kind)
	}
}

func (n *Normalizer) normalizeSnapshot(r *types.RawSnapshotRecord) (types.TimestampedEvent, bool, error) {
	srcTime, err := parseTimestamp(r.ExchangeTS)
	if err != nil {
		n.guard.TimestampIssues++
		return types.TimestampedEvent{}, false, fmt.Errorf("normalizer: snapshot timestamp: %w", err)
	}

	bids, err := n.normalizeLevels(r.Bids)
	if err != nil {
		return types.TimestampedEvent{}, false, err
	}
	asks, err := n.normalizeLevels(r.Asks)
	if err != nil {
		return types.TimestampedEvent{}, false, err
	}
	if len(bids) > 0 && len(asks) > 0 && bids[0].Price >= asks[0].Price {
		n.guard.CrossedBooks++
	}

	n.guard.ResetToken(r.TokenID, r.ExchangeSeq)

	arrival, err := n.policy.Arrival(srcTime, r.ArrivalNs)
	if err != nil {
		return types.TimestampedEvent{}, false, err
	}
	if arrival < srcTime {
		arrival = srcTime
	}

	return types.TimestampedEvent{
		ArrivalTime: arrival,
		SourceTime:  srcTime,
		SourceID:    r.TokenID,
		Priority:    types.PrioritySnapshot,
		Payload: types.Payload{Snapshot: &types.SnapshotPayload{
			TokenID: r.TokenID,
			Seq:     r.ExchangeSeq,
			Bids:    bids,
			Asks:    asks,
		}},
	}, true, nil
}

func (n *Normalizer) normalizeDelta(r *types.RawDeltaRecord) (types.TimestampedEvent, bool, error) {
	srcTime, err := parseTimestamp(r.ExchangeTS)
	if err != nil {
		n.guard.TimestampIssues++
		return types.TimestampedEvent{}, false, fmt.Errorf("normalizer: delta timestamp: %w", err)
	}

	action := n.guard.CheckSeq(r.TokenID, r.ExchangeSeq, n.maxGap)
	switch action {
	case seqDuplicateOrOld:
		n.guard.DuplicatesDropped++
		return types.TimestampedEvent{}, false, nil
	case seqPendingResync:
		n.guard.DeltasDroppedResync++
		return types.TimestampedEvent{}, false, nil
	case seqGapRecorded:
		n.guard.Gaps++
	}

	bidUpdates, err := n.normalizeLevels(r.BidUpdates)
	if err != nil {
		return types.TimestampedEvent{}, false, err
	}
	askUpdates, err := n.normalizeLevels(r.AskUpdates)
	if err != nil {
		return types.TimestampedEvent{}, false, err
	}

	arrival, err := n.policy.Arrival(srcTime, r.ArrivalNs)
	if err != nil {
		return types.TimestampedEvent{}, false, err
	}
	if arrival < srcTime {
		arrival = srcTime
	}

	return types.TimestampedEvent{
		ArrivalTime: arrival,
		SourceTime:  srcTime,
		SourceID:    r.TokenID,
		Priority:    types.PriorityDelta,
		Payload: types.Payload{Delta: &types.DeltaPayload{
			TokenID:    r.TokenID,
			Seq:        r.ExchangeSeq,
			BidUpdates: bidUpdates,
			AskUpdates: askUpdates,
		}},
	}, true, nil
}

func (n *Normalizer) normalizeTrade(r *types.RawTradeRecord) (types.TimestampedEvent, bool, error) {
	srcTime, err := parseTimestamp(r.TS)
	if err != nil {
		n.guard.TimestampIssues++
		return types.TimestampedEvent{}, false, fmt.Errorf("normalizer: trade timestamp: %w", err)
	}

	tick, err := priceToTick(r.Price)
	if err != nil {
		n.guard.InvalidPrices++
		return types.TimestampedEvent{}, false, err
	}
	size, err := parseSize(r.Size)
	if err != nil {
		n.guard.NegativeSizes++
		return types.TimestampedEvent{}, false, err
	}

	arrival, err := n.policy.Arrival(srcTime, r.ArrivalNs)
	if err != nil {
		return types.TimestampedEvent{}, false, err
	}
	if arrival < srcTime {
		arrival = srcTime
	}

	return types.TimestampedEvent{
		ArrivalTime: arrival,
		SourceTime:  srcTime,
		SourceID:    r.TokenID,
		Priority:    types.PriorityTradePrint,
		Payload: types.Payload{Trade: &types.TradePayload{
			TokenID: r.TokenID,
			Price:   tick,
			Size:    size,
			Side:    r.Side,
			TradeID: r.TradeID,
		}},
	}, true, nil
}

func (n *Normalizer) normalizeSettlement(r *types.RawSettlementRecord) (types.TimestampedEvent, bool, error) {
	srcTime, err := parseTimestamp(r.UpdatedAt)
	if err != nil {
		n.guard.TimestampIssues++
		return types.TimestampedEvent{}, false, fmt.Errorf("normalizer: settlement timestamp: %w", err)
	}
	tick, err := priceToTick(r.Answer)
	if err != nil {
		n.guard.InvalidPrices++
		return types.TimestampedEvent{}, false, err
	}

	// Settlement records always carry a trusted ingest arrival (spec.md §6);
	// the arrival policy never fabricates one for this stream, since the
	// outcome_knowable_rule hinges on it being authoritative.
	arrival := types.Nanos(r.ArrivalNs)
	if arrival < srcTime {
		arrival = srcTime
	}

	return types.TimestampedEvent{
		ArrivalTime: arrival,
		SourceTime:  srcTime,
		SourceID:    r.FeedID,
		Priority:    types.PrioritySettlement,
		Payload: types.Payload{Settlement: &types.SettlementPayload{
			FeedID:          r.FeedID,
			RoundID:         r.RoundID,
			Answer:          tick,
			AnsweredInRound: r.AnsweredInRound,
		}},
	}, true, nil
}

func (n *Normalizer) normalizeLevels(raw []types.RawLevel) ([]types.LevelUpdate, error) {
	out := make([]types.LevelUpdate, 0, len(raw))
	for _, rl := range raw {
		tick, err := priceToTick(rl.Price)
		if err != nil {
			n.guard.InvalidPrices++
			return nil, err
		}
		size, err := parseSize(rl.Size)
		if err != nil {
			n.guard.NegativeSizes++
			return nil, err
		}
		out = append(out, types.LevelUpdate{Price: tick, Size: size})
	}
	return out, nil
}

// priceToTick parses a [0,1] decimal price string into a Tick.
func priceToTick(raw types.RawNumber) (types.Tick, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("normalizer: invalid price %q: %w", raw, err)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("normalizer: price %s out of range [0,1]", d.String())
	}
	ticks := d.Mul(tickDivisor).Round(0)
	t := types.Tick(ticks.IntPart())
	return t, nil
}

// parseSize parses a non-negative decimal size into fixed-point Size units.
func parseSize(raw types.RawNumber) (types.Size, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("normalizer: invalid size %q: %w", raw, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("normalizer: negative size %s", d.String())
	}
	scaled := d.Mul(decimal.NewFromInt(types.AmountScale)).Round(0)
	return types.Size(scaled.IntPart()), nil
}

// parseTimestamp accepts raw ns, millisecond epoch, or ISO-8601, matching
// spec.md §4.2's "ms / ISO-8601 / raw ns" requirement.
func parseTimestamp(raw string) (types.Nanos, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		switch {
		case n > 1e17: // nanoseconds
			return types.Nanos(n), nil
		case n > 1e14: // microseconds
			return types.Nanos(n * int64(time.Microsecond)), nil
		case n > 1e11: // milliseconds
			return types.Nanos(n * int64(time.Millisecond)), nil
		default: // seconds
			return types.Nanos(n * int64(time.Second)), nil
		}
	}

	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return types.Nanos(t.UnixNano()), nil
	}

	return 0, fmt.Errorf("unrecognized timestamp format %q", raw)
}
