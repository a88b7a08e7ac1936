package orchestrator

import (
	"testing"

	"github.com/rs/zerolog"

	"clobbacktest/internal/config"
	"clobbacktest/internal/feed"
	"clobbacktest/internal/oms"
	"clobbacktest/internal/strategy"
	"clobbacktest/internal/trustgate"
	"clobbacktest/pkg/types"
)

// fakeFeed replays a fixed in-memory slice of records, satisfying
// feed.DataFeed without touching disk.
type fakeFeed struct {
	records []feed.Record
	pos     int
}

func (f *fakeFeed) Next() (feed.Record, bool, error) {
	if f.pos >= len(f.records) {
		return feed.Record{}, false, nil
	}
	rec := f.records[f.pos]
	f.pos++
	return rec, true, nil
}

func (f *fakeFeed) Close() error { return nil }

func level(price, size string) types.RawLevel {
	return types.RawLevel{Price: price, Size: size}
}

// sampleRecords builds a tiny but complete dataset: an initial snapshot, a
// delta that narrows the spread, a trade print against our own resting bid,
// and a settlement tick, all for one token.
func sampleRecords() []feed.Record {
	arrival := int64(0)
	return []feed.Record{
		{
			Kind: feed.KindSnapshot,
			Snapshot: &types.RawSnapshotRecord{
				TokenID:     "tok-1",
				ExchangeSeq: 1,
				ExchangeTS:  "1000000000",
				ArrivalNs:   &arrival,
				Bids:        []types.RawLevel{level("0.40", "100")},
				Asks:        []types.RawLevel{level("0.42", "100")},
			},
		},
		{
			Kind: feed.KindDelta,
			Delta: &types.RawDeltaRecord{
				TokenID:     "tok-1",
				ExchangeSeq: 2,
				ExchangeTS:  "2000000000",
				ArrivalNs:   &arrival,
				BidUpdates:  []types.RawLevel{level("0.41", "100")},
				AskUpdates:  []types.RawLevel{level("0.42", "100")},
			},
		},
		{
			Kind: feed.KindTrade,
			Trade: &types.RawTradeRecord{
				TokenID:   "tok-1",
				Price:     "0.41",
				Size:      "50",
				Side:      types.Sell,
				TS:        "3000000000",
				TradeID:   "t-1",
				ArrivalNs: &arrival,
			},
		},
		{
			Kind: feed.KindSettlement,
			Settlement: &types.RawSettlementRecord{
				FeedID:          "tok-1",
				RoundID:         1,
				Answer:          "1",
				UpdatedAt:       "4000000000",
				AnsweredInRound: 1,
				ArrivalNs:       4000000000,
			},
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Seed:            7,
		InitialBankroll: 1000 * types.AmountScale,
		KellyFraction:   0.5,
		StartTime:       0,
		EndTime:         0,
		MaxPositions:    10,
		ArrivalPolicy:   types.ArrivalRecorded,
		QueueModel:      "fifo",
		AccountingMode:  types.AccountingRelaxed,
		HermeticMode:    types.HermeticEnforced,
		SettlementSpec: config.SettlementSpecConfig{
			ReferenceRule:         types.RuleLastUpdateAtOrBeforeCutoff,
			RoundingRule:          types.RoundNearest,
			TieRule:               types.TieYesWins,
			RepresentativenessMin: 1,
		},
		TrustThresholds: []trustgate.Threshold{
			{Probe: trustgate.ProbeDoNothing, MaxAbsNetPnL: 10 * types.AmountScale},
			{Probe: trustgate.ProbeZeroEdge, MaxNetPnL: 1000 * types.AmountScale},
		},
		Venue: config.VenueConfig{
			TickSize:              1,
			MinSize:               1,
			SelfTradeMode:         oms.SelfTradeCancelNewest,
			RateLimitPerS:         100,
			MakerRebateBps:        0,
			TakerFeeBps:           0,
			CancelLatencyMarginNs: 1_000_000,
		},
		Store: config.StoreConfig{DataDir: "unused"},
	}
}

func newTestOrchestrator() *Orchestrator {
	return New(testConfig(), [16]byte{1}, [16]byte{2}, [16]byte{3}, zerolog.Nop())
}

func newMakerUnderTest() strategy.Strategy {
	return strategy.NewMaker(strategy.MakerConfig{
		Gamma:          0.1,
		Sigma:          0.02,
		K:              1.5,
		T:              1.0,
		MinSpreadTicks: 1,
		OrderSize:      10 * types.AmountScale,
		MaxInventory:   100 * types.AmountScale,
	})
}

func TestLoadEventsOrdersCausally(t *testing.T) {
	o := newTestOrchestrator()
	df := &fakeFeed{records: sampleRecords()}

	events, guard, err := o.loadEvents(df)
	if err != nil {
		t.Fatalf("loadEvents: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("len(events) = %d, want 4", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].ArrivalTime < events[i-1].ArrivalTime {
			t.Errorf("events out of causal order at %d: %d < %d", i, events[i].ArrivalTime, events[i-1].ArrivalTime)
		}
	}
	if got := guard.DefectRate(int64(len(events))); got != 0 {
		t.Errorf("DefectRate = %v, want 0", got)
	}
}

func TestRunProducesDeterministicArtifact(t *testing.T) {
	o := newTestOrchestrator()

	run := func() runResult {
		df := &fakeFeed{records: sampleRecords()}
		artifact, err := o.Run(newMakerUnderTest(), df)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return runResult{
			behaviorHash: artifact.Fingerprint.BehaviorHash,
			runID:        artifact.Manifest.RunID,
			trust:        artifact.TrustDecisionTier,
		}
	}

	first := run()
	second := run()

	if first.behaviorHash != second.behaviorHash {
		t.Errorf("behavior hash not stable across identical runs: %s vs %s", first.behaviorHash, second.behaviorHash)
	}
	if first.runID != second.runID {
		t.Errorf("run id not stable across identical runs: %s vs %s", first.runID, second.runID)
	}
	if first.trust == "" {
		t.Error("trust decision tier is empty")
	}
}

type runResult struct {
	behaviorHash string
	runID        string
	trust        types.TrustDecision
}

// sellFillRecords mirrors sampleRecords but its trade print is a Buy-side
// aggressor consuming the ask at 0.42, i.e. a fill against one of our own
// resting SELL orders — the side postFillLedgerEntry previously mishandled
// (a sell fill's Position posting summed to 2*notional instead of zero).
func sellFillRecords() []feed.Record {
	arrival := int64(0)
	return []feed.Record{
		{
			Kind: feed.KindSnapshot,
			Snapshot: &types.RawSnapshotRecord{
				TokenID:     "tok-1",
				ExchangeSeq: 1,
				ExchangeTS:  "1000000000",
				ArrivalNs:   &arrival,
				Bids:        []types.RawLevel{level("0.40", "100")},
				Asks:        []types.RawLevel{level("0.42", "100")},
			},
		},
		{
			Kind: feed.KindDelta,
			Delta: &types.RawDeltaRecord{
				TokenID:     "tok-1",
				ExchangeSeq: 2,
				ExchangeTS:  "2000000000",
				ArrivalNs:   &arrival,
				BidUpdates:  []types.RawLevel{level("0.40", "100")},
				AskUpdates:  []types.RawLevel{level("0.42", "100")},
			},
		},
		{
			Kind: feed.KindTrade,
			Trade: &types.RawTradeRecord{
				TokenID:   "tok-1",
				Price:     "0.42",
				Size:      "50",
				Side:      types.Buy,
				TS:        "3000000000",
				TradeID:   "t-1",
				ArrivalNs: &arrival,
			},
		},
		{
			Kind: feed.KindSettlement,
			Settlement: &types.RawSettlementRecord{
				FeedID:          "tok-1",
				RoundID:         1,
				Answer:          "1",
				UpdatedAt:       "4000000000",
				AnsweredInRound: 1,
				ArrivalNs:       4000000000,
			},
		},
	}
}

// TestStrictAccountingAcceptsSellFill is the regression test for the ledger
// zero-sum bug in postFillLedgerEntry: under AccountingMode::Strict, a
// non-zero-sum posting aborts Run with a ledger.Invariant error (see
// ledger.Append). Before the fix, any fill against one of our resting SELL
// orders produced Position = +notional instead of -notional, so the entry
// summed to 2*notional and Run failed here.
func TestStrictAccountingAcceptsSellFill(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AccountingMode = types.AccountingStrict
	o := New(cfg, [16]byte{1}, [16]byte{2}, [16]byte{3}, zerolog.Nop())

	df := &fakeFeed{records: sellFillRecords()}
	if _, err := o.Run(newMakerUnderTest(), df); err != nil {
		t.Fatalf("Run under AccountingStrict: %v (ledger postings did not sum to zero on a sell fill)", err)
	}
}
