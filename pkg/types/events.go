package types

// ————————————————————————————————————————————————————————————————————————
// Raw dataset records — external interface (spec.md §6)
// ————————————————————————————————————————————————————————————————————————
// These map 1:1 to the on-disk dataset formats. Numeric fields are declared
// as RawNumber, which is a plain string: in a JSON-lines dataset they must
// be quoted JSON strings, and a bare JSON number fails to decode.

// RawNumber is a numeric value carried as its decimal (or, for timestamps,
// ISO-8601) string. The Normalizer is the only place that interprets it.
type RawNumber = string

// RawLevel is one bid/ask level as it appears on disk, before normalization.
type RawLevel struct {
	Price RawNumber `json:"price"`
	Size  RawNumber `json:"size"`
}

// RawSnapshotRecord is an L2 snapshot record (spec.md §6, format group i).
type RawSnapshotRecord struct {
	TokenID      string     `json:"token_id"`
	ExchangeSeq  int64      `json:"exchange_seq"`
	ExchangeTS   RawNumber  `json:"exchange_ts"` // ms, ISO-8601, or raw ns — Normalizer detects which
	ArrivalNs    *int64     `json:"ingest_arrival_time_ns,omitempty"`
	Bids         []RawLevel `json:"bids"`
	Asks         []RawLevel `json:"asks"`
}

// RawDeltaRecord is an incremental L2 update record.
type RawDeltaRecord struct {
	TokenID     string     `json:"token_id"`
	ExchangeSeq int64      `json:"exchange_seq"`
	ExchangeTS  RawNumber  `json:"exchange_ts"`
	ArrivalNs   *int64     `json:"ingest_arrival_time_ns,omitempty"`
	BidUpdates  []RawLevel `json:"bid_updates"`
	AskUpdates  []RawLevel `json:"ask_updates"`
}

// RawTradeRecord is a trade print (format group ii).
type RawTradeRecord struct {
	TokenID    string    `json:"token_id"`
	Price      RawNumber `json:"price"`
	Size       RawNumber `json:"size"`
	Side       Side      `json:"side"`
	TS         RawNumber `json:"ts"`
	TradeID    string    `json:"trade_id"`
	ArrivalNs  *int64    `json:"ingest_arrival_time_ns,omitempty"`
}

// RawSettlementRecord is a settlement reference tick (format group iii).
type RawSettlementRecord struct {
	FeedID         string    `json:"feed_id"`
	RoundID        int64     `json:"round_id"`
	Answer         RawNumber `json:"answer"`
	UpdatedAt      RawNumber `json:"updated_at"`
	AnsweredInRound int64    `json:"answered_in_round"`
	ArrivalNs      int64     `json:"ingest_arrival_time_ns"`
}

// ————————————————————————————————————————————————————————————————————————
// Canonical (normalized) payload variants
// ————————————————————————————————————————————————————————————————————————

// SnapshotPayload is a normalized, integer-only book snapshot.
type SnapshotPayload struct {
	TokenID string
	Seq     int64
	Bids    []LevelUpdate
	Asks    []LevelUpdate
}

// DeltaPayload is a normalized, integer-only book delta.
type DeltaPayload struct {
	TokenID    string
	Seq        int64
	BidUpdates []LevelUpdate
	AskUpdates []LevelUpdate
}

// LevelUpdate is one normalized price level. Size == 0 means "remove this
// level" per spec.md §3 OrderBook invariants.
type LevelUpdate struct {
	Price Tick
	Size  Size
}

// TradePayload is a normalized trade print.
type TradePayload struct {
	TokenID string
	Price   Tick
	Size    Size
	Side    Side // the aggressor's side
	TradeID string
}

// SettlementPayload is a normalized settlement reference observation.
type SettlementPayload struct {
	FeedID          string
	RoundID         int64
	Answer          Tick
	AnsweredInRound int64
}

// TimerPayload fires orchestrator-scheduled housekeeping (e.g. window-close
// settlement checks) with no externally supplied data.
type TimerPayload struct {
	Kind string
}

// Payload is the tagged union carried by a TimestampedEvent. Exactly one
// field is non-nil, selected by Priority.
type Payload struct {
	Snapshot   *SnapshotPayload
	Delta      *DeltaPayload
	Trade      *TradePayload
	Settlement *SettlementPayload
	Timer      *TimerPayload
}

// TimestampedEvent is the canonical queued event (spec.md §3).
// Invariant: ArrivalTime >= SourceTime; Seq is globally monotone on
// insertion into the EventQueue.
type TimestampedEvent struct {
	ArrivalTime Nanos
	SourceTime  Nanos
	Seq         uint64
	SourceID    string
	Priority    EventPriority
	Payload     Payload
}
