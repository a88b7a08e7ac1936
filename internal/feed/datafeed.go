// Package feed defines the DataFeed boundary and the Normalizer that turns
// raw, untrusted dataset records into canonical TimestampedEvents
// (spec.md §4.2). Concrete DataFeed implementations read from a seekable
// on-disk source — JSON-lines or Parquet — never from a live socket; live
// ingestion is an out-of-scope external collaborator (spec.md §1).
package feed

import (
	"clobbacktest/pkg/types"
)

// RecordKind tags which raw record variant a Record carries.
type RecordKind uint8

const (
	KindSnapshot RecordKind = iota
	KindDelta
	KindTrade
	KindSettlement
)

// Record is the tagged union a DataFeed yields. Exactly one field matching
// Kind is populated.
type Record struct {
	Kind       RecordKind
	Snapshot   *types.RawSnapshotRecord
	Delta      *types.RawDeltaRecord
	Trade      *types.RawTradeRecord
	Settlement *types.RawSettlementRecord
}

// DataFeed is the sole boundary through which the engine consumes dataset
// records. Implementations must be deterministic and read-only: the same
// feed replayed twice, against the same file, yields records in the same
// order. Next returns (Record{}, false, nil) when the feed is exhausted.
type DataFeed interface {
	Next() (rec Record, ok bool, err error)
	Close() error
}
