package feed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"clobbacktest/pkg/types"
)

// jsonlEnvelope is the on-disk wrapper for one line of a JSON-lines
// dataset file: a record kind tag plus the raw payload for that kind.
type jsonlEnvelope struct {
	Kind       string                     `json:"kind"` // "snapshot" | "delta" | "trade" | "settlement"
	Snapshot   *types.RawSnapshotRecord   `json:"snapshot,omitempty"`
	Delta      *types.RawDeltaRecord      `json:"delta,omitempty"`
	Trade      *types.RawTradeRecord      `json:"trade,omitempty"`
	Settlement *types.RawSettlementRecord `json:"settlement,omitempty"`
}

// JSONLFeed reads one dataset file where each line is a jsonlEnvelope. It
// is the reference DataFeed implementation: a single sequential pass over
// a read-only file, copied into memory line by line (spec.md §5 — "all
// inputs are materialised up front or streamed from a seekable source").
type JSONLFeed struct {
	f   *os.File
	sc  *bufio.Scanner
	src string
}

// OpenJSONLFeed opens path for sequential reading.
func OpenJSONLFeed(path string) (*JSONLFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("feed: open %s: %w", path, err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &JSONLFeed{f: f, sc: sc, src: path}, nil
}

// Next implements DataFeed.
func (j *JSONLFeed) Next() (Record, bool, error) {
	for j.sc.Scan() {
		line := j.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var env jsonlEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			return Record{}, false, fmt.Errorf("feed: decode %s: %w", j.src, err)
		}
		rec, err := envelopeToRecord(env)
		if err != nil {
			return Record{}, false, err
		}
		return rec, true, nil
	}
	if err := j.sc.Err(); err != nil && err != io.EOF {
		return Record{}, false, fmt.Errorf("feed: scan %s: %w", j.src, err)
	}
	return Record{}, false, nil
}

// Close implements DataFeed.
func (j *JSONLFeed) Close() error { return j.f.Close() }

func envelopeToRecord(env jsonlEnvelope) (Record, error) {
	switch env.Kind {
	case "snapshot":
		if env.Snapshot == nil {
			return Record{}, fmt.Errorf("feed: kind=snapshot with no snapshot payload")
		}
		return Record{Kind: KindSnapshot, Snapshot: env.Snapshot}, nil
	case "delta":
		if env.Delta == nil {
			return Record{}, fmt.Errorf("feed: kind=delta with no delta payload")
		}
		return Record{Kind: KindDelta, Delta: env.Delta}, nil
	case "trade":
		if env.Trade == nil {
			return Record{}, fmt.Errorf("feed: kind=trade with no trade payload")
		}
		return Record{Kind: KindTrade, Trade: env.Trade}, nil
	case "settlement":
		if env.Settlement == nil {
			return Record{}, fmt.Errorf("feed: kind=settlement with no settlement payload")
		}
		return Record{Kind: KindSettlement, Settlement: env.Settlement}, nil
	default:
		return Record{}, fmt.Errorf("feed: unknown record kind %q", env.Kind)
	}
}
