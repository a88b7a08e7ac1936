package feed

// seqAction is the outcome of checking one delta's exchange sequence number
// against the per-token tracker.
type seqAction int

const (
	seqOK seqAction = iota
	seqGapRecorded
	seqDuplicateOrOld
	seqPendingResync
)

// tokenSeqState tracks the last applied sequence number for one token and
// whether it is waiting for a fresh snapshot after a gap too large to trust
// (spec.md §4.2).
type tokenSeqState struct {
	lastSeq        int64
	havePrior      bool
	pendingResync  bool
}

// IntegrityGuard enforces the per-token sequence-gap policy and tallies the
// dataset defect counters the methodology capsule reports: gaps, negative
// sizes, invalid prices, crossed/inconsistent books, timestamp issues, and
// deltas dropped while waiting for resync.
type IntegrityGuard struct {
	tokens map[string]*tokenSeqState

	Gaps                int64
	DuplicatesDropped   int64
	DeltasDroppedResync int64
	NegativeSizes       int64
	InvalidPrices       int64
	CrossedBooks        int64
	TimestampIssues     int64
}

// NewIntegrityGuard returns an IntegrityGuard with zeroed counters.
func NewIntegrityGuard() *IntegrityGuard {
	return &IntegrityGuard{tokens: make(map[string]*tokenSeqState)}
}

// CheckSeq records seq for token and returns how the delta carrying it
// should be treated. A seq that is not strictly greater than the last
// applied one is a duplicate/stale delta and is dropped. A gap beyond maxGap
// marks the token PendingResync: every subsequent delta is dropped until
// ResetToken is called by an incoming snapshot.
func (g *IntegrityGuard) CheckSeq(token string, seq int64, maxGap int64) seqAction {
	st, ok := g.tokens[token]
	if !ok {
		st = &tokenSeqState{}
		g.tokens[token] = st
	}

	if st.pendingResync {
		return seqPendingResync
	}

	if !st.havePrior {
		st.lastSeq = seq
		st.havePrior = true
		return seqOK
	}

	if seq <= st.lastSeq {
		return seqDuplicateOrOld
	}

	gap := seq - st.lastSeq - 1
	st.lastSeq = seq
	if gap == 0 {
		return seqOK
	}
	if gap > maxGap {
		st.pendingResync = true
		return seqPendingResync
	}
	return seqGapRecorded
}

// ResetToken clears PendingResync for token and re-anchors its sequence
// tracker at seq, called whenever a snapshot for that token is normalized.
func (g *IntegrityGuard) ResetToken(token string, seq int64) {
	g.tokens[token] = &tokenSeqState{lastSeq: seq, havePrior: true}
}

// DefectRate returns the fraction of counted defects against total, the
// figure the methodology capsule compares against its configured threshold.
func (g *IntegrityGuard) DefectRate(total int64) float64 {
	if total <= 0 {
		return 0
	}
	defects := g.Gaps + g.DuplicatesDropped + g.DeltasDroppedResync +
		g.NegativeSizes + g.InvalidPrices + g.CrossedBooks + g.TimestampIssues
	return float64(defects) / float64(total)
}

// PendingResync reports whether token is currently waiting for a snapshot.
func (g *IntegrityGuard) PendingResync(token string) bool {
	st, ok := g.tokens[token]
	return ok && st.pendingResync
}
