// Package fingerprint implements the canonical record encoder and the
// rolling per-stream hash that together make a run's output byte-for-byte
// reproducible and cross-run comparable (spec.md §4.10).
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Registry maps string market/token IDs to small integers, so the
// canonical encoding carries a fixed-width code in place of the string;
// PutString never writes the string itself into a record.
type Registry struct {
	ids    map[string]uint32
	ordered []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]uint32)}
}

// Intern returns the small-int code for id, assigning the next one if this
// is the first time id has been seen. Assignment order is insertion order,
// which is itself deterministic because the replay loop is single-threaded
// and events are dispatched in causal order.
func (r *Registry) Intern(id string) uint32 {
	if code, ok := r.ids[id]; ok {
		return code
	}
	code := uint32(len(r.ordered))
	r.ids[id] = code
	r.ordered = append(r.ordered, id)
	return code
}

// Lookup returns the original string for a code, for RunArtifact rendering.
func (r *Registry) Lookup(code uint32) (string, bool) {
	if int(code) >= len(r.ordered) {
		return "", false
	}
	return r.ordered[code], true
}

// Encoder serializes records into the canonical fixed byte layout: integer
// prices/sizes/amounts big-endian, enums as small-int codes, strings via
// the Registry (spec.md §4.10).
type Encoder struct {
	registry *Registry
	buf      []byte
}

// NewEncoder creates an Encoder backed by registry.
func NewEncoder(registry *Registry) *Encoder {
	return &Encoder{registry: registry, buf: make([]byte, 0, 256)}
}

// Reset clears the internal buffer for reuse across records.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// Bytes returns the encoded record built since the last Reset.
func (e *Encoder) Bytes() []byte { return e.buf }

// PutInt64 appends a big-endian signed 64-bit integer.
func (e *Encoder) PutInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	e.buf = append(e.buf, b[:]...)
}

// PutInt32 appends a big-endian signed 32-bit integer.
func (e *Encoder) PutInt32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	e.buf = append(e.buf, b[:]...)
}

// PutUint8 appends a single enum/small-int code byte.
func (e *Encoder) PutUint8(v uint8) {
	e.buf = append(e.buf, v)
}

// PutString interns s via the Registry and appends its code as a
// big-endian uint32 (not the raw string — the registry is the only place
// the string itself is ever written out, in the RunArtifact's id table).
func (e *Encoder) PutString(s string) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], e.registry.Intern(s))
	e.buf = append(e.buf, b[:]...)
}

// PutStringRaw appends s length-prefixed, for values (e.g. a trade ID) that
// are not worth interning because they are never repeated.
func (e *Encoder) PutStringRaw(s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	e.buf = append(e.buf, lenBuf[:]...)
	e.buf = append(e.buf, s...)
}

// StreamHash is a rolling 128-bit hash over one logical stream of encoded
// records (orders, fills, ledger entries, settlements, ...). Each Absorb
// call chains the running state through SHA-256 and truncates back to 128
// bits, so two runs that emit the same records in the same order always
// reach the same final state, and any divergence changes every hash from
// that point on (spec.md §4.10).
type StreamHash struct {
	name  string
	state [16]byte
	count uint64
}

// NewStreamHash creates a named rolling hash, zero-initialized.
func NewStreamHash(name string) *StreamHash {
	return &StreamHash{name: name}
}

// Absorb folds one canonically encoded record into the rolling state.
func (h *StreamHash) Absorb(record []byte) {
	sum := sha256.New()
	sum.Write(h.state[:])
	sum.Write(record)
	digest := sum.Sum(nil)
	copy(h.state[:], digest[:16])
	h.count++
}

// Sum returns the current 128-bit rolling hash.
func (h *StreamHash) Sum() [16]byte { return h.state }

// Count returns how many records have been absorbed.
func (h *StreamHash) Count() uint64 { return h.count }

// Name returns the stream's name (e.g. "orders", "fills", "ledger").
func (h *StreamHash) Name() string { return h.name }

// BehaviorHash accumulates the sequence of strategy decisions into a single
// rolling hash, independent of the per-stream record hashes (spec.md
// §4.10 "behavior fingerprint").
type BehaviorHash struct {
	inner *StreamHash
}

// NewBehaviorHash creates an empty behavior hash.
func NewBehaviorHash() *BehaviorHash {
	return &BehaviorHash{inner: NewStreamHash("behavior")}
}

// Absorb folds one strategy decision's canonical encoding into the hash.
func (b *BehaviorHash) Absorb(record []byte) { b.inner.Absorb(record) }

// Sum returns the current behavior hash.
func (b *BehaviorHash) Sum() [16]byte { return b.inner.Sum() }

// RunFingerprint is the complete identity of one deterministic run
// (spec.md §3, §4.10).
type RunFingerprint struct {
	CodeHash     [16]byte
	ConfigHash   [16]byte
	DatasetHash  [16]byte
	Seed         int64
	StreamHashes map[string][16]byte
	BehaviorHash [16]byte
}

// Mismatch names one stream whose final hash differs between two runs.
// Diff leaves FirstDiffAt at zero: a StreamHash keeps only its running
// state and a count, so the index of the first differing record is not
// recovered, and Error reports record 0.
type Mismatch struct {
	Stream     string
	FirstDiffAt uint64
}

func (m Mismatch) Error() string {
	return fmt.Sprintf("fingerprint: stream %q diverges at record %d", m.Stream, m.FirstDiffAt)
}

// Diff compares two RunFingerprints and returns the streams (in
// deterministic, sorted order) whose hashes differ. An empty slice means
// the two fingerprints are identical, i.e. the runs reproduced
// byte-for-byte (spec.md §8 "Determinism").
func Diff(a, b RunFingerprint) []Mismatch {
	names := make(map[string]bool)
	for n := range a.StreamHashes {
		names[n] = true
	}
	for n := range b.StreamHashes {
		names[n] = true
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	var out []Mismatch
	for _, n := range sorted {
		if a.StreamHashes[n] != b.StreamHashes[n] {
			out = append(out, Mismatch{Stream: n})
		}
	}
	if a.BehaviorHash != b.BehaviorHash {
		out = append(out, Mismatch{Stream: "behavior"})
	}
	return out
}

// decisionNamespace is a fixed, arbitrary UUID used as the namespace for
// deriving deterministic decision/run identifiers via uuid.NewSHA1, so
// identifiers are stable across runs with the same behavior hash without
// ever calling uuid.New() (which reads crypto/rand and would break
// determinism, spec.md §5).
var decisionNamespace = uuid.MustParse("6f6e6465-7465-7263-6c6f-622d6261636b")

// DeterministicID derives a UUIDv5 from behaviorHash and a discriminator,
// so run and decision identifiers are reproducible from the fingerprint
// alone.
func DeterministicID(behaviorHash [16]byte, discriminator string) uuid.UUID {
	name := append(append([]byte{}, behaviorHash[:]...), discriminator...)
	return uuid.NewSHA1(decisionNamespace, name)
}
