// Package store persists the RunArtifact document produced by a completed
// backtest, generalizing the teacher's crash-safe position persistence
// (write `.tmp`, then `os.Rename`) from one JSON position file per market
// to one JSON document per run (spec.md §6 "RunArtifact output"). It also
// wires the two post-run-only domain dependencies the expanded spec calls
// for: an optional MySQL secondary index of run manifests, and an optional
// NATS completion notification. Neither participates in replay; both run
// strictly after ArtifactStore.Save.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"clobbacktest/internal/fingerprint"
	"clobbacktest/internal/metrics"
	"clobbacktest/internal/portfolio"
	"clobbacktest/internal/trustgate"
	"clobbacktest/pkg/types"
)

// apiVersion is the RunArtifact schema's semantic version; storageVersion
// is the on-disk envelope version. spec.md §6 requires readers to reject an
// unrecognized storageVersion outright.
const (
	apiVersion     = "1.0"
	storageVersion = 1
)

// Manifest identifies one run: its code/config/dataset hashes and seed,
// plus the derived run id (spec.md §3 RunFingerprint).
type Manifest struct {
	RunID       string `json:"run_id"`
	CodeHash    string `json:"code_hash"`
	ConfigHash  string `json:"config_hash"`
	DatasetHash string `json:"dataset_hash"`
	Seed        int64  `json:"seed"`
}

// MethodologyCapsule enumerates the replay choices that affect
// reproducibility of the result, independent of the code/config/dataset
// hashes already in Manifest (spec.md §6 "methodology_capsule enumerates
// arrival policy, latency profile, queue model, settlement spec version,
// fingerprint version").
type MethodologyCapsule struct {
	ArrivalPolicy         types.ArrivalPolicyKind `json:"arrival_policy" yaml:"arrival_policy"`
	LatencyProfileName    string                  `json:"latency_profile" yaml:"latency_profile"`
	QueueModel            string                  `json:"queue_model" yaml:"queue_model"`
	SettlementSpecVersion string                  `json:"settlement_spec_version" yaml:"settlement_spec_version"`
	FingerprintVersion    string                  `json:"fingerprint_version" yaml:"fingerprint_version"`
}

// TimeSeries carries the equity and drawdown curves (spec.md §6
// "time_series: {equity, drawdown}").
type TimeSeries struct {
	Equity   []portfolio.WindowPoint `json:"equity"`
	Drawdown []types.AmountFP        `json:"drawdown"`
}

// Distributions carries rendered histogram summaries gathered from
// internal/metrics.Collector after the run completes (spec.md §6
// "distributions: {window_pnl histogram, …}").
type Distributions struct {
	WindowPnLHistogram []float64                            `json:"window_pnl_histogram"`
	Metrics            map[string]metrics.HistogramSummary `json:"metrics,omitempty"`
}

// fingerprintSummary flattens fingerprint.RunFingerprint into JSON-friendly
// hex strings; the raw [16]byte arrays are not directly JSON-marshalable
// in a readable form.
type fingerprintSummary struct {
	CodeHash     string            `json:"code_hash"`
	ConfigHash   string            `json:"config_hash"`
	DatasetHash  string            `json:"dataset_hash"`
	Seed         int64             `json:"seed"`
	StreamHashes map[string]string `json:"stream_hashes"`
	BehaviorHash string            `json:"behavior_hash"`
}

// NewFingerprintSummary renders a fingerprint.RunFingerprint for embedding
// in a RunArtifact.
func NewFingerprintSummary(fp fingerprint.RunFingerprint) fingerprintSummary {
	streams := make(map[string]string, len(fp.StreamHashes))
	for name, sum := range fp.StreamHashes {
		streams[name] = fmt.Sprintf("%x", sum)
	}
	return fingerprintSummary{
		CodeHash:     fmt.Sprintf("%x", fp.CodeHash),
		ConfigHash:   fmt.Sprintf("%x", fp.ConfigHash),
		DatasetHash:  fmt.Sprintf("%x", fp.DatasetHash),
		Seed:         fp.Seed,
		StreamHashes: streams,
		BehaviorHash: fmt.Sprintf("%x", fp.BehaviorHash),
	}
}

// BuildTrustFailureReasons renders trustgate.FailureReason values into the
// plain strings RunArtifact persists.
func BuildTrustFailureReasons(reasons []trustgate.FailureReason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = r.String()
	}
	return out
}

// DisclaimerContext carries the facts that drive which disclaimers attach to
// a run (the caveats a reader needs to correctly weigh the trust tier).
type DisclaimerContext struct {
	Decision       types.TrustDecision
	AccountingMode types.AccountingMode
	FailureReasons []string
}

// GenerateDisclaimers renders the always-true caveats plus any that follow
// from this run's trust tier and accounting/hermetic mode, in place of a
// single static list (spec.md §6 "disclaimers[]").
func GenerateDisclaimers(ctx DisclaimerContext) []string {
	out := []string{
		"backtest results are not a guarantee of future performance",
		"fills are simulated against historical order-book data, not executed against a live venue",
	}
	switch ctx.Decision {
	case types.TrustRejected:
		out = append(out, "trust gate rejected this run: treat every metric below as unreliable")
	case types.TrustSimulationOnly:
		out = append(out, "trust gate restricted this run to simulation-only: do not use for sizing live capital")
	case types.TrustExploratory:
		out = append(out, "trust gate tier is exploratory: suitable for research, not for capital allocation")
	}
	if ctx.AccountingMode == types.AccountingRelaxed {
		out = append(out, "accounting mode is relaxed: ledger invariant violations were logged, not treated as fatal")
	}
	for _, r := range ctx.FailureReasons {
		out = append(out, "trust gate failure: "+r)
	}
	return out
}

// RunArtifact is the versioned document a completed run emits (spec.md §6).
type RunArtifact struct {
	APIVersion     string `json:"api_version"`
	StorageVersion int    `json:"storage_version"`

	Manifest            Manifest            `json:"manifest"`
	ConfigSummary       map[string]any      `json:"config_summary"`
	StrategyIdentity    string              `json:"strategy_identity"`
	Dataset             string              `json:"dataset"`
	Provenance          string              `json:"provenance"`
	MethodologyCapsule  MethodologyCapsule  `json:"methodology_capsule"`
	TimeSeries          TimeSeries          `json:"time_series"`
	Distributions       Distributions       `json:"distributions"`
	TrustDecisionTier   types.TrustDecision `json:"trust_decision"`
	TrustFailureReasons []string            `json:"trust_failure_reasons,omitempty"`
	Disclaimers         []string            `json:"disclaimers"`

	Fingerprint fingerprintSummary `json:"fingerprint"`

	GeneratedAt time.Time `json:"generated_at"`
}

// ArtifactStore persists RunArtifact documents to JSON files in a
// designated directory, one file per run id, using the teacher's
// write-tmp-then-rename pattern for crash safety.
type ArtifactStore struct {
	dir string
	mu  sync.Mutex
}

// Open creates an ArtifactStore backed by dir, creating it if necessary.
func Open(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact store dir: %w", err)
	}
	return &ArtifactStore{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *ArtifactStore) Close() error { return nil }

// Save atomically persists artifact under its run id.
func (s *ArtifactStore) Save(artifact RunArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if artifact.StorageVersion == 0 {
		artifact.StorageVersion = storageVersion
	}
	if artifact.APIVersion == "" {
		artifact.APIVersion = apiVersion
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run artifact: %w", err)
	}

	path := filepath.Join(s.dir, "run_"+artifact.Manifest.RunID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write run artifact: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads back a previously saved RunArtifact by run id, rejecting any
// storage_version this build does not recognize (spec.md §6 "readers MUST
// reject unknown storage_version as an error").
func (s *ArtifactStore) Load(runID string) (*RunArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, "run_"+runID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run artifact: %w", err)
	}

	var artifact RunArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("unmarshal run artifact: %w", err)
	}
	if artifact.StorageVersion != storageVersion {
		return nil, fmt.Errorf("run artifact %s: unrecognized storage_version %d", runID, artifact.StorageVersion)
	}
	return &artifact, nil
}

// RunManifestRecord is the GORM model for SQLArtifactIndex's secondary
// index table, mirroring the teacher's AssetSnapshotRecord shape (flat,
// string-encoded identifiers, explicit column comments).
type RunManifestRecord struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	RunID         string    `gorm:"uniqueIndex;not null"`
	CodeHash      string    `gorm:"not null"`
	ConfigHash    string    `gorm:"not null"`
	DatasetHash   string    `gorm:"not null"`
	Seed          int64     `gorm:"not null"`
	TrustDecision string    `gorm:"not null;comment:TrustGate tier assigned to this run"`
	GeneratedAt   time.Time `gorm:"index;not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (RunManifestRecord) TableName() string { return "run_manifests" }

// SQLArtifactIndex is an optional secondary index of run manifests in
// MySQL, written after the run completes so querying past runs does not
// require re-reading every JSON artifact file. It never participates in
// replay (SPEC_FULL.md §3).
type SQLArtifactIndex struct {
	db *gorm.DB
}

// OpenSQLArtifactIndex connects to dsn and migrates the run_manifests
// table if needed.
func OpenSQLArtifactIndex(dsn string) (*SQLArtifactIndex, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect run manifest index: %w", err)
	}
	if err := db.AutoMigrate(&RunManifestRecord{}); err != nil {
		return nil, fmt.Errorf("migrate run manifest index: %w", err)
	}
	return &SQLArtifactIndex{db: db}, nil
}

// Record inserts one row summarizing artifact into the index.
func (idx *SQLArtifactIndex) Record(artifact RunArtifact) error {
	record := RunManifestRecord{
		RunID:         artifact.Manifest.RunID,
		CodeHash:      artifact.Manifest.CodeHash,
		ConfigHash:    artifact.Manifest.ConfigHash,
		DatasetHash:   artifact.Manifest.DatasetHash,
		Seed:          artifact.Manifest.Seed,
		TrustDecision: string(artifact.TrustDecisionTier),
		GeneratedAt:   artifact.GeneratedAt,
	}
	if err := idx.db.Create(&record).Error; err != nil {
		return fmt.Errorf("record run manifest: %w", err)
	}
	return nil
}

// completionMessage is the small JSON payload Publisher sends once a run
// artifact has been flushed.
type completionMessage struct {
	RunID         string `json:"run_id"`
	CodeHash      string `json:"code_hash"`
	TrustDecision string `json:"trust_decision"`
}

// Publisher sends a post-run completion notification to a configured NATS
// subject for downstream consumers, strictly outside the replay loop.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher connects to url and returns a Publisher that will send to
// subject.
func NewPublisher(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect run completion publisher: %w", err)
	}
	return &Publisher{nc: nc, subject: subject}, nil
}

// PublishCompletion sends artifact's identity to the configured subject.
func (p *Publisher) PublishCompletion(artifact RunArtifact) error {
	payload, err := json.Marshal(completionMessage{
		RunID:         artifact.Manifest.RunID,
		CodeHash:      artifact.Manifest.CodeHash,
		TrustDecision: string(artifact.TrustDecisionTier),
	})
	if err != nil {
		return fmt.Errorf("marshal run completion message: %w", err)
	}
	if err := p.nc.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("publish run completion: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying NATS connection.
func (p *Publisher) Close() error {
	p.nc.Close()
	return nil
}
