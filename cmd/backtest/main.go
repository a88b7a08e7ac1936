// Deterministic CLOB backtesting engine — entry point: loads config, hashes
// the code/config/dataset triple, replays one strategy against a recorded
// dataset, and persists the resulting RunArtifact.
//
// Architecture:
//
//	main.go                    — entry point: load config, build hashes, run, persist, map errors to exit codes
//	internal/orchestrator      — drives the single-threaded replay loop (spec.md §4.13)
//	internal/feed              — DataFeed + Normalizer: untrusted dataset records -> canonical events
//	internal/eventqueue        — causal-order min-heap driving the replay
//	internal/orderbook         — per-token book state from snapshots/deltas
//	internal/oms               — order lifecycle, venue constraints, fees
//	internal/queueposition     — FIFO queue position and cancel/fill race model
//	internal/makergate         — adjudicates whether our resting order shares in a trade print
//	internal/ledger             — double-entry postings, Strict/Relaxed invariant enforcement
//	internal/portfolio          — position/avg-entry/realized-PnL tracking, equity curve
//	internal/settlement         — resolves a market's binary outcome from reference ticks
//	internal/trustgate           — synthetic probe strategies gating a Production/Exploratory/SimulationOnly/Rejected tier
//	internal/store               — RunArtifact persistence plus optional MySQL index / NATS notification
//
// This binary never reads the wall clock, the network, or the filesystem
// once the replay loop starts: every input is loaded up front, and the
// hermetic.Enforcer is armed for the lifetime of each session.
package main

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"clobbacktest/internal/config"
	"clobbacktest/internal/feed"
	"clobbacktest/internal/hermetic"
	"clobbacktest/internal/ledger"
	"clobbacktest/internal/orchestrator"
	"clobbacktest/internal/store"
	"clobbacktest/internal/strategy"
	"clobbacktest/internal/visibility"
)

// exitCode mirrors spec.md §6's exit code table.
type exitCode int

const (
	exitSuccess              exitCode = 0
	exitInputInvalid         exitCode = 1
	exitHermeticViolation    exitCode = 2
	exitVisibilityViolation  exitCode = 3
	exitLedgerInvariant      exitCode = 4
	exitReproducibilityMismatch exitCode = 5
)

func main() {
	os.Exit(int(run()))
}

func run() exitCode {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BACKTEST_CONFIG"); p != "" {
		cfgPath = p
	}

	cfgBytes, err := os.ReadFile(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read config %s: %v\n", cfgPath, err)
		return exitInputInvalid
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return exitInputInvalid
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return exitInputInvalid
	}

	logger := buildLogger(cfg.Logging.Level, cfg.Logging.Format)

	datasetBytes, err := os.ReadFile(cfg.Dataset.Path)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.Dataset.Path).Msg("read dataset")
		return exitInputInvalid
	}

	codeHash := md5.Sum(buildIdentifier())
	configHash := md5.Sum(cfgBytes)
	datasetHash := md5.Sum(datasetBytes)

	newStrat := func() strategy.Strategy {
		return strategy.NewMaker(strategy.MakerConfig{
			Gamma:          cfg.Strategy.Gamma,
			Sigma:          cfg.Strategy.Sigma,
			K:              cfg.Strategy.K,
			T:              cfg.Strategy.T,
			MinSpreadTicks: cfg.Strategy.MinSpreadTicks,
			OrderSize:      cfg.Strategy.OrderSize,
			MaxInventory:   cfg.Strategy.MaxInventory,
		})
	}

	orch := orchestrator.New(cfg, codeHash, configHash, datasetHash, logger)
	artifact, err := runOnce(orch, newStrat(), cfg.Dataset.Format, cfg.Dataset.Path)
	if err != nil {
		return reportRunError(logger, err)
	}

	// A reproducibility check replays the identical config/dataset a
	// second time and requires the two runs to hash to the same
	// behavior: same seed, same dataset, same code, run a second time
	// within this same process (spec.md §6 exit code 5).
	if os.Getenv("BACKTEST_VERIFY_REPRO") != "" {
		second, err := runOnce(orch, newStrat(), cfg.Dataset.Format, cfg.Dataset.Path)
		if err != nil {
			return reportRunError(logger, err)
		}
		if second.Fingerprint.BehaviorHash != artifact.Fingerprint.BehaviorHash {
			logger.Error().
				Str("run_1", artifact.Fingerprint.BehaviorHash).
				Str("run_2", second.Fingerprint.BehaviorHash).
				Msg("reproducibility mismatch: identical inputs produced different behavior hashes")
			return exitReproducibilityMismatch
		}
		logger.Info().Msg("reproducibility verified: behavior hash stable across two runs")
	}
	artifact.GeneratedAt = time.Now().UTC()

	artifactStore, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error().Err(err).Msg("open artifact store")
		return exitInputInvalid
	}
	defer artifactStore.Close()

	if err := artifactStore.Save(*artifact); err != nil {
		logger.Error().Err(err).Msg("save run artifact")
		return exitInputInvalid
	}
	if err := writeMethodologySidecar(cfg.Store.DataDir, artifact.Manifest.RunID, artifact.MethodologyCapsule); err != nil {
		logger.Warn().Err(err).Msg("write methodology sidecar")
	}

	if cfg.Store.MySQLDSN != "" {
		idx, err := store.OpenSQLArtifactIndex(cfg.Store.MySQLDSN)
		if err != nil {
			logger.Warn().Err(err).Msg("open run manifest index")
		} else if err := idx.Record(*artifact); err != nil {
			logger.Warn().Err(err).Msg("record run manifest")
		}
	}
	if cfg.Store.NATSURL != "" {
		pub, err := store.NewPublisher(cfg.Store.NATSURL, cfg.Store.NATSSubject)
		if err != nil {
			logger.Warn().Err(err).Msg("connect run completion publisher")
		} else {
			if err := pub.PublishCompletion(*artifact); err != nil {
				logger.Warn().Err(err).Msg("publish run completion")
			}
			pub.Close()
		}
	}

	logger.Info().
		Str("run_id", artifact.Manifest.RunID).
		Str("trust_decision", string(artifact.TrustDecisionTier)).
		Msg("backtest complete")
	return exitSuccess
}

// reportRunError maps an orchestrator.Run failure to spec.md §6's exit
// codes: a hermetic.Violation means a component tried wall-clock/file/
// network/env/spawn access mid-replay, a visibility.Violation means a
// decision read state the watermark had not yet applied, and a
// ledger.Invariant means a posted entry's legs did not sum to zero.
// Anything else is treated as an ordinary input/processing failure.
func reportRunError(logger zerolog.Logger, err error) exitCode {
	var hermeticViol hermetic.Violation
	if errors.As(err, &hermeticViol) {
		logger.Error().Err(err).Msg("hermetic violation")
		return exitHermeticViolation
	}
	var visibilityViol visibility.Violation
	if errors.As(err, &visibilityViol) {
		logger.Error().Err(err).Msg("visibility violation")
		return exitVisibilityViolation
	}
	var ledgerInvariant ledger.Invariant
	if errors.As(err, &ledgerInvariant) {
		logger.Error().Err(err).Msg("ledger invariant broken")
		return exitLedgerInvariant
	}
	logger.Error().Err(err).Msg("run failed")
	return exitInputInvalid
}

// runOnce opens a fresh DataFeed over path and replays strat against it,
// closing the feed afterward regardless of outcome.
func runOnce(orch *orchestrator.Orchestrator, strat strategy.Strategy, format, path string) (*store.RunArtifact, error) {
	df, err := openFeed(format, path)
	if err != nil {
		return nil, fmt.Errorf("open dataset feed: %w", err)
	}
	defer df.Close()
	return orch.Run(strat, df)
}

func openFeed(format, path string) (feed.DataFeed, error) {
	switch format {
	case "jsonl":
		return feed.OpenJSONLFeed(path)
	case "parquet":
		return feed.OpenParquetFeed(path)
	default:
		return nil, fmt.Errorf("main: unrecognized dataset format %q", format)
	}
}

// buildIdentifier stands in for the built binary's own bytes when
// computing CodeHash: the running executable's path is read and hashed,
// falling back to a fixed marker if it cannot be located (e.g. under `go
// run`), since a reproducibility check only needs the hash to be stable
// across repeated invocations of the same built artifact.
func buildIdentifier() []byte {
	exe, err := os.Executable()
	if err != nil {
		return []byte("clobbacktest-dev-build")
	}
	f, err := os.Open(exe)
	if err != nil {
		return []byte("clobbacktest-dev-build")
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return []byte("clobbacktest-dev-build")
	}
	return h.Sum(nil)
}

func writeMethodologySidecar(dataDir, runID string, capsule store.MethodologyCapsule) error {
	data, err := yaml.Marshal(capsule)
	if err != nil {
		return fmt.Errorf("marshal methodology capsule: %w", err)
	}
	path := fmt.Sprintf("%s/methodology_%s.yaml", dataDir, runID)
	return os.WriteFile(path, data, 0o644)
}

func buildLogger(level, format string) zerolog.Logger {
	var w io.Writer = os.Stdout
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	zerolog.SetGlobalLevel(parseLogLevel(level))
	return zerolog.New(w).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
