// Package config loads the backtest run configuration from a YAML file
// (default: configs/config.yaml), with local-development overrides layered
// from a .env file and then from POLY_*-equivalent environment variables,
// generalizing the teacher's spf13/viper Load/Validate pair to the option
// set spec.md §6 enumerates. Unlike the teacher, Load rejects any
// unrecognized key outright (spec.md §6 "Unknown options cause a fail-fast
// load error") instead of silently ignoring it.
package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"clobbacktest/internal/latency"
	"clobbacktest/internal/oms"
	"clobbacktest/internal/trustgate"
	"clobbacktest/pkg/types"
)

// Config is the top-level configuration, mapping directly onto spec.md §6's
// recognized option set plus the ambient sections (logging, dataset
// location, store/index wiring) the expanded spec adds.
type Config struct {
	Seed int64 `mapstructure:"seed"`

	InitialBankroll      types.AmountFP `mapstructure:"initial_bankroll"`
	KellyFraction        float64        `mapstructure:"kelly_fraction"`
	StartTime            types.Nanos    `mapstructure:"start_time"`
	EndTime               types.Nanos    `mapstructure:"end_time"`
	SlippageBps           int64          `mapstructure:"slippage_bps"`
	TransactionCost       types.AmountFP `mapstructure:"transaction_cost"`
	MaxPositions          int            `mapstructure:"max_positions"`
	WalkForwardWindowDays int            `mapstructure:"walk_forward_window_days"`
	TestWindowDays        int            `mapstructure:"test_window_days"`
	EmbargoHours          int            `mapstructure:"embargo_hours"`
	MinTrainingSignals    int            `mapstructure:"min_training_signals"`

	ArrivalPolicy   types.ArrivalPolicyKind `mapstructure:"arrival_policy"`
	LatencyProfile  latency.Profile         `mapstructure:"latency_profile"`
	QueueModel      string                  `mapstructure:"queue_model"`
	SettlementSpec  SettlementSpecConfig    `mapstructure:"settlement_spec"`
	TrustThresholds []trustgate.Threshold   `mapstructure:"trust_thresholds"`
	AccountingMode  types.AccountingMode    `mapstructure:"accounting_mode"`
	HermeticMode    types.HermeticMode      `mapstructure:"hermetic_mode"`

	Venue    VenueConfig    `mapstructure:"venue"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Strategy StrategyConfig `mapstructure:"strategy"`
}

// StrategyConfig carries the reference Maker's Avellaneda-Stoikov tuning
// (internal/strategy.MakerConfig), the teacher's StrategyConfig minus the
// live-only refresh/staleness fields.
type StrategyConfig struct {
	Gamma          float64    `mapstructure:"gamma"`
	Sigma          float64    `mapstructure:"sigma"`
	K              float64    `mapstructure:"k"`
	T              float64    `mapstructure:"t"`
	MinSpreadTicks types.Tick `mapstructure:"min_spread_ticks"`
	OrderSize      types.Size `mapstructure:"order_size"`
	MaxInventory   types.Size `mapstructure:"max_inventory"`
}

// SettlementSpecConfig carries the settlement_spec option's fields
// (spec.md §3 SettlementSpec, §6).
type SettlementSpecConfig struct {
	ReferenceRule         types.ReferenceRule `mapstructure:"reference_rule"`
	RoundingRule          types.RoundingRule  `mapstructure:"rounding_rule"`
	TieRule               types.TieRule       `mapstructure:"tie_rule"`
	RepresentativenessMin int                 `mapstructure:"representativeness_min"`
}

// VenueConfig carries OMS venue constraints and the fee schedule.
type VenueConfig struct {
	TickSize      types.Tick          `mapstructure:"tick_size"`
	MinSize       types.Size          `mapstructure:"min_size"`
	SelfTradeMode oms.SelfTradeMode   `mapstructure:"self_trade_mode"`
	RateLimitPerS int                 `mapstructure:"rate_limit_per_s"`
	MakerRebateBps int64              `mapstructure:"maker_rebate_bps"`
	TakerFeeBps    int64              `mapstructure:"taker_fee_bps"`

	// CancelLatencyMarginNs is slack given to the cancel in the race
	// against a fill: the cancel wins if its projected venue arrival is no
	// more than this many ns after the trade print
	// (internal/queueposition adjudicate, spec.md §4.5).
	CancelLatencyMarginNs int64 `mapstructure:"cancel_latency_margin_ns"`
}

// DatasetConfig points at the on-disk dataset (spec.md §6 "Dataset on
// disk"). Format is either "jsonl" or "parquet"; both paths funnel through
// the same Normalizer.
type DatasetConfig struct {
	Format    string `mapstructure:"format"`
	Path      string `mapstructure:"path"`
	Reference string `mapstructure:"reference_path"`
}

// StoreConfig sets where RunArtifact documents are persisted and, when
// configured, the optional post-run SQL index and NATS publication
// (SPEC_FULL.md §3).
type StoreConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	MySQLDSN   string `mapstructure:"mysql_dsn"`
	NATSURL    string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig parameterizes the adverse-selection rolling window
// (internal/metrics.Collector).
type MetricsConfig struct {
	AdverseSelectionWindowNs int64 `mapstructure:"adverse_selection_window_ns"`
}

// ConfigError is returned for any fail-fast load/validate failure (spec.md
// §7 "ConfigError (fatal, surfaced before loop)").
type ConfigError struct {
	Reason string
}

func (e ConfigError) Error() string { return fmt.Sprintf("config: %s", e.Reason) }

// Load reads config from a YAML file, layering local-development .env
// overrides (github.com/joho/godotenv, grounded on ChoSanghyuk-blackholedex)
// ahead of viper's environment read, exactly as the teacher layered
// POLY_*-prefixed overrides. Unknown keys anywhere in the document are a
// fail-fast ConfigError, not a silently-ignored field.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional: dev-only, missing .env is not an error

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, ConfigError{Reason: fmt.Sprintf("read config: %v", err)}
	}

	var cfg Config
	decodeOpt := viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	})
	if err := v.Unmarshal(&cfg, decodeOpt); err != nil {
		return nil, ConfigError{Reason: fmt.Sprintf("unmarshal config (unknown option?): %v", err)}
	}

	return &cfg, nil
}

// Validate checks every option spec.md §6 requires to be present and
// in-range before the replay loop starts (spec.md §7: ConfigError is
// "surfaced before loop").
func (c *Config) Validate() error {
	if c.Seed == 0 {
		return ConfigError{Reason: "seed is required (0 is not a valid seed; it is indistinguishable from unset)"}
	}
	if c.InitialBankroll <= 0 {
		return ConfigError{Reason: "initial_bankroll must be > 0"}
	}
	if c.KellyFraction < 0 || c.KellyFraction > 1 {
		return ConfigError{Reason: "kelly_fraction must be in [0, 1]"}
	}
	if c.EndTime != 0 && c.EndTime < c.StartTime {
		return ConfigError{Reason: "end_time must be >= start_time"}
	}
	if c.MaxPositions <= 0 {
		return ConfigError{Reason: "max_positions must be > 0"}
	}
	switch c.ArrivalPolicy {
	case types.ArrivalRecorded, types.ArrivalSimulated, types.ArrivalUnusable:
	default:
		return ConfigError{Reason: fmt.Sprintf("arrival_policy %q is not recognized", c.ArrivalPolicy)}
	}
	switch c.AccountingMode {
	case types.AccountingStrict, types.AccountingRelaxed:
	default:
		return ConfigError{Reason: fmt.Sprintf("accounting_mode %q is not recognized", c.AccountingMode)}
	}
	if c.HermeticMode != types.HermeticEnforced {
		return ConfigError{Reason: fmt.Sprintf("hermetic_mode %q is not recognized", c.HermeticMode)}
	}
	switch c.SettlementSpec.ReferenceRule {
	case types.RuleLastUpdateAtOrBeforeCutoff, types.RuleFirstUpdateAfterCutoff, types.RuleVWAPOverWindow:
	default:
		return ConfigError{Reason: fmt.Sprintf("settlement_spec.reference_rule %q is not recognized", c.SettlementSpec.ReferenceRule)}
	}
	if c.Dataset.Path == "" {
		return ConfigError{Reason: "dataset.path is required"}
	}
	switch c.Dataset.Format {
	case "jsonl", "parquet":
	default:
		return ConfigError{Reason: fmt.Sprintf("dataset.format %q must be jsonl or parquet", c.Dataset.Format)}
	}
	if c.Store.DataDir == "" {
		return ConfigError{Reason: "store.data_dir is required"}
	}
	return nil
}
