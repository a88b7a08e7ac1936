package config

import (
	"testing"

	"clobbacktest/pkg/types"
)

func validConfig() *Config {
	return &Config{
		Seed:             1,
		InitialBankroll:  1000 * types.AmountScale,
		KellyFraction:    0.5,
		StartTime:        0,
		EndTime:          1000,
		MaxPositions:     10,
		ArrivalPolicy:    types.ArrivalRecorded,
		AccountingMode:   types.AccountingRelaxed,
		HermeticMode:     types.HermeticEnforced,
		SettlementSpec: SettlementSpecConfig{
			ReferenceRule: types.RuleLastUpdateAtOrBeforeCutoff,
		},
		Dataset: DatasetConfig{Path: "data.jsonl", Format: "jsonl"},
		Store:   StoreConfig{DataDir: "/tmp/out"},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsZeroSeed(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Seed = 0
	if err := c.Validate(); err == nil {
		t.Error("expected ConfigError for zero seed")
	}
}

func TestValidateRejectsNonPositiveBankroll(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.InitialBankroll = 0
	if err := c.Validate(); err == nil {
		t.Error("expected ConfigError for non-positive initial_bankroll")
	}
}

func TestValidateRejectsOutOfRangeKellyFraction(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.KellyFraction = 1.5
	if err := c.Validate(); err == nil {
		t.Error("expected ConfigError for kelly_fraction > 1")
	}
}

func TestValidateRejectsEndBeforeStart(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.StartTime = 1000
	c.EndTime = 500
	if err := c.Validate(); err == nil {
		t.Error("expected ConfigError for end_time < start_time")
	}
}

func TestValidateRejectsUnrecognizedArrivalPolicy(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.ArrivalPolicy = types.ArrivalPolicyKind("bogus")
	if err := c.Validate(); err == nil {
		t.Error("expected ConfigError for unrecognized arrival_policy")
	}
}

func TestValidateRejectsMissingDatasetPath(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Dataset.Path = ""
	if err := c.Validate(); err == nil {
		t.Error("expected ConfigError for missing dataset.path")
	}
}

func TestValidateRejectsUnrecognizedDatasetFormat(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Dataset.Format = "csv"
	if err := c.Validate(); err == nil {
		t.Error("expected ConfigError for unrecognized dataset.format")
	}
}

func TestValidateRejectsMissingStoreDataDir(t *testing.T) {
	t.Parallel()

	c := validConfig()
	c.Store.DataDir = ""
	if err := c.Validate(); err == nil {
		t.Error("expected ConfigError for missing store.data_dir")
	}
}

func TestConfigErrorMessageIncludesReason(t *testing.T) {
	t.Parallel()

	err := ConfigError{Reason: "something went wrong"}
	if got := err.Error(); got != "config: something went wrong" {
		t.Errorf("Error() = %q, want %q", got, "config: something went wrong")
	}
}
