package feed

import (
	"fmt"

	"clobbacktest/internal/latency"
	"clobbacktest/pkg/types"
)

// ArrivalPolicy maps a record's source timestamp (and, when present, a
// trusted recorded arrival) to the visible arrival time the EventQueue
// orders on (spec.md §4.3).
type ArrivalPolicy interface {
	Kind() types.ArrivalPolicyKind
	// Arrival computes the visible time for a record whose source_time is
	// sourceTime. recordedArrival is non-nil when the dataset carries a
	// trusted arrival column.
	Arrival(sourceTime types.Nanos, recordedArrival *int64) (types.Nanos, error)
	// ProductionGrade reports whether runs under this policy may be
	// labeled Production-tier (Unusable never is, spec.md §4.3).
	ProductionGrade() bool
}

// RecordedArrivalPolicy trusts the dataset's own arrival column as-is.
type RecordedArrivalPolicy struct{}

func (RecordedArrivalPolicy) Kind() types.ArrivalPolicyKind { return types.ArrivalRecorded }
func (RecordedArrivalPolicy) ProductionGrade() bool         { return true }

func (RecordedArrivalPolicy) Arrival(sourceTime types.Nanos, recordedArrival *int64) (types.Nanos, error) {
	if recordedArrival == nil {
		return 0, fmt.Errorf("arrivalpolicy: RecordedArrival selected but record has no arrival column")
	}
	return types.Nanos(*recordedArrival), nil
}

// SimulatedLatencyPolicy draws arrival = source + latency.Sample(MarketData)
// from a seeded distribution, so two runs over the same seed produce the
// same arrival times (spec.md §4.3, §5).
type SimulatedLatencyPolicy struct {
	Sampler *latency.Sampler
}

func (SimulatedLatencyPolicy) Kind() types.ArrivalPolicyKind { return types.ArrivalSimulated }
func (SimulatedLatencyPolicy) ProductionGrade() bool         { return true }

func (p SimulatedLatencyPolicy) Arrival(sourceTime types.Nanos, _ *int64) (types.Nanos, error) {
	lat := p.Sampler.Sample(latency.MarketData)
	return sourceTime + types.Nanos(lat), nil
}

// UnusablePolicy is selected when the dataset carries no trustworthy
// timestamps at all. Arrival is set equal to source time so the engine can
// still run, but ProductionGrade is false: any RunArtifact produced under
// this policy must be labeled non-production (spec.md §4.3).
type UnusablePolicy struct{}

func (UnusablePolicy) Kind() types.ArrivalPolicyKind { return types.ArrivalUnusable }
func (UnusablePolicy) ProductionGrade() bool         { return false }

func (UnusablePolicy) Arrival(sourceTime types.Nanos, _ *int64) (types.Nanos, error) {
	return sourceTime, nil
}
