// Package trustgate implements the post-run GateSuite: it replays the
// recorded market data against several synthetic probe strategies and
// checks each probe's outcome against a threshold, aggregating the results
// into a TrustDecision (spec.md §4.12).
//
// Shaped after the teacher's risk.Manager: a standalone component that
// watches a stream of reports and raises typed signals, generalized from
// "watch live positions, raise a KillSignal" to "watch probe results,
// raise a TrustDecision failure reason" (SPEC_FULL.md §4).
package trustgate

import (
	"fmt"

	"clobbacktest/pkg/types"
)

// ProbeKind names one synthetic sanity strategy (spec.md §4.12).
type ProbeKind string

const (
	ProbeDoNothing             ProbeKind = "DoNothing"
	ProbeRandomTaker           ProbeKind = "RandomTaker"
	ProbeSignalInverter        ProbeKind = "SignalInverter"
	ProbeZeroEdge              ProbeKind = "ZeroEdge"
	ProbeSyntheticPriceGenerator ProbeKind = "SyntheticPriceGenerator"
)

// ProbeResult is the outcome of replaying one probe strategy against the
// run's dataset.
type ProbeResult struct {
	Probe          ProbeKind
	NetPnL         types.AmountFP
	FeesPaid       types.AmountFP
	TradeCount     int64
}

// Threshold parameterizes the pass/fail check for one probe.
type Threshold struct {
	Probe ProbeKind
	// MaxAbsNetPnL bounds |NetPnL| for probes that must net to ~zero
	// (e.g. DoNothing must net zero plus/minus fee tolerance).
	MaxAbsNetPnL types.AmountFP
	// MaxNetPnL caps NetPnL from above (e.g. ZeroEdge should never show a
	// durable positive edge beyond noise); zero disables the check.
	MaxNetPnL types.AmountFP
}

// FailureReason names one itemized threshold breach in the aggregated
// TrustDecision.
type FailureReason struct {
	Probe  ProbeKind
	Detail string
}

func (f FailureReason) String() string {
	return fmt.Sprintf("%s: %s", f.Probe, f.Detail)
}

// GateSuite aggregates probe results against configured thresholds into a
// final TrustDecision.
type GateSuite struct {
	thresholds map[ProbeKind]Threshold
}

// New creates a GateSuite from the configured per-probe thresholds.
func New(thresholds []Threshold) *GateSuite {
	m := make(map[ProbeKind]Threshold, len(thresholds))
	for _, t := range thresholds {
		m[t.Probe] = t
	}
	return &GateSuite{thresholds: m}
}

// Evaluate checks every probe result against its threshold and returns the
// aggregated trust tier plus an itemized failure list (spec.md §4.12).
func (g *GateSuite) Evaluate(results []ProbeResult) (types.TrustDecision, []FailureReason) {
	var failures []FailureReason

	for _, r := range results {
		th, ok := g.thresholds[r.Probe]
		if !ok {
			continue
		}
		switch r.Probe {
		case ProbeDoNothing:
			if abs(r.NetPnL) > th.MaxAbsNetPnL {
				failures = append(failures, FailureReason{
					Probe:  r.Probe,
					Detail: fmt.Sprintf("net P&L %d exceeds fee tolerance %d", r.NetPnL, th.MaxAbsNetPnL),
				})
			}
		case ProbeZeroEdge, ProbeRandomTaker, ProbeSignalInverter, ProbeSyntheticPriceGenerator:
			if th.MaxNetPnL != 0 && r.NetPnL > th.MaxNetPnL {
				failures = append(failures, FailureReason{
					Probe:  r.Probe,
					Detail: fmt.Sprintf("net P&L %d exceeds threshold %d", r.NetPnL, th.MaxNetPnL),
				})
			}
		}
	}

	switch {
	case len(failures) == 0:
		return types.TrustProduction, failures
	case len(failures) <= 1:
		return types.TrustExploratory, failures
	case len(failures) <= 2:
		return types.TrustSimulationOnly, failures
	default:
		return types.TrustRejected, failures
	}
}

func abs(v types.AmountFP) types.AmountFP {
	if v < 0 {
		return -v
	}
	return v
}
