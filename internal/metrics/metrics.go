// Package metrics implements MetricsCollector: histograms for fill
// attribution, slippage, and adverse selection (spec.md §2). It is grounded
// on the teacher's strategy.FlowTracker toxicity computation, generalized
// from a wall-clock rolling window (live trading) to an event-time rolling
// window driven entirely by the replay clock, and registered on a private
// prometheus.Registry rendered into RunArtifact.distributions after the
// run rather than scraped live, so the replay loop stays hermetic
// (SPEC_FULL.md §3).
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"

	"clobbacktest/pkg/types"
)

// fillRecord is one fill observed during replay, timestamped on the
// simulated clock (never wall time).
type fillRecord struct {
	at   types.Nanos
	side types.Side
}

// Collector owns a private Prometheus registry (never the global default
// one) plus the event-time rolling window used for adverse-selection
// detection.
type Collector struct {
	registry *prometheus.Registry

	fillAttribution *prometheus.HistogramVec
	slippage        *prometheus.HistogramVec
	adverseSelection prometheus.Histogram

	windowNs int64
	fills    []fillRecord
}

// New creates a Collector with the configured adverse-selection rolling
// window (nanoseconds of simulated time).
func New(windowNs int64) *Collector {
	reg := prometheus.NewRegistry()

	fillAttribution := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backtest_fill_attribution_ticks",
		Help:    "Signed distance in ticks between fill price and arrival-time mid, by maker/taker.",
		Buckets: prometheus.LinearBuckets(-10, 1, 21),
	}, []string{"liquidity_role"})

	slippage := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backtest_slippage_ticks",
		Help:    "Slippage in ticks between decision-time mid and realized fill price.",
		Buckets: prometheus.LinearBuckets(0, 1, 21),
	}, []string{"side"})

	adverseSelection := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "backtest_adverse_selection_score",
		Help:    "Composite toxicity score of recent fills (directional imbalance + fill velocity).",
		Buckets: prometheus.LinearBuckets(0, 0.05, 21),
	})

	reg.MustRegister(fillAttribution, slippage, adverseSelection)

	return &Collector{
		registry:         reg,
		fillAttribution:  fillAttribution,
		slippage:         slippage,
		adverseSelection: adverseSelection,
		windowNs:         windowNs,
	}
}

// ObserveFillAttribution records the signed tick distance between a fill's
// price and the arrival-time mid, split by whether we were maker or taker.
func (c *Collector) ObserveFillAttribution(isMaker bool, deltaTicks float64) {
	role := "taker"
	if isMaker {
		role = "maker"
	}
	c.fillAttribution.WithLabelValues(role).Observe(deltaTicks)
}

// ObserveSlippage records the slippage in ticks between the mid observed at
// decision time and the price actually realized.
func (c *Collector) ObserveSlippage(side types.Side, ticks float64) {
	c.slippage.WithLabelValues(string(side)).Observe(ticks)
}

// RecordFill feeds one fill into the adverse-selection rolling window,
// evicting entries older than windowNs relative to at (the simulated clock
// reading at fill time, never wall time).
func (c *Collector) RecordFill(at types.Nanos, side types.Side) {
	c.fills = append(c.fills, fillRecord{at: at, side: side})
	cutoff := at - types.Nanos(c.windowNs)
	i := 0
	for ; i < len(c.fills); i++ {
		if c.fills[i].at >= cutoff {
			break
		}
	}
	c.fills = c.fills[i:]

	score := c.toxicityScore(at)
	c.adverseSelection.Observe(score)
}

// toxicityScore recomputes the directional-imbalance + fill-velocity
// composite score over the current window, the same 60/40 weighting the
// teacher's FlowTracker used, but evaluated purely from event-time data so
// it is reproducible across runs.
func (c *Collector) toxicityScore(now types.Nanos) float64 {
	if len(c.fills) == 0 {
		return 0
	}
	var buy, sell int
	for _, f := range c.fills {
		if f.side == types.Buy {
			buy++
		} else {
			sell++
		}
	}
	total := float64(len(c.fills))
	dominant := float64(buy)
	if float64(sell) > dominant {
		dominant = float64(sell)
	}
	directional := dominant / total

	if len(c.fills) < 2 || c.windowNs == 0 {
		return directional * 0.6
	}
	windowMinutes := float64(c.windowNs) / float64(1e9) / 60
	velocity := total / windowMinutes
	velocityFactor := velocity / 3.0
	if velocityFactor > 1 {
		velocityFactor = 1
	}
	return 0.6*directional + 0.4*velocityFactor
}

// Gather returns every registered metric family, for rendering into
// RunArtifact.distributions after the run completes.
func (c *Collector) Gather() ([]*dto.MetricFamily, error) {
	return c.registry.Gather()
}

// HistogramSummary collapses one gathered metric family (summed across any
// label dimensions, e.g. maker/taker or side) into the count/sum/mean a
// RunArtifact persists; the full bucket layout is reconstructible from the
// Prometheus registry during live debugging but is not worth carrying into
// the archival document.
type HistogramSummary struct {
	Count uint64  `json:"count"`
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
}

// Summaries gathers every registered histogram and reduces each to a
// HistogramSummary keyed by metric name.
func (c *Collector) Summaries() (map[string]HistogramSummary, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]HistogramSummary, len(families))
	for _, fam := range families {
		var s HistogramSummary
		for _, m := range fam.GetMetric() {
			h := m.GetHistogram()
			if h == nil {
				continue
			}
			s.Count += h.GetSampleCount()
			s.Sum += h.GetSampleSum()
		}
		if s.Count > 0 {
			s.Mean = s.Sum / float64(s.Count)
		}
		out[fam.GetName()] = s
	}
	return out, nil
}
