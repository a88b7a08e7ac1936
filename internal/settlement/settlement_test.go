package settlement

import (
	"testing"

	"clobbacktest/pkg/types"
)

func baseSpec() Spec {
	return Spec{
		WindowStart:           0,
		WindowEnd:             1000,
		ReferenceRule:         types.RuleLastUpdateAtOrBeforeCutoff,
		RoundingRule:          types.RoundNearest,
		TieRule:               types.TieYesWins,
		RepresentativenessMin: 1,
	}
}

func TestResolveUnavailableWhenNothingUsableAndNoFallback(t *testing.T) {
	t.Parallel()

	e := New()
	_, err := e.Resolve(baseSpec(), nil, 500, nil)
	if err != Exhausted {
		t.Errorf("err = %v, want Exhausted", err)
	}
}

func TestResolveLastUpdateAtOrBeforeCutoff(t *testing.T) {
	t.Parallel()

	e := New()
	ticks := []ReferenceTick{
		{Answer: 60, SourceTime: 100, ArrivalTime: 100},
		{Answer: 70, SourceTime: 900, ArrivalTime: 900},
		{Answer: 80, SourceTime: 1100, ArrivalTime: 1100}, // outside window, ignored
	}
	out, err := e.Resolve(baseSpec(), ticks, 2000, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Reference != 70 {
		t.Errorf("Reference = %d, want 70 (last update at or before window end)", out.Reference)
	}
	if !out.YesWins {
		t.Errorf("YesWins = false, want true (70 > 50)")
	}
}

func TestResolveRespectsDecisionTimeVisibility(t *testing.T) {
	t.Parallel()

	e := New()
	ticks := []ReferenceTick{
		{Answer: 70, SourceTime: 900, ArrivalTime: 5000}, // not yet visible at decisionTime=2000
	}
	_, err := e.Resolve(baseSpec(), ticks, 2000, nil)
	if err != Exhausted {
		t.Errorf("err = %v, want Exhausted (tick not yet visible at decision time)", err)
	}
}

func TestResolveTieRuleVoid(t *testing.T) {
	t.Parallel()

	e := New()
	spec := baseSpec()
	spec.TieRule = types.TieVoid
	ticks := []ReferenceTick{{Answer: 50, SourceTime: 100, ArrivalTime: 100}}

	out, err := e.Resolve(spec, ticks, 2000, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !out.Void {
		t.Error("expected Void=true for exact-50 tie under TieVoid")
	}
}

func TestResolveFallsBackWhenBelowRepresentativenessMin(t *testing.T) {
	t.Parallel()

	e := New()
	spec := baseSpec()
	spec.RepresentativenessMin = 5 // never satisfied by the single tick below

	ticks := []ReferenceTick{{Answer: 70, SourceTime: 100, ArrivalTime: 100}}
	fallbacks := []FallbackSource{
		{Reason: types.FallbackMark, Price: func() (types.Tick, bool) { return 65, true }},
	}

	out, err := e.Resolve(spec, ticks, 2000, fallbacks)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Reference != 65 || out.FallbackReason != types.FallbackMark {
		t.Errorf("Outcome = %+v, want Reference=65 FallbackReason=Mark", out)
	}
}

func TestResolveTriesFallbacksInOrder(t *testing.T) {
	t.Parallel()

	e := New()
	spec := baseSpec()
	spec.RepresentativenessMin = 5

	fallbacks := []FallbackSource{
		{Reason: types.FallbackRecordedReference, Price: func() (types.Tick, bool) { return 0, false }},
		{Reason: types.FallbackMark, Price: func() (types.Tick, bool) { return 55, true }},
		{Reason: types.FallbackVenueMid, Price: func() (types.Tick, bool) { return 60, true }},
	}

	out, err := e.Resolve(spec, nil, 2000, fallbacks)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Reference != 55 || out.FallbackReason != types.FallbackMark {
		t.Errorf("Outcome = %+v, want the first fallback that can supply a price (Mark)", out)
	}
}

func TestResolveVWAPOverWindow(t *testing.T) {
	t.Parallel()

	e := New()
	spec := baseSpec()
	spec.ReferenceRule = types.RuleVWAPOverWindow
	ticks := []ReferenceTick{
		{Answer: 40, SourceTime: 100, ArrivalTime: 100},
		{Answer: 60, SourceTime: 200, ArrivalTime: 200},
	}
	out, err := e.Resolve(spec, ticks, 2000, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Reference != 50 {
		t.Errorf("Reference = %d, want 50 (average of 40 and 60)", out.Reference)
	}
}
