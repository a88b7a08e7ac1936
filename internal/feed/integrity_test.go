package feed

import "testing"

func TestIntegrityGuardFirstSeqAlwaysOK(t *testing.T) {
	t.Parallel()

	g := NewIntegrityGuard()
	if action := g.CheckSeq("tok1", 100, 5); action != seqOK {
		t.Fatalf("first seq action = %v, want seqOK", action)
	}
}

func TestIntegrityGuardConsecutiveSeqOK(t *testing.T) {
	t.Parallel()

	g := NewIntegrityGuard()
	g.CheckSeq("tok1", 1, 5)
	if action := g.CheckSeq("tok1", 2, 5); action != seqOK {
		t.Fatalf("consecutive seq action = %v, want seqOK", action)
	}
}

func TestIntegrityGuardGapWithinThreshold(t *testing.T) {
	t.Parallel()

	g := NewIntegrityGuard()
	g.CheckSeq("tok1", 1, 5)
	if action := g.CheckSeq("tok1", 4, 5); action != seqGapRecorded {
		t.Fatalf("gap action = %v, want seqGapRecorded", action)
	}
}

func TestIntegrityGuardGapBeyondThresholdTriggersResync(t *testing.T) {
	t.Parallel()

	g := NewIntegrityGuard()
	g.CheckSeq("tok1", 1, 5)
	if action := g.CheckSeq("tok1", 50, 5); action != seqPendingResync {
		t.Fatalf("large gap action = %v, want seqPendingResync", action)
	}
	if !g.PendingResync("tok1") {
		t.Errorf("expected token pending resync")
	}
	if action := g.CheckSeq("tok1", 51, 5); action != seqPendingResync {
		t.Fatalf("post-resync action = %v, want seqPendingResync", action)
	}
}

func TestIntegrityGuardResetTokenClearsResync(t *testing.T) {
	t.Parallel()

	g := NewIntegrityGuard()
	g.CheckSeq("tok1", 1, 5)
	g.CheckSeq("tok1", 50, 5)
	g.ResetToken("tok1", 50)
	if g.PendingResync("tok1") {
		t.Fatalf("expected resync cleared after ResetToken")
	}
	if action := g.CheckSeq("tok1", 51, 5); action != seqOK {
		t.Fatalf("post-reset seq action = %v, want seqOK", action)
	}
}

func TestIntegrityGuardDuplicateDetection(t *testing.T) {
	t.Parallel()

	g := NewIntegrityGuard()
	g.CheckSeq("tok1", 5, 5)
	if action := g.CheckSeq("tok1", 5, 5); action != seqDuplicateOrOld {
		t.Fatalf("duplicate action = %v, want seqDuplicateOrOld", action)
	}
	if action := g.CheckSeq("tok1", 3, 5); action != seqDuplicateOrOld {
		t.Fatalf("old seq action = %v, want seqDuplicateOrOld", action)
	}
}

func TestIntegrityGuardDefectRate(t *testing.T) {
	t.Parallel()

	g := NewIntegrityGuard()
	g.Gaps = 2
	g.InvalidPrices = 1
	if got := g.DefectRate(100); got != 0.03 {
		t.Errorf("DefectRate = %v, want 0.03", got)
	}
	if got := g.DefectRate(0); got != 0 {
		t.Errorf("DefectRate(0) = %v, want 0", got)
	}
}

func TestIntegrityGuardTokensIndependent(t *testing.T) {
	t.Parallel()

	g := NewIntegrityGuard()
	g.CheckSeq("tok1", 1, 5)
	g.CheckSeq("tok1", 50, 5) // tok1 goes pending resync

	if action := g.CheckSeq("tok2", 1, 5); action != seqOK {
		t.Fatalf("independent token action = %v, want seqOK", action)
	}
	if g.PendingResync("tok2") {
		t.Errorf("tok2 should not be affected by tok1's resync state")
	}
}
