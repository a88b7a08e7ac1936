// Package hermetic guards every API the replay loop must never touch: wall
// clock, file I/O, network I/O, environment reads, and thread/task spawn
// (spec.md §4.11, §5). Guards are keyed by a call-site identifier registered
// at startup so a violation is deterministic and attributable, not a
// runtime panic discovered by accident.
package hermetic

import (
	"fmt"
)

// Kind names a class of forbidden operation.
type Kind string

const (
	KindWallClock   Kind = "WallClock"
	KindFileIO      Kind = "FileIO"
	KindNetworkIO   Kind = "NetworkIO"
	KindEnvRead     Kind = "EnvRead"
	KindSpawn       Kind = "Spawn"
)

// Violation reports a forbidden API call observed during replay.
type Violation struct {
	Kind Kind
	Site string
}

func (v Violation) Error() string {
	return fmt.Sprintf("hermetic: forbidden %s call at %q", v.Kind, v.Site)
}

// Enforcer tracks registered call sites and, once armed, fails any guarded
// call with a Violation (spec.md §4.11: "any attempt fails with
// HermeticViolation{kind, site}").
type Enforcer struct {
	armed bool
	sites map[string]Kind
}

// New creates an Enforcer. Call Arm once subsystem construction (which may
// legitimately touch the filesystem to load the dataset) has completed and
// the replay loop is about to start.
func New() *Enforcer {
	return &Enforcer{sites: make(map[string]Kind)}
}

// Register records a call site's kind, so a later violation report names
// it deterministically rather than relying on a runtime stack trace.
func (e *Enforcer) Register(site string, kind Kind) {
	e.sites[site] = kind
}

// Arm switches the enforcer into replay mode: every Guard call after this
// point is checked.
func (e *Enforcer) Arm() { e.armed = true }

// Disarm exits replay mode. The orchestrator builds a fresh Enforcer for
// every session, TrustGate probe replays included, and does not call it.
func (e *Enforcer) Disarm() { e.armed = false }

// Guard must be called at the top of every forbidden API wrapper. It
// returns a Violation if armed, nil otherwise.
func (e *Enforcer) Guard(site string) error {
	if !e.armed {
		return nil
	}
	kind, ok := e.sites[site]
	if !ok {
		kind = KindWallClock
	}
	return Violation{Kind: kind, Site: site}
}

// Armed reports whether the enforcer is currently in replay mode.
func (e *Enforcer) Armed() bool { return e.armed }
