// SPDX-License-Identifier: Apache-2.0

// Package composite implements the CompositeFSM (spec §4.7): it fuses the
// LP/MS/LS sub-FSM labels and a handful of explicit events into a single
// composite state and an ordered list of side-effecting Actions. Evaluate
// is a pure function so the end-to-end scenarios of spec §8 can be
// replayed directly against it without any I/O.
package composite

import (
	"time"

	"github.com/sonic-net/sonic-linkmgrd/internal/config"
	"github.com/sonic-net/sonic-linkmgrd/internal/fsm"
)

// Health is the operator-visible summary of spec §4.7.
type Health int

const (
	HealthUninitialized Health = iota
	HealthHealthy
	HealthUnhealthy
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "uninitialized"
	}
}

// pendingIntent tracks the single in-flight hardware round-trip this port
// may have outstanding (spec §3 invariant 4: at most one pending "set mux
// state" intent per port).
type pendingIntent int

const (
	pendingNone pendingIntent = iota
	pendingGet
	pendingProbe
	pendingSet
)

// State is the observable composite triple (spec §3) plus the bookkeeping
// Evaluate needs across calls: whether each of LP/MS/LS has been observed
// at least once (for Uninitialized health), whether a suspend-tx is in
// effect, the single in-flight get/probe/set round-trip, and the
// metrics-pairing bookkeeping of spec §4.7 invariant 5.
type State struct {
	LP fsm.LinkProberLabel
	MS fsm.MuxStateLabel
	LS fsm.LinkStateLabel

	Mode config.Mode

	Health Health

	lpSeen, msSeen, lsSeen bool

	suspended bool

	pending       pendingIntent
	pendingTarget fsm.MuxStateLabel
	// resolvingLP is true when the pending get/probe exists specifically to
	// resolve an Unknown LP label against hardware truth (rules 6 and 7).
	resolvingLP bool

	metricsOpen  bool
	metricsLabel fsm.MuxStateLabel
}

// NewState returns the zero composite state (spec §3 initial labels:
// LP=Unknown, MS=Wait, LS=Down).
func NewState(mode config.Mode) State {
	return State{
		LP:     fsm.LPUnknown,
		MS:     fsm.MSWait,
		LS:     fsm.LSDown,
		Mode:   mode,
		Health: HealthUninitialized,
	}
}

// ActionKind enumerates the CompositeFSM's side-effecting outputs (spec
// §4.7).
type ActionKind int

const (
	ActionSetMux ActionKind = iota
	ActionProbeMux
	ActionGetMux
	ActionSuspendLinkProberTx
	ActionPostMetricsEnd
	ActionSetLinkmgrHealth
)

func (k ActionKind) String() string {
	switch k {
	case ActionSetMux:
		return "SetMux"
	case ActionProbeMux:
		return "ProbeMux"
	case ActionGetMux:
		return "GetMux"
	case ActionSuspendLinkProberTx:
		return "SuspendLinkProberTx"
	case ActionPostMetricsEnd:
		return "PostMetricsEnd"
	default:
		return "SetLinkmgrHealth"
	}
}

// Action is one side effect the PortActor must carry out (spec §4.7).
type Action struct {
	Kind ActionKind

	// MuxLabel is set for ActionSetMux / ActionPostMetricsEnd.
	MuxLabel fsm.MuxStateLabel

	// SuspendFor is set for ActionSuspendLinkProberTx.
	SuspendFor time.Duration

	// Health is set for ActionSetLinkmgrHealth.
	Health Health

	// Timestamp is set for ActionSetMux (the metrics start record) and
	// ActionPostMetricsEnd.
	Timestamp time.Time
}

// EventKind enumerates composite-level events (spec §4.7 inputs, beyond
// the three sub-FSM label updates which the caller applies to the
// sub-FSMs before calling Evaluate with EventRelabel).
type EventKind int

const (
	// EventRelabel tells Evaluate to re-derive actions after one of the
	// sub-FSM labels in State has been updated in place by the caller.
	EventRelabel EventKind = iota
	EventMuxConfig
	EventSuspendTimerExpired
	EventMuxProbeResponse
	EventMuxGetResponse
)

// Event is the explicit-event alphabet of spec §4.7.
type Event struct {
	Kind EventKind
	// MuxLabel is set for EventMuxProbeResponse / EventMuxGetResponse.
	MuxLabel fsm.MuxStateLabel
	// Mode is set for EventMuxConfig.
	Mode config.Mode
}

// nowFunc is overridable in tests so metrics timestamps are deterministic;
// production code leaves it as time.Now.
var nowFunc = time.Now

// MarkObserved records that a sub-FSM label has been set at least once
// from a real event, for Uninitialized-health derivation (spec §4.7
// "Uninitialized before the first complete (lp, ms, ls) triple has been
// observed").
func (s *State) MarkObserved(lp, ms, ls bool) {
	s.lpSeen = s.lpSeen || lp
	s.msSeen = s.msSeen || ms
	s.lsSeen = s.lsSeen || ls
}

// Evaluate is the CompositeFSM's pure transition function (spec §4.7,
// rules 1-8, plus CLI-forced active/manual modes and health derivation).
//
// Callers are responsible for two pieces of wiring this package does not
// own: (1) driving the LP/MS/LS sub-FSMs themselves and copying their
// post-Apply labels into State before calling Evaluate with EventRelabel;
// (2) whenever an emitted Action is ActionProbeMux or ActionSetMux,
// calling the MS-FSM's EnterWait before the next Evaluate call — the MUX
// driver itself is the thing that actually enters Wait while it acts on
// the command, and the composite state must mirror that. When the MS-FSM
// subsequently commits out of Wait while a probe/get is outstanding
// (State.pending != none), the caller reports it as EventMuxProbeResponse
// or EventMuxGetResponse carrying the committed label, not a bare
// EventRelabel — that distinction is what resolves rules 4/5/6/7.
func Evaluate(st State, ev Event) (State, []Action) {
	if ev.Kind == EventMuxConfig {
		st.Mode = ev.Mode
	}

	var actions []Action

	switch st.Mode {
	case config.ModeManual:
		// "emit no Set/Probe at all; purely observe."
	case config.ModeActive:
		// CLI-forced active: bypass lp, never issue Standby.
		if st.MS != fsm.MSActive && st.pending == pendingNone {
			actions = append(actions, st.issueSetMux(fsm.MSActive))
		}
	default:
		actions = st.evaluateAuto(ev)
	}

	issuedIntent := false
	for _, a := range actions {
		if a.Kind == ActionSetMux || a.Kind == ActionProbeMux {
			issuedIntent = true
			break
		}
	}
	if st.MS != fsm.MSWait && !issuedIntent {
		st.pending = pendingNone
		st.resolvingLP = false
	}

	st = deriveHealth(st)
	actions = append(actions, Action{Kind: ActionSetLinkmgrHealth, Health: st.Health})
	return st, actions
}

func (st *State) evaluateAuto(ev Event) []Action {
	// A probe/set issued to resolve an Unknown LP against hardware truth
	// (rules 6 and 7) is resolved here, once the MS-FSM has actually left
	// Wait with its answer, regardless of which event kind the caller
	// used to report it — the spec defines no separate "set response"
	// event, so the authoritative signal is State.MS itself, not ev.Kind.
	// Rule 6's probe is read-only observation: whatever it reports is
	// adopted. Rule 7's Set is an assertion, not a read: the hardware
	// accepting our forced Active claim proves nothing about lp (it stays
	// Unknown until ICMP itself confirms), but the hardware rejecting it
	// is real contradicting evidence ("the response is Standby, we were
	// rejected - go to (5)") and is adopted.
	if st.resolvingLP && st.pending != pendingNone && st.MS != fsm.MSWait {
		wasAssertion := st.pending == pendingSet
		target := st.pendingTarget
		st.pending = pendingNone
		st.resolvingLP = false
		if !wasAssertion || st.MS != target {
			st.adoptLPFromHardware(st.MS)
		} else {
			// Our own assertion was accepted: that confirms nothing about
			// lp (we can't tell self-success from the peer having agreed
			// for unrelated reasons), so stay idle one tick and let ICMP
			// confirm it directly instead of immediately re-entering rule
			// 6's ambiguity-resolution cycle against our own fresh state.
			return nil
		}
	}

	var actions []Action

	switch {
	case st.LS == fsm.LSDown:
		// Rule 1: no probes while down; force Standby if either source
		// still thinks we are Active.
		if st.pending == pendingNone && (st.LP == fsm.LPActive || st.MS == fsm.MSActive) {
			actions = append(actions, st.issueSetMux(fsm.MSStandby))
		}

	case st.LP == fsm.LPActive && st.MS == fsm.MSActive:
		// Rule 2: steady Healthy.

	case st.LP == fsm.LPStandby && st.MS == fsm.MSStandby:
		// Rule 3: steady Healthy.

	case st.LP == fsm.LPActive && (st.MS == fsm.MSStandby || st.MS == fsm.MSUnknown):
		// Rule 4: trust probes but verify hardware.
		actions = st.trustButVerify(fsm.MSActive)

	case st.LP == fsm.LPStandby && (st.MS == fsm.MSActive || st.MS == fsm.MSUnknown):
		// Rule 5: symmetric to rule 4.
		actions = st.trustButVerify(fsm.MSStandby)

	case st.LP == fsm.LPUnknown && st.MS == fsm.MSActive:
		// Rule 6: peer may have taken over without us knowing.
		if ev.Kind == EventSuspendTimerExpired {
			st.suspended = false
			if st.pending == pendingNone {
				st.pending = pendingProbe
				st.resolvingLP = true
				actions = append(actions, Action{Kind: ActionProbeMux})
			}
			break
		}
		if !st.suspended {
			st.suspended = true
			actions = append(actions, Action{Kind: ActionSuspendLinkProberTx})
		}

	case st.LP == fsm.LPUnknown && (st.MS == fsm.MSStandby || st.MS == fsm.MSUnknown):
		// Rule 7: bias toward self-activation when uncertain.
		if st.pending == pendingNone {
			st.pending = pendingSet
			st.resolvingLP = true
			actions = append(actions, st.issueSetMux(fsm.MSActive))
		}

	case st.MS == fsm.MSError:
		// Rule 8: keep retrying ProbeMux; no Sets until non-Error.
		if st.pending == pendingNone {
			st.pending = pendingProbe
			actions = append(actions, Action{Kind: ActionProbeMux})
		}

	case st.MS == fsm.MSWait && st.pending == pendingNone:
		// Startup / unsolicited Wait with no outstanding intent of our
		// own: read current hardware state once.
		st.pending = pendingGet
		actions = append(actions, Action{Kind: ActionGetMux})
	}

	return actions
}

// trustButVerify implements the shared shape of rules 4 and 5: probe the
// hardware when LP trusts a label MS disagrees with or hasn't confirmed
// yet, then act once the MS-FSM's probe commits.
func (st *State) trustButVerify(trusted fsm.MuxStateLabel) []Action {
	if st.pending != pendingNone {
		if st.MS == fsm.MSWait {
			return nil // still outstanding
		}
		st.pending = pendingNone
		if st.MS == trusted {
			return nil
		}
		return []Action{st.issueSetMux(trusted)}
	}
	st.pending = pendingProbe
	return []Action{{Kind: ActionProbeMux}}
}

// adoptLPFromHardware resolves an Unknown LP label against an
// authoritative hardware report (rule 6): the MUX driver's report becomes
// our inferred peer/self evidence when ICMP alone could not decide.
func (st *State) adoptLPFromHardware(label fsm.MuxStateLabel) {
	if label == fsm.MSActive {
		st.LP = fsm.LPActive
	} else {
		st.LP = fsm.LPStandby
	}
}

// issueSetMux emits ActionSetMux and opens the metrics start/end pairing
// (spec §4.7 "on entering MS=Wait via a Set action, delete any prior
// metrics row for this port, then write start"). Invariant 4 (at most one
// pending set) is enforced by callers only calling this when
// st.pending == pendingNone.
func (st *State) issueSetMux(label fsm.MuxStateLabel) Action {
	now := nowFunc()
	st.pending = pendingSet
	st.pendingTarget = label
	st.metricsOpen = true
	st.metricsLabel = label
	return Action{Kind: ActionSetMux, MuxLabel: label, Timestamp: now}
}

// OnMuxConfirmed records the metrics "end" pairing when the MS-FSM
// commits out of Wait (spec §4.7 "On MS leaving Wait to the intended
// label, write end"). It returns the PostMetricsEnd action if one is due.
// Callers invoke this once per MS-FSM commit, before re-running Evaluate
// with the new label.
func (s *State) OnMuxConfirmed(committed fsm.MuxStateLabel) (Action, bool) {
	if !s.metricsOpen {
		return Action{}, false
	}
	s.metricsOpen = false
	if committed != s.metricsLabel {
		return Action{}, false
	}
	return Action{Kind: ActionPostMetricsEnd, MuxLabel: committed, Timestamp: nowFunc()}, true
}

// lpAgreesWithMS reports whether the LP-FSM's and MS-FSM's labels describe
// the same role, without relying on their enum orderings lining up.
func lpAgreesWithMS(lp fsm.LinkProberLabel, ms fsm.MuxStateLabel) bool {
	switch lp {
	case fsm.LPActive:
		return ms == fsm.MSActive
	case fsm.LPStandby:
		return ms == fsm.MSStandby
	default:
		return false
	}
}

func deriveHealth(st State) State {
	switch {
	case !st.lpSeen || !st.msSeen || !st.lsSeen:
		st.Health = HealthUninitialized
	case st.LS == fsm.LSUp && lpAgreesWithMS(st.LP, st.MS):
		st.Health = HealthHealthy
	default:
		st.Health = HealthUnhealthy
	}
	return st
}
