// SPDX-License-Identifier: Apache-2.0

package composite

import "github.com/sonic-net/sonic-linkmgrd/internal/fsm"

// PendingKind exposes State's in-flight hardware round-trip kind to
// callers outside this package (spec.md §4.8 PortActor, §4.9 DB Writer):
// it is what lets DriveMuxReport tell a report that merely confirms the
// MS-FSM's current label apart from one that resolves an outstanding
// Probe/Get/Set.
type PendingKind int

const (
	PendingNone PendingKind = iota
	PendingGet
	PendingProbe
	PendingSet
)

// Pending reports the State's current in-flight round-trip kind.
func (s State) Pending() PendingKind { return PendingKind(s.pending) }

// DriveMuxReport applies one MS-FSM report (a driver state report from
// STATE_DB/MUX_CABLE, or the synchronous result of a GetMux DB read) and
// re-evaluates the CompositeFSM with the event kind that report actually
// corresponds to: a bare relabel for an organic, unsolicited report, or
// EventMuxProbeResponse/EventMuxGetResponse when a Probe/Get was
// outstanding (spec.md §4.7 rules 4-7 need to tell these apart). This is
// the single seam every caller — the PortActor and every test — should
// use instead of hand-rolling the MS-FSM-apply / OnMuxConfirmed /
// Evaluate sequence themselves.
func DriveMuxReport(st State, ms *fsm.MuxStateFSM, ev fsm.MuxStateEvent) (State, []Action) {
	wasPending := st.pending
	label, committed := ms.Apply(ev)
	st.MS = label

	var actions []Action
	if !committed {
		return Evaluate(st, Event{Kind: EventRelabel})
	}

	if end, ok := st.OnMuxConfirmed(label); ok {
		actions = append(actions, end)
	}

	var kind EventKind
	switch wasPending {
	case pendingProbe:
		kind = EventMuxProbeResponse
	case pendingGet:
		kind = EventMuxGetResponse
	default:
		kind = EventRelabel
	}

	next, more := Evaluate(st, Event{Kind: kind, MuxLabel: label})
	return next, append(actions, more...)
}

// ApplyWaitEntries walks a fresh action batch and puts the MS-FSM into
// Wait wherever Evaluate asked for a Set or Probe (spec.md §4.7 doc
// contract: "whenever an emitted Action is ActionProbeMux or ActionSetMux,
// call the MS-FSM's EnterWait before the next Evaluate call"), keeping
// st.MS in sync with the forced transition. It is a no-op for any other
// action kind.
func ApplyWaitEntries(st State, ms *fsm.MuxStateFSM, actions []Action) State {
	for _, a := range actions {
		if a.Kind == ActionProbeMux || a.Kind == ActionSetMux {
			ms.EnterWait()
			st.MS = ms.Label()
		}
	}
	return st
}

// AdoptLPIfChanged forces the LP-FSM to agree with State.LP when Evaluate
// adopted a label from hardware evidence (rules 6/7) rather than from
// ICMP evidence, mirroring what a PortActor must do to keep the real
// LP-FSM consistent with the CompositeFSM's view.
func AdoptLPIfChanged(st State, lp *fsm.LinkProberFSM) {
	if st.LP != lp.Label() {
		lp.Adopt(st.LP)
	}
}
