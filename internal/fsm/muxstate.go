// SPDX-License-Identifier: Apache-2.0

package fsm

// MuxStateLabel is the MS-FSM's current state (spec §4.5). Wait is the
// in-flight state while a probe or set is outstanding (spec §3).
type MuxStateLabel int

const (
	MSWait MuxStateLabel = iota
	MSActive
	MSStandby
	MSUnknown
	MSError
)

func (l MuxStateLabel) String() string {
	switch l {
	case MSActive:
		return "Active"
	case MSStandby:
		return "Standby"
	case MSUnknown:
		return "Unknown"
	case MSError:
		return "Error"
	default:
		return "Wait"
	}
}

// MuxStateEvent is the report alphabet driving the MS-FSM (spec §4.5).
type MuxStateEvent int

const (
	MSEventActiveReport MuxStateEvent = iota
	MSEventStandbyReport
	MSEventUnknownReport
	MSEventErrorReport
)

func (e MuxStateEvent) reportedLabel() MuxStateLabel {
	switch e {
	case MSEventActiveReport:
		return MSActive
	case MSEventStandbyReport:
		return MSStandby
	case MSEventErrorReport:
		return MSError
	default:
		return MSUnknown
	}
}

// MuxStateFSM is the 5-state machine over driver/"set"-intent reports
// (spec §4.5). In Wait, a report must be confirmed by
// muxStateChangeRetryCount consecutive identical reports before the
// transition commits; a non-matching report resets the confirmation
// counter (spec §4.5, confirmed against original_source's
// MuxStateMachine — see DESIGN.md Open Question 2).
type MuxStateFSM struct {
	label MuxStateLabel

	confirmRetry int

	pendingLabel    MuxStateLabel
	confirmCount    int
}

// NewMuxStateFSM constructs an MS-FSM in its initial Wait state.
func NewMuxStateFSM(confirmRetry int) *MuxStateFSM {
	if confirmRetry < 1 {
		confirmRetry = 1
	}
	return &MuxStateFSM{label: MSWait, confirmRetry: confirmRetry}
}

// Label returns the current state.
func (f *MuxStateFSM) Label() MuxStateLabel { return f.label }

// SetConfirmRetry updates muxStateChangeRetryCount from a new GlobalConfig
// snapshot.
func (f *MuxStateFSM) SetConfirmRetry(confirmRetry int) {
	if confirmRetry >= 1 {
		f.confirmRetry = confirmRetry
	}
}

// EnterWait forces the machine into Wait, e.g. when the CompositeFSM
// issues a SetMux or ProbeMux action (spec §3 invariant 4: at most one
// pending Set). Returns whether the label changed.
func (f *MuxStateFSM) EnterWait() bool {
	transitioned := f.label != MSWait
	f.label = MSWait
	f.pendingLabel = MSWait
	f.confirmCount = 0
	return transitioned
}

// Apply drives the MS-FSM with one report event and returns whether the
// label changed.
func (f *MuxStateFSM) Apply(event MuxStateEvent) (MuxStateLabel, bool) {
	reported := event.reportedLabel()
	if f.label != MSWait {
		transitioned := reported != f.label
		f.label = reported
		return f.label, transitioned
	}
	// In Wait: require confirmRetry consecutive identical reports.
	if reported != f.pendingLabel {
		f.pendingLabel = reported
		f.confirmCount = 1
	} else {
		f.confirmCount++
	}
	if f.confirmCount >= f.confirmRetry {
		f.label = reported
		f.pendingLabel = MSWait
		f.confirmCount = 0
		return f.label, true
	}
	return f.label, false
}
