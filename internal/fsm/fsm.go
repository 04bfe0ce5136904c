// SPDX-License-Identifier: Apache-2.0

// Package fsm implements the three sub-state-machines of spec §4.4–§4.6:
// LinkProberFSM (LP), MuxStateFSM (MS) and LinkStateFSM (LS). Each is a
// small value type with its own debounce counters; entering a new state
// resets the counters that belong to it (spec §4.4 "Entering a new state
// resets its counters"). There is no dynamic dispatch or shared base
// class — each machine is a total function (label, event) -> label, per
// spec §9's explicit redesign instruction.
package fsm

// LinkProberLabel is the LP-FSM's current state (spec §4.4).
type LinkProberLabel int

const (
	LPUnknown LinkProberLabel = iota
	LPActive
	LPStandby
)

func (l LinkProberLabel) String() string {
	switch l {
	case LPActive:
		return "Active"
	case LPStandby:
		return "Standby"
	default:
		return "Unknown"
	}
}

// LinkProberEvent is the ICMP-evidence alphabet feeding the LP-FSM.
type LinkProberEvent int

const (
	LPEventSelf LinkProberEvent = iota
	LPEventPeer
	LPEventUnknown
)

// LinkProberFSM is the 3-state machine over ICMP evidence (spec §4.4).
type LinkProberFSM struct {
	label LinkProberLabel

	posRetry int
	negRetry int

	selfCount    int
	peerCount    int
	unknownCount int
}

// NewLinkProberFSM constructs an LP-FSM in its initial Unknown state,
// parameterized by the posRetry/negRetry thresholds from the current
// GlobalConfig snapshot.
func NewLinkProberFSM(posRetry, negRetry int) *LinkProberFSM {
	if posRetry < 1 {
		posRetry = 1
	}
	if negRetry < 1 {
		negRetry = 1
	}
	return &LinkProberFSM{label: LPUnknown, posRetry: posRetry, negRetry: negRetry}
}

// Label returns the current state.
func (f *LinkProberFSM) Label() LinkProberLabel { return f.label }

// SetThresholds updates the posRetry/negRetry thresholds from a new
// GlobalConfig snapshot; it does not reset counters or change state.
func (f *LinkProberFSM) SetThresholds(posRetry, negRetry int) {
	if posRetry >= 1 {
		f.posRetry = posRetry
	}
	if negRetry >= 1 {
		f.negRetry = negRetry
	}
}

// Adopt forces the LP-FSM to a label chosen by the CompositeFSM from
// hardware evidence rather than from ICMP evidence (spec §4.7 rules 6/7:
// the MUX driver's report becomes the LP-FSM's label directly when ICMP
// alone could not decide). It resets debounce counters like any other
// state entry and returns whether the label changed.
func (f *LinkProberFSM) Adopt(label LinkProberLabel) bool {
	return f.reset(label)
}

func (f *LinkProberFSM) reset(newLabel LinkProberLabel) bool {
	transitioned := newLabel != f.label
	f.label = newLabel
	f.selfCount, f.peerCount, f.unknownCount = 0, 0, 0
	return transitioned
}

// Apply drives the LP-FSM with one event and returns whether the label
// changed (spec §4.4, normative transition rule).
func (f *LinkProberFSM) Apply(event LinkProberEvent) (LinkProberLabel, bool) {
	switch f.label {
	case LPActive:
		switch event {
		case LPEventSelf:
			f.peerCount, f.unknownCount = 0, 0
		case LPEventPeer:
			f.peerCount++
			if f.peerCount >= f.posRetry {
				transitioned := f.reset(LPStandby)
				return f.label, transitioned
			}
		case LPEventUnknown:
			f.unknownCount++
			if f.unknownCount >= f.negRetry {
				transitioned := f.reset(LPUnknown)
				return f.label, transitioned
			}
		}
	case LPStandby:
		switch event {
		case LPEventPeer:
			f.selfCount, f.unknownCount = 0, 0
		case LPEventSelf:
			f.selfCount++
			if f.selfCount >= f.posRetry {
				transitioned := f.reset(LPActive)
				return f.label, transitioned
			}
		case LPEventUnknown:
			f.unknownCount++
			if f.unknownCount >= f.negRetry {
				transitioned := f.reset(LPUnknown)
				return f.label, transitioned
			}
		}
	case LPUnknown:
		switch event {
		case LPEventSelf:
			f.selfCount++
			if f.selfCount >= f.posRetry {
				transitioned := f.reset(LPActive)
				return f.label, transitioned
			}
		case LPEventPeer:
			f.peerCount++
			if f.peerCount >= f.posRetry {
				transitioned := f.reset(LPStandby)
				return f.label, transitioned
			}
		case LPEventUnknown:
			// stay; no counters to track in Unknown for repeated Unknown.
		}
	}
	return f.label, false
}
