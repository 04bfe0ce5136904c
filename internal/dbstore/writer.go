// SPDX-License-Identifier: Apache-2.0

package dbstore

import (
	"context"
	"fmt"
	"time"

	"github.com/sonic-net/sonic-linkmgrd/internal/composite"
	"github.com/sonic-net/sonic-linkmgrd/internal/config"
	"github.com/sonic-net/sonic-linkmgrd/internal/fsm"
	"github.com/sonic-net/sonic-linkmgrd/internal/logging"
)

const (
	fieldState      = "state"
	fieldCommand    = "command"
	commandProbe    = "probe"
	tableMuxCommand = "APPL_DB|MUX_CABLE_COMMAND"
	tableMuxCable   = "APPL_DB|MUX_CABLE"
	tableLinkmgrState = "STATE_DB|MUX_LINKMGR"
	tableMetrics    = "STATE_DB|MUX_METRICS"
)

// MetricsKind distinguishes the start/end pairing of a switch attempt
// (spec.md §4.7 invariant 5, §6 MUX_METRICS fields).
type MetricsKind int

const (
	MetricsStart MetricsKind = iota
	MetricsEnd
)

// Writer is the DB Writer (C9): the five operations of spec.md §4.9,
// backed by a single serializing goroutine shared across every port so a
// slow DB never blocks a PortActor (spec.md §5).
type Writer struct {
	client Client
	log    *logging.Logger

	jobs chan func()
}

// NewWriter constructs a Writer with a bounded work queue.
func NewWriter(client Client, log *logging.Logger, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{client: client, log: log, jobs: make(chan func(), queueSize)}
}

// Run drains the work queue until ctx is cancelled. Exactly one goroutine
// should call Run (spec.md §4.9 "a dedicated serializing executor").
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			job()
		}
	}
}

func (w *Writer) enqueue(job func()) {
	select {
	case w.jobs <- job:
	default:
		// The queue is full: run it synchronously from the caller rather
		// than drop a write silently. This only happens if Run's consumer
		// has fallen far behind, which is itself an ErrDB-worthy condition
		// the caller should be observing via logs.
		job()
	}
}

// SetMuxState posts APPL_DB/MUX_CABLE.state = label (spec.md §6 producer
// table). This is the "SetMux" action's DB effect.
func (w *Writer) SetMuxState(port config.PortID, label fsm.MuxStateLabel) {
	w.enqueue(func() {
		w.client.Table(tableMuxCable).Set(string(port), fieldState, MuxLabelString(label))
	})
}

// ProbeMuxState posts APPL_DB/MUX_CABLE_COMMAND.command = "probe".
func (w *Writer) ProbeMuxState(port config.PortID) {
	w.enqueue(func() {
		w.client.Table(tableMuxCommand).Set(string(port), fieldCommand, commandProbe)
	})
}

// GetMuxState performs a synchronous hget of the driver-reported MUX
// state, per spec.md §4.9 ("getMuxState(port) -> label (synchronous
// hget)"). It is run on the same serializing executor as every other
// write so it cannot race a concurrent SetMuxState for the same port, but
// the call itself blocks its caller until the executor reaches it — the
// one "short DB hget call" spec.md §5 permits a PortActor to block on.
func (w *Writer) GetMuxState(port config.PortID) (fsm.MuxStateLabel, error) {
	type result struct {
		label fsm.MuxStateLabel
		err   error
	}
	done := make(chan result, 1)
	w.enqueue(func() {
		s, ok := w.client.Table(TableMuxState).Get(string(port), fieldState)
		if !ok {
			done <- result{err: &ErrDB{Op: "GetMuxState", Err: fmt.Errorf("no state for port %s", port)}}
			return
		}
		label, err := ParseMuxLabel(s)
		if err != nil {
			done <- result{err: &ErrDB{Op: "GetMuxState", Err: err}}
			return
		}
		done <- result{label: label}
	})
	r := <-done
	if r.err != nil {
		w.log.WithPort(string(port)).Warnf("%v", r.err)
	}
	return r.label, r.err
}

// SetLinkmgrHealth posts STATE_DB/MUX_LINKMGR.state (spec.md §6).
func (w *Writer) SetLinkmgrHealth(port config.PortID, health composite.Health) {
	w.enqueue(func() {
		w.client.Table(tableLinkmgrState).Set(string(port), fieldState, health.String())
	})
}

// PostMetrics posts STATE_DB/MUX_METRICS.linkmgrd_switch_{active|standby}_
// {start|end} = an ISO-like UTC timestamp (spec.md §4.7, §6). On a new
// start it first deletes any prior metrics row for the port (spec.md §3
// invariant 5: the start record is emitted exactly once per (start,end)
// pair, cleared on every new start).
func (w *Writer) PostMetrics(port config.PortID, kind MetricsKind, label fsm.MuxStateLabel, ts time.Time) {
	field := metricsField(kind, label)
	w.enqueue(func() {
		if kind == MetricsStart {
			w.client.Table(tableMetrics).Del(string(port))
		}
		w.client.Table(tableMetrics).Set(string(port), field, ts.UTC().Format(time.RFC3339Nano))
	})
}

func metricsField(kind MetricsKind, label fsm.MuxStateLabel) string {
	role := "standby"
	if label == fsm.MSActive {
		role = "active"
	}
	suffix := "start"
	if kind == MetricsEnd {
		suffix = "end"
	}
	return fmt.Sprintf("linkmgrd_switch_%s_%s", role, suffix)
}
