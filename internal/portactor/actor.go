// SPDX-License-Identifier: Apache-2.0

// Package portactor implements the PortActor (C8, spec.md §4.8): a
// single-threaded event queue per port that owns that port's three
// sub-FSMs and CompositeFSM, and sequentializes every event reaching it
// from the DB Watcher, the Link Prober's receive path, and the Link
// Prober's suspend-expiry signal — generalizing pkg/pillar/cmd/nim's single agent-wide `select`
// loop from "one loop for the whole agent" to "one loop per port."
package portactor

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sonic-net/sonic-linkmgrd/internal/composite"
	"github.com/sonic-net/sonic-linkmgrd/internal/config"
	"github.com/sonic-net/sonic-linkmgrd/internal/dbstore"
	"github.com/sonic-net/sonic-linkmgrd/internal/fsm"
	"github.com/sonic-net/sonic-linkmgrd/internal/linkprobe"
	"github.com/sonic-net/sonic-linkmgrd/internal/logging"
)

// ProberFactory constructs the Link Prober for a port once its blade IP
// and interface are known; injected so tests can supply a fake that
// needs no real raw socket.
type ProberFactory func(cfg linkprobe.Config, log *logging.Logger) (Prober, error)

// Prober is the subset of *linkprobe.Prober the Actor depends on.
type Prober interface {
	Run(ctx context.Context) error
	Events() <-chan fsm.LinkProberEvent
	SuspendExpired() <-chan struct{}
	SuspendTx(d time.Duration)
	SetServerMAC(mac net.HardwareAddr)
	SetInterval(d time.Duration)
}

type eventKind int

const (
	evICMP eventKind = iota
	evMuxStateReport
	evMuxResponseReport
	evLinkState
	evModeChange
	evGlobalConfig
	evServerMAC
	evSuspendExpired
)

type mailEvent struct {
	kind eventKind

	icmp fsm.LinkProberEvent
	mux  fsm.MuxStateEvent
	up   bool
	mode config.Mode
	gcfg config.GlobalConfig
	mac  net.HardwareAddr
}

// Actor is the PortActor (C8): one mailbox goroutine per port, owning
// its LP/MS/LS sub-FSMs and CompositeFSM state by value, per spec.md §9's
// explicit redesign instruction ("cross-actor references are only via
// message posting").
type Actor struct {
	id      config.PortID
	log     *logging.Logger
	writer  *dbstore.Writer
	factory ProberFactory

	ifaceName string

	mailbox chan mailEvent

	mu         sync.Mutex
	portCfg    config.PortConfig
	globalCfg  config.GlobalConfig

	lp *fsm.LinkProberFSM
	ms *fsm.MuxStateFSM
	ls *fsm.LinkStateFSM
	st composite.State

	prober     Prober
	proberStop context.CancelFunc

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New constructs an Actor in its spec.md §3 initial state
// (LP=Unknown, MS=Wait, LS=Down) and starts its mailbox goroutine.
// ifaceName is the Linux network interface this port's raw ICMP socket
// binds to (normally the port name itself).
func New(id config.PortID, ifaceName string, serverIP net.IP, globalCfg config.GlobalConfig, writer *dbstore.Writer, factory ProberFactory, log *logging.Logger) *Actor {
	a := &Actor{
		id:        id,
		log:       log.WithPort(string(id)),
		writer:    writer,
		factory:   factory,
		ifaceName: ifaceName,
		mailbox:   make(chan mailEvent, 256),
		portCfg:   config.PortConfig{Name: id, ServerIP: serverIP, Mode: config.ModeAuto},
		globalCfg: globalCfg,
		lp:        fsm.NewLinkProberFSM(globalCfg.PositiveSignalCount, globalCfg.NegativeSignalCount),
		ms:        fsm.NewMuxStateFSM(globalCfg.MuxStateChangeRetryCount),
		ls:        fsm.NewLinkStateFSM(globalCfg.LinkStateChangeRetryCount),
		st:        composite.NewState(config.ModeAuto),
		done:      make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// post enqueues an event from a caller (DB Watcher, netlink monitor, or
// a Link Prober goroutine). It blocks only while the mailbox is full, and
// returns at once, dropping the event, after Stop.
func (a *Actor) post(ev mailEvent) {
	select {
	case a.mailbox <- ev:
	case <-a.done:
	}
}

// UpdateConfig posts a CLI-forced mode change (spec.md §4.1).
func (a *Actor) UpdateConfig(mode config.Mode) { a.post(mailEvent{kind: evModeChange, mode: mode}) }

// UpdateLinkState posts a NIC operstate change (spec.md §4.1).
func (a *Actor) UpdateLinkState(up bool) { a.post(mailEvent{kind: evLinkState, up: up}) }

// UpdateMuxState posts a STATE_DB/MUX_CABLE driver report (spec.md §4.1).
func (a *Actor) UpdateMuxState(label fsm.MuxStateLabel) {
	a.post(mailEvent{kind: evMuxStateReport, mux: reportEventFor(label)})
}

// UpdateMuxResponse posts an APPL_DB/MUX_CABLE_RESPONSE probe result
// (spec.md §4.1). It is dispatched identically to a driver state report:
// both are reports the MS-FSM reduces the same way (spec.md §4.5).
func (a *Actor) UpdateMuxResponse(label fsm.MuxStateLabel) {
	a.post(mailEvent{kind: evMuxResponseReport, mux: reportEventFor(label)})
}

// UpdateServerMAC posts a netlink-resolved server MAC (spec.md §4.1).
func (a *Actor) UpdateServerMAC(mac net.HardwareAddr) {
	a.post(mailEvent{kind: evServerMAC, mac: mac})
}

// UpdateGlobalConfig posts a new tunable snapshot (spec.md §5 "Shared
// resources": readers observe it on their next handler invocation).
func (a *Actor) UpdateGlobalConfig(cfg config.GlobalConfig) {
	a.post(mailEvent{kind: evGlobalConfig, gcfg: cfg})
}

// Stop signals the Actor to drain and exit, then blocks until it has
// (spec.md §5 Shutdown).
func (a *Actor) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
	a.wg.Wait()
}

func reportEventFor(label fsm.MuxStateLabel) fsm.MuxStateEvent {
	switch label {
	case fsm.MSActive:
		return fsm.MSEventActiveReport
	case fsm.MSStandby:
		return fsm.MSEventStandbyReport
	case fsm.MSError:
		return fsm.MSEventErrorReport
	default:
		return fsm.MSEventUnknownReport
	}
}

func (a *Actor) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			for {
				select {
				case ev := <-a.mailbox:
					a.handle(ev)
					continue
				default:
				}
				break
			}
			a.shutdownProber()
			return
		case ev := <-a.mailbox:
			a.handle(ev)
		}
	}
}

func (a *Actor) handle(ev mailEvent) {
	switch ev.kind {
	case evICMP:
		a.lp.Apply(ev.icmp)
		a.st.MarkObserved(true, false, false)
		a.relabelAndEvaluate(composite.Event{Kind: composite.EventRelabel})

	case evMuxStateReport, evMuxResponseReport:
		a.st.LP, a.st.LS = a.lp.Label(), a.ls.Label()
		a.st.MarkObserved(false, true, false)
		next, actions := composite.DriveMuxReport(a.st, a.ms, ev.mux)
		a.commit(next, actions)
		// A response-table report is handled identically to a driver
		// state report (spec.md §4.5); deleting the APPL_DB/
		// MUX_CABLE_RESPONSE response field is the DB Watcher's concern,
		// not the Actor's.

	case evLinkState:
		if ev.up {
			a.ls.Apply(fsm.LSEventUp)
		} else {
			a.ls.Apply(fsm.LSEventDown)
		}
		a.st.MarkObserved(false, false, true)
		a.relabelAndEvaluate(composite.Event{Kind: composite.EventRelabel})

	case evModeChange:
		a.mu.Lock()
		a.portCfg.Mode = ev.mode
		a.mu.Unlock()
		a.relabelAndEvaluate(composite.Event{Kind: composite.EventMuxConfig, Mode: ev.mode})

	case evGlobalConfig:
		a.applyGlobalConfig(ev.gcfg)

	case evServerMAC:
		a.applyServerMAC(ev.mac)

	case evSuspendExpired:
		a.relabelAndEvaluate(composite.Event{Kind: composite.EventSuspendTimerExpired})
	}
}

func (a *Actor) relabelAndEvaluate(ev composite.Event) {
	a.st.LP, a.st.MS, a.st.LS = a.lp.Label(), a.ms.Label(), a.ls.Label()
	next, actions := composite.Evaluate(a.st, ev)
	a.commit(next, actions)
}

func (a *Actor) commit(next composite.State, actions []composite.Action) {
	next = composite.ApplyWaitEntries(next, a.ms, actions)
	composite.AdoptLPIfChanged(next, a.lp)
	a.st = next
	a.runActions(actions)
}

func (a *Actor) runActions(actions []composite.Action) {
	for _, act := range actions {
		switch act.Kind {
		case composite.ActionSetMux:
			a.writer.SetMuxState(a.id, act.MuxLabel)
			a.writer.PostMetrics(a.id, dbstore.MetricsStart, act.MuxLabel, act.Timestamp)
		case composite.ActionProbeMux:
			a.writer.ProbeMuxState(a.id)
		case composite.ActionGetMux:
			go a.fetchMuxState()
		case composite.ActionSuspendLinkProberTx:
			if a.prober != nil {
				a.prober.SuspendTx(a.currentSuspendTimer())
			}
		case composite.ActionPostMetricsEnd:
			a.writer.PostMetrics(a.id, dbstore.MetricsEnd, act.MuxLabel, act.Timestamp)
		case composite.ActionSetLinkmgrHealth:
			a.writer.SetLinkmgrHealth(a.id, act.Health)
		}
	}
}

func (a *Actor) currentSuspendTimer() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.globalCfg.SuspendTimer
}

// fetchMuxState performs the synchronous GetMuxState read off the
// mailbox goroutine (it blocks on the DB Writer's serializing executor,
// spec.md §4.9) and feeds the result back in as an ordinary mailbox
// event so it is still applied on the Actor's single thread.
func (a *Actor) fetchMuxState() {
	label, err := a.writer.GetMuxState(a.id)
	if err != nil {
		// DbError (spec.md §7): logged by the Writer already; no retry
		// here, the watcher/driver will re-deliver state on its own.
		return
	}
	a.post(mailEvent{kind: evMuxStateReport, mux: reportEventFor(label)})
}

func (a *Actor) applyGlobalConfig(cfg config.GlobalConfig) {
	a.mu.Lock()
	a.globalCfg = cfg
	a.mu.Unlock()

	a.lp.SetThresholds(cfg.PositiveSignalCount, cfg.NegativeSignalCount)
	a.ms.SetConfirmRetry(cfg.MuxStateChangeRetryCount)
	a.ls.SetRetry(cfg.LinkStateChangeRetryCount)
	if a.prober != nil {
		a.prober.SetInterval(cfg.IntervalV4)
	}
}

func (a *Actor) applyServerMAC(mac net.HardwareAddr) {
	a.mu.Lock()
	a.portCfg.ServerMAC = mac
	ready := a.portCfg.Ready()
	cfg := a.portCfg
	gcfg := a.globalCfg
	a.mu.Unlock()

	if a.prober != nil {
		a.prober.SetServerMAC(mac)
		return
	}
	if !ready || a.factory == nil {
		return
	}
	a.startProber(cfg, gcfg)
}

func (a *Actor) startProber(cfg config.PortConfig, gcfg config.GlobalConfig) {
	p, err := a.factory(linkprobe.Config{
		Port:      a.id,
		Interface: a.ifaceName,
		BladeIP:   cfg.ServerIP,
		ServerMAC: cfg.ServerMAC,
		ToRMAC:    gcfg.ToRMAC,
		SourceIP:  gcfg.LoopbackIP,
		GUID:      gcfg.ProbeGUID,
		Interval:  gcfg.IntervalV4,
	}, a.log)
	if err != nil {
		a.log.Errorf("starting link prober: %v", err)
		return
	}
	a.prober = p

	ctx, cancel := context.WithCancel(context.Background())
	a.proberStop = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := p.Run(ctx); err != nil {
			a.log.Errorf("link prober stopped: %v", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-p.Events():
				if !ok {
					return
				}
				a.post(mailEvent{kind: evICMP, icmp: ev})
			case _, ok := <-p.SuspendExpired():
				if !ok {
					return
				}
				a.post(mailEvent{kind: evSuspendExpired})
			}
		}
	}()
}

func (a *Actor) shutdownProber() {
	if a.proberStop != nil {
		a.proberStop()
	}
}
