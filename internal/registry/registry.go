// SPDX-License-Identifier: Apache-2.0

// Package registry implements the Config & Port Registry (C1, spec.md
// §4.1): the map from port name to its PortActor, lazily created on
// first sight of a port, and the six notification-posting operations
// the DB Watcher drives. It satisfies dbstore.Reactor so the Watcher
// depends only on that narrow interface.
package registry

import (
	"net"
	"sync"

	"github.com/sonic-net/sonic-linkmgrd/internal/config"
	"github.com/sonic-net/sonic-linkmgrd/internal/dbstore"
	"github.com/sonic-net/sonic-linkmgrd/internal/fsm"
	"github.com/sonic-net/sonic-linkmgrd/internal/linkprobe"
	"github.com/sonic-net/sonic-linkmgrd/internal/logging"
	"github.com/sonic-net/sonic-linkmgrd/internal/portactor"
)

// Registry is the Port Registry (C1): guards the port -> PortActor map
// and the current GlobalConfig snapshot, and lazily creates a PortActor
// on first observation of a port (spec.md §3 Lifecycle: "never destroyed
// before process shutdown").
type Registry struct {
	log     *logging.Logger
	writer  *dbstore.Writer
	factory portactor.ProberFactory

	mu    sync.Mutex
	ports map[config.PortID]*portactor.Actor
	ips   map[string]config.PortID // ServerIP.String() -> port, for UpdateServerMAC
	cfg   *config.Snapshot
}

// New constructs an empty Registry. The GlobalConfig snapshot starts at
// defaults; UpdateGlobalConfig (driven by the DB Watcher's startup
// sequence) fills in ToRMAC/LoopbackIP/ProbeGUID before any port can
// become link-prober-ready.
func New(writer *dbstore.Writer, log *logging.Logger) *Registry {
	return &Registry{
		log:     log,
		writer:  writer,
		factory: newRealProber,
		ports:   make(map[config.PortID]*portactor.Actor),
		ips:     make(map[string]config.PortID),
		cfg:     config.NewSnapshot(config.DefaultGlobalConfig()),
	}
}

func newRealProber(cfg linkprobe.Config, log *logging.Logger) (portactor.Prober, error) {
	p, err := linkprobe.New(cfg, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AddOrUpdatePort implements dbstore.Reactor: lazily creates the
// PortActor for `name` on first sight — spec.md §4.1's `addOrUpdatePort`.
// For an existing port it only records the server IP in the IP->port
// index; nothing is posted to the existing actor, which keeps the server
// IP it was created with.
func (r *Registry) AddOrUpdatePort(name config.PortID, serverIP net.IP) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ips[serverIP.String()] = name

	if _, ok := r.ports[name]; ok {
		// SONiC's MUX_CABLE server_ipv4 is effectively static for the
		// lifetime of a port; re-creating the actor on a change would
		// lose in-flight FSM state for no benefit this daemon needs, so
		// subsequent calls are recorded only in the IP->port index above.
		return
	}

	actor := portactor.New(name, string(name), serverIP, r.cfg.Load(), r.writer, r.factory, r.log)
	r.ports[name] = actor
}

// UpdateConfig implements dbstore.Reactor (spec.md §4.1 `updateConfig`).
func (r *Registry) UpdateConfig(name config.PortID, mode config.Mode) {
	if a := r.get(name); a != nil {
		a.UpdateConfig(mode)
	}
}

// UpdateLinkState implements dbstore.Reactor (spec.md §4.1
// `updateLinkState`).
func (r *Registry) UpdateLinkState(name config.PortID, up bool) {
	if a := r.get(name); a != nil {
		a.UpdateLinkState(up)
	}
}

// UpdateMuxState implements dbstore.Reactor (spec.md §4.1
// `updateMuxState`).
func (r *Registry) UpdateMuxState(name config.PortID, label fsm.MuxStateLabel) {
	if a := r.get(name); a != nil {
		a.UpdateMuxState(label)
	}
}

// UpdateMuxResponse implements dbstore.Reactor (spec.md §4.1
// `updateMuxResponse`).
func (r *Registry) UpdateMuxResponse(name config.PortID, label fsm.MuxStateLabel) {
	if a := r.get(name); a != nil {
		a.UpdateMuxResponse(label)
	}
}

// UpdateServerMAC implements dbstore.Reactor (spec.md §4.1
// `updateServerMac`): resolves the owning port from its blade IP and
// posts the resolved MAC.
func (r *Registry) UpdateServerMAC(serverIP net.IP, mac net.HardwareAddr) {
	r.mu.Lock()
	name, ok := r.ips[serverIP.String()]
	actor := r.ports[name]
	r.mu.Unlock()
	if ok && actor != nil {
		actor.UpdateServerMAC(mac)
	}
}

// UpdateGlobalConfig implements dbstore.Reactor: publishes a new tunable
// snapshot and fans it out to every live PortActor.
func (r *Registry) UpdateGlobalConfig(cfg config.GlobalConfig) {
	r.cfg.Store(cfg)
	r.mu.Lock()
	actors := make([]*portactor.Actor, 0, len(r.ports))
	for _, a := range r.ports {
		actors = append(actors, a)
	}
	r.mu.Unlock()
	for _, a := range actors {
		a.UpdateGlobalConfig(cfg)
	}
}

func (r *Registry) get(name config.PortID) *portactor.Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ports[name]
}

// Shutdown signals and joins every PortActor (spec.md §3 Lifecycle, §5
// Shutdown). It does not join the DB Watcher; the caller does that.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	actors := make([]*portactor.Actor, 0, len(r.ports))
	for _, a := range r.ports {
		actors = append(actors, a)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range actors {
		wg.Add(1)
		go func(a *portactor.Actor) {
			defer wg.Done()
			a.Stop()
		}(a)
	}
	wg.Wait()
}
