// SPDX-License-Identifier: Apache-2.0

package dbstore

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/sonic-net/sonic-linkmgrd/internal/config"
	"github.com/sonic-net/sonic-linkmgrd/internal/fsm"
	"github.com/sonic-net/sonic-linkmgrd/internal/logging"
)

// newProbeGUID generates the process-wide UUIDv4 carried in every Link
// Prober payload (spec.md §3 Global state, §4.3).
func newProbeGUID() ([16]byte, error) {
	id := uuid.NewV4()
	var out [16]byte
	copy(out[:], id.Bytes())
	return out, nil
}

// Table/key names, spec.md §6.
const (
	TableLinkmgrConfig  = "CONFIG_DB|MUX_LINKMGR"
	TableMuxCableConfig = "CONFIG_DB|MUX_CABLE"
	TableDeviceMetadata = "CONFIG_DB|DEVICE_METADATA"
	TableLoopbackIntf   = "CONFIG_DB|LOOPBACK_INTERFACE"
	TablePortOperStatus = "APPL_DB|PORT_TABLE"
	TableMuxResponse    = "APPL_DB|MUX_CABLE_RESPONSE"
	TableMuxState       = "STATE_DB|MUX_CABLE"

	keyLinkProber     = "LINK_PROBER"
	keyDeviceLocalhost = "localhost"
	loopbackIfName     = "Loopback2"
)

// Reactor is the set of Port Registry operations (spec.md §4.1) the
// Watcher drives from table notifications. It is satisfied by
// internal/registry.Registry; the Watcher depends only on this narrow
// interface so dbstore never imports the registry package.
type Reactor interface {
	AddOrUpdatePort(name config.PortID, serverIP net.IP)
	UpdateConfig(name config.PortID, mode config.Mode)
	UpdateLinkState(name config.PortID, up bool)
	UpdateMuxState(name config.PortID, label fsm.MuxStateLabel)
	UpdateMuxResponse(name config.PortID, label fsm.MuxStateLabel)
	UpdateServerMAC(serverIP net.IP, mac net.HardwareAddr)
	UpdateGlobalConfig(cfg config.GlobalConfig)
}

// Watcher is the DB Watcher (C2): one dedicated goroutine multiplexing
// six sources with a 1-second idle tick, per spec.md §4.2.
type Watcher struct {
	client  Client
	reactor Reactor
	log     *logging.Logger
	neigh   <-chan NeighEvent

	// ipToPort lets UpdateServerMAC (keyed by the resolved server IP) be
	// routed to the right port; maintained from MUX_CABLE config entries.
	ipToPort map[string]config.PortID

	// startupCfg holds the startup-only fields (ToRMAC, LoopbackIP,
	// ProbeGUID) so later MUX_LINKMGR updates can carry them forward.
	startupCfg config.GlobalConfig
}

// NeighEvent is the netlink neighbor monitor's output (see
// internal/netlinkmon), consumed here as an opaque channel so dbstore
// does not import the netlink binding directly.
type NeighEvent struct {
	ServerIP net.IP
	MAC      net.HardwareAddr
	Deleted  bool
}

// NewWatcher constructs a Watcher. neigh is the netlink monitor's event
// channel, passed in rather than owned so tests can supply a fake one.
func NewWatcher(client Client, reactor Reactor, log *logging.Logger, neigh <-chan NeighEvent) *Watcher {
	return &Watcher{
		client:   client,
		reactor:  reactor,
		log:      log,
		neigh:    neigh,
		ipToPort: make(map[string]config.PortID),
	}
}

// Run executes the startup sequence then the six-source select loop,
// blocking until ctx is cancelled (spec.md §4.2, §5 Shutdown).
func (w *Watcher) Run(ctx context.Context) error {
	torMAC, err := w.readToRMAC()
	if err != nil {
		return err
	}
	loopbackIP, err := w.readLoopbackIP()
	if err != nil {
		return err
	}

	guid, err := newProbeGUID()
	if err != nil {
		return fmt.Errorf("generating probe guid: %w", err)
	}

	cfg := config.DefaultGlobalConfig()
	cfg.ToRMAC = torMAC
	cfg.LoopbackIP = loopbackIP
	cfg.ProbeGUID = guid
	w.startupCfg = cfg
	w.applyLinkmgrConfig(cfg.LoopbackIP, torMAC, guid, w.client.Table(TableLinkmgrConfig).GetAll(keyLinkProber), &cfg)
	w.reactor.UpdateGlobalConfig(cfg)

	w.seedMuxCableTable()

	subLinkmgr := w.client.Table(TableLinkmgrConfig).Subscribe()
	subMuxCable := w.client.Table(TableMuxCableConfig).Subscribe()
	subPortTable := w.client.Table(TablePortOperStatus).Subscribe()
	subMuxResponse := w.client.Table(TableMuxResponse).Subscribe()
	subMuxState := w.client.Table(TableMuxState).Subscribe()
	defer subLinkmgr.Close()
	defer subMuxCable.Close()
	defer subPortTable.Close()
	defer subMuxResponse.Close()
	defer subMuxState.Close()

	idle := time.NewTicker(time.Second)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-subLinkmgr.C():
			if !ok {
				return nil
			}
			w.handleLinkmgrConfig(e)

		case e, ok := <-subMuxCable.C():
			if !ok {
				return nil
			}
			w.handleMuxCableConfig(e)

		case e, ok := <-subPortTable.C():
			if !ok {
				return nil
			}
			w.handlePortOperStatus(e)

		case e, ok := <-subMuxResponse.C():
			if !ok {
				return nil
			}
			w.handleMuxResponse(e)

		case e, ok := <-subMuxState.C():
			if !ok {
				return nil
			}
			w.handleMuxState(e)

		case n, ok := <-w.neigh:
			if !ok {
				w.neigh = nil
				continue
			}
			w.handleNeigh(n)

		case <-idle.C:
			// Idle tick: nothing to do besides giving the select loop a
			// bounded wakeup cadence, per spec.md §4.2.
		}
	}
}

func (w *Watcher) readToRMAC() (net.HardwareAddr, error) {
	s, ok := w.client.Table(TableDeviceMetadata).Get(keyDeviceLocalhost, "mac")
	if !ok || s == "" {
		return nil, &ErrConfigMissing{What: "DEVICE_METADATA.localhost.mac"}
	}
	mac, err := ParseMAC(s)
	if err != nil {
		return nil, &ErrConfigMissing{What: fmt.Sprintf("DEVICE_METADATA.localhost.mac: %v", err)}
	}
	return mac, nil
}

func (w *Watcher) readLoopbackIP() (net.IP, error) {
	for _, key := range w.client.Table(TableLoopbackIntf).Keys() {
		if !strings.HasPrefix(key, loopbackIfName+"|") {
			continue
		}
		addrPart := strings.TrimPrefix(key, loopbackIfName+"|")
		addrPart = strings.SplitN(addrPart, "/", 2)[0]
		ip, err := ParseIPv4(addrPart)
		if err == nil {
			return ip, nil
		}
	}
	return nil, &ErrConfigMissing{What: "LOOPBACK_INTERFACE: no Loopback2 IPv4 present"}
}

func (w *Watcher) seedMuxCableTable() {
	t := w.client.Table(TableMuxCableConfig)
	for _, port := range t.Keys() {
		w.applyMuxCableRow(config.PortID(port), t.GetAll(port))
	}
}

func (w *Watcher) applyMuxCableRow(port config.PortID, row map[string]string) {
	if ipStr, ok := row["server_ipv4"]; ok {
		ip, err := ParseIPv4(ipStr)
		if err != nil {
			w.log.WithPort(string(port)).Warnf("%v", &ErrParse{Table: TableMuxCableConfig, Key: string(port), Field: "server_ipv4", Err: err})
		} else {
			w.ipToPort[ip.String()] = port
			w.reactor.AddOrUpdatePort(port, ip)
		}
	}
	if modeStr, ok := row["state"]; ok {
		w.reactor.UpdateConfig(port, config.ParseMode(modeStr))
	}
}

func (w *Watcher) handleMuxCableConfig(e Entry) {
	if e.Op == OpDel {
		return
	}
	port := config.PortID(e.Key)
	switch e.Field {
	case "server_ipv4":
		ip, err := ParseIPv4(e.Value)
		if err != nil {
			w.log.WithPort(e.Key).Warnf("%v", &ErrParse{Table: e.Table, Key: e.Key, Field: e.Field, Err: err})
			return
		}
		w.ipToPort[ip.String()] = port
		w.reactor.AddOrUpdatePort(port, ip)
	case "state":
		w.reactor.UpdateConfig(port, config.ParseMode(e.Value))
	default:
		// Unknown field: ignored, per spec.md §4.2.
	}
}

func (w *Watcher) handlePortOperStatus(e Entry) {
	if e.Op == OpDel || e.Field != "oper_status" {
		return
	}
	up, err := ParseOperStatus(e.Value)
	if err != nil {
		w.log.WithPort(e.Key).Warnf("%v", &ErrParse{Table: e.Table, Key: e.Key, Field: e.Field, Err: err})
		return
	}
	w.reactor.UpdateLinkState(config.PortID(e.Key), up)
}

func (w *Watcher) handleMuxResponse(e Entry) {
	if e.Op == OpDel || e.Field != "response" {
		return
	}
	label, err := ParseMuxLabel(e.Value)
	if err != nil {
		w.log.WithPort(e.Key).Warnf("%v", &ErrParse{Table: e.Table, Key: e.Key, Field: e.Field, Err: err})
		return
	}
	w.reactor.UpdateMuxResponse(config.PortID(e.Key), label)
	// Response-table cleanup (SPEC_FULL.md §4.7, DESIGN.md Open Question
	// 3): delete the field once delivered so a spurious re-subscribe
	// cannot replay a stale response.
	w.client.Table(e.Table).DelField(e.Key, e.Field)
}

func (w *Watcher) handleMuxState(e Entry) {
	if e.Op == OpDel || e.Field != "state" {
		return
	}
	label, err := ParseMuxLabel(e.Value)
	if err != nil {
		w.log.WithPort(e.Key).Warnf("%v", &ErrParse{Table: e.Table, Key: e.Key, Field: e.Field, Err: err})
		return
	}
	w.reactor.UpdateMuxState(config.PortID(e.Key), label)
}

func (w *Watcher) handleNeigh(n NeighEvent) {
	if n.Deleted {
		return
	}
	w.reactor.UpdateServerMAC(n.ServerIP, n.MAC)
}

func (w *Watcher) handleLinkmgrConfig(e Entry) {
	if e.Op == OpDel {
		return
	}
	row := w.client.Table(TableLinkmgrConfig).GetAll(keyLinkProber)
	cfg := config.DefaultGlobalConfig()
	w.applyLinkmgrConfig(w.startupCfg.LoopbackIP, w.startupCfg.ToRMAC, w.startupCfg.ProbeGUID, row, &cfg)
	w.reactor.UpdateGlobalConfig(cfg)
}

// applyLinkmgrConfig fills in the tunables from a CONFIG_DB/MUX_LINKMGR
// row, falling back to defaults for any field absent or malformed
// (spec.md §7 ParseError: log+drop, don't fail the whole update). torMAC/
// loopbackIP/guid, when non-nil, are preserved verbatim (they are
// startup-only fields never re-read from this table).
func (w *Watcher) applyLinkmgrConfig(loopbackIP net.IP, torMAC net.HardwareAddr, guid [16]byte, row map[string]string, cfg *config.GlobalConfig) {
	if loopbackIP != nil {
		cfg.LoopbackIP = loopbackIP
	}
	if torMAC != nil {
		cfg.ToRMAC = torMAC
	}
	if guid != ([16]byte{}) {
		cfg.ProbeGUID = guid
	}
	for field, raw := range row {
		switch field {
		case "interval_v4":
			if v, err := ParseMillis(raw); err == nil {
				cfg.IntervalV4 = v
			} else {
				w.log.Warnf("%v", &ErrParse{Table: TableLinkmgrConfig, Key: keyLinkProber, Field: field, Err: err})
			}
		case "interval_v6":
			if v, err := ParseMillis(raw); err == nil {
				cfg.IntervalV6 = v
			} else {
				w.log.Warnf("%v", &ErrParse{Table: TableLinkmgrConfig, Key: keyLinkProber, Field: field, Err: err})
			}
		case "positive_signal_count":
			if v, err := ParseCount(raw); err == nil {
				cfg.PositiveSignalCount = v
			} else {
				w.log.Warnf("%v", &ErrParse{Table: TableLinkmgrConfig, Key: keyLinkProber, Field: field, Err: err})
			}
		case "negative_signal_count":
			if v, err := ParseCount(raw); err == nil {
				cfg.NegativeSignalCount = v
			} else {
				w.log.Warnf("%v", &ErrParse{Table: TableLinkmgrConfig, Key: keyLinkProber, Field: field, Err: err})
			}
		case "suspend_timer":
			if v, err := ParseMillis(raw); err == nil {
				cfg.SuspendTimer = v
			} else {
				w.log.Warnf("%v", &ErrParse{Table: TableLinkmgrConfig, Key: keyLinkProber, Field: field, Err: err})
			}
		default:
			// Unknown field: ignored.
		}
	}
}
