// SPDX-License-Identifier: Apache-2.0

// Package netlinkmon wraps vishvananda/netlink's neighbor-table
// subscription to resolve a dual-homed port's server MAC from its blade
// IP (spec.md §6 "Netlink"), the way pkg/pillar's nireconciler/linuxitems
// configurators wrap netlink for a single narrow concern rather than
// building a general netlink abstraction.
package netlinkmon

import (
	"context"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/sonic-net/sonic-linkmgrd/internal/dbstore"
	"github.com/sonic-net/sonic-linkmgrd/internal/logging"
)

// Monitor subscribes RTNLGRP_NEIGH, replays an RTM_GETNEIGH dump at
// startup, and republishes every RTM_NEWNEIGH/RTM_DELNEIGH as a
// dbstore.NeighEvent.
type Monitor struct {
	log *logging.Logger
	out chan dbstore.NeighEvent
}

// New constructs a Monitor. Events is unbuffered-safe: Run does not start
// producing until Run is called, and Events() may be called beforehand to
// obtain the channel to wire into the Watcher.
func New(log *logging.Logger) *Monitor {
	return &Monitor{log: log, out: make(chan dbstore.NeighEvent, 64)}
}

// Events returns the channel of resolved/withdrawn neighbor entries.
func (m *Monitor) Events() <-chan dbstore.NeighEvent { return m.out }

// Run subscribes to neighbor updates and blocks until ctx is cancelled.
// Per spec.md §6: requests an RTM_GETNEIGH dump at startup, then handles
// RTM_NEWNEIGH/RTM_DELNEIGH by updating the server-MAC-for-server-IP
// mapping.
func (m *Monitor) Run(ctx context.Context) error {
	updates := make(chan netlink.NeighUpdate, 64)
	done := make(chan struct{})
	if err := netlink.NeighSubscribe(updates, done); err != nil {
		return fmt.Errorf("netlink neigh subscribe: %w", err)
	}
	defer close(done)

	neighs, err := netlink.NeighList(0, netlink.FAMILY_V4)
	if err != nil {
		m.log.Warnf("netlink neigh dump failed: %v", err)
	} else {
		for _, n := range neighs {
			m.publish(n, false)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			deleted := upd.Type == unix.RTM_DELNEIGH
			m.publish(upd.Neigh, deleted || isDelNeigh(upd))
		}
	}
}

// isDelNeigh reports whether this update removed the neighbor entry
// rather than adding/changing it, using the NUD state the kernel reports
// rather than relying solely on the raw message type.
func isDelNeigh(upd netlink.NeighUpdate) bool {
	return upd.Neigh.State == netlink.NUD_FAILED || upd.Neigh.State == netlink.NUD_INCOMPLETE
}

func (m *Monitor) publish(n netlink.Neigh, deleted bool) {
	if n.IP == nil || n.IP.To4() == nil {
		return // link-local / IPv6 neighbor entries are not blade IPs here
	}
	if len(n.HardwareAddr) != 6 {
		if !deleted {
			return
		}
	}
	m.out <- dbstore.NeighEvent{
		ServerIP: n.IP.To4(),
		MAC:      net.HardwareAddr(append([]byte(nil), n.HardwareAddr...)),
		Deleted:  deleted,
	}
}
