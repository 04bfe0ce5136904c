// SPDX-License-Identifier: Apache-2.0

package dbstore

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sonic-net/sonic-linkmgrd/internal/fsm"
)

// Each parser here is a small pure function returning (value, error), per
// SPEC_FULL.md §4.2: a parse error is logged at Warning and the entry
// dropped, never stopping the watcher loop. Unknown fields are ignored by
// the caller before any of these are invoked.

// ParseIPv4 parses CONFIG_DB/MUX_CABLE.server_ipv4 and the Loopback2
// interface key's address component.
func ParseIPv4(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("not an IPv4 address: %q", s)
	}
	return ip.To4(), nil
}

// ParseMAC parses DEVICE_METADATA.mac and a netlink-resolved neighbor MAC.
func ParseMAC(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("not a MAC address: %w", err)
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("not a 6-byte MAC: %q", s)
	}
	return mac, nil
}

// ParseOperStatus parses APPL_DB/PORT_TABLE.oper_status ("up"/"down").
func ParseOperStatus(s string) (bool, error) {
	switch s {
	case "up":
		return true, nil
	case "down":
		return false, nil
	default:
		return false, fmt.Errorf("unrecognized oper_status: %q", s)
	}
}

// ParseMuxLabel parses APPL_DB/MUX_CABLE_RESPONSE.response and
// STATE_DB/MUX_CABLE.state ("active"/"standby"/"unknown"/"error").
func ParseMuxLabel(s string) (fsm.MuxStateLabel, error) {
	switch s {
	case "active":
		return fsm.MSActive, nil
	case "standby":
		return fsm.MSStandby, nil
	case "unknown":
		return fsm.MSUnknown, nil
	case "error":
		return fsm.MSError, nil
	default:
		return fsm.MSUnknown, fmt.Errorf("unrecognized mux state: %q", s)
	}
}

// MuxLabelString renders a MuxStateLabel back into the wire string the DB
// tables use, for the DB Writer's producer side. MSWait has no wire
// representation (spec.md §6: produced states are active/standby/unknown
// only); callers never write it.
func MuxLabelString(l fsm.MuxStateLabel) string {
	switch l {
	case fsm.MSActive:
		return "active"
	case fsm.MSStandby:
		return "standby"
	case fsm.MSError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseMillis parses a millisecond-valued tunable field (interval_v4,
// interval_v6, suspend_timer) from CONFIG_DB/MUX_LINKMGR.
func ParseMillis(s string) (time.Duration, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative duration: %d", n)
	}
	return time.Duration(n) * time.Millisecond, nil
}

// ParseCount parses an integer-valued tunable field (positive_signal_count,
// negative_signal_count).
func ParseCount(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %w", err)
	}
	if n < 1 {
		return 0, fmt.Errorf("count must be >= 1: %d", n)
	}
	return n, nil
}
