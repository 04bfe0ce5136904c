// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonic-net/sonic-linkmgrd/internal/config"
	"github.com/sonic-net/sonic-linkmgrd/internal/dbstore"
	"github.com/sonic-net/sonic-linkmgrd/internal/fsm"
	"github.com/sonic-net/sonic-linkmgrd/internal/linkprobe"
	"github.com/sonic-net/sonic-linkmgrd/internal/logging"
	"github.com/sonic-net/sonic-linkmgrd/internal/portactor"
)

func newTestRegistry(t *testing.T) (*Registry, dbstore.Client) {
	t.Helper()
	client := dbstore.NewMemClient()
	log := logging.New(logrus.ErrorLevel)
	writer := dbstore.NewWriter(client, log, 16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go writer.Run(ctx)

	r := New(writer, log)
	r.factory = func(linkprobe.Config, *logging.Logger) (portactor.Prober, error) {
		return noopProber{}, nil
	}
	t.Cleanup(r.Shutdown)
	return r, client
}

// noopProber satisfies portactor.Prober without doing any I/O, for
// registry-level wiring tests where the prober's own behavior is
// irrelevant.
type noopProber struct{}

func (noopProber) Run(ctx context.Context) error           { <-ctx.Done(); return nil }
func (noopProber) Events() <-chan fsm.LinkProberEvent       { return nil }
func (noopProber) SuspendExpired() <-chan struct{}         { return nil }
func (noopProber) SuspendTx(time.Duration)                 {}
func (noopProber) SetServerMAC(net.HardwareAddr)           {}
func (noopProber) SetInterval(time.Duration)               {}

func TestRegistry_AddOrUpdatePortIsLazyAndIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	ip := net.ParseIP("10.0.0.4")

	r.AddOrUpdatePort("Ethernet4", ip)
	r.mu.Lock()
	n := len(r.ports)
	r.mu.Unlock()
	assert.Equal(t, 1, n)

	r.AddOrUpdatePort("Ethernet4", ip)
	r.mu.Lock()
	n = len(r.ports)
	r.mu.Unlock()
	assert.Equal(t, 1, n, "a second sighting of the same port must not create a second actor")
}

func TestRegistry_UpdateServerMACResolvesByIP(t *testing.T) {
	r, _ := newTestRegistry(t)
	ip := net.ParseIP("10.0.0.4")
	r.AddOrUpdatePort("Ethernet4", ip)

	mac := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	r.UpdateServerMAC(ip, mac)

	r.mu.Lock()
	a := r.ports["Ethernet4"]
	r.mu.Unlock()
	require.NotNil(t, a)
}

func TestRegistry_UpdateGlobalConfigFansOutToAllActors(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.AddOrUpdatePort("Ethernet4", net.ParseIP("10.0.0.4"))
	r.AddOrUpdatePort("Ethernet8", net.ParseIP("10.0.0.8"))

	cfg := config.DefaultGlobalConfig()
	cfg.SuspendTimer = 5 * time.Second
	r.UpdateGlobalConfig(cfg)

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.cfg.Load().SuspendTimer == 5*time.Second
	}, time.Second, time.Millisecond)
}

func TestRegistry_OperationsOnUnknownPortAreNoops(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.NotPanics(t, func() {
		r.UpdateConfig("Ethernet99", config.ModeActive)
		r.UpdateLinkState("Ethernet99", true)
		r.UpdateMuxState("Ethernet99", fsm.MSActive)
	})
}
