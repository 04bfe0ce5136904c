// SPDX-License-Identifier: Apache-2.0

package portactor

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
)

// fakeProber satisfies the Prober interface without opening a real raw
// socket, so PortActor wiring can be exercised off Linux and without
// privileges.
type fakeProber struct {
	events         chan fsm.LinkProberEvent
	suspendExpired chan struct{}
	ran            chan struct{}
	suspendCalls   chan time.Duration
}

func newFakeProber(linkprobe.Config, *logging.Logger) (Prober, error) {
	return &fakeProber{
		events:         make(chan fsm.LinkProberEvent, 8),
		suspendExpired: make(chan struct{}, 1),
		ran:            make(chan struct{}, 1),
		suspendCalls:   make(chan time.Duration, 8),
	}, nil
}

func (f *fakeProber) Run(ctx context.Context) error {
	select {
	case f.ran <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil
}
func (f *fakeProber) Events() <-chan fsm.LinkProberEvent { return f.events }
func (f *fakeProber) SuspendExpired() <-chan struct{}    { return f.suspendExpired }
func (f *fakeProber) SuspendTx(d time.Duration) {
	select {
	case f.suspendCalls <- d:
	default:
	}
}
func (f *fakeProber) SetServerMAC(net.HardwareAddr) {}
func (f *fakeProber) SetInterval(time.Duration)     {}

func newTestActor(t *testing.T) (*Actor, dbstore.Client) {
	t.Helper()
	client := dbstore.NewMemClient()
	log := logging.New(logrus.DebugLevel)
	writer := dbstore.NewWriter(client, log, 16)
	go writer.Run(context.Background())

	gcfg := config.DefaultGlobalConfig()
	gcfg.ToRMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	gcfg.LoopbackIP = net.ParseIP("10.1.0.32")

	a := New("Ethernet4", "Ethernet4", net.ParseIP("10.0.0.4"), gcfg, writer, newFakeProber, log)
	t.Cleanup(a.Stop)
	return a, client
}

func TestActor_StartsProberOnceServerMACResolved(t *testing.T) {
	a, _ := newTestActor(t)
	a.UpdateServerMAC(net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff})

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.prober != nil
	}, time.Second, time.Millisecond)
}

func TestActor_LinkUpAndIcmpSelfReachHealthy(t *testing.T) {
	a, client := newTestActor(t)
	a.UpdateServerMAC(net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff})
	a.UpdateLinkState(true)

	// Drive enough IcmpSelfEvents to cross the default positive-signal
	// threshold and move LP out of Unknown.
	for i := 0; i < 3; i++ {
		a.post(mailEvent{kind: evICMP, icmp: fsm.LPEventSelf})
	}
	// MS starts in Wait, so muxStateChangeRetryCount (default 3) identical
	// reports are needed before it commits Active.
	for i := 0; i < 3; i++ {
		a.UpdateMuxState(fsm.MSActive)
	}

	require.Eventually(t, func() bool {
		v, ok := client.Table("STATE_DB|MUX_LINKMGR").Get("Ethernet4", "state")
		return ok && v == "healthy"
	}, time.Second, time.Millisecond)
}

func TestActor_ModeChangeIsObserved(t *testing.T) {
	a, _ := newTestActor(t)
	a.UpdateConfig(config.ModeManual)

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.portCfg.Mode == config.ModeManual
	}, time.Second, time.Millisecond)
}

func TestActor_StopIsIdempotentAndJoins(t *testing.T) {
	a, _ := newTestActor(t)
	a.Stop()
	a.Stop() // must not panic or block on a second close
	assert.NotNil(t, a)
}
