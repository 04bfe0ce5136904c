// SPDX-License-Identifier: Apache-2.0

package dbstore

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonic-net/sonic-linkmgrd/internal/composite"
	"github.com/sonic-net/sonic-linkmgrd/internal/fsm"
	"github.com/sonic-net/sonic-linkmgrd/internal/logging"
)

func newTestWriter(t *testing.T) (*Writer, Client) {
	t.Helper()
	client := NewMemClient()
	log := logging.New(logrus.ErrorLevel)
	w := NewWriter(client, log, 16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)
	return w, client
}

func TestWriter_SetMuxState(t *testing.T) {
	w, client := newTestWriter(t)
	w.SetMuxState("Ethernet4", fsm.MSActive)

	require.Eventually(t, func() bool {
		v, ok := client.Table("APPL_DB|MUX_CABLE").Get("Ethernet4", "state")
		return ok && v == "active"
	}, time.Second, time.Millisecond)
}

func TestWriter_ProbeMuxState(t *testing.T) {
	w, client := newTestWriter(t)
	w.ProbeMuxState("Ethernet4")

	require.Eventually(t, func() bool {
		v, ok := client.Table("APPL_DB|MUX_CABLE_COMMAND").Get("Ethernet4", "command")
		return ok && v == "probe"
	}, time.Second, time.Millisecond)
}

func TestWriter_GetMuxStateSynchronous(t *testing.T) {
	w, client := newTestWriter(t)
	client.Table("STATE_DB|MUX_CABLE").Set("Ethernet4", "state", "standby")

	label, err := w.GetMuxState("Ethernet4")
	require.NoError(t, err)
	assert.Equal(t, fsm.MSStandby, label)
}

func TestWriter_GetMuxStateMissingIsError(t *testing.T) {
	w, _ := newTestWriter(t)
	_, err := w.GetMuxState("Ethernet8")
	assert.Error(t, err)
}

func TestWriter_SetLinkmgrHealth(t *testing.T) {
	w, client := newTestWriter(t)
	w.SetLinkmgrHealth("Ethernet4", composite.HealthHealthy)

	require.Eventually(t, func() bool {
		v, ok := client.Table("STATE_DB|MUX_LINKMGR").Get("Ethernet4", "state")
		return ok && v == "healthy"
	}, time.Second, time.Millisecond)
}

func TestWriter_PostMetricsStartClearsPriorRow(t *testing.T) {
	w, client := newTestWriter(t)
	now := time.Now()

	w.PostMetrics("Ethernet4", MetricsStart, fsm.MSActive, now)
	require.Eventually(t, func() bool {
		_, ok := client.Table("STATE_DB|MUX_METRICS").Get("Ethernet4", "linkmgrd_switch_active_start")
		return ok
	}, time.Second, time.Millisecond)

	// A second start for the opposite role must not leave the first
	// role's field behind (spec.md §3 invariant 5: cleared on every new
	// start).
	w.PostMetrics("Ethernet4", MetricsStart, fsm.MSStandby, now.Add(time.Second))
	require.Eventually(t, func() bool {
		_, ok := client.Table("STATE_DB|MUX_METRICS").Get("Ethernet4", "linkmgrd_switch_standby_start")
		return ok
	}, time.Second, time.Millisecond)

	_, ok := client.Table("STATE_DB|MUX_METRICS").Get("Ethernet4", "linkmgrd_switch_active_start")
	assert.False(t, ok)
}

func TestWriter_PostMetricsEnd(t *testing.T) {
	w, client := newTestWriter(t)
	now := time.Now()
	w.PostMetrics("Ethernet4", MetricsStart, fsm.MSActive, now)
	w.PostMetrics("Ethernet4", MetricsEnd, fsm.MSActive, now.Add(time.Millisecond))

	require.Eventually(t, func() bool {
		_, ok := client.Table("STATE_DB|MUX_METRICS").Get("Ethernet4", "linkmgrd_switch_active_end")
		return ok
	}, time.Second, time.Millisecond)
}

func TestWriter_EnqueueFallsBackWhenQueueFull(t *testing.T) {
	client := NewMemClient()
	log := logging.New(logrus.ErrorLevel)
	w := NewWriter(client, log, 1)
	// No Run goroutine consuming: every enqueue beyond the buffer runs
	// synchronously instead of blocking or dropping.
	for i := 0; i < 5; i++ {
		w.SetMuxState("Ethernet4", fsm.MSActive)
	}
	v, ok := client.Table("APPL_DB|MUX_CABLE").Get("Ethernet4", "state")
	require.True(t, ok)
	assert.Equal(t, "active", v)
}
