// SPDX-License-Identifier: Apache-2.0

package dbstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemTable_SetGetGetAll(t *testing.T) {
	c := NewMemClient()
	tbl := c.Table("CONFIG_DB|MUX_CABLE")

	tbl.Set("Ethernet4", "server_ipv4", "10.0.0.1")
	tbl.Set("Ethernet4", "state", "auto")

	v, ok := tbl.Get("Ethernet4", "server_ipv4")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", v)

	all := tbl.GetAll("Ethernet4")
	assert.Equal(t, "auto", all["state"])

	_, ok = tbl.Get("Ethernet8", "state")
	assert.False(t, ok)
}

func TestMemTable_KeysSorted(t *testing.T) {
	c := NewMemClient()
	tbl := c.Table("APPL_DB|PORT_TABLE")
	tbl.Set("Ethernet8", "oper_status", "up")
	tbl.Set("Ethernet4", "oper_status", "up")
	assert.Equal(t, []string{"Ethernet4", "Ethernet8"}, tbl.Keys())
}

func TestMemTable_DelAndDelField(t *testing.T) {
	c := NewMemClient()
	tbl := c.Table("STATE_DB|MUX_CABLE")
	tbl.Set("Ethernet4", "state", "active")
	tbl.DelField("Ethernet4", "state")
	_, ok := tbl.Get("Ethernet4", "state")
	assert.False(t, ok)

	tbl.Set("Ethernet4", "state", "active")
	tbl.Del("Ethernet4")
	assert.Nil(t, tbl.GetAll("Ethernet4"))
}

func TestMemTable_SubscribeNotifies(t *testing.T) {
	c := NewMemClient()
	tbl := c.Table("APPL_DB|MUX_CABLE_RESPONSE")
	sub := tbl.Subscribe()
	defer sub.Close()

	tbl.Set("Ethernet4", "response", "active")

	select {
	case e := <-sub.C():
		assert.Equal(t, "Ethernet4", e.Key)
		assert.Equal(t, "response", e.Field)
		assert.Equal(t, "active", e.Value)
		assert.Equal(t, OpSet, e.Op)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}

	tbl.Del("Ethernet4")
	select {
	case e := <-sub.C():
		assert.Equal(t, OpDel, e.Op)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delete notification")
	}
}

func TestMemClient_TableIsStableAcrossCalls(t *testing.T) {
	c := NewMemClient()
	c.Table("CONFIG_DB|MUX_CABLE").Set("Ethernet4", "state", "auto")
	v, ok := c.Table("CONFIG_DB|MUX_CABLE").Get("Ethernet4", "state")
	require.True(t, ok)
	assert.Equal(t, "auto", v)
}
