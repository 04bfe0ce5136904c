// SPDX-License-Identifier: Apache-2.0

package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMuxStateFSM_InitialState(t *testing.T) {
	f := NewMuxStateFSM(3)
	assert.Equal(t, MSWait, f.Label())
}

func TestMuxStateFSM_DirectReportsApplyImmediatelyOutsideWait(t *testing.T) {
	f := NewMuxStateFSM(3)
	label, changed := f.Apply(MSEventActiveReport)
	assert.Equal(t, MSActive, label)
	assert.True(t, changed)

	// Once out of Wait, a single contradicting report flips immediately;
	// no debounce applies outside Wait.
	label, changed = f.Apply(MSEventStandbyReport)
	assert.Equal(t, MSStandby, label)
	assert.True(t, changed)

	label, changed = f.Apply(MSEventStandbyReport)
	assert.Equal(t, MSStandby, label)
	assert.False(t, changed)
}

func TestMuxStateFSM_WaitRequiresConsecutiveConfirmations(t *testing.T) {
	f := NewMuxStateFSM(3)

	label, changed := f.Apply(MSEventActiveReport)
	assert.Equal(t, MSWait, label)
	assert.False(t, changed)

	label, changed = f.Apply(MSEventActiveReport)
	assert.Equal(t, MSWait, label)
	assert.False(t, changed)

	label, changed = f.Apply(MSEventActiveReport)
	assert.Equal(t, MSActive, label)
	assert.True(t, changed)
}

func TestMuxStateFSM_WaitResetsConfirmationOnMismatch(t *testing.T) {
	f := NewMuxStateFSM(3)
	f.Apply(MSEventActiveReport)
	f.Apply(MSEventActiveReport)

	label, changed := f.Apply(MSEventStandbyReport)
	assert.Equal(t, MSWait, label)
	assert.False(t, changed)

	// Counter restarted against Standby; two more reports needed, not one.
	label, changed = f.Apply(MSEventStandbyReport)
	assert.Equal(t, MSWait, label)
	assert.False(t, changed)

	label, changed = f.Apply(MSEventStandbyReport)
	assert.Equal(t, MSStandby, label)
	assert.True(t, changed)
}

func TestMuxStateFSM_EnterWait(t *testing.T) {
	f := NewMuxStateFSM(3)
	f.Apply(MSEventActiveReport)
	f.Apply(MSEventActiveReport)
	f.Apply(MSEventActiveReport)
	assert.Equal(t, MSActive, f.Label())

	changed := f.EnterWait()
	assert.True(t, changed)
	assert.Equal(t, MSWait, f.Label())

	changed = f.EnterWait()
	assert.False(t, changed)

	label, committed := f.Apply(MSEventActiveReport)
	assert.Equal(t, MSWait, label)
	assert.False(t, committed)
}

func TestMuxStateFSM_ErrorReportsAreImmediateOutsideWait(t *testing.T) {
	f := NewMuxStateFSM(3)
	f.Apply(MSEventActiveReport)
	f.Apply(MSEventActiveReport)
	f.Apply(MSEventActiveReport)

	label, changed := f.Apply(MSEventErrorReport)
	assert.Equal(t, MSError, label)
	assert.True(t, changed)
}
