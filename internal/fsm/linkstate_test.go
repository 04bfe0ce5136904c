// SPDX-License-Identifier: Apache-2.0

package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkStateFSM_InitialState(t *testing.T) {
	f := NewLinkStateFSM(1)
	assert.Equal(t, LSDown, f.Label())
}

func TestLinkStateFSM_DebounceBeforeCommit(t *testing.T) {
	f := NewLinkStateFSM(3)

	label, changed := f.Apply(LSEventUp)
	assert.Equal(t, LSDown, label)
	assert.False(t, changed)

	label, changed = f.Apply(LSEventUp)
	assert.Equal(t, LSDown, label)
	assert.False(t, changed)

	label, changed = f.Apply(LSEventUp)
	assert.Equal(t, LSUp, label)
	assert.True(t, changed)
}

func TestLinkStateFSM_FlapResetsDebounce(t *testing.T) {
	f := NewLinkStateFSM(3)
	f.Apply(LSEventUp)
	f.Apply(LSEventUp)

	// A Down in between resets the Up debounce; two more Ups are not
	// enough to commit, a third is required again.
	label, changed := f.Apply(LSEventDown)
	assert.Equal(t, LSDown, label)
	assert.False(t, changed)

	f.Apply(LSEventUp)
	label, changed = f.Apply(LSEventUp)
	assert.Equal(t, LSDown, label)
	assert.False(t, changed)

	label, changed = f.Apply(LSEventUp)
	assert.Equal(t, LSUp, label)
	assert.True(t, changed)
}

func TestLinkStateFSM_RetryOfOneCommitsImmediately(t *testing.T) {
	f := NewLinkStateFSM(1)
	label, changed := f.Apply(LSEventUp)
	assert.Equal(t, LSUp, label)
	assert.True(t, changed)

	label, changed = f.Apply(LSEventDown)
	assert.Equal(t, LSDown, label)
	assert.True(t, changed)
}
