// SPDX-License-Identifier: Apache-2.0

package linkprobe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	guid := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	in := Payload{Version: payloadVersion, Command: CommandNone, GUID: guid}

	out, ok := Decode(Encode(in))
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	_, ok := Decode(Encode(Payload{}))
	require.True(t, ok)

	_, ok = Decode(Encode(Payload{})[:payloadLen-1])
	assert.False(t, ok)
}

func TestDecodeRejectsBadCookie(t *testing.T) {
	buf := Encode(Payload{})
	buf[0] ^= 0xff
	_, ok := Decode(buf)
	assert.False(t, ok)
}

func TestClassifySelfVsPeerVsUnknown(t *testing.T) {
	ours := [16]byte{9}
	theirs := [16]byte{8}

	assert.Equal(t, ClassSelf, Classify(Encode(Payload{Version: payloadVersion, GUID: ours}), ours))
	assert.Equal(t, ClassPeer, Classify(Encode(Payload{Version: payloadVersion, GUID: theirs}), ours))
	assert.Equal(t, ClassUnknown, Classify([]byte{0, 1, 2}, ours))

	bad := Encode(Payload{Version: payloadVersion, GUID: theirs})
	bad[0] ^= 0xff
	assert.Equal(t, ClassUnknown, Classify(bad, ours))
}

func TestValidateChecksum(t *testing.T) {
	// A zeroed buffer of even length sums to zero, whose ones-complement
	// is all-ones: not a valid "complement is zero" checksum.
	assert.Error(t, validateChecksum([]byte{0x00, 0x00}))

	// 0xffff's ones-complement sum already folds to 0xffff, i.e.
	// complement 0: a valid (degenerate) checksum.
	assert.NoError(t, validateChecksum([]byte{0xff, 0xff}))
}
