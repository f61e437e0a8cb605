package pcmio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePCMSysname(t *testing.T) {
	card, device, dir, ok := parsePCMSysname("pcmC0D0p")
	assert.True(t, ok)
	assert.Equal(t, 0, card)
	assert.Equal(t, 0, device)
	assert.Equal(t, byte('p'), dir)

	card, device, dir, ok = parsePCMSysname("pcmC2D10c")
	assert.True(t, ok)
	assert.Equal(t, 2, card)
	assert.Equal(t, 10, device)
	assert.Equal(t, byte('c'), dir)
}

func TestParsePCMSysnameRejectsNonPCMNodes(t *testing.T) {
	_, _, _, ok := parsePCMSysname("controlC0")
	assert.False(t, ok)

	_, _, _, ok = parsePCMSysname("pcmC0D0x")
	assert.False(t, ok, "direction suffix must be c or p")
}

func TestMergeDirectionFoldsMatchingCardDevice(t *testing.T) {
	existing := []CardDevice{{Card: 0, Device: 0, Playback: true}}
	merged := mergeDirection(existing, CardDevice{Card: 0, Device: 0, Capture: true})
	assert.True(t, merged.Capture)
	assert.True(t, merged.Playback)
}

func TestResolveDeviceNamePassesThroughExplicitAddresses(t *testing.T) {
	for _, want := range []string{"", "default", "hw:0,0", "plughw:1,0"} {
		got, err := ResolveDeviceName(want)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
