package pcmio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kg-audio/huskyd/internal/format"
)

func TestToALSAFormatMapsKnownFormats(t *testing.T) {
	for _, f := range []format.Format{format.S16LE, format.S24LE, format.S32LE, format.F32LE, format.U8} {
		_, err := toALSAFormat(f)
		require.NoError(t, err, "format %s should map to an ALSA format", f)
	}
}

func TestToALSAFormatRejectsUnsupported(t *testing.T) {
	_, err := toALSAFormat(format.S16BE)
	assert.ErrorIs(t, err, format.ErrInvalidArgument)
}

func TestEnumerateFormatsOnlyProducesIndexZero(t *testing.T) {
	d := &Device{}
	_, ok := d.EnumerateFormats(1, nil)
	assert.False(t, ok)

	entry, ok := d.EnumerateFormats(0, nil)
	require.True(t, ok)
	assert.Equal(t, format.ChoiceEnum, entry.Format.Kind)
	assert.Equal(t, int64(DefaultRate), entry.Rate.Default)
}

func TestEnumerateFormatsHonoursFilter(t *testing.T) {
	d := &Device{}
	_, ok := d.EnumerateFormats(0, func(EnumEntry) bool { return false })
	assert.False(t, ok, "a rejecting filter must suppress the entry")
}
