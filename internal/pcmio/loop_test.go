package pcmio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEarlyWakeupPlaybackReschedulesWhenOverbuffered(t *testing.T) {
	l := &Loop{
		dev:       &Device{Rate: 48000, BufferFrames: 4096},
		playback:  true,
		threshold: 1024,
	}
	// avail=0 => buffered = 4096 - 0 = 4096 >= 2*1024
	early, at := l.earlyWakeup(1_000_000_000, 0)
	assert.True(t, early)
	assert.Greater(t, at, int64(1_000_000_000))
}

func TestEarlyWakeupPlaybackProceedsWhenNotOverbuffered(t *testing.T) {
	l := &Loop{
		dev:       &Device{Rate: 48000, BufferFrames: 4096},
		playback:  true,
		threshold: 1024,
	}
	// avail=3500 => buffered = 596, well under 2*threshold
	early, _ := l.earlyWakeup(1_000_000_000, 3500)
	assert.False(t, early)
}

func TestEarlyWakeupCaptureReschedulesWhenStarved(t *testing.T) {
	l := &Loop{
		dev:       &Device{Rate: 48000, BufferFrames: 4096},
		playback:  false,
		threshold: 1024,
	}
	early, at := l.earlyWakeup(1_000_000_000, 100)
	assert.True(t, early)
	assert.Greater(t, at, int64(1_000_000_000))
}

func TestEarlyWakeupCaptureProceedsWhenEnoughAvailable(t *testing.T) {
	l := &Loop{
		dev:       &Device{Rate: 48000, BufferFrames: 4096},
		playback:  false,
		threshold: 1024,
	}
	early, _ := l.earlyWakeup(1_000_000_000, 2048)
	assert.False(t, early)
}
