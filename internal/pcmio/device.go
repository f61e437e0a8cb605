// Package pcmio implements the PCM device driver and its timer-driven I/O
// loop: device open/enumerate/configure (spec.md §4.1), the playback and
// capture timeout handlers with early-wakeup scheduling and xrun recovery
// (spec.md §4.2), wired to internal/alsa for the kernel interface,
// internal/dll for clock synchronization, and internal/buffer for the
// ready/free queues and single-slot consumer inbox.
package pcmio

import (
	"fmt"

	"github.com/kg-audio/huskyd/internal/alsa"
	"github.com/kg-audio/huskyd/internal/format"
)

// DefaultRate and DefaultChannels are the driver's preferred values when a
// device admits a range rather than a single fixed value (spec.md §4.1
// Enumerate formats).
const (
	DefaultRate     = 48000
	DefaultChannels = 2

	// PeriodFrames is the fixed period-size target spec.md §4.1 Set format
	// names: "Target period_size = 1024".
	PeriodFrames = 1024
)

func toALSAFormat(f format.Format) (alsa.Format, error) {
	switch f {
	case format.S16LE:
		return alsa.FormatS16LE, nil
	case format.S24LE, format.S24_32LE:
		return alsa.FormatS24LE, nil
	case format.S32LE:
		return alsa.FormatS32LE, nil
	case format.F32LE:
		return alsa.FormatFloat32LE, nil
	case format.U8:
		return alsa.FormatU8, nil
	default:
		return 0, fmt.Errorf("pcmio: %s has no ALSA mapping: %w", f, format.ErrInvalidArgument)
	}
}

// Device is one open, configured PCM device: the ALSA handle plus the
// sample-format/channel/rate/period state the I/O loop needs.
type Device struct {
	alsa *alsa.Device
	dir  alsa.Direction

	Format   format.Format
	Channels int
	Rate     int

	PeriodFrames int
	BufferFrames int
	FrameBytes   int

	started bool
}

// Open acquires a non-blocking ALSA handle on name (spec.md §4.1 Open).
// Every call opens a new handle and returns a new Device; there is no
// re-open of an existing Device, so calling Open twice for the same name
// is not a no-op.
func Open(name string, playback bool) (*Device, error) {
	dir := alsa.Capture
	if playback {
		dir = alsa.Playback
	}
	h, err := alsa.Open(name, dir)
	if err != nil {
		return nil, fmt.Errorf("pcmio: open %s: %w", name, err)
	}
	return &Device{alsa: h, dir: dir}, nil
}

// SetFormat requests hardware parameters per spec.md §4.1 Set format:
// MMAP interleaved access, exact sample format, near-match channels and
// rate. Period wakeups are not disabled: the kernel keeps its period
// events, and the loop, which is timer-driven, does not wait on them. nearestAllowed=false fails with ErrInvalidArgument
// instead of silently substituting the nearest supported rate.
func (d *Device) SetFormat(want format.Format, channels, rate int, nearestAllowed bool) error {
	af, err := toALSAFormat(want)
	if err != nil {
		return err
	}

	got, err := d.alsa.SetParams(alsa.Params{
		Rate:         uint(rate),
		Channels:     uint(channels),
		Format:       af,
		PeriodFrames: PeriodFrames,
		BufferFrames: PeriodFrames * 4,
	})
	if err != nil {
		return fmt.Errorf("pcmio: set hw params: %w", err)
	}

	if !nearestAllowed && int(got.Rate) != rate {
		return fmt.Errorf("pcmio: device granted rate %d, wanted exactly %d: %w", got.Rate, rate, format.ErrInvalidArgument)
	}

	d.Format = want
	d.Channels = int(got.Channels)
	d.Rate = int(got.Rate)
	d.PeriodFrames = int(got.PeriodFrames)
	d.BufferFrames = int(got.BufferFrames)
	d.FrameBytes = d.alsa.FrameBytes()
	return nil
}

// Close releases the device.
func (d *Device) Close() error { return d.alsa.Close() }

// Avail reports frames currently available for transfer.
func (d *Device) Avail() (int, error) { return d.alsa.Avail() }

// Recover attempts ALSA xrun/suspend recovery for the negative return
// code rc (spec.md §7: "always recover via ALSA recover").
func (d *Device) Recover(rc int) error { return d.alsa.Recover(rc, true) }

// IsXrun reports whether rc is ALSA's EPIPE (buffer under/overrun).
func IsXrun(rc int) bool { return alsa.IsEPIPE(rc) }

// IsSuspended reports whether rc is ALSA's ESTRPIPE (device suspended).
func IsSuspended(rc int) bool { return alsa.IsESTRPIPE(rc) }

// Start explicitly starts a primed device (spec.md §4.2 Playback transfer:
// "on first successful commit, if the device has not yet been started by
// the kernel, start it").
func (d *Device) Start() error {
	if d.started {
		return nil
	}
	if err := d.alsa.Start(); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Drop stops the device and clears the started flag, so a subsequent
// Start re-arms it (used on xrun/suspend recovery re-priming, spec.md
// §7).
func (d *Device) Drop() error {
	d.started = false
	return d.alsa.Drop()
}

func (d *Device) Prepare() error { return d.alsa.Prepare() }

// Rewind pulls back n frames not yet consumed by hardware (spec.md §4.2
// Slaved playback alignment).
func (d *Device) Rewind(n int) (int, error) { return d.alsa.Rewind(n) }

// MmapBegin/MmapCommit expose the underlying mmap transaction directly;
// the transfer logic in loop.go drives these.
func (d *Device) MmapBegin(frames int) (alsa.MmapArea, error) { return d.alsa.MmapBegin(frames) }
func (d *Device) MmapCommit(frames int) (int, error)          { return d.alsa.MmapCommit(frames) }

// EnumEntry is one entry of the composite format descriptor spec.md §4.1
// Enumerate formats produces for a device index.
type EnumEntry struct {
	Format   format.Choice
	Rate     format.Choice
	Channels format.Choice
}

// EnumerateFormats produces descriptor index 0 (the only index this
// driver synthesises today — every device exposes one composite format
// descriptor rather than per-rate enumeration, spec.md §9 Open Question
// "the per-index enumeration ambiguity resolves to a single composite
// descriptor"). Filter, if non-nil, may reject the entry; a rejected
// entry does not count against the caller's requested index.
func (d *Device) EnumerateFormats(index int, filter func(EnumEntry) bool) (EnumEntry, bool) {
	if index != 0 {
		return EnumEntry{}, false
	}

	candidates := []int64{int64(format.S16LE), int64(format.S24LE), int64(format.S32LE), int64(format.F32LE)}
	entry := EnumEntry{
		Format:   format.PromoteEnum(int64(format.S16LE), candidates),
		Rate:     format.ClampRange(DefaultRate, 8000, 192000),
		Channels: format.ClampRange(DefaultChannels, 1, 32),
	}
	if filter != nil && !filter(entry) {
		return EnumEntry{}, false
	}
	return entry, true
}
