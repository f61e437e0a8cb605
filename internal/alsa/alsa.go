// Package alsa is a narrow cgo binding to libasound's user-space PCM API:
// exactly the calls spec.md §4.1/§6 names for mmap-access, timer-driven
// transfer (snd_pcm_open, hw/sw params, mmap_begin/commit, avail, rewind,
// recover, start/drop). It does not attempt to be a general ALSA wrapper —
// see SPEC_FULL.md §2 "PCM backend" for why this stays cgo (mirroring the
// teacher's own src/audio.go) rather than a pure-Go ALSA library or a
// higher-level audio abstraction.
package alsa

/*
#cgo LDFLAGS: -lasound
#include <alsa/asoundlib.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Direction selects capture or playback, mirroring SND_PCM_STREAM_*.
type Direction int

const (
	Capture Direction = iota
	Playback
)

func (d Direction) cStream() C.snd_pcm_stream_t {
	if d == Capture {
		return C.SND_PCM_STREAM_CAPTURE
	}
	return C.SND_PCM_STREAM_PLAYBACK
}

// Format mirrors the subset of snd_pcm_format_t SPEC_FULL.md's format
// table needs.
type Format int

const (
	FormatS16LE Format = iota
	FormatS24LE
	FormatS32LE
	FormatFloat32LE
	FormatU8
)

func (f Format) cFormat() C.snd_pcm_format_t {
	switch f {
	case FormatS16LE:
		return C.SND_PCM_FORMAT_S16_LE
	case FormatS24LE:
		return C.SND_PCM_FORMAT_S24_LE
	case FormatS32LE:
		return C.SND_PCM_FORMAT_S32_LE
	case FormatFloat32LE:
		return C.SND_PCM_FORMAT_FLOAT_LE
	case FormatU8:
		return C.SND_PCM_FORMAT_U8
	default:
		return C.SND_PCM_FORMAT_S16_LE
	}
}

// Device wraps one open snd_pcm_t handle. Not safe for concurrent use —
// spec.md §5 confines all device I/O to the single real-time I/O thread
// that owns it.
type Device struct {
	handle       *C.snd_pcm_t
	dir          Direction
	channels     int
	frameBytes   int
	periodFrames int
	bufferFrames int
}

// Open opens the named ALSA device (e.g. "hw:0,0", spec.md §6 Kernel
// audio device) for the given direction. Hardware/software parameter
// negotiation happens separately in SetParams.
func Open(name string, dir Direction) (*Device, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var handle *C.snd_pcm_t
	if rc := C.snd_pcm_open(&handle, cname, dir.cStream(), C.SND_PCM_NONBLOCK); rc < 0 {
		return nil, alsaErr("snd_pcm_open", rc)
	}
	return &Device{handle: handle, dir: dir}, nil
}

// Close releases the PCM handle.
func (d *Device) Close() error {
	if d.handle == nil {
		return nil
	}
	rc := C.snd_pcm_close(d.handle)
	d.handle = nil
	if rc < 0 {
		return alsaErr("snd_pcm_close", rc)
	}
	return nil
}

// Params is the negotiated hardware configuration spec.md §4.1 requires:
// actual rate/channels/format may differ from what was requested, and the
// caller must use these actual values downstream (mirrors the teacher's
// "ACTUAL values are returned" contract in src/audio.go audio_open).
type Params struct {
	Rate         uint
	Channels     uint
	Format       Format
	PeriodFrames uint
	BufferFrames uint
}

// SetParams negotiates hardware parameters (mmap access, format, channels,
// rate, period/buffer sizing) and reasonable software parameters (start
// threshold matching one period, avail_min matching one period), and
// returns the actual values the device settled on (spec.md §4.1).
func (d *Device) SetParams(want Params) (Params, error) {
	var hwParams *C.snd_pcm_hw_params_t
	if rc := C.snd_pcm_hw_params_malloc(&hwParams); rc < 0 {
		return Params{}, alsaErr("snd_pcm_hw_params_malloc", rc)
	}
	defer C.snd_pcm_hw_params_free(hwParams)

	if rc := C.snd_pcm_hw_params_any(d.handle, hwParams); rc < 0 {
		return Params{}, alsaErr("snd_pcm_hw_params_any", rc)
	}

	if rc := C.snd_pcm_hw_params_set_access(d.handle, hwParams, C.SND_PCM_ACCESS_MMAP_INTERLEAVED); rc < 0 {
		return Params{}, fmt.Errorf("alsa: device does not support mmap access: %w", alsaErr("snd_pcm_hw_params_set_access", rc))
	}

	if rc := C.snd_pcm_hw_params_set_format(d.handle, hwParams, want.Format.cFormat()); rc < 0 {
		return Params{}, alsaErr("snd_pcm_hw_params_set_format", rc)
	}

	channels := C.uint(want.Channels)
	if rc := C.snd_pcm_hw_params_set_channels_near(d.handle, hwParams, &channels); rc < 0 {
		return Params{}, alsaErr("snd_pcm_hw_params_set_channels_near", rc)
	}

	rate := C.uint(want.Rate)
	var dir C.int
	if rc := C.snd_pcm_hw_params_set_rate_near(d.handle, hwParams, &rate, &dir); rc < 0 {
		return Params{}, alsaErr("snd_pcm_hw_params_set_rate_near", rc)
	}

	period := C.snd_pcm_uframes_t(want.PeriodFrames)
	if rc := C.snd_pcm_hw_params_set_period_size_near(d.handle, hwParams, &period, &dir); rc < 0 {
		return Params{}, alsaErr("snd_pcm_hw_params_set_period_size_near", rc)
	}

	bufFrames := C.snd_pcm_uframes_t(want.BufferFrames)
	if rc := C.snd_pcm_hw_params_set_buffer_size_near(d.handle, hwParams, &bufFrames); rc < 0 {
		return Params{}, alsaErr("snd_pcm_hw_params_set_buffer_size_near", rc)
	}

	if rc := C.snd_pcm_hw_params(d.handle, hwParams); rc < 0 {
		return Params{}, alsaErr("snd_pcm_hw_params", rc)
	}

	var actualPeriod C.snd_pcm_uframes_t
	C.snd_pcm_hw_params_get_period_size(hwParams, &actualPeriod, nil)
	var actualBuffer C.snd_pcm_uframes_t
	C.snd_pcm_hw_params_get_buffer_size(hwParams, &actualBuffer)

	if err := d.setSWParams(C.snd_pcm_uframes_t(actualPeriod)); err != nil {
		return Params{}, err
	}

	d.channels = int(channels)
	d.periodFrames = int(actualPeriod)
	d.bufferFrames = int(actualBuffer)
	d.frameBytes = int(C.snd_pcm_format_physical_width(want.Format.cFormat())) / 8 * int(channels)

	return Params{
		Rate:         uint(rate),
		Channels:     uint(channels),
		Format:       want.Format,
		PeriodFrames: uint(actualPeriod),
		BufferFrames: uint(actualBuffer),
	}, nil
}

// setSWParams configures start_threshold and avail_min to one period,
// matching the timer-driven model of spec.md §4.2: the loop itself
// decides when to transfer, not the kernel's default "start once the
// ring is full" behaviour.
func (d *Device) setSWParams(period C.snd_pcm_uframes_t) error {
	var swParams *C.snd_pcm_sw_params_t
	if rc := C.snd_pcm_sw_params_malloc(&swParams); rc < 0 {
		return alsaErr("snd_pcm_sw_params_malloc", rc)
	}
	defer C.snd_pcm_sw_params_free(swParams)

	if rc := C.snd_pcm_sw_params_current(d.handle, swParams); rc < 0 {
		return alsaErr("snd_pcm_sw_params_current", rc)
	}
	if rc := C.snd_pcm_sw_params_set_start_threshold(d.handle, swParams, period); rc < 0 {
		return alsaErr("snd_pcm_sw_params_set_start_threshold", rc)
	}
	if rc := C.snd_pcm_sw_params_set_avail_min(d.handle, swParams, period); rc < 0 {
		return alsaErr("snd_pcm_sw_params_set_avail_min", rc)
	}
	if rc := C.snd_pcm_sw_params(d.handle, swParams); rc < 0 {
		return alsaErr("snd_pcm_sw_params", rc)
	}
	return nil
}

// FrameBytes returns the negotiated per-frame size (all channels), used
// to convert frame counts to byte offsets within mmap areas.
func (d *Device) FrameBytes() int { return d.frameBytes }

// Avail reports frames currently available for transfer (spec.md §4.2
// step 3: "ask the device how many frames are available").
func (d *Device) Avail() (int, error) {
	n := C.snd_pcm_avail(d.handle)
	if n < 0 {
		return 0, alsaErr("snd_pcm_avail", C.snd_pcm_sframes_t(n))
	}
	return int(n), nil
}

// MmapArea is one contiguous mmap region returned by MmapBegin, ready for
// the caller to read from (capture) or write into (playback).
type MmapArea struct {
	Data []byte // granted frames * FrameBytes() bytes, starting at the first granted frame
}

// MmapBegin starts an mmap transaction for up to wantFrames frames,
// returning a byte slice view directly over the kernel ring buffer; the
// granted frame count is len(Data)/FrameBytes() (spec.md §4.2 playback/capture transfer:
// "begin mmap for up to buffer_frames"). The caller must call MmapCommit
// with however many frames it actually consumed/produced.
func (d *Device) MmapBegin(wantFrames int) (MmapArea, error) {
	var areas *C.snd_pcm_channel_area_t
	var offset C.snd_pcm_uframes_t
	frames := C.snd_pcm_uframes_t(wantFrames)

	rc := C.snd_pcm_mmap_begin(d.handle, &areas, &offset, &frames)
	if rc < 0 {
		return MmapArea{}, alsaErr("snd_pcm_mmap_begin", C.snd_pcm_sframes_t(rc))
	}

	base := uintptr(areas.addr) + uintptr(offset)*uintptr(d.frameBytes)
	n := int(frames) * d.frameBytes
	data := unsafe.Slice((*byte)(unsafe.Pointer(base)), n)
	return MmapArea{Data: data}, nil
}

// MmapCommit ends the mmap transaction started by MmapBegin, telling the
// kernel exactly how many frames were transferred. Returns the number of
// frames actually committed, which may be less than requested.
func (d *Device) MmapCommit(frames int) (int, error) {
	n := C.snd_pcm_mmap_commit(d.handle, 0, C.snd_pcm_uframes_t(frames))
	if n < 0 {
		return 0, alsaErr("snd_pcm_mmap_commit", C.snd_pcm_sframes_t(n))
	}
	return int(n), nil
}

// Rewind pulls back frames already committed but not yet consumed by
// hardware — used by the slaved-playback alignment rule in spec.md §4.2
// to shed excess latency.
func (d *Device) Rewind(frames int) (int, error) {
	n := C.snd_pcm_rewind(d.handle, C.snd_pcm_uframes_t(frames))
	if n < 0 {
		return 0, alsaErr("snd_pcm_rewind", C.snd_pcm_sframes_t(n))
	}
	return int(n), nil
}

// Recover handles EPIPE (xrun) and ESTRPIPE (suspend) per spec.md §7:
// "always recover via ALSA recover". err is the negative errno returned
// by the failing call; silent suppresses libasound's own diagnostic
// print.
func (d *Device) Recover(err int, silent bool) error {
	s := C.int(0)
	if silent {
		s = 1
	}
	rc := C.snd_pcm_recover(d.handle, C.int(err), s)
	if rc < 0 {
		return alsaErr("snd_pcm_recover", C.snd_pcm_sframes_t(rc))
	}
	return nil
}

// Start explicitly starts the device (used once priming has filled the
// ring past start_threshold in snd_pcm_prepare's implicit-start case
// doesn't already cover it).
func (d *Device) Start() error {
	if rc := C.snd_pcm_start(d.handle); rc < 0 {
		return alsaErr("snd_pcm_start", C.snd_pcm_sframes_t(rc))
	}
	return nil
}

// Drop stops the device immediately, discarding any pending frames —
// used on teardown and before re-priming after a suspend recovery.
func (d *Device) Drop() error {
	if rc := C.snd_pcm_drop(d.handle); rc < 0 {
		return alsaErr("snd_pcm_drop", C.snd_pcm_sframes_t(rc))
	}
	return nil
}

// Prepare transitions the device back to PREPARED state, required after
// Drop or after a recover that doesn't already do it.
func (d *Device) Prepare() error {
	if rc := C.snd_pcm_prepare(d.handle); rc < 0 {
		return alsaErr("snd_pcm_prepare", C.snd_pcm_sframes_t(rc))
	}
	return nil
}

func alsaErr(call string, rc C.snd_pcm_sframes_t) error {
	return fmt.Errorf("alsa: %s: %s", call, C.GoString(C.snd_strerror(C.int(rc))))
}

// IsEPIPE reports whether the negative return code rc is ALSA's EPIPE
// (xrun) code, the signal spec.md §7 keys its recovery path on.
func IsEPIPE(rc int) bool { return rc == -int(C.EPIPE) }

// IsESTRPIPE reports whether the negative return code rc is ALSA's
// ESTRPIPE (suspend) code.
func IsESTRPIPE(rc int) bool { return rc == -int(C.ESTRPIPE) }
