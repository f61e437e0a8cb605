// Package format describes the sample frame formats the PCM driver can
// negotiate with a kernel audio device, and the parameter-choice shapes
// (discrete value, enum, range) used to advertise what a device supports.
package format

import "fmt"

// Format names one concrete sample layout: width, signedness, endianness,
// float-ness and interleave/planar arrangement. The zero value is Unknown.
type Format int

const (
	Unknown Format = iota
	S8
	U8
	S16LE
	S16BE
	U16LE
	U16BE
	S24LE // 24 bit samples packed in 3 bytes.
	S24BE
	U24LE
	U24BE
	S24_32LE // 24 bit samples packed in a 4 byte container.
	S24_32BE
	U24_32LE
	U24_32BE
	S32LE
	S32BE
	U32LE
	U32BE
	F32LE
	F32BE
	F64LE
	F64BE
	S16LEPlanar
	S16BEPlanar
	S32LEPlanar
	S32BEPlanar
	F32LEPlanar
	F32BEPlanar
)

type info struct {
	name       string
	bytes      int // bytes per sample, per channel
	planar     bool
}

var table = map[Format]info{
	S8:           {"S8", 1, false},
	U8:           {"U8", 1, false},
	S16LE:        {"S16_LE", 2, false},
	S16BE:        {"S16_BE", 2, false},
	U16LE:        {"U16_LE", 2, false},
	U16BE:        {"U16_BE", 2, false},
	S24LE:        {"S24_3LE", 3, false},
	S24BE:        {"S24_3BE", 3, false},
	U24LE:        {"U24_3LE", 3, false},
	U24BE:        {"U24_3BE", 3, false},
	S24_32LE:     {"S24_LE", 4, false},
	S24_32BE:     {"S24_BE", 4, false},
	U24_32LE:     {"U24_LE", 4, false},
	U24_32BE:     {"U24_BE", 4, false},
	S32LE:        {"S32_LE", 4, false},
	S32BE:        {"S32_BE", 4, false},
	U32LE:        {"U32_LE", 4, false},
	U32BE:        {"U32_BE", 4, false},
	F32LE:        {"FLOAT_LE", 4, false},
	F32BE:        {"FLOAT_BE", 4, false},
	F64LE:        {"FLOAT64_LE", 8, false},
	F64BE:        {"FLOAT64_BE", 8, false},
	S16LEPlanar:  {"S16_LE_PLANAR", 2, true},
	S16BEPlanar:  {"S16_BE_PLANAR", 2, true},
	S32LEPlanar:  {"S32_LE_PLANAR", 4, true},
	S32BEPlanar:  {"S32_BE_PLANAR", 4, true},
	F32LEPlanar:  {"FLOAT_LE_PLANAR", 4, true},
	F32BEPlanar:  {"FLOAT_BE_PLANAR", 4, true},
}

// BytesPerSample returns the per-channel sample width in bytes, or 0 for
// Unknown / an unregistered format.
func (f Format) BytesPerSample() int {
	return table[f].bytes
}

// Planar reports whether channels are stored in separate regions rather
// than interleaved.
func (f Format) Planar() bool {
	return table[f].planar
}

func (f Format) String() string {
	if i, ok := table[f]; ok {
		return i.name
	}
	return "UNKNOWN"
}

// FrameSize returns the byte width of one frame (all channels, one sample
// period) for an interleaved format. Planar formats store channels in
// disjoint buffers so "frame size" is not a single contiguous stride;
// callers must handle planar layouts per-channel.
func FrameSize(f Format, channels int) int {
	if f.Planar() {
		return f.BytesPerSample()
	}
	return f.BytesPerSample() * channels
}

// Choice is a parameter's advertised shape: either a single preferred
// value, a fixed enumeration of acceptable values, or a continuous range
// with a preferred default. Exactly one of the three is meaningful,
// selected by Kind.
type Choice struct {
	Kind    ChoiceKind
	Default int64
	Enum    []int64
	Min     int64
	Max     int64
}

type ChoiceKind int

const (
	ChoiceNone ChoiceKind = iota
	ChoiceEnum
	ChoiceRange
)

// PromoteEnum returns a Choice for a discrete value set: a bare default
// when there is exactly one candidate, an Enum choice listing every
// candidate (default first) when there is more than one. Mirrors the
// device driver's "promoted to Enum when more than one candidate" rule
// (spec.md §4.1 Enumerate formats).
func PromoteEnum(preferred int64, candidates []int64) Choice {
	if len(candidates) <= 1 {
		return Choice{Kind: ChoiceNone, Default: preferred}
	}
	ordered := make([]int64, 0, len(candidates))
	ordered = append(ordered, preferred)
	for _, c := range candidates {
		if c != preferred {
			ordered = append(ordered, c)
		}
	}
	return Choice{Kind: ChoiceEnum, Default: preferred, Enum: ordered}
}

// ClampRange clamps preferred into [min,max] and returns a Range choice
// when min != max, else a bare default — the rate/channels promotion rule
// of spec.md §4.1.
func ClampRange(preferred, min, max int64) Choice {
	v := preferred
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	if min == max {
		return Choice{Kind: ChoiceNone, Default: v}
	}
	return Choice{Kind: ChoiceRange, Default: v, Min: min, Max: max}
}

// ResolveRate picks the rate to request given a caller-requested rate and
// the device's supported [min,max]. nearestAllowed mirrors spec.md §4.1's
// "if caller disallows nearest-match, fail with invalid-argument".
func ResolveRate(requested, min, max int64, nearestAllowed bool) (int64, error) {
	if requested >= min && requested <= max {
		return requested, nil
	}
	if !nearestAllowed {
		return 0, fmt.Errorf("format: requested rate %d outside [%d,%d]: %w", requested, min, max, ErrInvalidArgument)
	}
	clamped := requested
	if clamped < min {
		clamped = min
	}
	if clamped > max {
		clamped = max
	}
	return clamped, nil
}

// ErrInvalidArgument is returned where the spec requires EINVAL-shaped
// failures on hardware-parameter mismatch (spec.md §7).
var ErrInvalidArgument = fmt.Errorf("invalid argument")
