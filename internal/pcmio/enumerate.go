package pcmio

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jochenvg/go-udev"
)

// CardDevice names one ALSA PCM subdevice node as udev sees it: the
// hw:<card>,<device> address Open expects, plus the card's human-readable
// product name for picking a device by description rather than index
// (spec.md §4.1 names device selection but not how a concrete "hw:0,0"
// string is obtained; this resolves it the way alsa-utils' own
// alsa_enum_pcm_devices does — by walking the "sound" subsystem instead of
// hard-coding a string).
type CardDevice struct {
	Card     int
	Device   int
	Name     string // sysname of the subdevice node, e.g. "pcmC0D0p"
	CardName string // ID_MODEL / ID_VENDOR from the parent card's udev properties
	Capture  bool
	Playback bool
	DevPath  string // /dev/snd/pcmC<card>D<device>{c,p}
}

// EnumerateDevices walks the "sound" udev subsystem and returns every PCM
// subdevice node found, sorted by (card, device). It replaces a bare
// "hw:0,0" config string with udev-matched discovery, so `props.device`
// can name a card by vendor/model instead of a brittle index.
func EnumerateDevices() ([]CardDevice, error) {
	u := udev.Udev{}
	enum := u.NewEnumerate()
	if err := enum.AddMatchSubsystem("sound"); err != nil {
		return nil, fmt.Errorf("pcmio: udev match subsystem: %w", err)
	}

	devices, err := enum.Devices()
	if err != nil {
		return nil, fmt.Errorf("pcmio: udev enumerate: %w", err)
	}

	var out []CardDevice
	for _, d := range devices {
		name := d.Sysname()
		card, dev, dir, ok := parsePCMSysname(name)
		if !ok {
			continue
		}

		cardName := ""
		if parent := d.ParentWithSubsystemDevtype("sound", ""); parent != nil {
			if model := parent.PropertyValue("ID_MODEL"); model != "" {
				cardName = model
			} else if vendor := parent.PropertyValue("ID_VENDOR"); vendor != "" {
				cardName = vendor
			}
		}

		cd := CardDevice{
			Card:     card,
			Device:   dev,
			Name:     name,
			CardName: cardName,
			DevPath:  d.Devnode(),
		}
		switch dir {
		case 'c':
			cd.Capture = true
		case 'p':
			cd.Playback = true
		}
		merged := mergeDirection(out, cd)
		replaced := false
		for i := range out {
			if out[i].Card == cd.Card && out[i].Device == cd.Device {
				out[i] = merged
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, merged)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Card != out[j].Card {
			return out[i].Card < out[j].Card
		}
		return out[i].Device < out[j].Device
	})
	return out, nil
}

// mergeDirection folds a newly found capture/playback node into an existing
// entry for the same (card, device) pair rather than emitting duplicate
// rows — ALSA exposes "pcmC0D0p" and "pcmC0D0c" as separate device nodes
// for the same logical subdevice.
func mergeDirection(existing []CardDevice, cd CardDevice) CardDevice {
	for _, e := range existing {
		if e.Card == cd.Card && e.Device == cd.Device {
			if e.Capture {
				cd.Capture = true
			}
			if e.Playback {
				cd.Playback = true
			}
			return cd
		}
	}
	return cd
}

// parsePCMSysname extracts (card, device, direction) from a udev sysname of
// the form "pcmC<card>D<device>{c,p}" (ALSA's fixed /dev/snd naming).
func parsePCMSysname(sysname string) (card, device int, dir byte, ok bool) {
	if !strings.HasPrefix(sysname, "pcmC") {
		return 0, 0, 0, false
	}
	rest := sysname[len("pcmC"):]
	dIdx := strings.IndexByte(rest, 'D')
	if dIdx < 0 {
		return 0, 0, 0, false
	}
	cardPart := rest[:dIdx]
	devPart := rest[dIdx+1:]
	if len(devPart) == 0 {
		return 0, 0, 0, false
	}
	dir = devPart[len(devPart)-1]
	if dir != 'c' && dir != 'p' {
		return 0, 0, 0, false
	}
	devPart = devPart[:len(devPart)-1]

	card, ok = atoiSimple(cardPart)
	if !ok {
		return 0, 0, 0, false
	}
	device, ok = atoiSimple(devPart)
	if !ok {
		return 0, 0, 0, false
	}
	return card, device, dir, true
}

func atoiSimple(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// ResolveDeviceName maps a config device name to an ALSA hw:<card>,<device>
// address: an empty name, "default", or a name in "hw:" / "plughw:" form
// is returned unchanged, otherwise it is matched case-insensitively as a
// substring of each enumerated device's CardName (spec.md §4.1 Enumerate
// formats is silent on device naming). When no device matches, it returns
// an error; it does not fall back to the default device.
func ResolveDeviceName(want string) (string, error) {
	if want == "" || want == "default" || strings.HasPrefix(want, "hw:") || strings.HasPrefix(want, "plughw:") {
		return want, nil
	}

	devices, err := EnumerateDevices()
	if err != nil {
		return "", err
	}
	lower := strings.ToLower(want)
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.CardName), lower) {
			return fmt.Sprintf("hw:%d,%d", d.Card, d.Device), nil
		}
	}
	return "", fmt.Errorf("pcmio: no sound device matches %q", want)
}
