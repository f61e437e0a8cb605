// Package config loads the daemon's on-disk YAML configuration and
// overlays command-line flags on top, mirroring how the teacher's
// appserver.go layers pflag over its own config file (SPEC_FULL.md §1
// Ambient stack / Configuration).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the full set of daemon knobs: which device to drive, what
// bus name to serve, and the PCM sizing defaults a freshly bound client
// sees before it negotiates its own (spec.md §4.1, §6).
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Bus     BusConfig     `yaml:"bus"`
	Logging LoggingConfig `yaml:"logging"`
	Diag    DiagConfig    `yaml:"diag"`
}

// DeviceConfig names the ALSA device and the PCM parameters to request
// before client negotiation (spec.md §6 "props.device").
type DeviceConfig struct {
	Name              string `yaml:"name"`
	Rate              int    `yaml:"rate"`
	Channels          int    `yaml:"channels"`
	PeriodFrames      int    `yaml:"period_frames"`
	AllowNearestMatch bool   `yaml:"allow_nearest_match"`
}

// BusConfig names the protocol server's identity (spec.md §6 Socket path).
type BusConfig struct {
	RuntimeDir string `yaml:"runtime_dir"`
	Name       string `yaml:"name"`
}

// LoggingConfig controls the ambient logger's verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DiagConfig controls the post-mortem xrun dumper (SPEC_FULL.md §4
// Supplemented features). An empty Dir disables dumping.
type DiagConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the built-in defaults, applied before a config file or
// flags are read.
func Default() Config {
	busName := "pipewire-0"
	if env := os.Getenv("PIPEWIRE_CORE"); env != "" {
		busName = env
	}
	return Config{
		Device: DeviceConfig{
			Name:              "hw:0,0",
			Rate:              48000,
			Channels:          2,
			PeriodFrames:      1024,
			AllowNearestMatch: true,
		},
		Bus: BusConfig{
			RuntimeDir: os.Getenv("XDG_RUNTIME_DIR"),
			Name:       busName,
		},
		Logging: LoggingConfig{Level: "info"},
		Diag:    DiagConfig{Dir: filepath.Join(os.Getenv("XDG_RUNTIME_DIR"), "huskyd", "diag")},
	}
}

// Load reads path (if non-empty) as YAML over the built-in defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Flags registers the CLI overlay named in SPEC_FULL.md §2 ("--device,
// --core-name, --rate, ..."), mirroring the teacher's pflag usage in
// src/appserver.go. Apply must be called after pflag.Parse to apply
// whichever flags the user actually set.
type Flags struct {
	ConfigPath *string
	Device     *string
	CoreName   *string
	Rate       *int
	Channels   *int
}

// RegisterFlags declares the overlay flags on fs (use pflag.CommandLine
// for the process-global flag set).
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	return &Flags{
		ConfigPath: fs.StringP("config", "c", "", "path to a YAML config file"),
		Device:     fs.String("device", "", "ALSA device name, e.g. hw:0,0"),
		CoreName:   fs.String("core-name", "", "bus socket name under $XDG_RUNTIME_DIR"),
		Rate:       fs.Int("rate", 0, "PCM sample rate in Hz"),
		Channels:   fs.Int("channels", 0, "PCM channel count"),
	}
}

// Apply overlays any explicitly-set flags onto cfg, following pflag's
// Changed tracking so an unset flag never clobbers a value the config
// file supplied.
func (f *Flags) Apply(fs *pflag.FlagSet, cfg *Config) {
	if fs.Changed("device") {
		cfg.Device.Name = *f.Device
	}
	if fs.Changed("core-name") {
		cfg.Bus.Name = *f.CoreName
	}
	if fs.Changed("rate") {
		cfg.Device.Rate = *f.Rate
	}
	if fs.Changed("channels") {
		cfg.Device.Channels = *f.Channels
	}
}
