// Package diag implements an on-demand diagnostic dump of DLL and buffer
// state for post-mortem xrun analysis (the daemon writes one per recovered
// xrun) — the structured, strftime-named
// replacement for the teacher's own daily-named log file convention
// (src/log.go's daily_names / g_log_path), per SPEC_FULL.md §4
// Supplemented features.
package diag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"

	"github.com/kg-audio/huskyd/internal/dll"
)

// namePattern mirrors the teacher's daily-named log files, but dumps are
// per-snapshot rather than per-day since xrun events are the thing being
// diagnosed.
const namePattern = "dll-%Y%m%d-%H%M%S.json"

// BufferOccupancy is one direction's free/ready/in-flight counts at
// snapshot time.
type BufferOccupancy struct {
	Direction string `json:"direction"`
	Free      int    `json:"free"`
	Ready     int    `json:"ready"`
	InFlight  int    `json:"in_flight"`
	Total     int    `json:"total"`
}

// Snapshot is one dump's full content.
type Snapshot struct {
	Time      time.Time         `json:"time"`
	Bandwidth float64           `json:"bw"`
	Dt        float64           `json:"dt"`
	Base      float64           `json:"base"`
	Buffers   []BufferOccupancy `json:"buffers"`
}

// Dumper writes one Snapshot to dir per Dump call, named by strftime
// pattern matching the dump time.
type Dumper struct {
	dir string
	log *log.Logger
}

// NewDumper prepares a Dumper writing into dir (created if missing).
func NewDumper(dir string, logger *log.Logger) (*Dumper, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("diag: mkdir %s: %w", dir, err)
	}
	return &Dumper{dir: dir, log: logger}, nil
}

// Dump writes snap to a strftime-named file under the dump directory,
// logging (not failing the caller's hot path on) any write error — the
// same `strftime.Format` call the teacher uses for its own timestamped
// names in src/tq.go / src/xmit.go.
func (d *Dumper) Dump(snap Snapshot, at time.Time) {
	name, err := strftime.Format(namePattern, at)
	if err != nil {
		d.log.Error("diag: format dump name failed", "err", err)
		return
	}
	path := filepath.Join(d.dir, name)

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		d.log.Error("diag: marshal snapshot failed", "err", err)
		return
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		d.log.Error("diag: write snapshot failed", "path", path, "err", err)
	}
}

// SnapshotDLL captures a DLL's current state for inclusion in a Snapshot.
func SnapshotDLL(d *dll.DLL) (bw, dt, base float64) {
	return d.Bandwidth(), d.Dt(), d.Base()
}
