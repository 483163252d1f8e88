// Package progress samples download progress from heterogeneous backend
// signals and publishes normalized snapshots to a single shared slot.
//
// The parsing here is deliberately best effort: backends expose no event
// API, only text output and file growth, and a parse miss must never fail
// the session.
package progress

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Reading is one raw sample from a backend signal. Zero fields mean
// "unknown"; HasPercent distinguishes 0% from absent.
type Reading struct {
	Percent         float64
	HasPercent      bool
	BytesDownloaded uint64
	RateBps         uint64
	HasRate         bool
	PeersConnected  uint32
	PeersTotal      uint32
}

// Source abstracts a backend progress signal so the fragile parsing is
// isolated and swappable independently of orchestration. Sampling never
// returns an error: a signal that cannot be read yields a zero Reading.
type Source interface {
	Sample() Reading
}

var (
	percentRe = regexp.MustCompile(`Progress:\s*([0-9]+(?:\.[0-9]+)?)\s*%`)
	peersRe   = regexp.MustCompile(`dl from\s+([0-9]+)\s+of\s+([0-9]+)\s+peers`)
	rateRe    = regexp.MustCompile(`\(([0-9]+(?:\.[0-9]+)?)\s*([KMG]B)/s\)`)
)

// TextLogSource parses the most recent structured progress line from a
// backend's captured output, falling back to on-disk growth for the byte
// count. Absent fields are left at their defaults.
type TextLogSource struct {
	output  func() string // latest captured backend output
	dataDir string
}

func NewTextLogSource(output func() string, dataDir string) *TextLogSource {
	return &TextLogSource{output: output, dataDir: dataDir}
}

func (s *TextLogSource) Sample() Reading {
	var r Reading
	if line := lastProgressLine(s.output()); line != "" {
		if m := percentRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				r.Percent = v
				r.HasPercent = true
			}
		}
		if m := peersRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseUint(m[1], 10, 32); err == nil {
				r.PeersConnected = uint32(v)
			}
			if v, err := strconv.ParseUint(m[2], 10, 32); err == nil {
				r.PeersTotal = uint32(v)
			}
		}
		if m := rateRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				r.RateBps = toBytesPerSec(v, m[2])
				r.HasRate = true
			}
		}
	}
	r.BytesDownloaded = dirSize(s.dataDir)
	return r
}

func lastProgressLine(out string) string {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.Contains(lines[i], "Progress:") {
			return lines[i]
		}
	}
	return ""
}

func toBytesPerSec(v float64, unit string) uint64 {
	switch unit {
	case "KB":
		return uint64(v * (1 << 10))
	case "MB":
		return uint64(v * (1 << 20))
	case "GB":
		return uint64(v * (1 << 30))
	}
	return uint64(v)
}

// FileGrowthSource has no structured signal at all: bytes come from
// watching the backend's output directory grow, and the rate is derived
// by the monitor from consecutive sized samples.
type FileGrowthSource struct {
	dataDir string
}

func NewFileGrowthSource(dataDir string) *FileGrowthSource {
	return &FileGrowthSource{dataDir: dataDir}
}

func (s *FileGrowthSource) Sample() Reading {
	return Reading{BytesDownloaded: dirSize(s.dataDir)}
}

func dirSize(dir string) uint64 {
	if dir == "" {
		return 0
	}
	var total uint64
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}
