// Package probe shells out to ffprobe for media inspection. Probing is
// best effort: callers must treat any error as "bitrate unknown" and
// degrade to size heuristics.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// MediaInfo is the subset of probe output the session needs.
type MediaInfo struct {
	// BitrateBps is the overall container bitrate in bytes per second.
	BitrateBps uint64
	// Duration is the media duration in seconds (0 when unknown).
	Duration float64
}

type Prober struct {
	binary string
}

func New(binary string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin}
}

const maxProbeTimeout = 15 * time.Second

// Probe inspects a (possibly partially downloaded) media file.
func (p *Prober) Probe(ctx context.Context, filePath string) (MediaInfo, error) {
	path := strings.TrimSpace(filePath)
	if path == "" {
		return MediaInfo{}, errors.New("file path is required")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	info, parseErr := parseProbeOutput(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				return MediaInfo{}, fmt.Errorf("ffprobe failed: %w", runErr)
			}
			return MediaInfo{}, fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
		}
		return MediaInfo{}, fmt.Errorf("ffprobe output parse failed: %w", parseErr)
	}

	// ffprobe can exit non-zero for truncated files and still report a
	// usable format section. Keep the metadata if we got any.
	if runErr != nil && info.BitrateBps == 0 {
		return MediaInfo{}, fmt.Errorf("ffprobe failed: %w", runErr)
	}
	return info, nil
}

type probePayload struct {
	Format struct {
		BitRate  string `json:"bit_rate"`
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbeOutput(data []byte) (MediaInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return MediaInfo{}, err
	}

	var info MediaInfo
	if payload.Format.BitRate != "" {
		if bits, err := strconv.ParseUint(payload.Format.BitRate, 10, 64); err == nil {
			info.BitrateBps = bits / 8
		}
	}
	if payload.Format.Duration != "" {
		if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil && d > 0 {
			info.Duration = d
		}
	}
	if info.BitrateBps == 0 {
		return MediaInfo{}, errors.New("no bitrate in probe output")
	}
	return info, nil
}
