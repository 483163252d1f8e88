// Package buffer computes the byte threshold that must be downloaded
// before playback starts.
package buffer

import (
	"context"
	"log/slog"

	"github.com/metacritical/termflix-sub001/internal/domain"
	"github.com/metacritical/termflix-sub001/internal/probe"
)

const (
	baseSeconds     = 30
	fastLinkSeconds = 20
	slowLinkSeconds = 60

	// Size-tier fallback when the bitrate cannot be probed.
	smallTorrentBytes = 500 << 20
	largeTorrentBytes = 1536 << 20
	smallTierTarget   = 10 << 20
	mediumTierTarget  = 30 << 20
	largeTierTarget   = 50 << 20

	// defaultTarget is the conservative answer when nothing is known.
	defaultTarget = 30 << 20
)

// Target is pure and deterministic: same inputs, same output. Any input
// may be zero ("unknown"). The result always lands in
// [MinBufferBytes, MaxBufferBytes].
func Target(bitrateBps, totalBytes, observedRateBps uint64) uint64 {
	var target uint64
	switch {
	case bitrateBps > 0:
		seconds := uint64(baseSeconds)
		if observedRateBps > 0 {
			if observedRateBps*2 > bitrateBps*3 { // observed > 1.5x bitrate
				seconds = fastLinkSeconds
			} else if observedRateBps < bitrateBps {
				seconds = slowLinkSeconds
			}
		}
		target = bitrateBps * seconds
	case totalBytes > 0:
		switch {
		case totalBytes < smallTorrentBytes:
			target = smallTierTarget
		case totalBytes <= largeTorrentBytes:
			target = mediumTierTarget
		default:
			target = largeTierTarget
		}
	default:
		target = defaultTarget
	}
	return clamp(target)
}

func clamp(v uint64) uint64 {
	if v < domain.MinBufferBytes {
		return domain.MinBufferBytes
	}
	if v > domain.MaxBufferBytes {
		return domain.MaxBufferBytes
	}
	return v
}

// Calculator probes a media file for its bitrate and derives the buffer
// target. Safe to call before the file exists; it then degrades to the
// size-tier heuristic or the conservative default.
type Calculator struct {
	prober *probe.Prober
	logger *slog.Logger
}

func NewCalculator(prober *probe.Prober, logger *slog.Logger) *Calculator {
	return &Calculator{prober: prober, logger: logger}
}

// Compute resolves a BufferTarget for mediaPath. An empty mediaPath or
// failed probe is not an error, only a degraded answer.
func (c *Calculator) Compute(ctx context.Context, mediaPath string, totalBytes, observedRateBps uint64) domain.BufferTarget {
	var bitrate uint64
	if mediaPath != "" && c.prober != nil {
		info, err := c.prober.Probe(ctx, mediaPath)
		if err != nil {
			c.logger.Warn("bitrate probe failed, using size heuristic",
				slog.String("path", mediaPath),
				slog.String("error", err.Error()),
			)
		} else {
			bitrate = info.BitrateBps
		}
	}
	bytes := Target(bitrate, totalBytes, observedRateBps)
	c.logger.Info("buffer target computed",
		slog.Uint64("bytes", bytes),
		slog.Uint64("bitrateBps", bitrate),
		slog.Uint64("observedRateBps", observedRateBps),
	)
	return domain.BufferTarget{Bytes: bytes}
}
