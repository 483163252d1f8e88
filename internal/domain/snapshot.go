package domain

import (
	"fmt"
	"time"
)

// StreamState is the coarse session state carried on every progress
// snapshot and on the status artifact.
type StreamState int

const (
	StateAnalyzing StreamState = iota
	StateBuffering
	StateReady
	StatePlaying
	StateFailed
)

var streamStateNames = [...]string{
	"ANALYZING", "BUFFERING", "READY", "PLAYING", "FAILED",
}

func (s StreamState) String() string {
	if int(s) < len(streamStateNames) {
		return streamStateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// ProgressSnapshot is the latest-known progress reading. Consumers only
// ever see the most recent value; there is no history.
type ProgressSnapshot struct {
	Percent         float64
	BytesDownloaded uint64
	DownloadRateBps uint64
	PeersConnected  uint32
	PeersTotal      uint32
	State           StreamState
	SampledAt       time.Time
}
