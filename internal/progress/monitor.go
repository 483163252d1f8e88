package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/metacritical/termflix-sub001/internal/domain"
)

const (
	// stallSamples consecutive unchanged-size samples with at least
	// stallFloorBytes on disk force the Ready transition so a session
	// never hangs on a torrent with no remaining peers.
	stallSamples    = 10
	stallFloorBytes = 20 << 20
)

// Monitor turns raw source readings into ProgressSnapshots. It is the
// single writer of the shared snapshot slot; any number of observers read
// with Latest. Sampling is driven by the orchestrator's tick, never
// self-scheduled.
type Monitor struct {
	source Source

	snapshot atomic.Pointer[domain.ProgressSnapshot]

	mu          sync.Mutex
	phase       domain.StreamState
	target      uint64
	lastBytes   uint64
	lastSample  time.Time
	stallCount  int
	forcedReady bool
	now         func() time.Time
}

func NewMonitor(source Source) *Monitor {
	m := &Monitor{
		source: source,
		phase:  domain.StateAnalyzing,
		now:    time.Now,
	}
	m.snapshot.Store(&domain.ProgressSnapshot{State: domain.StateAnalyzing})
	return m
}

// SetSource swaps the signal source, e.g. after a backend fallback.
func (m *Monitor) SetSource(source Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = source
	m.stallCount = 0
}

// SetTarget installs (or widens) the buffer target and moves the monitor
// out of the analyzing phase.
func (m *Monitor) SetTarget(t domain.BufferTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Bytes > m.target {
		m.target = t.Bytes
	}
	if m.phase == domain.StateAnalyzing {
		m.phase = domain.StateBuffering
	}
}

// SetPhase lets the orchestrator assert externally observed phases
// (Playing once the player is confirmed, Failed on teardown).
func (m *Monitor) SetPhase(s domain.StreamState) {
	m.mu.Lock()
	m.phase = s
	m.mu.Unlock()
}

// Latest returns the most recent snapshot. Stale reads are acceptable;
// last write wins.
func (m *Monitor) Latest() domain.ProgressSnapshot {
	return *m.snapshot.Load()
}

// Sample takes one reading, derives the snapshot and publishes it.
func (m *Monitor) Sample() domain.ProgressSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.source.Sample()
	now := m.now()

	snap := domain.ProgressSnapshot{
		BytesDownloaded: r.BytesDownloaded,
		PeersConnected:  r.PeersConnected,
		PeersTotal:      r.PeersTotal,
		State:           m.phase,
		SampledAt:       now,
	}

	if r.HasRate {
		snap.DownloadRateBps = r.RateBps
	} else if !m.lastSample.IsZero() && r.BytesDownloaded > m.lastBytes {
		elapsed := now.Sub(m.lastSample).Seconds()
		if elapsed > 0 {
			snap.DownloadRateBps = uint64(float64(r.BytesDownloaded-m.lastBytes) / elapsed)
		}
	}

	if r.HasPercent {
		snap.Percent = r.Percent
	} else if m.target > 0 {
		snap.Percent = float64(r.BytesDownloaded) / float64(m.target) * 100
		if snap.Percent > 100 {
			snap.Percent = 100
		}
	}

	// Stall accounting runs on the byte count, not the parsed percent.
	if !m.lastSample.IsZero() && r.BytesDownloaded == m.lastBytes {
		m.stallCount++
	} else {
		m.stallCount = 0
	}
	m.lastBytes = r.BytesDownloaded
	m.lastSample = now

	if m.phase == domain.StateBuffering {
		reachedTarget := m.target > 0 && r.BytesDownloaded >= m.target
		stalled := m.stallCount >= stallSamples && r.BytesDownloaded >= stallFloorBytes
		if reachedTarget || stalled {
			m.phase = domain.StateReady
			m.forcedReady = stalled && !reachedTarget
			snap.State = domain.StateReady
		}
	}

	m.snapshot.Store(&snap)
	return snap
}

// ForcedReady reports whether Ready was reached by the stall policy
// rather than the buffer target.
func (m *Monitor) ForcedReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forcedReady
}
