package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/metacritical/termflix-sub001/internal/domain"
	"github.com/metacritical/termflix-sub001/internal/media"
	"github.com/metacritical/termflix-sub001/internal/metrics"
	"github.com/metacritical/termflix-sub001/internal/progress"
)

// State is the supervisor's position in the backend lifecycle.
type State int

const (
	Idle State = iota
	LaunchingPrimary
	Downloading
	LaunchingFallback
	LocatingMedia
	Ready
	Failed
)

var stateNames = [...]string{
	"idle", "launching_primary", "downloading",
	"launching_fallback", "locating_media", "ready", "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Config selects the backend executables and bounds every wait.
type Config struct {
	PrimaryBin  string // streaming-first downloader (peerflix)
	FallbackBin string // generic downloader (transmission-cli)
	StreamPort  int    // primary's local HTTP byte-stream port

	CacheRoot string
	// FallbackSettings is the fallback backend's persisted settings file,
	// patched for the session via a scoped override.
	FallbackSettings string

	LaunchGrace      time.Duration
	FirstByteTimeout time.Duration
	LocateTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.PrimaryBin == "" {
		c.PrimaryBin = "peerflix"
	}
	if c.FallbackBin == "" {
		c.FallbackBin = "transmission-cli"
	}
	if c.StreamPort == 0 {
		c.StreamPort = 8888
	}
	if c.LaunchGrace == 0 {
		c.LaunchGrace = 4 * time.Second
	}
	if c.FirstByteTimeout == 0 {
		c.FirstByteTimeout = 2 * time.Minute
	}
	if c.LocateTimeout == 0 {
		c.LocateTimeout = 45 * time.Second
	}
	return c
}

// Supervisor owns the backend-process state machine: launch the primary,
// detect fatal failure, fall back once, locate the produced media, and
// guarantee the process and any config mutation are gone on cleanup.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	mu       sync.Mutex
	state    State
	kind     domain.BackendKind
	proc     *Process
	override *ScopedOverride
	dir      string
}

func NewSupervisor(cfg Config, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg.withDefaults(),
		logger: logger,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   5 * time.Second,
		},
		state: Idle,
	}
}

func (s *Supervisor) transitionTo(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	metrics.BackendTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	s.logger.Info("backend state transition",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

// CurrentState returns the supervisor state.
func (s *Supervisor) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveKind reports which backend is running.
func (s *Supervisor) ActiveKind() domain.BackendKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// SessionDir is the infoHash-scoped download directory.
func (s *Supervisor) SessionDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// StreamURL is the primary backend's local HTTP byte stream, empty when
// the fallback is active.
func (s *Supervisor) StreamURL() string {
	if s.ActiveKind() != domain.BackendPrimary {
		return ""
	}
	return fmt.Sprintf("http://127.0.0.1:%d/", s.cfg.StreamPort)
}

// ProgressSource returns the signal adapter matching the active backend:
// the fallback emits structured progress lines, the primary only grows
// files on disk.
func (s *Supervisor) ProgressSource() progress.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kind == domain.BackendFallback && s.proc != nil {
		return progress.NewTextLogSource(s.proc.Output, s.dir)
	}
	return progress.NewFileGrowthSource(s.dir)
}

// Start drives Idle through Downloading, falling back at most once.
func (s *Supervisor) Start(ctx context.Context, src domain.TorrentSource) error {
	dir := s.sessionDirFor(src)
	// Stale directories for the same hash would make a partially
	// downloaded prior attempt look already complete.
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purge stale session dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	s.mu.Lock()
	s.dir = dir
	s.mu.Unlock()

	s.transitionTo(LaunchingPrimary)
	err := s.launch(ctx, domain.BackendPrimary, src)
	if err == nil {
		s.transitionTo(Downloading)
		return nil
	}
	// An interrupt during the launch window is not a backend failure;
	// surface it before the fallback path can touch the settings file.
	if ctx.Err() != nil {
		return err
	}
	s.logger.Warn("primary backend failed, falling back",
		slog.String("error", err.Error()),
	)
	metrics.BackendFallbacksTotal.Inc()

	s.transitionTo(LaunchingFallback)
	if err := s.launch(ctx, domain.BackendFallback, src); err != nil {
		s.transitionTo(Failed)
		return domain.Fatal(
			fmt.Errorf("all backends failed: %w", err),
			"install peerflix (npm install -g peerflix) or transmission-cli, and check connectivity",
		)
	}
	s.transitionTo(Downloading)
	return nil
}

func (s *Supervisor) launch(ctx context.Context, kind domain.BackendKind, src domain.TorrentSource) error {
	var proc *Process
	switch kind {
	case domain.BackendPrimary:
		proc = NewProcess(ctx, s.cfg.PrimaryBin,
			src.Identifier,
			"--path", s.dir,
			"--port", strconv.Itoa(s.cfg.StreamPort),
		)
	case domain.BackendFallback:
		if s.cfg.FallbackSettings != "" {
			ov := NewScopedOverride(s.cfg.FallbackSettings)
			if err := ov.Apply("download-dir", s.dir); err != nil {
				return fmt.Errorf("redirect fallback download dir: %w", err)
			}
			s.mu.Lock()
			s.override = ov
			s.mu.Unlock()
		}
		proc = NewProcess(ctx, s.cfg.FallbackBin, "-w", s.dir, src.Identifier)
	}

	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch %s backend: %w", kind, err)
	}
	s.mu.Lock()
	s.proc = proc
	s.kind = kind
	s.mu.Unlock()
	s.logger.Info("backend launched",
		slog.String("kind", string(kind)),
		slog.Int("pid", proc.Pid()),
	)

	// Grace window: an early exit or a fatal signature in the output
	// means this backend cannot handle the source. Continued life is
	// success.
	grace := time.NewTimer(s.cfg.LaunchGrace)
	defer grace.Stop()
	select {
	case <-proc.Done():
		out := proc.Output()
		if HasFatalSignature(out) {
			return fmt.Errorf("%s backend rejected source: %s", kind, firstLine(out))
		}
		return fmt.Errorf("%s backend exited during launch: %w", kind, proc.Err())
	case <-grace.C:
		if HasFatalSignature(proc.Output()) {
			proc.Stop()
			return fmt.Errorf("%s backend emitted fatal error", kind)
		}
		return nil
	case <-ctx.Done():
		proc.Stop()
		return ctx.Err()
	}
}

// WaitFirstByte blocks until the backend has written at least one byte,
// bounded by FirstByteTimeout. Media location must not begin earlier.
func (s *Supervisor) WaitFirstByte(ctx context.Context) error {
	deadline := time.After(s.cfg.FirstByteTimeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.ProgressSource().Sample().BytesDownloaded > 0 {
				return nil
			}
			if p := s.process(); p != nil && p.IsDone() {
				return domain.Fatal(
					fmt.Errorf("backend exited before producing data: %w", p.Err()),
					"the torrent may be dead; try a different release",
				)
			}
		case <-deadline:
			return domain.Fatal(
				fmt.Errorf("no data after %s", s.cfg.FirstByteTimeout),
				"no peers responded; check connectivity or try a better-seeded torrent",
			)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// LocateMedia polls the session tree for the produced video file. On the
// primary backend the asset also carries the local HTTP stream URL.
func (s *Supervisor) LocateMedia(ctx context.Context, sessionStart time.Time) (domain.MediaAsset, error) {
	s.transitionTo(LocatingMedia)
	deadline := time.After(s.cfg.LocateTimeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if asset, ok := media.Locate(s.SessionDir(), sessionStart); ok {
				if url := s.StreamURL(); url != "" && s.probeStream(ctx, url) {
					asset.StreamURL = url
				}
				s.transitionTo(Ready)
				s.logger.Info("media located",
					slog.String("video", asset.VideoPath),
					slog.String("subtitle", asset.SubtitlePath),
				)
				return asset, nil
			}
		case <-deadline:
			s.transitionTo(Failed)
			s.dumpDirectory()
			return domain.MediaAsset{}, domain.Fatal(
				domain.ErrMediaNotFound,
				"the download produced no playable video within the wait bound; see the directory listing above",
			)
		case <-ctx.Done():
			return domain.MediaAsset{}, ctx.Err()
		}
	}
}

// probeStream checks whether the primary's HTTP byte stream answers.
func (s *Supervisor) probeStream(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// Cleanup kills the backend and reverts any config mutation. Safe to
// call any number of times, from any terminal path.
func (s *Supervisor) Cleanup() {
	s.mu.Lock()
	proc := s.proc
	ov := s.override
	s.mu.Unlock()

	if proc != nil {
		proc.Stop()
		select {
		case <-proc.Done():
		case <-time.After(5 * time.Second):
			s.logger.Warn("backend did not exit within kill bound")
		}
	}
	if ov != nil {
		if err := ov.Restore(); err != nil {
			s.logger.Warn("fallback settings restore failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// PurgeSessionDir removes the session's download directory.
func (s *Supervisor) PurgeSessionDir() error {
	dir := s.SessionDir()
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

func (s *Supervisor) sessionDirFor(src domain.TorrentSource) string {
	ns := src.InfoHash
	if ns == "" {
		ns = "session"
	}
	return filepath.Join(s.cfg.CacheRoot, ns)
}

func (s *Supervisor) process() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// dumpDirectory logs a bounded listing of the session tree so the user
// can see what the backend actually produced.
func (s *Supervisor) dumpDirectory() {
	const maxEntries = 50
	var listed int
	_ = filepath.WalkDir(s.SessionDir(), func(path string, d os.DirEntry, err error) error {
		if err != nil || listed >= maxEntries {
			return filepath.SkipAll
		}
		info, ierr := d.Info()
		size := int64(0)
		if ierr == nil {
			size = info.Size()
		}
		s.logger.Info("session dir entry",
			slog.String("path", path),
			slog.Int64("size", size),
		)
		listed++
		return nil
	})
}

func firstLine(out string) string {
	for i := 0; i < len(out); i++ {
		if out[i] == '\n' {
			return out[:i]
		}
	}
	return out
}
