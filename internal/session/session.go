// Package session drives one end-to-end streaming session: normalize the
// source, supervise the download backend, gate playback on the buffer
// target and hand the media to the player. It is the only package the
// CLI talks to.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/metacritical/termflix-sub001/internal/backend"
	"github.com/metacritical/termflix-sub001/internal/buffer"
	"github.com/metacritical/termflix-sub001/internal/domain"
	"github.com/metacritical/termflix-sub001/internal/metrics"
	"github.com/metacritical/termflix-sub001/internal/player"
	"github.com/metacritical/termflix-sub001/internal/progress"
	"github.com/metacritical/termflix-sub001/internal/source"
	"github.com/metacritical/termflix-sub001/internal/statusfeed"
)

// Phase is the orchestrator's position in the session lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseWaitingData
	PhaseBuffering
	PhaseAttaching
	PhasePlaying
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	"idle", "starting", "waiting_data", "buffering",
	"attaching", "playing", "done", "failed",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("unknown(%d)", int(p))
}

// Outcome classifies how a session ended. It maps to the process exit
// code handed back to the launching shell.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFatal
	OutcomeInterrupted
	OutcomeReturnToCatalog
)

var outcomeNames = [...]string{"completed", "fatal", "interrupted", "return_to_catalog"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("unknown(%d)", int(o))
}

// ExitCode returns the shell exit code for this outcome.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeCompleted:
		return 0
	case OutcomeFatal:
		return 1
	case OutcomeInterrupted:
		return 2
	case OutcomeReturnToCatalog:
		return 3
	}
	return 1
}

// Result is what a finished session reports back to the CLI.
type Result struct {
	Outcome       Outcome
	ResumeSeconds float64
	HasResume     bool
	ForcedReady   bool
	Err           error
}

// Config gathers everything one session needs.
type Config struct {
	RawSource string

	Backend backend.Config
	Player  player.Options

	// EnableSubtitles gates subtitle attachment entirely.
	EnableSubtitles bool
	// SubtitlePath, when set, overrides any subtitle found next to the
	// downloaded media.
	SubtitlePath string

	// StatusPath is the pipe-delimited status artifact location. Empty
	// disables the artifact.
	StatusPath string

	// BufferTimeout bounds the wait for the buffer target once data is
	// flowing, so a trickling swarm cannot hold the session in buffering
	// forever.
	BufferTimeout time.Duration

	// ReturnToCatalog requests the return-to-catalog exit code on a
	// successful session instead of plain success.
	ReturnToCatalog bool

	// SampleInterval drives the progress monitor tick.
	SampleInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleInterval == 0 {
		c.SampleInterval = time.Second
	}
	if c.BufferTimeout == 0 {
		c.BufferTimeout = 10 * time.Minute
	}
	return c
}

// Orchestrator runs exactly one session. Not reusable.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	sup    *backend.Supervisor
	calc   *buffer.Calculator
	writer *progress.StatusWriter
	feed   *statusfeed.Server

	mu      sync.Mutex
	phase   Phase
	monitor *progress.Monitor

	cleanupOnce sync.Once
}

// New wires an orchestrator. feed may be nil.
func New(cfg Config, calc *buffer.Calculator, feed *statusfeed.Server, logger *slog.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("session"),
		sup:    backend.NewSupervisor(cfg.Backend, logger),
		calc:   calc,
		writer: progress.NewStatusWriter(cfg.StatusPath),
		feed:   feed,
		phase:  PhaseIdle,
	}
}

// Latest exposes the shared snapshot for external feeds. Safe before the
// monitor exists.
func (o *Orchestrator) Latest() domain.ProgressSnapshot {
	o.mu.Lock()
	m := o.monitor
	o.mu.Unlock()
	if m == nil {
		return domain.ProgressSnapshot{State: domain.StateAnalyzing}
	}
	return m.Latest()
}

func (o *Orchestrator) transitionTo(to Phase) {
	o.mu.Lock()
	from := o.phase
	o.phase = to
	o.mu.Unlock()
	metrics.SessionPhaseTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	o.logger.Info("session phase transition",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

// Run executes the session and always returns a Result; the error inside
// it is already classified. Every terminal path funnels through the same
// idempotent cleanup.
func (o *Orchestrator) Run(ctx context.Context) Result {
	ctx, span := o.tracer.Start(ctx, "session.run")
	defer span.End()

	res := o.run(ctx)

	o.cleanup(res.Outcome)
	metrics.SessionsTotal.WithLabelValues(res.Outcome.String()).Inc()
	if res.Outcome == OutcomeFatal {
		o.transitionTo(PhaseFailed)
	} else {
		o.transitionTo(PhaseDone)
	}
	return res
}

func (o *Orchestrator) run(ctx context.Context) Result {
	sessionStart := time.Now()

	src, err := source.Normalize(o.cfg.RawSource)
	if err != nil {
		return Result{Outcome: OutcomeFatal, Err: err}
	}
	o.logger.Info("source normalized",
		slog.String("kind", string(src.Kind)),
		slog.String("infoHash", src.InfoHash),
		slog.String("name", src.DisplayName),
	)

	o.transitionTo(PhaseStarting)
	startCtx, startSpan := o.tracer.Start(ctx, "backend.start",
		trace.WithAttributes(attribute.String("source.kind", string(src.Kind))))
	err = o.sup.Start(startCtx, src)
	startSpan.End()
	if err != nil {
		return o.classify(ctx, err)
	}

	mon := progress.NewMonitor(o.sup.ProgressSource())
	o.mu.Lock()
	o.monitor = mon
	o.mu.Unlock()

	// The sampler runs for the whole session: the artifact, the gauges
	// and the feed keep tracking the download behind playback. It is
	// drained before run returns so no write can land after cleanup.
	sampleCtx, stopSample := context.WithCancel(ctx)
	sampleDone := make(chan struct{})
	go func() {
		defer close(sampleDone)
		o.sampleLoop(sampleCtx, mon)
	}()
	defer func() {
		stopSample()
		<-sampleDone
	}()

	// The overlay lives for the buffering span only and must be finished
	// before any player command goes out, so the final OSD clear can
	// never land after the media replace.
	bufCtx, stopBuf := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(bufCtx)
	if o.cfg.Player.SplashSocket != "" {
		overlay := player.NewOverlay(o.cfg.Player.SplashSocket, mon.Latest, o.logger)
		g.Go(func() error { return overlay.Run(gctx) })
	}

	asset, err := o.buffering(ctx, src, mon, sessionStart)

	stopBuf()
	if werr := g.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
		o.logger.Warn("buffering workers ended abnormally", slog.String("error", werr.Error()))
	}
	if err != nil {
		return o.classify(ctx, err)
	}

	return o.attachAndPlay(ctx, asset, mon)
}

// attachAndPlay hands the ready asset to the player and follows it to
// exit. A cancel that landed before the player was attached is still an
// interrupt; once playback is confirmed, leaving is a normal end.
func (o *Orchestrator) attachAndPlay(ctx context.Context, asset domain.MediaAsset, mon *progress.Monitor) Result {
	if err := ctx.Err(); err != nil {
		return o.classify(ctx, err)
	}

	o.transitionTo(PhaseAttaching)
	if !o.cfg.EnableSubtitles {
		asset.SubtitlePath = ""
	} else if o.cfg.SubtitlePath != "" {
		asset.SubtitlePath = o.cfg.SubtitlePath
	}
	attachCtx, attachSpan := o.tracer.Start(ctx, "player.attach")
	bridge := player.NewBridge(o.cfg.Player, o.logger)
	handle, err := bridge.Attach(attachCtx, asset)
	attachSpan.End()
	if err != nil {
		return o.classify(ctx, err)
	}

	o.transitionTo(PhasePlaying)
	mon.SetPhase(domain.StatePlaying)
	// The artifact keeps reflecting reality while the player runs.
	_ = o.writer.Write(mon.Sample())

	res := Result{ForcedReady: mon.ForcedReady()}
	if pos, ok := player.ResumePosition(asset.VideoPath); ok {
		res.ResumeSeconds, res.HasResume = pos, true
		o.logger.Info("previous watch position found",
			slog.Float64("seconds", pos))
	}

	if err := handle.Wait(ctx); err != nil {
		// A cancel while the player is up is a normal way to leave.
		if !errors.Is(err, context.Canceled) {
			o.logger.Warn("player exited with error", slog.String("error", err.Error()))
		}
	}

	if o.cfg.ReturnToCatalog {
		res.Outcome = OutcomeReturnToCatalog
	} else {
		res.Outcome = OutcomeCompleted
	}
	return res
}

// buffering walks the session from first byte to a Ready buffer and a
// located media asset.
func (o *Orchestrator) buffering(
	ctx context.Context,
	src domain.TorrentSource,
	mon *progress.Monitor,
	sessionStart time.Time,
) (domain.MediaAsset, error) {
	o.transitionTo(PhaseWaitingData)
	waitCtx, waitSpan := o.tracer.Start(ctx, "backend.first_byte")
	err := o.sup.WaitFirstByte(waitCtx)
	waitSpan.End()
	if err != nil {
		return domain.MediaAsset{}, err
	}
	// A fallback may have replaced the primary since the monitor was
	// built; re-bind the matching signal source.
	mon.SetSource(o.sup.ProgressSource())

	o.transitionTo(PhaseBuffering)
	// Provisional target from torrent size alone; moves the monitor out
	// of the analyzing phase so the overlay shows real numbers.
	initial := o.calc.Compute(ctx, "", uint64(src.TotalBytes), mon.Latest().DownloadRateBps)
	mon.SetTarget(initial)
	metrics.BufferTargetBytes.Set(float64(initial.Bytes))

	locCtx, locSpan := o.tracer.Start(ctx, "backend.locate_media")
	asset, err := o.sup.LocateMedia(locCtx, sessionStart)
	locSpan.End()
	if err != nil {
		return domain.MediaAsset{}, err
	}

	// With the real file on disk the bitrate probe can refine the target.
	// Targets only widen, so a late lower estimate never unready-s us.
	refined := o.calc.Compute(ctx, asset.VideoPath, uint64(src.TotalBytes), mon.Latest().DownloadRateBps)
	mon.SetTarget(refined)
	if refined.Bytes > initial.Bytes {
		metrics.BufferTargetBytes.Set(float64(refined.Bytes))
	}

	if err := o.waitReady(ctx, mon); err != nil {
		return domain.MediaAsset{}, err
	}
	return asset, nil
}

// waitReady blocks until the monitor reports Ready, bounded by
// BufferTimeout. The sample loop does the actual sampling; this only
// observes. The bound matters for a trickling swarm: the byte count
// keeps moving, so the stall policy never applies.
func (o *Orchestrator) waitReady(ctx context.Context, mon *progress.Monitor) error {
	deadline := time.After(o.cfg.BufferTimeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := mon.Latest()
			if snap.State >= domain.StateReady {
				o.logger.Info("buffer ready",
					slog.Uint64("bytes", snap.BytesDownloaded),
					slog.Bool("forced", mon.ForcedReady()),
				)
				return nil
			}
			if p := o.sup.CurrentState(); p == backend.Failed {
				return domain.Fatal(
					errors.New("backend failed while buffering"),
					"the download died before reaching the playback threshold",
				)
			}
		case <-deadline:
			return domain.Fatal(
				fmt.Errorf("buffer target not reached within %s", o.cfg.BufferTimeout),
				"the download is too slow to buffer; try a better-seeded torrent",
			)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sampleLoop is the single writer of the shared snapshot. It also fans
// the snapshot out to the status artifact, the gauges and the live feed.
func (o *Orchestrator) sampleLoop(ctx context.Context, mon *progress.Monitor) {
	ticker := time.NewTicker(o.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := mon.Sample()
			metrics.DownloadSpeedBytes.Set(float64(snap.DownloadRateBps))
			metrics.DownloadPercent.Set(snap.Percent)
			metrics.PeersConnected.Set(float64(snap.PeersConnected))
			if err := o.writer.Write(snap); err != nil {
				o.logger.Debug("status artifact write failed",
					slog.String("error", err.Error()))
			}
			o.feed.Publish(snap)
		case <-ctx.Done():
			return
		}
	}
}

// classify turns a mid-session error into a terminal Result. A context
// cancel before playback is the user walking away, not a failure.
func (o *Orchestrator) classify(ctx context.Context, err error) Result {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		o.logger.Info("session interrupted")
		return Result{Outcome: OutcomeInterrupted, Err: domain.ErrCancelled}
	}
	var fatal *domain.FatalError
	if errors.As(err, &fatal) {
		o.logger.Error("session failed",
			slog.String("error", fatal.Err.Error()),
			slog.String("remedy", fatal.Remedy),
		)
	} else {
		o.logger.Error("session failed", slog.String("error", err.Error()))
	}
	return Result{Outcome: OutcomeFatal, Err: err}
}

// cleanup tears the session down exactly once: backend and its config
// override first, then the status artifact. Download data is kept on
// success so a rewatch resumes instantly, purged otherwise.
func (o *Orchestrator) cleanup(outcome Outcome) {
	o.cleanupOnce.Do(func() {
		o.mu.Lock()
		if o.monitor != nil && outcome == OutcomeFatal {
			o.monitor.SetPhase(domain.StateFailed)
		}
		o.mu.Unlock()

		o.sup.Cleanup()
		if err := o.writer.Remove(); err != nil {
			o.logger.Warn("status artifact removal failed",
				slog.String("error", err.Error()))
		}
		if outcome == OutcomeFatal || outcome == OutcomeInterrupted {
			if err := o.sup.PurgeSessionDir(); err != nil {
				o.logger.Warn("session dir purge failed",
					slog.String("error", err.Error()))
			}
		}
		o.logger.Info("session cleaned up", slog.String("outcome", outcome.String()))
	})
}
