package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/metacritical/termflix-sub001/internal/app"
	"github.com/metacritical/termflix-sub001/internal/backend"
	"github.com/metacritical/termflix-sub001/internal/buffer"
	"github.com/metacritical/termflix-sub001/internal/domain"
	"github.com/metacritical/termflix-sub001/internal/metrics"
	"github.com/metacritical/termflix-sub001/internal/player"
	"github.com/metacritical/termflix-sub001/internal/probe"
	"github.com/metacritical/termflix-sub001/internal/session"
	"github.com/metacritical/termflix-sub001/internal/statusfeed"
	"github.com/metacritical/termflix-sub001/internal/telemetry"
)

type flags struct {
	subtitles       bool
	subFile         string
	playerKind      string
	title           string
	splashSocket    string
	statusPath      string
	returnToCatalog bool
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	var f flags
	exit := 0

	root := &cobra.Command{
		Use:          "termflix <magnet-or-torrent-file>",
		Short:        "Stream a torrent straight into a media player",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			exit = runSession(cmd.Context(), cfg, f, args[0], registry, logger)
			return nil
		},
	}
	root.Flags().BoolVar(&f.subtitles, "subtitles", true, "attach subtitles found next to the media")
	root.Flags().StringVar(&f.subFile, "sub-file", "", "subtitle file to load instead of any found next to the media")
	root.Flags().StringVar(&f.playerKind, "player", "", "player to launch (mpv or vlc)")
	root.Flags().StringVar(&f.title, "title", "", "window title shown by the player")
	root.Flags().StringVar(&f.splashSocket, "splash-socket", "", "control socket of an already-running placeholder player")
	root.Flags().StringVar(&f.statusPath, "status-path", "", "override the status artifact path")
	root.Flags().BoolVar(&f.returnToCatalog, "return-to-catalog", false, "signal the launching shell to reopen its catalog on success")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return exit
}

func runSession(
	ctx context.Context,
	cfg app.Config,
	f flags,
	rawSource string,
	registry *prometheus.Registry,
	logger *slog.Logger,
) int {
	shutdownTracer, err := telemetry.Init(ctx, "termflix")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(shutdownCtx)
		}
	}()

	playerKind := cfg.PlayerKind
	if f.playerKind != "" {
		playerKind = f.playerKind
	}
	statusPath := cfg.StatusPath
	if f.statusPath != "" {
		statusPath = f.statusPath
	}

	sessCfg := session.Config{
		RawSource: rawSource,
		Backend: backend.Config{
			PrimaryBin:       cfg.PeerflixPath,
			FallbackBin:      cfg.TransmissionPath,
			StreamPort:       cfg.StreamPort,
			CacheRoot:        cfg.CacheDir,
			FallbackSettings: cfg.TransmissionConfig,
			LaunchGrace:      time.Duration(cfg.LaunchGraceSecs) * time.Second,
			FirstByteTimeout: time.Duration(cfg.FirstByteTimeoutSec) * time.Second,
			LocateTimeout:    time.Duration(cfg.LocateTimeoutSecs) * time.Second,
		},
		Player: player.Options{
			Kind:         player.Kind(playerKind),
			SplashSocket: f.splashSocket,
			Title:        f.title,
		},
		EnableSubtitles: f.subtitles,
		SubtitlePath:    f.subFile,
		StatusPath:      statusPath,
		BufferTimeout:   time.Duration(cfg.BufferTimeoutSecs) * time.Second,
		ReturnToCatalog: f.returnToCatalog,
	}

	calc := buffer.NewCalculator(probe.New(cfg.FFProbePath), logger)

	// The feed reads the orchestrator's snapshot and the orchestrator
	// publishes to the feed, so the snapshot getter is bound late. The
	// feed only serves after both exist.
	var orch *session.Orchestrator
	var feed *statusfeed.Server
	if cfg.StatusAddr != "" {
		feed = statusfeed.NewServer(cfg.StatusAddr,
			func() domain.ProgressSnapshot { return orch.Latest() },
			registry, logger)
	}
	orch = session.New(sessCfg, calc, feed, logger)

	logger.Info("session starting",
		slog.String("player", playerKind),
		slog.String("cacheDir", cfg.CacheDir),
		slog.String("statusPath", statusPath),
		slog.Bool("splash", f.splashSocket != ""),
	)

	feedCtx, stopFeed := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(feedCtx)
	g.Go(func() error { return feed.Run(gctx) })

	res := orch.Run(ctx)

	stopFeed()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("status feed ended abnormally", slog.String("error", err.Error()))
	}

	if res.HasResume {
		logger.Info("watch position recorded for next run",
			slog.Float64("seconds", res.ResumeSeconds))
	}
	logger.Info("session finished",
		slog.String("outcome", res.Outcome.String()),
		slog.Bool("forcedReady", res.ForcedReady),
		slog.Int("exitCode", res.Outcome.ExitCode()),
	)
	return res.Outcome.ExitCode()
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
