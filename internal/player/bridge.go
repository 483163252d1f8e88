package player

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/metacritical/termflix-sub001/internal/domain"
)

// Kind selects the player binary for the fresh-launch path.
type Kind string

const (
	KindMPV Kind = "mpv"
	KindVLC Kind = "vlc"
)

// Cache sizing for seeking backward/forward without re-buffering.
const (
	cacheSecs       = 120
	demuxerMaxBytes = 256 << 20
	demuxerBackMax  = 128 << 20

	interCommandDelay = 150 * time.Millisecond
	subtitleSettle    = 1500 * time.Millisecond
	aliveCheckDelay   = 2 * time.Second
)

// Options configure an attach.
type Options struct {
	Kind Kind
	// SplashSocket, when non-empty, is the control channel of an
	// already-running placeholder player to transition in place.
	SplashSocket string
	Title        string
}

// Handle identifies the live player after a successful attach.
type Handle struct {
	// PID is the player process id. For the splash path it is resolved
	// from the socket owner and may be 0 when only socket liveness could
	// be confirmed.
	PID  int
	cmd  *exec.Cmd
	sock string
}

// Wait blocks until the player exits (or the context is cancelled).
func (h *Handle) Wait(ctx context.Context) error {
	if h.cmd != nil {
		done := make(chan error, 1)
		go func() { done <- h.cmd.Wait() }()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			_ = h.cmd.Process.Kill()
			<-done
			return ctx.Err()
		}
	}
	// Splash path: the socket disappearing is the exit signal.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !socketAlive(h.sock) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Bridge attaches playback to a media asset.
type Bridge struct {
	logger *slog.Logger
	opts   Options
}

func NewBridge(opts Options, logger *slog.Logger) *Bridge {
	if opts.Kind == "" {
		opts.Kind = KindMPV
	}
	return &Bridge{logger: logger, opts: opts}
}

// Attach either transitions the splash player in place or launches a
// fresh player, then confirms a live process. Failing to confirm is
// fatal for the session.
func (b *Bridge) Attach(ctx context.Context, asset domain.MediaAsset) (*Handle, error) {
	if b.opts.SplashSocket != "" {
		return b.splashTransition(ctx, asset)
	}
	return b.freshLaunch(ctx, asset)
}

func (b *Bridge) target(asset domain.MediaAsset) string {
	if asset.StreamURL != "" {
		return asset.StreamURL
	}
	return asset.VideoPath
}

func (b *Bridge) freshLaunch(ctx context.Context, asset domain.MediaAsset) (*Handle, error) {
	var cmd *exec.Cmd
	switch b.opts.Kind {
	case KindVLC:
		args := []string{"--file-caching", "10000", "--play-and-exit"}
		if b.opts.Title != "" {
			args = append(args, "--meta-title", b.opts.Title)
		}
		if asset.SubtitlePath != "" {
			args = append(args, "--sub-file", asset.SubtitlePath)
		}
		args = append(args, b.target(asset))
		cmd = exec.Command("vlc", args...)
	default:
		args := []string{
			"--cache=yes",
			"--cache-secs=" + strconv.Itoa(cacheSecs),
			"--demuxer-max-bytes=" + strconv.Itoa(demuxerMaxBytes),
			"--demuxer-max-back-bytes=" + strconv.Itoa(demuxerBackMax),
			"--keep-open=yes",
		}
		if b.opts.Title != "" {
			args = append(args, "--force-media-title="+b.opts.Title)
		}
		if asset.SubtitlePath != "" {
			args = append(args, "--sub-file="+asset.SubtitlePath)
		}
		args = append(args, b.target(asset))
		cmd = exec.Command("mpv", args...)
	}

	if err := cmd.Start(); err != nil {
		return nil, domain.Fatal(
			fmt.Errorf("launch %s: %w", b.opts.Kind, err),
			fmt.Sprintf("is %s installed and on PATH?", b.opts.Kind),
		)
	}
	b.logger.Info("player launched",
		slog.String("kind", string(b.opts.Kind)),
		slog.Int("pid", cmd.Process.Pid),
	)

	// A player that dies within the first moments never opened a window.
	pause(ctx, aliveCheckDelay)
	if err := cmd.Process.Signal(syscall.Signal(0)); err != nil {
		_ = cmd.Wait()
		return nil, domain.Fatal(domain.ErrPlayerNotConfirmed,
			"the player exited immediately; check the media file with it directly")
	}
	return &Handle{PID: cmd.Process.Pid, cmd: cmd}, nil
}

// splashTransition sends the ordered replace sequence to the running
// placeholder player. Commands are fire-and-forget: a sub-add issued
// before the file load completes silently fails, hence the settle delay.
func (b *Bridge) splashTransition(ctx context.Context, asset domain.MediaAsset) (*Handle, error) {
	conn, err := Dial(b.opts.SplashSocket)
	if err != nil {
		return nil, domain.Fatal(err, "the splash player is gone; restart without --splash-socket")
	}
	defer conn.Close()

	steps := []func() error{
		func() error { return conn.ClearText() },
		func() error { return conn.Send("loadfile", b.target(asset), "replace") },
		func() error { return conn.SetProperty("cache", "yes") },
		func() error { return conn.SetProperty("cache-secs", cacheSecs) },
		func() error { return conn.SetProperty("demuxer-max-bytes", demuxerMaxBytes) },
		func() error { return conn.SetProperty("demuxer-max-back-bytes", demuxerBackMax) },
		func() error { return conn.SetProperty("keep-open", "yes") },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			b.logger.Warn("splash command failed", slog.String("error", err.Error()))
		}
		pause(ctx, interCommandDelay)
	}

	if asset.SubtitlePath != "" {
		pause(ctx, subtitleSettle)
		if err := conn.Send("sub-add", asset.SubtitlePath); err != nil {
			// Degraded, not fatal: playback continues without subtitles.
			b.logger.Warn("subtitle attach failed", slog.String("error", err.Error()))
		}
		pause(ctx, interCommandDelay)
	}
	if err := conn.SetProperty("osd-level", 1); err != nil {
		b.logger.Warn("osd-level set failed", slog.String("error", err.Error()))
	}

	pause(ctx, aliveCheckDelay)
	if !socketAlive(b.opts.SplashSocket) {
		return nil, domain.Fatal(domain.ErrPlayerNotConfirmed,
			"the splash player disappeared during the media transition")
	}
	return &Handle{PID: socketOwner(b.opts.SplashSocket), sock: b.opts.SplashSocket}, nil
}

func socketAlive(socketPath string) bool {
	c, err := Dial(socketPath)
	if err != nil {
		return false
	}
	c.Close()
	return true
}

// socketOwner resolves which process holds the control-channel endpoint.
// Best effort: 0 means unknown, which is acceptable once socket liveness
// is confirmed.
func socketOwner(socketPath string) int {
	out, err := exec.Command("lsof", "-t", socketPath).Output()
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0]))
	if err != nil {
		return 0
	}
	return pid
}
