package player

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/metacritical/termflix-sub001/internal/domain"
)

// Overlay pushes buffering progress onto the splash player's OSD. It
// polls the shared snapshot and stops permanently the instant the state
// reaches Ready, issuing one final clear so it never races with the
// media-replace command sequence that follows.
type Overlay struct {
	socketPath string
	latest     func() domain.ProgressSnapshot
	logger     *slog.Logger
	limiter    *rate.Limiter
}

func NewOverlay(socketPath string, latest func() domain.ProgressSnapshot, logger *slog.Logger) *Overlay {
	return &Overlay{
		socketPath: socketPath,
		latest:     latest,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Run blocks until Ready is observed or the context ends.
func (o *Overlay) Run(ctx context.Context) error {
	conn, err := Dial(o.socketPath)
	if err != nil {
		// No splash player means nothing to decorate; not an error.
		o.logger.Debug("overlay disabled", slog.String("error", err.Error()))
		return nil
	}
	defer conn.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := o.latest()
			if snap.State >= domain.StateReady {
				_ = conn.ClearText()
				return nil
			}
			if !o.limiter.Allow() {
				continue
			}
			if err := conn.ShowText(osdLine(snap), 1500*time.Millisecond); err != nil {
				o.logger.Debug("overlay push failed", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			_ = conn.ClearText()
			return ctx.Err()
		}
	}
}

func osdLine(s domain.ProgressSnapshot) string {
	if s.State == domain.StateAnalyzing {
		return "Analyzing stream..."
	}
	return fmt.Sprintf("Buffering %.0f%%  %s/s  %d/%d peers  %s",
		s.Percent,
		humanize.Bytes(s.DownloadRateBps),
		s.PeersConnected,
		s.PeersTotal,
		humanize.Bytes(s.BytesDownloaded),
	)
}
