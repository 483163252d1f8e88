package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/metacritical/termflix-sub001/internal/domain"
)

// StatusWriter overwrites a small pipe-delimited status record on every
// sample so independent display processes always see the latest state.
// Writes are rate limited; skipped updates are fine, last write wins.
type StatusWriter struct {
	path    string
	limiter *rate.Limiter
}

func NewStatusWriter(path string) *StatusWriter {
	return &StatusWriter{
		path:    path,
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

// Path returns the artifact location.
func (w *StatusWriter) Path() string { return w.path }

// Write renders the 6-field record:
// percent|speedBytesPerSec|peersConnected|peersTotal|sizeMB|state
func (w *StatusWriter) Write(s domain.ProgressSnapshot) error {
	if w.path == "" || !w.limiter.Allow() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(w.path, []byte(Format(s)), 0o644)
}

// Remove deletes the artifact; missing files are not an error so cleanup
// stays idempotent.
func (w *StatusWriter) Remove() error {
	if w.path == "" {
		return nil
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Format renders a snapshot as the status record line.
func Format(s domain.ProgressSnapshot) string {
	return fmt.Sprintf("%.1f|%d|%d|%d|%d|%s",
		s.Percent,
		s.DownloadRateBps,
		s.PeersConnected,
		s.PeersTotal,
		s.BytesDownloaded>>20,
		s.State,
	)
}
