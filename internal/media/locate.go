// Package media resolves the playable file a backend produced.
package media

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/metacritical/termflix-sub001/internal/domain"
)

var videoExts = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".webm": true,
	".mov": true, ".m4v": true, ".ts": true, ".wmv": true,
}

var subtitleExts = map[string]bool{
	".srt": true, ".vtt": true, ".ass": true, ".sub": true,
}

// Locate scans root for the largest video file modified at or after
// sessionStart. The mtime restriction keeps a stale file from a previous
// run sharing the cache directory from being picked up. A subtitle from
// the same tree is attached when present, first match wins.
func Locate(root string, sessionStart time.Time) (domain.MediaAsset, bool) {
	var (
		best     string
		bestSize int64
		subtitle string
	)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		info, err := d.Info()
		if err != nil || info.ModTime().Before(sessionStart) {
			return nil
		}
		switch {
		case videoExts[ext]:
			if info.Size() > bestSize {
				best = path
				bestSize = info.Size()
			}
		case subtitleExts[ext]:
			if subtitle == "" {
				subtitle = path
			}
		}
		return nil
	})
	if best == "" {
		return domain.MediaAsset{}, false
	}
	return domain.MediaAsset{VideoPath: best, SubtitlePath: subtitle}, true
}
