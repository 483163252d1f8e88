package player

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ResumePosition reads the playback position mpv recorded for mediaPath
// in its watch_later store, if any. mpv keys entries by the uppercase
// MD5 of the full path. Returns seconds and whether a record was found.
func ResumePosition(mediaPath string) (float64, bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		return 0, false
	}
	key := fmt.Sprintf("%X", md5.Sum([]byte(mediaPath)))
	raw, err := os.ReadFile(filepath.Join(home, ".config", "mpv", "watch_later", key))
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if rest, ok := strings.CutPrefix(line, "start="); ok {
			if pos, err := strconv.ParseFloat(strings.TrimSpace(rest), 64); err == nil {
				return pos, true
			}
		}
	}
	return 0, false
}
