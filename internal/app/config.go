package app

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel  string
	LogFormat string

	PeerflixPath        string
	TransmissionPath    string
	TransmissionConfig  string
	FFProbePath         string
	StreamPort          int
	CacheDir            string
	StatusPath          string
	StatusAddr          string // live feed HTTP address; empty disables it
	PlayerKind          string
	LaunchGraceSecs     int
	FirstByteTimeoutSec int
	LocateTimeoutSecs   int
	BufferTimeoutSecs   int
}

// LoadConfig reads the environment, after loading .env when present.
// Absent or malformed values fall back to defaults.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		PeerflixPath:        getEnv("PEERFLIX_PATH", "peerflix"),
		TransmissionPath:    getEnv("TRANSMISSION_PATH", "transmission-cli"),
		TransmissionConfig:  getEnv("TRANSMISSION_CONFIG", defaultTransmissionConfig()),
		FFProbePath:         getEnv("FFPROBE_PATH", "ffprobe"),
		StreamPort:          int(getEnvInt64("STREAM_PORT", 8888)),
		CacheDir:            getEnv("CACHE_DIR", defaultCacheDir()),
		StatusPath:          getEnv("STATUS_PATH", filepath.Join(os.TempDir(), "streamflix-status")),
		StatusAddr:          getEnv("STATUS_ADDR", ""),
		PlayerKind:          strings.ToLower(getEnv("PLAYER", "mpv")),
		LaunchGraceSecs:     int(getEnvInt64("LAUNCH_GRACE_SECS", 4)),
		FirstByteTimeoutSec: int(getEnvInt64("FIRST_BYTE_TIMEOUT_SECS", 120)),
		LocateTimeoutSecs:   int(getEnvInt64("LOCATE_TIMEOUT_SECS", 45)),
		BufferTimeoutSecs:   int(getEnvInt64("BUFFER_TIMEOUT_SECS", 600)),
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "streamflix")
	}
	return filepath.Join(os.TempDir(), "streamflix")
}

func defaultTransmissionConfig() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "transmission", "settings.json")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}
