package domain

import "strings"

// SourceKind discriminates how a torrent source was supplied.
type SourceKind string

const (
	SourceMagnet   SourceKind = "magnet"
	SourceFilePath SourceKind = "file"
)

// TorrentSource is an immutable description of what to stream. Identifier
// holds the normalized magnet URI or the .torrent file path. InfoHash is
// the lowercase hex content hash and namespaces the session cache
// directory; it may be empty for .torrent files that failed to parse.
type TorrentSource struct {
	Kind       SourceKind
	Identifier string
	InfoHash   string
	// TotalBytes is known only for .torrent files (0 otherwise).
	TotalBytes int64
	// DisplayName is carried from dn= or the torrent info, display only.
	DisplayName string
}

// IsMagnet reports whether the source is a magnet URI.
func (s TorrentSource) IsMagnet() bool { return s.Kind == SourceMagnet }

// LooksLikeMagnet is the cheap pre-parse check used to route raw input.
func LooksLikeMagnet(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(strings.ToLower(raw)), "magnet:")
}

// BackendKind identifies which download backend a session is running.
type BackendKind string

const (
	BackendPrimary  BackendKind = "primary"
	BackendFallback BackendKind = "fallback"
)
