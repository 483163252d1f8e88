package domain

// MediaAsset is the resolved playable output of a download backend.
type MediaAsset struct {
	VideoPath    string
	SubtitlePath string // empty when no subtitle was found
	// StreamURL is set when the backend exposes an HTTP byte stream; the
	// player prefers it over VideoPath while the file is incomplete.
	StreamURL string
}

// BufferTarget is the byte threshold that must exist on disk before
// playback is considered safe to start. Computed once per session and
// only ever widened afterwards.
type BufferTarget struct {
	Bytes uint64
}

const (
	// MinBufferBytes and MaxBufferBytes bound every computed target.
	MinBufferBytes = 10 << 20
	MaxBufferBytes = 200 << 20
)
