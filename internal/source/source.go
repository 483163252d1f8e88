// Package source normalizes user-supplied torrent sources. Magnet links
// are parsed, canonicalized (lowercase hex info-hash, magnet:?xt=urn:btih:
// prefix) and, when they carry no trackers, extended with a fixed set of
// public trackers: trackerless magnets frequently fail to find peers on
// lightweight backends.
package source

import (
	"fmt"
	"os"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/metacritical/termflix-sub001/internal/domain"
)

// publicTrackers are appended to magnets that carry none. The magnet
// renderer URL-encodes each one.
var publicTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.demonii.com:1337/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://exodus.desync.com:6969/announce",
	"http://tracker.gbitt.info:80/announce",
	"udp://open.stealth.si:80/announce",
}

// Normalize parses raw input into an immutable TorrentSource.
func Normalize(raw string) (domain.TorrentSource, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.TorrentSource{}, domain.ErrInputInvalid
	}
	if domain.LooksLikeMagnet(trimmed) {
		return normalizeMagnet(trimmed)
	}
	return normalizeTorrentFile(trimmed)
}

func normalizeMagnet(raw string) (domain.TorrentSource, error) {
	m, err := metainfo.ParseMagnetUri(raw)
	if err != nil {
		return domain.TorrentSource{}, fmt.Errorf("%w: %v", domain.ErrInputInvalid, err)
	}
	if len(m.Trackers) == 0 {
		m.Trackers = append(m.Trackers, publicTrackers...)
	}
	return domain.TorrentSource{
		Kind:        domain.SourceMagnet,
		Identifier:  m.String(),
		InfoHash:    m.InfoHash.HexString(),
		DisplayName: m.DisplayName,
	}, nil
}

func normalizeTorrentFile(path string) (domain.TorrentSource, error) {
	if _, err := os.Stat(path); err != nil {
		return domain.TorrentSource{}, fmt.Errorf("%w: %v", domain.ErrInputInvalid, err)
	}
	src := domain.TorrentSource{
		Kind:       domain.SourceFilePath,
		Identifier: path,
	}
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		// A file the metainfo parser rejects may still be accepted by a
		// more tolerant backend; hash and size just stay unknown.
		return src, nil
	}
	src.InfoHash = mi.HashInfoBytes().HexString()
	if info, err := mi.UnmarshalInfo(); err == nil {
		src.TotalBytes = info.TotalLength()
		src.DisplayName = info.Name
	}
	return src, nil
}
