package source

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/metacritical/termflix-sub001/internal/domain"
)

const testHash = "c12fe1c06bba254a9dc9f519b335aa7c1367a88a"

func TestNormalizeEmptyInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n"} {
		if _, err := Normalize(raw); !errors.Is(err, domain.ErrInputInvalid) {
			t.Errorf("Normalize(%q) err = %v, want ErrInputInvalid", raw, err)
		}
	}
}

func TestNormalizeTrackerlessMagnetGainsTrackers(t *testing.T) {
	src, err := Normalize("magnet:?xt=urn:btih:" + testHash)
	if err != nil {
		t.Fatal(err)
	}
	if src.Kind != domain.SourceMagnet {
		t.Errorf("kind = %v, want magnet", src.Kind)
	}
	if src.InfoHash != testHash {
		t.Errorf("infoHash = %q, want %q", src.InfoHash, testHash)
	}

	u, err := url.Parse(src.Identifier)
	if err != nil {
		t.Fatalf("identifier is not a URL: %v", err)
	}
	trackers := u.Query()["tr"]
	if len(trackers) != len(publicTrackers) {
		t.Fatalf("got %d trackers, want %d", len(trackers), len(publicTrackers))
	}
	// The raw identifier must carry them URL-encoded.
	if !strings.Contains(src.Identifier, "&tr=") {
		t.Error("identifier carries no tr parameters")
	}
	if !strings.Contains(src.Identifier, "%3A%2F%2F") {
		t.Error("tracker URLs appear unencoded")
	}
}

func TestNormalizeMagnetWithTrackersUnchanged(t *testing.T) {
	raw := "magnet:?xt=urn:btih:" + testHash +
		"&dn=Some+Movie&tr=udp%3A%2F%2Fmy.tracker%3A1337%2Fannounce"
	src, err := Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(src.Identifier)
	trackers := u.Query()["tr"]
	if len(trackers) != 1 || trackers[0] != "udp://my.tracker:1337/announce" {
		t.Errorf("trackers = %v, want only the original", trackers)
	}
	if src.DisplayName != "Some Movie" {
		t.Errorf("displayName = %q, want %q", src.DisplayName, "Some Movie")
	}
}

func TestNormalizeUppercaseHashCanonicalized(t *testing.T) {
	src, err := Normalize("magnet:?xt=urn:btih:" + strings.ToUpper(testHash))
	if err != nil {
		t.Fatal(err)
	}
	if src.InfoHash != testHash {
		t.Errorf("infoHash = %q, want lowercase %q", src.InfoHash, testHash)
	}
}

func TestNormalizeMalformedMagnet(t *testing.T) {
	if _, err := Normalize("magnet:?xt=urn:btih:nothex"); !errors.Is(err, domain.ErrInputInvalid) {
		t.Errorf("err = %v, want ErrInputInvalid", err)
	}
}

func TestNormalizeMissingTorrentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.torrent")
	if _, err := Normalize(path); !errors.Is(err, domain.ErrInputInvalid) {
		t.Errorf("err = %v, want ErrInputInvalid", err)
	}
}

func TestNormalizeUnparseableTorrentFileStillUsable(t *testing.T) {
	// Backends may accept files the metainfo parser rejects, so the path
	// survives with an unknown hash.
	path := filepath.Join(t.TempDir(), "odd.torrent")
	if err := os.WriteFile(path, []byte("not bencode at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := Normalize(path)
	if err != nil {
		t.Fatalf("err = %v, want tolerant success", err)
	}
	if src.Kind != domain.SourceFilePath || src.Identifier != path {
		t.Errorf("src = %+v, want file source for %q", src, path)
	}
	if src.InfoHash != "" {
		t.Errorf("infoHash = %q, want unknown", src.InfoHash)
	}
}
