package progress

import (
	"os"
	"path/filepath"
	"testing"
)

func writeBytes(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, n), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestTextLogSourceParsesFullLine(t *testing.T) {
	out := "setup noise\nProgress: 42.5%, dl from 12 of 40 peers (3.20 MB/s)\n"
	src := NewTextLogSource(func() string { return out }, "")

	r := src.Sample()
	if !r.HasPercent || r.Percent != 42.5 {
		t.Errorf("percent = %v hasPercent=%v, want 42.5", r.Percent, r.HasPercent)
	}
	if r.PeersConnected != 12 || r.PeersTotal != 40 {
		t.Errorf("peers = %d/%d, want 12/40", r.PeersConnected, r.PeersTotal)
	}
	mb := float64(1 << 20)
	wantRate := uint64(3.20 * mb)
	if !r.HasRate || r.RateBps != wantRate {
		t.Errorf("rate = %d hasRate=%v, want %d", r.RateBps, r.HasRate, wantRate)
	}
}

func TestTextLogSourceUsesLatestProgressLine(t *testing.T) {
	out := "Progress: 10.0%, dl from 1 of 5 peers (0.50 MB/s)\n" +
		"some interleaved output\n" +
		"Progress: 55.0%, dl from 8 of 20 peers (2.00 MB/s)\n"
	src := NewTextLogSource(func() string { return out }, "")
	if r := src.Sample(); r.Percent != 55.0 {
		t.Errorf("percent = %v, want latest line's 55.0", r.Percent)
	}
}

func TestTextLogSourceRateUnits(t *testing.T) {
	tests := []struct {
		line string
		want uint64
	}{
		{"Progress: 1.0% (500 KB/s)", 500 << 10},
		{"Progress: 1.0% (1.5 MB/s)", uint64(1.5 * (1 << 20))},
		{"Progress: 1.0% (2 GB/s)", 2 << 30},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			src := NewTextLogSource(func() string { return tt.line }, "")
			if r := src.Sample(); !r.HasRate || r.RateBps != tt.want {
				t.Errorf("rate = %d, want %d", r.RateBps, tt.want)
			}
		})
	}
}

func TestTextLogSourceToleratesGarbage(t *testing.T) {
	// Lines that mention Progress but carry none of the fields must not
	// fail, only yield an empty reading.
	for _, out := range []string{
		"",
		"no structured output at all",
		"Progress: garbage here",
		"Progress: %",
	} {
		src := NewTextLogSource(func() string { return out }, "")
		r := src.Sample()
		if r.HasPercent || r.HasRate {
			t.Errorf("output %q: parsed fields from garbage: %+v", out, r)
		}
	}
}

func TestTextLogSourceBytesComeFromDisk(t *testing.T) {
	dir := t.TempDir()
	writeBytes(t, filepath.Join(dir, "movie.mkv"), 4096)
	src := NewTextLogSource(func() string { return "Progress: 1.0%" }, dir)
	if r := src.Sample(); r.BytesDownloaded != 4096 {
		t.Errorf("bytes = %d, want 4096", r.BytesDownloaded)
	}
}

func TestFileGrowthSourceSumsTree(t *testing.T) {
	dir := t.TempDir()
	writeBytes(t, filepath.Join(dir, "a.mkv"), 1000)
	writeBytes(t, filepath.Join(dir, "sub", "b.srt"), 24)

	src := NewFileGrowthSource(dir)
	if r := src.Sample(); r.BytesDownloaded != 1024 {
		t.Errorf("bytes = %d, want 1024", r.BytesDownloaded)
	}
}

func TestFileGrowthSourceMissingDir(t *testing.T) {
	src := NewFileGrowthSource(filepath.Join(t.TempDir(), "missing"))
	if r := src.Sample(); r.BytesDownloaded != 0 {
		t.Errorf("bytes = %d, want 0 for missing dir", r.BytesDownloaded)
	}
}
