package buffer

import (
	"testing"

	"github.com/metacritical/termflix-sub001/internal/domain"
)

func TestTargetBitrateTiers(t *testing.T) {
	const bitrate = 1 << 20 // 1 MiB/s media

	tests := []struct {
		name         string
		observedRate uint64
		wantSeconds  uint64
	}{
		{"no rate known", 0, 30},
		{"rate matches bitrate", bitrate, 30},
		{"fast link", bitrate * 2, 20},
		{"slow link", bitrate / 2, 60},
		{"just above bitrate is not fast", bitrate + 1, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Target(bitrate, 2<<30, tt.observedRate)
			want := uint64(bitrate) * tt.wantSeconds
			if got != want {
				t.Errorf("Target = %d, want %d (%d seconds)", got, want, tt.wantSeconds)
			}
		})
	}
}

func TestTargetSizeTiers(t *testing.T) {
	tests := []struct {
		name       string
		totalBytes uint64
		want       uint64
	}{
		{"small torrent", 300 << 20, 10 << 20},
		{"medium torrent", 1 << 30, 30 << 20},
		{"boundary 1.5G is medium", 1536 << 20, 30 << 20},
		{"large torrent", 4 << 30, 50 << 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Target(0, tt.totalBytes, 0); got != tt.want {
				t.Errorf("Target = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTargetNothingKnown(t *testing.T) {
	if got := Target(0, 0, 0); got != 30<<20 {
		t.Errorf("Target = %d, want default 30MB", got)
	}
}

func TestTargetClamp(t *testing.T) {
	// 50 MB/s media on a slow link would want 3 GB of buffer.
	if got := Target(50<<20, 0, 1); got != domain.MaxBufferBytes {
		t.Errorf("high bitrate: got %d, want clamp to %d", got, domain.MaxBufferBytes)
	}
	// 64 KB/s media on a fast link would want barely over 1 MB.
	if got := Target(64<<10, 0, 10<<20); got != domain.MinBufferBytes {
		t.Errorf("low bitrate: got %d, want clamp to %d", got, domain.MinBufferBytes)
	}
}

func TestTargetDeterministic(t *testing.T) {
	a := Target(2<<20, 1<<30, 3<<20)
	b := Target(2<<20, 1<<30, 3<<20)
	if a != b {
		t.Errorf("same inputs gave %d then %d", a, b)
	}
}

// The slow-link answer brackets the base answer which brackets the
// fast-link answer, for any bitrate that survives the clamp.
func TestTargetRateMonotonicity(t *testing.T) {
	const bitrate = 2 << 20
	slow := Target(bitrate, 0, bitrate/2)
	base := Target(bitrate, 0, bitrate)
	fast := Target(bitrate, 0, bitrate*4)
	if !(fast <= base && base <= slow) {
		t.Errorf("want fast(%d) <= base(%d) <= slow(%d)", fast, base, slow)
	}
}
