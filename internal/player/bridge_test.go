package player

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/metacritical/termflix-sub001/internal/domain"
)

// fakeSplash is a unix-socket listener standing in for a running player's
// control channel. It records every command line it receives.
type fakeSplash struct {
	listener net.Listener

	mu       sync.Mutex
	commands [][]any
}

func newFakeSplash(t *testing.T) (*fakeSplash, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "mpv.sock")
	l, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeSplash{listener: l}
	go f.acceptLoop()
	t.Cleanup(func() { l.Close() })
	return f, sock
}

func (f *fakeSplash) acceptLoop() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.readConn(conn)
	}
}

func (f *fakeSplash) readConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var msg struct {
			Command []any `json:"command"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		f.mu.Lock()
		f.commands = append(f.commands, msg.Command)
		f.mu.Unlock()
	}
}

func (f *fakeSplash) received() [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]any, len(f.commands))
	copy(out, f.commands)
	return out
}

func (f *fakeSplash) indexOf(name string) int {
	for i, cmd := range f.received() {
		if len(cmd) > 0 && cmd[0] == name {
			return i
		}
	}
	return -1
}

func (f *fakeSplash) count(name string) int {
	n := 0
	for _, cmd := range f.received() {
		if len(cmd) > 0 && cmd[0] == name {
			n++
		}
	}
	return n
}

func testBridgeLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSplashTransitionCommandSequence(t *testing.T) {
	splash, sock := newFakeSplash(t)

	b := NewBridge(Options{SplashSocket: sock, Title: "Some Movie"}, testBridgeLogger())
	asset := domain.MediaAsset{
		VideoPath:    "/cache/session/movie.mkv",
		SubtitlePath: "/cache/session/movie.srt",
		StreamURL:    "http://127.0.0.1:8888/",
	}
	handle, err := b.Attach(context.Background(), asset)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if handle == nil {
		t.Fatal("attach returned nil handle")
	}

	if n := splash.count("loadfile"); n != 1 {
		t.Fatalf("loadfile sent %d times, want exactly 1", n)
	}

	load := splash.indexOf("loadfile")
	cmd := splash.received()[load]
	if len(cmd) != 3 || cmd[1] != asset.StreamURL || cmd[2] != "replace" {
		t.Errorf("loadfile = %v, want [loadfile %s replace]", cmd, asset.StreamURL)
	}

	// The subtitle must only be attached after the media replace settled.
	sub := splash.indexOf("sub-add")
	if sub == -1 {
		t.Fatal("sub-add never sent")
	}
	if sub <= load {
		t.Errorf("sub-add at %d not after loadfile at %d", sub, load)
	}

	if splash.indexOf("set_property") == -1 {
		t.Error("no cache tuning properties sent")
	}
	// The first command blanks the overlay's last OSD text.
	first := splash.received()[0]
	if len(first) == 0 || first[0] != "show-text" {
		t.Errorf("first command = %v, want show-text clear", first)
	}
}

func TestSplashTransitionPrefersStreamURL(t *testing.T) {
	splash, sock := newFakeSplash(t)
	b := NewBridge(Options{SplashSocket: sock}, testBridgeLogger())

	asset := domain.MediaAsset{VideoPath: "/cache/movie.mkv"}
	if _, err := b.Attach(context.Background(), asset); err != nil {
		t.Fatalf("attach: %v", err)
	}
	load := splash.indexOf("loadfile")
	if load == -1 {
		t.Fatal("loadfile never sent")
	}
	if got := splash.received()[load][1]; got != asset.VideoPath {
		t.Errorf("loadfile target = %v, want file path when no stream", got)
	}
	if splash.count("sub-add") != 0 {
		t.Error("sub-add sent with no subtitle present")
	}
}

func TestSplashTransitionDeadSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "gone.sock")
	b := NewBridge(Options{SplashSocket: sock}, testBridgeLogger())
	_, err := b.Attach(context.Background(), domain.MediaAsset{VideoPath: "/x.mkv"})
	var fatal *domain.FatalError
	if !errors.As(err, &fatal) {
		t.Errorf("err = %v, want FatalError for dead splash socket", err)
	}
}

func TestConnSendFrames(t *testing.T) {
	splash, sock := newFakeSplash(t)
	conn, err := Dial(sock)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.SetProperty("keep-open", "yes"); err != nil {
		t.Fatal(err)
	}
	if err := conn.ShowText("Buffering 10%", 1500*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for len(splash.received()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("received %d commands, want 2", len(splash.received()))
		case <-time.After(10 * time.Millisecond):
		}
	}
	got := splash.received()
	if got[0][0] != "set_property" || got[0][1] != "keep-open" {
		t.Errorf("first = %v", got[0])
	}
	if got[1][0] != "show-text" || got[1][2] != float64(1500) {
		t.Errorf("second = %v", got[1])
	}
}
