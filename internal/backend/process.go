package backend

import (
	"context"
	"os/exec"
	"strings"
	"sync"
)

// Process wraps an exec.Cmd for a download backend with captured output.
// Backends only communicate through text output and file growth, so the
// combined output is retained (bounded) for progress parsing and fatal
// signature detection.
type Process struct {
	cmd    *exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	mu     sync.Mutex
	output []byte
}

const maxCapturedOutput = 64 << 10

// NewProcess creates the process but does not start it.
func NewProcess(ctx context.Context, bin string, args ...string) *Process {
	ctx2, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx2, bin, args...)
	return &Process{
		cmd:    cmd,
		ctx:    ctx2,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the process and begins output capture.
func (p *Process) Start() error {
	p.cmd.Stdout = (*captureWriter)(p)
	p.cmd.Stderr = (*captureWriter)(p)
	if err := p.cmd.Start(); err != nil {
		p.cancel()
		return err
	}
	go func() {
		p.err = p.cmd.Wait()
		close(p.done)
	}()
	return nil
}

// Stop cancels the process context, killing the process if still alive.
// Safe to call repeatedly and on an already-dead process.
func (p *Process) Stop() {
	p.cancel()
}

// Done returns a channel closed when the process exits.
func (p *Process) Done() <-chan struct{} { return p.done }

// IsDone reports whether the process has exited.
func (p *Process) IsDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the exit error (nil while running or after a clean exit).
func (p *Process) Err() error { return p.err }

// Pid returns the OS process id, or 0 before Start.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Output returns the captured combined output so far.
func (p *Process) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.output)
}

type captureWriter Process

func (w *captureWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	w.output = append(w.output, b...)
	if overflow := len(w.output) - maxCapturedOutput; overflow > 0 {
		// Keep the tail; the most recent lines carry the progress signal.
		w.output = w.output[overflow:]
	}
	w.mu.Unlock()
	return len(b), nil
}

// fatalSignatures are the confirmed-fatal parse/decode failures that
// justify abandoning a backend. Generic "Error"/"Failed" matches are
// deliberately excluded: they misfire on transient warnings.
var fatalSignatures = []string{
	"Invalid data",
	"Malformed torrent",
	"Unexpected end of buffer",
	"invalid magnet uri",
}

// HasFatalSignature reports whether the captured output matches a known
// fatal failure.
func HasFatalSignature(output string) bool {
	for _, sig := range fatalSignatures {
		if strings.Contains(output, sig) {
			return true
		}
	}
	return false
}
