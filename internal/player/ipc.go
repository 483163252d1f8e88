// Package player starts a media player against the session's stream, or
// repurposes an already-running splash player over its local control
// channel.
package player

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/metacritical/termflix-sub001/internal/metrics"
)

// Conn is a fire-and-forget writer to the player's JSON IPC socket.
// Commands are newline-delimited {"command":[...]} objects; no response
// is ever read. The receiving player processes commands asynchronously,
// so ordered sequences are spaced with small fixed delays.
type Conn struct {
	conn net.Conn
}

// Dial connects to the control-channel endpoint.
func Dial(socketPath string) (*Conn, error) {
	c, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial player socket %s: %w", socketPath, err)
	}
	return &Conn{conn: c}, nil
}

// Send writes one command. The first element is the command name, the
// rest its arguments.
func (c *Conn) Send(cmd ...any) error {
	if len(cmd) == 0 {
		return fmt.Errorf("empty player command")
	}
	payload, err := json.Marshal(map[string]any{"command": cmd})
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("send %v: %w", cmd[0], err)
	}
	if name, ok := cmd[0].(string); ok {
		metrics.PlayerCommandsTotal.WithLabelValues(name).Inc()
	}
	return nil
}

// SetProperty issues a set_property command.
func (c *Conn) SetProperty(key string, value any) error {
	return c.Send("set_property", key, value)
}

// ShowText puts text on the player OSD for the given duration.
func (c *Conn) ShowText(text string, d time.Duration) error {
	return c.Send("show-text", text, int(d.Milliseconds()))
}

// ClearText blanks the OSD.
func (c *Conn) ClearText() error {
	return c.Send("show-text", "", 0)
}

func (c *Conn) Close() error { return c.conn.Close() }

// pause waits out an inter-command delay without outliving the context.
func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
