package backend

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ScopedOverride temporarily patches one key in a backend's persisted
// JSON settings file and restores it verbatim on release. Some
// transmission-cli builds ignore the -w flag when a persisted settings
// file exists, so the download directory has to be redirected there for
// the session and put back afterwards.
//
// Restore is idempotent: restoring twice, or after the file was already
// put back, is a clean no-op. That lets the same cleanup path serve
// normal completion, failure, and cancellation.
type ScopedOverride struct {
	path string

	mu       sync.Mutex
	applied  bool
	existed  bool
	original []byte
}

func NewScopedOverride(settingsPath string) *ScopedOverride {
	return &ScopedOverride{path: settingsPath}
}

// Apply snapshots the current settings file and writes a patched copy
// with key set to value. A missing settings file is created.
func (o *ScopedOverride) Apply(key string, value any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.applied {
		return fmt.Errorf("override already applied to %s", o.path)
	}

	settings := map[string]any{}
	raw, err := os.ReadFile(o.path)
	switch {
	case err == nil:
		o.existed = true
		o.original = raw
		if err := json.Unmarshal(raw, &settings); err != nil {
			return fmt.Errorf("parse settings %s: %w", o.path, err)
		}
	case os.IsNotExist(err):
		o.existed = false
	default:
		return fmt.Errorf("read settings %s: %w", o.path, err)
	}

	settings[key] = value
	patched, err := json.MarshalIndent(settings, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(o.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(o.path, patched, 0o644); err != nil {
		return fmt.Errorf("patch settings %s: %w", o.path, err)
	}
	o.applied = true
	return nil
}

// Restore puts the original file content back exactly as snapshotted, or
// removes the file if it did not exist before Apply.
func (o *ScopedOverride) Restore() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.applied {
		return nil
	}
	var err error
	if o.existed {
		err = os.WriteFile(o.path, o.original, 0o644)
	} else {
		err = os.Remove(o.path)
		if os.IsNotExist(err) {
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("restore settings %s: %w", o.path, err)
	}
	o.applied = false
	return nil
}
