package database

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Flag is a maintenance flag file that exists only while a dump runs.
// External systems (a Magento maintenance.flag, for instance) watch for it
// to pause writes.
type Flag struct {
	Path string
}

// RaiseFlag touches path and returns the Flag that removes it again. An empty
// path yields a nil *Flag whose Lower is a no-op.
func RaiseFlag(path string) (*Flag, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create flag file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("create flag file %s: %w", path, err)
	}
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	return &Flag{Path: path}, nil
}

// Lower removes the flag file. A flag that is already gone is not an error.
func (f *Flag) Lower() error {
	if f == nil {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove flag file %s: %w", f.Path, err)
	}
	return nil
}
