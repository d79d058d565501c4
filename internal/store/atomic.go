// Package store persists the pool's master config and cross-process state
// to disk as JSON, using a write-temp-then-rename pattern so a reader never
// observes a partially-written file.
package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeAtomic writes data to path via a pid-qualified temp file in the same
// directory, fsyncs it, then renames it over path. The temp file is cleaned
// up on any failure before the rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%d.tmp", filepath.Base(path), os.Getpid()))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
