// Package storage persists rendering artifacts. Artifacts are
// transient by design: they are written to the OS temp directory under
// fresh names and their cleanup is left to the OS.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Persister persists artifact files. It abstracts away the where and
// how of writing so tests can capture artifacts in memory.
type Persister interface {
	Persist(ctx context.Context, path string, data io.Reader) error
}

// DiskPersister persists artifacts to the local disk.
type DiskPersister struct{}

// Persist writes the contents of data to path, creating parent
// directories as needed and truncating any existing file.
func (d *DiskPersister) Persist(_ context.Context, path string, data io.Reader) (err error) {
	cp := filepath.Clean(path)

	if err = os.MkdirAll(filepath.Dir(cp), 0o755); err != nil {
		return fmt.Errorf("creating artifact directory for %q: %w", cp, err)
	}

	f, err := os.OpenFile(cp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating artifact file %q: %w", cp, err)
	}
	defer func() {
		cerr := f.Close()
		if cerr != nil && err == nil {
			err = fmt.Errorf("closing artifact file %q: %w", cp, cerr)
		}
	}()

	_, err = io.Copy(f, data)

	return err
}

// TempFile reserves a fresh file in the OS temp directory and returns
// its path. ext is the extension without the dot ("png", "jpeg",
// "gif"). Each call yields a distinct name, so concurrent observers
// never collide.
func TempFile(prefix, ext string) (string, error) {
	f, err := os.CreateTemp("", fmt.Sprintf("%s-*.%s", prefix, ext))
	if err != nil {
		return "", fmt.Errorf("reserving temp artifact file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing temp artifact file %q: %w", path, err)
	}
	return path, nil
}
