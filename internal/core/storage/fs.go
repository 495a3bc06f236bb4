package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// FS writes downloaded artifacts to the local filesystem.
type FS struct{}

// EnsureDir creates path and any missing parents.
func (FS) EnsureDir(path string) error {
	if path == "" {
		return errors.New("directory path is required")
	}
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// WriteFile writes data atomically and returns the number of bytes written.
func (FS) WriteFile(path string, data []byte) (int64, error) {
	if path == "" {
		return 0, errors.New("file path is required")
	}
	if err := writeAtomic(path, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// WriteJSON writes value as indented JSON.
func (FS) WriteJSON(path string, value any) (int64, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := writeAtomic(path, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// writeAtomic writes to a temp file in the target directory and renames it
// into place, so an interrupted run never leaves a truncated PDF behind.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
