package utils

import (
	"os"
	"path/filepath"
)

// WriteFileSync writes data to the named file and flushes it to the disk before returning.
// The parent directory is created if it doesn't exist.
func WriteFileSync(name string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return err
	}
	// #nosec G304
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
