package report

import (
	"fmt"
	"os"
	"path/filepath"

	"tracescan/internal/errors"
)

// WriteFile writes data to path, creating parent directories. With atomic set
// the data goes to a temporary file in the same directory which is then
// renamed over path.
func WriteFile(path string, data []byte, atomic bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.New(errors.OutputFailed, fmt.Sprintf("failed to create %s", dir), err)
	}

	if !atomic {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return errors.New(errors.OutputFailed, fmt.Sprintf("failed to write %s", path), err)
		}
		return nil
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.New(errors.OutputFailed, "failed to create temporary report file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.New(errors.OutputFailed, fmt.Sprintf("failed to write %s", tmpPath), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.New(errors.OutputFailed, fmt.Sprintf("failed to write %s", tmpPath), err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return errors.New(errors.OutputFailed, "failed to set report permissions", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.New(errors.OutputFailed, fmt.Sprintf("failed to rename report into %s", path), err)
	}
	return nil
}
