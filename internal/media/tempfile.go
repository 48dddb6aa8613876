package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrTooSmall = errors.New("downloaded file too small or empty")

// TempPath returns a collision-resistant path in dir. Concurrent requests never
// share a name, so no registry or lock is needed.
func TempPath(dir, prefix, ext string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(dir, TempName(prefix)+ext)
}

// TempName is the extension-less form of TempPath, used for tool output templates.
func TempName(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Remove deletes path, ignoring files that are already gone.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ValidateFile checks that path is a regular file of at least min bytes and
// returns its size.
func ValidateFile(path string, min int64) (int64, error) {
	if path == "" {
		return 0, fmt.Errorf("%w: no path", ErrTooSmall)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	if fi.Size() < min {
		return fi.Size(), fmt.Errorf("%w: %d bytes", ErrTooSmall, fi.Size())
	}
	return fi.Size(), nil
}
