// Package safe reads user-supplied files with size and type checks.
package safe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultMaxFileSize is the default maximum file size for ReadFile (8MB).
const DefaultMaxFileSize = 8 << 20

var (
	ErrSymlink      = errors.New("symlinks are not allowed")
	ErrNotRegular   = errors.New("not a regular file")
	ErrFileTooLarge = errors.New("file too large")
)

// ReadOptions configures ReadFile.
type ReadOptions struct {
	// MaxSize is the maximum allowed file size in bytes. Zero means DefaultMaxFileSize.
	MaxSize int64
	// AllowSymlinks follows a symlinked path instead of rejecting it.
	AllowSymlinks bool
}

// ReadFile reads a regular file no larger than opts.MaxSize. Symlinks are
// rejected unless opts.AllowSymlinks is set.
func ReadFile(path string, opts ReadOptions) ([]byte, error) {
	maxSize := opts.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}

	cleanPath := filepath.Clean(path)

	info, err := os.Lstat(cleanPath)
	if err != nil {
		return nil, err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if !opts.AllowSymlinks {
			return nil, fmt.Errorf("%w: %s", ErrSymlink, path)
		}
		info, err = os.Stat(cleanPath)
		if err != nil {
			return nil, err
		}
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegular, path)
	}

	if info.Size() > maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrFileTooLarge, path, info.Size(), maxSize)
	}

	// #nosec G304 - the path was validated above.
	return os.ReadFile(cleanPath)
}
