// Package bootstrap provides the script that is delivered to a debug target once
// per session. The script is opaque to the bridge.
package bootstrap

import (
	_ "embed"
	"errors"
	"fmt"
	"strconv"

	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/devbridge/internal/safe"
)

// OriginEmbedded is the Origin of the script compiled into the binary.
const OriginEmbedded = "embedded"

// ErrEmptyScript is returned by Load for an empty file.
var ErrEmptyScript = errors.New("bootstrap script is empty")

//go:embed backend.js
var embeddedBackend string

// Script is a bootstrap script and where it came from.
type Script struct {
	// Source is the script text sent to the target.
	Source string

	// Origin is a file path, or OriginEmbedded.
	Origin string
}

// Embedded returns the script compiled into the binary.
func Embedded() Script {
	return Script{Source: embeddedBackend, Origin: OriginEmbedded}
}

// Load reads the script at path. An empty path returns Embedded. Symlinks are
// followed so a bundler's output can be linked in place.
func Load(path string) (Script, error) {
	if path == "" {
		return Embedded(), nil
	}

	data, err := safe.ReadFile(path, safe.ReadOptions{AllowSymlinks: true})
	if err != nil {
		return Script{}, fmt.Errorf("failed to read bootstrap script: %w", err)
	}
	if len(data) == 0 {
		return Script{}, fmt.Errorf("%w: %s", ErrEmptyScript, path)
	}

	return Script{Source: string(data), Origin: path}, nil
}

// Digest returns a short fingerprint of the script, used to correlate
// deliveries in logs.
func (s Script) Digest() string {
	return strconv.FormatUint(xxh3.HashString(s.Source), 16)
}

// Size returns the script length in bytes.
func (s Script) Size() int {
	return len(s.Source)
}
