// Package version exposes build metadata for the devbridge binary.
//
// The values are set at link time:
//
//	go build -ldflags "-X github.com/coral-mesh/devbridge/pkg/version.Version=v0.3.0"
package version

import "runtime"

var (
	// Version is the semantic version.
	Version = "dev"

	// GitCommit is the git commit hash.
	GitCommit = "unknown"

	// BuildDate is the build timestamp.
	BuildDate = "unknown"

	// GoVersion is the Go version used to build.
	GoVersion = runtime.Version()
)

// String returns a one-line summary.
func String() string {
	return Version + " (" + GitCommit + ", " + BuildDate + ", " + GoVersion + ")"
}
