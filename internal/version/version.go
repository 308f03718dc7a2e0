// Package version carries build identification, set via -ldflags.
package version

var (
	// Version is the library release version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)
