// Package version carries build metadata stamped in via -ldflags at
// release time.
package version

var (
	// Version is the current firmware version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns a single human-readable build identifier.
func String() string {
	return Version + " (" + GitSHA + ")"
}
