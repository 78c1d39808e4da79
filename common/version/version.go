// Package version holds build metadata for the memu-wrapper binary.
package version

var (
	// Version is the semantic version (set via ldflags)
	Version = "v0.1.0-dev"

	// GitCommit is the git commit hash (set via ldflags)
	GitCommit = "unknown"

	// BuildTime is the build timestamp (set via ldflags)
	BuildTime = "unknown"
)

// Info returns a single-line summary suitable for `memu-wrapper version`.
func Info() string {
	return "memu-wrapper " + Version + " (" + GitCommit + ") built at " + BuildTime
}
