// Package version holds the build identity stamped into the headlight
// binaries at link time. The daemon reports it in its startup banner and in
// /api/status so a bench log can always be tied back to the build that
// produced it.
package version

// Filled via -ldflags "-X github.com/banshee-data/lumen.report/internal/version.Version=..."
// and friends; the zero values mark an unstamped development build.
var (
	// Version is the release tag.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
