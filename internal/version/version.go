// Package version holds build information for kernscope.
package version

import "runtime/debug"

// These variables can be overridden at build time using ldflags:
// go build -ldflags "-X kernscope/internal/version.Version=0.3.0 -X kernscope/internal/version.Commit=abc123"
var (
	// Version is the semantic version of kernscope
	Version = "0.3.0"

	// Commit is the git commit hash (set at build time)
	Commit = "unknown"

	// BuildDate is the build timestamp (set at build time)
	BuildDate = "unknown"
)

// Info returns a formatted version string
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns complete version information, falling back to the module
// build info for the commit when it was not stamped.
func Full() string {
	commit := Commit
	if commit == "unknown" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					commit = s.Value
				}
			}
		}
	}
	return "kernscope version " + Version + "\n" +
		"Commit: " + commit + "\n" +
		"Built: " + BuildDate
}
