// Package version carries build-time identification, set via -ldflags at
// release build time. Kept from the teacher's equivalent package, trimmed
// to the fields this binary actually reports.
package version

import "fmt"

var (
	// Version is the semantic release version, or "dev" for local builds.
	Version = "dev"
	// GitCommit is the short commit hash the binary was built from.
	GitCommit = "unknown"
	// BuildDate is the RFC3339 build timestamp, injected at link time.
	BuildDate = "unknown"
)

// Friendly returns a single human-readable identification string.
func Friendly() string {
	return fmt.Sprintf("agent-control %s (%s, built %s)", Version, GitCommit, BuildDate)
}
