package version

import "fmt"

// Semantic version components.
const (
	// Major is the major version (breaking changes).
	Major = 1
	// Minor is the minor version (new features).
	Minor = 0
	// Patch is the patch version (bug fixes).
	Patch = 0
	// Label is the optional pre-release label.
	Label = ""
)

// Build metadata, overridable at link time:
//
//	go build -ldflags "-X .../pkg/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	GitCommit = "none"
	BuildTime = "unknown"
)

// String returns the full version string.
func String() string {
	v := fmt.Sprintf("v%d.%d.%d", Major, Minor, Patch)
	if Label != "" {
		v += "-" + Label
	}
	return v
}

// Full returns a descriptive version string including build metadata.
func Full() string {
	return fmt.Sprintf("qschat %s (commit %s, built %s)", String(), GitCommit, BuildTime)
}
