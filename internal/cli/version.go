package cli

import (
	"github.com/Masterminds/semver/v3"
)

// Version is the current version of jellyroller.
// The version follows semantic versioning (MAJOR.MINOR.PATCH).
const Version = "0.3.0"

// MinimumServerVersion is the oldest Jellyfin release the route table is known to work with.
const MinimumServerVersion = "10.8.0"

// serverConstraint accepts any server release at or after MinimumServerVersion.
var serverConstraint *semver.Constraints

func init() {
	var err error
	serverConstraint, err = semver.NewConstraint(">= " + MinimumServerVersion)
	if err != nil {
		panic(err)
	}
}

// IsServerCompatible reports whether a Jellyfin server version is supported.
// Returns false for invalid version strings.
func IsServerCompatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return serverConstraint.Check(v)
}
