// Package semver tags versions of packages that are served from a local
// directory instead of the registry. A local version carries the reserved
// prerelease identifier "local", e.g. "1.2.0-local" or "1.2.0-beta.1.local".
package semver

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// LocalMarker is the prerelease identifier of a local version.
const LocalMarker = "local"

// TagLocal returns v with the local marker appended to its prerelease component.
// Tagging an already local version returns it unchanged.
func TagLocal(v *semver.Version) *semver.Version {
	if v == nil || IsLocal(v) {
		return v
	}
	pre := v.Prerelease()
	if pre == "" {
		pre = LocalMarker
	} else {
		pre += "." + LocalMarker
	}
	tagged, err := v.SetPrerelease(pre)
	if err != nil {
		// the marker is a valid identifier, SetPrerelease can not fail here
		return v
	}
	return &tagged
}

// IsLocal reports whether v carries the local marker.
func IsLocal(v *semver.Version) bool {
	if v == nil {
		return false
	}
	pre := v.Prerelease()
	if pre == "" {
		return false
	}
	for _, id := range strings.Split(pre, ".") {
		if id == LocalMarker {
			return true
		}
	}
	return false
}

// TagLocalString parses version and returns its local form.
func TagLocalString(version string) (string, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return "", err
	}
	return TagLocal(v).String(), nil
}

// IsLocalString reports whether the version string is a local version.
// Strings that are not valid semver are never local.
func IsLocalString(version string) bool {
	if !strings.Contains(version, LocalMarker) {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return IsLocal(v)
}

// SameRelease reports whether a and b share the same major.minor.patch triple,
// ignoring prerelease and build metadata (and so the local marker).
func SameRelease(a, b *semver.Version) bool {
	return a.Major() == b.Major() && a.Minor() == b.Minor() && a.Patch() == b.Patch()
}

// Compare compares a and b using semver precedence. The local marker is a
// regular prerelease identifier here, so "1.0.0-local" sorts before "1.0.0".
func Compare(a, b *semver.Version) int {
	return a.Compare(b)
}
