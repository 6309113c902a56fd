package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Version is a protocol version triple. Majors must match the supported
// range for compatibility; minors are tolerated in both directions.
type Version struct {
	Major int
	Minor int
	Patch int
}

// Supported version bounds. A message carrying no version at all is
// treated as MinSupported, not rejected.
var (
	MinSupported = Version{Major: 1, Minor: 0, Patch: 0}
	Current      = Version{Major: 2, Minor: 1, Patch: 0}
)

// ErrInvalidVersion is returned by ParseVersion for malformed input.
var ErrInvalidVersion = errors.New("protocol: invalid version format")

// ParseVersion parses a "major.minor.patch" string. The patch component
// may be omitted.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// String returns the "major.minor.patch" form.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether v is at or above the given major.minor.
func (v Version) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// Compat classifies a version check result.
type Compat int

const (
	// CompatOK means the version is fully compatible.
	CompatOK Compat = iota

	// CompatClientBehind means compatible, but the client's minor version
	// trails the coordinator's — the client should upgrade.
	CompatClientBehind

	// CompatServerBehind means compatible, but the client's minor version
	// is ahead of the coordinator's — the coordinator should upgrade.
	CompatServerBehind

	// CompatIncompatible means the major version is outside the supported
	// range.
	CompatIncompatible
)

// String returns a human-readable name for the classification.
func (c Compat) String() string {
	switch c {
	case CompatOK:
		return "ok"
	case CompatClientBehind:
		return "client_behind"
	case CompatServerBehind:
		return "server_behind"
	case CompatIncompatible:
		return "incompatible"
	default:
		return "unknown"
	}
}

// Compatible reports whether the classification permits the connection.
func (c Compat) Compatible() bool { return c != CompatIncompatible }

// Check classifies v against the supported range: majors below
// MinSupported's or above Current's are incompatible; any minor within a
// supported major is tolerated, with a hint about which side is behind.
func Check(v Version) Compat {
	if v.Major < MinSupported.Major || v.Major > Current.Major {
		return CompatIncompatible
	}
	if v.Major == Current.Major {
		switch {
		case v.Minor < Current.Minor:
			return CompatClientBehind
		case v.Minor > Current.Minor:
			return CompatServerBehind
		}
	}
	if v.Major < Current.Major {
		return CompatClientBehind
	}
	return CompatOK
}
