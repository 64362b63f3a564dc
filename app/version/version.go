// Copyright © 2022-2025 Obol Labs Inc. Licensed under the terms of a Business Source License 1.1

package version

import (
	"context"
	"fmt"
	"regexp"
	"runtime/debug"
	"strconv"

	"github.com/obolnetwork/lockreward/app/errors"
	"github.com/obolnetwork/lockreward/app/log"
	"github.com/obolnetwork/lockreward/app/z"
)

// version is the release version of the codebase.
// Usually overridden by tag names when building binaries.
var version = "v0.3-dev"

// Version is the parsed release version.
var Version, _ = Parse(version)

// Supported returns the supported minor versions in order of precedence.
// Peers advertising other minor versions are not exchanged with.
func Supported() []SemVer {
	return []SemVer{
		{major: 0, minor: 3, semVerType: typeMinor},
		{major: 0, minor: 2, semVerType: typeMinor},
	}
}

// GitCommit returns the git commit hash and timestamp from build info.
func GitCommit() (hash string, timestamp string) {
	hash, timestamp = "unknown", "unknown"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return hash, timestamp
	}

	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			hash = s.Value[:7]
		} else if s.Key == "vcs.time" {
			timestamp = s.Value
		}
	}

	return hash, timestamp
}

// LogInfo logs version information along-with the provided message.
func LogInfo(ctx context.Context, msg string) {
	gitHash, gitTimestamp := GitCommit()
	log.Info(ctx, msg,
		z.Str("version", Version.String()),
		z.Str("git_commit_hash", gitHash),
		z.Str("git_commit_time", gitTimestamp),
	)
}

type semVerType int

const (
	typeMinor semVerType = iota
	typePatch
	typePreRelease
)

var semverRegex = regexp.MustCompile(`^v(\d+)\.(\d+)(?:\.(\d+))?(?:-(.+))?$`)

// SemVer is a semantic version.
type SemVer struct {
	semVerType semVerType
	major      int
	minor      int
	patch      int
	preRelease string
}

// String returns the version string.
func (v SemVer) String() string {
	switch v.semVerType {
	case typePatch:
		return fmt.Sprintf("v%d.%d.%d", v.major, v.minor, v.patch)
	case typePreRelease:
		return fmt.Sprintf("v%d.%d-%s", v.major, v.minor, v.preRelease)
	default:
		return fmt.Sprintf("v%d.%d", v.major, v.minor)
	}
}

// Minor returns the minor version of the semantic version.
func (v SemVer) Minor() SemVer {
	return SemVer{
		semVerType: typeMinor,
		major:      v.major,
		minor:      v.minor,
	}
}

// Parse parses a semantic version string like "v0.1", "v0.1.2" or "v0.1-dev".
func Parse(version string) (SemVer, error) {
	matches := semverRegex.FindStringSubmatch(version)
	if len(matches) == 0 {
		return SemVer{}, errors.New("invalid version string", z.Str("version", version))
	}

	major, err := strconv.Atoi(matches[1])
	if err != nil {
		return SemVer{}, errors.Wrap(err, "invalid major version")
	}

	minor, err := strconv.Atoi(matches[2])
	if err != nil {
		return SemVer{}, errors.Wrap(err, "invalid minor version")
	}

	v := SemVer{semVerType: typeMinor, major: major, minor: minor}

	switch {
	case matches[3] != "" && matches[4] != "":
		return SemVer{}, errors.New("patch and pre-release not supported together", z.Str("version", version))
	case matches[3] != "":
		v.patch, err = strconv.Atoi(matches[3])
		if err != nil {
			return SemVer{}, errors.Wrap(err, "invalid patch version")
		}
		v.semVerType = typePatch
	case matches[4] != "":
		v.preRelease = matches[4]
		v.semVerType = typePreRelease
	}

	return v, nil
}

// Compare returns an integer comparing two versions by major, minor and patch.
// Pre-release and minor-only versions compare equal to their patch zero.
func Compare(a, b SemVer) int {
	for _, pair := range [][2]int{{a.major, b.major}, {a.minor, b.minor}} {
		if pair[0] < pair[1] {
			return -1
		} else if pair[0] > pair[1] {
			return 1
		}
	}

	if a.semVerType != typePatch || b.semVerType != typePatch {
		return 0
	}

	if a.patch < b.patch {
		return -1
	} else if a.patch > b.patch {
		return 1
	}

	return 0
}
