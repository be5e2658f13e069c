package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// MinVersion is the oldest git this package drives. --initial-branch on init
// arrived in 2.28.
const MinVersion = ">= 2.28.0"

// Version reports the version of the git executable on PATH.
func Version(ctx context.Context) (*semver.Version, error) {
	out, err := runGit(ctx, "", nil, "--version")
	if err != nil {
		return nil, err
	}
	return parseVersion(out)
}

// CheckVersion fails when the installed git does not satisfy MinVersion.
func CheckVersion(ctx context.Context) error {
	v, err := Version(ctx)
	if err != nil {
		return err
	}
	c, err := semver.NewConstraint(MinVersion)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("git %s is too old (need %s)", v, MinVersion)
	}
	return nil
}

// parseVersion accepts "git version 2.39.2", "git version 2.39.2 (Apple
// Git-143)" and "git version 2.41.0.windows.1".
func parseVersion(out string) (*semver.Version, error) {
	fields := strings.Fields(out)
	if len(fields) < 3 || fields[0] != "git" || fields[1] != "version" {
		return nil, fmt.Errorf("unrecognized git version output %q", strings.TrimSpace(out))
	}
	parts := strings.Split(fields[2], ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	v, err := semver.NewVersion(strings.Join(parts, "."))
	if err != nil {
		return nil, fmt.Errorf("parse git version %q: %w", fields[2], err)
	}
	return v, nil
}
