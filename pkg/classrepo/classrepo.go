// Package classrepo resolves which course repository, and which assignment
// within it, a filesystem path belongs to.
package classrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/course"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/git"
)

const (
	// OriginRemote names the authoritative remote in every class clone.
	OriginRemote = "origin"
	// MainBranch is the working branch.
	MainBranch = "main"
	// TrackingBranch mirrors the remote's main after a fetch.
	TrackingBranch = OriginRemote + "/" + MainBranch
)

var (
	// ErrInvalidRepository means the path is not inside any git working tree.
	ErrInvalidRepository = errors.New("not in a git repository")
	// ErrWrongRemote means the path is inside a repository whose origin is not
	// the course's authoritative remote.
	ErrWrongRemote = errors.New("not in your class repository")
	// ErrNoCurrentAssignment means the path is inside the class repository but
	// not inside any assignment directory.
	ErrNoCurrentAssignment = errors.New("not in an assignment directory")
)

// DirName normalizes a course name into a single path element. Letters,
// digits, '-' and '_' are kept; every other character becomes '_'. Names
// that differ only in those characters share a directory ("Intro to CS" and
// "Intro_to_CS" both map to "Intro_to_CS").
func DirName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// RepoRoot returns where the course clone lives under baseDir. It does no I/O.
func RepoRoot(baseDir string, c course.Course) string {
	return filepath.Join(baseDir, DirName(c.Name))
}

// Repository is a local working copy verified to be a clone of a course's
// authoritative remote.
type Repository struct {
	Root   string // canonical top-level directory
	Course course.Course

	git *git.Repo
}

// Resolve verifies that currentPath lies inside a clone whose origin URL is
// byte-for-byte equal to c.MasterRemoteURL. It never mutates anything.
func Resolve(ctx context.Context, c course.Course, currentPath string) (*Repository, error) {
	dir, err := containingDir(currentPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRepository, currentPath)
	}

	g := git.Open(dir)
	top, err := g.Root(ctx)
	if err != nil {
		if errors.Is(err, git.ErrNotARepository) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRepository, currentPath)
		}
		return nil, fmt.Errorf("resolve repository root: %w", err)
	}

	url, err := g.RemoteURL(ctx, OriginRemote)
	if err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			return nil, fmt.Errorf("%w: %s has no %s remote", ErrWrongRemote, top, OriginRemote)
		}
		return nil, fmt.Errorf("read %s remote: %w", OriginRemote, err)
	}
	if url != c.MasterRemoteURL {
		return nil, fmt.Errorf("%w: %s remote is %q, expected %q", ErrWrongRemote, OriginRemote, url, c.MasterRemoteURL)
	}

	root, err := canonical(top)
	if err != nil {
		return nil, err
	}
	return &Repository{Root: root, Course: c, git: git.Open(root)}, nil
}

// Git returns the adapter bound to the repository root.
func (r *Repository) Git() *git.Repo {
	return r.git
}

// AssignmentPath joins the repository root with the assignment directory.
// The directory is not required to exist.
func (r *Repository) AssignmentPath(a course.Assignment) string {
	return filepath.Join(r.Root, filepath.FromSlash(a.DirectoryPath))
}

// CurrentAssignment resolves the assignment containing currentPath, failing
// with ErrNoCurrentAssignment when there is none.
func (r *Repository) CurrentAssignment(assignments []course.Assignment, currentPath string) (course.Assignment, error) {
	p, err := canonical(currentPath)
	if err != nil {
		return course.Assignment{}, err
	}
	a, ok := ResolveCurrentAssignment(assignments, r.Root, p)
	if !ok {
		return course.Assignment{}, fmt.Errorf("%w: %s", ErrNoCurrentAssignment, currentPath)
	}
	return a, nil
}

// ResolveCurrentAssignment returns the first assignment, in list order, whose
// directory equals or contains currentPath. Nested assignment directories
// therefore resolve to whichever comes first in the list, not the most
// specific one. Paths are compared lexically.
func ResolveCurrentAssignment(assignments []course.Assignment, repoRoot, currentPath string) (course.Assignment, bool) {
	for _, a := range assignments {
		dir := filepath.Join(repoRoot, filepath.FromSlash(a.DirectoryPath))
		if within(dir, currentPath) {
			return a, true
		}
	}
	return course.Assignment{}, false
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// canonical makes p absolute and resolves symlinks in the longest existing
// prefix, so paths that do not exist yet still compare against a resolved
// repository root.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	var missing []string
	cur := abs
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		missing = append([]string{filepath.Base(cur)}, missing...)
		cur = parent
	}
}

// containingDir returns the directory git should run in for p: p itself, or
// its parent when p is a file.
func containingDir(p string) (string, error) {
	c, err := canonical(p)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(c)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return filepath.Dir(c), nil
	}
	return c, nil
}
