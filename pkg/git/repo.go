package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrRemoteNotFound is returned by RemoteURL when the named remote has no URL.
var ErrRemoteNotFound = errors.New("remote not configured")

// Repo runs git commands scoped to Dir. Dir may be any directory inside the
// working tree.
type Repo struct {
	Dir string
}

// Open binds a Repo to dir. It does not check that dir is a repository.
func Open(dir string) *Repo {
	return &Repo{Dir: dir}
}

// MergeOptions controls Merge.
type MergeOptions struct {
	// Commit records the merge result (with the default message) instead of
	// leaving it staged.
	Commit bool
	// FFOnly refuses anything but a fast-forward.
	FFOnly bool
}

// StatusEntry is one line of porcelain status output.
type StatusEntry struct {
	Code     string // two-letter XY status, e.g. " M", "A ", "??"
	Path     string // repository-relative, slash separated
	OrigPath string // set for renames and copies
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	return runGit(ctx, r.Dir, nil, args...)
}

// Root returns the top-level directory of the working tree.
func (r *Repo) Root(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RemoteURL returns the configured URL of a remote exactly as written in the
// repository config, with no insteadOf rewriting applied.
func (r *Repo) RemoteURL(ctx context.Context, name string) (string, error) {
	out, err := r.run(ctx, "config", "--get", "remote."+name+".url")
	if err != nil {
		if exitCode(err) == 1 {
			return "", fmt.Errorf("%w: %s", ErrRemoteNotFound, name)
		}
		return "", err
	}
	return strings.TrimRight(out, "\r\n"), nil
}

// HeadCommitID resolves ref (HEAD when empty) to a full commit id.
func (r *Repo) HeadCommitID(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	out, err := r.run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r *Repo) Fetch(ctx context.Context, remote string) error {
	_, err := r.run(ctx, "fetch", "--quiet", remote)
	return err
}

func (r *Repo) Checkout(ctx context.Context, ref string) error {
	_, err := r.run(ctx, "checkout", "--quiet", ref)
	return err
}

// CheckoutNewBranch creates name at HEAD and switches to it.
func (r *Repo) CheckoutNewBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "checkout", "--quiet", "-b", name)
	return err
}

// CheckoutTracking points name at upstream, sets it to track upstream and
// switches to it. It also works on an unborn branch.
func (r *Repo) CheckoutTracking(ctx context.Context, name, upstream string) error {
	_, err := r.run(ctx, "checkout", "--quiet", "-B", name, "--track", upstream)
	return err
}

// IsAncestor reports whether ancestor is reachable from descendant. A commit
// is its own ancestor.
func (r *Repo) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := r.run(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

// Merge merges ref into the current branch. When git stops on conflicts the
// unmerged paths are returned with a nil error and the merge is left in
// progress; the caller decides whether to abort.
func (r *Repo) Merge(ctx context.Context, ref string, opts MergeOptions) ([]string, error) {
	args := []string{"merge", "--quiet"}
	if opts.FFOnly {
		args = append(args, "--ff-only")
	}
	if opts.Commit {
		args = append(args, "--commit", "--no-edit")
	} else if !opts.FFOnly {
		args = append(args, "--no-commit")
	}
	args = append(args, ref)

	_, err := r.run(ctx, args...)
	if err == nil {
		return nil, nil
	}
	conflicts, cerr := r.unmergedPaths(ctx)
	if cerr == nil && len(conflicts) > 0 {
		return conflicts, nil
	}
	return nil, err
}

func (r *Repo) unmergedPaths(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "diff", "--name-only", "--diff-filter=U", "-z")
	if err != nil {
		return nil, err
	}
	return splitNul(out), nil
}

func (r *Repo) AbortMerge(ctx context.Context) error {
	_, err := r.run(ctx, "merge", "--abort")
	return err
}

// ResetMerge drops an unfinished merge, including one whose git process
// died before recording MERGE_HEAD. Local changes the merge did not touch
// are kept.
func (r *Repo) ResetMerge(ctx context.Context) error {
	_, err := r.run(ctx, "reset", "--quiet", "--merge")
	return err
}

func (r *Repo) DeleteBranch(ctx context.Context, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := r.run(ctx, "branch", "--quiet", flag, name)
	return err
}

func (r *Repo) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := r.run(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

// Branches lists local branch names.
func (r *Repo) Branches(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "for-each-ref", "--format=%(refname:short)", "refs/heads")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// CurrentBranch returns the checked out branch, or "" when HEAD is detached.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		if exitCode(err) == 1 {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Stage adds every change (including deletions and untracked files) under
// paths to the index. Paths are relative to Dir.
func (r *Repo) Stage(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	_, err := r.run(ctx, append([]string{"add", "-A", "--"}, paths...)...)
	return err
}

// Commit records the index (restricted to paths when given) and returns the
// new commit id.
func (r *Repo) Commit(ctx context.Context, message string, paths ...string) (string, error) {
	args := []string{"commit", "--quiet", "-m", message}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}
	if _, err := r.run(ctx, args...); err != nil {
		return "", err
	}
	return r.HeadCommitID(ctx, "")
}

// Reset performs a mixed reset: HEAD (and the index for paths, when given)
// move to ref while working-tree content is left alone. An empty ref means
// HEAD.
func (r *Repo) Reset(ctx context.Context, ref string, paths ...string) error {
	args := []string{"reset", "--quiet"}
	if ref != "" {
		args = append(args, ref)
	}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}
	_, err := r.run(ctx, args...)
	return err
}

func (r *Repo) Push(ctx context.Context, remote, branch string) error {
	_, err := r.run(ctx, "push", remote, branch)
	return err
}

// ModifiedPaths lists every path that differs from HEAD, staged or not.
func (r *Repo) ModifiedPaths(ctx context.Context) ([]StatusEntry, error) {
	out, err := r.run(ctx, "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	fields := splitNul(out)
	entries := make([]StatusEntry, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if len(f) < 4 {
			continue
		}
		e := StatusEntry{Code: f[:2], Path: f[3:]}
		if f[0] == 'R' || f[0] == 'C' {
			if i+1 < len(fields) {
				e.OrigPath = fields[i+1]
				i++
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Init creates a repository in Dir with branch as the unborn initial branch.
func (r *Repo) Init(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "init", "--quiet", "--initial-branch="+branch)
	return err
}

func (r *Repo) AddRemote(ctx context.Context, name, url string) error {
	_, err := r.run(ctx, "remote", "add", name, url)
	return err
}

func (r *Repo) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.run(ctx, "config", "--local", key, value)
	return err
}

// AddConfig appends a value to a multi-valued key.
func (r *Repo) AddConfig(ctx context.Context, key, value string) error {
	_, err := r.run(ctx, "config", "--local", "--add", key, value)
	return err
}

// UnsetConfig removes every value of key. A key that is not set is not an
// error.
func (r *Repo) UnsetConfig(ctx context.Context, key string) error {
	_, err := r.run(ctx, "config", "--local", "--unset-all", key)
	if err != nil && exitCode(err) == 5 {
		return nil
	}
	return err
}

// ApproveCredential hands a credential description (git-credential input
// format) to the configured helpers.
func (r *Repo) ApproveCredential(ctx context.Context, description string) error {
	_, err := runGit(ctx, r.Dir, bytes.NewBufferString(description+"\n\n"), "credential", "approve")
	return err
}

func splitNul(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "\x00") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
