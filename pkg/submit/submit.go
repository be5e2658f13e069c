// Package submit commits a student's assignment work and pushes it to the
// class remote, restoring the clone to its prior state when either step
// fails.
package submit

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/classrepo"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/course"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/git"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/worktree"
)

var (
	ErrArtifactFailed = errors.New("generating submission artifact failed")
	ErrCommitFailed   = errors.New("commit failed")
	ErrPushFailed     = errors.New("push failed")
	ErrWrongBranch    = errors.New("class repository is not on the main branch")
)

// rollbackTimeout bounds undoing a failed transaction. The undo runs even
// after the request context is done.
const rollbackTimeout = 30 * time.Second

// HookRejectedError is returned when a server-side hook refused the push.
// Reasons holds the hook's output lines, in order.
type HookRejectedError struct {
	Reasons []string
	Err     error
}

func (e *HookRejectedError) Error() string {
	return "push rejected by remote: " + strings.Join(e.Reasons, "; ")
}

func (e *HookRejectedError) Unwrap() error { return e.Err }

// Status is the terminal state of a submission.
type Status int

const (
	StatusCommitted Status = iota
	StatusRolledBack
	StatusHookRejected
	// StatusRollbackFailed means the transaction failed and the clone could
	// not be restored; RollbackID is where HEAD should be.
	StatusRollbackFailed
)

func (s Status) String() string {
	switch s {
	case StatusCommitted:
		return "committed"
	case StatusRolledBack:
		return "rolled-back"
	case StatusHookRejected:
		return "hook-rejected"
	case StatusRollbackFailed:
		return "rollback-failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Request asks to submit the assignment containing Path.
type Request struct {
	Path    string
	Summary string
}

// Result records what a submission did. It is returned alongside the error
// whenever a transaction was started.
type Result struct {
	Status     Status
	RollbackID string
	CommitID   string
	Assignment course.Assignment
}

// Catalog supplies course metadata.
type Catalog interface {
	Course(ctx context.Context) (course.Course, error)
	Assignments(ctx context.Context) ([]course.Assignment, error)
}

// ArtifactGenerator rebuilds files derived from the assignment before it is
// staged.
type ArtifactGenerator interface {
	Generate(ctx context.Context, repoRoot string, a course.Assignment) error
}

// Submitter runs submission transactions.
type Submitter struct {
	Catalog   Catalog
	Locker    *worktree.Locker
	Artifacts ArtifactGenerator // optional
	Log       *zerolog.Logger
}

func (s *Submitter) logger() *zerolog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return &log.Logger
}

// Submit resolves the repository and assignment for req.Path, then stages,
// commits and pushes the assignment directory while holding the repository
// lock. On return the clone either carries exactly one new commit that is
// also on the remote, or its HEAD is back where it started.
func (s *Submitter) Submit(ctx context.Context, req Request) (*Result, error) {
	c, err := s.Catalog.Course(ctx)
	if err != nil {
		return nil, err
	}
	assignments, err := s.Catalog.Assignments(ctx)
	if err != nil {
		return nil, err
	}
	repo, err := classrepo.Resolve(ctx, c, req.Path)
	if err != nil {
		return nil, err
	}
	a, err := repo.CurrentAssignment(assignments, req.Path)
	if err != nil {
		return nil, err
	}

	locker := s.Locker
	if locker == nil {
		locker = &worktree.Locker{}
	}
	unlock, err := locker.Lock(ctx, repo.Root)
	if err != nil {
		return nil, err
	}
	defer unlock()

	l := s.logger().With().Str("root", repo.Root).Str("assignment", a.Name).Logger()

	g := repo.Git()
	branch, err := g.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	if branch != classrepo.MainBranch {
		if branch == "" {
			branch = "detached HEAD"
		}
		return nil, fmt.Errorf("%w: on %s", ErrWrongBranch, branch)
	}

	if s.Artifacts != nil {
		if err := s.Artifacts.Generate(ctx, repo.Root, a); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrArtifactFailed, err)
		}
	}

	res := &Result{Assignment: a}
	res.RollbackID, err = g.HeadCommitID(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("read HEAD: %w", err)
	}
	l = l.With().Str("rollback", res.RollbackID).Logger()

	dir := filepath.FromSlash(path.Clean(a.DirectoryPath))
	if err := g.Stage(ctx, dir); err != nil {
		return res, unstage(ctx, g, dir, res, fmt.Errorf("%w: stage %s: %w", ErrCommitFailed, dir, err))
	}
	res.CommitID, err = g.Commit(ctx, req.Summary, dir)
	if err != nil {
		res.CommitID = ""
		l.Warn().Err(err).Msg("commit failed, unstaging")
		return res, unstage(ctx, g, dir, res, fmt.Errorf("%w: %w", ErrCommitFailed, err))
	}
	l = l.With().Str("commit", res.CommitID).Logger()

	if err := g.Push(ctx, classrepo.OriginRemote, classrepo.MainBranch); err != nil {
		perr := classifyPush(err)
		rctx, cancel := rollbackContext(ctx)
		defer cancel()
		if rerr := g.Reset(rctx, res.RollbackID); rerr != nil {
			res.Status = StatusRollbackFailed
			l.Error().Err(rerr).Msg("push failed and the commit could not be rolled back")
			return res, multierror.Append(perr, fmt.Errorf("reset to %s: %w", res.RollbackID, rerr))
		}
		res.Status = StatusRolledBack
		var hook *HookRejectedError
		if errors.As(perr, &hook) {
			res.Status = StatusHookRejected
		}
		l.Warn().Err(err).Stringer("status", res.Status).Msg("push failed, rolled back")
		return res, perr
	}

	res.Status = StatusCommitted
	l.Info().Stringer("status", res.Status).Msg("assignment submitted")
	return res, nil
}

func unstage(ctx context.Context, g *git.Repo, dir string, res *Result, cause error) error {
	rctx, cancel := rollbackContext(ctx)
	defer cancel()
	// A commit killed after writing its ref still moved HEAD.
	if head, err := g.HeadCommitID(rctx, ""); err == nil && head != res.RollbackID {
		if err := g.Reset(rctx, res.RollbackID); err != nil {
			res.Status = StatusRollbackFailed
			return multierror.Append(cause, fmt.Errorf("reset to %s: %w", res.RollbackID, err))
		}
	}
	if err := g.Reset(rctx, "", dir); err != nil {
		res.Status = StatusRollbackFailed
		return multierror.Append(cause, fmt.Errorf("unstage %s: %w", dir, err))
	}
	res.Status = StatusRolledBack
	return cause
}

func rollbackContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
}

func classifyPush(err error) error {
	text := err.Error()
	var execErr *git.ExecError
	if errors.As(err, &execErr) {
		text = execErr.Output()
	}
	if reasons := ParseRemoteEchoes(text); len(reasons) > 0 {
		return &HookRejectedError{Reasons: reasons, Err: err}
	}
	return fmt.Errorf("%w: %w", ErrPushFailed, err)
}

const remoteMarker = "remote:"

// ParseRemoteEchoes extracts the lines git relays from the remote side of a
// push. Each line whose trimmed form starts with "remote:" yields the rest
// of that line, trimmed. Empty echoes are kept so the reasons line up with
// the hook's output.
func ParseRemoteEchoes(text string) []string {
	var reasons []string
	for _, line := range strings.Split(text, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), remoteMarker); ok {
			reasons = append(reasons, strings.TrimSpace(rest))
		}
	}
	return reasons
}
