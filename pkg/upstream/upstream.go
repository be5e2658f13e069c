// Package upstream keeps a course clone's main branch current with the
// authoritative remote. Remote work is merged on a throwaway staging branch
// and main only ever moves by fast-forward.
package upstream

import (
	"context"
	"errors"
	"fmt"
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

// DefaultInterval separates loop iterations when Engine.Interval is unset.
const DefaultInterval = time.Minute

// ErrMergeConflict matches every *ConflictError.
var ErrMergeConflict = errors.New("merge conflict")

// ConflictError reports the paths that stopped a merge of the tracking
// branch. Main is untouched when it is returned.
type ConflictError struct {
	Branch string
	Paths  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merging %s into %s conflicts in %s", classrepo.TrackingBranch, e.Branch, strings.Join(e.Paths, ", "))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrMergeConflict
}

// State is the terminal state of one iteration.
type State int

const (
	StateUpToDate State = iota
	StateFastForwarded
	StateConflict
	StateFetchFailed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUpToDate:
		return "up-to-date"
	case StateFastForwarded:
		return "fast-forwarded"
	case StateConflict:
		return "conflict"
	case StateFetchFailed:
		return "fetch-failed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Attempt identifies one reconciliation of main with the tracking branch.
type Attempt struct {
	LocalHead     string
	TrackingHead  string
	StagingBranch string
}

// Result describes how an iteration ended.
type Result struct {
	State     State
	Root      string
	Attempt   Attempt
	Conflicts []string
}

// CourseSource supplies the course on every iteration.
type CourseSource interface {
	Course(ctx context.Context) (course.Course, error)
}

// Engine reconciles the clone of one course.
type Engine struct {
	Courses  CourseSource
	ReposDir string
	Locker   *worktree.Locker
	Interval time.Duration
	Log      *zerolog.Logger
}

// StagingBranchName derives the disposable branch for merging tracking into
// local. Both ids must be at least 8 characters.
func StagingBranchName(local, tracking string) string {
	return "merge-" + short(local) + "-" + short(tracking)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (e *Engine) logger() *zerolog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return &log.Logger
}

// SyncOnce runs a single iteration while holding the repository lock. The
// returned error is nil only for StateUpToDate and StateFastForwarded.
func (e *Engine) SyncOnce(ctx context.Context) (Result, error) {
	c, err := e.Courses.Course(ctx)
	if err != nil {
		return Result{State: StateFailed}, fmt.Errorf("load course: %w", err)
	}
	root := classrepo.RepoRoot(e.ReposDir, c)
	res := Result{State: StateFailed, Root: root}

	repo, err := classrepo.Resolve(ctx, c, root)
	if err != nil {
		return res, err
	}
	res.Root = repo.Root

	locker := e.Locker
	if locker == nil {
		locker = &worktree.Locker{}
	}
	unlock, err := locker.Lock(ctx, repo.Root)
	if err != nil {
		return res, err
	}
	defer unlock()

	return e.reconcile(ctx, repo.Git(), res)
}

func (e *Engine) reconcile(ctx context.Context, g *git.Repo, res Result) (Result, error) {
	l := e.logger().With().Str("root", res.Root).Logger()

	l.Debug().Msg("fetching upstream")
	if err := g.Fetch(ctx, classrepo.OriginRemote); err != nil {
		res.State = StateFetchFailed
		l.Warn().Err(err).Msg("fetch failed")
		return res, fmt.Errorf("fetch %s: %w", classrepo.OriginRemote, err)
	}

	if err := g.Checkout(ctx, classrepo.MainBranch); err != nil {
		return res, fmt.Errorf("checkout %s: %w", classrepo.MainBranch, err)
	}
	local, err := g.HeadCommitID(ctx, classrepo.MainBranch)
	if err != nil {
		return res, fmt.Errorf("resolve %s: %w", classrepo.MainBranch, err)
	}
	tracking, err := g.HeadCommitID(ctx, classrepo.TrackingBranch)
	if err != nil {
		return res, fmt.Errorf("resolve %s: %w", classrepo.TrackingBranch, err)
	}
	res.Attempt = Attempt{
		LocalHead:     local,
		TrackingHead:  tracking,
		StagingBranch: StagingBranchName(local, tracking),
	}

	upToDate, err := g.IsAncestor(ctx, tracking, local)
	if err != nil {
		return res, err
	}
	if upToDate {
		res.State = StateUpToDate
		l.Debug().Str("head", short(local)).Msg("already up to date")
		return res, nil
	}

	staging := res.Attempt.StagingBranch
	exists, err := g.BranchExists(ctx, staging)
	if err != nil {
		return res, err
	}
	if exists {
		l.Info().Str("branch", staging).Msg("removing stale staging branch")
		if err := g.DeleteBranch(ctx, staging, true); err != nil {
			return res, fmt.Errorf("delete stale %s: %w", staging, err)
		}
	}

	l.Info().Str("branch", staging).Str("local", short(local)).Str("tracking", short(tracking)).Msg("merging upstream")
	if err := g.CheckoutNewBranch(ctx, staging); err != nil {
		return res, fmt.Errorf("create %s: %w", staging, err)
	}

	defer func() {
		cctx, cancel := cleanupContext(ctx)
		defer cancel()
		if cerr := cleanup(cctx, g, staging); cerr != nil {
			l.Error().Err(cerr).Str("branch", staging).Msg("staging branch cleanup failed")
		}
	}()

	conflicts, err := g.Merge(ctx, classrepo.TrackingBranch, git.MergeOptions{Commit: true})
	if err != nil {
		return res, fmt.Errorf("merge %s: %w", classrepo.TrackingBranch, err)
	}
	if len(conflicts) > 0 {
		res.State = StateConflict
		res.Conflicts = conflicts
		l.Error().Strs("paths", conflicts).Str("branch", staging).Msg("upstream merge conflicts, main left unchanged")
		var cerr error = &ConflictError{Branch: staging, Paths: conflicts}
		actx, cancel := cleanupContext(ctx)
		defer cancel()
		if aerr := g.AbortMerge(actx); aerr != nil {
			cerr = multierror.Append(cerr, fmt.Errorf("abort merge: %w", aerr))
		}
		return res, cerr
	}

	if err := g.Checkout(ctx, classrepo.MainBranch); err != nil {
		return res, fmt.Errorf("checkout %s: %w", classrepo.MainBranch, err)
	}
	if _, err := g.Merge(ctx, staging, git.MergeOptions{FFOnly: true}); err != nil {
		return res, fmt.Errorf("fast-forward %s: %w", classrepo.MainBranch, err)
	}
	res.State = StateFastForwarded
	l.Info().Str("from", short(local)).Msg("main fast-forwarded")
	return res, nil
}

// cleanupTimeout bounds returning to main once an iteration ends. Cleanup
// runs even after the iteration's context is done.
const cleanupTimeout = 30 * time.Second

func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

// cleanup abandons an unfinished merge, returns to main and removes the
// staging branch. Every step runs even when an earlier one fails.
func cleanup(ctx context.Context, g *git.Repo, staging string) error {
	var result *multierror.Error
	current, err := g.CurrentBranch(ctx)
	if err != nil {
		result = multierror.Append(result, err)
	}
	if current != classrepo.MainBranch {
		if err := g.ResetMerge(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("reset merge: %w", err))
		}
		if err := g.Checkout(ctx, classrepo.MainBranch); err != nil {
			result = multierror.Append(result, fmt.Errorf("checkout %s: %w", classrepo.MainBranch, err))
		}
	}
	exists, err := g.BranchExists(ctx, staging)
	if err != nil {
		result = multierror.Append(result, err)
	} else if exists {
		if err := g.DeleteBranch(ctx, staging, true); err != nil {
			result = multierror.Append(result, fmt.Errorf("delete %s: %w", staging, err))
		}
	}
	return result.ErrorOrNil()
}
