// Package git drives the git executable on behalf of a single working copy.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ErrNotARepository is matched (via errors.Is) by any error produced when
// the target directory is not inside a git working tree.
var ErrNotARepository = errors.New("not a git repository")

// ExecError is returned when a git invocation exits unsuccessfully. Stderr
// carries the raw diagnostic text, including lines relayed from remote hooks.
type ExecError struct {
	Args   []string
	Err    error
	Stdout string
	Stderr string
}

func (e *ExecError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Is reports ErrNotARepository for failures caused by a missing repository.
func (e *ExecError) Is(target error) bool {
	if target != ErrNotARepository {
		return false
	}
	return strings.Contains(e.Stderr, "not a git repository") ||
		strings.Contains(e.Stderr, "cannot change to")
}

// ExitCode returns the process exit code, or -1 when git never ran.
func (e *ExecError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Output returns everything git printed, stderr first. Push rejections are
// read from here.
func (e *ExecError) Output() string {
	if e.Stdout == "" {
		return e.Stderr
	}
	return e.Stderr + "\n" + e.Stdout
}

func exitCode(err error) int {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.ExitCode()
	}
	return -1
}

func runGit(ctx context.Context, dir string, stdin io.Reader, args ...string) (string, error) {
	gitArgs := append([]string{}, args...)
	if strings.TrimSpace(dir) != "" {
		gitArgs = append([]string{"-C", dir}, gitArgs...)
	}
	cmd := exec.CommandContext(ctx, "git", gitArgs...)
	// Diagnostics are matched by text. No credential prompts.
	cmd.Env = append(os.Environ(), "LC_ALL=C", "GIT_TERMINAL_PROMPT=0")
	cmd.Stdin = stdin

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), &ExecError{
			Args:   args,
			Err:    err,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
	}
	return stdout.String(), nil
}
