// Package gittest builds throwaway git repositories for tests: a bare
// "authoritative" remote and working clones of it.
package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// RequireGit skips the test when no git executable is on PATH.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git executable not found on PATH")
	}
}

// Run runs git in dir and fails the test on error. It returns trimmed stdout.
func Run(t testing.TB, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"LC_ALL=C",
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s (in %s): %v\n%s", strings.Join(args, " "), dir, err, out)
	}
	return strings.TrimSpace(string(out))
}

// NewRemote creates a bare repository whose main branch holds one commit
// adding README.md. It returns the bare repository path, which doubles as
// the remote URL.
func NewRemote(t testing.TB) string {
	t.Helper()
	RequireGit(t)
	root := t.TempDir()
	bare := filepath.Join(root, "remote.git")
	Run(t, root, "init", "--quiet", "--bare", "--initial-branch=main", bare)

	seed := filepath.Join(root, "seed")
	Run(t, root, "init", "--quiet", "--initial-branch=main", seed)
	Configure(t, seed)
	WriteFile(t, seed, "README.md", "class repository\n")
	Run(t, seed, "add", "-A")
	Run(t, seed, "commit", "--quiet", "-m", "initial commit")
	Run(t, seed, "remote", "add", "origin", bare)
	Run(t, seed, "push", "--quiet", "origin", "main")
	return bare
}

// Clone clones remote into a new temporary directory (or into dir when
// given) with a commit identity configured, and returns the clone path.
func Clone(t testing.TB, remote string, dir ...string) string {
	t.Helper()
	dest := filepath.Join(t.TempDir(), "clone")
	if len(dir) > 0 {
		dest = dir[0]
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(dest), err)
		}
	}
	Run(t, filepath.Dir(dest), "clone", "--quiet", remote, dest)
	Configure(t, dest)
	return dest
}

// Configure sets a local commit identity.
func Configure(t testing.TB, dir string) {
	t.Helper()
	Run(t, dir, "config", "user.name", "Test")
	Run(t, dir, "config", "user.email", "test@example.com")
	Run(t, dir, "config", "commit.gpgsign", "false")
}

// WriteFile writes content to rel inside dir, creating parent directories.
func WriteFile(t testing.TB, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ReadFile returns the content of rel inside dir.
func ReadFile(t testing.TB, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

// Commit writes rel, commits it and returns the new head id.
func Commit(t testing.TB, dir, rel, content, message string) string {
	t.Helper()
	WriteFile(t, dir, rel, content)
	Run(t, dir, "add", "-A", "--", rel)
	Run(t, dir, "commit", "--quiet", "-m", message)
	return Head(t, dir, "HEAD")
}

// CommitAndPush commits rel and pushes main to origin.
func CommitAndPush(t testing.TB, dir, rel, content, message string) string {
	t.Helper()
	id := Commit(t, dir, rel, content, message)
	Run(t, dir, "push", "--quiet", "origin", "main")
	return id
}

// Head resolves ref to a commit id.
func Head(t testing.TB, dir, ref string) string {
	t.Helper()
	return Run(t, dir, "rev-parse", ref)
}

// Branches lists local branches.
func Branches(t testing.TB, dir string) []string {
	t.Helper()
	out := Run(t, dir, "for-each-ref", "--format=%(refname:short)", "refs/heads")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// RejectPushes installs a pre-receive hook in the bare remote that prints
// each line and refuses the push. git relays hook output prefixed with
// "remote: ".
func RejectPushes(t testing.TB, bare string, lines ...string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	for _, line := range lines {
		b.WriteString("echo '" + strings.ReplaceAll(line, "'", `'\''`) + "'\n")
	}
	b.WriteString("exit 1\n")
	InstallHook(t, filepath.Join(bare, "hooks"), "pre-receive", b.String())
}

// InstallHook writes an executable hook script named name into hooksDir:
// "<bare>/hooks" for a remote, "<clone>/.git/hooks" for a working clone.
func InstallHook(t testing.TB, hooksDir, name, script string) {
	t.Helper()
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", hooksDir, err)
	}
	if err := os.WriteFile(filepath.Join(hooksDir, name), []byte(script), 0o755); err != nil {
		t.Fatalf("write hook %s: %v", name, err)
	}
}
