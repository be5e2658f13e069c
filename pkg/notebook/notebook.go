// Package notebook runs the external tool that derives an assignment's
// student notebook from its master notebook.
package notebook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/course"
)

// Placeholders expanded in each word of the command line.
const (
	MasterPlaceholder  = "{master}"
	StudentPlaceholder = "{student}"
	DirPlaceholder     = "{dir}"
)

var ErrNoCommand = errors.New("notebook command is empty")

// Generator runs a shell-style command line once per submission, from the
// assignment directory. For example:
//
//	otter assign {master} {student}
type Generator struct {
	argv []string
}

// NewGenerator splits command into words. Quoting follows POSIX shell rules
// but no shell is involved.
func NewGenerator(command string) (*Generator, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse notebook command: %w", err)
	}
	if len(argv) == 0 {
		return nil, ErrNoCommand
	}
	return &Generator{argv: argv}, nil
}

// Args returns the command expanded for a.
func (g *Generator) Args(repoRoot string, a course.Assignment) []string {
	dir := filepath.Join(repoRoot, filepath.FromSlash(a.DirectoryPath))
	r := strings.NewReplacer(
		MasterPlaceholder, filepath.FromSlash(a.MasterNotebookPath),
		StudentPlaceholder, filepath.FromSlash(a.StudentNotebookPath),
		DirPlaceholder, dir,
	)
	out := make([]string, len(g.argv))
	for i, w := range g.argv {
		out[i] = r.Replace(w)
	}
	return out
}

// Generate runs the command. Combined output is attached to the error.
func (g *Generator) Generate(ctx context.Context, repoRoot string, a course.Assignment) error {
	if a.MasterNotebookPath == "" || a.StudentNotebookPath == "" {
		return fmt.Errorf("assignment %q has no master or student notebook path", a.Name)
	}
	args := g.Args(repoRoot, a)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = filepath.Join(repoRoot, filepath.FromSlash(a.DirectoryPath))
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg == "" {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		return fmt.Errorf("%s: %w: %s", args[0], err, msg)
	}
	return nil
}
