package classrepo

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/course"
)

const checkpointDir = ".ipynb_checkpoints"

// StagedChange is a path under an assignment that differs from HEAD.
type StagedChange struct {
	PathFromRepo       string `json:"path_from_repo"`
	PathFromAssignment string `json:"path_from_assn"`
	ModificationType   string `json:"modification_type"`
}

// AnnotatedAssignment decorates an assignment with its local state.
type AnnotatedAssignment struct {
	course.Assignment
	// AbsoluteDirectoryPath is the assignment directory relative to the
	// server's working directory, rooted at "/".
	AbsoluteDirectoryPath string         `json:"absolute_directory_path"`
	StagedChanges         []StagedChange `json:"staged_changes"`
}

// Annotate attaches uncommitted changes and a server-relative directory path
// to each assignment. serverRoot is the directory the client sees as "/".
func (r *Repository) Annotate(ctx context.Context, assignments []course.Assignment, serverRoot string) ([]AnnotatedAssignment, error) {
	entries, err := r.git.ModifiedPaths(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]AnnotatedAssignment, 0, len(assignments))
	for _, a := range assignments {
		dir := path.Clean(a.DirectoryPath)
		ann := AnnotatedAssignment{
			Assignment:            a,
			AbsoluteDirectoryPath: clientPath(serverRoot, r.AssignmentPath(a)),
			StagedChanges:         []StagedChange{},
		}
		for _, e := range entries {
			rel, ok := underDir(dir, e.Path)
			if !ok {
				continue
			}
			ann.StagedChanges = append(ann.StagedChanges, StagedChange{
				PathFromRepo:       e.Path,
				PathFromAssignment: rel,
				ModificationType:   strings.TrimSpace(e.Code),
			})
		}
		out = append(out, ann)
	}
	return out, nil
}

// NotebookFiles lists the notebooks of an assignment in this repository.
func (r *Repository) NotebookFiles(a course.Assignment) ([]string, error) {
	return NotebookFiles(r.AssignmentPath(a), a.StudentNotebookPath)
}

// NotebookFiles lists every notebook under root as a slash path relative to
// root. Checkpoint copies and the student notebook are left out. Shallower
// files sort first, then by name. A missing root yields an empty list.
func NotebookFiles(root, studentNotebook string) ([]string, error) {
	student := path.Clean(filepath.ToSlash(studentNotebook))

	files := []string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == checkpointDir {
				return fs.SkipDir
			}
			return nil
		}
		if filepath.Ext(p) != ".ipynb" {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == student {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		di, dj := strings.Count(files[i], "/"), strings.Count(files[j], "/")
		if di != dj {
			return di < dj
		}
		return files[i] < files[j]
	})
	return files, nil
}

// underDir reports whether the slash path p lies in dir, returning the part
// of p below dir.
func underDir(dir, p string) (string, bool) {
	if dir == "." {
		return p, true
	}
	if p == dir {
		return ".", true
	}
	if strings.HasPrefix(p, dir+"/") {
		return p[len(dir)+1:], true
	}
	return "", false
}

func clientPath(serverRoot, abs string) string {
	rel, err := filepath.Rel(serverRoot, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return path.Join("/", filepath.ToSlash(rel))
}
