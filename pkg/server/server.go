// Package server exposes assignment listing, submission, sync and settings
// over HTTP for the notebook frontend.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/classrepo"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/course"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/submit"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/upstream"
)

// Catalog supplies course metadata.
type Catalog interface {
	Course(ctx context.Context) (course.Course, error)
	Assignments(ctx context.Context) ([]course.Assignment, error)
}

type Submitter interface {
	Submit(ctx context.Context, req submit.Request) (*submit.Result, error)
}

type Syncer interface {
	SyncOnce(ctx context.Context) (upstream.Result, error)
}

// Server holds the handler dependencies. Client paths are interpreted
// relative to Root, the directory the frontend sees as "/".
type Server struct {
	Catalog   Catalog
	Submitter Submitter
	Syncer    Syncer
	ReposDir  string
	Root      string
	Version   string
	Log       *zerolog.Logger
}

func (s *Server) logger() zerolog.Logger {
	if s.Log != nil {
		return *s.Log
	}
	return log.Logger
}

// Handler returns the routes wrapped with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /assignments", s.handleAssignments)
	mux.HandleFunc("POST /submit_assignment", s.handleSubmit)
	mux.HandleFunc("POST /sync", s.handleSync)
	mux.HandleFunc("GET /notebook_files", s.handleNotebookFiles)
	mux.HandleFunc("GET /settings", s.handleSettings)

	var h http.Handler = mux
	h = hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("took", d).
			Msg("request")
	})(h)
	h = hlog.NewHandler(s.logger())(h)
	return h
}

// localPath maps a frontend path onto the server filesystem.
func (s *Server) localPath(p string) string {
	return filepath.Join(s.Root, filepath.FromSlash(p))
}

type assignmentsResponse struct {
	CurrentAssignment *classrepo.AnnotatedAssignment  `json:"current_assignment"`
	Assignments       []classrepo.AnnotatedAssignment `json:"assignments"`
}

func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	current := s.localPath(r.URL.Query().Get("path"))

	c, err := s.Catalog.Course(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	assignments, err := s.Catalog.Assignments(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var resp assignmentsResponse
	repo, err := classrepo.Resolve(ctx, c, current)
	if err != nil {
		// Listing outside the class repository is not an error.
		hlog.FromRequest(r).Debug().Err(err).Msg("path is not in the class repository")
		writeJSON(w, http.StatusOK, resp)
		return
	}
	annotated, err := repo.Annotate(ctx, assignments, s.Root)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp.Assignments = annotated
	if a, err := repo.CurrentAssignment(assignments, current); err == nil {
		for i := range annotated {
			if annotated[i].ID == a.ID {
				resp.CurrentAssignment = &annotated[i]
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type submitRequest struct {
	Summary     string `json:"summary"`
	CurrentPath string `json:"current_path"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.CurrentPath == "" {
		writeMessage(w, http.StatusBadRequest, "current_path is required")
		return
	}

	_, err := s.Submitter.Submit(r.Context(), submit.Request{
		Path:    s.localPath(req.CurrentPath),
		Summary: req.Summary,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type syncResponse struct {
	State     string   `json:"state"`
	Conflicts []string `json:"conflicts,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.Syncer.SyncOnce(r.Context())
	if err != nil && res.State != upstream.StateConflict {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.State == upstream.StateConflict {
		status = http.StatusConflict
	}
	writeJSON(w, status, syncResponse{State: res.State.String(), Conflicts: res.Conflicts})
}

func (s *Server) handleNotebookFiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.Catalog.Course(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	assignments, err := s.Catalog.Assignments(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	root := classrepo.RepoRoot(s.ReposDir, c)
	notebooks := make(map[int][]string, len(assignments))
	for _, a := range assignments {
		files, err := classrepo.NotebookFiles(filepath.Join(root, filepath.FromSlash(a.DirectoryPath)), a.StudentNotebookPath)
		if err != nil {
			writeError(w, r, err)
			return
		}
		notebooks[a.ID] = files
	}
	writeJSON(w, http.StatusOK, map[string]any{"notebooks": notebooks})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	c, err := s.Catalog.Course(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"serverVersion": s.Version,
		"repoRoot":      classrepo.RepoRoot(s.ReposDir, c),
	})
}

// writeError maps the error taxonomy onto status codes: precondition
// failures are 400, hook rejections 409 with the reasons, and anything else
// 500 with the raw error text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var hook *submit.HookRejectedError
	switch {
	case errors.Is(err, classrepo.ErrInvalidRepository):
		writeMessage(w, http.StatusBadRequest, "Not in a git repository")
	case errors.Is(err, classrepo.ErrWrongRemote):
		writeMessage(w, http.StatusBadRequest, "Not in your class repository")
	case errors.Is(err, classrepo.ErrNoCurrentAssignment):
		writeMessage(w, http.StatusBadRequest, "Not in an assignment directory")
	case errors.Is(err, submit.ErrWrongBranch):
		writeMessage(w, http.StatusBadRequest, "Not on the main branch")
	case errors.As(err, &hook):
		writeJSON(w, http.StatusConflict, hook.Reasons)
	case errors.Is(err, submit.ErrArtifactFailed):
		hlog.FromRequest(r).Error().Err(err).Msg("student notebook generation failed")
		writeMessage(w, http.StatusInternalServerError, "Failed to generate student version of assignment notebook: "+err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(err.Error()))
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
