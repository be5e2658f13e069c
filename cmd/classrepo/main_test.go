package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/course"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/git/gittest"
	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/upstream"
)

// graderAPI serves a fixed course and assignment list.
func graderAPI(t *testing.T, c course.Course, assignments []course.Assignment) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/course", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c)
	})
	mux.HandleFunc("GET /api/v1/assignments/self", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(assignments)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.toml"), "--log-format", "json"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

type classFixture struct {
	remote   string
	reposDir string
	clone    string
}

func newClassFixture(t *testing.T) *classFixture {
	t.Helper()
	remote := gittest.NewRemote(t)
	reposDir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	clone := gittest.Clone(t, remote, filepath.Join(reposDir, "Data_101"))

	hw1 := course.Assignment{ID: 1, Name: "hw1", DirectoryPath: "homework/1", MasterNotebookPath: "hw1.ipynb", StudentNotebookPath: "hw1-student.ipynb"}
	t.Setenv("GRADER_API_URL", graderAPI(t, course.Course{ID: 101, Name: "Data 101", MasterRemoteURL: remote}, []course.Assignment{hw1}))
	t.Setenv("EDUHELX_REPOS_DIR", reposDir)
	t.Setenv("ACCESS_TOKEN", "token")
	return &classFixture{remote: remote, reposDir: reposDir, clone: clone}
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "classrepo "+version+"\n", out)
}

func TestResolveCmd(t *testing.T) {
	f := newClassFixture(t)
	gittest.WriteFile(t, f.clone, "homework/1/answer.py", "print(1)\n")

	out, err := runCLI(t, "resolve", filepath.Join(f.clone, "homework", "1"))
	require.NoError(t, err)
	assert.Equal(t, "repository: "+f.clone+"\nassignment: hw1 (homework/1)\n  ?? answer.py\n", out)

	out, err = runCLI(t, "resolve", "--json", f.clone)
	require.NoError(t, err)
	var got struct {
		Root              string          `json:"root"`
		CurrentAssignment json.RawMessage `json:"current_assignment"`
		Assignments       []struct {
			AbsoluteDirectoryPath string `json:"absolute_directory_path"`
		} `json:"assignments"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, f.clone, got.Root)
	assert.Equal(t, "null", string(got.CurrentAssignment))
	require.Len(t, got.Assignments, 1)
	assert.Equal(t, "/homework/1", got.Assignments[0].AbsoluteDirectoryPath)

	_, err = runCLI(t, "resolve", t.TempDir())
	assert.Error(t, err)
}

func TestSubmitCmd(t *testing.T) {
	f := newClassFixture(t)
	gittest.WriteFile(t, f.clone, "homework/1/hw1.ipynb", `{"cells":[]}`)

	_, err := runCLI(t, "submit", filepath.Join(f.clone, "homework", "1"))
	require.Error(t, err)

	out, err := runCLI(t, "submit", "-m", "final answers", filepath.Join(f.clone, "homework", "1"))
	require.NoError(t, err)
	head := gittest.Head(t, f.clone, "HEAD")
	assert.Equal(t, "[hw1 "+head[:8]+"] final answers\n", out)
	assert.Equal(t, head, gittest.Head(t, f.remote, "main"))
}

func TestSyncCmd(t *testing.T) {
	f := newClassFixture(t)
	other := gittest.Clone(t, f.remote)
	theirs := gittest.CommitAndPush(t, other, "homework/2/README.md", "hw2\n", "release hw2")

	out, err := runCLI(t, "sync")
	require.NoError(t, err)
	assert.Equal(t, f.clone+": "+upstream.StateFastForwarded.String()+"\n", out)
	assert.Equal(t, theirs, gittest.Head(t, f.clone, "main"))

	out, err = runCLI(t, "sync")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, ": up-to-date\n"), out)
}

func TestClientRequiresAPIURL(t *testing.T) {
	t.Setenv("GRADER_API_URL", "")
	t.Setenv("EDUHELX_REPOS_DIR", t.TempDir())
	_, err := runCLI(t, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_url")
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	engine := &upstream.Engine{Courses: failingCourses{}, ReposDir: t.TempDir(), Interval: time.Hour}

	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, http.NotFoundHandler(), engine) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

type failingCourses struct{}

func (failingCourses) Course(context.Context) (course.Course, error) {
	return course.Course{}, context.DeadlineExceeded
}
