package notebook

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/course"
)

var hw1 = course.Assignment{
	Name:                "hw1",
	DirectoryPath:       "homework/1",
	MasterNotebookPath:  "hw1.ipynb",
	StudentNotebookPath: "student/hw1 student.ipynb",
}

func TestArgs(t *testing.T) {
	g, err := NewGenerator(`otter assign --out "{dir}/dist" {master} '{student}'`)
	require.NoError(t, err)

	root := filepath.FromSlash("/repos/Data_101")
	got := g.Args(root, hw1)
	assert.Equal(t, []string{
		"otter", "assign", "--out",
		filepath.Join(root, "homework", "1") + "/dist",
		"hw1.ipynb",
		filepath.FromSlash("student/hw1 student.ipynb"),
	}, got)
}

func TestNewGeneratorRejectsEmpty(t *testing.T) {
	_, err := NewGenerator("   ")
	assert.True(t, errors.Is(err, ErrNoCommand))

	_, err = NewGenerator(`otter "unterminated`)
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("cp not available")
	}
	root := t.TempDir()
	dir := filepath.Join(root, "homework", "1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hw1.ipynb"), []byte(`{"cells":[]}`), 0o644))

	a := hw1
	a.StudentNotebookPath = "hw1-student.ipynb"
	g, err := NewGenerator("cp {master} {student}")
	require.NoError(t, err)
	require.NoError(t, g.Generate(context.Background(), root, a))

	data, err := os.ReadFile(filepath.Join(dir, "hw1-student.ipynb"))
	require.NoError(t, err)
	assert.Equal(t, `{"cells":[]}`, string(data))

	a.MasterNotebookPath = "missing.ipynb"
	err = g.Generate(context.Background(), root, a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cp")

	a.MasterNotebookPath = ""
	assert.Error(t, g.Generate(context.Background(), root, a))
}
