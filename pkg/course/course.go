// Package course holds the course metadata served by the grader API.
package course

import "time"

// Course identifies a class and its authoritative remote repository.
type Course struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	MasterRemoteURL string `json:"master_remote_url"`
}

// Assignment is one assignment of a course. DirectoryPath is relative to the
// repository root.
type Assignment struct {
	ID                  int        `json:"id"`
	Name                string     `json:"name"`
	DirectoryPath       string     `json:"directory_path"`
	StudentNotebookPath string     `json:"student_notebook_path"`
	MasterNotebookPath  string     `json:"master_notebook_path"`
	AvailableDate       *time.Time `json:"available_date,omitempty"`
	DueDate             *time.Time `json:"due_date,omitempty"`
}

// User is the authenticated account the workstation acts for.
type User struct {
	ID    int    `json:"id"`
	Onyen string `json:"onyen"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Settings are server-side settings needed to reach the private git host.
type Settings struct {
	GiteaSSHURL string `json:"gitea_ssh_url"`
}
