package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrProjectNotLinked is returned when no project id is configured and the
// working directory has no .vercel/project.json.
var ErrProjectNotLinked = errors.New("no linked Vercel project: set VERCEL_PROJECT_ID or run `vercel link`")

// Project identifies the project and team a token is minted for.
type Project struct {
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName,omitempty"`
	TeamID      string `json:"orgId"`
	TeamName    string `json:"orgName,omitempty"`
}

// LinkedProject resolves the project to use. Explicit ids win; otherwise
// the .vercel/project.json written by `vercel link` in dir is read.
func LinkedProject(files FileReader, dir string, explicit Project) (Project, error) {
	if strings.TrimSpace(explicit.ProjectID) != "" {
		return explicit, nil
	}
	if dir == "" {
		return Project{}, ErrProjectNotLinked
	}

	data, err := files.ReadFile(filepath.Join(dir, ".vercel", "project.json"))
	if err != nil {
		return Project{}, ErrProjectNotLinked
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return Project{}, fmt.Errorf("parse .vercel/project.json: %w", err)
	}
	if p.ProjectID == "" {
		return Project{}, ErrProjectNotLinked
	}
	if explicit.TeamID != "" {
		p.TeamID = explicit.TeamID
	}
	return p, nil
}
