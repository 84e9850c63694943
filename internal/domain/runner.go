package domain

import (
	"context"
	"errors"
)

// SourceFile is a single file of a multi-file submission. Name may contain
// forward slashes to place the file in a subdirectory of the workspace.
type SourceFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ExecutionRequest describes one run: either a single Code snippet or a
// Files tree with MainFile as the entry point.
type ExecutionRequest struct {
	Language string       `json:"language"`
	Code     string       `json:"code,omitempty"`
	Files    []SourceFile `json:"files,omitempty"`
	MainFile string       `json:"mainFile,omitempty"`

	// Input is piped to the program's stdin, followed by a newline.
	Input string `json:"input,omitempty"`

	// Dependencies maps package name to version specifier ("*" for latest).
	Dependencies map[string]string `json:"dependencies,omitempty"`

	// ProjectID scopes the dependency cache. Empty disables caching.
	ProjectID string `json:"projectId,omitempty"`
}

// MultiFile reports whether the request carries a project instead of a
// single snippet.
func (r ExecutionRequest) MultiFile() bool {
	return len(r.Files) > 0
}

var (
	ErrNoLanguage  = errors.New("language is required")
	ErrNoCode      = errors.New("either code or files must be provided")
	ErrBadMainFile = errors.New("mainFile must name one of the submitted files")
)

// Validate checks the structural invariants of the request before any
// remote call is made.
func (r ExecutionRequest) Validate() error {
	if r.Language == "" {
		return ErrNoLanguage
	}
	if r.Code == "" && len(r.Files) == 0 {
		return ErrNoCode
	}
	if len(r.Files) > 0 {
		for _, f := range r.Files {
			if f.Name == r.MainFile {
				return nil
			}
		}
		return ErrBadMainFile
	}
	return nil
}

// ExecutionResult is the terminal artifact of one request. Error is empty
// on success; the caller never sees anything but this shape.
type ExecutionResult struct {
	Output        string `json:"output"`
	Error         string `json:"error"`
	ExecutionTime int64  `json:"executionTime"`
}

// Health reflects whether the container runtime is reachable at all.
type Health struct {
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

// CodeRunner is the contract for executing a request inside an isolated
// container environment. Failures are folded into the result's Error field;
// the method itself never returns an error.
type CodeRunner interface {
	Execute(ctx context.Context, req ExecutionRequest) ExecutionResult
}
