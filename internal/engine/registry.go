package engine

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// ErrUnsupportedLanguage is returned by Resolve for unknown language IDs.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ManifestKind selects the dependency manifest convention of a language.
type ManifestKind int

const (
	ManifestNone ManifestKind = iota
	ManifestPip               // requirements.txt
	ManifestNpm               // package.json
)

// LanguageRuntime is one immutable registry entry: the long-lived container
// for a language, its image (used when ephemeral containers are enabled),
// the canonical source file name and the command template for a run.
type LanguageRuntime struct {
	ID        string
	Image     string
	Container string

	// SourceFile is the fixed file name for the snippet, unless deriveFile
	// computes one from the source text (Java class-name matching).
	SourceFile string
	deriveFile func(code string) string

	// Manifest is the dependency manifest convention, ManifestNone when the
	// language has no supported package manager.
	Manifest ManifestKind

	// InstallCommand renders the package-install command for a workspace.
	// Nil when Manifest is ManifestNone.
	InstallCommand func(workspace string) string

	// RunTimeout and ProjectTimeout are the wall-clock budgets for
	// single-file and multi-file runs.
	RunTimeout     time.Duration
	ProjectTimeout time.Duration

	buildRun func(workspace, file string) string
}

// FileNameFor returns the name the submitted source must be written under.
func (rt *LanguageRuntime) FileNameFor(code string) string {
	if rt.deriveFile != nil {
		return rt.deriveFile(code)
	}
	return rt.SourceFile
}

// BuildRunCommand renders the compile-and-run shell command for a workspace
// and file name.
func (rt *LanguageRuntime) BuildRunCommand(workspace, file string) string {
	return rt.buildRun(workspace, file)
}

// Timeout returns the wall-clock budget for the request shape.
func (rt *LanguageRuntime) Timeout(multiFile bool) time.Duration {
	if multiFile {
		return rt.ProjectTimeout
	}
	return rt.RunTimeout
}

// Registry maps language IDs to their runtimes. Built once at startup,
// read-only afterwards.
type Registry struct {
	runtimes map[string]*LanguageRuntime
}

// RegistryConfig tunes the static table without touching the command
// templates.
type RegistryConfig struct {
	// ContainerPrefix names the persistent containers, e.g. prefix "execbox"
	// yields "execbox-python".
	ContainerPrefix string

	// RunTimeout and ProjectTimeout override the defaults when positive.
	RunTimeout     time.Duration
	ProjectTimeout time.Duration
}

const (
	defaultRunTimeout     = 10 * time.Second
	defaultProjectTimeout = 30 * time.Second
)

// javaClassRe finds the public class declaration whose name the file must
// carry.
var javaClassRe = regexp.MustCompile(`public\s+class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)

func javaFileName(code string) string {
	if m := javaClassRe.FindStringSubmatch(code); m != nil {
		return m[1] + ".java"
	}
	return "Main.java"
}

// NewRegistry builds the language table. Every language accepted at the API
// boundary has exactly one entry here.
func NewRegistry(cfg RegistryConfig) *Registry {
	prefix := cfg.ContainerPrefix
	if prefix == "" {
		prefix = "execbox"
	}
	run := cfg.RunTimeout
	if run <= 0 {
		run = defaultRunTimeout
	}
	project := cfg.ProjectTimeout
	if project <= 0 {
		project = defaultProjectTimeout
	}

	entries := []*LanguageRuntime{
		{
			ID:         "python",
			Image:      "python:3.12-alpine",
			SourceFile: "main.py",
			Manifest:   ManifestPip,
			InstallCommand: func(ws string) string {
				return fmt.Sprintf("cd %s && pip install --no-cache-dir -r requirements.txt", ws)
			},
			buildRun: func(ws, file string) string {
				return fmt.Sprintf("cd %s && python3 %s", ws, file)
			},
		},
		{
			ID:         "javascript",
			Image:      "node:20-alpine",
			SourceFile: "main.js",
			Manifest:   ManifestNpm,
			InstallCommand: func(ws string) string {
				return fmt.Sprintf("cd %s && npm install --no-audit --no-fund", ws)
			},
			buildRun: func(ws, file string) string {
				return fmt.Sprintf("cd %s && node %s", ws, file)
			},
		},
		{
			ID:         "java",
			Image:      "eclipse-temurin:21-jdk-alpine",
			SourceFile: "Main.java",
			deriveFile: javaFileName,
			buildRun: func(ws, file string) string {
				// The class name is the bare file name; java rejects
				// slash-qualified names for main files in subdirectories.
				class := strings.TrimSuffix(path.Base(file), ".java")
				return fmt.Sprintf("cd %s && javac %s && java -cp %s %s", ws, file, path.Dir(file), class)
			},
		},
		{
			ID:         "cpp",
			Image:      "gcc:13",
			SourceFile: "main.cpp",
			buildRun: func(ws, file string) string {
				return fmt.Sprintf("cd %s && g++ -O2 -o app %s && ./app", ws, file)
			},
		},
		{
			ID:         "go",
			Image:      "golang:1.24-alpine",
			SourceFile: "main.go",
			buildRun: func(ws, file string) string {
				return fmt.Sprintf("cd %s && go run %s", ws, file)
			},
		},
	}

	runtimes := make(map[string]*LanguageRuntime, len(entries))
	for _, e := range entries {
		e.Container = prefix + "-" + e.ID
		e.RunTimeout = run
		e.ProjectTimeout = project
		runtimes[e.ID] = e
	}
	return &Registry{runtimes: runtimes}
}

// Resolve looks up the runtime for a language ID. Pure lookup, no side
// effects.
func (r *Registry) Resolve(language string) (*LanguageRuntime, error) {
	rt, ok := r.runtimes[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	return rt, nil
}

// Languages lists the supported language IDs.
func (r *Registry) Languages() []string {
	out := make([]string, 0, len(r.runtimes))
	for id := range r.runtimes {
		out = append(out, id)
	}
	return out
}
