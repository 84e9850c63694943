package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/codedeck/execbox/internal/domain"
)

const workspaceRoot = "/tmp/execbox"

// WorkspaceManager materializes ephemeral per-run directories inside a
// container and writes submitted sources into them. One workspace serves
// exactly one execution and is never reused.
type WorkspaceManager struct {
	api ContainerAPI
	log *slog.Logger
}

func NewWorkspaceManager(api ContainerAPI, log *slog.Logger) *WorkspaceManager {
	if log == nil {
		log = slog.Default()
	}
	return &WorkspaceManager{api: api, log: log}
}

// newWorkspacePath derives a unique path from the current time plus a random
// suffix so concurrent runs sharing one container can never collide.
func newWorkspacePath() string {
	suffix := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("%s/ws-%d-%s", workspaceRoot, time.Now().UnixNano(), suffix)
}

// Create makes a fresh workspace directory in the container and returns its
// absolute path.
func (m *WorkspaceManager) Create(ctx context.Context, containerRef string) (string, error) {
	ws := newWorkspacePath()
	cmd := fmt.Sprintf("mkdir -p %s", shellQuote(ws))
	if _, stderr, exit, err := m.run(ctx, containerRef, cmd); err != nil || exit != 0 {
		if err == nil {
			err = fmt.Errorf("mkdir exited with status %d: %s", exit, stderr)
		}
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return ws, nil
}

// WriteFile writes content under relativeName inside the workspace. The
// payload travels base64-encoded through the command channel and is decoded
// on the remote side, so arbitrary bytes, quotes and shell metacharacters in
// the content never reach the shell.
func (m *WorkspaceManager) WriteFile(ctx context.Context, containerRef, workspace, relativeName, content string) error {
	target := path.Join(workspace, relativeName)
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	cmd := fmt.Sprintf("printf %%s %s | base64 -d > %s", encoded, shellQuote(target))
	_, stderr, exit, err := m.run(ctx, containerRef, cmd)
	if err != nil {
		// Non-fatal: a missing file makes the run step fail naturally.
		m.log.Error("workspace file write failed", "file", relativeName, "error", err)
		return err
	}
	if exit != 0 {
		m.log.Error("workspace file write failed", "file", relativeName, "stderr", stderr)
		return fmt.Errorf("write %s: exit status %d", relativeName, exit)
	}
	return nil
}

// WriteTree writes a multi-file project. All intermediate directories
// implied by /-separated names are created in a single batched mkdir to keep
// the remote round trips down; the leaf files are then written concurrently.
func (m *WorkspaceManager) WriteTree(ctx context.Context, containerRef, workspace string, files []domain.SourceFile) error {
	dirs := map[string]bool{}
	for _, f := range files {
		if d := path.Dir(f.Name); d != "." && d != "/" {
			dirs[path.Join(workspace, d)] = true
		}
	}
	if len(dirs) > 0 {
		quoted := make([]string, 0, len(dirs))
		for d := range dirs {
			quoted = append(quoted, shellQuote(d))
		}
		sort.Strings(quoted)
		cmd := "mkdir -p " + strings.Join(quoted, " ")
		if _, stderr, exit, err := m.run(ctx, containerRef, cmd); err != nil {
			m.log.Error("workspace mkdir failed", "error", err)
		} else if exit != 0 {
			m.log.Error("workspace mkdir failed", "stderr", stderr)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range files {
		f := f
		g.Go(func() error {
			return m.WriteFile(gctx, containerRef, workspace, f.Name, f.Content)
		})
	}
	return g.Wait()
}

// Destroy removes the workspace. Best effort: failures are logged and never
// propagate, so cleanup can't mask the primary result.
func (m *WorkspaceManager) Destroy(ctx context.Context, containerRef, workspace string) {
	if !strings.HasPrefix(workspace, workspaceRoot+"/") {
		m.log.Warn("refusing to remove path outside workspace root", "path", workspace)
		return
	}
	cmd := fmt.Sprintf("rm -rf %s", shellQuote(workspace))
	if _, _, _, err := m.run(ctx, containerRef, cmd); err != nil {
		m.log.Warn("workspace cleanup failed", "path", workspace, "error", err)
	}
}

func (m *WorkspaceManager) run(ctx context.Context, containerRef, cmd string) (stdout, stderr string, exit int, err error) {
	return runCommand(ctx, m.api, containerRef, cmd)
}

// shellQuote single-quotes s for /bin/sh, escaping embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellCommand wraps a command line for the container's shell.
func shellCommand(cmd string) []string {
	return []string{"/bin/sh", "-c", cmd}
}

// runCommand execs a shell command without stdin, drains the multiplexed
// stream and returns the demuxed output plus the exit status.
func runCommand(ctx context.Context, api ContainerAPI, containerRef, cmd string) (stdout, stderr string, exit int, err error) {
	stream, err := api.Exec(ctx, containerRef, shellCommand(cmd), false)
	if err != nil {
		return "", "", 0, err
	}
	defer stream.Close()

	raw, err := io.ReadAll(stream)
	if err != nil {
		return "", "", 0, err
	}
	stdout, stderr = Demux(raw)
	exit, err = api.ExitCode(ctx, stream.ID())
	return stdout, stderr, exit, err
}
