package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codedeck/execbox/internal/domain"
)

// noOutputMarker is substituted for stdout when a run succeeds silently.
const noOutputMarker = "Code executed successfully. No output."

// startWait bounds how long the coordinator waits for a stopped container
// to come up after starting it.
const startWait = 5 * time.Second

// Options tune the coordinator beyond the registry defaults.
type Options struct {
	// EphemeralContainers switches from the persistent per-language
	// container to a create-run-remove container per execution: stronger
	// isolation, higher latency.
	EphemeralContainers bool

	Logger *slog.Logger
}

// Coordinator orchestrates one execution end to end: resolve the runtime,
// ensure the container is alive, materialize the workspace, install
// dependencies, run the command with stdin attached, race collection
// against the wall-clock budget and clean up. It owns failure
// classification; callers always get a well-formed ExecutionResult.
type Coordinator struct {
	api       ContainerAPI
	registry  *Registry
	ws        *WorkspaceManager
	deps      *DepInstaller
	ephemeral bool
	log       *slog.Logger
}

var _ domain.CodeRunner = (*Coordinator)(nil)

func NewCoordinator(api ContainerAPI, registry *Registry, store MarkerStore, opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ws := NewWorkspaceManager(api, log)
	deps := NewDepInstaller(api, store, ws, log)
	// A fresh container per run never carries earlier installs, so the
	// cache's "already installed" answer would be wrong there.
	deps.alwaysInstall = opts.EphemeralContainers
	return &Coordinator{
		api:       api,
		registry:  registry,
		ws:        ws,
		deps:      deps,
		ephemeral: opts.EphemeralContainers,
		log:       log,
	}
}

// Health probes the container runtime.
func (c *Coordinator) Health(ctx context.Context) domain.Health {
	if err := c.api.Ping(ctx); err != nil {
		return domain.Health{Available: false, Message: fmt.Sprintf("container runtime unreachable: %v", err)}
	}
	return domain.Health{Available: true, Message: "container runtime reachable"}
}

// Execute runs one request. All failures are classified into the result's
// Error field; raw transport errors never leak past this boundary.
func (c *Coordinator) Execute(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
	start := time.Now()
	fail := func(format string, args ...any) domain.ExecutionResult {
		return domain.ExecutionResult{
			Error:         fmt.Sprintf(format, args...),
			ExecutionTime: time.Since(start).Milliseconds(),
		}
	}

	rt, err := c.registry.Resolve(req.Language)
	if err != nil {
		return fail("language %q is not supported", req.Language)
	}
	if err := req.Validate(); err != nil {
		return fail("invalid request: %v", err)
	}

	containerRef, release, err := c.acquireContainer(ctx, rt)
	if err != nil {
		return fail("%v", err)
	}
	defer release()

	workspace, err := c.ws.Create(ctx, containerRef)
	if err != nil {
		c.log.Error("workspace creation failed", "language", rt.ID, "error", err)
		return fail("execution environment unavailable, try again later")
	}
	defer func() {
		// Cleanup runs on its own clock so a spent request context can't
		// strand the directory.
		cleanCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.ws.Destroy(cleanCtx, containerRef, workspace)
	}()

	var mainFile string
	if req.MultiFile() {
		mainFile = req.MainFile
		if err := c.ws.WriteTree(ctx, containerRef, workspace, req.Files); err != nil {
			// The run step reports the missing file naturally.
			c.log.Warn("project file write failed", "error", err)
		}
	} else {
		mainFile = rt.FileNameFor(req.Code)
		if err := c.ws.WriteFile(ctx, containerRef, workspace, mainFile, req.Code); err != nil {
			c.log.Warn("source file write failed", "error", err)
		}
	}

	if len(req.Dependencies) > 0 {
		report, err := c.deps.Ensure(ctx, rt, containerRef, workspace, req.ProjectID, req.Dependencies)
		if err != nil {
			c.log.Warn("dependency install failed", "project", req.ProjectID, "error", err)
			msg := "dependency installation failed"
			if report.Log != "" {
				msg += ": " + report.Log
			}
			return fail("%s", msg)
		}
	}

	command := rt.BuildRunCommand(workspace, mainFile)
	c.log.Debug("starting run", "language", rt.ID, "workspace", workspace)

	stream, err := c.api.Exec(ctx, containerRef, shellCommand(command), true)
	if err != nil {
		c.log.Error("exec start failed", "language", rt.ID, "error", err)
		return fail("failed to start execution, try again later")
	}

	// Always half-close stdin. Interpreters that block on input would
	// otherwise hang until the timeout.
	if req.Input != "" {
		if _, err := stream.Write([]byte(req.Input + "\n")); err != nil {
			c.log.Warn("stdin write failed", "error", err)
		}
	}
	if err := stream.CloseWrite(); err != nil {
		c.log.Warn("stdin close failed", "error", err)
	}

	budget := rt.Timeout(req.MultiFile())
	raw, timedOut := c.collect(stream, budget)
	elapsed := time.Since(start)

	if timedOut {
		return domain.ExecutionResult{
			Error:         fmt.Sprintf("execution timed out after %s", budget),
			ExecutionTime: elapsed.Milliseconds(),
		}
	}

	stdout, stderr := Demux(raw)
	stdout = strings.TrimSpace(stdout)
	stderr = strings.TrimSpace(stderr)

	exit, err := c.api.ExitCode(ctx, stream.ID())
	if err != nil {
		c.log.Warn("exit code inspection failed", "error", err)
	}

	result := domain.ExecutionResult{ExecutionTime: elapsed.Milliseconds()}
	switch {
	case stderr != "":
		result.Error = stderr
	case exit != 0:
		// Execution errors carry an empty output, matching the stderr case.
		result.Error = fmt.Sprintf("process exited with status %d", exit)
	case stdout == "":
		result.Output = noOutputMarker
	default:
		result.Output = stdout
	}
	return result
}

// collect drains the exec stream, racing the read against the wall-clock
// budget. On expiry the stream is forcibly destroyed, which also unblocks
// the reader goroutine.
func (c *Coordinator) collect(stream ExecStream, budget time.Duration) (raw []byte, timedOut bool) {
	type readResult struct {
		data []byte
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		data, err := io.ReadAll(stream)
		done <- readResult{data: data, err: err}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case res := <-done:
		stream.Close()
		if res.err != nil {
			c.log.Warn("output collection ended with error", "error", res.err)
		}
		return res.data, false
	case <-timer.C:
		stream.Close()
		return nil, true
	}
}

// acquireContainer returns the container to run in plus a release func.
// Persistent mode probes the long-lived language container and starts it if
// stopped; ephemeral mode creates a throwaway container and removes it on
// release.
func (c *Coordinator) acquireContainer(ctx context.Context, rt *LanguageRuntime) (string, func(), error) {
	if c.ephemeral {
		name := fmt.Sprintf("%s-run-%s", rt.Container, strings.Split(uuid.New().String(), "-")[0])
		ref, err := c.api.Create(ctx, rt.Image, name)
		if err != nil {
			c.log.Error("ephemeral container creation failed", "image", rt.Image, "error", err)
			return "", nil, fmt.Errorf("could not create execution container for %s", rt.ID)
		}
		release := func() {
			rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := c.api.Remove(rmCtx, ref); err != nil {
				c.log.Warn("ephemeral container removal failed", "ref", ref, "error", err)
			}
		}
		return ref, release, nil
	}

	state, err := c.api.Inspect(ctx, rt.Container)
	if err != nil {
		c.log.Error("container inspection failed", "container", rt.Container, "error", err)
		return "", nil, fmt.Errorf("container runtime unreachable")
	}
	if !state.Exists {
		return "", nil, fmt.Errorf("container %q for language %s does not exist; provision it before submitting runs", rt.Container, rt.ID)
	}
	if !state.Running {
		c.log.Info("starting stopped container", "container", rt.Container)
		if err := c.api.Start(ctx, rt.Container); err != nil {
			return "", nil, fmt.Errorf("container %q could not be started", rt.Container)
		}
		if err := c.awaitRunning(ctx, rt.Container); err != nil {
			return "", nil, fmt.Errorf("container %q did not become ready", rt.Container)
		}
	}
	return rt.Container, func() {}, nil
}

// awaitRunning polls briefly until the container reports running.
func (c *Coordinator) awaitRunning(ctx context.Context, ref string) error {
	deadline := time.Now().Add(startWait)
	for time.Now().Before(deadline) {
		state, err := c.api.Inspect(ctx, ref)
		if err != nil {
			return err
		}
		if state.Running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("container %s not running after %s", ref, startWait)
}
