package docker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/codedeck/execbox/internal/engine"
)

// Client wraps the official Docker SDK client behind the engine's
// ContainerAPI seam. It is constructed explicitly and passed in, never held
// as a package-level singleton, so a fake runtime can stand in for tests.
type Client struct {
	cli *client.Client
}

var _ engine.ContainerAPI = (*Client)(nil)

// New initializes a Docker client from the environment and verifies the
// daemon is reachable.
func New() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping docker daemon: %w", err)
	}
	slog.Info("Docker client initialized")
	return &Client{cli: cli}, nil
}

// MustNew is New with fail-fast semantics for worker startup: a broken
// container runtime should stop the process before it accepts jobs.
func MustNew() *Client {
	c, err := New()
	if err != nil {
		slog.Error("Failed to connect to Docker daemon", "error", err)
		panic(err)
	}
	return c
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

func (c *Client) Inspect(ctx context.Context, ref string) (engine.ContainerState, error) {
	info, err := c.cli.ContainerInspect(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return engine.ContainerState{}, nil
		}
		return engine.ContainerState{}, fmt.Errorf("inspect container %s: %w", ref, err)
	}
	running := info.State != nil && info.State.Running
	return engine.ContainerState{Exists: true, Running: running}, nil
}

func (c *Client) Start(ctx context.Context, ref string) error {
	if err := c.cli.ContainerStart(ctx, ref, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", ref, err)
	}
	return nil
}

// Create makes and starts an idle container for the ephemeral policy. The
// container just sleeps; every command arrives via Exec. Resource caps and
// network isolation are the runtime's enforcement boundary, configured here.
func (c *Client) Create(ctx context.Context, imageRef, name string) (string, error) {
	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image: imageRef,
		Cmd:   []string{"sleep", "infinity"},
	}, &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   512 * 1024 * 1024,
			NanoCPUs: 1_000_000_000, // one CPU
		},
	}, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create container from %s: %w", imageRef, err)
	}
	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container %s: %w", resp.ID, err)
	}
	return resp.ID, nil
}

func (c *Client) Remove(ctx context.Context, ref string) error {
	err := c.cli.ContainerRemove(ctx, ref, container.RemoveOptions{Force: true})
	if err != nil {
		return fmt.Errorf("remove container %s: %w", ref, err)
	}
	return nil
}

// Exec starts cmd inside the container and attaches over a hijacked
// connection, yielding the raw multiplexed stream the engine demuxes.
func (c *Client) Exec(ctx context.Context, ref string, cmd []string, attachStdin bool) (engine.ExecStream, error) {
	created, err := c.cli.ContainerExecCreate(ctx, ref, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  attachStdin,
	})
	if err != nil {
		return nil, fmt.Errorf("exec create in %s: %w", ref, err)
	}
	attached, err := c.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach %s: %w", created.ID, err)
	}
	return &execStream{id: created.ID, resp: attached}, nil
}

func (c *Client) ExitCode(ctx context.Context, execID string) (int, error) {
	insp, err := c.cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		return 0, fmt.Errorf("exec inspect %s: %w", execID, err)
	}
	return insp.ExitCode, nil
}

// execStream adapts a hijacked exec connection to engine.ExecStream.
type execStream struct {
	id   string
	resp types.HijackedResponse
}

func (s *execStream) Read(p []byte) (int, error) {
	return s.resp.Reader.Read(p)
}

func (s *execStream) Write(p []byte) (int, error) {
	return s.resp.Conn.Write(p)
}

func (s *execStream) CloseWrite() error {
	return s.resp.CloseWrite()
}

func (s *execStream) Close() error {
	s.resp.Close()
	return nil
}

func (s *execStream) ID() string {
	return s.id
}
