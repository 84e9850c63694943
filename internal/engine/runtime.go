package engine

import (
	"context"
	"io"
)

// ContainerState is the slice of container inspection the engine needs.
type ContainerState struct {
	Exists  bool
	Running bool
}

// ExecStream is a bidirectional byte stream attached to a command running
// inside a container. Reads return the multiplexed stdout/stderr stream in
// the framed wire format decoded by Demux.
type ExecStream interface {
	io.Reader

	// Write sends bytes to the command's stdin.
	Write(p []byte) (int, error)

	// CloseWrite half-closes the stdin side, signalling EOF to the command
	// while leaving the output side open.
	CloseWrite() error

	// Close tears the whole stream down, forcibly if the command is still
	// running.
	Close() error

	// ID identifies the exec instance for exit-code inspection.
	ID() string
}

// ContainerAPI is the capability set the engine requires from the container
// runtime. It is constructed by the caller and passed in explicitly so tests
// can substitute a fake runtime.
type ContainerAPI interface {
	// Ping reports whether the container runtime is reachable.
	Ping(ctx context.Context) error

	// Inspect reports existence and liveness of a container.
	Inspect(ctx context.Context, ref string) (ContainerState, error)

	// Start starts a stopped container.
	Start(ctx context.Context, ref string) error

	// Create creates and starts a fresh idle container from image, returning
	// its ref. Used by the ephemeral container policy.
	Create(ctx context.Context, image, name string) (string, error)

	// Remove force-removes a container.
	Remove(ctx context.Context, ref string) error

	// Exec starts cmd inside the container and returns the attached stream.
	Exec(ctx context.Context, ref string, cmd []string, attachStdin bool) (ExecStream, error)

	// ExitCode returns the exit status of a finished exec instance.
	ExitCode(ctx context.Context, execID string) (int, error)
}
