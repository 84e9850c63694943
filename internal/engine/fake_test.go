package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// fakeStream is a scriptable ExecStream: it serves a canned multiplexed
// payload, optionally gated on stdin half-close, or blocks until forcibly
// closed to exercise the timeout path.
type fakeStream struct {
	id       string
	exitCode int

	// gateOnCloseWrite holds reads back until CloseWrite, mimicking a
	// program that finishes only once stdin reaches EOF.
	gateOnCloseWrite bool

	// blockUntilClose never yields data; reads stay parked until Close.
	blockUntilClose bool

	buf        *bytes.Reader
	closed     chan struct{}
	closeWrite chan struct{}
	closeOnce  sync.Once
	cwOnce     sync.Once

	mu    sync.Mutex
	stdin bytes.Buffer
}

func newFakeStream(id string, payload []byte) *fakeStream {
	return &fakeStream{
		id:         id,
		buf:        bytes.NewReader(payload),
		closed:     make(chan struct{}),
		closeWrite: make(chan struct{}),
	}
}

func (s *fakeStream) Read(p []byte) (int, error) {
	if s.blockUntilClose {
		<-s.closed
		return 0, io.EOF
	}
	if s.gateOnCloseWrite {
		select {
		case <-s.closeWrite:
		case <-s.closed:
			return 0, io.EOF
		}
	}
	return s.buf.Read(p)
}

func (s *fakeStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin.Write(p)
}

func (s *fakeStream) stdinString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin.String()
}

func (s *fakeStream) CloseWrite() error {
	s.cwOnce.Do(func() { close(s.closeWrite) })
	return nil
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) ID() string { return s.id }

// fakeAPI is an in-memory container runtime. Plumbing commands (mkdir,
// file writes, rm) succeed silently; onExec lets a test script the streams
// for the commands it cares about.
type fakeAPI struct {
	mu sync.Mutex

	// states maps container ref to its inspection result.
	states map[string]ContainerState

	// onExec, when set, may return a scripted stream for a command line.
	// Returning nil falls back to an empty success stream.
	onExec func(cmdLine string) *fakeStream

	pingErr  error
	execLog  []string
	streams  map[string]*fakeStream
	nextExec int

	inspectCalls int
	startCalls   int
	createCalls  int
	removeCalls  int
	removed      []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		states:  map[string]ContainerState{},
		streams: map[string]*fakeStream{},
	}
}

// runningAPI returns a fake with running persistent containers for the
// default registry.
func runningAPI() *fakeAPI {
	api := newFakeAPI()
	for _, lang := range []string{"python", "javascript", "java", "cpp", "go"} {
		api.states["execbox-"+lang] = ContainerState{Exists: true, Running: true}
	}
	return api
}

func (f *fakeAPI) Ping(context.Context) error { return f.pingErr }

func (f *fakeAPI) Inspect(_ context.Context, ref string) (ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inspectCalls++
	return f.states[ref], nil
}

func (f *fakeAPI) Start(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	st := f.states[ref]
	st.Running = true
	f.states[ref] = st
	return nil
}

func (f *fakeAPI) Create(_ context.Context, image, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.states[name] = ContainerState{Exists: true, Running: true}
	return name, nil
}

func (f *fakeAPI) Remove(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls++
	f.removed = append(f.removed, ref)
	delete(f.states, ref)
	return nil
}

func (f *fakeAPI) Exec(_ context.Context, ref string, cmd []string, attachStdin bool) (ExecStream, error) {
	cmdLine := cmd[len(cmd)-1]

	f.mu.Lock()
	f.execLog = append(f.execLog, cmdLine)
	f.nextExec++
	id := fmt.Sprintf("exec-%d", f.nextExec)
	onExec := f.onExec
	f.mu.Unlock()

	var stream *fakeStream
	if onExec != nil {
		stream = onExec(cmdLine)
	}
	if stream == nil {
		stream = newFakeStream(id, nil)
	}
	stream.id = id

	f.mu.Lock()
	f.streams[id] = stream
	f.mu.Unlock()
	return stream, nil
}

func (f *fakeAPI) ExitCode(_ context.Context, execID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.streams[execID]; ok {
		return s.exitCode, nil
	}
	return 0, fmt.Errorf("unknown exec %s", execID)
}

// execsMatching counts recorded command lines containing substr.
func (f *fakeAPI) execsMatching(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, cmd := range f.execLog {
		if strings.Contains(cmd, substr) {
			n++
		}
	}
	return n
}

func (f *fakeAPI) totalExecs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.execLog)
}
