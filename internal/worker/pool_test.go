package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codedeck/execbox/internal/domain"
)

// fakeRunner echoes the submitted code as output.
type fakeRunner struct {
	calls atomic.Int64
}

func (f *fakeRunner) Execute(_ context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
	f.calls.Add(1)
	return domain.ExecutionResult{Output: req.Code, ExecutionTime: 1}
}

func TestPoolDeliversResults(t *testing.T) {
	runner := &fakeRunner{}
	pool := NewPool(3, runner, nil)
	pool.Start()

	const n = 10
	resultCh := make(chan domain.JobResult, n)
	for i := 0; i < n; i++ {
		pool.Submit(domain.Job{
			ID:       fmt.Sprintf("job-%d", i),
			Request:  domain.ExecutionRequest{Language: "python", Code: fmt.Sprintf("code-%d", i)},
			ResultCh: resultCh,
		})
	}
	pool.Stop()

	require.Equal(t, int64(n), runner.calls.Load())
	got := map[string]string{}
	for i := 0; i < n; i++ {
		select {
		case r := <-resultCh:
			got[r.JobID] = r.Result.Output
		case <-time.After(time.Second):
			t.Fatal("missing result")
		}
	}
	for i := 0; i < n; i++ {
		require.Equal(t, fmt.Sprintf("code-%d", i), got[fmt.Sprintf("job-%d", i)])
	}
}

func TestPoolInvokesReport(t *testing.T) {
	runner := &fakeRunner{}

	var mu sync.Mutex
	reported := map[string]domain.ExecutionResult{}
	report := func(_ context.Context, job domain.Job, result domain.ExecutionResult) {
		mu.Lock()
		defer mu.Unlock()
		reported[job.ID] = result
	}

	pool := NewPool(2, runner, report)
	pool.Start()
	pool.Submit(domain.Job{ID: "a", Request: domain.ExecutionRequest{Code: "x"}})
	pool.Submit(domain.Job{ID: "b", Request: domain.ExecutionRequest{Code: "y"}})
	pool.Stop()

	require.Len(t, reported, 2)
	require.Equal(t, "x", reported["a"].Output)
	require.Equal(t, "y", reported["b"].Output)
}

func TestPoolStopDrainsPendingJobs(t *testing.T) {
	runner := &fakeRunner{}
	pool := NewPool(1, runner, nil)
	pool.Start()

	resultCh := make(chan domain.JobResult, 5)
	for i := 0; i < 5; i++ {
		pool.Submit(domain.Job{ID: fmt.Sprintf("j%d", i), ResultCh: resultCh})
	}
	pool.Stop()

	// Every accepted job ran before Stop returned.
	require.Equal(t, int64(5), runner.calls.Load())
	require.Len(t, resultCh, 5)
}
