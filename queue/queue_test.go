package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ciParams(pr int) map[string]any {
	return map[string]any{"repo_name": "octo/widgets", "pr_number": pr}
}

func TestDedupID(t *testing.T) {
	a, err := DedupID(TypeRunCI, map[string]any{"repo_name": "octo/widgets", "pr_number": 1, "branch": "main"})
	require.NoError(t, err)
	b, err := DedupID(TypeRunCI, map[string]any{"branch": "main", "pr_number": 1, "repo_name": "octo/widgets"})
	require.NoError(t, err)
	assert.Equal(t, a, b, "parameter order must not change the identity")

	c, err := DedupID(TypeRunCI, map[string]any{"repo_name": "octo/widgets", "pr_number": 2, "branch": "main"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := DedupID(TypeGetTestResults, map[string]any{"repo_name": "octo/widgets", "pr_number": 1, "branch": "main"})
	require.NoError(t, err)
	assert.NotEqual(t, a, d, "type is part of the identity")
}

func TestEnqueueIdempotent(t *testing.T) {
	store := NewMemoryStore()
	q := New(store)

	req, err := NewRequest("alignment", TypeRunCI, ciParams(1))
	require.NoError(t, err)

	first, err := q.Enqueue(context.Background(), req)
	require.NoError(t, err)

	second, err := q.Enqueue(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.PendingLen(), "duplicate submission must not grow the queue")
}

func TestEnqueueConcurrent(t *testing.T) {
	store := NewMemoryStore()
	q := New(store)

	const submitters = 10
	ids := make([]string, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := NewRequest(fmt.Sprintf("agent-%d", i), TypeRunCI, ciParams(7))
			if err != nil {
				t.Error(err)
				return
			}
			id, err := q.Enqueue(context.Background(), req)
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, store.PendingLen())
}

func TestEnqueueResubmitAfterTerminal(t *testing.T) {
	q := New(NewMemoryStore())
	ctx := context.Background()

	req, err := NewRequest("tester", TypeRunCI, ciParams(2))
	require.NoError(t, err)

	id, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	require.NoError(t, q.MarkInProgress(ctx, id))
	require.NoError(t, q.MarkCompleted(ctx, id, map[string]any{"status": "completed"}))

	again, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	status, err := q.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status, "finished identity is reset and queued again")
}

func TestGetNextFIFO(t *testing.T) {
	q := New(NewMemoryStore())
	ctx := context.Background()

	var want []string
	for pr := 1; pr <= 3; pr++ {
		req, err := NewRequest("tester", TypeRunCI, ciParams(pr*10))
		require.NoError(t, err)
		id, err := q.Enqueue(ctx, req)
		require.NoError(t, err)
		want = append(want, id)
	}

	for _, id := range want {
		next, err := q.GetNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, id, next.ID)
	}

	empty, err := q.GetNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestLifecycleMonotonic(t *testing.T) {
	q := New(NewMemoryStore())
	ctx := context.Background()

	req, err := NewRequest("tester", TypeRunCI, ciParams(3))
	require.NoError(t, err)
	id, err := q.Enqueue(ctx, req)
	require.NoError(t, err)

	// completed before in_progress is an invalid transition
	assert.Error(t, q.MarkCompleted(ctx, id, nil))

	require.NoError(t, q.MarkInProgress(ctx, id))
	assert.Error(t, q.MarkInProgress(ctx, id))

	require.NoError(t, q.MarkFailed(ctx, id, "boom"))

	// terminal state is never revisited
	assert.Error(t, q.MarkInProgress(ctx, id))
	assert.Error(t, q.MarkCompleted(ctx, id, nil))
	assert.Error(t, q.MarkFailed(ctx, id, "again"))
}

func TestWaitForResultCompleted(t *testing.T) {
	q := New(NewMemoryStore())
	ctx := context.Background()

	req, err := NewRequest("tester", TypeRunCI, ciParams(4))
	require.NoError(t, err)
	id, err := q.Enqueue(ctx, req)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = q.MarkInProgress(ctx, id)
		_ = q.MarkCompleted(ctx, id, map[string]any{"tests_passed": true})
	}()

	result, err := q.WaitForResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, result["tests_passed"])
}

func TestWaitForResultFailed(t *testing.T) {
	q := New(NewMemoryStore())
	ctx := context.Background()

	req, err := NewRequest("tester", TypeRunCI, ciParams(5))
	require.NoError(t, err)
	id, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	require.NoError(t, q.MarkInProgress(ctx, id))
	require.NoError(t, q.MarkFailed(ctx, id, "ci provider unreachable"))

	_, err = q.WaitForResult(ctx, id, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ci provider unreachable")
}

func TestWaitForResultTimeout(t *testing.T) {
	q := New(NewMemoryStore())
	ctx := context.Background()

	req, err := NewRequest("tester", TypeRunCI, ciParams(6))
	require.NoError(t, err)
	id, err := q.Enqueue(ctx, req)
	require.NoError(t, err)

	_, err = q.WaitForResult(ctx, id, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWaitForResultNotFound(t *testing.T) {
	q := New(NewMemoryStore())
	_, err := q.WaitForResult(context.Background(), "no-such-id", time.Second)
	assert.ErrorIs(t, err, ErrNotFound)
}

// countingRunner records how many CI runs actually execute.
type countingRunner struct {
	mu   sync.Mutex
	runs int
}

func (c *countingRunner) Run(ctx context.Context, repo string, pr int, branch string) (CIResult, error) {
	c.mu.Lock()
	c.runs++
	c.mu.Unlock()
	return (&MockRunner{}).Run(ctx, repo, pr, branch)
}

func (c *countingRunner) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func waitTerminal(t *testing.T, q *Queue, id string) Status {
	t.Helper()
	var status Status
	require.Eventually(t, func() bool {
		s, err := q.StatusOf(context.Background(), id)
		if err != nil {
			return false
		}
		status = s
		return s.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return status
}

func TestWorkerProcessesRequest(t *testing.T) {
	q := New(NewMemoryStore())
	w := NewWorker(q, &MockRunner{}, WithBackoffs(10*time.Millisecond, 10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	req, err := NewRequest("tester", TypeRunCI, ciParams(1))
	require.NoError(t, err)
	id, err := q.Enqueue(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, waitTerminal(t, q, id))

	result, err := q.WaitForResult(ctx, id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, result["tests_passed"])
	assert.Equal(t, 85.0, result["coverage_percentage"])
}

func TestWorkerSingleExecutionForDuplicates(t *testing.T) {
	q := New(NewMemoryStore())
	runner := &countingRunner{}
	w := NewWorker(q, runner, WithBackoffs(10*time.Millisecond, 10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var id string
	for i := 0; i < 3; i++ {
		req, err := NewRequest(fmt.Sprintf("agent-%d", i), TypeRunCI, ciParams(8))
		require.NoError(t, err)
		got, err := q.Enqueue(ctx, req)
		require.NoError(t, err)
		id = got
	}

	go func() { _ = w.Run(ctx) }()

	assert.Equal(t, StatusCompleted, waitTerminal(t, q, id))
	assert.Equal(t, 1, runner.count(), "duplicate submissions must execute once")
}

func TestWorkerSurvivesHandlerError(t *testing.T) {
	q := New(NewMemoryStore())
	w := NewWorker(q, &MockRunner{}, WithBackoffs(10*time.Millisecond, 10*time.Millisecond))
	w.Register("explode", func(context.Context, Request) (map[string]any, error) {
		return nil, errors.New("handler blew up")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bad, err := NewRequest("tester", "explode", map[string]any{"n": 1})
	require.NoError(t, err)
	badID, err := q.Enqueue(ctx, bad)
	require.NoError(t, err)

	good, err := NewRequest("tester", TypeRunSpecificTest, map[string]any{"test_name": "TestWidget"})
	require.NoError(t, err)
	goodID, err := q.Enqueue(ctx, good)
	require.NoError(t, err)

	go func() { _ = w.Run(ctx) }()

	assert.Equal(t, StatusFailed, waitTerminal(t, q, badID))
	assert.Equal(t, StatusCompleted, waitTerminal(t, q, goodID), "one bad request must not stop the loop")

	_, err = q.WaitForResult(ctx, badID, time.Second)
	assert.Contains(t, err.Error(), "handler blew up")
}

func TestWorkerUnknownTypeFails(t *testing.T) {
	q := New(NewMemoryStore())
	w := NewWorker(q, &MockRunner{}, WithBackoffs(10*time.Millisecond, 10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := NewRequest("tester", "teleport", map[string]any{"to": "prod"})
	require.NoError(t, err)
	id, err := q.Enqueue(ctx, req)
	require.NoError(t, err)

	go func() { _ = w.Run(ctx) }()

	assert.Equal(t, StatusFailed, waitTerminal(t, q, id))
}

func TestMockRunnerEveryThirdChangeFails(t *testing.T) {
	runner := &MockRunner{}

	failing, err := runner.Run(context.Background(), "octo/widgets", 9, "main")
	require.NoError(t, err)
	assert.False(t, failing.TestsPassed)
	assert.Equal(t, 65.0, failing.CoveragePercentage)
	assert.Contains(t, failing.TestResults, "failed_tests")

	passing, err := runner.Run(context.Background(), "octo/widgets", 10, "main")
	require.NoError(t, err)
	assert.True(t, passing.TestsPassed)
	assert.Equal(t, 85.0, passing.CoveragePercentage)

	// Both shapes expose the same keys.
	for _, key := range []string{"status", "tests_passed", "coverage_percentage", "test_results", "workflow_url", "duration_seconds"} {
		assert.Contains(t, failing.Map(), key)
		assert.Contains(t, passing.Map(), key)
	}
}
