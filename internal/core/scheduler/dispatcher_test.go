package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"service-sopm/internal/core/builtin"
	"service-sopm/internal/core/functions"
	"service-sopm/internal/core/sandbox"
)

func TestBuiltinDispatcherCompletesJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	d := NewBuiltinDispatcher(h.queue, h.store, builtin.NewExecutor(time.Second, zerolog.Nop()), DispatchOptions{}, zerolog.Nop())

	rcpt, err := h.svc.SubmitBuiltin(ctx, "text_reverser", json.RawMessage(`{"text":"abc"}`))
	require.NoError(t, err)

	took, err := d.Step(ctx)
	require.NoError(t, err)
	assert.True(t, took)

	job, err := h.svc.Job(ctx, rcpt.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Contains(t, string(job.Result), `"reversed":"cba"`)
	require.NotNil(t, job.ExecutionTimeMs)
	assert.GreaterOrEqual(t, *job.ExecutionTimeMs, 0.0)
	assert.NotNil(t, job.CompletedAt)

	took, err = d.Step(ctx)
	require.NoError(t, err)
	assert.False(t, took)
}

func TestBuiltinDispatcherUnknownFunction(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	d := NewBuiltinDispatcher(h.queue, h.store, builtin.NewExecutor(time.Second, zerolog.Nop()), DispatchOptions{}, zerolog.Nop())

	// the name was valid at submit time but the worker no longer knows it
	job := &Job{FunctionName: "retired", Status: StatusPending}
	require.NoError(t, h.store.CreateJob(ctx, job))
	require.NoError(t, h.queue.Enqueue(ctx, TopicBuiltin, &Message{JobID: job.ID, Kind: KindBuiltin, FunctionName: "retired"}))

	_, err := d.Step(ctx)
	require.NoError(t, err)

	got, err := h.svc.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Nil(t, got.ExecutionTimeMs)

	var result map[string]any
	require.NoError(t, json.Unmarshal(got.Result, &result))
	assert.Equal(t, "Function retired not found", result["error"])
	assert.Contains(t, result["available_functions"], "echo")
}

func TestDispatcherSkipsTerminalJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	calls := 0
	d := newDispatcher(TopicBuiltin, h.queue, h.store, func(context.Context, *Message) Outcome {
		calls++
		return Completed(json.RawMessage(`{}`))
	}, false, DispatchOptions{}, zerolog.Nop())

	rcpt, err := h.svc.SubmitBuiltin(ctx, "echo", nil)
	require.NoError(t, err)
	// a redelivered copy of the same message
	require.NoError(t, h.queue.Enqueue(ctx, TopicBuiltin, &Message{JobID: rcpt.JobID, Kind: KindBuiltin, FunctionName: "echo"}))
	require.NoError(t, h.queue.Enqueue(ctx, TopicBuiltin, &Message{JobID: 404, Kind: KindBuiltin, FunctionName: "echo"}))

	for i := 0; i < 3; i++ {
		_, err := d.Step(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)

	job, _ := h.svc.Job(ctx, rcpt.JobID)
	assert.Equal(t, StatusCompleted, job.Status)
}

func TestDispatcherRecoversHandlerPanic(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	d := newDispatcher(TopicBuiltin, h.queue, h.store, func(context.Context, *Message) Outcome {
		panic("kaboom")
	}, false, DispatchOptions{}, zerolog.Nop())

	rcpt, err := h.svc.SubmitBuiltin(ctx, "echo", nil)
	require.NoError(t, err)
	_, err = d.Step(ctx)
	require.NoError(t, err)

	job, _ := h.svc.Job(ctx, rcpt.JobID)
	assert.Equal(t, StatusFailed, job.Status)
	assert.JSONEq(t, `{"error":"panic: kaboom"}`, string(job.Result))
}

func TestDispatcherRejectsNonTerminalOutcome(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	d := newDispatcher(TopicBuiltin, h.queue, h.store, func(context.Context, *Message) Outcome {
		return Outcome{Status: StatusRunning}
	}, false, DispatchOptions{}, zerolog.Nop())

	rcpt, err := h.svc.SubmitBuiltin(ctx, "echo", nil)
	require.NoError(t, err)
	_, err = d.Step(ctx)
	require.NoError(t, err)

	job, _ := h.svc.Job(ctx, rcpt.JobID)
	assert.Equal(t, StatusFailed, job.Status)
}

func TestUserFunctionDispatcher(t *testing.T) {
	tests := []struct {
		name       string
		result     *sandbox.Result
		wantStatus Status
		wantResult string
	}{
		{
			name:       "success",
			result:     &sandbox.Result{Succeeded: true, Output: "3\n"},
			wantStatus: StatusCompleted,
			wantResult: `{"output":"3\n"}`,
		},
		{
			name:       "failure",
			result:     &sandbox.Result{Error: "OOMKilled", Output: "partial"},
			wantStatus: StatusFailed,
			wantResult: `{"error":"OOMKilled"}`,
		},
		{
			name:       "timeout",
			result:     &sandbox.Result{TimedOut: true, Error: sandbox.ReasonTimeout},
			wantStatus: StatusFailed,
			wantResult: `{"error":"Execution timeout"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness()
			h.fns["f1"] = readyFunction("f1")
			sb := &fakeSandbox{result: tt.result}
			d := NewUserFunctionDispatcher(h.queue, h.store, sb, DispatchOptions{}, zerolog.Nop())

			rcpt, err := h.svc.SubmitUserFunction(ctx, "f1", json.RawMessage(`{"a":1}`))
			require.NoError(t, err)
			took, err := d.Step(ctx)
			require.NoError(t, err)
			require.True(t, took)

			require.Len(t, sb.calls, 1)
			exec := h.store.execution(rcpt.JobID)
			require.NotNil(t, exec)
			assert.Equal(t, exec.ID, sb.calls[0].ExecutionID)
			assert.Equal(t, rcpt.JobID, sb.calls[0].JobID)
			assert.JSONEq(t, `{"a":1}`, string(sb.calls[0].Payload))
			assert.Equal(t, sandbox.Function{
				ID:             "f1",
				Image:          "localhost:5000/f1:latest",
				MemoryLimitMB:  256,
				TimeoutSeconds: 10,
			}, sb.fns[0])

			job, err := h.svc.Job(ctx, rcpt.JobID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, job.Status)
			assert.JSONEq(t, tt.wantResult, string(job.Result))

			assert.Equal(t, functions.ExecutionStatus(tt.wantStatus), exec.Status)
			assert.Equal(t, tt.result.Output, exec.OutputData)
			assert.Equal(t, tt.result.Error, exec.ErrorMessage)
			assert.Equal(t, job.CompletedAt, exec.CompletedAt)
			assert.Equal(t, job.ExecutionTimeMs, exec.ExecutionTimeMs)
		})
	}
}

func TestUserFunctionHandlerMissingMetadata(t *testing.T) {
	sb := &fakeSandbox{}
	out := UserFunctionHandler(sb)(context.Background(), &Message{JobID: 1, Kind: KindUserFunction})
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, "missing function metadata", out.Error)
	assert.Empty(t, sb.calls)
}

func TestDispatcherRunSurvivesQueueOutage(t *testing.T) {
	h := newHarness()
	h.queue.dequeueErr = errors.New("connection reset")
	d := NewBuiltinDispatcher(h.queue, h.store, builtin.NewExecutor(time.Second, zerolog.Nop()),
		DispatchOptions{Backoff: 5 * time.Millisecond, Workers: 2}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	rcpt, err := h.svc.SubmitBuiltin(context.Background(), "echo", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	h.queue.mu.Lock()
	h.queue.dequeueErr = nil
	h.queue.mu.Unlock()

	assert.Eventually(t, func() bool {
		job, err := h.svc.Job(context.Background(), rcpt.JobID)
		return err == nil && job.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func submitEchoes(t *testing.T, h *harness, n int) []uint64 {
	t.Helper()
	ids := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		rcpt, err := h.svc.SubmitBuiltin(context.Background(), "echo", json.RawMessage(`{}`))
		require.NoError(t, err)
		ids = append(ids, rcpt.JobID)
	}
	return ids
}

func assertStatuses(t *testing.T, h *harness, ids []uint64, want Status) {
	t.Helper()
	for _, id := range ids {
		job, err := h.svc.Job(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, job.Status, "job %d", id)
	}
}

func TestDispatcherRequeuesWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	calls := 0
	d := newDispatcher(TopicBuiltin, h.queue, h.store, func(context.Context, *Message) Outcome {
		calls++
		return Completed(json.RawMessage(`{}`))
	}, false, DispatchOptions{}, zerolog.Nop())

	ids := submitEchoes(t, h, 5)
	h.store.setMarkErr(errStoreDown)

	took, err := d.Step(ctx)
	assert.True(t, took)
	require.ErrorIs(t, err, errStoreDown)
	assert.Zero(t, calls)

	depth, err := h.queue.Depth(ctx, TopicBuiltin)
	require.NoError(t, err)
	assert.Equal(t, int64(5), depth)
	assertStatuses(t, h, ids, StatusPending)

	// the message went back to the head, so order survives the outage
	h.store.setMarkErr(nil)
	_, err = d.Step(ctx)
	require.NoError(t, err)
	assertStatuses(t, h, ids[:1], StatusCompleted)
	assertStatuses(t, h, ids[1:], StatusPending)
}

func TestDispatcherRunBacksOffOnStoreOutage(t *testing.T) {
	h := newHarness()
	ids := submitEchoes(t, h, 5)
	h.store.setMarkErr(errStoreDown)
	d := NewBuiltinDispatcher(h.queue, h.store, builtin.NewExecutor(time.Second, zerolog.Nop()),
		DispatchOptions{Backoff: time.Hour, Workers: 1}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.store.markRunningCalls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, h.store.markRunningCalls(), "worker retried before the backoff elapsed")

	depth, err := h.queue.Depth(context.Background(), TopicBuiltin)
	require.NoError(t, err)
	assert.Equal(t, int64(5), depth)
	assertStatuses(t, h, ids, StatusPending)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop during backoff")
	}
}

func TestDispatcherRetriesOutcomeWrite(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	d := NewBuiltinDispatcher(h.queue, h.store, builtin.NewExecutor(time.Second, zerolog.Nop()),
		DispatchOptions{Backoff: time.Millisecond}, zerolog.Nop())

	ids := submitEchoes(t, h, 2)

	h.store.finishFailures = finishAttempts - 1
	_, err := d.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, finishAttempts, h.store.finishCalls)
	assertStatuses(t, h, ids[:1], StatusCompleted)

	h.store.finishFailures = finishAttempts
	_, err = d.Step(ctx)
	require.ErrorIs(t, err, errStoreDown)
	assertStatuses(t, h, ids[1:], StatusRunning)
}

func TestDispatcherSingleWorkerIsFIFO(t *testing.T) {
	h := newHarness()
	ids := submitEchoes(t, h, 3)

	var (
		mu       sync.Mutex
		order    []uint64
		inFlight int
		peak     int
	)
	d := newDispatcher(TopicBuiltin, h.queue, h.store, func(_ context.Context, msg *Message) Outcome {
		mu.Lock()
		inFlight++
		peak = max(peak, inFlight)
		order = append(order, msg.JobID)
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return Completed(json.RawMessage(`{}`))
	}, false, DispatchOptions{Workers: 1}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ids, order)
	assert.Equal(t, 1, peak)
	assertStatuses(t, h, ids, StatusCompleted)
}
