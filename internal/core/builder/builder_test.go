package builder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"service-sopm/internal/core/task"
)

type fakeOrchestrator struct {
	mu        sync.Mutex
	created   []Spec
	deleted   []string
	phase     map[string]task.Phase
	statusErr error
	createErr error
	logs      string
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{phase: map[string]task.Phase{}}
}

func (f *fakeOrchestrator) CreateBuild(_ context.Context, spec Spec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, spec)
	f.phase[spec.Name] = task.PhaseRunning
	return nil
}

func (f *fakeOrchestrator) DeleteBuild(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	delete(f.phase, name)
	return nil
}

func (f *fakeOrchestrator) BuildStatus(_ context.Context, name string) (*task.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &task.Status{Phase: f.phase[name]}, nil
}

func (f *fakeOrchestrator) BuildLogs(_ context.Context, _ string, tail int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Tail(f.logs, tail), nil
}

func (f *fakeOrchestrator) set(name string, p task.Phase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phase[name] = p
}

func (f *fakeOrchestrator) setStatusErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErr = err
}

type statusWrite struct {
	id, status, value string
}

type fakeStatusStore struct {
	mu     sync.Mutex
	writes []statusWrite
	stale  []string
	// moved lists stale ids that left building after being listed
	moved  map[string]bool
}

func (s *fakeStatusStore) record(id, status, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, statusWrite{id, status, value})
	return nil
}

func (s *fakeStatusStore) MarkBuilding(_ context.Context, id string) error {
	return s.record(id, "building", "")
}

func (s *fakeStatusStore) MarkReady(_ context.Context, id, image string) error {
	return s.record(id, "ready", image)
}

func (s *fakeStatusStore) MarkFailed(_ context.Context, id, reason string) error {
	return s.record(id, "failed", reason)
}

func (s *fakeStatusStore) ListStaleBuilding(context.Context, time.Time) ([]string, error) {
	return s.stale, nil
}

func (s *fakeStatusStore) FailStaleBuild(_ context.Context, id, reason string, _ time.Time) (bool, error) {
	s.mu.Lock()
	skip := s.moved[id]
	s.mu.Unlock()
	if skip {
		return false, nil
	}
	return true, s.record(id, "failed", reason)
}

func (s *fakeStatusStore) snapshot() []statusWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]statusWrite, len(s.writes))
	copy(out, s.writes)
	return out
}

func (s *fakeStatusStore) last() statusWrite {
	w := s.snapshot()
	if len(w) == 0 {
		return statusWrite{}
	}
	return w[len(w)-1]
}

func newTestBuilder(t *testing.T, orch Orchestrator, store StatusStore, opts Options) *Builder {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.RegistryURL == "" {
		opts.RegistryURL = "registry.local:5000/"
	}
	b := New(orch, store, MustLoadRecipes(), opts, zerolog.Nop())
	t.Cleanup(b.Close)
	return b
}

func request(id string) Request {
	return Request{FunctionID: id, Runtime: "python3.11", CodeReference: "functions/" + id + "/code.py", Dependencies: "requests==2.31.0"}
}

func TestTriggerSuccess(t *testing.T) {
	orch := newFakeOrchestrator()
	store := &fakeStatusStore{}
	b := newTestBuilder(t, orch, store, Options{})

	build, err := b.Trigger(context.Background(), request("fn1"))
	require.NoError(t, err)
	assert.Equal(t, "build-fn1", build.TaskName)
	assert.Equal(t, "registry.local:5000/fn1:latest", build.Image)

	require.Len(t, orch.created, 1)
	spec := orch.created[0]
	assert.Equal(t, "build-context-fn1", spec.ContextName)
	assert.Equal(t, "function.py", spec.SourceFile)
	assert.Equal(t, "requests==2.31.0", spec.Files["requirements.txt"])
	assert.Contains(t, spec.Files["Dockerfile"], "FROM python:3.11-slim")
	assert.Equal(t, []string{"build-fn1"}, orch.deleted)
	assert.Equal(t, statusWrite{"fn1", "building", ""}, store.snapshot()[0])

	orch.set("build-fn1", task.PhaseSucceeded)
	require.Eventually(t, func() bool { return store.last().status == "ready" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "registry.local:5000/fn1:latest", store.last().value)
	require.Eventually(t, func() bool { return b.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTriggerFailureKeepsLogTail(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.logs = strings.Repeat("x", 2000) + "error: no matching distribution"
	store := &fakeStatusStore{}
	b := newTestBuilder(t, orch, store, Options{})

	_, err := b.Trigger(context.Background(), request("fn1"))
	require.NoError(t, err)
	orch.set("build-fn1", task.PhaseFailed)

	require.Eventually(t, func() bool { return store.last().status == "failed" }, time.Second, 5*time.Millisecond)
	reason := store.last().value
	assert.Len(t, reason, defaultLogTail)
	assert.True(t, strings.HasSuffix(reason, "error: no matching distribution"))
}

func TestTriggerFailureWithoutLogs(t *testing.T) {
	orch := newFakeOrchestrator()
	store := &fakeStatusStore{}
	b := newTestBuilder(t, orch, store, Options{})

	_, err := b.Trigger(context.Background(), request("fn1"))
	require.NoError(t, err)
	orch.set("build-fn1", task.PhaseFailed)

	require.Eventually(t, func() bool { return store.last().status == "failed" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ReasonFailed, store.last().value)
}

func TestTriggerTimeout(t *testing.T) {
	orch := newFakeOrchestrator()
	store := &fakeStatusStore{}
	b := newTestBuilder(t, orch, store, Options{Timeout: 40 * time.Millisecond})

	_, err := b.Trigger(context.Background(), request("fn1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return store.last().status == "failed" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ReasonTimeout, store.last().value)
}

func TestMonitorRetriesTransientStatusErrors(t *testing.T) {
	orch := newFakeOrchestrator()
	store := &fakeStatusStore{}
	b := newTestBuilder(t, orch, store, Options{})

	_, err := b.Trigger(context.Background(), request("fn1"))
	require.NoError(t, err)
	orch.setStatusErr(errors.New("apiserver unavailable"))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "building", store.last().status)

	orch.setStatusErr(nil)
	orch.set("build-fn1", task.PhaseSucceeded)
	require.Eventually(t, func() bool { return store.last().status == "ready" }, time.Second, 5*time.Millisecond)
}

func TestTriggerCreateFailureMarksFailed(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.createErr = errors.New("quota exceeded")
	store := &fakeStatusStore{}
	b := newTestBuilder(t, orch, store, Options{})

	_, err := b.Trigger(context.Background(), request("fn1"))
	require.Error(t, err)
	assert.Equal(t, "failed", store.last().status)
	assert.Contains(t, store.last().value, "quota exceeded")
	assert.Zero(t, b.Active())
}

func TestTriggerUnsupportedRuntime(t *testing.T) {
	store := &fakeStatusStore{}
	b := newTestBuilder(t, newFakeOrchestrator(), store, Options{})

	req := request("fn1")
	req.Runtime = "ruby3"
	_, err := b.Trigger(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnsupportedRuntime)
	assert.Empty(t, store.snapshot())
}

func TestRetriggerSupersedesPreviousMonitor(t *testing.T) {
	orch := newFakeOrchestrator()
	store := &fakeStatusStore{}
	b := newTestBuilder(t, orch, store, Options{})

	_, err := b.Trigger(context.Background(), request("fn1"))
	require.NoError(t, err)
	_, err = b.Trigger(context.Background(), request("fn1"))
	require.NoError(t, err)

	assert.Equal(t, []string{"build-fn1", "build-fn1"}, orch.deleted)
	assert.Equal(t, 1, b.Active())

	orch.set("build-fn1", task.PhaseSucceeded)
	require.Eventually(t, func() bool { return b.Active() == 0 }, time.Second, 5*time.Millisecond)

	var ready int
	for _, w := range store.snapshot() {
		if w.status == "ready" {
			ready++
		}
	}
	assert.Equal(t, 1, ready)
	assert.Equal(t, "ready", store.last().status)
}

func TestMonitorLimit(t *testing.T) {
	orch := newFakeOrchestrator()
	store := &fakeStatusStore{}
	b := newTestBuilder(t, orch, store, Options{MonitorLimit: 1})

	_, err := b.Trigger(context.Background(), request("fn1"))
	require.NoError(t, err)
	_, err = b.Trigger(context.Background(), request("fn2"))
	assert.ErrorIs(t, err, ErrTooManyBuilds)

	_, err = b.Trigger(context.Background(), request("fn1"))
	assert.NoError(t, err)
}

func TestMonitorLimitUnderConcurrentTriggers(t *testing.T) {
	orch := newFakeOrchestrator()
	b := newTestBuilder(t, orch, &fakeStatusStore{}, Options{MonitorLimit: 2})

	start := make(chan struct{})
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		started  int
		rejected int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, err := b.Trigger(context.Background(), request(id))
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrTooManyBuilds) {
				rejected++
			} else if assert.NoError(t, err) {
				started++
			}
		}(string(rune('a' + i)))
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 2, started)
	assert.Equal(t, 6, rejected)
	assert.Equal(t, 2, b.Active())
	orch.mu.Lock()
	assert.Len(t, orch.created, 2)
	orch.mu.Unlock()
}

func TestFailedTriggerReleasesMonitorSlot(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.createErr = errors.New("quota exceeded")
	b := newTestBuilder(t, orch, &fakeStatusStore{}, Options{MonitorLimit: 1})

	_, err := b.Trigger(context.Background(), request("fn1"))
	require.Error(t, err)
	assert.Zero(t, b.Active())
	assert.False(t, b.Monitoring("fn1"))

	orch.mu.Lock()
	orch.createErr = nil
	orch.mu.Unlock()
	_, err = b.Trigger(context.Background(), request("fn2"))
	assert.NoError(t, err)
}

func TestJanitorSkipsMonitoredBuilds(t *testing.T) {
	orch := newFakeOrchestrator()
	store := &fakeStatusStore{}
	b := newTestBuilder(t, orch, store, Options{})
	_, err := b.Trigger(context.Background(), request("live"))
	require.NoError(t, err)

	store.stale = []string{"live", "orphan"}
	j, err := NewJanitor(b, store, "", zerolog.Nop())
	require.NoError(t, err)

	failed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, failed)
	assert.Equal(t, statusWrite{"orphan", "failed", ReasonInterrupted}, store.last())
}

func TestJanitorLeavesFinishedBuilds(t *testing.T) {
	store := &fakeStatusStore{
		stale: []string{"done", "orphan"},
		moved: map[string]bool{"done": true},
	}
	b := newTestBuilder(t, newFakeOrchestrator(), store, Options{})
	j, err := NewJanitor(b, store, "", zerolog.Nop())
	require.NoError(t, err)

	failed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, failed)
	assert.Equal(t, []statusWrite{{"orphan", "failed", ReasonInterrupted}}, store.snapshot())
}

func TestJanitorRejectsBadSchedule(t *testing.T) {
	b := newTestBuilder(t, newFakeOrchestrator(), &fakeStatusStore{}, Options{})
	_, err := NewJanitor(b, &fakeStatusStore{}, "every tuesday", zerolog.Nop())
	assert.Error(t, err)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", Tail("abc", 10))
	assert.Equal(t, "bc", Tail("abc", 2))
	assert.Equal(t, "b", Tail("éb", 2))
}
