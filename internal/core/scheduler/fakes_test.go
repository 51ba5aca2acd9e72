package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"

	"service-sopm/internal/core/functions"
	"service-sopm/internal/core/sandbox"
)

var errStoreDown = errors.New("connection refused")

// memStore is an in-memory Store with the same transition rules as the
// database adapter.
type memStore struct {
	mu     sync.Mutex
	nextID uint64
	jobs   map[uint64]*Job
	execs  map[uint64]*functions.Execution
	ready  int64

	// markErr fails every running transition; finishFailures fails that
	// many outcome writes before they start to succeed.
	markErr        error
	markCalls      int
	finishFailures int
	finishCalls    int
}

func (s *memStore) markRunningCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markCalls
}

func (s *memStore) setMarkErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markErr = err
}

// failFinish reports whether this outcome write should fail. Caller holds mu.
func (s *memStore) failFinish() bool {
	s.finishCalls++
	if s.finishFailures > 0 {
		s.finishFailures--
		return true
	}
	return false
}

func newMemStore() *memStore {
	return &memStore{jobs: map[uint64]*Job{}, execs: map[uint64]*functions.Execution{}}
}

func (s *memStore) CreateJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	job.ID = s.nextID
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) CreateUserFunctionJob(ctx context.Context, job *Job, exec *functions.Execution) error {
	if err := s.CreateJob(ctx, job); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exec.JobID = job.ID
	cp := *exec
	s.execs[job.ID] = &cp
	return nil
}

func (s *memStore) GetJob(_ context.Context, id uint64) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) execution(jobID uint64) *functions.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[jobID]
	if !ok {
		return nil
	}
	cp := *exec
	return &cp
}

func (s *memStore) ListJobs(_ context.Context, status Status, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, job := range s.jobs {
		if status == "" || job.Status == status {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) transition(id uint64, from, to Status) (*Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Status != from {
		return nil, fmt.Errorf("%w: job %d is %s", ErrInvalidTransition, id, job.Status)
	}
	job.Status = to
	return job, nil
}

func (s *memStore) MarkRunning(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	if s.markErr != nil {
		return s.markErr
	}
	_, err := s.transition(id, StatusPending, StatusRunning)
	return err
}

func (s *memStore) MarkUserFunctionRunning(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	if s.markErr != nil {
		return s.markErr
	}
	if _, ok := s.execs[id]; !ok && s.jobs[id] != nil {
		return errors.New("no execution row")
	}
	if _, err := s.transition(id, StatusPending, StatusRunning); err != nil {
		return err
	}
	s.execs[id].Status = functions.ExecutionRunning
	return nil
}

func (s *memStore) finish(id uint64, out Outcome) (*Job, error) {
	job, err := s.transition(id, StatusRunning, out.Status)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	job.Result = datatypes.JSON(out.Result)
	job.CompletedAt = &now
	if out.Status == StatusCompleted {
		ms := out.ExecutionTimeMs
		job.ExecutionTimeMs = &ms
	}
	return job, nil
}

func (s *memStore) Finish(_ context.Context, id uint64, out Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFinish() {
		return errStoreDown
	}
	_, err := s.finish(id, out)
	return err
}

func (s *memStore) FinishUserFunction(_ context.Context, id uint64, out Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFinish() {
		return errStoreDown
	}
	job, err := s.finish(id, out)
	if err != nil {
		return err
	}
	exec := s.execs[id]
	exec.Status = functions.ExecutionStatus(out.Status)
	exec.OutputData = out.Output
	exec.ErrorMessage = out.Error
	exec.ExecutionTimeMs = job.ExecutionTimeMs
	exec.CompletedAt = job.CompletedAt
	return nil
}

func (s *memStore) Abort(_ context.Context, id uint64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.transition(id, StatusPending, StatusRunning); err != nil {
		return err
	}
	job, err := s.finish(id, Failed(reason, nil))
	if err != nil {
		return err
	}
	if exec, ok := s.execs[id]; ok {
		exec.Status = functions.ExecutionFailed
		exec.ErrorMessage = reason
		exec.CompletedAt = job.CompletedAt
	}
	return nil
}

func (s *memStore) JobStats(context.Context) (*JobStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &JobStats{StatusCounts: map[Status]int64{}}
	var total float64
	var n int
	for _, job := range s.jobs {
		st.StatusCounts[job.Status]++
		if job.Status == StatusCompleted && job.ExecutionTimeMs != nil {
			total += *job.ExecutionTimeMs
			n++
		}
	}
	if n > 0 {
		st.AverageExecutionTimeMs = total / float64(n)
	}
	return st, nil
}

func (s *memStore) CountReadyFunctions(context.Context) (int64, error) { return s.ready, nil }

// memQueue is an in-memory Queue. An empty Dequeue waits a millisecond.
type memQueue struct {
	mu         sync.Mutex
	topics     map[string][]*Message
	enqueueErr error
	dequeueErr error
}

func newMemQueue() *memQueue { return &memQueue{topics: map[string][]*Message{}} }

func (q *memQueue) Enqueue(_ context.Context, topic string, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.topics[topic] = append(q.topics[topic], msg)
	return nil
}

func (q *memQueue) Dequeue(_ context.Context, topic string, _ time.Duration) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dequeueErr != nil {
		return nil, q.dequeueErr
	}
	msgs := q.topics[topic]
	if len(msgs) == 0 {
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	q.topics[topic] = msgs[1:]
	return msgs[0], nil
}

func (q *memQueue) Requeue(_ context.Context, topic string, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.topics[topic] = append([]*Message{msg}, q.topics[topic]...)
	return nil
}

func (q *memQueue) Depth(_ context.Context, topic string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.topics[topic])), nil
}

type memFunctions map[string]*functions.UserFunction

func (m memFunctions) GetFunction(_ context.Context, id string) (*functions.UserFunction, error) {
	fn, ok := m[id]
	if !ok {
		return nil, functions.ErrNotFound
	}
	return fn, nil
}

type fakeSandbox struct {
	result *sandbox.Result
	calls  []sandbox.Invocation
	fns    []sandbox.Function
}

func (f *fakeSandbox) Execute(_ context.Context, fn sandbox.Function, inv sandbox.Invocation) *sandbox.Result {
	f.calls = append(f.calls, inv)
	f.fns = append(f.fns, fn)
	return f.result
}
