package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"service-sopm/internal/core/functions"
	"service-sopm/internal/core/sandbox"
)

// Store is the system of record for jobs and their paired executions.
// Transition methods are atomic single-row (or single-transaction) updates
// that fail with ErrInvalidTransition when the row is not in the expected status.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	// CreateUserFunctionJob inserts the job and its pending execution row together.
	CreateUserFunctionJob(ctx context.Context, job *Job, exec *functions.Execution) error
	GetJob(ctx context.Context, id uint64) (*Job, error)
	ListJobs(ctx context.Context, status Status, limit int) ([]Job, error)

	MarkRunning(ctx context.Context, id uint64) error
	MarkUserFunctionRunning(ctx context.Context, id uint64) error
	Finish(ctx context.Context, id uint64, out Outcome) error
	FinishUserFunction(ctx context.Context, id uint64, out Outcome) error
	// Abort drives a pending job to failed through running.
	Abort(ctx context.Context, id uint64, reason string) error

	JobStats(ctx context.Context) (*JobStats, error)
	CountReadyFunctions(ctx context.Context) (int64, error)
}

// Queue is a set of named durable FIFOs with a bounded blocking pop.
type Queue interface {
	Enqueue(ctx context.Context, topic string, msg *Message) error
	// Dequeue returns (nil, nil) when nothing arrived within timeout.
	Dequeue(ctx context.Context, topic string, timeout time.Duration) (*Message, error)
	// Requeue puts msg back at the head of topic so it is dequeued next.
	Requeue(ctx context.Context, topic string, msg *Message) error
	Depth(ctx context.Context, topic string) (int64, error)
}

// FunctionLookup resolves user function metadata.
type FunctionLookup interface {
	GetFunction(ctx context.Context, id string) (*functions.UserFunction, error)
}

// Builtins runs catalog functions by name.
type Builtins interface {
	Invoke(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error)
	Check(name string) error
}

// Sandbox runs one user function invocation in an isolated compute unit.
type Sandbox interface {
	Execute(ctx context.Context, fn sandbox.Function, inv sandbox.Invocation) *sandbox.Result
}
