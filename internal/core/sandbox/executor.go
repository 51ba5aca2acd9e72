// Package sandbox runs user functions as isolated, resource- and time-bounded
// orchestrator tasks: one task per invocation, polled to a terminal phase.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"service-sopm/internal/core/task"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultGrace          = 10 * time.Second
	defaultCPULimit       = 500
	defaultCPURequest     = 100
	defaultMemoryLimitMB  = 128
	defaultTimeoutSeconds = 30

	outputReadTimeout = 30 * time.Second
	taskTTL           = 60 * time.Second

	// ReasonTimeout is reported when the poll budget runs out.
	ReasonTimeout = "Execution timeout"
	// ReasonFailed is reported when the orchestrator gives no better reason.
	ReasonFailed = "Execution failed"
)

// Function is the part of a user function the executor needs.
type Function struct {
	ID             string
	Image          string
	MemoryLimitMB  int
	TimeoutSeconds int
}

// Invocation is one call of a function.
type Invocation struct {
	JobID       uint64
	// ExecutionID is generated when empty.
	ExecutionID string
	Payload     json.RawMessage
}

// EnvVar is an environment variable injected into the task.
type EnvVar struct {
	Name  string
	Value string
}

// TaskSpec describes the compute unit to create for one invocation.
type TaskSpec struct {
	Name   string
	Image  string
	Env    []EnvVar
	Labels map[string]string

	MemoryLimitMB        int
	MemoryRequestMB      int
	CPULimitMillicores   int
	CPURequestMillicores int
	EphemeralLimit       string
	EphemeralRequest     string

	// ActiveDeadline is enforced by the orchestrator itself.
	ActiveDeadline   time.Duration
	TTLAfterFinished time.Duration
	RunAsUser        int64
}

// Runner is the orchestrator side of sandboxed execution.
type Runner interface {
	CreateTask(ctx context.Context, spec TaskSpec) error
	TaskStatus(ctx context.Context, name string) (*task.Status, error)
	TaskOutput(ctx context.Context, name string) (string, error)
}

// Options tune polling and default limits. Zero values pick the defaults.
type Options struct {
	PollInterval       time.Duration
	Grace              time.Duration
	CPULimitMillicores int
}

// Result is the terminal outcome of one invocation. Orchestrator errors are
// folded into a failed result and never returned.
type Result struct {
	ExecutionID string
	TaskName    string
	Succeeded   bool
	TimedOut    bool
	Output      string
	Error       string
	Duration    time.Duration
}

type Executor struct {
	runner Runner
	opts   Options
	lg     zerolog.Logger
}

func NewExecutor(runner Runner, opts Options, lg zerolog.Logger) *Executor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Grace <= 0 {
		opts.Grace = defaultGrace
	}
	if opts.CPULimitMillicores <= 0 {
		opts.CPULimitMillicores = defaultCPULimit
	}
	return &Executor{
		runner: runner,
		opts:   opts,
		lg:     lg.With().Str("component", "sandbox-executor").Logger(),
	}
}

// TaskName derives the orchestrator task name from an execution id.
func TaskName(executionID string) string {
	id := executionID
	if len(id) > 8 {
		id = id[:8]
	}
	return "exec-" + id
}

// Execute creates one task for the invocation and polls it until it
// succeeds, fails, or the budget of timeout_seconds plus grace runs out.
func (e *Executor) Execute(ctx context.Context, fn Function, inv Invocation) *Result {
	start := time.Now()
	execID := inv.ExecutionID
	if execID == "" {
		execID = uuid.NewString()
	}
	res := &Result{ExecutionID: execID, TaskName: TaskName(execID)}
	lg := e.lg.With().
		Str("function_id", fn.ID).
		Str("execution_id", execID).
		Str("task", res.TaskName).
		Uint64("job_id", inv.JobID).
		Logger()

	finish := func(err string) *Result {
		res.Error = err
		res.Succeeded = err == ""
		res.Duration = time.Since(start)
		return res
	}

	if fn.Image == "" {
		return finish("function has no image")
	}

	spec := e.taskSpec(fn, inv, execID, res.TaskName)
	if err := e.runner.CreateTask(ctx, spec); err != nil {
		lg.Error().Err(err).Msg("failed to create execution task")
		return finish(fmt.Sprintf("create execution task: %v", err))
	}
	lg.Info().Dur("deadline", spec.ActiveDeadline).Msg("execution task created")

	budget := spec.ActiveDeadline + e.opts.Grace
	pollCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		st, err := e.runner.TaskStatus(pollCtx, res.TaskName)
		if err != nil {
			if budgetSpent(ctx, pollCtx) {
				res.TimedOut = true
				lg.Error().Dur("budget", budget).Msg("execution timed out")
				return finish(ReasonTimeout)
			}
			lg.Error().Err(err).Msg("failed to read execution status")
			return finish(fmt.Sprintf("read execution status: %v", err))
		}

		switch st.Phase {
		case task.PhaseSucceeded:
			outCtx, outCancel := context.WithTimeout(context.WithoutCancel(ctx), outputReadTimeout)
			out, err := e.runner.TaskOutput(outCtx, res.TaskName)
			outCancel()
			if err != nil {
				lg.Error().Err(err).Msg("failed to read execution output")
				return finish(fmt.Sprintf("read execution output: %v", err))
			}
			res.Output = out
			lg.Info().Msg("execution succeeded")
			return finish("")
		case task.PhaseFailed:
			reason := st.Reason
			if reason == "" {
				reason = ReasonFailed
			}
			lg.Warn().Str("reason", reason).Msg("execution failed")
			return finish(reason)
		}

		select {
		case <-pollCtx.Done():
			if budgetSpent(ctx, pollCtx) {
				res.TimedOut = true
				lg.Error().Dur("budget", budget).Msg("execution timed out")
				return finish(ReasonTimeout)
			}
			return finish(fmt.Sprintf("execution aborted: %v", ctx.Err()))
		case <-ticker.C:
		}
	}
}

func budgetSpent(parent, poll context.Context) bool {
	return parent.Err() == nil && errors.Is(poll.Err(), context.DeadlineExceeded)
}

func (e *Executor) taskSpec(fn Function, inv Invocation, execID, name string) TaskSpec {
	memory := fn.MemoryLimitMB
	if memory <= 0 {
		memory = defaultMemoryLimitMB
	}
	timeout := fn.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}
	payload := string(inv.Payload)
	if payload == "" {
		payload = "{}"
	}
	return TaskSpec{
		Name:  name,
		Image: fn.Image,
		Env: []EnvVar{
			{Name: "INPUT_DATA", Value: payload},
			{Name: "EXECUTION_ID", Value: execID},
			{Name: "FUNCTION_ID", Value: fn.ID},
		},
		Labels: map[string]string{
			"type":         "user-function",
			"function-id":  fn.ID,
			"execution-id": execID,
			"job-id":       strconv.FormatUint(inv.JobID, 10),
		},
		MemoryLimitMB:        memory,
		MemoryRequestMB:      memory / 2,
		CPULimitMillicores:   e.opts.CPULimitMillicores,
		CPURequestMillicores: defaultCPURequest,
		EphemeralLimit:       "1Gi",
		EphemeralRequest:     "512Mi",
		ActiveDeadline:       time.Duration(timeout) * time.Second,
		TTLAfterFinished:     taskTTL,
		RunAsUser:            1000,
	}
}
