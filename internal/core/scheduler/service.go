package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"service-sopm/internal/core/functions"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Receipt acknowledges an accepted submission.
type Receipt struct {
	JobID        uint64 `json:"job_id"`
	Status       string `json:"status"`
	FunctionID   string `json:"function_id,omitempty"`
	FunctionName string `json:"function_name"`
}

// Service is the submission and query side of the scheduler.
type Service struct {
	store     Store
	queue     Queue
	functions FunctionLookup
	builtins  Builtins
	lg        zerolog.Logger
}

func NewService(store Store, queue Queue, fns FunctionLookup, builtins Builtins, lg zerolog.Logger) *Service {
	return &Service{
		store:     store,
		queue:     queue,
		functions: fns,
		builtins:  builtins,
		lg:        lg.With().Str("component", "scheduler").Logger(),
	}
}

// SubmitBuiltin records a pending job for a catalog function and queues it.
func (s *Service) SubmitBuiltin(ctx context.Context, name string, payload json.RawMessage) (*Receipt, error) {
	if name == "" {
		return nil, &ValidationError{Reason: "function_name is required"}
	}
	payload, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}
	if err := s.builtins.Check(name); err != nil {
		return nil, err
	}

	job := &Job{
		FunctionName: name,
		Payload:      datatypes.JSON(payload),
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("db create job: %w", err)
	}

	msg := &Message{JobID: job.ID, Kind: KindBuiltin, FunctionName: name, Payload: payload}
	if err := s.enqueue(ctx, TopicBuiltin, msg); err != nil {
		return nil, err
	}

	s.lg.Info().Uint64("job_id", job.ID).Str("function_name", name).Msg("job submitted")
	return &Receipt{JobID: job.ID, Status: "queued", FunctionName: name}, nil
}

// SubmitUserFunction queues a job for a user function. The function must be
// ready; otherwise nothing is written.
func (s *Service) SubmitUserFunction(ctx context.Context, functionID string, payload json.RawMessage) (*Receipt, error) {
	if functionID == "" {
		return nil, &ValidationError{Reason: "function_id is required"}
	}
	payload, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}

	fn, err := s.functions.GetFunction(ctx, functionID)
	if err != nil {
		return nil, fmt.Errorf("lookup function %s: %w", functionID, err)
	}
	if fn.Status != functions.StatusReady || fn.ImageURL == "" {
		return nil, &NotReadyError{FunctionID: fn.ID, Status: fn.Status}
	}

	now := time.Now().UTC()
	job := &Job{
		FunctionName: UserFunctionJobName(fn.ID),
		Payload:      datatypes.JSON(payload),
		Status:       StatusPending,
		CreatedAt:    now,
	}
	exec := &functions.Execution{
		ID:         uuid.NewString(),
		FunctionID: fn.ID,
		Status:     functions.ExecutionPending,
		InputData:  datatypes.JSON(payload),
		CreatedAt:  now,
	}
	if err := s.store.CreateUserFunctionJob(ctx, job, exec); err != nil {
		return nil, fmt.Errorf("db create user function job: %w", err)
	}

	msg := &Message{
		JobID:       job.ID,
		Kind:        KindUserFunction,
		FunctionID:  fn.ID,
		ExecutionID: exec.ID,
		Function: &FunctionSnapshot{
			ID:             fn.ID,
			Name:           fn.Name,
			ImageURL:       fn.ImageURL,
			MemoryLimitMB:  fn.MemoryLimitMB,
			TimeoutSeconds: fn.TimeoutSeconds,
		},
		Payload: payload,
	}
	if err := s.enqueue(ctx, TopicUserFunction, msg); err != nil {
		return nil, err
	}

	s.lg.Info().Uint64("job_id", job.ID).Str("function_id", fn.ID).Msg("user function job submitted")
	return &Receipt{JobID: job.ID, Status: "queued", FunctionID: fn.ID, FunctionName: fn.Name}, nil
}

// enqueue pushes msg and, if the queue refuses it, fails the already
// recorded job so it is not left pending forever.
func (s *Service) enqueue(ctx context.Context, topic string, msg *Message) error {
	err := s.queue.Enqueue(ctx, topic, msg)
	if err == nil {
		return nil
	}
	if aerr := s.store.Abort(context.WithoutCancel(ctx), msg.JobID, "enqueue failed: "+err.Error()); aerr != nil {
		s.lg.Error().Err(aerr).Uint64("job_id", msg.JobID).Msg("failed to abort unqueued job")
	}
	return fmt.Errorf("enqueue job %d on %s: %w", msg.JobID, topic, err)
}

func (s *Service) Job(ctx context.Context, id uint64) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

// Jobs lists jobs newest first, optionally filtered by status.
func (s *Service) Jobs(ctx context.Context, status Status, limit int) ([]Job, error) {
	if status != "" && !status.Valid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown status %q", status)}
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return s.store.ListJobs(ctx, status, limit)
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	js, err := s.store.JobStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	builtinDepth, err := s.queue.Depth(ctx, TopicBuiltin)
	if err != nil {
		return nil, fmt.Errorf("queue depth %s: %w", TopicBuiltin, err)
	}
	userDepth, err := s.queue.Depth(ctx, TopicUserFunction)
	if err != nil {
		return nil, fmt.Errorf("queue depth %s: %w", TopicUserFunction, err)
	}
	ready, err := s.store.CountReadyFunctions(ctx)
	if err != nil {
		return nil, fmt.Errorf("count ready functions: %w", err)
	}
	return &Stats{
		StatusCounts:           js.StatusCounts,
		AverageExecutionTimeMs: math.Round(js.AverageExecutionTimeMs*100) / 100,
		BuiltinQueueSize:       builtinDepth,
		UserFunctionQueueSize:  userDepth,
		UserFunctionsReady:     ready,
	}, nil
}

func normalizePayload(payload json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, &ValidationError{Reason: "payload must be a JSON object"}
	}
	return json.RawMessage(trimmed), nil
}
