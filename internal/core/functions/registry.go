package functions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultRuntime        = RuntimePython311
	defaultMemoryLimitMB  = 128
	defaultTimeoutSeconds = 30
	defaultExecutionLimit = 50

	buildRequestTimeout = 30 * time.Second
)

// CreateRequest is a new function submission.
type CreateRequest struct {
	UserID         string  `json:"user_id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Runtime        Runtime `json:"runtime"`
	Code           string  `json:"code"`
	Dependencies   string  `json:"dependencies"`
	MemoryLimitMB  int     `json:"memory_limit_mb"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// Registry owns the catalog of user functions and hands accepted submissions
// to the builder.
type Registry struct {
	store  Store
	blobs  BlobStore
	builds BuildRequester
	lg     zerolog.Logger

	inflight sync.WaitGroup
}

func NewRegistry(store Store, blobs BlobStore, builds BuildRequester, lg zerolog.Logger) *Registry {
	return &Registry{
		store:  store,
		blobs:  blobs,
		builds: builds,
		lg:     lg.With().Str("component", "function-registry").Logger(),
	}
}

// SourceKey is the blob key a function's source is stored under.
func SourceKey(functionID string, rt Runtime) string {
	return fmt.Sprintf("functions/%s/code%s", functionID, rt.Extension())
}

// Create validates and persists a submission, then requests its build in the
// background. Validation failures leave no state behind.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*UserFunction, error) {
	req = withDefaults(req)
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	funcID := uuid.NewString()
	ref, err := r.blobs.Put(ctx, SourceKey(funcID, req.Runtime), []byte(req.Code))
	if err != nil {
		return nil, fmt.Errorf("store function source: %w", err)
	}

	now := time.Now().UTC()
	fn := &UserFunction{
		ID:             funcID,
		UserID:         req.UserID,
		Name:           req.Name,
		Description:    req.Description,
		Runtime:        req.Runtime,
		CodeReference:  ref,
		Dependencies:   req.Dependencies,
		MemoryLimitMB:  req.MemoryLimitMB,
		TimeoutSeconds: req.TimeoutSeconds,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.CreateFunction(ctx, fn); err != nil {
		if derr := r.blobs.Delete(ctx, ref); derr != nil {
			r.lg.Warn().Err(derr).Str("function_id", funcID).Msg("failed to remove orphaned source")
		}
		return nil, fmt.Errorf("db create function record: %w", err)
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), buildRequestTimeout)
		defer cancel()
		if err := r.builds.RequestBuild(ctx, buildRequestFor(fn)); err != nil {
			r.lg.Error().Err(err).Str("function_id", fn.ID).Msg("build trigger failed")
		}
	}()

	r.lg.Info().
		Str("function_id", fn.ID).
		Str("name", fn.Name).
		Str("user_id", fn.UserID).
		Msg("function created")
	return fn, nil
}

// Wait blocks until background build requests issued by Create have returned.
func (r *Registry) Wait() {
	r.inflight.Wait()
}

func (r *Registry) Get(ctx context.Context, id string) (*UserFunction, error) {
	return r.store.GetFunction(ctx, id)
}

func (r *Registry) List(ctx context.Context, userID string, status Status) ([]UserFunction, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "user_id required"}
	}
	return r.store.ListFunctions(ctx, userID, status)
}

// Delete removes the function record and, best effort, its stored source.
func (r *Registry) Delete(ctx context.Context, id string) error {
	fn, err := r.store.GetFunction(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.DeleteFunction(ctx, id); err != nil {
		return fmt.Errorf("delete function record: %w", err)
	}
	if err := r.blobs.Delete(ctx, fn.CodeReference); err != nil {
		r.lg.Warn().Err(err).Str("function_id", id).Msg("failed to delete function source, proceeding")
	}
	r.lg.Info().Str("function_id", id).Msg("function removed successfully")
	return nil
}

// Executions returns the newest executions of a function.
func (r *Registry) Executions(ctx context.Context, id string, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = defaultExecutionLimit
	}
	return r.store.ListExecutions(ctx, id, limit)
}

// Rebuild requests a fresh build of an existing function from its stored source.
func (r *Registry) Rebuild(ctx context.Context, id string) (*UserFunction, error) {
	fn, err := r.store.GetFunction(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.builds.RequestBuild(ctx, buildRequestFor(fn)); err != nil {
		return nil, fmt.Errorf("request build: %w", err)
	}
	return fn, nil
}

func buildRequestFor(fn *UserFunction) BuildRequest {
	return BuildRequest{
		FunctionID:    fn.ID,
		Runtime:       fn.Runtime,
		CodeReference: fn.CodeReference,
		Dependencies:  fn.Dependencies,
	}
}

func withDefaults(req CreateRequest) CreateRequest {
	if req.Runtime == "" {
		req.Runtime = defaultRuntime
	}
	if req.MemoryLimitMB == 0 {
		req.MemoryLimitMB = defaultMemoryLimitMB
	}
	if req.TimeoutSeconds == 0 {
		req.TimeoutSeconds = defaultTimeoutSeconds
	}
	return req
}
