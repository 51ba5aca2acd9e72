package builder

import (
	"context"
	"errors"
	"time"

	"service-sopm/internal/core/task"
)

var (
	ErrInvalidRequest     = errors.New("function_id and code_reference are required")
	ErrUnsupportedRuntime = errors.New("unsupported runtime")
	// ErrTooManyBuilds is returned when the monitor cap is reached.
	ErrTooManyBuilds = errors.New("too many builds in progress")
)

// Spec is one build task as handed to the orchestrator.
type Spec struct {
	Name        string
	ContextName string
	FunctionID  string
	// Image is the tag the build publishes.
	Image string
	// SourceRef locates the stored source in the blob store.
	SourceRef  string
	SourceFile string
	Files      map[string]string
	TTL        time.Duration
}

// Orchestrator runs build tasks. DeleteBuild must succeed when nothing exists.
type Orchestrator interface {
	CreateBuild(ctx context.Context, spec Spec) error
	DeleteBuild(ctx context.Context, name, contextName string) error
	BuildStatus(ctx context.Context, name string) (*task.Status, error)
	// BuildLogs returns at most the last tailBytes of the image build's log.
	BuildLogs(ctx context.Context, name string, tailBytes int) (string, error)
}

// StatusStore owns the build-related columns of user functions.
type StatusStore interface {
	// MarkBuilding also clears any previous image or error.
	MarkBuilding(ctx context.Context, functionID string) error
	MarkReady(ctx context.Context, functionID, image string) error
	MarkFailed(ctx context.Context, functionID, reason string) error
	ListStaleBuilding(ctx context.Context, before time.Time) ([]string, error)
	// FailStaleBuild marks the function failed only if it is still building
	// and was last updated before the cutoff. It reports whether it did.
	FailStaleBuild(ctx context.Context, functionID, reason string, before time.Time) (bool, error)
}
