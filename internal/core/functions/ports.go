package functions

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store when no function has the given id.
var ErrNotFound = errors.New("function not found")

// Store persists user functions and reads their execution history.
type Store interface {
	CreateFunction(ctx context.Context, fn *UserFunction) error
	GetFunction(ctx context.Context, id string) (*UserFunction, error)
	ListFunctions(ctx context.Context, userID string, status Status) ([]UserFunction, error)
	DeleteFunction(ctx context.Context, id string) error
	ListExecutions(ctx context.Context, functionID string, limit int) ([]Execution, error)
}

// BlobStore keeps submitted source code.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

// BuildRequest asks the builder to turn stored source into an image.
type BuildRequest struct {
	FunctionID    string  `json:"function_id"`
	Runtime       Runtime `json:"runtime"`
	CodeReference string  `json:"code_reference"`
	Dependencies  string  `json:"dependencies"`
}

// BuildRequester delivers build requests to the builder, in process or over a broker.
type BuildRequester interface {
	RequestBuild(ctx context.Context, req BuildRequest) error
}

// BuildRequesterFunc adapts a plain function to BuildRequester.
type BuildRequesterFunc func(ctx context.Context, req BuildRequest) error

func (f BuildRequesterFunc) RequestBuild(ctx context.Context, req BuildRequest) error {
	return f(ctx, req)
}
