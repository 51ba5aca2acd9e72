package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	"service-sopm/internal/core/builder"
	"service-sopm/internal/core/builtin"
	"service-sopm/internal/core/functions"
	"service-sopm/internal/core/scheduler"
)

const maxBodyBytes = 1 << 20

// Scheduler is the job side of the API.
type Scheduler interface {
	SubmitBuiltin(ctx context.Context, name string, payload json.RawMessage) (*scheduler.Receipt, error)
	SubmitUserFunction(ctx context.Context, functionID string, payload json.RawMessage) (*scheduler.Receipt, error)
	Job(ctx context.Context, id uint64) (*scheduler.Job, error)
	Jobs(ctx context.Context, status scheduler.Status, limit int) ([]scheduler.Job, error)
	Stats(ctx context.Context) (*scheduler.Stats, error)
}

// Functions is the user function registry.
type Functions interface {
	Create(ctx context.Context, req functions.CreateRequest) (*functions.UserFunction, error)
	Get(ctx context.Context, id string) (*functions.UserFunction, error)
	List(ctx context.Context, userID string, status functions.Status) ([]functions.UserFunction, error)
	Delete(ctx context.Context, id string) error
	Executions(ctx context.Context, id string, limit int) ([]functions.Execution, error)
	Rebuild(ctx context.Context, id string) (*functions.UserFunction, error)
}

// Builder starts image builds directly.
type Builder interface {
	Trigger(ctx context.Context, req builder.Request) (*builder.Build, error)
}

// Catalog lists the built-in functions.
type Catalog interface {
	Names() []string
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Scheduler Scheduler
	Functions Functions
	Builder   Builder
	Catalog   Catalog

	// Checks are pinged by /health, keyed by the name reported back.
	Checks map[string]Pinger

	// AllowedOrigins defaults to any origin.
	AllowedOrigins []string
}

type Handler struct {
	deps Deps
	lg   zerolog.Logger
}

func NewHandler(deps Deps, lg zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	h := &Handler{deps: deps, lg: lg.With().Str("component", "http").Logger()}

	r.Get("/health", h.handleHealth)
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	r.Post("/submit", h.handleSubmit)
	r.Post("/submit-user-function", h.handleSubmitUserFunction)
	r.Get("/status/{jobID}", h.handleStatus)
	r.Get("/jobs", h.handleListJobs)
	r.Get("/stats", h.handleStats)
	r.Get("/builtins", h.handleListBuiltins)
	r.Post("/build", h.handleBuild)

	r.Route("/functions", func(r chi.Router) {
		r.Post("/", h.handleCreateFunction)
		r.Get("/", h.handleListFunctions)
		r.Get("/{functionID}", h.handleGetFunction)
		r.Delete("/{functionID}", h.handleDeleteFunction)
		r.Get("/{functionID}/executions", h.handleListExecutions)
		r.Post("/{functionID}/build", h.handleRebuildFunction)
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type notFoundResponse struct {
	Error              string   `json:"error"`
	AvailableFunctions []string `json:"available_functions"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// handleHealth pings every dependency.
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} healthResponse
// @Failure 500 {object} healthResponse
// @Router /health [get]
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.deps.Checks))
	for name, p := range h.deps.Checks {
		if err := p.Ping(r.Context()); err != nil {
			h.lg.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			writeJSON(w, http.StatusInternalServerError, healthResponse{
				Status: "unhealthy",
				Error:  name + ": " + err.Error(),
			})
			return
		}
		checks[name] = "connected"
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Checks: checks})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

// fail maps core errors onto status codes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		schedVal *scheduler.ValidationError
		fnVal    *functions.ValidationError
		notReady *scheduler.NotReadyError
		unknown  *builtin.NotFoundError
	)
	switch {
	case errors.As(err, &unknown):
		writeJSON(w, http.StatusNotFound, notFoundResponse{Error: unknown.Error(), AvailableFunctions: unknown.Known})
	case errors.As(err, &schedVal), errors.As(err, &fnVal), errors.As(err, &notReady):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, builder.ErrInvalidRequest), errors.Is(err, builder.ErrUnsupportedRuntime):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, functions.ErrNotFound):
		writeError(w, http.StatusNotFound, "Function not found")
	case errors.Is(err, builder.ErrTooManyBuilds):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		h.lg.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
