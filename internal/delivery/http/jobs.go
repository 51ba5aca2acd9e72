package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"service-sopm/internal/core/scheduler"
)

type submitRequest struct {
	FunctionName string          `json:"function_name" example:"word_counter"`
	Payload      json.RawMessage `json:"payload" swaggertype:"object"`
}

type submitUserFunctionRequest struct {
	FunctionID string          `json:"function_id"`
	Payload    json.RawMessage `json:"payload" swaggertype:"object"`
}

type jobsResponse struct {
	Total int             `json:"total"`
	Jobs  []scheduler.Job `json:"jobs"`
}

type builtinsResponse struct {
	Count     int      `json:"count"`
	Functions []string `json:"functions"`
}

// handleSubmit queues a built-in function job.
// @Summary Submit a built-in function job
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body submitRequest true "Function name and payload"
// @Success 200 {object} scheduler.Receipt
// @Failure 400 {object} errorResponse
// @Failure 404 {object} notFoundResponse
// @Failure 500 {object} errorResponse
// @Router /submit [post]
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rcpt, err := h.deps.Scheduler.SubmitBuiltin(r.Context(), req.FunctionName, req.Payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

// handleSubmitUserFunction queues a job for a ready user function.
// @Summary Submit a user function job
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body submitUserFunctionRequest true "Function id and payload"
// @Success 200 {object} scheduler.Receipt
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Router /submit-user-function [post]
func (h *Handler) handleSubmitUserFunction(w http.ResponseWriter, r *http.Request) {
	var req submitUserFunctionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rcpt, err := h.deps.Scheduler.SubmitUserFunction(r.Context(), req.FunctionID, req.Payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

// @Summary Get job status
// @Tags jobs
// @Produce json
// @Param jobID path int true "Job ID"
// @Success 200 {object} scheduler.Job
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /status/{jobID} [get]
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := h.deps.Scheduler.Job(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// @Summary List recent jobs
// @Tags jobs
// @Produce json
// @Param status query string false "Filter by status" Enums(pending, running, completed, failed)
// @Param limit query int false "Maximum jobs returned" default(50)
// @Success 200 {object} jobsResponse
// @Failure 400 {object} errorResponse
// @Router /jobs [get]
func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	jobs, err := h.deps.Scheduler.Jobs(r.Context(), scheduler.Status(q.Get("status")), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []scheduler.Job{}
	}
	writeJSON(w, http.StatusOK, jobsResponse{Total: len(jobs), Jobs: jobs})
}

// @Summary Job and queue statistics
// @Tags jobs
// @Produce json
// @Success 200 {object} scheduler.Stats
// @Failure 500 {object} errorResponse
// @Router /stats [get]
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Scheduler.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// @Summary List built-in functions
// @Tags jobs
// @Produce json
// @Success 200 {object} builtinsResponse
// @Router /builtins [get]
func (h *Handler) handleListBuiltins(w http.ResponseWriter, _ *http.Request) {
	names := h.deps.Catalog.Names()
	writeJSON(w, http.StatusOK, builtinsResponse{Count: len(names), Functions: names})
}
