package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"service-sopm/internal/core/builder"
	"service-sopm/internal/core/functions"
)

type createFunctionResponse struct {
	FunctionID string           `json:"function_id"`
	Status     functions.Status `json:"status"`
	Message    string           `json:"message"`
}

type listFunctionsResponse struct {
	UserID    string                   `json:"user_id"`
	Count     int                      `json:"count"`
	Functions []functions.UserFunction `json:"functions"`
}

type listExecutionsResponse struct {
	FunctionID string                `json:"function_id"`
	Count      int                   `json:"count"`
	Executions []functions.Execution `json:"executions"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// handleCreateFunction registers a user function and starts its build.
// @Summary Create a user function
// @Tags functions
// @Accept json
// @Produce json
// @Param request body functions.CreateRequest true "Function definition"
// @Success 201 {object} createFunctionResponse
// @Failure 400 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Router /functions [post]
func (h *Handler) handleCreateFunction(w http.ResponseWriter, r *http.Request) {
	var req functions.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fn, err := h.deps.Functions.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createFunctionResponse{
		FunctionID: fn.ID,
		Status:     fn.Status,
		Message:    "Function submitted for building",
	})
}

// @Summary List a user's functions
// @Tags functions
// @Produce json
// @Param user_id query string true "Owner"
// @Param status query string false "Filter by build status" Enums(pending, building, ready, failed)
// @Success 200 {object} listFunctionsResponse
// @Failure 400 {object} errorResponse
// @Router /functions [get]
func (h *Handler) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	list, err := h.deps.Functions.List(r.Context(), userID, functions.Status(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []functions.UserFunction{}
	}
	writeJSON(w, http.StatusOK, listFunctionsResponse{UserID: userID, Count: len(list), Functions: list})
}

// @Summary Get a user function
// @Tags functions
// @Produce json
// @Param functionID path string true "Function ID"
// @Success 200 {object} functions.UserFunction
// @Failure 404 {object} errorResponse
// @Router /functions/{functionID} [get]
func (h *Handler) handleGetFunction(w http.ResponseWriter, r *http.Request) {
	fn, err := h.deps.Functions.Get(r.Context(), chi.URLParam(r, "functionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fn)
}

// @Summary Delete a user function
// @Tags functions
// @Produce json
// @Param functionID path string true "Function ID"
// @Success 200 {object} messageResponse
// @Failure 404 {object} errorResponse
// @Router /functions/{functionID} [delete]
func (h *Handler) handleDeleteFunction(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Functions.Delete(r.Context(), chi.URLParam(r, "functionID")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Function deleted successfully"})
}

// @Summary List executions of a function
// @Tags functions
// @Produce json
// @Param functionID path string true "Function ID"
// @Param limit query int false "Maximum executions returned" default(50)
// @Success 200 {object} listExecutionsResponse
// @Router /functions/{functionID}/executions [get]
func (h *Handler) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "functionID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	execs, err := h.deps.Functions.Executions(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if execs == nil {
		execs = []functions.Execution{}
	}
	writeJSON(w, http.StatusOK, listExecutionsResponse{FunctionID: id, Count: len(execs), Executions: execs})
}

// @Summary Rebuild a user function from its stored source
// @Tags functions
// @Produce json
// @Param functionID path string true "Function ID"
// @Success 202 {object} messageResponse
// @Failure 404 {object} errorResponse
// @Router /functions/{functionID}/build [post]
func (h *Handler) handleRebuildFunction(w http.ResponseWriter, r *http.Request) {
	fn, err := h.deps.Functions.Rebuild(r.Context(), chi.URLParam(r, "functionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "Rebuild requested for " + fn.ID})
}

// handleBuild starts a build from an explicit request, bypassing the registry.
// @Summary Start an image build
// @Tags builds
// @Accept json
// @Produce json
// @Param request body builder.Request true "Build request"
// @Success 202 {object} builder.Build
// @Failure 400 {object} errorResponse
// @Failure 429 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Router /build [post]
func (h *Handler) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req builder.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := h.deps.Builder.Trigger(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}
