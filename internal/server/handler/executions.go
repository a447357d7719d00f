package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/execution"
	"github.com/alanyoungcy/routeengine/internal/validation"
)

// ExecutionEngine starts and controls executions.
type ExecutionEngine interface {
	Start(ctx context.Context, req domain.ExecutionRequest) (*execution.Handle, error)
	Status(id string) (domain.ExecutionView, error)
	Result(id string) (domain.ExecutionResult, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string, opts execution.CancelOptions) (execution.CancelOutcome, error)
	Reroute(ctx context.Context, id string, req execution.RerouteRequest) ([]domain.Segment, error)
	ModifyTransaction(ctx context.Context, id string, index int, newAmount *float64) (domain.ModifyOutcome, error)
}

// ExecutionHistory reads executions evicted from memory.
type ExecutionHistory interface {
	History(ctx context.Context, id string) (domain.ExecutionResult, error)
	Recent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionResult, error)
}

// ExecutionHandler serves execution lifecycle endpoints.
type ExecutionHandler struct {
	engine  ExecutionEngine
	history ExecutionHistory
	logger  *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler. history may be nil.
func NewExecutionHandler(engine ExecutionEngine, history ExecutionHistory, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{engine: engine, history: history, logger: logHandler(logger, "executions")}
}

// StartExecution resolves a route and starts settling it. With ?wait=true
// the call blocks until the execution is terminal and returns its result.
// POST /api/executions
func (h *ExecutionHandler) StartExecution(w http.ResponseWriter, r *http.Request) {
	var body validation.ExecuteRequest
	if err := decodeJSON(r, &body, maxBodyBytes, false); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	req, err := validation.ValidateExecuteRequest(&body)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	handle, err := h.engine.Start(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		res, err := handle.Wait(r.Context())
		if err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	view, err := h.engine.Status(handle.ID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/executions/"+handle.ID)
	writeJSON(w, http.StatusAccepted, view)
}

// ListExecutions returns recently finished executions from history.
// GET /api/executions?limit=&offset=
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"executions": []domain.ExecutionResult{}, "count": 0})
		return
	}
	results, err := h.history.Recent(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if results == nil {
		results = []domain.ExecutionResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": results, "count": len(results)})
}

// GetExecution returns the live status view, or the archived result for an
// execution no longer held in memory.
// GET /api/executions/{id}
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, err := h.engine.Status(id)
	if err == nil {
		writeJSON(w, http.StatusOK, view)
		return
	}
	h.fromHistory(w, r, id, err)
}

// GetResult returns the final (or provisional) result.
// GET /api/executions/{id}/result
func (h *ExecutionHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := h.engine.Result(id)
	if err == nil {
		writeJSON(w, http.StatusOK, res)
		return
	}
	h.fromHistory(w, r, id, err)
}

func (h *ExecutionHandler) fromHistory(w http.ResponseWriter, r *http.Request, id string, err error) {
	if !errors.Is(err, domain.ErrExecutionNotFound) || h.history == nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	res, herr := h.history.History(r.Context(), id)
	if herr != nil {
		writeDomainError(w, r, h.logger, herr)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Pause stops an execution at the next segment boundary.
// POST /api/executions/{id}/pause
func (h *ExecutionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.engine.Pause)
}

// Resume continues a paused execution.
// POST /api/executions/{id}/resume
func (h *ExecutionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.engine.Resume)
}

func (h *ExecutionHandler) control(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	id := r.PathValue("id")
	if err := op(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	view, err := h.engine.Status(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Cancel stops an execution and optionally cancels or reverses its
// provider transactions. The body is optional.
// POST /api/executions/{id}/cancel
func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var body validation.CancelRequest
	if err := decodeJSON(r, &body, maxBodyBytes, true); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out, err := h.engine.Cancel(r.Context(), r.PathValue("id"), execution.CancelOptions{
		CancelPending: body.CancelPending,
		Rollback:      body.Rollback,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Reroute replaces the remaining route.
// POST /api/executions/{id}/reroute
func (h *ExecutionHandler) Reroute(w http.ResponseWriter, r *http.Request) {
	var body validation.RerouteRequest
	if err := decodeJSON(r, &body, maxBodyBytes, false); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	route, err := validation.ValidateRerouteRequest(&body)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	id := r.PathValue("id")
	installed, err := h.engine.Reroute(r.Context(), id, execution.RerouteRequest{
		FromCurrentPosition: body.FromCurrentPosition,
		Route:               route,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"execution_id": id,
		"new_route":    installed,
	})
}

// Modify amends the provider transaction of a settled segment.
// POST /api/executions/{id}/modify
func (h *ExecutionHandler) Modify(w http.ResponseWriter, r *http.Request) {
	var body validation.ModifyRequest
	if err := decodeJSON(r, &body, maxBodyBytes, false); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if err := validation.ValidateModifyRequest(&body); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out, err := h.engine.ModifyTransaction(r.Context(), r.PathValue("id"), *body.SegmentIndex, body.NewAmount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
