package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/bank-api/internal/api/shared"
	"github.com/phrazzld/bank-api/internal/platform/logger"
	"github.com/phrazzld/bank-api/internal/task"
	"github.com/shopspring/decimal"
)

// TaskService accepts task submissions and answers result queries.
// *task.TaskRunner implements it.
type TaskService interface {
	Submit(ctx context.Context, payload task.Payload) (uuid.UUID, error)
	ResultOf(ctx context.Context, id uuid.UUID) (task.Result, error)
}

// TaskHandler handles the task HTTP endpoints
type TaskHandler struct {
	tasks     TaskService
	validator *validator.Validate
	logger    *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(tasks TaskService, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &TaskHandler{
		tasks:     tasks,
		validator: validator.New(),
		logger:    logger.With("component", "task_handler"),
	}
}

// CreateTransfer handles POST /api/transfers requests
func (h *TaskHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid amount: must be a number", err)
		return
	}

	h.submit(w, r, task.TransferPayload{
		SourceAccountID: req.SourceAccountID,
		TargetAccountID: req.TargetAccountID,
		Amount:          amount,
	})
}

// CreateRiskAssessment handles POST /api/risk-assessments requests
func (h *TaskHandler) CreateRiskAssessment(w http.ResponseWriter, r *http.Request) {
	var req RiskAssessmentRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	h.submit(w, r, task.RiskAssessmentPayload{
		CustomerID: req.CustomerID,
		RiskScore:  *req.RiskScore,
	})
}

// GetTask handles GET /api/tasks/{id} requests
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	result, err := h.tasks.ResultOf(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(result))
}

// submit queues payload and answers 202 Accepted; the work runs in the background.
func (h *TaskHandler) submit(w http.ResponseWriter, r *http.Request, payload task.Payload) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, err := h.tasks.Submit(r.Context(), payload)
	if err != nil {
		log.Warn("failed to submit task",
			"task_kind", payload.Kind(),
			"error", err)
		HandleAPIError(w, r, err, "Failed to submit task")
		return
	}

	log.Info("task accepted",
		"task_id", id,
		"task_kind", payload.Kind())

	shared.RespondWithJSON(w, r, http.StatusAccepted, TaskAcceptedResponse{
		TaskID: id.String(),
		Status: string(task.StatusPending),
	})
}
