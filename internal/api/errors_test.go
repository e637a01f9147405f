package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/bank-api/internal/domain"
	"github.com/phrazzld/bank-api/internal/task"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	invalid := fmt.Errorf("%w: %w", task.ErrInvalidPayload,
		domain.NewValidationError("amount", "0", domain.ErrInvalidAmount))

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"task not found", fmt.Errorf("lookup: %w", task.ErrTaskNotFound), http.StatusNotFound},
		{"invalid payload", invalid, http.StatusBadRequest},
		{"path validation", domain.NewValidationError("id", "has invalid format", domain.ErrInvalidID), http.StatusBadRequest},
		{"queue closed", task.ErrQueueClosed, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, MapErrorToStatusCode(tc.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Task not found", GetSafeErrorMessage(task.ErrTaskNotFound))
	assert.Equal(t, "Invalid target_account_id: equals source", GetSafeErrorMessage(
		fmt.Errorf("%w: %w", task.ErrInvalidPayload,
			domain.NewValidationError("target_account_id", "equals source", domain.ErrSameAccount))))
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(errors.New("pq: secret detail")))
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
}

func TestSanitizeValidationError(t *testing.T) {
	t.Parallel()

	err := validator.New().Struct(TransferRequest{SourceAccountID: 1, TargetAccountID: 2})
	assert.Equal(t, "Invalid Amount: required field", SanitizeValidationError(err))
	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("other")))
}
