package task

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler runs one kind of task against its raw payload.
type Handler func(ctx context.Context, payload json.RawMessage) Outcome

// Handlers is the fixed dispatch table from task kind to operation.
type Handlers map[Kind]Handler

// NewHandlers builds the dispatch table for the banking operations.
func NewHandlers(transfer *TransferFundsOperation, risk *CreateRiskAssessmentOperation) Handlers {
	return Handlers{
		KindTransferFunds:        transfer.Execute,
		KindCreateRiskAssessment: risk.Execute,
	}
}

// Dispatch runs the handler registered for kind.
func (h Handlers) Dispatch(ctx context.Context, kind Kind, payload json.RawMessage) Outcome {
	handler, ok := h[kind]
	if !ok {
		return Failure(ClassUnknownKind, fmt.Errorf("no handler for task kind %s", kind))
	}
	return handler(ctx, payload)
}
