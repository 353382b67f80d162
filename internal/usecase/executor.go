package usecase

import (
	"context"
	"log/slog"

	"govgate/internal/domain"
	"govgate/internal/logging"
)

// LogExecutor stands in for the downstream business action. It records the
// request and reports it as executed.
type LogExecutor struct {
	Logger *slog.Logger
}

func NewLogExecutor(logger *slog.Logger) *LogExecutor {
	return &LogExecutor{Logger: logging.OrDiscard(logger)}
}

func (e *LogExecutor) Execute(ctx context.Context, req domain.ExecutionRequest) (map[string]any, error) {
	logging.OrDiscard(e.Logger).InfoContext(ctx, "executing request",
		"reference", req.Reference,
		"type", req.Type,
		"subject_id", req.SubjectID,
		"escalation_id", req.EscalationID,
		"request_id", req.RequestID,
	)
	out := map[string]any{
		"status":    "executed",
		"reference": req.Reference,
	}
	if req.EscalationID != "" {
		out["escalation_id"] = req.EscalationID
	}
	return out, nil
}
