// Package usecase runs matched functions and feeds them from the inbound
// message stream.
package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/trigger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

// FunctionRunner executes a function for an event. Implemented by Executor;
// the schedule runner and webhook ingress depend on it too.
type FunctionRunner interface {
	Execute(ctx context.Context, fn *model.Function, ev *model.Event) (*RunResult, error)
}

// TriggerMatcher picks the trigger that fires a function for an event.
type TriggerMatcher interface {
	FirstMatch(ctx context.Context, fn *model.Function, ev *model.Event) (*model.Trigger, trigger.MatchDetail, bool)
}

var (
	_ FunctionRunner = (*Executor)(nil)
	_ TriggerMatcher = (*trigger.Evaluator)(nil)
)

// handleRepositoryError maps standard apperrors from the repository layer
// to FatalError or RetryableError for the consumer.
func handleRepositoryError(ctx context.Context, err error, operation string, messageID string) error {
	if err == nil {
		return nil
	}

	log := logger.FromContext(ctx)

	logFields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}
	if messageID != "" {
		logFields = append(logFields, zap.String("message_id", messageID))
	}

	if errors.Is(err, apperrors.ErrNotFound) {
		log.Warn("Repository operation failed: Not found", logFields...)
		return apperrors.NewFatal(err, "%s failed: resource not found", operation)
	}
	if errors.Is(err, apperrors.ErrDuplicate) {
		log.Warn("Repository operation failed: Duplicate resource", logFields...)
		return apperrors.NewFatal(err, "%s failed: duplicate resource", operation)
	}
	if errors.Is(err, apperrors.ErrBadRequest) {
		log.Warn("Repository operation failed: Bad request", logFields...)
		return apperrors.NewFatal(err, "%s failed: bad request data", operation)
	}
	if errors.Is(err, apperrors.ErrConflict) {
		log.Warn("Repository operation failed: Conflict", logFields...)
		return apperrors.NewFatal(err, "%s failed: resource conflict", operation)
	}

	if errors.Is(err, apperrors.ErrDatabase) {
		log.Error("Repository operation failed: Database error", logFields...)
		return apperrors.NewRetryable(err, "%s failed: database error", operation)
	}
	if errors.Is(err, apperrors.ErrTimeout) {
		log.Warn("Repository operation failed: Timeout", logFields...)
		return apperrors.NewRetryable(err, "%s failed: operation timeout", operation)
	}
	if errors.Is(err, apperrors.ErrNATS) {
		log.Error("Repository operation failed: NATS error", logFields...)
		return apperrors.NewRetryable(err, "%s failed: NATS communication error", operation)
	}

	log.Error("Repository operation failed: Unexpected error", logFields...)
	return apperrors.NewFatal(err, "%s failed: unexpected repository error", operation)
}
