package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

// ExecutionExists reports whether the function already ran for the message.
func (r *PostgresRepo) ExecutionExists(ctx context.Context, functionID, messageID string) (bool, error) {
	var count int64

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Execution{}).
			Where("function_id = ? AND message_id = ?", functionID, messageID).
			Count(&count)
		return checkConstraintViolation(result.Error)
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "ExecutionExists", operation)
	observer.ObserveDbOperationDuration("count", "execution", tenantLabel(ctx), time.Since(startTime), err)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateExecution inserts a pending execution. A concurrent run for the same
// (function, message) pair surfaces as ErrDuplicate.
func (r *PostgresRepo) CreateExecution(ctx context.Context, exec *model.Execution) error {
	if exec.ID == "" || exec.FunctionID == "" || exec.MessageID == "" {
		return fmt.Errorf("%w: execution requires id, function_id and message_id", apperrors.ErrBadRequest)
	}
	exec.Status = model.ExecutionPending
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = utils.Now()
	}

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Create(exec).Error)
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "CreateExecution", operation)
	observer.ObserveDbOperationDuration("insert", "execution", tenantLabel(ctx), time.Since(startTime), err)
	if err != nil && !apperrors.IsDuplicateError(err) {
		logger.FromContext(ctx).Error("Failed to create execution",
			zap.String("function_id", exec.FunctionID),
			zap.String("message_id", exec.MessageID),
			zap.Error(err))
	}
	return err
}

// CompleteExecution moves a pending execution to its terminal status. It only
// ever succeeds once per execution: a second attempt returns ErrConflict.
func (r *PostgresRepo) CompleteExecution(ctx context.Context, exec *model.Execution) error {
	if !exec.IsTerminal() {
		return fmt.Errorf("%w: execution %s completed with status %q", apperrors.ErrBadRequest, exec.ID, exec.Status)
	}
	completedAt := utils.Now()

	var affected int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Execution{}).
			Where("id = ? AND status = ?", exec.ID, model.ExecutionPending).
			Updates(map[string]interface{}{
				"status":         exec.Status,
				"action_results": exec.ActionResults,
				"error_message":  exec.ErrorMessage,
				"completed_at":   completedAt,
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		affected = result.RowsAffected
		return nil
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "CompleteExecution", operation)
	observer.ObserveDbOperationDuration("update", "execution", tenantLabel(ctx), time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to complete execution", zap.String("execution_id", exec.ID), zap.Error(err))
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: execution %s is not pending", apperrors.ErrConflict, exec.ID)
	}
	exec.CompletedAt = &completedAt
	return nil
}
