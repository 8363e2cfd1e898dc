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

// Columns owned by the schedule runner.
var scheduleStateColumns = []string{
	"last_run_at", "next_run_at", "error_count", "retry_count", "is_active", "last_error", "updated_at",
}

// FindDueSchedules returns active schedules whose next run is at or before now,
// plus those that have never been computed.
func (r *PostgresRepo) FindDueSchedules(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	var schedules []model.Schedule

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("is_active = ? AND (next_run_at IS NULL OR next_run_at <= ?)", true, now).
			Order("next_run_at ASC NULLS FIRST").
			Find(&schedules)
		return checkConstraintViolation(result.Error)
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "FindDueSchedules", operation)
	observer.ObserveDbOperationDuration("select", "schedule", tenantLabel(ctx), time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to load due schedules", zap.Error(err))
		return nil, err
	}
	return schedules, nil
}

// FindScheduleByID loads a single schedule.
func (r *PostgresRepo) FindScheduleByID(ctx context.Context, id string) (*model.Schedule, error) {
	var schedule model.Schedule

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Where("id = ?", id).First(&schedule).Error)
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "FindScheduleByID", operation)
	observer.ObserveDbOperationDuration("select", "schedule", tenantLabel(ctx), time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

// UpdateScheduleState persists the runner-owned columns of a schedule.
func (r *PostgresRepo) UpdateScheduleState(ctx context.Context, schedule *model.Schedule) error {
	if schedule.ID == "" {
		return fmt.Errorf("%w: schedule without id", apperrors.ErrBadRequest)
	}
	schedule.UpdatedAt = utils.Now()

	var affected int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(schedule).Select(scheduleStateColumns).Updates(schedule)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		affected = result.RowsAffected
		return nil
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "UpdateScheduleState", operation)
	observer.ObserveDbOperationDuration("update", "schedule", tenantLabel(ctx), time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to update schedule", zap.String("schedule_id", schedule.ID), zap.Error(err))
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: schedule %s", apperrors.ErrNotFound, schedule.ID)
	}
	return nil
}
