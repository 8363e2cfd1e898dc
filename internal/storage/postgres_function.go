package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

// withGraph preloads everything a function run needs, each relation in its stored order.
func withGraph(db *gorm.DB) *gorm.DB {
	byPosition := func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }
	return db.
		Preload("Triggers", func(tx *gorm.DB) *gorm.DB { return tx.Order("priority DESC") }).
		Preload("Triggers.Conditions", byPosition).
		Preload("Parameters", byPosition).
		Preload("Actions", byPosition).
		Preload("Behavior")
}

// FindActiveFunctionsByBot loads the active functions of a bot with their
// triggers, parameters, actions and behavior. Functions that fail structural
// validation are skipped.
func (r *PostgresRepo) FindActiveFunctionsByBot(ctx context.Context, botID string) ([]model.Function, error) {
	var functions []model.Function

	operation := func() error {
		result := withGraph(r.db.WithContext(ctx)).
			Where("bot_id = ? AND is_active = ?", botID, true).
			Order("created_at ASC").
			Find(&functions)
		return checkConstraintViolation(result.Error)
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "FindActiveFunctionsByBot", operation)
	observer.ObserveDbOperationDuration("select", "function", tenantLabel(ctx), time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to load functions", zap.String("bot_id", botID), zap.Error(err))
		return nil, err
	}

	valid := functions[:0]
	for _, fn := range functions {
		if err := fn.Validate(); err != nil {
			logger.FromContext(ctx).Warn("Skipping invalid function", zap.String("function_id", fn.ID), zap.Error(err))
			continue
		}
		valid = append(valid, fn)
	}
	return valid, nil
}

// FindFunctionByID loads one function with its full graph, active or not.
func (r *PostgresRepo) FindFunctionByID(ctx context.Context, id string) (*model.Function, error) {
	return r.findFunction(ctx, "FindFunctionByID", "id = ?", id)
}

// FindFunctionByWebhookKey resolves the function behind an inbound webhook key.
func (r *PostgresRepo) FindFunctionByWebhookKey(ctx context.Context, key string) (*model.Function, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty webhook key", apperrors.ErrNotFound)
	}
	return r.findFunction(ctx, "FindFunctionByWebhookKey", "webhook_key = ?", key)
}

func (r *PostgresRepo) findFunction(ctx context.Context, opName, query string, arg interface{}) (*model.Function, error) {
	var fn model.Function

	operation := func() error {
		return checkConstraintViolation(withGraph(r.db.WithContext(ctx)).Where(query, arg).First(&fn).Error)
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), opName, operation)
	observer.ObserveDbOperationDuration("select", "function", tenantLabel(ctx), time.Since(startTime), err)
	if err != nil {
		if !apperrors.IsNotFoundError(err) {
			logger.FromContext(ctx).Error("Failed to find function", zap.String("operation", opName), zap.Error(err))
		}
		return nil, err
	}
	if err := fn.Validate(); err != nil {
		return nil, err
	}
	return &fn, nil
}
