package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

// FindConversationByID loads a conversation without its messages.
func (r *PostgresRepo) FindConversationByID(ctx context.Context, id string) (*model.Conversation, error) {
	return r.findConversation(ctx, "FindConversationByID", "id = ?", id)
}

func (r *PostgresRepo) findConversation(ctx context.Context, opName, query string, arg interface{}) (*model.Conversation, error) {
	var conv model.Conversation

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Where(query, arg).First(&conv).Error)
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), opName, operation)
	observer.ObserveDbOperationDuration("select", "conversation", tenantLabel(ctx), time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// EnsureConversation returns the stored conversation matching conv's external
// key (or id when it has none), creating it from conv when absent.
func (r *PostgresRepo) EnsureConversation(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	if companyID := tenantLabel(ctx); companyID != "" && conv.CompanyID != "" && companyID != conv.CompanyID {
		return nil, fmt.Errorf("%w: conversation CompanyID %s does not match tenant ID %s", apperrors.ErrBadRequest, conv.CompanyID, companyID)
	}

	find := func() (*model.Conversation, error) {
		if conv.ExternalKey != nil && *conv.ExternalKey != "" {
			return r.findConversation(ctx, "EnsureConversation", "external_key = ?", *conv.ExternalKey)
		}
		return r.findConversation(ctx, "EnsureConversation", "id = ?", conv.ID)
	}

	existing, err := find()
	if err == nil {
		return existing, nil
	}
	if !apperrors.IsNotFoundError(err) {
		return nil, err
	}

	if conv.AccumulatedParams == nil {
		conv.AccumulatedParams = model.AccumulatedParams{}
	}
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Create(&conv).Error)
	}

	startTime := utils.Now()
	err = retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "EnsureConversation Create", operation)
	observer.ObserveDbOperationDuration("insert", "conversation", tenantLabel(ctx), time.Since(startTime), err)
	if apperrors.IsDuplicateError(err) {
		// Lost a creation race; the winner's row is what we want.
		return find()
	}
	if err != nil {
		logger.FromContext(ctx).Error("Failed to create conversation", zap.String("conversation_id", conv.ID), zap.Error(err))
		return nil, err
	}
	return &conv, nil
}

// SaveAccumulatedParams overwrites the stored partial parameters of a conversation.
func (r *PostgresRepo) SaveAccumulatedParams(ctx context.Context, conversationID string, params model.AccumulatedParams) error {
	return r.updateConversation(ctx, "SaveAccumulatedParams", conversationID, map[string]interface{}{
		"accumulated_params": params,
	})
}

// SetConversationPaused pauses or resumes the bot on a conversation.
func (r *PostgresRepo) SetConversationPaused(ctx context.Context, conversationID string, paused bool) error {
	return r.updateConversation(ctx, "SetConversationPaused", conversationID, map[string]interface{}{
		"is_paused": paused,
	})
}

// AppendConversationContext adds a line to the conversation's prompt context.
func (r *PostgresRepo) AppendConversationContext(ctx context.Context, conversationID, text string) error {
	return r.updateConversation(ctx, "AppendConversationContext", conversationID, map[string]interface{}{
		"context": gorm.Expr("CASE WHEN COALESCE(context, '') = '' THEN ? ELSE context || ? END", text, "\n"+text),
	})
}

func (r *PostgresRepo) updateConversation(ctx context.Context, opName, conversationID string, fields map[string]interface{}) error {
	fields["updated_at"] = utils.Now()

	var affected int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Conversation{}).Where("id = ?", conversationID).Updates(fields)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		affected = result.RowsAffected
		return nil
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), opName, operation)
	observer.ObserveDbOperationDuration("update", "conversation", tenantLabel(ctx), time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to update conversation",
			zap.String("operation", opName),
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: conversation %s", apperrors.ErrNotFound, conversationID)
	}
	return nil
}

// AddMessage stores a conversation turn. Redelivered messages are ignored.
func (r *PostgresRepo) AddMessage(ctx context.Context, msg *model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = utils.Now()
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(msg)
		return checkConstraintViolation(result.Error)
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "AddMessage", operation)
	observer.ObserveDbOperationDuration("insert", "message", tenantLabel(ctx), time.Since(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to save message", zap.String("message_id", msg.ID), zap.Error(err))
	}
	return err
}

// RecentMessages returns up to limit of the latest turns, oldest first.
func (r *PostgresRepo) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var messages []model.Message

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("conversation_id = ?", conversationID).
			Order("created_at DESC").
			Limit(limit).
			Find(&messages)
		return checkConstraintViolation(result.Error)
	}

	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "RecentMessages", operation)
	observer.ObserveDbOperationDuration("select", "message", tenantLabel(ctx), time.Since(startTime), err)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
