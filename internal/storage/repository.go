package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

// FunctionRepo defines function lookups
type FunctionRepo interface {
	FindActiveByBot(ctx context.Context, botID string) ([]model.Function, error)
	FindByID(ctx context.Context, id string) (*model.Function, error)
	FindByWebhookKey(ctx context.Context, key string) (*model.Function, error)
}

// ExecutionRepo defines execution record operations
type ExecutionRepo interface {
	Exists(ctx context.Context, functionID, messageID string) (bool, error)
	Create(ctx context.Context, exec *model.Execution) error
	Complete(ctx context.Context, exec *model.Execution) error
}

// ScheduleRepo defines schedule storage operations
type ScheduleRepo interface {
	FindDue(ctx context.Context, now time.Time) ([]model.Schedule, error)
	FindByID(ctx context.Context, id string) (*model.Schedule, error)
	UpdateState(ctx context.Context, schedule *model.Schedule) error
}

// ConversationRepo defines conversation and message storage operations
type ConversationRepo interface {
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	Ensure(ctx context.Context, conv model.Conversation) (*model.Conversation, error)
	SaveAccumulatedParams(ctx context.Context, conversationID string, params model.AccumulatedParams) error
	SetPaused(ctx context.Context, conversationID string, paused bool) error
	AppendContext(ctx context.Context, conversationID, text string) error
	AddMessage(ctx context.Context, msg *model.Message) error
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

// HealthChecker is implemented by stores that can report readiness.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
