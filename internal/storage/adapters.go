package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

// FunctionRepoAdapter adapts the PostgresRepo to the FunctionRepo interface
type FunctionRepoAdapter struct {
	postgres *PostgresRepo
}

// NewFunctionRepoAdapter creates a new function repository adapter
func NewFunctionRepoAdapter(postgres *PostgresRepo) FunctionRepo {
	return &FunctionRepoAdapter{postgres: postgres}
}

func (a *FunctionRepoAdapter) FindActiveByBot(ctx context.Context, botID string) ([]model.Function, error) {
	return a.postgres.FindActiveFunctionsByBot(ctx, botID)
}

func (a *FunctionRepoAdapter) FindByID(ctx context.Context, id string) (*model.Function, error) {
	return a.postgres.FindFunctionByID(ctx, id)
}

func (a *FunctionRepoAdapter) FindByWebhookKey(ctx context.Context, key string) (*model.Function, error) {
	return a.postgres.FindFunctionByWebhookKey(ctx, key)
}

// ExecutionRepoAdapter adapts the PostgresRepo to the ExecutionRepo interface
type ExecutionRepoAdapter struct {
	postgres *PostgresRepo
}

// NewExecutionRepoAdapter creates a new execution repository adapter
func NewExecutionRepoAdapter(postgres *PostgresRepo) ExecutionRepo {
	return &ExecutionRepoAdapter{postgres: postgres}
}

func (a *ExecutionRepoAdapter) Exists(ctx context.Context, functionID, messageID string) (bool, error) {
	return a.postgres.ExecutionExists(ctx, functionID, messageID)
}

func (a *ExecutionRepoAdapter) Create(ctx context.Context, exec *model.Execution) error {
	return a.postgres.CreateExecution(ctx, exec)
}

func (a *ExecutionRepoAdapter) Complete(ctx context.Context, exec *model.Execution) error {
	return a.postgres.CompleteExecution(ctx, exec)
}

// ScheduleRepoAdapter adapts the PostgresRepo to the ScheduleRepo interface
type ScheduleRepoAdapter struct {
	postgres *PostgresRepo
}

// NewScheduleRepoAdapter creates a new schedule repository adapter
func NewScheduleRepoAdapter(postgres *PostgresRepo) ScheduleRepo {
	return &ScheduleRepoAdapter{postgres: postgres}
}

func (a *ScheduleRepoAdapter) FindDue(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	return a.postgres.FindDueSchedules(ctx, now)
}

func (a *ScheduleRepoAdapter) FindByID(ctx context.Context, id string) (*model.Schedule, error) {
	return a.postgres.FindScheduleByID(ctx, id)
}

func (a *ScheduleRepoAdapter) UpdateState(ctx context.Context, schedule *model.Schedule) error {
	return a.postgres.UpdateScheduleState(ctx, schedule)
}

// ConversationRepoAdapter adapts the PostgresRepo to the ConversationRepo interface
type ConversationRepoAdapter struct {
	postgres *PostgresRepo
}

// NewConversationRepoAdapter creates a new conversation repository adapter
func NewConversationRepoAdapter(postgres *PostgresRepo) ConversationRepo {
	return &ConversationRepoAdapter{postgres: postgres}
}

func (a *ConversationRepoAdapter) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	return a.postgres.FindConversationByID(ctx, id)
}

func (a *ConversationRepoAdapter) Ensure(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	return a.postgres.EnsureConversation(ctx, conv)
}

func (a *ConversationRepoAdapter) SaveAccumulatedParams(ctx context.Context, conversationID string, params model.AccumulatedParams) error {
	return a.postgres.SaveAccumulatedParams(ctx, conversationID, params)
}

func (a *ConversationRepoAdapter) SetPaused(ctx context.Context, conversationID string, paused bool) error {
	return a.postgres.SetConversationPaused(ctx, conversationID, paused)
}

func (a *ConversationRepoAdapter) AppendContext(ctx context.Context, conversationID, text string) error {
	return a.postgres.AppendConversationContext(ctx, conversationID, text)
}

func (a *ConversationRepoAdapter) AddMessage(ctx context.Context, msg *model.Message) error {
	return a.postgres.AddMessage(ctx, msg)
}

func (a *ConversationRepoAdapter) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	return a.postgres.RecentMessages(ctx, conversationID, limit)
}
