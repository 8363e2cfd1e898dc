package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/storage"
)

// --- FunctionRepo Mock ---

// FunctionRepoMock mocks the FunctionRepo interface
type FunctionRepoMock struct {
	mock.Mock
}

var _ storage.FunctionRepo = (*FunctionRepoMock)(nil)

func (m *FunctionRepoMock) FindActiveByBot(ctx context.Context, botID string) ([]model.Function, error) {
	args := m.Called(ctx, botID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Function), args.Error(1)
}

func (m *FunctionRepoMock) FindByID(ctx context.Context, id string) (*model.Function, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Function), args.Error(1)
}

func (m *FunctionRepoMock) FindByWebhookKey(ctx context.Context, key string) (*model.Function, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Function), args.Error(1)
}

// --- ExecutionRepo Mock ---

// ExecutionRepoMock mocks the ExecutionRepo interface
type ExecutionRepoMock struct {
	mock.Mock
}

var _ storage.ExecutionRepo = (*ExecutionRepoMock)(nil)

func (m *ExecutionRepoMock) Exists(ctx context.Context, functionID, messageID string) (bool, error) {
	args := m.Called(ctx, functionID, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *ExecutionRepoMock) Create(ctx context.Context, exec *model.Execution) error {
	args := m.Called(ctx, exec)
	return args.Error(0)
}

func (m *ExecutionRepoMock) Complete(ctx context.Context, exec *model.Execution) error {
	args := m.Called(ctx, exec)
	return args.Error(0)
}

// --- ScheduleRepo Mock ---

// ScheduleRepoMock mocks the ScheduleRepo interface
type ScheduleRepoMock struct {
	mock.Mock
}

var _ storage.ScheduleRepo = (*ScheduleRepoMock)(nil)

func (m *ScheduleRepoMock) FindDue(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Schedule), args.Error(1)
}

func (m *ScheduleRepoMock) FindByID(ctx context.Context, id string) (*model.Schedule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Schedule), args.Error(1)
}

func (m *ScheduleRepoMock) UpdateState(ctx context.Context, schedule *model.Schedule) error {
	args := m.Called(ctx, schedule)
	return args.Error(0)
}

// --- ConversationRepo Mock ---

// ConversationRepoMock mocks the ConversationRepo interface
type ConversationRepoMock struct {
	mock.Mock
}

var _ storage.ConversationRepo = (*ConversationRepoMock)(nil)

func (m *ConversationRepoMock) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *ConversationRepoMock) Ensure(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	args := m.Called(ctx, conv)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *ConversationRepoMock) SaveAccumulatedParams(ctx context.Context, conversationID string, params model.AccumulatedParams) error {
	args := m.Called(ctx, conversationID, params)
	return args.Error(0)
}

func (m *ConversationRepoMock) SetPaused(ctx context.Context, conversationID string, paused bool) error {
	args := m.Called(ctx, conversationID, paused)
	return args.Error(0)
}

func (m *ConversationRepoMock) AppendContext(ctx context.Context, conversationID, text string) error {
	args := m.Called(ctx, conversationID, text)
	return args.Error(0)
}

func (m *ConversationRepoMock) AddMessage(ctx context.Context, msg *model.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *ConversationRepoMock) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}
