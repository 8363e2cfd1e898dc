package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

// MockMessageService is a mock for the handler's MessageService
type MockMessageService struct {
	mock.Mock
}

// HandleInboundMessage mocks the HandleInboundMessage method
func (m *MockMessageService) HandleInboundMessage(ctx context.Context, payload model.InboundMessagePayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

// MockMessageHandler is a mock for handler.EventHandlerInterface
type MockMessageHandler struct {
	mock.Mock
}

// HandleEvent mocks the HandleEvent method
func (m *MockMessageHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	args := m.Called(ctx, eventType, metadata, rawEvent)
	return args.Error(0)
}

// MockFunctionCache is a mock for handler.FunctionCacheInvalidator
type MockFunctionCache struct {
	mock.Mock
}

func (m *MockFunctionCache) Invalidate(key string) {
	m.Called(key)
}

func (m *MockFunctionCache) Purge() {
	m.Called()
}
