package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-function-engine/internal/ingestion"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

// RouterMock is a testify mock of ingestion.RouterInterface.
type RouterMock struct {
	mock.Mock
}

var _ ingestion.RouterInterface = (*RouterMock)(nil)

func (m *RouterMock) Register(eventType model.EventType, handler ingestion.EventHandler) {
	m.Called(eventType, handler)
}

func (m *RouterMock) RegisterDefault(handler ingestion.EventHandler) {
	m.Called(handler)
}

func (m *RouterMock) Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	return m.Called(ctx, metadata, rawEvent).Error(0)
}
