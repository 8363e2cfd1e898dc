package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-function-engine/internal/ai"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

// ClientMock is a mock implementation of ai.Client
type ClientMock struct {
	mock.Mock
}

var _ ai.Client = (*ClientMock)(nil)

func (m *ClientMock) Classify(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *ClientMock) ExtractData(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *ClientMock) GenerateResponse(ctx context.Context, system string, history []model.Message, message string) (string, error) {
	args := m.Called(ctx, system, history, message)
	return args.String(0), args.Error(1)
}
