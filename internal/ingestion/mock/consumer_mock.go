package mock

import (
	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-function-engine/internal/ingestion"
)

// ConsumerMock is a testify mock of ingestion.ConsumerInterface.
type ConsumerMock struct {
	mock.Mock
}

var _ ingestion.ConsumerInterface = (*ConsumerMock)(nil)

func (m *ConsumerMock) Setup() error {
	return m.Called().Error(0)
}

func (m *ConsumerMock) Start() error {
	return m.Called().Error(0)
}

func (m *ConsumerMock) Stop() {
	m.Called()
}
