package mock

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-function-engine/internal/jetstream"
)

// ClientMock is a testify mock of jetstream.ClientInterface.
type ClientMock struct {
	mock.Mock
}

var _ jetstream.ClientInterface = (*ClientMock)(nil)

func (m *ClientMock) SetupStream(ctx context.Context, cfg *nats.StreamConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *ClientMock) SetupConsumer(ctx context.Context, stream string, cfg *nats.ConsumerConfig) error {
	return m.Called(ctx, stream, cfg).Error(0)
}

func (m *ClientMock) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(subject, consumer, group, stream, handler)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

func (m *ClientMock) Publish(subject string, data []byte, headers map[string]string) error {
	return m.Called(subject, data, headers).Error(0)
}

func (m *ClientMock) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *ClientMock) NatsConn() *nats.Conn {
	nc, _ := m.Called().Get(0).(*nats.Conn)
	return nc
}

func (m *ClientMock) Close() {
	m.Called()
}

// MockSubscription stands in for a subscription; nats.Subscription cannot be
// built outside the nats package.
func MockSubscription() *nats.Subscription {
	return nil
}
