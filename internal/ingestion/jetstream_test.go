package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/config"
	clientmock "gitlab.com/timkado/api/daisi-function-engine/internal/jetstream/mock"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

// MockHandler is a mock of the EventHandler function
type MockHandler struct {
	mock.Mock
}

// Handle implements the EventHandler function signature
func (m *MockHandler) Handle(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	args := m.Called(ctx, eventType, metadata, rawEvent)
	return args.Error(0)
}

func setupTest(t *testing.T) (*clientmock.ClientMock, *Router) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	return new(clientmock.ClientMock), NewRouter()
}

func TestMessageConsumer_Setup(t *testing.T) {
	mockClient, router := setupTest(t)
	companyID := "company-a"
	cfg := config.ConsumerNatsConfig{
		Stream:      "conversations",
		Consumer:    "fn-engine-" + companyID,
		QueueGroup:  "fn-engine-group-" + companyID,
		SubjectList: []string{"v1.conversations.message"},
		MaxAge:      7,
		MaxDeliver:  5,
	}
	consumer := NewMessageConsumer(mockClient, router, cfg, companyID)

	mockClient.On("SetupStream", mock.Anything, mock.MatchedBy(func(sc *nats.StreamConfig) bool {
		return sc.Name == "conversations" &&
			sc.Storage == nats.FileStorage &&
			sc.Retention == nats.LimitsPolicy &&
			sc.MaxAge == 7*24*time.Hour &&
			assert.ElementsMatch(t, []string{"v1.conversations.message.*"}, sc.Subjects)
	})).Return(nil)
	mockClient.On("SetupConsumer", mock.Anything, cfg.Stream, mock.MatchedBy(func(cc *nats.ConsumerConfig) bool {
		return cc.Durable == cfg.Consumer &&
			cc.DeliverGroup == cfg.QueueGroup &&
			assert.ElementsMatch(t, []string{"v1.conversations.message.company-a"}, cc.FilterSubjects) &&
			cc.AckPolicy == nats.AckExplicitPolicy &&
			cc.MaxDeliver == 5 &&
			cc.AckWait == 2*time.Minute &&
			cc.MaxAckPending == 1000 &&
			cc.DeliverPolicy == nats.DeliverNewPolicy &&
			cc.DeliverSubject != ""
	})).Return(nil)

	err := consumer.Setup()

	assert.NoError(t, err)
	assert.Equal(t, "v1.>", consumer.filterSubject)
	mockClient.AssertExpectations(t)
}

func TestMessageConsumer_Setup_StreamError(t *testing.T) {
	mockClient, router := setupTest(t)
	cfg := config.ConsumerNatsConfig{Stream: "conversations", SubjectList: []string{"v1.conversations.message"}, MaxDeliver: 5}
	consumer := NewMessageConsumer(mockClient, router, cfg, "company-se")

	expectedErr := errors.New("stream setup failed")
	mockClient.On("SetupStream", mock.Anything, mock.AnythingOfType("*nats.StreamConfig")).Return(expectedErr)

	err := consumer.Setup()

	assert.ErrorIs(t, err, expectedErr)
	assert.Contains(t, err.Error(), "failed to setup message stream")
	mockClient.AssertNotCalled(t, "SetupConsumer", mock.Anything, mock.Anything, mock.Anything)
}

func TestMessageConsumer_Setup_ConsumerError(t *testing.T) {
	mockClient, router := setupTest(t)
	cfg := config.ConsumerNatsConfig{Stream: "conversations", Consumer: "fn-engine-ce", SubjectList: []string{"v1.conversations.message"}, MaxDeliver: 5}
	consumer := NewMessageConsumer(mockClient, router, cfg, "company-ce")

	expectedErr := errors.New("consumer setup failed")
	mockClient.On("SetupStream", mock.Anything, mock.AnythingOfType("*nats.StreamConfig")).Return(nil)
	mockClient.On("SetupConsumer", mock.Anything, cfg.Stream, mock.AnythingOfType("*nats.ConsumerConfig")).Return(expectedErr)

	err := consumer.Setup()

	assert.ErrorIs(t, err, expectedErr)
	assert.Contains(t, err.Error(), "failed to setup message consumer")
	mockClient.AssertExpectations(t)
}

func TestMessageConsumer_Start(t *testing.T) {
	mockClient, router := setupTest(t)
	companyID := "company-start"
	cfg := config.ConsumerNatsConfig{
		Stream:     "conversations",
		Consumer:   "fn-engine-" + companyID,
		QueueGroup: "fn-engine-group-" + companyID,
		MaxDeliver: 5,
	}
	consumer := NewMessageConsumer(mockClient, router, cfg, companyID)
	consumer.filterSubject = "v1.>"

	sub := clientmock.MockSubscription()
	mockClient.On("SubscribePush", "v1.>", cfg.Consumer, cfg.QueueGroup, cfg.Stream, mock.AnythingOfType("nats.MsgHandler")).Return(sub, nil)

	err := consumer.Start()

	assert.NoError(t, err)
	assert.Equal(t, sub, consumer.sub)
	mockClient.AssertExpectations(t)
}

func TestMessageConsumer_Start_Error(t *testing.T) {
	mockClient, router := setupTest(t)
	cfg := config.ConsumerNatsConfig{
		Consumer:     "fn-engine-err",
		QueueGroup:   "fn-engine-group-err",
		MaxDeliver:   5,
		NakBaseDelay: time.Second,
		NakMaxDelay:  10 * time.Second,
	}
	consumer := NewMessageConsumer(mockClient, router, cfg, "company-err")

	expectedErr := errors.New("subscribe push failed")
	mockClient.On("SubscribePush", "", cfg.Consumer, cfg.QueueGroup, cfg.Stream, mock.AnythingOfType("nats.MsgHandler")).Return((*nats.Subscription)(nil), expectedErr)

	err := consumer.Start()

	assert.ErrorIs(t, err, expectedErr)
	assert.Contains(t, err.Error(), "failed to subscribe message consumer")
	assert.Nil(t, consumer.sub)
}

func TestMessageConsumer_Stop(t *testing.T) {
	mockClient, router := setupTest(t)
	consumer := NewMessageConsumer(mockClient, router, config.ConsumerNatsConfig{Consumer: "fn-engine-stop"}, "company-stop")
	consumer.sub = clientmock.MockSubscription()
	ctx := consumer.ctx

	consumer.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(100 * time.Millisecond):
		assert.Fail(t, "Context was not canceled within timeout")
	}
	mockClient.AssertExpectations(t)
}

func TestDetermineAckNakAction(t *testing.T) {
	baseDelay := 1 * time.Second
	maxDelay := 6 * time.Second
	maxDeliver := 5
	retryable := apperrors.NewRetryable(errors.New("db down"), "transient")

	tests := []struct {
		name           string
		processingErr  error
		numDelivered   uint64
		expectedAction AckNakAction
		expectedDelay  time.Duration
	}{
		{"success", nil, 1, ActionAck, 0},
		{"retryable first attempt", retryable, 1, ActionNakDelay, 1 * time.Second},
		{"retryable second attempt", retryable, 2, ActionNakDelay, 2 * time.Second},
		{"retryable third attempt", retryable, 3, ActionNakDelay, 4 * time.Second},
		{"retryable delay capped", retryable, 4, ActionNakDelay, 6 * time.Second},
		{"retryable attempts exhausted", retryable, 5, ActionTerm, 0},
		{"fatal error", apperrors.NewFatal(errors.New("bad payload"), "fatal"), 1, ActionTerm, 0},
		{"plain error treated as fatal", errors.New("some other error"), 1, ActionTerm, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, delay := determineAckNakAction(tt.processingErr, tt.numDelivered, maxDeliver, baseDelay, maxDelay)
			assert.Equal(t, tt.expectedAction, action)
			assert.Equal(t, tt.expectedDelay, delay)
		})
	}
}

func TestModifySubjects(t *testing.T) {
	tests := []struct {
		name                 string
		inputSubjects        []string
		companyID            string
		expectedStreamSubs   []string
		expectedConsumerSubs []string
	}{
		{
			name:                 "basic case",
			inputSubjects:        []string{"v1.conversations.message", "v1.conversations.outbound"},
			companyID:            "tenantA",
			expectedStreamSubs:   []string{"v1.conversations.message.*", "v1.conversations.outbound.*"},
			expectedConsumerSubs: []string{"v1.conversations.message.tenantA", "v1.conversations.outbound.tenantA"},
		},
		{
			name:                 "empty input list",
			inputSubjects:        []string{},
			companyID:            "tenantC",
			expectedStreamSubs:   []string{},
			expectedConsumerSubs: []string{},
		},
		{
			name:                 "empty tenant ID",
			inputSubjects:        []string{"v1.data"},
			companyID:            "",
			expectedStreamSubs:   []string{"v1.data.*"},
			expectedConsumerSubs: []string{"v1.data."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			streamSubs, consumerSubs := modifySubjects(tt.inputSubjects, tt.companyID)
			assert.ElementsMatch(t, tt.expectedStreamSubs, streamSubs)
			assert.ElementsMatch(t, tt.expectedConsumerSubs, consumerSubs)
		})
	}
}

func TestSanitizeErrorType(t *testing.T) {
	assert.Equal(t, "none", SanitizeErrorType(nil))
	assert.Equal(t, "database", SanitizeErrorType(apperrors.ErrDatabase))
	assert.Equal(t, "not_found", SanitizeErrorType(apperrors.ErrNotFound))
	assert.Equal(t, "unmarshal", SanitizeErrorType(errors.New("failed to unmarshal payload")))
	assert.Equal(t, "unknown", SanitizeErrorType(errors.New("boom")))
}
