package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/counter"
	jsmock "gitlab.com/timkado/api/daisi-function-engine/internal/jetstream/mock"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

func newPublisher(js *jsmock.ClientMock) *Publisher {
	return NewPublisher(js, counter.NewDeduper(counter.NewMemoryStore(), time.Hour),
		"function_engine_outbound", "v1.conversations.outbound", "v1.notifications.admin")
}

func TestPublisher_SendSystemMessageDedup(t *testing.T) {
	js := new(jsmock.ClientMock)
	p := newPublisher(js)

	msg := model.OutboundMessage{
		ConversationID: "conv-1",
		CompanyID:      "acme",
		ExecutionID:    "exec-1",
		MessageID:      "msg-1",
		Text:           "Your lead #42 was created",
	}

	js.On("Publish", "v1.conversations.outbound.acme", mock.Anything, mock.MatchedBy(func(h map[string]string) bool {
		return h[nats.MsgIdHdr] == "exec-1:v1.conversations.outbound.acme:conv-1"
	})).Return(nil).Once()

	require.NoError(t, p.SendSystemMessage(context.Background(), msg))
	require.NoError(t, p.SendSystemMessage(context.Background(), msg))

	js.AssertNumberOfCalls(t, "Publish", 1)
	data := js.Calls[0].Arguments.Get(1).([]byte)
	var decoded model.OutboundMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg.Text, decoded.Text)
}

func TestPublisher_FailedPublishCanBeRetried(t *testing.T) {
	js := new(jsmock.ClientMock)
	p := newPublisher(js)
	msg := model.OutboundMessage{ConversationID: "c", CompanyID: "acme", MessageID: "m-1", Text: "hi"}

	js.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("no responders")).Once()
	js.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	err := p.SendSystemMessage(context.Background(), msg)
	assert.True(t, apperrors.IsNATSError(err))

	require.NoError(t, p.SendSystemMessage(context.Background(), msg))
	js.AssertNumberOfCalls(t, "Publish", 2)
}

func TestPublisher_NotifyAdmin(t *testing.T) {
	js := new(jsmock.ClientMock)
	p := newPublisher(js)
	js.On("Publish", "v1.notifications.admin.acme", mock.Anything, map[string]string(nil)).Return(nil).Once()

	err := p.NotifyAdmin(context.Background(), model.AdminNotification{
		CompanyID:  "acme",
		FunctionID: "fn-1",
		Source:     model.SourceSchedule,
		Severity:   "error",
		Message:    "schedule disabled",
	})
	require.NoError(t, err)
	js.AssertExpectations(t)
}

func TestPublisher_Setup(t *testing.T) {
	js := new(jsmock.ClientMock)
	p := newPublisher(js)
	js.On("SetupStream", mock.Anything, mock.MatchedBy(func(c *nats.StreamConfig) bool {
		return c.Name == "function_engine_outbound" &&
			assert.ObjectsAreEqual([]string{"v1.conversations.outbound.*", "v1.notifications.admin.*"}, c.Subjects)
	})).Return(nil)

	require.NoError(t, p.Setup(context.Background()))
	js.AssertExpectations(t)
}
