package usecase

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/trigger"
)

type extractorMock struct {
	mock.Mock
}

func (m *extractorMock) Extract(ctx context.Context, fn *model.Function, history []model.Message) map[string]interface{} {
	args := m.Called(ctx, fn, history)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(map[string]interface{})
}

type actionRunnerMock struct {
	mock.Mock
}

func (m *actionRunnerMock) Run(ctx context.Context, a model.Action, params map[string]interface{}, conv *model.Conversation) model.ActionResult {
	args := m.Called(ctx, a, params, conv)
	return args.Get(0).(model.ActionResult)
}

type senderMock struct {
	mock.Mock
}

func (m *senderMock) SendSystemMessage(ctx context.Context, msg model.OutboundMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *senderMock) NotifyAdmin(ctx context.Context, n model.AdminNotification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

type matcherMock struct {
	mock.Mock
}

func (m *matcherMock) FirstMatch(ctx context.Context, fn *model.Function, ev *model.Event) (*model.Trigger, trigger.MatchDetail, bool) {
	args := m.Called(ctx, fn, ev)
	t, _ := args.Get(0).(*model.Trigger)
	return t, trigger.MatchDetail{}, args.Bool(1)
}

type runnerMock struct {
	mock.Mock
}

func (m *runnerMock) Execute(ctx context.Context, fn *model.Function, ev *model.Event) (*RunResult, error) {
	args := m.Called(ctx, fn, ev)
	res, _ := args.Get(0).(*RunResult)
	return res, args.Error(1)
}
