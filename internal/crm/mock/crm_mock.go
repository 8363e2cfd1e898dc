package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-function-engine/internal/crm"
)

// CRMMock is a mock implementation of crm.CRM
type CRMMock struct {
	mock.Mock
}

var _ crm.CRM = (*CRMMock)(nil)

func (m *CRMMock) record(method string, ctx context.Context, fields map[string]interface{}) (crm.Record, error) {
	args := m.MethodCalled(method, ctx, fields)
	return args.Get(0).(crm.Record), args.Error(1)
}

func (m *CRMMock) CreateLead(ctx context.Context, fields map[string]interface{}) (crm.Record, error) {
	return m.record("CreateLead", ctx, fields)
}

func (m *CRMMock) CreateDeal(ctx context.Context, fields map[string]interface{}) (crm.Record, error) {
	return m.record("CreateDeal", ctx, fields)
}

func (m *CRMMock) CreateContact(ctx context.Context, fields map[string]interface{}) (crm.Record, error) {
	return m.record("CreateContact", ctx, fields)
}

func (m *CRMMock) CreateTask(ctx context.Context, fields map[string]interface{}) (crm.Record, error) {
	return m.record("CreateTask", ctx, fields)
}

func (m *CRMMock) GetPipelines(ctx context.Context) ([]crm.Pipeline, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]crm.Pipeline), args.Error(1)
}

func (m *CRMMock) GetUsers(ctx context.Context) ([]crm.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]crm.User), args.Error(1)
}
