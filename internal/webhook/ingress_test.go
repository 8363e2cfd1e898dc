package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/cache"
	"gitlab.com/timkado/api/daisi-function-engine/internal/config"
	"gitlab.com/timkado/api/daisi-function-engine/internal/counter"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	storagemock "gitlab.com/timkado/api/daisi-function-engine/internal/storage/mock"
	"gitlab.com/timkado/api/daisi-function-engine/internal/usecase"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

type executorMock struct {
	mock.Mock
}

func (m *executorMock) Execute(ctx context.Context, fn *model.Function, ev *model.Event) (*usecase.RunResult, error) {
	args := m.Called(ctx, fn, ev)
	res, _ := args.Get(0).(*usecase.RunResult)
	return res, args.Error(1)
}

type ingressDeps struct {
	functions     *storagemock.FunctionRepoMock
	conversations *storagemock.ConversationRepoMock
	executor      *executorMock
}

func newTestIngress(t *testing.T) (*Ingress, *ingressDeps) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	d := &ingressDeps{
		functions:     new(storagemock.FunctionRepoMock),
		conversations: new(storagemock.ConversationRepoMock),
		executor:      new(executorMock),
	}
	in := NewIngress(d.functions, d.conversations, d.executor,
		cache.NewFunctionCache("acme", 16, time.Minute),
		counter.NewRateLimiter(counter.NewMemoryStore()),
		config.WebhookConfig{RateLimit: 60, RateWindowSeconds: 60},
		"acme",
	)
	in.now = func() time.Time { return time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC) }
	return in, d
}

func webhookFunction(cfg model.WebhookConfig) *model.Function {
	return &model.Function{
		ID:        "fn-1",
		BotID:     "bot-1",
		CompanyID: "acme",
		Name:      "Order intake",
		IsActive:  true,
		Triggers: []model.Trigger{{
			ID: "t-1", FunctionID: "fn-1", Type: model.TriggerWebhook, IsActive: true,
			Config: model.MustJSON(cfg),
		}},
		Parameters: []model.Parameter{
			{Code: "order_id", Type: model.ParamString, IsRequired: true},
			{Code: "quantity", Type: model.ParamNumber},
		},
	}
}

func successResult(params map[string]interface{}) *usecase.RunResult {
	return &usecase.RunResult{
		Status:    usecase.RunExecuted,
		Execution: &model.Execution{ID: "exec-1", Status: model.ExecutionSuccess},
		Params:    params,
		Results: []model.ActionResult{
			{ActionID: "a-1", Type: model.ActionCreateDeal, Success: true, Data: map[string]interface{}{"id": "D-9"}},
		},
	}
}

func expectConversation(d *ingressDeps, externalKey string) {
	d.conversations.On("Ensure", mock.Anything, mock.MatchedBy(func(c model.Conversation) bool {
		return c.ExternalKey != nil && *c.ExternalKey == externalKey && c.Channel == "webhook"
	})).Return(&model.Conversation{ID: "conv-wh", CompanyID: "acme", ExternalKey: &externalKey}, nil)
	d.conversations.On("AddMessage", mock.Anything, mock.MatchedBy(func(m *model.Message) bool {
		return m.Role == model.RoleSystem && m.ConversationID == "conv-wh"
	})).Return(nil)
}

func TestIngress_Handle_MappedParametersFullResponse(t *testing.T) {
	in, d := newTestIngress(t)
	fn := webhookFunction(model.WebhookConfig{
		ParameterMapping: map[string]string{"order_id": "order.id", "quantity": "order.qty"},
	})
	d.functions.On("FindByWebhookKey", mock.Anything, "key-1").Return(fn, nil)
	expectConversation(d, "webhook:fn-1:buyer@example.com")
	d.executor.On("Execute", mock.Anything, fn, mock.MatchedBy(func(ev *model.Event) bool {
		return ev.Source == model.SourceWebhook &&
			ev.Params["order_id"] == "A-1" &&
			ev.Params["quantity"] == float64(3) &&
			ev.Conversation.ID == "conv-wh"
	})).Return(successResult(map[string]interface{}{"order_id": "A-1", "quantity": 3.0}), nil).Once()

	resp, err := in.Handle(context.Background(), Request{
		Key:      "key-1",
		Body:     []byte(`{"order":{"id":"A-1","qty":3},"email":"buyer@example.com"}`),
		ClientIP: "10.0.0.1",
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	body := gjson.ParseBytes(resp.Body)
	assert.True(t, body.Get("success").Bool())
	assert.Equal(t, "exec-1", body.Get("execution_id").String())
	assert.Equal(t, "A-1", body.Get("parameters.order_id").String())
	assert.Equal(t, "D-9", body.Get("results.0.data.id").String())
	d.executor.AssertExpectations(t)
}

func TestIngress_Handle_AutomaticCaseVariants(t *testing.T) {
	in, d := newTestIngress(t)
	fn := webhookFunction(model.WebhookConfig{ResponseFormat: model.ResponseMinimal})
	d.functions.On("FindByWebhookKey", mock.Anything, "key-1").Return(fn, nil)
	expectConversation(d, "webhook:fn-1:u-7")
	d.executor.On("Execute", mock.Anything, fn, mock.MatchedBy(func(ev *model.Event) bool {
		return ev.Params["order_id"] == "A-2"
	})).Return(successResult(nil), nil).Once()

	resp, err := in.Handle(context.Background(), Request{
		Key:      "key-1",
		Body:     []byte(`{"orderId":"A-2","user_id":"u-7"}`),
		ClientIP: "10.0.0.1",
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"success":true}`, string(resp.Body))
}

func TestIngress_Handle_BadSignatureRejectedWithoutExecution(t *testing.T) {
	in, d := newTestIngress(t)
	fn := webhookFunction(model.WebhookConfig{VerifySignature: true, Secret: "s3cret"})
	d.functions.On("FindByWebhookKey", mock.Anything, "key-1").Return(fn, nil)

	h := http.Header{}
	h.Set(defaultSignatureHeader, "sha256=deadbeef")
	resp, err := in.Handle(context.Background(), Request{
		Key:    "key-1",
		Body:   []byte(`{"order_id":"A-1"}`),
		Header: h,
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	d.conversations.AssertNotCalled(t, "Ensure", mock.Anything, mock.Anything)
	d.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngress_Handle_ValidSignature(t *testing.T) {
	in, d := newTestIngress(t)
	fn := webhookFunction(model.WebhookConfig{
		VerifySignature: true,
		Secret:          "s3cret",
		SignatureHeader: "X-Hub-Signature-256",
		ResponseFormat:  model.ResponseMinimal,
	})
	body := []byte(`{"order_id":"A-1","phone":"+628123"}`)
	d.functions.On("FindByWebhookKey", mock.Anything, "key-1").Return(fn, nil)
	expectConversation(d, "webhook:fn-1:+628123")
	d.executor.On("Execute", mock.Anything, fn, mock.Anything).Return(successResult(nil), nil).Once()

	h := http.Header{}
	h.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(Sign(sha256.New, "s3cret", body)))
	resp, err := in.Handle(context.Background(), Request{Key: "key-1", Body: body, Header: h})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestIngress_Handle_RateLimited(t *testing.T) {
	in, d := newTestIngress(t)
	fn := webhookFunction(model.WebhookConfig{RateLimit: 2, RateWindowSeconds: 60, ResponseFormat: model.ResponseMinimal})
	d.functions.On("FindByWebhookKey", mock.Anything, "key-1").Return(fn, nil)
	d.conversations.On("Ensure", mock.Anything, mock.Anything).Return(&model.Conversation{ID: "conv-wh"}, nil)
	d.conversations.On("AddMessage", mock.Anything, mock.Anything).Return(nil)
	d.executor.On("Execute", mock.Anything, fn, mock.Anything).Return(successResult(nil), nil)

	req := Request{Key: "key-1", Body: []byte(`{"order_id":"A-1"}`), ClientIP: "10.0.0.9"}
	for i := 0; i < 2; i++ {
		resp, err := in.Handle(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
	}
	resp, err := in.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	d.executor.AssertNumberOfCalls(t, "Execute", 2)

	// another client has its own budget
	req.ClientIP = "10.0.0.10"
	resp, err = in.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestIngress_Handle_MissingRequiredParameter(t *testing.T) {
	in, d := newTestIngress(t)
	fn := webhookFunction(model.WebhookConfig{})
	d.functions.On("FindByWebhookKey", mock.Anything, "key-1").Return(fn, nil)

	resp, err := in.Handle(context.Background(), Request{Key: "key-1", Body: []byte(`{"quantity":2}`)})

	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Status)
	assert.Equal(t, "order_id", gjson.GetBytes(resp.Body, "missing.0").String())
	d.conversations.AssertNotCalled(t, "AddMessage", mock.Anything, mock.Anything)
	d.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngress_Handle_InvalidOptionalParameterIsDropped(t *testing.T) {
	in, d := newTestIngress(t)
	fn := webhookFunction(model.WebhookConfig{ResponseFormat: model.ResponseMinimal})
	d.functions.On("FindByWebhookKey", mock.Anything, "key-1").Return(fn, nil)
	sum := sha256.Sum256([]byte("10.0.0.1"))
	expectConversation(d, "webhook:fn-1:"+hex.EncodeToString(sum[:8]))
	d.executor.On("Execute", mock.Anything, fn, mock.MatchedBy(func(ev *model.Event) bool {
		return ev.Params["order_id"] == "A-1"
	})).Return(successResult(map[string]interface{}{"order_id": "A-1"}), nil).Once()

	resp, err := in.Handle(context.Background(), Request{
		Key:      "key-1",
		Body:     []byte(`{"order_id":"A-1","quantity":"unknown"}`),
		ClientIP: "10.0.0.1",
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"success":true}`, string(resp.Body))
	d.executor.AssertExpectations(t)
}

func TestIngress_Handle_InvalidRequiredParameterCountsAsMissing(t *testing.T) {
	in, d := newTestIngress(t)
	fn := webhookFunction(model.WebhookConfig{})
	fn.Parameters[1].IsRequired = true
	d.functions.On("FindByWebhookKey", mock.Anything, "key-1").Return(fn, nil)

	resp, err := in.Handle(context.Background(), Request{Key: "key-1", Body: []byte(`{"order_id":"A-1","quantity":"unknown"}`)})

	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Status)
	assert.Equal(t, []string{"quantity"}, stringsAt(resp.Body, "missing"))
	assert.False(t, gjson.GetBytes(resp.Body, "invalid").Exists())
	d.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func stringsAt(body []byte, path string) []string {
	var out []string
	for _, v := range gjson.GetBytes(body, path).Array() {
		out = append(out, v.String())
	}
	return out
}

func TestIngress_Handle_RejectsNonObjectBody(t *testing.T) {
	in, d := newTestIngress(t)
	d.functions.On("FindByWebhookKey", mock.Anything, "key-1").Return(webhookFunction(model.WebhookConfig{}), nil)

	resp, err := in.Handle(context.Background(), Request{Key: "key-1", Body: []byte(`[1,2]`)})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestIngress_Handle_LookupUsesCache(t *testing.T) {
	in, d := newTestIngress(t)
	fn := webhookFunction(model.WebhookConfig{})
	fn.IsActive = false
	d.functions.On("FindByWebhookKey", mock.Anything, "key-1").Return(fn, nil).Once()
	d.functions.On("FindByWebhookKey", mock.Anything, "nope").Return(nil, apperrors.ErrNotFound)

	for i := 0; i < 3; i++ {
		resp, err := in.Handle(context.Background(), Request{Key: "key-1", Body: []byte(`{}`)})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.Status)
	}
	d.functions.AssertNumberOfCalls(t, "FindByWebhookKey", 1)

	resp, err := in.Handle(context.Background(), Request{Key: "nope", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestIngress_Handle_InactiveTriggerForbidden(t *testing.T) {
	in, d := newTestIngress(t)
	fn := webhookFunction(model.WebhookConfig{})
	fn.Triggers[0].IsActive = false
	d.functions.On("FindByWebhookKey", mock.Anything, "key-1").Return(fn, nil)

	resp, err := in.Handle(context.Background(), Request{Key: "key-1", Body: []byte(`{"order_id":"A-1"}`)})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.Status)
}

func TestIngress_Handle_StorageErrorIs500(t *testing.T) {
	in, d := newTestIngress(t)
	d.functions.On("FindByWebhookKey", mock.Anything, "key-1").Return(nil, apperrors.ErrDatabase)

	resp, err := in.Handle(context.Background(), Request{Key: "key-1"})
	assert.ErrorIs(t, err, apperrors.ErrDatabase)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
}

func TestIngress_Handle_IdempotencyKeyNamesMessage(t *testing.T) {
	in, d := newTestIngress(t)
	fn := webhookFunction(model.WebhookConfig{ResponseFormat: model.ResponseMinimal})
	d.functions.On("FindByWebhookKey", mock.Anything, "key-1").Return(fn, nil)
	expectConversation(d, "webhook:fn-1:u-1")
	d.executor.On("Execute", mock.Anything, fn, mock.MatchedBy(func(ev *model.Event) bool {
		return ev.Message.ID == "webhook:fn-1:evt-42"
	})).Return(&usecase.RunResult{Status: usecase.RunDuplicate}, nil).Once()

	h := http.Header{}
	h.Set("Idempotency-Key", "evt-42")
	resp, err := in.Handle(context.Background(), Request{Key: "key-1", Body: []byte(`{"order_id":"A-1","id":"u-1"}`), Header: h})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.True(t, gjson.GetBytes(resp.Body, "duplicate").Bool())
}

func TestIngress_Handler_Gin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	in, d := newTestIngress(t)
	in.defaults.MaxBodyBytes = 64
	fn := webhookFunction(model.WebhookConfig{ResponseFormat: model.ResponseMinimal})
	d.functions.On("FindByWebhookKey", mock.Anything, "key-1").Return(fn, nil)
	d.conversations.On("Ensure", mock.Anything, mock.Anything).Return(&model.Conversation{ID: "conv-wh"}, nil)
	d.conversations.On("AddMessage", mock.Anything, mock.Anything).Return(nil)
	d.executor.On("Execute", mock.Anything, fn, mock.Anything).Return(successResult(nil), nil)

	r := gin.New()
	r.POST("/webhook/:key", in.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook/key-1", strings.NewReader(`{"order_id":"A-1"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook/key-1", strings.NewReader(`{"order_id":"`+strings.Repeat("x", 100)+`"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
