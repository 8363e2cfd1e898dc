//go:build integration

package integration_test

import (
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/nats-io/nats.go"
	"github.com/tidwall/gjson"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/webhook"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

const (
	waitFor = 15 * time.Second
	tick    = 200 * time.Millisecond
)

func (s *EngineSuite) TestSchemaMigrated() {
	s.Require().NoError(s.repo.Ping(s.ctx))
	for _, table := range []interface{}{&model.Function{}, &model.Execution{}, &model.Schedule{}, &model.Conversation{}, &model.Message{}} {
		s.True(s.db.Migrator().HasTable(table), "%T table missing", table)
	}
}

func (s *EngineSuite) keywordFunction(successMessage string) *model.Function {
	fn := model.NewFunction(&model.Function{
		CompanyID: s.companyID,
		IsActive:  true,
		Triggers:  []model.Trigger{model.NewKeywordTrigger(model.KeywordAny, "pricing")},
		Behavior: &model.Behavior{
			ID:             gofakeit.UUID(),
			OnSuccess:      model.OnSuccessContinue,
			OnError:        model.OnErrorContinue,
			SuccessMessage: successMessage,
		},
	})
	s.seedFunction(fn)
	return fn
}

func (s *EngineSuite) publishInbound(payload model.InboundMessagePayload, natsMsgID string) {
	data := utils.MustMarshalJSON(payload)
	subject := string(model.V1ConversationMessage) + "." + s.companyID
	s.Require().NoError(s.js.Publish(subject, data, map[string]string{nats.MsgIdHdr: natsMsgID}))
}

func (s *EngineSuite) TestInboundMessageRunsKeywordFunction() {
	fn := s.keywordFunction("We will send you our pricing shortly")

	payload := model.NewInboundMessagePayload(s.companyID)
	payload.BotID = fn.BotID
	payload.Text = "Hi, can I see your pricing?"
	s.publishInbound(payload, payload.MessageID)

	s.Eventually(func() bool {
		return s.countExecutions(fn.ID, model.ExecutionSuccess) == 1
	}, waitFor, tick)

	s.Eventually(func() bool {
		for _, m := range s.outboundMessages() {
			if gjson.GetBytes(m.Data, "text").String() == "We will send you our pricing shortly" &&
				gjson.GetBytes(m.Data, "conversation_id").String() == payload.ConversationID {
				return true
			}
		}
		return false
	}, waitFor, tick, "success message not delivered")
}

func (s *EngineSuite) TestRedeliveredMessageRunsOnce() {
	fn := s.keywordFunction("")

	payload := model.NewInboundMessagePayload(s.companyID)
	payload.BotID = fn.BotID
	payload.Text = "pricing please"

	// distinct NATS ids get past stream dedup; the execution key still matches
	s.publishInbound(payload, gofakeit.UUID())
	s.publishInbound(payload, gofakeit.UUID())

	s.Eventually(func() bool {
		return s.countExecutions(fn.ID, "") >= 1
	}, waitFor, tick)
	s.Never(func() bool {
		return s.countExecutions(fn.ID, "") > 1
	}, 2*time.Second, tick)
}

func (s *EngineSuite) TestNonMatchingMessageRunsNothing() {
	fn := s.keywordFunction("")

	payload := model.NewInboundMessagePayload(s.companyID)
	payload.BotID = fn.BotID
	payload.Text = "just saying hello"
	s.publishInbound(payload, payload.MessageID)

	s.Eventually(func() bool {
		var n int64
		s.Require().NoError(s.db.Model(&model.Message{}).Where("id = ?", payload.MessageID).Count(&n).Error)
		return n == 1
	}, waitFor, tick, "inbound message not stored")
	s.Equal(int64(0), s.countExecutions(fn.ID, ""))
}

func (s *EngineSuite) TestWebhookCallPersistsRun() {
	key := "itest-" + gofakeit.LetterN(12)
	fn := model.NewFunction(&model.Function{
		CompanyID:  s.companyID,
		IsActive:   true,
		WebhookKey: &key,
		Triggers: []model.Trigger{{
			ID:       gofakeit.UUID(),
			Type:     model.TriggerWebhook,
			IsActive: true,
			Config:   model.MustJSON(model.WebhookConfig{IdentityField: "email"}),
		}},
		Parameters: []model.Parameter{model.NewParameter("email", model.ParamString, true)},
	})
	s.seedFunction(fn)

	req := webhook.Request{
		Key:      key,
		Body:     []byte(`{"email":"lead@example.com","source":"landing"}`),
		Header:   http.Header{"Idempotency-Key": []string{"order-1"}},
		ClientIP: "10.0.0.1",
	}
	resp, err := s.ingress.Handle(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.Status, string(resp.Body))
	s.True(gjson.GetBytes(resp.Body, "success").Bool(), string(resp.Body))
	s.Equal(int64(1), s.countExecutions(fn.ID, model.ExecutionSuccess))

	var conv model.Conversation
	s.Require().NoError(s.db.Where("external_key = ?", model.WebhookKeyPrefix+fn.ID+":lead@example.com").First(&conv).Error)
	s.Equal("lead@example.com", conv.ContactEmail)

	// same idempotency key is a duplicate
	resp, err = s.ingress.Handle(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.Status)
	s.True(gjson.GetBytes(resp.Body, "duplicate").Bool(), string(resp.Body))
	s.Equal(int64(1), s.countExecutions(fn.ID, ""))

	// missing required parameter is rejected before anything is stored
	resp, err = s.ingress.Handle(s.ctx, webhook.Request{Key: key, Body: []byte(`{}`), ClientIP: "10.0.0.1"})
	s.Require().NoError(err)
	s.Equal(http.StatusUnprocessableEntity, resp.Status)
	s.Equal(int64(1), s.countExecutions(fn.ID, ""))
}

func (s *EngineSuite) TestFunctionChangeEvictsCachedWebhook() {
	key := "itest-" + gofakeit.LetterN(12)
	fn := model.NewFunction(&model.Function{
		CompanyID:  s.companyID,
		IsActive:   true,
		WebhookKey: &key,
		Triggers: []model.Trigger{{
			ID:       gofakeit.UUID(),
			Type:     model.TriggerWebhook,
			IsActive: true,
			Config:   model.MustJSON(model.WebhookConfig{ResponseFormat: model.ResponseMinimal}),
		}},
	})
	s.seedFunction(fn)

	call := func() int {
		resp, err := s.ingress.Handle(s.ctx, webhook.Request{Key: key, Body: []byte(`{}`), ClientIP: "10.0.0.2"})
		s.Require().NoError(err)
		return resp.Status
	}
	s.Equal(http.StatusOK, call())

	s.Require().NoError(s.db.Model(&model.Function{}).Where("id = ?", fn.ID).Update("is_active", false).Error)
	s.Equal(http.StatusOK, call(), "cached definition is still served")

	data := utils.MustMarshalJSON(model.FunctionChangedPayload{FunctionID: fn.ID, CompanyID: s.companyID, WebhookKey: key})
	subject := string(model.V1FunctionChanged) + "." + s.companyID
	s.Require().NoError(s.js.Publish(subject, data, map[string]string{nats.MsgIdHdr: gofakeit.UUID()}))

	s.Eventually(func() bool { return call() == http.StatusNotFound }, waitFor, tick)
}

func (s *EngineSuite) TestDueScheduleRunsAndAdvances() {
	trig := model.Trigger{ID: gofakeit.UUID(), Type: model.TriggerSchedule, IsActive: true, Config: model.MustJSON(map[string]interface{}{})}
	fn := model.NewFunction(&model.Function{
		CompanyID: s.companyID,
		IsActive:  true,
		Triggers:  []model.Trigger{trig},
	})
	s.seedFunction(fn)

	past := utils.Now().Add(-time.Minute)
	sched := model.NewSchedule(&model.Schedule{
		FunctionID:     fn.ID,
		TriggerID:      trig.ID,
		CompanyID:      s.companyID,
		CronExpression: "*/5 * * * *",
		IsActive:       true,
		NextRunAt:      &past,
	})
	s.Require().NoError(s.db.Create(sched).Error)

	s.runner.RunDue(s.ctx)

	s.Equal(int64(1), s.countExecutions(fn.ID, model.ExecutionSuccess))

	var stored model.Schedule
	s.Require().NoError(s.db.First(&stored, "id = ?", sched.ID).Error)
	s.Require().NotNil(stored.NextRunAt)
	s.True(stored.NextRunAt.After(utils.Now()), "next run %s not advanced", stored.NextRunAt)
	s.Require().NotNil(stored.LastRunAt)
	s.Zero(stored.ErrorCount)

	var conv model.Conversation
	s.Require().NoError(s.db.Where("external_key = ?", model.ScheduleKeyPrefix+fn.ID).First(&conv).Error)

	// a second pass finds nothing due
	s.runner.RunDue(s.ctx)
	s.Equal(int64(1), s.countExecutions(fn.ID, ""))
}
