package model

import (
	"encoding/json"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

// RandomJSONBMap generates JSON data from a map for testing.
func RandomJSONBMap(data map[string]interface{}) datatypes.JSON {
	bytes, _ := json.Marshal(data)
	return datatypes.JSON(bytes)
}

// MustJSON marshals any value into datatypes.JSON, panicking on failure. Test helper.
func MustJSON(v interface{}) datatypes.JSON {
	return datatypes.JSON(utils.MustMarshalJSON(v))
}

func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// NewFunction creates a Function with fake identity fields. Relations are left empty
// unless provided through the override.
func NewFunction(overrideDefaults ...*Function) *Function {
	base := &Function{
		ID:        gofakeit.UUID(),
		BotID:     gofakeit.UUID(),
		CompanyID: "tenant_" + gofakeit.LetterN(10),
		Name:      gofakeit.BuzzWord() + " " + gofakeit.Noun(),
		IsActive:  true,
		CreatedAt: utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt: utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.BotID != "" {
			base.BotID = ovr.BotID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		base.IsActive = ovr.IsActive
		base.AccumulateParameters = ovr.AccumulateParameters
		base.WebhookKey = ovr.WebhookKey
		base.Triggers = ovr.Triggers
		base.Parameters = ovr.Parameters
		base.Actions = ovr.Actions
		base.Behavior = ovr.Behavior
	}
	for i := range base.Triggers {
		base.Triggers[i].FunctionID = base.ID
	}
	for i := range base.Parameters {
		base.Parameters[i].FunctionID = base.ID
	}
	for i := range base.Actions {
		base.Actions[i].FunctionID = base.ID
	}
	if base.Behavior != nil {
		base.Behavior.FunctionID = base.ID
	}
	return base
}

// NewKeywordTrigger builds an active keyword trigger.
func NewKeywordTrigger(mode KeywordMode, keywords ...string) Trigger {
	return Trigger{
		ID:       gofakeit.UUID(),
		Type:     TriggerKeyword,
		IsActive: true,
		Config:   MustJSON(KeywordConfig{Keywords: keywords, Mode: mode}),
	}
}

// NewParameter builds a parameter with the given code and type.
func NewParameter(code string, typ ParamType, required bool) Parameter {
	return Parameter{
		ID:          gofakeit.UUID(),
		Code:        code,
		Type:        typ,
		IsRequired:  required,
		Description: gofakeit.Sentence(6),
	}
}

// NewAction builds an action of the given type with the provided mapping.
func NewAction(typ ActionType, provider string, position int, mappings ...FieldMapping) Action {
	a := Action{
		ID:       gofakeit.UUID(),
		Type:     typ,
		Provider: provider,
		Position: position,
	}
	if len(mappings) > 0 {
		a.FieldMapping = MustJSON(mappings)
	}
	return a
}

// NewConversation creates a Conversation instance with default fake data.
func NewConversation(overrideDefaults ...*Conversation) *Conversation {
	base := &Conversation{
		ID:                gofakeit.UUID(),
		BotID:             gofakeit.UUID(),
		CompanyID:         "tenant_" + gofakeit.LetterN(10),
		Channel:           gofakeit.RandomString([]string{"whatsapp", "telegram", "web"}),
		ContactName:       gofakeit.Name(),
		ContactPhone:      gofakeit.Phone(),
		ContactEmail:      gofakeit.Email(),
		AccumulatedParams: AccumulatedParams{},
		CreatedAt:         utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:         utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.BotID != "" {
			base.BotID = ovr.BotID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		base.ExternalKey = ovr.ExternalKey
		base.IsPaused = ovr.IsPaused
		base.Context = ovr.Context
		if ovr.AccumulatedParams != nil {
			base.AccumulatedParams = ovr.AccumulatedParams
		}
		base.Messages = ovr.Messages
	}
	return base
}

// NewMessage creates a Message instance with default fake data.
func NewMessage(conversationID string, role MessageRole, content string) Message {
	if content == "" {
		content = gofakeit.Sentence(8)
	}
	return Message{
		ID:             gofakeit.UUID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      utils.Now(),
	}
}

// NewSchedule creates an active Schedule with fake identifiers.
func NewSchedule(overrideDefaults ...*Schedule) *Schedule {
	base := &Schedule{
		ID:                gofakeit.UUID(),
		FunctionID:        gofakeit.UUID(),
		TriggerID:         gofakeit.UUID(),
		CompanyID:         "tenant_" + gofakeit.LetterN(10),
		CronExpression:    "*/5 * * * *",
		IsActive:          true,
		ErrorPolicy:       PolicyLog,
		RetryDelayMinutes: 5,
		MaxRetries:        3,
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.FunctionID != "" {
			base.FunctionID = ovr.FunctionID
		}
		if ovr.TriggerID != "" {
			base.TriggerID = ovr.TriggerID
		}
		if ovr.CompanyID != "" {
			base.CompanyID = ovr.CompanyID
		}
		base.CronExpression = ovr.CronExpression
		base.TimeOfDay = ovr.TimeOfDay
		base.DaysOfWeek = ovr.DaysOfWeek
		base.DaysOfMonth = ovr.DaysOfMonth
		base.Months = ovr.Months
		base.Interval = ovr.Interval
		base.IntervalUnit = ovr.IntervalUnit
		base.Timezone = ovr.Timezone
		base.LastRunAt = ovr.LastRunAt
		base.NextRunAt = ovr.NextRunAt
		base.ErrorCount = ovr.ErrorCount
		base.RetryCount = ovr.RetryCount
		base.IsActive = ovr.IsActive
		if ovr.ErrorPolicy != "" {
			base.ErrorPolicy = ovr.ErrorPolicy
		}
		if ovr.RetryDelayMinutes != 0 {
			base.RetryDelayMinutes = ovr.RetryDelayMinutes
		}
		if ovr.MaxRetries != 0 {
			base.MaxRetries = ovr.MaxRetries
		}
	}
	return base
}

// NewInboundMessagePayload creates a fake inbound message for the given company.
func NewInboundMessagePayload(companyID string) InboundMessagePayload {
	return InboundMessagePayload{
		ConversationID: gofakeit.UUID(),
		MessageID:      gofakeit.UUID(),
		BotID:          gofakeit.UUID(),
		CompanyID:      companyID,
		Channel:        "whatsapp",
		Text:           gofakeit.Sentence(10),
		Contact: ContactInfo{
			Name:  gofakeit.Name(),
			Phone: gofakeit.Phone(),
			Email: gofakeit.Email(),
		},
		Timestamp: utils.Now(),
	}
}
