package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	aimock "gitlab.com/timkado/api/daisi-function-engine/internal/ai/mock"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

func TestCastValue(t *testing.T) {
	tests := []struct {
		name   string
		typ    model.ParamType
		in     interface{}
		want   interface{}
		wantOK bool
	}{
		{"string passthrough", model.ParamString, "  Ann ", "Ann", true},
		{"string from number", model.ParamString, 42.0, "42", true},
		{"empty string", model.ParamString, "   ", nil, false},
		{"null literal", model.ParamString, "null", nil, false},
		{"number with currency", model.ParamNumber, "1 500 руб", 1500.0, true},
		{"negative decimal", model.ParamNumber, "-12.50$", -12.5, true},
		{"json number", model.ParamNumber, 7.0, 7.0, true},
		{"number garbage", model.ParamNumber, "n/a", nil, false},
		{"number from bool", model.ParamNumber, true, nil, false},
		{"bool yes", model.ParamBoolean, "Yes", true, true},
		{"bool da", model.ParamBoolean, "да", true, true},
		{"bool net", model.ParamBoolean, "НЕТ", false, true},
		{"bool zero", model.ParamBoolean, 0.0, false, true},
		{"bool native", model.ParamBoolean, true, true, true},
		{"bool unknown", model.ParamBoolean, "maybe", nil, false},
		{"date iso", model.ParamDate, "2024-03-05", "2024-03-05", true},
		{"date dotted", model.ParamDate, "05.03.2024", "2024-03-05", true},
		{"date us", model.ParamDate, "03/05/2024", "2024-03-05", true},
		{"datetime", model.ParamDate, "2024-03-05 14:30", "2024-03-05T14:30:00Z", true},
		{"rfc3339", model.ParamDate, "2024-03-05T10:00:00+03:00", "2024-03-05T10:00:00+03:00", true},
		{"native time", model.ParamDate, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "2024-01-02", true},
		{"invalid date", model.ParamDate, "next tuesday-ish", nil, false},
		{"nil", model.ParamString, nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CastValue(tt.typ, tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func orderFunction() *model.Function {
	email := model.NewParameter("email", model.ParamString, false)
	email.Validation = "email"
	return model.NewFunction(&model.Function{
		IsActive: true,
		Parameters: []model.Parameter{
			model.NewParameter("order_id", model.ParamString, true),
			model.NewParameter("amount", model.ParamNumber, false),
			model.NewParameter("paid", model.ParamBoolean, false),
			model.NewParameter("delivery_date", model.ParamDate, false),
			email,
		},
	})
}

func TestExtractor_Extract(t *testing.T) {
	client := new(aimock.ClientMock)
	reply := "Sure:\n```json\n{\"order_id\": \"A-17\", \"amount\": \"1 500 руб\", \"paid\": \"да\", \"delivery_date\": \"05.03.2024\", \"email\": \"not-an-email\", \"extra\": 1}\n```"
	client.On("ExtractData", mock.Anything, mock.Anything).Return(reply, nil)

	x := NewExtractor(client, 10)
	fn := orderFunction()
	history := []model.Message{model.NewMessage("c1", model.RoleUser, "order A-17, 1500 руб, paid, deliver 05.03.2024")}

	got := x.Extract(context.Background(), fn, history)
	assert.Equal(t, map[string]interface{}{
		"order_id":      "A-17",
		"amount":        1500.0,
		"paid":          true,
		"delivery_date": "2024-03-05",
	}, got)
}

func TestExtractor_WindowAndPrompt(t *testing.T) {
	client := new(aimock.ClientMock)
	var prompt string
	client.On("ExtractData", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		prompt = args.String(1)
	}).Return(`{}`, nil)

	x := NewExtractor(client, 3)
	history := make([]model.Message, 0, 5)
	for i := 1; i <= 5; i++ {
		history = append(history, model.NewMessage("c1", model.RoleUser, fmt.Sprintf("turn-%d", i)))
	}
	x.Extract(context.Background(), orderFunction(), history)

	assert.NotContains(t, prompt, "turn-2")
	assert.Contains(t, prompt, "turn-3")
	assert.Contains(t, prompt, "turn-5")
	assert.Contains(t, prompt, "- order_id (string, required)")
	assert.True(t, strings.Index(prompt, "turn-3") < strings.Index(prompt, "turn-5"))
}

func TestExtractor_NeverFails(t *testing.T) {
	client := new(aimock.ClientMock)
	client.On("ExtractData", mock.Anything, mock.Anything).Return("", errors.New("timeout")).Once()
	client.On("ExtractData", mock.Anything, mock.Anything).Return("no json here", nil).Once()
	x := NewExtractor(client, 0)
	fn := orderFunction()

	assert.Empty(t, x.Extract(context.Background(), fn, nil))
	assert.Empty(t, x.Extract(context.Background(), fn, nil))
	assert.Empty(t, NewExtractor(nil, 0).Extract(context.Background(), fn, nil))
}

func TestRequiredParameters(t *testing.T) {
	fn := orderFunction()
	assert.Equal(t, []string{"order_id"}, MissingRequiredParameters(fn, map[string]interface{}{"order_id": "  "}))
	assert.False(t, HasRequiredParameters(fn, map[string]interface{}{"order_id": nil}))
	assert.True(t, HasRequiredParameters(fn, map[string]interface{}{"order_id": "A-1"}))
}

func TestInvalidParameters(t *testing.T) {
	fn := orderFunction()
	invalid := InvalidParameters(fn, map[string]interface{}{"order_id": "A-1", "amount": "lots", "email": "x@"})
	assert.ElementsMatch(t, []string{"amount", "email"}, invalid)
}

func TestAccumulate(t *testing.T) {
	fn := orderFunction()
	conv := model.NewConversation()

	fn.AccumulateParameters = false
	assert.Equal(t, map[string]interface{}{"amount": 1.0}, Accumulate(fn, conv, map[string]interface{}{"amount": 1.0}))
	assert.Empty(t, conv.AccumulatedParams.Get(fn.ID))

	fn.AccumulateParameters = true
	Accumulate(fn, conv, map[string]interface{}{"amount": 1.0})
	merged := Accumulate(fn, conv, map[string]interface{}{"amount": 2.0, "order_id": "A-1"})
	assert.Equal(t, map[string]interface{}{"amount": 2.0, "order_id": "A-1"}, merged)
	assert.True(t, HasRequiredParameters(fn, merged))
}

func TestApplyDefaults(t *testing.T) {
	params := []model.Parameter{
		{Code: "source", Type: model.ParamString, DefaultValue: "bot"},
		{Code: "qty", Type: model.ParamNumber, DefaultValue: "1"},
		{Code: "flag", Type: model.ParamBoolean, DefaultValue: "perhaps"},
	}
	out := ApplyDefaults(params, map[string]interface{}{"source": "landing"})
	assert.Equal(t, map[string]interface{}{"source": "landing", "qty": 1.0}, out)
}

func TestCastParameters_IgnoresUndeclared(t *testing.T) {
	values, rejected := CastParameters(context.Background(), orderFunction().Parameters, map[string]interface{}{"order_id": "A-1", "unknown": "x", "amount": "??"})
	require.Equal(t, map[string]interface{}{"order_id": "A-1"}, values)
	assert.Equal(t, []string{"amount"}, rejected)
}
