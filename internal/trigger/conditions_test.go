package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

func cond(field, op, value, logic string, pos int) model.Condition {
	return model.Condition{ID: field + op, Field: field, Operator: op, Value: value, LogicOperator: logic, Position: pos}
}

func conditionTrigger(conds ...model.Condition) *model.Trigger {
	return &model.Trigger{ID: "cond", Type: model.TriggerCondition, IsActive: true, Conditions: conds}
}

func TestConditions_Operators(t *testing.T) {
	ev := messageEvent("Please call me back at +7 999 123-45-67")
	ev.Conversation.Channel = "whatsapp"
	ev.Metadata = map[string]interface{}{"utm": map[string]interface{}{"source": "google"}, "score": 42}
	e := NewEvaluator(nil, 0)

	tests := []struct {
		name string
		c    model.Condition
		want bool
	}{
		{"equals", cond("conversation.channel", OpEquals, "WhatsApp", "", 0), true},
		{"not_equals", cond("conversation.channel", OpNotEquals, "telegram", "", 0), true},
		{"contains", cond("message.text", OpContains, "call me", "", 0), true},
		{"not_contains", cond("message.text", OpNotContains, "refund", "", 0), true},
		{"starts_with", cond("message.text", OpStartsWith, "please", "", 0), true},
		{"ends_with", cond("message.text", OpEndsWith, "45-67", "", 0), true},
		{"gt length", cond("message.length", OpGreater, "10", "", 0), true},
		{"lte number", cond("event.score", OpLessEq, "42", "", 0), true},
		{"lt not numeric", cond("message.text", OpLess, "5", "", 0), false},
		{"hour gte", cond("time.hour", OpGreaterEq, "9", "", 0), true},
		{"weekday equals monday", cond("time.weekday", OpEquals, "1", "", 0), true},
		{"in list", cond("conversation.channel", OpIn, "telegram, whatsapp", "", 0), true},
		{"in json list", cond("conversation.channel", OpIn, `["web","sms"]`, "", 0), false},
		{"regex", cond("message.text", OpRegex, `\+7[\d\s-]+`, "", 0), true},
		{"bad regex", cond("message.text", OpRegex, `(`, "", 0), false},
		{"nested event field", cond("event.utm.source", OpEquals, "google", "", 0), true},
		{"exists", cond("event.utm", OpExists, "", "", 0), true},
		{"exists false", cond("event.missing", OpExists, "false", "", 0), true},
		{"missing field equals", cond("event.missing", OpEquals, "x", "", 0), false},
		{"missing field not_equals", cond("event.missing", OpNotEquals, "x", "", 0), true},
		{"expr", cond("", OpExpr, `message.length > 10 && conversation.channel == "whatsapp"`, "", 0), true},
		{"broken expr", cond("", OpExpr, `message.length >`, "", 0), false},
		{"unknown operator", cond("message.text", "sounds_like", "x", "", 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, _ := e.Matches(context.Background(), conditionTrigger(tt.c), ev)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestConditions_LeftToRightCombination(t *testing.T) {
	ev := messageEvent("hello world")
	e := NewEvaluator(nil, 0)
	yes := func(logic string, pos int) model.Condition {
		return cond("message.text", OpContains, "hello", logic, pos)
	}
	no := func(logic string, pos int) model.Condition {
		return cond("message.text", OpContains, "bye", logic, pos)
	}

	tests := []struct {
		name  string
		conds []model.Condition
		want  bool
	}{
		{"true AND false OR true", []model.Condition{yes("OR", 0), no("AND", 1), yes("OR", 2)}, true},
		{"false OR true AND false", []model.Condition{no("AND", 0), yes("OR", 1), no("AND", 2)}, false},
		{"first operator ignored", []model.Condition{no("OR", 0)}, false},
		{"positions define order", []model.Condition{no("AND", 2), yes("AND", 0), yes("OR", 1)}, false},
		{"lowercase or", []model.Condition{no("", 0), yes("or", 1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, detail := e.Matches(context.Background(), conditionTrigger(tt.conds...), ev)
			assert.Equal(t, tt.want, ok)
			assert.Len(t, detail.Conditions, len(tt.conds))
		})
	}
}

func TestConditions_EmptyListNeverMatches(t *testing.T) {
	ok, _ := NewEvaluator(nil, 0).Matches(context.Background(), conditionTrigger(), messageEvent("x"))
	assert.False(t, ok)
}
