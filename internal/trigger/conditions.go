package trigger

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/expr-lang/expr"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

// Condition operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"
	OpGreater     = "gt"
	OpGreaterEq   = "gte"
	OpLess        = "lt"
	OpLessEq      = "lte"
	OpIn          = "in"
	OpRegex       = "regex"
	OpExists      = "exists"
	OpExpr        = "expr"
)

// ConditionResult records the outcome of one condition.
type ConditionResult struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	Actual   string `json:"actual,omitempty"`
	Logic    string `json:"logic,omitempty"`
	Result   bool   `json:"result"`
}

// env is the data a condition can look at.
type env map[string]interface{}

func newEnv(ev *model.Event) env {
	now := ev.ReceivedAt
	if now.IsZero() {
		now = utils.Now()
	}

	conversation := map[string]interface{}{}
	if c := ev.Conversation; c != nil {
		for _, attr := range []string{"id", "bot_id", "company_id", "channel", "contact_name", "contact_phone", "contact_email", "external_key", "context"} {
			if v, ok := c.Attribute(attr); ok {
				conversation[attr] = v
			}
		}
	}

	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	return env{
		"message": map[string]interface{}{
			"text":   ev.Text(),
			"length": utf8.RuneCountInString(ev.Text()),
		},
		"conversation": conversation,
		"time": map[string]interface{}{
			"hour":    now.Hour(),
			"minute":  now.Minute(),
			"weekday": isoWeekday(now.Weekday()),
			"day":     now.Day(),
			"month":   int(now.Month()),
		},
		"event":  metadata,
		"source": string(ev.Source),
	}
}

// isoWeekday maps Sunday=0 to ISO numbering Monday=1..Sunday=7.
func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

// lookup resolves a dotted field path such as message.text or event.order.id.
func (e env) lookup(field string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(e)
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// evaluateConditions combines conditions left to right, each joined to the
// running result by its own logic operator. The first operator is ignored.
func (e *Evaluator) evaluateConditions(ctx context.Context, conds []model.Condition, data env) ([]ConditionResult, bool) {
	if len(conds) == 0 {
		return nil, false
	}

	results := make([]ConditionResult, 0, len(conds))
	var acc bool
	for i, c := range conds {
		actual, present := data.lookup(c.Field)
		ok := e.evaluateCondition(ctx, c, actual, present, data)

		logic := strings.ToUpper(strings.TrimSpace(c.LogicOperator))
		switch {
		case i == 0:
			acc = ok
			logic = ""
		case logic == "OR":
			acc = acc || ok
		default:
			logic = "AND"
			acc = acc && ok
		}
		results = append(results, ConditionResult{
			Field:    c.Field,
			Operator: c.Operator,
			Value:    c.Value,
			Actual:   cast.ToString(actual),
			Logic:    logic,
			Result:   ok,
		})
	}
	return results, acc
}

func (e *Evaluator) evaluateCondition(ctx context.Context, c model.Condition, actual interface{}, present bool, data env) bool {
	op := strings.ToLower(strings.TrimSpace(c.Operator))
	switch op {
	case OpExists:
		exists := present && actual != nil
		if s, ok := actual.(string); ok {
			exists = s != ""
		}
		if strings.EqualFold(strings.TrimSpace(c.Value), "false") {
			return !exists
		}
		return exists
	case OpExpr:
		return e.evaluateExpr(ctx, c.Value, data)
	}

	if !present || actual == nil {
		// a missing field only satisfies negative operators
		return op == OpNotEquals || op == OpNotContains
	}

	left := cast.ToString(actual)
	lower := strings.ToLower(left)
	value := strings.ToLower(c.Value)

	switch op {
	case OpEquals:
		return equal(actual, c.Value)
	case OpNotEquals:
		return !equal(actual, c.Value)
	case OpContains:
		return strings.Contains(lower, value)
	case OpNotContains:
		return !strings.Contains(lower, value)
	case OpStartsWith:
		return strings.HasPrefix(lower, value)
	case OpEndsWith:
		return strings.HasSuffix(lower, value)
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		return compareNumbers(op, actual, c.Value)
	case OpIn:
		for _, candidate := range listValues(c.Value) {
			if strings.EqualFold(strings.TrimSpace(candidate), left) {
				return true
			}
		}
		return false
	case OpRegex:
		re, err := e.patterns.get(c.Value)
		if err != nil {
			logger.FromContextOr(ctx, e.log).Warn("Invalid condition regex", zap.String("pattern", c.Value), zap.Error(err))
			return false
		}
		return re.MatchString(left)
	}

	logger.FromContextOr(ctx, e.log).Warn("Unknown condition operator", zap.String("operator", c.Operator), zap.String("condition_id", c.ID))
	return false
}

// equal compares numerically when both sides are numbers, otherwise case-insensitively.
func equal(actual interface{}, expected string) bool {
	if a, err := cast.ToFloat64E(actual); err == nil {
		if b, err := strconv.ParseFloat(strings.TrimSpace(expected), 64); err == nil {
			return a == b
		}
	}
	return strings.EqualFold(strings.TrimSpace(cast.ToString(actual)), strings.TrimSpace(expected))
}

func compareNumbers(op string, actual interface{}, expected string) bool {
	a, err := cast.ToFloat64E(actual)
	if err != nil {
		return false
	}
	b, err := cast.ToFloat64E(strings.TrimSpace(expected))
	if err != nil {
		return false
	}
	switch op {
	case OpGreater:
		return a > b
	case OpGreaterEq:
		return a >= b
	case OpLess:
		return a < b
	default:
		return a <= b
	}
}

// listValues accepts a JSON array or a comma separated list.
func listValues(v string) []string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "[") {
		var items []interface{}
		if err := json.Unmarshal([]byte(v), &items); err == nil {
			out := make([]string, 0, len(items))
			for _, item := range items {
				out = append(out, cast.ToString(item))
			}
			return out
		}
	}
	return strings.Split(v, ",")
}

// evaluateExpr runs an expr-lang boolean expression over the event data.
// Compile and runtime failures are logged and treated as false.
func (e *Evaluator) evaluateExpr(ctx context.Context, stmt string, data env) bool {
	stmt = strings.TrimSpace(stmt)
	if stmt == "" {
		return false
	}
	program, err := expr.Compile(stmt, expr.Env(map[string]interface{}(data)), expr.AllowUndefinedVariables())
	if err != nil {
		logger.FromContextOr(ctx, e.log).Warn("Invalid condition expression", zap.String("expr", stmt), zap.Error(err))
		return false
	}
	out, err := expr.Run(program, map[string]interface{}(data))
	if err != nil {
		logger.FromContextOr(ctx, e.log).Warn("Condition expression failed", zap.String("expr", stmt), zap.Error(err))
		return false
	}
	result, err := cast.ToBoolE(out)
	if err != nil {
		return false
	}
	return result
}
