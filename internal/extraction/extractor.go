// Package extraction turns conversation text into typed Function parameters.
package extraction

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/ai"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-function-engine/internal/validator"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/aijson"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

const defaultWindow = 10

// Extractor asks the AI for parameter values and casts them to their declared types.
type Extractor struct {
	ai     ai.Client
	window int
	log    *zap.Logger
}

func NewExtractor(aiClient ai.Client, window int) *Extractor {
	if window <= 0 {
		window = defaultWindow
	}
	return &Extractor{ai: aiClient, window: window, log: logger.Log.Named("extraction")}
}

// Extract returns the parameters found in the most recent turns of the
// conversation. It never fails: AI or parse errors produce an empty map.
func (x *Extractor) Extract(ctx context.Context, fn *model.Function, history []model.Message) map[string]interface{} {
	log := logger.FromContextOr(ctx, x.log).With(zap.String("function_id", fn.ID))
	if len(fn.Parameters) == 0 {
		return map[string]interface{}{}
	}
	if x.ai == nil {
		observer.IncExtraction("skipped")
		return map[string]interface{}{}
	}

	if len(history) > x.window {
		history = history[len(history)-x.window:]
	}
	raw, err := x.ai.ExtractData(ctx, BuildPrompt(fn.Parameters, history))
	if err != nil {
		observer.IncExtraction("ai_error")
		log.Warn("Parameter extraction call failed", zap.Error(err))
		return map[string]interface{}{}
	}

	values, rejected := CastParameters(ctx, fn.Parameters, aijson.ExtractObject(raw))
	log.Debug("Parameters extracted",
		zap.Strings("found", sortedKeys(values)),
		zap.Strings("rejected", rejected),
	)
	return values
}

// CastParameters keeps only declared parameters whose values cast to the
// declared type and satisfy the validation rules. Rejected codes are returned
// for logging.
func CastParameters(ctx context.Context, params []model.Parameter, raw map[string]interface{}) (map[string]interface{}, []string) {
	out := make(map[string]interface{}, len(params))
	var rejected []string
	for _, p := range params {
		v, ok := raw[p.Code]
		if !ok || v == nil {
			continue
		}
		typed, ok := CastValue(p.Type, v)
		if !ok {
			rejected = append(rejected, p.Code)
			continue
		}
		if err := validator.ValidateParam(p.Code, typed, p.Validation); err != nil {
			logger.FromContext(ctx).Debug("Parameter failed validation", zap.String("code", p.Code), zap.Error(err))
			rejected = append(rejected, p.Code)
			continue
		}
		out[p.Code] = typed
	}
	return out, rejected
}

// ApplyDefaults fills absent parameters from their default values.
// Defaults are cast like extracted values; invalid defaults are ignored.
func ApplyDefaults(params []model.Parameter, values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, p := range params {
		if p.DefaultValue == "" || present(out[p.Code]) {
			continue
		}
		if typed, ok := CastValue(p.Type, p.DefaultValue); ok {
			out[p.Code] = typed
		}
	}
	return out
}

// Accumulate merges newly extracted values into the conversation's stored
// values for the function when the function accumulates parameters.
func Accumulate(fn *model.Function, conv *model.Conversation, values map[string]interface{}) map[string]interface{} {
	if !fn.ShouldAccumulate() || conv == nil {
		return values
	}
	return conv.AccumulatedParams.Merge(fn.ID, values)
}

// MissingRequiredParameters lists required parameter codes without a usable value.
func MissingRequiredParameters(fn *model.Function, values map[string]interface{}) []string {
	var missing []string
	for _, p := range fn.Parameters {
		if p.IsRequired && !present(values[p.Code]) {
			missing = append(missing, p.Code)
		}
	}
	return missing
}

// HasRequiredParameters reports whether every required parameter has a value.
func HasRequiredParameters(fn *model.Function, values map[string]interface{}) bool {
	return len(MissingRequiredParameters(fn, values)) == 0
}

// InvalidParameters lists codes whose values do not match their declared type or rules.
func InvalidParameters(fn *model.Function, values map[string]interface{}) []string {
	var invalid []string
	for _, p := range fn.Parameters {
		v, ok := values[p.Code]
		if !ok || v == nil {
			continue
		}
		typed, ok := CastValue(p.Type, v)
		if !ok || validator.ValidateParam(p.Code, typed, p.Validation) != nil {
			invalid = append(invalid, p.Code)
		}
	}
	return invalid
}

// BuildPrompt renders the extraction request for the AI.
func BuildPrompt(params []model.Parameter, history []model.Message) string {
	var b strings.Builder
	b.WriteString("Extract the following parameters from the conversation below.\n\nParameters:\n")
	for _, p := range params {
		req := "optional"
		if p.IsRequired {
			req = "required"
		}
		fmt.Fprintf(&b, "- %s (%s, %s)", p.Code, p.Type, req)
		if p.Description != "" {
			fmt.Fprintf(&b, ": %s", p.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nConversation (oldest first):\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\nReturn one JSON object whose keys are exactly the parameter codes. ")
	b.WriteString("Use null for any value that is not stated. Dates as YYYY-MM-DD, numbers without units.")
	return b.String()
}

func present(v interface{}) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
