package action

import (
	"strings"
	"time"

	"github.com/spf13/cast"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

// Fields that CRMs store as lists of typed values.
var multiValueFields = map[string]struct{}{
	"phone": {},
	"email": {},
}

// ResolveFields evaluates a field mapping in order. Mappings whose source has
// no value are skipped; later mappings overwrite earlier ones for the same field.
func ResolveFields(mappings []model.FieldMapping, params map[string]interface{}, conv *model.Conversation, now time.Time) map[string]interface{} {
	out := make(map[string]interface{}, len(mappings))
	for _, m := range mappings {
		if m.CRMField == "" {
			continue
		}
		switch m.SourceType {
		case model.SourceParameter:
			if v, ok := params[m.Value]; ok && v != nil {
				out[m.CRMField] = v
			}
		case model.SourceStatic:
			out[m.CRMField] = m.Value
		case model.SourceDynamic:
			out[m.CRMField] = Render(m.Value, params, now)
		case model.SourceConversation:
			if conv == nil {
				continue
			}
			if v, ok := conv.Attribute(m.Value); ok {
				out[m.CRMField] = v
			}
		}
	}
	return out
}

// Render substitutes {code} with parameter values, plus {current_date} and
// {current_datetime}. Unknown placeholders are left as they are.
func Render(tmpl string, params map[string]interface{}, now time.Time) string {
	return utils.ReplacePlaceholders(tmpl, func(key string) (string, bool) {
		switch key {
		case "current_date":
			return now.Format("2006-01-02"), true
		case "current_datetime":
			return now.Format(time.RFC3339), true
		}
		v, ok := params[key]
		if !ok || v == nil {
			return "", false
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return "", false
		}
		return s, true
	})
}

// WrapMultiValue converts plain phone and email values into the list shape the
// provider expects. Values that are already structured are returned unchanged.
func WrapMultiValue(provider, field string, v interface{}) interface{} {
	if _, ok := multiValueFields[strings.ToLower(field)]; !ok {
		return v
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	switch strings.ToLower(provider) {
	case "bitrix24":
		return []map[string]interface{}{{"VALUE": s, "VALUE_TYPE": "WORK"}}
	case "amocrm":
		return []map[string]interface{}{{"value": s, "enum_code": "WORK"}}
	default:
		return []map[string]interface{}{{"value": s, "type": "work"}}
	}
}

// crmFields merges static config with mapped fields (mapped values win) and
// wraps multi-value fields for the provider.
func crmFields(provider string, static, fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(static)+len(fields))
	for k, v := range static {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	for k, v := range out {
		out[k] = WrapMultiValue(provider, k, v)
	}
	return out
}

// templateValues is the lookup set for templates in webhook and email configs:
// parameters overlaid with the resolved field mapping.
func templateValues(in Input) map[string]interface{} {
	out := make(map[string]interface{}, len(in.Params)+len(in.Fields))
	for k, v := range in.Params {
		out[k] = v
	}
	for k, v := range in.Fields {
		out[k] = v
	}
	return out
}
