package schedule

import (
	"strconv"
	"time"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

// TimeValues returns the time placeholders available to scheduled runs,
// rendered in loc.
func TimeValues(now time.Time, loc *time.Location) map[string]string {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	const day = "2006-01-02"
	return map[string]string{
		"now":           local.Format(time.RFC3339),
		"today":         local.Format(day),
		"yesterday":     local.AddDate(0, 0, -1).Format(day),
		"tomorrow":      local.AddDate(0, 0, 1).Format(day),
		"current_month": local.Format("2006-01"),
		"current_year":  local.Format("2006"),
		"timestamp":     strconv.FormatInt(now.Unix(), 10),
	}
}

// InjectTimePlaceholders returns a copy of fn whose parameter defaults and
// static or dynamic field mappings have the time placeholders filled in.
// Other placeholders are left for the action runner.
func InjectTimePlaceholders(fn *model.Function, values map[string]string) (*model.Function, error) {
	lookup := func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}

	out := *fn
	out.Parameters = make([]model.Parameter, len(fn.Parameters))
	for i, p := range fn.Parameters {
		p.DefaultValue = utils.ReplacePlaceholders(p.DefaultValue, lookup)
		out.Parameters[i] = p
	}

	out.Actions = make([]model.Action, len(fn.Actions))
	for i, a := range fn.Actions {
		mappings, err := a.Mappings()
		if err != nil {
			return nil, err
		}
		changed := false
		for j, m := range mappings {
			if m.SourceType != model.SourceStatic && m.SourceType != model.SourceDynamic {
				continue
			}
			if v := utils.ReplacePlaceholders(m.Value, lookup); v != m.Value {
				mappings[j].Value = v
				changed = true
			}
		}
		if changed {
			a.FieldMapping = model.MustJSON(mappings)
		}
		out.Actions[i] = a
	}
	return &out, nil
}
