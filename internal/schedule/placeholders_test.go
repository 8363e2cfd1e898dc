package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

func TestTimeValues(t *testing.T) {
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	now := at("2026-12-31T20:00:00Z") // already 2027-01-01 in Jakarta

	values := TimeValues(now, jakarta)

	assert.Equal(t, "2027-01-01", values["today"])
	assert.Equal(t, "2026-12-31", values["yesterday"])
	assert.Equal(t, "2027-01-02", values["tomorrow"])
	assert.Equal(t, "2027-01", values["current_month"])
	assert.Equal(t, "2027", values["current_year"])
	assert.Equal(t, "2027-01-01T03:00:00+07:00", values["now"])
	assert.Equal(t, "1798747200", values["timestamp"])
}

func TestInjectTimePlaceholders(t *testing.T) {
	fn := &model.Function{
		ID: "fn-1",
		Parameters: []model.Parameter{
			{Code: "report_date", Type: model.ParamDate, DefaultValue: "{yesterday}"},
			{Code: "note", Type: model.ParamString, DefaultValue: "fixed"},
		},
		Actions: []model.Action{{
			ID: "a-1",
			FieldMapping: model.MustJSON([]model.FieldMapping{
				{CRMField: "TITLE", SourceType: model.SourceDynamic, Value: "Report {today} for {customer}"},
				{CRMField: "SOURCE", SourceType: model.SourceStatic, Value: "cron {current_year}"},
				{CRMField: "DATE", SourceType: model.SourceParameter, Value: "{today}"},
			}),
		}},
	}
	values := TimeValues(at("2026-03-10T10:00:00Z"), time.UTC)

	out, err := InjectTimePlaceholders(fn, values)
	require.NoError(t, err)

	assert.Equal(t, "2026-03-09", out.Parameters[0].DefaultValue)
	assert.Equal(t, "fixed", out.Parameters[1].DefaultValue)

	mappings, err := out.Actions[0].Mappings()
	require.NoError(t, err)
	assert.Equal(t, "Report 2026-03-10 for {customer}", mappings[0].Value)
	assert.Equal(t, "cron 2026", mappings[1].Value)
	assert.Equal(t, "{today}", mappings[2].Value)

	// the stored function is untouched
	assert.Equal(t, "{yesterday}", fn.Parameters[0].DefaultValue)
	original, err := fn.Actions[0].Mappings()
	require.NoError(t, err)
	assert.Equal(t, "Report {today} for {customer}", original[0].Value)
}
