package model

import (
	"time"
	_ "time/tzdata"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// ErrorPolicy decides what happens when a scheduled run fails.
type ErrorPolicy string

const (
	PolicyLog     ErrorPolicy = "log"
	PolicyRetry   ErrorPolicy = "retry"
	PolicyDisable ErrorPolicy = "disable"
	PolicyNotify  ErrorPolicy = "notify"
)

// IntervalUnit is the unit of Schedule.Interval.
type IntervalUnit string

const (
	UnitMinutes IntervalUnit = "minutes"
	UnitHours   IntervalUnit = "hours"
	UnitDays    IntervalUnit = "days"
)

// Schedule is the timing state of one schedule-type trigger.
type Schedule struct {
	ID                string                   `json:"id" gorm:"primaryKey;column:id"`
	FunctionID        string                   `json:"function_id" gorm:"column:function_id;index"`
	TriggerID         string                   `json:"trigger_id" gorm:"column:trigger_id;uniqueIndex"`
	CompanyID         string                   `json:"company_id" gorm:"column:company_id"`
	CronExpression    string                   `json:"cron_expression,omitempty" gorm:"column:cron_expression"`
	TimeOfDay         string                   `json:"time_of_day,omitempty" gorm:"column:time_of_day"` // HH:MM
	DaysOfWeek        datatypes.JSONSlice[int] `json:"days_of_week,omitempty" gorm:"type:jsonb;column:days_of_week"`
	DaysOfMonth       datatypes.JSONSlice[int] `json:"days_of_month,omitempty" gorm:"type:jsonb;column:days_of_month"`
	Months            datatypes.JSONSlice[int] `json:"months,omitempty" gorm:"type:jsonb;column:months"`
	Interval          int                      `json:"interval,omitempty" gorm:"column:interval"`
	IntervalUnit      IntervalUnit             `json:"interval_unit,omitempty" gorm:"column:interval_unit"`
	Timezone          string                   `json:"timezone,omitempty" gorm:"column:timezone"`
	LastRunAt         *time.Time               `json:"last_run_at,omitempty" gorm:"column:last_run_at"`
	NextRunAt         *time.Time               `json:"next_run_at,omitempty" gorm:"column:next_run_at;index"`
	ErrorCount        int                      `json:"error_count" gorm:"column:error_count"`
	RetryCount        int                      `json:"retry_count" gorm:"column:retry_count"`
	IsActive          bool                     `json:"is_active" gorm:"column:is_active;default:true;index"`
	ErrorPolicy       ErrorPolicy              `json:"error_policy" gorm:"column:error_policy;default:log"`
	RetryDelayMinutes int                      `json:"retry_delay_minutes" gorm:"column:retry_delay_minutes;default:5"`
	MaxRetries        int                      `json:"max_retries" gorm:"column:max_retries;default:3"`
	LastError         string                   `json:"last_error,omitempty" gorm:"column:last_error"`
	CreatedAt         time.Time                `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Schedule) TableName(namer schema.Namer) string {
	return namer.TableName("schedules")
}

// Location resolves the schedule timezone, falling back to UTC.
func (s *Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
