package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// ActionResult is the outcome of a single action within an execution.
type ActionResult struct {
	ActionID string                 `json:"action_id"`
	Type     ActionType             `json:"type"`
	Provider string                 `json:"provider,omitempty"`
	Success  bool                   `json:"success"`
	Critical bool                   `json:"critical,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Execution records one run of a function for one triggering message.
// (function_id, message_id) is unique.
type Execution struct {
	ID              string            `json:"id" gorm:"primaryKey;column:id"`
	FunctionID      string            `json:"function_id" gorm:"column:function_id;uniqueIndex:idx_executions_function_message"`
	MessageID       string            `json:"message_id" gorm:"column:message_id;uniqueIndex:idx_executions_function_message"`
	ConversationID  string            `json:"conversation_id" gorm:"column:conversation_id;index"`
	CompanyID       string            `json:"company_id" gorm:"column:company_id"`
	Source          string            `json:"source,omitempty" gorm:"column:source"`
	ExtractedParams datatypes.JSONMap `json:"extracted_params,omitempty" gorm:"type:jsonb;column:extracted_params"`
	ActionResults   datatypes.JSON    `json:"action_results,omitempty" gorm:"type:jsonb;column:action_results"`
	Status          ExecutionStatus   `json:"status" gorm:"column:status;index"`
	ErrorMessage    string            `json:"error_message,omitempty" gorm:"column:error_message"`
	ExecutedAt      time.Time         `json:"executed_at" gorm:"column:executed_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty" gorm:"column:completed_at"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Execution) TableName(namer schema.Namer) string {
	return namer.TableName("executions")
}

// SetResults stores the ordered action results as JSON.
func (e *Execution) SetResults(results []ActionResult) error {
	if results == nil {
		results = []ActionResult{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return err
	}
	e.ActionResults = datatypes.JSON(data)
	return nil
}

// Results decodes the stored action results.
func (e *Execution) Results() ([]ActionResult, error) {
	if len(e.ActionResults) == 0 {
		return nil, nil
	}
	var out []ActionResult
	if err := json.Unmarshal(e.ActionResults, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IsTerminal reports whether the execution already left pending.
func (e *Execution) IsTerminal() bool {
	return e.Status == ExecutionSuccess || e.Status == ExecutionFailed
}
