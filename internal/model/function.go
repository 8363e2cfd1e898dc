package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
)

// TriggerType enumerates how a trigger decides whether its function fires.
type TriggerType string

const (
	TriggerKeyword   TriggerType = "keyword"
	TriggerPattern   TriggerType = "pattern"
	TriggerIntent    TriggerType = "intent"
	TriggerEntity    TriggerType = "entity"
	TriggerSchedule  TriggerType = "schedule"
	TriggerWebhook   TriggerType = "webhook"
	TriggerSentiment TriggerType = "sentiment"
	TriggerCondition TriggerType = "condition"
)

// ParamType is the declared type of an extracted parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamDate    ParamType = "date"
)

// ActionType identifies the side effect an action performs.
type ActionType string

const (
	ActionCreateLead    ActionType = "create_lead"
	ActionCreateDeal    ActionType = "create_deal"
	ActionCreateContact ActionType = "create_contact"
	ActionCreateTask    ActionType = "create_task"
	ActionWebhookGet    ActionType = "get"
	ActionWebhookPost   ActionType = "post"
	ActionSendEmail     ActionType = "send"
)

// Mapping source types for Action.FieldMapping entries.
const (
	SourceParameter    = "parameter"
	SourceStatic       = "static"
	SourceDynamic      = "dynamic"
	SourceConversation = "conversation"
)

// Behavior outcomes.
const (
	OnSuccessContinue      = "continue"
	OnSuccessPause         = "pause"
	OnSuccessEnhancePrompt = "enhance_prompt"
	OnErrorContinue        = "continue"
	OnErrorPause           = "pause"
	OnErrorNotify          = "notify"
)

// Function is a configured unit of automation attached to a bot.
type Function struct {
	ID                   string      `json:"id" gorm:"primaryKey;column:id"`
	BotID                string      `json:"bot_id" gorm:"column:bot_id;index"`
	CompanyID            string      `json:"company_id" gorm:"column:company_id;index"`
	Name                 string      `json:"name" gorm:"column:name"`
	Description          string      `json:"description,omitempty" gorm:"column:description"`
	IsActive             bool        `json:"is_active" gorm:"column:is_active;default:true"`
	AccumulateParameters bool        `json:"accumulate_parameters" gorm:"column:accumulate_parameters"`
	WebhookKey           *string     `json:"webhook_key,omitempty" gorm:"column:webhook_key;uniqueIndex"`
	Triggers             []Trigger   `json:"triggers,omitempty" gorm:"foreignKey:FunctionID"`
	Parameters           []Parameter `json:"parameters,omitempty" gorm:"foreignKey:FunctionID"`
	Actions              []Action    `json:"actions,omitempty" gorm:"foreignKey:FunctionID"`
	Behavior             *Behavior   `json:"behavior,omitempty" gorm:"foreignKey:FunctionID"`
	CreatedAt            time.Time   `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time   `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Function) TableName(namer schema.Namer) string {
	return namer.TableName("functions")
}

// Validate checks structural invariants that the database cannot enforce.
func (f *Function) Validate() error {
	seen := make(map[string]struct{}, len(f.Parameters))
	for _, p := range f.Parameters {
		if p.Code == "" {
			return fmt.Errorf("%w: function %s has a parameter without code", apperrors.ErrValidation, f.ID)
		}
		if _, dup := seen[p.Code]; dup {
			return fmt.Errorf("%w: function %s declares parameter %q twice", apperrors.ErrValidation, f.ID, p.Code)
		}
		seen[p.Code] = struct{}{}
	}
	return nil
}

// ShouldAccumulate reports whether partial parameters are kept across messages.
func (f *Function) ShouldAccumulate() bool {
	return f.AccumulateParameters
}

// SortedTriggers returns active triggers ordered by descending priority.
// Ties keep their stored order.
func (f *Function) SortedTriggers() []Trigger {
	out := make([]Trigger, 0, len(f.Triggers))
	for _, t := range f.Triggers {
		if t.IsActive {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// SortedActions returns the actions in execution order.
func (f *Function) SortedActions() []Action {
	out := make([]Action, len(f.Actions))
	copy(out, f.Actions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// TriggerOfType returns the first active trigger of the given type.
func (f *Function) TriggerOfType(tt TriggerType) (*Trigger, bool) {
	for i := range f.Triggers {
		if f.Triggers[i].Type == tt && f.Triggers[i].IsActive {
			return &f.Triggers[i], true
		}
	}
	return nil, false
}

// Trigger decides whether a function fires for an event.
type Trigger struct {
	ID         string         `json:"id" gorm:"primaryKey;column:id"`
	FunctionID string         `json:"function_id" gorm:"column:function_id;index"`
	Type       TriggerType    `json:"type" gorm:"column:type"`
	Priority   int            `json:"priority" gorm:"column:priority"`
	IsActive   bool           `json:"is_active" gorm:"column:is_active;default:true"`
	Config     datatypes.JSON `json:"config,omitempty" gorm:"type:jsonb;column:config"`
	Conditions []Condition    `json:"conditions,omitempty" gorm:"foreignKey:TriggerID"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Trigger) TableName(namer schema.Namer) string {
	return namer.TableName("triggers")
}

// DecodeConfig unmarshals the trigger's JSON config into v. An empty config leaves v untouched.
func (t *Trigger) DecodeConfig(v interface{}) error {
	if len(t.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Config, v); err != nil {
		return fmt.Errorf("%w: trigger %s config: %w", apperrors.ErrValidation, t.ID, err)
	}
	return nil
}

// SortedConditions returns the conditions ordered by position.
func (t *Trigger) SortedConditions() []Condition {
	out := make([]Condition, len(t.Conditions))
	copy(out, t.Conditions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// KeywordMode controls how keyword lists are matched.
type KeywordMode string

const (
	KeywordAny   KeywordMode = "any"
	KeywordAll   KeywordMode = "all"
	KeywordExact KeywordMode = "exact"
)

// KeywordConfig is the config of a keyword trigger.
type KeywordConfig struct {
	Keywords []string    `json:"keywords"`
	Mode     KeywordMode `json:"mode"`
}

// PatternConfig is the config of a pattern trigger.
type PatternConfig struct {
	Pattern string `json:"pattern"`
}

// IntentConfig is the config of an intent trigger.
type IntentConfig struct {
	Intent    string  `json:"intent"`
	Threshold float64 `json:"threshold"`
}

// EntityConfig is the config of an entity trigger.
type EntityConfig struct {
	Entity string   `json:"entity"`
	Hints  []string `json:"hints,omitempty"`
}

// SentimentConfig is the config of a sentiment trigger.
type SentimentConfig struct {
	Sentiment string  `json:"sentiment"`
	Threshold float64 `json:"threshold"`
}

// Webhook response formats.
const (
	ResponseFull    = "full"
	ResponseMinimal = "minimal"
	ResponseCustom  = "custom"
)

// WebhookConfig is the config of a webhook trigger.
type WebhookConfig struct {
	VerifySignature   bool              `json:"verify_signature"`
	Secret            string            `json:"secret,omitempty"`
	Algorithm         string            `json:"algorithm,omitempty"` // sha256 (default) or sha1
	SignatureHeader   string            `json:"signature_header,omitempty"`
	RateLimit         int               `json:"rate_limit,omitempty"`
	RateWindowSeconds int               `json:"rate_window_seconds,omitempty"`
	ParameterMapping  map[string]string `json:"parameter_mapping,omitempty"` // param code -> dot path in body
	IdentityField     string            `json:"identity_field,omitempty"`
	ResponseFormat    string            `json:"response_format,omitempty"`
	CustomResponse    map[string]string `json:"custom_response,omitempty"` // response path -> "{result.path}" template
}

// Condition is one clause of a condition trigger.
type Condition struct {
	ID            string `json:"id" gorm:"primaryKey;column:id"`
	TriggerID     string `json:"trigger_id" gorm:"column:trigger_id;index"`
	Type          string `json:"type,omitempty" gorm:"column:type"`
	Field         string `json:"field" gorm:"column:field"`
	Operator      string `json:"operator" gorm:"column:operator"`
	Value         string `json:"value" gorm:"column:value"`
	LogicOperator string `json:"logic_operator" gorm:"column:logic_operator;default:AND"`
	Position      int    `json:"position" gorm:"column:position"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Condition) TableName(namer schema.Namer) string {
	return namer.TableName("conditions")
}

// Parameter is a named, typed datum a function needs before its actions run.
type Parameter struct {
	ID           string    `json:"id" gorm:"primaryKey;column:id"`
	FunctionID   string    `json:"function_id" gorm:"column:function_id;uniqueIndex:idx_parameters_function_code"`
	Code         string    `json:"code" gorm:"column:code;uniqueIndex:idx_parameters_function_code"`
	Type         ParamType `json:"type" gorm:"column:type"`
	IsRequired   bool      `json:"is_required" gorm:"column:is_required"`
	Description  string    `json:"description,omitempty" gorm:"column:description"`
	Validation   string    `json:"validation,omitempty" gorm:"column:validation"`
	DefaultValue string    `json:"default_value,omitempty" gorm:"column:default_value"`
	Position     int       `json:"position" gorm:"column:position"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Parameter) TableName(namer schema.Namer) string {
	return namer.TableName("parameters")
}

// FieldMapping maps one target field of an action to a value source.
type FieldMapping struct {
	CRMField   string `json:"crm_field"`
	SourceType string `json:"source_type"`
	Value      string `json:"value"`
}

// Action is one side effect performed when a function fires.
type Action struct {
	ID           string         `json:"id" gorm:"primaryKey;column:id"`
	FunctionID   string         `json:"function_id" gorm:"column:function_id;index"`
	Type         ActionType     `json:"type" gorm:"column:type"`
	Provider     string         `json:"provider" gorm:"column:provider"`
	Config       datatypes.JSON `json:"config,omitempty" gorm:"type:jsonb;column:config"`
	FieldMapping datatypes.JSON `json:"field_mapping,omitempty" gorm:"type:jsonb;column:field_mapping"`
	Position     int            `json:"position" gorm:"column:position"`
	IsCritical   bool           `json:"is_critical" gorm:"column:is_critical"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Action) TableName(namer schema.Namer) string {
	return namer.TableName("actions")
}

// Mappings decodes the ordered field mapping list.
func (a *Action) Mappings() ([]FieldMapping, error) {
	if len(a.FieldMapping) == 0 {
		return nil, nil
	}
	var out []FieldMapping
	if err := json.Unmarshal(a.FieldMapping, &out); err != nil {
		return nil, fmt.Errorf("%w: action %s field mapping: %w", apperrors.ErrValidation, a.ID, err)
	}
	return out, nil
}

// ConfigMap decodes the static action config as a generic map.
func (a *Action) ConfigMap() (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(a.Config) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(a.Config, &out); err != nil {
		return nil, fmt.Errorf("%w: action %s config: %w", apperrors.ErrValidation, a.ID, err)
	}
	return out, nil
}

// Behavior describes what happens to the conversation after a run.
type Behavior struct {
	ID                string `json:"id" gorm:"primaryKey;column:id"`
	FunctionID        string `json:"function_id" gorm:"column:function_id;uniqueIndex"`
	OnSuccess         string `json:"on_success" gorm:"column:on_success;default:continue"`
	OnError           string `json:"on_error" gorm:"column:on_error;default:continue"`
	SuccessMessage    string `json:"success_message,omitempty" gorm:"column:success_message"`
	ErrorMessage      string `json:"error_message,omitempty" gorm:"column:error_message"`
	PromptEnhancement string `json:"prompt_enhancement,omitempty" gorm:"column:prompt_enhancement"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Behavior) TableName(namer schema.Namer) string {
	return namer.TableName("behaviors")
}
