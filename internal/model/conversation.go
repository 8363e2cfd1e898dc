package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm/schema"
)

// Conversation keys for non-chat event sources.
const (
	ScheduleKeyPrefix = "function:"
	WebhookKeyPrefix  = "webhook:"
)

// Conversation is the context an event is evaluated in.
type Conversation struct {
	ID                string            `json:"id" gorm:"primaryKey;column:id"`
	BotID             string            `json:"bot_id" gorm:"column:bot_id;index"`
	CompanyID         string            `json:"company_id" gorm:"column:company_id;index"`
	ExternalKey       *string           `json:"external_key,omitempty" gorm:"column:external_key;uniqueIndex"`
	Channel           string            `json:"channel,omitempty" gorm:"column:channel"`
	ContactName       string            `json:"contact_name,omitempty" gorm:"column:contact_name"`
	ContactPhone      string            `json:"contact_phone,omitempty" gorm:"column:contact_phone"`
	ContactEmail      string            `json:"contact_email,omitempty" gorm:"column:contact_email"`
	IsPaused          bool              `json:"is_paused" gorm:"column:is_paused"`
	Context           string            `json:"context,omitempty" gorm:"column:context"`
	AccumulatedParams AccumulatedParams `json:"accumulated_params,omitempty" gorm:"type:jsonb;column:accumulated_params"`
	Messages          []Message         `json:"messages,omitempty" gorm:"foreignKey:ConversationID"`
	CreatedAt         time.Time         `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Conversation) TableName(namer schema.Namer) string {
	return namer.TableName("conversations")
}

// Attribute resolves a named conversation attribute for field mappings and conditions.
func (c *Conversation) Attribute(name string) (string, bool) {
	switch name {
	case "id", "conversation_id":
		return c.ID, true
	case "bot_id":
		return c.BotID, true
	case "company_id":
		return c.CompanyID, true
	case "channel":
		return c.Channel, true
	case "name", "contact_name":
		return c.ContactName, c.ContactName != ""
	case "phone", "contact_phone":
		return c.ContactPhone, c.ContactPhone != ""
	case "email", "contact_email":
		return c.ContactEmail, c.ContactEmail != ""
	case "external_key":
		if c.ExternalKey == nil {
			return "", false
		}
		return *c.ExternalKey, true
	case "context":
		return c.Context, c.Context != ""
	}
	return "", false
}

// MessageRole is who authored a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one turn of a conversation.
type Message struct {
	ID             string      `json:"id" gorm:"primaryKey;column:id"`
	ConversationID string      `json:"conversation_id" gorm:"column:conversation_id;index"`
	Role           MessageRole `json:"role" gorm:"column:role"`
	Content        string      `json:"content" gorm:"column:content"`
	CreatedAt      time.Time   `json:"created_at" gorm:"column:created_at;index"`
}

// TableName specifies the base table name for GORM migrations, respecting the Namer.
func (Message) TableName(namer schema.Namer) string {
	return namer.TableName("messages")
}

// AccumulatedParams holds partially collected parameters per function id.
// Stored as a single jsonb column on the conversation.
type AccumulatedParams map[string]map[string]interface{}

// Get returns a copy of the values collected for a function.
func (a AccumulatedParams) Get(functionID string) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range a[functionID] {
		out[k] = v
	}
	return out
}

// Merge overlays values onto what was collected for the function; new values win.
// It returns the merged set and stores it.
func (a *AccumulatedParams) Merge(functionID string, values map[string]interface{}) map[string]interface{} {
	if *a == nil {
		*a = AccumulatedParams{}
	}
	merged := a.Get(functionID)
	for k, v := range values {
		if v == nil {
			continue
		}
		merged[k] = v
	}
	(*a)[functionID] = merged
	return a.Get(functionID)
}

// Clear drops the collected values for a function.
func (a AccumulatedParams) Clear(functionID string) {
	delete(a, functionID)
}

// Value implements driver.Valuer.
func (a AccumulatedParams) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (a *AccumulatedParams) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*a = AccumulatedParams{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported accumulated params type %T", value)
	}
	out := AccumulatedParams{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
	}
	*a = out
	return nil
}
