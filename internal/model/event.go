package model

import (
	"strings"
	"time"
)

// EventType represents different types of events
type EventType string

// Common event type constants (with versioning)
const (
	V1ConversationMessage  EventType = "v1.conversations.message"
	V1ConversationOutbound EventType = "v1.conversations.outbound"
	V1AdminNotification    EventType = "v1.notifications.admin"
	V1FunctionChanged      EventType = "v1.functions.changed"
)

// MapToBaseEventType maps a subject (possibly suffixed with a company id)
// back to a known base EventType.
func MapToBaseEventType(input string) (EventType, bool) {
	switch EventType(input) {
	case V1ConversationMessage, V1ConversationOutbound, V1AdminNotification, V1FunctionChanged:
		return EventType(input), true
	}

	lastDotIndex := strings.LastIndex(input, ".")
	if lastDotIndex <= 0 {
		return "", false
	}

	switch base := EventType(input[:lastDotIndex]); base {
	case V1ConversationMessage, V1ConversationOutbound, V1AdminNotification, V1FunctionChanged:
		return base, true
	default:
		return "", false
	}
}

// MessageMetadata carries JetStream delivery data through the router.
type MessageMetadata struct {
	ConsumerSequence uint64
	StreamSequence   uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	Domain           string
	MessageID        string
	MessageSubject   string
	CompanyID        string
}

// GetVersion extracts the version from an event type
// Returns the version string (e.g., "v1") or an empty string if no version specified
func (e EventType) GetVersion() string {
	parts := strings.SplitN(string(e), ".", 2)
	if len(parts) < 2 {
		return ""
	}
	if len(parts[0]) >= 2 && parts[0][0] == 'v' {
		return parts[0]
	}
	return ""
}

// GetBaseType returns the event type without the version prefix
// For example: "v1.conversations.message" -> "conversations.message"
func (e EventType) GetBaseType() EventType {
	version := e.GetVersion()
	if version == "" {
		return e
	}
	return EventType(strings.TrimPrefix(string(e), version+"."))
}

// EventSource says where a function run originated.
type EventSource string

const (
	SourceMessage  EventSource = "message"
	SourceSchedule EventSource = "schedule"
	SourceWebhook  EventSource = "webhook"
)

// ContactInfo is the sender data attached to an inbound message.
type ContactInfo struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// InboundMessagePayload is published on v1.conversations.message.<company>.
type InboundMessagePayload struct {
	ConversationID string                 `json:"conversation_id" validate:"required"`
	MessageID      string                 `json:"message_id" validate:"required"`
	BotID          string                 `json:"bot_id" validate:"required"`
	CompanyID      string                 `json:"company_id" validate:"required"`
	Channel        string                 `json:"channel,omitempty"`
	Text           string                 `json:"text"`
	Contact        ContactInfo            `json:"contact,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Timestamp      time.Time              `json:"timestamp,omitempty"`
}

// FunctionChangedPayload is published on v1.functions.changed.<company> after a
// function is edited, deactivated or deleted. An empty WebhookKey means every
// cached function of the company is stale.
type FunctionChangedPayload struct {
	FunctionID         string `json:"function_id"`
	CompanyID          string `json:"company_id"`
	WebhookKey         string `json:"webhook_key,omitempty"`
	PreviousWebhookKey string `json:"previous_webhook_key,omitempty"`
}

// OutboundMessage is a system message handed to channel delivery.
type OutboundMessage struct {
	ConversationID string    `json:"conversation_id"`
	CompanyID      string    `json:"company_id"`
	ExecutionID    string    `json:"execution_id,omitempty"`
	MessageID      string    `json:"message_id"`
	Channel        string    `json:"channel,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// AdminNotification is published when an operator should look at a failure.
type AdminNotification struct {
	CompanyID  string      `json:"company_id"`
	FunctionID string      `json:"function_id"`
	Source     EventSource `json:"source"`
	Severity   string      `json:"severity"`
	Message    string      `json:"message"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Event is what trigger evaluation and function execution see, whatever the source.
type Event struct {
	Source       EventSource
	Message      Message
	Conversation *Conversation
	Metadata     map[string]interface{}
	// Params, when non-nil, replaces AI extraction (webhook mappings, scheduled defaults).
	Params     map[string]interface{}
	ReceivedAt time.Time
}

// Text returns the message content of the event.
func (e *Event) Text() string {
	return e.Message.Content
}
