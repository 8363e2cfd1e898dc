// Package action runs the side effects of a function: CRM records, outbound
// webhooks and emails.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

// Header is shared by every variant.
type Header struct {
	ActionID string
	Type     model.ActionType
	Provider string
	Critical bool
}

func (h Header) Head() Header { return h }

// Input is what a variant runs with: the function's parameters, the action's
// resolved field mapping and the conversation.
type Input struct {
	Params       map[string]interface{}
	Fields       map[string]interface{}
	Conversation *model.Conversation
}

// Variant is one decoded action.
type Variant interface {
	Head() Header
	Accept(ctx context.Context, v Visitor, in Input) (map[string]interface{}, error)
}

// Visitor performs each kind of action.
type Visitor interface {
	VisitCreateLead(ctx context.Context, a CreateLead, in Input) (map[string]interface{}, error)
	VisitCreateDeal(ctx context.Context, a CreateDeal, in Input) (map[string]interface{}, error)
	VisitCreateContact(ctx context.Context, a CreateContact, in Input) (map[string]interface{}, error)
	VisitCreateTask(ctx context.Context, a CreateTask, in Input) (map[string]interface{}, error)
	VisitWebhookGet(ctx context.Context, a WebhookGet, in Input) (map[string]interface{}, error)
	VisitWebhookPost(ctx context.Context, a WebhookPost, in Input) (map[string]interface{}, error)
	VisitSendEmail(ctx context.Context, a SendEmail, in Input) (map[string]interface{}, error)
}

// CreateLead creates a lead in the provider's CRM. Static holds fixed field values.
type CreateLead struct {
	Header
	Static map[string]interface{}
}

func (a CreateLead) Accept(ctx context.Context, v Visitor, in Input) (map[string]interface{}, error) {
	return v.VisitCreateLead(ctx, a, in)
}

type CreateDeal struct {
	Header
	Static map[string]interface{}
}

func (a CreateDeal) Accept(ctx context.Context, v Visitor, in Input) (map[string]interface{}, error) {
	return v.VisitCreateDeal(ctx, a, in)
}

type CreateContact struct {
	Header
	Static map[string]interface{}
}

func (a CreateContact) Accept(ctx context.Context, v Visitor, in Input) (map[string]interface{}, error) {
	return v.VisitCreateContact(ctx, a, in)
}

// TaskConfig is the typed part of a create_task config.
type TaskConfig struct {
	Title             string `json:"title"`
	DueInHours        int    `json:"due_in_hours"`
	ResponsibleUserID string `json:"responsible_user_id"`
}

type CreateTask struct {
	Header
	TaskConfig
	Static map[string]interface{}
}

func (a CreateTask) Accept(ctx context.Context, v Visitor, in Input) (map[string]interface{}, error) {
	return v.VisitCreateTask(ctx, a, in)
}

// Request is the config of an outbound webhook. URL, header and query values
// may contain {code} placeholders.
type Request struct {
	URL     string                 `json:"url"`
	Headers map[string]string      `json:"headers,omitempty"`
	Query   map[string]string      `json:"query,omitempty"`
	Body    map[string]interface{} `json:"body,omitempty"`
}

type WebhookGet struct {
	Header
	Request
}

func (a WebhookGet) Accept(ctx context.Context, v Visitor, in Input) (map[string]interface{}, error) {
	return v.VisitWebhookGet(ctx, a, in)
}

type WebhookPost struct {
	Header
	Request
}

func (a WebhookPost) Accept(ctx context.Context, v Visitor, in Input) (map[string]interface{}, error) {
	return v.VisitWebhookPost(ctx, a, in)
}

// StringList accepts either a JSON string or an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if strings.TrimSpace(one) == "" {
			*l = nil
			return nil
		}
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// EmailConfig is the config of a send action. Every field is a template.
type EmailConfig struct {
	To      StringList `json:"to"`
	Cc      StringList `json:"cc,omitempty"`
	Subject string     `json:"subject"`
	Body    string     `json:"body"`
	HTML    bool       `json:"html,omitempty"`
}

type SendEmail struct {
	Header
	EmailConfig
}

func (a SendEmail) Accept(ctx context.Context, v Visitor, in Input) (map[string]interface{}, error) {
	return v.VisitSendEmail(ctx, a, in)
}

// Decode builds the typed variant for a stored action.
func Decode(a model.Action) (Variant, error) {
	h := Header{ActionID: a.ID, Type: a.Type, Provider: strings.ToLower(a.Provider), Critical: a.IsCritical}

	switch a.Type {
	case model.ActionCreateLead, model.ActionCreateDeal, model.ActionCreateContact:
		static, err := a.ConfigMap()
		if err != nil {
			return nil, err
		}
		switch a.Type {
		case model.ActionCreateLead:
			return CreateLead{Header: h, Static: static}, nil
		case model.ActionCreateDeal:
			return CreateDeal{Header: h, Static: static}, nil
		default:
			return CreateContact{Header: h, Static: static}, nil
		}

	case model.ActionCreateTask:
		static, err := a.ConfigMap()
		if err != nil {
			return nil, err
		}
		var cfg TaskConfig
		if err := decodeConfig(a, &cfg); err != nil {
			return nil, err
		}
		for _, k := range []string{"title", "due_in_hours", "responsible_user_id"} {
			delete(static, k)
		}
		return CreateTask{Header: h, TaskConfig: cfg, Static: static}, nil

	case model.ActionWebhookGet, model.ActionWebhookPost:
		var req Request
		if err := decodeConfig(a, &req); err != nil {
			return nil, err
		}
		if req.URL == "" {
			return nil, fmt.Errorf("%w: action %s has no url", apperrors.ErrValidation, a.ID)
		}
		if a.Type == model.ActionWebhookGet {
			return WebhookGet{Header: h, Request: req}, nil
		}
		return WebhookPost{Header: h, Request: req}, nil

	case model.ActionSendEmail:
		var cfg EmailConfig
		if err := decodeConfig(a, &cfg); err != nil {
			return nil, err
		}
		return SendEmail{Header: h, EmailConfig: cfg}, nil
	}

	return nil, fmt.Errorf("%w: unknown action type %q", apperrors.ErrValidation, a.Type)
}

func decodeConfig(a model.Action, v interface{}) error {
	if len(a.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(a.Config, v); err != nil {
		return fmt.Errorf("%w: action %s config: %w", apperrors.ErrValidation, a.ID, err)
	}
	return nil
}
