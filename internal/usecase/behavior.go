package usecase

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

// applyBehavior performs the post-run side effects configured on the function.
// Failures are logged; the execution outcome is already recorded.
func (x *Executor) applyBehavior(ctx context.Context, fn *model.Function, conv *model.Conversation, res *RunResult) {
	b := fn.Behavior
	if b == nil {
		return
	}
	log := logger.FromContext(ctx)

	if res.Succeeded() {
		if b.SuccessMessage != "" {
			text := utils.ReplacePlaceholders(b.SuccessMessage, resultLookup(res))
			x.sendSystemMessage(ctx, conv, res.Execution, text)
		}
		switch strings.ToLower(b.OnSuccess) {
		case model.OnSuccessPause:
			x.pause(ctx, conv)
		case model.OnSuccessEnhancePrompt:
			if strings.TrimSpace(b.PromptEnhancement) == "" {
				break
			}
			if err := x.conversations.AppendContext(ctx, conv.ID, b.PromptEnhancement); err != nil {
				log.Warn("Failed to enhance conversation prompt", zap.Error(err))
			}
		}
		return
	}

	errText := res.Execution.ErrorMessage
	if b.ErrorMessage != "" {
		lookup := resultLookup(res)
		text := utils.ReplacePlaceholders(b.ErrorMessage, func(key string) (string, bool) {
			if key == "error" {
				return errText, true
			}
			return lookup(key)
		})
		x.sendSystemMessage(ctx, conv, res.Execution, text)
	}
	switch strings.ToLower(b.OnError) {
	case model.OnErrorPause:
		x.pause(ctx, conv)
	case model.OnErrorNotify:
		if x.sender == nil {
			log.Warn("No sender configured, admin notification dropped")
			return
		}
		n := model.AdminNotification{
			CompanyID:  conv.CompanyID,
			FunctionID: fn.ID,
			Source:     model.EventSource(res.Execution.Source),
			Severity:   "error",
			Message:    "Function " + fn.Name + " failed: " + errText,
			OccurredAt: x.now(),
		}
		if err := x.sender.NotifyAdmin(ctx, n); err != nil {
			log.Warn("Failed to notify admin", zap.Error(err))
		}
	}
}

func (x *Executor) pause(ctx context.Context, conv *model.Conversation) {
	if err := x.conversations.SetPaused(ctx, conv.ID, true); err != nil {
		logger.FromContext(ctx).Warn("Failed to pause conversation", zap.Error(err))
		return
	}
	conv.IsPaused = true
}

// sendSystemMessage stores text on the conversation and hands it to channel delivery.
func (x *Executor) sendSystemMessage(ctx context.Context, conv *model.Conversation, exec *model.Execution, text string) {
	log := logger.FromContext(ctx)
	if strings.TrimSpace(text) == "" {
		return
	}
	msg := model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           model.RoleSystem,
		Content:        text,
		CreatedAt:      x.now(),
	}
	if err := x.conversations.AddMessage(ctx, &msg); err != nil {
		log.Warn("Failed to store system message", zap.Error(err))
	}
	if x.sender == nil {
		return
	}
	out := model.OutboundMessage{
		ConversationID: conv.ID,
		CompanyID:      conv.CompanyID,
		ExecutionID:    exec.ID,
		MessageID:      msg.ID,
		Channel:        conv.Channel,
		Text:           text,
		CreatedAt:      msg.CreatedAt,
	}
	if err := x.sender.SendSystemMessage(ctx, out); err != nil {
		log.Warn("Failed to deliver system message", zap.Error(err))
	}
}

// resultLookup resolves message placeholders from action result data, in
// action order, then from the run parameters.
func resultLookup(res *RunResult) func(key string) (string, bool) {
	return func(key string) (string, bool) {
		for _, r := range res.Results {
			if !r.Success {
				continue
			}
			if v, ok := r.Data[key]; ok && v != nil {
				if s, err := cast.ToStringE(v); err == nil {
					return s, true
				}
			}
		}
		if v, ok := res.Params[key]; ok && v != nil {
			if s, err := cast.ToStringE(v); err == nil {
				return s, true
			}
		}
		return "", false
	}
}
