package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/storage"
	"gitlab.com/timkado/api/daisi-function-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-function-engine/internal/validator"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

// MessageService evaluates a bot's functions against inbound conversation messages.
type MessageService struct {
	functions     storage.FunctionRepo
	conversations storage.ConversationRepo
	matcher       TriggerMatcher
	runner        FunctionRunner
	log           *zap.Logger
}

func NewMessageService(functions storage.FunctionRepo, conversations storage.ConversationRepo, matcher TriggerMatcher, runner FunctionRunner) *MessageService {
	return &MessageService{
		functions:     functions,
		conversations: conversations,
		matcher:       matcher,
		runner:        runner,
		log:           logger.Log.Named("message_service"),
	}
}

// HandleInboundMessage stores the message on its conversation and runs every
// active function of the bot whose triggers match it. Functions are isolated:
// one failing run does not stop the others. The first storage failure is
// returned, classified for redelivery.
func (s *MessageService) HandleInboundMessage(ctx context.Context, payload model.InboundMessagePayload) error {
	log := logger.FromContextOr(ctx, s.log).With(
		zap.String("message_id", payload.MessageID),
		zap.String("conversation_id", payload.ConversationID),
		zap.String("bot_id", payload.BotID),
	)
	ctx = logger.WithLogger(ctx, log)
	start := utils.Now()

	if err := validator.Validate(payload); err != nil {
		log.Error("Inbound message validation failed", zap.Error(err))
		return apperrors.NewFatal(err, "invalid inbound message %s", payload.MessageID)
	}
	if err := tenant.ValidateCompany(ctx, payload.CompanyID); err != nil {
		log.Error("CompanyID validation failed for message", zap.String("company_id", payload.CompanyID), zap.Error(err))
		return apperrors.NewFatal(err, "company validation error for message %s", payload.MessageID)
	}

	conv, err := s.conversations.Ensure(ctx, model.Conversation{
		ID:           payload.ConversationID,
		BotID:        payload.BotID,
		CompanyID:    payload.CompanyID,
		Channel:      payload.Channel,
		ContactName:  payload.Contact.Name,
		ContactPhone: payload.Contact.Phone,
		ContactEmail: payload.Contact.Email,
	})
	if err != nil {
		return handleRepositoryError(ctx, err, "EnsureConversation", payload.MessageID)
	}

	createdAt := payload.Timestamp
	if createdAt.IsZero() {
		createdAt = utils.Now()
	}
	msg := model.Message{
		ID:             payload.MessageID,
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        payload.Text,
		CreatedAt:      createdAt.UTC(),
	}
	if err := s.conversations.AddMessage(ctx, &msg); err != nil {
		return handleRepositoryError(ctx, err, "AddMessage", payload.MessageID)
	}

	if conv.IsPaused {
		log.Info("Conversation is paused, functions not evaluated")
		return nil
	}

	functions, err := s.functions.FindActiveByBot(ctx, payload.BotID)
	if err != nil {
		return handleRepositoryError(ctx, err, "FindActiveFunctionsByBot", payload.MessageID)
	}
	if len(functions) == 0 {
		log.Debug("Bot has no active functions")
		return nil
	}

	ev := &model.Event{
		Source:       model.SourceMessage,
		Message:      msg,
		Conversation: conv,
		Metadata:     payload.Metadata,
		ReceivedAt:   start,
	}

	var firstErr error
	executed := 0
	for i := range functions {
		fn := &functions[i]
		t, _, ok := s.matcher.FirstMatch(ctx, fn, ev)
		if !ok {
			continue
		}
		fnCtx := logger.WithLogger(ctx, log.With(zap.String("function_id", fn.ID), zap.String("trigger_id", t.ID)))
		res, err := s.run(fnCtx, fn, ev)
		if err != nil {
			logger.FromContext(fnCtx).Error("Function run failed", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if res.Status == RunExecuted {
			executed++
		}
	}

	log.Info("Inbound message processed",
		zap.Int("functions", len(functions)),
		zap.Int("executed", executed),
		zap.Duration("duration", time.Since(start)),
	)
	return handleRepositoryError(ctx, firstErr, "ExecuteFunction", payload.MessageID)
}

// run isolates a single function run from panics.
func (s *MessageService) run(ctx context.Context, fn *model.Function, ev *model.Event) (res *RunResult, err error) {
	err = utils.WrapWithContextRecovery(func(ctx context.Context) error {
		var runErr error
		res, runErr = s.runner.Execute(ctx, fn, ev)
		return runErr
	})(ctx)
	return res, err
}
