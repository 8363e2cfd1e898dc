package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/delivery"
	"gitlab.com/timkado/api/daisi-function-engine/internal/extraction"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-function-engine/internal/storage"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

const defaultHistoryWindow = 10

// ParameterExtractor pulls parameter values out of conversation history.
type ParameterExtractor interface {
	Extract(ctx context.Context, fn *model.Function, history []model.Message) map[string]interface{}
}

// ActionRunner performs a single action.
type ActionRunner interface {
	Run(ctx context.Context, a model.Action, params map[string]interface{}, conv *model.Conversation) model.ActionResult
}

// RunStatus says how far a function run got.
type RunStatus string

const (
	RunExecuted   RunStatus = "executed"   // an Execution row was written
	RunDuplicate  RunStatus = "duplicate"  // the message already produced an Execution
	RunCollecting RunStatus = "collecting" // accumulated parameters are still incomplete
	RunInvalid    RunStatus = "invalid"    // parameters missing or failing validation
)

// RunResult is what a function run produced.
type RunResult struct {
	Status    RunStatus
	Execution *model.Execution
	Params    map[string]interface{}
	Results   []model.ActionResult
	Missing   []string
	Invalid   []string
}

// Succeeded reports whether the run wrote a successful Execution.
func (r *RunResult) Succeeded() bool {
	return r != nil && r.Status == RunExecuted && r.Execution != nil && r.Execution.Status == model.ExecutionSuccess
}

// Executor runs a matched function for an event: extraction, validation,
// actions, the Execution record and the function's behavior.
type Executor struct {
	executions    storage.ExecutionRepo
	conversations storage.ConversationRepo
	extractor     ParameterExtractor
	actions       ActionRunner
	sender        delivery.Sender
	historyWindow int
	now           func() time.Time
	log           *zap.Logger
}

func NewExecutor(
	executions storage.ExecutionRepo,
	conversations storage.ConversationRepo,
	extractor ParameterExtractor,
	actions ActionRunner,
	sender delivery.Sender,
	historyWindow int,
) *Executor {
	if historyWindow <= 0 {
		historyWindow = defaultHistoryWindow
	}
	return &Executor{
		executions:    executions,
		conversations: conversations,
		extractor:     extractor,
		actions:       actions,
		sender:        sender,
		historyWindow: historyWindow,
		now:           utils.Now,
		log:           logger.Log.Named("executor"),
	}
}

// Execute runs fn for ev. The event must carry its conversation and the
// message that identifies the run. Returned errors are storage failures;
// action failures are reported through the Execution.
func (x *Executor) Execute(ctx context.Context, fn *model.Function, ev *model.Event) (*RunResult, error) {
	if ev.Conversation == nil || ev.Message.ID == "" {
		return nil, fmt.Errorf("%w: event without conversation or message id", apperrors.ErrBadRequest)
	}
	conv := ev.Conversation
	log := logger.FromContextOr(ctx, x.log).With(
		zap.String("function_id", fn.ID),
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", ev.Message.ID),
		zap.String("source", string(ev.Source)),
	)
	ctx = logger.WithLogger(ctx, log)
	start := time.Now()

	exists, err := x.executions.Exists(ctx, fn.ID, ev.Message.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		log.Info("Execution already recorded for message, skipping")
		return &RunResult{Status: RunDuplicate}, nil
	}

	values, err := x.collectParameters(ctx, fn, ev)
	if err != nil {
		return nil, err
	}

	var stored map[string]interface{}
	if fn.ShouldAccumulate() {
		stored = extraction.Accumulate(fn, conv, values)
	} else {
		stored = values
	}
	params := extraction.ApplyDefaults(fn.Parameters, stored)

	missing := extraction.MissingRequiredParameters(fn, params)
	if len(missing) > 0 && fn.ShouldAccumulate() {
		if err := x.conversations.SaveAccumulatedParams(ctx, conv.ID, conv.AccumulatedParams); err != nil {
			return nil, err
		}
		log.Info("Waiting for more parameters", zap.Strings("missing", missing))
		return &RunResult{Status: RunCollecting, Params: params, Missing: missing}, nil
	}
	invalid := extraction.InvalidParameters(fn, params)
	if len(missing) > 0 || len(invalid) > 0 {
		verr := &apperrors.ValidationError{FunctionID: fn.ID, Missing: missing, Invalid: invalid}
		log.Info("Function skipped", zap.Error(verr))
		return &RunResult{Status: RunInvalid, Params: params, Missing: missing, Invalid: invalid}, nil
	}

	exec := &model.Execution{
		ID:              uuid.NewString(),
		FunctionID:      fn.ID,
		MessageID:       ev.Message.ID,
		ConversationID:  conv.ID,
		CompanyID:       conv.CompanyID,
		Source:          string(ev.Source),
		ExtractedParams: params,
	}
	if err := x.executions.Create(ctx, exec); err != nil {
		if apperrors.IsDuplicateError(err) {
			log.Info("Concurrent execution for message won, skipping")
			return &RunResult{Status: RunDuplicate}, nil
		}
		return nil, err
	}
	log = log.With(zap.String("execution_id", exec.ID))
	ctx = logger.WithLogger(ctx, log)

	results, criticalErr := x.runActions(ctx, fn, params, conv)
	if criticalErr != "" {
		exec.Status = model.ExecutionFailed
		exec.ErrorMessage = criticalErr
	} else {
		exec.Status = model.ExecutionSuccess
	}
	if err := exec.SetResults(results); err != nil {
		return nil, fmt.Errorf("encode action results: %w", err)
	}
	if err := x.executions.Complete(ctx, exec); err != nil {
		return nil, err
	}
	observer.ObserveExecution(string(ev.Source), conv.CompanyID, string(exec.Status), time.Since(start))
	log.Info("Function executed",
		zap.String("status", string(exec.Status)),
		zap.Int("actions", len(results)),
		zap.Duration("duration", time.Since(start)),
	)

	res := &RunResult{Status: RunExecuted, Execution: exec, Params: params, Results: results}

	if res.Succeeded() && fn.ShouldAccumulate() && len(conv.AccumulatedParams[fn.ID]) > 0 {
		conv.AccumulatedParams.Clear(fn.ID)
		if err := x.conversations.SaveAccumulatedParams(ctx, conv.ID, conv.AccumulatedParams); err != nil {
			log.Warn("Failed to clear accumulated parameters", zap.Error(err))
		}
	}

	x.applyBehavior(ctx, fn, conv, res)
	return res, nil
}

// collectParameters returns the event's own parameters when it carries them,
// otherwise asks the extractor over the recent conversation.
func (x *Executor) collectParameters(ctx context.Context, fn *model.Function, ev *model.Event) (map[string]interface{}, error) {
	if ev.Params != nil {
		values, rejected := extraction.CastParameters(ctx, fn.Parameters, ev.Params)
		if len(rejected) > 0 {
			logger.FromContext(ctx).Debug("Event parameters rejected", zap.Strings("codes", rejected))
		}
		return values, nil
	}
	if len(fn.Parameters) == 0 || x.extractor == nil {
		return map[string]interface{}{}, nil
	}
	history, err := x.conversations.RecentMessages(ctx, ev.Conversation.ID, x.historyWindow)
	if err != nil {
		return nil, err
	}
	return x.extractor.Extract(ctx, fn, history), nil
}

// runActions runs the function's actions in position order. A failed critical
// action stops the run; its error is returned.
func (x *Executor) runActions(ctx context.Context, fn *model.Function, params map[string]interface{}, conv *model.Conversation) ([]model.ActionResult, string) {
	actions := fn.SortedActions()
	results := make([]model.ActionResult, 0, len(actions))
	for i, a := range actions {
		res := x.actions.Run(ctx, a, params, conv)
		results = append(results, res)
		if !res.Success && a.IsCritical {
			logger.FromContext(ctx).Warn("Critical action failed, aborting remaining actions",
				zap.String("action_id", a.ID),
				zap.Int("skipped", len(actions)-i-1),
				zap.String("error", res.Error),
			)
			msg := res.Error
			if msg == "" {
				msg = fmt.Sprintf("action %s failed", a.ID)
			}
			return results, msg
		}
	}
	return results, ""
}
