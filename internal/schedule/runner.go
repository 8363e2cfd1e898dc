package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/config"
	"gitlab.com/timkado/api/daisi-function-engine/internal/counter"
	"gitlab.com/timkado/api/daisi-function-engine/internal/delivery"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-function-engine/internal/storage"
	"gitlab.com/timkado/api/daisi-function-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-function-engine/internal/usecase"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

const (
	retryCounterTTL   = 7 * 24 * time.Hour
	defaultRetryDelay = 5 * time.Minute
	syntheticChannel  = "system"
)

// Runner fires due schedules through the function executor and keeps their
// bookkeeping.
type Runner struct {
	schedules     storage.ScheduleRepo
	functions     storage.FunctionRepo
	conversations storage.ConversationRepo
	executor      usecase.FunctionRunner
	counters      counter.Store
	sender        delivery.Sender
	pool          *ants.Pool
	companyID     string
	now           func() time.Time
	log           *zap.Logger
}

func NewRunner(
	schedules storage.ScheduleRepo,
	functions storage.FunctionRepo,
	conversations storage.ConversationRepo,
	executor usecase.FunctionRunner,
	counters counter.Store,
	sender delivery.Sender,
	poolCfg config.WorkerPoolConfig,
	companyID string,
) (*Runner, error) {
	log := logger.Log.Named("schedule_runner")
	pool, err := newPool(poolCfg, log)
	if err != nil {
		return nil, err
	}
	return &Runner{
		schedules:     schedules,
		functions:     functions,
		conversations: conversations,
		executor:      executor,
		counters:      counters,
		sender:        sender,
		pool:          pool,
		companyID:     companyID,
		now:           utils.Now,
		log:           log,
	}, nil
}

// Start calls RunDue every tick until ctx is done.
func (r *Runner) Start(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	r.log.Info("Schedule runner started", zap.Duration("tick", tick))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("Schedule runner stopping")
			return
		case <-ticker.C:
			r.RunDue(ctx)
		}
	}
}

// Close releases the worker pool.
func (r *Runner) Close() {
	r.pool.Release()
}

// RunDue fires every due schedule and waits for the runs to finish.
func (r *Runner) RunDue(ctx context.Context) {
	ctx = r.tenantContext(ctx)
	log := logger.FromContextOr(ctx, r.log)
	now := r.now()

	schedules, err := r.schedules.FindDue(ctx, now)
	if err != nil {
		log.Error("Failed to load due schedules", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	dispatched := 0
	for i := range schedules {
		s := schedules[i]
		spec := SpecFrom(&s)
		computed := s.NextRunAt == nil

		due, err := IsDue(spec, &s, now)
		if err != nil {
			log.Error("Cannot compute next run, disabling schedule", zap.String("schedule_id", s.ID), zap.Error(err))
			r.disable(ctx, &s, err, "invalid_spec")
			continue
		}
		if !due {
			if computed {
				if err := r.schedules.UpdateState(ctx, &s); err != nil {
					log.Warn("Failed to store computed next run", zap.String("schedule_id", s.ID), zap.Error(err))
				}
			}
			continue
		}

		wg.Add(1)
		err = r.pool.Submit(func() {
			defer wg.Done()
			r.runOne(ctx, &s, spec, now)
		})
		if err != nil {
			wg.Done()
			log.Error("Failed to submit scheduled run", zap.String("schedule_id", s.ID), zap.Error(err))
			continue
		}
		dispatched++
		observer.SetSchedulerPoolRunning(r.pool.Running())
	}
	wg.Wait()
	observer.SetSchedulerPoolRunning(r.pool.Running())

	if dispatched > 0 {
		log.Info("Due schedules processed", zap.Int("dispatched", dispatched), zap.Int("loaded", len(schedules)))
	}
}

// Enable reactivates a schedule, clearing its error bookkeeping.
func (r *Runner) Enable(ctx context.Context, scheduleID string) (*model.Schedule, error) {
	ctx = r.tenantContext(ctx)
	s, err := r.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	next, err := NextRun(SpecFrom(s), nil, now)
	if err != nil {
		return nil, err
	}

	s.IsActive = true
	s.ErrorCount = 0
	s.RetryCount = 0
	s.LastError = ""
	s.NextRunAt = &next
	if err := r.counters.Reset(ctx, retryKey(s.ID)); err != nil {
		logger.FromContextOr(ctx, r.log).Warn("Failed to reset retry counter", zap.String("schedule_id", s.ID), zap.Error(err))
	}
	if err := r.schedules.UpdateState(ctx, s); err != nil {
		return nil, err
	}
	logger.FromContextOr(ctx, r.log).Info("Schedule enabled", zap.String("schedule_id", s.ID), zap.Time("next_run_at", next))
	return s, nil
}

// runOne fires a single schedule. Panics are turned into failures.
func (r *Runner) runOne(ctx context.Context, s *model.Schedule, spec Spec, now time.Time) {
	log := logger.FromContextOr(ctx, r.log).With(
		zap.String("schedule_id", s.ID),
		zap.String("function_id", s.FunctionID),
	)
	ctx = logger.WithLogger(ctx, log)

	var skipped bool
	err := utils.WrapWithContextRecovery(func(ctx context.Context) error {
		var fireErr error
		skipped, fireErr = r.fire(ctx, s, spec, now)
		return fireErr
	})(ctx)

	if skipped {
		r.advance(ctx, s, spec, now)
		return
	}
	if err != nil {
		observer.IncScheduleRun(false)
		r.handleFailure(ctx, s, spec, now, err)
		return
	}
	observer.IncScheduleRun(true)
	r.handleSuccess(ctx, s, spec, now)
}

// fire runs the schedule's function. skipped is true when the function or
// trigger is not active.
func (r *Runner) fire(ctx context.Context, s *model.Schedule, spec Spec, now time.Time) (skipped bool, err error) {
	log := logger.FromContext(ctx)

	fn, err := r.functions.FindByID(ctx, s.FunctionID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			log.Warn("Scheduled function not found")
			return true, nil
		}
		return false, err
	}
	if !fn.IsActive || !triggerActive(fn, s.TriggerID) {
		log.Debug("Scheduled function or trigger inactive, skipping")
		return true, nil
	}

	fn, err = InjectTimePlaceholders(fn, TimeValues(now, spec.Location))
	if err != nil {
		return false, err
	}

	key := model.ScheduleKeyPrefix + fn.ID
	conv, err := r.conversations.Ensure(ctx, model.Conversation{
		ID:          uuid.NewString(),
		BotID:       fn.BotID,
		CompanyID:   fn.CompanyID,
		ExternalKey: &key,
		Channel:     syntheticChannel,
	})
	if err != nil {
		return false, err
	}

	msg := model.Message{
		ID:             fmt.Sprintf("schedule:%s:%d", s.ID, now.Unix()),
		ConversationID: conv.ID,
		Role:           model.RoleSystem,
		Content:        fmt.Sprintf("Scheduled run of %s at %s", fn.Name, now.Format(time.RFC3339)),
		CreatedAt:      now,
	}
	if err := r.conversations.AddMessage(ctx, &msg); err != nil {
		return false, err
	}

	res, err := r.executor.Execute(ctx, fn, &model.Event{
		Source:       model.SourceSchedule,
		Message:      msg,
		Conversation: conv,
		Params:       map[string]interface{}{},
		ReceivedAt:   now,
	})
	if err != nil {
		return false, err
	}
	switch res.Status {
	case usecase.RunDuplicate:
		return false, nil
	case usecase.RunExecuted:
		if res.Succeeded() {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s", apperrors.ErrActionFailed, res.Execution.ErrorMessage)
	default:
		return false, &apperrors.ValidationError{FunctionID: fn.ID, Missing: res.Missing, Invalid: res.Invalid}
	}
}

func (r *Runner) handleSuccess(ctx context.Context, s *model.Schedule, spec Spec, now time.Time) {
	log := logger.FromContext(ctx)
	s.LastRunAt = &now
	s.ErrorCount = 0
	s.RetryCount = 0
	s.LastError = ""
	if next, err := NextRun(spec, &now, now); err == nil {
		s.NextRunAt = &next
	} else {
		log.Error("Cannot compute next run", zap.Error(err))
		s.IsActive = false
	}
	if err := r.counters.Reset(ctx, retryKey(s.ID)); err != nil {
		log.Warn("Failed to reset retry counter", zap.Error(err))
	}
	r.save(ctx, s)
	log.Info("Scheduled run succeeded", zap.Timep("next_run_at", s.NextRunAt))
}

// handleFailure counts the error and applies the schedule's error policy.
func (r *Runner) handleFailure(ctx context.Context, s *model.Schedule, spec Spec, now time.Time, runErr error) {
	log := logger.FromContext(ctx).With(zap.String("policy", string(s.ErrorPolicy)), zap.Error(runErr))
	s.LastRunAt = &now
	s.ErrorCount++
	s.LastError = runErr.Error()

	switch s.ErrorPolicy {
	case model.PolicyRetry:
		attempt := r.nextRetry(ctx, s)
		s.RetryCount = attempt
		if s.MaxRetries > 0 && attempt >= s.MaxRetries {
			log.Warn("Scheduled run failed, retries exhausted, disabling", zap.Int("retry_count", attempt))
			s.IsActive = false
			observer.IncScheduleDisabled("max_retries")
			break
		}
		delay := time.Duration(s.RetryDelayMinutes) * time.Minute
		if delay <= 0 {
			delay = defaultRetryDelay
		}
		retryAt := now.Add(delay)
		s.NextRunAt = &retryAt
		log.Warn("Scheduled run failed, retry scheduled", zap.Int("retry_count", attempt), zap.Time("retry_at", retryAt))

	case model.PolicyDisable:
		log.Warn("Scheduled run failed, disabling")
		s.IsActive = false
		observer.IncScheduleDisabled("policy")

	case model.PolicyNotify:
		log.Warn("Scheduled run failed, notifying admin")
		r.notify(ctx, s, runErr, now)
		r.recompute(ctx, s, spec, now)

	default:
		log.Error("Scheduled run failed")
		r.recompute(ctx, s, spec, now)
	}
	r.save(ctx, s)
}

// nextRetry increments the shared retry counter, falling back to the row.
func (r *Runner) nextRetry(ctx context.Context, s *model.Schedule) int {
	n, err := r.counters.Increment(ctx, retryKey(s.ID), retryCounterTTL)
	if err != nil {
		logger.FromContext(ctx).Warn("Retry counter unavailable, using stored count", zap.Error(err))
		return s.RetryCount + 1
	}
	if int(n) <= s.RetryCount {
		// counter expired or was flushed
		return s.RetryCount + 1
	}
	return int(n)
}

func (r *Runner) recompute(ctx context.Context, s *model.Schedule, spec Spec, now time.Time) {
	next, err := NextRun(spec, &now, now)
	if err != nil {
		logger.FromContext(ctx).Error("Cannot compute next run, disabling", zap.Error(err))
		s.IsActive = false
		return
	}
	s.NextRunAt = &next
}

// advance moves next_run_at forward without counting a run.
func (r *Runner) advance(ctx context.Context, s *model.Schedule, spec Spec, now time.Time) {
	r.recompute(ctx, s, spec, now)
	r.save(ctx, s)
}

func (r *Runner) disable(ctx context.Context, s *model.Schedule, cause error, reason string) {
	s.IsActive = false
	s.ErrorCount++
	s.LastError = cause.Error()
	observer.IncScheduleDisabled(reason)
	r.save(ctx, s)
}

func (r *Runner) notify(ctx context.Context, s *model.Schedule, runErr error, now time.Time) {
	if r.sender == nil {
		return
	}
	n := model.AdminNotification{
		CompanyID:  s.CompanyID,
		FunctionID: s.FunctionID,
		Source:     model.SourceSchedule,
		Severity:   "error",
		Message:    fmt.Sprintf("Scheduled run %s failed (%d errors): %s", s.ID, s.ErrorCount, runErr.Error()),
		OccurredAt: now,
	}
	if err := r.sender.NotifyAdmin(ctx, n); err != nil {
		logger.FromContext(ctx).Warn("Failed to notify admin", zap.Error(err))
	}
}

func (r *Runner) save(ctx context.Context, s *model.Schedule) {
	if err := r.schedules.UpdateState(ctx, s); err != nil {
		logger.FromContextOr(ctx, r.log).Error("Failed to store schedule state", zap.String("schedule_id", s.ID), zap.Error(err))
	}
}

func (r *Runner) tenantContext(ctx context.Context) context.Context {
	if r.companyID == "" {
		return ctx
	}
	if _, err := tenant.FromContext(ctx); errors.Is(err, tenant.ErrCompanyIDNotFound) {
		return tenant.WithCompanyID(ctx, r.companyID)
	}
	return ctx
}

func triggerActive(fn *model.Function, triggerID string) bool {
	for _, t := range fn.Triggers {
		if t.ID == triggerID {
			return t.IsActive && t.Type == model.TriggerSchedule
		}
	}
	// schedules created without a trigger reference follow the function
	return triggerID == ""
}

func retryKey(scheduleID string) string {
	return "schedule-retry:" + scheduleID
}
