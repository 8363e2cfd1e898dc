package observer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true

	eventProcessingLabels = []string{"event_type", "company_id", "consumer_type"}
	eventActionLabels     = []string{"event_type", "company_id", "consumer_type", "action", "error_type"}

	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_events_received_total",
			Help: "Inbound NATS events by type and consumer.",
		},
		eventProcessingLabels,
	)
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_events_processed_total",
			Help: "Inbound events handled and acked.",
		},
		eventProcessingLabels,
	)
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_events_failed_total",
			Help: "Inbound events whose handler returned an error.",
		},
		eventProcessingLabels,
	)
	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "function_engine_event_processing_duration_seconds",
			Help:    "End-to-end handling time of an inbound event.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		eventProcessingLabels,
	)
	EventRoutingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "function_engine_event_routing_duration_seconds",
			Help:    "Histogram of time spent in router.Route.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		eventProcessingLabels,
	)
	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_event_processing_actions_total",
			Help: "Ack, nak and term decisions by error category.",
		},
		eventActionLabels,
	)
)

// Engine metrics
var (
	TriggerEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_trigger_evaluations_total",
			Help: "Trigger evaluations by trigger type and result (matched, not_matched, error).",
		},
		[]string{"trigger_type", "result"},
	)
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_extractions_total",
			Help: "Parameter extraction outcomes (complete, incomplete, ai_error, skipped).",
		},
		[]string{"outcome"},
	)
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_executions_total",
			Help: "Function executions by source and final status.",
		},
		[]string{"source", "company_id", "status"},
	)
	ExecutionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "function_engine_execution_duration_seconds",
			Help:    "Time from trigger match to completed Execution.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"source"},
	)
	ActionResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_action_results_total",
			Help: "Action outcomes by action type and provider.",
		},
		[]string{"action_type", "provider", "result"},
	)
	ScheduleRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_schedule_runs_total",
			Help: "Scheduled runs by result.",
		},
		[]string{"result"},
	)
	SchedulesDisabledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_schedules_disabled_total",
			Help: "Schedules switched off automatically, by reason.",
		},
		[]string{"reason"},
	)
	schedulerPoolRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "function_engine_scheduler_pool_running",
		Help: "Number of scheduler workers currently running.",
	})
	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_webhook_requests_total",
			Help: "Inbound webhook calls by outcome.",
		},
		[]string{"outcome"},
	)
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_deliveries_total",
			Help: "Outbound publishes by kind and result (published, error, duplicate).",
		},
		[]string{"kind", "result"},
	)
	CacheChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_cache_checks_total",
			Help: "In-process cache lookups by cache and result (hit, miss, evict).",
		},
		[]string{"company_id", "cache", "result"},
	)
)

var (
	dbOperationLabels = []string{"operation", "entity", "company_id", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "function_engine_db_operation_duration_seconds",
			Help:    "Postgres call latency by operation and entity.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		dbOperationLabels,
	)
)

// cmd/tester
var (
	loadgenLabels = []string{"mode", "company_id"}

	loadgenMessagesAttemptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_tester_attempted_total",
			Help: "Publishes the tester attempted.",
		},
		loadgenLabels,
	)
	loadgenMessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_tester_published_total",
			Help: "Publishes the tester completed.",
		},
		loadgenLabels,
	)
	loadgenPublishErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "function_engine_tester_errors_total",
			Help: "Publishes the tester failed.",
		},
		loadgenLabels,
	)
)

// InitMetrics toggles collection. Collectors are registered by promauto at init.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

func sanitizeTenant(tenant string) string {
	if tenant == "" {
		return "unknown"
	}
	return tenant
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func IncEventsReceived(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsReceivedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

func IncEventsProcessed(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsProcessedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

func IncEventsFailed(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsFailedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

func ObserveEventProcessingDuration(eventType, tenant, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Observe(duration.Seconds())
}

func ObserveEventRoutingDuration(eventType, tenant, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventRoutingDurationSeconds.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Observe(duration.Seconds())
}

// IncEventProcessingAction counts an ack decision; errorType is already a category.
func IncEventProcessingAction(eventType, tenant, consumerType, action, errorType string) {
	if !metricsEnabled {
		return
	}
	EventProcessingActionsTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType, action, errorType).Inc()
}

// IncTriggerEvaluation counts one trigger check. result is matched, not_matched or error.
func IncTriggerEvaluation(triggerType, result string) {
	if !metricsEnabled {
		return
	}
	TriggerEvaluationsTotal.WithLabelValues(triggerType, result).Inc()
}

// IncExtraction counts a parameter extraction outcome.
func IncExtraction(outcome string) {
	if !metricsEnabled {
		return
	}
	ExtractionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveExecution records a finished Execution.
func ObserveExecution(source, companyID, status string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	ExecutionsTotal.WithLabelValues(source, sanitizeTenant(companyID), status).Inc()
	ExecutionDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// IncActionResult counts the outcome of one action.
func IncActionResult(actionType, provider string, success bool) {
	if !metricsEnabled {
		return
	}
	ActionResultsTotal.WithLabelValues(actionType, provider, resultLabel(success)).Inc()
}

// IncScheduleRun counts a scheduled run.
func IncScheduleRun(success bool) {
	if !metricsEnabled {
		return
	}
	ScheduleRunsTotal.WithLabelValues(resultLabel(success)).Inc()
}

// IncScheduleDisabled counts an automatic schedule deactivation.
func IncScheduleDisabled(reason string) {
	if !metricsEnabled {
		return
	}
	SchedulesDisabledTotal.WithLabelValues(reason).Inc()
}

// SetSchedulerPoolRunning sets the number of busy scheduler workers.
func SetSchedulerPoolRunning(n int) {
	if !metricsEnabled {
		return
	}
	schedulerPoolRunning.Set(float64(n))
}

// IncWebhookRequest counts an inbound webhook call by outcome.
func IncWebhookRequest(outcome string) {
	if !metricsEnabled {
		return
	}
	WebhookRequestsTotal.WithLabelValues(outcome).Inc()
}

// IncDeliveryPublished counts a publish attempt of the given kind.
func IncDeliveryPublished(kind string, err error) {
	if !metricsEnabled {
		return
	}
	result := "published"
	if err != nil {
		result = "error"
	}
	DeliveriesTotal.WithLabelValues(kind, result).Inc()
}

// IncCacheCheck counts a lookup against an in-process cache.
func IncCacheCheck(companyID, cache, result string) {
	if !metricsEnabled {
		return
	}
	CacheChecksTotal.WithLabelValues(sanitizeTenant(companyID), cache, result).Inc()
}

// IncDeliverySkipped counts a system message suppressed by dedup.
func IncDeliverySkipped() {
	if !metricsEnabled {
		return
	}
	DeliveriesTotal.WithLabelValues("outbound", "duplicate").Inc()
}

func ObserveDbOperationDuration(operation, entity, companyID string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeTenant(companyID), status).Observe(duration.Seconds())
}

func IncLoadgenMessagesAttempted(mode, companyID string) {
	if !metricsEnabled {
		return
	}
	loadgenMessagesAttemptedTotal.WithLabelValues(mode, sanitizeTenant(companyID)).Inc()
}

func IncLoadgenMessagesPublished(mode, companyID string) {
	if !metricsEnabled {
		return
	}
	loadgenMessagesPublishedTotal.WithLabelValues(mode, sanitizeTenant(companyID)).Inc()
}

func IncLoadgenPublishErrors(mode, companyID string) {
	if !metricsEnabled {
		return
	}
	loadgenPublishErrorsTotal.WithLabelValues(mode, sanitizeTenant(companyID)).Inc()
}
