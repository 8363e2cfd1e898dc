package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/config"
	"gitlab.com/timkado/api/daisi-function-engine/internal/jetstream"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-function-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

const consumerType = "messages"

// AckNakAction represents the decision made after processing a message
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // Processed, ACK it
	ActionNakDelay                     // Retryable error with attempts left, NAK with backoff
	ActionTerm                         // Fatal error or attempts exhausted, log and ACK
)

// MessageConsumer consumes inbound conversation messages for one company.
type MessageConsumer struct {
	client        jetstream.ClientInterface
	router        RouterInterface
	cfg           config.ConsumerNatsConfig
	companyID     string
	ctx           context.Context
	cancel        context.CancelFunc
	sub           *nats.Subscription
	filterSubject string
}

// NewMessageConsumer creates the consumer. cfg.Consumer and cfg.QueueGroup are
// used as given; callers append the company id.
func NewMessageConsumer(client jetstream.ClientInterface, router RouterInterface, cfg config.ConsumerNatsConfig, companyID string) *MessageConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.Log.With(zap.String("company_id", companyID)))
	ctx = tenant.WithCompanyID(ctx, companyID)

	return &MessageConsumer{
		client:    client,
		router:    router,
		cfg:       cfg,
		companyID: companyID,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func modifySubjects(subjects []string, companyID string) (streamSubjects, consumerSubjects []string) {
	for _, subject := range subjects {
		streamSubjects = append(streamSubjects, fmt.Sprintf("%s.*", subject))
		consumerSubjects = append(consumerSubjects, fmt.Sprintf("%s.%s", subject, companyID))
	}
	return streamSubjects, consumerSubjects
}

// determineAckNakAction decides the fate of a message based on the processing
// result and its delivery count.
func determineAckNakAction(
	processingErr error,
	numDelivered uint64,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {
	if processingErr == nil {
		return ActionAck, 0
	}
	if !apperrors.IsRetryable(processingErr) || numDelivered >= uint64(maxDeliver) {
		return ActionTerm, 0
	}

	delay = nakBaseDelay
	if numDelivered > 1 {
		delay = nakBaseDelay * (1 << (numDelivered - 1))
	}
	if delay > nakMaxDelay || delay <= 0 {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// Setup configures the NATS stream and durable consumer.
func (c *MessageConsumer) Setup() error {
	log := logger.FromContext(c.ctx)
	log.Info("Setting up MessageConsumer...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	streamSubjects, consumerSubjects := modifySubjects(c.cfg.SubjectList, c.companyID)

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  streamSubjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(c.cfg.MaxAge*24) * time.Hour,
	}
	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		log.Error("Failed to setup message stream", zap.Error(err), zap.String("stream", c.cfg.Stream))
		return fmt.Errorf("failed to setup message stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubjects: consumerSubjects,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		// AI extraction plus several actions can take a while
		AckWait:       2 * time.Minute,
		MaxAckPending: 1000,
		ReplayPolicy:  nats.ReplayInstantPolicy,
		DeliverPolicy: nats.DeliverNewPolicy,
	}
	c.filterSubject = "v1.>"

	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		log.Error("Failed to setup message consumer", zap.Error(err), zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
		return fmt.Errorf("failed to setup message consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("MessageConsumer setup complete")
	return nil
}

// Start subscribes to the stream.
func (c *MessageConsumer) Start() error {
	log := logger.FromContext(c.ctx)
	log.Info("Starting MessageConsumer subscription...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	sub, err := c.client.SubscribePush(c.filterSubject, c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		log.Error("Failed to subscribe message consumer", zap.Error(err),
			zap.String("stream", c.cfg.Stream),
			zap.String("consumer", c.cfg.Consumer),
			zap.String("group", c.cfg.QueueGroup),
		)
		return fmt.Errorf("failed to subscribe message consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("MessageConsumer subscribed successfully")
	return nil
}

// Stop drains the subscription.
func (c *MessageConsumer) Stop() {
	log := logger.FromContext(c.ctx)
	log.Info("Stopping MessageConsumer...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining message subscription", zap.Error(err))
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	log.Info("MessageConsumer stopped")
}

// handleMessage routes one NATS message and acknowledges it.
func (c *MessageConsumer) handleMessage(msg *nats.Msg) {
	startTime := utils.Now()
	eventType, found := model.MapToBaseEventType(msg.Subject)

	defer func() {
		observer.ObserveEventProcessingDuration(string(eventType), c.companyID, consumerType, time.Since(startTime))
		if r := recover(); r != nil {
			logger.FromContext(c.ctx).Error("[panic] Recovered from panic in message handler",
				zap.Any("panic", r),
				zap.String("subject", msg.Subject),
				zap.Stack("stack"),
			)
			observer.IncEventsFailed(string(eventType), c.companyID, consumerType)
			observer.IncEventProcessingAction(string(eventType), c.companyID, consumerType, "panic_nak", "panic")
			if nakErr := msg.Nak(); nakErr != nil {
				logger.FromContext(c.ctx).Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	log := logger.FromContext(c.ctx)
	if !found {
		log.Warn("Unknown event type, acknowledging", zap.String("subject", msg.Subject))
		observer.IncEventProcessingAction(string(eventType), c.companyID, consumerType, "ack_unknown_type", "unknown_event_type")
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK message for unknown event type", zap.Error(ackErr))
		}
		return
	}

	var msgID string
	if msg.Header != nil {
		msgID = msg.Header.Get(nats.MsgIdHdr)
	}
	meta, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to read message metadata", zap.Error(err))
		observer.IncEventProcessingAction(string(eventType), c.companyID, consumerType, "nak_metadata_error", "metadata")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
		return
	}
	if msgID == "" {
		msgID = fmt.Sprintf("msg-%d", meta.Sequence.Stream)
	}

	metadata := &model.MessageMetadata{
		StreamSequence:   meta.Sequence.Stream,
		ConsumerSequence: meta.Sequence.Consumer,
		NumDelivered:     meta.NumDelivered,
		NumPending:       meta.NumPending,
		Timestamp:        meta.Timestamp,
		Stream:           meta.Stream,
		Consumer:         meta.Consumer,
		Domain:           meta.Domain,
		MessageID:        msgID,
		MessageSubject:   msg.Subject,
		CompanyID:        c.companyID,
	}
	observer.IncEventsReceived(string(eventType), c.companyID, consumerType)

	msgCtx := logger.WithLogger(c.ctx, log.With(
		zap.String("nats_message_id", msgID),
		zap.Uint64("stream_sequence", metadata.StreamSequence),
		zap.Uint64("num_delivered", metadata.NumDelivered),
		zap.String("subject", msg.Subject),
	))

	routingStart := utils.Now()
	processingErr := c.router.Route(msgCtx, metadata, msg.Data)
	observer.ObserveEventRoutingDuration(string(eventType), c.companyID, consumerType, time.Since(routingStart))

	c.settle(msgCtx, msg, eventType, metadata.NumDelivered, processingErr, startTime)
}

func (c *MessageConsumer) settle(ctx context.Context, msg *nats.Msg, eventType model.EventType, numDelivered uint64, processingErr error, startTime time.Time) {
	log := logger.FromContext(ctx)
	action, nakDelay := determineAckNakAction(processingErr, numDelivered, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)
	errorType := SanitizeErrorType(processingErr)

	switch action {
	case ActionAck:
		log.Info("Successfully processed message", zap.Duration("duration", time.Since(startTime)))
		observer.IncEventsProcessed(string(eventType), c.companyID, consumerType)
		observer.IncEventProcessingAction(string(eventType), c.companyID, consumerType, "ack_success", errorType)
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK message after successful processing", zap.Error(ackErr))
		}

	case ActionNakDelay:
		log.Info("NAKing message with delay for redelivery (retryable error)",
			zap.Error(processingErr),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", nakDelay),
		)
		observer.IncEventsFailed(string(eventType), c.companyID, consumerType)
		observer.IncEventProcessingAction(string(eventType), c.companyID, consumerType, "nak_retry", errorType)
		if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
			log.Error("Failed to NAK message with delay", zap.Error(nakErr))
		}

	case ActionTerm:
		reason := "fatal error encountered"
		if apperrors.IsRetryable(processingErr) {
			reason = "max delivery attempts reached"
		}
		log.Error("Dropping message: "+reason,
			zap.Error(processingErr),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("duration", time.Since(startTime)),
		)
		observer.IncEventsFailed(string(eventType), c.companyID, consumerType)
		observer.IncEventProcessingAction(string(eventType), c.companyID, consumerType, "ack_dropped", errorType)
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK dropped message", zap.Error(ackErr))
		}
	}
}

// SanitizeErrorType maps an error to a general category string for metrics.
func SanitizeErrorType(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case apperrors.IsDatabaseError(err):
		return "database"
	case apperrors.IsValidationError(err), apperrors.IsBadRequestError(err):
		return "validation"
	case apperrors.IsNotFoundError(err):
		return "not_found"
	case apperrors.IsUnauthorizedError(err):
		return "unauthorized"
	case apperrors.IsConflictError(err):
		return "conflict"
	case apperrors.IsTimeoutError(err):
		return "timeout"
	case apperrors.IsNATSError(err):
		return "nats"
	case strings.Contains(err.Error(), "panic"):
		return "panic"
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	default:
		return "unknown"
	}
}
